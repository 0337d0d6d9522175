package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestClassifyConcurrencyCodes(t *testing.T) {
	for _, code := range []string{"40001", "40P01", "55P03", "57014"} {
		err := Classify(fmt.Errorf("update order: %w", &pgconn.PgError{Code: code, Message: "boom"}))
		require.ErrorIs(t, err, ErrConcurrency, code)
		require.Contains(t, err.Error(), code)
	}
}

func TestClassifyPassesThroughOtherErrors(t *testing.T) {
	plain := errors.New("plain")
	require.Same(t, plain, Classify(plain))

	unique := &pgconn.PgError{Code: "23505"}
	require.NotErrorIs(t, Classify(unique), ErrConcurrency)
	require.True(t, IsUniqueViolation(fmt.Errorf("insert: %w", unique)))
	require.NoError(t, Classify(nil))
}

func TestClassifyDeadline(t *testing.T) {
	require.ErrorIs(t, Classify(context.DeadlineExceeded), ErrConcurrency)
}
