package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrConcurrency marks a unit of work aborted by lock contention, a deadlock,
// a serialization failure or a statement timeout. The whole transaction has
// been rolled back and the caller may resubmit the same request.
var ErrConcurrency = errors.New("platform/db: transaction aborted by concurrent access")

// LedgerTxOptions are used by every stock-mutating unit of work. Row locks
// taken with SELECT ... FOR UPDATE serialise writers; READ COMMITTED lets the
// second writer observe the first writer's committed totals once it acquires
// the lock instead of failing with a serialization error.
var LedgerTxOptions = pgx.TxOptions{IsoLevel: pgx.ReadCommitted}

// WithTx executes a function within a transaction. A nil options value uses
// LedgerTxOptions.
func WithTx(ctx context.Context, pool *pgxpool.Pool, opts *pgx.TxOptions, fn func(pgx.Tx) error) error {
	txOpts := LedgerTxOptions
	if opts != nil {
		txOpts = *opts
	}
	tx, err := pool.BeginTx(ctx, txOpts)
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", Classify(err))
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return Classify(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", Classify(err))
	}

	return nil
}

// Classify wraps storage errors caused by concurrent access with
// ErrConcurrency while keeping the original error in the chain.
func Classify(err error) error {
	if err == nil || errors.Is(err, ErrConcurrency) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03", "57014":
			return fmt.Errorf("%w: %s (%s)", ErrConcurrency, pgErr.Message, pgErr.Code)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrConcurrency, err)
	}
	return err
}

// IsUniqueViolation reports whether err is a unique constraint violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
