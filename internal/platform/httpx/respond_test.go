package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

var errOutOfStock = errors.New("out of stock")

func TestRespondErrorUsesClassifier(t *testing.T) {
	classify := func(err error) error {
		if errors.Is(err, errOutOfStock) {
			return ErrConflict
		}
		return nil
	}
	rec := httptest.NewRecorder()
	RespondError(rec, fmt.Errorf("reserve: %w", errOutOfStock), classify)
	require.Equal(t, http.StatusConflict, rec.Code)

	var body ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "reserve: out of stock", body.Detail)
}

func TestRespondErrorHidesInternalDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, errors.New("dial tcp 10.0.0.1:5432"))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, rec.Body.String(), "10.0.0.1")
}

type sampleRequest struct {
	ComponentID int64  `json:"component_id" validate:"required,gt=0"`
	Reference   string `json:"reference" validate:"required"`
}

func TestDecodeAndValidateReportsFields(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"component_id":0}`))
	var target sampleRequest
	require.False(t, DecodeAndValidate(rec, req, &target))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "required", body.Fields["componentid"])
	require.Equal(t, "required", body.Fields["reference"])
}

func TestDecodeAndValidateRejectsUnknownFields(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"component_id":1,"reference":"x","extra":true}`))
	var target sampleRequest
	require.False(t, DecodeAndValidate(rec, req, &target))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
