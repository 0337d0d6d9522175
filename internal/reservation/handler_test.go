package reservation

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func TestHandlerReservationLifecycle(t *testing.T) {
	svc, stock, _ := newTestService()
	stock.Seed(5, qty(8))
	router := chi.NewRouter()
	NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc).MountRoutes(router)

	serve := func(method, path, body string) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(method, path, strings.NewReader(body)))
		return rr
	}

	rr := serve(http.MethodPost, "/", `{"product_id":5,"customer_order_id":77,"quantity":"9"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = serve(http.MethodPost, "/", `{"product_id":5,"customer_order_id":77,"quantity":"5"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var created reservationJSON
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	require.Equal(t, StatusActive, created.Status)

	path := "/" + strconv.FormatInt(created.ID, 10)
	rr = serve(http.MethodPost, path+"/consume", `{"quantity":"5"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Contains(t, rr.Body.String(), `"status":"consumed"`)

	require.Equal(t, http.StatusConflict, serve(http.MethodPost, path+"/release", "").Code)

	rr = serve(http.MethodGet, "/?customer_order_id=77", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var list []reservationJSON
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list, 1)

	require.Equal(t, http.StatusNotFound, serve(http.MethodGet, "/999", "").Code)
	require.Equal(t, http.StatusBadRequest, serve(http.MethodGet, "/", "").Code)
}
