package procurement

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func newTestRouter(f *fixture) http.Handler {
	r := chi.NewRouter()
	NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), f.svc).MountRoutes(r)
	return r
}

func serve(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rr
}

func TestHandlerReceiveAndReturn(t *testing.T) {
	f := newFixture()
	f.repo.addOrder(SupplierOrder{ID: 1, ComponentID: 100, OrderQuantity: qty(10)})
	router := newTestRouter(f)

	rr := serve(router, http.MethodPost, "/orders/1/receipts", `{"quantity_received":"9","quantity_rejected":"1","rejection_reason":"torn"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var receipt map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &receipt))
	require.Equal(t, "PARTIALLY_RECEIVED", receipt["status"])
	number := receipt["goods_return_number"].(string)
	require.NotEmpty(t, number)

	rr = serve(router, http.MethodPost, "/orders/1/returns", `{"quantity":"20","reason":"all bad"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, rr.Body.String(), "total received")

	rr = serve(router, http.MethodPost, "/orders/1/returns", `{"quantity":"2","reason":"bad batch","signature_status":"operator"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = serve(router, http.MethodGet, "/orders/1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var order orderResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &order))
	requireQty(t, 7, order.TotalReceived)
	require.Len(t, order.Receipts, 1)
	require.Len(t, order.Returns, 2)

	rr = serve(router, http.MethodPatch, "/returns/grn/"+number+"/signature", `{"signature_status":"driver"}`)
	require.Equal(t, http.StatusNoContent, rr.Code)
	rr = serve(router, http.MethodPatch, "/returns/grn/"+number+"/signature", `{"signature_status":"none"}`)
	require.Equal(t, http.StatusConflict, rr.Code)

	rr = serve(router, http.MethodGet, "/returns/grn/"+number, "")
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestHandlerReceiveErrors(t *testing.T) {
	f := newFixture()
	f.repo.addOrder(SupplierOrder{ID: 1, ComponentID: 100, OrderQuantity: qty(10), Status: StatusClosed})
	router := newTestRouter(f)

	require.Equal(t, http.StatusNotFound, serve(router, http.MethodPost, "/orders/9/receipts", `{"quantity_received":"1"}`).Code)
	require.Equal(t, http.StatusConflict, serve(router, http.MethodPost, "/orders/1/receipts", `{"quantity_received":"1"}`).Code)
	require.Equal(t, http.StatusBadRequest, serve(router, http.MethodPost, "/orders/1/receipts", `{"quantity_rejected":"1"}`).Code)
	require.Equal(t, http.StatusBadRequest, serve(router, http.MethodPost, "/orders/x/receipts", `{}`).Code)
	require.Equal(t, http.StatusBadRequest, serve(router, http.MethodPost, "/returns/batches", `{"lines":[]}`).Code)
}

func TestHandlerAllocatedBatch(t *testing.T) {
	f := newFixture()
	f.repo.addOrder(SupplierOrder{ID: 1, ComponentID: 100, OrderQuantity: qty(10)})
	router := newTestRouter(f)

	rr := serve(router, http.MethodPost, "/orders/1/receipts", `{"quantity_received":"8","quantity_rejected":"2","rejection_reason":"torn"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var receipt map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &receipt))
	rejected := receipt["goods_return_number"].(string)

	rr = serve(router, http.MethodPost, "/returns/batches/allocate", "")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var alloc map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &alloc))
	require.NotEmpty(t, alloc["batch_id"])
	require.NotEqual(t, rejected, alloc["goods_return_number"])

	body := `{"quantity":"1","reason":"sample","batch_id":"` + alloc["batch_id"] + `","goods_return_number":"` + alloc["goods_return_number"] + `"}`
	rr = serve(router, http.MethodPost, "/orders/1/returns", body)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	body = `{"quantity":"1","reason":"sample","batch_id":"` + alloc["batch_id"] + `","goods_return_number":"` + rejected + `"}`
	rr = serve(router, http.MethodPost, "/orders/1/returns", body)
	require.Equal(t, http.StatusConflict, rr.Code, rr.Body.String())
}
