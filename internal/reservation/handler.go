package reservation

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
	"github.com/odyssey-erp/odyssey-stock/internal/platform/httpx"
)

// Handler exposes reservation endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers reservation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.reserve)
	r.Get("/", h.listByOrder)
	r.Get("/{id}", h.get)
	r.Post("/{id}/release", h.release)
	r.Post("/{id}/consume", h.consume)
}

type reserveRequest struct {
	ProductID       int64           `json:"product_id" validate:"required,gt=0"`
	CustomerOrderID int64           `json:"customer_order_id" validate:"required,gt=0"`
	Quantity        decimal.Decimal `json:"quantity"`
}

type consumeRequest struct {
	Quantity decimal.Decimal `json:"quantity"`
}

type reservationJSON struct {
	ID               int64           `json:"id"`
	ProductID        int64           `json:"product_id"`
	CustomerOrderID  int64           `json:"customer_order_id"`
	QuantityReserved decimal.Decimal `json:"quantity_reserved"`
	QuantityConsumed decimal.Decimal `json:"quantity_consumed"`
	Status           Status          `json:"status"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

func toJSON(r Reservation) reservationJSON {
	return reservationJSON{
		ID:               r.ID,
		ProductID:        r.ProductID,
		CustomerOrderID:  r.CustomerOrderID,
		QuantityReserved: r.QuantityReserved,
		QuantityConsumed: r.QuantityConsumed,
		Status:           r.Status,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}

func (h *Handler) reserve(w http.ResponseWriter, r *http.Request) {
	var req reserveRequest
	if !httpx.DecodeAndValidate(w, r, &req) {
		return
	}
	res, err := h.service.Reserve(r.Context(), req.ProductID, req.CustomerOrderID, req.Quantity)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toJSON(res))
}

func (h *Handler) listByOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.ParseInt(r.URL.Query().Get("customer_order_id"), 10, 64)
	if err != nil || orderID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "customer_order_id must be a positive integer")
		return
	}
	list, err := h.service.ListByCustomerOrder(r.Context(), orderID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]reservationJSON, 0, len(list))
	for _, res := range list {
		out = append(out, toJSON(res))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	res, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toJSON(res))
}

func (h *Handler) release(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	res, err := h.service.Release(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toJSON(res))
}

func (h *Handler) consume(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var req consumeRequest
	if !httpx.DecodeAndValidate(w, r, &req) {
		return
	}
	res, err := h.service.Consume(r.Context(), id, req.Quantity)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"reservation":      toJSON(res.Reservation),
		"quantity_on_hand": res.QuantityOnHand,
		"negative":         res.Negative,
	})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	if Classify(err) == nil {
		h.logger.Error("reservation request failed", slog.Any("error", err))
	}
	httpx.RespondError(w, err, Classify)
}

func idParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "id must be a positive integer")
		return 0, false
	}
	return id, true
}

// Classify maps reservation errors onto httpx sentinels.
func Classify(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return httpx.ErrNotFound
	case errors.Is(err, ErrInvalidState):
		return httpx.ErrConflict
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrInsufficientStock),
		errors.Is(err, ErrExceedsReserved), errors.Is(err, ErrValidation):
		return httpx.ErrValidation
	case errors.Is(err, db.ErrConcurrency):
		return httpx.ErrUnavailable
	}
	return inventory.Classify(err)
}
