package inventory

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
	"github.com/odyssey-erp/odyssey-stock/internal/platform/httpx"
)

// Handler wires HTTP endpoints for inventory module.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/balances", h.handleListBalances)
	r.Post("/balances", h.handleCreateBalance)
	r.Get("/balances/{component}", h.handleGetBalance)
	r.Get("/balances/{component}/transactions", h.handleTransactions)
	r.Get("/balances/{component}/reconcile", h.handleReconcile)
}

type createBalanceRequest struct {
	ComponentID     int64           `json:"component_id" validate:"required,gt=0"`
	InitialQuantity decimal.Decimal `json:"initial_quantity"`
	ReorderLevel    decimal.Decimal `json:"reorder_level"`
	Location        string          `json:"location" validate:"max=64"`
}

type balanceResponse struct {
	ComponentID    int64     `json:"component_id"`
	QuantityOnHand string    `json:"quantity_on_hand"`
	ReorderLevel   string    `json:"reorder_level"`
	Location       string    `json:"location"`
	BelowReorder   bool      `json:"below_reorder"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func toBalanceResponse(b Balance) balanceResponse {
	return balanceResponse{
		ComponentID:    b.ComponentID,
		QuantityOnHand: b.QuantityOnHand.String(),
		ReorderLevel:   b.ReorderLevel.String(),
		Location:       b.Location,
		BelowReorder:   b.BelowReorder(),
		UpdatedAt:      b.UpdatedAt,
	}
}

type transactionResponse struct {
	ID                int64     `json:"id"`
	Quantity          string    `json:"quantity"`
	Delta             string    `json:"delta"`
	Type              string    `json:"type"`
	Reason            string    `json:"reason,omitempty"`
	PostedAt          time.Time `json:"posted_at"`
	ReceiptID         int64     `json:"receipt_id,omitempty"`
	ReturnID          int64     `json:"return_id,omitempty"`
	IssuanceID        int64     `json:"issuance_id,omitempty"`
	GoodsReturnNumber string    `json:"goods_return_number,omitempty"`
}

func (h *Handler) handleCreateBalance(w http.ResponseWriter, r *http.Request) {
	var req createBalanceRequest
	if !httpx.DecodeAndValidate(w, r, &req) {
		return
	}
	balance, err := h.service.CreateBalance(r.Context(), CreateBalanceInput{
		ComponentID:     req.ComponentID,
		InitialQuantity: req.InitialQuantity,
		ReorderLevel:    req.ReorderLevel,
		Location:        req.Location,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toBalanceResponse(balance))
}

func (h *Handler) handleListBalances(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	after, _ := strconv.ParseInt(q.Get("after"), 10, 64)
	balances, err := h.service.ListBalances(r.Context(), after, limit)
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]balanceResponse, 0, len(balances))
	for _, b := range balances {
		out = append(out, toBalanceResponse(b))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	componentID, ok := componentParam(w, r)
	if !ok {
		return
	}
	balance, err := h.service.GetBalance(r.Context(), componentID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toBalanceResponse(balance))
}

func (h *Handler) handleTransactions(w http.ResponseWriter, r *http.Request) {
	componentID, ok := componentParam(w, r)
	if !ok {
		return
	}
	filter := TransactionFilter{ComponentID: componentID}
	q := r.URL.Query()
	if v := q.Get("from"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "from must be YYYY-MM-DD")
			return
		}
		filter.From = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "to must be YYYY-MM-DD")
			return
		}
		filter.To = t.Add(24*time.Hour - time.Nanosecond)
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))

	txs, err := h.service.ListTransactions(r.Context(), filter)
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]transactionResponse, 0, len(txs))
	for _, t := range txs {
		out = append(out, transactionResponse{
			ID:                t.ID,
			Quantity:          t.Quantity.String(),
			Delta:             t.Delta.String(),
			Type:              string(t.Type),
			Reason:            t.Reason,
			PostedAt:          t.PostedAt,
			ReceiptID:         t.ReceiptID,
			ReturnID:          t.ReturnID,
			IssuanceID:        t.IssuanceID,
			GoodsReturnNumber: t.GoodsReturnNumber,
		})
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	componentID, ok := componentParam(w, r)
	if !ok {
		return
	}
	rec, err := h.service.Reconcile(r.Context(), componentID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"component_id":     rec.ComponentID,
		"quantity_on_hand": rec.QuantityOnHand.String(),
		"ledger_sum":       rec.LedgerSum.String(),
		"drift":            rec.Drift().String(),
		"balanced":         rec.Balanced(),
	})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	if Classify(err) == nil {
		h.logger.Error("inventory request failed", slog.Any("error", err))
	}
	httpx.RespondError(w, err, Classify)
}

func componentParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "component"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "component must be a positive integer")
		return 0, false
	}
	return id, true
}

// Classify maps inventory errors onto httpx sentinels.
func Classify(err error) error {
	switch {
	case errors.Is(err, ErrBalanceNotFound):
		return httpx.ErrNotFound
	case errors.Is(err, ErrBalanceExists):
		return httpx.ErrDuplicate
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrInvalidMovement):
		return httpx.ErrValidation
	case errors.Is(err, db.ErrConcurrency):
		return httpx.ErrUnavailable
	}
	return nil
}
