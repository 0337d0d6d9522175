package issuance

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

// Handler exposes issuance endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers issuance and picking list routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/issuances", h.issueDirect)
	r.Route("/picking-lists", func(r chi.Router) {
		r.Post("/", h.createPending)
		r.Get("/{id}", h.getPending)
		r.Post("/{id}/complete", h.completePending)
		r.Post("/{id}/cancel", h.cancelPending)
	})
}

type directRequest struct {
	ComponentID       int64           `json:"component_id" validate:"required,gt=0"`
	Quantity          decimal.Decimal `json:"quantity"`
	ExternalReference string          `json:"external_reference" validate:"required,max=120"`
	Category          string          `json:"category" validate:"omitempty,oneof=production sample write_off maintenance other"`
	OrderID           int64           `json:"order_id" validate:"gte=0"`
	When              time.Time       `json:"when"`
}

type pendingRequest struct {
	ExternalReference string               `json:"external_reference" validate:"required,max=120"`
	Category          string               `json:"category" validate:"omitempty,oneof=production sample write_off maintenance other"`
	Lines             []pendingLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type pendingLineRequest struct {
	ComponentID int64           `json:"component_id" validate:"required,gt=0"`
	Quantity    decimal.Decimal `json:"quantity"`
}

type issuanceJSON struct {
	ID                int64           `json:"id"`
	ComponentID       int64           `json:"component_id"`
	Quantity          decimal.Decimal `json:"quantity"`
	OrderID           int64           `json:"order_id,omitempty"`
	ExternalReference string          `json:"external_reference"`
	Category          Category        `json:"category"`
	PendingID         int64           `json:"pending_id,omitempty"`
	IssuedAt          time.Time       `json:"issued_at"`
	TransactionID     int64           `json:"transaction_id,omitempty"`
}

type issueResultJSON struct {
	Issuance       issuanceJSON    `json:"issuance"`
	QuantityOnHand decimal.Decimal `json:"quantity_on_hand"`
	Negative       bool            `json:"negative"`
}

type pendingJSON struct {
	ID                int64             `json:"id"`
	ExternalReference string            `json:"external_reference"`
	Category          Category          `json:"category"`
	Status            PendingStatus     `json:"status"`
	CreatedAt         time.Time         `json:"created_at"`
	IssuedAt          *time.Time        `json:"issued_at,omitempty"`
	CancelledAt       *time.Time        `json:"cancelled_at,omitempty"`
	Items             []pendingItemJSON `json:"items"`
	Issuances         []issuanceJSON    `json:"issuances,omitempty"`
}

type pendingItemJSON struct {
	ComponentID int64           `json:"component_id"`
	Quantity    decimal.Decimal `json:"quantity"`
}

func toIssuanceJSON(is Issuance) issuanceJSON {
	return issuanceJSON{
		ID:                is.ID,
		ComponentID:       is.ComponentID,
		Quantity:          is.Quantity,
		OrderID:           is.OrderID,
		ExternalReference: is.ExternalReference,
		Category:          is.Category,
		PendingID:         is.PendingID,
		IssuedAt:          is.IssuedAt,
		TransactionID:     is.TransactionID,
	}
}

func toIssueResultJSON(res IssueResult) issueResultJSON {
	return issueResultJSON{Issuance: toIssuanceJSON(res.Issuance), QuantityOnHand: res.QuantityOnHand, Negative: res.Negative}
}

func toPendingJSON(p Pending, issued []Issuance) pendingJSON {
	out := pendingJSON{
		ID:                p.ID,
		ExternalReference: p.ExternalReference,
		Category:          p.Category,
		Status:            p.Status,
		CreatedAt:         p.CreatedAt,
		IssuedAt:          p.IssuedAt,
		CancelledAt:       p.CancelledAt,
		Items:             make([]pendingItemJSON, 0, len(p.Items)),
	}
	for _, item := range p.Items {
		out.Items = append(out.Items, pendingItemJSON{ComponentID: item.ComponentID, Quantity: item.Quantity})
	}
	for _, is := range issued {
		out.Issuances = append(out.Issuances, toIssuanceJSON(is))
	}
	return out
}

func (h *Handler) issueDirect(w http.ResponseWriter, r *http.Request) {
	var req directRequest
	if !httpx.DecodeAndValidate(w, r, &req) {
		return
	}
	res, err := h.service.IssueDirect(r.Context(), DirectInput{
		ComponentID:       req.ComponentID,
		Quantity:          req.Quantity,
		ExternalReference: req.ExternalReference,
		Category:          Category(req.Category),
		OrderID:           req.OrderID,
		When:              req.When,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	if res.Negative {
		h.logger.Warn("issue left negative stock",
			slog.Int64("component_id", req.ComponentID),
			slog.String("quantity_on_hand", res.QuantityOnHand.String()))
	}
	httpx.JSON(w, http.StatusCreated, toIssueResultJSON(res))
}

func (h *Handler) createPending(w http.ResponseWriter, r *http.Request) {
	var req pendingRequest
	if !httpx.DecodeAndValidate(w, r, &req) {
		return
	}
	input := PendingInput{ExternalReference: req.ExternalReference, Category: Category(req.Category)}
	for _, l := range req.Lines {
		input.Lines = append(input.Lines, PendingLine{ComponentID: l.ComponentID, Quantity: l.Quantity})
	}
	pending, err := h.service.CreatePending(r.Context(), input)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toPendingJSON(pending, nil))
}

func (h *Handler) getPending(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	pending, issued, err := h.service.GetPending(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPendingJSON(pending, issued))
}

func (h *Handler) completePending(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	res, err := h.service.CompletePending(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	issues := make([]issueResultJSON, 0, len(res.Issues))
	for _, is := range res.Issues {
		issues = append(issues, toIssueResultJSON(is))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"picking_list": toPendingJSON(res.Pending, nil),
		"issues":       issues,
	})
}

func (h *Handler) cancelPending(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	pending, err := h.service.CancelPending(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPendingJSON(pending, nil))
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	if Classify(err) == nil {
		h.logger.Error("issuance request failed", slog.Any("error", err))
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

// Classify maps issuance errors onto httpx sentinels.
func Classify(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return httpx.ErrNotFound
	case errors.Is(err, ErrInvalidState):
		return httpx.ErrConflict
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrReferenceRequired), errors.Is(err, ErrValidation):
		return httpx.ErrValidation
	case errors.Is(err, db.ErrConcurrency):
		return httpx.ErrUnavailable
	}
	return inventory.Classify(err)
}
