package procurement

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

// Handler manages supplier order endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers order and return routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/orders/{id}", func(r chi.Router) {
		r.Get("/", h.getOrder)
		r.Post("/receipts", h.receive)
		r.Post("/returns", h.returnFromStock)
	})
	r.Route("/returns", func(r chi.Router) {
		r.Post("/batches", h.returnBatch)
		r.Post("/batches/allocate", h.allocateBatch)
		r.Get("/batches/{batch}", h.getBatch)
		r.Get("/grn/{grn}", h.getGRN)
		r.Patch("/grn/{grn}/document", h.attachDocument)
		r.Patch("/grn/{grn}/signature", h.advanceSignature)
		r.Patch("/grn/{grn}/email", h.recordEmail)
	})
}

type receiveRequest struct {
	QuantityReceived decimal.Decimal `json:"quantity_received"`
	QuantityRejected decimal.Decimal `json:"quantity_rejected"`
	RejectionReason  string          `json:"rejection_reason" validate:"max=500"`
	When             time.Time       `json:"when"`
}

type returnRequest struct {
	Quantity          decimal.Decimal `json:"quantity"`
	Reason            string          `json:"reason" validate:"required,max=500"`
	SignatureStatus   string          `json:"signature_status" validate:"omitempty,oneof=none operator driver"`
	BatchID           string          `json:"batch_id" validate:"omitempty,uuid"`
	GoodsReturnNumber string          `json:"goods_return_number" validate:"required_with=BatchID"`
	When              time.Time       `json:"when"`
}

type batchRequest struct {
	Reason          string             `json:"reason" validate:"max=500"`
	SignatureStatus string             `json:"signature_status" validate:"omitempty,oneof=none operator driver"`
	When            time.Time          `json:"when"`
	Lines           []batchLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type batchLineRequest struct {
	OrderID  int64           `json:"order_id" validate:"required,gt=0"`
	Quantity decimal.Decimal `json:"quantity"`
	Reason   string          `json:"reason" validate:"max=500"`
}

type documentRequest struct {
	DocumentURL       string `json:"document_url" validate:"omitempty,url"`
	SignedDocumentURL string `json:"signed_document_url" validate:"omitempty,url"`
}

type signatureRequest struct {
	SignatureStatus string `json:"signature_status" validate:"required,oneof=none operator driver"`
}

type emailRequest struct {
	Status    string    `json:"status" validate:"required,oneof=queued sent failed"`
	SentAt    time.Time `json:"sent_at"`
	MessageID string    `json:"message_id" validate:"max=255"`
}

type orderResponse struct {
	ID                  int64           `json:"id"`
	PurchaseOrderID     int64           `json:"purchase_order_id"`
	SupplierComponentID int64           `json:"supplier_component_id"`
	ComponentID         int64           `json:"component_id"`
	OrderQuantity       decimal.Decimal `json:"order_quantity"`
	TotalReceived       decimal.Decimal `json:"total_received"`
	Status              Status          `json:"status"`
	Receipts            []receiptJSON   `json:"receipts"`
	Returns             []returnJSON    `json:"returns"`
}

type receiptJSON struct {
	ID            int64           `json:"id"`
	Quantity      decimal.Decimal `json:"quantity"`
	ReceivedAt    time.Time       `json:"received_at"`
	TransactionID int64           `json:"transaction_id,omitempty"`
}

type returnJSON struct {
	ID                int64           `json:"id"`
	OrderID           int64           `json:"order_id"`
	ComponentID       int64           `json:"component_id"`
	Quantity          decimal.Decimal `json:"quantity"`
	Reason            string          `json:"reason"`
	ReturnType        ReturnType      `json:"return_type"`
	GoodsReturnNumber string          `json:"goods_return_number"`
	BatchID           string          `json:"batch_id,omitempty"`
	SignatureStatus   SignatureStatus `json:"signature_status"`
	DocumentURL       string          `json:"document_url,omitempty"`
	SignedDocumentURL string          `json:"signed_document_url,omitempty"`
	EmailStatus       EmailStatus     `json:"email_status,omitempty"`
	EmailSentAt       *time.Time      `json:"email_sent_at,omitempty"`
	EmailMessageID    string          `json:"email_message_id,omitempty"`
	ReturnedAt        time.Time       `json:"returned_at"`
	TransactionID     int64           `json:"transaction_id,omitempty"`
}

type returnResultJSON struct {
	Return         returnJSON      `json:"return"`
	Status         Status          `json:"status"`
	TotalReceived  decimal.Decimal `json:"total_received"`
	QuantityOnHand decimal.Decimal `json:"quantity_on_hand"`
}

func toReturnJSON(r Return) returnJSON {
	return returnJSON{
		ID:                r.ID,
		OrderID:           r.OrderID,
		ComponentID:       r.ComponentID,
		Quantity:          r.Quantity,
		Reason:            r.Reason,
		ReturnType:        r.Type,
		GoodsReturnNumber: r.GoodsReturnNumber,
		BatchID:           r.BatchID,
		SignatureStatus:   r.SignatureStatus,
		DocumentURL:       r.DocumentURL,
		SignedDocumentURL: r.SignedDocumentURL,
		EmailStatus:       r.EmailStatus,
		EmailSentAt:       r.EmailSentAt,
		EmailMessageID:    r.EmailMessageID,
		ReturnedAt:        r.ReturnedAt,
		TransactionID:     r.TransactionID,
	}
}

func toReturnsJSON(returns []Return) []returnJSON {
	out := make([]returnJSON, 0, len(returns))
	for _, r := range returns {
		out = append(out, toReturnJSON(r))
	}
	return out
}

func toReturnResultJSON(res ReturnResult) returnResultJSON {
	return returnResultJSON{
		Return:         toReturnJSON(res.Return),
		Status:         res.Status,
		TotalReceived:  res.TotalReceived,
		QuantityOnHand: res.QuantityOnHand,
	}
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	view, err := h.service.GetOrder(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	resp := orderResponse{
		ID:                  view.Order.ID,
		PurchaseOrderID:     view.Order.PurchaseOrderID,
		SupplierComponentID: view.Order.SupplierComponentID,
		ComponentID:         view.Order.ComponentID,
		OrderQuantity:       view.Order.OrderQuantity,
		TotalReceived:       view.Order.TotalReceived,
		Status:              view.Order.Status,
		Receipts:            make([]receiptJSON, 0, len(view.Receipts)),
		Returns:             toReturnsJSON(view.Returns),
	}
	for _, rc := range view.Receipts {
		resp.Receipts = append(resp.Receipts, receiptJSON{ID: rc.ID, Quantity: rc.Quantity, ReceivedAt: rc.ReceivedAt, TransactionID: rc.TransactionID})
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var req receiveRequest
	if !httpx.DecodeAndValidate(w, r, &req) {
		return
	}
	res, err := h.service.ReceiveOrReject(r.Context(), ReceiveInput{
		OrderID:          id,
		QuantityReceived: req.QuantityReceived,
		QuantityRejected: req.QuantityRejected,
		RejectionReason:  req.RejectionReason,
		When:             req.When,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"goods_return_number": res.GoodsReturnNumber,
		"status":              res.Status,
		"total_received":      res.TotalReceived,
		"quantity_on_hand":    res.QuantityOnHand,
		"receipt_id":          res.ReceiptID,
		"return_id":           res.ReturnID,
	})
}

func (h *Handler) returnFromStock(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var req returnRequest
	if !httpx.DecodeAndValidate(w, r, &req) {
		return
	}
	res, err := h.service.ReturnFromStock(r.Context(), ReturnInput{
		OrderID:           id,
		Quantity:          req.Quantity,
		Reason:            req.Reason,
		SignatureStatus:   SignatureStatus(req.SignatureStatus),
		BatchID:           req.BatchID,
		GoodsReturnNumber: req.GoodsReturnNumber,
		When:              req.When,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toReturnResultJSON(res))
}

func (h *Handler) returnBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if !httpx.DecodeAndValidate(w, r, &req) {
		return
	}
	input := BatchReturnInput{Reason: req.Reason, SignatureStatus: SignatureStatus(req.SignatureStatus), When: req.When}
	for _, l := range req.Lines {
		input.Lines = append(input.Lines, BatchLine{OrderID: l.OrderID, Quantity: l.Quantity, Reason: l.Reason})
	}
	res, err := h.service.ReturnBatch(r.Context(), input)
	if err != nil {
		h.respondError(w, err)
		return
	}
	lines := make([]returnResultJSON, 0, len(res.Lines))
	for _, l := range res.Lines {
		lines = append(lines, toReturnResultJSON(l))
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"batch_id":            res.BatchID,
		"goods_return_number": res.GoodsReturnNumber,
		"lines":               lines,
	})
}

func (h *Handler) allocateBatch(w http.ResponseWriter, r *http.Request) {
	alloc, err := h.service.AllocateBatch(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]string{
		"batch_id":            alloc.BatchID,
		"goods_return_number": alloc.GoodsReturnNumber,
	})
}

func (h *Handler) getGRN(w http.ResponseWriter, r *http.Request) {
	returns, err := h.service.ReturnsByGRN(r.Context(), chi.URLParam(r, "grn"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toReturnsJSON(returns))
}

func (h *Handler) getBatch(w http.ResponseWriter, r *http.Request) {
	returns, err := h.service.ReturnsByBatch(r.Context(), chi.URLParam(r, "batch"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toReturnsJSON(returns))
}

func (h *Handler) attachDocument(w http.ResponseWriter, r *http.Request) {
	var req documentRequest
	if !httpx.DecodeAndValidate(w, r, &req) {
		return
	}
	err := h.service.AttachDocument(r.Context(), chi.URLParam(r, "grn"), DocumentInput{
		DocumentURL:       req.DocumentURL,
		SignedDocumentURL: req.SignedDocumentURL,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) advanceSignature(w http.ResponseWriter, r *http.Request) {
	var req signatureRequest
	if !httpx.DecodeAndValidate(w, r, &req) {
		return
	}
	if err := h.service.AdvanceSignature(r.Context(), chi.URLParam(r, "grn"), SignatureStatus(req.SignatureStatus)); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) recordEmail(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !httpx.DecodeAndValidate(w, r, &req) {
		return
	}
	err := h.service.RecordEmail(r.Context(), chi.URLParam(r, "grn"), EmailUpdate{
		Status:    EmailStatus(req.Status),
		SentAt:    req.SentAt,
		MessageID: req.MessageID,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	if Classify(err) == nil {
		h.logger.Error("procurement request failed", slog.Any("error", err))
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

// Classify maps procurement errors onto httpx sentinels.
func Classify(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return httpx.ErrNotFound
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrDocumentConflict):
		return httpx.ErrConflict
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrReasonRequired),
		errors.Is(err, ErrExceedsRemaining), errors.Is(err, ErrExceedsOrdered),
		errors.Is(err, ErrExceedsReceived), errors.Is(err, ErrValidation):
		return httpx.ErrValidation
	case errors.Is(err, db.ErrConcurrency):
		return httpx.ErrUnavailable
	}
	return inventory.Classify(err)
}
