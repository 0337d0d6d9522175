package procurement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/grn"
	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetOrder(ctx context.Context, id int64) (SupplierOrder, error)
	ListReceipts(ctx context.Context, orderID int64) ([]Receipt, error)
	ListReturns(ctx context.Context, orderID int64) ([]Return, error)
	ReturnsByGRN(ctx context.Context, number string) ([]Return, error)
	ReturnsByBatch(ctx context.Context, batchID string) ([]Return, error)
}

// TxRepository is the unit of work for receipts and returns. The ledger
// primitives share the same transaction.
type TxRepository interface {
	inventory.TxStore
	GetOrderForUpdate(ctx context.Context, id int64) (SupplierOrder, error)
	InsertReceipt(ctx context.Context, receipt Receipt) (int64, error)
	InsertReturn(ctx context.Context, ret Return) (int64, error)
	SumNetReceived(ctx context.Context, orderID int64) (decimal.Decimal, error)
	UpdateOrderProgress(ctx context.Context, orderID int64, totalReceived decimal.Decimal, status Status) error
	InsertReturnDocument(ctx context.Context, doc ReturnDocument) error
	GetReturnDocumentForUpdate(ctx context.Context, number string) (ReturnDocument, error)
	UpdateReturnDocumentLines(ctx context.Context, number string, lines int) error
	ReturnsByGRNForUpdate(ctx context.Context, number string) ([]Return, error)
	UpdateReturnDocument(ctx context.Context, number, documentURL, signedDocumentURL string) error
	UpdateReturnSignature(ctx context.Context, number string, status SignatureStatus) error
	UpdateReturnEmail(ctx context.Context, number string, update EmailUpdate) error
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service applies receiving, rejection and return events to supplier orders.
type Service struct {
	repo     RepositoryPort
	grns     GRNAllocator
	notifier Notifier
	audit    AuditPort
	metrics  inventory.Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs procurement service.
func NewService(repo RepositoryPort, grns GRNAllocator, notifier Notifier, audit AuditPort, metrics inventory.Recorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, grns: grns, notifier: notifier, audit: audit, metrics: metrics, logger: logger, now: time.Now}
}

// ReceiveInput describes goods arriving at the gate for one order line.
type ReceiveInput struct {
	OrderID          int64
	QuantityReceived decimal.Decimal
	QuantityRejected decimal.Decimal
	RejectionReason  string
	When             time.Time
}

// ReceiveResult reports the effect of ReceiveOrReject.
type ReceiveResult struct {
	GoodsReturnNumber string
	Status            Status
	TotalReceived     decimal.Decimal
	QuantityOnHand    decimal.Decimal
	ReceiptID         int64
	ReturnID          int64
}

// ReturnInput describes goods leaving stock back to the supplier. BatchID and
// GoodsReturnNumber are supplied together when the line belongs to a
// multi-component return document opened by AllocateBatch.
type ReturnInput struct {
	OrderID           int64
	Quantity          decimal.Decimal
	Reason            string
	SignatureStatus   SignatureStatus
	BatchID           string
	GoodsReturnNumber string
	When              time.Time
}

// ReturnResult reports the effect of one return line.
type ReturnResult struct {
	Return         Return
	Status         Status
	TotalReceived  decimal.Decimal
	QuantityOnHand decimal.Decimal
}

// BatchLine is one component of a batch return.
type BatchLine struct {
	OrderID  int64
	Quantity decimal.Decimal
	Reason   string
}

// BatchReturnInput groups several later returns under one document.
type BatchReturnInput struct {
	Lines           []BatchLine
	Reason          string
	SignatureStatus SignatureStatus
	When            time.Time
}

// BatchResult reports a committed batch return.
type BatchResult struct {
	BatchID           string
	GoodsReturnNumber string
	Lines             []ReturnResult
}

// DocumentInput carries URLs written back by the document collaborator.
type DocumentInput struct {
	DocumentURL       string
	SignedDocumentURL string
}

// EmailUpdate carries the notification outcome.
type EmailUpdate struct {
	Status    EmailStatus
	SentAt    time.Time
	MessageID string
}

type returnLine struct {
	kind      ReturnType
	orderID   int64
	quantity  decimal.Decimal
	reason    string
	signature SignatureStatus
	batchID   string
	number    string
	when      time.Time
}

// ReceiveOrReject applies the received and rejected portions of a delivery
// in one unit of work.
func (s *Service) ReceiveOrReject(ctx context.Context, input ReceiveInput) (ReceiveResult, error) {
	if input.QuantityReceived.IsNegative() || input.QuantityRejected.IsNegative() {
		return ReceiveResult{}, ErrInvalidQuantity
	}
	if !input.QuantityReceived.Add(input.QuantityRejected).IsPositive() {
		return ReceiveResult{}, ErrInvalidQuantity
	}
	rejecting := input.QuantityRejected.IsPositive()
	input.RejectionReason = strings.TrimSpace(input.RejectionReason)
	if rejecting && input.RejectionReason == "" {
		return ReceiveResult{}, ErrReasonRequired
	}
	if input.When.IsZero() {
		input.When = s.now().UTC()
	}

	var number string
	if rejecting {
		order, err := s.repo.GetOrder(ctx, input.OrderID)
		if err != nil {
			return ReceiveResult{}, err
		}
		if err := checkReceivable(order, input); err != nil {
			return ReceiveResult{}, err
		}
		if number, err = s.grns.Next(ctx); err != nil {
			return ReceiveResult{}, err
		}
	}

	var (
		result   ReceiveResult
		postings []inventory.Posting
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		result = ReceiveResult{}
		postings = postings[:0]

		order, err := tx.GetOrderForUpdate(ctx, input.OrderID)
		if err != nil {
			return err
		}
		if err := checkReceivable(order, input); err != nil {
			return err
		}

		if input.QuantityReceived.IsPositive() {
			receiptID, err := tx.InsertReceipt(ctx, Receipt{OrderID: order.ID, Quantity: input.QuantityReceived, ReceivedAt: input.When})
			if err != nil {
				return err
			}
			posting, err := inventory.Post(ctx, tx, inventory.Movement{
				ComponentID:     order.ComponentID,
				Quantity:        input.QuantityReceived,
				Type:            inventory.TransactionTypePurchase,
				Reason:          fmt.Sprintf("receipt for supplier order %d", order.ID),
				PostedAt:        input.When,
				CreateIfMissing: true,
				ReceiptID:       receiptID,
			})
			if err != nil {
				return err
			}
			postings = append(postings, posting)
			result.ReceiptID = receiptID
			result.QuantityOnHand = posting.QuantityOnHand
		}

		if rejecting {
			if err := openDocument(ctx, tx, number, "", 1, input.When); err != nil {
				return err
			}
			ret, posting, err := s.recordReturn(ctx, tx, order, returnLine{
				kind:      ReturnTypeRejection,
				orderID:   order.ID,
				quantity:  input.QuantityRejected,
				reason:    input.RejectionReason,
				signature: SignatureNone,
				number:    number,
				when:      input.When,
			})
			if err != nil {
				return err
			}
			postings = append(postings, posting)
			result.ReturnID = ret.ID
			result.GoodsReturnNumber = number
			result.QuantityOnHand = posting.QuantityOnHand
		}

		updated, err := s.refreshOrder(ctx, tx, order)
		if err != nil {
			return err
		}
		result.Status = updated.Status
		result.TotalReceived = updated.TotalReceived
		return nil
	})
	if err != nil {
		return ReceiveResult{}, err
	}

	inventory.Observe(s.metrics, postings...)
	s.recordAudit(ctx, "ORDER_RECEIVE", input.OrderID, map[string]any{
		"received":            input.QuantityReceived.String(),
		"rejected":            input.QuantityRejected.String(),
		"goods_return_number": result.GoodsReturnNumber,
		"status":              string(result.Status),
	})
	if rejecting {
		s.notify(ctx, ReturnRecordedEvent{
			GoodsReturnNumber: number,
			Type:              ReturnTypeRejection,
			OrderIDs:          []int64{input.OrderID},
			Quantity:          input.QuantityRejected,
			RecordedAt:        input.When,
		})
	}
	return result, nil
}

// ReturnFromStock sends previously received goods back to the supplier.
func (s *Service) ReturnFromStock(ctx context.Context, input ReturnInput) (ReturnResult, error) {
	line, err := s.prepareReturn(input)
	if err != nil {
		return ReturnResult{}, err
	}
	allocated := line.number == ""
	if allocated {
		order, err := s.repo.GetOrder(ctx, line.orderID)
		if err != nil {
			return ReturnResult{}, err
		}
		if line.quantity.GreaterThan(order.TotalReceived) {
			return ReturnResult{}, exceedsReceived(order, line.quantity)
		}
		if line.number, err = s.grns.Next(ctx); err != nil {
			return ReturnResult{}, err
		}
	}

	var (
		result      ReturnResult
		posting     inventory.Posting
		newDocument bool
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		if allocated {
			newDocument = true
			err = openDocument(ctx, tx, line.number, "", 1, line.when)
		} else {
			newDocument, err = joinDocument(ctx, tx, line)
		}
		if err != nil {
			return err
		}
		result, posting, err = s.returnLocked(ctx, tx, line)
		return err
	})
	if err != nil {
		return ReturnResult{}, err
	}

	inventory.Observe(s.metrics, posting)
	s.recordAudit(ctx, "ORDER_RETURN", line.orderID, map[string]any{
		"quantity":            line.quantity.String(),
		"goods_return_number": line.number,
		"batch_id":            line.batchID,
		"status":              string(result.Status),
	})
	// A caller-assembled batch is announced by its first line.
	if newDocument {
		s.notify(ctx, ReturnRecordedEvent{
			GoodsReturnNumber: line.number,
			BatchID:           line.batchID,
			Type:              ReturnTypeLaterReturn,
			OrderIDs:          []int64{line.orderID},
			Quantity:          line.quantity,
			RecordedAt:        line.when,
		})
	}
	return result, nil
}

// ReturnBatch allocates one goods return number and batch id and applies
// every line as a later return inside a single unit of work.
func (s *Service) ReturnBatch(ctx context.Context, input BatchReturnInput) (BatchResult, error) {
	if len(input.Lines) == 0 {
		return BatchResult{}, fmt.Errorf("%w: batch has no lines", ErrValidation)
	}
	if input.When.IsZero() {
		input.When = s.now().UTC()
	}
	lines := make([]returnLine, 0, len(input.Lines))
	total := decimal.Zero
	for _, l := range input.Lines {
		reason := l.Reason
		if strings.TrimSpace(reason) == "" {
			reason = input.Reason
		}
		line, err := s.prepareReturn(ReturnInput{
			OrderID:         l.OrderID,
			Quantity:        l.Quantity,
			Reason:          reason,
			SignatureStatus: input.SignatureStatus,
			When:            input.When,
		})
		if err != nil {
			return BatchResult{}, fmt.Errorf("order %d: %w", l.OrderID, err)
		}
		lines = append(lines, line)
		total = total.Add(line.quantity)
	}
	// Order rows are locked in ascending id.
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].orderID < lines[j].orderID })

	number, err := s.grns.Next(ctx)
	if err != nil {
		return BatchResult{}, err
	}
	batchID := uuid.NewString()
	orderIDs := make([]int64, 0, len(lines))
	for i := range lines {
		lines[i].number = number
		lines[i].batchID = batchID
		orderIDs = append(orderIDs, lines[i].orderID)
	}

	var (
		results  []ReturnResult
		postings []inventory.Posting
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		results = results[:0]
		postings = postings[:0]
		if err := openDocument(ctx, tx, number, batchID, len(lines), input.When); err != nil {
			return err
		}
		for _, line := range lines {
			res, posting, err := s.returnLocked(ctx, tx, line)
			if err != nil {
				return fmt.Errorf("order %d: %w", line.orderID, err)
			}
			results = append(results, res)
			postings = append(postings, posting)
		}
		return nil
	})
	if err != nil {
		return BatchResult{}, err
	}

	inventory.Observe(s.metrics, postings...)
	s.recordAuditEntity(ctx, "RETURN_BATCH", "supplier_return_batch", batchID, map[string]any{
		"goods_return_number": number,
		"orders":              orderIDs,
		"quantity":            total.String(),
	})
	s.notify(ctx, ReturnRecordedEvent{
		GoodsReturnNumber: number,
		BatchID:           batchID,
		Type:              ReturnTypeLaterReturn,
		OrderIDs:          orderIDs,
		Quantity:          total,
		RecordedAt:        lines[0].when,
	})
	return BatchResult{BatchID: batchID, GoodsReturnNumber: number, Lines: results}, nil
}

// AllocateBatch opens an empty batch document. Its lines are then posted one
// at a time through ReturnFromStock with the returned batch id and number.
func (s *Service) AllocateBatch(ctx context.Context) (BatchAllocation, error) {
	number, err := s.grns.Next(ctx)
	if err != nil {
		return BatchAllocation{}, err
	}
	alloc := BatchAllocation{BatchID: uuid.NewString(), GoodsReturnNumber: number}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return openDocument(ctx, tx, alloc.GoodsReturnNumber, alloc.BatchID, 0, s.now().UTC())
	})
	if err != nil {
		return BatchAllocation{}, err
	}
	s.recordAuditEntity(ctx, "RETURN_BATCH_ALLOCATE", "supplier_return_batch", alloc.BatchID, map[string]any{
		"goods_return_number": number,
	})
	return alloc, nil
}

func (s *Service) prepareReturn(input ReturnInput) (returnLine, error) {
	if !input.Quantity.IsPositive() {
		return returnLine{}, ErrInvalidQuantity
	}
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return returnLine{}, ErrReasonRequired
	}
	signature := input.SignatureStatus
	if signature == "" {
		signature = SignatureNone
	}
	if !signature.IsValid() {
		return returnLine{}, fmt.Errorf("%w: unknown signature status %q", ErrValidation, signature)
	}
	if (input.BatchID == "") != (input.GoodsReturnNumber == "") {
		return returnLine{}, fmt.Errorf("%w: batch id and goods return number go together", ErrValidation)
	}
	if input.GoodsReturnNumber != "" {
		if _, _, err := grn.Parse(input.GoodsReturnNumber); err != nil {
			return returnLine{}, fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}
	when := input.When
	if when.IsZero() {
		when = s.now().UTC()
	}
	return returnLine{
		kind:      ReturnTypeLaterReturn,
		orderID:   input.OrderID,
		quantity:  input.Quantity,
		reason:    reason,
		signature: signature,
		batchID:   input.BatchID,
		number:    input.GoodsReturnNumber,
		when:      when,
	}, nil
}

func (s *Service) returnLocked(ctx context.Context, tx TxRepository, line returnLine) (ReturnResult, inventory.Posting, error) {
	order, err := tx.GetOrderForUpdate(ctx, line.orderID)
	if err != nil {
		return ReturnResult{}, inventory.Posting{}, err
	}
	ret, posting, err := s.recordReturn(ctx, tx, order, line)
	if err != nil {
		return ReturnResult{}, inventory.Posting{}, err
	}
	updated, err := s.refreshOrder(ctx, tx, order)
	if err != nil {
		return ReturnResult{}, inventory.Posting{}, err
	}
	return ReturnResult{
		Return:         ret,
		Status:         updated.Status,
		TotalReceived:  updated.TotalReceived,
		QuantityOnHand: posting.QuantityOnHand,
	}, posting, nil
}

// openDocument binds a freshly allocated number to its document.
func openDocument(ctx context.Context, tx TxRepository, number, batchID string, lines int, at time.Time) error {
	return tx.InsertReturnDocument(ctx, ReturnDocument{GoodsReturnNumber: number, BatchID: batchID, Lines: lines, CreatedAt: at})
}

// joinDocument adds a line to a document opened by AllocateBatch and reports
// whether it is the first. The document row is locked before any order row.
func joinDocument(ctx context.Context, tx TxRepository, line returnLine) (bool, error) {
	doc, err := tx.GetReturnDocumentForUpdate(ctx, line.number)
	if errors.Is(err, ErrNotFound) {
		return false, fmt.Errorf("%w: goods return number %s was not allocated", ErrValidation, line.number)
	}
	if err != nil {
		return false, err
	}
	if doc.BatchID == "" || doc.BatchID != line.batchID {
		return false, fmt.Errorf("%w: %s is not the number of batch %s", ErrDocumentConflict, line.number, line.batchID)
	}
	if err := tx.UpdateReturnDocumentLines(ctx, line.number, doc.Lines+1); err != nil {
		return false, err
	}
	return doc.Lines == 0, nil
}

// recordReturn is shared by both return kinds and branches once on the kind.
func (s *Service) recordReturn(ctx context.Context, tx TxRepository, order SupplierOrder, line returnLine) (Return, inventory.Posting, error) {
	movement := inventory.Movement{
		ComponentID:       order.ComponentID,
		Quantity:          line.quantity.Neg(),
		PostedAt:          line.when,
		GoodsReturnNumber: line.number,
	}
	switch line.kind {
	case ReturnTypeRejection:
		if line.quantity.GreaterThan(order.OrderQuantity) {
			return Return{}, inventory.Posting{}, ErrExceedsOrdered
		}
		movement.Type = inventory.TransactionTypeRejection
		movement.AuditOnly = true
		movement.CreateIfMissing = true
		movement.Reason = fmt.Sprintf("rejected at gate for supplier order %d: %s", order.ID, line.reason)
	case ReturnTypeLaterReturn:
		if line.quantity.GreaterThan(order.TotalReceived) {
			return Return{}, inventory.Posting{}, exceedsReceived(order, line.quantity)
		}
		movement.Type = inventory.TransactionTypeReturn
		movement.Floor = true
		movement.Reason = fmt.Sprintf("returned to supplier for order %d: %s", order.ID, line.reason)
	default:
		return Return{}, inventory.Posting{}, fmt.Errorf("%w: unknown return type %q", ErrValidation, line.kind)
	}

	ret := Return{
		OrderID:           order.ID,
		ComponentID:       order.ComponentID,
		Quantity:          line.quantity,
		Reason:            line.reason,
		Type:              line.kind,
		GoodsReturnNumber: line.number,
		BatchID:           line.batchID,
		SignatureStatus:   line.signature,
		ReturnedAt:        line.when,
	}
	id, err := tx.InsertReturn(ctx, ret)
	if err != nil {
		return Return{}, inventory.Posting{}, err
	}
	ret.ID = id
	movement.ReturnID = id

	posting, err := inventory.Post(ctx, tx, movement)
	if err != nil {
		return Return{}, inventory.Posting{}, err
	}
	ret.TransactionID = posting.TransactionID
	return ret, posting, nil
}

// refreshOrder recomputes total received from the record tables and derives
// the status inside the caller's unit of work.
func (s *Service) refreshOrder(ctx context.Context, tx TxRepository, order SupplierOrder) (SupplierOrder, error) {
	total, err := tx.SumNetReceived(ctx, order.ID)
	if err != nil {
		return SupplierOrder{}, err
	}
	status := DeriveStatus(order.Status, order.OrderQuantity, total)
	if err := tx.UpdateOrderProgress(ctx, order.ID, total, status); err != nil {
		return SupplierOrder{}, err
	}
	order.TotalReceived = total
	order.Status = status
	return order, nil
}

func checkReceivable(order SupplierOrder, input ReceiveInput) error {
	switch order.Status {
	case StatusDraft, StatusCancelled, StatusClosed:
		return fmt.Errorf("%w: order %d is %s", ErrInvalidState, order.ID, order.Status)
	}
	if input.QuantityReceived.GreaterThan(order.Remaining()) {
		return fmt.Errorf("%w: %s remaining on order %d", ErrExceedsRemaining, order.Remaining(), order.ID)
	}
	if input.QuantityRejected.GreaterThan(order.OrderQuantity) {
		return fmt.Errorf("%w: order %d is for %s", ErrExceedsOrdered, order.ID, order.OrderQuantity)
	}
	return nil
}

func exceedsReceived(order SupplierOrder, qty decimal.Decimal) error {
	return fmt.Errorf("%w: cannot return %s, %s received on order %d", ErrExceedsReceived, qty, order.TotalReceived, order.ID)
}

// GetOrder returns an order with its receipts and returns.
func (s *Service) GetOrder(ctx context.Context, id int64) (OrderView, error) {
	order, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return OrderView{}, err
	}
	receipts, err := s.repo.ListReceipts(ctx, id)
	if err != nil {
		return OrderView{}, err
	}
	returns, err := s.repo.ListReturns(ctx, id)
	if err != nil {
		return OrderView{}, err
	}
	return OrderView{Order: order, Receipts: receipts, Returns: returns}, nil
}

// ReturnsByGRN lists every return row sharing a goods return number.
func (s *Service) ReturnsByGRN(ctx context.Context, number string) ([]Return, error) {
	returns, err := s.repo.ReturnsByGRN(ctx, number)
	if err != nil {
		return nil, err
	}
	if len(returns) == 0 {
		return nil, fmt.Errorf("%w: goods return number %s", ErrNotFound, number)
	}
	return returns, nil
}

// ReturnsByBatch lists every return row of a batch.
func (s *Service) ReturnsByBatch(ctx context.Context, batchID string) ([]Return, error) {
	returns, err := s.repo.ReturnsByBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if len(returns) == 0 {
		return nil, fmt.Errorf("%w: batch %s", ErrNotFound, batchID)
	}
	return returns, nil
}

// AttachDocument stores rendered document URLs on every row of a return
// document. Quantities are never touched.
func (s *Service) AttachDocument(ctx context.Context, number string, input DocumentInput) error {
	if input.DocumentURL == "" && input.SignedDocumentURL == "" {
		return fmt.Errorf("%w: no document url", ErrValidation)
	}
	err := s.withReturns(ctx, number, func(ctx context.Context, tx TxRepository, _ []Return) error {
		return tx.UpdateReturnDocument(ctx, number, input.DocumentURL, input.SignedDocumentURL)
	})
	if err != nil {
		return err
	}
	s.recordAuditEntity(ctx, "RETURN_DOCUMENT", "supplier_return", number, map[string]any{
		"document_url":        input.DocumentURL,
		"signed_document_url": input.SignedDocumentURL,
	})
	return nil
}

// AdvanceSignature moves the signature status forward on every row of a
// return document.
func (s *Service) AdvanceSignature(ctx context.Context, number string, next SignatureStatus) error {
	if !next.IsValid() {
		return fmt.Errorf("%w: unknown signature status %q", ErrValidation, next)
	}
	err := s.withReturns(ctx, number, func(ctx context.Context, tx TxRepository, returns []Return) error {
		for _, r := range returns {
			if !r.SignatureStatus.Allows(next) {
				return fmt.Errorf("%w: signature cannot move from %s to %s", ErrInvalidState, r.SignatureStatus, next)
			}
		}
		return tx.UpdateReturnSignature(ctx, number, next)
	})
	if err != nil {
		return err
	}
	s.recordAuditEntity(ctx, "RETURN_SIGNATURE", "supplier_return", number, map[string]any{"signature_status": string(next)})
	return nil
}

// RecordEmail stores the outcome of the supplier notification.
func (s *Service) RecordEmail(ctx context.Context, number string, update EmailUpdate) error {
	if !update.Status.IsValid() {
		return fmt.Errorf("%w: unknown email status %q", ErrValidation, update.Status)
	}
	if update.Status == EmailSent && update.SentAt.IsZero() {
		update.SentAt = s.now().UTC()
	}
	return s.withReturns(ctx, number, func(ctx context.Context, tx TxRepository, _ []Return) error {
		return tx.UpdateReturnEmail(ctx, number, update)
	})
}

func (s *Service) withReturns(ctx context.Context, number string, fn func(context.Context, TxRepository, []Return) error) error {
	if _, _, err := grn.Parse(number); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		returns, err := tx.ReturnsByGRNForUpdate(ctx, number)
		if err != nil {
			return err
		}
		if len(returns) == 0 {
			return fmt.Errorf("%w: goods return number %s", ErrNotFound, number)
		}
		return fn(ctx, tx, returns)
	})
}

func (s *Service) notify(ctx context.Context, evt ReturnRecordedEvent) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.EnqueueReturnNotice(ctx, evt); err != nil {
		s.logger.Warn("return notice not queued", slog.String("goods_return_number", evt.GoodsReturnNumber), slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, action string, orderID int64, meta map[string]any) {
	s.recordAuditEntity(ctx, action, "supplier_order", fmt.Sprintf("%d", orderID), meta)
}

func (s *Service) recordAuditEntity(ctx context.Context, action, entity, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{Action: action, Entity: entity, EntityID: entityID, Meta: meta}); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
