package procurement

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle status of a supplier order line.
type Status string

const (
	StatusDraft             Status = "DRAFT"
	StatusApproved          Status = "APPROVED"
	StatusPartiallyReceived Status = "PARTIALLY_RECEIVED"
	StatusFullyReceived     Status = "FULLY_RECEIVED"
	StatusClosed            Status = "CLOSED"
	StatusCancelled         Status = "CANCELLED"
)

// IsAdministrative reports statuses set by people rather than by receiving.
func (s Status) IsAdministrative() bool {
	switch s {
	case StatusDraft, StatusClosed, StatusCancelled:
		return true
	}
	return false
}

// ReturnType is a closed variant: goods refused at the gate or goods sent
// back after they entered stock.
type ReturnType string

const (
	ReturnTypeRejection   ReturnType = "rejection"
	ReturnTypeLaterReturn ReturnType = "later_return"
)

// SignatureStatus tracks sign-off on the return document.
type SignatureStatus string

const (
	SignatureNone     SignatureStatus = "none"
	SignatureOperator SignatureStatus = "operator"
	SignatureDriver   SignatureStatus = "driver"
)

func (s SignatureStatus) rank() int {
	switch s {
	case SignatureNone:
		return 0
	case SignatureOperator:
		return 1
	case SignatureDriver:
		return 2
	}
	return -1
}

// IsValid reports whether s is a known signature status.
func (s SignatureStatus) IsValid() bool { return s.rank() >= 0 }

// Allows reports whether moving from s to next keeps the progression forward.
func (s SignatureStatus) Allows(next SignatureStatus) bool {
	return next.IsValid() && next.rank() >= s.rank()
}

// EmailStatus is written back by the notification job.
type EmailStatus string

const (
	EmailNotSent EmailStatus = ""
	EmailQueued  EmailStatus = "queued"
	EmailSent    EmailStatus = "sent"
	EmailFailed  EmailStatus = "failed"
)

// IsValid reports whether e may be written back.
func (e EmailStatus) IsValid() bool {
	switch e {
	case EmailQueued, EmailSent, EmailFailed:
		return true
	}
	return false
}

// SupplierOrder is one order line placed with a supplier for one component.
type SupplierOrder struct {
	ID                  int64
	PurchaseOrderID     int64
	SupplierComponentID int64
	ComponentID         int64
	OrderQuantity       decimal.Decimal
	TotalReceived       decimal.Decimal
	Status              Status
	UpdatedAt           time.Time
}

// Remaining is the quantity still to be received.
func (o SupplierOrder) Remaining() decimal.Decimal {
	rem := o.OrderQuantity.Sub(o.TotalReceived)
	if rem.IsNegative() {
		return decimal.Zero
	}
	return rem
}

// Receipt records goods accepted into stock.
type Receipt struct {
	ID            int64
	OrderID       int64
	Quantity      decimal.Decimal
	ReceivedAt    time.Time
	TransactionID int64
}

// Return records goods refused or sent back to the supplier.
type Return struct {
	ID                int64
	OrderID           int64
	ComponentID       int64
	Quantity          decimal.Decimal
	Reason            string
	Type              ReturnType
	GoodsReturnNumber string
	BatchID           string
	SignatureStatus   SignatureStatus
	DocumentURL       string
	SignedDocumentURL string
	EmailStatus       EmailStatus
	EmailSentAt       *time.Time
	EmailMessageID    string
	ReturnedAt        time.Time
	TransactionID     int64
}

// ReturnDocument is one goods return note. Its number belongs to exactly one
// document, and a batch document is bound to exactly one batch id.
type ReturnDocument struct {
	GoodsReturnNumber string
	BatchID           string
	Lines             int
	CreatedAt         time.Time
}

// BatchAllocation is a document opened ahead of its lines so callers can
// assemble a batch one return at a time.
type BatchAllocation struct {
	BatchID           string
	GoodsReturnNumber string
}

// OrderView bundles an order with its receipt and return history.
type OrderView struct {
	Order    SupplierOrder
	Receipts []Receipt
	Returns  []Return
}

// NetReceived is receipts minus later returns. Rejections never count.
func NetReceived(receipts []Receipt, returns []Return) decimal.Decimal {
	total := decimal.Zero
	for _, r := range receipts {
		total = total.Add(r.Quantity)
	}
	for _, r := range returns {
		if r.Type == ReturnTypeLaterReturn {
			total = total.Sub(r.Quantity)
		}
	}
	return total
}

var (
	// ErrNotFound indicates missing order or return records.
	ErrNotFound = errors.New("procurement: not found")
	// ErrInvalidQuantity indicates zero or negative quantities.
	ErrInvalidQuantity = errors.New("procurement: quantity must be positive")
	// ErrReasonRequired indicates a rejection or return without a reason.
	ErrReasonRequired = errors.New("procurement: reason is required")
	// ErrExceedsRemaining indicates receiving more than is left on the order.
	ErrExceedsRemaining = errors.New("procurement: quantity exceeds remaining to receive")
	// ErrExceedsOrdered indicates rejecting more than was ordered.
	ErrExceedsOrdered = errors.New("procurement: quantity exceeds ordered quantity")
	// ErrExceedsReceived indicates returning more than is held from the order.
	ErrExceedsReceived = errors.New("procurement: quantity exceeds total received")
	// ErrInvalidState indicates the order or return does not accept the operation.
	ErrInvalidState = errors.New("procurement: invalid state")
	// ErrDocumentConflict indicates a goods return number bound to another document.
	ErrDocumentConflict = errors.New("procurement: goods return number belongs to another document")
	// ErrValidation indicates malformed batch or writeback input.
	ErrValidation = errors.New("procurement: validation error")
)
