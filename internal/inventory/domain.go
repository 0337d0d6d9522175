package inventory

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType enumerates supported inventory movements.
type TransactionType string

const (
	// TransactionTypePurchase records goods accepted into stock from a supplier.
	TransactionTypePurchase TransactionType = "purchase"
	// TransactionTypeSale records finished goods leaving against a customer order.
	TransactionTypeSale TransactionType = "sale"
	// TransactionTypeReturn records received goods sent back to the supplier.
	TransactionTypeReturn TransactionType = "return"
	// TransactionTypeRejection records goods refused at the gate. Audit only.
	TransactionTypeRejection TransactionType = "rejection"
	// TransactionTypeIssue records stock consumed outside a purchase order.
	TransactionTypeIssue TransactionType = "issue"
	// TransactionTypeAdjustment records manual corrections and opening balances.
	TransactionTypeAdjustment TransactionType = "adjustment"
)

// IsValid reports whether t is a known movement type.
func (t TransactionType) IsValid() bool {
	switch t {
	case TransactionTypePurchase, TransactionTypeSale, TransactionTypeReturn,
		TransactionTypeRejection, TransactionTypeIssue, TransactionTypeAdjustment:
		return true
	}
	return false
}

// Transaction is an immutable ledger entry. Quantity is the signed document
// quantity; Delta is the change actually applied to quantity on hand.
type Transaction struct {
	ID                int64
	ComponentID       int64
	Quantity          decimal.Decimal
	Delta             decimal.Decimal
	Type              TransactionType
	Reason            string
	PostedAt          time.Time
	ReceiptID         int64
	ReturnID          int64
	IssuanceID        int64
	GoodsReturnNumber string
}

// Balance is the single stock row kept per component.
type Balance struct {
	ComponentID    int64
	QuantityOnHand decimal.Decimal
	ReorderLevel   decimal.Decimal
	Location       string
	UpdatedAt      time.Time
}

// BelowReorder reports whether on-hand stock has dropped to the reorder level.
func (b Balance) BelowReorder() bool {
	return b.ReorderLevel.IsPositive() && b.QuantityOnHand.LessThanOrEqual(b.ReorderLevel)
}

// CreateBalanceInput describes the explicit "create inventory record" action.
type CreateBalanceInput struct {
	ComponentID     int64
	InitialQuantity decimal.Decimal
	ReorderLevel    decimal.Decimal
	Location        string
}

// TransactionFilter narrows ledger history queries.
type TransactionFilter struct {
	ComponentID int64
	From        time.Time
	To          time.Time
	Limit       int
}

// Reconciliation compares a balance row against the sum of its ledger deltas.
type Reconciliation struct {
	ComponentID    int64
	QuantityOnHand decimal.Decimal
	LedgerSum      decimal.Decimal
}

// Balanced reports whether the balance equals the ledger sum.
func (r Reconciliation) Balanced() bool {
	return r.QuantityOnHand.Equal(r.LedgerSum)
}

// Drift is on-hand minus ledger sum.
func (r Reconciliation) Drift() decimal.Decimal {
	return r.QuantityOnHand.Sub(r.LedgerSum)
}

var (
	// ErrBalanceNotFound indicates missing balance row.
	ErrBalanceNotFound = errors.New("inventory: balance not found")
	// ErrBalanceExists is returned when creating a balance row twice.
	ErrBalanceExists = errors.New("inventory: balance already exists")
	// ErrInvalidQuantity indicates a zero or otherwise unusable quantity.
	ErrInvalidQuantity = errors.New("inventory: quantity must be non zero")
	// ErrInvalidMovement indicates an unknown movement type or component.
	ErrInvalidMovement = errors.New("inventory: invalid movement")
)
