package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TxStore is the set of ledger and balance primitives available inside a
// unit of work. Every processor repository embeds it so ledger rows, balance
// updates and the processor's own records commit together.
type TxStore interface {
	// GetBalanceForUpdate locks and returns the balance row, or ErrBalanceNotFound.
	GetBalanceForUpdate(ctx context.Context, componentID int64) (Balance, error)
	// InsertBalance creates a balance row and reports whether it was created.
	// An existing row is left untouched.
	InsertBalance(ctx context.Context, balance Balance) (bool, error)
	UpdateBalanceQuantity(ctx context.Context, componentID int64, qty decimal.Decimal) error
	InsertTransaction(ctx context.Context, tx Transaction) (int64, error)
}

// Movement describes one ledger posting.
type Movement struct {
	ComponentID int64
	// Quantity is signed: positive adds stock, negative removes it.
	Quantity decimal.Decimal
	Type     TransactionType
	Reason   string
	PostedAt time.Time

	// Floor clamps the resulting on-hand quantity at zero.
	Floor bool
	// AuditOnly records the movement without touching the balance.
	AuditOnly bool
	// CreateIfMissing creates a zero balance row when none exists.
	CreateIfMissing bool

	ReceiptID         int64
	ReturnID          int64
	IssuanceID        int64
	GoodsReturnNumber string
}

// Posting is the outcome of Post.
type Posting struct {
	TransactionID  int64
	ComponentID    int64
	Type           TransactionType
	Delta          decimal.Decimal
	QuantityOnHand decimal.Decimal
	// Negative is advisory: the movement succeeded but left stock below zero.
	Negative bool
}

// Post is the only stock-mutating primitive. It must run inside the same
// unit of work as the record that caused it.
func Post(ctx context.Context, store TxStore, m Movement) (Posting, error) {
	if m.ComponentID <= 0 || !m.Type.IsValid() {
		return Posting{}, ErrInvalidMovement
	}
	if m.Quantity.IsZero() {
		return Posting{}, ErrInvalidQuantity
	}
	if m.PostedAt.IsZero() {
		m.PostedAt = time.Now().UTC()
	}

	balance, err := store.GetBalanceForUpdate(ctx, m.ComponentID)
	if errors.Is(err, ErrBalanceNotFound) && m.CreateIfMissing {
		if _, err := store.InsertBalance(ctx, Balance{ComponentID: m.ComponentID}); err != nil {
			return Posting{}, err
		}
		balance, err = store.GetBalanceForUpdate(ctx, m.ComponentID)
	}
	if err != nil {
		if errors.Is(err, ErrBalanceNotFound) {
			return Posting{}, fmt.Errorf("%w: component %d", ErrBalanceNotFound, m.ComponentID)
		}
		return Posting{}, err
	}

	delta := m.Quantity
	switch {
	case m.AuditOnly:
		delta = decimal.Zero
	case m.Floor:
		delta = flooredDelta(balance.QuantityOnHand, m.Quantity)
	}
	newQty := balance.QuantityOnHand.Add(delta)

	txID, err := store.InsertTransaction(ctx, Transaction{
		ComponentID:       m.ComponentID,
		Quantity:          m.Quantity,
		Delta:             delta,
		Type:              m.Type,
		Reason:            m.Reason,
		PostedAt:          m.PostedAt,
		ReceiptID:         m.ReceiptID,
		ReturnID:          m.ReturnID,
		IssuanceID:        m.IssuanceID,
		GoodsReturnNumber: m.GoodsReturnNumber,
	})
	if err != nil {
		return Posting{}, err
	}
	if !delta.IsZero() {
		if err := store.UpdateBalanceQuantity(ctx, m.ComponentID, newQty); err != nil {
			return Posting{}, err
		}
	}
	return Posting{
		TransactionID:  txID,
		ComponentID:    m.ComponentID,
		Type:           m.Type,
		Delta:          delta,
		QuantityOnHand: newQty,
		Negative:       newQty.IsNegative(),
	}, nil
}

// flooredDelta returns the change that moves current by qty without crossing
// below zero. A balance already negative from a manual override is never
// raised by a removal.
func flooredDelta(current, qty decimal.Decimal) decimal.Decimal {
	next := current.Add(qty)
	if !qty.IsNegative() || !next.IsNegative() {
		return qty
	}
	if current.IsPositive() {
		return current.Neg()
	}
	return decimal.Zero
}
