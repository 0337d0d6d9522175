// Package reservation earmarks finished goods for customer orders.
package reservation

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Status of a reservation.
type Status string

const (
	StatusActive   Status = "active"
	StatusReleased Status = "released"
	StatusConsumed Status = "consumed"
)

// Reservation holds finished product for one customer order.
type Reservation struct {
	ID               int64
	ProductID        int64
	CustomerOrderID  int64
	QuantityReserved decimal.Decimal
	QuantityConsumed decimal.Decimal
	Status           Status
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Outstanding is the reserved quantity not yet consumed.
func (r Reservation) Outstanding() decimal.Decimal {
	return r.QuantityReserved.Sub(r.QuantityConsumed)
}

var (
	// ErrNotFound indicates a missing reservation.
	ErrNotFound = errors.New("reservation: not found")
	// ErrInvalidQuantity indicates zero or negative quantities.
	ErrInvalidQuantity = errors.New("reservation: quantity must be positive")
	// ErrInsufficientStock indicates not enough unreserved stock.
	ErrInsufficientStock = errors.New("reservation: insufficient unreserved stock")
	// ErrExceedsReserved indicates consuming more than is outstanding.
	ErrExceedsReserved = errors.New("reservation: quantity exceeds outstanding reservation")
	// ErrInvalidState indicates a reservation that is no longer active.
	ErrInvalidState = errors.New("reservation: not active")
	// ErrValidation indicates other malformed input.
	ErrValidation = errors.New("reservation: validation error")
)
