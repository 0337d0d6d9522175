// Package issuance applies stock consumption that is not tied to a supplier
// order: direct issues and two-phase picking lists.
package issuance

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
)

// Category classifies the consuming activity.
type Category string

const (
	CategoryProduction  Category = "production"
	CategorySample      Category = "sample"
	CategoryWriteOff    Category = "write_off"
	CategoryMaintenance Category = "maintenance"
	CategoryOther       Category = "other"
)

// IsValid reports whether c is a known category.
func (c Category) IsValid() bool {
	switch c {
	case CategoryProduction, CategorySample, CategoryWriteOff, CategoryMaintenance, CategoryOther:
		return true
	}
	return false
}

// PendingStatus is the picking list state.
type PendingStatus string

const (
	PendingStatusPending   PendingStatus = "pending"
	PendingStatusIssued    PendingStatus = "issued"
	PendingStatusCancelled PendingStatus = "cancelled"
)

// Issuance records goods consumed from stock.
type Issuance struct {
	ID                int64
	ComponentID       int64
	Quantity          decimal.Decimal
	OrderID           int64
	ExternalReference string
	Category          Category
	PendingID         int64
	IssuedAt          time.Time
	TransactionID     int64
}

// Pending is a staged picking list.
type Pending struct {
	ID                int64
	ExternalReference string
	Category          Category
	Status            PendingStatus
	CreatedAt         time.Time
	IssuedAt          *time.Time
	CancelledAt       *time.Time
	Items             []PendingItem
}

// PendingItem is one component line of a picking list.
type PendingItem struct {
	ID          int64
	PendingID   int64
	ComponentID int64
	Quantity    decimal.Decimal
}

// MissingBalancesError names every component without a balance row.
type MissingBalancesError struct {
	ComponentIDs []int64
}

func (e *MissingBalancesError) Error() string {
	ids := make([]string, 0, len(e.ComponentIDs))
	for _, id := range e.ComponentIDs {
		ids = append(ids, fmt.Sprintf("%d", id))
	}
	return "issuance: no inventory record for component " + strings.Join(ids, ", ")
}

// Unwrap lets errors.Is match inventory.ErrBalanceNotFound.
func (e *MissingBalancesError) Unwrap() error { return inventory.ErrBalanceNotFound }

func missingBalances(ids []int64) error {
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return &MissingBalancesError{ComponentIDs: sorted}
}

var (
	// ErrNotFound indicates a missing picking list.
	ErrNotFound = errors.New("issuance: not found")
	// ErrInvalidQuantity indicates zero or negative quantities.
	ErrInvalidQuantity = errors.New("issuance: quantity must be positive")
	// ErrReferenceRequired indicates a blank external reference.
	ErrReferenceRequired = errors.New("issuance: external reference is required")
	// ErrInvalidState indicates a picking list that is no longer pending.
	ErrInvalidState = errors.New("issuance: picking list is not pending")
	// ErrValidation indicates other malformed input.
	ErrValidation = errors.New("issuance: validation error")
)
