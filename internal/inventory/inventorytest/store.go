// Package inventorytest provides an in-memory ledger store for tests of the
// packages that post inventory movements.
package inventorytest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
)

// Store keeps balances and ledger rows in memory. Its TxStore methods do not
// lock; callers serialise them through WithTx or their own unit of work.
type Store struct {
	mu       sync.Mutex
	balances map[int64]inventory.Balance
	txs      []inventory.Transaction
	nextID   int64
	failures map[string]error
}

var _ inventory.RepositoryPort = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{balances: make(map[int64]inventory.Balance), failures: make(map[string]error)}
}

// Seed creates a balance row with an opening adjustment so the ledger sum
// matches the seeded quantity.
func (s *Store) Seed(componentID int64, qty decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[componentID] = inventory.Balance{ComponentID: componentID, QuantityOnHand: qty, UpdatedAt: time.Now().UTC()}
	if !qty.IsZero() {
		s.nextID++
		s.txs = append(s.txs, inventory.Transaction{
			ID: s.nextID, ComponentID: componentID, Quantity: qty, Delta: qty,
			Type: inventory.TransactionTypeAdjustment, Reason: "seed", PostedAt: time.Now().UTC(),
		})
	}
}

// FailOn makes the named TxStore method return err until cleared with nil.
func (s *Store) FailOn(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, method)
		return
	}
	s.failures[method] = err
}

// Snapshot captures the current state and returns a function restoring it.
func (s *Store) Snapshot() func() {
	balances := make(map[int64]inventory.Balance, len(s.balances))
	for k, v := range s.balances {
		balances[k] = v
	}
	txs := append([]inventory.Transaction(nil), s.txs...)
	nextID := s.nextID
	return func() {
		s.balances = balances
		s.txs = txs
		s.nextID = nextID
	}
}

// Lock serialises a unit of work spanning several repositories.
func (s *Store) Lock() { s.mu.Lock() }

// Unlock releases Lock.
func (s *Store) Unlock() { s.mu.Unlock() }

// Quantity returns on-hand quantity and whether a balance row exists.
func (s *Store) Quantity(componentID int64) (decimal.Decimal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.balances[componentID]
	return b.QuantityOnHand, ok
}

// Transactions returns ledger rows of a component in posting order.
func (s *Store) Transactions(componentID int64) []inventory.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []inventory.Transaction
	for _, t := range s.txs {
		if t.ComponentID == componentID {
			out = append(out, t)
		}
	}
	return out
}

// LedgerSum returns the sum of deltas of a component.
func (s *Store) LedgerSum(componentID int64) decimal.Decimal {
	sum := decimal.Zero
	for _, t := range s.Transactions(componentID) {
		sum = sum.Add(t.Delta)
	}
	return sum
}

// WithTx runs fn with all-or-nothing semantics.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, inventory.TxRepository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	restore := s.Snapshot()
	if err := fn(ctx, s); err != nil {
		restore()
		return err
	}
	return nil
}

func (s *Store) GetBalanceForUpdate(ctx context.Context, componentID int64) (inventory.Balance, error) {
	if err := s.failures["GetBalanceForUpdate"]; err != nil {
		return inventory.Balance{}, err
	}
	b, ok := s.balances[componentID]
	if !ok {
		return inventory.Balance{}, inventory.ErrBalanceNotFound
	}
	return b, nil
}

func (s *Store) InsertBalance(ctx context.Context, balance inventory.Balance) (bool, error) {
	if err := s.failures["InsertBalance"]; err != nil {
		return false, err
	}
	if _, ok := s.balances[balance.ComponentID]; ok {
		return false, nil
	}
	balance.UpdatedAt = time.Now().UTC()
	s.balances[balance.ComponentID] = balance
	return true, nil
}

func (s *Store) UpdateBalanceQuantity(ctx context.Context, componentID int64, qty decimal.Decimal) error {
	if err := s.failures["UpdateBalanceQuantity"]; err != nil {
		return err
	}
	b, ok := s.balances[componentID]
	if !ok {
		return inventory.ErrBalanceNotFound
	}
	b.QuantityOnHand = qty
	b.UpdatedAt = time.Now().UTC()
	s.balances[componentID] = b
	return nil
}

func (s *Store) InsertTransaction(ctx context.Context, tx inventory.Transaction) (int64, error) {
	if err := s.failures["InsertTransaction"]; err != nil {
		return 0, err
	}
	s.nextID++
	tx.ID = s.nextID
	s.txs = append(s.txs, tx)
	return tx.ID, nil
}

func (s *Store) GetBalance(ctx context.Context, componentID int64) (inventory.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.balances[componentID]
	if !ok {
		return inventory.Balance{}, inventory.ErrBalanceNotFound
	}
	return b, nil
}

func (s *Store) ListBalances(ctx context.Context, after int64, limit int) ([]inventory.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]inventory.Balance, 0, len(s.balances))
	for _, b := range s.balances {
		if b.ComponentID > after {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ComponentID < out[j].ComponentID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListTransactions(ctx context.Context, filter inventory.TransactionFilter) ([]inventory.Transaction, error) {
	var out []inventory.Transaction
	for _, t := range s.Transactions(filter.ComponentID) {
		if !filter.From.IsZero() && t.PostedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && t.PostedAt.After(filter.To) {
			continue
		}
		out = append(out, t)
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) Reconcile(ctx context.Context, componentID int64) (inventory.Reconciliation, error) {
	qty, ok := s.Quantity(componentID)
	if !ok {
		return inventory.Reconciliation{}, inventory.ErrBalanceNotFound
	}
	return inventory.Reconciliation{ComponentID: componentID, QuantityOnHand: qty, LedgerSum: s.LedgerSum(componentID)}, nil
}
