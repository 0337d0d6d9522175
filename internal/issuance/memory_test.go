package issuance

import (
	"context"
	"errors"
	"time"

	"github.com/odyssey-erp/odyssey-stock/internal/inventory/inventorytest"
)

type memoryRepo struct {
	stock     *inventorytest.Store
	pending   map[int64]Pending
	issuances []Issuance
	nextID    int64
	failOn    int64
}

type memoryTx struct {
	*inventorytest.Store
	repo *memoryRepo
}

var errInjected = errors.New("injected storage failure")

func newMemoryRepo(stock *inventorytest.Store) *memoryRepo {
	return &memoryRepo{stock: stock, pending: make(map[int64]Pending)}
}

func clonePending(p Pending) Pending {
	p.Items = append([]PendingItem(nil), p.Items...)
	return p
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.stock.Lock()
	defer r.stock.Unlock()
	restoreStock := r.stock.Snapshot()
	pending := make(map[int64]Pending, len(r.pending))
	for k, v := range r.pending {
		pending[k] = clonePending(v)
	}
	issuances := append([]Issuance(nil), r.issuances...)
	nextID := r.nextID

	if err := fn(ctx, &memoryTx{Store: r.stock, repo: r}); err != nil {
		restoreStock()
		r.pending, r.issuances, r.nextID = pending, issuances, nextID
		return err
	}
	return nil
}

func (r *memoryRepo) GetPending(ctx context.Context, id int64) (Pending, error) {
	r.stock.Lock()
	defer r.stock.Unlock()
	p, ok := r.pending[id]
	if !ok {
		return Pending{}, ErrNotFound
	}
	return clonePending(p), nil
}

func (r *memoryRepo) ListIssuancesByPending(ctx context.Context, pendingID int64) ([]Issuance, error) {
	r.stock.Lock()
	defer r.stock.Unlock()
	var out []Issuance
	for _, is := range r.issuances {
		if is.PendingID == pendingID {
			out = append(out, is)
		}
	}
	return out, nil
}

func (r *memoryRepo) pendingCount() int {
	r.stock.Lock()
	defer r.stock.Unlock()
	return len(r.pending)
}

func (t *memoryTx) InsertIssuance(ctx context.Context, is Issuance) (int64, error) {
	if t.repo.failOn != 0 && is.ComponentID == t.repo.failOn {
		return 0, errInjected
	}
	t.repo.nextID++
	is.ID = t.repo.nextID
	t.repo.issuances = append(t.repo.issuances, is)
	return is.ID, nil
}

func (t *memoryTx) InsertPending(ctx context.Context, p Pending) (int64, error) {
	t.repo.nextID++
	p.ID = t.repo.nextID
	t.repo.pending[p.ID] = p
	return p.ID, nil
}

func (t *memoryTx) InsertPendingItem(ctx context.Context, item PendingItem) (int64, error) {
	p, ok := t.repo.pending[item.PendingID]
	if !ok {
		return 0, ErrNotFound
	}
	t.repo.nextID++
	item.ID = t.repo.nextID
	p.Items = append(p.Items, item)
	t.repo.pending[p.ID] = p
	return item.ID, nil
}

func (t *memoryTx) GetPendingForUpdate(ctx context.Context, id int64) (Pending, error) {
	p, ok := t.repo.pending[id]
	if !ok {
		return Pending{}, ErrNotFound
	}
	return clonePending(p), nil
}

func (t *memoryTx) UpdatePendingStatus(ctx context.Context, id int64, status PendingStatus, at time.Time) error {
	p, ok := t.repo.pending[id]
	if !ok || p.Status != PendingStatusPending {
		return ErrInvalidState
	}
	p.Status = status
	if status == PendingStatusIssued {
		p.IssuedAt = &at
	} else {
		p.CancelledAt = &at
	}
	t.repo.pending[id] = p
	return nil
}
