package reservation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	"github.com/odyssey-erp/odyssey-stock/internal/inventory/inventorytest"
)

type memoryRepo struct {
	stock        *inventorytest.Store
	reservations map[int64]Reservation
	nextID       int64
}

type memoryTx struct {
	*inventorytest.Store
	repo *memoryRepo
}

func newMemoryRepo(stock *inventorytest.Store) *memoryRepo {
	return &memoryRepo{stock: stock, reservations: make(map[int64]Reservation)}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.stock.Lock()
	defer r.stock.Unlock()
	restoreStock := r.stock.Snapshot()
	saved := make(map[int64]Reservation, len(r.reservations))
	for k, v := range r.reservations {
		saved[k] = v
	}
	nextID := r.nextID
	if err := fn(ctx, &memoryTx{Store: r.stock, repo: r}); err != nil {
		restoreStock()
		r.reservations, r.nextID = saved, nextID
		return err
	}
	return nil
}

func (r *memoryRepo) GetReservation(ctx context.Context, id int64) (Reservation, error) {
	r.stock.Lock()
	defer r.stock.Unlock()
	res, ok := r.reservations[id]
	if !ok {
		return Reservation{}, ErrNotFound
	}
	return res, nil
}

func (r *memoryRepo) ListByCustomerOrder(ctx context.Context, customerOrderID int64) ([]Reservation, error) {
	r.stock.Lock()
	defer r.stock.Unlock()
	var out []Reservation
	for id := int64(1); id <= r.nextID; id++ {
		if res, ok := r.reservations[id]; ok && res.CustomerOrderID == customerOrderID {
			out = append(out, res)
		}
	}
	return out, nil
}

func (t *memoryTx) InsertReservation(ctx context.Context, res Reservation) (int64, error) {
	t.repo.nextID++
	res.ID = t.repo.nextID
	t.repo.reservations[res.ID] = res
	return res.ID, nil
}

func (t *memoryTx) GetReservationForUpdate(ctx context.Context, id int64) (Reservation, error) {
	res, ok := t.repo.reservations[id]
	if !ok {
		return Reservation{}, ErrNotFound
	}
	return res, nil
}

func (t *memoryTx) SumOutstanding(ctx context.Context, productID int64) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, res := range t.repo.reservations {
		if res.ProductID == productID && res.Status == StatusActive {
			sum = sum.Add(res.Outstanding())
		}
	}
	return sum, nil
}

func (t *memoryTx) UpdateReservation(ctx context.Context, id int64, consumed decimal.Decimal, status Status) error {
	res, ok := t.repo.reservations[id]
	if !ok {
		return ErrNotFound
	}
	res.QuantityConsumed = consumed
	res.Status = status
	res.UpdatedAt = time.Now().UTC()
	t.repo.reservations[id] = res
	return nil
}

type countingRecorder struct {
	mu    sync.Mutex
	sales int
}

func (c *countingRecorder) RecordPosting(txType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if txType == string(inventory.TransactionTypeSale) {
		c.sales++
	}
}

func (c *countingRecorder) RecordNegativeBalance(int64) {}

func qty(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func newTestService() (*Service, *inventorytest.Store, *countingRecorder) {
	stock := inventorytest.New()
	rec := &countingRecorder{}
	return NewService(newMemoryRepo(stock), nil, rec, nil), stock, rec
}

func TestReserveRespectsUnreservedStock(t *testing.T) {
	svc, stock, _ := newTestService()
	stock.Seed(5, qty(10))
	ctx := context.Background()

	first, err := svc.Reserve(ctx, 5, 900, qty(6))
	require.NoError(t, err)
	require.Equal(t, StatusActive, first.Status)

	_, err = svc.Reserve(ctx, 5, 901, qty(5))
	require.ErrorIs(t, err, ErrInsufficientStock)
	require.ErrorContains(t, err, "4 available")

	_, err = svc.Reserve(ctx, 5, 901, qty(4))
	require.NoError(t, err)

	onHand, _ := stock.Quantity(5)
	require.True(t, onHand.Equal(qty(10)), "reserving never moves stock")
	require.Len(t, stock.Transactions(5), 1)
}

func TestReserveValidation(t *testing.T) {
	svc, stock, _ := newTestService()
	stock.Seed(5, qty(10))
	ctx := context.Background()

	_, err := svc.Reserve(ctx, 5, 900, qty(0))
	require.ErrorIs(t, err, ErrInvalidQuantity)
	_, err = svc.Reserve(ctx, 0, 900, qty(1))
	require.ErrorIs(t, err, ErrValidation)
	_, err = svc.Reserve(ctx, 6, 900, qty(1))
	require.ErrorIs(t, err, inventory.ErrBalanceNotFound)
}

func TestReleaseFreesStock(t *testing.T) {
	svc, stock, _ := newTestService()
	stock.Seed(5, qty(10))
	ctx := context.Background()

	res, err := svc.Reserve(ctx, 5, 900, qty(10))
	require.NoError(t, err)
	released, err := svc.Release(ctx, res.ID)
	require.NoError(t, err)
	require.Equal(t, StatusReleased, released.Status)

	_, err = svc.Release(ctx, res.ID)
	require.ErrorIs(t, err, ErrInvalidState)
	_, err = svc.Reserve(ctx, 5, 901, qty(10))
	require.NoError(t, err)
	require.Len(t, stock.Transactions(5), 1)
}

func TestConsumePostsSales(t *testing.T) {
	svc, stock, rec := newTestService()
	stock.Seed(5, qty(10))
	ctx := context.Background()

	res, err := svc.Reserve(ctx, 5, 900, qty(6))
	require.NoError(t, err)

	out, err := svc.Consume(ctx, res.ID, qty(4))
	require.NoError(t, err)
	require.Equal(t, StatusActive, out.Reservation.Status)
	require.True(t, out.QuantityOnHand.Equal(qty(6)))

	_, err = svc.Consume(ctx, res.ID, qty(3))
	require.ErrorIs(t, err, ErrExceedsReserved)

	out, err = svc.Consume(ctx, res.ID, qty(2))
	require.NoError(t, err)
	require.Equal(t, StatusConsumed, out.Reservation.Status)
	require.True(t, out.Reservation.QuantityConsumed.Equal(qty(6)))

	_, err = svc.Consume(ctx, res.ID, qty(1))
	require.ErrorIs(t, err, ErrInvalidState)

	onHand, _ := stock.Quantity(5)
	require.True(t, onHand.Equal(qty(4)))
	require.True(t, stock.LedgerSum(5).Equal(onHand))
	require.Equal(t, 2, rec.sales)

	// Consumed stock no longer counts as reserved.
	_, err = svc.Reserve(ctx, 5, 901, qty(4))
	require.NoError(t, err)
}

func TestConcurrentReservationsNeverOversubscribe(t *testing.T) {
	svc, stock, _ := newTestService()
	stock.Seed(5, qty(10))
	ctx := context.Background()

	var (
		mu      sync.Mutex
		granted int
	)
	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			if _, err := svc.Reserve(ctx, 5, int64(1000+i), qty(3)); err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.Equal(t, 3, granted)
}
