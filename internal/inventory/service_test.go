package inventory_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	"github.com/odyssey-erp/odyssey-stock/internal/inventory/inventorytest"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

type recordingAudit struct {
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

type countingRecorder struct {
	postings map[string]int
	negative int
}

func (r *countingRecorder) RecordPosting(txType string) {
	if r.postings == nil {
		r.postings = make(map[string]int)
	}
	r.postings[txType]++
}

func (r *countingRecorder) RecordNegativeBalance(int64) { r.negative++ }

func newTestService(store *inventorytest.Store) (*inventory.Service, *recordingAudit, *countingRecorder) {
	audit := &recordingAudit{}
	rec := &countingRecorder{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return inventory.NewService(store, audit, rec, logger), audit, rec
}

func TestCreateBalanceWritesOpeningAdjustment(t *testing.T) {
	store := inventorytest.New()
	svc, audit, rec := newTestService(store)

	balance, err := svc.CreateBalance(context.Background(), inventory.CreateBalanceInput{
		ComponentID:     5,
		InitialQuantity: dec(40),
		ReorderLevel:    dec(10),
		Location:        "A-01",
	})
	require.NoError(t, err)
	require.True(t, balance.QuantityOnHand.Equal(dec(40)))
	require.Equal(t, "A-01", balance.Location)

	txs := store.Transactions(5)
	require.Len(t, txs, 1)
	require.Equal(t, inventory.TransactionTypeAdjustment, txs[0].Type)
	require.Equal(t, 1, rec.postings["adjustment"])
	require.Len(t, audit.logs, 1)
	require.Equal(t, "BALANCE_CREATE", audit.logs[0].Action)

	reconciled, err := svc.Reconcile(context.Background(), 5)
	require.NoError(t, err)
	require.True(t, reconciled.Balanced())
}

func TestCreateBalanceZeroOpeningHasNoLedgerRow(t *testing.T) {
	store := inventorytest.New()
	svc, _, _ := newTestService(store)

	_, err := svc.CreateBalance(context.Background(), inventory.CreateBalanceInput{ComponentID: 5})
	require.NoError(t, err)
	require.Empty(t, store.Transactions(5))
}

func TestCreateBalanceRejectsDuplicate(t *testing.T) {
	store := inventorytest.New()
	store.Seed(5, dec(1))
	svc, audit, _ := newTestService(store)

	_, err := svc.CreateBalance(context.Background(), inventory.CreateBalanceInput{ComponentID: 5, InitialQuantity: dec(3)})
	require.ErrorIs(t, err, inventory.ErrBalanceExists)
	qty, _ := store.Quantity(5)
	require.True(t, qty.Equal(dec(1)))
	require.Empty(t, audit.logs)
}

func TestCreateBalanceRejectsNegativeOpening(t *testing.T) {
	svc, _, _ := newTestService(inventorytest.New())

	_, err := svc.CreateBalance(context.Background(), inventory.CreateBalanceInput{ComponentID: 5, InitialQuantity: dec(-1)})
	require.ErrorIs(t, err, inventory.ErrInvalidQuantity)
}

func TestListTransactionsRequiresComponent(t *testing.T) {
	svc, _, _ := newTestService(inventorytest.New())

	_, err := svc.ListTransactions(context.Background(), inventory.TransactionFilter{})
	require.ErrorIs(t, err, inventory.ErrInvalidMovement)
}

func TestObserveCountsNegativeAdvisories(t *testing.T) {
	rec := &countingRecorder{}
	inventory.Observe(rec,
		inventory.Posting{Type: inventory.TransactionTypeIssue, Negative: true},
		inventory.Posting{Type: inventory.TransactionTypePurchase},
	)
	require.Equal(t, 1, rec.negative)
	require.Equal(t, 1, rec.postings["issue"])
	inventory.Observe(nil, inventory.Posting{})
}

func TestListBalancesPagesAfterCursor(t *testing.T) {
	store := inventorytest.New()
	for _, id := range []int64{4, 1, 9, 7} {
		store.Seed(id, dec(1))
	}
	svc, _, _ := newTestService(store)
	ctx := context.Background()

	first, err := svc.ListBalances(ctx, 0, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	require.Equal(t, int64(1), first[0].ComponentID)
	require.Equal(t, int64(4), first[1].ComponentID)

	rest, err := svc.ListBalances(ctx, first[1].ComponentID, 2)
	require.NoError(t, err)
	require.Len(t, rest, 2)
	require.Equal(t, int64(7), rest[0].ComponentID)
	require.Equal(t, int64(9), rest[1].ComponentID)

	tail, err := svc.ListBalances(ctx, 9, 2)
	require.NoError(t, err)
	require.Empty(t, tail)
}
