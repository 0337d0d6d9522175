package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	"github.com/odyssey-erp/odyssey-stock/internal/inventory/inventorytest"
	jobmetrics "github.com/odyssey-erp/odyssey-stock/internal/jobs"
	"github.com/odyssey-erp/odyssey-stock/internal/procurement"
)

func returnEvent(number string) procurement.ReturnRecordedEvent {
	return procurement.ReturnRecordedEvent{
		GoodsReturnNumber: number,
		Type:              procurement.ReturnTypeRejection,
		OrderIDs:          []int64{3},
		Quantity:          decimal.NewFromInt(2),
		RecordedAt:        time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestClientEnqueuesReturnNoticeOnce(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewClient(asynq.RedisClientOpt{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	require.NoError(t, client.EnqueueReturnNotice(ctx, returnEvent("GRN-25-0001")))
	require.NoError(t, client.EnqueueReturnNotice(ctx, returnEvent("GRN-25-0001")))
	require.NoError(t, client.EnqueueReturnNotice(ctx, returnEvent("GRN-25-0002")))

	pending, err := mr.List("asynq:{default}:pending")
	require.NoError(t, err)
	require.Len(t, pending, 2)

	require.Error(t, client.EnqueueReturnNotice(ctx, returnEvent("")))
}

type fakeReturns struct {
	mu      sync.Mutex
	returns map[string][]procurement.Return
	updates []procurement.EmailUpdate
}

func (f *fakeReturns) ReturnsByGRN(ctx context.Context, number string) ([]procurement.Return, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rows, ok := f.returns[number]
	if !ok {
		return nil, procurement.ErrNotFound
	}
	return rows, nil
}

func (f *fakeReturns) RecordEmail(ctx context.Context, number string, update procurement.EmailUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, update)
	rows := f.returns[number]
	for i := range rows {
		rows[i].EmailStatus = update.Status
		rows[i].EmailMessageID = update.MessageID
	}
	return nil
}

type stubMailer struct {
	err  error
	sent []Message
}

func (m *stubMailer) Send(ctx context.Context, msg Message) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.sent = append(m.sent, msg)
	return "msg-1", nil
}

func noticeTask(t *testing.T, number string) *asynq.Task {
	t.Helper()
	task, err := NewReturnNoticeTask(returnEvent(number))
	require.NoError(t, err)
	return task
}

func TestReturnNoticeJobSendsAndRecords(t *testing.T) {
	store := &fakeReturns{returns: map[string][]procurement.Return{
		"GRN-25-0007": {
			{OrderID: 9, ComponentID: 4, Quantity: decimal.NewFromInt(1), Type: procurement.ReturnTypeLaterReturn, Reason: "cracked"},
			{OrderID: 2, ComponentID: 5, Quantity: decimal.NewFromInt(3), Type: procurement.ReturnTypeLaterReturn},
		},
	}}
	mailer := &stubMailer{}
	job := NewReturnNoticeJob(store, mailer, "stores@example.com", nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	require.NoError(t, job.Handle(context.Background(), noticeTask(t, "GRN-25-0007")))
	require.Len(t, mailer.sent, 1)
	require.Equal(t, "Goods return GRN-25-0007", mailer.sent[0].Subject)
	require.Less(t, strings.Index(mailer.sent[0].Body, "order 2 "), strings.Index(mailer.sent[0].Body, "order 9 "))
	require.Contains(t, mailer.sent[0].Body, "(cracked)")
	require.Equal(t, []procurement.EmailUpdate{{Status: procurement.EmailSent, MessageID: "msg-1"}}, store.updates)

	// A redelivered task does not mail twice.
	require.NoError(t, job.Handle(context.Background(), noticeTask(t, "GRN-25-0007")))
	require.Len(t, mailer.sent, 1)
}

func TestReturnNoticeJobFailures(t *testing.T) {
	store := &fakeReturns{returns: map[string][]procurement.Return{
		"GRN-25-0008": {{OrderID: 1, ComponentID: 4, Quantity: decimal.NewFromInt(1)}},
	}}
	relayDown := errors.New("relay down")
	job := NewReturnNoticeJob(store, &stubMailer{err: relayDown}, "", nil, nil)

	err := job.Handle(context.Background(), noticeTask(t, "GRN-25-0008"))
	require.ErrorIs(t, err, relayDown)
	require.Equal(t, procurement.EmailFailed, store.updates[0].Status)

	err = job.Handle(context.Background(), noticeTask(t, "GRN-25-0404"))
	require.ErrorIs(t, err, asynq.SkipRetry)

	err = job.Handle(context.Background(), asynq.NewTask(TaskReturnNotice, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestReconcileJobReportsDrift(t *testing.T) {
	stock := inventorytest.New()
	stock.Seed(1, decimal.NewFromInt(10))
	stock.Seed(2, decimal.NewFromInt(4))
	stock.Seed(3, decimal.Zero)
	// A write that bypasses the ledger.
	require.NoError(t, stock.UpdateBalanceQuantity(context.Background(), 2, decimal.NewFromInt(7)))

	drift := &driftRecorder{values: map[int64]float64{}}
	job := NewReconcileJob(stock, drift, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	drifted, err := job.Run(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, drifted, 1)
	require.Equal(t, int64(2), drifted[0].ComponentID)
	require.InDelta(t, 3, drift.values[2], 0)
	require.InDelta(t, 0, drift.values[1], 0)
	require.Len(t, drift.values, 3)

	body, err := json.Marshal(ReconcilePayload{ComponentID: 1})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskInventoryReconcile, body)))
}

type driftRecorder struct {
	mu     sync.Mutex
	values map[int64]float64
}

func (d *driftRecorder) RecordDrift(componentID int64, drift float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.values[componentID] = drift
}

type pagedLedger struct {
	*inventorytest.Store
	mu    sync.Mutex
	pages []int64
}

func (l *pagedLedger) ListBalances(ctx context.Context, after int64, limit int) ([]inventory.Balance, error) {
	l.mu.Lock()
	l.pages = append(l.pages, after)
	l.mu.Unlock()
	return l.Store.ListBalances(ctx, after, limit)
}

func TestReconcileJobWalksEveryPage(t *testing.T) {
	stock := inventorytest.New()
	for id := int64(1); id <= 5; id++ {
		stock.Seed(id, decimal.NewFromInt(id))
	}
	// The last component sits on the final, short page.
	require.NoError(t, stock.UpdateBalanceQuantity(context.Background(), 5, decimal.NewFromInt(1)))

	ledger := &pagedLedger{Store: stock}
	drift := &driftRecorder{values: map[int64]float64{}}
	job := NewReconcileJob(ledger, drift, nil, nil)
	job.PageSize = 2

	drifted, err := job.Run(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, drifted, 1)
	require.Equal(t, int64(5), drifted[0].ComponentID)
	require.Len(t, drift.values, 5)
	require.Equal(t, []int64{0, 2, 4}, ledger.pages)
}

func TestReconcileJobStopsAfterFullEmptyPage(t *testing.T) {
	stock := inventorytest.New()
	for id := int64(1); id <= 4; id++ {
		stock.Seed(id, decimal.Zero)
	}
	ledger := &pagedLedger{Store: stock}
	job := NewReconcileJob(ledger, nil, nil, nil)
	job.PageSize = 2

	drifted, err := job.Run(context.Background(), 0)
	require.NoError(t, err)
	require.Empty(t, drifted)
	require.Equal(t, []int64{0, 2, 4}, ledger.pages)
}
