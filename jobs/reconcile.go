package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	jobmetrics "github.com/odyssey-erp/odyssey-stock/internal/jobs"
)

const (
	// TaskInventoryReconcile compares balances against their ledger sums.
	TaskInventoryReconcile = "inventory:reconcile"

	reconcileBatch       = 5000
	reconcileConcurrency = 8
)

// ReconcilePayload narrows a run to one component; zero checks everything.
type ReconcilePayload struct {
	ComponentID int64 `json:"component_id,omitempty"`
}

// NewReconcileTask builds a reconcile task.
func NewReconcileTask(componentID int64) (*asynq.Task, error) {
	body, err := json.Marshal(ReconcilePayload{ComponentID: componentID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskInventoryReconcile, body, asynq.Queue(QueueDefault), asynq.MaxRetry(1)), nil
}

// Ledger is the inventory surface the reconcile job reads.
type Ledger interface {
	ListBalances(ctx context.Context, after int64, limit int) ([]inventory.Balance, error)
	Reconcile(ctx context.Context, componentID int64) (inventory.Reconciliation, error)
}

// DriftRecorder publishes per-component drift.
type DriftRecorder interface {
	RecordDrift(componentID int64, drift float64)
}

// ReconcileJob checks that every balance equals the sum of its ledger deltas.
type ReconcileJob struct {
	Ledger  Ledger
	Drift   DriftRecorder
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	// PageSize bounds each balance listing; zero means reconcileBatch.
	PageSize int
}

// NewReconcileJob constructs the job handler.
func NewReconcileJob(ledger Ledger, drift DriftRecorder, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReconcileJob {
	return &ReconcileJob{Ledger: ledger, Drift: drift, Logger: logger, Metrics: metrics}
}

// Handle processes TaskInventoryReconcile tasks.
func (j *ReconcileJob) Handle(ctx context.Context, task *asynq.Task) error {
	var payload ReconcilePayload
	if len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	_, err := j.Run(ctx, payload.ComponentID)
	return err
}

// Run reconciles one component, or all when componentID is zero, and returns
// the components that drifted.
func (j *ReconcileJob) Run(ctx context.Context, componentID int64) (drifted []inventory.Reconciliation, err error) {
	if j == nil || j.Ledger == nil {
		return nil, errors.New("reconcile: dependencies not configured")
	}
	tracker := j.Metrics.Track(TaskInventoryReconcile)
	defer func() { err = tracker.End(err) }()

	ids := []int64{componentID}
	if componentID == 0 {
		if ids, err = j.componentIDs(ctx); err != nil {
			return nil, err
		}
	}

	results := make([]inventory.Reconciliation, len(ids))
	var balanced atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(reconcileConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			rec, err := j.Ledger.Reconcile(gctx, id)
			if err != nil {
				return err
			}
			results[i] = rec
			if j.Drift != nil {
				j.Drift.RecordDrift(id, rec.Drift().InexactFloat64())
			}
			if rec.Balanced() {
				balanced.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, rec := range results {
		if !rec.Balanced() {
			drifted = append(drifted, rec)
		}
	}
	j.Metrics.AddReconciled(int(balanced.Load()), len(drifted))
	j.log().Info("inventory reconciled",
		slog.Int("components", len(ids)),
		slog.Int("drifted", len(drifted)))
	return drifted, nil
}

// componentIDs walks every balance row page by page, keyed on component id.
func (j *ReconcileJob) componentIDs(ctx context.Context) ([]int64, error) {
	size := j.PageSize
	if size <= 0 {
		size = reconcileBatch
	}
	var (
		ids   []int64
		after int64
	)
	for {
		page, err := j.Ledger.ListBalances(ctx, after, size)
		if err != nil {
			return nil, err
		}
		for _, b := range page {
			ids = append(ids, b.ComponentID)
		}
		if len(page) < size {
			return ids, nil
		}
		after = page[len(page)-1].ComponentID
	}
}

func (j *ReconcileJob) log() *slog.Logger {
	if j.Logger == nil {
		return slog.Default()
	}
	return j.Logger
}
