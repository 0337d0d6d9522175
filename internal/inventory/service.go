package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetBalance(ctx context.Context, componentID int64) (Balance, error)
	ListBalances(ctx context.Context, after int64, limit int) ([]Balance, error)
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error)
	Reconcile(ctx context.Context, componentID int64) (Reconciliation, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Recorder receives ledger metrics. Implemented by observability.Metrics.
type Recorder interface {
	RecordPosting(txType string)
	RecordNegativeBalance(componentID int64)
}

// Observe reports committed postings to rec. A nil recorder is ignored.
func Observe(rec Recorder, postings ...Posting) {
	if rec == nil {
		return
	}
	for _, p := range postings {
		rec.RecordPosting(string(p.Type))
		if p.Negative {
			rec.RecordNegativeBalance(p.ComponentID)
		}
	}
}

// Service handles balance records and ledger queries.
type Service struct {
	repo    RepositoryPort
	audit   AuditPort
	metrics Recorder
	logger  *slog.Logger
}

// NewService builds inventory service.
func NewService(repo RepositoryPort, audit AuditPort, metrics Recorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, metrics: metrics, logger: logger}
}

// CreateBalance is the explicit "create inventory record" action. A non-zero
// opening quantity is written to the ledger as an adjustment so the balance
// always equals the sum of its deltas.
func (s *Service) CreateBalance(ctx context.Context, input CreateBalanceInput) (Balance, error) {
	if input.ComponentID <= 0 {
		return Balance{}, ErrInvalidMovement
	}
	if input.InitialQuantity.IsNegative() || input.ReorderLevel.IsNegative() {
		return Balance{}, ErrInvalidQuantity
	}

	var postings []Posting
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		created, err := tx.InsertBalance(ctx, Balance{
			ComponentID:    input.ComponentID,
			QuantityOnHand: decimal.Zero,
			ReorderLevel:   input.ReorderLevel,
			Location:       input.Location,
		})
		if err != nil {
			return err
		}
		if !created {
			return fmt.Errorf("%w: component %d", ErrBalanceExists, input.ComponentID)
		}
		if input.InitialQuantity.IsZero() {
			return nil
		}
		posting, err := Post(ctx, tx, Movement{
			ComponentID: input.ComponentID,
			Quantity:    input.InitialQuantity,
			Type:        TransactionTypeAdjustment,
			Reason:      "opening balance",
			PostedAt:    time.Now().UTC(),
		})
		if err != nil {
			return err
		}
		postings = append(postings, posting)
		return nil
	})
	if err != nil {
		return Balance{}, err
	}
	Observe(s.metrics, postings...)
	s.recordAudit(ctx, "BALANCE_CREATE", input.ComponentID, map[string]any{
		"initial_quantity": input.InitialQuantity.String(),
		"location":         input.Location,
	})
	return s.repo.GetBalance(ctx, input.ComponentID)
}

// GetBalance returns the current balance of a component.
func (s *Service) GetBalance(ctx context.Context, componentID int64) (Balance, error) {
	return s.repo.GetBalance(ctx, componentID)
}

// ListBalances returns one page of balance rows after the given component id.
func (s *Service) ListBalances(ctx context.Context, after int64, limit int) ([]Balance, error) {
	return s.repo.ListBalances(ctx, after, limit)
}

// ListTransactions returns the ledger history of a component.
func (s *Service) ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error) {
	if filter.ComponentID <= 0 {
		return nil, ErrInvalidMovement
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return nil, fmt.Errorf("%w: range end before start", ErrInvalidMovement)
	}
	return s.repo.ListTransactions(ctx, filter)
}

// Reconcile checks a component's balance against its ledger.
func (s *Service) Reconcile(ctx context.Context, componentID int64) (Reconciliation, error) {
	rec, err := s.repo.Reconcile(ctx, componentID)
	if err != nil {
		return Reconciliation{}, err
	}
	if !rec.Balanced() {
		s.logger.Warn("inventory ledger drift",
			slog.Int64("component_id", componentID),
			slog.String("on_hand", rec.QuantityOnHand.String()),
			slog.String("ledger_sum", rec.LedgerSum.String()))
	}
	return rec, nil
}

func (s *Service) recordAudit(ctx context.Context, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{Action: action, Entity: "inventory_balance", EntityID: fmt.Sprintf("%d", entityID), Meta: meta}); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
