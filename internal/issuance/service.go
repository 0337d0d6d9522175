package issuance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPending(ctx context.Context, id int64) (Pending, error)
	ListIssuancesByPending(ctx context.Context, pendingID int64) ([]Issuance, error)
}

// TxRepository is the unit of work for issuances.
type TxRepository interface {
	inventory.TxStore
	InsertIssuance(ctx context.Context, issuance Issuance) (int64, error)
	InsertPending(ctx context.Context, pending Pending) (int64, error)
	InsertPendingItem(ctx context.Context, item PendingItem) (int64, error)
	GetPendingForUpdate(ctx context.Context, id int64) (Pending, error)
	UpdatePendingStatus(ctx context.Context, id int64, status PendingStatus, at time.Time) error
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service issues stock directly or through picking lists.
type Service struct {
	repo    RepositoryPort
	audit   AuditPort
	metrics inventory.Recorder
	logger  *slog.Logger
	now     func() time.Time
}

// NewService constructs issuance service.
func NewService(repo RepositoryPort, audit AuditPort, metrics inventory.Recorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, metrics: metrics, logger: logger, now: time.Now}
}

// DirectInput describes a one-off issue.
type DirectInput struct {
	ComponentID       int64
	Quantity          decimal.Decimal
	ExternalReference string
	Category          Category
	OrderID           int64
	When              time.Time
}

// IssueResult reports one applied issue. Negative flags a balance driven
// below zero; the issue still succeeded.
type IssueResult struct {
	Issuance       Issuance
	QuantityOnHand decimal.Decimal
	Negative       bool
}

// PendingLine is one requested component of a picking list.
type PendingLine struct {
	ComponentID int64
	Quantity    decimal.Decimal
}

// PendingInput describes a picking list to stage.
type PendingInput struct {
	ExternalReference string
	Category          Category
	Lines             []PendingLine
}

// CompleteResult reports a committed picking list.
type CompleteResult struct {
	Pending Pending
	Issues  []IssueResult
}

// IssueDirect consumes stock from an existing balance row. A missing row is
// an error; it is never created here.
func (s *Service) IssueDirect(ctx context.Context, input DirectInput) (IssueResult, error) {
	ref, category, err := normalise(input.ExternalReference, input.Category)
	if err != nil {
		return IssueResult{}, err
	}
	if input.ComponentID <= 0 {
		return IssueResult{}, fmt.Errorf("%w: component is required", ErrValidation)
	}
	if !input.Quantity.IsPositive() {
		return IssueResult{}, ErrInvalidQuantity
	}
	when := input.When
	if when.IsZero() {
		when = s.now().UTC()
	}

	var result IssueResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetBalanceForUpdate(ctx, input.ComponentID); err != nil {
			if errors.Is(err, inventory.ErrBalanceNotFound) {
				return missingBalances([]int64{input.ComponentID})
			}
			return err
		}
		var err error
		result, err = issue(ctx, tx, Issuance{
			ComponentID:       input.ComponentID,
			Quantity:          input.Quantity,
			OrderID:           input.OrderID,
			ExternalReference: ref,
			Category:          category,
			IssuedAt:          when,
		})
		return err
	})
	if err != nil {
		return IssueResult{}, err
	}

	s.observe(result)
	s.recordAudit(ctx, "STOCK_ISSUE", "stock_issuance", result.Issuance.ID, map[string]any{
		"component_id":       input.ComponentID,
		"quantity":           input.Quantity.String(),
		"external_reference": ref,
		"negative":           result.Negative,
	})
	return result, nil
}

// CreatePending stages a picking list after checking every component has a
// balance row. Nothing is stored when any is missing.
func (s *Service) CreatePending(ctx context.Context, input PendingInput) (Pending, error) {
	ref, category, err := normalise(input.ExternalReference, input.Category)
	if err != nil {
		return Pending{}, err
	}
	if len(input.Lines) == 0 {
		return Pending{}, fmt.Errorf("%w: picking list has no lines", ErrValidation)
	}
	for _, line := range input.Lines {
		if line.ComponentID <= 0 {
			return Pending{}, fmt.Errorf("%w: component is required", ErrValidation)
		}
		if !line.Quantity.IsPositive() {
			return Pending{}, fmt.Errorf("component %d: %w", line.ComponentID, ErrInvalidQuantity)
		}
	}

	pending := Pending{
		ExternalReference: ref,
		Category:          category,
		Status:            PendingStatusPending,
		CreatedAt:         s.now().UTC(),
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := requireBalances(ctx, tx, componentIDs(input.Lines)); err != nil {
			return err
		}
		id, err := tx.InsertPending(ctx, pending)
		if err != nil {
			return err
		}
		pending.ID = id
		pending.Items = pending.Items[:0]
		for _, line := range input.Lines {
			item := PendingItem{PendingID: id, ComponentID: line.ComponentID, Quantity: line.Quantity}
			if item.ID, err = tx.InsertPendingItem(ctx, item); err != nil {
				return err
			}
			pending.Items = append(pending.Items, item)
		}
		return nil
	})
	if err != nil {
		return Pending{}, err
	}
	s.recordAudit(ctx, "PICKING_LIST_CREATE", "pending_stock_issuance", pending.ID, map[string]any{
		"external_reference": ref,
		"lines":              len(pending.Items),
	})
	return pending, nil
}

// CompletePending issues every line of a pending picking list and marks it
// issued, all in one unit of work.
func (s *Service) CompletePending(ctx context.Context, id int64) (CompleteResult, error) {
	var result CompleteResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		result = CompleteResult{}
		pending, err := lockPending(ctx, tx, id)
		if err != nil {
			return err
		}

		items := append([]PendingItem(nil), pending.Items...)
		// Balance rows are locked in ascending component id.
		sort.SliceStable(items, func(i, j int) bool { return items[i].ComponentID < items[j].ComponentID })
		ids := make([]int64, 0, len(items))
		for _, item := range items {
			ids = append(ids, item.ComponentID)
		}
		if err := requireBalances(ctx, tx, ids); err != nil {
			return err
		}

		now := s.now().UTC()
		for _, item := range items {
			res, err := issue(ctx, tx, Issuance{
				ComponentID:       item.ComponentID,
				Quantity:          item.Quantity,
				ExternalReference: pending.ExternalReference,
				Category:          pending.Category,
				PendingID:         pending.ID,
				IssuedAt:          now,
			})
			if err != nil {
				return fmt.Errorf("component %d: %w", item.ComponentID, err)
			}
			result.Issues = append(result.Issues, res)
		}
		if err := tx.UpdatePendingStatus(ctx, pending.ID, PendingStatusIssued, now); err != nil {
			return err
		}
		pending.Status = PendingStatusIssued
		pending.IssuedAt = &now
		result.Pending = pending
		return nil
	})
	if err != nil {
		return CompleteResult{}, err
	}

	s.observe(result.Issues...)
	negatives := 0
	for _, res := range result.Issues {
		if res.Negative {
			negatives++
		}
	}
	s.recordAudit(ctx, "PICKING_LIST_ISSUE", "pending_stock_issuance", id, map[string]any{
		"lines":     len(result.Issues),
		"negatives": negatives,
	})
	return result, nil
}

// CancelPending closes a pending picking list without touching stock.
func (s *Service) CancelPending(ctx context.Context, id int64) (Pending, error) {
	var pending Pending
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		pending, err = lockPending(ctx, tx, id)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		if err := tx.UpdatePendingStatus(ctx, id, PendingStatusCancelled, now); err != nil {
			return err
		}
		pending.Status = PendingStatusCancelled
		pending.CancelledAt = &now
		return nil
	})
	if err != nil {
		return Pending{}, err
	}
	s.recordAudit(ctx, "PICKING_LIST_CANCEL", "pending_stock_issuance", id, nil)
	return pending, nil
}

// GetPending returns a picking list with its lines and, once issued, the
// issuances it produced.
func (s *Service) GetPending(ctx context.Context, id int64) (Pending, []Issuance, error) {
	pending, err := s.repo.GetPending(ctx, id)
	if err != nil {
		return Pending{}, nil, err
	}
	if pending.Status != PendingStatusIssued {
		return pending, nil, nil
	}
	issued, err := s.repo.ListIssuancesByPending(ctx, id)
	if err != nil {
		return Pending{}, nil, err
	}
	return pending, issued, nil
}

func lockPending(ctx context.Context, tx TxRepository, id int64) (Pending, error) {
	pending, err := tx.GetPendingForUpdate(ctx, id)
	if err != nil {
		return Pending{}, err
	}
	if pending.Status != PendingStatusPending {
		return Pending{}, fmt.Errorf("%w: picking list %d is %s", ErrInvalidState, id, pending.Status)
	}
	return pending, nil
}

func issue(ctx context.Context, tx TxRepository, rec Issuance) (IssueResult, error) {
	id, err := tx.InsertIssuance(ctx, rec)
	if err != nil {
		return IssueResult{}, err
	}
	rec.ID = id
	posting, err := inventory.Post(ctx, tx, inventory.Movement{
		ComponentID: rec.ComponentID,
		Quantity:    rec.Quantity.Neg(),
		Type:        inventory.TransactionTypeIssue,
		Reason:      fmt.Sprintf("%s: %s", rec.Category, rec.ExternalReference),
		PostedAt:    rec.IssuedAt,
		IssuanceID:  id,
	})
	if err != nil {
		return IssueResult{}, err
	}
	rec.TransactionID = posting.TransactionID
	return IssueResult{Issuance: rec, QuantityOnHand: posting.QuantityOnHand, Negative: posting.Negative}, nil
}

func requireBalances(ctx context.Context, tx TxRepository, ids []int64) error {
	var missing []int64
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if _, err := tx.GetBalanceForUpdate(ctx, id); err != nil {
			if errors.Is(err, inventory.ErrBalanceNotFound) {
				missing = append(missing, id)
				continue
			}
			return err
		}
	}
	if len(missing) > 0 {
		return missingBalances(missing)
	}
	return nil
}

func componentIDs(lines []PendingLine) []int64 {
	ids := make([]int64, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.ComponentID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func normalise(ref string, category Category) (string, Category, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", "", ErrReferenceRequired
	}
	if category == "" {
		category = CategoryProduction
	}
	if !category.IsValid() {
		return "", "", fmt.Errorf("%w: unknown category %q", ErrValidation, category)
	}
	return ref, category, nil
}

func (s *Service) observe(results ...IssueResult) {
	if s.metrics == nil {
		return
	}
	for _, res := range results {
		inventory.Observe(s.metrics, inventory.Posting{
			ComponentID: res.Issuance.ComponentID,
			Type:        inventory.TransactionTypeIssue,
			Negative:    res.Negative,
		})
	}
}

func (s *Service) recordAudit(ctx context.Context, action, entity string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{Action: action, Entity: entity, EntityID: fmt.Sprintf("%d", id), Meta: meta}); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
