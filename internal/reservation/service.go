package reservation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetReservation(ctx context.Context, id int64) (Reservation, error)
	ListByCustomerOrder(ctx context.Context, customerOrderID int64) ([]Reservation, error)
}

// TxRepository is the unit of work for reservations.
type TxRepository interface {
	inventory.TxStore
	InsertReservation(ctx context.Context, r Reservation) (int64, error)
	GetReservationForUpdate(ctx context.Context, id int64) (Reservation, error)
	SumOutstanding(ctx context.Context, productID int64) (decimal.Decimal, error)
	UpdateReservation(ctx context.Context, id int64, consumed decimal.Decimal, status Status) error
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service reserves, releases and consumes finished goods.
type Service struct {
	repo    RepositoryPort
	audit   AuditPort
	metrics inventory.Recorder
	logger  *slog.Logger
	now     func() time.Time
}

// NewService constructs reservation service.
func NewService(repo RepositoryPort, audit AuditPort, metrics inventory.Recorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, metrics: metrics, logger: logger, now: time.Now}
}

// ConsumeResult reports a consumption and the resulting stock.
type ConsumeResult struct {
	Reservation    Reservation
	QuantityOnHand decimal.Decimal
	Negative       bool
}

// Reserve earmarks qty of a product when enough unreserved stock is on hand.
// The balance row is locked so concurrent reservations cannot oversubscribe.
func (s *Service) Reserve(ctx context.Context, productID, customerOrderID int64, qty decimal.Decimal) (Reservation, error) {
	if productID <= 0 || customerOrderID <= 0 {
		return Reservation{}, fmt.Errorf("%w: product and customer order are required", ErrValidation)
	}
	if !qty.IsPositive() {
		return Reservation{}, ErrInvalidQuantity
	}

	var res Reservation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		balance, err := tx.GetBalanceForUpdate(ctx, productID)
		if err != nil {
			return err
		}
		outstanding, err := tx.SumOutstanding(ctx, productID)
		if err != nil {
			return err
		}
		available := balance.QuantityOnHand.Sub(outstanding)
		if qty.GreaterThan(available) {
			return fmt.Errorf("%w: %s available for product %d", ErrInsufficientStock, available, productID)
		}
		now := s.now().UTC()
		res = Reservation{
			ProductID:        productID,
			CustomerOrderID:  customerOrderID,
			QuantityReserved: qty,
			QuantityConsumed: decimal.Zero,
			Status:           StatusActive,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		res.ID, err = tx.InsertReservation(ctx, res)
		return err
	})
	if err != nil {
		return Reservation{}, err
	}
	s.recordAudit(ctx, "RESERVATION_CREATE", res.ID, map[string]any{
		"product_id":        productID,
		"customer_order_id": customerOrderID,
		"quantity":          qty.String(),
	})
	return res, nil
}

// Release frees an active reservation. Stock is not touched.
func (s *Service) Release(ctx context.Context, id int64) (Reservation, error) {
	var res Reservation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		if res, err = lockActive(ctx, tx, id); err != nil {
			return err
		}
		if err := tx.UpdateReservation(ctx, id, res.QuantityConsumed, StatusReleased); err != nil {
			return err
		}
		res.Status = StatusReleased
		res.UpdatedAt = s.now().UTC()
		return nil
	})
	if err != nil {
		return Reservation{}, err
	}
	s.recordAudit(ctx, "RESERVATION_RELEASE", id, nil)
	return res, nil
}

// Consume ships qty against a reservation and posts a sale to the ledger.
// A fully consumed reservation moves to consumed.
func (s *Service) Consume(ctx context.Context, id int64, qty decimal.Decimal) (ConsumeResult, error) {
	if !qty.IsPositive() {
		return ConsumeResult{}, ErrInvalidQuantity
	}
	var (
		result  ConsumeResult
		posting inventory.Posting
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		res, err := lockActive(ctx, tx, id)
		if err != nil {
			return err
		}
		if qty.GreaterThan(res.Outstanding()) {
			return fmt.Errorf("%w: %s outstanding on reservation %d", ErrExceedsReserved, res.Outstanding(), id)
		}
		now := s.now().UTC()
		posting, err = inventory.Post(ctx, tx, inventory.Movement{
			ComponentID: res.ProductID,
			Quantity:    qty.Neg(),
			Type:        inventory.TransactionTypeSale,
			Reason:      fmt.Sprintf("customer order %d reservation %d", res.CustomerOrderID, res.ID),
			PostedAt:    now,
		})
		if err != nil {
			return err
		}
		res.QuantityConsumed = res.QuantityConsumed.Add(qty)
		if !res.Outstanding().IsPositive() {
			res.Status = StatusConsumed
		}
		if err := tx.UpdateReservation(ctx, id, res.QuantityConsumed, res.Status); err != nil {
			return err
		}
		res.UpdatedAt = now
		result = ConsumeResult{Reservation: res, QuantityOnHand: posting.QuantityOnHand, Negative: posting.Negative}
		return nil
	})
	if err != nil {
		return ConsumeResult{}, err
	}
	inventory.Observe(s.metrics, posting)
	s.recordAudit(ctx, "RESERVATION_CONSUME", id, map[string]any{
		"quantity": qty.String(),
		"status":   string(result.Reservation.Status),
	})
	return result, nil
}

// Get returns one reservation.
func (s *Service) Get(ctx context.Context, id int64) (Reservation, error) {
	return s.repo.GetReservation(ctx, id)
}

// ListByCustomerOrder returns reservations of a customer order.
func (s *Service) ListByCustomerOrder(ctx context.Context, customerOrderID int64) ([]Reservation, error) {
	return s.repo.ListByCustomerOrder(ctx, customerOrderID)
}

func lockActive(ctx context.Context, tx TxRepository, id int64) (Reservation, error) {
	res, err := tx.GetReservationForUpdate(ctx, id)
	if err != nil {
		return Reservation{}, err
	}
	if res.Status != StatusActive {
		return Reservation{}, fmt.Errorf("%w: reservation %d is %s", ErrInvalidState, id, res.Status)
	}
	return res, nil
}

func (s *Service) recordAudit(ctx context.Context, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{Action: action, Entity: "product_reservation", EntityID: fmt.Sprintf("%d", id), Meta: meta}); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
