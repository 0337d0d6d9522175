package reservation

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
)

// Repository provides PostgreSQL persistence for reservations.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	inventory.TxStore
	tx pgx.Tx
}

// WithTx runs fn inside a ledger transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, nil, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{TxStore: inventory.NewTxStore(tx), tx: tx})
	})
}

const reservationColumns = `id, product_id, customer_order_id, quantity_reserved, quantity_consumed, status, created_at, updated_at`

func scanReservation(row pgx.Row) (Reservation, error) {
	var (
		r      Reservation
		status string
	)
	err := row.Scan(&r.ID, &r.ProductID, &r.CustomerOrderID, &r.QuantityReserved, &r.QuantityConsumed, &status, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Reservation{}, ErrNotFound
	}
	if err != nil {
		return Reservation{}, err
	}
	r.Status = Status(status)
	return r, nil
}

// GetReservation loads a reservation without locking it.
func (r *Repository) GetReservation(ctx context.Context, id int64) (Reservation, error) {
	return scanReservation(r.pool.QueryRow(ctx, `SELECT `+reservationColumns+` FROM product_reservations WHERE id = $1`, id))
}

// ListByCustomerOrder returns reservations of a customer order.
func (r *Repository) ListByCustomerOrder(ctx context.Context, customerOrderID int64) ([]Reservation, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+reservationColumns+` FROM product_reservations WHERE customer_order_id = $1 ORDER BY id`, customerOrderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func (t *txRepo) InsertReservation(ctx context.Context, r Reservation) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO product_reservations
    (product_id, customer_order_id, quantity_reserved, quantity_consumed, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		r.ProductID, r.CustomerOrderID, r.QuantityReserved, r.QuantityConsumed, string(r.Status), r.CreatedAt, r.UpdatedAt).Scan(&id)
	return id, err
}

func (t *txRepo) GetReservationForUpdate(ctx context.Context, id int64) (Reservation, error) {
	return scanReservation(t.tx.QueryRow(ctx, `SELECT `+reservationColumns+` FROM product_reservations WHERE id = $1 FOR UPDATE`, id))
}

func (t *txRepo) SumOutstanding(ctx context.Context, productID int64) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := t.tx.QueryRow(ctx, `SELECT COALESCE(SUM(quantity_reserved - quantity_consumed), 0)
FROM product_reservations WHERE product_id = $1 AND status = 'active'`, productID).Scan(&sum)
	return sum, err
}

func (t *txRepo) UpdateReservation(ctx context.Context, id int64, consumed decimal.Decimal, status Status) error {
	tag, err := t.tx.Exec(ctx, `UPDATE product_reservations SET quantity_consumed = $2, status = $3, updated_at = NOW() WHERE id = $1`,
		id, consumed, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
