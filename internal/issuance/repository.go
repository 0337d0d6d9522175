package issuance

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
)

// Repository provides PostgreSQL persistence for issuances.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
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

func loadPending(ctx context.Context, q queryer, id int64, lock bool) (Pending, error) {
	sql := `SELECT id, external_reference, issue_category, status, created_at, issued_at, cancelled_at
FROM pending_stock_issuances WHERE id = $1`
	if lock {
		sql += ` FOR UPDATE`
	}
	var (
		p        Pending
		category string
		status   string
	)
	err := q.QueryRow(ctx, sql, id).Scan(&p.ID, &p.ExternalReference, &category, &status, &p.CreatedAt, &p.IssuedAt, &p.CancelledAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Pending{}, ErrNotFound
	}
	if err != nil {
		return Pending{}, err
	}
	p.Category = Category(category)
	p.Status = PendingStatus(status)

	rows, err := q.Query(ctx, `SELECT id, pending_id, component_id, quantity
FROM pending_stock_issuance_items WHERE pending_id = $1 ORDER BY id`, id)
	if err != nil {
		return Pending{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var item PendingItem
		if err := rows.Scan(&item.ID, &item.PendingID, &item.ComponentID, &item.Quantity); err != nil {
			return Pending{}, err
		}
		p.Items = append(p.Items, item)
	}
	return p, rows.Err()
}

// GetPending loads a picking list with its items.
func (r *Repository) GetPending(ctx context.Context, id int64) (Pending, error) {
	return loadPending(ctx, r.pool, id, false)
}

// ListIssuancesByPending returns the issuances produced by a picking list.
func (r *Repository) ListIssuancesByPending(ctx context.Context, pendingID int64) ([]Issuance, error) {
	rows, err := r.pool.Query(ctx, `SELECT i.id, i.component_id, i.quantity, COALESCE(i.order_id, 0), i.external_reference,
       i.issue_category, COALESCE(i.pending_id, 0), i.issued_at, COALESCE(t.id, 0)
FROM stock_issuances i
LEFT JOIN inventory_transactions t ON t.issuance_id = i.id
WHERE i.pending_id = $1
ORDER BY i.id`, pendingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Issuance
	for rows.Next() {
		var (
			is       Issuance
			category string
		)
		if err := rows.Scan(&is.ID, &is.ComponentID, &is.Quantity, &is.OrderID, &is.ExternalReference,
			&category, &is.PendingID, &is.IssuedAt, &is.TransactionID); err != nil {
			return nil, err
		}
		is.Category = Category(category)
		out = append(out, is)
	}
	return out, rows.Err()
}

func (t *txRepo) InsertIssuance(ctx context.Context, is Issuance) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO stock_issuances
    (component_id, quantity, order_id, external_reference, issue_category, pending_id, issued_at)
VALUES ($1, $2, NULLIF($3::bigint, 0), $4, $5, NULLIF($6::bigint, 0), $7)
RETURNING id`, is.ComponentID, is.Quantity, is.OrderID, is.ExternalReference, string(is.Category), is.PendingID, is.IssuedAt).Scan(&id)
	return id, err
}

func (t *txRepo) InsertPending(ctx context.Context, p Pending) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO pending_stock_issuances (external_reference, issue_category, status, created_at)
VALUES ($1, $2, $3, $4) RETURNING id`, p.ExternalReference, string(p.Category), string(p.Status), p.CreatedAt).Scan(&id)
	return id, err
}

func (t *txRepo) InsertPendingItem(ctx context.Context, item PendingItem) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO pending_stock_issuance_items (pending_id, component_id, quantity)
VALUES ($1, $2, $3) RETURNING id`, item.PendingID, item.ComponentID, item.Quantity).Scan(&id)
	return id, err
}

func (t *txRepo) GetPendingForUpdate(ctx context.Context, id int64) (Pending, error) {
	return loadPending(ctx, t.tx, id, true)
}

func (t *txRepo) UpdatePendingStatus(ctx context.Context, id int64, status PendingStatus, at time.Time) error {
	column := "issued_at"
	if status == PendingStatusCancelled {
		column = "cancelled_at"
	}
	tag, err := t.tx.Exec(ctx, `UPDATE pending_stock_issuances SET status = $2, `+column+` = $3
WHERE id = $1 AND status = 'pending'`, id, string(status), at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}
