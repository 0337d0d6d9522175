package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
)

// Repository persists balances and ledger rows in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by Service.
type TxRepository interface {
	TxStore
}

type txRepo struct {
	tx pgx.Tx
}

// NewTxStore returns the ledger primitives bound to an open transaction.
// Other processors embed it in their own transactional repositories.
func NewTxStore(tx pgx.Tx) TxStore {
	return &txRepo{tx: tx}
}

// WithTx executes the callback inside a ledger transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, nil, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const balanceColumns = `component_id, quantity_on_hand, reorder_level, location, updated_at`

func scanBalance(row pgx.Row) (Balance, error) {
	var b Balance
	if err := row.Scan(&b.ComponentID, &b.QuantityOnHand, &b.ReorderLevel, &b.Location, &b.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Balance{}, ErrBalanceNotFound
		}
		return Balance{}, err
	}
	return b, nil
}

// GetBalance loads a balance row without locking it.
func (r *Repository) GetBalance(ctx context.Context, componentID int64) (Balance, error) {
	return scanBalance(r.pool.QueryRow(ctx, `SELECT `+balanceColumns+` FROM inventory_balances WHERE component_id = $1`, componentID))
}

// ListBalances returns up to limit balances with component id above after,
// ordered by component.
func (r *Repository) ListBalances(ctx context.Context, after int64, limit int) ([]Balance, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.pool.Query(ctx, `SELECT `+balanceColumns+` FROM inventory_balances
WHERE component_id > $1 ORDER BY component_id LIMIT $2`, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Balance
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ListTransactions returns ledger history for a component, newest last.
func (r *Repository) ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	var from, to *time.Time
	if !filter.From.IsZero() {
		from = &filter.From
	}
	if !filter.To.IsZero() {
		to = &filter.To
	}
	rows, err := r.pool.Query(ctx, `SELECT id, component_id, quantity, delta, tx_type, reason, posted_at,
       COALESCE(receipt_id, 0), COALESCE(return_id, 0), COALESCE(issuance_id, 0), COALESCE(goods_return_number, '')
FROM inventory_transactions
WHERE component_id = $1
  AND ($2::timestamptz IS NULL OR posted_at >= $2)
  AND ($3::timestamptz IS NULL OR posted_at <= $3)
ORDER BY posted_at, id
LIMIT $4`, filter.ComponentID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Transaction
	for rows.Next() {
		var t Transaction
		var txType string
		if err := rows.Scan(&t.ID, &t.ComponentID, &t.Quantity, &t.Delta, &txType, &t.Reason, &t.PostedAt,
			&t.ReceiptID, &t.ReturnID, &t.IssuanceID, &t.GoodsReturnNumber); err != nil {
			return nil, err
		}
		t.Type = TransactionType(txType)
		out = append(out, t)
	}
	return out, rows.Err()
}

// Reconcile compares balance and ledger sum for one component.
func (r *Repository) Reconcile(ctx context.Context, componentID int64) (Reconciliation, error) {
	var rec Reconciliation
	err := r.pool.QueryRow(ctx, `SELECT b.component_id, b.quantity_on_hand,
       COALESCE((SELECT SUM(t.delta) FROM inventory_transactions t WHERE t.component_id = b.component_id), 0)
FROM inventory_balances b WHERE b.component_id = $1`, componentID).Scan(&rec.ComponentID, &rec.QuantityOnHand, &rec.LedgerSum)
	if errors.Is(err, pgx.ErrNoRows) {
		return Reconciliation{}, ErrBalanceNotFound
	}
	return rec, err
}

func (r *txRepo) GetBalanceForUpdate(ctx context.Context, componentID int64) (Balance, error) {
	return scanBalance(r.tx.QueryRow(ctx, `SELECT `+balanceColumns+` FROM inventory_balances WHERE component_id = $1 FOR UPDATE`, componentID))
}

func (r *txRepo) InsertBalance(ctx context.Context, balance Balance) (bool, error) {
	tag, err := r.tx.Exec(ctx, `INSERT INTO inventory_balances (component_id, quantity_on_hand, reorder_level, location, updated_at)
VALUES ($1, $2, $3, $4, NOW())
ON CONFLICT (component_id) DO NOTHING`, balance.ComponentID, balance.QuantityOnHand, balance.ReorderLevel, balance.Location)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *txRepo) UpdateBalanceQuantity(ctx context.Context, componentID int64, qty decimal.Decimal) error {
	tag, err := r.tx.Exec(ctx, `UPDATE inventory_balances SET quantity_on_hand = $2, updated_at = NOW() WHERE component_id = $1`, componentID, qty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBalanceNotFound
	}
	return nil
}

func (r *txRepo) InsertTransaction(ctx context.Context, t Transaction) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO inventory_transactions
    (component_id, quantity, delta, tx_type, reason, posted_at, receipt_id, return_id, issuance_id, goods_return_number)
VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7::bigint, 0), NULLIF($8::bigint, 0), NULLIF($9::bigint, 0), NULLIF($10::text, ''))
RETURNING id`, t.ComponentID, t.Quantity, t.Delta, string(t.Type), t.Reason, t.PostedAt,
		t.ReceiptID, t.ReturnID, t.IssuanceID, t.GoodsReturnNumber).Scan(&id)
	return id, err
}
