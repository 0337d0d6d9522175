package procurement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
)

// Repository provides PostgreSQL persistence for supplier orders.
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

const orderColumns = `id, purchase_order_id, supplier_component_id, component_id, order_quantity, total_received, status, updated_at`

func scanOrder(row pgx.Row) (SupplierOrder, error) {
	var o SupplierOrder
	var status string
	if err := row.Scan(&o.ID, &o.PurchaseOrderID, &o.SupplierComponentID, &o.ComponentID,
		&o.OrderQuantity, &o.TotalReceived, &status, &o.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SupplierOrder{}, ErrNotFound
		}
		return SupplierOrder{}, err
	}
	o.Status = Status(status)
	return o, nil
}

const returnSelect = `SELECT r.id, r.supplier_order_id, r.component_id, r.quantity, r.reason, r.return_type,
       r.goods_return_number, COALESCE(r.batch_id, ''), r.signature_status,
       COALESCE(r.document_url, ''), COALESCE(r.signed_document_url, ''),
       COALESCE(r.email_status, ''), r.email_sent_at, COALESCE(r.email_message_id, ''),
       r.returned_at, COALESCE(t.id, 0)
FROM supplier_order_returns r
LEFT JOIN inventory_transactions t ON t.return_id = r.id`

func queryReturns(ctx context.Context, q queryer, sql string, args ...any) ([]Return, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Return
	for rows.Next() {
		var (
			ret       Return
			kind      string
			signature string
			email     string
			sentAt    *time.Time
		)
		if err := rows.Scan(&ret.ID, &ret.OrderID, &ret.ComponentID, &ret.Quantity, &ret.Reason, &kind,
			&ret.GoodsReturnNumber, &ret.BatchID, &signature, &ret.DocumentURL, &ret.SignedDocumentURL,
			&email, &sentAt, &ret.EmailMessageID, &ret.ReturnedAt, &ret.TransactionID); err != nil {
			return nil, err
		}
		ret.Type = ReturnType(kind)
		ret.SignatureStatus = SignatureStatus(signature)
		ret.EmailStatus = EmailStatus(email)
		ret.EmailSentAt = sentAt
		out = append(out, ret)
	}
	return out, rows.Err()
}

// GetOrder loads an order without locking it.
func (r *Repository) GetOrder(ctx context.Context, id int64) (SupplierOrder, error) {
	return scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM supplier_orders WHERE id = $1`, id))
}

// ListReceipts returns receipts of an order in arrival order.
func (r *Repository) ListReceipts(ctx context.Context, orderID int64) ([]Receipt, error) {
	rows, err := r.pool.Query(ctx, `SELECT rc.id, rc.supplier_order_id, rc.quantity, rc.received_at, COALESCE(t.id, 0)
FROM supplier_order_receipts rc
LEFT JOIN inventory_transactions t ON t.receipt_id = rc.id
WHERE rc.supplier_order_id = $1
ORDER BY rc.received_at, rc.id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Receipt
	for rows.Next() {
		var rc Receipt
		if err := rows.Scan(&rc.ID, &rc.OrderID, &rc.Quantity, &rc.ReceivedAt, &rc.TransactionID); err != nil {
			return nil, err
		}
		out = append(out, rc)
	}
	return out, rows.Err()
}

// ListReturns returns both return kinds of an order.
func (r *Repository) ListReturns(ctx context.Context, orderID int64) ([]Return, error) {
	return queryReturns(ctx, r.pool, returnSelect+` WHERE r.supplier_order_id = $1 ORDER BY r.returned_at, r.id`, orderID)
}

// ReturnsByGRN lists rows sharing a goods return number.
func (r *Repository) ReturnsByGRN(ctx context.Context, number string) ([]Return, error) {
	return queryReturns(ctx, r.pool, returnSelect+` WHERE r.goods_return_number = $1 ORDER BY r.id`, number)
}

// ReturnsByBatch lists rows of a batch.
func (r *Repository) ReturnsByBatch(ctx context.Context, batchID string) ([]Return, error) {
	return queryReturns(ctx, r.pool, returnSelect+` WHERE r.batch_id = $1 ORDER BY r.id`, batchID)
}

func (t *txRepo) GetOrderForUpdate(ctx context.Context, id int64) (SupplierOrder, error) {
	return scanOrder(t.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM supplier_orders WHERE id = $1 FOR UPDATE`, id))
}

func (t *txRepo) InsertReceipt(ctx context.Context, receipt Receipt) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO supplier_order_receipts (supplier_order_id, quantity, received_at)
VALUES ($1, $2, $3) RETURNING id`, receipt.OrderID, receipt.Quantity, receipt.ReceivedAt).Scan(&id)
	return id, err
}

func (t *txRepo) InsertReturn(ctx context.Context, ret Return) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO supplier_order_returns
    (supplier_order_id, component_id, quantity, reason, return_type, goods_return_number, batch_id, signature_status, returned_at)
VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7::text, ''), $8, $9)
RETURNING id`, ret.OrderID, ret.ComponentID, ret.Quantity, ret.Reason, string(ret.Type),
		ret.GoodsReturnNumber, ret.BatchID, string(ret.SignatureStatus), ret.ReturnedAt).Scan(&id)
	return id, err
}

func (t *txRepo) SumNetReceived(ctx context.Context, orderID int64) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := t.tx.QueryRow(ctx, `SELECT
    COALESCE((SELECT SUM(quantity) FROM supplier_order_receipts WHERE supplier_order_id = $1), 0)
  - COALESCE((SELECT SUM(quantity) FROM supplier_order_returns WHERE supplier_order_id = $1 AND return_type = 'later_return'), 0)`,
		orderID).Scan(&total)
	return total, err
}

func (t *txRepo) UpdateOrderProgress(ctx context.Context, orderID int64, totalReceived decimal.Decimal, status Status) error {
	tag, err := t.tx.Exec(ctx, `UPDATE supplier_orders SET total_received = $2, status = $3, updated_at = NOW() WHERE id = $1`,
		orderID, totalReceived, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepo) InsertReturnDocument(ctx context.Context, doc ReturnDocument) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO supplier_return_documents (goods_return_number, batch_id, line_count, created_at)
VALUES ($1, NULLIF($2::text, ''), $3, $4)`, doc.GoodsReturnNumber, doc.BatchID, doc.Lines, doc.CreatedAt)
	if db.IsUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrDocumentConflict, doc.GoodsReturnNumber)
	}
	return err
}

func (t *txRepo) GetReturnDocumentForUpdate(ctx context.Context, number string) (ReturnDocument, error) {
	var (
		doc     ReturnDocument
		batchID *string
	)
	err := t.tx.QueryRow(ctx, `SELECT goods_return_number, batch_id, line_count, created_at
FROM supplier_return_documents WHERE goods_return_number = $1 FOR UPDATE`, number).
		Scan(&doc.GoodsReturnNumber, &batchID, &doc.Lines, &doc.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ReturnDocument{}, ErrNotFound
	}
	if err != nil {
		return ReturnDocument{}, err
	}
	if batchID != nil {
		doc.BatchID = *batchID
	}
	return doc, nil
}

func (t *txRepo) UpdateReturnDocumentLines(ctx context.Context, number string, lines int) error {
	tag, err := t.tx.Exec(ctx, `UPDATE supplier_return_documents SET line_count = $2 WHERE goods_return_number = $1`, number, lines)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepo) ReturnsByGRNForUpdate(ctx context.Context, number string) ([]Return, error) {
	return queryReturns(ctx, t.tx, returnSelect+` WHERE r.goods_return_number = $1 ORDER BY r.id FOR UPDATE OF r`, number)
}

func (t *txRepo) UpdateReturnDocument(ctx context.Context, number, documentURL, signedDocumentURL string) error {
	_, err := t.tx.Exec(ctx, `UPDATE supplier_order_returns
SET document_url = COALESCE(NULLIF($2::text, ''), document_url),
    signed_document_url = COALESCE(NULLIF($3::text, ''), signed_document_url)
WHERE goods_return_number = $1`, number, documentURL, signedDocumentURL)
	return err
}

func (t *txRepo) UpdateReturnSignature(ctx context.Context, number string, status SignatureStatus) error {
	_, err := t.tx.Exec(ctx, `UPDATE supplier_order_returns SET signature_status = $2 WHERE goods_return_number = $1`, number, string(status))
	return err
}

func (t *txRepo) UpdateReturnEmail(ctx context.Context, number string, update EmailUpdate) error {
	var sentAt *time.Time
	if !update.SentAt.IsZero() {
		sentAt = &update.SentAt
	}
	_, err := t.tx.Exec(ctx, `UPDATE supplier_order_returns
SET email_status = $2, email_sent_at = COALESCE($3, email_sent_at), email_message_id = COALESCE(NULLIF($4::text, ''), email_message_id)
WHERE goods_return_number = $1`, number, string(update.Status), sentAt, update.MessageID)
	return err
}
