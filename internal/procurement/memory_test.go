package procurement

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/grn"
	"github.com/odyssey-erp/odyssey-stock/internal/inventory/inventorytest"
)

type memoryRepo struct {
	stock    *inventorytest.Store
	orders   map[int64]SupplierOrder
	receipts []Receipt
	returns  []Return
	docs     map[string]ReturnDocument
	nextID   int64
}

type memoryTx struct {
	*inventorytest.Store
	repo *memoryRepo
}

func newMemoryRepo(stock *inventorytest.Store) *memoryRepo {
	return &memoryRepo{stock: stock, orders: make(map[int64]SupplierOrder), docs: make(map[string]ReturnDocument)}
}

func (r *memoryRepo) addOrder(o SupplierOrder) {
	r.stock.Lock()
	defer r.stock.Unlock()
	if o.Status == "" {
		o.Status = StatusApproved
	}
	r.orders[o.ID] = o
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.stock.Lock()
	defer r.stock.Unlock()
	restoreStock := r.stock.Snapshot()
	orders := make(map[int64]SupplierOrder, len(r.orders))
	for k, v := range r.orders {
		orders[k] = v
	}
	receipts := append([]Receipt(nil), r.receipts...)
	returns := append([]Return(nil), r.returns...)
	docs := make(map[string]ReturnDocument, len(r.docs))
	for k, v := range r.docs {
		docs[k] = v
	}
	nextID := r.nextID

	if err := fn(ctx, &memoryTx{Store: r.stock, repo: r}); err != nil {
		restoreStock()
		r.orders, r.receipts, r.returns, r.docs, r.nextID = orders, receipts, returns, docs, nextID
		return err
	}
	return nil
}

func (r *memoryRepo) GetOrder(ctx context.Context, id int64) (SupplierOrder, error) {
	r.stock.Lock()
	defer r.stock.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return SupplierOrder{}, ErrNotFound
	}
	return o, nil
}

func (r *memoryRepo) ListReceipts(ctx context.Context, orderID int64) ([]Receipt, error) {
	r.stock.Lock()
	defer r.stock.Unlock()
	var out []Receipt
	for _, rc := range r.receipts {
		if rc.OrderID == orderID {
			out = append(out, rc)
		}
	}
	return out, nil
}

func (r *memoryRepo) filterReturns(keep func(Return) bool) []Return {
	var out []Return
	for _, ret := range r.returns {
		if keep(ret) {
			out = append(out, ret)
		}
	}
	return out
}

func (r *memoryRepo) ListReturns(ctx context.Context, orderID int64) ([]Return, error) {
	r.stock.Lock()
	defer r.stock.Unlock()
	return r.filterReturns(func(ret Return) bool { return ret.OrderID == orderID }), nil
}

func (r *memoryRepo) ReturnsByGRN(ctx context.Context, number string) ([]Return, error) {
	r.stock.Lock()
	defer r.stock.Unlock()
	return r.filterReturns(func(ret Return) bool { return ret.GoodsReturnNumber == number }), nil
}

func (r *memoryRepo) ReturnsByBatch(ctx context.Context, batchID string) ([]Return, error) {
	r.stock.Lock()
	defer r.stock.Unlock()
	return r.filterReturns(func(ret Return) bool { return ret.BatchID == batchID }), nil
}

func (t *memoryTx) GetOrderForUpdate(ctx context.Context, id int64) (SupplierOrder, error) {
	o, ok := t.repo.orders[id]
	if !ok {
		return SupplierOrder{}, ErrNotFound
	}
	return o, nil
}

func (t *memoryTx) InsertReceipt(ctx context.Context, receipt Receipt) (int64, error) {
	t.repo.nextID++
	receipt.ID = t.repo.nextID
	t.repo.receipts = append(t.repo.receipts, receipt)
	return receipt.ID, nil
}

func (t *memoryTx) InsertReturn(ctx context.Context, ret Return) (int64, error) {
	t.repo.nextID++
	ret.ID = t.repo.nextID
	t.repo.returns = append(t.repo.returns, ret)
	return ret.ID, nil
}

func (t *memoryTx) SumNetReceived(ctx context.Context, orderID int64) (decimal.Decimal, error) {
	receipts := make([]Receipt, 0)
	for _, rc := range t.repo.receipts {
		if rc.OrderID == orderID {
			receipts = append(receipts, rc)
		}
	}
	returns := t.repo.filterReturns(func(ret Return) bool { return ret.OrderID == orderID })
	return NetReceived(receipts, returns), nil
}

func (t *memoryTx) UpdateOrderProgress(ctx context.Context, orderID int64, total decimal.Decimal, status Status) error {
	o, ok := t.repo.orders[orderID]
	if !ok {
		return ErrNotFound
	}
	o.TotalReceived = total
	o.Status = status
	o.UpdatedAt = time.Now().UTC()
	t.repo.orders[orderID] = o
	return nil
}

func (t *memoryTx) InsertReturnDocument(ctx context.Context, doc ReturnDocument) error {
	if _, taken := t.repo.docs[doc.GoodsReturnNumber]; taken {
		return ErrDocumentConflict
	}
	for _, existing := range t.repo.docs {
		if doc.BatchID != "" && existing.BatchID == doc.BatchID {
			return ErrDocumentConflict
		}
	}
	t.repo.docs[doc.GoodsReturnNumber] = doc
	return nil
}

func (t *memoryTx) GetReturnDocumentForUpdate(ctx context.Context, number string) (ReturnDocument, error) {
	doc, ok := t.repo.docs[number]
	if !ok {
		return ReturnDocument{}, ErrNotFound
	}
	return doc, nil
}

func (t *memoryTx) UpdateReturnDocumentLines(ctx context.Context, number string, lines int) error {
	doc, ok := t.repo.docs[number]
	if !ok {
		return ErrNotFound
	}
	doc.Lines = lines
	t.repo.docs[number] = doc
	return nil
}

func (t *memoryTx) ReturnsByGRNForUpdate(ctx context.Context, number string) ([]Return, error) {
	return t.repo.filterReturns(func(ret Return) bool { return ret.GoodsReturnNumber == number }), nil
}

func (t *memoryTx) updateByGRN(number string, fn func(*Return)) {
	for i := range t.repo.returns {
		if t.repo.returns[i].GoodsReturnNumber == number {
			fn(&t.repo.returns[i])
		}
	}
}

func (t *memoryTx) UpdateReturnDocument(ctx context.Context, number, documentURL, signedDocumentURL string) error {
	t.updateByGRN(number, func(r *Return) {
		if documentURL != "" {
			r.DocumentURL = documentURL
		}
		if signedDocumentURL != "" {
			r.SignedDocumentURL = signedDocumentURL
		}
	})
	return nil
}

func (t *memoryTx) UpdateReturnSignature(ctx context.Context, number string, status SignatureStatus) error {
	t.updateByGRN(number, func(r *Return) { r.SignatureStatus = status })
	return nil
}

func (t *memoryTx) UpdateReturnEmail(ctx context.Context, number string, update EmailUpdate) error {
	t.updateByGRN(number, func(r *Return) {
		r.EmailStatus = update.Status
		if !update.SentAt.IsZero() {
			sentAt := update.SentAt
			r.EmailSentAt = &sentAt
		}
		if update.MessageID != "" {
			r.EmailMessageID = update.MessageID
		}
	})
	return nil
}

type memoryCounter struct {
	n atomic.Int64
}

func (c *memoryCounter) Next(context.Context) (int64, error) {
	return c.n.Add(1), nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []ReturnRecordedEvent
}

func (n *recordingNotifier) EnqueueReturnNotice(ctx context.Context, evt ReturnRecordedEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, evt)
	return nil
}

func (n *recordingNotifier) numbers() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.events))
	for _, evt := range n.events {
		out = append(out, evt.GoodsReturnNumber)
	}
	sort.Strings(out)
	return out
}

type fixture struct {
	svc      *Service
	repo     *memoryRepo
	stock    *inventorytest.Store
	notifier *recordingNotifier
}

func newFixture() *fixture {
	stock := inventorytest.New()
	repo := newMemoryRepo(stock)
	notifier := &recordingNotifier{}
	svc := NewService(repo, grn.NewGenerator(&memoryCounter{}), notifier, nil, nil, nil)
	return &fixture{svc: svc, repo: repo, stock: stock, notifier: notifier}
}
