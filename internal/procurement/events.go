package procurement

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ReturnRecordedEvent summarises a committed return document.
type ReturnRecordedEvent struct {
	GoodsReturnNumber string
	BatchID           string
	Type              ReturnType
	OrderIDs          []int64
	Quantity          decimal.Decimal
	RecordedAt        time.Time
}

// Notifier hands committed return documents to the supplier notification
// collaborator. Implemented by the jobs client.
type Notifier interface {
	EnqueueReturnNotice(ctx context.Context, evt ReturnRecordedEvent) error
}

// GRNAllocator issues goods return numbers.
type GRNAllocator interface {
	Next(ctx context.Context) (string, error)
}
