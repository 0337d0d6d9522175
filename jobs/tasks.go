package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-stock/internal/procurement"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskReturnNotice sends the goods return note for a committed return.
	TaskReturnNotice = "returns:notify"
)

// ReturnNoticePayload is the queued form of procurement.ReturnRecordedEvent.
type ReturnNoticePayload struct {
	GoodsReturnNumber string    `json:"goods_return_number"`
	BatchID           string    `json:"batch_id,omitempty"`
	Type              string    `json:"type"`
	OrderIDs          []int64   `json:"order_ids"`
	Quantity          string    `json:"quantity"`
	RecordedAt        time.Time `json:"recorded_at"`
}

// NewReturnNoticeTask builds a task keyed on the goods return number so a
// document is queued at most once.
func NewReturnNoticeTask(evt procurement.ReturnRecordedEvent) (*asynq.Task, error) {
	if strings.TrimSpace(evt.GoodsReturnNumber) == "" {
		return nil, errors.New("jobs: return notice requires a goods return number")
	}
	body, err := json.Marshal(ReturnNoticePayload{
		GoodsReturnNumber: evt.GoodsReturnNumber,
		BatchID:           evt.BatchID,
		Type:              string(evt.Type),
		OrderIDs:          evt.OrderIDs,
		Quantity:          evt.Quantity.String(),
		RecordedAt:        evt.RecordedAt,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReturnNotice, body,
		asynq.Queue(QueueDefault),
		asynq.TaskID(returnNoticeTaskID(evt.GoodsReturnNumber)),
		asynq.MaxRetry(8),
	), nil
}

func returnNoticeTaskID(number string) string {
	return fmt.Sprintf("%s:%s", TaskReturnNotice, number)
}

// Client submits jobs to the queue.
type Client struct {
	client *asynq.Client
}

var _ procurement.Notifier = (*Client)(nil)

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) (*Client, error) {
	return &Client{client: asynq.NewClient(redisOpts)}, nil
}

// EnqueueReturnNotice queues the supplier notice for a committed return. A
// notice already queued for the same goods return number is not an error.
func (c *Client) EnqueueReturnNotice(ctx context.Context, evt procurement.ReturnRecordedEvent) error {
	task, err := NewReturnNoticeTask(evt)
	if err != nil {
		return err
	}
	if _, err := c.client.EnqueueContext(ctx, task); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return nil
		}
		return fmt.Errorf("jobs: enqueue return notice %s: %w", evt.GoodsReturnNumber, err)
	}
	return nil
}

// EnqueueReconcile queues an immediate reconcile run.
func (c *Client) EnqueueReconcile(ctx context.Context, componentID int64) error {
	task, err := NewReconcileTask(componentID)
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task)
	return err
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}
