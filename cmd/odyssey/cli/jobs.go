package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-stock/internal/grn"
	"github.com/odyssey-erp/odyssey-stock/internal/procurement"
	"github.com/odyssey-erp/odyssey-stock/jobs"
)

// JobsCLI wraps manual management helpers for the worker queue.
type JobsCLI struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	notices   *jobs.Client
}

// NewJobsCLI initialises the CLI helpers using the provided Redis address.
func NewJobsCLI(redisAddr string) (*JobsCLI, error) {
	opts := asynq.RedisClientOpt{Addr: redisAddr}
	notices, err := jobs.NewClient(opts)
	if err != nil {
		return nil, err
	}
	return &JobsCLI{client: asynq.NewClient(opts), inspector: asynq.NewInspector(opts), notices: notices}, nil
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var errs []error
	if c.inspector != nil {
		errs = append(errs, c.inspector.Close())
	}
	if c.client != nil {
		errs = append(errs, c.client.Close())
	}
	if c.notices != nil {
		errs = append(errs, c.notices.Close())
	}
	return errors.Join(errs...)
}

// Run dispatches `jobs <command> [arg]`.
func (c *JobsCLI) Run(ctx context.Context, out io.Writer, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: jobs reconcile [component] | jobs resend <GRN> | jobs stats")
	}
	switch args[0] {
	case "reconcile":
		var componentID int64
		if len(args) > 1 {
			id, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("jobs cli: invalid component %q", args[1])
			}
			componentID = id
		}
		info, err := c.TriggerReconcile(ctx, componentID)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "enqueued %s id=%s\n", info.Type, info.ID)
		return err
	case "resend":
		if len(args) < 2 {
			return errors.New("usage: jobs resend <GRN>")
		}
		if err := c.ResendReturnNotice(ctx, args[1]); err != nil {
			return err
		}
		_, err := fmt.Fprintf(out, "return notice %s queued\n", args[1])
		return err
	case "stats":
		stats, err := c.InspectQueue(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "QUEUE\tPENDING\tACTIVE\tSCHEDULED\tRETRY")
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\n", stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
		return tw.Flush()
	}
	return fmt.Errorf("jobs cli: unsupported command %s", args[0])
}

// TriggerReconcile enqueues an immediate reconcile run.
func (c *JobsCLI) TriggerReconcile(ctx context.Context, componentID int64) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	task, err := jobs.NewReconcileTask(componentID)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task)
}

// ResendReturnNotice queues the supplier notice for an existing document.
func (c *JobsCLI) ResendReturnNotice(ctx context.Context, number string) error {
	if _, _, err := grn.Parse(number); err != nil {
		return err
	}
	return c.notices.EnqueueReturnNotice(ctx, procurement.ReturnRecordedEvent{GoodsReturnNumber: number})
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string
	Pending   int
	Active    int
	Scheduled int
	Retry     int
}

// InspectQueue reports the queue metrics for the default queue.
func (c *JobsCLI) InspectQueue(ctx context.Context) (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: jobs.QueueDefault}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
	}
	return stats, nil
}
