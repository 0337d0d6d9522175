package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-stock/internal/jobs"
	"github.com/odyssey-erp/odyssey-stock/internal/procurement"
)

// Message is a rendered goods return note.
type Message struct {
	From    string
	Subject string
	Body    string
}

// Mailer delivers a message and returns the provider message id.
type Mailer interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// LogMailer writes notices to the log instead of a mail relay.
type LogMailer struct {
	Logger *slog.Logger
}

// Send logs the message and fabricates a message id.
func (m LogMailer) Send(ctx context.Context, msg Message) (string, error) {
	id := uuid.NewString()
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "return notice sent",
		slog.String("from", msg.From),
		slog.String("subject", msg.Subject),
		slog.String("message_id", id))
	return id, nil
}

// ReturnStore is the procurement surface the notice job needs.
type ReturnStore interface {
	ReturnsByGRN(ctx context.Context, number string) ([]procurement.Return, error)
	RecordEmail(ctx context.Context, number string, update procurement.EmailUpdate) error
}

// ReturnNoticeJob renders and sends goods return notes, then writes the
// delivery outcome back onto the return rows.
type ReturnNoticeJob struct {
	Returns ReturnStore
	Mailer  Mailer
	From    string
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewReturnNoticeJob constructs the job handler.
func NewReturnNoticeJob(returns ReturnStore, mailer Mailer, from string, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReturnNoticeJob {
	return &ReturnNoticeJob{Returns: returns, Mailer: mailer, From: from, Logger: logger, Metrics: metrics}
}

// Handle processes TaskReturnNotice tasks.
func (j *ReturnNoticeJob) Handle(ctx context.Context, task *asynq.Task) (err error) {
	if j == nil || j.Returns == nil || j.Mailer == nil {
		return errors.New("return notice: dependencies not configured")
	}
	var payload ReturnNoticePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil || payload.GoodsReturnNumber == "" {
		return fmt.Errorf("return notice: bad payload: %w", asynq.SkipRetry)
	}

	tracker := j.Metrics.Track(TaskReturnNotice)
	defer func() { err = tracker.End(err) }()

	returns, err := j.Returns.ReturnsByGRN(ctx, payload.GoodsReturnNumber)
	if errors.Is(err, procurement.ErrNotFound) {
		j.log().Warn("return notice for unknown document", slog.String("grn", payload.GoodsReturnNumber))
		return fmt.Errorf("return notice %s: %w", payload.GoodsReturnNumber, asynq.SkipRetry)
	}
	if err != nil {
		return err
	}
	if returns[0].EmailStatus == procurement.EmailSent {
		return nil
	}

	messageID, sendErr := j.Mailer.Send(ctx, renderNotice(j.From, payload.GoodsReturnNumber, returns))
	if sendErr != nil {
		j.log().Warn("return notice send failed", slog.String("grn", payload.GoodsReturnNumber), slog.Any("error", sendErr))
		if err := j.Returns.RecordEmail(ctx, payload.GoodsReturnNumber, procurement.EmailUpdate{Status: procurement.EmailFailed}); err != nil {
			j.log().Warn("record email failure", slog.Any("error", err))
		}
		return sendErr
	}
	return j.Returns.RecordEmail(ctx, payload.GoodsReturnNumber, procurement.EmailUpdate{
		Status:    procurement.EmailSent,
		MessageID: messageID,
	})
}

func renderNotice(from, number string, returns []procurement.Return) Message {
	lines := append([]procurement.Return(nil), returns...)
	sort.Slice(lines, func(i, k int) bool { return lines[i].OrderID < lines[k].OrderID })

	var b strings.Builder
	fmt.Fprintf(&b, "Goods return note %s\n\n", number)
	for _, r := range lines {
		fmt.Fprintf(&b, "order %d  component %d  qty %s  %s", r.OrderID, r.ComponentID, r.Quantity, r.Type)
		if r.Reason != "" {
			fmt.Fprintf(&b, "  (%s)", r.Reason)
		}
		b.WriteString("\n")
	}
	return Message{From: from, Subject: "Goods return " + number, Body: b.String()}
}

func (j *ReturnNoticeJob) log() *slog.Logger {
	if j.Logger == nil {
		return slog.Default()
	}
	return j.Logger
}
