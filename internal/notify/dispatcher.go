package notify

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mbeckers/shiftlog/internal/metrics"
)

// Dispatch statuses reported per channel.
const (
	StatusSent     = "sent"
	StatusEnqueued = "enqueued"
	StatusFailed   = "failed"
	StatusSkipped  = "no recipients"
)

// Content is what a dispatched message says, independent of channel.
type Content struct {
	LogID    string
	Plant    string
	Category string
	Subject  string
	Body     string
}

// ChannelResult is the delivery result for one channel.
type ChannelResult struct {
	Channel string `json:"channel"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}

// Outcome describes which recipients were targeted and how delivery went.
// It is transient; a failed outcome never affects the persisted log.
type Outcome struct {
	Recipients []string        `json:"recipients"`
	Channels   []ChannelResult `json:"channels"`
}

// Failed reports whether any channel failed to deliver.
func (o *Outcome) Failed() bool {
	for _, c := range o.Channels {
		if c.Status == StatusFailed {
			return true
		}
	}
	return false
}

// Enqueuer hands a dispatch job to an external queue. The consumer side is
// the transport collaborator, outside this service.
type Enqueuer interface {
	Enqueue(ctx context.Context, n *Notification) (string, error)
}

// Dispatcher is the post-commit notification hook. It runs after the log
// transaction commits, is bounded by a timeout, and swallows every delivery
// error: the caller of log creation is never exposed to dispatch failures.
type Dispatcher struct {
	sender  Sender
	queue   Enqueuer // nil means in-process delivery
	timeout time.Duration
	logger  *zap.Logger
}

type DispatcherConfig struct {
	Timeout time.Duration // bound for one whole dispatch run
}

// NewDispatcher creates a dispatcher over the given sender. A non-nil
// enqueuer replaces in-process delivery with a queue hand-off.
func NewDispatcher(sender Sender, queue Enqueuer, cfg DispatcherConfig, logger *zap.Logger) *Dispatcher {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}

	return &Dispatcher{
		sender:  sender,
		queue:   queue,
		timeout: timeout,
		logger:  logger,
	}
}

// Dispatch delivers to every resolved channel synchronously and reports the
// per-channel result. Delivery errors end up in the outcome, not in an
// error return.
func (d *Dispatcher) Dispatch(ctx context.Context, rec Recipients, c Content) *Outcome {
	outcome := &Outcome{Recipients: rec.Emails}

	if rec.Empty() {
		outcome.Channels = append(outcome.Channels, ChannelResult{
			Channel: ChannelEmail,
			Status:  StatusSkipped,
		})
		return outcome
	}

	for _, n := range d.buildNotifications(rec, c) {
		res := d.deliver(ctx, n)
		metrics.RecordDispatch(res.Channel, res.Status)
		outcome.Channels = append(outcome.Channels, res)
	}

	return outcome
}

// DispatchAsync fires Dispatch on a detached, timeout-bounded context and
// returns immediately. This is the path log creation takes: the response to
// the operator never waits on email or chat latency.
func (d *Dispatcher) DispatchAsync(rec Recipients, c Content) {
	if rec.Empty() {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		outcome := d.Dispatch(ctx, rec, c)
		if outcome.Failed() {
			d.logger.Warn("notification dispatch incomplete",
				zap.String("log_id", c.LogID),
				zap.String("category", c.Category),
				zap.Any("channels", outcome.Channels),
			)
		}
	}()
}

func (d *Dispatcher) buildNotifications(rec Recipients, c Content) []*Notification {
	var jobs []*Notification

	if len(rec.Emails) > 0 {
		// A log entry does not require a subject, but an email does.
		subject := c.Subject
		if subject == "" {
			subject = fmt.Sprintf("[%s/%s] shift log", c.Plant, c.Category)
		}

		jobs = append(jobs, &Notification{
			Channel:    ChannelEmail,
			LogID:      c.LogID,
			Plant:      c.Plant,
			Category:   c.Category,
			Subject:    subject,
			Body:       c.Body,
			Recipients: rec.Emails,
		})
	}

	if rec.Chat != nil {
		jobs = append(jobs, &Notification{
			Channel:    ChannelChat,
			LogID:      c.LogID,
			Plant:      c.Plant,
			Category:   c.Category,
			Subject:    c.Subject,
			Body:       c.Body,
			WebhookURL: rec.Chat.URL,
		})
	}

	return jobs
}

func (d *Dispatcher) deliver(ctx context.Context, n *Notification) ChannelResult {
	if d.queue != nil {
		msgID, err := d.queue.Enqueue(ctx, n)
		if err != nil {
			d.logger.Error("failed to enqueue notification",
				zap.Error(err),
				zap.String("channel", n.Channel),
				zap.String("log_id", n.LogID),
			)
			return ChannelResult{Channel: n.Channel, Status: StatusFailed, Error: err.Error()}
		}

		d.logger.Info("notification enqueued",
			zap.String("channel", n.Channel),
			zap.String("log_id", n.LogID),
			zap.String("message_id", msgID),
		)
		return ChannelResult{Channel: n.Channel, Status: StatusEnqueued}
	}

	if err := d.sender.Send(ctx, n); err != nil {
		d.logger.Error("notification delivery failed",
			zap.Error(err),
			zap.String("channel", n.Channel),
			zap.String("log_id", n.LogID),
		)
		return ChannelResult{Channel: n.Channel, Status: StatusFailed, Error: err.Error()}
	}

	return ChannelResult{Channel: n.Channel, Status: StatusSent}
}
