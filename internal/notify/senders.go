package notify

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Channel constants
const (
	ChannelEmail = "email"
	ChannelChat  = "chat"
)

// Notification is a transient dispatch job. It is never persisted; it exists
// between commit and delivery and carries everything a sender needs.
type Notification struct {
	Channel    string   `json:"channel"`
	LogID      string   `json:"log_id,omitempty"`
	Plant      string   `json:"plant"`
	Category   string   `json:"category"`
	Subject    string   `json:"subject"`
	Body       string   `json:"body"`
	Recipients []string `json:"recipients,omitempty"`  // email channel
	WebhookURL string   `json:"webhook_url,omitempty"` // chat channel
}

// Sender is the unified interface for notification channels.
// Implementations: email (SES), chat (webhook).
type Sender interface {
	Send(ctx context.Context, n *Notification) error
	SupportsChannel(channel string) bool
}

// MultiSender routes a notification to the sender for its channel.
type MultiSender struct {
	senders []Sender
	logger  *zap.Logger
}

// NewMultiSender creates a router over the given channel senders.
func NewMultiSender(logger *zap.Logger, senders ...Sender) *MultiSender {
	return &MultiSender{
		senders: senders,
		logger:  logger,
	}
}

// Send routes the notification to the first sender supporting its channel.
func (m *MultiSender) Send(ctx context.Context, n *Notification) error {
	for _, sender := range m.senders {
		if sender.SupportsChannel(n.Channel) {
			m.logger.Debug("routing notification to sender",
				zap.String("channel", n.Channel),
				zap.String("log_id", n.LogID),
			)
			return sender.Send(ctx, n)
		}
	}

	return fmt.Errorf("no sender found for channel: %s", n.Channel)
}

// SupportsChannel checks if any underlying sender supports the channel.
func (m *MultiSender) SupportsChannel(channel string) bool {
	for _, sender := range m.senders {
		if sender.SupportsChannel(channel) {
			return true
		}
	}
	return false
}

// LogSender logs notifications instead of delivering them (development mode).
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, n *Notification) error {
	s.logger.Info("logging notification (development mode)",
		zap.String("channel", n.Channel),
		zap.String("log_id", n.LogID),
		zap.String("category", n.Category),
		zap.Strings("recipients", n.Recipients),
		zap.String("webhook_url", n.WebhookURL),
		zap.String("subject", n.Subject),
	)
	return nil
}

func (s *LogSender) SupportsChannel(channel string) bool {
	return channel == ChannelEmail || channel == ChannelChat
}
