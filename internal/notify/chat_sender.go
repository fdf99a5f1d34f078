package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// ChatSender posts notifications to a category's chat webhook.
type ChatSender struct {
	client *http.Client
	logger *zap.Logger
}

type ChatConfig struct {
	Timeout time.Duration // per-request timeout
}

// chatMessage is the webhook body. The plain {"text": ...} shape is accepted
// by Slack-compatible incoming webhooks.
type chatMessage struct {
	Text string `json:"text"`
}

// NewChatSender creates a new chat webhook sender.
func NewChatSender(logger *zap.Logger, cfg ChatConfig) *ChatSender {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &ChatSender{
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Send posts the notification to its webhook URL. Non-2xx responses count
// as delivery failures.
func (s *ChatSender) Send(ctx context.Context, n *Notification) error {
	if n.Channel != ChannelChat {
		return fmt.Errorf("chat sender only supports chat, got: %s", n.Channel)
	}

	if n.WebhookURL == "" {
		return fmt.Errorf("chat notification missing webhook url")
	}

	body, err := json.Marshal(chatMessage{
		Text: fmt.Sprintf("[%s/%s] %s\n%s", n.Plant, n.Category, n.Subject, n.Body),
	})
	if err != nil {
		return fmt.Errorf("marshal chat message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create chat request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Shiftlog/1.0")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("chat webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	preview, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("chat webhook returned non-2xx status: %d, body: %s", resp.StatusCode, string(preview))
	}

	s.logger.Info("chat notification delivered",
		zap.String("log_id", n.LogID),
		zap.String("url", n.WebhookURL),
		zap.Int("status_code", resp.StatusCode),
	)

	return nil
}

// SupportsChannel checks if this sender supports the chat channel.
func (s *ChatSender) SupportsChannel(channel string) bool {
	return channel == ChannelChat
}
