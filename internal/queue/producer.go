// Package queue hands dispatch jobs to SQS. When a queue is configured,
// the post-commit dispatcher enqueues instead of delivering in-process;
// the consumer side belongs to the transport collaborator.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"

	"github.com/mbeckers/shiftlog/internal/notify"
)

// Config holds SQS configuration.
type Config struct {
	Region   string
	QueueURL string
}

// Message is the payload sent to SQS.
type Message struct {
	Channel    string   `json:"channel"`
	LogID      string   `json:"log_id,omitempty"`
	Plant      string   `json:"plant"`
	Category   string   `json:"category"`
	Subject    string   `json:"subject"`
	Body       string   `json:"body"`
	Recipients []string `json:"recipients,omitempty"`
	WebhookURL string   `json:"webhook_url,omitempty"`
	EnqueuedAt int64    `json:"enqueued_at"`
}

// Producer sends dispatch jobs to SQS.
type Producer struct {
	client   *sqs.Client
	queueURL string
	logger   *zap.Logger
}

// NewProducer creates a new SQS producer.
func NewProducer(ctx context.Context, cfg Config, logger *zap.Logger) (*Producer, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	logger.Info("dispatch queue producer initialized",
		zap.String("queue_url", cfg.QueueURL),
	)

	return &Producer{
		client:   sqs.NewFromConfig(awsCfg),
		queueURL: cfg.QueueURL,
		logger:   logger,
	}, nil
}

// Enqueue sends one dispatch job to the queue and returns the message ID.
func (p *Producer) Enqueue(ctx context.Context, n *notify.Notification) (string, error) {
	msg := Message{
		Channel:    n.Channel,
		LogID:      n.LogID,
		Plant:      n.Plant,
		Category:   n.Category,
		Subject:    n.Subject,
		Body:       n.Body,
		Recipients: n.Recipients,
		WebhookURL: n.WebhookURL,
		EnqueuedAt: time.Now().UnixNano(),
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}

	result, err := p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		p.logger.Error("failed to send message to sqs",
			zap.Error(err),
			zap.String("log_id", n.LogID),
			zap.String("channel", n.Channel),
		)
		return "", fmt.Errorf("sqs send failed: %w", err)
	}

	return *result.MessageId, nil
}

// Close closes the producer. AWS SDK v2 clients don't require explicit
// cleanup; this exists for symmetry with the other outbound clients.
func (p *Producer) Close() {}
