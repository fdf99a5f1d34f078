package circuitbreaker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mbeckers/shiftlog/internal/notify"
)

// ProtectedSender wraps a notification sender with a CircuitBreaker. When
// the provider behind it (SES, a chat webhook endpoint) keeps failing, the
// circuit opens and dispatch fails fast instead of stalling on a dead
// service.
type ProtectedSender struct {
	sender  notify.Sender
	breaker *CircuitBreaker
	logger  *zap.Logger
}

// NewProtectedSender wraps a sender with circuit breaker protection.
func NewProtectedSender(sender notify.Sender, breaker *CircuitBreaker, logger *zap.Logger) *ProtectedSender {
	return &ProtectedSender{
		sender:  sender,
		breaker: breaker,
		logger:  logger,
	}
}

// Send attempts delivery through the circuit breaker. An open circuit
// returns ErrCircuitOpen immediately.
func (p *ProtectedSender) Send(ctx context.Context, n *notify.Notification) error {
	if !p.breaker.Allow() {
		p.logger.Warn("circuit breaker rejected dispatch, failing fast",
			zap.String("breaker", p.breaker.config.Name),
			zap.String("channel", n.Channel),
			zap.String("log_id", n.LogID),
			zap.String("state", p.breaker.GetState().String()),
		)
		return fmt.Errorf("%w: %s sender unavailable", ErrCircuitOpen, p.breaker.config.Name)
	}

	err := p.sender.Send(ctx, n)
	if err != nil {
		p.breaker.RecordFailure()
		return err
	}

	p.breaker.RecordSuccess()
	return nil
}

// SupportsChannel delegates to the underlying sender.
func (p *ProtectedSender) SupportsChannel(channel string) bool {
	return p.sender.SupportsChannel(channel)
}

// Breaker returns the underlying circuit breaker for monitoring.
func (p *ProtectedSender) Breaker() *CircuitBreaker {
	return p.breaker
}
