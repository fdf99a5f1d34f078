// Package notify decides who gets told about a log entry and delivers the
// message. Resolution is a pure lookup over category configuration; delivery
// goes through senders behind the post-commit dispatcher.
package notify

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/mbeckers/shiftlog/internal/db"
)

// CategoryStore is the slice of the repository the resolver needs.
type CategoryStore interface {
	GetCategory(ctx context.Context, code, plant string) (*db.Category, error)
}

// ChatTarget is an active chat webhook destination.
type ChatTarget struct {
	URL string
}

// Recipients is the resolved notification destination set for a category.
// An empty set is a normal outcome, not an error.
type Recipients struct {
	Emails []string
	Chat   *ChatTarget
}

// Empty reports whether there is nothing to dispatch.
func (r Recipients) Empty() bool {
	return len(r.Emails) == 0 && r.Chat == nil
}

// Resolver looks up a category's notification configuration.
// It never triggers dispatch itself.
type Resolver struct {
	categories CategoryStore
	logger     *zap.Logger
}

// NewResolver creates a resolver over the given category store.
func NewResolver(categories CategoryStore, logger *zap.Logger) *Resolver {
	return &Resolver{
		categories: categories,
		logger:     logger,
	}
}

// Resolve returns the recipients to auto-notify for (category, plant).
// A missing category, a disabled notification flag, or zero configured
// recipients all resolve to the empty set.
func (r *Resolver) Resolve(ctx context.Context, category, plant string) (Recipients, error) {
	cat, err := r.categories.GetCategory(ctx, category, plant)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			r.logger.Debug("category not configured, no notifications",
				zap.String("category", category),
				zap.String("plant", plant),
			)
			return Recipients{}, nil
		}
		return Recipients{}, err
	}

	if !cat.NotifyEnabled {
		return Recipients{}, nil
	}

	var result Recipients
	result.Emails = append(result.Emails, cat.Recipients...)

	if cat.ChatWebhookActive && cat.ChatWebhookURL != nil && *cat.ChatWebhookURL != "" {
		result.Chat = &ChatTarget{URL: *cat.ChatWebhookURL}
	}

	return result, nil
}

// MailRecipients returns the configured email addresses regardless of the
// notification flag. Read-only queries see the configuration as stored;
// the flag only gates automatic dispatch.
func (r *Resolver) MailRecipients(ctx context.Context, category, plant string) ([]string, error) {
	cat, err := r.categories.GetCategory(ctx, category, plant)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return cat.Recipients, nil
}
