package db

import (
	"time"

	"github.com/google/uuid"
)

// LogEntry is a single shift-handover event. Immutable after creation;
// the read/unread lifecycle lives on its visibility rows, not here.
type LogEntry struct {
	ID         uuid.UUID `json:"id"`
	Plant      string    `json:"plant"`
	WorkCenter string    `json:"work_center"` // originating work center
	Category   string    `json:"category"`
	Author     string    `json:"author"`
	Subject    string    `json:"subject"`
	Message    string    `json:"message"`
	CreatedAt  time.Time `json:"created_at"`
}

// Visibility is the per-(log, work-center) acknowledgement row created by
// the fan-out at log creation. ReadAt is NULL until the destination work
// center marks the entry read, and goes back to NULL on mark-unread.
type Visibility struct {
	LogID      uuid.UUID  `json:"log_id"`
	WorkCenter string     `json:"work_center"`
	ReadAt     *time.Time `json:"read_at,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Category is plant-scoped notification configuration. Administered outside
// this engine; the engine only reads it.
type Category struct {
	ID                  uuid.UUID `json:"id"`
	Code                string    `json:"code"`
	Plant               string    `json:"plant"`
	NotifyEnabled       bool      `json:"notify_enabled"`
	Recipients          []string  `json:"recipients"`
	ChatWebhookURL      *string   `json:"chat_webhook_url,omitempty"`
	ChatWebhookActive   bool      `json:"chat_webhook_active"`
	RequiredWorkCenters []string  `json:"required_work_centers"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// VisibilityStats aggregates read/unread state over a filtered set of
// visibility rows, plus the most recent change across logs and rows.
// Polling clients compare LastChange to decide whether to re-fetch.
type VisibilityStats struct {
	ReadCount   int        `json:"read_count"`
	UnreadCount int        `json:"unread_count"`
	LastChange  *time.Time `json:"last_change,omitempty"`
}
