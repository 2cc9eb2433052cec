package models

import (
	"encoding/json"
	"time"
)

// DeadLetterEntry is a quarantined message payload that failed to commit.
// Entries are never auto-deleted; an operator replay marks them resolved.
type DeadLetterEntry struct {
	ID                int64           `json:"id" db:"id"`
	ExternalMessageID *int64          `json:"external_message_id,omitempty" db:"external_message_id"`
	SourceID          *int64          `json:"source_id,omitempty" db:"source_id"`
	Payload           json.RawMessage `json:"payload" db:"payload"`
	ErrorMessage      string          `json:"error_message" db:"error_message"`
	RetryCount        int             `json:"retry_count" db:"retry_count"`
	Resolved          bool            `json:"resolved" db:"resolved"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
	ResolvedAt        *time.Time      `json:"resolved_at,omitempty" db:"resolved_at"`
}
