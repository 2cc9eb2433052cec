package types

import (
	"fmt"
	"time"
)

// PeerKind selects the wire shape used for a direct entity lookup.
type PeerKind string

const (
	PeerChannel PeerKind = "channel"
	PeerChat    PeerKind = "chat"
)

// PeerShape is a candidate addressing shape for an entity lookup.
type PeerShape struct {
	Kind PeerKind `json:"kind"`
	ID   int64    `json:"id"`
}

// Handle is the concrete token needed to address a source in upstream
// calls beyond its bare identifier.
type Handle struct {
	SourceID   int64  `json:"id"`
	AccessHash int64  `json:"access_hash"`
	Kind       string `json:"kind"`
}

// Dialog is one source reachable by the current upstream session.
type Dialog struct {
	Handle
	Title       string `json:"title"`
	Username    string `json:"username,omitempty"`
	MemberCount int    `json:"member_count,omitempty"`
}

// Media describes an attachment on a raw upstream message.
type Media struct {
	Type string `json:"type"`
	URL  string `json:"url,omitempty"`
}

// RawMessage is a message as delivered by the gateway, before it is
// converted into the ingestion pipeline's own record shape.
type RawMessage struct {
	ID         int64     `json:"id"`
	SourceID   int64     `json:"source_id"`
	SenderID   int64     `json:"sender_id,omitempty"`
	SenderName string    `json:"sender_name,omitempty"`
	Text       string    `json:"text,omitempty"`
	Media      *Media    `json:"media,omitempty"`
	ReplyToID  int64     `json:"reply_to_id,omitempty"`
	TopicID    int64     `json:"topic_id,omitempty"`
	TopicTitle string    `json:"topic_title,omitempty"`
	SentAt     time.Time `json:"sent_at"`
}

// EventType enumerates the push event classes delivered over the
// event stream.
type EventType string

const (
	EventNewMessage     EventType = "new_message"
	EventMessageEdited  EventType = "message_edited"
	EventMessageDeleted EventType = "message_deleted"
	EventSourceMigrated EventType = "source_migrated"
)

// Event is one push notification from the gateway's event stream.
type Event struct {
	Type       EventType   `json:"type"`
	SourceID   int64       `json:"source_id"`
	Message    *RawMessage `json:"message,omitempty"`
	DeletedIDs []int64     `json:"deleted_ids,omitempty"`
	MigratedTo int64       `json:"migrated_to,omitempty"`
}

// RateLimitError signals that the upstream demands a backoff before the
// same operation may be retried.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("upstream rate limit: retry after %s", e.RetryAfter)
}

// IsRateLimit checks whether err is an upstream rate-limit signal.
func IsRateLimit(err error) (*RateLimitError, bool) {
	rl, ok := err.(*RateLimitError)
	return rl, ok
}

// EntityInvalidError signals that the upstream rejected a resolution
// handle as stale or unknown. Cached entries must be evicted on sight.
type EntityInvalidError struct {
	SourceID int64
}

func (e *EntityInvalidError) Error() string {
	return fmt.Sprintf("entity invalid for source %d", e.SourceID)
}

// IsEntityInvalid checks whether err marks a stale resolution handle.
func IsEntityInvalid(err error) bool {
	_, ok := err.(*EntityInvalidError)
	return ok
}
