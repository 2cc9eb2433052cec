package models

// QueueAction tells the batch writer how to persist a queued message.
type QueueAction string

const (
	// ActionInsert is a first-seen message; duplicates are ignored on conflict.
	ActionInsert QueueAction = "insert"
	// ActionUpsert is an edited message; the latest payload wins on conflict.
	ActionUpsert QueueAction = "upsert"
)

// QueueItem is the single shape that flows through the ingestion queue.
// Protocol-specific event types are converted into this at the listener
// boundary; the queue and writer never see upstream wire types.
type QueueItem struct {
	Action  QueueAction
	Message Message
	// Broadcast suppresses change notifications for gap-fill re-deliveries,
	// which are almost always duplicates the store will ignore.
	Broadcast bool
	// Malformed marks a payload that failed boundary validation; the
	// writer routes it straight to the dead-letter sink without retrying.
	Malformed bool
}
