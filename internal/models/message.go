package models

import (
	"time"
)

// MediaType classifies the media attached to a message. An empty value
// means plain text.
type MediaType string

const (
	MediaTypePhoto    MediaType = "photo"
	MediaTypeVideo    MediaType = "video"
	MediaTypeDocument MediaType = "document"
	MediaTypeAudio    MediaType = "audio"
	MediaTypeVoice    MediaType = "voice"
	MediaTypeSticker  MediaType = "sticker"
)

// Message is one chat message mirrored from an upstream source.
// The pair (ExternalMessageID, SourceID) is globally unique and serves
// as the idempotency key for every upsert.
type Message struct {
	ID                int64      `json:"id" db:"id"`
	ExternalMessageID int64      `json:"external_message_id" db:"external_message_id"`
	SourceID          int64      `json:"source_id" db:"source_id"`
	SenderID          *int64     `json:"sender_id,omitempty" db:"sender_id"`
	SenderName        *string    `json:"sender_name,omitempty" db:"sender_name"`
	Content           *string    `json:"content,omitempty" db:"content"`
	MediaType         *MediaType `json:"media_type,omitempty" db:"media_type"`
	MediaURL          *string    `json:"media_url,omitempty" db:"media_url"`
	ReplyToMessageID  *int64     `json:"reply_to_message_id,omitempty" db:"reply_to_message_id"`
	TopicID           *int64     `json:"topic_id,omitempty" db:"topic_id"`
	TopicTitle        *string    `json:"topic_title,omitempty" db:"topic_title"`
	Deleted           bool       `json:"is_deleted" db:"is_deleted"`
	EditCount         int        `json:"edit_count" db:"edit_count"`
	SentAt            time.Time  `json:"sent_at" db:"sent_at"`
	EditedAt          *time.Time `json:"edited_at,omitempty" db:"edited_at"`
	IngestedAt        time.Time  `json:"ingested_at" db:"ingested_at"`
}
