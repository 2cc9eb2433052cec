package service

import (
	"time"

	"telemirror/internal/media"
	"telemirror/internal/models"
	"telemirror/pkg/telegram/types"
)

// rawToItem converts a gateway message into the queue's closed record
// shape. Protocol wire types never travel past this boundary. Payloads
// missing their idempotency key or timestamp are tagged malformed so
// the writer routes them straight to quarantine.
func rawToItem(raw *types.RawMessage, action models.QueueAction, broadcast bool) models.QueueItem {
	item := models.QueueItem{
		Action:    action,
		Broadcast: broadcast,
		Message: models.Message{
			ExternalMessageID: raw.ID,
			SourceID:          raw.SourceID,
			SentAt:            raw.SentAt,
		},
	}

	if raw.ID == 0 || raw.SourceID == 0 || raw.SentAt.IsZero() {
		item.Malformed = true
		return item
	}

	msg := &item.Message
	if raw.SenderID != 0 {
		msg.SenderID = &raw.SenderID
	}
	if raw.SenderName != "" {
		msg.SenderName = &raw.SenderName
	}
	if raw.Text != "" {
		msg.Content = &raw.Text
	}
	if raw.Media != nil {
		mt := media.Classify(raw.Media.Type, raw.Media.URL)
		msg.MediaType = &mt
		if raw.Media.URL != "" {
			msg.MediaURL = &raw.Media.URL
		}
	}
	if raw.ReplyToID != 0 {
		msg.ReplyToMessageID = &raw.ReplyToID
	}
	if raw.TopicID != 0 {
		msg.TopicID = &raw.TopicID
	}
	if raw.TopicTitle != "" {
		msg.TopicTitle = &raw.TopicTitle
	}

	if action == models.ActionUpsert {
		now := time.Now().UTC()
		msg.EditedAt = &now
	}
	return item
}
