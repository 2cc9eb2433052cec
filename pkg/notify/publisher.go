package notify

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/sirupsen/logrus"
)

// Channel is the single Postgres NOTIFY channel shared by all sources.
// Event volume is low enough for one channel, and the store's
// replication-log mechanism does not scale to a channel per source.
const Channel = "message_events"

// SourceTopic is the fixed logical topic carried in every envelope.
const SourceTopic = "messages"

const (
	// Postgres caps NOTIFY payloads at 8000 bytes; stay under with headroom.
	maxPayloadBytes   = 7900
	contentTruncateAt = 200
)

// Envelope is the published wire format.
type Envelope struct {
	EventKind   string          `json:"eventKind"`
	SourceTopic string          `json:"sourceTopic"`
	Row         json.RawMessage `json:"row"`
}

// Publisher pushes committed rows to the dashboard's side channel via
// pg_notify. Delivery is best-effort: failures are logged, never
// retried, and never block the caller.
type Publisher struct {
	db     *sql.DB
	logger *logrus.Logger
}

// NewPublisher creates a change notifier backed by the given connection pool.
func NewPublisher(db *sql.DB, logger *logrus.Logger) *Publisher {
	return &Publisher{db: db, logger: logger}
}

// Publish sends one committed row to the side channel. eventKind is
// "insert" or "update".
func (p *Publisher) Publish(ctx context.Context, eventKind string, row interface{}) {
	rowData, err := json.Marshal(row)
	if err != nil {
		p.logger.WithError(err).WithField("event_kind", eventKind).Warn("Change notify marshal failed")
		return
	}

	payload, err := json.Marshal(Envelope{EventKind: eventKind, SourceTopic: SourceTopic, Row: rowData})
	if err != nil {
		p.logger.WithError(err).Warn("Change notify envelope marshal failed")
		return
	}

	if len(payload) > maxPayloadBytes {
		payload = truncateContent(eventKind, rowData)
		if payload == nil {
			p.logger.WithField("event_kind", eventKind).Warn("Change notify payload too large even after truncation, dropping")
			return
		}
	}

	if _, err := p.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", Channel, string(payload)); err != nil {
		p.logger.WithError(err).WithField("event_kind", eventKind).Warn("Change notify failed")
	}
}

// truncateContent shortens the row's content field so the envelope fits
// the NOTIFY limit. Returns nil when the row cannot be salvaged.
func truncateContent(eventKind string, rowData []byte) []byte {
	var row map[string]interface{}
	if err := json.Unmarshal(rowData, &row); err != nil {
		return nil
	}

	content, _ := row["content"].(string)
	if len(content) > contentTruncateAt {
		row["content"] = content[:contentTruncateAt] + "..."
	}

	shortRow, err := json.Marshal(row)
	if err != nil {
		return nil
	}
	payload, err := json.Marshal(Envelope{EventKind: eventKind, SourceTopic: SourceTopic, Row: shortRow})
	if err != nil || len(payload) > maxPayloadBytes {
		return nil
	}
	return payload
}
