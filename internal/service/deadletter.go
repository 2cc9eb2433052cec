package service

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"telemirror/internal/constants"
	"telemirror/internal/metrics"
	"telemirror/internal/models"
)

// DeadLetterSink quarantines message payloads that could not be
// committed. Entries go to the dead_letters table; when the store
// itself is the thing that is down, they fall back to a local JSONL
// file so nothing is ever silently discarded.
type DeadLetterSink struct {
	store        Store
	fallbackPath string
	maxFileBytes int64
	logger       *logrus.Logger

	fileMu sync.Mutex
}

func NewDeadLetterSink(store Store, fallbackPath string, logger *logrus.Logger) *DeadLetterSink {
	return &DeadLetterSink{
		store:        store,
		fallbackPath: fallbackPath,
		maxFileBytes: constants.DefaultDeadLetterFileMaxBytes,
		logger:       logger,
	}
}

// Quarantine stores one entry, truncating oversized error text. Always
// returns; a store failure degrades to the file fallback.
func (s *DeadLetterSink) Quarantine(ctx context.Context, entry *models.DeadLetterEntry) {
	if len(entry.ErrorMessage) > constants.MaxDeadLetterErrorLen {
		entry.ErrorMessage = entry.ErrorMessage[:constants.MaxDeadLetterErrorLen]
	}

	if err := s.store.SaveDeadLetter(ctx, entry); err != nil {
		s.logger.WithError(err).Error("Failed to save dead letter to store, falling back to file")
		s.writeToFile(entry)
	}
	metrics.IncrementCounter("dead_letters_total", nil, "payloads routed to the dead-letter sink")
}

// QuarantineItem wraps a queue item into a dead-letter entry.
func (s *DeadLetterSink) QuarantineItem(ctx context.Context, item models.QueueItem, reason string, retryCount int) {
	payload, err := json.Marshal(item.Message)
	if err != nil {
		// Message is a plain struct; this cannot realistically fail,
		// but a dead letter with an empty payload still beats a loss.
		s.logger.WithError(err).Error("Failed to marshal dead letter payload")
		payload = []byte("{}")
	}

	externalID := item.Message.ExternalMessageID
	sourceID := item.Message.SourceID
	s.Quarantine(ctx, &models.DeadLetterEntry{
		ExternalMessageID: &externalID,
		SourceID:          &sourceID,
		Payload:           payload,
		ErrorMessage:      reason,
		RetryCount:        retryCount,
	})
}

// writeToFile appends one JSONL record to the fallback file, capped at
// maxFileBytes. Past the cap entries are dropped with a loud log line;
// an unbounded file on a machine whose database is already down would
// only convert one outage into two.
func (s *DeadLetterSink) writeToFile(entry *models.DeadLetterEntry) {
	s.fileMu.Lock()
	defer s.fileMu.Unlock()

	if info, err := os.Stat(s.fallbackPath); err == nil && info.Size() >= s.maxFileBytes {
		s.logger.WithField("path", s.fallbackPath).
			Error("Dead letter fallback file is full, dropping entry")
		return
	}

	record := map[string]interface{}{
		"external_message_id": entry.ExternalMessageID,
		"source_id":           entry.SourceID,
		"payload":             json.RawMessage(entry.Payload),
		"error_message":       entry.ErrorMessage,
		"retry_count":         entry.RetryCount,
		"created_at":          time.Now().UTC().Format(time.RFC3339),
	}
	line, err := json.Marshal(record)
	if err != nil {
		s.logger.WithError(err).Error("Failed to marshal dead letter fallback record")
		return
	}

	f, err := os.OpenFile(s.fallbackPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		s.logger.WithError(err).Error("Failed to open dead letter fallback file")
		return
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		s.logger.WithError(err).Error("Failed to write dead letter fallback record")
	}
}
