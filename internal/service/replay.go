package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"telemirror/internal/errors"
	"telemirror/internal/metrics"
	"telemirror/internal/models"
)

// ReplayService re-ingests a quarantined dead-letter payload through
// the normal writer path. The entry is marked resolved once the queue
// accepts it; if the write later fails again, the writer quarantines
// the payload as a fresh entry, preserving the audit trail.
type ReplayService struct {
	store  Store
	queue  *IngestionQueue
	logger *logrus.Logger
}

func NewReplayService(store Store, queue *IngestionQueue, logger *logrus.Logger) *ReplayService {
	return &ReplayService{store: store, queue: queue, logger: logger}
}

// Replay re-enqueues one dead-letter entry by ID.
func (r *ReplayService) Replay(ctx context.Context, id int64) error {
	entry, err := r.store.GetDeadLetter(ctx, id)
	if err != nil {
		return errors.NewDatabaseError("get dead letter", err)
	}
	if entry == nil {
		return errors.NewNotFoundError("dead letter", id)
	}
	if entry.Resolved {
		return errors.New(errors.ErrCodeInternalError, fmt.Sprintf("dead letter %d already resolved", id))
	}

	var msg models.Message
	if err := json.Unmarshal(entry.Payload, &msg); err != nil {
		return errors.NewMalformedPayloadError(fmt.Sprintf("dead letter %d payload is not replayable: %v", id, err))
	}
	if msg.ExternalMessageID == 0 || msg.SourceID == 0 {
		return errors.NewMalformedPayloadError(fmt.Sprintf("dead letter %d payload is missing its idempotency key", id))
	}

	item := models.QueueItem{
		Action:    models.ActionInsert,
		Message:   msg,
		Broadcast: true,
	}
	if !r.queue.Enqueue(ctx, item) {
		return errors.New(errors.ErrCodeInternalError, "ingestion queue rejected the replayed payload")
	}

	if err := r.store.ResolveDeadLetter(ctx, id); err != nil {
		return errors.NewDatabaseError("resolve dead letter", err)
	}

	metrics.IncrementCounter("dead_letters_replayed", nil, "dead-letter entries replayed by an operator")
	r.logger.WithFields(logrus.Fields{
		"dead_letter_id": id,
		"source_id":      msg.SourceID,
		"message_id":     msg.ExternalMessageID,
	}).Info("Dead letter replayed")
	return nil
}
