package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"telemirror/internal/constants"
	"telemirror/internal/database"
	"telemirror/internal/metrics"
	"telemirror/internal/models"
	"telemirror/internal/retry"
	"telemirror/internal/tracing"
	"telemirror/pkg/circuitbreaker"
)

// BatchWriter is the single consumer of the ingestion queue. It
// composes adaptive batches, writes them through retry-with-backoff
// behind the circuit breaker, fans committed rows out to the change
// notifier, and routes anything that cannot be committed to the
// dead-letter sink.
type BatchWriter struct {
	queue    *IngestionQueue
	store    Store
	breaker  *circuitbreaker.CircuitBreaker
	notifier Notifier
	sink     *DeadLetterSink
	backoff  *retry.Backoff
	logger   *logrus.Logger

	retryAttempts  int
	persistTimeout time.Duration
}

func NewBatchWriter(queue *IngestionQueue, store Store, breaker *circuitbreaker.CircuitBreaker, notifier Notifier, sink *DeadLetterSink, logger *logrus.Logger) *BatchWriter {
	return &BatchWriter{
		queue:          queue,
		store:          store,
		breaker:        breaker,
		notifier:       notifier,
		sink:           sink,
		backoff:        retry.NewBackoff(retry.WriteBackoffConfig()),
		logger:         logger,
		retryAttempts:  retry.WriteBackoffConfig().MaxAttempts,
		persistTimeout: time.Duration(constants.DefaultPersistCallTimeoutSec) * time.Second,
	}
}

// Run drains the queue until it is closed and empty. ctx only bounds
// individual write attempts; the loop itself exits through queue
// closure so a staged shutdown can flush everything still buffered.
func (w *BatchWriter) Run(ctx context.Context) {
	w.logger.Info("Batch writer started")
	for {
		batch, open := w.queue.CollectBatch(ctx)
		if len(batch) > 0 {
			w.Flush(ctx, batch)
		}
		if !open {
			w.logger.Info("Batch writer stopped, queue drained")
			return
		}
	}
}

// Flush persists one collected batch.
func (w *BatchWriter) Flush(ctx context.Context, batch []models.QueueItem) {
	start := time.Now()
	spanCtx, span := tracing.StartSpan(ctx, "batch.flush",
		attribute.Int("batch.size", len(batch)))
	defer span.End()

	// Malformed payloads are fatal per item: no write can fix them.
	writable := batch[:0:0]
	for _, item := range batch {
		if item.Malformed {
			w.sink.QuarantineItem(spanCtx, item, "malformed payload", 0)
			continue
		}
		writable = append(writable, item)
	}
	if len(writable) == 0 {
		return
	}

	// Breaker open: shed the whole batch without touching the backend.
	if w.breaker.IsOpen() {
		w.logger.WithField("batch_size", len(writable)).
			Warn("Circuit breaker open, shedding batch to dead letter")
		for _, item := range writable {
			w.sink.QuarantineItem(spanCtx, item, "circuit breaker open", 0)
		}
		metrics.AddToCounter("batch_shed", float64(len(writable)), nil, "items shed while the breaker was open")
		return
	}

	err := w.backoff.RetryWithPredicate(spanCtx, func() error {
		writeCtx, cancel := context.WithTimeout(spanCtx, w.persistTimeout)
		defer cancel()
		return w.writeBatch(writeCtx, writable)
	}, database.IsRetryableError)

	if err != nil {
		tracing.RecordError(spanCtx, err)
		w.handleBatchFailure(spanCtx, writable, err)
		return
	}

	w.breaker.RecordSuccess()
	w.afterCommit(spanCtx, writable)
	metrics.RecordTimer("batch_flush", time.Since(start), nil, "time to flush one batch")
	metrics.AddToCounter("messages_written", float64(len(writable)), nil, "messages committed to the store")
}

// writeBatch issues the smallest write that covers the batch: a single
// upsert for a lone insert, one multi-row upsert otherwise. Edits go
// through per-row upserts because their conflict action differs.
func (w *BatchWriter) writeBatch(ctx context.Context, batch []models.QueueItem) error {
	var inserts []*models.Message
	var edits []*models.Message
	for i := range batch {
		msg := &batch[i].Message
		if batch[i].Action == models.ActionUpsert {
			edits = append(edits, msg)
		} else {
			inserts = append(inserts, msg)
		}
	}

	switch {
	case len(inserts) == 1:
		if _, err := w.store.UpsertMessageIgnore(ctx, inserts[0]); err != nil {
			return err
		}
	case len(inserts) > 1:
		if _, err := w.store.UpsertMessageBatchIgnore(ctx, inserts); err != nil {
			return err
		}
	}

	for _, msg := range edits {
		if err := w.store.UpsertMessageEdit(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

// handleBatchFailure runs after batch retries are exhausted. A single
// bad row must not silently poison its batch, so multi-item batches
// fall back to one write attempt per item; whatever still fails is
// quarantined. The breaker records exactly one failure for the whole
// exhausted sequence.
func (w *BatchWriter) handleBatchFailure(ctx context.Context, batch []models.QueueItem, batchErr error) {
	w.logger.WithError(batchErr).WithField("batch_size", len(batch)).
		Error("Batch write failed after retries")
	w.breaker.RecordFailure()
	attempts := w.retryAttempts

	if len(batch) == 1 {
		w.sink.QuarantineItem(ctx, batch[0], batchErr.Error(), attempts)
		return
	}

	var committed []models.QueueItem
	for _, item := range batch {
		itemCtx, cancel := context.WithTimeout(ctx, w.persistTimeout)
		err := w.writeBatch(itemCtx, []models.QueueItem{item})
		cancel()
		if err != nil {
			w.sink.QuarantineItem(ctx, item, err.Error(), attempts)
			continue
		}
		committed = append(committed, item)
	}
	if len(committed) > 0 {
		w.logger.WithFields(logrus.Fields{
			"committed": len(committed),
			"failed":    len(batch) - len(committed),
		}).Info("Per-item fallback salvaged part of a failed batch")
		w.afterCommit(ctx, committed)
	}
}

// afterCommit updates per-source crawl status and fans committed rows
// out to the change notifier.
func (w *BatchWriter) afterCommit(ctx context.Context, batch []models.QueueItem) {
	latest := make(map[int64]time.Time)
	for _, item := range batch {
		if item.Message.SentAt.After(latest[item.Message.SourceID]) {
			latest[item.Message.SourceID] = item.Message.SentAt
		}
	}

	for sourceID, lastAt := range latest {
		if err := w.store.EnsureCrawlStatusRow(ctx, sourceID); err != nil {
			w.logger.WithError(err).WithField("source_id", sourceID).
				Warn("Failed to ensure crawl status row")
			continue
		}
		if err := w.store.RecordSourceSuccess(ctx, sourceID, lastAt); err != nil {
			w.logger.WithError(err).WithField("source_id", sourceID).
				Warn("Failed to update crawl status after commit")
		}
	}

	for _, item := range batch {
		if !item.Broadcast {
			continue
		}
		kind := "insert"
		if item.Action == models.ActionUpsert {
			kind = "update"
		}
		w.notifier.Publish(ctx, kind, item.Message)
	}
}
