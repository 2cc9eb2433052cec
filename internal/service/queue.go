package service

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"telemirror/internal/features"
	"telemirror/internal/metrics"
	"telemirror/internal/models"
)

// IngestionQueue is the bounded FIFO buffer between event producers
// (live listener, backfill, gap-fill) and the single batch writer.
// Enqueue never blocks a producer: overflow is routed to the
// dead-letter sink instead.
type IngestionQueue struct {
	items chan models.QueueItem
	sink  *DeadLetterSink

	batchSize     int
	batchWindow   time.Duration
	firstItemWait time.Duration

	mu     sync.RWMutex
	closed bool

	logger *logrus.Logger
}

func NewIngestionQueue(capacity, batchSize int, batchWindow, firstItemWait time.Duration, sink *DeadLetterSink, logger *logrus.Logger) *IngestionQueue {
	return &IngestionQueue{
		items:         make(chan models.QueueItem, capacity),
		sink:          sink,
		batchSize:     batchSize,
		batchWindow:   batchWindow,
		firstItemWait: firstItemWait,
		logger:        logger,
	}
}

// Enqueue offers one item to the queue without blocking. On a full or
// closed queue the item is forwarded to the dead-letter sink in a
// detached task and false is returned.
func (q *IngestionQueue) Enqueue(ctx context.Context, item models.QueueItem) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.quarantine(item, "queue_closed")
		return false
	}

	select {
	case q.items <- item:
		metrics.SetGauge("queue_depth", float64(len(q.items)), nil, "pending items in the ingestion queue")
		return true
	default:
		q.logger.WithFields(logrus.Fields{
			"source_id":  item.Message.SourceID,
			"message_id": item.Message.ExternalMessageID,
		}).Warn("Ingestion queue full, routing to dead letter")
		metrics.IncrementCounter("queue_full_drops", nil, "enqueue attempts rejected by a full queue")
		q.quarantine(item, "queue_full")
		return false
	}
}

func (q *IngestionQueue) quarantine(item models.QueueItem, reason string) {
	// Detached: must not block or fail the producer.
	go q.sink.QuarantineItem(context.Background(), item, reason, 0)
}

// CollectBatch blocks up to the first-item wait for an item, then keeps
// collecting until the batch size is reached or the batch window
// elapses. Returns open=false once the queue is closed and drained.
func (q *IngestionQueue) CollectBatch(ctx context.Context) (batch []models.QueueItem, open bool) {
	firstWait := time.NewTimer(q.firstItemWait)
	defer firstWait.Stop()

	select {
	case item, ok := <-q.items:
		if !ok {
			return nil, false
		}
		batch = append(batch, item)
	case <-firstWait.C:
		return nil, true
	case <-ctx.Done():
		return nil, true
	}

	// Under backlog pressure, optionally double the batch cap for this
	// pass so the writer drains faster than producers refill.
	target := q.batchSize
	if features.IsEnabled(features.FlagAdaptiveBatching) && len(q.items) >= 2*q.batchSize {
		target = 2 * q.batchSize
	}

	window := time.NewTimer(q.batchWindow)
	defer window.Stop()

	for len(batch) < target {
		select {
		case item, ok := <-q.items:
			if !ok {
				// Closed mid-batch: deliver what we have, the next
				// call reports closure.
				return batch, true
			}
			batch = append(batch, item)
		case <-window.C:
			return batch, true
		case <-ctx.Done():
			return batch, true
		}
	}
	return batch, true
}

// Len reports the current queue depth.
func (q *IngestionQueue) Len() int {
	return len(q.items)
}

// Close stops accepting new items. Items already queued remain
// collectable until drained.
func (q *IngestionQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.items)
}
