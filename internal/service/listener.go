package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"telemirror/internal/constants"
	"telemirror/internal/errors"
	"telemirror/internal/metrics"
	"telemirror/internal/models"
	"telemirror/internal/privacy"
	"telemirror/pkg/telegram/types"
)

// ListenerState is the reconnect supervisor's externally visible state.
type ListenerState int32

const (
	ListenerIdle ListenerState = iota
	ListenerConnected
	ListenerReconnecting
	ListenerStopped
)

func (s ListenerState) String() string {
	switch s {
	case ListenerIdle:
		return "idle"
	case ListenerConnected:
		return "connected"
	case ListenerReconnecting:
		return "reconnecting"
	case ListenerStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// LiveListener subscribes to the gateway's push event stream and keeps
// the connection alive. Reconnects are bounded: after the attempt
// ceiling it stops for good and waits for an operator restart, so a
// revoked credential never turns into an infinite retry storm.
type LiveListener struct {
	client   types.Client
	queue    *IngestionQueue
	store    Store
	resolver *Resolver
	notifier Notifier
	logger   *logrus.Logger

	reconnectDelay time.Duration
	maxReconnects  int
	persistTimeout time.Duration

	state atomic.Int32

	// Per-source enabled flags, cached briefly so the hot event path
	// does not hit the store per message.
	enabledMu    sync.Mutex
	enabledCache map[int64]enabledEntry
	enabledTTL   time.Duration

	now func() time.Time
}

type enabledEntry struct {
	enabled   bool
	fetchedAt time.Time
}

func NewLiveListener(client types.Client, queue *IngestionQueue, store Store, resolver *Resolver, notifier Notifier, logger *logrus.Logger) *LiveListener {
	return &LiveListener{
		client:         client,
		queue:          queue,
		store:          store,
		resolver:       resolver,
		notifier:       notifier,
		logger:         logger,
		reconnectDelay: time.Duration(constants.DefaultReconnectDelaySec) * time.Second,
		maxReconnects:  constants.DefaultMaxReconnectAttempts,
		persistTimeout: time.Duration(constants.DefaultPersistCallTimeoutSec) * time.Second,
		enabledCache:   make(map[int64]enabledEntry),
		enabledTTL:     time.Duration(constants.DefaultEnabledCacheTTLSec) * time.Second,
		now:            time.Now,
	}
}

// State reports the supervisor's current state.
func (l *LiveListener) State() ListenerState {
	return ListenerState(l.state.Load())
}

// Run drives the connect/consume/reconnect state machine until ctx is
// cancelled or the reconnect ceiling is hit. The returned error is
// terminal; nil means a clean shutdown.
func (l *LiveListener) Run(ctx context.Context) error {
	attempts := 0
	for {
		stream, err := l.client.Subscribe(ctx)
		if err != nil {
			if ctx.Err() != nil {
				l.state.Store(int32(ListenerStopped))
				return nil
			}
			attempts++
			l.state.Store(int32(ListenerReconnecting))
			metrics.IncrementCounter("listener_reconnects", nil, "live listener reconnect attempts")
			l.logger.WithError(err).WithFields(logrus.Fields{
				"attempt":      attempts,
				"max_attempts": l.maxReconnects,
			}).Warn("Event stream connect failed")

			if attempts >= l.maxReconnects {
				l.state.Store(int32(ListenerStopped))
				return errors.NewConnectivityError(
					fmt.Sprintf("event stream lost after %d reconnect attempts", attempts), err)
			}
			select {
			case <-ctx.Done():
				l.state.Store(int32(ListenerStopped))
				return nil
			case <-time.After(l.reconnectDelay):
			}
			continue
		}

		// A live connection resets the reconnect budget.
		attempts = 0
		l.state.Store(int32(ListenerConnected))
		l.logger.Info("Event stream connected")

		err = l.consume(ctx, stream)
		_ = stream.Close()
		if ctx.Err() != nil {
			l.state.Store(int32(ListenerStopped))
			return nil
		}
		l.logger.WithError(err).Warn("Event stream dropped")
		l.state.Store(int32(ListenerReconnecting))
		select {
		case <-ctx.Done():
			l.state.Store(int32(ListenerStopped))
			return nil
		case <-time.After(l.reconnectDelay):
		}
	}
}

func (l *LiveListener) consume(ctx context.Context, stream types.EventStream) error {
	for {
		event, err := stream.Next(ctx)
		if err != nil {
			return err
		}
		l.handleEvent(ctx, event)
	}
}

func (l *LiveListener) handleEvent(ctx context.Context, event *types.Event) {
	if !l.isSourceEnabled(ctx, event.SourceID) {
		return
	}

	switch event.Type {
	case types.EventNewMessage:
		if event.Message == nil {
			return
		}
		if l.logger.IsLevelEnabled(logrus.DebugLevel) {
			l.logger.WithFields(logrus.Fields{
				"source_id":  event.SourceID,
				"message_id": event.Message.ID,
				"sender":     privacy.MaskSenderName(event.Message.SenderName),
				"content":    privacy.ContentPreview(event.Message.Text, IsVerboseLogging(ctx)),
			}).Debug("Live message received")
		}
		l.queue.Enqueue(ctx, rawToItem(event.Message, models.ActionInsert, true))
		metrics.IncrementCounter("events_new_message", nil, "new-message events received")

	case types.EventMessageEdited:
		if event.Message == nil {
			return
		}
		l.queue.Enqueue(ctx, rawToItem(event.Message, models.ActionUpsert, true))
		metrics.IncrementCounter("events_message_edited", nil, "edited-message events received")

	case types.EventMessageDeleted:
		// Applied synchronously, outside the batching path: a targeted
		// soft-delete must not sit behind queued inserts where a
		// gap-fill re-sweep could race it.
		l.applyDeletes(ctx, event.SourceID, event.DeletedIDs)

	case types.EventSourceMigrated:
		l.handleMigration(ctx, event.SourceID, event.MigratedTo)

	default:
		l.logger.WithField("type", string(event.Type)).Debug("Ignoring unknown event type")
	}
}

func (l *LiveListener) applyDeletes(ctx context.Context, sourceID int64, ids []int64) {
	if len(ids) == 0 {
		return
	}
	deleteCtx, cancel := context.WithTimeout(ctx, l.persistTimeout)
	defer cancel()

	n, err := l.store.MarkMessagesDeleted(deleteCtx, sourceID, ids)
	if err != nil {
		l.logger.WithError(err).WithFields(logrus.Fields{
			"source_id": sourceID,
			"count":     len(ids),
		}).Error("Failed to apply message deletions")
		return
	}
	metrics.AddToCounter("events_message_deleted", float64(n), nil, "messages soft-deleted from live events")

	for _, id := range ids {
		l.notifier.Publish(ctx, "update", map[string]interface{}{
			"external_message_id": id,
			"source_id":           sourceID,
			"is_deleted":          true,
		})
	}
}

// handleMigration marks a source whose upstream identifier was
// reassigned. No automatic remediation: message rows keyed by the old
// identifier need an explicit out-of-band remapping migration.
func (l *LiveListener) handleMigration(ctx context.Context, sourceID, migratedTo int64) {
	l.logger.WithFields(logrus.Fields{
		"source_id":   sourceID,
		"migrated_to": migratedTo,
	}).Error("Source identifier migrated upstream")

	l.resolver.Evict(ctx, sourceID)
	msg := fmt.Sprintf("source migrated to %d; requires out-of-band remapping", migratedTo)
	if err := l.store.IncrementCrawlError(ctx, sourceID, msg); err != nil {
		l.logger.WithError(err).Warn("Failed to record source migration")
	}
}

func (l *LiveListener) isSourceEnabled(ctx context.Context, sourceID int64) bool {
	l.enabledMu.Lock()
	entry, ok := l.enabledCache[sourceID]
	l.enabledMu.Unlock()
	if ok && l.now().Sub(entry.fetchedAt) < l.enabledTTL {
		return entry.enabled
	}

	enabled, err := l.store.IsSourceEnabled(ctx, sourceID)
	if err != nil {
		l.logger.WithError(err).WithField("source_id", sourceID).
			Warn("Failed to check source enabled flag, assuming enabled")
		return true
	}

	l.enabledMu.Lock()
	l.enabledCache[sourceID] = enabledEntry{enabled: enabled, fetchedAt: l.now()}
	l.enabledMu.Unlock()
	return enabled
}
