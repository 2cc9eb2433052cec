package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"telemirror/internal/constants"
	"telemirror/internal/metrics"
	"telemirror/internal/models"
	"telemirror/pkg/telegram/types"
)

// BackfillScheduler sweeps each source's recent history once: at
// startup for every known enabled source, and again whenever the
// periodic discovery diff finds a new one. Sources that already hold
// more than a small threshold of messages are skipped; they were
// backfilled before.
type BackfillScheduler struct {
	client    types.Client
	store     Store
	resolver  *Resolver
	queue     *IngestionQueue
	penalties *penaltyTracker
	logger    *logrus.Logger

	lookback          time.Duration
	skipThreshold     int
	discoveryInterval time.Duration
	pageSize          int

	throttleEvery int
	throttleSleep time.Duration

	known map[int64]bool
}

func NewBackfillScheduler(client types.Client, store Store, resolver *Resolver, queue *IngestionQueue, penalties *penaltyTracker, cfg models.BackfillConfig, logger *logrus.Logger) *BackfillScheduler {
	return &BackfillScheduler{
		client:            client,
		store:             store,
		resolver:          resolver,
		queue:             queue,
		penalties:         penalties,
		logger:            logger,
		lookback:          time.Duration(cfg.LookbackDays) * 24 * time.Hour,
		skipThreshold:     cfg.SkipThreshold,
		discoveryInterval: time.Duration(cfg.DiscoveryIntervalSec) * time.Second,
		pageSize:          constants.DefaultHistoryPageSize,
		throttleEvery:     constants.DefaultThrottleEveryNMessages,
		throttleSleep:     time.Duration(constants.DefaultThrottleSleepMs) * time.Millisecond,
		known:             make(map[int64]bool),
	}
}

// RunInitial backfills every currently enabled source, one at a time.
// Per-source failures are recorded and the sweep moves on; one bad
// source never halts the scheduler.
func (b *BackfillScheduler) RunInitial(ctx context.Context) {
	sources, err := b.store.ListEnabledSources(ctx)
	if err != nil {
		b.logger.WithError(err).Error("Failed to list sources for initial backfill")
		return
	}

	b.logger.WithField("sources", len(sources)).Info("Starting initial backfill sweep")
	for _, src := range sources {
		if ctx.Err() != nil {
			return
		}
		b.known[src.ExternalID] = true
		if err := b.BackfillSource(ctx, src.ExternalID, false); err != nil {
			b.logger.WithError(err).WithField("source_id", src.ExternalID).
				Warn("Backfill failed for source")
		}
	}
	b.logger.Info("Initial backfill sweep complete")
}

// RunDiscoveryLoop periodically diffs the enabled source set against
// what has been seen before and backfills newcomers.
func (b *BackfillScheduler) RunDiscoveryLoop(ctx context.Context) {
	ticker := time.NewTicker(b.discoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.discoverOnce(ctx)
		}
	}
}

func (b *BackfillScheduler) discoverOnce(ctx context.Context) {
	sources, err := b.store.ListEnabledSources(ctx)
	if err != nil {
		b.logger.WithError(err).Warn("Source discovery pass failed")
		return
	}

	for _, src := range sources {
		if b.known[src.ExternalID] {
			continue
		}
		b.known[src.ExternalID] = true
		b.logger.WithField("source_id", src.ExternalID).Info("Discovered new source")
		metrics.IncrementCounter("sources_discovered", nil, "new sources found by the discovery diff")

		if err := b.store.EnsureCrawlStatusRow(ctx, src.ExternalID); err != nil {
			b.logger.WithError(err).WithField("source_id", src.ExternalID).
				Warn("Failed to create crawl status row")
		}
		if err := b.BackfillSource(ctx, src.ExternalID, false); err != nil {
			b.logger.WithError(err).WithField("source_id", src.ExternalID).
				Warn("Backfill failed for new source")
		}
	}
}

// BackfillSource sweeps one source's history over the lookback window.
// forced skips the already-populated check; it backs the operator's
// force-backfill action.
func (b *BackfillScheduler) BackfillSource(ctx context.Context, sourceID int64, forced bool) error {
	if b.penalties.Blocked(sourceID) {
		b.logger.WithField("source_id", sourceID).Debug("Source rate-limit penalty active, skipping backfill")
		return nil
	}

	enabled, err := b.store.IsSourceEnabled(ctx, sourceID)
	if err == nil && !enabled {
		return nil
	}

	handle, err := b.resolver.Resolve(ctx, sourceID)
	if err != nil {
		b.recordSourceError(ctx, sourceID, err)
		return err
	}

	if !forced {
		count, err := b.store.CountMessages(ctx, sourceID)
		if err == nil && count > b.skipThreshold {
			b.logger.WithFields(logrus.Fields{
				"source_id": sourceID,
				"stored":    count,
			}).Debug("Source already populated, skipping backfill")
			return nil
		}
	}

	status := models.CrawlStateInitializing
	zero := 0
	if err := b.store.EnsureCrawlStatusRow(ctx, sourceID); err == nil {
		_ = b.store.UpdateCrawlStatus(ctx, sourceID, &status, &zero, nil)
	}

	since := time.Now().Add(-b.lookback)
	total, err := b.enumerate(ctx, handle, since, 0, true)
	if err != nil {
		b.recordSourceError(ctx, sourceID, err)
		return err
	}

	active := models.CrawlStateActive
	_ = b.store.UpdateCrawlStatus(ctx, sourceID, &active, &total, &total)
	b.logger.WithFields(logrus.Fields{
		"source_id": sourceID,
		"messages":  total,
	}).Info("Backfill complete for source")
	return nil
}

// enumerate pages through history after since, enqueueing each message
// for insert. Sleeps briefly every few hundred items to stay under the
// upstream's rate limits. Returns the number of messages enqueued.
// maxMessages <= 0 means unbounded within the window.
func (b *BackfillScheduler) enumerate(ctx context.Context, handle types.Handle, since time.Time, maxMessages int, broadcast bool) (int, error) {
	total := 0
	offsetID := int64(0)

	for {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}

		limit := b.pageSize
		if maxMessages > 0 && maxMessages-total < limit {
			limit = maxMessages - total
		}
		if limit <= 0 {
			return total, nil
		}

		page, err := b.fetchPage(ctx, handle, since, offsetID, limit)
		if err != nil {
			return total, err
		}
		if len(page) == 0 {
			return total, nil
		}

		for i := range page {
			b.queue.Enqueue(ctx, rawToItem(&page[i], models.ActionInsert, broadcast))
			total++
			if total%b.throttleEvery == 0 {
				select {
				case <-ctx.Done():
					return total, ctx.Err()
				case <-time.After(b.throttleSleep):
				}
			}
		}
		offsetID = page[len(page)-1].ID

		progress := total
		_ = b.store.UpdateCrawlStatus(ctx, handle.SourceID, nil, &progress, nil)
	}
}

// fetchPage wraps one history call with rate-limit handling: short
// waits are slept inline and the call retried, long waits become a
// per-source penalty. A stale handle is evicted before the error is
// surfaced.
func (b *BackfillScheduler) fetchPage(ctx context.Context, handle types.Handle, since time.Time, offsetID int64, limit int) ([]types.RawMessage, error) {
	for {
		page, err := b.client.FetchHistory(ctx, handle, since, offsetID, limit)
		if err == nil {
			return page, nil
		}

		if rl, ok := types.IsRateLimit(err); ok {
			if rl.RetryAfter <= time.Duration(constants.MaxInlineRateLimitWaitSec)*time.Second {
				b.logger.WithFields(logrus.Fields{
					"source_id":   handle.SourceID,
					"retry_after": rl.RetryAfter.String(),
				}).Warn("Rate limited, sleeping inline")
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(rl.RetryAfter):
				}
				continue
			}
			b.penalties.Penalize(handle.SourceID, rl.RetryAfter)
			return nil, err
		}

		if types.IsEntityInvalid(err) {
			b.resolver.Evict(ctx, handle.SourceID)
		}
		return nil, err
	}
}

func (b *BackfillScheduler) recordSourceError(ctx context.Context, sourceID int64, err error) {
	msg := err.Error()
	if dbErr := b.store.IncrementCrawlError(ctx, sourceID, msg); dbErr != nil {
		b.logger.WithError(dbErr).WithField("source_id", sourceID).
			Warn("Failed to record crawl error")
	}
	if dbErr := b.store.UpdateSourceLastError(ctx, sourceID, &msg); dbErr != nil {
		b.logger.WithError(dbErr).WithField("source_id", sourceID).
			Warn("Failed to record source error")
	}
}
