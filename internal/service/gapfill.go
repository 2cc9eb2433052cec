package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"telemirror/internal/metrics"
	"telemirror/internal/models"
)

// GapFillScheduler re-sweeps a short recent window for every monitored
// source on a fixed interval, closing any hole between a disconnect and
// a successful reconnect. It leans entirely on the writer's idempotent
// upsert: redundant re-delivery is a storage no-op, and broadcast is
// suppressed so the dashboard is not spammed with rows it already has.
type GapFillScheduler struct {
	backfill *BackfillScheduler
	store    Store
	resolver *Resolver
	logger   *logrus.Logger

	interval    time.Duration
	lookback    time.Duration
	maxMessages int
}

func NewGapFillScheduler(backfill *BackfillScheduler, store Store, resolver *Resolver, cfg models.GapFillConfig, logger *logrus.Logger) *GapFillScheduler {
	return &GapFillScheduler{
		backfill:    backfill,
		store:       store,
		resolver:    resolver,
		logger:      logger,
		interval:    time.Duration(cfg.IntervalSec) * time.Second,
		lookback:    time.Duration(cfg.LookbackHours) * time.Hour,
		maxMessages: cfg.MaxMessages,
	}
}

// Run executes gap-fill passes until ctx is cancelled.
func (g *GapFillScheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.runPass(ctx)
		}
	}
}

func (g *GapFillScheduler) runPass(ctx context.Context) {
	sources, err := g.store.ListEnabledSources(ctx)
	if err != nil {
		g.logger.WithError(err).Warn("Gap-fill pass failed to list sources")
		return
	}

	start := time.Now()
	swept := 0
	for _, src := range sources {
		if ctx.Err() != nil {
			return
		}
		if err := g.sweepSource(ctx, src.ExternalID); err != nil {
			g.logger.WithError(err).WithField("source_id", src.ExternalID).
				Debug("Gap-fill sweep failed for source")
			continue
		}
		swept++
	}

	metrics.IncrementCounter("gapfill_passes", nil, "completed gap-fill passes")
	g.logger.WithFields(logrus.Fields{
		"sources":  swept,
		"duration": time.Since(start).String(),
	}).Info("Gap-fill pass complete")
}

func (g *GapFillScheduler) sweepSource(ctx context.Context, sourceID int64) error {
	if g.backfill.penalties.Blocked(sourceID) {
		return nil
	}

	handle, err := g.resolver.Resolve(ctx, sourceID)
	if err != nil {
		return err
	}

	since := time.Now().Add(-g.lookback)
	_, err = g.backfill.enumerate(ctx, handle, since, g.maxMessages, false)
	return err
}
