package service

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"telemirror/internal/constants"
	"telemirror/internal/errors"
	"telemirror/internal/metrics"
	"telemirror/internal/models"
	"telemirror/pkg/telegram/types"
)

// Resolver turns a bare external source identifier into the concrete
// handle upstream calls need, through three tiers: in-memory cache,
// direct single-entity lookup, then a bulk dialog enumeration warmup.
// Entries survive restarts via the resolved_identifiers table.
type Resolver struct {
	client types.Client
	store  Store
	logger *logrus.Logger

	mu    sync.RWMutex
	cache map[int64]types.Handle

	// Dialog enumeration is expensive and rate-limit hostile; at most
	// one warmup per cooldown window.
	dialogsCooldown time.Duration
	lastDialogsAt   time.Time

	now func() time.Time
}

func NewResolver(client types.Client, store Store, logger *logrus.Logger) *Resolver {
	return &Resolver{
		client:          client,
		store:           store,
		logger:          logger,
		cache:           make(map[int64]types.Handle),
		dialogsCooldown: time.Duration(constants.DefaultDialogsCooldownSec) * time.Second,
		now:             time.Now,
	}
}

// WarmFromStore loads the persisted resolution cache. Called once at
// startup; a failure here is logged and ignored since every entry is
// advisory.
func (r *Resolver) WarmFromStore(ctx context.Context) {
	entries, err := r.store.LoadResolvedIdentifiers(ctx)
	if err != nil {
		r.logger.WithError(err).Warn("Failed to warm resolver cache from store")
		return
	}

	r.mu.Lock()
	for _, e := range entries {
		r.cache[e.SourceID] = types.Handle{
			SourceID:   e.SourceID,
			AccessHash: e.AccessHash,
			Kind:       e.EntityKind,
		}
	}
	size := len(r.cache)
	r.mu.Unlock()

	r.logger.WithField("entries", size).Info("Resolver cache warmed from store")
}

// Resolve returns the handle for a source, consulting each tier in
// order. Fails with a resolution error only after all tiers are
// exhausted; callers must not retry in a tight loop.
func (r *Resolver) Resolve(ctx context.Context, sourceID int64) (types.Handle, error) {
	r.mu.RLock()
	handle, ok := r.cache[sourceID]
	r.mu.RUnlock()
	if ok {
		metrics.IncrementCounter("resolver_cache_hits", nil, "resolver in-memory cache hits")
		return handle, nil
	}
	metrics.IncrementCounter("resolver_cache_misses", nil, "resolver in-memory cache misses")

	handle, err := r.directLookup(ctx, sourceID)
	if err == nil {
		r.remember(ctx, handle)
		return handle, nil
	}
	if _, ok := types.IsRateLimit(err); ok {
		return types.Handle{}, err
	}

	if warmed := r.warmFromDialogs(ctx); warmed {
		r.mu.RLock()
		handle, ok = r.cache[sourceID]
		r.mu.RUnlock()
		if ok {
			return handle, nil
		}
	}

	return types.Handle{}, errors.NewResolutionError(sourceID, err)
}

// directLookup tries the two candidate peer shapes in order. The
// channel shape covers channels and supergroups, which dominate.
func (r *Resolver) directLookup(ctx context.Context, sourceID int64) (types.Handle, error) {
	var lastErr error
	for _, kind := range []types.PeerKind{types.PeerChannel, types.PeerChat} {
		handle, err := r.client.ResolveEntity(ctx, types.PeerShape{Kind: kind, ID: sourceID})
		if err == nil {
			return *handle, nil
		}
		if _, ok := types.IsRateLimit(err); ok {
			return types.Handle{}, err
		}
		lastErr = err
	}
	return types.Handle{}, lastErr
}

// warmFromDialogs bulk-enumerates every source the session can see,
// populating the cache as a side effect. Returns false when skipped by
// the cooldown or on failure.
func (r *Resolver) warmFromDialogs(ctx context.Context) bool {
	r.mu.Lock()
	if r.now().Sub(r.lastDialogsAt) < r.dialogsCooldown {
		r.mu.Unlock()
		return false
	}
	r.lastDialogsAt = r.now()
	r.mu.Unlock()

	dialogs, err := r.client.EnumerateDialogs(ctx)
	if err != nil {
		r.logger.WithError(err).Warn("Dialog enumeration warmup failed")
		return false
	}

	for _, d := range dialogs {
		r.remember(ctx, d.Handle)
	}
	r.logger.WithField("dialogs", len(dialogs)).Debug("Resolver cache warmed from dialog enumeration")
	return true
}

// remember stores a handle in memory and, best-effort, durably. A
// persistence failure never fails the resolution itself.
func (r *Resolver) remember(ctx context.Context, handle types.Handle) {
	r.mu.Lock()
	r.cache[handle.SourceID] = handle
	r.mu.Unlock()

	entry := &models.ResolvedIdentifier{
		SourceID:   handle.SourceID,
		AccessHash: handle.AccessHash,
		EntityKind: handle.Kind,
	}
	if err := r.store.SaveResolvedIdentifier(ctx, entry); err != nil {
		r.logger.WithError(err).WithField("source_id", handle.SourceID).
			Warn("Failed to persist resolved identifier")
	}
}

// Evict drops a stale entry from memory and the durable store. Called
// when the upstream rejects a cached handle as invalid, so the next
// resolution is forced through the lookup tiers.
func (r *Resolver) Evict(ctx context.Context, sourceID int64) {
	r.mu.Lock()
	delete(r.cache, sourceID)
	r.mu.Unlock()

	if err := r.store.DeleteResolvedIdentifier(ctx, sourceID); err != nil {
		r.logger.WithError(err).WithField("source_id", sourceID).
			Warn("Failed to delete persisted resolved identifier")
	}
	metrics.IncrementCounter("resolver_evictions", nil, "stale resolver entries evicted")
}

// CacheSize reports the number of in-memory entries.
func (r *Resolver) CacheSize() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}
