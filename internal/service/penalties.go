package service

import (
	"sync"
	"time"
)

// penaltyTracker remembers per-source rate-limit penalties so one
// heavily throttled source cannot stall a whole scheduler pass. Shared
// by the backfill and gap-fill schedulers.
type penaltyTracker struct {
	mu    sync.Mutex
	until map[int64]time.Time
	now   func() time.Time
}

func newPenaltyTracker() *penaltyTracker {
	return &penaltyTracker{
		until: make(map[int64]time.Time),
		now:   time.Now,
	}
}

// Blocked reports whether a source is still serving a penalty. Expired
// entries are cleaned up on sight.
func (p *penaltyTracker) Blocked(sourceID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	deadline, ok := p.until[sourceID]
	if !ok {
		return false
	}
	if p.now().After(deadline) {
		delete(p.until, sourceID)
		return false
	}
	return true
}

// Penalize blocks a source for the given duration.
func (p *penaltyTracker) Penalize(sourceID int64, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.until[sourceID] = p.now().Add(d)
}
