package types

import (
	"context"
	"time"
)

// Client is the capability surface the ingestion pipeline needs from the
// upstream chat protocol. The concrete implementation talks to a local
// gateway daemon that owns the protocol session.
type Client interface {
	// ResolveEntity attempts a direct single-entity lookup using the
	// given peer shape. Returns EntityInvalidError when the upstream
	// rejects the shape, RateLimitError when it demands a backoff.
	ResolveEntity(ctx context.Context, shape PeerShape) (*Handle, error)

	// EnumerateDialogs lists every source reachable by the current
	// session. Expensive; callers must throttle.
	EnumerateDialogs(ctx context.Context) ([]Dialog, error)

	// FetchHistory enumerates historical messages for a source in
	// chronological order, starting after offsetID, bounded below by
	// since. The sequence is finite and not restartable; callers
	// re-issue from a cutoff on retry.
	FetchHistory(ctx context.Context, handle Handle, since time.Time, offsetID int64, limit int) ([]RawMessage, error)

	// Subscribe opens the live event stream for new/edited/deleted
	// message events across all sources the session can see.
	Subscribe(ctx context.Context) (EventStream, error)

	// Health verifies the gateway session is usable.
	Health(ctx context.Context) error
}

// EventStream is a live push-event subscription. Next blocks until an
// event arrives, the context is done, or the connection drops (in which
// case it returns an error and the stream is dead).
type EventStream interface {
	Next(ctx context.Context) (*Event, error)
	Close() error
}
