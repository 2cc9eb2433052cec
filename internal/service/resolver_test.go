package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telemirror/internal/errors"
	"telemirror/internal/models"
	"telemirror/pkg/telegram/types"
)

func resolvingClient(handles map[int64]types.Handle) *mockClient {
	return &mockClient{
		resolveFunc: func(ctx context.Context, shape types.PeerShape) (*types.Handle, error) {
			if h, ok := handles[shape.ID]; ok && shape.Kind == types.PeerChannel {
				return &h, nil
			}
			return nil, &types.EntityInvalidError{SourceID: shape.ID}
		},
	}
}

func TestResolver_SecondResolveMakesZeroUpstreamCalls(t *testing.T) {
	client := resolvingClient(map[int64]types.Handle{
		100: {SourceID: 100, AccessHash: 555, Kind: "channel"},
	})
	r := NewResolver(client, newMockStore(), testLogger())

	h1, err := r.Resolve(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, int64(555), h1.AccessHash)

	resolveBefore, dialogsBefore, _, _ := client.counts()

	h2, err := r.Resolve(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	resolveAfter, dialogsAfter, _, _ := client.counts()
	assert.Equal(t, resolveBefore, resolveAfter, "cache hit must make zero upstream calls")
	assert.Equal(t, dialogsBefore, dialogsAfter)
}

func TestResolver_DirectLookupTriesBothShapes(t *testing.T) {
	var shapes []types.PeerKind
	client := &mockClient{
		resolveFunc: func(ctx context.Context, shape types.PeerShape) (*types.Handle, error) {
			shapes = append(shapes, shape.Kind)
			if shape.Kind == types.PeerChat {
				return &types.Handle{SourceID: shape.ID, AccessHash: 1, Kind: "chat"}, nil
			}
			return nil, &types.EntityInvalidError{SourceID: shape.ID}
		},
	}
	r := NewResolver(client, newMockStore(), testLogger())

	h, err := r.Resolve(context.Background(), 200)
	require.NoError(t, err)
	assert.Equal(t, "chat", h.Kind)
	assert.Equal(t, []types.PeerKind{types.PeerChannel, types.PeerChat}, shapes)
}

func TestResolver_DialogWarmupFallback(t *testing.T) {
	client := &mockClient{
		dialogsFunc: func(ctx context.Context) ([]types.Dialog, error) {
			return []types.Dialog{
				{Handle: types.Handle{SourceID: 300, AccessHash: 7, Kind: "channel"}, Title: "a"},
				{Handle: types.Handle{SourceID: 301, AccessHash: 8, Kind: "channel"}, Title: "b"},
			}, nil
		},
	}
	store := newMockStore()
	r := NewResolver(client, store, testLogger())

	h, err := r.Resolve(context.Background(), 300)
	require.NoError(t, err)
	assert.Equal(t, int64(7), h.AccessHash)

	// Warmup populated neighbors as a side effect, in memory and durably.
	assert.Equal(t, 2, r.CacheSize())
	assert.Contains(t, store.resolved, int64(301))
}

func TestResolver_DialogCooldownSkipsSecondWarmup(t *testing.T) {
	client := &mockClient{}
	r := NewResolver(client, newMockStore(), testLogger())

	_, err := r.Resolve(context.Background(), 400)
	require.Error(t, err)
	_, err = r.Resolve(context.Background(), 400)
	require.Error(t, err)

	_, dialogs, _, _ := client.counts()
	assert.Equal(t, 1, dialogs, "dialog enumeration is cooldown-limited")
}

func TestResolver_AllTiersExhaustedIsResolutionError(t *testing.T) {
	r := NewResolver(&mockClient{}, newMockStore(), testLogger())

	_, err := r.Resolve(context.Background(), 500)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeResolution, errors.GetCode(err))
}

func TestResolver_EvictForcesUpstreamLookup(t *testing.T) {
	client := resolvingClient(map[int64]types.Handle{
		600: {SourceID: 600, AccessHash: 9, Kind: "channel"},
	})
	store := newMockStore()
	r := NewResolver(client, store, testLogger())

	_, err := r.Resolve(context.Background(), 600)
	require.NoError(t, err)

	r.Evict(context.Background(), 600)
	assert.NotContains(t, store.resolved, int64(600))
	resolveBefore, _, _, _ := client.counts()

	_, err = r.Resolve(context.Background(), 600)
	require.NoError(t, err)
	resolveAfter, _, _, _ := client.counts()
	assert.Greater(t, resolveAfter, resolveBefore, "post-eviction resolve must hit upstream")
}

func TestResolver_WarmFromStore(t *testing.T) {
	store := newMockStore()
	store.resolved[700] = &models.ResolvedIdentifier{SourceID: 700, AccessHash: 42, EntityKind: "channel"}

	client := &mockClient{}
	r := NewResolver(client, store, testLogger())
	r.WarmFromStore(context.Background())

	h, err := r.Resolve(context.Background(), 700)
	require.NoError(t, err)
	assert.Equal(t, int64(42), h.AccessHash)

	resolve, dialogs, _, _ := client.counts()
	assert.Zero(t, resolve)
	assert.Zero(t, dialogs)
}

func TestResolver_RateLimitPropagates(t *testing.T) {
	client := &mockClient{
		resolveFunc: func(ctx context.Context, shape types.PeerShape) (*types.Handle, error) {
			return nil, &types.RateLimitError{RetryAfter: 30 * time.Second}
		},
	}
	r := NewResolver(client, newMockStore(), testLogger())

	_, err := r.Resolve(context.Background(), 800)
	_, ok := types.IsRateLimit(err)
	assert.True(t, ok, "rate-limit errors surface untouched, not as resolution failures")
}
