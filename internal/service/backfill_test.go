package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telemirror/internal/models"
	"telemirror/pkg/telegram/types"
)

func backfillFixture(t *testing.T, client *mockClient, store *mockStore) (*BackfillScheduler, *IngestionQueue) {
	t.Helper()
	queue := newTestQueue(t, 1000, 50, store)
	resolver := NewResolver(client, store, testLogger())
	cfg := models.BackfillConfig{LookbackDays: 14, SkipThreshold: 50, DiscoveryIntervalSec: 300}
	b := NewBackfillScheduler(client, store, resolver, queue, newPenaltyTracker(), cfg, testLogger())
	b.throttleEvery = 10000 // keep tests fast
	b.pageSize = 10
	return b, queue
}

func historyPages(messages []types.RawMessage) func(ctx context.Context, handle types.Handle, since time.Time, offsetID int64, limit int) ([]types.RawMessage, error) {
	return func(ctx context.Context, handle types.Handle, since time.Time, offsetID int64, limit int) ([]types.RawMessage, error) {
		var page []types.RawMessage
		for _, m := range messages {
			if m.ID > offsetID {
				page = append(page, m)
			}
			if len(page) == limit {
				break
			}
		}
		return page, nil
	}
}

func rawMsg(sourceID, id int64) types.RawMessage {
	return types.RawMessage{ID: id, SourceID: sourceID, Text: "m", SentAt: time.Now().Add(-time.Hour)}
}

func TestBackfill_EnumeratesAndEnqueues(t *testing.T) {
	msgs := []types.RawMessage{rawMsg(1, 1), rawMsg(1, 2), rawMsg(1, 3)}
	client := resolvingClient(map[int64]types.Handle{1: {SourceID: 1, AccessHash: 5, Kind: "channel"}})
	client.historyFunc = historyPages(msgs)
	store := newMockStore()
	b, queue := backfillFixture(t, client, store)

	require.NoError(t, b.BackfillSource(context.Background(), 1, false))

	batch, _ := queue.CollectBatch(context.Background())
	assert.Len(t, batch, 3)
	for _, item := range batch {
		assert.Equal(t, models.ActionInsert, item.Action)
		assert.True(t, item.Broadcast)
	}
}

func TestBackfill_SkipsAlreadyPopulatedSource(t *testing.T) {
	client := resolvingClient(map[int64]types.Handle{1: {SourceID: 1, AccessHash: 5, Kind: "channel"}})
	store := newMockStore()
	store.countMessages[1] = 51
	b, queue := backfillFixture(t, client, store)

	require.NoError(t, b.BackfillSource(context.Background(), 1, false))

	_, _, history, _ := client.counts()
	assert.Zero(t, history, "populated source must not be re-crawled")
	assert.Zero(t, queue.Len())
}

func TestBackfill_ForcedIgnoresPopulatedSkip(t *testing.T) {
	client := resolvingClient(map[int64]types.Handle{1: {SourceID: 1, AccessHash: 5, Kind: "channel"}})
	client.historyFunc = historyPages([]types.RawMessage{rawMsg(1, 9)})
	store := newMockStore()
	store.countMessages[1] = 500
	b, queue := backfillFixture(t, client, store)

	require.NoError(t, b.BackfillSource(context.Background(), 1, true))
	assert.Equal(t, 1, queue.Len())
}

func TestBackfill_ResolutionFailureRecordedAndSkipped(t *testing.T) {
	store := newMockStore()
	b, _ := backfillFixture(t, &mockClient{}, store)

	err := b.BackfillSource(context.Background(), 77, false)
	require.Error(t, err)
	assert.NotEmpty(t, store.crawlErrors[77])
}

func TestBackfill_ShortRateLimitSleptInline(t *testing.T) {
	calls := 0
	client := resolvingClient(map[int64]types.Handle{1: {SourceID: 1, AccessHash: 5, Kind: "channel"}})
	client.historyFunc = func(ctx context.Context, handle types.Handle, since time.Time, offsetID int64, limit int) ([]types.RawMessage, error) {
		calls++
		if calls == 1 {
			return nil, &types.RateLimitError{RetryAfter: 5 * time.Millisecond}
		}
		return nil, nil
	}
	b, _ := backfillFixture(t, client, newMockStore())

	require.NoError(t, b.BackfillSource(context.Background(), 1, false))
	assert.Equal(t, 2, calls, "short rate limit is retried after sleeping")
}

func TestBackfill_LongRateLimitBecomesPenalty(t *testing.T) {
	client := resolvingClient(map[int64]types.Handle{1: {SourceID: 1, AccessHash: 5, Kind: "channel"}})
	client.historyFunc = func(ctx context.Context, handle types.Handle, since time.Time, offsetID int64, limit int) ([]types.RawMessage, error) {
		return nil, &types.RateLimitError{RetryAfter: 5 * time.Minute}
	}
	b, _ := backfillFixture(t, client, newMockStore())

	err := b.BackfillSource(context.Background(), 1, false)
	require.Error(t, err)
	assert.True(t, b.penalties.Blocked(1))

	// Penalized source is skipped outright next pass.
	_, _, historyBefore, _ := client.counts()
	require.NoError(t, b.BackfillSource(context.Background(), 1, false))
	_, _, historyAfter, _ := client.counts()
	assert.Equal(t, historyBefore, historyAfter)
}

func TestBackfill_EntityInvalidEvictsHandle(t *testing.T) {
	client := resolvingClient(map[int64]types.Handle{1: {SourceID: 1, AccessHash: 5, Kind: "channel"}})
	client.historyFunc = func(ctx context.Context, handle types.Handle, since time.Time, offsetID int64, limit int) ([]types.RawMessage, error) {
		return nil, &types.EntityInvalidError{SourceID: 1}
	}
	store := newMockStore()
	b, _ := backfillFixture(t, client, store)

	_, err := b.resolver.Resolve(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, 1, b.resolver.CacheSize())

	err = b.BackfillSource(context.Background(), 1, false)
	require.Error(t, err)
	assert.Zero(t, b.resolver.CacheSize(), "stale handle evicted on entity-invalid")
}

func TestBackfill_DiscoveryBackfillsOnlyNewSources(t *testing.T) {
	client := resolvingClient(map[int64]types.Handle{
		1: {SourceID: 1, AccessHash: 5, Kind: "channel"},
		2: {SourceID: 2, AccessHash: 6, Kind: "channel"},
	})
	client.historyFunc = historyPages(nil)
	store := newMockStore()
	store.sources = []*models.Source{{ExternalID: 1, Title: "one"}}
	b, _ := backfillFixture(t, client, store)

	b.RunInitial(context.Background())
	_, _, historyAfterInitial, _ := client.counts()
	assert.Equal(t, 1, historyAfterInitial)

	store.mu.Lock()
	store.sources = append(store.sources, &models.Source{ExternalID: 2, Title: "two"})
	store.mu.Unlock()

	b.discoverOnce(context.Background())
	_, _, historyAfterDiscovery, _ := client.counts()
	assert.Equal(t, 2, historyAfterDiscovery, "only the new source is backfilled")

	b.discoverOnce(context.Background())
	_, _, historyAfterSecond, _ := client.counts()
	assert.Equal(t, 2, historyAfterSecond)
}

func TestBackfill_DisabledSourceSkipped(t *testing.T) {
	client := resolvingClient(map[int64]types.Handle{1: {SourceID: 1, AccessHash: 5, Kind: "channel"}})
	store := newMockStore()
	store.disabled[1] = true
	b, _ := backfillFixture(t, client, store)

	require.NoError(t, b.BackfillSource(context.Background(), 1, false))
	resolve, _, _, _ := client.counts()
	assert.Zero(t, resolve)
}
