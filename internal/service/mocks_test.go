package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"telemirror/internal/models"
	"telemirror/pkg/telegram/types"
)

// mockStore implements Store with overridable error fields and simple
// in-memory recording of writes.
type mockStore struct {
	mu sync.Mutex

	messages     map[string]*models.Message // key: sourceID:externalID
	deadLetters  []*models.DeadLetterEntry
	crawlSuccess map[int64]time.Time
	crawlErrors  map[int64][]string
	resolved     map[int64]*models.ResolvedIdentifier
	sources      []*models.Source
	disabled     map[int64]bool

	upsertErr     error
	batchErr      error
	editErr       error
	saveDeadErr   error
	countMessages map[int64]int

	markDeletedIDs []int64
	upsertCalls    int
	batchCalls     int
	editCalls      int
}

func newMockStore() *mockStore {
	return &mockStore{
		messages:      make(map[string]*models.Message),
		crawlSuccess:  make(map[int64]time.Time),
		crawlErrors:   make(map[int64][]string),
		resolved:      make(map[int64]*models.ResolvedIdentifier),
		disabled:      make(map[int64]bool),
		countMessages: make(map[int64]int),
	}
}

func msgKey(sourceID, externalID int64) string {
	return fmt.Sprintf("%d:%d", sourceID, externalID)
}

func (m *mockStore) UpsertMessageIgnore(ctx context.Context, msg *models.Message) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertCalls++
	if m.upsertErr != nil {
		return false, m.upsertErr
	}
	key := msgKey(msg.SourceID, msg.ExternalMessageID)
	if _, exists := m.messages[key]; exists {
		return false, nil
	}
	copied := *msg
	m.messages[key] = &copied
	return true, nil
}

func (m *mockStore) UpsertMessageBatchIgnore(ctx context.Context, msgs []*models.Message) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batchCalls++
	if m.batchErr != nil {
		return 0, m.batchErr
	}
	var n int64
	for _, msg := range msgs {
		key := msgKey(msg.SourceID, msg.ExternalMessageID)
		copied := *msg
		if _, exists := m.messages[key]; !exists {
			n++
			m.messages[key] = &copied
		}
		// Existing rows are left untouched, like ON CONFLICT DO NOTHING.
	}
	return n, nil
}

func (m *mockStore) UpsertMessageEdit(ctx context.Context, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.editCalls++
	if m.editErr != nil {
		return m.editErr
	}
	key := msgKey(msg.SourceID, msg.ExternalMessageID)
	copied := *msg
	if prev, exists := m.messages[key]; exists {
		// Deleted rows are never resurrected by an edit re-delivery.
		copied.Deleted = prev.Deleted || copied.Deleted
		copied.EditCount = prev.EditCount + 1
	}
	m.messages[key] = &copied
	return nil
}

func (m *mockStore) MarkMessagesDeleted(ctx context.Context, sourceID int64, ids []int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markDeletedIDs = append(m.markDeletedIDs, ids...)
	var n int64
	for _, id := range ids {
		if msg, ok := m.messages[msgKey(sourceID, id)]; ok {
			msg.Deleted = true
			n++
		}
	}
	return n, nil
}

func (m *mockStore) CountMessages(ctx context.Context, sourceID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.countMessages[sourceID], nil
}

func (m *mockStore) ListEnabledSources(ctx context.Context) ([]*models.Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sources, nil
}

func (m *mockStore) GetSource(ctx context.Context, externalID int64) (*models.Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sources {
		if s.ExternalID == externalID {
			return s, nil
		}
	}
	return nil, nil
}

func (m *mockStore) SaveSource(ctx context.Context, s *models.Source) error { return nil }

func (m *mockStore) UpdateSourceLastError(ctx context.Context, externalID int64, lastError *string) error {
	return nil
}

func (m *mockStore) EnsureCrawlStatusRow(ctx context.Context, sourceID int64) error { return nil }

func (m *mockStore) RecordSourceSuccess(ctx context.Context, sourceID int64, lastMessageAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.crawlSuccess[sourceID] = lastMessageAt
	return nil
}

func (m *mockStore) IncrementCrawlError(ctx context.Context, sourceID int64, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.crawlErrors[sourceID] = append(m.crawlErrors[sourceID], errMsg)
	return nil
}

func (m *mockStore) UpdateCrawlStatus(ctx context.Context, sourceID int64, status *models.CrawlState, progress, total *int) error {
	return nil
}

func (m *mockStore) IsSourceEnabled(ctx context.Context, sourceID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.disabled[sourceID], nil
}

func (m *mockStore) GetCrawlStatus(ctx context.Context, sourceID int64) (*models.CrawlStatus, error) {
	return nil, nil
}

func (m *mockStore) ListCrawlStatuses(ctx context.Context) ([]*models.CrawlStatus, error) {
	return nil, nil
}

func (m *mockStore) SaveDeadLetter(ctx context.Context, entry *models.DeadLetterEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveDeadErr != nil {
		return m.saveDeadErr
	}
	copied := *entry
	copied.ID = int64(len(m.deadLetters) + 1)
	m.deadLetters = append(m.deadLetters, &copied)
	return nil
}

func (m *mockStore) ListDeadLetters(ctx context.Context, resolved *bool, limit, offset int) ([]*models.DeadLetterEntry, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deadLetters, len(m.deadLetters), nil
}

func (m *mockStore) GetDeadLetter(ctx context.Context, id int64) (*models.DeadLetterEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.deadLetters {
		if e.ID == id {
			return e, nil
		}
	}
	return nil, nil
}

func (m *mockStore) ResolveDeadLetter(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.deadLetters {
		if e.ID == id {
			e.Resolved = true
			return nil
		}
	}
	return nil
}

func (m *mockStore) CountUnresolvedDeadLetters(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.deadLetters {
		if !e.Resolved {
			n++
		}
	}
	return n, nil
}

func (m *mockStore) LoadResolvedIdentifiers(ctx context.Context) ([]*models.ResolvedIdentifier, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ResolvedIdentifier
	for _, e := range m.resolved {
		out = append(out, e)
	}
	return out, nil
}

func (m *mockStore) SaveResolvedIdentifier(ctx context.Context, ri *models.ResolvedIdentifier) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resolved[ri.SourceID] = ri
	return nil
}

func (m *mockStore) DeleteResolvedIdentifier(ctx context.Context, sourceID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.resolved, sourceID)
	return nil
}

func (m *mockStore) deadLetterCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.deadLetters)
}

func (m *mockStore) storedMessage(sourceID, externalID int64) *models.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.messages[msgKey(sourceID, externalID)]
}

// mockNotifier records publishes.
type mockNotifier struct {
	mu     sync.Mutex
	events []publishedEvent
}

type publishedEvent struct {
	kind string
	row  interface{}
}

func (n *mockNotifier) Publish(ctx context.Context, eventKind string, row interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, publishedEvent{kind: eventKind, row: row})
}

func (n *mockNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

// mockClient implements types.Client with function fields.
type mockClient struct {
	mu sync.Mutex

	resolveFunc   func(ctx context.Context, shape types.PeerShape) (*types.Handle, error)
	dialogsFunc   func(ctx context.Context) ([]types.Dialog, error)
	historyFunc   func(ctx context.Context, handle types.Handle, since time.Time, offsetID int64, limit int) ([]types.RawMessage, error)
	subscribeFunc func(ctx context.Context) (types.EventStream, error)
	healthFunc    func(ctx context.Context) error

	resolveCalls   int
	dialogsCalls   int
	historyCalls   int
	subscribeCalls int
}

func (c *mockClient) ResolveEntity(ctx context.Context, shape types.PeerShape) (*types.Handle, error) {
	c.mu.Lock()
	c.resolveCalls++
	fn := c.resolveFunc
	c.mu.Unlock()
	if fn == nil {
		return nil, &types.EntityInvalidError{SourceID: shape.ID}
	}
	return fn(ctx, shape)
}

func (c *mockClient) EnumerateDialogs(ctx context.Context) ([]types.Dialog, error) {
	c.mu.Lock()
	c.dialogsCalls++
	fn := c.dialogsFunc
	c.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(ctx)
}

func (c *mockClient) FetchHistory(ctx context.Context, handle types.Handle, since time.Time, offsetID int64, limit int) ([]types.RawMessage, error) {
	c.mu.Lock()
	c.historyCalls++
	fn := c.historyFunc
	c.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(ctx, handle, since, offsetID, limit)
}

func (c *mockClient) Subscribe(ctx context.Context) (types.EventStream, error) {
	c.mu.Lock()
	c.subscribeCalls++
	fn := c.subscribeFunc
	c.mu.Unlock()
	if fn == nil {
		return nil, &types.EntityInvalidError{}
	}
	return fn(ctx)
}

func (c *mockClient) Health(ctx context.Context) error {
	if c.healthFunc == nil {
		return nil
	}
	return c.healthFunc(ctx)
}

func (c *mockClient) counts() (resolve, dialogs, history, subscribe int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resolveCalls, c.dialogsCalls, c.historyCalls, c.subscribeCalls
}

// mockStream replays a fixed event sequence, then fails with errAfter
// or blocks until the context is done.
type mockStream struct {
	mu       sync.Mutex
	events   []*types.Event
	errAfter error
	closed   bool
}

func (s *mockStream) Next(ctx context.Context) (*types.Event, error) {
	s.mu.Lock()
	if len(s.events) > 0 {
		ev := s.events[0]
		s.events = s.events[1:]
		s.mu.Unlock()
		return ev, nil
	}
	err := s.errAfter
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (s *mockStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
