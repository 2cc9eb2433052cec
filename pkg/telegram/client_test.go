package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"telemirror/pkg/telegram/types"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func TestResolveEntity_Success(t *testing.T) {
	var gotShape types.PeerShape
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/entities/resolve", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotShape))

		json.NewEncoder(w).Encode(types.Handle{SourceID: 123, AccessHash: 987654, Kind: "channel"})
	}))
	defer server.Close()

	client := NewClient(server.URL, "", "test-key", nil, testLogger())
	handle, err := client.ResolveEntity(context.Background(), types.PeerShape{Kind: types.PeerChannel, ID: 123})

	require.NoError(t, err)
	assert.Equal(t, int64(123), handle.SourceID)
	assert.Equal(t, int64(987654), handle.AccessHash)
	assert.Equal(t, types.PeerChannel, gotShape.Kind)
}

func TestResolveEntity_EntityInvalid(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"code":"entity_invalid","message":"no such peer","source_id":123}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "", "", nil, testLogger())
	_, err := client.ResolveEntity(context.Background(), types.PeerShape{Kind: types.PeerChannel, ID: 123})

	require.Error(t, err)
	assert.True(t, types.IsEntityInvalid(err))
}

func TestResolveEntity_RateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"code":"flood_wait","message":"too fast","retry_after_sec":42}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "", "", nil, testLogger())
	_, err := client.ResolveEntity(context.Background(), types.PeerShape{Kind: types.PeerChat, ID: 55})

	require.Error(t, err)
	rl, ok := types.IsRateLimit(err)
	require.True(t, ok)
	assert.Equal(t, 42*time.Second, rl.RetryAfter)
}

func TestRateLimited_NoBody_DefaultsToOneMinute(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewClient(server.URL, "", "", nil, testLogger())
	_, err := client.EnumerateDialogs(context.Background())

	rl, ok := types.IsRateLimit(err)
	require.True(t, ok)
	assert.Equal(t, time.Minute, rl.RetryAfter)
}

func TestEnumerateDialogs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/dialogs", r.URL.Path)
		w.Write([]byte(`{"dialogs":[
			{"id":1,"access_hash":111,"kind":"channel","title":"Alpha"},
			{"id":2,"access_hash":0,"kind":"chat","title":"Beta","member_count":12}
		]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "", "", nil, testLogger())
	dialogs, err := client.EnumerateDialogs(context.Background())

	require.NoError(t, err)
	require.Len(t, dialogs, 2)
	assert.Equal(t, "Alpha", dialogs[0].Title)
	assert.Equal(t, int64(111), dialogs[0].AccessHash)
	assert.Equal(t, 12, dialogs[1].MemberCount)
}

func TestFetchHistory_QueryParameters(t *testing.T) {
	since := time.Date(2025, 5, 20, 10, 0, 0, 0, time.UTC)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/sources/42/history", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "999", q.Get("access_hash"))
		assert.Equal(t, "2025-05-20T10:00:00Z", q.Get("since"))
		assert.Equal(t, "100", q.Get("offset_id"))
		assert.Equal(t, "50", q.Get("limit"))

		w.Write([]byte(`{"messages":[{"id":101,"source_id":42,"text":"hello","sent_at":"2025-05-20T11:00:00Z"}]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "", "", nil, testLogger())
	msgs, err := client.FetchHistory(context.Background(), types.Handle{SourceID: 42, AccessHash: 999}, since, 100, 50)

	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(101), msgs[0].ID)
	assert.Equal(t, "hello", msgs[0].Text)
}

func TestHealth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(server.URL, "", "", nil, testLogger())
	assert.NoError(t, client.Health(context.Background()))
}

func TestDo_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"code":"internal","message":"session lost"}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "", "", nil, testLogger())
	err := client.Health(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "session lost")
}
