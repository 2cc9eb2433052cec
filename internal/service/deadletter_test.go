package service

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telemirror/internal/constants"
	"telemirror/internal/models"
)

func TestDeadLetterSink_StoresEntry(t *testing.T) {
	store := newMockStore()
	sink := NewDeadLetterSink(store, filepath.Join(t.TempDir(), "dl.jsonl"), testLogger())

	sink.QuarantineItem(context.Background(), insertItem(1, 5, "x", time.Now()), "write failed", 4)

	require.Equal(t, 1, store.deadLetterCount())
	entry := store.deadLetters[0]
	assert.Equal(t, int64(5), *entry.ExternalMessageID)
	assert.Equal(t, int64(1), *entry.SourceID)
	assert.Equal(t, "write failed", entry.ErrorMessage)
	assert.Equal(t, 4, entry.RetryCount)

	var payload models.Message
	require.NoError(t, json.Unmarshal(entry.Payload, &payload))
	assert.Equal(t, "x", *payload.Content)
}

func TestDeadLetterSink_TruncatesLongError(t *testing.T) {
	store := newMockStore()
	sink := NewDeadLetterSink(store, filepath.Join(t.TempDir(), "dl.jsonl"), testLogger())

	sink.Quarantine(context.Background(), &models.DeadLetterEntry{
		Payload:      []byte("{}"),
		ErrorMessage: strings.Repeat("e", 2000),
	})

	require.Equal(t, 1, store.deadLetterCount())
	assert.Len(t, store.deadLetters[0].ErrorMessage, constants.MaxDeadLetterErrorLen)
}

func TestDeadLetterSink_FallsBackToFileWhenStoreDown(t *testing.T) {
	store := newMockStore()
	store.saveDeadErr = errors.New("connection refused")
	path := filepath.Join(t.TempDir(), "dl.jsonl")
	sink := NewDeadLetterSink(store, path, testLogger())

	sink.QuarantineItem(context.Background(), insertItem(2, 7, "y", time.Now()), "store down", 0)
	sink.QuarantineItem(context.Background(), insertItem(2, 8, "z", time.Now()), "store down", 0)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []map[string]interface{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var record map[string]interface{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &record))
		lines = append(lines, record)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, "store down", lines[0]["error_message"])
	assert.Equal(t, float64(7), lines[0]["external_message_id"])
}

func TestDeadLetterSink_FileCapDropsEntries(t *testing.T) {
	store := newMockStore()
	store.saveDeadErr = errors.New("connection refused")
	path := filepath.Join(t.TempDir(), "dl.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0600))

	sink := NewDeadLetterSink(store, path, testLogger())
	sink.maxFileBytes = 1

	sink.QuarantineItem(context.Background(), insertItem(1, 1, "x", time.Now()), "store down", 0)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(1), info.Size(), "full fallback file must not grow")
}
