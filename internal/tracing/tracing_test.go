package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestManager_DisabledIsNoop(t *testing.T) {
	m := NewManager(Config{Enabled: false}, logrus.New())

	require.NoError(t, m.Initialize(context.Background()))
	require.NoError(t, m.Shutdown(context.Background()))
}

func TestManager_InitializeWithStdoutExporter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.UseStdout = true
	m := NewManager(cfg, logrus.New())

	require.NoError(t, m.Initialize(context.Background()))
	require.NoError(t, m.Shutdown(context.Background()))
}

func TestStartSpan(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.SampleRate = 1.0
	m := NewManager(cfg, logrus.New())
	require.NoError(t, m.Initialize(context.Background()))
	defer func() { _ = m.Shutdown(context.Background()) }()

	ctx, span := StartSpan(context.Background(), "batch.flush",
		attribute.Int("batch.size", 50))
	defer span.End()

	assert.NotEmpty(t, TraceID(ctx))
	assert.True(t, span.IsRecording())

	AddSpanAttributes(ctx, attribute.Int64("source.id", 12345))
	RecordError(ctx, errors.New("write failed"))
}

func TestTraceID_NoSpan(t *testing.T) {
	id := TraceID(context.Background())
	assert.Equal(t, "00000000000000000000000000000000", id)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "telemirror", cfg.ServiceName)
	assert.False(t, cfg.Enabled)
	assert.Equal(t, 0.1, cfg.SampleRate)
}
