package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"mirrorpost/internal/handler/http/requestid"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_DebugLevelFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	logger := NewLogger()
	assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))
}

func TestNewLogger_DebugEnvEnablesDebug(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("DEBUG", "1")
	logger := NewLogger()
	assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))
}

func TestNewLogger_DefaultHidesDebug(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("DEBUG", "")
	logger := NewLogger()
	assert.False(t, logger.Enabled(context.Background(), slog.LevelDebug))
	assert.True(t, logger.Enabled(context.Background(), slog.LevelInfo))
}

func TestWithRequestID_EnrichesRecords(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	ctx := requestid.WithRequestID(context.Background(), "req-123")
	WithRequestID(ctx, base).Info("queued")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "req-123", record["request_id"])
	assert.Equal(t, "queued", record["msg"])
}

func TestWithRequestID_NoIDReturnsSameLogger(t *testing.T) {
	base := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	assert.Same(t, base, WithRequestID(context.Background(), base))
}

func TestWithFields(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	WithFields(base, map[string]interface{}{
		"source_id": "foo",
		"post_id":   "42",
	}).Info("published")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "foo", record["source_id"])
	assert.Equal(t, "42", record["post_id"])
}

func TestFromContext_RoundTrip(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	ctx := WithLogger(context.Background(), logger)
	assert.Same(t, logger, FromContext(ctx))
}

func TestFromContext_FallsBackToDefault(t *testing.T) {
	assert.Same(t, slog.Default(), FromContext(context.Background()))
}

func TestFromContext_WrongTypeFallsBack(t *testing.T) {
	ctx := context.WithValue(context.Background(), loggerContextKey, "not a logger")
	assert.Same(t, slog.Default(), FromContext(ctx))
}
