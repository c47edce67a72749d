package log

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))
}

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer

	logger := New(&buf, "info", "json")
	logger.Info("hello", "conversation_id", "c-1")

	assert.Contains(t, buf.String(), `"conversation_id":"c-1"`)
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer

	logger := New(&buf, "warn", "text")
	logger.Info("dropped")

	assert.Empty(t, buf.String())
}

func TestContextLogger(t *testing.T) {
	var buf bytes.Buffer

	logger := New(&buf, "debug", "text")
	ctx := IntoContext(context.Background(), logger.With("module", "engine"))

	FromContext(ctx).Debug("scoped")

	assert.Contains(t, buf.String(), "module=engine")
	assert.NotNil(t, FromContext(context.Background()))
}
