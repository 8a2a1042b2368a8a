package logger

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("info"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warn"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("bogus"))
}

func TestSetOutputFiltersByLevel(t *testing.T) {
	prev := Log
	t.Cleanup(func() { Log = prev; slog.SetDefault(prev) })

	var buf bytes.Buffer
	SetOutput(&buf, slog.LevelInfo)
	Debug("hidden")
	With("ws").Info("frame", "kind", "chat")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "component=ws")
	assert.Contains(t, out, "kind=chat")
}

func TestInitWithFile(t *testing.T) {
	prev := Log
	t.Cleanup(func() { Log = prev; slog.SetDefault(prev) })

	require.NoError(t, Init("debug", filepath.Join(t.TempDir(), "wd.log")))
	assert.True(t, Log.Enabled(context.Background(), slog.LevelDebug))
}
