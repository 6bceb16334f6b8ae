package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultLoggerConfig()
	cfg.Output = &buf
	cfg.AddSource = false

	logger := NewLogger(cfg)
	logger.Info("hello", "foo", "bar")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "hello", entry["msg"])
	assert.Equal(t, "bar", entry["foo"])
}

func TestLogger_WithContext_AddsKnownFields(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultLoggerConfig()
	cfg.Output = &buf
	cfg.AddSource = false

	logger := NewLogger(cfg)
	ctx := context.WithValue(context.Background(), ProjectIDKey, "proj-1")
	ctx = context.WithValue(ctx, DatasetIDKey, "ds-1")

	logger.InfoContext(ctx, "sync started")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "proj-1", entry["project_id"])
	assert.Equal(t, "ds-1", entry["dataset_id"])
}

func TestLogger_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultLoggerConfig()
	cfg.Output = &buf
	cfg.Format = "text"
	cfg.AddSource = false

	logger := NewLogger(cfg)
	logger.Warn("careful")

	assert.True(t, strings.Contains(buf.String(), "careful"))
}

func TestLogger_LogSyncOperation(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultLoggerConfig()
	cfg.Output = &buf
	cfg.AddSource = false

	logger := NewLogger(cfg)
	logger.LogSyncOperation(context.Background(), "project/dataset", 5, 0)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "sync_operation", entry["msg"])
	assert.EqualValues(t, 5, entry["files_changed"])
}
