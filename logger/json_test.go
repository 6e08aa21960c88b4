package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func decodeLines(t *testing.T, out string) []map[string]interface{} {
	t.Helper()
	var entries []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry), line)
		entries = append(entries, entry)
	}
	return entries
}

func TestJSONLogEntryString(t *testing.T) {
	var parsed map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(JSONLogEntry{Message: "sent"}.String()), &parsed))
	assert.Equal(t, "sent", parsed["message"])
	assert.Equal(t, "INFO", parsed["severity"])
	assert.NotContains(t, parsed, "metadata")
}

func TestJSONLoggerSink(t *testing.T) {
	var buf bytes.Buffer
	l := NewJSONLoggerWithSink(&buf, LevelInfo)
	assert.False(t, l.IsLevelEnabled(LevelDebug))

	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	l.(*jsonLogger).ts = &ts
	l.Debug("hidden")
	l.WithPrefix("[dns]").WithPrefix("[dns]").With(map[string]interface{}{"server": "192.0.2.53"}).Warn("no answer from %s", "192.0.2.53")

	entries := decodeLines(t, buf.String())
	require.Len(t, entries, 1)
	assert.Equal(t, "WARNING", entries[0]["severity"])
	assert.Equal(t, "no answer from 192.0.2.53", entries[0]["message"])
	assert.Equal(t, "dns", entries[0]["component"])
	assert.Equal(t, "2026-01-02T03:04:05Z", entries[0]["timestamp"])
	assert.Equal(t, map[string]interface{}{"server": "192.0.2.53"}, entries[0]["metadata"])
}

func TestJSONLoggerWithContext(t *testing.T) {
	var buf bytes.Buffer
	l := NewJSONLoggerWithSink(&buf, LevelTrace)
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: trace.TraceID{0xaa, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15},
		SpanID:  trace.SpanID{0xbb, 1, 2, 3, 4, 5, 6, 7},
	})
	l.WithContext(trace.ContextWithSpanContext(context.Background(), sc)).Trace("attempt")
	l.Trace("bare")

	entries := decodeLines(t, buf.String())
	require.Len(t, entries, 2)
	assert.Equal(t, sc.TraceID().String(), entries[0]["trace_id"])
	assert.Equal(t, sc.SpanID().String(), entries[0]["span_id"])
	assert.NotContains(t, entries[1], "trace_id")
}

func TestJSONLoggerStack(t *testing.T) {
	var buf bytes.Buffer
	tl := NewTestLogger()
	l := NewJSONLoggerWithSink(&buf, LevelError).Stack(tl).WithPrefix("[dns]")
	l.Info("to the child only")

	assert.Empty(t, buf.String())
	logs := tl.Logs()
	require.Len(t, logs, 1)
	assert.Equal(t, []string{"[dns]"}, logs[0].Prefixes)
}
