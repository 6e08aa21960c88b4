package logger

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"trace":   LevelTrace,
		"DEBUG":   LevelDebug,
		" info ":  LevelInfo,
		"":        LevelInfo,
		"Warning": LevelWarn,
		"error":   LevelError,
		"off":     LevelNone,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestGetLevelFromEnv(t *testing.T) {
	t.Setenv(EnvLogLevel, "debug")
	assert.Equal(t, LevelDebug, GetLevelFromEnv())
	t.Setenv(EnvLogLevel, "nonsense")
	assert.Equal(t, LevelInfo, GetLevelFromEnv())
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "WARN", LevelWarn.String())
	assert.Equal(t, "UNKNOWN", LogLevel(42).String())
}

func newSinkLogger(level LogLevel) (SinkLogger, *bytes.Buffer) {
	var buf bytes.Buffer
	l := NewConsoleLogger(LevelNone)
	l.SetSink(&buf, level)
	return l, &buf
}

func TestConsoleSink(t *testing.T) {
	l, buf := newSinkLogger(LevelInfo)
	assert.False(t, l.IsLevelEnabled(LevelDebug))
	assert.True(t, l.IsLevelEnabled(LevelWarn))

	l.Debug("hidden %d", 1)
	l.WithPrefix("[dns]").With(map[string]interface{}{"server": "192.0.2.53"}).Info("sent %d bytes", 29)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[INFO]")
	assert.Contains(t, out, "[dns] sent 29 bytes")
	assert.Contains(t, out, `{"server":"192.0.2.53"}`)
	assert.NotContains(t, out, "\x1b[", "sink output has no color codes")
	assert.Equal(t, 1, strings.Count(out, "\n"))
}

func TestConsolePrefixNotRepeated(t *testing.T) {
	l, buf := newSinkLogger(LevelTrace)
	l.WithPrefix("[dns]").WithPrefix("[dns]").Trace("x")
	assert.Equal(t, 1, strings.Count(buf.String(), "[dns]"))
}

func TestConsoleDerivedLoggersAreIndependent(t *testing.T) {
	l, buf := newSinkLogger(LevelInfo)
	a := WithKV(l, "a", 1)
	_ = WithKV(a, "b", 2)
	a.Info("only a")
	assert.Contains(t, buf.String(), `{"a":1}`)
}

func TestConsoleWithContextAddsTraceIDs(t *testing.T) {
	l, buf := newSinkLogger(LevelInfo)
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
		SpanID:     trace.SpanID{1, 2, 3, 4, 5, 6, 7, 8},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	l.WithContext(ctx).Info("resolved")
	out := buf.String()
	assert.Contains(t, out, sc.TraceID().String())
	assert.Contains(t, out, sc.SpanID().String())

	buf.Reset()
	l.WithContext(context.Background()).Info("plain")
	assert.NotContains(t, buf.String(), "trace_id")
}

func TestConsoleStack(t *testing.T) {
	l, _ := newSinkLogger(LevelInfo)
	tl := NewTestLogger()
	stacked := l.Stack(tl).WithPrefix("[dns]")
	stacked.Warn("cache insert failed: %s", "full")

	logs := tl.Logs()
	require.Len(t, logs, 1)
	assert.Equal(t, "WARNING", logs[0].Severity)
	assert.Equal(t, "cache insert failed: full", logs[0].Text())
	assert.Equal(t, []string{"[dns]"}, logs[0].Prefixes)
}

func TestTestLogger(t *testing.T) {
	l := NewTestLogger()
	l.Trace("trace %d", 1)
	l.Debug("debug %d", 2)
	l.Info("info %d", 3)
	l.Warn("warn %d", 4)
	l.Error("error %d", 5)

	derived := WithKV(l.WithPrefix("[dns]"), "key", "value")
	derived.Info("derived")

	logs := l.Logs()
	require.Len(t, logs, 6)
	severities := make([]string, 0, len(logs))
	for _, e := range logs {
		severities = append(severities, e.Severity)
	}
	assert.Equal(t, []string{"TRACE", "DEBUG", "INFO", "WARNING", "ERROR", "INFO"}, severities)
	assert.Equal(t, []interface{}{3}, logs[2].Arguments)
	assert.Equal(t, "derived", logs[5].Message)
	assert.Equal(t, []string{"[dns]"}, logs[5].Prefixes)

	tl, ok := derived.(*TestLogger)
	require.True(t, ok)
	assert.Equal(t, "value", tl.Metadata()["key"])
	assert.Nil(t, l.Metadata())
}
