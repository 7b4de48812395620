package batteries

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// fakeSentryTransport captures events in memory; no network traffic.
type fakeSentryTransport struct {
	mu     sync.Mutex
	events []*sentry.Event
}

func (t *fakeSentryTransport) Configure(sentry.ClientOptions) {}

func (t *fakeSentryTransport) SendEvent(event *sentry.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, event)
}

func (t *fakeSentryTransport) Flush(time.Duration) bool { return true }

func (t *fakeSentryTransport) FlushWithContext(context.Context) bool { return true }

func (t *fakeSentryTransport) Close() {}

func (t *fakeSentryTransport) Events() []*sentry.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*sentry.Event, len(t.events))
	copy(out, t.events)
	return out
}

func setupSentry(t *testing.T, builder *Sentry) (Battery, *fakeSentryTransport) {
	t.Helper()
	transport := &fakeSentryTransport{}
	md := newMetadata("example", "0.0.1")
	md.Set("environment", "test")
	md.Set("region", "eu-west-1")

	var enabled atomic.Bool
	enabled.Store(true)

	battery, err := builder.WithTransport(transport).Setup(context.Background(), md, &enabled)
	require.NoError(t, err)
	return battery, transport
}

func TestSentry_MalformedDSN(t *testing.T) {
	var enabled atomic.Bool
	enabled.Store(true)

	battery, err := NewSentry("not-a-dsn").Setup(context.Background(), newMetadata("example", "0.0.1"), &enabled)
	require.Error(t, err)
	assert.Nil(t, battery)

	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "sentry", cfgErr.Battery)
}

func TestSentry_EmptyDSN(t *testing.T) {
	var enabled atomic.Bool
	enabled.Store(true)

	_, err := NewSentry("").Setup(context.Background(), newMetadata("example", "0.0.1"), &enabled)
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}

func TestSentry_RecordError(t *testing.T) {
	battery, transport := setupSentry(t, NewSentry("https://key@o0.ingest.sentry.io/1234"))

	battery.RecordError(errors.New("boom"))

	events := transport.Events()
	require.Len(t, events, 1)
	require.NotEmpty(t, events[0].Exception)
	assert.Equal(t, "boom", events[0].Exception[0].Value)
	assert.Equal(t, "example@0.0.1", events[0].Release, "release defaults to service@version")
	assert.Equal(t, "test", events[0].Environment, "environment drawn from session context")
	assert.Equal(t, "eu-west-1", events[0].Extra["region"], "context forwarded as extras")
}

func TestSentry_RecordPageBreadcrumb(t *testing.T) {
	battery, transport := setupSentry(t, NewSentry("https://key@o0.ingest.sentry.io/1234"))

	battery.RecordPage("/settings")
	battery.RecordError(errors.New("boom"))

	events := transport.Events()
	require.Len(t, events, 1)
	require.NotEmpty(t, events[0].Breadcrumbs)
	assert.Equal(t, "/settings", events[0].Breadcrumbs[0].Message)
	assert.Equal(t, "navigation", events[0].Breadcrumbs[0].Type)
}

func TestSentry_LogCore(t *testing.T) {
	battery, transport := setupSentry(t, NewSentry("https://key@o0.ingest.sentry.io/1234"))

	sink, ok := battery.(LogSink)
	require.True(t, ok)

	logger := zap.New(sink.LogCore())
	logger.Info("loading config", zap.String("path", "/etc/app.yaml"))
	logger.Error("config invalid", zap.String("path", "/etc/app.yaml"))

	events := transport.Events()
	require.Len(t, events, 1, "info entries become breadcrumbs, not events")
	assert.Equal(t, "config invalid", events[0].Message)
	assert.Equal(t, sentry.LevelError, events[0].Level)
	assert.Equal(t, "/etc/app.yaml", events[0].Extra["path"])

	require.NotEmpty(t, events[0].Breadcrumbs)
	assert.Equal(t, "loading config", events[0].Breadcrumbs[0].Message)
}

func TestSentry_LogCoreLevelFilter(t *testing.T) {
	battery, transport := setupSentry(t, NewSentry("https://key@o0.ingest.sentry.io/1234").
		WithDefaultLevel(zapcore.ErrorLevel))

	sink := battery.(LogSink)
	logger := zap.New(sink.LogCore())
	logger.Warn("below threshold")
	logger.Error("at threshold")
	battery.RecordError(errors.New("flush"))

	events := transport.Events()
	require.NotEmpty(t, events)
	for _, event := range events {
		assert.Empty(t, event.Breadcrumbs, "entries below the default level are dropped entirely")
	}
}

func TestSentry_DisabledAfterShutdown(t *testing.T) {
	transport := &fakeSentryTransport{}
	md := newMetadata("example", "0.0.1")

	var enabled atomic.Bool
	enabled.Store(true)

	battery, err := NewSentry("https://key@o0.ingest.sentry.io/1234").
		WithTransport(transport).
		Setup(context.Background(), md, &enabled)
	require.NoError(t, err)

	enabled.Store(false)
	battery.RecordError(errors.New("late"))
	battery.RecordPage("/late")

	assert.Empty(t, transport.Events())
	require.NoError(t, battery.Shutdown(context.Background()))
}

func TestSentryLevelMapping(t *testing.T) {
	tests := []struct {
		zap    zapcore.Level
		sentry sentry.Level
	}{
		{zapcore.DebugLevel, sentry.LevelDebug},
		{zapcore.InfoLevel, sentry.LevelInfo},
		{zapcore.WarnLevel, sentry.LevelWarning},
		{zapcore.ErrorLevel, sentry.LevelError},
		{zapcore.FatalLevel, sentry.LevelFatal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.sentry, sentryLevel(tt.zap), "level %s", tt.zap)
	}
}
