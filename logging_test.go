package batteries

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// observerBuilder attaches a battery whose log sink is an in-memory observer.
type observerBuilder struct {
	core zapcore.Core
}

func (o *observerBuilder) Setup(_ context.Context, _ *Metadata, enabled *atomic.Bool) (Battery, error) {
	return &observerBattery{core: o.core, enabled: enabled}, nil
}

type observerBattery struct {
	core    zapcore.Core
	enabled *atomic.Bool
}

func (b *observerBattery) RecordError(error) {}

func (b *observerBattery) RecordPage(string) {}

func (b *observerBattery) Shutdown(context.Context) error { return nil }

func (b *observerBattery) LogCore() zapcore.Core { return b.core }

func TestSessionLogger_TeesToBatterySinks(t *testing.T) {
	core, observed := observer.New(zapcore.DebugLevel)

	session := New("example", "0.0.1").
		WithContext("environment", "test").
		WithBattery(&observerBuilder{core: core})

	logger := session.Logger()
	logger.Info("hello")

	entries := observed.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "hello", entries[0].Message)

	fields := entries[0].ContextMap()
	assert.Equal(t, "example", fields["service"])
	assert.Equal(t, "0.0.1", fields["version"])
	assert.Equal(t, "test", fields["environment"])

	require.NoError(t, session.Shutdown(context.Background()))
}

func TestSessionLogger_Cached(t *testing.T) {
	session := New("example", "0.0.1")
	assert.Same(t, session.Logger(), session.Logger())
}

func TestSessionLogger_RebuiltAfterNewBattery(t *testing.T) {
	session := New("example", "0.0.1")
	first := session.Logger()

	core, observed := observer.New(zapcore.DebugLevel)
	session.WithBattery(&observerBuilder{core: core})

	second := session.Logger()
	assert.NotSame(t, first, second, "registering a sink invalidates the cached logger")

	second.Warn("routed")
	require.Len(t, observed.All(), 1)
}
