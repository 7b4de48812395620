package batteries

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap/zapcore"
)

// BatteryBuilder configures a telemetry backend before it is attached to a
// session. Implementations accumulate options through their With* methods and
// commit them in Setup.
//
// Setup is called exactly once, by Session.WithBattery, with the session's
// accumulated metadata. The enabled flag is shared with the session: batteries
// must stop emitting once it flips to false.
type BatteryBuilder interface {
	Setup(ctx context.Context, md *Metadata, enabled *atomic.Bool) (Battery, error)
}

// Battery is a live telemetry backend owned by a session. Emission methods
// must be safe for concurrent use; the underlying SDK clients already are, and
// the facade adds no synchronization of its own.
type Battery interface {
	// RecordError reports an error to the backend through whatever
	// mechanism it supports (Sentry event, log record, analytics event).
	RecordError(err error)

	// RecordPage reports that a new logical page or screen became active.
	// Backends without a page concept ignore it.
	RecordPage(page string)

	// Shutdown flushes pending data and closes the backend. Called exactly
	// once, during Session.Shutdown, bounded by the context deadline.
	Shutdown(ctx context.Context) error
}

// LogSink is implemented by batteries that can receive structured log
// entries. Session.Logger tees its console core with every registered
// battery's core.
type LogSink interface {
	LogCore() zapcore.Core
}
