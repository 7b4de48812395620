package batteries

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// DefaultShutdownTimeout bounds Shutdown when the caller's context carries no
// deadline of its own.
const DefaultShutdownTimeout = 5 * time.Second

// Session is the top-level handle coordinating context tags and registered
// batteries for one process run. Construct it once at startup, configure it
// through the With* chain, and call Shutdown exactly once at exit.
//
// The context and battery list are append-only: tags added after a battery is
// registered are not seen by that battery. After Shutdown, further emission
// is dropped and further Shutdown calls are no-ops.
type Session struct {
	metadata *Metadata

	mu        sync.Mutex
	batteries []Battery
	sinks     []LogSink
	errs      []error
	logger    *zap.Logger

	shutdownTimeout time.Duration

	enabled atomic.Bool
	closed  atomic.Bool
}

// New creates a session for the named service with no context tags and no
// batteries.
func New(service, version string) *Session {
	s := &Session{
		metadata:        newMetadata(service, version),
		shutdownTimeout: DefaultShutdownTimeout,
	}
	s.enabled.Store(true)
	return s
}

// Metadata returns the session's service metadata.
func (s *Session) Metadata() *Metadata { return s.metadata }

// WithContext adds or overwrites a context tag. Tags are forwarded to every
// subsequently registered battery as resource attributes or scope extras.
func (s *Session) WithContext(key, value string) *Session {
	s.metadata.Set(key, value)
	return s
}

// WithShutdownTimeout overrides the default deadline applied to Shutdown when
// the caller's context has none.
func (s *Session) WithShutdownTimeout(d time.Duration) *Session {
	if d > 0 {
		s.shutdownTimeout = d
	}
	return s
}

// WithBattery registers a battery and immediately sets it up against the
// accumulated context. Setup failures never panic and never abort the chain:
// the error is recorded (see Err) and the session continues with whatever
// batteries did come up.
func (s *Session) WithBattery(b BatteryBuilder) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		s.errs = append(s.errs, ErrSessionClosed)
		return s
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	battery, err := b.Setup(ctx, s.metadata, &s.enabled)
	if err != nil {
		s.errs = append(s.errs, fmt.Errorf("battery setup: %w", err))
		return s
	}

	s.batteries = append(s.batteries, battery)
	if sink, ok := battery.(LogSink); ok {
		s.sinks = append(s.sinks, sink)
		s.logger = nil // rebuilt on next Logger call
	}
	return s
}

// Err returns the accumulated battery setup errors, or nil if every
// registered battery came up cleanly.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return errors.Join(s.errs...)
}

// Tracer returns a tracer for the given instrumentation scope. It resolves
// through the global provider, so it is a no-op unless an OpenTelemetry
// battery is registered.
func (s *Session) Tracer(name string, opts ...oteltrace.TracerOption) oteltrace.Tracer {
	return otel.GetTracerProvider().Tracer(name, opts...)
}

// Meter returns a meter for the given instrumentation scope. No-op unless an
// OpenTelemetry battery is registered.
func (s *Session) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	return otel.GetMeterProvider().Meter(name, opts...)
}

// RecordError fans the error out to every registered battery. Dropped after
// shutdown.
func (s *Session) RecordError(err error) {
	if err == nil || !s.enabled.Load() {
		return
	}
	for _, b := range s.snapshot() {
		b.RecordError(err)
	}
}

// RecordPage reports that a new logical page or screen became active,
// finishing whichever page was active before. Dropped after shutdown.
func (s *Session) RecordPage(page string) {
	if !s.enabled.Load() {
		return
	}
	for _, b := range s.snapshot() {
		b.RecordPage(page)
	}
}

// Shutdown flushes and closes every registered battery in registration order,
// joining their errors. It is idempotent: the second and later calls are
// no-ops returning nil. A session with no batteries shuts down cleanly.
//
// Shutdown may block while network buffers drain; it is bounded by the
// context deadline, or by the session's shutdown timeout when the context has
// none.
func (s *Session) Shutdown(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.enabled.Store(false)

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.shutdownTimeout)
		defer cancel()
	}

	var errs []error
	for _, b := range s.snapshot() {
		if err := b.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("battery shutdown: %w", err))
		}
	}

	s.mu.Lock()
	logger := s.logger
	s.mu.Unlock()
	if logger != nil {
		if err := syncLogger(logger); err != nil {
			errs = append(errs, fmt.Errorf("logger sync: %w", err))
		}
	}

	return errors.Join(errs...)
}

func (s *Session) snapshot() []Battery {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Battery, len(s.batteries))
	copy(out, s.batteries)
	return out
}
