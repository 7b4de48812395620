package batteries

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap/zapcore"
)

// defaultSentryFlushTimeout bounds the shutdown flush when the caller's
// context carries no deadline.
const defaultSentryFlushTimeout = 2 * time.Second

// Sentry configures error and session reporting against a Sentry project.
//
// The DSN identifies the project's ingest endpoint and is validated during
// setup without any network traffic. The release defaults to
// service@version from the session metadata, matching Sentry's recommended
// release naming.
type Sentry struct {
	dsn         string
	environment string
	release     string
	level       zapcore.Level

	transport sentry.Transport // test override
}

// NewSentry configures a Sentry battery for the given DSN.
func NewSentry(dsn string) *Sentry {
	return &Sentry{
		dsn:   dsn,
		level: zapcore.InfoLevel,
	}
}

// WithEnvironment sets the environment tag reported with every event. When
// unset, the session's "environment" context tag is used if present.
func (s *Sentry) WithEnvironment(env string) *Sentry {
	s.environment = env
	return s
}

// WithRelease overrides the release tag. Defaults to service@version.
func (s *Sentry) WithRelease(release string) *Sentry {
	s.release = release
	return s
}

// WithDefaultLevel sets the minimum severity forwarded from the session
// logger. Entries at or above the level become breadcrumbs; errors and above
// become events. Defaults to info.
func (s *Sentry) WithDefaultLevel(level zapcore.Level) *Sentry {
	s.level = level
	return s
}

// WithTransport overrides the SDK transport (for testing).
func (s *Sentry) WithTransport(t sentry.Transport) *Sentry {
	s.transport = t
	return s
}

// Setup validates the DSN, initializes the client, and seeds the scope with
// the session's context tags as extras. A malformed DSN fails with a
// ConfigurationError before any network call.
func (s *Sentry) Setup(ctx context.Context, md *Metadata, enabled *atomic.Bool) (Battery, error) {
	if s.dsn == "" {
		return nil, &ConfigurationError{Battery: "sentry", Reason: "DSN is required"}
	}

	release := s.release
	if release == "" {
		release = md.Service + "@" + md.Version
	}
	environment := s.environment
	if environment == "" {
		environment, _ = md.Get("environment")
	}

	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:         s.dsn,
		Release:     release,
		Environment: environment,
		Transport:   s.transport,
	})
	if err != nil {
		return nil, &ConfigurationError{Battery: "sentry", Reason: "invalid DSN", Err: err}
	}

	scope := sentry.NewScope()
	for _, kv := range md.Context() {
		scope.SetExtra(kv.Key, kv.Value)
	}

	hub := sentry.NewHub(client, scope)

	// Bind globally so package-level sentry.CaptureMessage and friends
	// report through this client, matching how applications already use
	// the SDK.
	sentry.CurrentHub().BindClient(client)

	return &sentryBattery{
		hub:     hub,
		level:   s.level,
		enabled: enabled,
	}, nil
}

type sentryBattery struct {
	hub     *sentry.Hub
	level   zapcore.Level
	enabled *atomic.Bool
}

func (b *sentryBattery) RecordError(err error) {
	if !b.enabled.Load() {
		return
	}
	b.hub.CaptureException(err)
}

// RecordPage leaves a navigation breadcrumb so events carry the page trail.
func (b *sentryBattery) RecordPage(page string) {
	if !b.enabled.Load() {
		return
	}
	b.hub.AddBreadcrumb(&sentry.Breadcrumb{
		Type:      "navigation",
		Category:  "page",
		Message:   page,
		Level:     sentry.LevelInfo,
		Timestamp: time.Now(),
	}, nil)
}

// Shutdown flushes pending events. A flush that misses its deadline is
// reported as a TransportError but is non-fatal.
func (b *sentryBattery) Shutdown(ctx context.Context) error {
	timeout := defaultSentryFlushTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if !b.hub.Flush(timeout) {
		return &TransportError{Battery: "sentry", Err: context.DeadlineExceeded}
	}
	return nil
}

// LogCore forwards session log entries to Sentry: errors and above as
// events, lesser entries as breadcrumbs attached to future events.
func (b *sentryBattery) LogCore() zapcore.Core {
	return &sentryCore{battery: b}
}

type sentryCore struct {
	battery *sentryBattery
	fields  []zapcore.Field
}

func (c *sentryCore) Enabled(level zapcore.Level) bool {
	return level >= c.battery.level
}

func (c *sentryCore) With(fields []zapcore.Field) zapcore.Core {
	clone := &sentryCore{battery: c.battery}
	clone.fields = append(clone.fields, c.fields...)
	clone.fields = append(clone.fields, fields...)
	return clone
}

func (c *sentryCore) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return checked.AddCore(entry, c)
	}
	return checked
}

func (c *sentryCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	if !c.battery.enabled.Load() {
		return nil
	}

	enc := zapcore.NewMapObjectEncoder()
	for _, f := range c.fields {
		f.AddTo(enc)
	}
	for _, f := range fields {
		f.AddTo(enc)
	}

	if entry.Level >= zapcore.ErrorLevel {
		event := sentry.NewEvent()
		event.Level = sentryLevel(entry.Level)
		event.Message = entry.Message
		event.Extra = enc.Fields
		event.Logger = entry.LoggerName
		c.battery.hub.CaptureEvent(event)
		return nil
	}

	c.battery.hub.AddBreadcrumb(&sentry.Breadcrumb{
		Type:      "default",
		Category:  entry.LoggerName,
		Message:   entry.Message,
		Level:     sentryLevel(entry.Level),
		Data:      enc.Fields,
		Timestamp: entry.Time,
	}, nil)
	return nil
}

func (c *sentryCore) Sync() error { return nil }

func sentryLevel(level zapcore.Level) sentry.Level {
	switch {
	case level <= zapcore.DebugLevel:
		return sentry.LevelDebug
	case level == zapcore.InfoLevel:
		return sentry.LevelInfo
	case level == zapcore.WarnLevel:
		return sentry.LevelWarning
	case level == zapcore.ErrorLevel:
		return sentry.LevelError
	default:
		return sentry.LevelFatal
	}
}
