package batteries

import (
	"errors"
	"os"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger returns a structured logger for the session. Its output is teed:
// entries always reach stderr, and additionally reach every registered
// battery that accepts log entries (Sentry breadcrumbs/events, the
// OpenTelemetry log pipeline). The service name, version, and context tags
// are attached as constant fields.
//
// The logger is built from the batteries registered at call time; register
// batteries first, then take the logger.
func (s *Session) Logger() *zap.Logger {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.logger != nil {
		return s.logger
	}

	cores := make([]zapcore.Core, 0, len(s.sinks)+1)
	cores = append(cores, newConsoleCore())
	for _, sink := range s.sinks {
		cores = append(cores, sink.LogCore())
	}

	core := cores[0]
	if len(cores) > 1 {
		core = zapcore.NewTee(cores...)
	}

	fields := []zap.Field{
		zap.String("service", s.metadata.Service),
		zap.String("version", s.metadata.Version),
	}
	for _, kv := range s.metadata.Context() {
		fields = append(fields, zap.String(kv.Key, kv.Value))
	}

	s.logger = zap.New(core).With(fields...)
	return s.logger
}

// newConsoleCore builds the stderr JSON core every session logger carries.
func newConsoleCore() zapcore.Core {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	return zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderCfg),
		zapcore.AddSync(os.Stderr),
		zapcore.InfoLevel,
	)
}

// syncLogger flushes buffered log entries, ignoring the harmless
// EINVAL/ENOTTY errors that syncing a terminal produces on Linux.
func syncLogger(logger *zap.Logger) error {
	if err := logger.Sync(); err != nil && !isTerminalSyncError(err) {
		return err
	}
	return nil
}

func isTerminalSyncError(err error) bool {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EINVAL || errno == syscall.ENOTTY
	}
	return false
}
