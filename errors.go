package batteries

import (
	"errors"
	"fmt"
)

// ErrSessionClosed is recorded on the session when a battery is attached
// after Shutdown has been called.
var ErrSessionClosed = errors.New("session already shut down")

// ConfigurationError reports invalid battery configuration: a malformed DSN,
// an empty endpoint, an unusable header. It surfaces synchronously from
// battery setup, before any network traffic.
type ConfigurationError struct {
	Battery string // battery name, e.g. "sentry"
	Reason  string
	Err     error // underlying SDK error, if any
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Battery, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Battery, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// TransportError reports a failure surfaced from an underlying exporter
// during setup or shutdown flush. Shutdown-time transport errors are returned
// to the caller but are non-fatal: the process should exit regardless.
type TransportError struct {
	Battery string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport: %v", e.Battery, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
