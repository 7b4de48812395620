package batteries

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigurationError(t *testing.T) {
	cause := errors.New("missing scheme")
	err := &ConfigurationError{Battery: "sentry", Reason: "invalid DSN", Err: cause}

	assert.Equal(t, "sentry: invalid DSN: missing scheme", err.Error())
	assert.ErrorIs(t, err, cause)

	bare := &ConfigurationError{Battery: "opentelemetry", Reason: "endpoint is required"}
	assert.Equal(t, "opentelemetry: endpoint is required", bare.Error())
	assert.Nil(t, errors.Unwrap(bare))
}

func TestTransportError(t *testing.T) {
	cause := errors.New("connection refused")
	err := &TransportError{Battery: "medama", Err: cause}

	assert.Equal(t, "medama: transport: connection refused", err.Error())
	assert.ErrorIs(t, err, cause)
}
