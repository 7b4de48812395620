package batteries

import "go.opentelemetry.io/otel/attribute"

// Metadata describes the service a session is monitoring: its name, version,
// and free-form context tags. Every battery receives it during setup and
// attaches the tags to whatever its backend calls them (resource attributes,
// scope extras, event dimensions).
//
// Context preserves insertion order for display; setting an existing key
// updates the value in place, so only one entry is ever visible per key.
type Metadata struct {
	Service string
	Version string

	keys   []string
	values map[string]string
}

func newMetadata(service, version string) *Metadata {
	return &Metadata{
		Service: service,
		Version: version,
		values:  make(map[string]string),
	}
}

// Set adds or overwrites a context tag. Last write wins.
func (m *Metadata) Set(key, value string) {
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

// Get returns the value for a context key.
func (m *Metadata) Get(key string) (string, bool) {
	v, ok := m.values[key]
	return v, ok
}

// Context returns the tags in insertion order.
func (m *Metadata) Context() []KeyValue {
	kvs := make([]KeyValue, 0, len(m.keys))
	for _, k := range m.keys {
		kvs = append(kvs, KeyValue{Key: k, Value: m.values[k]})
	}
	return kvs
}

// Attributes returns the tags as OpenTelemetry attributes, in insertion
// order.
func (m *Metadata) Attributes() []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(m.keys))
	for _, k := range m.keys {
		attrs = append(attrs, attribute.String(k, m.values[k]))
	}
	return attrs
}

// KeyValue is a single context tag.
type KeyValue struct {
	Key   string
	Value string
}
