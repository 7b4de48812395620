package batteries

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/batteries/internal/beacon"
)

// defaultDrainTimeout bounds the wait for outstanding beacons at shutdown.
const defaultDrainTimeout = 5 * time.Second

// Medama configures a privacy-preserving usage analytics battery backed by a
// Medama server. Telemetry is reported as if it originated on a page with the
// URL https://{service}.app/{page}; page transitions are driven through
// Session.RecordPage.
type Medama struct {
	server   string
	page     string
	referrer string
	logger   *zap.Logger
}

// NewMedama configures a Medama battery for the given server URL.
func NewMedama(server string) *Medama {
	return &Medama{server: server}
}

// WithInitialPage sets the page reported by the startup event. Defaults
// to "/".
func (m *Medama) WithInitialPage(page string) *Medama {
	m.page = page
	return m
}

// WithReferrer sets the referrer URL reported with the analytics data.
func (m *Medama) WithReferrer(referrer string) *Medama {
	m.referrer = referrer
	return m
}

// WithLogger sets the logger used for beacon delivery warnings. Defaults to
// a no-op logger.
func (m *Medama) WithLogger(logger *zap.Logger) *Medama {
	m.logger = logger
	return m
}

// Setup starts the analytics session and reports the initial page view.
func (m *Medama) Setup(ctx context.Context, md *Metadata, enabled *atomic.Bool) (Battery, error) {
	if m.server == "" {
		return nil, &ConfigurationError{Battery: "medama", Reason: "server URL is required"}
	}

	b := &medamaBattery{
		client:   beacon.NewClient(m.server, md.Service, md.Version, m.logger),
		metadata: md,
		referrer: m.referrer,
		enabled:  enabled,
		beaconID: beacon.NewID(),
		visited:  make(map[string]bool),
	}

	page := m.page
	if page == "" {
		page = "/"
	}
	b.sendLoad(page)

	return b, nil
}

type medamaBattery struct {
	client   *beacon.Client
	metadata *Metadata
	referrer string
	enabled  *atomic.Bool

	mu        sync.Mutex
	beaconID  string
	startTime time.Time
	visited   map[string]bool
}

// RecordPage finishes the active page view and starts a new one. Only one
// page view is active at a time.
func (b *medamaBattery) RecordPage(page string) {
	if !b.enabled.Load() {
		return
	}
	b.sendUnload()
	b.mu.Lock()
	b.beaconID = beacon.NewID()
	b.mu.Unlock()
	b.sendLoad(page)
}

func (b *medamaBattery) RecordError(err error) {
	if !b.enabled.Load() {
		return
	}
	b.sendCustom(map[string]string{"error": err.Error()})
}

// Shutdown finishes the active page view and waits for outstanding beacons.
// The final unload is sent even though the session is already disabled.
func (b *medamaBattery) Shutdown(ctx context.Context) error {
	b.sendUnload()

	timeout := defaultDrainTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if !b.client.Drain(timeout) {
		return &TransportError{Battery: "medama", Err: context.DeadlineExceeded}
	}
	return nil
}

func (b *medamaBattery) sendLoad(page string) {
	b.mu.Lock()
	unique := len(b.visited) == 0
	repeat := b.visited[page]
	b.visited[page] = true
	b.startTime = time.Now()
	id := b.beaconID
	b.mu.Unlock()

	data := make(map[string]string, len(b.metadata.keys)+2)
	for _, kv := range b.metadata.Context() {
		data[kv.Key] = kv.Value
	}
	data["service.name"] = b.metadata.Service
	data["service.version"] = b.metadata.Version

	b.client.Post(beacon.HitPath, beacon.Load{
		B: id,
		E: "load",
		U: fmt.Sprintf("https://%s.app%s?utm_source=%s&utm_medium=%s&utm_campaign=%s",
			strings.ToLower(b.metadata.Service), page, runtime.GOOS, runtime.GOARCH, b.metadata.Version),
		R: b.referrer,
		P: unique,
		Q: repeat,
		T: beacon.Timezone(),
		D: data,
	})
}

func (b *medamaBattery) sendUnload() {
	b.mu.Lock()
	id := b.beaconID
	elapsed := time.Since(b.startTime)
	b.mu.Unlock()

	b.client.Post(beacon.HitPath, beacon.Unload{
		B: id,
		E: "unload",
		M: elapsed.Milliseconds(),
	})
}

func (b *medamaBattery) sendCustom(data map[string]string) {
	b.mu.Lock()
	id := b.beaconID
	b.mu.Unlock()

	b.client.Post(beacon.HitPath, beacon.Custom{
		B: id,
		E: "custom",
		G: strings.ToLower(b.metadata.Service) + ".app",
		D: data,
	})
}
