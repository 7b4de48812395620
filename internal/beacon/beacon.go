// Package beacon implements the fire-and-forget HTTP beacon protocol used by
// Medama-style analytics servers. Beacons are posted from background
// goroutines so emission never blocks the caller; Drain waits for outstanding
// requests with a bounded timeout at shutdown.
package beacon

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Client posts beacons to a single analytics server.
type Client struct {
	server    string
	userAgent string
	locale    string

	http   *http.Client
	logger *zap.Logger

	wg sync.WaitGroup
}

// NewClient creates a beacon client for the given server base URL. The
// user agent identifies the monitored service. A nil logger disables
// failure logging.
func NewClient(server, service, version string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		server:    strings.TrimSuffix(server, "/"),
		userAgent: UserAgent(service, version),
		locale:    systemLocale(),
		http:      &http.Client{Timeout: 10 * time.Second},
		logger:    logger,
	}
}

// Post sends a beacon in the background. Failures are logged, never
// returned: analytics must not disturb the host application.
func (c *Client) Post(path string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		c.logger.Warn("encoding beacon", zap.Error(err))
		return
	}

	url := c.server + "/" + strings.TrimPrefix(path, "/")

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			c.logger.Warn("building beacon request", zap.Error(err))
			return
		}
		req.Header.Set("User-Agent", c.userAgent)
		req.Header.Set("Accept-Language", c.locale)
		// Medama expects text/plain to sidestep CORS preflight.
		req.Header.Set("Content-Type", "text/plain")

		resp, err := c.http.Do(req)
		if err != nil {
			c.logger.Warn("sending beacon", zap.Error(err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			c.logger.Warn("beacon rejected", zap.Int("status", resp.StatusCode))
		}
	}()
}

// Drain waits for outstanding beacons to complete. Returns false when the
// timeout elapses first.
func (c *Client) Drain(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		c.logger.Warn("timeout waiting for outstanding beacons")
		return false
	}
}

// NewID generates a beacon identifier: a base-36 timestamp for rough
// ordering plus a random suffix for uniqueness.
func NewID() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return strconv.FormatInt(time.Now().Unix(), 36) + suffix
}

// UserAgent synthesizes a browser-shaped user agent so analytics servers
// classify the platform correctly.
func UserAgent(service, version string) string {
	var osInfo string
	switch {
	case runtime.GOOS == "darwin" && runtime.GOARCH == "amd64":
		osInfo = "Macintosh; Intel Mac OS X"
	case runtime.GOOS == "darwin":
		osInfo = "Macintosh; Apple Mac OS X"
	case runtime.GOOS == "windows":
		osInfo = "Windows NT"
	case runtime.GOOS == "linux":
		osInfo = "X11; Linux"
	default:
		osInfo = "Unknown OS"
	}
	return fmt.Sprintf("Mozilla/5.0 (%s) Gecko/20100101 %s/%s", osInfo, service, version)
}

// Timezone reports the host's IANA timezone name when the TZ environment
// variable carries one; analytics servers use it for coarse location.
func Timezone() string {
	if tz := os.Getenv("TZ"); tz != "" {
		return tz
	}
	return time.Local.String()
}

// systemLocale derives an Accept-Language value from the environment,
// falling back to English.
func systemLocale() string {
	for _, env := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		v := os.Getenv(env)
		if v == "" {
			continue
		}
		if idx := strings.IndexAny(v, ".@"); idx != -1 {
			v = v[:idx]
		}
		if v != "" && v != "C" && v != "POSIX" {
			return strings.ReplaceAll(v, "_", "-")
		}
	}
	return "en"
}
