// Package httputil carries the HTTP plumbing shared by the plex and
// plex.tv clients: timeout tiers, body limits, and small helpers.
package httputil

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// DefaultTimeout suits ordinary API reads. ExtendedTimeout covers plex.tv,
// which can be slow to answer from behind its CDN. IntegrationTimeout is
// for player commands, which block until the player acknowledges.
const DefaultTimeout = 10 * time.Second
const ExtendedTimeout = 15 * time.Second
const IntegrationTimeout = 30 * time.Second

// MaxResponseBody caps reads of untrusted response bodies.
const MaxResponseBody = 2 << 20 // 2 MiB

func NewClient() *http.Client {
	return &http.Client{Timeout: DefaultTimeout}
}

func NewClientWithTimeout(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

// DrainBody ensures the connection can be reused for keep-alive.
func DrainBody(resp *http.Response) {
	if resp != nil && resp.Body != nil {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
}

// ValidateServerURL checks that a URL can address a media server.
func ValidateServerURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("server URL is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("server URL must use http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("server URL must have a host")
	}
	return nil
}

// Truncate converts a byte slice to string and truncates to maxRunes runes,
// appending "..." if truncated. Keeps response bodies out of log spam when
// they show up in error messages.
func Truncate(b []byte, maxRunes int) string {
	r := []rune(string(b))
	if len(r) > maxRunes {
		return string(r[:maxRunes]) + "..."
	}
	return string(r)
}
