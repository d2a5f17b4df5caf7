// Package gravatar checks whether an address has a Gravatar profile image.
package gravatar

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/optimode/emailprobe/internal/logger"
)

// DefaultBaseURL is the public Gravatar service.
const DefaultBaseURL = "https://www.gravatar.com"

// Client looks up Gravatar images. It is safe for concurrent use.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
}

// New creates a client. An empty baseURL selects DefaultBaseURL.
func New(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		timeout: timeout,
		http:    &http.Client{},
	}
}

// Hash returns the Gravatar hash of an address.
func Hash(email string) string {
	sum := md5.Sum([]byte(strings.ToLower(strings.TrimSpace(email))))
	return hex.EncodeToString(sum[:])
}

// Check reports whether email has a Gravatar. It returns nil when the
// answer is unknown: on any transport error, timeout or unexpected status.
func (c *Client) Check(ctx context.Context, email string) *bool {
	log := logger.FromContext(ctx)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	url := c.baseURL + "/avatar/" + Hash(email) + "?d=404"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		log.Debug().Err(err).Msg("gravatar request")
		return nil
	}
	resp, err := c.http.Do(req)
	if err != nil {
		log.Debug().Err(err).Msg("gravatar lookup failed")
		return nil
	}
	defer func() { _ = resp.Body.Close() }()

	var found bool
	switch resp.StatusCode {
	case http.StatusOK:
		found = true
	case http.StatusNotFound:
		found = false
	default:
		log.Debug().Int("status", resp.StatusCode).Msg("gravatar unexpected status")
		return nil
	}
	return &found
}
