// Package client wraps outbound calls to the tracker backend behind
// sliding-window admission control. Mutating requests and search reads are
// billed against their endpoint class before they leave the process; plain
// reads bypass the limiter entirely.
package client

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/reelsync/reelsync/internal/core/ratelimit"
	"github.com/reelsync/reelsync/internal/metrics"
)

// DefaultMaxWait bounds how long a denied request is held before it is
// rejected outright instead of waiting for the window to reopen.
const DefaultMaxWait = 15 * time.Second

// ErrRateLimited reports a request rejected by admission control.
type ErrRateLimited struct {
	Endpoint          string
	RetryAfterSeconds int
}

func (e *ErrRateLimited) Error() string {
	return fmt.Sprintf("too many requests for %s, retry after %ds", e.Endpoint, e.RetryAfterSeconds)
}

// Client issues HTTP requests to the backend under limiter supervision.
type Client struct {
	HTTP       *http.Client
	Limiter    *ratelimit.Limiter
	BaseURL    string
	SearchPath string
	MaxWait    time.Duration

	// Sleep overrides the in-process wait for tests. A nil Sleep uses a
	// context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// New builds a client with sane defaults around the given limiter.
func New(limiter *ratelimit.Limiter, baseURL, searchPath string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		HTTP:       &http.Client{Timeout: timeout},
		Limiter:    limiter,
		BaseURL:    strings.TrimRight(baseURL, "/"),
		SearchPath: searchPath,
		MaxWait:    DefaultMaxWait,
	}
}

// Do issues a request to path, admitting it through the limiter when the
// method or path is guarded. Denied requests wait for the window to reopen
// when the wait fits inside MaxWait, and are retried exactly once.
func (c *Client) Do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	url := c.resolveURL(path)

	if c.guarded(method, path) {
		if err := c.admit(ctx, url); err != nil {
			return nil, err
		}
	}

	return c.send(ctx, method, url, body)
}

// Get issues an unguarded read unless the path is a search, which is billed
// like a mutation.
func (c *Client) Get(ctx context.Context, path string) (*http.Response, error) {
	return c.Do(ctx, http.MethodGet, path, nil)
}

// guarded reports whether a request must pass admission control. Every
// non-GET method is guarded; GETs are guarded only when they hit the search
// path.
func (c *Client) guarded(method, path string) bool {
	if method != http.MethodGet {
		return true
	}
	return c.SearchPath != "" && strings.Contains(path, c.SearchPath)
}

// admit reserves a limiter slot for url, waiting out a short denial and
// retrying once. A denial longer than MaxWait fails immediately.
func (c *Client) admit(ctx context.Context, url string) error {
	if c.Limiter == nil {
		return nil
	}

	if c.Limiter.Allow(url) {
		return nil
	}

	wait := c.Limiter.RetryAfter(url)
	maxWait := c.MaxWait
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}

	if wait > maxWait {
		return c.reject(url, wait)
	}

	if err := c.sleep(ctx, wait); err != nil {
		return err
	}

	if c.Limiter.Allow(url) {
		return nil
	}

	return c.reject(url, c.Limiter.RetryAfter(url))
}

func (c *Client) reject(url string, wait time.Duration) error {
	endpoint := c.Limiter.ResolveKey(url)
	metrics.RecordRateLimitRejection(endpoint)

	return &ErrRateLimited{
		Endpoint:          endpoint,
		RetryAfterSeconds: ceilSeconds(wait),
	}
}

func (c *Client) send(ctx context.Context, method, url string, body []byte) (*http.Response, error) {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s %s: %w", method, url, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter, _ := retryAfterHeader(resp)
		resp.Body.Close() // nolint:errcheck
		return nil, &ErrRateLimited{
			Endpoint:          c.endpointClass(url),
			RetryAfterSeconds: ceilSeconds(retryAfter),
		}
	}

	return resp, nil
}

func (c *Client) endpointClass(url string) string {
	if c.Limiter == nil {
		return ratelimit.DefaultKey
	}
	return c.Limiter.ResolveKey(url)
}

func (c *Client) resolveURL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if c.BaseURL == "" {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.BaseURL + path
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	if c.Sleep != nil {
		return c.Sleep(ctx, d)
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// retryAfterHeader parses a Retry-After response header as either seconds or
// an HTTP date.
func retryAfterHeader(resp *http.Response) (time.Duration, map[string]any) {
	if resp == nil || resp.Header == nil {
		return 0, nil
	}

	retry := resp.Header.Get("Retry-After")
	if retry == "" {
		return 0, nil
	}

	if seconds, err := time.ParseDuration(retry + "s"); err == nil {
		return seconds, map[string]any{"retry_after": retry}
	}
	if parsed, err := http.ParseTime(retry); err == nil {
		return time.Until(parsed), map[string]any{"retry_after": retry}
	}

	return 0, map[string]any{"retry_after": retry}
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}
