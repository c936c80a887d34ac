package endpoint

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// HTTPError represents a non-2xx status from the inference endpoint.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("endpoint HTTP %d: %s", e.StatusCode, e.Body)
}

// Options configures the long-lived endpoint handle.
type Options struct {
	URL            string
	APIKey         string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
}

// Client is the single long-lived handle to the remote inference endpoint.
// It is created once at construction and reused by every concurrent page
// invocation; http.Client is safe for that.
type Client struct {
	http   *http.Client
	url    string
	apiKey string
}

// New builds the handle. Connect and read timeouts apply at the transport
// layer; per-call deadlines come from the caller's context.
func New(opts Options) *Client {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 30 * time.Second
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: opts.ConnectTimeout,
		}).DialContext,
		ResponseHeaderTimeout: opts.ReadTimeout,
		MaxIdleConnsPerHost:   16,
	}

	return &Client{
		http:   &http.Client{Transport: transport},
		url:    opts.URL,
		apiKey: opts.APIKey,
	}
}

// Invoke posts one page's bytes and returns the raw response body.
func (c *Client) Invoke(ctx context.Context, contentType string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: truncate(string(raw), 512)}
	}
	return raw, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
