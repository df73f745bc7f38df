// Package fetch implements the bounded HTTP client used by both polling
// paths. It issues single GET requests with a strict combined timeout,
// caps the response body size, and classifies failures.
package fetch

import (
	"context"
	"io"
	"net/http"
	"time"
)

// MaxBodySize caps a response body. Community websites and heartbeat
// endpoints are untrusted; anything larger is rejected.
const MaxBodySize = 64 * 1024

// Connection pooling limits, shared by every outbound request.
const (
	maxIdleConns        = 64
	maxIdleConnsPerHost = 4
	maxConnsPerHost     = 4
	idleConnTimeout     = 60 * time.Second
)

// Client issues bounded single-shot GET requests. Timeouts are applied
// per request via context, not as a global client timeout.
type Client struct {
	httpClient *http.Client
	userAgent  string
}

// NewClient creates a fetch client with pooled connections.
func NewClient(userAgent string) *Client {
	return &Client{
		userAgent: userAgent,
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        maxIdleConns,
				MaxIdleConnsPerHost: maxIdleConnsPerHost,
				MaxConnsPerHost:     maxConnsPerHost,
				IdleConnTimeout:     idleConnTimeout,
			},
		},
	}
}

// Fetch performs one GET request against url. The timeout covers connection
// and read combined. Failures come back as a classified *Error; the byte
// slice is non-nil only on success.
func (c *Client) Fetch(ctx context.Context, url string, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &Error{Kind: KindOther, URL: url, Err: err}
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, Classify(url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return nil, &Error{Kind: KindHTTPStatus, URL: url, StatusCode: resp.StatusCode}
	}

	// Read one byte past the cap to tell "exactly at limit" from "over it"
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodySize+1))
	if err != nil {
		return nil, Classify(url, err)
	}
	if len(body) > MaxBodySize {
		return nil, &Error{Kind: KindBodyTooLarge, URL: url}
	}

	return body, nil
}

// Close releases idle pooled connections. The client remains usable.
func (c *Client) Close() {
	if transport, ok := c.httpClient.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
}
