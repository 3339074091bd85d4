package ollama

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/arosboro/ollama-proxy/internal/config"
)

// StatusError carries a non-success backend status and its body so callers
// can relay the backend's own error to the client unchanged.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned status %d: %s", e.StatusCode, truncate(e.Body, 200))
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// IsTimeout reports whether err is a deadline/timeout failure of the
// outbound call rather than a connect or protocol error.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Client issues native-protocol calls against one backend host.
// Safe for concurrent use; all backend I/O shares one connection pool.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the given backend base URL.
// timeout bounds each entire call, headers and body included.
func NewClient(baseURL string, timeout time.Duration) *Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   config.DefaultDialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout, Transport: transport},
	}
}

// Show issues the describe-model call and returns the raw response JSON.
func (c *Client) Show(ctx context.Context, model string) ([]byte, error) {
	body := fmt.Sprintf(`{"name":%q}`, model)
	return c.Invoke(ctx, "/api/show", []byte(body))
}

// Invoke POSTs a JSON body to a native endpoint and returns the response
// body. Non-success statuses are returned as *StatusError.
func (c *Client) Invoke(ctx context.Context, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build backend request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend request to %s failed: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read backend response: %w", err)
	}

	if resp.StatusCode >= 400 {
		log.Debug().
			Int("status", resp.StatusCode).
			Str("path", path).
			Str("body", truncate(respBody, 500)).
			Msg("backend error response")
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: respBody}
	}
	return respBody, nil
}

// Forward relays an arbitrary client request to the backend verbatim,
// preserving method, path, query string, body and headers minus Host.
// The caller owns the returned response body.
func (c *Client) Forward(ctx context.Context, r *http.Request, body []byte, dropContentLength bool) (*http.Response, error) {
	target := c.baseURL + r.URL.Path
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, target, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build passthrough request: %w", err)
	}

	for key, values := range r.Header {
		if http.CanonicalHeaderKey(key) == "Host" {
			continue
		}
		if dropContentLength && http.CanonicalHeaderKey(key) == "Content-Length" {
			continue
		}
		req.Header[http.CanonicalHeaderKey(key)] = values
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// BaseURL returns the configured backend base URL.
func (c *Client) BaseURL() string { return c.baseURL }
