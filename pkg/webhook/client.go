// Package webhook calls the upstream automation webhooks that discover,
// research and verify leads, and normalizes their loosely-shaped responses
// into model types.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-pipeline/internal/resilience"
)

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 16 << 20

// errorBodyLimit bounds how much of a failed response is quoted in errors.
const errorBodyLimit = 256

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithRetry sets the retry policy applied to every call.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *Client) {
		c.retry = cfg
	}
}

// WithHeader adds a header sent with every request, e.g. an auth token.
func WithHeader(key, value string) Option {
	return func(c *Client) {
		c.headers.Set(key, value)
	}
}

// Client posts JSON to webhooks with retries on transient failures.
type Client struct {
	http    *http.Client
	retry   resilience.RetryConfig
	headers http.Header
	now     func() time.Time
}

// NewClient creates a webhook client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		retry:   resilience.DefaultRetryConfig(),
		headers: make(http.Header),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Post sends body as JSON to url and returns the decoded response. The
// timeout applies to each attempt. An empty body decodes to an empty
// object; a body that is not JSON is returned as a string.
//
// 408, 429 and 5xx responses and network failures are retried as
// resilience.TransientError; other non-2xx responses fail immediately as
// resilience.PermanentError.
func (c *Client) Post(ctx context.Context, name, url string, timeout time.Duration, body any) (any, error) {
	if strings.TrimSpace(url) == "" {
		return nil, eris.Errorf("webhook: %s: no url configured", name)
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, eris.Wrapf(err, "webhook: %s: marshal request", name)
	}

	cfg := c.retry
	if cfg.OnRetry == nil {
		cfg.OnRetry = resilience.RetryLogger("webhook", name)
	}
	return resilience.DoVal(ctx, cfg, func(ctx context.Context) (any, error) {
		return c.post(ctx, name, url, timeout, data)
	})
}

func (c *Client) post(ctx context.Context, name, url string, timeout time.Duration, data []byte) (any, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, resilience.NewPermanentError(eris.Wrapf(err, "webhook: %s: create request", name), 0)
	}
	for k, vs := range c.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrapf(err, "webhook: %s: request failed", name), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrapf(err, "webhook: %s: read response body", name), resp.StatusCode)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := eris.Errorf("webhook: %s: status %d: %s", name, resp.StatusCode, snippet(raw))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			te := resilience.NewTransientError(statusErr, resp.StatusCode)
			te.RetryAfter = resilience.ParseRetryAfter(resp.Header.Get("Retry-After"), c.now())
			return nil, te
		}
		return nil, resilience.NewPermanentError(statusErr, resp.StatusCode)
	}

	return decodeBody(raw), nil
}

// decodeBody decodes a response body as JSON, falling back to the trimmed
// text.
func decodeBody(raw []byte) any {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return map[string]any{}
	}
	var v any
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return string(trimmed)
	}
	return v
}

func snippet(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	if len(s) > errorBodyLimit {
		return s[:errorBodyLimit] + "..."
	}
	return s
}
