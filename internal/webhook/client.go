// Package webhook delivers flow payloads to a connection's HTTP endpoint.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tjfontaine/hubflow/internal/core/domain"
	"github.com/tjfontaine/hubflow/internal/params"
)

const (
	// DefaultTimeout bounds a single delivery when no other timeout is set.
	DefaultTimeout = 10 * time.Second

	// DefaultTokenHeader carries the connection token.
	DefaultTokenHeader = "X-Hub-Token"

	// maxErrorBody caps how much of a failed response is kept in the error.
	maxErrorBody = 4096
)

// Client posts payloads to a single path of a connection.
type Client struct {
	conn        *domain.Connection
	path        string
	scheme      string
	tokenHeader string
	timeout     time.Duration
	httpClient  *http.Client
	logger      *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client. Its own timeout applies.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithScheme sets the URL scheme used to reach the connection.
func WithScheme(scheme string) Option {
	return func(c *Client) {
		if scheme != "" {
			c.scheme = scheme
		}
	}
}

// WithTokenHeader sets the header that carries the connection token.
func WithTokenHeader(name string) Option {
	return func(c *Client) {
		if name != "" {
			c.tokenHeader = name
		}
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger used for delivery diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a client for path on conn.
func New(conn *domain.Connection, path string, opts ...Option) *Client {
	c := &Client{
		conn:        conn,
		path:        path,
		scheme:      "https",
		tokenHeader: DefaultTokenHeader,
		timeout:     DefaultTimeout,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = NewHTTPClient(c.timeout)
	}
	return c
}

// NewHTTPClient returns a pooled, traced HTTP client suitable for sharing
// between webhook clients.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return NewHTTPClientWithTransport(cleanhttp.DefaultPooledTransport(), timeout)
}

// NewHTTPClientWithTransport is like NewHTTPClient but sends through t.
func NewHTTPClientWithTransport(t http.RoundTripper, timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{
		Transport: otelhttp.NewTransport(t),
		Timeout:   timeout,
	}
}

// URL returns the endpoint the client posts to.
func (c *Client) URL() string {
	return c.conn.Endpoint(c.scheme, c.path)
}

var errNotObject = errors.New("response body is not a JSON object")

// Response is a decoded webhook reply.
type Response struct {
	StatusCode int
	Body       map[string]any
}

// Empty reports whether the endpoint replied without a body. A reply of {}
// is not empty.
func (r *Response) Empty() bool {
	return r.Body == nil
}

// Post delivers payload with requestID. Request parameters are deep-merged
// over the connection's stored parameters, and payload keys are placed at
// the top level of the body, winning over request_id and parameters.
//
// A 2xx reply with an empty body yields a Response with a nil Body. Any
// other status returns a *domain.WebhookError; an undecodable 2xx body
// returns a *domain.MalformedResponseError.
func (c *Client) Post(ctx context.Context, payload map[string]any, requestID string, parameters any) (*Response, error) {
	body := c.buildBody(payload, requestID, parameters)

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal webhook body: %w", err)
	}

	url := c.URL()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(c.tokenHeader, c.conn.Token)
	if requestID != "" {
		req.Header.Set("X-Request-ID", requestID)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webhook request to %s failed: %w", url, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read webhook response: %w", err)
	}

	c.logger.Debug("webhook delivered",
		slog.String("connection", c.conn.Name),
		slog.String("url", url),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if len(respBody) > maxErrorBody {
			respBody = respBody[:maxErrorBody]
		}
		return nil, &domain.WebhookError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(respBody))}
	}

	result := &Response{StatusCode: resp.StatusCode}
	if len(bytes.TrimSpace(respBody)) == 0 {
		return result, nil
	}
	if err := json.Unmarshal(respBody, &result.Body); err != nil {
		return nil, &domain.MalformedResponseError{StatusCode: resp.StatusCode, Body: string(respBody), Err: err}
	}
	if result.Body == nil {
		// null decodes without error but is not an object.
		return nil, &domain.MalformedResponseError{StatusCode: resp.StatusCode, Body: string(respBody), Err: errNotObject}
	}
	return result, nil
}

func (c *Client) buildBody(payload map[string]any, requestID string, parameters any) map[string]any {
	body := map[string]any{
		"request_id": requestID,
		"parameters": params.DeepMerge(c.conn.Parameters, params.Compact(parameters)),
	}
	for k, v := range payload {
		body[k] = v
	}
	return body
}
