package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/avabearer/internal/observability"
)

// Default client settings.
const (
	DefaultTimeout     = 5 * time.Second
	DefaultMaxBodySize = 1 << 20
)

var tracer = otel.Tracer("avabearer/fetch")

// ErrMalformedResponse indicates a response body that could not be decoded.
var ErrMalformedResponse = errors.New("malformed response")

// StatusError is returned when the server answers with a status other than 200.
type StatusError struct {
	URL        string
	StatusCode int
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("failed to fetch %s, responded with %d", e.URL, e.StatusCode)
}

// JSONFetcher retrieves and decodes a JSON document.
type JSONFetcher interface {
	FetchJSON(ctx context.Context, url string, out any) error
}

// Client fetches JSON documents over HTTP with a per-request timeout and an
// optional circuit breaker.
type Client struct {
	httpClient  *http.Client
	timeout     time.Duration
	maxBodySize int64
	breaker     *gobreaker.CircuitBreaker
	logger      observability.Logger
}

var _ JSONFetcher = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for outbound requests. Its
// transport acts as the network agent (proxying, TLS, connection reuse).
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithMaxBodySize limits how many bytes of a response body are read.
func WithMaxBodySize(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxBodySize = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithCircuitBreaker guards outbound requests with cb.
func WithCircuitBreaker(cb *gobreaker.CircuitBreaker) Option {
	return func(c *Client) {
		c.breaker = cb
	}
}

// New creates a Client.
func New(opts ...Option) *Client {
	c := &Client{
		httpClient:  http.DefaultClient,
		timeout:     DefaultTimeout,
		maxBodySize: DefaultMaxBodySize,
		logger:      observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchJSON issues a GET to url and decodes the JSON response into out.
func (c *Client) FetchJSON(ctx context.Context, url string, out any) error {
	ctx, span := tracer.Start(ctx, "fetch.json",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("url.full", url)),
	)
	defer span.End()

	var err error
	if c.breaker != nil {
		_, err = c.breaker.Execute(func() (any, error) {
			return nil, c.do(ctx, url, out)
		})
	} else {
		err = c.do(ctx, url, out)
	}

	observability.RecordError(span, err)
	return err
}

func (c *Client) do(ctx context.Context, url string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create request for %s: %w", url, err)
	}
	req.Header.Set("Accept", "application/json")
	observability.InjectTraceContext(ctx, req)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("fetched document",
		observability.String("url", url),
		observability.Int("status", resp.StatusCode),
		observability.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, c.maxBodySize))
		return &StatusError{URL: url, StatusCode: resp.StatusCode}
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, c.maxBodySize)).Decode(out); err != nil {
		return fmt.Errorf("failed to parse the response from %s: %w: %w", url, ErrMalformedResponse, err)
	}
	return nil
}
