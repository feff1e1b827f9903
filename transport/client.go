// Package transport sends JSON documents to the forecast backend and
// classifies the replies. A Client is built once per process and shared.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"
)

// HealthPath is the backend liveness route.
const HealthPath = "/health"

// TransportError is returned for any failed exchange: a non-2xx status, a
// network failure, or a 2xx body that is not the expected JSON. Message is
// the response body text, or a status label when the body is empty.
type TransportError struct {
	Status  int // 0 when no response arrived
	Message string
	Err     error
}

func (e *TransportError) Error() string {
	return e.Message
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// BreakerSettings enables fail-fast after repeated failures. The breaker
// never retries a call; it only short-circuits new ones while open.
type BreakerSettings struct {
	MaxFailures uint32
	Cooldown    time.Duration
}

// Client posts JSON to one backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[*http.Response]
	userAgent  string
	logger     *slog.Logger
	requestID  func() string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout bounds each call. Zero leaves calls unbounded, which is the
// default; callers can still cancel through the context.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		hc := *c.httpClient
		hc.Timeout = d
		c.httpClient = &hc
	}
}

// WithLogger sets the logger used for request tracing.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// WithBreaker wraps calls in a circuit breaker. MaxFailures of zero leaves
// the breaker off.
func WithBreaker(s BreakerSettings) Option {
	return func(c *Client) {
		if s.MaxFailures == 0 {
			return
		}
		c.breaker = gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
			Name:        "forecast-backend",
			MaxRequests: 1,
			Timeout:     s.Cooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= s.MaxFailures
			},
		})
	}
}

// WithRequestIDFunc overrides X-Request-ID generation.
func WithRequestIDFunc(fn func() string) Option {
	return func(c *Client) {
		c.requestID = fn
	}
}

// New returns a Client for baseURL. An empty baseURL is accepted; requests
// then go to the bare path and fail at send time.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		requestID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the configured base URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Send POSTs body as JSON to path and decodes a 2xx reply into out.
func (c *Client) Send(ctx context.Context, path string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, b, out)
}

// Fetch GETs path and decodes a 2xx reply into out.
func (c *Client) Fetch(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

// Health checks the backend liveness route.
func (c *Client) Health(ctx context.Context) error {
	var reply struct {
		OK bool `json:"ok"`
	}
	if err := c.Fetch(ctx, HealthPath, &reply); err != nil {
		return err
	}
	if !reply.OK {
		return &TransportError{Status: http.StatusOK, Message: "backend reported not ok"}
	}
	return nil
}

// PostJSON is Send with the reply type as a type parameter.
func PostJSON[T any](ctx context.Context, c *Client, path string, body any) (T, error) {
	var out T
	err := c.Send(ctx, path, body, &out)
	return out, err
}

// GetJSON is Fetch with the reply type as a type parameter.
func GetJSON[T any](ctx context.Context, c *Client, path string) (T, error) {
	var out T
	err := c.Fetch(ctx, path, &out)
	return out, err
}

// errServerStatus marks 5xx replies as failures for the breaker.
var errServerStatus = errors.New("server error status")

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	url := c.baseURL + "/" + strings.TrimLeft(path, "/")

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return &TransportError{Message: err.Error(), Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	reqID := c.requestID()
	req.Header.Set("X-Request-ID", reqID)

	log := c.logger.With("request_id", reqID, "method", method, "url", url)
	start := time.Now()
	log.Debug("sending request")

	resp, err := c.roundTrip(req)
	if err != nil && !errors.Is(err, errServerStatus) {
		log.Warn("request failed", "error", err, "elapsed", time.Since(start))
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return &TransportError{Message: "backend unavailable: circuit breaker open", Err: err}
		}
		return &TransportError{Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Warn("reading response failed", "status", resp.StatusCode, "error", err)
		return &TransportError{Status: resp.StatusCode, Message: err.Error(), Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Warn("backend returned error status", "status", resp.StatusCode, "elapsed", time.Since(start))
		return &TransportError{Status: resp.StatusCode, Message: bodyText(resp, data)}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			log.Warn("decoding response failed", "status", resp.StatusCode, "error", err)
			return &TransportError{Status: resp.StatusCode, Message: bodyText(resp, data), Err: err}
		}
	}

	log.Debug("request complete", "status", resp.StatusCode, "elapsed", time.Since(start))
	return nil
}

func (c *Client) roundTrip(req *http.Request) (*http.Response, error) {
	if c.breaker == nil {
		return c.httpClient.Do(req)
	}
	return c.breaker.Execute(func() (*http.Response, error) {
		r, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		if r.StatusCode >= 500 {
			return r, errServerStatus
		}
		return r, nil
	})
}

// bodyText is the trimmed body, or the status line when the body is blank.
func bodyText(resp *http.Response, data []byte) string {
	if s := strings.TrimSpace(string(data)); s != "" {
		return s
	}
	if resp.Status != "" {
		return resp.Status
	}
	return fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
}
