// Package fetch performs single outbound HTTP calls to named upstreams with
// an explicit timeout and a typed failure, so cascades can fall through
// quickly. Bounded retries are available but off by default.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/kisansaathi/farmdata-service/internal/apperr"
	"github.com/kisansaathi/farmdata-service/internal/circuitbreaker"
	"github.com/kisansaathi/farmdata-service/internal/observability"
)

const (
	defaultTimeout      = 15 * time.Second
	defaultMaxBodyBytes = 8 << 20
	defaultUserAgent    = "kisan-saathi-farmdata/1.0"
)

// Request describes one outbound call. A non-nil Form is sent as an
// application/x-www-form-urlencoded POST body.
type Request struct {
	Method string
	URL    string
	Query  url.Values
	Form   url.Values
	Header http.Header
}

// Response is a successful (2xx) upstream answer.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Options configures a Client.
type Options struct {
	Name           string
	Timeout        time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	UserAgent      string
	MaxBodyBytes   int64
	HTTPClient     *http.Client
	// ForwardCorrelationID sends X-Correlation-ID upstream. Leave it off
	// for third-party providers.
	ForwardCorrelationID bool
}

// Client calls one named upstream.
type Client struct {
	name           string
	timeout        time.Duration
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	userAgent      string
	maxBodyBytes   int64
	httpClient     *http.Client
	breaker        *circuitbreaker.CircuitBreaker
	forwardCorrID  bool
}

// New builds a Client. Zero options take package defaults; RetryAttempts
// defaults to 1 (no retry).
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 1
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = 200 * time.Millisecond
	}
	if opts.RetryMaxDelay < opts.RetryBaseDelay {
		opts.RetryMaxDelay = opts.RetryBaseDelay
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{
		name:           opts.Name,
		timeout:        opts.Timeout,
		retryAttempts:  opts.RetryAttempts,
		retryBaseDelay: opts.RetryBaseDelay,
		retryMaxDelay:  opts.RetryMaxDelay,
		userAgent:      opts.UserAgent,
		maxBodyBytes:   opts.MaxBodyBytes,
		httpClient:     hc,
		forwardCorrID:  opts.ForwardCorrelationID,
	}
}

// SetCircuitBreaker guards every Do call with cb.
func (c *Client) SetCircuitBreaker(cb *circuitbreaker.CircuitBreaker) {
	c.breaker = cb
}

// Name returns the upstream name used in metrics and errors.
func (c *Client) Name() string {
	return c.name
}

// Session returns a copy of c with its own cookie jar. ASP.NET forms tie
// their hidden tokens to a session cookie, so GET and POST must share one.
func (c *Client) Session() *Client {
	jar, _ := cookiejar.New(nil)
	hc := *c.httpClient
	hc.Jar = jar
	cp := *c
	cp.httpClient = &hc
	return &cp
}

// Get is shorthand for a GET Do.
func (c *Client) Get(ctx context.Context, rawURL string, query url.Values, header http.Header) (Response, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, URL: rawURL, Query: query, Header: header})
}

// Do performs the request, retrying retryable failures up to the configured
// attempts, and returns a typed error from apperr on failure.
func (c *Client) Do(ctx context.Context, req Request) (Response, error) {
	if c.breaker == nil {
		return c.doWithRetry(ctx, req)
	}
	var resp Response
	err := c.breaker.Call(ctx, func() error {
		var callErr error
		resp, callErr = c.doWithRetry(ctx, req)
		return callErr
	})
	if err != nil {
		return Response{}, err
	}
	return resp, nil
}

func (c *Client) doWithRetry(ctx context.Context, req Request) (Response, error) {
	var lastErr error
	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			delay := c.calculateBackoff(attempt)
			if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < delay {
				break
			}
			observability.UpstreamRetriesTotal.WithLabelValues(c.name).Inc()
			select {
			case <-ctx.Done():
				return Response{}, fmt.Errorf("%s: %w: %w", c.name, apperr.ErrTimeout, ctx.Err())
			case <-time.After(delay):
			}
		}

		resp, err := c.call(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !apperr.Retryable(err) {
			return Response{}, err
		}
	}
	return Response{}, lastErr
}

func (c *Client) call(ctx context.Context, req Request) (Response, error) {
	start := time.Now()
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := c.buildRequest(reqCtx, req)
	if err != nil {
		observability.UpstreamCallsTotal.WithLabelValues(c.name, "error").Inc()
		return Response{}, fmt.Errorf("%s: build request: %w", c.name, err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		observability.UpstreamCallsTotal.WithLabelValues(c.name, "error").Inc()
		observability.UpstreamDuration.WithLabelValues(c.name, "error").Observe(time.Since(start).Seconds())
		return Response{}, c.classifyTransportError(err)
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	observability.UpstreamCallsTotal.WithLabelValues(c.name, status).Inc()
	observability.UpstreamDuration.WithLabelValues(c.name, status).Observe(time.Since(start).Seconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return Response{}, fmt.Errorf("%s: %w", c.name, &apperr.HTTPStatusError{Status: resp.StatusCode})
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodyBytes))
	if err != nil {
		return Response{}, c.classifyTransportError(err)
	}
	return Response{Status: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

func (c *Client) buildRequest(ctx context.Context, req Request) (*http.Request, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if len(req.Query) > 0 {
		q := u.Query()
		for k, vs := range req.Query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
		if req.Form != nil {
			method = http.MethodPost
		}
	}
	var body io.Reader
	if req.Form != nil {
		body = strings.NewReader(req.Form.Encode())
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if req.Form != nil {
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", c.userAgent)
	}
	if corrID := observability.CorrelationID(ctx); c.forwardCorrID && corrID != "" {
		httpReq.Header.Set("X-Correlation-ID", corrID)
	}
	return httpReq, nil
}

func (c *Client) classifyTransportError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%s: %w: %w", c.name, apperr.ErrTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", c.name, err)
	}
	return fmt.Errorf("%s: %w: %w", c.name, apperr.ErrNetwork, err)
}

func (c *Client) calculateBackoff(attempt int) time.Duration {
	delay := float64(c.retryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.retryMaxDelay) {
		delay = float64(c.retryMaxDelay)
	}
	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func statusLabel(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return "success"
	case statusCode == http.StatusTooManyRequests:
		return "rate_limited"
	case statusCode >= 400 && statusCode < 500:
		return "client_error"
	case statusCode >= 500:
		return "server_error"
	default:
		return "error"
	}
}
