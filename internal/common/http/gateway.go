package http

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"token-broker/internal/circuitbreaker"
	"token-broker/internal/common/errors"
	"token-broker/internal/common/logging"
)

// maxResponseBytes caps how much of a provider response is read into memory.
const maxResponseBytes = 1 << 20

// Gateway executes JSON POST requests against the provider API.
// Any HTTP status is returned as a Response; mapping statuses to errors is the
// caller's job. Errors are returned only when no response was obtained.
type Gateway interface {
	PostJSON(ctx context.Context, url string, headers map[string]string, body any) (*Response, error)
}

// Response is the status and raw body of a provider answer
type Response struct {
	StatusCode int
	Body       []byte
}

// IsSuccess reports a 2xx status
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// RequestRecorder observes completed provider requests. status is 0 when the
// request failed before a response arrived.
type RequestRecorder interface {
	RecordProviderRequest(ctx context.Context, url string, status int, duration time.Duration)
}

// Client is the production Gateway. It never retries.
type Client struct {
	client   *http.Client
	breaker  *circuitbreaker.GoBreakerAdapter
	limiter  *rate.Limiter
	recorder RequestRecorder
	logger   logging.Logger
}

// GatewayOption configures a Client
type GatewayOption func(*Client)

// WithCircuitBreaker guards requests with the given breaker
func WithCircuitBreaker(breaker *circuitbreaker.GoBreakerAdapter) GatewayOption {
	return func(c *Client) {
		c.breaker = breaker
	}
}

// WithRateLimit limits outbound requests to rps per second with the given burst.
// A non-positive rps disables limiting.
func WithRateLimit(rps float64, burst int) GatewayOption {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithRecorder reports request durations to recorder
func WithRecorder(recorder RequestRecorder) GatewayOption {
	return func(c *Client) {
		c.recorder = recorder
	}
}

// WithLogger sets the logger
func WithLogger(logger logging.Logger) GatewayOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a Gateway over httpClient. A nil httpClient gets NewHTTPClient defaults.
func NewClient(httpClient *http.Client, opts ...GatewayOption) *Client {
	if httpClient == nil {
		httpClient = NewHTTPClient()
	}

	c := &Client{client: httpClient}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.OrGlobal(c.logger)

	return c
}

// PostJSON encodes body as JSON and posts it to url
func (c *Client) PostJSON(ctx context.Context, url string, headers map[string]string, body any) (*Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errors.InternalError("failed to encode request body", err)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, errors.TimeoutError("provider request", ctxErr)
			}
			return nil, errors.RateLimitError("provider api")
		}
	}

	start := time.Now()
	var resp *Response

	call := func() error {
		var callErr error
		resp, callErr = c.do(ctx, url, headers, payload)
		if callErr != nil {
			return callErr
		}
		if resp.StatusCode >= 500 {
			// reported to the breaker as a failure; the caller still gets the response
			return errors.HTTPError(resp.StatusCode, "")
		}
		return nil
	}

	if c.breaker != nil {
		err = c.breaker.Execute(ctx, call)
	} else {
		err = call()
	}

	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	if c.recorder != nil {
		c.recorder.RecordProviderRequest(ctx, url, status, time.Since(start))
	}

	if resp != nil {
		return resp, nil
	}

	c.logger.Warn("Provider request failed",
		logging.String("url", url),
		logging.Err(err),
	)
	return nil, err
}

func (c *Client) do(ctx context.Context, url string, headers map[string]string, payload []byte) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.ValidationError("invalid request url").WithContext("url", url)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	httpResp, err := c.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, errors.TimeoutError("provider request", ctxErr)
		}
		var netErr net.Error
		if stderrors.As(err, &netErr) && netErr.Timeout() {
			return nil, errors.TimeoutError("provider request", err)
		}
		return nil, errors.ConnectionError("provider request failed", err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, errors.TimeoutError("provider request", ctxErr)
		}
		return nil, errors.ConnectionError("failed to read provider response", err)
	}

	return &Response{StatusCode: httpResp.StatusCode, Body: data}, nil
}
