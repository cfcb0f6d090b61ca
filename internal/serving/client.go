// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package serving

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/jeranaias/servechat/internal/config"
)

// Configuration constants for the serving client.
const (
	// retryBaseDelay is the base delay for exponential backoff.
	retryBaseDelay = 500 * time.Millisecond

	// retryMaxDelay is the maximum delay for exponential backoff.
	retryMaxDelay = 10 * time.Second

	// MaxResponseSize is the maximum allowed non-streaming response body size.
	// SECURITY: Response size limit prevents memory exhaustion attacks.
	MaxResponseSize = 10 * 1024 * 1024 // 10MB limit

	userAgent = "servechat/0.1.0"
)

// PERFORMANCE: Connection pooling reduces TCP handshake overhead.
// Both the bounded and the streaming client share this transport.
var sharedTransport = &http.Transport{
	Proxy:               http.ProxyFromEnvironment,
	MaxIdleConns:        100,
	MaxIdleConnsPerHost: 10,
	IdleConnTimeout:     90 * time.Second,
	TLSHandshakeTimeout: 10 * time.Second,
	TLSClientConfig: &tls.Config{
		MinVersion: tls.VersionTLS12,
	},
}

// Error variables for common endpoint errors.
var (
	// ErrNotConfigured indicates the endpoint name or host is missing.
	ErrNotConfigured = errors.New("serving endpoint not configured")

	// ErrAuthFailed indicates the token was rejected (401/403).
	ErrAuthFailed = errors.New("authentication failed")

	// ErrRateLimited indicates too many requests were made.
	ErrRateLimited = errors.New("rate limited")

	// ErrEndpointNotFound indicates the serving endpoint does not exist.
	ErrEndpointNotFound = errors.New("serving endpoint not found")

	// ErrUnexpectedResponse indicates a response body in none of the known formats.
	ErrUnexpectedResponse = errors.New("unexpected response format")
)

// APIError represents an error returned by the serving API.
type APIError struct {
	Code    string
	Message string
	Status  int
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Status == 0 {
		if e.Code != "" {
			return fmt.Sprintf("serving error [%s]: %s", e.Code, e.Message)
		}
		return "serving error: " + e.Message
	}
	if e.Code != "" {
		return fmt.Sprintf("serving error [%s] (HTTP %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("serving error (HTTP %d): %s", e.Status, e.Message)
}

// apiErrorResponse covers both the workspace error shape and the
// OpenAI-compatible {"error": {...}} shape.
type apiErrorResponse struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
	Error     *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Client talks to one model-serving endpoint.
type Client struct {
	name         string
	host         string
	token        string
	httpClient   *http.Client
	streamClient *http.Client
	limiter      *rate.Limiter
	maxRetries   int
	retryBase    time.Duration
	logger       *slog.Logger
}

// New creates a client for the endpoint described by cfg.
func New(cfg config.EndpointConfig) *Client {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	return &Client{
		name:  cfg.Name,
		host:  strings.TrimSuffix(strings.TrimSpace(cfg.Host), "/"),
		token: strings.TrimSpace(cfg.Token),
		httpClient: &http.Client{
			Transport: sharedTransport,
			Timeout:   cfg.Timeout(),
		},
		// No timeout for streaming - controlled via context
		streamClient: &http.Client{Transport: sharedTransport},
		limiter:      rate.NewLimiter(limit, burst),
		maxRetries:   cfg.MaxRetries,
		retryBase:    retryBaseDelay,
		logger:       slog.Default(),
	}
}

// WithHost overrides the workspace base URL.
func (c *Client) WithHost(host string) *Client {
	c.host = strings.TrimSuffix(host, "/")
	return c
}

// WithHTTPClient replaces both the bounded and the streaming HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	c.streamClient = hc
	return c
}

// WithMaxRetries sets the retry budget for non-streaming calls.
func (c *Client) WithMaxRetries(n int) *Client {
	c.maxRetries = n
	return c
}

// WithLogger sets the logger used for request tracing.
func (c *Client) WithLogger(logger *slog.Logger) *Client {
	if logger != nil {
		c.logger = logger
	}
	return c
}

// Name returns the serving endpoint name.
func (c *Client) Name() string {
	return c.name
}

// IsConfigured reports whether the client has an endpoint name and host.
func (c *Client) IsConfigured() bool {
	return c.name != "" && c.host != ""
}

// =============================================================================
// URLS
// =============================================================================

func (c *Client) invocationsURL() string {
	return c.host + "/serving-endpoints/" + url.PathEscape(c.name) + "/invocations"
}

func (c *Client) feedbackURL() string {
	return c.host + "/serving-endpoints/" + url.PathEscape(c.name) + "/served-models/feedback/invocations"
}

func (c *Client) describeURL() string {
	return c.host + "/api/2.0/serving-endpoints/" + url.PathEscape(c.name)
}

// =============================================================================
// REQUEST PLUMBING
// =============================================================================

// newRequest builds an authenticated request after waiting on the limiter.
func (c *Client) newRequest(ctx context.Context, method, target string, body []byte) (*http.Request, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", userAgent)
	return req, nil
}

// do performs one bounded request and returns the body of a 2xx response.
// SECURITY: Does not log headers (auth) or bodies (prompts).
func (c *Client) do(ctx context.Context, method, target string, body []byte) ([]byte, error) {
	req, err := c.newRequest(ctx, method, target, body)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	c.logger.Debug("serving response",
		"method", method,
		"path", req.URL.Path,
		"status", resp.StatusCode,
		"duration", time.Since(start))

	data, err := readResponse(resp)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, handleErrorResponse(resp.StatusCode, data)
	}
	return data, nil
}

// doWithRetry retries do on rate limiting and 5xx responses.
// RELIABILITY: Exponential backoff for transient errors.
func (c *Client) doWithRetry(ctx context.Context, method, target string, body []byte) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.calculateBackoff(attempt)):
			}
		}

		data, err := c.do(ctx, method, target, body)
		if err == nil {
			return data, nil
		}
		if !isRetryable(err) {
			return nil, err
		}
		lastErr = err
		c.logger.Debug("retrying serving request", "attempt", attempt+1, "error", err)
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// readResponse reads the response body with size limits.
// SECURITY: Response size limit prevents memory exhaustion attacks.
func readResponse(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) > MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}
	return body, nil
}

// handleErrorResponse converts HTTP error responses to Go errors. The
// returned error matches both the sentinel and *APIError.
func handleErrorResponse(status int, body []byte) error {
	apiErr := &APIError{Status: status}

	var parsed apiErrorResponse
	if err := json.Unmarshal(body, &parsed); err == nil {
		apiErr.Code = parsed.ErrorCode
		apiErr.Message = parsed.Message
		if parsed.Error != nil {
			if apiErr.Code == "" {
				apiErr.Code = parsed.Error.Code
			}
			if apiErr.Message == "" {
				apiErr.Message = parsed.Error.Message
			}
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %w", ErrAuthFailed, apiErr)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %w", ErrEndpointNotFound, apiErr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w", ErrRateLimited, apiErr)
	default:
		return apiErr
	}
}

// isRetryable determines if an error should trigger a retry.
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 500 && apiErr.Status < 600
	}
	return false
}

// calculateBackoff returns the delay to wait before the next retry.
func (c *Client) calculateBackoff(attempt int) time.Duration {
	delay := c.retryBase * time.Duration(1<<uint(attempt-1))
	if delay > retryMaxDelay {
		delay = retryMaxDelay
	}
	return delay
}
