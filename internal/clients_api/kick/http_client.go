package kick

// Package kick contains the client for the Kick.com public API.
// This file is the transport layer: rate limiting, circuit breaking and request logging.
// It knows nothing about monitors; channel and chat calls live in channels.go and messages.go.

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"kick-miner/internal/infra/log"
	"kick-miner/internal/infra/retry"
	"kick-miner/internal/telemetry"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the Kick v2 API root.
	DefaultBaseURL = "https://kick.com/api/v2"

	DefaultTimeout         = 15 * time.Second
	DefaultMaxResponseSize = 2 * 1024 * 1024
)

// Options configures a Client. Zero values fall back to defaults.
type Options struct {
	BaseURL         string
	Authorization   string
	Timeout         time.Duration
	RateLimit       float64 // requests per second shared by all monitors
	RateBurst       int
	MaxRetries      int // retries for channel fetches only
	MaxResponseSize int64
}

// Client is safe for concurrent use by many monitors.
type Client struct {
	baseURL         string
	authorization   string
	httpClient      *http.Client
	rateLimiter     *rate.Limiter
	circuitBreaker  *gobreaker.CircuitBreaker
	retryOptions    retry.Options
	maxResponseSize int64
}

func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 2
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 4
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.MaxResponseSize <= 0 {
		opts.MaxResponseSize = DefaultMaxResponseSize
	}

	circuitBreaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "KickAPI",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		IsSuccessful: isBreakerSuccess,
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.LogWarn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			telemetry.UpdateCircuitGauge(to == gobreaker.StateOpen)
		},
	})

	return &Client{
		baseURL:         strings.TrimRight(opts.BaseURL, "/"),
		authorization:   normalizeAuthorization(opts.Authorization),
		rateLimiter:     rate.NewLimiter(rate.Limit(opts.RateLimit), opts.RateBurst),
		circuitBreaker:  circuitBreaker,
		maxResponseSize: opts.MaxResponseSize,
		retryOptions: retry.Options{
			MaxRetries: opts.MaxRetries,
			BaseDelay:  500 * time.Millisecond,
			MaxDelay:   5 * time.Second,
			Backoff:    2.0,
		},
		httpClient: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				DisableKeepAlives: false,
				MaxIdleConns:      10,
				IdleConnTimeout:   90 * time.Second,
			},
		},
	}
}

// isBreakerSuccess keeps client errors (404 for an unknown slug, 401 for a bad token)
// from tripping the breaker; only transport failures, 429 and 5xx count.
func isBreakerSuccess(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	code := retry.StatusCode(err)
	return code >= 400 && code < 500 && code != http.StatusTooManyRequests
}

func normalizeAuthorization(token string) string {
	token = strings.TrimSpace(token)
	if token == "" {
		return ""
	}
	if strings.HasPrefix(strings.ToLower(token), "bearer ") {
		return token
	}
	return "Bearer " + token
}

// MakeRequest sends one request through the rate limiter and circuit breaker.
// authorized controls whether the Authorization header is attached.
func (c *Client) MakeRequest(ctx context.Context, method, endpoint string, body interface{}, authorized bool) ([]byte, error) {
	requestID := log.GenerateRequestID()
	startTime := time.Now()

	if ctx.Err() != nil {
		return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
	}

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait failed: %w", err)
	}

	result, err := c.circuitBreaker.Execute(func() (interface{}, error) {
		return c.makeRequestWithContext(ctx, requestID, method, endpoint, body, authorized, startTime)
	})
	telemetry.ObserveRequest(metricEndpoint(endpoint), time.Since(startTime))
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			log.LogDebug("Circuit breaker rejected request", zap.String("request_id", requestID), zap.String("endpoint", endpoint), zap.Error(err))
		}
		return nil, err
	}

	return result.([]byte), nil
}

func (c *Client) makeRequestWithContext(ctx context.Context, requestID, method, endpoint string, body interface{}, authorized bool, startTime time.Time) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	setBrowserHeaders(req)
	if authorized && c.authorization != "" {
		req.Header.Set("Authorization", c.authorization)
	}

	log.LogRequest(requestID, method, endpoint, zap.String("url", req.URL.String()))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		duration := time.Since(startTime).Milliseconds()
		log.LogResponse(requestID, 0, duration, zap.String("endpoint", endpoint), zap.Error(err))
		return nil, fmt.Errorf("failed to perform request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, c.maxResponseSize))
	duration := time.Since(startTime).Milliseconds()
	if err != nil {
		log.LogResponse(requestID, resp.StatusCode, duration, zap.String("endpoint", endpoint), zap.Error(err))
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		httpErr := &retry.HTTPError{
			StatusCode: resp.StatusCode,
			Body:       respBody,
			RetryAfter: retry.ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
		contentType := resp.Header.Get("Content-Type")
		if contentType != "" && !strings.Contains(contentType, "application/json") {
			log.LogResponse(requestID, resp.StatusCode, duration, zap.String("endpoint", endpoint), zap.String("error", "blocked by Cloudflare or invalid response"))
			httpErr.Body = []byte("blocked by Cloudflare or invalid response")
			return nil, httpErr
		}
		log.LogResponse(requestID, resp.StatusCode, duration, zap.String("endpoint", endpoint), zap.String("error", "API error response received"))
		return nil, httpErr
	}

	log.LogResponse(requestID, resp.StatusCode, duration, zap.String("endpoint", endpoint))
	return respBody, nil
}

// setBrowserHeaders makes requests look like they come from a regular browser session;
// Kick sits behind Cloudflare and rejects obvious bots.
func setBrowserHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Referer", "https://kick.com/")
	req.Header.Set("Origin", "https://kick.com")
}

// metricEndpoint strips path parameters so metric label cardinality stays bounded.
func metricEndpoint(endpoint string) string {
	switch {
	case strings.HasPrefix(endpoint, "/channels/"):
		return "/channels"
	case strings.HasPrefix(endpoint, "/messages/send/"):
		return "/messages/send"
	default:
		return endpoint
	}
}
