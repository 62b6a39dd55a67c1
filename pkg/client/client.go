// Package client provides the HTTP transport used for every YouTube Data API
// call: quota gating, request pacing, response caching and retries.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Sternrassler/yt-comments/pkg/cache"
	"github.com/Sternrassler/yt-comments/pkg/metrics"
	"github.com/Sternrassler/yt-comments/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultBaseURL is the YouTube Data API host.
const DefaultBaseURL = "https://youtube.googleapis.com"

// Prometheus metrics for API client operations.
var (
	ytRequestsTotal = promauto.With(metrics.Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "yt_requests_total",
		Help: "Total YouTube API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	ytRequestDuration = promauto.With(metrics.Registry).NewHistogramVec(prometheus.HistogramOpts{
		Name:    "yt_request_duration_seconds",
		Help:    "YouTube API request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	ytErrorsTotal = promauto.With(metrics.Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "yt_errors_total",
		Help: "Total YouTube API errors by class",
	}, []string{"class"})
)

// ErrorClass represents a classification of API errors.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 and 403 rateLimitExceeded responses.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassQuota represents 403 quotaExceeded responses.
	ErrorClassQuota ErrorClass = "quota"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"
)

// Client is an http.RoundTripper for the YouTube Data API.
type Client struct {
	httpClient *http.Client
	redis      *redis.Client
	quota      *ratelimit.Tracker
	cache      *cache.Manager
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// Redis client for caching and quota state. Optional: without it the
	// cache is disabled and quota is tracked per process.
	Redis *redis.Client

	// User-Agent header sent with every request.
	UserAgent string

	// BaseURL is used by Get. Defaults to DefaultBaseURL.
	BaseURL string

	// Quota
	DailyQuota   int64 // Units per day
	QuotaReserve int64 // Units that must stay unused

	// Pacing
	RequestsPerSecond float64

	// Caching
	CacheTTL       time.Duration // Freshness of cached responses
	CacheRetention time.Duration // How long stale entries are kept for revalidation

	// Retry
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// Timeout per HTTP attempt.
	Timeout time.Duration

	// Transport is the underlying transport (default http.DefaultTransport).
	Transport http.RoundTripper
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(redis *redis.Client, userAgent string) Config {
	return Config{
		Redis:             redis,
		UserAgent:         userAgent,
		BaseURL:           DefaultBaseURL,
		DailyQuota:        ratelimit.DefaultDailyQuota,
		QuotaReserve:      ratelimit.DefaultReserveUnits,
		RequestsPerSecond: 10,
		CacheTTL:          cache.DefaultTTL,
		CacheRetention:    cache.DefaultRetention,
		MaxRetries:        3,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        30 * time.Second,
		Timeout:           30 * time.Second,
	}
}

// New creates a new API client.
func New(cfg Config) (*Client, error) {
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	if cfg.MaxRetries < 1 {
		return nil, fmt.Errorf("max_retries must be >= 1 (got %d)", cfg.MaxRetries)
	}

	if cfg.DailyQuota <= 0 {
		return nil, fmt.Errorf("daily_quota must be > 0 (got %d)", cfg.DailyQuota)
	}

	if cfg.QuotaReserve < 0 || cfg.QuotaReserve >= cfg.DailyQuota {
		return nil, fmt.Errorf("quota_reserve must be in [0, %d) (got %d)", cfg.DailyQuota, cfg.QuotaReserve)
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = cache.DefaultTTL
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultRetryConfig().MaxBackoff
	}

	logger := log.With().Str("component", "youtube-client").Logger()

	quota := ratelimit.NewTracker(cfg.Redis, ratelimit.Config{
		DailyLimit:        cfg.DailyQuota,
		Reserve:           cfg.QuotaReserve,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             burstFor(cfg.RequestsPerSecond),
		ThrottleDelay:     1 * time.Second,
	}, logger)

	var cacheManager *cache.Manager
	if cfg.Redis != nil {
		cacheManager = cache.NewManager(cfg.Redis, cfg.CacheRetention)
	}

	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	return &Client{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		redis:  cfg.Redis,
		quota:  quota,
		cache:  cacheManager,
		config: cfg,
		logger: logger,
	}, nil
}

func burstFor(rps float64) int {
	if rps < 1 {
		return 1
	}
	return int(rps)
}

// RoundTrip implements http.RoundTripper so the client can sit under the
// generated YouTube API bindings. The request is cloned before use.
func (c *Client) RoundTrip(req *http.Request) (*http.Response, error) {
	return c.Do(req.Clone(req.Context()))
}

// Do performs an API request with quota gating, caching and retries.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	endpoint := req.URL.Path

	startTime := time.Now()
	defer func() {
		ytRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	// Step 1: Check Cache
	var (
		cacheKey    cache.CacheKey
		cachedEntry *cache.CacheEntry
	)
	cacheable := c.cache != nil && req.Method == http.MethodGet
	if cacheable {
		cacheKey = cache.KeyFromURL(req.URL)

		entry, err := c.cache.Get(ctx, cacheKey)
		if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
			c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Cache get error")
		}
		cachedEntry = entry

		if cachedEntry != nil && !cachedEntry.IsExpired() {
			c.logger.Debug().
				Str("endpoint", endpoint).
				Dur("age", cachedEntry.Age()).
				Msg("Serving fresh response from cache")
			cache.CacheHits.WithLabelValues(cache.StateFresh).Inc()
			ytRequestsTotal.WithLabelValues(endpoint, "cache").Inc()
			return cache.EntryToResponse(cachedEntry, req, cache.StateFresh), nil
		}
	}

	// Step 2: Check Quota
	allowed, err := c.quota.ShouldAllowRequest(ctx)
	if err != nil {
		c.logger.Error().Err(err).Msg("Quota check failed")
		return nil, fmt.Errorf("quota check: %w", err)
	}
	if !allowed {
		c.logger.Warn().
			Str("endpoint", endpoint).
			Msg("Request blocked by quota tracker")
		ytRequestsTotal.WithLabelValues(endpoint, "quota_blocked").Inc()
		return nil, fmt.Errorf("request to %s blocked: %w", endpoint, ErrQuotaExhausted)
	}

	// Step 3: Make Conditional Request if a stale entry exists
	if cachedEntry != nil && cache.ShouldMakeConditionalRequest(cachedEntry) {
		cache.AddConditionalHeaders(req, cachedEntry)
		cache.ConditionalRequestsSent.Inc()
		c.logger.Debug().
			Str("endpoint", endpoint).
			Str("etag", cachedEntry.ETag).
			Msg("Making conditional request")
	}

	// Step 4: Set headers
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	// Step 5: Execute HTTP Request with Retry Logic
	c.logger.Debug().
		Str("endpoint", endpoint).
		Str("method", req.Method).
		Msg("Executing YouTube API request")

	var resp *http.Response

	retryErr := retryWithBackoff(ctx, c.retryConfig(), func() (ErrorClass, error) {
		var reqErr error
		resp, reqErr = c.httpClient.Do(req)

		if reqErr != nil {
			c.logger.Error().Err(reqErr).Str("endpoint", endpoint).Msg("HTTP request failed")
			errClass := c.classifyError(nil, "", reqErr)
			ytErrorsTotal.WithLabelValues(string(errClass)).Inc()
			ytRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
			return errClass, &APIError{ErrorClass: errClass, Message: "request failed", Err: reqErr}
		}

		if err := c.quota.Charge(ctx, 1); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to record quota usage")
		}

		// 304 Not Modified is handled below
		if resp.StatusCode == http.StatusNotModified {
			return "", nil
		}

		if resp.StatusCode >= 400 {
			reason, message := readErrorReason(resp)
			errClass := c.classifyError(resp, reason, nil)
			ytErrorsTotal.WithLabelValues(string(errClass)).Inc()
			ytRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

			c.logger.Warn().
				Str("endpoint", endpoint).
				Int("status", resp.StatusCode).
				Str("reason", reason).
				Str("error_class", string(errClass)).
				Msg("YouTube API request error")

			if errClass == ErrorClassQuota {
				if err := c.quota.MarkExhausted(ctx); err != nil {
					c.logger.Warn().Err(err).Msg("Failed to record quota exhaustion")
				}
			}

			if shouldRetry(errClass) {
				resp.Body.Close()
				return errClass, &APIError{
					StatusCode: resp.StatusCode,
					ErrorClass: errClass,
					Reason:     reason,
					Message:    message,
				}
			}

			// Not retried - let the caller decode the error body
			return "", nil
		}

		ytRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()
		return "", nil
	})

	if retryErr != nil {
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		return nil, retryErr
	}

	// Step 6: Handle 304 Not Modified
	if resp.StatusCode == http.StatusNotModified && cachedEntry != nil {
		c.logger.Debug().Str("endpoint", endpoint).Msg("304 Not Modified - using cache")
		ytRequestsTotal.WithLabelValues(endpoint, "304").Inc()
		cache.NotModifiedResponses.Inc()
		cache.CacheHits.WithLabelValues(cache.StateRevalidated).Inc()

		if err := c.cache.UpdateTTL(ctx, cacheKey, time.Now().Add(c.config.CacheTTL)); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to update cache TTL")
		}

		resp.Body.Close()
		return cache.EntryToResponse(cachedEntry, req, cache.StateRevalidated), nil
	}

	// Step 7: Update Cache on success
	if cacheable && resp.StatusCode == http.StatusOK {
		entry, err := cache.ResponseToEntry(resp, c.config.CacheTTL)
		if err != nil {
			c.logger.Warn().Err(err).Msg("Failed to create cache entry")
		} else if err := c.cache.Set(ctx, cacheKey, entry); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to cache response")
		} else {
			c.logger.Debug().
				Str("endpoint", endpoint).
				Dur("ttl", entry.TTL()).
				Msg("Cached response")
		}
	}

	return resp, nil
}

func (c *Client) retryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       c.config.MaxRetries,
		InitialBackoff:    c.config.InitialBackoff,
		MaxBackoff:        c.config.MaxBackoff,
		BackoffMultiplier: 2.0,
	}
}

// classifyError categorizes an error for observability and handling.
func (c *Client) classifyError(resp *http.Response, reason string, err error) ErrorClass {
	var class ErrorClass

	switch {
	case err != nil:
		class = ErrorClassNetwork
	case resp.StatusCode == http.StatusTooManyRequests:
		class = ErrorClassRateLimit
	case resp.StatusCode == http.StatusForbidden &&
		(reason == ReasonQuotaExceeded || reason == ReasonDailyLimitExceeded):
		class = ErrorClassQuota
	case resp.StatusCode == http.StatusForbidden &&
		(reason == ReasonRateLimitExceeded || reason == ReasonUserRateLimitExceeded):
		class = ErrorClassRateLimit
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		class = ErrorClassClient
	case resp.StatusCode >= 500:
		class = ErrorClassServer
	default:
		return ""
	}

	c.logger.Debug().Str("class", string(class)).Msg("Error classified")
	return class
}

// Get performs a GET request against BaseURL + path.
func (c *Client) Get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	return c.Do(req)
}

// QuotaState returns the current quota window.
func (c *Client) QuotaState(ctx context.Context) (*ratelimit.QuotaState, error) {
	return c.quota.GetState(ctx)
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// GetCache returns the cache manager, nil when caching is disabled.
func (c *Client) GetCache() *cache.Manager {
	return c.cache
}
