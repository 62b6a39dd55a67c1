package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/yt-comments/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

var (
	quotaUnitsUsed = promauto.With(metrics.Registry).NewGauge(prometheus.GaugeOpts{
		Name: "yt_quota_units_used",
		Help: "Quota units charged in the current daily window",
	})

	quotaBlocksTotal = promauto.With(metrics.Registry).NewCounter(prometheus.CounterOpts{
		Name: "yt_quota_blocks_total",
		Help: "Total number of requests blocked because quota is exhausted",
	})

	quotaThrottlesTotal = promauto.With(metrics.Registry).NewCounter(prometheus.CounterOpts{
		Name: "yt_quota_throttles_total",
		Help: "Total number of requests throttled because quota is running low",
	})
)

// Config controls quota accounting and request pacing.
type Config struct {
	DailyLimit        int64
	Reserve           int64
	RequestsPerSecond float64
	Burst             int
	// ThrottleDelay is the extra wait applied per request in the warning zone.
	ThrottleDelay time.Duration
}

// DefaultConfig returns the limits of a fresh API project.
func DefaultConfig() Config {
	return Config{
		DailyLimit:        DefaultDailyQuota,
		Reserve:           DefaultReserveUnits,
		RequestsPerSecond: 10,
		Burst:             10,
		ThrottleDelay:     1 * time.Second,
	}
}

// Tracker gates requests on quota and paces them with a token bucket.
// With a nil Redis client the state is kept in process memory.
type Tracker struct {
	redis   *redis.Client
	limiter *rate.Limiter
	config  Config
	logger  zerolog.Logger
	now     func() time.Time

	mu  sync.Mutex
	mem QuotaState
}

// NewTracker creates a new quota tracker.
func NewTracker(redisClient *redis.Client, cfg Config, logger zerolog.Logger) *Tracker {
	if cfg.DailyLimit <= 0 {
		cfg.DailyLimit = DefaultDailyQuota
	}
	if cfg.Reserve < 0 {
		cfg.Reserve = 0
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	t := &Tracker{
		redis:   redisClient,
		limiter: rate.NewLimiter(limit, burst),
		config:  cfg,
		logger:  logger,
		now:     time.Now,
	}
	t.mem = t.freshState()
	return t
}

func (t *Tracker) freshState() QuotaState {
	now := t.now()
	return QuotaState{
		DailyLimit: t.config.DailyLimit,
		Reserve:    t.config.Reserve,
		ResetAt:    NextReset(now),
		LastUpdate: now,
	}
}

// GetState returns the current quota window.
func (t *Tracker) GetState(ctx context.Context) (*QuotaState, error) {
	if t.redis == nil {
		t.mu.Lock()
		defer t.mu.Unlock()
		if !t.now().Before(t.mem.ResetAt) {
			t.mem = t.freshState()
		}
		state := t.mem
		return &state, nil
	}

	used, err := t.redis.Get(ctx, RedisKeyUnitsUsed).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get units used: %w", err)
	}

	exhausted, err := t.redis.Exists(ctx, RedisKeyExhausted).Result()
	if err != nil {
		return nil, fmt.Errorf("get exhausted flag: %w", err)
	}

	state := t.freshState()
	state.UnitsUsed = used
	state.Exhausted = exhausted > 0
	return &state, nil
}

// Charge records units spent on a request that was sent to the API.
func (t *Tracker) Charge(ctx context.Context, units int64) error {
	if units <= 0 {
		return nil
	}

	var used int64
	if t.redis == nil {
		t.mu.Lock()
		if !t.now().Before(t.mem.ResetAt) {
			t.mem = t.freshState()
		}
		t.mem.UnitsUsed += units
		t.mem.LastUpdate = t.now()
		used = t.mem.UnitsUsed
		t.mu.Unlock()
	} else {
		resetAt := NextReset(t.now())
		var incr *redis.IntCmd
		_, err := t.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			incr = pipe.IncrBy(ctx, RedisKeyUnitsUsed, units)
			pipe.ExpireAt(ctx, RedisKeyUnitsUsed, resetAt)
			return nil
		})
		if err != nil {
			return fmt.Errorf("store quota usage in redis: %w", err)
		}
		used = incr.Val()
	}

	quotaUnitsUsed.Set(float64(used))

	remaining := t.config.DailyLimit - used
	if remaining < int64(float64(t.config.DailyLimit)*WarningRatio) {
		t.logger.Warn().
			Int64("units_used", used).
			Int64("units_remaining", remaining).
			Msg("YouTube quota running low")
	}
	return nil
}

// MarkExhausted blocks further requests until the window resets. It is
// called when the API answers with quotaExceeded.
func (t *Tracker) MarkExhausted(ctx context.Context) error {
	resetAt := NextReset(t.now())

	if t.redis == nil {
		t.mu.Lock()
		t.mem.Exhausted = true
		t.mem.LastUpdate = t.now()
		t.mu.Unlock()
	} else if err := t.redis.Set(ctx, RedisKeyExhausted, "1", resetAt.Sub(t.now())).Err(); err != nil {
		return fmt.Errorf("store exhausted flag in redis: %w", err)
	}

	t.logger.Error().
		Time("reset_at", resetAt).
		Msg("YouTube quota exhausted - requests will be blocked until reset")
	return nil
}

// ShouldAllowRequest checks quota and waits for a pacing token.
// Returns false if the request must be blocked.
func (t *Tracker) ShouldAllowRequest(ctx context.Context) (bool, error) {
	state, err := t.GetState(ctx)
	if err != nil {
		return false, fmt.Errorf("get quota state: %w", err)
	}

	if state.NeedsCriticalBlock() {
		t.logger.Error().
			Int64("units_used", state.UnitsUsed).
			Bool("exhausted", state.Exhausted).
			Dur("wait_duration", state.TimeUntilReset()).
			Msg("YouTube quota critical - blocking request")

		quotaBlocksTotal.Inc()
		return false, nil
	}

	if state.NeedsThrottling() && t.config.ThrottleDelay > 0 {
		t.logger.Warn().
			Int64("units_remaining", state.Remaining()).
			Msg("YouTube quota warning - throttling request")

		quotaThrottlesTotal.Inc()
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(t.config.ThrottleDelay):
		}
	}

	if err := t.limiter.Wait(ctx); err != nil {
		return false, fmt.Errorf("wait for rate limiter: %w", err)
	}
	return true, nil
}
