// Package gateway provides API gateway functionality including rate limiting
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const window = time.Minute

// Counter increments a fixed-window counter and reports the window's
// remaining lifetime.
type Counter interface {
	Incr(ctx context.Context, key string, window time.Duration) (count int, ttl time.Duration, err error)
}

// RedisCounter is a Counter backed by INCR + PEXPIRE.
type RedisCounter struct {
	client *redis.Client
}

// NewRedisCounter wraps a Redis client.
func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client}
}

var incrScript = redis.NewScript(`
	local current = redis.call('INCR', KEYS[1])
	if current == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	return {current, redis.call('PTTL', KEYS[1])}
`)

// Incr implements Counter.
func (c *RedisCounter) Incr(ctx context.Context, key string, window time.Duration) (int, time.Duration, error) {
	vals, err := incrScript.Run(ctx, c.client, []string{key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, 0, fmt.Errorf("rate limit counter: %w", err)
	}
	if len(vals) != 2 {
		return 0, 0, fmt.Errorf("rate limit counter: unexpected reply length %d", len(vals))
	}
	return int(vals[0]), time.Duration(vals[1]) * time.Millisecond, nil
}

// Ping reports whether Redis is reachable.
func (c *RedisCounter) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// RateLimiter provides configurable rate limiting for API endpoints
type RateLimiter struct {
	counter  Counter
	logger   *zap.Logger
	config   RateLimitConfig
	onReject func()
}

// RateLimitConfig configures the rate limiter
type RateLimitConfig struct {
	Enabled                  bool                      `yaml:"enabled"`
	DefaultRequestsPerMinute int                       `yaml:"default_requests_per_minute"`
	DefaultTier              string                    `yaml:"default_tier"`
	Tiers                    map[string]TierLimits     `yaml:"tiers"`
	Clients                  map[string]string         `yaml:"clients"` // client IP -> tier
	Endpoints                map[string]EndpointLimits `yaml:"endpoints"`
	IncludeHeaders           bool                      `yaml:"include_headers"`
}

// TierLimits defines rate limits per API tier
type TierLimits struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// EndpointLimits defines rate limits for specific endpoints
type EndpointLimits struct {
	Path              string `yaml:"path"`
	Method            string `yaml:"method"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`
	CostMultiplier    int    `yaml:"cost_multiplier"`
}

// RateLimitResult contains the result of a rate limit check
type RateLimitResult struct {
	Allowed    bool
	Remaining  int
	Limit      int
	ResetAt    time.Time
	RetryAfter time.Duration
	Tier       string
	Reason     string
}

// DefaultConfig returns rate limiting enabled with the default tiers and
// endpoint limits.
func DefaultConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:                  true,
		DefaultRequestsPerMinute: 60,
		DefaultTier:              "free",
		Tiers:                    DefaultTiers(),
		Endpoints:                DefaultEndpointLimits(),
		IncludeHeaders:           true,
	}
}

// NewRateLimiter creates a new rate limiter. onReject, if set, is called
// once per rejected request.
func NewRateLimiter(counter Counter, cfg RateLimitConfig, logger *zap.Logger, onReject func()) *RateLimiter {
	if cfg.DefaultRequestsPerMinute == 0 {
		cfg.DefaultRequestsPerMinute = 60
	}
	if cfg.Tiers == nil {
		cfg.Tiers = DefaultTiers()
	}
	if cfg.DefaultTier == "" {
		cfg.DefaultTier = "free"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if onReject == nil {
		onReject = func() {}
	}

	return &RateLimiter{
		counter:  counter,
		logger:   logger,
		config:   cfg,
		onReject: onReject,
	}
}

// DefaultTiers returns default tier configurations
func DefaultTiers() map[string]TierLimits {
	return map[string]TierLimits{
		"free":       {RequestsPerMinute: 30},
		"basic":      {RequestsPerMinute: 100},
		"enterprise": {RequestsPerMinute: 1000},
	}
}

// DefaultEndpointLimits returns default endpoint-specific limits. An
// analysis fans out to every source, so it costs more than a probe.
func DefaultEndpointLimits() map[string]EndpointLimits {
	return map[string]EndpointLimits{
		"POST:/api/v1/threats/analyze": {
			Path:              "/api/v1/threats/analyze",
			Method:            "POST",
			RequestsPerMinute: 20,
			CostMultiplier:    2,
		},
	}
}

// Check performs a rate limit check. Counter failures allow the request.
func (rl *RateLimiter) Check(ctx context.Context, tier, clientID, endpoint, method string) *RateLimitResult {
	tier, limit := rl.effectiveLimit(tier, endpoint, method)

	if rl.counter == nil {
		return &RateLimitResult{Allowed: true, Limit: limit, Remaining: limit, Tier: tier}
	}

	key := fmt.Sprintf("threatlens:ratelimit:%s:%s:%s:%s", tier, clientID, method, endpoint)
	now := time.Now()

	count, ttl, err := rl.counter.Incr(ctx, key, window)
	if err != nil {
		rl.logger.Warn("Rate limit check failed, allowing request", zap.Error(err))
		return &RateLimitResult{Allowed: true, Limit: limit, Remaining: limit, Tier: tier}
	}
	if ttl <= 0 {
		ttl = window
	}

	result := &RateLimitResult{
		Allowed:   count <= limit,
		Remaining: limit - count,
		Limit:     limit,
		ResetAt:   now.Add(ttl),
		Tier:      tier,
	}
	if result.Remaining < 0 {
		result.Remaining = 0
	}
	if !result.Allowed {
		result.RetryAfter = ttl
		result.Reason = "Rate limit exceeded"
	}
	return result
}

// TierFor returns the configured tier of a client. Tiers are assigned only
// from server-side configuration.
func (rl *RateLimiter) TierFor(clientID string) string {
	if tier, ok := rl.config.Clients[clientID]; ok {
		return tier
	}
	return rl.config.DefaultTier
}

func (rl *RateLimiter) effectiveLimit(tier, endpoint, method string) (string, int) {
	limit := rl.config.DefaultRequestsPerMinute
	if t, ok := rl.config.Tiers[tier]; ok {
		limit = t.RequestsPerMinute
	} else if t, ok := rl.config.Tiers["free"]; ok {
		tier = "free"
		limit = t.RequestsPerMinute
	} else {
		tier = "default"
	}

	if ep, ok := rl.config.Endpoints[method+":"+endpoint]; ok {
		if ep.RequestsPerMinute > 0 && ep.RequestsPerMinute < limit {
			limit = ep.RequestsPerMinute
		}
		if ep.CostMultiplier > 1 {
			limit /= ep.CostMultiplier
		}
	}
	if limit < 1 {
		limit = 1
	}
	return tier, limit
}

// Middleware returns an HTTP middleware for rate limiting
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.config.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		clientID := ClientIP(r)
		result := rl.Check(r.Context(), rl.TierFor(clientID), clientID, r.URL.Path, r.Method)

		if rl.config.IncludeHeaders {
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			if !result.ResetAt.IsZero() {
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
			}
		}

		if !result.Allowed {
			rl.onReject()
			retry := int(result.RetryAfter.Seconds())
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"error":       "rate_limit_exceeded",
				"message":     result.Reason,
				"retry_after": retry,
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// ClientIP returns the host part of the request's remote address. Forwarding
// headers are not read here; behind a trusted proxy, chi's RealIP middleware
// rewrites RemoteAddr before this runs.
func ClientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
