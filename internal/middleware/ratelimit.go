package middleware

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/iliyamo/contract-lifecycle/internal/config"
)

// takeToken refills the bucket at KEYS[1] in whole intervals and takes one
// token.  ARGV: now_ms, capacity, refill, interval_ms, ttl_s.
// Returns {allowed, remaining, wait_ms}.
var takeToken = redis.NewScript(`
local now = tonumber(ARGV[1])
local cap = tonumber(ARGV[2])
local step = tonumber(ARGV[4])
local b = redis.call('HMGET', KEYS[1], 'n', 'at')
local n = tonumber(b[1]) or cap
local at = tonumber(b[2]) or now

local k = math.floor((now - at) / step)
if k > 0 then
	n = math.min(cap, n + k * tonumber(ARGV[3]))
	at = at + k * step
end

local wait = 0
if n > 0 then
	n = n - 1
else
	wait = step - (now - at)
end
redis.call('HSET', KEYS[1], 'n', n, 'at', at)
redis.call('EXPIRE', KEYS[1], tonumber(ARGV[5]))
if wait == 0 then
	return {1, n, 0}
end
return {0, n, wait}
`)

// NewTokenBucket limits requests per bucket key with a Redis token bucket.
// It fails open: when Redis errors the request goes through.
func NewTokenBucket(cfg config.RateLimitConfig, rdb *redis.Client, log zerolog.Logger) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	log = log.With().Str("component", "ratelimit").Logger()
	bucketKey := rateKeyFunc(cfg.Prefix, cfg.KeyStrategy)
	limit := strconv.Itoa(cfg.Capacity)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := bucketKey(c)
			res, err := takeToken.Run(c.Request().Context(), rdb, []string{key},
				time.Now().UnixMilli(), cfg.Capacity, cfg.RefillTokens,
				cfg.RefillInterval.Milliseconds(), int64(cfg.TTL/time.Second),
			).Int64Slice()
			if err != nil || len(res) != 3 {
				log.Warn().Err(err).Str("key", key).Msg("rate limiter unavailable")
				return next(c)
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(res[1], 10))
			if res[0] == 1 {
				return next(c)
			}
			retry := int(math.Ceil(float64(res[2]) / 1000))
			h.Set("Retry-After", strconv.Itoa(retry))
			log.Debug().Str("key", key).Int("retry_after", retry).Msg("request throttled")
			return c.JSON(http.StatusTooManyRequests, echo.Map{
				"success":     false,
				"error":       "rate limit exceeded",
				"retry_after": retry,
			})
		}
	}
}

// rateKeyFunc builds the bucket key from the underscore separated parts of
// strategy: ip, user, role and route.  Unknown parts are ignored; an empty
// or unusable strategy keys on ip, user and route.
func rateKeyFunc(prefix, strategy string) func(echo.Context) string {
	parts := make([]string, 0, 4)
	for _, p := range strings.Split(strings.ToLower(strategy), "_") {
		switch p {
		case "ip", "user", "role", "route":
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		parts = []string{"ip", "user", "route"}
	}

	return func(c echo.Context) string {
		key := []string{prefix}
		for _, p := range parts {
			var v string
			switch p {
			case "ip":
				v = c.RealIP()
			case "user":
				v = callerID(c)
			case "role":
				if caller, ok := CallerFrom(c); ok {
					v = string(caller.Role)
				}
			case "route":
				v = c.Request().Method + " " + c.Path()
			}
			if v == "" {
				v = "unknown"
			}
			key = append(key, p, v)
		}
		return strings.Join(key, ":")
	}
}
