package middleware

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/contract-lifecycle/internal/config"
)

// bodyRecorder copies up to limit bytes of the response body while it is
// written to the client.
type bodyRecorder struct {
	http.ResponseWriter
	status   int
	body     bytes.Buffer
	limit    int
	overflow bool
}

func (r *bodyRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *bodyRecorder) Write(b []byte) (int, error) {
	switch {
	case r.overflow:
	case r.limit > 0 && r.body.Len()+len(b) > r.limit:
		r.overflow = true
		r.body.Reset()
	default:
		r.body.Write(b)
	}
	return r.ResponseWriter.Write(b)
}

type cachedResponse struct {
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

// cacheKey scopes entries to the UTC day: days-until-expiry values change
// at midnight.  Query parameters are encoded sorted.
func cacheKey(prefix string, day time.Time, c echo.Context) string {
	sum := sha1.Sum([]byte(c.Path() + "?" + c.QueryParams().Encode()))
	return fmt.Sprintf("%s:%s:%x", prefix, day.UTC().Format(time.DateOnly), sum)
}

// NewRedisCache caches 200 responses to GET requests accepted by
// cacheable.  Bodies over MaxBodyBytes are served but not stored.
func NewRedisCache(cfg config.CacheConfig, rdb *redis.Client, cacheable func(echo.Context) bool) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil || cfg.TTL <= 0 {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Request().Method != http.MethodGet || (cacheable != nil && !cacheable(c)) {
				return next(c)
			}
			ctx := c.Request().Context()
			key := cacheKey(cfg.Prefix, time.Now(), c)

			if raw, err := rdb.Get(ctx, key).Bytes(); err == nil {
				var hit cachedResponse
				if json.Unmarshal(raw, &hit) == nil {
					c.Response().Header().Set("X-Cache", "HIT")
					return c.Blob(http.StatusOK, hit.ContentType, hit.Body)
				}
			}

			rec := &bodyRecorder{ResponseWriter: c.Response().Writer, status: http.StatusOK, limit: cfg.MaxBodyBytes}
			c.Response().Writer = rec
			c.Response().Header().Set("X-Cache", "MISS")
			if err := next(c); err != nil {
				return err
			}
			if rec.status != http.StatusOK || rec.overflow {
				return nil
			}
			raw, err := json.Marshal(cachedResponse{
				ContentType: c.Response().Header().Get(echo.HeaderContentType),
				Body:        rec.body.Bytes(),
			})
			if err == nil {
				_ = rdb.Set(context.WithoutCancel(ctx), key, raw, cfg.TTL).Err()
			}
			return nil
		}
	}
}
