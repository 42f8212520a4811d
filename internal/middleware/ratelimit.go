package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/filegate/service/internal/response"
)

// RateLimiter enforces per-principal request quotas over fixed windows,
// with independent counters per operation (upload, download, delete).
// Counters live in Redis so limits hold across replicas.
type RateLimiter struct {
	rdb *redis.Client
}

// NewRateLimiter creates a RateLimiter backed by the given Redis client.
func NewRateLimiter(rdb *redis.Client) *RateLimiter {
	return &RateLimiter{rdb: rdb}
}

// Limit returns middleware allowing at most max requests per window for the
// named operation. The counter key is scoped to the authenticated principal;
// unauthenticated requests fall back to the remote address. When Redis is
// unreachable the request is allowed through and the failure logged.
func (l *RateLimiter) Limit(op string, max int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, _ := r.Context().Value(PrincipalIDKey).(string)
			if caller == "" {
				caller = r.RemoteAddr
			}

			windowStart := time.Now().Unix() / int64(window.Seconds())
			key := fmt.Sprintf("ratelimit:%s:%s:%d", op, caller, windowStart)

			count, err := l.rdb.Incr(r.Context(), key).Result()
			if err != nil {
				log.Warn().Err(err).Str("op", op).Msg("rate limiter unavailable, allowing request")
				next.ServeHTTP(w, r)
				return
			}
			if count == 1 {
				l.rdb.Expire(r.Context(), key, window)
			}

			if count > int64(max) {
				response.TooManyRequests(w, "rate limit exceeded, try again later")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
