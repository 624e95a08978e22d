package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyFunc identifies the caller a request is counted against. An empty
// result falls back to the client IP.
type KeyFunc func(r *http.Request) string

// slidingWindow trims the window, then admits the request only if the
// caller is under the limit, so rejected requests never extend the window.
// Returns {allowed, remaining, retry_after_ms}.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count < limit then
  redis.call('ZADD', key, now, ARGV[4])
  redis.call('PEXPIRE', key, window + 1000)
  return {1, limit - count - 1, 0}
end

local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local retry = window
if oldest[2] then
  retry = tonumber(oldest[2]) + window - now
end
return {0, 0, retry}
`)

// RateLimiter is a Redis sliding-window limiter for one route scope, keyed
// per user or per IP.
type RateLimiter struct {
	client redis.Cmdable
	scope  string
	limit  int
	window time.Duration
	keyFn  KeyFunc
	now    func() time.Time
}

// NewRateLimiter allows maxReqs per windowSec seconds for each caller within
// scope.
func NewRateLimiter(client redis.Cmdable, scope string, maxReqs, windowSec int, keyFn KeyFunc) *RateLimiter {
	return &RateLimiter{
		client: client,
		scope:  scope,
		limit:  maxReqs,
		window: time.Duration(windowSec) * time.Second,
		keyFn:  keyFn,
		now:    time.Now,
	}
}

type decision struct {
	allowed    bool
	remaining  int
	retryAfter time.Duration
}

// Middleware enforces the limit. When Redis is unreachable requests pass.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := ""
		if rl.keyFn != nil {
			caller = rl.keyFn(r)
		}
		if caller == "" {
			caller = "ip:" + clientIP(r)
		}

		d, err := rl.check(r.Context(), "ratelimit:"+rl.scope+":"+caller)
		if err != nil {
			slog.Warn("ratelimit: redis unavailable, allowing request", "scope", rl.scope, "caller", caller, "error", err)
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.remaining))
		if !d.allowed {
			secs := int((d.retryAfter + time.Second - 1) / time.Second)
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			slog.Debug("ratelimit: rejected", "scope", rl.scope, "caller", caller)
			writeJSONError(w, http.StatusTooManyRequests, "Too many requests")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) check(ctx context.Context, key string) (decision, error) {
	now := rl.now()
	res, err := slidingWindow.Run(ctx, rl.client, []string{key},
		strconv.FormatInt(now.UnixMilli(), 10),
		strconv.FormatInt(rl.window.Milliseconds(), 10),
		strconv.Itoa(rl.limit),
		strconv.FormatInt(now.UnixNano(), 10),
	).Int64Slice()
	if err != nil {
		return decision{}, err
	}
	if len(res) != 3 {
		return decision{}, fmt.Errorf("unexpected rate limit reply %v", res)
	}
	return decision{
		allowed:    res[0] == 1,
		remaining:  int(res[1]),
		retryAfter: time.Duration(res[2]) * time.Millisecond,
	}, nil
}

// clientIP prefers the first X-Forwarded-For hop set by the reverse proxy.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
