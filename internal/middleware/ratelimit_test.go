package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRateLimiter(t *testing.T, maxReqs, windowSec int) (*RateLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRateLimiter(client, "media", maxReqs, windowSec, userHeaderKey), mr
}

// userHeaderKey stands in for the authenticated identity lookup.
func userHeaderKey(r *http.Request) string {
	if u := r.Header.Get("X-Test-User"); u != "" {
		return "user:" + u
	}
	return ""
}

func okHandler(rl *RateLimiter) http.Handler {
	return rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func hit(h http.Handler, remoteAddr, user string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/generate", nil)
	req.RemoteAddr = remoteAddr
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRateLimiter_AllowsUnderLimit(t *testing.T) {
	rl, _ := setupRateLimiter(t, 5, 60)
	h := okHandler(rl)

	for i := 0; i < 5; i++ {
		rec := hit(h, "192.168.1.1:12345", "")
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i+1)
		assert.Equal(t, "5", rec.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, strconv.Itoa(4-i), rec.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestRateLimiter_BlocksOverLimit(t *testing.T) {
	rl, mr := setupRateLimiter(t, 3, 60)
	h := okHandler(rl)

	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, hit(h, "10.0.0.1:12345", "").Code)
	}

	rec := hit(h, "10.0.0.1:12345", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	members, err := mr.ZMembers("ratelimit:media:ip:10.0.0.1")
	require.NoError(t, err)
	assert.Len(t, members, 3, "rejected requests are not recorded")
}

func TestRateLimiter_WindowSlides(t *testing.T) {
	rl, _ := setupRateLimiter(t, 1, 10)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	h := okHandler(rl)

	require.Equal(t, http.StatusOK, hit(h, "7.7.7.7:1", "").Code)

	now = now.Add(4 * time.Second)
	rec := hit(h, "7.7.7.7:1", "")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "6", rec.Header().Get("Retry-After"))

	now = now.Add(7 * time.Second)
	assert.Equal(t, http.StatusOK, hit(h, "7.7.7.7:1", "").Code)
}

func TestRateLimiter_DifferentIPsIndependent(t *testing.T) {
	rl, _ := setupRateLimiter(t, 2, 60)
	h := okHandler(rl)

	for i := 0; i < 2; i++ {
		hit(h, "1.1.1.1:1", "")
	}
	assert.Equal(t, http.StatusTooManyRequests, hit(h, "1.1.1.1:1", "").Code)
	assert.Equal(t, http.StatusOK, hit(h, "2.2.2.2:1", "").Code)
}

func TestRateLimiter_FailsOpenOnRedisError(t *testing.T) {
	rl, mr := setupRateLimiter(t, 1, 60)
	mr.Close()

	rec := hit(okHandler(rl), "3.3.3.3:1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
}

func TestRateLimiter_KeysByUserAcrossIPs(t *testing.T) {
	rl, mr := setupRateLimiter(t, 2, 60)
	h := okHandler(rl)

	codes := make([]int, 0, 3)
	for _, ip := range []string{"4.4.4.4:1", "5.5.5.5:1", "6.6.6.6:1"} {
		codes = append(codes, hit(h, ip, "alice").Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
	assert.True(t, mr.Exists("ratelimit:media:user:alice"))
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "9.9.9.9:443"
	assert.Equal(t, "9.9.9.9", clientIP(req))

	req.Header.Set("X-Real-IP", "8.8.8.8")
	assert.Equal(t, "8.8.8.8", clientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.2")
	assert.Equal(t, "203.0.113.7", clientIP(req))
}
