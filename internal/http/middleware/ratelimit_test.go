package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_BurstThenRefill(t *testing.T) {
	rl := &RateLimiter{
		perMinute: 60, // one token per second
		burst:     3,
		buckets:   map[string]*bucket{},
	}
	now := time.Now()
	rl.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("10.0.0.1"), "burst request %d", i)
	}
	assert.False(t, rl.Allow("10.0.0.1"))

	// Another client has its own bucket.
	assert.True(t, rl.Allow("10.0.0.2"))

	// One second refills one token.
	now = now.Add(time.Second)
	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"))
}

func TestRateLimiter_MiddlewareReturns429(t *testing.T) {
	rl := &RateLimiter{
		perMinute: 1,
		burst:     1,
		buckets:   map[string]*bucket{},
		now:       time.Now,
	}

	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/admin/videos", nil)
	req.RemoteAddr = "192.0.2.1:5000"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"detail":"rate limit exceeded","error":"too_many_requests"}`, rec.Body.String())
}

func TestClientIP_TrustedProxies(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.9:1234"
	req.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.1")

	// Untrusted peer: the forwarded header is ignored.
	assert.Equal(t, "203.0.113.9", ClientIP(req, nil))

	// Trusted peer: leftmost forwarded address wins.
	assert.Equal(t, "198.51.100.7", ClientIP(req, []string{"203.0.113.9"}))
}
