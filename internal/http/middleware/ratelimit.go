package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// ClientIP derives the client address for rate limiting and audit records.
// X-Forwarded-For is honoured only when the direct peer is a trusted proxy;
// otherwise a spoofed header would let clients mint fresh buckets at will.
func ClientIP(r *http.Request, trustedProxies []string) string {
	peer, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		peer = r.RemoteAddr
	}

	trusted := false
	for _, p := range trustedProxies {
		if p == peer {
			trusted = true
			break
		}
	}
	if !trusted {
		return peer
	}

	fwd := r.Header.Get("X-Forwarded-For")
	if fwd == "" {
		return peer
	}
	// Leftmost address is the original client.
	if i := strings.IndexByte(fwd, ','); i >= 0 {
		fwd = fwd[:i]
	}
	return strings.TrimSpace(fwd)
}

// bucket is one client's token bucket.
type bucket struct {
	tokens   float64
	lastSeen time.Time
}

// RateLimiter is a per-client token bucket limiter for the admin boundary.
type RateLimiter struct {
	perMinute      float64
	burst          float64
	trustedProxies []string

	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

// NewRateLimiter creates a limiter allowing perMinute sustained requests
// with the given burst per client IP.
func NewRateLimiter(perMinute, burst int, trustedProxies []string) *RateLimiter {
	rl := &RateLimiter{
		perMinute:      float64(perMinute),
		burst:          float64(burst),
		trustedProxies: trustedProxies,
		buckets:        make(map[string]*bucket),
		now:            time.Now,
	}
	go rl.evictLoop()
	return rl
}

// Allow consumes one token for the client, refilling by elapsed time.
func (rl *RateLimiter) Allow(clientIP string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[clientIP]
	if !ok {
		b = &bucket{tokens: rl.burst}
		rl.buckets[clientIP] = b
	} else {
		elapsed := now.Sub(b.lastSeen).Minutes()
		b.tokens += elapsed * rl.perMinute
		if b.tokens > rl.burst {
			b.tokens = rl.burst
		}
	}
	b.lastSeen = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// evictLoop drops buckets idle for ten minutes so the map stays bounded.
func (rl *RateLimiter) evictLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := rl.now().Add(-10 * time.Minute)
		rl.mu.Lock()
		for ip, b := range rl.buckets {
			if b.lastSeen.Before(cutoff) {
				delete(rl.buckets, ip)
			}
		}
		rl.mu.Unlock()
	}
}

// Middleware rejects over-limit requests with 429 and a Retry-After hint.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(ClientIP(r, rl.trustedProxies)) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "60")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"detail":"rate limit exceeded","error":"too_many_requests"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
