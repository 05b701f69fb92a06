package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// RateLimiter is per-client-IP token bucket middleware for the task
// submission routes. Buckets live in an LRU so the least recently seen
// client is forgotten once maxClients are tracked.
type RateLimiter struct {
	mu      sync.Mutex
	buckets *lru.Cache[string, *bucket]
	rate    float64 // tokens per second
	burst   int
	now     func() time.Time
}

type bucket struct {
	tokens    float64
	updatedAt time.Time
}

// NewRateLimiter creates a limiter allowing rate requests per second with
// the given burst. maxClients < 1 falls back to 10000.
func NewRateLimiter(rate float64, burst, maxClients int) *RateLimiter {
	if maxClients < 1 {
		maxClients = 10000
	}
	buckets, _ := lru.New[string, *bucket](maxClients)
	return &RateLimiter{buckets: buckets, rate: rate, burst: burst, now: time.Now}
}

// Handler enforces the limit and answers 429 with Retry-After when a
// client's bucket is empty.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		remaining, retryAfter, ok := rl.allow(clientIP(r))
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.burst))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter))))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// allow takes one token from ip's bucket. It reports the tokens left and,
// when refused, the seconds until the next token.
func (rl *RateLimiter) allow(ip string) (remaining int, retryAfter float64, ok bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, found := rl.buckets.Get(ip)
	if !found {
		b = &bucket{tokens: float64(rl.burst), updatedAt: now}
		rl.buckets.Add(ip, b)
	}

	b.tokens = math.Min(float64(rl.burst), b.tokens+now.Sub(b.updatedAt).Seconds()*rl.rate)
	b.updatedAt = now

	if b.tokens < 1 {
		return 0, (1 - b.tokens) / rl.rate, false
	}
	b.tokens--
	return int(b.tokens), 0, true
}

// Len returns the number of tracked clients.
func (rl *RateLimiter) Len() int {
	return rl.buckets.Len()
}

// clientIP is the request's RemoteAddr host. Proxy headers are only
// honored when chi's RealIP runs earlier in the chain.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
