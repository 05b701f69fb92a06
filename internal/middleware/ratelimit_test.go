package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func limitedHandler(rl *RateLimiter) http.Handler {
	return rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func hit(h http.Handler, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks", http.NoBody)
	req.RemoteAddr = ip + ":4321"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRateLimiterBurstThenReject(t *testing.T) {
	rl := NewRateLimiter(1, 3, 0)
	now := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return now }
	h := limitedHandler(rl)

	for i := range 3 {
		if rec := hit(h, "10.0.0.1"); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
		}
	}
	rec := hit(h, "10.0.0.1")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "1" {
		t.Errorf("Retry-After = %q, want 1", got)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("X-RateLimit-Remaining = %q, want 0", got)
	}

	now = now.Add(time.Second)
	if rec := hit(h, "10.0.0.1"); rec.Code != http.StatusOK {
		t.Fatalf("after refill: expected 200, got %d", rec.Code)
	}
}

func TestRateLimiterPerIP(t *testing.T) {
	rl := NewRateLimiter(0.001, 1, 0)
	h := limitedHandler(rl)

	hit(h, "10.0.0.1")
	if rec := hit(h, "10.0.0.1"); rec.Code != http.StatusTooManyRequests {
		t.Errorf("10.0.0.1: expected 429, got %d", rec.Code)
	}
	if rec := hit(h, "10.0.0.2"); rec.Code != http.StatusOK {
		t.Errorf("10.0.0.2: expected 200, got %d", rec.Code)
	}
}

func TestRateLimiterBoundsTrackedClients(t *testing.T) {
	rl := NewRateLimiter(1, 1, 2)
	h := limitedHandler(rl)
	for _, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		hit(h, ip)
	}
	if rl.Len() != 2 {
		t.Fatalf("expected 2 tracked clients, got %d", rl.Len())
	}
	// The oldest client was evicted and starts with a full bucket again.
	if rec := hit(h, "10.0.0.1"); rec.Code != http.StatusOK {
		t.Errorf("evicted client: expected 200, got %d", rec.Code)
	}
}
