package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/bsvalues/TerraBuild-sub001/internal/port/cache"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	headerReplayed       = "Idempotent-Replayed"
	maxIdempotencyBody   = 1 << 20
)

type idempotencyEntry struct {
	StatusCode int                 `json:"status_code"`
	Headers    map[string][]string `json:"headers"`
	Body       []byte              `json:"body"`
}

// Idempotency deduplicates POST submissions carrying an Idempotency-Key
// header. The first 2xx response for a (path, key) pair is stored in c
// for ttl and replayed verbatim to later requests with the same key, so a
// retried submit returns the original task id instead of creating a new
// task. Error responses are not stored.
func Idempotency(c cache.Cache, ttl time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(headerIdempotencyKey)
			if r.Method != http.MethodPost || key == "" {
				next.ServeHTTP(w, r)
				return
			}
			ck := idempotencyCacheKey(r.URL.Path, key)

			if raw, ok, err := c.Get(r.Context(), ck); err == nil && ok {
				var cached idempotencyEntry
				if err := json.Unmarshal(raw, &cached); err == nil {
					for k, vals := range cached.Headers {
						for _, v := range vals {
							w.Header().Add(k, v)
						}
					}
					w.Header().Set(headerReplayed, "true")
					w.WriteHeader(cached.StatusCode)
					_, _ = w.Write(cached.Body)
					return
				}
				slog.Warn("idempotency: corrupt cache entry", "key", key)
			} else if err != nil {
				slog.Warn("idempotency: cache lookup failed", "key", key, "error", err)
			}

			rec := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK, body: &bytes.Buffer{}}
			next.ServeHTTP(rec, r)

			if rec.statusCode < 200 || rec.statusCode >= 300 || rec.body.Len() > maxIdempotencyBody {
				return
			}
			data, err := json.Marshal(idempotencyEntry{
				StatusCode: rec.statusCode,
				Headers:    w.Header().Clone(),
				Body:       rec.body.Bytes(),
			})
			if err != nil {
				return
			}
			if err := c.Set(r.Context(), ck, data, ttl); err != nil {
				slog.Warn("idempotency: failed to store response", "key", key, "error", err)
			}
		})
	}
}

func idempotencyCacheKey(path, key string) string {
	sum := sha256.Sum256([]byte(path + "\n" + key))
	return "idempotency." + hex.EncodeToString(sum[:])
}

// responseRecorder tees the response body while passing it through.
type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       *bytes.Buffer
}

func (r *responseRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}
