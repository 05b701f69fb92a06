package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/bsvalues/TerraBuild-sub001/internal/logger"
)

func TestRequestID(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		wantSame bool
	}{
		{"generated when absent", "", false},
		{"propagated", "my-custom-id-123", true},
		{"replaced when too long", strings.Repeat("a", 200), false},
		{"replaced when non-printable", "bad id\n", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var captured string
			handler := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				captured = logger.RequestID(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			if tt.header != "" {
				req.Header.Set("X-Request-ID", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			resp := rec.Header().Get("X-Request-ID")
			if resp != captured {
				t.Fatalf("context %q and header %q differ", captured, resp)
			}
			if tt.wantSame {
				if captured != tt.header {
					t.Fatalf("expected %q, got %q", tt.header, captured)
				}
				return
			}
			if _, err := uuid.Parse(captured); err != nil {
				t.Fatalf("expected generated uuid, got %q", captured)
			}
		})
	}
}
