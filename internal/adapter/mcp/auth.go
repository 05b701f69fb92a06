package mcp

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// AuthMiddleware guards the MCP endpoint with a shared key, accepted as
// "Authorization: Bearer <key>", a bare Authorization value or X-API-Key.
// An empty apiKey disables the check.
func AuthMiddleware(apiKey string, next http.Handler) http.Handler {
	if apiKey == "" {
		return next
	}
	want := []byte(apiKey)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-API-Key")
		if token == "" {
			token = strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
		}
		switch {
		case token == "":
			w.Header().Set("WWW-Authenticate", `Bearer realm="mcp"`)
			http.Error(w, "missing credentials", http.StatusUnauthorized)
		case subtle.ConstantTimeCompare([]byte(token), want) != 1:
			http.Error(w, "invalid credentials", http.StatusForbidden)
		default:
			next.ServeHTTP(w, r)
		}
	})
}
