// API authentication middleware: static bearer token.
//
// When API_KEY is non-empty, backend-facing requests MUST carry:
//
//	Authorization: Bearer <api_key>
//
// or:
//
//	X-API-Key: <api_key>
//
// Exempt routes (no token required):
//   - GET /health
//   - POST /webhooks/* (verified by the platforms' own mechanisms)
//
// The SSE stream checks the token in the query param as fallback, since
// EventSource cannot set headers:
//
//	/api/events/stream?token=<api_key>
//
// When API_KEY is empty, all requests pass and a warning is logged at
// startup.
package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/pocketping/bridge-gateway/pkg/logger"
)

// authMiddleware wraps a handler with bearer token checking. An empty
// apiKey makes it a pass-through.
func authMiddleware(apiKey string, next http.Handler) http.Handler {
	log := logger.Component("auth")
	if apiKey == "" {
		log.Warn().Msg("API auth disabled, set API_KEY to enable")
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		// OPTIONS preflight passes through.
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		if !tokenValid(extractToken(r), apiKey) {
			w.Header().Set("WWW-Authenticate", `Bearer realm="pocketping"`)
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "unauthorized",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// extractToken pulls the bearer token from the Authorization header,
// X-API-Key header, or ?token= query param.
func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if after, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(after)
		}
	}

	if key := r.Header.Get("X-API-Key"); key != "" {
		return strings.TrimSpace(key)
	}

	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}

	return ""
}

// tokenValid does a constant-time comparison to prevent timing attacks.
func tokenValid(provided, expected string) bool {
	if provided == "" || expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}

// isPublicPath returns true for paths that never require authentication.
func isPublicPath(path string) bool {
	return path == "/health" || strings.HasPrefix(path, "/webhooks/")
}
