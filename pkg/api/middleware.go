package api

import "net/http"

// uaFilterExempt marks routes whose callers are servers or operator
// tooling rather than visitors: platform webhooks, health probes, the
// backend's operator-status updates, and the SSE stream consumed by
// backend HTTP clients.
func uaFilterExempt(path string) bool {
	return isPublicPath(path) ||
		path == "/api/operator/status" ||
		path == "/api/events/stream"
}

// uaFilterMiddleware rejects bot and crawler traffic on
// visitor-originating routes before it reaches auth or the event
// pipeline.
func (s *Server) uaFilterMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !uaFilterExempt(r.URL.Path) {
			ua := r.UserAgent()
			if res := s.filter.Check(ua); !res.Allowed {
				if s.filter.LogBlocked() {
					s.log.Info().Str("ua", ua).Str("pattern", res.Pattern).Msg("blocked user agent")
				}
				writeJSON(w, http.StatusForbidden, map[string]string{
					"error": "forbidden",
				})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
