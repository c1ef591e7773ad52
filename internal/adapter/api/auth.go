package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// authenticate enforces the configured API key on every route except /health.
// The key is accepted either as a Bearer token or via X-API-Key. An empty
// configured key disables auth, which is the expected mode for loopback-only
// deployments.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Key == "" || r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		presented := r.Header.Get("X-API-Key")
		if presented == "" {
			if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				presented = strings.TrimPrefix(auth, "Bearer ")
			}
		}

		if subtle.ConstantTimeCompare([]byte(presented), []byte(s.cfg.Key)) != 1 {
			s.logger.Warn("rejected api request", "path", r.URL.Path, "remote", r.RemoteAddr)
			writeJSON(w, http.StatusUnauthorized, askResponse{
				Status: "error",
				Code:   "UNAUTHORIZED",
				Error:  "missing or invalid API key",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
