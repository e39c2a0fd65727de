package gateway

import (
	"net/http"
	"strings"
)

// sourceInstanceHeader carries the calling instance's identity, consumed
// by internal/pipeline's own allow-list step (§4.8 step 1) rather than
// this middleware: the allow-list is scoped to the chat pipeline, not to
// every bearer-gated route (admin file-recall, /process).
const sourceInstanceHeader = "X-Source-Instance"

// withAuth enforces the gateway bearer secret before delegating to next,
// mirroring the teacher's web.AuthMiddleware shape adapted to this
// gateway's single-shared-secret scheme (§6: "401 on miss/mismatch").
func (s *Server) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !bearerMatches(r.Header.Get("Authorization"), s.cfg.BearerSecret) {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerMatches(header, secret string) bool {
	if secret == "" {
		return false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	return strings.TrimPrefix(header, prefix) == secret
}
