package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/skiffhost/engine/pkg/logger"
)

// ServiceAuth validates a static bearer service token. Identity and
// membership live in an external collaborator; this boundary only checks
// that the caller is the trusted front-end.
func ServiceAuth(token string) func(http.Handler) http.Handler {
	if token == "" {
		logger.L().Warn("SERVICE_TOKEN not set, API authentication disabled")
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			ah := r.Header.Get("Authorization")
			if !strings.HasPrefix(strings.ToLower(ah), "bearer ") {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			presented := strings.TrimSpace(ah[len("Bearer "):])
			if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
