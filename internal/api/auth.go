package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// BearerAuth guards a route group with one shared secret. The server
// mounts it twice: the API token protects the workspace and tokenize
// routes, and the callback token protects POST /trainer/callback so the
// trainer cannot reach the rest of the API. An empty token admits nobody.
func BearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
