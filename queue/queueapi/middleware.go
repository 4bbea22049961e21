package queueapi

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

var ErrEmptyToken = errors.New("admin token cannot be empty")

// requireBearerToken rejects requests whose Authorization header does not
// carry the configured token. The comparison is constant-time.
func (s *Server) requireBearerToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.token)) != 1 {
			respondError(w, http.StatusUnauthorized, "invalid or missing bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}
