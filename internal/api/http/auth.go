package apihttp

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// checkWriteAuth accepts the token from "Authorization: Bearer" or "X-Cache-Token".
// Writes are always rejected when no token is configured.
func (s *Server) checkWriteAuth(r *http.Request) bool {
	if s.writeToken == "" {
		return false
	}
	token := ""
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		token = strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	if token == "" {
		token = strings.TrimSpace(r.Header.Get("X-Cache-Token"))
	}
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.writeToken)) == 1
}
