package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

type authError struct {
	status  int
	code    string
	message string
}

// authorize enforces the optional bearer token. The server binds to
// loopback by default, so an empty token means open access for local
// clients.
func (s *Server) authorize(r *http.Request) *authError {
	if s.authToken == "" {
		return nil
	}
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return &authError{
			status:  http.StatusUnauthorized,
			code:    "unauthorized",
			message: "missing bearer token",
		}
	}
	if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(s.authToken)) != 1 {
		return &authError{
			status:  http.StatusUnauthorized,
			code:    "unauthorized",
			message: "invalid bearer token",
		}
	}
	return nil
}
