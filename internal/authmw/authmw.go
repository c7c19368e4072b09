// Package authmw provides HTTP middleware for bearer token
// authentication on the management API.
package authmw

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

const prefix = "Bearer "

// BearerToken returns middleware that rejects requests whose
// Authorization header does not carry the expected bearer token.
// Comparison is constant-time so the token cannot be probed byte by
// byte.
func BearerToken(token string) func(http.Handler) http.Handler {
	expected := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, prefix) {
				unauthorized(w, "missing or malformed authorization header")
				return
			}
			got := []byte(auth[len(prefix):])
			if subtle.ConstantTimeCompare(got, expected) != 1 {
				unauthorized(w, "invalid token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("WWW-Authenticate", `Bearer realm="watchtower"`)
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}` + "\n"))
}
