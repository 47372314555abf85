// auth.go - Basic-auth gate for the admin routes.
//
// Every request is authenticated on its own; there are no sessions.
package server

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// AuthReason says why a request was not authorized.
type AuthReason string

const (
	ReasonNone           AuthReason = ""
	ReasonMissingHeader  AuthReason = "missing_header"
	ReasonMalformed      AuthReason = "malformed_header"
	ReasonBadCredentials AuthReason = "bad_credentials"
)

// AuthResult is the outcome of checking one request.
type AuthResult struct {
	Authorized bool
	Reason     AuthReason
}

const authRealm = `Basic realm="Admin Area"`

// BasicAuthGuard compares Basic credentials against a single admin pair.
type BasicAuthGuard struct {
	username string
	password string
}

func NewBasicAuthGuard(username, password string) *BasicAuthGuard {
	return &BasicAuthGuard{username: username, password: password}
}

// Check inspects the Authorization header of r.
func (g *BasicAuthGuard) Check(r *http.Request) AuthResult {
	if strings.TrimSpace(r.Header.Get("Authorization")) == "" {
		return AuthResult{Reason: ReasonMissingHeader}
	}

	user, pass, ok := r.BasicAuth()
	if !ok {
		return AuthResult{Reason: ReasonMalformed}
	}

	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(g.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(g.password)) == 1
	if !userOK || !passOK {
		return AuthResult{Reason: ReasonBadCredentials}
	}
	return AuthResult{Authorized: true}
}

// Protect short-circuits unauthorized requests with a 401 challenge.
func (g *BasicAuthGuard) Protect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res := g.Check(r)
		if res.Authorized {
			next.ServeHTTP(w, r)
			return
		}

		authFailures.WithLabelValues(string(res.Reason)).Inc()

		msg := "Authentication required"
		if res.Reason == ReasonBadCredentials {
			msg = "Invalid credentials"
		}
		w.Header().Set("WWW-Authenticate", authRealm)
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": msg})
	})
}
