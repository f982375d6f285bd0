package proxy

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/missionrelay/missionrelay/internal/credentials"
)

// Authenticator validates the bearer token on every proxy request against
// either the process-wide secret or a persisted user-issued proxy key.
type Authenticator struct {
	secret string
	keys   *credentials.ProxyKeyStore
}

// NewAuthenticator builds an Authenticator. keys may be nil, in which case
// only secret is accepted.
func NewAuthenticator(secret string, keys *credentials.ProxyKeyStore) *Authenticator {
	return &Authenticator{secret: secret, keys: keys}
}

// Allow reports whether token authenticates, comparing against the secret
// in constant time before falling back to the persisted key store.
func (a *Authenticator) Allow(token string) bool {
	if token == "" {
		return false
	}
	if a.secret != "" && subtle.ConstantTimeCompare([]byte(token), []byte(a.secret)) == 1 {
		return true
	}
	if a.keys != nil && a.keys.Matches(token) {
		return true
	}
	return false
}

// Middleware wraps next, rejecting any request without a valid
// "Authorization: Bearer <token>" header with a 401.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if !a.Allow(token) {
			writeAuthError(w, "Missing or invalid Authorization bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimPrefix(header, prefix)
}

func writeAuthError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"message": message,
			"type":    "authentication_error",
			"code":    "invalid_api_key",
		},
	})
}
