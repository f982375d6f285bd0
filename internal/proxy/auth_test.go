package proxy

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/missionrelay/missionrelay/internal/credentials"
)

func TestAuthenticatorAllowsSecret(t *testing.T) {
	a := NewAuthenticator("top-secret", nil)
	if !a.Allow("top-secret") {
		t.Fatal("expected the configured secret to authenticate")
	}
	if a.Allow("wrong") {
		t.Fatal("expected a wrong token to be rejected")
	}
}

func TestAuthenticatorRejectsEmptyToken(t *testing.T) {
	a := NewAuthenticator("top-secret", nil)
	if a.Allow("") {
		t.Fatal("expected an empty token to be rejected")
	}
}

func TestAuthenticatorAllowsIssuedProxyKey(t *testing.T) {
	keys := credentials.NewProxyKeyStore(t.TempDir())
	key, err := keys.Issue("ci")
	if err != nil {
		t.Fatal(err)
	}
	a := NewAuthenticator("", keys)
	if !a.Allow(key.Token) {
		t.Fatal("expected the issued proxy key to authenticate")
	}
}

func TestAuthenticatorMiddlewareRejectsMissingHeader(t *testing.T) {
	a := NewAuthenticator("top-secret", nil)
	called := false
	h := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if called {
		t.Fatal("expected downstream handler not to run")
	}
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAuthenticatorMiddlewareAllowsValidBearer(t *testing.T) {
	a := NewAuthenticator("top-secret", nil)
	called := false
	h := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	req.Header.Set("Authorization", "Bearer top-secret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if !called {
		t.Fatal("expected downstream handler to run")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestBearerTokenStripsPrefix(t *testing.T) {
	if got := bearerToken("Bearer abc123"); got != "abc123" {
		t.Fatalf("expected abc123, got %q", got)
	}
	if got := bearerToken("abc123"); got != "" {
		t.Fatalf("expected empty string without the Bearer prefix, got %q", got)
	}
}
