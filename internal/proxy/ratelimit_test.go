package proxy

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRateLimiterAllowsWithinBurst(t *testing.T) {
	rl := NewRateLimiter(60, 60, 3)
	for i := 0; i < 3; i++ {
		if !rl.Allow() {
			t.Fatalf("expected request %d within burst to be allowed", i)
		}
	}
}

func TestRateLimiterRejectsBeyondBurst(t *testing.T) {
	rl := NewRateLimiter(1, 3600, 1)
	if !rl.Allow() {
		t.Fatal("expected the first request to be allowed")
	}
	if rl.Allow() {
		t.Fatal("expected a second immediate request to be rejected")
	}
}

func TestRateLimitMiddlewareOnlyGuardsCompletionsRoute(t *testing.T) {
	rl := NewRateLimiter(1, 3600, 1)
	rl.Allow() // exhaust the single token

	h := RateLimitMiddleware(rl)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	modelsReq := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	modelsRec := httptest.NewRecorder()
	h.ServeHTTP(modelsRec, modelsReq)
	if modelsRec.Code != http.StatusOK {
		t.Fatalf("expected /v1/models to pass through untouched, got %d", modelsRec.Code)
	}

	completionsReq := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	completionsRec := httptest.NewRecorder()
	h.ServeHTTP(completionsRec, completionsReq)
	if completionsRec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on the exhausted route, got %d", completionsRec.Code)
	}
	if completionsRec.Header().Get("Retry-After") == "" {
		t.Fatal("expected a Retry-After header on the 429")
	}
}
