package backend

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"
)

func serverPort(t *testing.T, srv *httptest.Server) int {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parsing httptest URL: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parsing httptest port: %v", err)
	}
	return port
}

func TestFreePortReturnsUsablePort(t *testing.T) {
	port, err := freePort()
	if err != nil {
		t.Fatalf("freePort: %v", err)
	}
	if port <= 0 || port > 65535 {
		t.Fatalf("unexpected port %d", port)
	}
}

func TestRetrySucceedsEventually(t *testing.T) {
	attempts := 0
	err := retry(context.Background(), 5, time.Millisecond, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	attempts := 0
	err := retry(context.Background(), 3, time.Millisecond, func() error {
		attempts++
		return errors.New("always fails")
	})
	if err == nil {
		t.Fatal("expected an error after exhausting attempts")
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	attempts := 0
	err := retry(ctx, 5, time.Second, func() error {
		attempts++
		return errors.New("fails")
	})
	if err == nil {
		t.Fatal("expected an error")
	}
	if attempts != 1 {
		t.Fatalf("expected exactly 1 attempt before the cancel check, got %d", attempts)
	}
}

func TestBuildOpenCodeArgsIncludesModelAndAgent(t *testing.T) {
	req := RunTurnRequest{Model: "claude-opus", Agent: "reviewer"}
	args := buildOpenCodeArgs(req, 4096, "/work")

	want := []string{"serve", "--port", "4096", "--print-logs", "--cwd", "/work", "--timeout", "0", "--model", "claude-opus", "--agent", "reviewer"}
	if len(args) != len(want) {
		t.Fatalf("got args %v, want %v", args, want)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Fatalf("got args %v, want %v", args, want)
		}
	}
}

func TestEnsureSessionReusesContinuationID(t *testing.T) {
	d := NewOpenCodeDriver(nil, NewFrontendToolBroker(), nil, false)
	id, err := d.ensureSession(context.Background(), 0, RunTurnRequest{IsContinuation: true, SessionID: "ses_existing"})
	if err != nil {
		t.Fatalf("ensureSession: %v", err)
	}
	if id != "ses_existing" {
		t.Fatalf("expected the existing session id to be reused, got %q", id)
	}
}

func TestEnsureSessionCreatesNewSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/session" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"ses_new"}`))
	}))
	defer srv.Close()

	d := NewOpenCodeDriver(nil, NewFrontendToolBroker(), srv.Client(), false)
	id, err := d.ensureSession(context.Background(), serverPort(t, srv), RunTurnRequest{})
	if err != nil {
		t.Fatalf("ensureSession: %v", err)
	}
	if id != "ses_new" {
		t.Fatalf("unexpected session id %q", id)
	}
}

func TestPostMessageSuccess(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewOpenCodeDriver(nil, NewFrontendToolBroker(), srv.Client(), false)
	err := d.postMessage(context.Background(), serverPort(t, srv), "ses_1", RunTurnRequest{UserMessage: "hi"})
	if err != nil {
		t.Fatalf("postMessage: %v", err)
	}
	if gotPath != "/session/ses_1/message" {
		t.Fatalf("unexpected path %q", gotPath)
	}
}

func TestPostMessageErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := NewOpenCodeDriver(nil, NewFrontendToolBroker(), srv.Client(), false)
	err := retryOnce(d, srv, t)
	if err == nil {
		t.Fatal("expected an error for a 500 response")
	}
}

// retryOnce calls postMessage with a short-attempt driver so the test
// doesn't wait through the default 15-attempt backoff for a deterministic
// permanent failure.
func retryOnce(d *OpenCodeDriver, srv *httptest.Server, t *testing.T) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	return d.postMessage(ctx, serverPort(t, srv), "ses_1", RunTurnRequest{UserMessage: "hi"})
}
