package backend

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/missionrelay/missionrelay/internal/credentials"
	"github.com/missionrelay/missionrelay/internal/events"
	"github.com/missionrelay/missionrelay/internal/workspace"
)

// fakeCLI writes an executable shell script named binary into a temp dir and
// returns that dir, so ensureCLI's `which` check finds it on PATH.
func fakeCLI(t *testing.T, binary, script string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, binary)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatalf("writing fake CLI: %v", err)
	}
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
	return dir
}

func testAccount() credentials.Account {
	return credentials.Account{Kind: "custom", BaseURL: "http://example.invalid"}
}

func testWorkspace(t *testing.T) workspace.Workspace {
	return workspace.Workspace{ID: "m1", HostRoot: t.TempDir()}
}

func collectEvents() (func(events.CoreEvent), *[]events.CoreEvent) {
	var got []events.CoreEvent
	return func(e events.CoreEvent) { got = append(got, e) }, &got
}

func TestCLIDriverHappyPath(t *testing.T) {
	fakeCLI(t, "claude", `cat <<'EOF'
{"type":"system","session_id":"sess-1"}
{"type":"assistant","message":{"content":[{"type":"text","text":"hi there"}]}}
{"type":"result","result":"hi there","total_cost_usd":0.002}
EOF
`)
	d := NewClaudeCodeDriver(workspace.NewExecutor(), nil, NewFrontendToolBroker(), "", false)
	emit, got := collectEvents()

	res, err := d.RunTurn(context.Background(), RunTurnRequest{
		Workspace:   testWorkspace(t),
		WorkDir:     t.TempDir(),
		UserMessage: "hello",
		Account:     testAccount(),
		Cancel:      make(chan struct{}),
		EventTx:     emit,
	})
	if err != nil {
		t.Fatalf("RunTurn returned error: %v", err)
	}
	if !res.Success || res.TerminalReason != events.ReasonCompleted {
		t.Fatalf("expected a completed success, got %+v", res)
	}
	if res.Output != "hi there" {
		t.Fatalf("unexpected output %q", res.Output)
	}
	if res.CostCents != 0 {
		t.Fatalf("expected cost rounding to 0 cents for $0.002, got %d", res.CostCents)
	}
	if len(*got) == 0 {
		t.Fatal("expected at least one emitted event")
	}
}

func TestCLIDriverArgvStdinMode(t *testing.T) {
	fakeCLI(t, "ccr", `cat <<'EOF'
{"type":"result","result":"routed ok"}
EOF
`)
	d := NewClaudeCodeRouterDriver(workspace.NewExecutor(), nil, NewFrontendToolBroker(), "", false)
	emit, _ := collectEvents()

	res, err := d.RunTurn(context.Background(), RunTurnRequest{
		Workspace:   testWorkspace(t),
		WorkDir:     t.TempDir(),
		UserMessage: "hello",
		Account:     testAccount(),
		Cancel:      make(chan struct{}),
		EventTx:     emit,
	})
	if err != nil {
		t.Fatalf("RunTurn returned error: %v", err)
	}
	if res.Output != "routed ok" {
		t.Fatalf("unexpected output %q", res.Output)
	}
}

func TestCLIDriverMissingCredentials(t *testing.T) {
	fakeCLI(t, "claude", `exit 0`)
	d := NewClaudeCodeDriver(workspace.NewExecutor(), nil, NewFrontendToolBroker(), "", false)
	emit, _ := collectEvents()

	res, err := d.RunTurn(context.Background(), RunTurnRequest{
		Workspace:   testWorkspace(t),
		WorkDir:     t.TempDir(),
		UserMessage: "hello",
		Account:     credentials.Account{Kind: "anthropic"},
		Cancel:      make(chan struct{}),
		EventTx:     emit,
	})
	if err != nil {
		t.Fatalf("RunTurn returned error: %v", err)
	}
	if res.TerminalReason != events.ReasonLlmError {
		t.Fatalf("expected llm_error classification, got %+v", res)
	}
}

func TestCLIDriverCLINotFoundNoAutoInstall(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	d := NewClaudeCodeDriver(workspace.NewExecutor(), nil, NewFrontendToolBroker(), "", false)
	emit, _ := collectEvents()

	res, err := d.RunTurn(context.Background(), RunTurnRequest{
		Workspace:   testWorkspace(t),
		WorkDir:     t.TempDir(),
		UserMessage: "hello",
		Account:     testAccount(),
		Cancel:      make(chan struct{}),
		EventTx:     emit,
	})
	if err != nil {
		t.Fatalf("RunTurn returned error: %v", err)
	}
	if res.TerminalReason != events.ReasonLlmError {
		t.Fatalf("expected llm_error classification, got %+v", res)
	}
}

func TestCLIDriverNonZeroExitEmptyOutputClassifiesAsLlmError(t *testing.T) {
	fakeCLI(t, "claude", `echo "boom: out of memory" >&2
exit 1`)
	d := NewClaudeCodeDriver(workspace.NewExecutor(), nil, NewFrontendToolBroker(), "", false)
	emit, _ := collectEvents()

	res, err := d.RunTurn(context.Background(), RunTurnRequest{
		Workspace:   testWorkspace(t),
		WorkDir:     t.TempDir(),
		UserMessage: "hello",
		Account:     testAccount(),
		Cancel:      make(chan struct{}),
		EventTx:     emit,
	})
	if err != nil {
		t.Fatalf("RunTurn returned error: %v", err)
	}
	if res.TerminalReason != events.ReasonLlmError {
		t.Fatalf("expected llm_error classification, got %+v", res)
	}
	if res.ErrorMessage == "" {
		t.Fatal("expected a diagnostic error message")
	}
}

func TestCLIDriverCancelKillsChild(t *testing.T) {
	fakeCLI(t, "claude", `sleep 30`)
	d := NewClaudeCodeDriver(workspace.NewExecutor(), nil, NewFrontendToolBroker(), "", false)
	emit, _ := collectEvents()
	cancel := make(chan struct{})

	done := make(chan *events.AgentResult, 1)
	go func() {
		res, _ := d.RunTurn(context.Background(), RunTurnRequest{
			Workspace:   testWorkspace(t),
			WorkDir:     t.TempDir(),
			UserMessage: "hello",
			Account:     testAccount(),
			Cancel:      cancel,
			EventTx:     emit,
		})
		done <- res
	}()

	time.Sleep(100 * time.Millisecond)
	close(cancel)

	select {
	case res := <-done:
		if res.TerminalReason != events.ReasonCancelled {
			t.Fatalf("expected cancelled, got %+v", res)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("RunTurn did not return after cancel")
	}
}

func TestCLIDriverFrontendToolPauseAndResume(t *testing.T) {
	fakeCLI(t, "claude", `if [ -f "$RESUME_MARKER" ]; then
  cat <<'EOF'
{"type":"result","result":"answered: yes"}
EOF
else
  touch "$RESUME_MARKER"
  cat <<'EOF'
{"type":"stream_event","event":{"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"call_1","name":"question"}}}
{"type":"assistant","message":{"content":[{"type":"tool_use","id":"call_1","name":"question","input":{"text":"proceed?"}}]}}
EOF
fi`)
	marker := filepath.Join(t.TempDir(), "resumed.marker")
	t.Setenv("RESUME_MARKER", marker)

	broker := NewFrontendToolBroker()
	d := NewClaudeCodeDriver(workspace.NewExecutor(), nil, broker, "", false)
	emit, _ := collectEvents()

	done := make(chan *events.AgentResult, 1)
	go func() {
		res, _ := d.RunTurn(context.Background(), RunTurnRequest{
			Workspace:   testWorkspace(t),
			WorkDir:     t.TempDir(),
			UserMessage: "hello",
			Account:     testAccount(),
			Cancel:      make(chan struct{}),
			EventTx:     emit,
		})
		done <- res
	}()

	deadline := time.After(5 * time.Second)
	for {
		if broker.Deliver("call_1", "yes") {
			break
		}
		select {
		case <-deadline:
			t.Fatal("frontend tool call never registered with broker")
		case <-time.After(20 * time.Millisecond):
		}
	}

	select {
	case res := <-done:
		if res.Output != "answered: yes" {
			t.Fatalf("expected resumed turn output, got %+v", res)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("RunTurn did not return after broker answer")
	}
}
