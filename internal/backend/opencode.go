package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/missionrelay/missionrelay/internal/events"
	"github.com/missionrelay/missionrelay/internal/normalizer"
	"github.com/missionrelay/missionrelay/internal/workspace"
)

var errStopReading = errors.New("backend: terminal event reached")

// OpenCodeDriver implements Driver for OpenCode: a local server process
// plus an auxiliary SSE client subscribed to its event stream, since
// OpenCode delivers turn events over HTTP rather than on the CLI's stdout.
// Unlike the Claude-family drivers it has no workspace-vs-canonical OAuth
// comparison to perform, so it needs no credentials.Store.
type OpenCodeDriver struct {
	exec        *workspace.Executor
	broker      *FrontendToolBroker
	httpClient  *http.Client
	binary      string
	installArgs []string
	autoInstall bool
}

// NewOpenCodeDriver constructs an OpenCodeDriver.
func NewOpenCodeDriver(exec *workspace.Executor, broker *FrontendToolBroker, httpClient *http.Client, autoInstall bool) *OpenCodeDriver {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 0}
	}
	return &OpenCodeDriver{
		exec:        exec,
		broker:      broker,
		httpClient:  httpClient,
		binary:      "opencode",
		installArgs: []string{"npm", "install", "-g", "opencode-ai"},
		autoInstall: autoInstall,
	}
}

// RunTurn implements Driver.
func (d *OpenCodeDriver) RunTurn(ctx context.Context, req RunTurnRequest) (*events.AgentResult, error) {
	if !req.Account.HasCredentials() {
		return llmError(fmt.Sprintf("backend: no credentials resolved for %s", req.Account.Kind)), nil
	}

	binPath, err := ensureCLI(ctx, d.exec, req.Workspace, req.WorkDir, d.binary, d.installArgs, d.autoInstall)
	if err != nil {
		return llmError(err.Error()), nil
	}

	port, err := freePort()
	if err != nil {
		return llmError(fmt.Sprintf("backend: allocating a port for opencode: %v", err)), nil
	}

	workDir := req.Workspace.TranslatePathForContainer(req.WorkDir)
	args := buildOpenCodeArgs(req, port, workDir)
	env := buildEnv(req.Account, nil)

	handle, err := d.exec.SpawnStreaming(ctx, req.Workspace, req.WorkDir, binPath, args, env)
	if err != nil {
		return llmError(fmt.Sprintf("backend: spawning opencode: %v", err)), nil
	}
	_ = handle.Stdin.Close()

	var stderrLines []string

	// opencode's own stdout carries server logs, not turn events; events
	// arrive over the SSE arm started below. It's kept anyway, minus known
	// status banners, as the tier-three terminal text fallback for when
	// the server process dies before the SSE arm ever sees a terminal
	// frame.
	var stdoutMu sync.Mutex
	var stdoutLines []string
	go func() {
		for line := range handle.Stdout {
			if normalizer.IsStatusBannerLine(line) {
				continue
			}
			stdoutMu.Lock()
			stdoutLines = append(stdoutLines, line)
			stdoutMu.Unlock()
		}
	}()
	fallbackStdout := func() string {
		stdoutMu.Lock()
		defer stdoutMu.Unlock()
		return strings.Join(stdoutLines, "\n")
	}

	sessionID, err := d.ensureSession(ctx, port, req)
	if err != nil {
		_ = handle.Kill()
		return llmError(err.Error()), nil
	}
	if sessionID != req.SessionID {
		req.EventTx(events.SessionIDUpdate(req.Workspace.ID, sessionID))
	}

	resultCh := make(chan *events.AgentResult, 1)
	errCh := make(chan error, 1)
	pauseCh := make(chan string, 1)
	sseCtx, cancelSSE := context.WithCancel(ctx)
	defer cancelSSE()
	go d.runSSEClient(sseCtx, req, port, sessionID, resultCh, errCh, pauseCh)

	if err := d.postMessage(ctx, port, sessionID, req); err != nil {
		_ = handle.Kill()
		return llmError(err.Error()), nil
	}

	processDone := make(chan error, 1)
	go func() { processDone <- handle.Wait() }()

	for {
		select {
		case <-ctx.Done():
			_ = handle.Kill()
			return &events.AgentResult{TerminalReason: events.ReasonCancelled}, nil
		case <-req.Cancel:
			_ = handle.Kill()
			return &events.AgentResult{TerminalReason: events.ReasonCancelled}, nil
		case line, ok := <-handle.Stderr:
			if !ok {
				handle.Stderr = nil
				continue
			}
			stderrLines = append(stderrLines, line)
		case res := <-resultCh:
			_ = handle.Kill()
			if res.Success && res.Output == "" {
				res.Output = fallbackStdout()
			}
			return res, nil
		case err := <-errCh:
			_ = handle.Kill()
			return llmError(err.Error()), nil
		case toolCallID := <-pauseCh:
			_ = handle.Kill()
			return d.pauseForFrontendTool(ctx, req, toolCallID)
		case <-processDone:
			drainStderr(handle, &stderrLines)
			if output := fallbackStdout(); output != "" {
				return &events.AgentResult{Success: true, Output: output, TerminalReason: events.ReasonCompleted}, nil
			}
			return llmError(diagnosticFromStderr(stderrLines)), nil
		}
	}
}

func (d *OpenCodeDriver) pauseForFrontendTool(ctx context.Context, req RunTurnRequest, toolCallID string) (*events.AgentResult, error) {
	answerCh := d.broker.Register(toolCallID)
	select {
	case <-ctx.Done():
		d.broker.Cancel(toolCallID)
		return &events.AgentResult{TerminalReason: events.ReasonCancelled}, nil
	case <-req.Cancel:
		d.broker.Cancel(toolCallID)
		return &events.AgentResult{TerminalReason: events.ReasonCancelled}, nil
	case answer, ok := <-answerCh:
		if !ok {
			return &events.AgentResult{TerminalReason: events.ReasonCancelled}, nil
		}
		next := req
		next.UserMessage = answer
		next.IsContinuation = true
		return d.RunTurn(ctx, next)
	}
}

func buildOpenCodeArgs(req RunTurnRequest, port int, workDir string) []string {
	args := []string{"serve", "--port", strconv.Itoa(port), "--print-logs", "--cwd", workDir, "--timeout", "0"}
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	if req.Agent != "" {
		args = append(args, "--agent", req.Agent)
	}
	return args
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// ensureSession reuses req.SessionID on a continuation, or asks the
// just-started server for a new session once it comes up.
func (d *OpenCodeDriver) ensureSession(ctx context.Context, port int, req RunTurnRequest) (string, error) {
	if req.IsContinuation && req.SessionID != "" {
		return req.SessionID, nil
	}

	var id string
	err := retry(ctx, 15, 200*time.Millisecond, func() error {
		url := fmt.Sprintf("http://127.0.0.1:%d/session", port)
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader("{}"))
		if err != nil {
			return err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		resp, err := d.httpClient.Do(httpReq)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("opencode session create returned %s", resp.Status)
		}
		var body struct {
			ID string `json:"id"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.ID == "" {
			return fmt.Errorf("opencode session create returned no id")
		}
		id = body.ID
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("backend: creating opencode session: %w", err)
	}
	return id, nil
}

func (d *OpenCodeDriver) postMessage(ctx context.Context, port int, sessionID string, req RunTurnRequest) error {
	url := fmt.Sprintf("http://127.0.0.1:%d/session/%s/message", port, sessionID)
	body, err := json.Marshal(map[string]any{
		"parts": []map[string]string{{"type": "text", "text": req.UserMessage}},
	})
	if err != nil {
		return err
	}
	return retry(ctx, 15, 200*time.Millisecond, func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		resp, err := d.httpClient.Do(httpReq)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			return fmt.Errorf("opencode message post returned %s", resp.Status)
		}
		return nil
	})
}

func (d *OpenCodeDriver) runSSEClient(ctx context.Context, req RunTurnRequest, port int, sessionID string, resultCh chan<- *events.AgentResult, errCh chan<- error, pauseCh chan<- string) {
	url := fmt.Sprintf("http://127.0.0.1:%d/event", port)
	var resp *http.Response
	err := retry(ctx, 15, 200*time.Millisecond, func() error {
		httpReq, rerr := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if rerr != nil {
			return rerr
		}
		r, rerr := d.httpClient.Do(httpReq)
		if rerr != nil {
			return rerr
		}
		if r.StatusCode != http.StatusOK {
			r.Body.Close()
			return fmt.Errorf("opencode event stream returned %s", r.Status)
		}
		resp = r
		return nil
	})
	if err != nil {
		errCh <- fmt.Errorf("backend: connecting to opencode event stream: %w", err)
		return
	}
	defer resp.Body.Close()

	var final *events.AgentResult
	var pausedToolID string
	emit := func(e events.CoreEvent) {
		if e.Kind == events.KindToolCall && pausedToolID == "" && isFrontendTool(e.Name) {
			pausedToolID = e.ToolCallID
		}
		req.EventTx(e)
	}
	parser := normalizer.NewSSEParser(req.Workspace.ID, sessionID, emit)
	readErr := normalizer.ReadFrames(resp.Body, func(f normalizer.Frame) error {
		res, ferr := parser.HandleFrame(f)
		if ferr != nil {
			return nil
		}
		if pausedToolID != "" {
			return errStopReading
		}
		if res != nil {
			final = res
			return errStopReading
		}
		return nil
	})

	if pausedToolID != "" {
		pauseCh <- pausedToolID
		return
	}
	if final != nil {
		resultCh <- final
		return
	}
	if readErr != nil && !errors.Is(readErr, errStopReading) {
		errCh <- fmt.Errorf("backend: opencode event stream: %w", readErr)
		return
	}
	errCh <- errors.New("backend: opencode event stream ended without a terminal event")
}

func retry(ctx context.Context, attempts int, delay time.Duration, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}
