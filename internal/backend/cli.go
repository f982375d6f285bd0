package backend

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/missionrelay/missionrelay/internal/credentials"
	"github.com/missionrelay/missionrelay/internal/events"
	"github.com/missionrelay/missionrelay/internal/normalizer"
	"github.com/missionrelay/missionrelay/internal/workspace"
)

type stdinMode int

const (
	stdinModeWrite stdinMode = iota
	stdinModeArgv
)

// cliSpec is everything that differs between the two Claude-family CLI
// variants; the run_turn machinery itself (credential resolution, spawn,
// event loop, frontend-tool pause, terminal classification) is shared.
type cliSpec struct {
	binary               string
	installArgs          []string
	printFlags           []string
	permissionBypassFlag string
	stdin                stdinMode
	provider             string // "" disables the workspace-vs-canonical OAuth comparison
}

// CLIDriver implements Driver for a Claude-family CLI: a print-mode
// subprocess that emits Claude-Code stream-json on stdout.
type CLIDriver struct {
	spec          cliSpec
	exec          *workspace.Executor
	creds         *credentials.Store
	broker        *FrontendToolBroker
	mcpConfigPath string
	autoInstall   bool
}

func newCLIDriver(spec cliSpec, exec *workspace.Executor, creds *credentials.Store, broker *FrontendToolBroker, mcpConfigPath string, autoInstall bool) *CLIDriver {
	return &CLIDriver{spec: spec, exec: exec, creds: creds, broker: broker, mcpConfigPath: mcpConfigPath, autoInstall: autoInstall}
}

// RunTurn implements Driver.
func (d *CLIDriver) RunTurn(ctx context.Context, req RunTurnRequest) (*events.AgentResult, error) {
	var oauth *credentials.OAuthRecord
	hasCredentials := req.Account.HasCredentials()

	if d.spec.provider != "" && req.Account.Kind == d.spec.provider && req.Account.OAuth != nil {
		rec, err := resolveOAuth(ctx, d.creds, req.Workspace, d.spec.provider)
		if err != nil {
			return llmError(err.Error()), nil
		}
		oauth = &rec
		hasCredentials = true
	} else if !hasCredentials {
		return llmError(fmt.Sprintf("backend: no credentials resolved for %s", req.Account.Kind)), nil
	}

	binPath, err := ensureCLI(ctx, d.exec, req.Workspace, req.WorkDir, d.spec.binary, d.spec.installArgs, d.autoInstall)
	if err != nil {
		return llmError(err.Error()), nil
	}

	args := d.buildArgs(req)
	env := buildEnv(req.Account, oauth)

	handle, err := d.exec.SpawnStreaming(ctx, req.Workspace, req.WorkDir, binPath, args, env)
	if err != nil {
		return llmError(fmt.Sprintf("backend: spawning %s: %v", d.spec.binary, err)), nil
	}

	switch d.spec.stdin {
	case stdinModeWrite:
		_, _ = io.WriteString(handle.Stdin, req.UserMessage)
		_ = handle.Stdin.Close()
	case stdinModeArgv:
		_ = handle.Stdin.Close()
	}

	return d.eventLoop(ctx, req, handle, hasCredentials)
}

func (d *CLIDriver) buildArgs(req RunTurnRequest) []string {
	args := append([]string{}, d.spec.printFlags...)
	args = append(args, d.spec.permissionBypassFlag)
	if d.mcpConfigPath != "" {
		args = append(args, "--mcp-config", req.Workspace.TranslatePathForContainer(d.mcpConfigPath))
	}
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	if req.Agent != "" {
		args = append(args, "--agent", req.Agent)
	}
	if req.SessionID != "" {
		if req.IsContinuation {
			args = append(args, "--resume", req.SessionID)
		} else {
			args = append(args, "--session-id", req.SessionID)
		}
	}
	if d.spec.stdin == stdinModeArgv {
		args = append(args, req.UserMessage)
	}
	return args
}

func (d *CLIDriver) eventLoop(ctx context.Context, req RunTurnRequest, handle *workspace.ChildHandle, hasCredentials bool) (*events.AgentResult, error) {
	missionID := req.Workspace.ID
	var rawStdoutLines []string
	var stderrLines []string
	var pausedToolID string

	emit := func(e events.CoreEvent) {
		if e.Kind == events.KindToolCall && pausedToolID == "" && isFrontendTool(e.Name) {
			pausedToolID = e.ToolCallID
		}
		req.EventTx(e)
	}
	parser := normalizer.NewNDJSONParser(missionID, emit)

	var timeoutCh <-chan time.Time
	if !hasCredentials {
		timer := time.NewTimer(45 * time.Second)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			_ = handle.Kill()
			return &events.AgentResult{TerminalReason: events.ReasonCancelled}, nil
		case <-req.Cancel:
			_ = handle.Kill()
			return &events.AgentResult{TerminalReason: events.ReasonCancelled}, nil
		case <-timeoutCh:
			_ = handle.Kill()
			return llmError("backend: no output within 45s and no credentials resolved"), nil
		case line, ok := <-handle.Stderr:
			if !ok {
				handle.Stderr = nil
				continue
			}
			stderrLines = append(stderrLines, line)
		case line, ok := <-handle.Stdout:
			if !ok {
				_ = handle.Wait()
				drainStderr(handle, &stderrLines)
				return finalize(parser.BestEffortText(), rawStdoutLines, stderrLines), nil
			}
			res, err := parser.Feed([]byte(line))
			if err != nil {
				if !normalizer.IsStatusBannerLine(line) {
					rawStdoutLines = append(rawStdoutLines, line)
				}
				continue
			}
			if pausedToolID != "" {
				return d.pauseForFrontendTool(ctx, req, handle, pausedToolID)
			}
			if res != nil {
				_ = handle.Kill()
				if res.Success && res.Output == "" {
					res.Output = strings.Join(rawStdoutLines, "\n")
				}
				return res, nil
			}
		}
	}
}

func (d *CLIDriver) pauseForFrontendTool(ctx context.Context, req RunTurnRequest, handle *workspace.ChildHandle, toolCallID string) (*events.AgentResult, error) {
	answerCh := d.broker.Register(toolCallID)
	_ = handle.Kill()

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

func llmError(message string) *events.AgentResult {
	return &events.AgentResult{Success: false, TerminalReason: events.ReasonLlmError, ErrorMessage: message}
}

// finalize builds the terminal AgentResult once stdout has closed without a
// "result" line ever arriving. It falls back through the same text-source
// priority as a terminal "result" line would: the parser's indexed text
// buffer (tier two), then whatever non-JSON stdout lines were seen minus
// known status banners (tier three). Spawn failure, an in-stream error
// event, and a non-zero exit with no text recoverable by any tier all
// classify the same way: LlmError with a diagnostic from the trailing
// stderr.
func finalize(bestEffortText string, rawStdoutLines []string, stderrLines []string) *events.AgentResult {
	output := bestEffortText
	if output == "" {
		output = strings.Join(rawStdoutLines, "\n")
	}
	if output != "" {
		return &events.AgentResult{Success: true, Output: output, TerminalReason: events.ReasonCompleted}
	}
	return llmError(diagnosticFromStderr(stderrLines))
}

func diagnosticFromStderr(lines []string) string {
	if len(lines) == 0 {
		return "backend: process produced no output and no diagnostic"
	}
	n := len(lines)
	if n > 5 {
		n = 5
	}
	return "backend: process exited without usable output: " + strings.Join(lines[:n], "; ")
}

func drainStderr(handle *workspace.ChildHandle, into *[]string) {
	if handle.Stderr == nil {
		return
	}
	for {
		select {
		case line, ok := <-handle.Stderr:
			if !ok {
				return
			}
			*into = append(*into, line)
		default:
			return
		}
	}
}

// ensureCLI verifies binary is on the workspace PATH, running installArgs
// via the workspace executor and re-checking once if it's missing and
// autoInstall is enabled.
func ensureCLI(ctx context.Context, exec *workspace.Executor, ws workspace.Workspace, workDir, binary string, installArgs []string, autoInstall bool) (string, error) {
	if present(ctx, exec, ws, workDir, binary) {
		return binary, nil
	}
	if !autoInstall || len(installArgs) == 0 {
		return "", fmt.Errorf("backend: %s CLI not found and auto-install is disabled", binary)
	}
	out, err := exec.Output(ctx, ws, workDir, installArgs[0], installArgs[1:], os.Environ())
	if err != nil || out.ExitCode != 0 {
		return "", fmt.Errorf("backend: installing %s failed: %s", binary, out.Stderr)
	}
	if !present(ctx, exec, ws, workDir, binary) {
		return "", fmt.Errorf("backend: %s CLI still missing after install", binary)
	}
	return binary, nil
}

func present(ctx context.Context, exec *workspace.Executor, ws workspace.Workspace, workDir, binary string) bool {
	out, err := exec.Output(ctx, ws, workDir, "which", []string{binary}, os.Environ())
	return err == nil && out.ExitCode == 0 && strings.TrimSpace(out.Stdout) != ""
}
