// Package backend implements the Backend Driver (C5): one driver per
// backend CLI kind, all sharing the run_turn contract that resolves
// credentials, assembles a command line and environment, spawns the CLI via
// the Workspace Executor, feeds its output through the Event Normalizer,
// and classifies how the turn ended.
package backend

import (
	"context"
	"strings"

	"github.com/missionrelay/missionrelay/internal/credentials"
	"github.com/missionrelay/missionrelay/internal/events"
	"github.com/missionrelay/missionrelay/internal/workspace"
)

// RunTurnRequest is everything a driver needs to execute one turn.
type RunTurnRequest struct {
	Workspace      workspace.Workspace
	WorkDir        string
	UserMessage    string
	Model          string
	Agent          string
	SessionID      string
	IsContinuation bool
	Account        credentials.Account

	// Cancel is closed to request cancellation mid-turn.
	Cancel <-chan struct{}

	// EventTx receives every CoreEvent the driver produces, in order.
	EventTx func(events.CoreEvent)
}

// Driver is the contract every backend CLI kind implements.
type Driver interface {
	RunTurn(ctx context.Context, req RunTurnRequest) (*events.AgentResult, error)
}

// isFrontendTool reports whether a tool_use name must pause the driver for
// a frontend-supplied answer.
func isFrontendTool(name string) bool {
	return name == "question" || strings.HasPrefix(name, "ui_")
}
