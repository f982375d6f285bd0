// Package mission implements the Mission Runner (C9) and Mission
// Supervisor (C10): the per-conversation state machine that queues user
// messages, drives one Backend Driver turn at a time, and assembles the
// next turn's prompt from accumulated history, plus the supervisor that
// owns every runner and fans events out to the shared bus.
package mission

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/missionrelay/missionrelay/internal/backend"
	"github.com/missionrelay/missionrelay/internal/credentials"
	"github.com/missionrelay/missionrelay/internal/events"
	"github.com/missionrelay/missionrelay/internal/workspace"
)

// State is one of the Mission Runner's four states.
type State string

const (
	StateQueued         State = "queued"
	StateRunning        State = "running"
	StateWaitingForTool State = "waiting_for_tool"
	StateFinished       State = "finished"
)

// missionCompleteSentinel is the literal marker a backend's final output
// carries to signal deliberate completion, as opposed to merely ending a
// turn because the CLI exited.
const missionCompleteSentinel = "<!-- mission-complete -->"

// staleAfter is how long a running turn may go without activity before
// check_health reports Stalled.
const staleAfter = 60 * time.Second

// HealthStatus is check_health's result.
type HealthStatus string

const (
	HealthHealthy              HealthStatus = "healthy"
	HealthStalled              HealthStatus = "stalled"
	HealthMissingDeliverables  HealthStatus = "missing_deliverables"
)

type queuedMessage struct {
	ID      string
	Content string
	Agent   string
}

// turnOutcome is what a spawned turn goroutine delivers back to the runner.
type turnOutcome struct {
	userMsg queuedMessage
	result  *events.AgentResult
	err     error
}

// DeliverablesChecker reports whether every deliverable the runner expects
// has actually been produced; detection itself lives outside this package
// (it inspects workspace file state, which C9 has no opinion on).
type DeliverablesChecker func(expected []string) bool

// Runner is the per-mission state machine.
type Runner struct {
	mu sync.Mutex

	id        string
	workspace workspace.Workspace
	workDir   string
	driver    backend.Driver
	account   credentials.Account
	bus       *events.Bus

	agent     string
	model     string
	sessionID string

	queue   []queuedMessage
	history []historyEntry

	state                State
	explicitlyCompleted  bool
	expectedDeliverables []string
	deliverablesChecker  DeliverablesChecker
	historyCharBudget    int

	cancelFn context.CancelFunc
	resultCh chan turnOutcome
	running  bool

	lastActivity time.Time
}

// NewRunner constructs a Runner in state Queued with an empty queue.
func NewRunner(id string, ws workspace.Workspace, workDir string, driver backend.Driver, account credentials.Account, bus *events.Bus) *Runner {
	return &Runner{
		id:                id,
		workspace:         ws,
		workDir:           workDir,
		driver:            driver,
		account:           account,
		bus:               bus,
		state:             StateQueued,
		historyCharBudget: 8000,
		lastActivity:      time.Now(),
	}
}

// SetModel pins the model used for every future turn; the agent override
// instead travels per-message through QueueMessage since a mission may
// switch agents between turns.
func (r *Runner) SetModel(model string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.model = model
}

func (r *Runner) SetExpectedDeliverables(deliverables []string, checker DeliverablesChecker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expectedDeliverables = deliverables
	r.deliverablesChecker = checker
}

// ID returns the mission id.
func (r *Runner) ID() string { return r.id }

// QueueMessage always accepts, pushing to the FIFO queue without starting
// execution.
func (r *Runner) QueueMessage(id, content, agent string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queue = append(r.queue, queuedMessage{ID: id, Content: content, Agent: agent})
}

// StartNext pops the head message and spawns a turn if the runner is not
// already running and the queue is nonempty. Returns whether a turn was
// started.
func (r *Runner) StartNext() bool {
	r.mu.Lock()
	if r.running || len(r.queue) == 0 {
		r.mu.Unlock()
		return false
	}
	msg := r.queue[0]
	r.queue = r.queue[1:]
	r.state = StateRunning
	r.running = true
	r.lastActivity = time.Now()
	if msg.Agent != "" {
		r.agent = msg.Agent
	}
	prompt := assembleTurnPrompt(r.history, msg.Content, r.expectedDeliverables, r.historyCharBudget)
	sessionID := r.sessionID
	isContinuation := sessionID != ""
	model, agent := r.model, r.agent
	ws, workDir, account, driver := r.workspace, r.workDir, r.account, r.driver

	ctx, cancel := context.WithCancel(context.Background())
	r.cancelFn = cancel
	resultCh := make(chan turnOutcome, 1)
	r.resultCh = resultCh
	r.mu.Unlock()

	r.bus.Publish(events.UserMessage(r.id, msg.ID, msg.Content, false))

	go func() {
		req := backend.RunTurnRequest{
			Workspace:      ws,
			WorkDir:        workDir,
			UserMessage:    prompt,
			Model:          model,
			Agent:          agent,
			SessionID:      sessionID,
			IsContinuation: isContinuation,
			Account:        account,
			Cancel:         ctx.Done(),
			EventTx:        r.handleTurnEvent,
		}
		result, err := driver.RunTurn(ctx, req)
		resultCh <- turnOutcome{userMsg: msg, result: result, err: err}
	}()

	return true
}

// handleTurnEvent is the backend driver's EventTx sink: it forwards every
// event to the shared bus, tracks session id updates, and flips the state
// to WaitingForTool/back to Running around a frontend tool call so
// check_health and external observers see an accurate state.
func (r *Runner) handleTurnEvent(ev events.CoreEvent) {
	r.mu.Lock()
	r.lastActivity = time.Now()
	switch ev.Kind {
	case events.KindSessionIDUpdate:
		r.sessionID = ev.SessionID
	case events.KindToolCall:
		if isFrontendTool(ev.Name) {
			r.state = StateWaitingForTool
		}
	case events.KindToolResult:
		if r.state == StateWaitingForTool {
			r.state = StateRunning
		}
	}
	r.mu.Unlock()
	r.bus.Publish(ev)
}

// isFrontendTool mirrors internal/backend's own frontend-tool naming rule;
// duplicated rather than exported from backend to keep mission's state
// transitions decoupled from a single driver's tool-name convention.
func isFrontendTool(name string) bool {
	return name == "question" || strings.HasPrefix(name, "ui_")
}

// Cancel triggers the running turn's cancellation token without waiting for
// it to finish.
func (r *Runner) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancelFn != nil {
		r.cancelFn()
	}
}

// PollCompletion is non-blocking: if the running task has finished, it
// consumes the result, appends history, transitions back to Queued, and
// returns the result. ok is false if nothing has finished yet or nothing is
// running.
func (r *Runner) PollCompletion() (result *events.AgentResult, err error, ok bool) {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil, nil, false
	}
	ch := r.resultCh
	r.mu.Unlock()

	select {
	case outcome := <-ch:
		r.mu.Lock()
		r.running = false
		r.cancelFn = nil
		r.resultCh = nil
		r.state = StateQueued
		r.lastActivity = time.Now()

		r.history = append(r.history,
			historyEntry{Role: "User", Content: outcome.userMsg.Content})
		if outcome.result != nil {
			r.history = append(r.history,
				historyEntry{Role: "Assistant", Content: outcome.result.Output})
			if strings.Contains(outcome.result.Output, missionCompleteSentinel) {
				r.explicitlyCompleted = true
			}
		}
		r.mu.Unlock()
		return outcome.result, outcome.err, true
	default:
		return nil, nil, false
	}
}

// CheckHealth reports Stalled if a running turn has had no activity for
// more than 60s, MissingDeliverables if the runner finished a turn without
// explicit completion and a DeliverablesChecker reports something missing,
// else Healthy.
func (r *Runner) CheckHealth() HealthStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running && time.Since(r.lastActivity) > staleAfter {
		return HealthStalled
	}
	if !r.running && !r.explicitlyCompleted && len(r.expectedDeliverables) > 0 {
		if r.deliverablesChecker == nil || !r.deliverablesChecker(r.expectedDeliverables) {
			return HealthMissingDeliverables
		}
	}
	return HealthHealthy
}

// Touch updates the last-activity instant, for callers observing external
// liveness signals (e.g. a progress snapshot write) outside the event loop.
func (r *Runner) Touch() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastActivity = time.Now()
}

// State returns the runner's current state.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// QueueLen reports how many messages are waiting to start.
func (r *Runner) QueueLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// Finish marks the runner Finished. Only the Supervisor calls this, on
// deliberate destruction — there is no automatic transition into this
// state.
func (r *Runner) Finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = StateFinished
}
