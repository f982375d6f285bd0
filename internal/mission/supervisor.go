package mission

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/missionrelay/missionrelay/internal/backend"
	"github.com/missionrelay/missionrelay/internal/credentials"
	"github.com/missionrelay/missionrelay/internal/events"
	"github.com/missionrelay/missionrelay/internal/workspace"
)

// pollInterval is how often poll_all sweeps every runner for completion and
// health.
const pollInterval = 200 * time.Millisecond

// MissionHealth is one runner's health snapshot as reported by list_health.
type MissionHealth struct {
	MissionID string
	State     State
	Health    HealthStatus
}

// RunnerFactory builds a Runner for a mission that doesn't exist yet.
// Supervisor has no opinion on workspace provisioning or account
// assignment; the caller supplies both at post_message time via this
// factory.
type RunnerFactory func(missionID string) (*Runner, error)

// Supervisor owns every Runner in the process and fans every runner's
// events out through one shared bus.
type Supervisor struct {
	mu      sync.Mutex
	runners map[string]*Runner
	bus     *events.Bus
	factory RunnerFactory
}

// NewSupervisor constructs a Supervisor backed by bus, using factory to
// lazily create a Runner the first time a mission id is posted to.
func NewSupervisor(bus *events.Bus, factory RunnerFactory) *Supervisor {
	return &Supervisor{
		runners: make(map[string]*Runner),
		bus:     bus,
		factory: factory,
	}
}

// NewDefaultRunnerFactory builds the common case: a Runner over a fixed
// workspace/driver/account, identical for every mission this supervisor
// manages.
func NewDefaultRunnerFactory(ws workspace.Workspace, workDirFor func(missionID string) string, driver backend.Driver, account credentials.Account, bus *events.Bus) RunnerFactory {
	return func(missionID string) (*Runner, error) {
		return NewRunner(missionID, ws, workDirFor(missionID), driver, account, bus), nil
	}
}

// PostMessage looks up or creates the runner for missionID, queues the
// message, and starts it immediately if the runner is idle.
func (s *Supervisor) PostMessage(missionID, id, content, agent string) error {
	r, err := s.runnerFor(missionID)
	if err != nil {
		return err
	}
	r.QueueMessage(id, content, agent)
	r.StartNext()
	return nil
}

func (s *Supervisor) runnerFor(missionID string) (*Runner, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.runners[missionID]; ok {
		return r, nil
	}
	r, err := s.factory(missionID)
	if err != nil {
		return nil, fmt.Errorf("mission: create runner %q: %w", missionID, err)
	}
	s.runners[missionID] = r
	return r, nil
}

// Cancel triggers cancellation of missionID's in-flight turn, if any. It is
// a no-op if the mission has no runner.
func (s *Supervisor) Cancel(missionID string) {
	s.mu.Lock()
	r, ok := s.runners[missionID]
	s.mu.Unlock()
	if ok {
		r.Cancel()
	}
}

// Runner returns the runner for missionID, if one has been created.
func (s *Supervisor) Runner(missionID string) (*Runner, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runners[missionID]
	return r, ok
}

// Destroy marks missionID's runner Finished and removes it from the
// supervisor. This is the only path into the Finished state.
func (s *Supervisor) Destroy(missionID string) {
	s.mu.Lock()
	r, ok := s.runners[missionID]
	delete(s.runners, missionID)
	s.mu.Unlock()
	if ok {
		r.Finish()
	}
}

// PollAll sweeps every runner concurrently: consumes any finished turn's
// result and re-triggers start_next if the queue is nonempty. Errors from
// individual runners never abort the sweep — ctx cancellation is the only
// thing that does.
func (s *Supervisor) PollAll(ctx context.Context) error {
	s.mu.Lock()
	snapshot := make([]*Runner, 0, len(s.runners))
	for _, r := range s.runners {
		snapshot = append(snapshot, r)
	}
	s.mu.Unlock()

	g, _ := errgroup.WithContext(ctx)
	for _, r := range snapshot {
		r := r
		g.Go(func() error {
			if _, _, ok := r.PollCompletion(); ok {
				r.StartNext()
			}
			return nil
		})
	}
	return g.Wait()
}

// Run blocks, sweeping every pollInterval until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.PollAll(ctx); err != nil {
				return err
			}
		}
	}
}

// Subscribe returns a read handle on the shared event bus.
func (s *Supervisor) Subscribe() *events.Subscription {
	return s.bus.Subscribe()
}

// ListHealth returns one MissionHealth per tracked runner.
func (s *Supervisor) ListHealth() []MissionHealth {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]MissionHealth, 0, len(s.runners))
	for id, r := range s.runners {
		out = append(out, MissionHealth{
			MissionID: id,
			State:     r.State(),
			Health:    r.CheckHealth(),
		})
	}
	return out
}
