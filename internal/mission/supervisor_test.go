package mission

import (
	"context"
	"testing"
	"time"

	"github.com/missionrelay/missionrelay/internal/backend"
	"github.com/missionrelay/missionrelay/internal/credentials"
	"github.com/missionrelay/missionrelay/internal/events"
	"github.com/missionrelay/missionrelay/internal/workspace"
)

func newTestSupervisor() (*Supervisor, *fakeDriver) {
	driver := newFakeDriver()
	bus := events.NewBus()
	factory := NewDefaultRunnerFactory(
		workspace.Workspace{ID: "w1"},
		func(missionID string) string { return "/work/" + missionID },
		driver,
		credentials.Account{ID: "a1"},
		bus,
	)
	return NewSupervisor(bus, factory), driver
}

func TestSupervisorPostMessageCreatesRunnerLazily(t *testing.T) {
	sv, _ := newTestSupervisor()
	if err := sv.PostMessage("mission-1", "msg1", "hello", ""); err != nil {
		t.Fatal(err)
	}
	r, ok := sv.Runner("mission-1")
	if !ok {
		t.Fatal("expected a runner to have been created")
	}
	if r.State() != StateRunning {
		t.Fatalf("expected the idle runner to start immediately, got %v", r.State())
	}
}

func TestSupervisorPostMessageReusesExistingRunner(t *testing.T) {
	sv, driver := newTestSupervisor()
	driver.block = make(chan struct{})

	sv.PostMessage("mission-1", "msg1", "first", "")
	sv.PostMessage("mission-1", "msg2", "second", "")

	r, _ := sv.Runner("mission-1")
	if r.QueueLen() != 1 {
		t.Fatalf("expected the second message to queue behind the running first, got %d", r.QueueLen())
	}
	close(driver.block)
	waitForCompletion(t, r)
}

func TestSupervisorCancelDelegatesToRunner(t *testing.T) {
	sv, driver := newTestSupervisor()
	driver.block = make(chan struct{})
	sv.PostMessage("mission-1", "msg1", "hello", "")

	sv.Cancel("mission-1")
	r, _ := sv.Runner("mission-1")
	_, err := waitForCompletion(t, r)
	if err == nil {
		t.Fatal("expected cancellation to surface as an error")
	}
}

func TestSupervisorCancelUnknownMissionIsNoOp(t *testing.T) {
	sv, _ := newTestSupervisor()
	sv.Cancel("nonexistent")
}

func TestSupervisorPollAllRestartsQueuedWork(t *testing.T) {
	sv, _ := newTestSupervisor()
	sv.PostMessage("mission-1", "msg1", "first", "")
	sv.PostMessage("mission-1", "msg2", "second", "")

	r, _ := sv.Runner("mission-1")
	deadline := time.Now().Add(2 * time.Second)
	for r.State() == StateRunning && time.Now().Before(deadline) {
		sv.PollAll(context.Background())
		time.Sleep(5 * time.Millisecond)
	}
	deadline = time.Now().Add(2 * time.Second)
	for r.QueueLen() > 0 && time.Now().Before(deadline) {
		sv.PollAll(context.Background())
		time.Sleep(5 * time.Millisecond)
	}
	if r.QueueLen() != 0 {
		t.Fatalf("expected poll_all to eventually drain the queue, got %d remaining", r.QueueLen())
	}
}

func TestSupervisorListHealthReportsEveryRunner(t *testing.T) {
	sv, driver := newTestSupervisor()
	driver.block = make(chan struct{})
	sv.PostMessage("mission-1", "msg1", "hello", "")
	sv.PostMessage("mission-2", "msg1", "hello", "")

	health := sv.ListHealth()
	if len(health) != 2 {
		t.Fatalf("expected 2 health entries, got %d", len(health))
	}
	close(driver.block)
	for _, h := range health {
		r, _ := sv.Runner(h.MissionID)
		waitForCompletion(t, r)
	}
}

func TestSupervisorSubscribeReceivesEvents(t *testing.T) {
	sv, _ := newTestSupervisor()
	sub := sv.Subscribe()
	defer sub.Close()

	sv.PostMessage("mission-1", "msg1", "hello", "")

	select {
	case ev := <-sub.C():
		if ev.Kind != events.KindUserMessage {
			t.Fatalf("expected a UserMessage event first, got %v", ev.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for an event on the shared bus")
	}
	r, _ := sv.Runner("mission-1")
	waitForCompletion(t, r)
}

func TestSupervisorDestroyRemovesAndFinishesRunner(t *testing.T) {
	sv, _ := newTestSupervisor()
	sv.PostMessage("mission-1", "msg1", "hello", "")
	r, _ := sv.Runner("mission-1")
	waitForCompletion(t, r)

	sv.Destroy("mission-1")
	if r.State() != StateFinished {
		t.Fatalf("expected Finished after destroy, got %v", r.State())
	}
	if _, ok := sv.Runner("mission-1"); ok {
		t.Fatal("expected the runner to be removed from the supervisor")
	}
}

var _ backend.Driver = (*fakeDriver)(nil)
