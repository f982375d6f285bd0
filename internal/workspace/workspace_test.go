package workspace

import (
	"context"
	"testing"
	"time"
)

func TestTranslatePathForContainerHost(t *testing.T) {
	ws := Workspace{ID: "w1", Container: false}
	if got := ws.TranslatePathForContainer("/home/user/project/file.go"); got != "/home/user/project/file.go" {
		t.Errorf("host workspace should not translate, got %q", got)
	}
}

func TestTranslatePathForContainerInside(t *testing.T) {
	ws := Workspace{
		ID:            "w1",
		Container:     true,
		HostRoot:      "/home/user/project",
		ContainerRoot: "/workspace",
	}
	got := ws.TranslatePathForContainer("/home/user/project/src/main.go")
	if want := "/workspace/src/main.go"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestTranslatePathForContainerRootItself(t *testing.T) {
	ws := Workspace{ID: "w1", Container: true, HostRoot: "/home/user/project", ContainerRoot: "/workspace"}
	if got := ws.TranslatePathForContainer("/home/user/project"); got != "/workspace" {
		t.Errorf("got %q, want /workspace", got)
	}
}

func TestTranslatePathForContainerOutsideRoot(t *testing.T) {
	ws := Workspace{ID: "w1", Container: true, HostRoot: "/home/user/project", ContainerRoot: "/workspace"}
	path := "/etc/passwd"
	if got := ws.TranslatePathForContainer(path); got != path {
		t.Errorf("path outside HostRoot should pass through unchanged, got %q", got)
	}
}

func TestSpawnStreamingDeliversLines(t *testing.T) {
	ex := NewExecutor()
	ws := Workspace{ID: "w1"}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	handle, err := ex.SpawnStreaming(ctx, ws, "", "sh", []string{"-c", "echo one; echo two >&2; echo three"}, nil)
	if err != nil {
		t.Fatalf("SpawnStreaming: %v", err)
	}
	handle.Stdin.Close()

	var stdout, stderr []string
	stdoutDone, stderrDone := false, false
	for !stdoutDone || !stderrDone {
		select {
		case line, ok := <-handle.Stdout:
			if !ok {
				stdoutDone = true
				continue
			}
			stdout = append(stdout, line)
		case line, ok := <-handle.Stderr:
			if !ok {
				stderrDone = true
				continue
			}
			stderr = append(stderr, line)
		case <-time.After(4 * time.Second):
			t.Fatal("timed out waiting for output")
		}
	}

	if err := handle.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(stdout) != 2 || stdout[0] != "one" || stdout[1] != "three" {
		t.Errorf("unexpected stdout: %v", stdout)
	}
	if len(stderr) != 1 || stderr[0] != "two" {
		t.Errorf("unexpected stderr: %v", stderr)
	}
}

func TestSpawnStreamingKill(t *testing.T) {
	ex := NewExecutor()
	ws := Workspace{ID: "w1"}
	ctx := context.Background()

	handle, err := ex.SpawnStreaming(ctx, ws, "", "sleep", []string{"30"}, nil)
	if err != nil {
		t.Fatalf("SpawnStreaming: %v", err)
	}
	if err := handle.Kill(); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	if err := handle.Wait(); err == nil {
		t.Error("expected Wait to report an error after Kill")
	}
}

func TestOutputCollectsStreamsAndExitCode(t *testing.T) {
	ex := NewExecutor()
	ws := Workspace{ID: "w1"}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out, err := ex.Output(ctx, ws, "", "sh", []string{"-c", "echo hi; echo bye >&2; exit 3"}, nil)
	if err != nil {
		t.Fatalf("Output: %v", err)
	}
	if out.Stdout != "hi\n" {
		t.Errorf("stdout = %q", out.Stdout)
	}
	if out.Stderr != "bye\n" {
		t.Errorf("stderr = %q", out.Stderr)
	}
	if out.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", out.ExitCode)
	}
}

func TestOutputWorkingDir(t *testing.T) {
	ex := NewExecutor()
	ws := Workspace{ID: "w1"}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out, err := ex.Output(ctx, ws, "/tmp", "pwd", nil, nil)
	if err != nil {
		t.Fatalf("Output: %v", err)
	}
	if out.ExitCode != 0 {
		t.Fatalf("unexpected exit code %d, stderr=%q", out.ExitCode, out.Stderr)
	}
}
