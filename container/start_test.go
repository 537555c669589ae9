package container

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/nk-runtime/nk/spec"
)

func TestStart_RequiresCreatedState(t *testing.T) {
	cases := []spec.Status{spec.StatusRunning, spec.StatusStopped}

	for _, status := range cases {
		t.Run(string(status), func(t *testing.T) {
			bundleDir := writeTestBundle(t)
			c, err := New(context.Background(), "not-created", bundleDir, t.TempDir())
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}
			c.Record.State = status

			if _, err := c.Start(context.Background(), nil); err == nil {
				t.Errorf("expected error starting a container in state %s", status)
			}
		})
	}
}

func TestStart_RefusesVMMode(t *testing.T) {
	bundleDir := writeTestBundle(t)
	c, err := New(context.Background(), "vm-mode", bundleDir, t.TempDir())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	c.Record.Mode = spec.ModeVM

	if _, err := c.Start(context.Background(), nil); err == nil {
		t.Fatal("expected error starting a vm-mode container")
	}
}

func TestStart_ContextCancellation(t *testing.T) {
	bundleDir := writeTestBundle(t)
	c, err := New(context.Background(), "cancelled", bundleDir, t.TempDir())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.Start(ctx, nil); err == nil {
		t.Fatal("expected error from a pre-cancelled context")
	}
}

func TestStart_RequiresSpec(t *testing.T) {
	c := &Container{
		ID:        "no-spec",
		StateRoot: t.TempDir(),
		Record: &spec.Record{
			ID:    "no-spec",
			State: spec.StatusCreated,
		},
	}

	if _, err := c.Start(context.Background(), nil); err == nil {
		t.Fatal("expected error starting a container with no loaded spec")
	}
}

func TestRun_RmRequiresAttach(t *testing.T) {
	bundleDir := writeTestBundle(t)
	c, err := New(context.Background(), "rm-detach", bundleDir, t.TempDir())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	_, err = c.Run(context.Background(), nil, &StartOptions{Attach: false}, true)
	if err == nil {
		t.Fatal("expected error combining --rm with a detached start")
	}
}

func TestWait_RequiresLivePID(t *testing.T) {
	bundleDir := writeTestBundle(t)
	c, err := New(context.Background(), "no-pid", bundleDir, t.TempDir())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if _, err := c.Wait(context.Background()); err == nil {
		t.Fatal("expected error waiting on a container with no init pid")
	}
}

func TestWait_ContextCancellation(t *testing.T) {
	bundleDir := writeTestBundle(t)
	stateRoot := t.TempDir()
	c, err := New(context.Background(), "wait-cancel", bundleDir, stateRoot)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := c.Create(nil); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// A long-lived child of this test with no exec.Cmd handle on the
	// container: Wait falls back to syscall.Wait4, which blocks until the
	// child exits, so the context deadline is what has to fire.
	sleeper := exec.Command("sleep", "10")
	if err := sleeper.Start(); err != nil {
		t.Fatalf("start sleeper: %v", err)
	}
	defer sleeper.Process.Kill()
	c.Record.InitPID = sleeper.Process.Pid

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := c.Wait(ctx); err == nil {
		t.Fatal("expected context deadline error")
	}
}

func TestPidFile_RoundTrip(t *testing.T) {
	// Start writes the pid file only after spawnInit succeeds, which needs
	// namespace privileges a test process lacks, so Start is not called
	// here: this only round-trips a decimal pid through a file.
	bundleDir := writeTestBundle(t)
	stateRoot := t.TempDir()
	c, err := New(context.Background(), "pidfile", bundleDir, stateRoot)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := c.Create(nil); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	pidFile := filepath.Join(stateRoot, "pid")
	c.Record.State = spec.StatusRunning
	c.Record.InitPID = os.Getpid()
	if err := os.WriteFile(pidFile, []byte("1234"), 0o644); err != nil {
		t.Fatalf("write pid file: %v", err)
	}

	data, err := os.ReadFile(pidFile)
	if err != nil {
		t.Fatalf("read pid file: %v", err)
	}
	if string(data) != "1234" {
		t.Errorf("unexpected pid file content: %s", data)
	}
}
