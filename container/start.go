package container

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"

	cerrors "github.com/nk-runtime/nk/errors"
	"github.com/nk-runtime/nk/hooks"
	"github.com/nk-runtime/nk/logging"
	"github.com/nk-runtime/nk/spec"
)

// StartOptions carries the start operation's inputs.
type StartOptions struct {
	// Attach waits for the init process to exit and returns its exit code.
	// A detached start returns as soon as the child signals readiness.
	Attach bool

	// PidFile is written with the init process's decimal pid once start
	// succeeds, if non-empty.
	PidFile string
}

// Start implements spec.md §4.6's start(id, attach): it requires the record
// be in the created state, refuses vm mode, spawns the init process via the
// Process Module, and either returns immediately (detached) or waits for the
// child to exit and returns its translated exit code (attached).
func (c *Container) Start(ctx context.Context, opts *StartOptions) (int, error) {
	select {
	case <-ctx.Done():
		return -1, ctx.Err()
	default:
	}

	if opts == nil {
		opts = &StartOptions{}
	}

	c.mu.RLock()
	status := c.Record.State
	mode := c.Record.Mode
	c.mu.RUnlock()

	if mode == spec.ModeVM {
		return -1, cerrors.WrapWithContainer(nil, cerrors.ErrRuntimeUnsupported, "start", c.ID)
	}
	if status != spec.StatusCreated {
		return -1, cerrors.WrapWithDetail(nil, cerrors.ErrBadState, "start",
			fmt.Sprintf("container %q is not in created state (current: %s)", c.ID, status))
	}
	if c.Spec == nil {
		return -1, cerrors.WrapWithContainer(nil, cerrors.ErrSpecInvalid, "start", c.ID)
	}

	cmd, err := spawnInit(c)
	if err != nil {
		return -1, err
	}

	if err := attachCgroup(c, cmd.Process.Pid); err != nil {
		cmd.Process.Kill()
		cmd.Wait()
		return -1, err
	}

	c.mu.Lock()
	c.Record.State = spec.StatusRunning
	c.Record.InitPID = cmd.Process.Pid
	c.initCmd = cmd
	c.mu.Unlock()

	if err := c.SaveState(); err != nil {
		// The init process is already spawned and running; a failure to
		// persist the updated record is not grounds to report start as
		// failed, since the caller has a live container either way.
		logging.Warn("failed to persist running state", "container_id", c.ID, "error", err)
	}

	if opts.PidFile != "" {
		if err := os.WriteFile(opts.PidFile, []byte(strconv.Itoa(cmd.Process.Pid)), 0o644); err != nil {
			logging.Warn("failed to write pid file", "container_id", c.ID, "path", opts.PidFile, "error", err)
		}
	}

	if c.Spec.Hooks != nil {
		if err := hooks.Run(c.Spec.Hooks, hooks.Poststart, c.GetOCIState()); err != nil {
			logging.Warn("poststart hook failed", "container_id", c.ID, "error", err)
		}
	}

	if !opts.Attach {
		return 0, nil
	}

	return c.Wait(ctx)
}

// Run implements spec.md §4.6's run(opts): create followed by start.
// Attach defaults to true. RemoveAfter triggers a best-effort delete once
// the waited start completes, whether it succeeded or failed.
func (c *Container) Run(ctx context.Context, createOpts *CreateOptions, startOpts *StartOptions, removeAfter bool) (int, error) {
	if startOpts == nil {
		startOpts = &StartOptions{Attach: true}
	}
	if removeAfter && !startOpts.Attach {
		return -1, cerrors.WrapWithDetail(nil, cerrors.ErrInvalidArgs, "run", "--rm requires attached mode")
	}

	if err := c.Create(createOpts); err != nil {
		return -1, err
	}

	code, startErr := c.Start(ctx, startOpts)

	if removeAfter {
		if _, delErr := c.Delete(ctx, &DeleteOptions{Force: true}); delErr != nil {
			logging.Warn("run --rm: best-effort delete failed", "container_id", c.ID, "error", delErr)
		}
	}

	return code, startErr
}

// Wait waits for the container's init process to exit, translates its exit
// status, and persists the resulting stopped state. It only has a live
// process handle to wait on within the invocation that started the
// container: a separate "exec"/"state" invocation reconciles a stale
// "running" record by probing rather than waiting.
func (c *Container) Wait(ctx context.Context) (int, error) {
	c.mu.RLock()
	cmd := c.initCmd
	pid := c.Record.InitPID
	c.mu.RUnlock()

	if pid <= 0 {
		return -1, cerrors.WrapWithContainer(nil, cerrors.ErrBadState, "wait", c.ID)
	}

	type result struct {
		code int
		err  error
	}
	waitCh := make(chan result, 1)

	go func() {
		if cmd != nil {
			err := cmd.Wait()
			if err == nil {
				waitCh <- result{0, nil}
				return
			}
			var exitErr *exec.ExitError
			if ok := stderrors.As(err, &exitErr); ok {
				if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok {
					if ws.Signaled() {
						waitCh <- result{128 + int(ws.Signal()), nil}
						return
					}
					waitCh <- result{ws.ExitStatus(), nil}
					return
				}
				waitCh <- result{exitErr.ExitCode(), nil}
				return
			}
			waitCh <- result{-1, cerrors.Wrap(err, cerrors.ErrSyscallFailed, "wait")}
			return
		}

		var wstatus syscall.WaitStatus
		_, werr := syscall.Wait4(pid, &wstatus, 0, nil)
		if werr != nil {
			waitCh <- result{-1, cerrors.Wrap(werr, cerrors.ErrSyscallFailed, "wait4")}
			return
		}
		if wstatus.Exited() {
			waitCh <- result{wstatus.ExitStatus(), nil}
			return
		}
		if wstatus.Signaled() {
			waitCh <- result{128 + int(wstatus.Signal()), nil}
			return
		}
		waitCh <- result{-1, nil}
	}()

	select {
	case <-ctx.Done():
		return -1, ctx.Err()
	case r := <-waitCh:
		c.mu.Lock()
		c.Record.State = spec.StatusStopped
		c.Record.InitPID = 0
		c.initCmd = nil
		c.mu.Unlock()

		if saveErr := c.SaveState(); saveErr != nil {
			logging.Warn("wait: failed to save state", "container_id", c.ID, "error", saveErr)
		}

		return r.code, r.err
	}
}
