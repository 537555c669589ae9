package container

import (
	"context"
	"os"
	"path/filepath"
	"syscall"
	"time"

	cerrors "github.com/nk-runtime/nk/errors"
	"github.com/nk-runtime/nk/hooks"
	"github.com/nk-runtime/nk/logging"
	"github.com/nk-runtime/nk/spec"
)

// DeleteOptions carries the delete operation's inputs. Force is accepted for
// CLI compatibility with tooling that expects the flag, but spec.md §4.6
// always attempts the graceful-then-kill sequence on a running container
// regardless of its value.
type DeleteOptions struct {
	Force bool
}

// Delete implements spec.md §4.6's delete(id): if the record shows a live
// init process, it sends the graceful-termination signal, waits a 100ms
// grace window, and kills if the process is still alive. It then tears down
// the cgroup subtree and removes the state record. Signal and cgroup
// failures are warnings; record removal failure is the only error returned.
func (c *Container) Delete(ctx context.Context, opts *DeleteOptions) (bool, error) {
	if opts == nil {
		opts = &DeleteOptions{}
	}

	c.mu.RLock()
	state := c.Record.State
	pid := c.Record.InitPID
	c.mu.RUnlock()

	if state == spec.StatusRunning && pid > 0 {
		if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
			logging.Warn("delete: graceful signal failed", "container_id", c.ID, "error", err)
		}

		select {
		case <-time.After(100 * time.Millisecond):
		case <-ctx.Done():
		}

		if syscall.Kill(pid, 0) == nil {
			if err := syscall.Kill(pid, syscall.SIGKILL); err != nil {
				logging.Warn("delete: kill signal failed", "container_id", c.ID, "error", err)
			}
		}
	}

	destroyCgroup(c)

	if c.Spec != nil && c.Spec.Hooks != nil {
		if err := hooks.Run(c.Spec.Hooks, hooks.Poststop, c.GetOCIState()); err != nil {
			logging.Warn("poststop hook failed", "container_id", c.ID, "error", err)
		}
	}

	if err := spec.DeleteRecord(c.StateRoot, c.ID); err != nil && !os.IsNotExist(err) {
		return false, cerrors.WrapWithContainer(err, cerrors.ErrSyscallFailed, "delete", c.ID)
	}

	return true, nil
}

// Cleanup removes state directories for containers that fail to load (for
// example left behind by a crashed invocation that never finished writing a
// record) and for containers whose init process is no longer alive.
func Cleanup(ctx context.Context, stateRoot string) error {
	stateRoot = ResolveStateRoot(stateRoot)

	entries, err := os.ReadDir(stateRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if !entry.IsDir() {
			continue
		}

		c, err := Load(ctx, entry.Name(), stateRoot)
		if err != nil {
			os.RemoveAll(filepath.Join(stateRoot, entry.Name()))
			continue
		}

		c.RefreshStatus()
		if c.Record.State == spec.StatusStopped {
			c.Delete(ctx, &DeleteOptions{Force: true})
		}
	}

	return nil
}
