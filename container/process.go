package container

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	cerrors "github.com/nk-runtime/nk/errors"
	"github.com/nk-runtime/nk/linux"
	"github.com/nk-runtime/nk/logging"
	"github.com/nk-runtime/nk/utils"
)

// envInitBundle etc. carry the parameters the re-exec'd "nk init" process
// needs across the clone+exec boundary: Go's runtime cannot safely run
// forked Go code in a multithreaded process, so there is no "child path"
// closure to carry these as captured variables; they travel as environment
// strings instead.
const (
	envInitBundle = "_NK_INIT_BUNDLE"
	envInitID     = "_NK_INIT_ID"
)

// spawnInit implements the Process Module's spawn protocol (spec.md §4.5):
// it re-execs the current binary as "nk init" with a clone-flag bitmask
// computed from the spec's namespace requests, hands the child one end of a
// readiness pipe, and blocks on the other end until the child either signals
// ready (a zero byte) or reports a failure message over the same pipe.
func spawnInit(c *Container) (*exec.Cmd, error) {
	ctx := context.Background()
	self, err := os.Executable()
	if err != nil {
		return nil, cerrors.Wrap(err, cerrors.ErrSyscallFailed, "resolve self executable")
	}

	logging.ExplainOp(ctx, "creating readiness pipe",
		"the child reports setup success, or a failure message, over it before the record is marked running")
	sp, err := utils.NewSyncPipe()
	if err != nil {
		return nil, cerrors.Wrap(err, cerrors.ErrSyscallFailed, "create readiness pipe")
	}
	defer sp.CloseParent()

	logging.ExplainOp(ctx, "computing clone flags",
		"each spec namespace without a path becomes a CLONE_NEW* flag, so the child starts in fresh namespaces")
	sysProcAttr, err := linux.BuildSysProcAttr(c.Spec)
	if err != nil {
		sp.CloseChild()
		return nil, cerrors.Wrap(err, cerrors.ErrSyscallFailed, "compute clone flags")
	}

	logging.ExplainOp(ctx, "building the re-exec command",
		"Go cannot run code between fork and exec, so the child-side setup runs in a fresh \"nk init\" process")
	cmd := exec.Command(self, "init")
	cmd.Dir = c.Bundle
	cmd.SysProcAttr = sysProcAttr
	cmd.ExtraFiles = []*os.File{sp.ChildFile()}
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("%s=%s", envInitBundle, c.Bundle),
		fmt.Sprintf("%s=%s", envInitID, c.ID),
	)

	if c.Spec.Process != nil && c.Spec.Process.Terminal {
		cmd.Stdin = os.Stdin
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	} else {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}

	logging.Info("spawning init process", "bundle", c.Bundle, "container_id", c.ID)

	if err := cmd.Start(); err != nil {
		sp.CloseChild()
		return nil, cerrors.Wrap(err, cerrors.ErrSyscallFailed, "clone init process")
	}
	sp.CloseChild()

	if err := sp.WaitWithError(); err != nil {
		cmd.Process.Kill()
		cmd.Wait()
		return nil, cerrors.WrapWithDetail(err, cerrors.ErrChildInitFailed, "wait for readiness",
			"init process did not signal readiness")
	}

	return cmd, nil
}

// attachCgroup creates (if needed) and attaches pid to the container's
// cgroup. Start calls it unconditionally once spawnInit has returned, that
// is after the child has signalled readiness: until then the child runs
// its setup in the caller's cgroup, outside the container's limits.
func attachCgroup(c *Container, pid int) error {
	if !linux.IsCgroupV2() {
		logging.Warn("cgroup v2 not available, skipping cgroup setup", "container_id", c.ID)
		return nil
	}

	cgroupPath := c.cgroupPath()
	cgroup, err := linux.NewContainerCgroup(c.ID)
	if err != nil {
		// fall back to a direct path in case the spec supplied an absolute
		// CgroupsPath outside the runtime's fixed parent.
		cgroup, err = linux.NewCgroup(cgroupPath)
		if err != nil {
			return cerrors.Wrap(err, cerrors.ErrSyscallFailed, "create cgroup")
		}
	}

	if c.Spec.Linux != nil && c.Spec.Linux.Resources != nil {
		if err := cgroup.ApplyResources(c.Spec.Linux.Resources); err != nil {
			logging.Warn("apply cgroup resources failed", "container_id", c.ID, "error", err)
		}
	}

	if err := cgroup.AddProcess(pid); err != nil {
		return cerrors.Wrap(err, cerrors.ErrSyscallFailed, "attach process to cgroup")
	}
	return nil
}

// destroyCgroup performs the cgroup cleanup operation: move the surviving
// process (if any) back to the root cgroup, then remove the subtree.
// Missing subtree is not an error.
func destroyCgroup(c *Container) {
	cgroup, err := linux.NewCgroup(c.cgroupPath())
	if err != nil {
		return
	}
	if procs, err := os.ReadFile(filepath.Join(cgroup.Path(), "cgroup.procs")); err == nil {
		for _, pid := range strings.Fields(string(procs)) {
			os.WriteFile("/sys/fs/cgroup/cgroup.procs", []byte(pid), 0o644)
		}
	}
	if err := cgroup.Destroy(); err != nil {
		logging.Warn("cgroup cleanup failed", "container_id", c.ID, "error", err)
	}
}
