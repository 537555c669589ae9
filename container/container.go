// Package container implements the Lifecycle Controller: it loads and
// persists container records, and drives the create/start/run/exec/delete/
// state operations described by the runtime's component design.
package container

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sync"
	"syscall"

	cerrors "github.com/nk-runtime/nk/errors"
	"github.com/nk-runtime/nk/linux"
	"github.com/nk-runtime/nk/logging"
	"github.com/nk-runtime/nk/spec"
)

// containerIDRegex defines the valid container ID format: alphanumeric with
// dashes/underscores/dots, no path separators or special characters.
var containerIDRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

// ValidateContainerID checks that a container ID is safe to use as a path
// component under the state directory.
func ValidateContainerID(id string) error {
	if id == "" {
		return cerrors.ErrEmptyContainerID
	}
	if len(id) > 1024 {
		return cerrors.WrapWithDetail(nil, cerrors.ErrInvalidArgs, "validate",
			fmt.Sprintf("container ID too long (max 1024 characters): %d", len(id)))
	}
	if id == "." || id == ".." || filepath.Clean(id) != id || !containerIDRegex.MatchString(id) {
		return cerrors.WrapWithDetail(nil, cerrors.ErrInvalidArgs, "validate",
			fmt.Sprintf("container ID %q is not a valid identifier", id))
	}
	return nil
}

const (
	// ExecFifoName is unused by this runtime's create/start protocol (which
	// uses the Process Module's readiness pipe instead of a FIFO rendezvous)
	// but kept as the conventional OCI bundle-adjacent artifact name for
	// tooling that inspects the state directory.
	ExecFifoName = "exec.fifo"
)

// Container is the in-memory view of a container record plus its loaded
// spec, used by every lifecycle operation.
type Container struct {
	mu sync.RWMutex

	// ID is the container's unique identifier.
	ID string

	// Bundle is the absolute path to the container's OCI bundle.
	Bundle string

	// StateRoot is the state directory this container's record lives under.
	StateRoot string

	// Record is the State Store's persisted record for this container.
	Record *spec.Record

	// Spec is the loaded OCI runtime spec, if available.
	Spec *spec.Spec

	// initCmd is the running init process handle, valid only for the
	// lifetime of an attached start/run within this invocation: a detached
	// start has no live handle to wait on, since the init process outlives
	// this process.
	initCmd *exec.Cmd
}

// ResolveStateRoot implements the State Store's directory selection order
// (spec.md §4.1): an explicit environment override; when running as the
// superuser, a fixed system-wide directory; otherwise a directory under the
// caller's home directory; otherwise a relative fallback.
func ResolveStateRoot(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if v := os.Getenv("NS_RUN_DIR"); v != "" {
		return v
	}
	if v := os.Getenv("NK_RUN_DIR"); v != "" {
		return v
	}
	if os.Geteuid() == 0 {
		return "/run/nk"
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, ".nk", "run")
	}
	return ".nk-run"
}

// New validates a new container's identity and bundle, without persisting
// anything: the create operation performs the actual record save so that a
// caller who never calls Create leaves no trace (spec.md §7 propagation
// policy).
func New(ctx context.Context, id, bundle, stateRoot string) (*Container, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	if err := ValidateContainerID(id); err != nil {
		return nil, err
	}

	stateRoot = ResolveStateRoot(stateRoot)

	bundle, err := filepath.Abs(bundle)
	if err != nil {
		return nil, cerrors.Wrap(err, cerrors.ErrInvalidArgs, "resolve bundle path")
	}

	if spec.RecordExists(stateRoot, id) {
		return nil, cerrors.WrapWithContainer(nil, cerrors.ErrAlreadyExists, "create", id)
	}

	specPath := filepath.Join(bundle, "config.json")
	s, err := spec.LoadSpec(specPath)
	if err != nil {
		return nil, cerrors.Wrap(err, cerrors.ErrSpecInvalid, "load spec")
	}
	if err := spec.Validate(s); err != nil {
		return nil, cerrors.WrapWithDetail(err, cerrors.ErrSpecInvalid, "validate spec", err.Error())
	}

	return &Container{
		ID:        id,
		Bundle:    bundle,
		StateRoot: stateRoot,
		Spec:      s,
		Record: &spec.Record{
			ID:         id,
			BundlePath: bundle,
			State:      spec.StatusCreated,
			Mode:       spec.ModeContainer,
		},
	}, nil
}

// Load loads an existing container's record by ID, and its spec on a
// best-effort basis (a missing spec is logged but not fatal: state/kill/
// delete don't need it).
func Load(ctx context.Context, id, stateRoot string) (*Container, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	if err := ValidateContainerID(id); err != nil {
		return nil, err
	}

	stateRoot = ResolveStateRoot(stateRoot)

	record, err := spec.LoadRecord(stateRoot, id)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, cerrors.WrapWithContainer(err, cerrors.ErrNotFound, "load", id)
		}
		return nil, cerrors.WrapWithContainer(err, cerrors.ErrSyscallFailed, "load state", id)
	}

	c := &Container{
		ID:        id,
		Bundle:    record.BundlePath,
		StateRoot: stateRoot,
		Record:    record,
	}

	specPath := filepath.Join(record.BundlePath, "config.json")
	if s, err := spec.LoadSpec(specPath); err != nil {
		logging.WarnContext(ctx, "could not load spec", "container_id", id, "path", specPath, "error", err)
	} else {
		c.Spec = s
	}

	return c, nil
}

// List returns every container record found under the state directory.
func List(ctx context.Context, stateRoot string) ([]*Container, error) {
	stateRoot = ResolveStateRoot(stateRoot)

	entries, err := os.ReadDir(stateRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var containers []*Container
	for _, entry := range entries {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		if !entry.IsDir() {
			continue
		}
		c, err := Load(ctx, entry.Name(), stateRoot)
		if err != nil {
			continue
		}
		c.RefreshStatus()
		containers = append(containers, c)
	}

	return containers, nil
}

// SaveState persists the container's record atomically.
func (c *Container) SaveState() error {
	c.mu.RLock()
	recordCopy := *c.Record
	stateRoot := c.StateRoot
	c.mu.RUnlock()
	return recordCopy.Save(stateRoot)
}

// GetOCIState returns the OCI "state" command output document.
func (c *Container) GetOCIState() *spec.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Record.ToOCIState()
}

// IsRunning reports whether the init process is alive by probing with
// signal 0.
func (c *Container) IsRunning() bool {
	c.mu.RLock()
	pid := c.Record.InitPID
	c.mu.RUnlock()

	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}

// RefreshStatus reconciles a recorded "running" status against the actual
// process state (a dead init moves the record to "stopped"; other statuses
// are left as they are), without persisting the change: callers that
// need the reconciliation durable call SaveState themselves.
func (c *Container) RefreshStatus() {
	isRunning := c.IsRunning()

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.Record.State {
	case spec.StatusRunning:
		if !isRunning {
			c.Record.State = spec.StatusStopped
		}
	}
}

// Signal sends a signal to the container's init process.
func (c *Container) Signal(sig syscall.Signal) error {
	c.mu.RLock()
	pid := c.Record.InitPID
	id := c.ID
	c.mu.RUnlock()

	if pid <= 0 {
		return cerrors.WrapWithContainer(nil, cerrors.ErrBadState, "signal", id)
	}
	if err := syscall.Kill(pid, sig); err != nil {
		return cerrors.WrapWithContainer(err, cerrors.ErrSyscallFailed, "signal", id)
	}
	return nil
}

// SignalAll sends a signal to the init process's entire process group.
func (c *Container) SignalAll(sig syscall.Signal) error {
	c.mu.RLock()
	pid := c.Record.InitPID
	id := c.ID
	c.mu.RUnlock()

	if pid <= 0 {
		return cerrors.WrapWithContainer(nil, cerrors.ErrBadState, "signal all", id)
	}
	if err := syscall.Kill(-pid, sig); err != nil {
		return cerrors.WrapWithContainer(err, cerrors.ErrSyscallFailed, "signal all", id)
	}
	return nil
}

// cgroupPath returns the cgroup path this container's resources were (or
// would be) placed under.
func (c *Container) cgroupPath() string {
	specPath := ""
	if c.Spec != nil && c.Spec.Linux != nil {
		specPath = c.Spec.Linux.CgroupsPath
	}
	return linux.GetCgroupPath(c.ID, specPath)
}
