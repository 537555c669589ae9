package container

import (
	cerrors "github.com/nk-runtime/nk/errors"
	"github.com/nk-runtime/nk/hooks"
	"github.com/nk-runtime/nk/logging"
)

// CreateOptions carries the create operation's inputs.
type CreateOptions struct {
	// PidFile is the path to write the container's init PID to once it is
	// running (written by start/run, not by create itself).
	PidFile string

	// ConsoleSocket is accepted but not used: neither create nor start sends
	// a console file descriptor for the init process.
	ConsoleSocket string
}

// Create persists a new "created" record for the container. It does not
// spawn any process: spec.md §4.6 assigns the actual clone to start, so
// that a create that never gets started leaves nothing running and a
// create that fails to validate or persist leaves no record behind at all.
func (c *Container) Create(opts *CreateOptions) error {
	if opts == nil {
		opts = &CreateOptions{}
	}

	if c.Spec == nil {
		return cerrors.WrapWithContainer(nil, cerrors.ErrSpecInvalid, "create", c.ID)
	}

	if c.Spec.Hooks != nil {
		if err := hooks.Run(c.Spec.Hooks, hooks.Prestart, c.Record.ToOCIState()); err != nil {
			return cerrors.WrapWithContainer(err, cerrors.ErrSyscallFailed, "prestart hook", c.ID)
		}
	}

	if err := c.Record.Save(c.StateRoot); err != nil {
		return cerrors.WrapWithContainer(err, cerrors.ErrSyscallFailed, "save state", c.ID)
	}

	if c.Spec.Hooks != nil {
		if err := hooks.Run(c.Spec.Hooks, hooks.CreateRuntime, c.Record.ToOCIState()); err != nil {
			logging.Warn("createRuntime hook failed", "container_id", c.ID, "error", err)
		}
	}

	return nil
}
