// Package errors provides predefined sentinel errors for common failure cases.
package errors

// Container lifecycle errors.
var (
	// ErrContainerNotFound indicates the container does not exist.
	ErrContainerNotFound = &ContainerError{
		Kind:   ErrNotFound,
		Detail: "container not found",
	}

	// ErrContainerExists indicates the container already exists.
	ErrContainerExists = &ContainerError{
		Kind:   ErrAlreadyExists,
		Detail: "container already exists",
	}

	// ErrContainerNotRunning indicates the container is not in running state.
	ErrContainerNotRunning = &ContainerError{
		Kind:   ErrBadState,
		Detail: "container is not running",
	}

	// ErrContainerNotCreated indicates the container is not in created state.
	ErrContainerNotCreated = &ContainerError{
		Kind:   ErrBadState,
		Detail: "container is not in created state",
	}

	// ErrEmptyContainerID indicates the container ID is empty.
	ErrEmptyContainerID = &ContainerError{
		Kind:   ErrInvalidArgs,
		Detail: "container ID cannot be empty",
	}

	// ErrInvalidContainerID indicates the container ID is malformed or
	// attempts path traversal.
	ErrInvalidContainerID = &ContainerError{
		Kind:   ErrInvalidArgs,
		Detail: "invalid container ID",
	}
)

// Configuration and validation errors.
var (
	// ErrMissingSpec indicates the config.json is missing.
	ErrMissingSpec = &ContainerError{
		Kind:   ErrSpecInvalid,
		Detail: "config.json not found",
	}

	// ErrInvalidSpec indicates the spec is invalid.
	ErrInvalidSpec = &ContainerError{
		Kind:   ErrSpecInvalid,
		Detail: "invalid OCI spec",
	}

	// ErrMissingRootfs indicates the rootfs is missing.
	ErrMissingRootfs = &ContainerError{
		Kind:   ErrSpecInvalid,
		Detail: "rootfs not found",
	}

	// ErrNoProcessArgs indicates no process arguments were specified.
	ErrNoProcessArgs = &ContainerError{
		Kind:   ErrSpecInvalid,
		Detail: "no process arguments specified",
	}
)

// Kernel-facing errors.
var (
	// ErrNamespaceSetup indicates a namespace setup or join error.
	ErrNamespaceSetup = &ContainerError{
		Kind:   ErrSyscallFailed,
		Detail: "failed to setup namespace",
	}

	// ErrCgroupSetup indicates a cgroup setup error.
	ErrCgroupSetup = &ContainerError{
		Kind:   ErrSyscallFailed,
		Detail: "failed to setup cgroup",
	}

	// ErrRootfsSetup indicates a rootfs setup error.
	ErrRootfsSetup = &ContainerError{
		Kind:   ErrSyscallFailed,
		Detail: "failed to setup rootfs",
	}

	// ErrPivotRoot indicates a pivot_root error.
	ErrPivotRoot = &ContainerError{
		Kind:   ErrSyscallFailed,
		Detail: "failed to pivot_root",
	}
)

// Process spawn errors.
var (
	// ErrChildNotReady indicates the child did not send the zero readiness
	// byte during the init handshake.
	ErrChildNotReady = &ContainerError{
		Kind:   ErrChildInitFailed,
		Detail: "child process failed to signal readiness",
	}

	// ErrVMUnsupported indicates vm mode was requested of the container backend.
	ErrVMUnsupported = &ContainerError{
		Kind:   ErrRuntimeUnsupported,
		Detail: "vm mode is not supported by this backend",
	}
)
