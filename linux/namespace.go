// Package linux provides Linux-specific container primitives: namespace
// setup, cgroup resource control, capability dropping, device nodes, and
// rootfs isolation.
package linux

import (
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/nk-runtime/nk/spec"
)

// Linux namespace clone flags. CLONE_NEWCGROUP is written out as its
// kernel UAPI value.
const (
	CLONE_NEWNS     = syscall.CLONE_NEWNS
	CLONE_NEWUTS    = syscall.CLONE_NEWUTS
	CLONE_NEWIPC    = syscall.CLONE_NEWIPC
	CLONE_NEWPID    = syscall.CLONE_NEWPID
	CLONE_NEWNET    = syscall.CLONE_NEWNET
	CLONE_NEWUSER   = syscall.CLONE_NEWUSER
	CLONE_NEWCGROUP = 0x02000000
)

// namespaceTypeToFlag maps OCI namespace types to clone flags.
var namespaceTypeToFlag = map[spec.LinuxNamespaceType]uintptr{
	spec.PIDNamespace:     CLONE_NEWPID,
	spec.NetworkNamespace: CLONE_NEWNET,
	spec.MountNamespace:   CLONE_NEWNS,
	spec.IPCNamespace:     CLONE_NEWIPC,
	spec.UTSNamespace:     CLONE_NEWUTS,
	spec.UserNamespace:    CLONE_NEWUSER,
	spec.CgroupNamespace:  CLONE_NEWCGROUP,
}

// NamespaceFlags builds clone flags from the namespaces that have no path,
// i.e. the ones the runtime must create rather than join.
func NamespaceFlags(namespaces []spec.LinuxNamespace) uintptr {
	var flags uintptr
	for _, ns := range namespaces {
		if ns.Path == "" {
			if flag, ok := namespaceTypeToFlag[ns.Type]; ok {
				flags |= flag
			}
		}
	}
	return flags
}

// HasNamespace checks if a namespace type is in the list.
func HasNamespace(namespaces []spec.LinuxNamespace, nsType spec.LinuxNamespaceType) bool {
	for _, ns := range namespaces {
		if ns.Type == nsType {
			return true
		}
	}
	return false
}

// JoinNamespaces joins every path-based namespace in the list via setns(2).
// It is called from inside the freshly-execed init process, before the
// container's entrypoint runs.
func JoinNamespaces(namespaces []spec.LinuxNamespace) error {
	for _, ns := range namespaces {
		if ns.Path != "" {
			if err := joinNamespace(ns.Path, ns.Type); err != nil {
				return fmt.Errorf("setns %s (%s): %w", ns.Type, ns.Path, err)
			}
		}
	}
	return nil
}

func joinNamespace(path string, nsType spec.LinuxNamespaceType) error {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer unix.Close(fd)

	flag := int(namespaceTypeToFlag[nsType])
	return unix.Setns(fd, flag)
}

// BuildSysProcAttr derives a SysProcAttr (clone flags, UID/GID mappings) from
// the spec's namespace configuration, for use by the Process Module when it
// re-execs itself into a fresh set of namespaces.
func BuildSysProcAttr(s *spec.Spec) (*syscall.SysProcAttr, error) {
	if s.Linux == nil {
		return &syscall.SysProcAttr{
			Cloneflags: CLONE_NEWPID | CLONE_NEWNS | CLONE_NEWUTS | CLONE_NEWIPC | CLONE_NEWNET,
			Setsid:     true,
		}, nil
	}

	flags := NamespaceFlags(s.Linux.Namespaces)
	hasUserNS := HasNamespace(s.Linux.Namespaces, spec.UserNamespace)

	attr := &syscall.SysProcAttr{
		Cloneflags: flags,
		Setsid:     true,
	}

	// Unshareflags with a user namespace present causes EPERM.
	if !hasUserNS {
		attr.Unshareflags = syscall.CLONE_NEWNS
	}

	if hasUserNS {
		attr.UidMappings = buildIDMappings(s.Linux.UIDMappings)
		attr.GidMappings = buildIDMappings(s.Linux.GIDMappings)
		attr.GidMappingsEnableSetgroups = false
	}

	return attr, nil
}

// buildIDMappings converts OCI ID mappings to syscall format.
func buildIDMappings(mappings []spec.LinuxIDMapping) []syscall.SysProcIDMap {
	result := make([]syscall.SysProcIDMap, len(mappings))
	for i, m := range mappings {
		result[i] = syscall.SysProcIDMap{
			ContainerID: int(m.ContainerID),
			HostID:      int(m.HostID),
			Size:        int(m.Size),
		}
	}
	return result
}

// SetHostname sets the hostname in the UTS namespace.
func SetHostname(hostname string) error {
	if hostname == "" {
		return nil
	}
	return unix.Sethostname([]byte(hostname))
}
