// Package spec is the Spec Provider: it reads and validates an OCI bundle's
// config.json and produces a normalised in-memory spec for the rest of the
// runtime to consume.
package spec

import (
	"encoding/json"
	"fmt"
	"os"

	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// Version is the OCI Runtime Specification version this implementation targets.
const Version = "1.0.2"

// Spec is the bundle configuration document. It is a direct alias of the
// official OCI runtime-spec type rather than a hand-rolled reimplementation.
type Spec = specs.Spec

// Re-exported aliases for the subset of the OCI type tree the rest of the
// runtime names directly.
type (
	Process            = specs.Process
	Box                = specs.Box
	User               = specs.User
	LinuxCapabilities  = specs.LinuxCapabilities
	POSIXRlimit        = specs.POSIXRlimit
	Root               = specs.Root
	Mount              = specs.Mount
	Hook               = specs.Hook
	Hooks              = specs.Hooks
	Linux              = specs.Linux
	LinuxIDMapping     = specs.LinuxIDMapping
	LinuxNamespace     = specs.LinuxNamespace
	LinuxNamespaceType = specs.LinuxNamespaceType
	LinuxDevice        = specs.LinuxDevice
	LinuxDeviceCgroup  = specs.LinuxDeviceCgroup
	LinuxResources     = specs.LinuxResources
	LinuxCPU           = specs.LinuxCPU
	LinuxMemory        = specs.LinuxMemory
	LinuxPids          = specs.LinuxPids
	State              = specs.State
)

// Namespace type constants, re-exported for call sites that used to import
// the hand-rolled enum.
const (
	PIDNamespace     = specs.PIDNamespace
	NetworkNamespace = specs.NetworkNamespace
	MountNamespace   = specs.MountNamespace
	IPCNamespace     = specs.IPCNamespace
	UTSNamespace     = specs.UTSNamespace
	UserNamespace    = specs.UserNamespace
	CgroupNamespace  = specs.CgroupNamespace
)

// LoadSpec loads and parses an OCI spec from a bundle's config.json.
func LoadSpec(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var s Spec
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &s, nil
}

// SaveSpec saves a spec document to the given path.
func SaveSpec(s *Spec, path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate enforces the minimum required shape described for the bundle
// configuration document: a non-null spec, a root path, and a non-empty
// argument vector.
func Validate(s *Spec) error {
	if s == nil {
		return fmt.Errorf("spec is nil")
	}
	if s.Root == nil || s.Root.Path == "" {
		return fmt.Errorf("spec.root.path is required")
	}
	if s.Process == nil || len(s.Process.Args) == 0 {
		return fmt.Errorf("spec.process.args must be a non-empty array")
	}
	return nil
}

// DefaultSpec returns a minimal default OCI spec suitable for a plain shell
// container, used by `nk spec` to scaffold a new bundle.
func DefaultSpec() *Spec {
	return &Spec{
		Version: Version,
		Root:    &Root{Path: "rootfs", Readonly: false},
		Process: &Process{
			Terminal: true,
			User:     User{UID: 0, GID: 0},
			Args:     []string{"/bin/sh"},
			Env: []string{
				"PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin",
				"TERM=xterm",
			},
			Cwd:             "/",
			NoNewPrivileges: true,
			Capabilities: &LinuxCapabilities{
				Bounding:  defaultCapabilities(),
				Effective: defaultCapabilities(),
				Permitted: defaultCapabilities(),
			},
		},
		Hostname: "container",
		Mounts: []Mount{
			{Destination: "/proc", Type: "proc", Source: "proc"},
			{Destination: "/dev", Type: "tmpfs", Source: "tmpfs", Options: []string{"nosuid", "strictatime", "mode=755"}},
			{Destination: "/dev/pts", Type: "devpts", Source: "devpts", Options: []string{"nosuid", "noexec"}},
			{Destination: "/dev/shm", Type: "tmpfs", Source: "shm", Options: []string{"nosuid", "nodev"}},
			{Destination: "/dev/mqueue", Type: "mqueue", Source: "mqueue", Options: []string{"nosuid", "nodev"}},
			{Destination: "/sys", Type: "sysfs", Source: "sysfs", Options: []string{"nosuid", "noexec", "nodev", "ro"}},
		},
		Linux: &Linux{
			Namespaces: []LinuxNamespace{
				{Type: PIDNamespace},
				{Type: NetworkNamespace},
				{Type: IPCNamespace},
				{Type: UTSNamespace},
				{Type: MountNamespace},
			},
		},
	}
}

func defaultCapabilities() []string {
	return []string{
		"CAP_CHOWN", "CAP_DAC_OVERRIDE", "CAP_FSETID", "CAP_FOWNER", "CAP_MKNOD",
		"CAP_NET_RAW", "CAP_SETGID", "CAP_SETUID", "CAP_SETFCAP", "CAP_SETPCAP",
		"CAP_NET_BIND_SERVICE", "CAP_SYS_CHROOT", "CAP_KILL", "CAP_AUDIT_WRITE",
	}
}
