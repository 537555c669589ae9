// Package linux provides cgroup v2 resource management.
package linux

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	ocicgroups "github.com/opencontainers/cgroups"

	"github.com/nk-runtime/nk/logging"
	"github.com/nk-runtime/nk/spec"
)

// validCgroupKey matches valid cgroup v2 controller file names.
// Valid keys are like: cpu.max, memory.max, pids.max, io.bfq.weight
var validCgroupKey = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9]*(\.[a-zA-Z][a-zA-Z0-9]*)*$`)

const cgroupRoot = "/sys/fs/cgroup"

// cgroupParent is the fixed parent directory every container's cgroup is
// nested under, matching the naming used by the original runtime.
const cgroupParent = "nano-kata"

// subtreeControllers is written to the parent's cgroup.subtree_control so
// child cgroups can enable per-resource limits.
const subtreeControllers = "+cpu +memory +pids +io +cpuset"

// Cgroup represents a cgroup v2 control group.
type Cgroup struct {
	path string
}

// IsCgroupV2 reports whether the host is running the unified cgroup v2
// hierarchy. Without it, cgroup setup is skipped with a warning and the
// container starts without resource limits.
func IsCgroupV2() bool {
	return ocicgroups.IsCgroup2UnifiedMode()
}

// NewContainerCgroup creates (or reuses) the cgroup for a container under
// the fixed nano-kata parent, enabling the controllers it needs on the
// parent before the child is created.
func NewContainerCgroup(containerID string) (*Cgroup, error) {
	parentPath := filepath.Join(cgroupRoot, cgroupParent)
	if err := os.MkdirAll(parentPath, 0o755); err != nil {
		return nil, fmt.Errorf("create cgroup parent: %w", err)
	}

	controlFile := filepath.Join(parentPath, "cgroup.subtree_control")
	if err := os.WriteFile(controlFile, []byte(subtreeControllers), 0o644); err != nil {
		return nil, fmt.Errorf("enable subtree controllers: %w", err)
	}

	return NewCgroup(filepath.Join(cgroupParent, containerID))
}

// NewCgroup creates or opens a cgroup at the given path, relative to
// /sys/fs/cgroup (e.g. "nano-kata/my-container").
func NewCgroup(cgroupPath string) (*Cgroup, error) {
	fullPath := filepath.Join(cgroupRoot, strings.TrimPrefix(cgroupPath, "/"))

	if err := os.MkdirAll(fullPath, 0o755); err != nil {
		return nil, fmt.Errorf("create cgroup directory: %w", err)
	}

	return &Cgroup{path: fullPath}, nil
}

// Path returns the filesystem path of the cgroup.
func (c *Cgroup) Path() string {
	return c.path
}

// AddProcess adds a process to this cgroup by writing its pid to
// cgroup.procs. Start attaches the init process this way only after the
// child has signalled readiness, so until then the child runs unconfined.
func (c *Cgroup) AddProcess(pid int) error {
	procsPath := filepath.Join(c.path, "cgroup.procs")
	return os.WriteFile(procsPath, []byte(strconv.Itoa(pid)), 0o644)
}

// ApplyResources applies OCI resource limits to the cgroup.
func (c *Cgroup) ApplyResources(resources *spec.LinuxResources) error {
	if resources == nil {
		return nil
	}

	if err := c.applyMemory(resources.Memory); err != nil {
		return err
	}
	if err := c.applyCPU(resources.CPU); err != nil {
		return err
	}
	if err := c.applyPids(resources.Pids); err != nil {
		return err
	}

	for key, value := range resources.Unified {
		if err := validateCgroupKey(key); err != nil {
			return fmt.Errorf("invalid cgroup key %q: %w", key, err)
		}
		path := filepath.Join(c.path, key)
		if err := os.WriteFile(path, []byte(value), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", key, err)
		}
	}

	return nil
}

// applyMemory applies memory limits.
func (c *Cgroup) applyMemory(memory *spec.LinuxMemory) error {
	if memory == nil {
		return nil
	}

	if memory.Limit != nil && *memory.Limit > 0 {
		path := filepath.Join(c.path, "memory.max")
		if err := os.WriteFile(path, []byte(strconv.FormatInt(*memory.Limit, 10)), 0o644); err != nil {
			return fmt.Errorf("set memory.max: %w", err)
		}
	}

	if memory.Reservation != nil && *memory.Reservation > 0 {
		path := filepath.Join(c.path, "memory.low")
		if err := os.WriteFile(path, []byte(strconv.FormatInt(*memory.Reservation, 10)), 0o644); err != nil {
			return fmt.Errorf("set memory.low: %w", err)
		}
	}

	if memory.Swap != nil {
		swapLimit := *memory.Swap
		if memory.Limit != nil {
			swapLimit = *memory.Swap - *memory.Limit
			if swapLimit < 0 {
				swapLimit = 0
			}
		}
		path := filepath.Join(c.path, "memory.swap.max")
		if err := os.WriteFile(path, []byte(strconv.FormatInt(swapLimit, 10)), 0o644); err != nil {
			logging.Warn("set memory.swap.max failed", "error", err)
		}
	}

	return nil
}

// applyCPU applies CPU limits.
func (c *Cgroup) applyCPU(cpu *spec.LinuxCPU) error {
	if cpu == nil {
		return nil
	}

	if cpu.Quota != nil || cpu.Period != nil {
		quota := "max"
		if cpu.Quota != nil && *cpu.Quota > 0 {
			quota = strconv.FormatInt(*cpu.Quota, 10)
		}
		period := uint64(100000)
		if cpu.Period != nil && *cpu.Period > 0 {
			period = *cpu.Period
		}
		value := fmt.Sprintf("%s %d", quota, period)
		path := filepath.Join(c.path, "cpu.max")
		if err := os.WriteFile(path, []byte(value), 0o644); err != nil {
			return fmt.Errorf("set cpu.max: %w", err)
		}
	}

	if cpu.Shares != nil && *cpu.Shares > 0 {
		// weight = 1 + (shares - 2) * 9999 / 262142, mapping shares
		// (2-262144) onto cpu.weight's (1-10000) range.
		shares := *cpu.Shares
		var weight uint64 = 1
		if shares > 2 {
			weight = 1 + (shares-2)*9999/262142
		}
		if weight > 10000 {
			weight = 10000
		}
		path := filepath.Join(c.path, "cpu.weight")
		if err := os.WriteFile(path, []byte(strconv.FormatUint(weight, 10)), 0o644); err != nil {
			return fmt.Errorf("set cpu.weight: %w", err)
		}
	}

	if cpu.Cpus != "" {
		path := filepath.Join(c.path, "cpuset.cpus")
		if err := os.WriteFile(path, []byte(cpu.Cpus), 0o644); err != nil {
			return fmt.Errorf("set cpuset.cpus: %w", err)
		}
	}

	if cpu.Mems != "" {
		path := filepath.Join(c.path, "cpuset.mems")
		if err := os.WriteFile(path, []byte(cpu.Mems), 0o644); err != nil {
			return fmt.Errorf("set cpuset.mems: %w", err)
		}
	}

	return nil
}

// applyPids applies process count limits.
func (c *Cgroup) applyPids(pids *spec.LinuxPids) error {
	if pids == nil {
		return nil
	}
	if pids.Limit > 0 {
		path := filepath.Join(c.path, "pids.max")
		if err := os.WriteFile(path, []byte(strconv.FormatInt(pids.Limit, 10)), 0o644); err != nil {
			return fmt.Errorf("set pids.max: %w", err)
		}
	}
	return nil
}

// Destroy removes the cgroup. The cgroup must be empty (no live processes).
func (c *Cgroup) Destroy() error {
	return os.Remove(c.path)
}

// GetMemoryCurrent returns current memory usage.
func (c *Cgroup) GetMemoryCurrent() (int64, error) {
	data, err := os.ReadFile(filepath.Join(c.path, "memory.current"))
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
}

// GetPidsCurrent returns current number of processes.
func (c *Cgroup) GetPidsCurrent() (int64, error) {
	data, err := os.ReadFile(filepath.Join(c.path, "pids.current"))
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
}

// Freeze freezes all processes in the cgroup.
func (c *Cgroup) Freeze() error {
	return os.WriteFile(filepath.Join(c.path, "cgroup.freeze"), []byte("1"), 0o644)
}

// Thaw unfreezes all processes in the cgroup.
func (c *Cgroup) Thaw() error {
	return os.WriteFile(filepath.Join(c.path, "cgroup.freeze"), []byte("0"), 0o644)
}

// GetCgroupPath returns the cgroup path for a container: the spec-provided
// CgroupsPath if set, otherwise the default nano-kata/<id> path.
func GetCgroupPath(containerID string, specPath string) string {
	if specPath != "" {
		return specPath
	}
	return filepath.Join(cgroupParent, containerID)
}

// validateCgroupKey validates a cgroup controller file key, rejecting
// anything that could be used for path traversal via a crafted unified key.
func validateCgroupKey(key string) error {
	if key == "" {
		return fmt.Errorf("empty key not allowed")
	}
	if strings.ContainsAny(key, "/\\") {
		return fmt.Errorf("key contains path separator")
	}
	if key == "." || key == ".." {
		return fmt.Errorf("key is relative path component")
	}
	if strings.HasPrefix(key, ".") {
		return fmt.Errorf("key starts with dot")
	}
	if !validCgroupKey.MatchString(key) {
		return fmt.Errorf("key does not match valid cgroup key pattern")
	}
	return nil
}
