package linux

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/moby/sys/mountinfo"

	"github.com/nk-runtime/nk/logging"
	"github.com/nk-runtime/nk/spec"
)

// Mount propagation flags
const (
	MS_PRIVATE      = syscall.MS_PRIVATE
	MS_SHARED       = syscall.MS_SHARED
	MS_SLAVE        = syscall.MS_SLAVE
	MS_UNBINDABLE   = syscall.MS_UNBINDABLE
	MS_REC          = syscall.MS_REC
	MS_BIND         = syscall.MS_BIND
	MS_MOVE         = syscall.MS_MOVE
	MS_RDONLY       = syscall.MS_RDONLY
	MS_NOSUID       = syscall.MS_NOSUID
	MS_NODEV        = syscall.MS_NODEV
	MS_NOEXEC       = syscall.MS_NOEXEC
	MS_REMOUNT      = syscall.MS_REMOUNT
	MS_STRICTATIME  = syscall.MS_STRICTATIME
	MS_RELATIME     = syscall.MS_RELATIME
	MS_NOATIME      = syscall.MS_NOATIME
)

// mountOptionFlags maps mount option strings to flags.
var mountOptionFlags = map[string]uintptr{
	"ro":          MS_RDONLY,
	"rw":          0,
	"nosuid":      MS_NOSUID,
	"suid":        0,
	"nodev":       MS_NODEV,
	"dev":         0,
	"noexec":      MS_NOEXEC,
	"exec":        0,
	"sync":        syscall.MS_SYNCHRONOUS,
	"async":       0,
	"remount":     MS_REMOUNT,
	"bind":        MS_BIND,
	"rbind":       MS_BIND | MS_REC,
	"private":     MS_PRIVATE,
	"rprivate":    MS_PRIVATE | MS_REC,
	"shared":      MS_SHARED,
	"rshared":     MS_SHARED | MS_REC,
	"slave":       MS_SLAVE,
	"rslave":      MS_SLAVE | MS_REC,
	"unbindable":  MS_UNBINDABLE,
	"runbindable": MS_UNBINDABLE | MS_REC,
	"relatime":    MS_RELATIME,
	"norelatime":  0,
	"strictatime": MS_STRICTATIME,
	"noatime":     MS_NOATIME,
}

// defaultMount is one entry of the table of filesystems every container gets
// regardless of what the bundle's config.json lists under mounts.
type defaultMount struct {
	destination string
	fsType      string
	source      string
	flags       uintptr
	data        string
}

// defaultMounts mirrors the fixed mount table: proc, sysfs, and the /dev
// tree (tmpfs, devpts, shm, mqueue), with the exact flags and options the
// original runtime used.
var defaultMounts = []defaultMount{
	{"/proc", "proc", "proc", MS_NOSUID | MS_NOEXEC | MS_NODEV, ""},
	{"/sys", "sysfs", "sysfs", MS_NOSUID | MS_NOEXEC | MS_NODEV | MS_RDONLY, ""},
	{"/dev", "tmpfs", "tmpfs", MS_NOSUID | MS_STRICTATIME, "mode=755"},
	{"/dev/pts", "devpts", "devpts", MS_NOSUID | MS_NOEXEC, "newinstance,ptmxmode=0666,mode=0620"},
	{"/dev/shm", "tmpfs", "shm", MS_NOSUID | MS_NODEV, "mode=1777,size=65536k"},
	{"/dev/mqueue", "mqueue", "mqueue", MS_NOSUID | MS_NODEV | MS_NOEXEC, ""},
}

// SetupRootfs performs all filesystem isolation steps against the
// prospective new root, then pivots into it: private-remount, the default
// mounts table, device nodes, the bundle's custom mounts, and finally
// pivot_root. Everything happens against rootfs, never against the host's
// "/", so a failure partway through never leaves the host mount namespace
// disturbed.
func SetupRootfs(s *spec.Spec, bundlePath string) error {
	if s.Root == nil {
		return fmt.Errorf("no root filesystem specified")
	}

	rootfs := s.Root.Path
	if !filepath.IsAbs(rootfs) {
		rootfs = filepath.Join(bundlePath, rootfs)
	}
	rootfs, err := filepath.Abs(rootfs)
	if err != nil {
		return fmt.Errorf("abs path: %w", err)
	}

	if err := makePrivate("/"); err != nil {
		return fmt.Errorf("make mount tree private: %w", err)
	}

	if err := syscall.Mount(rootfs, rootfs, "", MS_BIND|MS_REC, ""); err != nil {
		return fmt.Errorf("bind mount rootfs: %w", err)
	}
	if mounted, err := mountinfo.Mounted(rootfs); err != nil {
		return fmt.Errorf("verify rootfs mount point: %w", err)
	} else if !mounted {
		return fmt.Errorf("rootfs %s is not a mount point after bind mount", rootfs)
	}

	setupDefaultMounts(rootfs)

	if err := setupDefaultDevices(rootfs); err != nil {
		return fmt.Errorf("setup default devices: %w", err)
	}
	if err := setupDevSymlinks(rootfs); err != nil {
		return fmt.Errorf("setup dev symlinks: %w", err)
	}

	if err := setupMounts(s.Mounts, rootfs); err != nil {
		return fmt.Errorf("setup custom mounts: %w", err)
	}

	if err := pivotRoot(rootfs); err != nil {
		return fmt.Errorf("pivot_root: %w", err)
	}

	if s.Root.Readonly {
		if err := syscall.Mount("", "/", "", MS_REMOUNT|MS_BIND|MS_RDONLY, ""); err != nil {
			return fmt.Errorf("remount readonly: %w", err)
		}
	}

	if s.Linux != nil && s.Linux.RootfsPropagation != "" {
		if err := applyPropagation("/", s.Linux.RootfsPropagation); err != nil {
			logging.Warn("rootfs propagation failed", "error", err)
		}
	}

	if s.Linux != nil {
		for _, path := range s.Linux.MaskedPaths {
			if err := maskPath(path); err != nil {
				logging.Warn("mask path failed", "path", path, "error", err)
			}
		}
		for _, path := range s.Linux.ReadonlyPaths {
			if err := readonlyPath(path); err != nil {
				logging.Warn("readonly path failed", "path", path, "error", err)
			}
		}
	}

	return nil
}

// makePrivate makes the mount tree private.
func makePrivate(path string) error {
	return syscall.Mount("", path, "", MS_REC|MS_PRIVATE, "")
}

// setupDefaultMounts mounts the fixed proc/sysfs/dev table under rootfs.
// Per-mount failures are warnings, not fatal: a missing optional mount
// point (e.g. a read-only base image without a /dev directory) should not
// abort the whole rootfs setup.
func setupDefaultMounts(rootfs string) {
	for _, m := range defaultMounts {
		dest := filepath.Join(rootfs, m.destination)
		if err := os.MkdirAll(dest, 0o755); err != nil {
			logging.Warn("default mount mkdir failed", "dest", dest, "error", err)
			continue
		}
		if err := syscall.Mount(m.source, dest, m.fsType, m.flags, m.data); err != nil {
			logging.Warn("default mount failed", "dest", dest, "fstype", m.fsType, "error", err)
		}
	}
}

// pivotRoot performs pivot_root to change the root filesystem.
func pivotRoot(rootfs string) error {
	oldRoot := filepath.Join(rootfs, ".old_root")
	if err := os.MkdirAll(oldRoot, 0o700); err != nil {
		return fmt.Errorf("mkdir old_root: %w", err)
	}

	if err := syscall.PivotRoot(rootfs, oldRoot); err != nil {
		return chrootFallback(rootfs)
	}

	if err := os.Chdir("/"); err != nil {
		return fmt.Errorf("chdir /: %w", err)
	}

	oldRoot = "/.old_root"
	if err := syscall.Unmount(oldRoot, syscall.MNT_DETACH); err != nil {
		return fmt.Errorf("unmount old root: %w", err)
	}
	os.RemoveAll(oldRoot)

	return nil
}

// chrootFallback uses chroot when pivot_root fails, e.g. under a rootless
// configuration where the new root is not a separate mount namespace.
func chrootFallback(rootfs string) error {
	if err := syscall.Chroot(rootfs); err != nil {
		return fmt.Errorf("chroot: %w", err)
	}
	return os.Chdir("/")
}

// SecureJoin joins base and unsafePath, cleaning the result so it can never
// escape base via ".." segments or a leading "/". It does not resolve
// symlinks; callers that need TOCTOU-safe resolution inside an untrusted
// rootfs should additionally use openat2 with RESOLVE_IN_ROOT, which this
// runtime does not yet do.
func SecureJoin(base, unsafePath string) (string, error) {
	if base == "" {
		return "", fmt.Errorf("securejoin: base path is empty")
	}
	cleanBase := filepath.Clean(base)
	// Cleaning as an absolute path collapses any leading ".." segments
	// against "/" rather than letting them climb above cleanBase.
	confined := filepath.Clean("/" + unsafePath)
	return filepath.Join(cleanBase, confined), nil
}

// setupMounts performs the bundle's custom mounts, relative to rootfs. The
// bundle's config.json is not fully trusted input, so destination and
// relative-source paths are confined under rootfs with SecureJoin rather
// than a plain filepath.Join.
func setupMounts(mounts []spec.Mount, rootfs string) error {
	for _, m := range mounts {
		dest, err := SecureJoin(rootfs, m.Destination)
		if err != nil {
			return fmt.Errorf("mount destination %s: %w", m.Destination, err)
		}

		flags, data := parseMountOptions(m.Options)

		source := m.Source
		isBind := m.Type == "bind" || hasOption(m.Options, "bind") || hasOption(m.Options, "rbind")

		if isBind {
			if !filepath.IsAbs(source) {
				source, err = SecureJoin(rootfs, source)
				if err != nil {
					return fmt.Errorf("mount source %s: %w", m.Source, err)
				}
			}

			srcInfo, err := os.Stat(source)
			if err != nil {
				logging.Warn("bind source not found", "source", source, "error", err)
				continue
			}

			if srcInfo.IsDir() {
				if err := os.MkdirAll(dest, 0o755); err != nil {
					return fmt.Errorf("mkdir %s: %w", dest, err)
				}
			} else {
				if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
					return fmt.Errorf("mkdir parent %s: %w", filepath.Dir(dest), err)
				}
				if _, err := os.Stat(dest); os.IsNotExist(err) {
					f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY, 0o644)
					if err != nil {
						return fmt.Errorf("create file %s: %w", dest, err)
					}
					f.Close()
				}
			}

			if err := syscall.Mount(source, dest, "", flags|MS_BIND, data); err != nil {
				return fmt.Errorf("bind mount %s: %w", dest, err)
			}
		} else {
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return fmt.Errorf("mkdir %s: %w", dest, err)
			}
			if err := syscall.Mount(source, dest, m.Type, flags, data); err != nil {
				logging.Warn("custom mount failed", "dest", dest, "fstype", m.Type, "error", err)
			}
		}
	}
	return nil
}

// parseMountOptions parses OCI mount options into flags and data string.
func parseMountOptions(options []string) (uintptr, string) {
	var flags uintptr
	var dataOpts []string

	for _, opt := range options {
		if flag, ok := mountOptionFlags[opt]; ok {
			flags |= flag
		} else if strings.Contains(opt, "=") || !isKnownOption(opt) {
			dataOpts = append(dataOpts, opt)
		}
	}

	return flags, strings.Join(dataOpts, ",")
}

// hasOption checks if an option is in the list.
func hasOption(options []string, opt string) bool {
	for _, o := range options {
		if o == opt {
			return true
		}
	}
	return false
}

// isKnownOption checks if an option is a known mount flag.
func isKnownOption(opt string) bool {
	_, ok := mountOptionFlags[opt]
	return ok
}

// applyPropagation sets mount propagation.
func applyPropagation(path, propagation string) error {
	var flag uintptr
	switch propagation {
	case "private":
		flag = MS_PRIVATE
	case "rprivate":
		flag = MS_PRIVATE | MS_REC
	case "shared":
		flag = MS_SHARED
	case "rshared":
		flag = MS_SHARED | MS_REC
	case "slave":
		flag = MS_SLAVE
	case "rslave":
		flag = MS_SLAVE | MS_REC
	case "unbindable":
		flag = MS_UNBINDABLE
	case "runbindable":
		flag = MS_UNBINDABLE | MS_REC
	default:
		return fmt.Errorf("unknown propagation: %s", propagation)
	}
	return syscall.Mount("", path, "", flag, "")
}

// maskPath masks a path by bind-mounting /dev/null or an empty tmpfs over it.
func maskPath(path string) error {
	fi, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return nil
	}

	if fi.IsDir() {
		return syscall.Mount("tmpfs", path, "tmpfs", MS_RDONLY, "size=0")
	}
	return syscall.Mount("/dev/null", path, "", MS_BIND, "")
}

// readonlyPath makes a path read-only by remounting it.
func readonlyPath(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	if err := syscall.Mount(path, path, "", MS_BIND|MS_REC, ""); err != nil {
		return err
	}
	return syscall.Mount(path, path, "", MS_BIND|MS_REMOUNT|MS_RDONLY|MS_REC, "")
}

// CreateDevices creates device nodes specified in the config, rooted at "/"
// (the caller has already pivoted).
func CreateDevices(devices []spec.LinuxDevice) error {
	return createDevicesAt("", devices)
}

// setupDefaultDevices creates the standard device nodes under rootfs, before
// pivot_root.
func setupDefaultDevices(rootfs string) error {
	return createDevicesAt(rootfs, defaultDeviceNodes())
}

func defaultDeviceNodes() []spec.LinuxDevice {
	mode := os.FileMode(0o666)
	devices := []spec.LinuxDevice{
		{Path: "/dev/null", Type: "c", Major: 1, Minor: 3},
		{Path: "/dev/zero", Type: "c", Major: 1, Minor: 5},
		{Path: "/dev/full", Type: "c", Major: 1, Minor: 7},
		{Path: "/dev/random", Type: "c", Major: 1, Minor: 8},
		{Path: "/dev/urandom", Type: "c", Major: 1, Minor: 9},
		{Path: "/dev/tty", Type: "c", Major: 5, Minor: 0},
	}
	for i := range devices {
		devices[i].FileMode = &mode
	}
	return devices
}

// SetupDefaultDevices creates the standard container device nodes at "/".
func SetupDefaultDevices() error {
	return createDevicesAt("", defaultDeviceNodes())
}

func createDevicesAt(root string, devices []spec.LinuxDevice) error {
	for _, dev := range devices {
		d := dev
		d.Path = filepath.Join(root, dev.Path)
		if err := createDevice(d); err != nil {
			return fmt.Errorf("create device %s: %w", dev.Path, err)
		}
	}
	return nil
}

// createDevice creates a single device node.
func createDevice(dev spec.LinuxDevice) error {
	dir := filepath.Dir(dev.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	var devType uint32
	switch dev.Type {
	case "c", "u":
		devType = syscall.S_IFCHR
	case "b":
		devType = syscall.S_IFBLK
	case "p":
		devType = syscall.S_IFIFO
	default:
		return fmt.Errorf("unknown device type: %s", dev.Type)
	}

	mode := devType
	if dev.FileMode != nil {
		mode |= uint32(*dev.FileMode)
	} else {
		mode |= 0o666
	}

	devNum := int((dev.Major << 8) | dev.Minor)

	if err := syscall.Mknod(dev.Path, mode, devNum); err != nil {
		if !os.IsExist(err) {
			return err
		}
	}

	uid, gid := 0, 0
	if dev.UID != nil {
		uid = int(*dev.UID)
	}
	if dev.GID != nil {
		gid = int(*dev.GID)
	}
	return os.Chown(dev.Path, uid, gid)
}

// setupDevSymlinks creates standard /dev symlinks under rootfs.
func setupDevSymlinks(rootfs string) error {
	symlinks := map[string]string{
		"/dev/fd":     "/proc/self/fd",
		"/dev/stdin":  "/proc/self/fd/0",
		"/dev/stdout": "/proc/self/fd/1",
		"/dev/stderr": "/proc/self/fd/2",
	}

	for link, target := range symlinks {
		dst := filepath.Join(rootfs, link)
		os.Remove(dst)
		if err := os.Symlink(target, dst); err != nil {
			logging.Warn("dev symlink failed", "dest", dst, "error", err)
		}
	}

	return nil
}

// SetupDevSymlinks creates standard /dev symlinks at "/".
func SetupDevSymlinks() error {
	return setupDevSymlinks("")
}

// MountProc mounts procfs at /proc. Kept for the exec path, which joins an
// existing mount namespace and only needs a fresh /proc view for the new
// PID namespace.
func MountProc() error {
	if err := os.MkdirAll("/proc", 0o755); err != nil {
		return err
	}
	return syscall.Mount("proc", "/proc", "proc", MS_NOSUID|MS_NOEXEC|MS_NODEV, "")
}

// SetupDevPts mounts devpts at /dev/pts. Kept for the exec path.
func SetupDevPts() error {
	if err := os.MkdirAll("/dev/pts", 0o755); err != nil {
		return err
	}
	return syscall.Mount("devpts", "/dev/pts", "devpts",
		MS_NOSUID|MS_NOEXEC,
		"newinstance,ptmxmode=0666,mode=0620")
}
