package container

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/nk-runtime/nk/linux"
	"github.com/nk-runtime/nk/logging"
	"github.com/nk-runtime/nk/spec"
)

// readyFD is the file descriptor the parent hands the child via
// exec.Cmd.ExtraFiles: Go places the first extra file at fd 3, after the
// standard stdin/stdout/stderr triad.
const readyFD = 3

// RunInit is the "nk init" subcommand body: the child path of the Process
// Module's spawn protocol (spec.md §4.5). It never returns on success, since
// step 3i execs the container's process in place of this one; on failure it
// reports a diagnostic and exits with status 1.
func RunInit() {
	pipe := os.NewFile(readyFD, "nk-init-pipe")

	bundle := os.Getenv(envInitBundle)
	id := os.Getenv(envInitID)
	if bundle == "" {
		fail(pipe, "nk init: missing bundle path")
	}

	specPath := filepath.Join(bundle, "config.json")
	s, err := spec.LoadSpec(specPath)
	if err != nil {
		fail(pipe, fmt.Sprintf("nk init: load spec: %v", err))
	}

	if s.Linux != nil {
		if err := linux.JoinNamespaces(s.Linux.Namespaces); err != nil {
			fail(pipe, fmt.Sprintf("nk init: join namespaces: %v", err))
		}
	}

	if s.Linux != nil && linux.HasNamespace(s.Linux.Namespaces, spec.UTSNamespace) && s.Hostname != "" {
		if err := linux.SetHostname(s.Hostname); err != nil {
			fail(pipe, fmt.Sprintf("nk init: set hostname: %v", err))
		}
	}

	if err := linux.SetupRootfs(s, bundle); err != nil {
		fail(pipe, fmt.Sprintf("nk init: filesystem setup failed: %v", err))
	}

	cwd := "/"
	if s.Process != nil && s.Process.Cwd != "" {
		cwd = s.Process.Cwd
	}
	if err := os.Chdir(cwd); err != nil {
		os.Chdir("/")
	}

	if s.Process != nil {
		if err := linux.ApplyCapabilities(s.Process.Capabilities); err != nil {
			logging.Warn("nk init: capability drop failed", "container_id", id, "error", err)
		}
	}

	syscall.Setrlimit(syscall.RLIMIT_STACK, &syscall.Rlimit{
		Cur: 8 * 1024 * 1024,
		Max: ^uint64(0),
	})

	terminal := s.Process != nil && s.Process.Terminal
	if !terminal {
		syscall.Setsid()
	}

	if _, err := pipe.Write([]byte{0}); err != nil {
		logging.Error("nk init: readiness write failed", "container_id", id, "error", err)
		os.Exit(1)
	}
	pipe.Close()

	args, env, uid, gid, groups := initProcessParams(s)

	if len(groups) > 0 {
		setGroups(groups)
	}
	setGid(gid)
	setUid(uid)

	binary, err := resolveExecPath(args[0], env)
	if err != nil {
		logging.Error("nk init: resolve executable", "container_id", id, "arg0", args[0], "error", err)
		os.Exit(1)
	}

	if err := execProcess(binary, args, env); err != nil {
		if errors.Is(err, syscall.ENOEXEC) {
			logging.Error("nk init: exec format error: the binary may be built for another architecture or lack a valid interpreter line",
				"container_id", id, "path", binary)
		}
		logging.Error("nk init: exec failed", "container_id", id, "path", binary, "error", err)
		os.Exit(1)
	}
}

func fail(pipe *os.File, msg string) {
	if pipe != nil {
		pipe.Write([]byte(msg))
		pipe.Close()
	}
	logging.Error(msg)
	os.Exit(1)
}

func initProcessParams(s *spec.Spec) (args, env []string, uid, gid int, groups []int) {
	if s.Process != nil {
		args = s.Process.Args
		env = s.Process.Env
		uid = int(s.Process.User.UID)
		gid = int(s.Process.User.GID)
		for _, g := range s.Process.User.AdditionalGids {
			groups = append(groups, int(g))
		}
	}
	if len(env) == 0 {
		env = []string{
			"PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin",
			"TERM=xterm",
			"HOME=/root",
		}
	}
	return
}

func resolveExecPath(arg0 string, env []string) (string, error) {
	if filepath.IsAbs(arg0) {
		return arg0, nil
	}
	path := "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"
	for _, e := range env {
		if len(e) > 5 && e[:5] == "PATH=" {
			path = e[5:]
			break
		}
	}
	for _, dir := range filepath.SplitList(path) {
		candidate := filepath.Join(dir, arg0)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	return arg0, nil
}
