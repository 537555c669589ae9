package container

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/term"

	cerrors "github.com/nk-runtime/nk/errors"
	"github.com/nk-runtime/nk/logging"
	"github.com/nk-runtime/nk/spec"
	"github.com/nk-runtime/nk/utils"
)

// execEnvPID etc. carry exec parameters across the re-exec boundary into the
// "nk exec-init" subcommand, the same way process.go's envInitBundle/envInitID
// do for the init path.
const (
	execEnvPID   = "_NK_EXEC_PID"
	execEnvCwd   = "_NK_EXEC_CWD"
	execEnvArgs  = "_NK_EXEC_ARGS"
	execEnvTTY   = "_NK_EXEC_TTY"
	execEnvExtra = "_NK_EXEC_ENV_"
)

// ExecOptions carries the exec operation's inputs.
type ExecOptions struct {
	// Tty allocates a pseudo-TTY.
	Tty bool

	// Cwd is the working directory inside the container.
	Cwd string

	// Env are additional environment variables passed into the exec'd process.
	Env []string

	// Detach runs the process in the background instead of waiting on it.
	Detach bool

	// PidFile writes the new process's pid to a file.
	PidFile string

	// ConsoleSocket is the path to a unix socket used to hand off the PTY
	// master file descriptor, containerd-style.
	ConsoleSocket string
}

// ExecWithProcessFile reads an OCI process document and execs it, the
// Docker/containerd "process.json" convention.
func ExecWithProcessFile(ctx context.Context, containerID, stateRoot, processFile string, opts *ExecOptions) error {
	data, err := os.ReadFile(processFile)
	if err != nil {
		return cerrors.Wrap(err, cerrors.ErrInvalidArgs, "read process file")
	}

	var process spec.Process
	if err := json.Unmarshal(data, &process); err != nil {
		return cerrors.Wrap(err, cerrors.ErrInvalidArgs, "parse process file")
	}
	if len(process.Args) == 0 {
		return cerrors.WrapWithDetail(nil, cerrors.ErrInvalidArgs, "exec", "process spec has no command")
	}

	if opts == nil {
		opts = &ExecOptions{}
	}
	if process.Terminal {
		opts.Tty = true
	}
	if process.Cwd != "" {
		opts.Cwd = process.Cwd
	}
	opts.Env = append(opts.Env, process.Env...)

	return Exec(ctx, containerID, stateRoot, process.Args, opts)
}

// Exec implements entering a running container's namespaces and executing a
// new process there, by re-execing this binary as "nk exec-init" which in
// turn shells out to the external nsenter tool (spec.md §6): this runtime
// does not reimplement setns against every namespace type, it delegates to
// the same external tool the rest of the container ecosystem relies on.
func Exec(ctx context.Context, containerID, stateRoot string, args []string, opts *ExecOptions) (int, error) {
	if opts == nil {
		opts = &ExecOptions{}
	}
	if len(args) == 0 {
		return -1, cerrors.WrapWithDetail(nil, cerrors.ErrInvalidArgs, "exec", "no command specified")
	}

	c, err := Load(ctx, containerID, stateRoot)
	if err != nil {
		return -1, err
	}

	c.RefreshStatus()
	if c.Record.State != spec.StatusRunning {
		if err := c.SaveState(); err != nil {
			logging.Warn("failed to persist reconciled stopped state", "container_id", c.ID, "error", err)
		}
		return -1, cerrors.WrapWithContainer(nil, cerrors.ErrBadState, "exec", containerID)
	}
	if c.Record.InitPID <= 0 {
		return -1, cerrors.WrapWithContainer(nil, cerrors.ErrBadState, "exec", containerID)
	}

	self, err := os.Executable()
	if err != nil {
		return -1, cerrors.Wrap(err, cerrors.ErrSyscallFailed, "resolve self executable")
	}

	cmd := exec.Command(self, "exec-init")

	encodedArgs := encodeArgs(args)
	cmd.Env = append(os.Environ(),
		execEnvPID+"="+strconv.Itoa(c.Record.InitPID),
		execEnvCwd+"="+execCwd(opts, c),
		execEnvArgs+"="+encodedArgs,
	)
	for _, e := range opts.Env {
		cmd.Env = append(cmd.Env, execEnvExtra+e)
	}

	if opts.Tty && opts.ConsoleSocket != "" {
		return 0, execWithConsoleSocket(cmd, opts)
	}
	if opts.Tty {
		cmd.Env = append(cmd.Env, execEnvTTY+"=1")
		return execWithPTY(cmd, opts)
	}

	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return -1, cerrors.Wrap(err, cerrors.ErrSyscallFailed, "start exec process")
	}

	if opts.PidFile != "" {
		if err := os.WriteFile(opts.PidFile, []byte(strconv.Itoa(cmd.Process.Pid)), 0o644); err != nil {
			cmd.Process.Kill()
			return -1, cerrors.Wrap(err, cerrors.ErrSyscallFailed, "write pid file")
		}
	}

	if opts.Detach {
		return 0, nil
	}

	return waitExitCode(cmd)
}

// execWithPTY runs the command attached to a freshly allocated PTY, mirroring
// the interactive terminal on the caller's own stdin/stdout.
func execWithPTY(cmd *exec.Cmd, opts *ExecOptions) (int, error) {
	pty, err := utils.NewConsole()
	if err != nil {
		return -1, cerrors.Wrap(err, cerrors.ErrSyscallFailed, "allocate pty")
	}
	defer pty.Close()

	slave, err := pty.OpenSlave()
	if err != nil {
		return -1, cerrors.Wrap(err, cerrors.ErrSyscallFailed, "open pty slave")
	}

	cmd.Stdin = slave
	cmd.Stdout = slave
	cmd.Stderr = slave
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true, Setctty: true}

	master := pty.Master()

	if term.IsTerminal(int(os.Stdin.Fd())) {
		restore, err := utils.SetRawMode(os.Stdin)
		if err != nil {
			return -1, cerrors.Wrap(err, cerrors.ErrSyscallFailed, "make terminal raw")
		}
		defer restore()

		utils.ResizeFromTerminal(os.Stdin, master)

		sigwinch := make(chan os.Signal, 1)
		signal.Notify(sigwinch, syscall.SIGWINCH)
		go func() {
			for range sigwinch {
				utils.ResizeFromTerminal(os.Stdin, master)
			}
		}()
		defer signal.Stop(sigwinch)
	}

	if err := cmd.Start(); err != nil {
		return -1, cerrors.Wrap(err, cerrors.ErrSyscallFailed, "start exec process")
	}
	slave.Close()

	if opts.PidFile != "" {
		if err := os.WriteFile(opts.PidFile, []byte(strconv.Itoa(cmd.Process.Pid)), 0o644); err != nil {
			cmd.Process.Kill()
			return -1, cerrors.Wrap(err, cerrors.ErrSyscallFailed, "write pid file")
		}
	}

	go io.Copy(master, os.Stdin)
	outputDone := make(chan struct{})
	go func() {
		io.Copy(os.Stdout, master)
		close(outputDone)
	}()

	code, err := waitExitCode(cmd)
	master.Close()
	<-outputDone
	return code, err
}

// execWithConsoleSocket runs with a PTY whose master is handed off to a unix
// socket, the containerd console-socket handoff convention.
func execWithConsoleSocket(cmd *exec.Cmd, opts *ExecOptions) error {
	pty, err := utils.NewConsole()
	if err != nil {
		return cerrors.Wrap(err, cerrors.ErrSyscallFailed, "allocate pty")
	}
	defer pty.Close()

	slave, err := pty.OpenSlave()
	if err != nil {
		return cerrors.Wrap(err, cerrors.ErrSyscallFailed, "open pty slave")
	}

	cmd.Stdin = slave
	cmd.Stdout = slave
	cmd.Stderr = slave
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true, Setctty: true}

	if err := cmd.Start(); err != nil {
		return cerrors.Wrap(err, cerrors.ErrSyscallFailed, "start exec process")
	}
	slave.Close()

	if err := utils.SendConsoleToSocket(opts.ConsoleSocket, pty.Master().Fd()); err != nil {
		cmd.Process.Kill()
		return cerrors.Wrap(err, cerrors.ErrSyscallFailed, "send pty fd to console socket")
	}

	if opts.PidFile != "" {
		if err := os.WriteFile(opts.PidFile, []byte(strconv.Itoa(cmd.Process.Pid)), 0o644); err != nil {
			cmd.Process.Kill()
			return cerrors.Wrap(err, cerrors.ErrSyscallFailed, "write pid file")
		}
	}

	if opts.Detach {
		return nil
	}

	_, err = waitExitCode(cmd)
	return err
}

func waitExitCode(cmd *exec.Cmd) (int, error) {
	err := cmd.Wait()
	if err == nil {
		return 0, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return 128 + int(ws.Signal()), nil
		}
		return exitErr.ExitCode(), nil
	}
	return -1, cerrors.Wrap(err, cerrors.ErrSyscallFailed, "wait exec process")
}

// ExecInit is the "nk exec-init" subcommand body: it shells out to the
// external nsenter tool using the contract's long-flag form (spec.md §6),
// joining the target pid's mount, UTS, IPC, network and PID namespaces
// before execing the requested command.
func ExecInit() error {
	pidStr := os.Getenv(execEnvPID)
	cwd := os.Getenv(execEnvCwd)
	argsStr := os.Getenv(execEnvArgs)

	if pidStr == "" || argsStr == "" {
		return cerrors.WrapWithDetail(nil, cerrors.ErrInvalidArgs, "exec-init", "missing exec environment variables")
	}

	args := decodeArgs(argsStr)
	if len(args) == 0 {
		return cerrors.WrapWithDetail(nil, cerrors.ErrInvalidArgs, "exec-init", "no command to execute")
	}

	var extraEnv []string
	for _, e := range os.Environ() {
		if len(e) > len(execEnvExtra) && e[:len(execEnvExtra)] == execEnvExtra {
			extraEnv = append(extraEnv, e[len(execEnvExtra):])
		}
	}

	nsenterArgs := []string{
		"--target", pidStr,
		"--mount",
		"--uts",
		"--ipc",
		"--net",
		"--pid",
		"--",
	}

	if cwd != "" && cwd != "/" {
		shellCmd := "cd " + cwd + " && exec " + shellQuoteArgs(args)
		nsenterArgs = append(nsenterArgs, "sh", "-c", shellCmd)
	} else {
		nsenterArgs = append(nsenterArgs, args...)
	}

	env := []string{
		"PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin",
		"HOME=/root",
		"TERM=xterm",
	}
	for _, e := range os.Environ() {
		if len(e) >= 8 && e[:8] == "_NK_EXEC" {
			continue
		}
		if len(e) > 5 && e[:5] == "PATH=" {
			continue
		}
		env = append(env, e)
	}
	env = append(env, extraEnv...)

	nsenterPath, err := exec.LookPath("nsenter")
	if err != nil {
		return cerrors.Wrap(err, cerrors.ErrRuntimeUnsupported, "nsenter not found")
	}

	return syscall.Exec(nsenterPath, append([]string{"nsenter"}, nsenterArgs...), env)
}

func execCwd(opts *ExecOptions, c *Container) string {
	if opts.Cwd != "" {
		return opts.Cwd
	}
	if c.Spec != nil && c.Spec.Process != nil && c.Spec.Process.Cwd != "" {
		return c.Spec.Process.Cwd
	}
	return "/"
}

func encodeArgs(args []string) string {
	data, _ := json.Marshal(args)
	return string(data)
}

func decodeArgs(encoded string) []string {
	if encoded == "" {
		return nil
	}
	var args []string
	json.Unmarshal([]byte(encoded), &args)
	return args
}

func shellQuoteArgs(args []string) string {
	var quoted []string
	for _, arg := range args {
		escaped := ""
		for _, c := range arg {
			if c == '\'' {
				escaped += `'\''`
			} else {
				escaped += string(c)
			}
		}
		quoted = append(quoted, "'"+escaped+"'")
	}
	return strings.Join(quoted, " ")
}

