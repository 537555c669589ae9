// Package utils provides console/PTY handling built on containerd/console
// rather than hand-rolled ioctl plumbing.
package utils

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"syscall"

	"github.com/containerd/console"
)

// ValidateSocketPath checks that a socket path is safe to dial or does not
// yet exist (sockets being created are fine).
func ValidateSocketPath(path string) error {
	if path == "" {
		return fmt.Errorf("socket path cannot be empty")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("invalid socket path: %w", err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("cannot stat socket path: %w", err)
	}

	if info.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("path %q exists but is not a socket", path)
	}

	return nil
}

// Console is a PTY pair: a master end used by the parent and a slave path
// handed to the child as its controlling terminal.
type Console struct {
	master console.Console
	slave  *os.File
	path   string
}

// NewConsole allocates a new PTY pair via containerd/console's NewPty,
// which handles the TIOCGPTN/TIOCSPTLCK dance internally.
func NewConsole() (*Console, error) {
	master, slavePath, err := console.NewPty()
	if err != nil {
		return nil, fmt.Errorf("allocate pty: %w", err)
	}

	return &Console{master: master, path: slavePath}, nil
}

// Master returns the master end of the PTY.
func (c *Console) Master() console.Console {
	return c.master
}

// SlavePath returns the path to the slave PTY.
func (c *Console) SlavePath() string {
	return c.path
}

// OpenSlave opens the slave end of the PTY.
func (c *Console) OpenSlave() (*os.File, error) {
	if c.slave != nil {
		return c.slave, nil
	}

	slave, err := os.OpenFile(c.path, os.O_RDWR|syscall.O_NOCTTY, 0)
	if err != nil {
		return nil, fmt.Errorf("open slave: %w", err)
	}
	c.slave = slave
	return slave, nil
}

// Close closes both ends of the console.
func (c *Console) Close() {
	if c.master != nil {
		c.master.Close()
	}
	if c.slave != nil {
		c.slave.Close()
	}
}

// SetControllingTerminal sets f as the calling process's controlling
// terminal, stealing it from the session leader if necessary.
func SetControllingTerminal(f *os.File) error {
	_, _, errno := syscall.Syscall(syscall.SYS_IOCTL, f.Fd(), syscall.TIOCSCTTY, 1)
	if errno != 0 {
		return fmt.Errorf("TIOCSCTTY: %v", errno)
	}
	return nil
}

// ResizeFromTerminal copies the window size of src onto dst.
func ResizeFromTerminal(src *os.File, dst console.Console) error {
	srcConsole := console.ConsoleFromFile(src)
	ws, err := srcConsole.Size()
	if err != nil {
		return err
	}
	return dst.Resize(ws)
}

// SendConsoleToSocket sends the console master FD over a unix socket, the
// --console-socket handoff convention.
func SendConsoleToSocket(socketPath string, masterFd uintptr) error {
	if err := ValidateSocketPath(socketPath); err != nil {
		return fmt.Errorf("invalid console socket: %w", err)
	}

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return fmt.Errorf("dial %s: %w", socketPath, err)
	}
	defer conn.Close()

	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		return fmt.Errorf("not a unix connection")
	}

	file, err := unixConn.File()
	if err != nil {
		return fmt.Errorf("get file: %w", err)
	}
	defer file.Close()

	rights := syscall.UnixRights(int(masterFd))
	if err := syscall.Sendmsg(int(file.Fd()), []byte{0}, rights, nil, 0); err != nil {
		return fmt.Errorf("sendmsg: %w", err)
	}

	return nil
}

// SetRawMode puts f into raw mode via containerd/console's termios handling
// and returns a closure that restores the original mode.
func SetRawMode(f *os.File) (func() error, error) {
	c := console.ConsoleFromFile(f)
	if err := c.SetRaw(); err != nil {
		return nil, fmt.Errorf("set raw mode: %w", err)
	}
	return c.Reset, nil
}

// SetupTerminalSignals puts f into raw mode, so Ctrl+C/Ctrl+Z pass through
// as bytes instead of signalling this process, and tries to make the
// caller the foreground process group of f; a failure of that last step
// is ignored.
func SetupTerminalSignals(f *os.File) error {
	c := console.ConsoleFromFile(f)
	if err := c.SetRaw(); err != nil {
		return fmt.Errorf("enable raw mode: %w", err)
	}

	pgrp := syscall.Getpgrp()
	_, _, errno := syscall.Syscall(syscall.SYS_IOCTL, f.Fd(), syscall.TIOCSPGRP, uintptr(pgrp))
	if errno != 0 {
		// non-fatal: may fail if we are not the session leader
		return nil
	}
	return nil
}
