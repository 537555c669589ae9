package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/nk-runtime/nk/container"
)

var (
	execTty           bool
	execCwd           string
	execConsoleSocket string
	execEnv           []string
	execProcessFile   string
)

var execCmd = &cobra.Command{
	Use:     "exec <container-id> [command] [args...]",
	Aliases: []string{"resume"},
	Short:   "Execute a command inside a running container",
	Long: `Execute a new process inside a running container's namespaces.

"resume" is accepted as a deprecated alias; prefer "exec" or the shared
-x/--exec flag.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runExec,
}

func init() {
	rootCmd.AddCommand(execCmd)

	execCmd.Flags().BoolVarP(&execTty, "tty", "t", false, "allocate a pseudo-TTY")
	execCmd.Flags().StringVar(&execCwd, "cwd", "", "working directory inside the container")
	execCmd.Flags().StringVar(&execConsoleSocket, "console-socket", "", "path to a socket for receiving the console file descriptor")
	execCmd.Flags().StringArrayVarP(&execEnv, "env", "e", nil, "set environment variables")
	execCmd.Flags().StringVar(&execProcessFile, "process", "", "path to an OCI process.json to exec instead of an argv")
}

func runExec(cmd *cobra.Command, args []string) error {
	ctx := GetContext()
	containerID := args[0]

	opts := &container.ExecOptions{
		Tty:           execTty,
		Cwd:           execCwd,
		Detach:        flagDetach,
		PidFile:       flagPidFile,
		ConsoleSocket: execConsoleSocket,
		Env:           execEnv,
	}

	if execProcessFile != "" {
		return container.ExecWithProcessFile(ctx, containerID, GetStateRoot(), execProcessFile, opts)
	}

	execArgs := args[1:]
	if flagExec != "" {
		execArgs = append([]string{flagExec}, execArgs...)
	}
	if len(execArgs) == 0 {
		execArgs = []string{"/bin/sh"}
	}

	code, err := container.Exec(ctx, containerID, GetStateRoot(), execArgs, opts)
	if err != nil {
		return err
	}
	if !opts.Detach {
		os.Exit(code)
	}
	return nil
}
