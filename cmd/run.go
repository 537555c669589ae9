package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/nk-runtime/nk/container"
	"github.com/nk-runtime/nk/spec"
)

var runConsoleSocket string

var runCmd = &cobra.Command{
	Use:   "run <container-id>",
	Short: "Create and start a container in one operation",
	Long:  `Create and start a container. Attached by default; --rm requires attached mode.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runConsoleSocket, "console-socket", "", "accepted for compatibility; no console file descriptor is sent")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := GetContext()
	containerID := args[0]

	c, err := container.New(ctx, containerID, flagBundle, GetStateRoot())
	if err != nil {
		return err
	}
	if flagRuntime == "vm" {
		c.Record.Mode = spec.ModeVM
	}

	attach := !flagDetach

	code, err := c.Run(ctx,
		&container.CreateOptions{PidFile: flagPidFile, ConsoleSocket: runConsoleSocket},
		&container.StartOptions{Attach: attach, PidFile: flagPidFile},
		flagRm,
	)
	if err != nil {
		return err
	}

	if attach {
		os.Exit(code)
	}
	return nil
}
