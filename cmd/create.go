package cmd

import (
	"github.com/spf13/cobra"

	"github.com/nk-runtime/nk/container"
	"github.com/nk-runtime/nk/spec"
)

var createConsoleSocket string

var createCmd = &cobra.Command{
	Use:   "create <container-id>",
	Short: "Persist a container record in the created state",
	Long: `Create a container from a bundle directory.

This only validates the bundle and writes a "created" record; no process is
spawned until 'start' is called.`,
	Args: cobra.ExactArgs(1),
	RunE: runCreate,
}

func init() {
	rootCmd.AddCommand(createCmd)
	createCmd.Flags().StringVar(&createConsoleSocket, "console-socket", "", "accepted for compatibility; no console file descriptor is sent")
}

func runCreate(cmd *cobra.Command, args []string) error {
	ctx := GetContext()
	containerID := args[0]

	c, err := container.New(ctx, containerID, flagBundle, GetStateRoot())
	if err != nil {
		return err
	}
	if flagRuntime == "vm" {
		c.Record.Mode = spec.ModeVM
	}

	return c.Create(&container.CreateOptions{
		PidFile:       flagPidFile,
		ConsoleSocket: createConsoleSocket,
	})
}
