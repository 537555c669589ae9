package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/nk-runtime/nk/container"
)

var startCmd = &cobra.Command{
	Use:   "start <container-id>",
	Short: "Start a created container",
	Long:  `Start a container that has been created with 'create'. Detached by default.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	ctx := GetContext()
	containerID := args[0]

	c, err := container.Load(ctx, containerID, GetStateRoot())
	if err != nil {
		return err
	}

	attach := flagAttach && !flagDetach

	code, err := c.Start(ctx, &container.StartOptions{
		Attach:  attach,
		PidFile: flagPidFile,
	})
	if err != nil {
		return err
	}

	if attach {
		os.Exit(code)
	}
	return nil
}
