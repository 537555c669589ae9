package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nk-runtime/nk/container"
	cerrors "github.com/nk-runtime/nk/errors"
)

var stateCmd = &cobra.Command{
	Use:   "state <container-id>",
	Short: "Output the state of a container",
	Long:  `Output the OCI-compliant state of a container as JSON. A missing record prints "unknown" and exits non-zero.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runState,
}

func init() {
	rootCmd.AddCommand(stateCmd)
}

func runState(cmd *cobra.Command, args []string) error {
	ctx := GetContext()
	containerID := args[0]

	err := container.PrintState(ctx, containerID, GetStateRoot())
	if cerrors.IsKind(err, cerrors.ErrNotFound) {
		fmt.Println("unknown")
	}
	return err
}
