package cmd

import (
	"github.com/spf13/cobra"

	"github.com/nk-runtime/nk/container"
)

var deleteForce bool

var deleteCmd = &cobra.Command{
	Use:     "delete <container-id>",
	Aliases: []string{"rm"},
	Short:   "Delete a container",
	Long:    `Tear down a running container's process and cgroup, then remove its state record.`,
	Args:    cobra.ExactArgs(1),
	RunE:    runDelete,
}

func init() {
	rootCmd.AddCommand(deleteCmd)
	deleteCmd.Flags().BoolVarP(&deleteForce, "force", "f", false, "accepted for compatibility; delete always attempts graceful-then-kill on a running container")
}

func runDelete(cmd *cobra.Command, args []string) error {
	ctx := GetContext()
	containerID := args[0]

	c, err := container.Load(ctx, containerID, GetStateRoot())
	if err != nil {
		return err
	}

	_, err = c.Delete(ctx, &container.DeleteOptions{Force: deleteForce})
	return err
}
