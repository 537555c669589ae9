package cmd

import (
	"github.com/spf13/cobra"

	"github.com/nk-runtime/nk/container"
)

var initCmd = &cobra.Command{
	Use:    "init",
	Short:  "Complete container setup inside the new namespaces (internal use)",
	Long:   `Internal command re-exec'd by start to run the Process Module's child path.`,
	Hidden: true,
	Args:   cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		container.RunInit()
	},
}

var execInitCmd = &cobra.Command{
	Use:    "exec-init",
	Short:  "Join a running container's namespaces and exec a command (internal use)",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return container.ExecInit()
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(execInitCmd)
}
