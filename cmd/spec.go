package cmd

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/nk-runtime/nk/spec"
)

var specRootless bool

var specCmd = &cobra.Command{
	Use:   "spec",
	Short: "Generate a default OCI runtime specification",
	Long:  `Generate a default config.json to stdout, suitable for scaffolding a new bundle.`,
	Args:  cobra.NoArgs,
	RunE:  runSpec,
}

func init() {
	rootCmd.AddCommand(specCmd)
	specCmd.Flags().BoolVar(&specRootless, "rootless", false, "generate a rootless spec with a user namespace and 1:1 id mapping")
}

func runSpec(cmd *cobra.Command, args []string) error {
	s := spec.DefaultSpec()

	if specRootless {
		s.Linux.Namespaces = append(s.Linux.Namespaces, spec.LinuxNamespace{
			Type: spec.UserNamespace,
		})

		uid := uint32(os.Getuid())
		gid := uint32(os.Getgid())
		s.Linux.UIDMappings = []spec.LinuxIDMapping{
			{ContainerID: 0, HostID: uid, Size: 1},
		}
		s.Linux.GIDMappings = []spec.LinuxIDMapping{
			{ContainerID: 0, HostID: gid, Size: 1},
		}
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(s)
}
