// Package cmd implements the nk CLI: the Lifecycle Controller's command
// surface.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nk-runtime/nk/container"
	"github.com/nk-runtime/nk/logging"
)

// Version information set at build time.
var (
	Version   = "0.1.0"
	SpecVer   = "1.0.2"
	BuildTime = "unknown"
)

// Shared flags, per spec.md §6: every subcommand that needs them reads from
// this set rather than declaring its own, so -b/-r/-p/etc. mean the same
// thing everywhere they appear.
var (
	flagBundle    string
	flagRuntime   string
	flagPidFile   string
	flagAttach    bool
	flagDetach    bool
	flagExec      string
	flagRm        bool
	flagVerbose   bool
	flagEducation bool
	flagStateRoot string
)

var rootCmd = &cobra.Command{
	Use:   "nk",
	Short: "A small OCI container runtime",
	Long: `nk is an OCI Runtime Specification compliant container runtime.

It implements the create/start/run/exec/delete/state lifecycle against
Linux namespaces, a pivoted root filesystem, and cgroup v2 resource
controls.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging()
		if flagAttach && flagDetach {
			return fmt.Errorf("--attach and --detach are mutually exclusive")
		}
		if flagRm && flagDetach {
			return fmt.Errorf("--rm requires attached mode")
		}
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetContext returns a context that cancels on SIGINT/SIGTERM.
func GetContext() context.Context {
	ctx, _ := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	return ctx
}

// GetStateRoot resolves the state directory per spec.md §4.1's order,
// honoring an explicit --root flag ahead of the environment overrides.
func GetStateRoot() string {
	return container.ResolveStateRoot(flagStateRoot)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagStateRoot, "root", "", "root directory for container state (default: resolved per NS_RUN_DIR/NK_RUN_DIR/euid)")
	rootCmd.PersistentFlags().StringVarP(&flagBundle, "bundle", "b", ".", "path to the bundle directory")
	rootCmd.PersistentFlags().StringVarP(&flagRuntime, "runtime", "r", "container", "execution mode: container or vm")
	rootCmd.PersistentFlags().StringVarP(&flagPidFile, "pid-file", "p", "", "path to write the container's init pid to")
	rootCmd.PersistentFlags().BoolVarP(&flagAttach, "attach", "a", false, "wait for the container's process to exit")
	rootCmd.PersistentFlags().BoolVarP(&flagDetach, "detach", "d", false, "return immediately without waiting (mutually exclusive with --attach)")
	rootCmd.PersistentFlags().StringVarP(&flagExec, "exec", "x", "", "command to run via exec/resume")
	rootCmd.PersistentFlags().BoolVar(&flagRm, "rm", false, "delete the container after an attached run completes")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "V", false, "enable debug-level logging")
	rootCmd.PersistentFlags().BoolVarP(&flagEducation, "educational", "E", false, "log a short explanation before privileged operations")
}

func setupLogging() {
	if v := os.Getenv("NK_LOG_VERBOSE"); v != "" {
		flagVerbose = true
	}
	if v := os.Getenv("NK_LOG_EDUCATIONAL"); v != "" {
		flagEducation = true
	}

	level := slog.LevelInfo
	if flagVerbose {
		level = slog.LevelDebug
	}
	if lv := os.Getenv("NK_LOG_LEVEL"); lv != "" {
		level = logging.ParseLevel(lv)
	}

	format := "text"
	if os.Getenv("NK_LOG_FORMAT") == "json" {
		format = "json"
	}

	if os.Getenv("NK_LOG_ENABLED") == "0" {
		logging.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
	} else {
		logging.SetDefault(logging.NewLogger(logging.Config{
			Level:  level,
			Format: format,
			Output: os.Stderr,
		}))
	}

	logging.SetEducational(flagEducation)
}
