// nk is a small OCI Runtime Specification compliant container runtime.
//
// See the cmd package for the command surface: create, start, run, exec
// (alias resume), delete, state, list, kill, spec, version, and the
// internal init/exec-init subcommands used by the re-exec spawn protocol.
package main

import (
	"fmt"
	"os"

	"github.com/nk-runtime/nk/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "nk:", err)
		os.Exit(1)
	}
}
