// Package linux provides Linux capability management.
package linux

import (
	"strings"

	"github.com/moby/sys/capability"

	"github.com/nk-runtime/nk/logging"
	"github.com/nk-runtime/nk/spec"
)

// capByName maps OCI capability names ("CAP_CHOWN") to the moby/sys/capability
// constant for the running kernel, built once from capability.List() so that
// newer kernels with more capabilities (CAP_BPF, CAP_PERFMON, ...) are picked
// up without a code change here.
var capByName = func() map[string]capability.Cap {
	m := make(map[string]capability.Cap)
	for _, c := range capability.List() {
		m[strings.ToUpper("CAP_"+c.String())] = c
	}
	return m
}()

// ApplyCapabilities applies the OCI capability configuration to the calling
// process. A missing or unrecognised capability library behavior is
// surfaced as a warning, never a fatal error: dropping capabilities is a
// hardening step, not a correctness requirement for running the container's
// entrypoint.
func ApplyCapabilities(caps *spec.LinuxCapabilities) error {
	if caps == nil {
		return nil
	}

	c, err := capability.NewPid2(0)
	if err != nil {
		logging.Warn("capability library unavailable", "error", err)
		return nil
	}
	if err := c.Load(); err != nil {
		logging.Warn("load current capabilities failed", "error", err)
		return nil
	}

	c.Clear(capability.BOUNDING | capability.AMBIENT | capability.CAPS)

	c.Set(capability.BOUNDING, resolveCaps(caps.Bounding)...)
	c.Set(capability.EFFECTIVE, resolveCaps(caps.Effective)...)
	c.Set(capability.PERMITTED, resolveCaps(caps.Permitted)...)
	c.Set(capability.INHERITABLE, resolveCaps(caps.Inheritable)...)

	// Ambient capabilities must also be permitted and inheritable.
	permSet := makeCapSet(caps.Permitted)
	inhSet := makeCapSet(caps.Inheritable)
	var ambient []capability.Cap
	for _, name := range caps.Ambient {
		cap, ok := capByName[strings.ToUpper(name)]
		if ok && permSet[cap] && inhSet[cap] {
			ambient = append(ambient, cap)
		}
	}
	c.Set(capability.AMBIENT, ambient...)

	if err := c.Apply(capability.CAPS | capability.BOUNDING | capability.AMBIENT); err != nil {
		logging.Warn("apply capabilities failed", "error", err)
	}

	return nil
}

// resolveCaps converts OCI capability names to library constants, warning
// on (and skipping) anything this kernel doesn't recognise.
func resolveCaps(names []string) []capability.Cap {
	var caps []capability.Cap
	for _, name := range names {
		if cap, ok := capByName[strings.ToUpper(name)]; ok {
			caps = append(caps, cap)
		} else {
			logging.Warn("unknown capability", "name", name)
		}
	}
	return caps
}

// makeCapSet builds a lookup set of capability constants from OCI names.
func makeCapSet(names []string) map[capability.Cap]bool {
	set := make(map[capability.Cap]bool)
	for _, name := range names {
		if cap, ok := capByName[strings.ToUpper(name)]; ok {
			set[cap] = true
		}
	}
	return set
}

// CapabilityToName converts a capability to its OCI-style name.
func CapabilityToName(cap capability.Cap) string {
	return strings.ToUpper("CAP_" + cap.String())
}

// NameToCapability converts an OCI capability name to the library constant.
func NameToCapability(name string) (capability.Cap, bool) {
	cap, ok := capByName[strings.ToUpper(name)]
	return cap, ok
}

// AllCapabilities returns all capability names known on this kernel.
func AllCapabilities() []string {
	names := make([]string, 0, len(capByName))
	for name := range capByName {
		names = append(names, name)
	}
	return names
}
