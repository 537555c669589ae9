package linux

import (
	"testing"

	"github.com/moby/sys/capability"

	"github.com/nk-runtime/nk/spec"
)

func TestCapByNameComplete(t *testing.T) {
	expected := []string{
		"CAP_CHOWN", "CAP_DAC_OVERRIDE", "CAP_FOWNER", "CAP_FSETID",
		"CAP_KILL", "CAP_SETGID", "CAP_SETUID", "CAP_SETPCAP",
		"CAP_NET_BIND_SERVICE", "CAP_NET_ADMIN", "CAP_NET_RAW",
		"CAP_SYS_CHROOT", "CAP_SYS_PTRACE", "CAP_SYS_ADMIN", "CAP_MKNOD",
		"CAP_AUDIT_WRITE",
	}

	for _, name := range expected {
		t.Run(name, func(t *testing.T) {
			if _, ok := capByName[name]; !ok {
				t.Errorf("capability %s not found in capByName", name)
			}
		})
	}
}

func TestCapabilityToName(t *testing.T) {
	tests := []struct {
		cap  capability.Cap
		want string
	}{
		{capability.CAP_CHOWN, "CAP_CHOWN"},
		{capability.CAP_SETUID, "CAP_SETUID"},
		{capability.CAP_SETGID, "CAP_SETGID"},
		{capability.CAP_SYS_ADMIN, "CAP_SYS_ADMIN"},
		{capability.CAP_NET_ADMIN, "CAP_NET_ADMIN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := CapabilityToName(tt.cap); got != tt.want {
				t.Errorf("CapabilityToName(%v) = %q, want %q", tt.cap, got, tt.want)
			}
		})
	}
}

func TestNameToCapability(t *testing.T) {
	tests := []struct {
		name   string
		want   capability.Cap
		wantOk bool
	}{
		{"CAP_CHOWN", capability.CAP_CHOWN, true},
		{"CAP_SYS_ADMIN", capability.CAP_SYS_ADMIN, true},
		{"CAP_NET_ADMIN", capability.CAP_NET_ADMIN, true},
		{"INVALID_CAP", 0, false},
		{"", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NameToCapability(tt.name)
			if ok != tt.wantOk {
				t.Errorf("NameToCapability(%q) ok = %v, wantOk %v", tt.name, ok, tt.wantOk)
				return
			}
			if tt.wantOk && got != tt.want {
				t.Errorf("NameToCapability(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestAllCapabilities(t *testing.T) {
	caps := AllCapabilities()

	if len(caps) < 30 {
		t.Errorf("AllCapabilities() returned %d caps, expected at least 30", len(caps))
	}

	expected := []string{
		"CAP_CHOWN", "CAP_DAC_OVERRIDE", "CAP_SETUID", "CAP_SETGID",
		"CAP_SYS_ADMIN", "CAP_NET_ADMIN",
	}

	for _, want := range expected {
		found := false
		for _, got := range caps {
			if got == want {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("AllCapabilities() missing capability %s", want)
		}
	}
}

func TestMakeCapSet(t *testing.T) {
	tests := []struct {
		name     string
		capNames []string
		wantLen  int
	}{
		{"empty set", []string{}, 0},
		{"single capability", []string{"CAP_NET_ADMIN"}, 1},
		{"multiple capabilities", []string{"CAP_CHOWN", "CAP_SETUID", "CAP_SETGID"}, 3},
		{"with invalid capability (ignored)", []string{"CAP_CHOWN", "CAP_INVALID"}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			capSet := makeCapSet(tt.capNames)
			if len(capSet) != tt.wantLen {
				t.Errorf("makeCapSet() returned %d caps, want %d", len(capSet), tt.wantLen)
			}
		})
	}
}

func TestCapSetContents(t *testing.T) {
	capNames := []string{"CAP_CHOWN", "CAP_SETUID", "CAP_NET_ADMIN"}
	capSet := makeCapSet(capNames)

	for _, name := range capNames {
		cap, ok := NameToCapability(name)
		if !ok {
			t.Errorf("Invalid capability name: %s", name)
			continue
		}
		if !capSet[cap] {
			t.Errorf("makeCapSet() missing %s", name)
		}
	}
}

func TestResolveCapsSkipsUnknown(t *testing.T) {
	resolved := resolveCaps([]string{"CAP_CHOWN", "CAP_TOTALLY_MADE_UP", "CAP_SETUID"})
	if len(resolved) != 2 {
		t.Errorf("resolveCaps() returned %d caps, want 2 (unknown should be skipped, not fatal)", len(resolved))
	}
}

func TestLinuxCapabilitiesSpec(t *testing.T) {
	caps := &spec.LinuxCapabilities{
		Bounding:    []string{"CAP_CHOWN", "CAP_DAC_OVERRIDE", "CAP_KILL"},
		Effective:   []string{"CAP_CHOWN"},
		Permitted:   []string{"CAP_CHOWN", "CAP_DAC_OVERRIDE"},
		Inheritable: []string{},
		Ambient:     []string{},
	}

	if got := len(makeCapSet(caps.Bounding)); got != 3 {
		t.Errorf("Bounding set has %d caps, expected 3", got)
	}
	if got := len(makeCapSet(caps.Effective)); got != 1 {
		t.Errorf("Effective set has %d caps, expected 1", got)
	}
	if got := len(makeCapSet(caps.Permitted)); got != 2 {
		t.Errorf("Permitted set has %d caps, expected 2", got)
	}
}

func TestApplyCapabilitiesNil(t *testing.T) {
	if err := ApplyCapabilities(nil); err != nil {
		t.Errorf("ApplyCapabilities(nil) should not error: %v", err)
	}
}

func TestDangerousCapabilitiesResolvable(t *testing.T) {
	dangerous := []string{
		"CAP_SYS_ADMIN", "CAP_SYS_MODULE", "CAP_SYS_RAWIO", "CAP_SYS_PTRACE",
		"CAP_NET_ADMIN", "CAP_SYS_BOOT", "CAP_MAC_ADMIN", "CAP_MAC_OVERRIDE",
	}

	for _, name := range dangerous {
		t.Run(name, func(t *testing.T) {
			if _, ok := NameToCapability(name); !ok {
				t.Errorf("dangerous capability %s not resolvable", name)
			}
		})
	}
}
