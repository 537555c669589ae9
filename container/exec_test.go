package container

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"testing"

	"github.com/nk-runtime/nk/spec"
)

func TestShellQuoteArgs_Basic(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected string
	}{
		{"simple", []string{"hello"}, "'hello'"},
		{"with spaces", []string{"hello world"}, "'hello world'"},
		{"empty", []string{""}, "''"},
		{"single quote", []string{"it's"}, "'it'\\''s'"},
		{"multiple args", []string{"hello", "world"}, "'hello' 'world'"},
		{"empty list", []string{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := shellQuoteArgs(tt.input)
			if result != tt.expected {
				t.Errorf("shellQuoteArgs(%v) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

// TestShellQuoteArgs_InjectionAttempts verifies that every quoted argument,
// when substituted into an `sh -c` command line, is echoed back literally
// rather than interpreted as shell syntax.
func TestShellQuoteArgs_InjectionAttempts(t *testing.T) {
	injectionAttempts := []string{
		"`id`",
		"$(id)",
		"$(rm -rf /)",
		"'; rm -rf /",
		"\"; rm -rf /",
		"; rm -rf /",
		"&& rm -rf /",
		"| cat /etc/passwd",
		"|| rm -rf /",
		"arg\nrm -rf /",
		"$PATH",
		"${PATH}",
		"*",
		"~root",
	}

	for _, input := range injectionAttempts {
		t.Run(input, func(t *testing.T) {
			quoted := shellQuoteArgs([]string{input})

			cmd := exec.Command("sh", "-c", "printf '%s' "+quoted)
			output, err := cmd.Output()
			if err != nil {
				t.Logf("command error for %q: %v", input, err)
			}

			if string(output) != input {
				t.Errorf("quoting failed to round-trip:\n  input:  %q\n  quoted: %q\n  output: %q",
					input, quoted, string(output))
			}
		})
	}
}

func TestShellQuoteArgs_NoInjectionSideEffect(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "injection-test-*")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	defer os.Remove(tmpPath)

	if err := os.WriteFile(tmpPath, []byte("original"), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	malicious := "test'; echo injected > " + tmpPath + "; echo '"
	quoted := shellQuoteArgs([]string{malicious})

	cmd := exec.Command("sh", "-c", "printf '%s' "+quoted)
	_, _ = cmd.Output()

	content, err := os.ReadFile(tmpPath)
	if err != nil {
		t.Fatalf("read temp file: %v", err)
	}
	if string(content) != "original" {
		t.Errorf("shell injection modified file: %q", content)
	}
}

func TestEncodeDecodeArgs(t *testing.T) {
	tests := [][]string{
		{"echo", "hello"},
		{"echo", "hello world", "foo bar"},
		{"echo", "it's", `"quoted"`},
		{"echo", "line1\nline2"},
		{"cmd", "; rm -rf /", "$(whoami)"},
		{},
		{""},
		{"echo", "héllo", "世界"},
	}

	for _, args := range tests {
		encoded := encodeArgs(args)
		decoded := decodeArgs(encoded)

		if len(decoded) != len(args) {
			t.Fatalf("length mismatch for %v: encoded=%d, decoded=%d", args, len(args), len(decoded))
		}
		for i := range args {
			if decoded[i] != args[i] {
				t.Errorf("arg %d mismatch: want %q, got %q", i, args[i], decoded[i])
			}
		}
	}
}

func TestDecodeArgs_Malformed(t *testing.T) {
	cases := []string{"", "not json", `["hello"`, "123", `{"key":"value"}`}
	for _, input := range cases {
		if result := decodeArgs(input); len(result) != 0 {
			t.Errorf("decodeArgs(%q) = %v, want empty", input, result)
		}
	}
}

func TestExecCwd(t *testing.T) {
	tests := []struct {
		name     string
		opts     *ExecOptions
		specCwd  string
		expected string
	}{
		{"opts takes precedence", &ExecOptions{Cwd: "/custom"}, "/app", "/custom"},
		{"falls back to spec", &ExecOptions{}, "/app", "/app"},
		{"defaults to root", &ExecOptions{}, "", "/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Container{}
			if tt.specCwd != "" {
				c.Spec = &spec.Spec{Process: &spec.Process{Cwd: tt.specCwd}}
			}

			if got := execCwd(tt.opts, c); got != tt.expected {
				t.Errorf("execCwd() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestExecInit_RequiresEnv(t *testing.T) {
	for _, key := range []string{execEnvPID, execEnvCwd, execEnvArgs} {
		t.Setenv(key, "")
	}

	if err := ExecInit(); err == nil {
		t.Fatal("expected error with no exec environment set")
	}
}

func TestExecInit_RequiresArgs(t *testing.T) {
	t.Setenv(execEnvPID, "123")
	t.Setenv(execEnvCwd, "/")
	t.Setenv(execEnvArgs, "")

	if err := ExecInit(); err == nil {
		t.Fatal("expected error with no encoded args")
	}
}

func TestExec_RequiresCommand(t *testing.T) {
	if _, err := Exec(context.Background(), "any", "", nil, &ExecOptions{}); err == nil {
		t.Fatal("expected error calling Exec with no command")
	}
}

func TestExec_RequiresRunningContainer(t *testing.T) {
	bundleDir := writeTestBundle(t)
	stateRoot := t.TempDir()

	c, err := New(context.Background(), "not-running", bundleDir, stateRoot)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := c.Create(nil); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, err := Exec(context.Background(), "not-running", stateRoot, []string{"echo", "hi"}, nil); err == nil {
		t.Fatal("expected error execing into a non-running container")
	}
}

func TestShellQuoteArgs_PlainArgumentHasNoNewline(t *testing.T) {
	if strings.Contains(shellQuoteArgs([]string{"safe"}), "\n") {
		t.Fatal("quoting a plain argument should never introduce a literal newline")
	}
}
