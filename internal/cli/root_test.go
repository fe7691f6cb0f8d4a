package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func executeCommand(args ...string) (string, error) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mill.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestVersionCommand(t *testing.T) {
	SetVersion("test-version")
	out, err := executeCommand("version")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "test-version") {
		t.Errorf("expected version output to contain 'test-version', got: %s", out)
	}
}

func TestRootHelp(t *testing.T) {
	out, err := executeCommand("--help")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expectedSubcommands := []string{
		"run", "resume", "status", "config", "db", "version",
	}
	for _, sub := range expectedSubcommands {
		if !strings.Contains(out, sub) {
			t.Errorf("help output missing subcommand %q", sub)
		}
	}
}

func TestConfigValidate_ValidFile(t *testing.T) {
	path := writeTestConfig(t, `
[[gates]]
command = "go test ./..."
`)
	out, err := executeCommand("config", "validate", "--config", path)
	if err != nil {
		t.Fatalf("unexpected error: %v\noutput: %s", err, out)
	}
	if !strings.Contains(out, "valid") {
		t.Errorf("expected validity confirmation, got: %s", out)
	}
	configFile = ""
}

func TestConfigValidate_InvalidFile(t *testing.T) {
	path := writeTestConfig(t, `
[loop]
poll_interval = "banana"
`)
	out, err := executeCommand("config", "validate", "--config", path)
	if err == nil {
		t.Fatalf("expected validation to fail, output: %s", out)
	}
	if !strings.Contains(out, "poll_interval") {
		t.Errorf("expected poll_interval error in output, got: %s", out)
	}
	configFile = ""
}

func TestConfigShow_RoundTrips(t *testing.T) {
	path := writeTestConfig(t, `
[agent]
command = "claude"
model = "opus"
`)
	out, err := executeCommand("config", "show", "--config", path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, `model = "opus"`) {
		t.Errorf("expected shown config to include the model, got: %s", out)
	}
	// Defaults must be merged into the shown config.
	if !strings.Contains(out, "max_iterations") {
		t.Errorf("expected defaults in shown config, got: %s", out)
	}
	configFile = ""
}

func TestDBPath_UsesConfiguredPath(t *testing.T) {
	path := writeTestConfig(t, `
[history]
path = "/tmp/mill-test-history.db"
`)
	out, err := executeCommand("db", "path", "--config", path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "/tmp/mill-test-history.db") {
		t.Errorf("expected configured path, got: %s", out)
	}
	configFile = ""
}

func TestRun_MissingConfigFails(t *testing.T) {
	_, err := executeCommand("run", "--config", filepath.Join(t.TempDir(), "missing.toml"))
	if err == nil {
		t.Fatal("expected run with a missing config to fail")
	}
	configFile = ""
}
