package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mill.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, `
reviews = [
  "Check for race conditions",
  "Check error handling",
]

[tracker]
command = "issues"

[agent]
command = "claude"
model = "opus"
max_turns = 50
skip_permissions = true

[loop]
max_iterations = 5
poll_interval = "10s"
max_retries = 4
backoff_base = "2s"
backoff_cap = "1m"
output_limit = 1500

[git]
enabled = true
commit_template = "{{item_id}}: {{item_title}}"
stash_before_run = true

[history]
path = "/tmp/history.db"

[[gates]]
name = "tests"
command = "go test ./..."

[[gates]]
command = "golangci-lint run"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Tracker.Command != "issues" {
		t.Errorf("tracker.command = %q", cfg.Tracker.Command)
	}
	if cfg.Agent.Model != "opus" || cfg.Agent.MaxTurns != 50 || !cfg.Agent.SkipPermissions {
		t.Errorf("agent config mismatch: %+v", cfg.Agent)
	}
	if cfg.Loop.MaxIterations != 5 || cfg.Loop.MaxRetries != 4 || cfg.Loop.OutputLimit != 1500 {
		t.Errorf("loop config mismatch: %+v", cfg.Loop)
	}
	if got := cfg.Loop.PollIntervalDuration(); got != 10*time.Second {
		t.Errorf("poll interval = %v", got)
	}
	if got := cfg.Loop.BackoffCapDuration(); got != time.Minute {
		t.Errorf("backoff cap = %v", got)
	}
	if !cfg.Git.Enabled || !cfg.Git.StashBeforeRun {
		t.Errorf("git config mismatch: %+v", cfg.Git)
	}
	if cfg.History.Path != "/tmp/history.db" {
		t.Errorf("history.path = %q", cfg.History.Path)
	}
	if len(cfg.Gates) != 2 {
		t.Fatalf("expected 2 gates, got %d", len(cfg.Gates))
	}
	if cfg.Gates[0].Name != "tests" {
		t.Errorf("gates[0].name = %q", cfg.Gates[0].Name)
	}
	// Unnamed gates take their command's first token as name.
	if cfg.Gates[1].Name != "golangci-lint" {
		t.Errorf("gates[1].name = %q", cfg.Gates[1].Name)
	}
	if len(cfg.Reviews) != 2 {
		t.Errorf("expected 2 reviews, got %d", len(cfg.Reviews))
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Tracker.Command != "issues" {
		t.Errorf("default tracker.command = %q", cfg.Tracker.Command)
	}
	if cfg.Agent.Command != "claude" {
		t.Errorf("default agent.command = %q", cfg.Agent.Command)
	}
	if cfg.Loop.MaxIterations != DefaultMaxIterations {
		t.Errorf("default max_iterations = %d", cfg.Loop.MaxIterations)
	}
	if cfg.Loop.MaxRetries != DefaultMaxRetries {
		t.Errorf("default max_retries = %d", cfg.Loop.MaxRetries)
	}
	if cfg.Loop.OutputLimit != DefaultOutputLimit {
		t.Errorf("default output_limit = %d", cfg.Loop.OutputLimit)
	}
	if got := cfg.Loop.PollIntervalDuration(); got != DefaultPollInterval {
		t.Errorf("default poll interval = %v", got)
	}
	if got := cfg.Loop.BackoffBaseDuration(); got != DefaultBackoffBase {
		t.Errorf("default backoff base = %v", got)
	}
}

func TestLoad_BadDurationFallsBack(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
[loop]
poll_interval = "not a duration"
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := cfg.Loop.PollIntervalDuration(); got != DefaultPollInterval {
		t.Errorf("bad duration should fall back to default, got %v", got)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestLoad_MalformedTOML(t *testing.T) {
	_, err := Load(writeConfig(t, "[tracker\ncommand = "))
	if err == nil {
		t.Fatal("expected a parse error")
	}
	if !strings.Contains(err.Error(), "parsing config") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidate_CleanConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
reviews = ["Look for bugs"]

[[gates]]
command = "go test ./..."
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if errs := Validate(cfg); len(errs) != 0 {
		t.Errorf("expected no validation errors, got %v", errs)
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := &Config{
		Agent: AgentConfig{MaxTurns: -1},
		Loop: LoopConfig{
			MaxIterations: -1,
			PollInterval:  "banana",
		},
		Gates: []Gate{
			{Name: "dup", Command: "true"},
			{Name: "dup", Command: "true"},
			{Name: "blank", Command: "   "},
		},
		Reviews: []string{""},
	}

	errs := Validate(cfg)
	want := []string{
		"tracker.command",
		"agent.command",
		"agent.max_turns",
		"loop.max_iterations",
		"loop.max_retries",
		"loop.poll_interval",
		"gates[1].name",
		"gates[2].command",
		"reviews[0]",
	}
	if len(errs) != len(want) {
		t.Fatalf("expected %d errors, got %d: %v", len(want), len(errs), errs)
	}
	for i, field := range want {
		if errs[i].Field != field {
			t.Errorf("errs[%d].Field = %q, want %q", i, errs[i].Field, field)
		}
	}
}

func TestValidate_DurationBounds(t *testing.T) {
	cfg := &Config{
		Tracker: TrackerConfig{Command: "issues"},
		Agent:   AgentConfig{Command: "claude"},
		Loop: LoopConfig{
			MaxRetries:  1,
			BackoffBase: "-5s",
		},
	}
	errs := Validate(cfg)
	if len(errs) != 1 || errs[0].Field != "loop.backoff_base" {
		t.Errorf("expected a single backoff_base error, got %v", errs)
	}
}

func TestValidationError_Error(t *testing.T) {
	e := ValidationError{Field: "loop.max_retries", Message: "must be at least 1"}
	if got := e.Error(); got != "loop.max_retries: must be at least 1" {
		t.Errorf("Error() = %q", got)
	}
}

func TestDeriveGateName(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"go test ./...", "go"},
		{`"my tool" check`, "my tool"},
		{`'./bin/run lint' --strict`, "./bin/run lint"},
		{`broken "quote`, "broken"}, // unterminated quote falls back to bare split
	}
	for _, c := range cases {
		if got := deriveGateName(c.in); got != c.want {
			t.Errorf("deriveGateName(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestFirstToken(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"go test ./...", "go"},
		{"  npm run lint", "npm"},
		{"single", "single"},
		{"", ""},
	}
	for _, c := range cases {
		if got := firstToken(c.in); got != c.want {
			t.Errorf("firstToken(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
