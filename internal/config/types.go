package config

import "time"

// Config is the top-level configuration structure parsed from mill TOML.
type Config struct {
	Tracker TrackerConfig `toml:"tracker"`
	Agent   AgentConfig   `toml:"agent"`
	Loop    LoopConfig    `toml:"loop"`
	Git     GitConfig     `toml:"git"`
	History HistoryConfig `toml:"history"`
	Gates   []Gate        `toml:"gates"`
	Reviews []string      `toml:"reviews"`
}

// TrackerConfig describes the issue-tracker CLI the loop pulls work from.
type TrackerConfig struct {
	Command string `toml:"command"`
}

// AgentConfig describes the coding-agent CLI and its invocation options.
type AgentConfig struct {
	Command         string `toml:"command"`
	Model           string `toml:"model"`
	MaxTurns        int    `toml:"max_turns"`
	SkipPermissions bool   `toml:"skip_permissions"`
}

// LoopConfig tunes the orchestrator loop. Durations are TOML strings
// ("30s", "2m") parsed on access so a bad value falls back instead of
// failing the whole load.
type LoopConfig struct {
	MaxIterations int    `toml:"max_iterations"`
	PollInterval  string `toml:"poll_interval"`
	MaxRetries    int    `toml:"max_retries"`
	BackoffBase   string `toml:"backoff_base"`
	BackoffCap    string `toml:"backoff_cap"`
	OutputLimit   int    `toml:"output_limit"`
}

// GitConfig controls the commit step after gates pass.
type GitConfig struct {
	Enabled        bool   `toml:"enabled"`
	CommitTemplate string `toml:"commit_template"`
	StashBeforeRun bool   `toml:"stash_before_run"`
}

// HistoryConfig controls the run-history database.
type HistoryConfig struct {
	Path string `toml:"path"`
}

// Gate defines a single quality-gate command run after agent work.
// Command is a shell-style string; it is tokenized, never run through a shell.
type Gate struct {
	Name    string `toml:"name"`
	Command string `toml:"command"`
}

// Defaults applied when the corresponding field is absent or unparsable.
const (
	DefaultPollInterval  = 30 * time.Second
	DefaultMaxRetries    = 3
	DefaultBackoffBase   = 1 * time.Second
	DefaultBackoffCap    = 30 * time.Second
	DefaultOutputLimit   = 2000
	DefaultMaxIterations = 10
)

// PollIntervalDuration returns the parsed poll interval.
func (l LoopConfig) PollIntervalDuration() time.Duration {
	return parseDurationOr(l.PollInterval, DefaultPollInterval)
}

// BackoffBaseDuration returns the parsed backoff base.
func (l LoopConfig) BackoffBaseDuration() time.Duration {
	return parseDurationOr(l.BackoffBase, DefaultBackoffBase)
}

// BackoffCapDuration returns the parsed backoff cap.
func (l LoopConfig) BackoffCapDuration() time.Duration {
	return parseDurationOr(l.BackoffCap, DefaultBackoffCap)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
