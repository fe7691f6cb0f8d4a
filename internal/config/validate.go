package config

import (
	"fmt"
	"strings"
	"time"
)

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks a Config for structural and semantic errors.
// It returns a slice of all validation errors found (empty if valid).
func Validate(cfg *Config) []ValidationError {
	var errs []ValidationError

	if cfg.Tracker.Command == "" {
		errs = append(errs, ValidationError{Field: "tracker.command", Message: "is required"})
	}
	if cfg.Agent.Command == "" {
		errs = append(errs, ValidationError{Field: "agent.command", Message: "is required"})
	}
	if cfg.Agent.MaxTurns < 0 {
		errs = append(errs, ValidationError{Field: "agent.max_turns", Message: "must not be negative"})
	}

	if cfg.Loop.MaxIterations < 0 {
		errs = append(errs, ValidationError{Field: "loop.max_iterations", Message: "must not be negative"})
	}
	if cfg.Loop.MaxRetries < 1 {
		errs = append(errs, ValidationError{Field: "loop.max_retries", Message: "must be at least 1"})
	}
	for _, f := range []struct {
		field string
		value string
	}{
		{"loop.poll_interval", cfg.Loop.PollInterval},
		{"loop.backoff_base", cfg.Loop.BackoffBase},
		{"loop.backoff_cap", cfg.Loop.BackoffCap},
	} {
		if f.value == "" {
			continue
		}
		if d, err := time.ParseDuration(f.value); err != nil || d <= 0 {
			errs = append(errs, ValidationError{
				Field:   f.field,
				Message: fmt.Sprintf("invalid duration %q", f.value),
			})
		}
	}

	seen := make(map[string]bool)
	for i, g := range cfg.Gates {
		prefix := fmt.Sprintf("gates[%d]", i)
		if strings.TrimSpace(g.Command) == "" {
			errs = append(errs, ValidationError{Field: prefix + ".command", Message: "is required"})
		}
		if g.Name != "" {
			if seen[g.Name] {
				errs = append(errs, ValidationError{
					Field:   prefix + ".name",
					Message: fmt.Sprintf("duplicate gate name %q", g.Name),
				})
			}
			seen[g.Name] = true
		}
	}

	for i, r := range cfg.Reviews {
		if strings.TrimSpace(r) == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("reviews[%d]", i),
				Message: "must not be empty",
			})
		}
	}

	return errs
}
