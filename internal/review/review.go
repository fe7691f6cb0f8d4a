// Package review runs the configured review prompts against the live
// working-copy diff. Reviews run sequentially against a possibly-shrinking
// diff so each review both sees and can correct the prior reviewer's
// output, approximating a human code-review chain.
package review

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/lucasnoah/issuemill/internal/agent"
	"github.com/lucasnoah/issuemill/internal/prompt"
)

// DiffSource provides the current working-copy diff.
type DiffSource interface {
	Diff() (string, error)
}

// Outcome is the result of a full review pipeline run.
type Outcome struct {
	Success    bool
	ReviewsRun int
	Err        error
}

// Pipeline runs review prompts in order.
type Pipeline struct {
	agent  agent.Invoker
	diffs  DiffSource
	opts   agent.Options
	logger *slog.Logger
}

// NewPipeline creates a review pipeline.
func NewPipeline(inv agent.Invoker, diffs DiffSource, opts agent.Options, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{agent: inv, diffs: diffs, opts: opts, logger: logger}
}

// Run executes each review prompt in order against the current diff. With
// no prompts configured, or an empty diff, the stage is a no-op success.
// The diff is re-fetched after every review because a review may have
// modified files; when it comes back empty the remaining reviews are
// skipped, there being nothing left to inspect. An agent failure aborts
// the remaining reviews and fails the pipeline.
func (p *Pipeline) Run(prompts []string) *Outcome {
	if len(prompts) == 0 {
		return &Outcome{Success: true}
	}

	diff, err := p.diffs.Diff()
	if err != nil {
		return &Outcome{Err: fmt.Errorf("fetch diff: %w", err)}
	}
	if strings.TrimSpace(diff) == "" {
		p.logger.Debug("empty diff, skipping reviews")
		return &Outcome{Success: true}
	}

	outcome := &Outcome{}
	for i, instruction := range prompts {
		composite, err := prompt.Review(instruction, diff)
		if err != nil {
			outcome.Err = fmt.Errorf("build review prompt %d: %w", i+1, err)
			return outcome
		}

		p.logger.Info("running review", "review", i+1, "of", len(prompts))
		result, err := p.agent.Invoke(composite, p.opts)
		if err != nil {
			outcome.Err = fmt.Errorf("review %d: %w", i+1, err)
			return outcome
		}
		if !result.Success {
			outcome.Err = fmt.Errorf("review %d: agent failed: %s", i+1, result.Error)
			return outcome
		}
		outcome.ReviewsRun++

		diff, err = p.diffs.Diff()
		if err != nil {
			outcome.Err = fmt.Errorf("re-fetch diff after review %d: %w", i+1, err)
			return outcome
		}
		if strings.TrimSpace(diff) == "" {
			p.logger.Debug("diff empty after review, skipping the rest", "reviews_run", outcome.ReviewsRun)
			break
		}
	}

	outcome.Success = true
	return outcome
}
