// Package gate runs the configured quality-gate commands after agent work.
// Gates are opaque pass/fail commands (tests, linters, type checkers); the
// only contract with them is exit code plus captured output.
package gate

import (
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/lucasnoah/issuemill/internal/procs"
)

// Result holds the outcome of a single gate command.
type Result struct {
	Name     string        `json:"name"`
	Passed   bool          `json:"passed"`
	ExitCode int           `json:"exit_code"`
	Stdout   string        `json:"stdout,omitempty"`
	Stderr   string        `json:"stderr,omitempty"`
	Duration time.Duration `json:"duration"`
}

// PipelineResult is the outcome of a full gate run.
type PipelineResult struct {
	Passed  bool     `json:"passed"`
	Results []Result `json:"results"`
}

// FailedNames returns the names of gates that did not pass, in order.
func (p *PipelineResult) FailedNames() []string {
	var names []string
	for _, r := range p.Results {
		if !r.Passed {
			names = append(names, r.Name)
		}
	}
	return names
}

// Failed returns the results of gates that did not pass, in order.
func (p *PipelineResult) Failed() []Result {
	var failed []Result
	for _, r := range p.Results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}

// Spec names one gate command. Command is a shell-style string tokenized
// with Tokenize.
type Spec struct {
	Name    string
	Command string
}

// CommandRunner abstracts argv execution for testability.
type CommandRunner interface {
	Run(dir string, argv []string) (stdout string, stderr string, exitCode int, err error)
}

// ExecRunner implements CommandRunner by spawning the argv directly, with
// the child registered for shutdown cleanup when a process manager is set.
type ExecRunner struct {
	Procs *procs.Manager
}

func (e *ExecRunner) Run(dir string, argv []string) (string, string, int, error) {
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = dir

	var stdoutBuf, stderrBuf strings.Builder
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	if err := cmd.Start(); err != nil {
		return "", "", -1, fmt.Errorf("start %s: %w", argv[0], err)
	}
	if e.Procs != nil {
		e.Procs.Register(cmd, argv[0])
		defer e.Procs.Unregister(cmd)
	}

	err := cmd.Wait()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return stdoutBuf.String(), stderrBuf.String(), -1, fmt.Errorf("exec %s: %w", argv[0], err)
		}
	}
	return stdoutBuf.String(), stderrBuf.String(), exitCode, nil
}

// Pipeline runs gate commands in declaration order.
type Pipeline struct {
	cmd CommandRunner
}

// NewPipeline creates a Pipeline with the given command runner.
func NewPipeline(cmd CommandRunner) *Pipeline {
	return &Pipeline{cmd: cmd}
}

// Run executes every configured gate in order and reports the combined
// outcome. Gates do not short-circuit: all commands always run, so one pass
// surfaces every failing gate at once. An empty spec list passes vacuously.
// The returned error covers malformed commands and spawn failures only;
// a non-zero gate exit is a failed Result, not an error.
func (p *Pipeline) Run(dir string, specs []Spec) (*PipelineResult, error) {
	result := &PipelineResult{Passed: true}

	for _, spec := range specs {
		argv, err := Tokenize(spec.Command)
		if err != nil {
			return nil, fmt.Errorf("gate %q: %w", spec.Name, err)
		}

		start := time.Now()
		stdout, stderr, exitCode, err := p.cmd.Run(dir, argv)
		if err != nil {
			return nil, fmt.Errorf("gate %q: %w", spec.Name, err)
		}

		result.Results = append(result.Results, Result{
			Name:     spec.Name,
			Passed:   exitCode == 0,
			ExitCode: exitCode,
			Stdout:   stdout,
			Stderr:   stderr,
			Duration: time.Since(start),
		})
		if exitCode != 0 {
			result.Passed = false
		}
	}

	return result, nil
}
