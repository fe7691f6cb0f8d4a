// Package vcs wraps the git operations the loop needs around one working
// copy. The working copy is exclusively owned by the active item for the
// duration of an iteration; nothing here is safe for concurrent use.
package vcs

import (
	"fmt"
	"os/exec"
	"strings"
)

// GitRunner provides git command execution. Interface for testing.
type GitRunner interface {
	RunGit(dir string, args ...string) (string, error)
}

// ExecRunner implements GitRunner using exec.Command.
type ExecRunner struct{}

func (r *ExecRunner) RunGit(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return strings.TrimSpace(string(out)), fmt.Errorf("git %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(string(out)), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// OpResult reports the outcome of a commit-shaped operation.
type OpResult struct {
	Success bool
	Message string
	Err     string
}

// Client provides VCS operations against one working copy.
type Client struct {
	git GitRunner
	dir string
}

// NewClient creates a VCS client rooted at dir.
func NewClient(git GitRunner, dir string) *Client {
	return &Client{git: git, dir: dir}
}

// Dir returns the working-copy root.
func (c *Client) Dir() string {
	return c.dir
}

// HasPendingChanges reports whether the working copy has uncommitted
// changes, including untracked files.
func (c *Client) HasPendingChanges() (bool, error) {
	out, err := c.git.RunGit(c.dir, "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("status: %w", err)
	}
	return strings.TrimSpace(out) != "", nil
}

// Diff returns the current working-copy diff against HEAD. This is what the
// review pipeline feeds to the agent, re-fetched after every review.
// Untracked files are registered with intent-to-add first so a change made
// entirely of new files still produces a reviewable diff.
func (c *Client) Diff() (string, error) {
	if _, err := c.git.RunGit(c.dir, "add", "--intent-to-add", "--all"); err != nil {
		return "", fmt.Errorf("registering untracked files: %w", err)
	}
	out, err := c.git.RunGit(c.dir, "diff", "HEAD")
	if err != nil {
		return "", fmt.Errorf("diff: %w", err)
	}
	return out, nil
}

// Commit stages everything and commits with the given message. A failed
// commit is reported in the result, not as an error: closing the tracker
// item takes priority over committing, so callers log and move on.
func (c *Client) Commit(message string) *OpResult {
	if _, err := c.git.RunGit(c.dir, "add", "-A"); err != nil {
		return &OpResult{Err: err.Error()}
	}
	out, err := c.git.RunGit(c.dir, "commit", "-m", message)
	if err != nil {
		// Nothing staged is a no-op, not a failure.
		if strings.Contains(out, "nothing to commit") {
			return &OpResult{Success: true, Message: "nothing to commit"}
		}
		return &OpResult{Err: err.Error()}
	}
	return &OpResult{Success: true, Message: out}
}

// EnsureCleanWorkingCopy isolates pre-existing uncommitted work before the
// loop starts mutating the working copy, by stashing it out of the way.
func (c *Client) EnsureCleanWorkingCopy() *OpResult {
	pending, err := c.HasPendingChanges()
	if err != nil {
		return &OpResult{Err: err.Error()}
	}
	if !pending {
		return &OpResult{Success: true, Message: "working copy clean"}
	}

	out, err := c.git.RunGit(c.dir, "stash", "push", "--include-untracked", "-m", "issuemill pre-run stash")
	if err != nil {
		return &OpResult{Err: err.Error()}
	}
	return &OpResult{Success: true, Message: out}
}
