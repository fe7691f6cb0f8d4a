// Package prompt builds the prompts the orchestrator sends to the agent:
// fresh-start and resume work prompts, gate-fix prompts, review prompts,
// and the commit message template.
package prompt

import (
	"fmt"
	"strings"

	"github.com/lucasnoah/issuemill/internal/gate"
	"github.com/lucasnoah/issuemill/internal/tracker"
)

const freshTemplate = `# Work item {{item_id}}: {{item_title}}

{{item_body}}

{{#if design}}
## Design Notes
{{design}}
{{/if}}
{{#if acceptance_criteria}}
## Acceptance Criteria
{{acceptance_criteria}}
{{/if}}

## Instructions
1. Read the relevant code to understand the current state
2. Implement the change described above
3. Write or update tests for your changes
4. Run the tests and make them pass before finishing
`

const resumeTemplate = `# Resume work item {{item_id}}: {{item_title}}

This item was already in progress when a previous run ended. Pick up where
the last session left off; do not start over.

{{item_body}}

{{#if design}}
## Design Notes
{{design}}
{{/if}}
{{#if acceptance_criteria}}
## Acceptance Criteria
{{acceptance_criteria}}
{{/if}}
{{#if notes}}
## Notes from previous sessions
{{notes}}
{{/if}}

## Instructions
1. Inspect the working copy for partial work from the previous session
2. Finish the change described above
3. Make sure the tests pass before finishing
`

const fixTemplate = `# Fix failing quality gates for {{item_id}}: {{item_title}}

The change is implemented but the following gate commands failed. Fix the
underlying problems; do not weaken or skip the gates themselves.

{{failures}}
`

const reviewTemplate = `{{instruction}}

Review the following diff of the current working copy. Fix any problems you
find directly in the files; do not just report them.

` + "```diff\n{{diff}}\n```\n"

// DefaultCommitTemplate is used when the config does not set one.
const DefaultCommitTemplate = "{{item_id}}: {{item_title}}"

func itemVars(item *tracker.WorkItem) Vars {
	return Vars{
		"item_id":             item.ID,
		"item_title":          item.Title,
		"item_body":           item.Body,
		"design":              item.Design,
		"acceptance_criteria": item.AcceptanceCriteria,
		"notes":               item.Notes,
	}
}

// Fresh builds the work prompt for a newly claimed item.
func Fresh(item *tracker.WorkItem) (string, error) {
	return Render(freshTemplate, itemVars(item))
}

// Resume builds the work prompt for an item carried over from a previous
// run, embedding any prior-session notes.
func Resume(item *tracker.WorkItem) (string, error) {
	return Render(resumeTemplate, itemVars(item))
}

// GateFix builds the fix prompt from the failing gate results. Each gate's
// captured output is truncated to limit bytes to keep the prompt tractable.
func GateFix(item *tracker.WorkItem, failed []gate.Result, limit int) (string, error) {
	var b strings.Builder
	for _, r := range failed {
		fmt.Fprintf(&b, "## Gate %q (exit %d)\n", r.Name, r.ExitCode)
		if out := Truncate(r.Stdout, limit); out != "" {
			fmt.Fprintf(&b, "### stdout\n```\n%s\n```\n", out)
		}
		if errOut := Truncate(r.Stderr, limit); errOut != "" {
			fmt.Fprintf(&b, "### stderr\n```\n%s\n```\n", errOut)
		}
		b.WriteString("\n")
	}

	return Render(fixTemplate, Vars{
		"item_id":    item.ID,
		"item_title": item.Title,
		"failures":   strings.TrimSpace(b.String()),
	})
}

// Review builds the composite prompt for one review pass: the configured
// instruction plus the literal diff text.
func Review(instruction, diff string) (string, error) {
	return Render(reviewTemplate, Vars{
		"instruction": instruction,
		"diff":        diff,
	})
}

// CommitMessage renders the commit message template with the item's current
// metadata. The item's metadata at commit time is authoritative.
func CommitMessage(tmpl string, item *tracker.WorkItem) (string, error) {
	if tmpl == "" {
		tmpl = DefaultCommitTemplate
	}
	return Render(tmpl, Vars{
		"item_id":    item.ID,
		"item_title": item.Title,
		"item_type":  item.Type,
	})
}

// Truncate cuts s to at most limit bytes, appending a marker when content
// was dropped. A non-positive limit disables truncation.
func Truncate(s string, limit int) string {
	s = strings.TrimSpace(s)
	if limit <= 0 || len(s) <= limit {
		return s
	}
	return s[:limit] + "\n... (truncated)"
}
