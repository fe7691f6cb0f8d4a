// Package tracker wraps the issue-tracker CLI. The tracker owns every work
// item; the orchestrator reads and mutates status and notes but never
// deletes. All operations shell out to the configured CLI, which answers
// in JSON.
package tracker

import (
	"encoding/json"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

// Status values a work item can hold.
const (
	StatusOpen       = "open"
	StatusInProgress = "in_progress"
	StatusBlocked    = "blocked"
	StatusClosed     = "closed"
)

// WorkItem represents a tracked unit of work.
type WorkItem struct {
	ID                 string    `json:"id"`
	Title              string    `json:"title"`
	Body               string    `json:"body"`
	Design             string    `json:"design,omitempty"`
	AcceptanceCriteria string    `json:"acceptance_criteria,omitempty"`
	Notes              string    `json:"notes,omitempty"`
	Status             string    `json:"status"`
	Priority           int       `json:"priority"`
	Type               string    `json:"type,omitempty"`
	Created            time.Time `json:"created"`
	Updated            time.Time `json:"updated"`
}

// CmdRunner provides tracker CLI execution. Interface for testing.
type CmdRunner interface {
	Run(args ...string) (string, error)
}

// ExecRunner runs the tracker CLI via exec.
type ExecRunner struct {
	Command string
}

func (r *ExecRunner) Run(args ...string) (string, error) {
	cmd := exec.Command(r.Command, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		// The raw CLI output is kept verbatim; the retry policy pattern-matches it.
		return strings.TrimSpace(string(out)), fmt.Errorf("%s %s: %s: %w", r.Command, strings.Join(args, " "), strings.TrimSpace(string(out)), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Client provides tracker operations.
type Client struct {
	cmd CmdRunner
}

// NewClient creates a tracker client.
func NewClient(cmd CmdRunner) *Client {
	return &Client{cmd: cmd}
}

// ListReady returns items that are open and unblocked, in the tracker's
// priority order. The return order defines selection: the loop claims the
// first item.
func (c *Client) ListReady() ([]WorkItem, error) {
	out, err := c.cmd.Run("list", "--ready", "--json")
	if err != nil {
		return nil, fmt.Errorf("list ready: %w", err)
	}
	return parseItems(out)
}

// GetByStatus returns all items with the given status.
func (c *Client) GetByStatus(status string) ([]WorkItem, error) {
	out, err := c.cmd.Run("list", "--status", status, "--json")
	if err != nil {
		return nil, fmt.Errorf("list by status %q: %w", status, err)
	}
	return parseItems(out)
}

// Get fetches a single item by id.
func (c *Client) Get(id string) (*WorkItem, error) {
	if id == "" {
		return nil, fmt.Errorf("empty item id")
	}
	out, err := c.cmd.Run("show", id, "--json")
	if err != nil {
		return nil, fmt.Errorf("show %s: %w", id, err)
	}
	return parseItem(out)
}

// SetStatus updates an item's status and returns the updated item.
func (c *Client) SetStatus(id, status string) (*WorkItem, error) {
	if id == "" {
		return nil, fmt.Errorf("empty item id")
	}
	out, err := c.cmd.Run("update", id, "--status", status, "--json")
	if err != nil {
		return nil, fmt.Errorf("set status %s=%s: %w", id, status, err)
	}
	return parseItem(out)
}

// Close marks an item closed with a reason.
func (c *Client) Close(id, reason string) error {
	if id == "" {
		return fmt.Errorf("empty item id")
	}
	_, err := c.cmd.Run("close", id, "--reason", reason)
	if err != nil {
		return fmt.Errorf("close %s: %w", id, err)
	}
	return nil
}

// AppendNotes appends text to an item's notes, preserving what is already
// there, and returns the updated item. Notes are the durable channel for
// failure context: a human or a later resumed run reads them.
func (c *Client) AppendNotes(id, text string) (*WorkItem, error) {
	if id == "" {
		return nil, fmt.Errorf("empty item id")
	}
	out, err := c.cmd.Run("update", id, "--append-notes", text, "--json")
	if err != nil {
		return nil, fmt.Errorf("append notes %s: %w", id, err)
	}
	return parseItem(out)
}

func parseItem(out string) (*WorkItem, error) {
	var item WorkItem
	if err := json.Unmarshal([]byte(out), &item); err != nil {
		return nil, fmt.Errorf("parse item JSON: %w", err)
	}
	if item.AcceptanceCriteria == "" {
		item.AcceptanceCriteria = ExtractAcceptanceCriteria(item.Body)
	}
	return &item, nil
}

func parseItems(out string) ([]WorkItem, error) {
	if out == "" {
		return nil, nil
	}
	var items []WorkItem
	if err := json.Unmarshal([]byte(out), &items); err != nil {
		return nil, fmt.Errorf("parse item list JSON: %w", err)
	}
	for i := range items {
		if items[i].AcceptanceCriteria == "" {
			items[i].AcceptanceCriteria = ExtractAcceptanceCriteria(items[i].Body)
		}
	}
	return items, nil
}

var acHeaderRe = regexp.MustCompile(`(?mi)^##\s+acceptance\s+criteria`)
var checkboxRe = regexp.MustCompile(`(?m)^\s*[-*]\s+\[[ xX]\]\s+(.+)$`)
var nextHeaderRe = regexp.MustCompile(`(?m)^##\s+`)

// ExtractAcceptanceCriteria parses acceptance criteria from an item body.
// It looks for an "## Acceptance Criteria" header or a checkbox list.
func ExtractAcceptanceCriteria(body string) string {
	loc := acHeaderRe.FindStringIndex(body)
	if loc != nil {
		section := body[loc[1]:]
		nextLoc := nextHeaderRe.FindStringIndex(section)
		if nextLoc != nil {
			section = section[:nextLoc[0]]
		}
		return strings.TrimSpace(section)
	}

	matches := checkboxRe.FindAllStringSubmatch(body, -1)
	if len(matches) > 0 {
		var criteria []string
		for _, m := range matches {
			criteria = append(criteria, "- "+m[1])
		}
		return strings.Join(criteria, "\n")
	}

	return ""
}
