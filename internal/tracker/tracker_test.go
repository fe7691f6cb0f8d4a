package tracker

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

type mockCmd struct {
	calls   [][]string
	results []mockResult
	idx     int
}

type mockResult struct {
	output string
	err    error
}

func (m *mockCmd) Run(args ...string) (string, error) {
	m.calls = append(m.calls, args)
	if m.idx >= len(m.results) {
		return "", nil
	}
	r := m.results[m.idx]
	m.idx++
	return r.output, r.err
}

func TestListReady(t *testing.T) {
	listJSON := `[
		{"id": "im-101", "title": "Fix flaky test", "status": "open", "priority": 1},
		{"id": "im-102", "title": "Add retry metrics", "status": "open", "priority": 2}
	]`
	mock := &mockCmd{results: []mockResult{{output: listJSON}}}

	client := NewClient(mock)
	items, err := client.ListReady()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	// Return order defines priority selection.
	if items[0].ID != "im-101" {
		t.Errorf("expected im-101 first, got %q", items[0].ID)
	}
	if !reflect.DeepEqual(mock.calls[0], []string{"list", "--ready", "--json"}) {
		t.Errorf("unexpected args: %v", mock.calls[0])
	}
}

func TestListReady_Empty(t *testing.T) {
	mock := &mockCmd{results: []mockResult{{output: "[]"}}}

	client := NewClient(mock)
	items, err := client.ListReady()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("expected no items, got %d", len(items))
	}
}

func TestGet_ParsesAcceptanceCriteria(t *testing.T) {
	itemJSON := `{
		"id": "im-7",
		"title": "Add login",
		"body": "Implement auth.\n\n## Acceptance Criteria\n- [ ] Login works\n- [ ] Logout works",
		"status": "open"
	}`
	mock := &mockCmd{results: []mockResult{{output: itemJSON}}}

	client := NewClient(mock)
	item, err := client.Get("im-7")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(item.AcceptanceCriteria, "Login works") {
		t.Errorf("expected AC to contain 'Login works', got %q", item.AcceptanceCriteria)
	}
}

func TestGet_EmptyID(t *testing.T) {
	mock := &mockCmd{}
	client := NewClient(mock)

	if _, err := client.Get(""); err == nil {
		t.Fatal("expected error for empty id")
	}
	if len(mock.calls) != 0 {
		t.Errorf("expected 0 CLI calls, got %d", len(mock.calls))
	}
}

func TestSetStatus(t *testing.T) {
	mock := &mockCmd{results: []mockResult{
		{output: `{"id": "im-7", "title": "Add login", "status": "in_progress"}`},
	}}

	client := NewClient(mock)
	item, err := client.SetStatus("im-7", StatusInProgress)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if item.Status != StatusInProgress {
		t.Errorf("expected in_progress, got %q", item.Status)
	}
	if !reflect.DeepEqual(mock.calls[0], []string{"update", "im-7", "--status", "in_progress", "--json"}) {
		t.Errorf("unexpected args: %v", mock.calls[0])
	}
}

func TestClose(t *testing.T) {
	mock := &mockCmd{}
	client := NewClient(mock)

	if err := client.Close("im-7", "completed by agent"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(mock.calls[0], []string{"close", "im-7", "--reason", "completed by agent"}) {
		t.Errorf("unexpected args: %v", mock.calls[0])
	}
}

func TestAppendNotes(t *testing.T) {
	mock := &mockCmd{results: []mockResult{
		{output: `{"id": "im-7", "status": "in_progress", "notes": "attempt 1 failed: rate limit"}`},
	}}

	client := NewClient(mock)
	item, err := client.AppendNotes("im-7", "attempt 1 failed: rate limit")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(item.Notes, "rate limit") {
		t.Errorf("expected notes to carry failure context, got %q", item.Notes)
	}
}

func TestErrorCarriesRawOutput(t *testing.T) {
	mock := &mockCmd{results: []mockResult{
		{output: "error: rate limit exceeded (429)", err: errors.New("exit status 1")},
	}}

	client := NewClient(mock)
	_, err := client.ListReady()
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "list ready") {
		t.Errorf("expected operation context in error, got %q", err.Error())
	}
}

func TestExtractAcceptanceCriteria(t *testing.T) {
	body := "Intro.\n\n## Acceptance Criteria\nMust round-trip.\n\n## Notes\nother"
	got := ExtractAcceptanceCriteria(body)
	if got != "Must round-trip." {
		t.Errorf("ExtractAcceptanceCriteria = %q", got)
	}

	checkboxes := "Do it.\n- [ ] first\n- [x] second"
	got = ExtractAcceptanceCriteria(checkboxes)
	if !strings.Contains(got, "- first") || !strings.Contains(got, "- second") {
		t.Errorf("checkbox extraction = %q", got)
	}

	if ExtractAcceptanceCriteria("nothing here") != "" {
		t.Error("expected empty AC for plain body")
	}
}
