package gate

import (
	"reflect"
	"testing"
)

type mockResult struct {
	stdout   string
	stderr   string
	exitCode int
	err      error
}

type mockCmd struct {
	results []mockResult
	calls   [][]string
	dirs    []string
}

func (m *mockCmd) Run(dir string, argv []string) (string, string, int, error) {
	m.calls = append(m.calls, argv)
	m.dirs = append(m.dirs, dir)
	if len(m.results) == 0 {
		return "", "", 0, nil
	}
	r := m.results[0]
	m.results = m.results[1:]
	return r.stdout, r.stderr, r.exitCode, r.err
}

func TestRun_Empty(t *testing.T) {
	p := NewPipeline(&mockCmd{})

	result, err := p.Run("/tmp", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Passed {
		t.Error("empty gate list should pass vacuously")
	}
	if len(result.Results) != 0 {
		t.Errorf("expected no results, got %d", len(result.Results))
	}
}

func TestRun_AllPass(t *testing.T) {
	mock := &mockCmd{results: []mockResult{
		{stdout: "ok"},
		{stdout: "ok"},
	}}
	p := NewPipeline(mock)

	result, err := p.Run("/work", []Spec{
		{Name: "vet", Command: "go vet ./..."},
		{Name: "test", Command: "go test ./..."},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Passed {
		t.Error("expected pipeline to pass")
	}
	if len(result.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(result.Results))
	}
	if !reflect.DeepEqual(mock.calls[0], []string{"go", "vet", "./..."}) {
		t.Errorf("unexpected argv: %#v", mock.calls[0])
	}
	if mock.dirs[0] != "/work" {
		t.Errorf("expected dir /work, got %q", mock.dirs[0])
	}
}

func TestRun_NoShortCircuit(t *testing.T) {
	mock := &mockCmd{results: []mockResult{
		{stderr: "3 files would be reformatted", exitCode: 1},
		{stdout: "ok"},
		{stderr: "FAIL", exitCode: 2},
	}}
	p := NewPipeline(mock)

	result, err := p.Run("/work", []Spec{
		{Name: "fmt", Command: "gofmt -l ."},
		{Name: "vet", Command: "go vet ./..."},
		{Name: "test", Command: "go test ./..."},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Passed {
		t.Error("expected pipeline to fail")
	}
	// Every gate runs even after a failure.
	if len(result.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(result.Results))
	}
	if result.Results[0].Passed || !result.Results[1].Passed || result.Results[2].Passed {
		t.Errorf("unexpected pass pattern: %+v", result.Results)
	}
	if got := result.FailedNames(); !reflect.DeepEqual(got, []string{"fmt", "test"}) {
		t.Errorf("FailedNames() = %v", got)
	}
	if failed := result.Failed(); len(failed) != 2 || failed[0].Stderr != "3 files would be reformatted" {
		t.Errorf("Failed() = %+v", failed)
	}
}

func TestRun_MalformedCommand(t *testing.T) {
	p := NewPipeline(&mockCmd{})

	_, err := p.Run("/work", []Spec{{Name: "bad", Command: `echo "unterminated`}})
	if err == nil {
		t.Fatal("expected tokenize error")
	}
}

func TestRun_ExecRunner(t *testing.T) {
	p := NewPipeline(&ExecRunner{})

	result, err := p.Run(t.TempDir(), []Spec{
		{Name: "ok", Command: "true"},
		{Name: "bad", Command: "false"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Passed {
		t.Error("expected pipeline to fail")
	}
	if len(result.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(result.Results))
	}
	if !result.Results[0].Passed {
		t.Error("expected 'true' gate to pass")
	}
	if result.Results[1].Passed || result.Results[1].ExitCode != 1 {
		t.Errorf("expected 'false' gate to fail with exit 1, got %+v", result.Results[1])
	}
}

func TestRun_ExecRunner_MissingBinary(t *testing.T) {
	p := NewPipeline(&ExecRunner{})

	_, err := p.Run(t.TempDir(), []Spec{{Name: "ghost", Command: "definitely-not-a-real-binary-xyz"}})
	if err == nil {
		t.Fatal("expected spawn error for missing binary")
	}
}
