package orchestrator

import (
	"github.com/lucasnoah/issuemill/internal/gate"
	"github.com/lucasnoah/issuemill/internal/tracker"
)

// State identifies one step of the per-item state machine. Each state has a
// single dispatch function; the transition rules live there and nowhere
// else, so the fix-round bound and resume-queue priority are checkable in
// isolation from process spawning.
type State int

const (
	// StateIdle is the between-items state: polling for work.
	StateIdle State = iota
	// StateClaiming marks an item in_progress before work starts.
	StateClaiming
	// StateRunningAgent is the primary agent invocation, with its retry
	// sub-cycle.
	StateRunningAgent
	// StateReviewing runs the review pipeline over the working-copy diff.
	StateReviewing
	// StateGating runs the quality-gate pipeline.
	StateGating
	// StateFixing is the single fix round after a gate failure, with its
	// own retry sub-cycle.
	StateFixing
	// StateCommitting commits the working copy.
	StateCommitting
	// StateClosing closes the tracker item.
	StateClosing
	// StateAbandoned records a failure and moves on to the next item.
	StateAbandoned
	// stateDone ends the current iteration; the loop returns to StateIdle.
	stateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateClaiming:
		return "claiming"
	case StateRunningAgent:
		return "running_agent"
	case StateReviewing:
		return "reviewing"
	case StateGating:
		return "gating"
	case StateFixing:
		return "fixing"
	case StateCommitting:
		return "committing"
	case StateClosing:
		return "closing"
	case StateAbandoned:
		return "abandoned"
	default:
		return "done"
	}
}

// RunState is the in-memory state of one orchestrator run. It lives for
// the process lifetime only; durable state belongs to the tracker.
type RunState struct {
	Iterations   int
	ResumeQueue  []tracker.WorkItem
	Completed    []string
	Failed       []string
	GateFailures int

	idleNotified bool
}

// Summary is the final report of a run.
type Summary struct {
	Completed    []string
	Failed       []string
	Iterations   int
	GateFailures int
}

// itemContext carries per-iteration working data between state handlers.
// It is ephemeral: produced and consumed within one loop iteration.
type itemContext struct {
	item           *tracker.WorkItem
	resumed        bool
	abandonNote    string
	gateFailed     bool
	fixRound       int
	lastGateResult *gate.PipelineResult
}
