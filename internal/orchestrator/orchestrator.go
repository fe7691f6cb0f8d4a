// Package orchestrator is the top-level loop: pull a work item, hand it to
// the agent, thread the result through reviews and gates, then commit and
// close. One item is active at a time; every stage mutates the same shared
// working copy, so the loop is strictly sequential by design.
package orchestrator

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lucasnoah/issuemill/internal/agent"
	"github.com/lucasnoah/issuemill/internal/gate"
	"github.com/lucasnoah/issuemill/internal/prompt"
	"github.com/lucasnoah/issuemill/internal/retry"
	"github.com/lucasnoah/issuemill/internal/review"
	"github.com/lucasnoah/issuemill/internal/tracker"
	"github.com/lucasnoah/issuemill/internal/vcs"
)

// CloseReason is the standard reason recorded when the loop closes an item.
const CloseReason = "completed by issuemill"

// DefaultMaxIterations bounds a run when the caller does not.
const DefaultMaxIterations = 10

// Tracker is the slice of the tracker client the loop needs.
type Tracker interface {
	ListReady() ([]tracker.WorkItem, error)
	Get(id string) (*tracker.WorkItem, error)
	SetStatus(id, status string) (*tracker.WorkItem, error)
	Close(id, reason string) error
	AppendNotes(id, text string) (*tracker.WorkItem, error)
}

// VCS is the slice of the version-control client the loop needs.
type VCS interface {
	HasPendingChanges() (bool, error)
	Commit(message string) *vcs.OpResult
}

// GateRunner runs the gate pipeline.
type GateRunner interface {
	Run(dir string, specs []gate.Spec) (*gate.PipelineResult, error)
}

// ReviewRunner runs the review pipeline.
type ReviewRunner interface {
	Run(prompts []string) *review.Outcome
}

// Inhibitor toggles host idle-sleep inhibition.
type Inhibitor interface {
	Enable()
	Disable()
}

// Recorder receives run-history events. All writes are best-effort.
type Recorder interface {
	LogRunStart(runID string) error
	LogRunEnd(runID string, iterations, completed, failed, gateFailures int) error
	LogItemEvent(runID, itemID, event, detail string) error
	LogGateRun(runID, itemID string, fixRound int, gateName string, passed bool, exitCode, durationMs int) error
}

// ShutdownFlag reports whether a shutdown signal has been received.
type ShutdownFlag interface {
	ShuttingDown() bool
}

// Options configures a Loop.
type Options struct {
	Tracker   Tracker
	Agent     agent.Invoker
	VCS       VCS
	Gates     GateRunner
	Reviews   ReviewRunner
	Inhibitor Inhibitor
	History   Recorder
	Shutdown  ShutdownFlag

	Logger   *slog.Logger
	Progress io.Writer // live progress output; nil = silent

	Workdir        string
	GateSpecs      []gate.Spec
	ReviewPrompts  []string
	AgentOptions   agent.Options
	MaxIterations  int
	MaxRetries     int
	PollInterval   time.Duration
	BackoffBase    time.Duration
	BackoffCap     time.Duration
	OutputLimit    int
	GitEnabled     bool
	CommitTemplate string

	// ResumeQueue holds in_progress items carried over from a previous
	// run. It is drained front-to-back before any new work is pulled.
	ResumeQueue []tracker.WorkItem
}

// Loop drives work items through the agent, gates, and reviews.
type Loop struct {
	opts  Options
	runID string

	// sleep is swapped out in tests so backoff and poll waits return
	// immediately.
	sleep func(time.Duration)
}

// New creates a Loop. Nil collaborators that have a safe no-op (inhibitor,
// history, shutdown flag) are replaced with one.
func New(opts Options) *Loop {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Inhibitor == nil {
		opts.Inhibitor = nopInhibitor{}
	}
	if opts.History == nil {
		opts.History = nopRecorder{}
	}
	if opts.Shutdown == nil {
		opts.Shutdown = nopShutdown{}
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = retry.DefaultMaxAttempts
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 30 * time.Second
	}
	return &Loop{
		opts:  opts,
		runID: uuid.New().String(),
		sleep: time.Sleep,
	}
}

// RunID returns the identifier stamped on this run's history rows.
func (l *Loop) RunID() string {
	return l.runID
}

// logf prints a progress line if a progress writer is configured.
func (l *Loop) logf(format string, args ...interface{}) {
	if l.opts.Progress != nil {
		fmt.Fprintf(l.opts.Progress, "  → "+format+"\n", args...)
	}
}

// Run executes the loop until the iteration bound is reached, the tracker
// becomes unusable, or shutdown is requested. The returned error is the
// unrecoverable break reason, if any; the Summary is always valid.
func (l *Loop) Run() (*Summary, error) {
	rs := &RunState{ResumeQueue: append([]tracker.WorkItem(nil), l.opts.ResumeQueue...)}
	_ = l.opts.History.LogRunStart(l.runID)

	l.opts.Logger.Info("run started", "run_id", l.runID,
		"max_iterations", l.opts.MaxIterations, "resume_queue", len(rs.ResumeQueue))

	var breakErr error
	for rs.Iterations < l.opts.MaxIterations {
		if l.opts.Shutdown.ShuttingDown() {
			l.opts.Logger.Info("shutdown requested, stopping loop")
			break
		}

		ctx, err := l.nextItem(rs)
		if err != nil {
			breakErr = err
			break
		}
		if ctx == nil {
			// Idle poll; does not count as an iteration.
			continue
		}

		rs.Iterations++
		l.processItem(rs, ctx)
	}

	l.opts.Inhibitor.Disable()

	summary := &Summary{
		Completed:    rs.Completed,
		Failed:       rs.Failed,
		Iterations:   rs.Iterations,
		GateFailures: rs.GateFailures,
	}
	_ = l.opts.History.LogRunEnd(l.runID, summary.Iterations,
		len(summary.Completed), len(summary.Failed), summary.GateFailures)

	l.opts.Logger.Info("run finished", "run_id", l.runID,
		"iterations", summary.Iterations, "completed", len(summary.Completed),
		"failed", len(summary.Failed), "gate_failures", summary.GateFailures)
	return summary, breakErr
}

// nextItem produces the next active item: the resume queue is drained
// strictly before new work is pulled, so a crash-recovery run never starts
// fresh work while stale in_progress items are unhandled. Returns (nil,
// nil) after an idle poll and a tracker error when the run cannot continue.
func (l *Loop) nextItem(rs *RunState) (*itemContext, error) {
	if len(rs.ResumeQueue) > 0 {
		item := rs.ResumeQueue[0]
		rs.ResumeQueue = rs.ResumeQueue[1:]
		rs.idleNotified = false

		// Already in_progress from the previous run; no claim needed.
		l.logf("resuming %s: %s", item.ID, item.Title)
		l.opts.Inhibitor.Enable()
		_ = l.opts.History.LogItemEvent(l.runID, item.ID, "resumed", "")
		return &itemContext{item: &item, resumed: true}, nil
	}

	items, err := l.opts.Tracker.ListReady()
	if err != nil {
		return nil, fmt.Errorf("list ready work: %w", err)
	}

	if len(items) == 0 {
		l.opts.Inhibitor.Disable()
		if !rs.idleNotified {
			l.logf("no ready work, polling every %s", l.opts.PollInterval)
			l.opts.Logger.Info("idle", "poll_interval", l.opts.PollInterval)
			rs.idleNotified = true
		}
		l.sleep(l.opts.PollInterval)
		return nil, nil
	}
	rs.idleNotified = false

	// The tracker's return order defines priority; claim the head.
	item := items[0]
	claimed, err := l.opts.Tracker.SetStatus(item.ID, tracker.StatusInProgress)
	if err != nil {
		// A tracker that cannot claim cannot safely be driven further.
		rs.Failed = append(rs.Failed, item.ID)
		return nil, fmt.Errorf("claim %s: %w", item.ID, err)
	}

	l.logf("claimed %s: %s", claimed.ID, claimed.Title)
	l.opts.Inhibitor.Enable()
	_ = l.opts.History.LogItemEvent(l.runID, claimed.ID, "claimed", "")
	return &itemContext{item: claimed}, nil
}

// processItem drives one item through the state machine until it reaches a
// terminal state.
func (l *Loop) processItem(rs *RunState, ctx *itemContext) {
	st := StateRunningAgent
	for {
		l.opts.Logger.Debug("state", "item", ctx.item.ID, "state", st.String())
		switch st {
		case StateRunningAgent:
			st = l.stateRunAgent(ctx)
		case StateReviewing:
			st = l.stateReview(ctx)
		case StateGating:
			st = l.stateGate(rs, ctx)
		case StateFixing:
			st = l.stateFix(rs, ctx)
		case StateCommitting:
			st = l.stateCommit(ctx)
		case StateClosing:
			st = l.stateClose(rs, ctx)
		case StateAbandoned:
			l.abandon(ctx)
			return
		default: // stateDone
			return
		}
	}
}

// stateRunAgent builds the work prompt and invokes the agent under the
// retry sub-cycle. Permanent failure or retry exhaustion abandons the item.
func (l *Loop) stateRunAgent(ctx *itemContext) State {
	var (
		p   string
		err error
	)
	if ctx.resumed {
		p, err = prompt.Resume(ctx.item)
	} else {
		p, err = prompt.Fresh(ctx.item)
	}
	if err != nil {
		ctx.abandonNote = fmt.Sprintf("failed to build work prompt: %v", err)
		return StateAbandoned
	}

	l.logf("%s: invoking agent", ctx.item.ID)
	if _, err := l.invokeWithRetry(p); err != nil {
		ctx.abandonNote = fmt.Sprintf("agent invocation failed: %v", err)
		return StateAbandoned
	}
	return StateReviewing
}

// stateReview runs the review pipeline. A review failure leaves the item
// in_progress for a future pass; reviews are advisory, not hard blockers.
func (l *Loop) stateReview(ctx *itemContext) State {
	outcome := l.opts.Reviews.Run(l.opts.ReviewPrompts)
	if !outcome.Success {
		l.logf("%s: review pipeline failed after %d review(s): %v", ctx.item.ID, outcome.ReviewsRun, outcome.Err)
		l.leaveInProgress(ctx, fmt.Sprintf("review pipeline failed after %d review(s): %v", outcome.ReviewsRun, outcome.Err))
		return stateDone
	}
	if outcome.ReviewsRun > 0 {
		l.logf("%s: %d review(s) completed", ctx.item.ID, outcome.ReviewsRun)
	}
	return StateGating
}

// stateGate runs the full gate pipeline. A gate failure is not an error;
// it routes into the single fix round.
func (l *Loop) stateGate(rs *RunState, ctx *itemContext) State {
	result, err := l.opts.Gates.Run(l.opts.Workdir, l.opts.GateSpecs)
	if err != nil {
		l.leaveInProgress(ctx, fmt.Sprintf("gate pipeline error: %v", err))
		return stateDone
	}
	l.recordGateRuns(ctx, result)

	if result.Passed {
		l.logf("%s: all gates passed", ctx.item.ID)
		return StateCommitting
	}

	if !ctx.gateFailed {
		ctx.gateFailed = true
		rs.GateFailures++
	}
	failed := result.FailedNames()
	l.logf("%s: gates failed: %s", ctx.item.ID, strings.Join(failed, ", "))

	if ctx.fixRound > 0 {
		// One fix round per iteration bounds latency and cost per pass.
		l.leaveInProgress(ctx, fmt.Sprintf("gates still failing after fix round: %s", strings.Join(failed, ", ")))
		return stateDone
	}

	ctx.lastGateResult = result
	return StateFixing
}

// stateFix invokes the agent with the failing gates' output, then re-runs
// the gate pipeline exactly once via StateGating.
func (l *Loop) stateFix(rs *RunState, ctx *itemContext) State {
	ctx.fixRound++

	p, err := prompt.GateFix(ctx.item, ctx.lastGateResult.Failed(), l.opts.OutputLimit)
	if err != nil {
		l.leaveInProgress(ctx, fmt.Sprintf("failed to build fix prompt: %v", err))
		return stateDone
	}

	l.logf("%s: invoking agent to fix failing gates (round %d)", ctx.item.ID, ctx.fixRound)
	if _, err := l.invokeWithRetry(p); err != nil {
		l.leaveInProgress(ctx, fmt.Sprintf("gate-fix invocation failed: %v", err))
		return stateDone
	}
	return StateGating
}

// stateCommit commits the working copy when git integration is enabled. A
// commit failure is logged but never blocks closing: the tracker close is
// the higher-priority guarantee.
func (l *Loop) stateCommit(ctx *itemContext) State {
	if !l.opts.GitEnabled || l.opts.VCS == nil {
		return StateClosing
	}

	// The item's current tracker metadata is authoritative at commit time.
	item := ctx.item
	if fresh, err := l.opts.Tracker.Get(item.ID); err == nil {
		item = fresh
	}

	msg, err := prompt.CommitMessage(l.opts.CommitTemplate, item)
	if err != nil {
		msg = fmt.Sprintf("%s: %s", item.ID, item.Title)
	}

	if pending, err := l.opts.VCS.HasPendingChanges(); err != nil || !pending {
		if err != nil {
			l.opts.Logger.Warn("pending-change check failed", "item", item.ID, "error", err)
		}
		return StateClosing
	}

	result := l.opts.VCS.Commit(msg)
	if !result.Success {
		l.opts.Logger.Warn("commit failed", "item", item.ID, "error", result.Err)
		l.logf("%s: commit failed (continuing to close): %s", item.ID, result.Err)
	} else {
		l.logf("%s: committed", item.ID)
		_ = l.opts.History.LogItemEvent(l.runID, item.ID, "committed", msg)
	}
	return StateClosing
}

// stateClose closes the tracker item. Close is the only tracker operation
// whose failure puts an id on the failed list.
func (l *Loop) stateClose(rs *RunState, ctx *itemContext) State {
	if err := l.opts.Tracker.Close(ctx.item.ID, CloseReason); err != nil {
		l.opts.Logger.Error("close failed", "item", ctx.item.ID, "error", err)
		rs.Failed = append(rs.Failed, ctx.item.ID)
		_ = l.opts.History.LogItemEvent(l.runID, ctx.item.ID, "close_failed", err.Error())
		l.appendNotes(ctx.item.ID, fmt.Sprintf("failed to close item: %v", err))
		return stateDone
	}

	rs.Completed = append(rs.Completed, ctx.item.ID)
	_ = l.opts.History.LogItemEvent(l.runID, ctx.item.ID, "closed", CloseReason)
	l.logf("%s: closed", ctx.item.ID)
	return stateDone
}

// abandon records why an item was given up on. The item stays in_progress
// in the tracker; only an operator-facing pre-run check reverts it.
func (l *Loop) abandon(ctx *itemContext) {
	l.opts.Logger.Warn("abandoning item", "item", ctx.item.ID, "reason", ctx.abandonNote)
	l.logf("%s: abandoned: %s", ctx.item.ID, ctx.abandonNote)
	l.appendNotes(ctx.item.ID, "abandoned: "+ctx.abandonNote)
	_ = l.opts.History.LogItemEvent(l.runID, ctx.item.ID, "abandoned", ctx.abandonNote)
}

// leaveInProgress records why an item was left open for a future pass.
func (l *Loop) leaveInProgress(ctx *itemContext, note string) {
	l.opts.Logger.Warn("leaving item in progress", "item", ctx.item.ID, "reason", note)
	l.appendNotes(ctx.item.ID, note)
	_ = l.opts.History.LogItemEvent(l.runID, ctx.item.ID, "left_in_progress", note)
}

// appendNotes writes failure context to the tracker item, best-effort.
// Nothing is silently dropped: a failed write still lands in the log.
func (l *Loop) appendNotes(id, text string) {
	stamped := fmt.Sprintf("[issuemill %s] %s", time.Now().UTC().Format(time.RFC3339), text)
	if _, err := l.opts.Tracker.AppendNotes(id, stamped); err != nil {
		l.opts.Logger.Error("failed to append notes", "item", id, "error", err)
	}
}

// invokeWithRetry runs one agent invocation under the transient-failure
// retry sub-cycle: up to MaxRetries attempts total, backing off between
// attempts. The attempt counter is local to this call, so issue attempts
// and gate-fix attempts are tracked independently.
func (l *Loop) invokeWithRetry(p string) (*agent.Result, error) {
	var lastErrText string
	for attempt := 0; attempt < l.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := retry.BackoffDelay(attempt-1, l.opts.BackoffBase, l.opts.BackoffCap)
			l.opts.Logger.Info("retrying agent invocation", "attempt", attempt+1, "delay", delay)
			l.sleep(delay)
		}

		result, err := l.opts.Agent.Invoke(p, l.opts.AgentOptions)
		if err != nil {
			lastErrText = err.Error()
		} else if result.Success {
			return result, nil
		} else {
			lastErrText = result.Error
		}

		class := retry.Classify(lastErrText)
		if !class.Transient() {
			return nil, fmt.Errorf("permanent failure: %s", firstLine(lastErrText))
		}
		l.opts.Logger.Warn("transient agent failure", "class", class.String(), "attempt", attempt+1)
	}
	return nil, fmt.Errorf("exhausted %d attempts, last error: %s", l.opts.MaxRetries, firstLine(lastErrText))
}

// recordGateRuns writes each gate command outcome to the history DB.
func (l *Loop) recordGateRuns(ctx *itemContext, result *gate.PipelineResult) {
	for _, r := range result.Results {
		_ = l.opts.History.LogGateRun(l.runID, ctx.item.ID, ctx.fixRound, r.Name,
			r.Passed, r.ExitCode, int(r.Duration.Milliseconds()))
	}
}

// firstLine truncates multi-line error text for notes and log lines.
func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

type nopInhibitor struct{}

func (nopInhibitor) Enable()  {}
func (nopInhibitor) Disable() {}

type nopRecorder struct{}

func (nopRecorder) LogRunStart(string) error                                    { return nil }
func (nopRecorder) LogRunEnd(string, int, int, int, int) error                  { return nil }
func (nopRecorder) LogItemEvent(string, string, string, string) error           { return nil }
func (nopRecorder) LogGateRun(string, string, int, string, bool, int, int) error { return nil }

type nopShutdown struct{}

func (nopShutdown) ShuttingDown() bool { return false }
