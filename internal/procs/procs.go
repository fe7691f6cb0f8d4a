// Package procs tracks every child process the orchestrator spawns and
// guarantees none of them survive the orchestrator being interrupted.
package procs

import (
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// TerminateGrace is how long Shutdown waits for a child to exit after
// SIGTERM before escalating to SIGKILL.
const TerminateGrace = 5 * time.Second

// TrackedProcess records one registered child.
type TrackedProcess struct {
	Cmd  *exec.Cmd
	Name string
	PID  int
}

// Manager is the owned registry of spawned children. It is constructed once
// at process start and threaded to every component that spawns processes.
type Manager struct {
	logger *slog.Logger

	mu    sync.Mutex
	procs map[*exec.Cmd]*TrackedProcess

	shuttingDown atomic.Bool

	// exit is swapped out in tests so signal paths can be exercised
	// without killing the test binary.
	exit func(code int)
}

// NewManager creates a Manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		logger: logger,
		procs:  make(map[*exec.Cmd]*TrackedProcess),
		exit:   os.Exit,
	}
}

// Register records a started child process. It must be called before the
// first blocking point that could yield to the signal path, i.e. right
// after cmd.Start returns.
func (m *Manager) Register(cmd *exec.Cmd, name string) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.procs[cmd] = &TrackedProcess{Cmd: cmd, Name: name, PID: cmd.Process.Pid}
}

// Unregister removes a child on clean exit.
func (m *Manager) Unregister(cmd *exec.Cmd) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.procs, cmd)
}

// Tracked returns a snapshot of the currently registered children.
func (m *Manager) Tracked() []*TrackedProcess {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*TrackedProcess, 0, len(m.procs))
	for _, p := range m.procs {
		out = append(out, p)
	}
	return out
}

// ShuttingDown reports whether a shutdown signal has been received.
func (m *Manager) ShuttingDown() bool {
	return m.shuttingDown.Load()
}

// TerminateAll sends SIGTERM to every registered child without waiting.
// This is the only termination call the signal path is allowed to make.
func (m *Manager) TerminateAll() {
	for _, p := range m.Tracked() {
		m.logger.Info("terminating child", "name", p.Name, "pid", p.PID)
		_ = p.Cmd.Process.Signal(syscall.SIGTERM)
	}
}

// KillAll sends SIGKILL to every still-registered child.
func (m *Manager) KillAll() {
	for _, p := range m.Tracked() {
		m.logger.Warn("killing child", "name", p.Name, "pid", p.PID)
		_ = p.Cmd.Process.Kill()
	}
}

// Shutdown terminates all registered children from normal control flow:
// SIGTERM, then up to grace waiting for owners to unregister them, then
// SIGKILL for whatever is left.
func (m *Manager) Shutdown(grace time.Duration) {
	m.shuttingDown.Store(true)
	m.TerminateAll()

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if len(m.Tracked()) == 0 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	m.KillAll()
}

// InstallSignalHandler wires SIGINT/SIGTERM to shutdown. The first signal
// sets the shutdown flag, fires SIGTERM at every child, waits out the grace
// window (escalating to SIGKILL), and exits 128+signum. A second signal
// forces immediate exit rather than repeating cleanup.
func (m *Manager) InstallSignalHandler() {
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-ch
		code := exitCode(sig)

		if !m.shuttingDown.CompareAndSwap(false, true) {
			m.exit(code)
			return
		}

		m.logger.Warn("shutdown signal received", "signal", sig.String())
		m.TerminateAll()

		timeout := time.After(TerminateGrace)
		tick := time.NewTicker(50 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-ch:
				// Operator insisting. Skip the grace window.
				m.exit(code)
				return
			case <-timeout:
				m.KillAll()
				m.exit(code)
				return
			case <-tick.C:
				if len(m.Tracked()) == 0 {
					m.exit(code)
					return
				}
			}
		}
	}()
}

// exitCode maps a shutdown signal to the conventional 128+signum status
// (130 for SIGINT, 143 for SIGTERM).
func exitCode(sig os.Signal) int {
	if s, ok := sig.(syscall.Signal); ok {
		return 128 + int(s)
	}
	return 1
}
