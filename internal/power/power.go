// Package power keeps the host awake while work is in flight. The inhibitor
// is a helper child process (caffeinate on macOS, systemd-inhibit on Linux)
// held open for as long as inhibition is wanted; on other platforms it is a
// no-op. Failures are logged and swallowed: losing idle-sleep inhibition
// never blocks the loop.
package power

import (
	"log/slog"
	"os/exec"
	"runtime"
	"sync"
	"syscall"

	"github.com/lucasnoah/issuemill/internal/procs"
)

// Inhibitor toggles host idle-sleep inhibition.
type Inhibitor struct {
	procs  *procs.Manager
	logger *slog.Logger

	mu   sync.Mutex
	cmd  *exec.Cmd
	argv []string // helper command; nil means unsupported platform
}

// New creates an Inhibitor for the current platform.
func New(pm *procs.Manager, logger *slog.Logger) *Inhibitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Inhibitor{procs: pm, logger: logger, argv: platformArgv()}
}

func platformArgv() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{"caffeinate", "-dims"}
	case "linux":
		return []string{
			"systemd-inhibit",
			"--what=idle:sleep",
			"--who=issuemill",
			"--why=processing work items",
			"sleep", "infinity",
		}
	default:
		return nil
	}
}

// Enable starts the inhibitor helper if it is not already running.
func (i *Inhibitor) Enable() {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.cmd != nil || i.argv == nil {
		return
	}

	cmd := exec.Command(i.argv[0], i.argv[1:]...)
	if err := cmd.Start(); err != nil {
		i.logger.Warn("sleep inhibitor unavailable", "command", i.argv[0], "error", err)
		return
	}
	if i.procs != nil {
		i.procs.Register(cmd, "sleep-inhibitor")
	}
	i.cmd = cmd
	i.logger.Debug("sleep inhibition enabled", "pid", cmd.Process.Pid)

	go func() {
		_ = cmd.Wait()
		if i.procs != nil {
			i.procs.Unregister(cmd)
		}
		i.mu.Lock()
		if i.cmd == cmd {
			i.cmd = nil
		}
		i.mu.Unlock()
	}()
}

// Disable terminates the inhibitor helper if it is running.
func (i *Inhibitor) Disable() {
	i.mu.Lock()
	cmd := i.cmd
	i.cmd = nil
	i.mu.Unlock()

	if cmd == nil {
		return
	}
	_ = cmd.Process.Signal(syscall.SIGTERM)
	i.logger.Debug("sleep inhibition disabled", "pid", cmd.Process.Pid)
}

// Active reports whether the helper is currently running.
func (i *Inhibitor) Active() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.cmd != nil
}
