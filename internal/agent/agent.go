// Package agent wraps the coding-agent CLI: prompt in, transcript out.
package agent

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/lucasnoah/issuemill/internal/procs"
)

// Options configures a single agent invocation.
type Options struct {
	Model           string
	MaxTurns        int
	SkipPermissions bool
}

// Result is the outcome of one agent invocation. Error carries the raw
// failure text; the retry policy pattern-matches it verbatim.
type Result struct {
	Success  bool
	Output   string
	Error    string
	ExitCode int
}

// Invoker runs prompts against the agent. Interface for testing.
type Invoker interface {
	Invoke(prompt string, opts Options) (*Result, error)
}

// Client invokes the agent CLI as a child process.
type Client struct {
	Command string
	Procs   *procs.Manager
	Logger  *slog.Logger

	// Stream receives transcript lines as they arrive, for the operator
	// console. Presentation only; the Result is built from the full capture.
	Stream io.Writer
}

// NewClient creates an agent client for the given CLI binary.
func NewClient(command string, pm *procs.Manager, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{Command: command, Procs: pm, Logger: logger}
}

// Invoke runs the agent with the given prompt and blocks until it exits.
// Stdout and stderr are drained by two concurrent readers, both joined
// before the result is assembled. The returned error covers spawn failures
// only; an unsuccessful agent run is a Result with Success=false.
func (c *Client) Invoke(prompt string, opts Options) (*Result, error) {
	args := []string{"-p", prompt}
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	if opts.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(opts.MaxTurns))
	}
	if opts.SkipPermissions {
		args = append(args, "--dangerously-skip-permissions")
	}

	cmd := exec.Command(c.Command, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start agent %s: %w", c.Command, err)
	}

	// Register before the first await point so a signal-triggered shutdown
	// can always find this child.
	if c.Procs != nil {
		c.Procs.Register(cmd, c.Command)
		defer c.Procs.Unregister(cmd)
	}

	c.Logger.Debug("agent started", "pid", cmd.Process.Pid, "model", opts.Model)

	var outBuf, errBuf strings.Builder
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.drain(stdout, &outBuf, c.Stream)
	}()
	go func() {
		defer wg.Done()
		c.drain(stderr, &errBuf, nil)
	}()
	wg.Wait()

	waitErr := cmd.Wait()
	exitCode := 0
	if waitErr != nil {
		exitErr, ok := waitErr.(*exec.ExitError)
		if !ok {
			return nil, fmt.Errorf("wait for agent: %w", waitErr)
		}
		exitCode = exitErr.ExitCode()
	}

	result := &Result{
		Success:  exitCode == 0,
		Output:   outBuf.String(),
		ExitCode: exitCode,
		Error:    strings.TrimSpace(errBuf.String()),
	}
	if !result.Success && result.Error == "" {
		// Some agent CLIs report failure on stdout only.
		result.Error = tail(result.Output, 2000)
	}

	c.Logger.Debug("agent exited", "exit_code", exitCode, "output_bytes", len(result.Output))
	return result, nil
}

// drain copies r line by line into buf, mirroring lines to stream when set.
// The pipe must always be read to exhaustion: a reader that stops early
// leaves the child blocked writing to a full pipe, and Wait never returns.
func (c *Client) drain(r io.Reader, buf *strings.Builder, stream io.Writer) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		buf.WriteString(line)
		buf.WriteByte('\n')
		if stream != nil {
			fmt.Fprintln(stream, line)
		}
	}
	if err := scanner.Err(); err != nil {
		// An overlong line aborts the scanner mid-stream. Fall back to a
		// raw copy of whatever remains so the child can finish writing.
		c.Logger.Warn("agent output scan aborted, draining raw", "error", err)
		if _, copyErr := io.Copy(buf, r); copyErr != nil {
			c.Logger.Warn("agent output drain failed", "error", copyErr)
		}
	}
}

// tail returns the last n bytes of s, cut at a line boundary when possible.
func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	s = s[len(s)-n:]
	if i := strings.IndexByte(s, '\n'); i >= 0 && i+1 < len(s) {
		s = s[i+1:]
	}
	return s
}
