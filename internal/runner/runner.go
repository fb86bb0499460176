// Package runner invokes external command-line tools with a hard timeout,
// bounded output capture and process-group cleanup.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// DefaultMaxOutputBytes caps each of stdout and stderr.
const DefaultMaxOutputBytes = 8 << 20

// waitDelay bounds how long Wait blocks on pipes after the group is killed.
const waitDelay = 5 * time.Second

// Command describes one invocation. Name is resolved via PATH; no shell is involved.
type Command struct {
	Name    string
	Args    []string
	Stdin   []byte
	Dir     string
	Timeout time.Duration
	Env     map[string]string

	// OnStdoutLine and OnStderrLine receive every complete line, including
	// lines past the capture cap.
	OnStdoutLine func(line string)
	OnStderrLine func(line string)
}

// Result is the outcome of a command that ran to completion.
type Result struct {
	ExitCode        int
	Stdout          []byte
	Stderr          []byte
	StdoutTruncated bool
	StderrTruncated bool
	Elapsed         time.Duration
}

// Runner is the interface pipelines depend on. Implementations must be safe
// for concurrent use.
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// Exec runs commands as child processes in their own process group.
type Exec struct {
	MaxOutputBytes int
}

// New creates an Exec runner. A non-positive cap selects DefaultMaxOutputBytes.
func New(maxOutputBytes int) *Exec {
	if maxOutputBytes <= 0 {
		maxOutputBytes = DefaultMaxOutputBytes
	}
	return &Exec{MaxOutputBytes: maxOutputBytes}
}

// Run starts the command and waits for it. A non-zero exit returns both the
// Result and an *ExitError.
func (e *Exec) Run(ctx context.Context, c Command) (*Result, error) {
	if c.Name == "" {
		return nil, &SpawnError{Name: c.Name, Err: errors.New("empty command name")}
	}

	runCtx := ctx
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	max := e.MaxOutputBytes
	if max <= 0 {
		max = DefaultMaxOutputBytes
	}
	stdout := newCapture(max, c.OnStdoutLine)
	stderr := newCapture(max, c.OnStderrLine)

	cmd := exec.CommandContext(runCtx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if c.Stdin != nil {
		cmd.Stdin = bytes.NewReader(c.Stdin)
	}
	if len(c.Env) > 0 {
		env := os.Environ()
		for k, v := range c.Env {
			env = append(env, k+"="+v)
		}
		cmd.Env = env
	}
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	cmd.WaitDelay = waitDelay

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Name: c.Name, Err: err}
	}
	waitErr := cmd.Wait()
	stdout.flush()
	stderr.flush()

	res := &Result{
		ExitCode:        -1,
		Stdout:          stdout.Bytes(),
		Stderr:          stderr.Bytes(),
		StdoutTruncated: stdout.truncated,
		StderrTruncated: stderr.truncated,
		Elapsed:         time.Since(start),
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	// Context expiry takes precedence: the kill shows up as a signal.
	if ctxErr := runCtx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) && ctx.Err() == nil {
			return res, &TimeoutError{Name: c.Name, Timeout: c.Timeout}
		}
		return res, fmt.Errorf("%s: %w", c.Name, ctx.Err())
	}

	if waitErr == nil {
		return res, nil
	}

	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return res, &SignalledError{Name: c.Name, Signal: ws.Signal().String()}
		}
		return res, &ExitError{Name: c.Name, Code: res.ExitCode, Stderr: tail(res.Stderr, 2000)}
	}
	return res, fmt.Errorf("wait %s: %w", c.Name, waitErr)
}

var _ Runner = (*Exec)(nil)

// tail returns at most n trailing bytes of b as a string.
func tail(b []byte, n int) string {
	if len(b) <= n {
		return string(bytes.TrimSpace(b))
	}
	return string(bytes.TrimSpace(b[len(b)-n:]))
}
