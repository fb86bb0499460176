package runner

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrProcessTimeout     = errors.New("process timeout")
	ErrProcessSpawnFailed = errors.New("process spawn failed")
	ErrProcessSignalled   = errors.New("process signalled")
	ErrProcessExit        = errors.New("process exited with non-zero status")
)

// TimeoutError means the command outlived its timeout and its process group was killed.
type TimeoutError struct {
	Name    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: timed out after %s", e.Name, e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return ErrProcessTimeout }

// SpawnError means the command could not be started.
type SpawnError struct {
	Name string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("%s: spawn failed: %v", e.Name, e.Err)
}

func (e *SpawnError) Unwrap() []error { return []error{ErrProcessSpawnFailed, e.Err} }

// SignalledError means the process was terminated by a signal it did not expect.
type SignalledError struct {
	Name   string
	Signal string
}

func (e *SignalledError) Error() string {
	return fmt.Sprintf("%s: terminated by signal %s", e.Name, e.Signal)
}

func (e *SignalledError) Unwrap() error { return ErrProcessSignalled }

// ExitError is a non-zero exit. Stderr holds the tail of the captured stderr.
type ExitError struct {
	Name   string
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s: exit status %d", e.Name, e.Code)
	}
	return fmt.Sprintf("%s: exit status %d: %s", e.Name, e.Code, e.Stderr)
}

func (e *ExitError) Unwrap() error { return ErrProcessExit }
