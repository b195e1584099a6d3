package runtime

import (
	"context"
	"fmt"
	"io"
	"strings"
	"syscall"
)

// CommandSpec is a shell command line. It is passed by value into every
// launch so the supervised command can never change after startup.
type CommandSpec string

// String returns the command line.
func (c CommandSpec) String() string {
	return string(c)
}

// Empty reports whether the command line contains only whitespace.
func (c CommandSpec) Empty() bool {
	return strings.TrimSpace(string(c)) == ""
}

// OutcomeKind tags a launch result.
type OutcomeKind int

const (
	// OutcomeExited means the child was created and has terminated, with any
	// status.
	OutcomeExited OutcomeKind = iota
	// OutcomeLaunchFailed means the child process could not be created.
	OutcomeLaunchFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeExited:
		return "exited"
	case OutcomeLaunchFailed:
		return "launch_failed"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", int(k))
	}
}

// Outcome is the result of one launch of a CommandSpec.
type Outcome struct {
	Kind OutcomeKind
	PID  int

	// ExitCode is the child's exit status, or -1 when it was killed by a
	// signal.
	ExitCode int
	Signal   syscall.Signal
	Signaled bool

	// Cancelled is set when the runner itself stopped the child because its
	// context was cancelled.
	Cancelled bool

	// Err is the launch error when Kind is OutcomeLaunchFailed.
	Err error
}

// Exited constructs an outcome for a child that terminated with code.
func Exited(pid, code int) Outcome {
	return Outcome{Kind: OutcomeExited, PID: pid, ExitCode: code}
}

// LaunchFailed constructs an outcome for a launch that never produced a child.
func LaunchFailed(err error) Outcome {
	return Outcome{Kind: OutcomeLaunchFailed, ExitCode: -1, Err: err}
}

// Failed reports whether the outcome is a launch failure.
func (o Outcome) Failed() bool {
	return o.Kind == OutcomeLaunchFailed
}

func (o Outcome) String() string {
	switch {
	case o.Kind == OutcomeLaunchFailed:
		return fmt.Sprintf("launch failed: %v", o.Err)
	case o.Signaled:
		return fmt.Sprintf("signal: %v", o.Signal)
	default:
		return fmt.Sprintf("exit status %d", o.ExitCode)
	}
}

// Streams are the standard streams handed to each child.
type Streams struct {
	Stdout io.Writer
	Stderr io.Writer
}

// Runner launches a single instance of a command and waits for it to
// terminate. Implementations must stop the child when ctx is cancelled.
type Runner interface {
	Run(ctx context.Context, spec CommandSpec) Outcome
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, spec CommandSpec) Outcome

// Run calls f(ctx, spec).
func (f RunnerFunc) Run(ctx context.Context, spec CommandSpec) Outcome {
	return f(ctx, spec)
}
