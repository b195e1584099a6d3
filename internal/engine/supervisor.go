package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Paintersrp/prockeeper/internal/logging"
	"github.com/Paintersrp/prockeeper/internal/metrics"
	"github.com/Paintersrp/prockeeper/internal/runtime"
)

// LaunchError is returned by the supervision loop when the runner could not
// create a child process. It is the only condition that ends supervision from
// inside the loop.
type LaunchError struct {
	Attempt int
	Err     error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch attempt %d: %v", e.Attempt, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// Snapshot is a point-in-time view of a supervisor.
type Snapshot struct {
	Command  string
	Attempts int
	Running  bool
	Last     *runtime.Outcome
	Done     bool
}

// Supervisor relaunches one command line every time it exits, regardless of
// its exit status. There is no backoff and no restart limit.
type Supervisor struct {
	runner runtime.Runner
	spec   runtime.CommandSpec
	events chan<- Event

	mu       sync.Mutex
	attempts int
	running  bool
	last     *runtime.Outcome
	done     bool
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithEvents publishes lifecycle events to ch. Sends block until delivered or
// the supervision context is cancelled.
func WithEvents(ch chan<- Event) Option {
	return func(s *Supervisor) {
		s.events = ch
	}
}

// New constructs a supervisor for spec.
func New(runner runtime.Runner, spec runtime.CommandSpec, opts ...Option) *Supervisor {
	s := &Supervisor{runner: runner, spec: spec}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Supervise runs spec under a new supervisor until a launch fails or ctx is
// cancelled.
func Supervise(ctx context.Context, runner runtime.Runner, spec runtime.CommandSpec, opts ...Option) error {
	return New(runner, spec, opts...).Run(ctx)
}

// Run blocks until a launch fails, returning a *LaunchError, or until ctx is
// cancelled, returning ctx.Err(). Cancellation stops the current child through
// the runner.
func (s *Supervisor) Run(ctx context.Context) error {
	defer s.finish()

	logger := logging.FromContext(ctx).With("command", logging.RedactSecrets(s.spec.String()))

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			s.stopped(ctx, attempt-1)
			return err
		}

		reason := ReasonRelaunch
		if attempt == 1 {
			reason = ReasonInitialStart
		}
		s.begin(attempt)
		sendEvent(ctx, s.events, Event{Type: EventTypeStarting, Command: s.spec.String(), Attempt: attempt, Reason: reason, Message: "starting command"})

		outcome := s.runner.Run(ctx, s.spec)
		s.record(outcome)

		if outcome.Failed() {
			if ctx.Err() != nil {
				s.stopped(ctx, attempt)
				return ctx.Err()
			}
			metrics.IncLaunchFailure()
			logger.Error("Failed with", "attempt", attempt, "error", outcome.Err)
			sendEvent(ctx, s.events, Event{
				Type:     EventTypeFailed,
				Command:  s.spec.String(),
				Attempt:  attempt,
				ExitCode: outcome.ExitCode,
				Message:  "launch failed",
				Reason:   ReasonLaunchFailed,
				Err:      outcome.Err,
			})
			return &LaunchError{Attempt: attempt, Err: outcome.Err}
		}

		metrics.IncLaunch()
		signal := ""
		if outcome.Signaled {
			signal = outcome.Signal.String()
		}
		metrics.ObserveExit(outcome.ExitCode, signal)

		attrs := []any{"attempt", attempt, "pid", outcome.PID, "status", outcome.String()}
		if outcome.Cancelled {
			logger.Info("Stopped", attrs...)
		} else {
			logger.Info("Done with", attrs...)
		}
		sendEvent(ctx, s.events, Event{
			Type:     EventTypeExited,
			Command:  s.spec.String(),
			Attempt:  attempt,
			PID:      outcome.PID,
			ExitCode: outcome.ExitCode,
			Message:  outcome.String(),
			Reason:   ReasonChildExit,
		})
	}
}

// Snapshot returns the current supervisor state.
func (s *Supervisor) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Command:  s.spec.String(),
		Attempts: s.attempts,
		Running:  s.running,
		Done:     s.done,
	}
	if s.last != nil {
		last := *s.last
		snap.Last = &last
	}
	return snap
}

func (s *Supervisor) begin(attempt int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = attempt
	s.running = true
}

func (s *Supervisor) record(outcome runtime.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.last = &outcome
}

func (s *Supervisor) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.done = true
}

func (s *Supervisor) stopped(ctx context.Context, attempts int) {
	logging.FromContext(ctx).Info("supervision stopped", "command", logging.RedactSecrets(s.spec.String()), "attempts", attempts)
	if s.events == nil {
		return
	}
	// The supervision context is already done; deliver only if a reader is
	// waiting or the channel has room.
	select {
	case s.events <- Event{Timestamp: time.Now(), Type: EventTypeStopped, Command: s.spec.String(), Attempt: attempts, Reason: ReasonShutdown, Message: "supervision stopped"}:
	default:
	}
}
