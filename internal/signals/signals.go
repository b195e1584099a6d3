// Package signals implements the foreground signal monitor. It blocks on the
// terminating signal set and reports the exit code the process should halt
// with; it never stops the supervision loop on its own.
package signals

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Paintersrp/prockeeper/internal/logging"
	"github.com/Paintersrp/prockeeper/internal/metrics"
)

// DefaultIdlePause is how long the monitor waits after a signal it does not
// act on.
const DefaultIdlePause = 2 * time.Second

// RegistrationFailedCode is the exit status used when the signal set cannot be
// registered.
const RegistrationFailedCode = 1

// ErrRegistration wraps failures to subscribe to OS signals.
var ErrRegistration = errors.New("signal registration failed")

// Kind classifies a received signal.
type Kind int

const (
	Other Kind = iota
	Terminating
)

func (k Kind) String() string {
	if k == Terminating {
		return "terminating"
	}
	return "other"
}

// TerminatingSignals is the registered set: hangup, interrupt, quit and
// terminate.
var TerminatingSignals = []os.Signal{syscall.SIGHUP, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM}

// Classify reports whether sig halts the process.
func Classify(sig os.Signal) Kind {
	for _, candidate := range TerminatingSignals {
		if sig == candidate {
			return Terminating
		}
	}
	return Other
}

// ExitCode returns the numeric value of sig, the status the process exits with
// when sig terminates it. Signals without a numeric value map to 1.
func ExitCode(sig os.Signal) int {
	if s, ok := sig.(syscall.Signal); ok {
		return int(s)
	}
	return 1
}

// Source delivers OS signals.
type Source interface {
	Notify(ch chan<- os.Signal, sigs ...os.Signal) error
	Stop(ch chan<- os.Signal)
}

// OSSource subscribes through os/signal.
type OSSource struct{}

// Notify registers ch for sigs.
func (OSSource) Notify(ch chan<- os.Signal, sigs ...os.Signal) (err error) {
	if ch == nil {
		return fmt.Errorf("%w: nil channel", ErrRegistration)
	}
	if len(sigs) == 0 {
		return fmt.Errorf("%w: empty signal set", ErrRegistration)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrRegistration, r)
		}
	}()
	signal.Notify(ch, sigs...)
	return nil
}

// Stop unregisters ch.
func (OSSource) Stop(ch chan<- os.Signal) {
	signal.Stop(ch)
}

// Options configure Monitor.
type Options struct {
	Source    Source
	IdlePause time.Duration
	// OnSignal is called for every received signal before it is acted on.
	OnSignal func(os.Signal, Kind)

	sleep func(context.Context, time.Duration) error
}

// Monitor blocks until a terminating signal arrives and returns its exit code.
// It returns RegistrationFailedCode and an error wrapping ErrRegistration when
// the signal set cannot be registered, and ctx.Err() if ctx ends first.
func Monitor(ctx context.Context, opts Options) (int, error) {
	source := opts.Source
	if source == nil {
		source = OSSource{}
	}
	pause := opts.IdlePause
	if pause <= 0 {
		pause = DefaultIdlePause
	}
	sleep := opts.sleep
	if sleep == nil {
		sleep = sleepWithContext
	}

	ch := make(chan os.Signal, 1)
	if err := source.Notify(ch, TerminatingSignals...); err != nil {
		if !errors.Is(err, ErrRegistration) {
			err = fmt.Errorf("%w: %w", ErrRegistration, err)
		}
		return RegistrationFailedCode, err
	}
	defer source.Stop(ch)

	logger := logging.FromContext(ctx)
	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case sig := <-ch:
			kind := Classify(sig)
			metrics.IncSignal(sig.String())
			logger.Info("Received signal", "signal", sig.String(), "kind", kind.String())
			if opts.OnSignal != nil {
				opts.OnSignal(sig, kind)
			}
			if kind == Terminating {
				return ExitCode(sig), nil
			}
			if err := sleep(ctx, pause); err != nil {
				return 0, err
			}
		}
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
