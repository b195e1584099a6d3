package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/Paintersrp/prockeeper/internal/logging"
	"github.com/Paintersrp/prockeeper/internal/metrics"
	"github.com/Paintersrp/prockeeper/internal/runtime"
)

// DefaultStopTimeout bounds how long a cancelled child may take to exit after
// SIGTERM before it is killed.
const DefaultStopTimeout = 5 * time.Second

// Runner executes command lines through a shell.
type Runner struct {
	shell       []string
	streams     runtime.Streams
	stopTimeout time.Duration
	env         []string

	current atomic.Int64
}

// Option configures a Runner.
type Option func(*Runner)

// WithShell overrides the interpreter used to run command lines. The command
// line is appended as the final argument.
func WithShell(shell ...string) Option {
	return func(r *Runner) {
		if len(shell) > 0 {
			r.shell = append([]string(nil), shell...)
		}
	}
}

// WithStreams sets the writers receiving the child's stdout and stderr.
func WithStreams(streams runtime.Streams) Option {
	return func(r *Runner) {
		r.streams = streams
	}
}

// WithStopTimeout sets the grace period between SIGTERM and SIGKILL.
func WithStopTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.stopTimeout = d
		}
	}
}

// WithEnv appends KEY=VALUE pairs to the inherited environment.
func WithEnv(env ...string) Option {
	return func(r *Runner) {
		r.env = append(r.env, env...)
	}
}

// New constructs a runner. Without options it uses the platform shell and the
// supervisor's own standard streams.
func New(opts ...Option) *Runner {
	r := &Runner{
		shell:       defaultShell(),
		streams:     runtime.Streams{Stdout: os.Stdout, Stderr: os.Stderr},
		stopTimeout: DefaultStopTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// PID returns the pid of the running child, or 0 when none is running.
func (r *Runner) PID() int {
	return int(r.current.Load())
}

// Run launches spec and blocks until the child exits. A nonzero exit status is
// an ordinary exited outcome; only a failure to create the process is reported
// as a launch failure.
func (r *Runner) Run(ctx context.Context, spec runtime.CommandSpec) runtime.Outcome {
	if spec.Empty() {
		return runtime.LaunchFailed(errors.New("command line is empty"))
	}
	if err := ctx.Err(); err != nil {
		return runtime.LaunchFailed(err)
	}

	args := append(append([]string(nil), r.shell...), spec.String())
	cmd := exec.Command(args[0], args[1:]...)
	// Nil writers are connected to the null device by os/exec.
	cmd.Stdout = r.streams.Stdout
	cmd.Stderr = r.streams.Stderr
	cmd.WaitDelay = r.stopTimeout
	if len(r.env) > 0 {
		cmd.Env = append(os.Environ(), r.env...)
	}
	configureCmdSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		return runtime.LaunchFailed(fmt.Errorf("start %q: %w", spec.String(), err))
	}

	pid := cmd.Process.Pid
	r.current.Store(int64(pid))
	metrics.SetChildRunning(true)
	defer func() {
		r.current.Store(0)
		metrics.SetChildRunning(false)
	}()

	logger := logging.FromContext(ctx)
	logger.Debug("child started", "pid", pid, "command", spec.String())

	waitDone := make(chan struct{})
	var waitErr error
	go func() {
		waitErr = cmd.Wait()
		close(waitDone)
	}()

	cancelled := false
	select {
	case <-waitDone:
	case <-ctx.Done():
		cancelled = true
		logger.Info("stopping child", "pid", pid, "reason", ctx.Err())
		if err := terminate(cmd.Process, waitDone, r.stopTimeout); err != nil {
			logger.Warn("stop child", "pid", pid, "error", err)
		}
		<-waitDone
	}

	out := outcomeFrom(pid, cmd.ProcessState, waitErr)
	out.Cancelled = cancelled
	return out
}

func outcomeFrom(pid int, state *os.ProcessState, waitErr error) runtime.Outcome {
	if state == nil {
		if waitErr == nil {
			waitErr = errors.New("process state unavailable")
		}
		return runtime.LaunchFailed(fmt.Errorf("wait for pid %d: %w", pid, waitErr))
	}
	out := runtime.Exited(pid, state.ExitCode())
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		out.Signaled = true
		out.Signal = ws.Signal()
	}
	return out
}
