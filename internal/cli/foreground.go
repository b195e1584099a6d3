package cli

import (
	stdcontext "context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/Paintersrp/prockeeper/internal/logging"
	"github.com/Paintersrp/prockeeper/internal/runtime"
	"github.com/Paintersrp/prockeeper/internal/session"
	"github.com/Paintersrp/prockeeper/internal/signals"
)

// haltGrace is added to the stop timeout while waiting for the supervision
// loop to wind down after a terminating signal.
const haltGrace = time.Second

// runForeground supervises spec on a background goroutine while the signal
// monitor owns the calling goroutine. A terminating signal cancels supervision,
// waits for the child's process group to stop and then asks Execute to exit
// with the signal's number.
func runForeground(cmd *cobra.Command, ctx *context, spec runtime.CommandSpec) error {
	logger := ctx.logger(cmd)
	baseCtx := logging.WithLogger(cmd.Context(), logger)
	runCtx, cancel := stdcontext.WithCancel(baseCtx)
	defer cancel()

	sess := session.Current(session.Foreground, ctx.cfg.Root)
	sv := ctx.newSupervision(sess, spec, runtime.Streams{Stdout: cmd.OutOrStdout(), Stderr: cmd.ErrOrStderr()})

	stopServer, err := startStatusServer(runCtx, ctx.cfg.Metrics.Addr, sv.control)
	if err != nil {
		return err
	}
	defer func() {
		if err := stopServer(); err != nil {
			logger.Warn("status server shutdown", "error", err)
		}
	}()

	supDone := make(chan error, 1)
	go func() {
		// After a launch failure the monitor keeps running until a
		// terminating signal arrives.
		supDone <- sv.run(runCtx)
	}()

	code, err := signals.Monitor(runCtx, signals.Options{
		Source:    ctx.signalSource,
		IdlePause: ctx.cfg.IdlePause.Duration,
	})

	cancel()
	wait := ctx.cfg.StopTimeout.Duration + haltGrace
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-supDone:
	case <-timer.C:
		logger.Warn("supervision did not stop in time", "timeout", wait)
	}

	if err != nil {
		if errors.Is(err, signals.ErrRegistration) {
			return &ExitError{Code: code, Err: err}
		}
		return err
	}
	return &ExitError{Code: code}
}
