package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Paintersrp/prockeeper/internal/daemon"
	"github.com/Paintersrp/prockeeper/internal/logging"
	"github.com/Paintersrp/prockeeper/internal/runtime"
	"github.com/Paintersrp/prockeeper/internal/session"
)

const daemonChildUse = "__daemon"

// runDaemonEntry detaches a supervisor for spec. Setup failures are returned
// while the caller's terminal is still attached.
func runDaemonEntry(cmd *cobra.Command, ctx *context, spec runtime.CommandSpec) error {
	logger := ctx.logger(cmd)
	runCtx := logging.WithLogger(cmd.Context(), logger)

	sess := session.Current(session.Daemon, ctx.cfg.Root)
	args, err := ctx.daemonChildArgs(sess, spec)
	if err != nil {
		return err
	}

	res, err := daemon.Enter(runCtx, sess, spec, daemon.Options{
		Daemonizer: ctx.daemonizer,
		User:       ctx.cfg.User,
		Group:      ctx.cfg.Group,
		Umask:      ctx.cfg.Umask.Value,
		ChildArgs:  args,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Daemon started with pid %d\n", res.PID)
	fmt.Fprintf(cmd.OutOrStdout(), "Session directory: %s\n", sess.Dir)
	return nil
}

// daemonChildArgs forwards the resolved configuration so the detached process
// does not depend on the caller's working directory.
func (c *context) daemonChildArgs(sess session.Session, spec runtime.CommandSpec) ([]string, error) {
	args := []string{
		daemonChildUse,
		"--session", strconv.Itoa(sess.ID),
		"--root", c.cfg.Root,
		"--stop-timeout", c.cfg.StopTimeout.Duration.String(),
		"--log-level", c.cfg.Logging.Level,
		"--log-format", c.cfg.Logging.Format,
	}
	if c.flags.configPath != "" {
		abs, err := filepath.Abs(c.flags.configPath)
		if err != nil {
			return nil, fmt.Errorf("resolve config path: %w", err)
		}
		args = append(args, "--config", abs)
	}
	if c.cfg.Metrics.Addr != "" {
		args = append(args, "--metrics-addr", c.cfg.Metrics.Addr)
	}
	return append(args, "--", spec.String()), nil
}

func newDaemonChildCmd(ctx *context) *cobra.Command {
	var sessionID int
	cmd := &cobra.Command{
		Use:    daemonChildUse + " --session <id> -- <command>",
		Short:  "Run the supervision loop inside a detached daemon",
		Hidden: true,
		Args:   cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !daemon.IsChild() {
				return errors.New(daemonChildUse + " is started by prockeeper -d and cannot be run directly")
			}
			spec := runtime.CommandSpec(args[0])

			// Logs go to the session's stderr.log, which the daemonizer
			// installed as this process's standard error.
			ctx.logWriter = os.Stderr
			logger := ctx.logger(cmd).With("session", sessionID)
			runCtx := logging.WithLogger(cmd.Context(), logger)

			if err := daemon.Release(runCtx); err != nil {
				return &ExitError{Code: 1, Err: err}
			}

			sess := session.New(session.Daemon, ctx.cfg.Root, sessionID)
			sv := ctx.newSupervision(sess, spec, runtime.Streams{Stdout: os.Stdout, Stderr: os.Stderr})

			stopServer, err := startStatusServer(runCtx, ctx.cfg.Metrics.Addr, sv.control)
			if err != nil {
				logger.Error("status server", "error", err)
				stopServer = func() error { return nil }
			}
			defer stopServer()

			logger.Info("daemon supervising", "pid", os.Getpid(), "dir", sess.Dir)
			// No signal monitor runs here; default dispositions terminate the
			// daemon.
			err = sv.run(runCtx)
			logger.Error("supervision ended", "error", err)
			return &ExitError{Code: 1, Err: err}
		},
	}
	cmd.Flags().IntVar(&sessionID, "session", 0, "Session id assigned by the parent process")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}
