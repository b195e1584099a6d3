package cli

import (
	stdcontext "context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/Paintersrp/prockeeper/internal/config"
	"github.com/Paintersrp/prockeeper/internal/daemon"
	"github.com/Paintersrp/prockeeper/internal/logging"
	"github.com/Paintersrp/prockeeper/internal/runtime"
	"github.com/Paintersrp/prockeeper/internal/runtime/process"
	"github.com/Paintersrp/prockeeper/internal/signals"
)

// ExitError carries a specific process exit status out of a command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

type flagValues struct {
	configPath  string
	root        string
	user        string
	group       string
	umask       string
	stopTimeout time.Duration
	logLevel    string
	logFormat   string
	metricsAddr string
}

type context struct {
	flags flagValues
	cfg   config.Config

	signalSource signals.Source
	daemonizer   daemon.Daemonizer
	logWriter    io.Writer
}

func NewRootCmd() *cobra.Command {
	root, _ := newRootCommand()
	return root
}

func newRootCommand() (*cobra.Command, *context) {
	ctx := &context{
		signalSource: signals.OSSource{},
		daemonizer:   daemon.NewDaemonizer(),
	}
	var detach bool

	root := &cobra.Command{
		Use:   "prockeeper [flags] <command>",
		Short: "Keep a shell command running, relaunching it every time it exits",
		Long: "prockeeper launches a shell command, waits for it to exit and launches it again, forever.\n" +
			"In the foreground it exits on SIGHUP, SIGINT, SIGQUIT or SIGTERM with the signal number as status.\n" +
			"With -d it detaches into the background, writing logs and a pid file under <root>/<pid>/.\n" +
			"Put -- before a command that is also a subcommand name, e.g. prockeeper -- help.",
		Version: versionString(),
		Args:    cobra.ExactArgs(1),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return ctx.resolveConfig(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			spec := runtime.CommandSpec(args[0])
			if spec.Empty() {
				return errors.New("command must not be empty")
			}
			if detach {
				return runDaemonEntry(cmd, ctx, spec)
			}
			return runForeground(cmd, ctx, spec)
		},
	}

	root.Flags().BoolVarP(&detach, "daomon", "d", false, "Run as a daemon process")
	root.Flags().BoolVar(&detach, "daemon", false, "Alias for --daomon")
	_ = root.Flags().MarkHidden("daemon")

	pf := root.PersistentFlags()
	pf.StringVar(&ctx.flags.configPath, "config", "", "Path to a YAML configuration file (env "+config.EnvConfig+")")
	pf.StringVar(&ctx.flags.root, "root", "", "Directory holding daemon sessions (default $TMPDIR/processkeeper)")
	pf.StringVar(&ctx.flags.user, "user", "", "User a daemon started as root drops to (default nobody)")
	pf.StringVar(&ctx.flags.group, "group", "", "Group a daemon started as root drops to (default daemon)")
	pf.StringVar(&ctx.flags.umask, "umask", "", "File creation mask of the daemon, in octal (default 0027)")
	pf.DurationVar(&ctx.flags.stopTimeout, "stop-timeout", 0, "Grace period between SIGTERM and SIGKILL when stopping the child (default 5s)")
	pf.StringVar(&ctx.flags.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	pf.StringVar(&ctx.flags.logFormat, "log-format", "", "Log format: auto, text or json")
	pf.StringVar(&ctx.flags.metricsAddr, "metrics-addr", "", "Serve /metrics and /api/v1/status on this address")

	root.AddCommand(newDaemonChildCmd(ctx))
	root.SetVersionTemplate("{{.Version}}\n")
	root.CompletionOptions.DisableDefaultCmd = true

	root.SilenceUsage = true
	root.SilenceErrors = true

	return root, ctx
}

// Execute runs the CLI entrypoint.
func Execute() {
	root := NewRootCmd()
	if err := root.ExecuteContext(stdcontext.Background()); err != nil {
		// A detached process that fails before Release tells the waiting
		// parent, which then rolls daemon entry back.
		daemon.ReportFailure(err)
		code := 1
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.Code
			if exitErr.Err != nil {
				fmt.Fprintln(os.Stderr, exitErr.Err)
			}
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(code)
	}
}

func (c *context) resolveConfig(cmd *cobra.Command) error {
	cfg, err := config.Resolve(c.flags.configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("root") {
		cfg.Root = c.flags.root
	}
	if cfg.Root != "" && !filepath.IsAbs(cfg.Root) {
		abs, err := filepath.Abs(cfg.Root)
		if err != nil {
			return fmt.Errorf("resolve root: %w", err)
		}
		cfg.Root = abs
	}
	if flags.Changed("user") {
		cfg.User = c.flags.user
	}
	if flags.Changed("group") {
		cfg.Group = c.flags.group
	}
	if flags.Changed("umask") {
		mask, err := config.ParseUmask(c.flags.umask)
		if err != nil {
			return err
		}
		cfg.Umask = mask
	}
	if flags.Changed("stop-timeout") {
		cfg.StopTimeout = config.Duration{Duration: c.flags.stopTimeout}
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = c.flags.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Logging.Format = c.flags.logFormat
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Addr = c.flags.metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	c.cfg = cfg
	return nil
}

func (c *context) logger(cmd *cobra.Command) *slog.Logger {
	w := c.logWriter
	if w == nil {
		w = cmd.ErrOrStderr()
	}
	return logging.New(c.cfg.Logging.Level, c.cfg.Logging.Format, w)
}

func (c *context) newRunner(streams runtime.Streams, env ...string) *process.Runner {
	opts := []process.Option{
		process.WithStreams(streams),
		process.WithStopTimeout(c.cfg.StopTimeout.Duration),
		process.WithEnv(env...),
	}
	if len(c.cfg.Shell) > 0 {
		opts = append(opts, process.WithShell(c.cfg.Shell...))
	}
	return process.New(opts...)
}
