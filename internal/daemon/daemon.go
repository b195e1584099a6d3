package daemon

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/Paintersrp/prockeeper/internal/logging"
	"github.com/Paintersrp/prockeeper/internal/runtime"
	"github.com/Paintersrp/prockeeper/internal/session"
)

// ErrUnsupported is returned on platforms without POSIX detachment.
var ErrUnsupported = errors.New("daemon mode is not supported on this platform")

// Setup steps reported by SetupError.
const (
	StepSession  = "session"
	StepWorkdir  = "workdir"
	StepStreams  = "streams"
	StepIdentity = "identity"
	StepDetach   = "detach"
)

// SetupError reports which step of daemon entry failed.
type SetupError struct {
	Step string
	Path string
	Err  error
}

func (e *SetupError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("daemon %s %s: %v", e.Step, e.Path, e.Err)
	}
	return fmt.Sprintf("daemon %s: %v", e.Step, e.Err)
}

func (e *SetupError) Unwrap() error {
	return e.Err
}

// Identity is the user and group a daemon runs as.
type Identity struct {
	User  string
	Group string
	UID   uint32
	GID   uint32
	// Drop is set when the daemon must switch to UID/GID. It is false when
	// the supervisor is already unprivileged.
	Drop bool
}

// Config is everything a Daemonizer needs to detach the process.
type Config struct {
	PIDFile      string
	ChownPIDFile bool
	WorkDir      string
	Identity     Identity
	Umask        uint32
	Stdout       *os.File
	Stderr       *os.File

	// Args are passed to the detached process. The POSIX implementation
	// re-executes the current binary with them.
	Args []string
	Env  []string
	// ReadyTimeout bounds the wait for the detached process to acknowledge.
	// Zero means DefaultReadyTimeout.
	ReadyTimeout time.Duration
}

// Result describes a detached daemon.
type Result struct {
	PID     int
	Session session.Session
}

// Daemonizer detaches the process and drops privileges in one operation.
type Daemonizer interface {
	Daemonize(ctx context.Context, cfg Config) (Result, error)
}

// Options configure Enter.
type Options struct {
	Daemonizer Daemonizer
	User       string
	Group      string
	Umask      uint32
	// ChildArgs are handed to the detached process; see Config.Args.
	ChildArgs    []string
	Env          []string
	ReadyTimeout time.Duration

	lookup func(user, group string) (Identity, error)
	euid   func() int
}

const (
	dirMode    fs.FileMode = 0o755
	streamMode fs.FileMode = 0o640
)

// Enter creates the session's working area and detaches spec's supervisor
// into the background. On error nothing created by Enter is left behind.
func Enter(ctx context.Context, sess session.Session, spec runtime.CommandSpec, opts Options) (res Result, err error) {
	if sess.Mode != session.Daemon {
		return Result{}, &SetupError{Step: StepSession, Err: fmt.Errorf("session mode is %s", sess.Mode)}
	}
	if err := sess.Validate(); err != nil {
		return Result{}, &SetupError{Step: StepSession, Err: err}
	}
	if spec.Empty() {
		return Result{}, &SetupError{Step: StepSession, Err: errors.New("command line is empty")}
	}
	if opts.Daemonizer == nil {
		return Result{}, &SetupError{Step: StepDetach, Err: errors.New("no daemonizer configured")}
	}

	logger := logging.FromContext(ctx).With("session", sess.ID)

	created, err := makeSessionDir(sess.Dir)
	if err != nil {
		return Result{}, &SetupError{Step: StepWorkdir, Path: sess.Dir, Err: err}
	}

	var files []*os.File
	defer func() {
		for _, f := range files {
			_ = f.Close()
		}
		if err != nil && created {
			if rmErr := os.RemoveAll(sess.Dir); rmErr != nil {
				logger.Warn("remove session directory", "dir", sess.Dir, "error", rmErr)
			}
		}
	}()

	stdout, err := openStream(sess.Stdout)
	if err != nil {
		return Result{}, &SetupError{Step: StepStreams, Path: sess.Stdout, Err: err}
	}
	files = append(files, stdout)
	stderr, err := openStream(sess.Stderr)
	if err != nil {
		return Result{}, &SetupError{Step: StepStreams, Path: sess.Stderr, Err: err}
	}
	files = append(files, stderr)

	ident, err := opts.identity()
	if err != nil {
		return Result{}, &SetupError{Step: StepIdentity, Err: err}
	}
	if !ident.Drop {
		logger.Info("not running as root; daemon keeps the current identity")
	}

	cfg := Config{
		PIDFile:      sess.PIDFile,
		ChownPIDFile: ident.Drop,
		WorkDir:      sess.Dir,
		Identity:     ident,
		Umask:        opts.Umask,
		Stdout:       stdout,
		Stderr:       stderr,
		Args:         append([]string(nil), opts.ChildArgs...),
		Env:          append([]string(nil), opts.Env...),
		ReadyTimeout: opts.ReadyTimeout,
	}
	res, err = opts.Daemonizer.Daemonize(ctx, cfg)
	if err != nil {
		return Result{}, &SetupError{Step: StepDetach, Path: sess.PIDFile, Err: err}
	}
	res.Session = sess
	logger.Info("daemon started", "pid", res.PID, "dir", sess.Dir)
	return res, nil
}

func (o Options) identity() (Identity, error) {
	euid := o.euid
	if euid == nil {
		euid = os.Geteuid
	}
	if euid() != 0 {
		return Identity{}, nil
	}
	if o.User == "" {
		return Identity{}, errors.New("running as root requires an unprivileged user")
	}
	lookup := o.lookup
	if lookup == nil {
		lookup = LookupIdentity
	}
	ident, err := lookup(o.User, o.Group)
	if err != nil {
		return Identity{}, err
	}
	ident.Drop = true
	return ident, nil
}

// makeSessionDir creates dir and reports whether it did not exist before.
func makeSessionDir(dir string) (bool, error) {
	if _, err := os.Stat(dir); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return false, err
	}
	return true, nil
}

func openStream(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, streamMode)
}
