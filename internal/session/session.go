// Package session describes the run-mode context of one prockeeper instance
// and the filesystem artifacts derived from it.
package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Mode selects how the supervisor runs.
type Mode int

const (
	Foreground Mode = iota
	Daemon
)

func (m Mode) String() string {
	switch m {
	case Foreground:
		return "foreground"
	case Daemon:
		return "daemon"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Artifact file names inside a session directory.
const (
	StdoutName  = "stdout.log"
	StderrName  = "stderr.log"
	PIDFileName = "pidfile"
)

// DirName is the directory created under the system temporary directory when
// no root is configured.
const DirName = "processkeeper"

// DefaultRoot returns the root under which daemon sessions are created.
func DefaultRoot() string {
	return filepath.Join(os.TempDir(), DirName)
}

// Session is built once at startup and passed to every component that needs
// paths. It is never mutated afterwards.
type Session struct {
	Mode Mode
	// ID is the pid of the process that created the session. Daemon artifacts
	// are namespaced by it.
	ID   int
	Root string

	Dir     string
	Stdout  string
	Stderr  string
	PIDFile string
}

// New derives a session for the given mode. Paths are only populated for
// daemon sessions.
func New(mode Mode, root string, id int) Session {
	sess := Session{Mode: mode, ID: id, Root: root}
	if mode != Daemon {
		return sess
	}
	sess.Dir = filepath.Join(root, strconv.Itoa(id))
	sess.Stdout = filepath.Join(sess.Dir, StdoutName)
	sess.Stderr = filepath.Join(sess.Dir, StderrName)
	sess.PIDFile = filepath.Join(sess.Dir, PIDFileName)
	return sess
}

// Current derives a session keyed by the calling process's pid.
func Current(mode Mode, root string) Session {
	return New(mode, root, os.Getpid())
}

// Validate checks that the session can be realised on disk.
func (s Session) Validate() error {
	if s.Mode != Daemon {
		return nil
	}
	var errs []error
	if s.ID <= 0 {
		errs = append(errs, fmt.Errorf("session id must be positive, got %d", s.ID))
	}
	if s.Root == "" {
		errs = append(errs, errors.New("session root is required"))
	} else if !filepath.IsAbs(s.Root) {
		errs = append(errs, fmt.Errorf("session root %q must be absolute", s.Root))
	}
	return errors.Join(errs...)
}

// Environment variables describing the session to the supervised command.
const (
	EnvMode = "PROCKEEPER_SESSION_MODE"
	EnvID   = "PROCKEEPER_SESSION_ID"
	EnvDir  = "PROCKEEPER_SESSION_DIR"
)

// Env returns KEY=VALUE pairs exported to the supervised command. The
// directory is only present for daemon sessions.
func (s Session) Env() []string {
	env := []string{
		EnvMode + "=" + s.Mode.String(),
		EnvID + "=" + strconv.Itoa(s.ID),
	}
	if s.Dir != "" {
		env = append(env, EnvDir+"="+s.Dir)
	}
	return env
}
