package daemon

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	stdruntime "runtime"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/Paintersrp/prockeeper/internal/session"
)

type fakeDaemonizer struct {
	cfg   Config
	calls int
	err   error
	pid   int
}

func (f *fakeDaemonizer) Daemonize(_ context.Context, cfg Config) (Result, error) {
	f.calls++
	f.cfg = cfg
	if f.err != nil {
		return Result{}, f.err
	}
	if err := WritePIDFile(cfg.PIDFile, f.pid); err != nil {
		return Result{}, err
	}
	return Result{PID: f.pid}, nil
}

func unprivileged() int { return 1000 }

func TestEnterCreatesSessionArtifacts(t *testing.T) {
	root := t.TempDir()
	sess := session.New(session.Daemon, root, 31337)
	fake := &fakeDaemonizer{pid: 4242}

	res, err := Enter(context.Background(), sess, "exit 0", Options{
		Daemonizer: fake,
		Umask:      0o027,
		ChildArgs:  []string{"__daemon", "--", "exit 0"},
		euid:       unprivileged,
	})
	if err != nil {
		t.Fatalf("enter: %v", err)
	}
	if res.PID != 4242 || res.Session.ID != 31337 {
		t.Fatalf("unexpected result %+v", res)
	}

	for _, path := range []string{sess.Stdout, sess.Stderr, sess.PIDFile} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected %s to exist: %v", path, err)
		}
	}
	pid, err := ReadPIDFile(sess.PIDFile)
	if err != nil || pid != 4242 {
		t.Fatalf("expected pid 4242 in pid file, got %d (%v)", pid, err)
	}

	type configView struct {
		PIDFile, WorkDir string
		Chown            bool
		Umask            uint32
		Args             []string
		Stdout, Stderr   string
	}
	got := configView{
		PIDFile: fake.cfg.PIDFile,
		WorkDir: fake.cfg.WorkDir,
		Chown:   fake.cfg.ChownPIDFile,
		Umask:   fake.cfg.Umask,
		Args:    fake.cfg.Args,
		Stdout:  fake.cfg.Stdout.Name(),
		Stderr:  fake.cfg.Stderr.Name(),
	}
	want := configView{
		PIDFile: sess.PIDFile,
		WorkDir: sess.Dir,
		Umask:   0o027,
		Args:    []string{"__daemon", "--", "exit 0"},
		Stdout:  sess.Stdout,
		Stderr:  sess.Stderr,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected daemonizer config (-want +got):\n%s", diff)
	}
	if fake.cfg.Identity.Drop {
		t.Fatal("unprivileged supervisor must not drop identity")
	}
}

func TestEnterUnwritableRootLeavesNoPIDFile(t *testing.T) {
	if stdruntime.GOOS == "windows" {
		t.Skip("permission bits are not enforced on windows")
	}
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}

	root := filepath.Join(t.TempDir(), "locked")
	if err := os.Mkdir(root, 0o500); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chmod(root, 0o700) })

	sess := session.New(session.Daemon, root, 777)
	fake := &fakeDaemonizer{pid: 1}
	_, err := Enter(context.Background(), sess, "exit 0", Options{Daemonizer: fake, euid: unprivileged})

	var setupErr *SetupError
	if !errors.As(err, &setupErr) || setupErr.Step != StepWorkdir {
		t.Fatalf("expected workdir setup error, got %v", err)
	}
	if fake.calls != 0 {
		t.Fatal("daemonizer must not run when the working area cannot be created")
	}
	if _, err := os.Stat(sess.PIDFile); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected no pid file, stat returned %v", err)
	}
}

func TestEnterDaemonizerFailureRemovesSession(t *testing.T) {
	root := t.TempDir()
	sess := session.New(session.Daemon, root, 99)
	fake := &fakeDaemonizer{err: ErrUnsupported}

	_, err := Enter(context.Background(), sess, "exit 0", Options{Daemonizer: fake, euid: unprivileged})
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected unsupported error, got %v", err)
	}
	var setupErr *SetupError
	if !errors.As(err, &setupErr) || setupErr.Step != StepDetach {
		t.Fatalf("expected detach setup error, got %v", err)
	}
	if _, err := os.Stat(sess.Dir); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected session directory to be removed, stat returned %v", err)
	}
}

func TestEnterStreamFailureKeepsPreexistingDirectory(t *testing.T) {
	root := t.TempDir()
	sess := session.New(session.Daemon, root, 55)
	if err := os.MkdirAll(sess.Stdout, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	fake := &fakeDaemonizer{pid: 1}
	_, err := Enter(context.Background(), sess, "exit 0", Options{Daemonizer: fake, euid: unprivileged})
	var setupErr *SetupError
	if !errors.As(err, &setupErr) || setupErr.Step != StepStreams {
		t.Fatalf("expected streams setup error, got %v", err)
	}
	if fake.calls != 0 {
		t.Fatal("daemonizer must not run when streams cannot be opened")
	}
	if _, err := os.Stat(sess.Dir); err != nil {
		t.Fatalf("pre-existing directory should be kept: %v", err)
	}
}

func TestEnterRootDropsToConfiguredIdentity(t *testing.T) {
	sess := session.New(session.Daemon, t.TempDir(), 12)
	fake := &fakeDaemonizer{pid: 2}
	var lookedUp []string

	_, err := Enter(context.Background(), sess, "exit 0", Options{
		Daemonizer: fake,
		User:       "nobody",
		Group:      "daemon",
		euid:       func() int { return 0 },
		lookup: func(user, group string) (Identity, error) {
			lookedUp = append(lookedUp, user, group)
			return Identity{User: user, Group: group, UID: 65534, GID: 1}, nil
		},
	})
	if err != nil {
		t.Fatalf("enter: %v", err)
	}
	if diff := cmp.Diff([]string{"nobody", "daemon"}, lookedUp); diff != "" {
		t.Fatalf("unexpected lookup (-want +got):\n%s", diff)
	}
	want := Identity{User: "nobody", Group: "daemon", UID: 65534, GID: 1, Drop: true}
	if diff := cmp.Diff(want, fake.cfg.Identity); diff != "" {
		t.Fatalf("unexpected identity (-want +got):\n%s", diff)
	}
	if !fake.cfg.ChownPIDFile {
		t.Fatal("expected pid file ownership transfer when dropping privileges")
	}
}

func TestEnterIdentityFailureIsReported(t *testing.T) {
	sess := session.New(session.Daemon, t.TempDir(), 13)
	fake := &fakeDaemonizer{pid: 2}
	_, err := Enter(context.Background(), sess, "exit 0", Options{
		Daemonizer: fake,
		User:       "nobody",
		euid:       func() int { return 0 },
		lookup: func(string, string) (Identity, error) {
			return Identity{}, errors.New("no such group")
		},
	})
	var setupErr *SetupError
	if !errors.As(err, &setupErr) || setupErr.Step != StepIdentity {
		t.Fatalf("expected identity setup error, got %v", err)
	}
	if fake.calls != 0 {
		t.Fatal("daemonizer must not run without an identity")
	}
	if _, err := os.Stat(sess.Dir); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected session directory to be removed, stat returned %v", err)
	}
}

func TestEnterRejectsInvalidInput(t *testing.T) {
	root := t.TempDir()
	tests := []struct {
		name string
		sess session.Session
		spec string
		opts Options
	}{
		{name: "foreground", sess: session.New(session.Foreground, root, 1), spec: "true", opts: Options{Daemonizer: &fakeDaemonizer{}}},
		{name: "badID", sess: session.New(session.Daemon, root, 0), spec: "true", opts: Options{Daemonizer: &fakeDaemonizer{}}},
		{name: "emptyCommand", sess: session.New(session.Daemon, root, 1), spec: " ", opts: Options{Daemonizer: &fakeDaemonizer{}}},
		{name: "noDaemonizer", sess: session.New(session.Daemon, root, 1), spec: "true"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.opts.euid = unprivileged
			if _, err := Enter(context.Background(), tc.sess, runtimeSpec(tc.spec), tc.opts); err == nil {
				t.Fatal("expected error")
			}
			if _, err := os.Stat(filepath.Join(root, "1")); !errors.Is(err, fs.ErrNotExist) {
				t.Fatalf("no session directory should be created, stat returned %v", err)
			}
		})
	}
}
