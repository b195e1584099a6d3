//go:build !windows

package daemon

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/Paintersrp/prockeeper/internal/session"
)

func currentUmask() uint32 {
	mask := unix.Umask(0)
	unix.Umask(mask)
	return uint32(mask)
}

func waitForFile(t *testing.T, path string) []byte {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		data, err := os.ReadFile(path)
		if err == nil && len(data) > 0 {
			return data
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			t.Fatalf("read %s: %v", path, err)
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", path)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestReexecDetachesAndReleasesChild(t *testing.T) {
	sess := session.New(session.Daemon, t.TempDir(), os.Getpid())
	res, err := Enter(context.Background(), sess, "exit 0", Options{
		Daemonizer: &Reexec{Executable: os.Args[0]},
		Umask:      0o077,
		ChildArgs:  []string{"-test.run=^$"},
		Env:        []string{envTestHelper + "=" + helperRelease},
		euid:       unprivileged,
	})
	if err != nil {
		t.Fatalf("enter: %v", err)
	}

	report := string(waitForFile(t, filepath.Join(sess.Dir, "released")))
	if !strings.Contains(report, "umask=0077") {
		t.Fatalf("expected child umask 0077, got %q", report)
	}
	if !strings.Contains(report, "cwd="+sess.Dir) {
		resolved, _ := filepath.EvalSymlinks(sess.Dir)
		if !strings.Contains(report, "cwd="+resolved) {
			t.Fatalf("expected child cwd %s, got %q", sess.Dir, report)
		}
	}

	pid, err := ReadPIDFile(sess.PIDFile)
	if err != nil {
		t.Fatalf("read pid file: %v", err)
	}
	if pid != res.PID {
		t.Fatalf("pid file records %d, daemonizer reported %d", pid, res.PID)
	}
	if pid == os.Getpid() {
		t.Fatal("daemon must run in a separate process")
	}

	out := string(waitForFile(t, sess.Stdout))
	if !strings.Contains(out, "helper released") {
		t.Fatalf("expected child stdout in %s, got %q", sess.Stdout, out)
	}
}

func TestReexecChildThatNeverAcknowledgesIsRolledBack(t *testing.T) {
	tests := []struct {
		name    string
		mode    string
		timeout time.Duration
		want    string
	}{
		{name: "exitsEarly", mode: helperExit, want: "exited before acknowledging"},
		{name: "reportsFailure", mode: helperFail, want: "open config file: permission denied"},
		{name: "staysSilent", mode: helperHang, timeout: 300 * time.Millisecond, want: "no acknowledgement within"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sess := session.New(session.Daemon, t.TempDir(), os.Getpid())
			start := time.Now()
			_, err := Enter(context.Background(), sess, "exit 0", Options{
				Daemonizer:   &Reexec{Executable: os.Args[0]},
				ChildArgs:    []string{"-test.run=^$"},
				Env:          []string{envTestHelper + "=" + tc.mode},
				ReadyTimeout: tc.timeout,
				euid:         unprivileged,
			})
			if err == nil {
				t.Fatal("expected daemon entry to fail")
			}
			if !errors.Is(err, ErrNotReady) {
				t.Fatalf("expected ErrNotReady, got %v", err)
			}
			var setupErr *SetupError
			if !errors.As(err, &setupErr) || setupErr.Step != StepDetach {
				t.Fatalf("expected detach setup error, got %v", err)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q in error, got %v", tc.want, err)
			}
			if _, statErr := os.Stat(sess.PIDFile); !errors.Is(statErr, fs.ErrNotExist) {
				t.Fatalf("expected no pid file, stat returned %v", statErr)
			}
			if _, statErr := os.Stat(sess.Dir); !errors.Is(statErr, fs.ErrNotExist) {
				t.Fatalf("expected session directory removal, stat returned %v", statErr)
			}
			if elapsed := time.Since(start); elapsed > 5*time.Second {
				t.Fatalf("daemon entry took %s to fail", elapsed)
			}
		})
	}
}

func TestAwaitReady(t *testing.T) {
	tests := []struct {
		name    string
		write   string
		wantErr string
	}{
		{name: "ready", write: readyToken},
		{name: "failure", write: failurePrefix + "bad config\n", wantErr: "bad config"},
		{name: "eof", write: "", wantErr: "exited before acknowledging"},
		{name: "garbage", write: "maybe\n", wantErr: "unexpected acknowledgement"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r, w, err := os.Pipe()
			if err != nil {
				t.Fatalf("pipe: %v", err)
			}
			if tc.write != "" {
				if _, err := w.WriteString(tc.write); err != nil {
					t.Fatalf("write: %v", err)
				}
			}
			_ = w.Close()

			err = awaitReady(context.Background(), r, time.Second)
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("awaitReady: %v", err)
				}
				return
			}
			if !errors.Is(err, ErrNotReady) || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected ErrNotReady with %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestReportFailureOutsideDaemonIsNoop(t *testing.T) {
	t.Setenv(envChild, "")
	ReportFailure(errors.New("ignored"))
}

func TestReexecStartFailureLeavesNothingBehind(t *testing.T) {
	sess := session.New(session.Daemon, t.TempDir(), 4)
	_, err := Enter(context.Background(), sess, "exit 0", Options{
		Daemonizer: &Reexec{Executable: filepath.Join(t.TempDir(), "missing-binary")},
		euid:       unprivileged,
	})
	if err == nil {
		t.Fatal("expected start failure")
	}
	if _, err := os.Stat(sess.Dir); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected session directory removal, stat returned %v", err)
	}
}

func TestAwaitRelease(t *testing.T) {
	tests := []struct {
		name    string
		write   string
		wantErr bool
	}{
		{name: "released", write: releaseToken},
		{name: "closedWithoutToken", write: "", wantErr: true},
		{name: "wrongToken", write: "stop\n", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r, w, err := os.Pipe()
			if err != nil {
				t.Fatalf("pipe: %v", err)
			}
			if tc.write != "" {
				if _, err := w.WriteString(tc.write); err != nil {
					t.Fatalf("write: %v", err)
				}
			}
			_ = w.Close()

			err = awaitRelease(context.Background(), r)
			if (err != nil) != tc.wantErr {
				t.Fatalf("awaitRelease error = %v, wantErr %v", err, tc.wantErr)
			}
			if tc.wantErr && !errors.Is(err, ErrAborted) {
				t.Fatalf("expected ErrAborted, got %v", err)
			}
		})
	}
}

func TestAwaitReleaseHonoursContext(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer w.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := awaitRelease(ctx, r); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestReleaseOutsideDaemon(t *testing.T) {
	t.Setenv(envChild, "")
	if err := Release(context.Background()); err == nil {
		t.Fatal("expected error outside a detached process")
	}
}
