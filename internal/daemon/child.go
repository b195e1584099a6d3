package daemon

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	envChild = "PROCKEEPER_DAEMON_CHILD"
	envUmask = "PROCKEEPER_DAEMON_UMASK"

	releaseToken  = "go\n"
	readyToken    = "ready\n"
	failurePrefix = "error: "

	releaseFD = 3
	readyFD   = 4
)

// DefaultReadyTimeout bounds how long the parent waits for the detached
// process to acknowledge that it is supervising.
const DefaultReadyTimeout = 10 * time.Second

var (
	// ErrAborted is returned by Release when the parent gave up on daemon entry.
	ErrAborted = errors.New("daemon entry aborted by parent")
	// ErrNotReady is returned by the Daemonizer when the detached process
	// exits, reports a failure or stays silent instead of acknowledging.
	ErrNotReady = errors.New("detached process did not become ready")
)

// IsChild reports whether the current process was started by the Daemonizer
// and has not been released yet.
func IsChild() bool {
	return os.Getenv(envChild) == "1"
}

// Release is called by the detached process once its configuration is
// resolved. It applies the requested umask, blocks until the parent has
// written the pid file and then acknowledges that supervision is starting.
func Release(ctx context.Context) error {
	if !IsChild() {
		return errors.New("not a detached daemon process")
	}
	if value := os.Getenv(envUmask); value != "" {
		mask, err := strconv.ParseUint(value, 8, 32)
		if err != nil {
			err = fmt.Errorf("parse %s: %w", envUmask, err)
			ReportFailure(err)
			return err
		}
		setUmask(uint32(mask))
	}

	f := os.NewFile(releaseFD, "prockeeper-release")
	if f == nil {
		err := fmt.Errorf("%w: release descriptor missing", ErrAborted)
		ReportFailure(err)
		return err
	}
	if err := awaitRelease(ctx, f); err != nil {
		ReportFailure(err)
		return err
	}

	ack := os.NewFile(readyFD, "prockeeper-ready")
	if ack == nil {
		return fmt.Errorf("%w: ready descriptor missing", ErrAborted)
	}
	defer ack.Close()
	clearChildEnv()
	if _, err := io.WriteString(ack, readyToken); err != nil {
		return fmt.Errorf("acknowledge release: %w", err)
	}
	return nil
}

// ReportFailure tells the waiting parent why the detached process is about to
// exit. It does nothing outside a detached process or after Release
// succeeded.
func ReportFailure(err error) {
	if err == nil || !IsChild() {
		return
	}
	clearChildEnv()
	ack := os.NewFile(readyFD, "prockeeper-ready")
	if ack == nil {
		return
	}
	defer ack.Close()
	_, _ = io.WriteString(ack, failurePrefix+oneLine(err.Error())+"\n")
}

func clearChildEnv() {
	_ = os.Unsetenv(envChild)
	_ = os.Unsetenv(envUmask)
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func awaitRelease(ctx context.Context, r io.ReadCloser) error {
	line, err := readLine(ctx, r)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		return fmt.Errorf("%w: %v", ErrAborted, err)
	}
	if line != releaseToken {
		return fmt.Errorf("%w: unexpected token %q", ErrAborted, strings.TrimSpace(line))
	}
	return nil
}

// awaitReady reads the detached process's acknowledgement. The process is
// ready only after it sends readyToken; a failure line, EOF or timeout means
// it is not supervising.
func awaitReady(ctx context.Context, r io.ReadCloser, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultReadyTimeout
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	line, err := readLine(waitCtx, r)
	switch {
	case line == readyToken:
		return nil
	case strings.HasPrefix(line, failurePrefix):
		return fmt.Errorf("%w: %s", ErrNotReady, strings.TrimSpace(strings.TrimPrefix(line, failurePrefix)))
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		return fmt.Errorf("%w: no acknowledgement within %s", ErrNotReady, timeout)
	case err != nil && ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, io.EOF):
		return fmt.Errorf("%w: exited before acknowledging", ErrNotReady)
	case err == nil:
		return fmt.Errorf("%w: unexpected acknowledgement %q", ErrNotReady, strings.TrimSpace(line))
	default:
		return fmt.Errorf("%w: %v", ErrNotReady, err)
	}
}

// readLine reads one newline-terminated line, closing r when ctx ends first.
func readLine(ctx context.Context, r io.ReadCloser) (string, error) {
	type result struct {
		line string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		line, err := bufio.NewReader(r).ReadString('\n')
		done <- result{line: line, err: err}
	}()

	select {
	case res := <-done:
		_ = r.Close()
		if errors.Is(res.err, io.EOF) && res.line == "" {
			return "", io.EOF
		}
		if errors.Is(res.err, io.EOF) {
			// A partial line is still reported so the caller can reject it.
			return res.line, nil
		}
		return res.line, res.err
	case <-ctx.Done():
		_ = r.Close()
		return "", ctx.Err()
	}
}
