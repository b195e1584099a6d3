//go:build !windows

package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// Reexec detaches by starting the current binary again as a session leader.
type Reexec struct {
	// Executable defaults to os.Executable().
	Executable string
}

// NewDaemonizer returns the platform daemonizer.
func NewDaemonizer() Daemonizer {
	return &Reexec{}
}

// Daemonize starts the detached child, writes its pid file, releases it and
// waits for it to acknowledge. If any step fails, or the child exits or stays
// silent instead of acknowledging, the child is killed and the pid file
// removed.
func (r *Reexec) Daemonize(ctx context.Context, cfg Config) (Result, error) {
	exe := r.Executable
	if exe == "" {
		var err error
		if exe, err = os.Executable(); err != nil {
			return Result{}, fmt.Errorf("resolve executable: %w", err)
		}
	}

	releaseR, releaseW, err := os.Pipe()
	if err != nil {
		return Result{}, fmt.Errorf("handshake pipe: %w", err)
	}
	defer releaseW.Close()

	readyR, readyW, err := os.Pipe()
	if err != nil {
		_ = releaseR.Close()
		return Result{}, fmt.Errorf("handshake pipe: %w", err)
	}
	defer readyR.Close()

	devNull, err := os.Open(os.DevNull)
	if err != nil {
		_ = releaseR.Close()
		_ = readyW.Close()
		return Result{}, fmt.Errorf("open %s: %w", os.DevNull, err)
	}
	defer devNull.Close()

	cmd := exec.Command(exe, cfg.Args...)
	cmd.Dir = cfg.WorkDir
	cmd.Stdin = devNull
	cmd.Stdout = cfg.Stdout
	cmd.Stderr = cfg.Stderr
	cmd.ExtraFiles = []*os.File{releaseR, readyW}
	cmd.Env = append(append(os.Environ(), cfg.Env...),
		envChild+"=1",
		fmt.Sprintf("%s=%o", envUmask, cfg.Umask),
	)

	attr := &syscall.SysProcAttr{Setsid: true}
	if cfg.Identity.Drop {
		attr.Credential = &syscall.Credential{Uid: cfg.Identity.UID, Gid: cfg.Identity.GID, Groups: []uint32{}}
	}
	cmd.SysProcAttr = attr

	if err := ctx.Err(); err != nil {
		_ = releaseR.Close()
		_ = readyW.Close()
		return Result{}, err
	}
	startErr := cmd.Start()
	_ = releaseR.Close()
	_ = readyW.Close()
	if startErr != nil {
		return Result{}, fmt.Errorf("start detached process: %w", startErr)
	}
	pid := cmd.Process.Pid

	abort := func(cause error) (Result, error) {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return Result{}, cause
	}

	if err := WritePIDFile(cfg.PIDFile, pid); err != nil {
		return abort(fmt.Errorf("write pid file: %w", err))
	}
	if cfg.ChownPIDFile {
		if err := os.Chown(cfg.PIDFile, int(cfg.Identity.UID), int(cfg.Identity.GID)); err != nil {
			_ = os.Remove(cfg.PIDFile)
			return abort(fmt.Errorf("chown pid file: %w", err))
		}
	}
	// A write error means the child is already gone; its acknowledgement, or
	// the EOF in its place, carries the reason.
	_, releaseErr := releaseW.Write([]byte(releaseToken))
	_ = releaseW.Close()
	if err := awaitReady(ctx, readyR, cfg.ReadyTimeout); err != nil {
		_ = os.Remove(cfg.PIDFile)
		return abort(err)
	}
	if releaseErr != nil {
		_ = os.Remove(cfg.PIDFile)
		return abort(fmt.Errorf("release detached process: %w", releaseErr))
	}

	if err := cmd.Process.Release(); err != nil {
		return Result{}, fmt.Errorf("release process handle: %w", err)
	}
	return Result{PID: pid}, nil
}

func processAlive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

func setUmask(mask uint32) {
	unix.Umask(int(mask))
}
