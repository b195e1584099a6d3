//go:build windows

package daemon

import (
	"context"
	"os"
)

type unsupported struct{}

// NewDaemonizer returns the platform daemonizer. Windows has no equivalent of
// setsid-style detachment, so every call fails.
func NewDaemonizer() Daemonizer {
	return unsupported{}
}

func (unsupported) Daemonize(context.Context, Config) (Result, error) {
	return Result{}, ErrUnsupported
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	_ = proc.Release()
	return true
}

func setUmask(uint32) {}
