//go:build windows

package process

import (
	"errors"
	"fmt"
	"os"
	"time"
)

func terminate(proc *os.Process, done <-chan struct{}, grace time.Duration) error {
	if proc == nil {
		return nil
	}
	// Attempt a graceful shutdown first.
	_ = proc.Signal(os.Interrupt)

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
	}

	if err := proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill process %d: %w", proc.Pid, err)
	}
	return nil
}
