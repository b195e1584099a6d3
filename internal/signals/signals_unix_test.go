//go:build unix

package signals

import (
	"context"
	"os"
	"syscall"
	"testing"
	"time"
)

type readyOSSource struct {
	OSSource
	ready chan struct{}
}

func (s readyOSSource) Notify(ch chan<- os.Signal, sigs ...os.Signal) error {
	if err := s.OSSource.Notify(ch, sigs...); err != nil {
		return err
	}
	close(s.ready)
	return nil
}

func TestMonitorReceivesProcessSignal(t *testing.T) {
	src := readyOSSource{ready: make(chan struct{})}
	done := make(chan int, 1)
	go func() {
		code, err := Monitor(context.Background(), Options{Source: src})
		if err != nil {
			t.Errorf("monitor: %v", err)
		}
		done <- code
	}()
	<-src.ready

	if err := syscall.Kill(os.Getpid(), syscall.SIGHUP); err != nil {
		t.Fatalf("kill: %v", err)
	}
	select {
	case code := <-done:
		if code != int(syscall.SIGHUP) {
			t.Fatalf("expected exit code %d, got %d", int(syscall.SIGHUP), code)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("monitor did not observe SIGHUP")
	}
}
