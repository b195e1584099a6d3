//go:build windows

package daemon

import (
	"context"
	"errors"
	"testing"
)

func currentUmask() uint32 { return 0 }

func TestWindowsDaemonizerFailsClosed(t *testing.T) {
	_, err := NewDaemonizer().Daemonize(context.Background(), Config{})
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}
