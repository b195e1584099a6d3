package cli

import (
	stdcontext "context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Paintersrp/prockeeper/internal/api"
	apihttp "github.com/Paintersrp/prockeeper/internal/api/http"
	"github.com/Paintersrp/prockeeper/internal/logging"
	"github.com/Paintersrp/prockeeper/internal/metrics"
)

var newAPIServer = apihttp.NewServer

const serverReadyWait = 200 * time.Millisecond

// startStatusServer serves metrics and status on addr until the returned stop
// function is called or runCtx ends. An empty addr disables the server.
func startStatusServer(runCtx stdcontext.Context, addr string, control api.Controller) (func() error, error) {
	noop := func() error { return nil }
	if addr == "" {
		return noop, nil
	}
	server, err := newAPIServer(apihttp.Config{Addr: addr, Controller: control, Gatherer: metrics.Registry()})
	if err != nil {
		return nil, err
	}
	serverCtx, cancel := stdcontext.WithCancel(runCtx)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Run(serverCtx)
	}()
	readyTimer := time.NewTimer(serverReadyWait)
	defer readyTimer.Stop()
	select {
	case err := <-errCh:
		cancel()
		if err == nil {
			err = errors.New("status server stopped during startup")
		}
		return nil, fmt.Errorf("status server: %w", err)
	case <-readyTimer.C:
	case <-runCtx.Done():
		cancel()
		<-errCh
		return nil, runCtx.Err()
	}
	logging.FromContext(runCtx).Info("status server listening", "addr", server.Addr())

	var stopped bool
	return func() error {
		if stopped {
			return nil
		}
		stopped = true
		cancel()
		err := <-errCh
		if err != nil && !errors.Is(err, stdcontext.Canceled) && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}, nil
}
