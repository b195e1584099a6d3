package engine

import (
	"context"
	"time"
)

// EventType captures lifecycle notifications emitted by the supervision loop.
type EventType string

const (
	EventTypeStarting EventType = "starting"
	EventTypeExited   EventType = "exited"
	EventTypeFailed   EventType = "failed"
	EventTypeStopped  EventType = "stopped"
)

// Event represents a single lifecycle notification.
type Event struct {
	Timestamp time.Time
	Type      EventType
	Command   string
	Attempt   int
	PID       int
	ExitCode  int
	Message   string
	Reason    string
	Err       error
}

const (
	ReasonInitialStart = "initial_start"
	ReasonRelaunch     = "relaunch"
	ReasonChildExit    = "child_exit"
	ReasonLaunchFailed = "launch_failed"
	ReasonShutdown     = "shutdown"
)

func sendEvent(ctx context.Context, events chan<- Event, evt Event) {
	if events == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	select {
	case events <- evt:
	case <-ctx.Done():
	}
}
