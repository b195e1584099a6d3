package api

import (
	stdcontext "context"
	"errors"
	"time"
)

var ErrNotSupervising = errors.New("supervision not running")

// Outcome describes the most recent child exit.
type Outcome struct {
	Kind      string `json:"kind"`
	PID       int    `json:"pid,omitempty"`
	ExitCode  int    `json:"exitCode"`
	Signal    string `json:"signal,omitempty"`
	Cancelled bool   `json:"cancelled,omitempty"`
	Error     string `json:"error,omitempty"`
}

// StatusReport is the JSON document served by the status endpoint.
type StatusReport struct {
	Mode      string    `json:"mode"`
	Session   int       `json:"session"`
	Dir       string    `json:"dir,omitempty"`
	Command   string    `json:"command"`
	Attempts  int       `json:"attempts"`
	Running   bool      `json:"running"`
	ChildPID  int       `json:"childPid,omitempty"`
	Done      bool      `json:"done"`
	Last      *Outcome  `json:"last,omitempty"`
	StartedAt time.Time `json:"startedAt"`

	// Fields below are derived from the supervisor's event stream.
	State     string    `json:"state,omitempty"`
	Exits     int       `json:"exits"`
	Message   string    `json:"message,omitempty"`
	LastEvent time.Time `json:"lastEvent,omitempty"`
}

// Controller exposes supervisor state to the HTTP layer.
type Controller interface {
	Status(ctx stdcontext.Context) (*StatusReport, error)
}
