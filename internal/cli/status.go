package cli

import (
	stdcontext "context"
	"sync"
	"time"

	"github.com/Paintersrp/prockeeper/internal/api"
	"github.com/Paintersrp/prockeeper/internal/engine"
	"github.com/Paintersrp/prockeeper/internal/logging"
	"github.com/Paintersrp/prockeeper/internal/runtime"
	"github.com/Paintersrp/prockeeper/internal/session"
)

type snapshotter interface {
	Snapshot() engine.Snapshot
}

type pidReporter interface {
	PID() int
}

// statusController serves the supervisor state to the HTTP API. Attempts
// and the running child come from the supervisor snapshot; lifecycle state is
// maintained from engine events.
type statusController struct {
	sess      session.Session
	sup       snapshotter
	pids      pidReporter
	startedAt time.Time

	mu        sync.RWMutex
	state     engine.EventType
	exits     int
	message   string
	lastEvent time.Time
}

func newStatusController(sess session.Session, sup snapshotter, pids pidReporter) *statusController {
	return &statusController{sess: sess, sup: sup, pids: pids, startedAt: time.Now()}
}

// Apply updates the controller from a supervisor event.
func (c *statusController) Apply(evt engine.Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if evt.Timestamp.After(c.lastEvent) {
		c.lastEvent = evt.Timestamp
	}
	c.state = evt.Type
	if evt.Type == engine.EventTypeExited {
		c.exits++
	}
	message := evt.Message
	if evt.Err != nil {
		message = evt.Err.Error()
	}
	c.message = logging.RedactSecrets(message)
}

// track applies events until the channel is closed.
func (c *statusController) track(events <-chan engine.Event) {
	for evt := range events {
		c.Apply(evt)
	}
}

func (c *statusController) Status(ctx stdcontext.Context) (*api.StatusReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	snap := c.sup.Snapshot()
	report := &api.StatusReport{
		Mode:      c.sess.Mode.String(),
		Session:   c.sess.ID,
		Command:   snap.Command,
		Attempts:  snap.Attempts,
		Running:   snap.Running,
		Done:      snap.Done,
		StartedAt: c.startedAt,
	}
	if c.sess.Mode == session.Daemon {
		report.Dir = c.sess.Dir
	}
	if snap.Running && c.pids != nil {
		report.ChildPID = c.pids.PID()
	}
	if snap.Last != nil {
		report.Last = outcomeReport(*snap.Last)
	}

	c.mu.RLock()
	report.State = string(c.state)
	report.Exits = c.exits
	report.Message = c.message
	report.LastEvent = c.lastEvent
	c.mu.RUnlock()
	return report, nil
}

func outcomeReport(o runtime.Outcome) *api.Outcome {
	out := &api.Outcome{
		PID:       o.PID,
		ExitCode:  o.ExitCode,
		Cancelled: o.Cancelled,
	}
	switch o.Kind {
	case runtime.OutcomeExited:
		out.Kind = "exited"
	case runtime.OutcomeLaunchFailed:
		out.Kind = "launch_failed"
	}
	if o.Signaled {
		out.Signal = o.Signal.String()
	}
	if o.Err != nil {
		out.Error = o.Err.Error()
	}
	return out
}

// supervision bundles a supervisor with the controller tracking it.
type supervision struct {
	sup     *engine.Supervisor
	control *statusController
	events  chan engine.Event
}

// newSupervision wires the runner, supervisor and status controller for sess.
// The child sees the session through its environment.
func (c *context) newSupervision(sess session.Session, spec runtime.CommandSpec, streams runtime.Streams) *supervision {
	runner := c.newRunner(streams, sess.Env()...)
	events := make(chan engine.Event, 16)
	sup := engine.New(runner, spec, engine.WithEvents(events))
	return &supervision{
		sup:     sup,
		control: newStatusController(sess, sup, runner),
		events:  events,
	}
}

// run tracks events and supervises until a launch fails or ctx ends. Every
// event is applied before run returns.
func (s *supervision) run(ctx stdcontext.Context) error {
	tracked := make(chan struct{})
	go func() {
		s.control.track(s.events)
		close(tracked)
	}()
	err := s.sup.Run(ctx)
	close(s.events)
	<-tracked
	return err
}
