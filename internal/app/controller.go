// Package app wires the transmission state machine to its inputs (intents,
// session faults, connectivity polling) and outputs (status snapshots, event
// stream, latest frame).
package app

import (
	"context"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"github.com/babelcloud/gbox/packages/caster/internal/errdefs"
	"github.com/babelcloud/gbox/packages/caster/internal/fanout"
	"github.com/babelcloud/gbox/packages/caster/internal/media"
	"github.com/babelcloud/gbox/packages/caster/internal/transmission"
	"github.com/babelcloud/gbox/packages/caster/internal/util"
	"github.com/pkg/errors"
)

// Config parameterizes a Controller.
type Config struct {
	Engine         media.Engine
	ControlPort    int
	MediaPort      int
	Framerate      int
	ConnectTimeout time.Duration
	Keepalive      time.Duration
	// PollInterval is the receiver connectivity check period.
	PollInterval time.Duration
	// ListenAddr overrides the caster's control listen address.
	ListenAddr string
}

// Request is one user intent. Address is used by start-receive, Region by
// set-region.
type Request struct {
	Intent  transmission.Intent `json:"intent"`
	Address string              `json:"address,omitempty"`
	Region  string              `json:"region,omitempty"`
}

// Status is a point-in-time view of the controller.
type Status struct {
	State     string         `json:"state"`
	Mode      string         `json:"mode"`
	Paused    bool           `json:"paused"`
	Blanked   bool           `json:"blanked"`
	Session   string         `json:"session,omitempty"`
	Address   string         `json:"address"`
	Region    string         `json:"region"`
	Engine    string         `json:"engine"`
	Receivers []fanout.Entry `json:"receivers"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Event is what subscribers of the event stream receive.
type Event struct {
	Kind        string        `json:"kind"`
	State       string        `json:"state,omitempty"`
	Involuntary bool          `json:"involuntary,omitempty"`
	Error       string        `json:"error,omitempty"`
	Receiver    *fanout.Entry `json:"receiver,omitempty"`
	Time        time.Time     `json:"time"`
}

// Event kinds beyond the machine's notification kinds.
const (
	EventReceiverAdded   = "receiver_added"
	EventReceiverRemoved = "receiver_removed"
)

type request struct {
	Request
	reply chan error
}

type fault struct {
	sessionID string
	err       error
}

// Controller is the single writer of the transmission state machine. Every
// input is marshalled onto the Run loop.
type Controller struct {
	cfg    Config
	logger *slog.Logger

	machine *transmission.Machine
	frames  *media.FrameCell
	events  *Broadcaster[Event]
	status  atomic.Pointer[Status]

	requests    chan request
	faults      chan fault
	disconnects chan string
	refresh     chan struct{}

	running atomic.Bool
	done    chan struct{}
}

func NewController(cfg Config) *Controller {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}

	c := &Controller{
		cfg:         cfg,
		logger:      util.ComponentLogger("controller"),
		frames:      media.NewFrameCell(),
		events:      NewBroadcaster[Event](),
		requests:    make(chan request),
		faults:      make(chan fault, 16),
		disconnects: make(chan string, 16),
		refresh:     make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
	c.machine = transmission.NewMachine(&sessionFactory{ctrl: c}, c.onNotification)
	c.publish()
	return c
}

// Frames is the latest-frame cell fed by the live session.
func (c *Controller) Frames() *media.FrameCell { return c.frames }

// Status returns the latest snapshot. Safe from any goroutine.
func (c *Controller) Status() Status {
	return *c.status.Load()
}

// Subscribe returns a stream of events, starting with a status event.
func (c *Controller) Subscribe(id string) <-chan Event {
	return c.events.Subscribe(id, 32)
}

func (c *Controller) Unsubscribe(id string) {
	c.events.Unsubscribe(id)
}

// Done is closed once Run has stopped the live session, just before the
// event stream closes.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Submit hands req to the loop and waits for its result.
func (c *Controller) Submit(ctx context.Context, req Request) error {
	r := request{Request: req, reply: make(chan error, 1)}
	select {
	case c.requests <- r:
	case <-c.done:
		return errors.New("controller stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-r.reply:
		return err
	case <-c.done:
		return errors.New("controller stopped")
	}
}

// Run processes inputs until ctx is cancelled, then stops any live session.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("controller already running")
	}
	// done closes before the event stream.
	defer c.events.Close()
	defer close(c.done)
	defer func() {
		c.machine.Shutdown()
		c.publish()
		c.logger.Info("Controller stopped")
	}()

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	c.logger.Info("Controller running", "engine", c.engineName())
	for {
		select {
		case <-ctx.Done():
			return nil
		case r := <-c.requests:
			r.reply <- c.handle(ctx, r.Request)
		case f := <-c.faults:
			c.machine.Fault(f.sessionID, f.err)
		case id := <-c.disconnects:
			c.machine.Disconnected(id)
		case <-ticker.C:
			c.machine.CheckConnectivity()
		case <-c.refresh:
		}
		c.publish()
	}
}

func (c *Controller) handle(ctx context.Context, req Request) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Recovered from intent handler", "intent", string(req.Intent), "panic", r, "stack", string(debug.Stack()))
			err = errors.Errorf("internal error handling %s", req.Intent)
		}
	}()

	c.logger.Debug("Intent", "intent", string(req.Intent), "address", req.Address, "region", req.Region)

	switch req.Intent {
	case transmission.IntentStartCast:
		startCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
		defer cancel()
		return c.machine.StartCast(startCtx)
	case transmission.IntentStartReceive:
		startCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
		defer cancel()
		return c.machine.StartReceive(startCtx, req.Address)
	case transmission.IntentPause:
		return c.machine.Pause()
	case transmission.IntentResume:
		return c.machine.Resume()
	case transmission.IntentToggleBlank:
		return c.machine.ToggleBlank()
	case transmission.IntentSetRegion:
		region, err := media.ParseRegion(req.Region)
		if err != nil {
			return err
		}
		return c.machine.SetRegion(region)
	case transmission.IntentStop:
		return c.machine.Stop()
	default:
		return errdefs.Validation("intent", string(req.Intent), "unknown intent")
	}
}

// ParseIntent maps user spellings to intents.
func ParseIntent(s string) (transmission.Intent, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cast", "start-cast", "start_cast":
		return transmission.IntentStartCast, nil
	case "receive", "start-receive", "start_receive":
		return transmission.IntentStartReceive, nil
	case "pause":
		return transmission.IntentPause, nil
	case "resume":
		return transmission.IntentResume, nil
	case "blank", "toggle-blank", "toggle_blank":
		return transmission.IntentToggleBlank, nil
	case "region", "set-region", "set_region":
		return transmission.IntentSetRegion, nil
	case "stop":
		return transmission.IntentStop, nil
	default:
		return "", errdefs.Validation("intent", s, "unknown intent")
	}
}

// onNotification runs on the loop goroutine.
func (c *Controller) onNotification(n transmission.Notification) {
	ev := Event{Kind: string(n.Kind), State: n.State.String(), Involuntary: n.Involuntary, Time: n.Time}
	if n.Err != nil {
		ev.Error = n.Err.Error()
	}
	if n.Kind == transmission.StateChanged {
		if n.State.Mode == transmission.Idle {
			c.frames.Reset()
		}
		// Snapshot first, so a subscriber joining between the two sees the
		// new state at least once.
		c.events.SetSnapshot(Event{Kind: "status", State: ev.State, Time: n.Time})
	}
	c.events.Broadcast(ev)
}

func (c *Controller) publish() {
	st := c.machine.State()
	s := &Status{
		State:     st.String(),
		Mode:      st.Mode.String(),
		Paused:    st.Paused,
		Blanked:   st.Blanked,
		Session:   c.machine.SessionID(),
		Address:   c.machine.Address(),
		Region:    c.machine.Region().String(),
		Engine:    c.engineName(),
		Receivers: c.machine.Receivers(),
		UpdatedAt: time.Now(),
	}
	if s.Receivers == nil {
		s.Receivers = []fanout.Entry{}
	}
	c.status.Store(s)
	c.events.SetSnapshot(Event{Kind: "status", State: s.State, Time: s.UpdatedAt})
}

func (c *Controller) engineName() string {
	if c.cfg.Engine == nil {
		return ""
	}
	return c.cfg.Engine.Name()
}

// Callbacks below run on session goroutines; they only enqueue.

func (c *Controller) onFault(sessionID string, err error) {
	select {
	case c.faults <- fault{sessionID: sessionID, err: err}:
	case <-c.done:
	}
}

func (c *Controller) onDisconnect(sessionID string) {
	select {
	case c.disconnects <- sessionID:
	case <-c.done:
	}
}

func (c *Controller) onReceiversChanged(change fanout.Change) {
	kind := EventReceiverAdded
	if change.Kind == fanout.Removed {
		kind = EventReceiverRemoved
	}
	entry := change.Entry
	c.events.Broadcast(Event{Kind: kind, Receiver: &entry, Time: time.Now()})

	select {
	case c.refresh <- struct{}{}:
	default:
	}
}
