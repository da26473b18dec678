package transmission

import (
	"context"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/babelcloud/gbox/packages/caster/internal/errdefs"
	"github.com/babelcloud/gbox/packages/caster/internal/fanout"
	"github.com/babelcloud/gbox/packages/caster/internal/media"
	"github.com/babelcloud/gbox/packages/caster/internal/session"
	"github.com/babelcloud/gbox/packages/caster/internal/util"
)

// Caster is the caster capability set the machine drives.
type Caster interface {
	session.Session
	Pause() error
	Resume() error
	Blank() error
	Restore() error
	SetRegion(region media.Region) error
	Receivers() []fanout.Entry
}

// Receiver is the receiver capability set the machine drives.
type Receiver interface {
	session.Session
	IsConnected() bool
}

// Factory constructs sessions. Constructed sessions are not started.
type Factory interface {
	NewCaster(region media.Region) Caster
	NewReceiver(host string) Receiver
}

// Machine is not safe for concurrent use: every method must be called from
// one goroutine. Asynchronous events reach it through Fault, Disconnected
// and CheckConnectivity, called from that same goroutine.
type Machine struct {
	factory Factory
	notify  Notifier
	logger  *slog.Logger

	state    State
	caster   Caster
	receiver Receiver
	region   media.Region
	address  string
}

func NewMachine(factory Factory, notify Notifier) *Machine {
	if notify == nil {
		notify = func(Notification) {}
	}
	return &Machine{
		factory: factory,
		notify:  notify,
		logger:  util.ComponentLogger("transmission"),
	}
}

func (m *Machine) State() State { return m.state }

// Address is the caster address of the current or last attempted reception.
// It is cleared when reception ends.
func (m *Machine) Address() string { return m.address }

// Region is the capture region applied to the next or current cast.
func (m *Machine) Region() media.Region { return m.region }

// SessionID returns the live session's ID, or "".
func (m *Machine) SessionID() string {
	if s := m.active(); s != nil {
		return s.ID()
	}
	return ""
}

// Receivers lists the caster's active receivers; nil unless Casting.
func (m *Machine) Receivers() []fanout.Entry {
	if m.caster == nil {
		return nil
	}
	return m.caster.Receivers()
}

func (m *Machine) active() session.Session {
	switch {
	case m.caster != nil:
		return m.caster
	case m.receiver != nil:
		return m.receiver
	default:
		return nil
	}
}

func (m *Machine) reject(intent Intent) error {
	m.logger.Debug("Intent rejected", "intent", string(intent), "state", m.state.String())
	return &errdefs.TransitionError{State: m.state.String(), Intent: string(intent)}
}

func (m *Machine) setState(s State, involuntary bool) {
	if s == m.state {
		return
	}
	m.logger.Info("State changed", "from", m.state.String(), "to", s.String(), "involuntary", involuntary)
	m.state = s
	m.notify(Notification{Kind: StateChanged, State: s, Involuntary: involuntary, Time: time.Now()})
}

// StartCast builds and starts a caster session. On failure the state stays
// Idle and the error is returned.
func (m *Machine) StartCast(ctx context.Context) error {
	if m.state.Mode != Idle {
		return m.reject(IntentStartCast)
	}

	s := m.factory.NewCaster(m.region)
	if err := s.Start(ctx); err != nil {
		m.logger.Warn("Failed to start casting", "error", err)
		return err
	}
	m.caster = s
	m.setState(State{Mode: Casting}, false)
	return nil
}

// ValidateAddress accepts a dotted-quad IPv4 address exactly as given.
// Surrounding whitespace is rejected.
func ValidateAddress(ip string) error {
	parsed := net.ParseIP(ip)
	if parsed == nil || parsed.To4() == nil || strings.Contains(ip, ":") {
		return errdefs.Validation("address", ip, "please insert a valid IPv4 address")
	}
	return nil
}

// StartReceive validates ip before any connection attempt, then builds and
// starts a receiver session.
func (m *Machine) StartReceive(ctx context.Context, ip string) error {
	if m.state.Mode != Idle {
		return m.reject(IntentStartReceive)
	}
	if err := ValidateAddress(ip); err != nil {
		return err
	}

	m.address = ip
	s := m.factory.NewReceiver(ip)
	if err := s.Start(ctx); err != nil {
		m.logger.Warn("Failed to start receiving", "address", ip, "error", err)
		return err
	}
	m.receiver = s
	m.setState(State{Mode: Receiving}, false)
	return nil
}

// Pause always reaches the session, even when already paused.
func (m *Machine) Pause() error {
	if m.state.Mode != Casting {
		return m.reject(IntentPause)
	}
	if err := m.caster.Pause(); err != nil {
		return m.collapse(m.caster.ID(), err)
	}
	next := m.state
	next.Paused = true
	m.setState(next, false)
	return nil
}

// Resume always reaches the session, even when not paused.
func (m *Machine) Resume() error {
	if m.state.Mode != Casting {
		return m.reject(IntentResume)
	}
	if err := m.caster.Resume(); err != nil {
		return m.collapse(m.caster.ID(), err)
	}
	next := m.state
	next.Paused = false
	m.setState(next, false)
	return nil
}

func (m *Machine) ToggleBlank() error {
	if m.state.Mode != Casting {
		return m.reject(IntentToggleBlank)
	}

	var err error
	if m.state.Blanked {
		err = m.caster.Restore()
	} else {
		err = m.caster.Blank()
	}
	if err != nil {
		return m.collapse(m.caster.ID(), err)
	}
	next := m.state
	next.Blanked = !next.Blanked
	m.setState(next, false)
	return nil
}

// SetRegion validates region and applies it to the live caster, or keeps it
// for the next cast while Idle.
func (m *Machine) SetRegion(region media.Region) error {
	if err := region.Validate(); err != nil {
		return err
	}

	switch m.state.Mode {
	case Idle:
		m.region = region
		m.logger.Info("Region selected", "region", region.String())
		return nil
	case Casting:
		if err := m.caster.SetRegion(region); err != nil {
			if errdefs.IsValidation(err) {
				return err
			}
			return m.collapse(m.caster.ID(), err)
		}
		m.region = region
		return nil
	default:
		return m.reject(IntentSetRegion)
	}
}

// Stop destroys the live session unconditionally. Stopping while Idle is a
// no-op.
func (m *Machine) Stop() error {
	if m.state.Mode == Idle {
		return nil
	}
	m.release()
	m.setState(State{Mode: Idle}, false)
	return nil
}

// CheckConnectivity forces Idle when the live receiver lost its caster. It
// reports whether it did.
func (m *Machine) CheckConnectivity() bool {
	if m.state.Mode != Receiving || m.receiver == nil || m.receiver.IsConnected() {
		return false
	}
	m.loseConnectivity()
	return true
}

// Disconnected handles a disconnect notification from the receiver session
// with the given ID. Notifications from sessions that are no longer live are
// ignored.
func (m *Machine) Disconnected(sessionID string) bool {
	if m.state.Mode != Receiving || m.receiver == nil || m.receiver.ID() != sessionID {
		m.logger.Debug("Ignoring stale disconnect", "session", sessionID)
		return false
	}
	m.loseConnectivity()
	return true
}

func (m *Machine) loseConnectivity() {
	m.logger.Warn("Connection to caster lost", "address", m.address)
	m.release()
	m.notify(Notification{Kind: ConnectivityLost, State: State{Mode: Idle}, Time: time.Now()})
	m.setState(State{Mode: Idle}, true)
}

// Fault handles an asynchronous error from the session with the given ID.
// Faults from sessions that are no longer live are ignored; it reports
// whether the fault was applied.
func (m *Machine) Fault(sessionID string, err error) bool {
	s := m.active()
	if s == nil || s.ID() != sessionID {
		m.logger.Debug("Ignoring stale fault", "session", sessionID, "error", err)
		return false
	}
	m.collapse(sessionID, err)
	return true
}

// collapse tears the live session down after a fatal error and returns the
// error as a FatalSessionError.
func (m *Machine) collapse(sessionID string, err error) error {
	fatal := errdefs.Fatal(sessionID, err)
	m.logger.Error("Session failed", "session", sessionID, "error", err)
	m.release()
	m.notify(Notification{Kind: Error, State: State{Mode: Idle}, Err: fatal, Time: time.Now()})
	m.setState(State{Mode: Idle}, true)
	return fatal
}

func (m *Machine) release() {
	if s := m.active(); s != nil {
		if err := s.Stop(); err != nil {
			m.logger.Warn("Session stop reported an error", "session", s.ID(), "error", err)
		}
	}
	if m.receiver != nil {
		m.address = ""
	}
	m.caster = nil
	m.receiver = nil
}

// Shutdown releases any live session. Used at process exit.
func (m *Machine) Shutdown() {
	_ = m.Stop()
}
