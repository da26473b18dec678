package session

import (
	"context"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"github.com/babelcloud/gbox/packages/caster/internal/errdefs"
	"github.com/babelcloud/gbox/packages/caster/internal/fanout"
	"github.com/babelcloud/gbox/packages/caster/internal/media"
	"github.com/babelcloud/gbox/packages/caster/internal/signal"
	"github.com/babelcloud/gbox/packages/caster/internal/util"
	"github.com/pkg/errors"
)

// CasterOptions configure a CasterSession.
type CasterOptions struct {
	Options
	Framerate int
	Region    media.Region
	// ListenAddr overrides ":ControlPort". Used by tests.
	ListenAddr string
	// OnReceiversChanged observes fan-out registry mutations. It must not
	// block.
	OnReceiversChanged func(fanout.Change)
}

// CasterSession captures the screen and streams it to every connected
// receiver.
type CasterSession struct {
	id     string
	opts   CasterOptions
	logger *slog.Logger

	mu       sync.Mutex
	pipeline media.Pipeline
	registry *fanout.Registry
	server   *signal.Server
	region   media.Region
	started  bool
	stopped  bool
}

var _ Session = (*CasterSession)(nil)

func NewCaster(opts CasterOptions) *CasterSession {
	id := newID()
	return &CasterSession{
		id:     id,
		opts:   opts,
		region: opts.Region,
		logger: util.ComponentLogger("caster").With("session", id),
	}
}

func (s *CasterSession) ID() string       { return s.id }
func (s *CasterSession) Role() media.Role { return media.RoleCaster }

func (s *CasterSession) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errors.New("caster session already started")
	}
	s.started = true
	if err := ctx.Err(); err != nil {
		return err
	}

	pipeline, err := s.opts.Engine.Build(media.RoleCaster, media.BuildOptions{
		Region:    s.region,
		MediaPort: s.opts.MediaPort,
		Framerate: s.opts.Framerate,
		OnFrame:   s.opts.OnFrame,
		OnFault:   faultFunc(s.id, s.opts.OnFault),
	})
	if err != nil {
		return err
	}

	registry := fanout.New(pipeline, fanout.Options{
		MediaPort: s.opts.MediaPort,
		OnChange:  s.opts.OnReceiversChanged,
	})
	server := signal.NewServer(registry.Handle, signal.ServerOptions{Keepalive: s.opts.Keepalive})

	addr := s.opts.ListenAddr
	if addr == "" {
		addr = net.JoinHostPort("", strconv.Itoa(s.opts.ControlPort))
	}
	if err := server.ListenAddr(addr); err != nil {
		registry.Close()
		pipeline.Close()
		return err
	}

	if err := pipeline.SetState(media.StatePlaying); err != nil {
		server.Stop()
		registry.Close()
		pipeline.Close()
		return err
	}

	s.pipeline, s.registry, s.server = pipeline, registry, server
	s.logger.Info("Casting", "address", server.Addr().String(), "region", s.region.String())
	return nil
}

// Pause stops pipeline output. Receivers stay connected and registered.
func (s *CasterSession) Pause() error {
	return s.setState(media.StatePaused)
}

func (s *CasterSession) Resume() error {
	return s.setState(media.StatePlaying)
}

func (s *CasterSession) setState(state media.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pipeline == nil || s.stopped {
		return errdefs.Pipeline("set state "+state.String(), errors.New("session not live"))
	}
	return s.pipeline.SetState(state)
}

// SetRegion updates the capture region in place.
func (s *CasterSession) SetRegion(region media.Region) error {
	if err := region.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pipeline == nil || s.stopped {
		s.region = region
		return nil
	}
	if err := s.pipeline.SetRegion(region); err != nil {
		return err
	}
	s.region = region
	s.logger.Info("Region changed", "region", region.String())
	return nil
}

// Region is the current capture region.
func (s *CasterSession) Region() media.Region {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.region
}

// Blank substitutes a black picture while encoding continues.
func (s *CasterSession) Blank() error {
	return s.setBlank(true)
}

// Restore undoes Blank.
func (s *CasterSession) Restore() error {
	return s.setBlank(false)
}

func (s *CasterSession) setBlank(blank bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pipeline == nil || s.stopped {
		return errdefs.Pipeline("set blank", errors.New("session not live"))
	}
	return s.pipeline.SetBlank(blank)
}

// Receivers returns the active fan-out entries.
func (s *CasterSession) Receivers() []fanout.Entry {
	s.mu.Lock()
	registry := s.registry
	s.mu.Unlock()

	if registry == nil {
		return nil
	}
	return registry.Entries()
}

// Addr is the control listener address while live.
func (s *CasterSession) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server == nil {
		return nil
	}
	return s.server.Addr()
}

// Stop halts media first, then drains the signal server so every receiver's
// destination is removed, then releases the pipeline.
func (s *CasterSession) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	pipeline, registry, server := s.pipeline, s.registry, s.server
	s.mu.Unlock()

	if pipeline == nil {
		return nil
	}

	var firstErr error
	record := func(err error) {
		if err != nil {
			s.logger.Warn("Stop step failed", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	record(pipeline.SetState(media.StateNull))
	record(server.Stop())
	registry.Close()
	record(pipeline.Close())

	s.logger.Info("Caster stopped")
	return firstErr
}
