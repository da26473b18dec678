package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/babelcloud/gbox/packages/caster/internal/errdefs"
	"github.com/babelcloud/gbox/packages/caster/internal/media"
	"github.com/babelcloud/gbox/packages/caster/internal/signal"
	"github.com/babelcloud/gbox/packages/caster/internal/util"
	"github.com/pkg/errors"
)

// ReceiverOptions configure a ReceiverSession.
type ReceiverOptions struct {
	Options
	// Host is the caster address. It is validated by the caller.
	Host        string
	DialOptions signal.ClientOptions
	// OnDisconnect runs once when the caster connection is lost without Stop.
	OnDisconnect func(sessionID string)
}

// ReceiverSession plays the stream of one caster.
type ReceiverSession struct {
	id     string
	opts   ReceiverOptions
	logger *slog.Logger

	connected atomic.Bool

	mu       sync.Mutex
	client   *signal.Client
	pipeline media.Pipeline
	started  bool
	stopped  bool
}

var _ Session = (*ReceiverSession)(nil)

func NewReceiver(opts ReceiverOptions) *ReceiverSession {
	id := newID()
	return &ReceiverSession{
		id:     id,
		opts:   opts,
		logger: util.ComponentLogger("receiver").With("session", id, "caster", opts.Host),
	}
}

func (s *ReceiverSession) ID() string       { return s.id }
func (s *ReceiverSession) Role() media.Role { return media.RoleReceiver }

// Host is the caster address this session receives from.
func (s *ReceiverSession) Host() string { return s.opts.Host }

// IsConnected reports the latest control channel state: true after a
// successful Start, false once the connection was lost or stopped.
func (s *ReceiverSession) IsConnected() bool {
	return s.connected.Load()
}

// Start dials the caster and arms the pipeline for inbound frames.
func (s *ReceiverSession) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errors.New("receiver session already started")
	}
	s.started = true

	pipeline, err := s.opts.Engine.Build(media.RoleReceiver, media.BuildOptions{
		MediaPort: s.opts.MediaPort,
		OnFrame:   s.opts.OnFrame,
		OnFault:   faultFunc(s.id, s.opts.OnFault),
	})
	if err != nil {
		return err
	}

	client, err := signal.Dial(ctx, s.opts.Host, s.opts.ControlPort, s.onDisconnect, s.opts.DialOptions)
	if err != nil {
		pipeline.Close()
		return err
	}

	if err := pipeline.SetState(media.StatePlaying); err != nil {
		client.Close()
		pipeline.Close()
		return err
	}

	s.client, s.pipeline = client, pipeline
	s.connected.Store(true)
	s.logger.Info("Receiving")
	return nil
}

// onDisconnect runs on the client's goroutine.
func (s *ReceiverSession) onDisconnect() {
	// Taking the lock orders this after a Start still in progress.
	s.mu.Lock()
	s.connected.Store(false)
	pipeline, stopped := s.pipeline, s.stopped
	s.mu.Unlock()

	if stopped {
		return
	}
	// Nothing will arrive any more; stop decoding until the owner tears down.
	if pipeline != nil {
		if err := pipeline.SetState(media.StateNull); err != nil {
			s.logger.Debug("Failed to idle pipeline after disconnect", "error", err)
		}
	}
	s.logger.Warn("Caster connection lost")
	if s.opts.OnDisconnect != nil {
		s.opts.OnDisconnect(s.id)
	}
}

// Stop closes the control connection without raising OnDisconnect, then
// releases the pipeline.
func (s *ReceiverSession) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	client, pipeline := s.client, s.pipeline
	s.mu.Unlock()

	s.connected.Store(false)
	if client == nil {
		return nil
	}

	var firstErr error
	if err := client.Close(); err != nil {
		s.logger.Debug("Closing control connection", "error", err)
	}
	if err := pipeline.Close(); err != nil {
		firstErr = errdefs.Pipeline("close", err)
	}
	s.logger.Info("Receiver stopped")
	return firstErr
}
