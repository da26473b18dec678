package app

import (
	"github.com/babelcloud/gbox/packages/caster/internal/media"
	"github.com/babelcloud/gbox/packages/caster/internal/session"
	"github.com/babelcloud/gbox/packages/caster/internal/signal"
	"github.com/babelcloud/gbox/packages/caster/internal/transmission"
)

// sessionFactory builds sessions whose callbacks feed the controller loop.
type sessionFactory struct {
	ctrl *Controller
}

var _ transmission.Factory = (*sessionFactory)(nil)

func (f *sessionFactory) options() session.Options {
	cfg := f.ctrl.cfg
	return session.Options{
		Engine:      cfg.Engine,
		MediaPort:   cfg.MediaPort,
		ControlPort: cfg.ControlPort,
		Keepalive:   cfg.Keepalive,
		OnFrame:     f.ctrl.frames.Store,
		OnFault:     f.ctrl.onFault,
	}
}

func (f *sessionFactory) NewCaster(region media.Region) transmission.Caster {
	return session.NewCaster(session.CasterOptions{
		Options:            f.options(),
		Framerate:          f.ctrl.cfg.Framerate,
		Region:             region,
		ListenAddr:         f.ctrl.cfg.ListenAddr,
		OnReceiversChanged: f.ctrl.onReceiversChanged,
	})
}

func (f *sessionFactory) NewReceiver(host string) transmission.Receiver {
	return session.NewReceiver(session.ReceiverOptions{
		Options: f.options(),
		Host:    host,
		DialOptions: signal.ClientOptions{
			DialTimeout: f.ctrl.cfg.ConnectTimeout,
			Keepalive:   f.ctrl.cfg.Keepalive,
		},
		OnDisconnect: f.ctrl.onDisconnect,
	})
}
