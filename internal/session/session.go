// Package session implements the two transmission roles behind one
// lifecycle contract. A session owns its signal endpoint and media pipeline
// and releases both on Stop.
package session

import (
	"context"
	"time"

	"github.com/babelcloud/gbox/packages/caster/internal/errdefs"
	"github.com/babelcloud/gbox/packages/caster/internal/media"
	"github.com/google/uuid"
)

// Session is the capability set shared by CasterSession and ReceiverSession.
type Session interface {
	ID() string
	Role() media.Role
	// Start brings the session live. On error every resource acquired so far
	// is already released and the session must be discarded.
	Start(ctx context.Context) error
	// Stop releases the session. Idempotent and bounded.
	Stop() error
}

// FaultFunc receives errors raised after a session went live. The error is
// always a FatalSessionError carrying the session ID.
type FaultFunc func(sessionID string, err error)

// Options shared by both roles.
type Options struct {
	Engine    media.Engine
	MediaPort int
	// ControlPort is the port the caster listens on and the receiver dials.
	ControlPort int
	Keepalive   time.Duration
	OnFrame     media.FrameFunc
	OnFault     FaultFunc
}

func newID() string {
	return uuid.NewString()
}

// faultFunc adapts a session level FaultFunc to the engine callback.
func faultFunc(id string, onFault FaultFunc) media.FaultFunc {
	return func(err error) {
		if onFault != nil {
			onFault(id, errdefs.Fatal(id, err))
		}
	}
}
