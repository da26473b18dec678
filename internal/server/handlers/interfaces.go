package handlers

import (
	"context"
	"time"

	"github.com/babelcloud/gbox/packages/caster/internal/app"
	"github.com/babelcloud/gbox/packages/caster/internal/media"
)

// ServerService is what the handlers need from the running server.
type ServerService interface {
	GetUptime() time.Duration
	GetVersion() string
	GetBuildID() string
	Controller() Controller
}

// Controller is the subset of app.Controller the API drives.
type Controller interface {
	Status() app.Status
	Submit(ctx context.Context, req app.Request) error
	Frames() *media.FrameCell
	Subscribe(id string) <-chan app.Event
	Unsubscribe(id string)
	Done() <-chan struct{}
}

var _ Controller = (*app.Controller)(nil)
