// Package gstreamer implements media.Engine on top of GStreamer. The caster
// grabs the screen, encodes H.264 and fans RTP out through multiudpsink; the
// receiver decodes the stream back to JPEG frames.
package gstreamer

import (
	"log/slog"
	"sync"

	"github.com/babelcloud/gbox/packages/caster/internal/errdefs"
	"github.com/babelcloud/gbox/packages/caster/internal/media"
	"github.com/babelcloud/gbox/packages/caster/internal/util"
	"github.com/pkg/errors"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

var initOnce sync.Once

type Engine struct {
	logger *slog.Logger
}

func NewEngine() *Engine {
	return &Engine{logger: util.ComponentLogger("gstreamer")}
}

func (e *Engine) Name() string { return "gstreamer" }

func (e *Engine) Build(role media.Role, opts media.BuildOptions) (media.Pipeline, error) {
	initOnce.Do(func() { gst.Init(nil) })

	var launch string
	switch role {
	case media.RoleCaster:
		if err := opts.Region.Validate(); err != nil {
			return nil, errdefs.Pipeline("build", err)
		}
		if opts.Framerate <= 0 {
			opts.Framerate = 30
		}
		l, err := casterLaunch(opts)
		if err != nil {
			return nil, errdefs.Pipeline("build", err)
		}
		launch = l
	case media.RoleReceiver:
		launch = receiverLaunch(opts)
	default:
		return nil, errdefs.Pipeline("build", errors.Errorf("unknown role %s", role))
	}

	logger := e.logger.With("role", role.String())
	logger.Debug("Creating pipeline", "launch", launch)

	pipeline, err := gst.NewPipelineFromString(launch)
	if err != nil {
		return nil, errdefs.Pipeline("build", errors.Wrap(err, "failed to parse pipeline"))
	}

	p := &Pipeline{
		role:     role,
		opts:     opts,
		logger:   logger,
		pipeline: pipeline,
		region:   opts.Region,
	}

	sinkName := framesName
	if role == media.RoleCaster {
		sinkName = previewName
		if p.source, err = pipeline.GetElementByName(sourceName); err != nil {
			return nil, p.fail("build", errors.Wrap(err, "capture source missing"))
		}
		if p.balance, err = pipeline.GetElementByName(balanceName); err != nil {
			return nil, p.fail("build", errors.Wrap(err, "videobalance missing"))
		}
		if p.fanout, err = pipeline.GetElementByName(fanoutName); err != nil {
			return nil, p.fail("build", errors.Wrap(err, "multiudpsink missing"))
		}
	}

	sinkElem, err := pipeline.GetElementByName(sinkName)
	if err != nil {
		return nil, p.fail("build", errors.Wrap(err, "appsink missing"))
	}
	sink := app.SinkFromElement(sinkElem)
	sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: p.onSample,
	})

	p.monitor = newBusMonitor(pipeline, logger, opts.OnFault)
	p.monitor.start()

	logger.Info("Pipeline built")
	return p, nil
}
