package gstreamer

import (
	"log/slog"
	"sync"

	"github.com/babelcloud/gbox/packages/caster/internal/errdefs"
	"github.com/babelcloud/gbox/packages/caster/internal/media"
	"github.com/pkg/errors"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// Pipeline wraps a parsed GStreamer pipeline. Caster-only elements are nil on
// the receiver.
type Pipeline struct {
	role     media.Role
	opts     media.BuildOptions
	logger   *slog.Logger
	pipeline *gst.Pipeline
	monitor  *busMonitor

	source  *gst.Element
	balance *gst.Element
	fanout  *gst.Element

	mu     sync.Mutex
	region media.Region
	blank  bool
	closed bool
}

var stateMap = map[media.State]gst.State{
	media.StateNull:    gst.StateNull,
	media.StatePaused:  gst.StatePaused,
	media.StatePlaying: gst.StatePlaying,
}

func (p *Pipeline) SetState(state media.State) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return errdefs.Pipeline("set state "+state.String(), errors.New("pipeline closed"))
	}
	if err := p.pipeline.SetState(stateMap[state]); err != nil {
		return errdefs.Pipeline("set state "+state.String(), err)
	}
	p.logger.Debug("State changed", "state", state.String())
	return nil
}

func (p *Pipeline) AddDestination(host string, port int) error {
	if p.fanout == nil {
		return errdefs.Pipeline("add destination", errors.Errorf("not supported by the %s pipeline", p.role))
	}
	if _, err := p.fanout.Emit("add", host, port); err != nil {
		return errdefs.Pipeline("add destination", err)
	}
	return nil
}

func (p *Pipeline) RemoveDestination(host string, port int) error {
	if p.fanout == nil {
		return errdefs.Pipeline("remove destination", errors.Errorf("not supported by the %s pipeline", p.role))
	}
	if _, err := p.fanout.Emit("remove", host, port); err != nil {
		return errdefs.Pipeline("remove destination", err)
	}
	return nil
}

func (p *Pipeline) SetRegion(region media.Region) error {
	if p.source == nil {
		return errdefs.Pipeline("set region", errors.Errorf("not supported by the %s pipeline", p.role))
	}
	if err := region.Validate(); err != nil {
		return errdefs.Pipeline("set region", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for name, value := range sourceProperties(region) {
		if err := p.source.SetProperty(name, value); err != nil {
			return errdefs.Pipeline("set region", errors.Wrapf(err, "failed to set %s", name))
		}
	}
	p.region = region
	return nil
}

// SetBlank drives videobalance to a black picture, or back to neutral.
func (p *Pipeline) SetBlank(blank bool) error {
	if p.balance == nil {
		return errdefs.Pipeline("set blank", errors.Errorf("not supported by the %s pipeline", p.role))
	}

	brightness, contrast, saturation := 0.0, 1.0, 1.0
	if blank {
		brightness, contrast, saturation = -1.0, 0.0, 0.0
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for name, value := range map[string]float64{
		"brightness": brightness,
		"contrast":   contrast,
		"saturation": saturation,
	} {
		if err := p.balance.SetProperty(name, value); err != nil {
			return errdefs.Pipeline("set blank", errors.Wrapf(err, "failed to set %s", name))
		}
	}
	p.blank = blank
	return nil
}

func (p *Pipeline) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	err := p.pipeline.SetState(gst.StateNull)
	p.mu.Unlock()

	if p.monitor != nil {
		p.monitor.stop()
	}
	p.logger.Info("Pipeline closed")
	return errdefs.Pipeline("close", err)
}

// fail releases a partially built pipeline.
func (p *Pipeline) fail(op string, err error) error {
	_ = p.pipeline.SetState(gst.StateNull)
	return errdefs.Pipeline(op, err)
}

func (p *Pipeline) onSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		return gst.FlowOK
	}
	// The buffer is reused by GStreamer once unmapped.
	frame := make([]byte, len(data))
	copy(frame, data)
	buffer.Unmap()

	if p.opts.OnFrame != nil {
		p.opts.OnFrame(frame)
	}
	return gst.FlowOK
}
