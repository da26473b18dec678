package gstreamer

import (
	"log/slog"
	"sync"
	"time"

	"github.com/babelcloud/gbox/packages/caster/internal/errdefs"
	"github.com/babelcloud/gbox/packages/caster/internal/media"
	"github.com/pkg/errors"
	"github.com/tinyzimmer/go-gst/gst"
)

// busPoll bounds one bus read so stop is noticed promptly.
const busPoll = 100 * time.Millisecond

// busMonitor turns error and end-of-stream messages into faults. It reports
// at most one fault and then exits.
type busMonitor struct {
	pipeline *gst.Pipeline
	logger   *slog.Logger
	onFault  media.FaultFunc

	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

func newBusMonitor(pipeline *gst.Pipeline, logger *slog.Logger, onFault media.FaultFunc) *busMonitor {
	return &busMonitor{
		pipeline: pipeline,
		logger:   logger,
		onFault:  onFault,
		done:     make(chan struct{}),
	}
}

func (m *busMonitor) start() {
	m.wg.Go(m.run)
}

func (m *busMonitor) stop() {
	m.once.Do(func() { close(m.done) })
	m.wg.Wait()
}

func (m *busMonitor) run() {
	bus := m.pipeline.GetPipelineBus()

	for {
		select {
		case <-m.done:
			return
		default:
		}

		msg := bus.TimedPop(busPoll)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			m.logger.Info("End of stream")
			m.fault(errors.New("end of stream"))
			return
		case gst.MessageError:
			gerr := msg.ParseError()
			m.logger.Error("Pipeline error", "error", gerr.Error(), "debug", gerr.DebugString())
			m.fault(errors.New(gerr.Error()))
			return
		case gst.MessageWarning:
			gwarn := msg.ParseWarning()
			m.logger.Warn("Pipeline warning", "warning", gwarn.Error(), "debug", gwarn.DebugString())
		}
	}
}

func (m *busMonitor) fault(err error) {
	select {
	case <-m.done:
		// Closing; teardown errors are expected.
		return
	default:
	}
	if m.onFault != nil {
		m.onFault(errdefs.Pipeline("bus", err))
	}
}
