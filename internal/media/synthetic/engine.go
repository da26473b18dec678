// Package synthetic is a pure Go media engine. The caster renders a moving
// test pattern instead of grabbing the screen and sends it as JPEG over RTP;
// the receiver reassembles the frames. It needs no native libraries and is
// used on hosts without GStreamer and in tests.
package synthetic

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/babelcloud/gbox/packages/caster/internal/errdefs"
	"github.com/babelcloud/gbox/packages/caster/internal/media"
	"github.com/babelcloud/gbox/packages/caster/internal/util"
	"github.com/pkg/errors"
)

const (
	// clockRate is the RTP video clock.
	clockRate = 90000
	// mtu bounds one datagram including the RTP header.
	mtu = 1200
	// payloadType is the dynamic type used for the JPEG stream.
	payloadType = 96
)

type Engine struct {
	logger *slog.Logger
}

func NewEngine() *Engine {
	return &Engine{logger: util.ComponentLogger("synthetic")}
}

func (e *Engine) Name() string { return "synthetic" }

func (e *Engine) Build(role media.Role, opts media.BuildOptions) (media.Pipeline, error) {
	if opts.MediaPort <= 0 || opts.MediaPort > 65535 {
		return nil, errdefs.Pipeline("build", errors.Errorf("invalid media port %d", opts.MediaPort))
	}

	switch role {
	case media.RoleCaster:
		if err := opts.Region.Validate(); err != nil {
			return nil, errdefs.Pipeline("build", err)
		}
		if opts.Framerate <= 0 {
			opts.Framerate = 30
		}
		return newCaster(opts, e.logger.With("role", "caster"))
	case media.RoleReceiver:
		return newReceiver(opts, e.logger.With("role", "receiver")), nil
	default:
		return nil, errdefs.Pipeline("build", errors.Errorf("unknown role %s", role))
	}
}

// worker runs one loop goroutine that can be started and stopped repeatedly.
type worker struct {
	mu   sync.Mutex
	stop chan struct{}
	wg   sync.WaitGroup
}

func (w *worker) start(loop func(stop <-chan struct{})) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stop != nil {
		return
	}
	stop := make(chan struct{})
	w.stop = stop
	w.wg.Go(func() { loop(stop) })
}

func (w *worker) halt() {
	w.mu.Lock()
	stop := w.stop
	w.stop = nil
	w.mu.Unlock()

	if stop != nil {
		close(stop)
		w.wg.Wait()
	}
}

func (w *worker) running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stop != nil
}

func notForRole(op string, role media.Role) error {
	return errdefs.Pipeline(op, fmt.Errorf("not supported by the %s pipeline", role))
}
