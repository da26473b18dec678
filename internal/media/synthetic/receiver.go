package synthetic

import (
	"bytes"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/babelcloud/gbox/packages/caster/internal/errdefs"
	"github.com/babelcloud/gbox/packages/caster/internal/media"
	"github.com/pion/rtp"
	"github.com/pkg/errors"
)

// readPoll bounds each socket read so the loop notices a stop request.
const readPoll = 200 * time.Millisecond

type receiver struct {
	opts   media.BuildOptions
	logger *slog.Logger
	loop   worker

	mu     sync.Mutex
	conn   *net.UDPConn
	closed bool
}

func newReceiver(opts media.BuildOptions, logger *slog.Logger) *receiver {
	return &receiver{opts: opts, logger: logger}
}

func (r *receiver) SetState(state media.State) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return errdefs.Pipeline("set state "+state.String(), errors.New("pipeline closed"))
	}
	r.mu.Unlock()

	switch state {
	case media.StatePlaying:
		if r.loop.running() {
			return nil
		}
		conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: r.opts.MediaPort})
		if err != nil {
			return errdefs.Pipeline("set state playing", errors.Wrapf(err, "failed to bind media port %d", r.opts.MediaPort))
		}
		r.mu.Lock()
		r.conn = conn
		r.mu.Unlock()
		r.loop.start(func(stop <-chan struct{}) { r.run(conn, stop) })
	default:
		r.release()
	}
	r.logger.Debug("State changed", "state", state.String())
	return nil
}

func (r *receiver) AddDestination(string, int) error {
	return notForRole("add destination", media.RoleReceiver)
}

func (r *receiver) RemoveDestination(string, int) error {
	return notForRole("remove destination", media.RoleReceiver)
}

func (r *receiver) SetRegion(media.Region) error {
	return notForRole("set region", media.RoleReceiver)
}

func (r *receiver) SetBlank(bool) error {
	return notForRole("set blank", media.RoleReceiver)
}

func (r *receiver) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	r.release()
	return nil
}

// LocalAddr returns the bound media socket address while playing.
func (r *receiver) LocalAddr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	return r.conn.LocalAddr()
}

func (r *receiver) release() {
	r.loop.halt()

	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

func (r *receiver) run(conn *net.UDPConn, stop <-chan struct{}) {
	buf := make([]byte, 64*1024)
	var asm assembler

	for {
		select {
		case <-stop:
			return
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(readPoll))
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			select {
			case <-stop:
			default:
				if r.opts.OnFault != nil {
					r.opts.OnFault(errdefs.Pipeline("receive", err))
				}
			}
			return
		}

		var pkt rtp.Packet
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			continue
		}
		if frame := asm.push(&pkt); frame != nil && r.opts.OnFrame != nil {
			r.opts.OnFrame(frame)
		}
	}
}

// assembler joins the fragments of one RTP timestamp into a frame. A frame is
// dropped when a fragment is lost or it did not start at the image start.
type assembler struct {
	ts      uint32
	nextSeq uint16
	active  bool
	buf     bytes.Buffer
}

func (a *assembler) push(pkt *rtp.Packet) []byte {
	if !a.active || pkt.Timestamp != a.ts {
		a.buf.Reset()
		a.active = isJPEGStart(pkt.Payload)
		a.ts = pkt.Timestamp
	} else if pkt.SequenceNumber != a.nextSeq {
		a.active = false
		a.buf.Reset()
	}
	if !a.active {
		return nil
	}

	a.buf.Write(pkt.Payload)
	a.nextSeq = pkt.SequenceNumber + 1

	if !pkt.Marker {
		return nil
	}
	a.active = false
	frame := make([]byte, a.buf.Len())
	copy(frame, a.buf.Bytes())
	a.buf.Reset()
	return frame
}
