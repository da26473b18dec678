package synthetic

import (
	"log/slog"
	"math/rand/v2"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/babelcloud/gbox/packages/caster/internal/errdefs"
	"github.com/babelcloud/gbox/packages/caster/internal/media"
	"github.com/pion/rtp"
	"github.com/pkg/errors"
)

type destination struct {
	addr *net.UDPAddr
	refs int
}

type caster struct {
	opts   media.BuildOptions
	logger *slog.Logger
	conn   *net.UDPConn
	loop   worker

	mu           sync.Mutex
	state        media.State
	region       media.Region
	blank        bool
	closed       bool
	tick         uint64
	destinations map[string]*destination
	packetizer   rtp.Packetizer
}

func newCaster(opts media.BuildOptions, logger *slog.Logger) (*caster, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return nil, errdefs.Pipeline("build", errors.Wrap(err, "failed to open media socket"))
	}
	return &caster{
		opts:         opts,
		logger:       logger,
		conn:         conn,
		region:       opts.Region,
		destinations: make(map[string]*destination),
		packetizer: rtp.NewPacketizer(mtu, payloadType, rand.Uint32(),
			jpegPayloader{}, rtp.NewRandomSequencer(), clockRate),
	}, nil
}

func (c *caster) SetState(state media.State) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errdefs.Pipeline("set state "+state.String(), errors.New("pipeline closed"))
	}
	c.state = state
	c.mu.Unlock()

	if state == media.StatePlaying {
		c.loop.start(c.run)
	} else {
		c.loop.halt()
	}
	c.logger.Debug("State changed", "state", state.String())
	return nil
}

func (c *caster) AddDestination(host string, port int) error {
	addr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return errdefs.Pipeline("add destination", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key := addr.String()
	if d, ok := c.destinations[key]; ok {
		d.refs++
		return nil
	}
	c.destinations[key] = &destination{addr: addr, refs: 1}
	return nil
}

func (c *caster) RemoveDestination(host string, port int) error {
	addr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return errdefs.Pipeline("remove destination", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key := addr.String()
	if d, ok := c.destinations[key]; ok {
		d.refs--
		if d.refs <= 0 {
			delete(c.destinations, key)
		}
	}
	return nil
}

func (c *caster) SetRegion(region media.Region) error {
	if err := region.Validate(); err != nil {
		return errdefs.Pipeline("set region", err)
	}
	c.mu.Lock()
	c.region = region
	c.mu.Unlock()
	return nil
}

func (c *caster) SetBlank(blank bool) error {
	c.mu.Lock()
	c.blank = blank
	c.mu.Unlock()
	return nil
}

func (c *caster) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.state = media.StateNull
	c.mu.Unlock()

	c.loop.halt()
	return errors.Wrap(c.conn.Close(), "failed to close media socket")
}

func (c *caster) run(stop <-chan struct{}) {
	interval := time.Second / time.Duration(c.opts.Framerate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.emit()
		}
	}
}

func (c *caster) emit() {
	c.mu.Lock()
	w, h := frameSize(c.region)
	blank := c.blank
	c.tick++
	tick := c.tick
	targets := make([]*net.UDPAddr, 0, len(c.destinations))
	for _, d := range c.destinations {
		targets = append(targets, d.addr)
	}
	c.mu.Unlock()

	frame := renderPattern(w, h, tick*4, blank)
	if c.opts.OnFrame != nil {
		c.opts.OnFrame(frame)
	}
	if len(targets) == 0 {
		return
	}

	packets := c.packetizer.Packetize(frame, clockRate/uint32(c.opts.Framerate))
	for _, pkt := range packets {
		raw, err := pkt.Marshal()
		if err != nil {
			c.logger.Warn("Failed to marshal packet", "error", err)
			return
		}
		for _, addr := range targets {
			// Receivers that went away are dropped by the registry, not here.
			if _, err := c.conn.WriteToUDP(raw, addr); err != nil {
				c.logger.Debug("Media send failed", "destination", addr.String(), "error", err)
			}
		}
	}
}
