package signal

import (
	"context"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/babelcloud/gbox/packages/caster/internal/errdefs"
	"github.com/babelcloud/gbox/packages/caster/internal/util"
	"github.com/gorilla/websocket"
)

// ClientOptions tune Dial.
type ClientOptions struct {
	// DialTimeout bounds the TCP connect and the upgrade handshake.
	DialTimeout time.Duration
	// Keepalive is the ping interval. Zero disables pings and read deadlines.
	Keepalive time.Duration
}

// Client is the receiver side of the control channel.
type Client struct {
	conn         *websocket.Conn
	remote       string
	onDisconnect func()
	logger       *slog.Logger

	// ended is set by whichever of Close or the monitor gets there first.
	ended     atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the caster at host:port. onDisconnect runs at most once,
// on a background goroutine, when the connection is lost for any reason other
// than Close. It may call Close.
func Dial(ctx context.Context, host string, port int, onDisconnect func(), opts ClientOptions) (*Client, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	u := url.URL{Scheme: "ws", Host: addr, Path: Path}

	dialer := websocket.Dialer{
		HandshakeTimeout: opts.DialTimeout,
		NetDialContext:   (&net.Dialer{Timeout: opts.DialTimeout}).DialContext,
	}
	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, errdefs.Connection("dial", addr, err)
	}

	c := &Client{
		conn:         conn,
		remote:       addr,
		onDisconnect: onDisconnect,
		logger:       util.ComponentLogger("signal-client"),
		done:         make(chan struct{}),
	}
	go c.monitor(opts.Keepalive)

	c.logger.Info("Connected to caster", "address", addr)
	return c, nil
}

// RemoteAddr is the caster address this client dialed.
func (c *Client) RemoteAddr() string {
	return c.remote
}

// Done is closed once the connection has ended.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close ends the connection without raising the disconnect notification and
// waits for the monitor goroutine. Idempotent.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if c.ended.CompareAndSwap(false, true) {
			err = closeConn(c.conn, websocket.CloseNormalClosure, "receiver stopping")
		}
		<-c.done
	})
	return err
}

func (c *Client) monitor(keepalive time.Duration) {
	c.conn.SetReadLimit(4096)
	stop := keepAlive(c.conn, keepalive)

	var readErr error
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			readErr = err
			break
		}
	}
	stop()
	c.conn.Close()

	notify := c.ended.CompareAndSwap(false, true)
	close(c.done)

	if !notify {
		return
	}
	c.logger.Warn("Connection to caster lost", "address", c.remote, "error", readErr)
	if c.onDisconnect != nil {
		c.onDisconnect()
	}
}
