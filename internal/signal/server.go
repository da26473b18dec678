package signal

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/babelcloud/gbox/packages/caster/internal/errdefs"
	"github.com/babelcloud/gbox/packages/caster/internal/util"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

var upgrader = websocket.Upgrader{
	HandshakeTimeout: 5 * time.Second,
	CheckOrigin: func(r *http.Request) bool {
		return true // receivers are native clients, not browsers
	},
}

// ServerOptions tune a Server.
type ServerOptions struct {
	// Keepalive is the ping interval. Zero disables pings and read deadlines.
	Keepalive time.Duration
}

// Server accepts receiver connections on the caster side. Each accepted
// connection yields one Connected event and, when it closes for any reason,
// one Disconnected event, both raised from the connection's own goroutine.
type Server struct {
	handler Handler
	opts    ServerOptions
	logger  *slog.Logger

	mu         sync.Mutex
	listener   net.Listener
	httpServer *http.Server
	conns      map[*websocket.Conn]Endpoint
	stopping   bool

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewServer creates a server that reports lifecycle events to handler.
func NewServer(handler Handler, opts ServerOptions) *Server {
	return &Server{
		handler: handler,
		opts:    opts,
		logger:  util.ComponentLogger("signal-server"),
		conns:   make(map[*websocket.Conn]Endpoint),
	}
}

// Listen binds the control endpoint on every interface and starts accepting
// in the background.
func (s *Server) Listen(port int) error {
	return s.ListenAddr(fmt.Sprintf(":%d", port))
}

// ListenAddr is Listen with an explicit address.
func (s *Server) ListenAddr(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopping {
		return errdefs.Connection("listen", addr, errors.New("server stopped"))
	}
	if s.listener != nil {
		return errdefs.Connection("listen", addr, errors.New("server already listening"))
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errdefs.Connection("listen", addr, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(Path, s.handleSignal)

	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ErrorLog:          util.NewStdLogger("signal-server", slog.LevelDebug),
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Signal listener stopped", "error", err)
		}
	}()

	s.logger.Info("Signal server listening", "address", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Endpoints returns the currently open connections.
func (s *Server) Endpoints() []Endpoint {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Endpoint, 0, len(s.conns))
	for _, ep := range s.conns {
		out = append(out, ep)
	}
	return out
}

// Stop closes the listener and every open connection, then waits for all
// connection goroutines. Each still-open connection raises its trailing
// Disconnected event before Stop returns; no event is raised afterwards.
// Stop is idempotent.
func (s *Server) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopping = true
		httpServer := s.httpServer
		conns := make([]*websocket.Conn, 0, len(s.conns))
		for conn := range s.conns {
			conns = append(conns, conn)
		}
		s.mu.Unlock()

		if httpServer != nil {
			if cerr := httpServer.Close(); cerr != nil {
				err = errors.Wrap(cerr, "failed to close signal listener")
			}
		}

		// Hijacked connections are unknown to http.Server and closed here.
		for _, conn := range conns {
			if cerr := closeConn(conn, websocket.CloseGoingAway, "caster stopping"); cerr != nil {
				s.logger.Debug("Closing receiver connection", "error", cerr)
			}
		}

		s.wg.Wait()
		s.logger.Info("Signal server stopped", "closed", len(conns))
	})
	return err
}

func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		http.Error(w, "caster stopping", http.StatusServiceUnavailable)
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Failed to upgrade receiver connection", "remote", r.RemoteAddr, "error", err)
		return
	}

	endpoint, err := ParseEndpoint(conn.RemoteAddr().String())
	if err != nil {
		s.logger.Warn("Rejecting receiver connection", "error", err)
		conn.Close()
		return
	}

	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.conns[conn] = endpoint
	s.mu.Unlock()

	s.emit(Event{Kind: Connected, Endpoint: endpoint})

	s.monitor(conn, endpoint)

	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	conn.Close()

	s.emit(Event{Kind: Disconnected, Endpoint: endpoint})
}

// monitor blocks until the connection fails or is closed.
func (s *Server) monitor(conn *websocket.Conn, endpoint Endpoint) {
	conn.SetReadLimit(4096)
	stop := keepAlive(conn, s.opts.Keepalive)
	defer stop()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("Receiver connection lost", "endpoint", endpoint.String(), "error", err)
			}
			return
		}
		// Receivers have nothing to say; stray messages are ignored.
	}
}

func (s *Server) emit(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Recovered from signal handler", "event", ev.Kind.String(),
				"endpoint", ev.Endpoint.String(), "panic", r, "stack", string(debug.Stack()))
		}
	}()

	s.logger.Debug("Signal event", "event", ev.Kind.String(), "endpoint", ev.Endpoint.String())
	if s.handler != nil {
		s.handler(ev)
	}
}
