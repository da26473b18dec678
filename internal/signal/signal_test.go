package signal

import (
	"context"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/babelcloud/gbox/packages/caster/internal/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type eventLog struct {
	mu     sync.Mutex
	events []Event
	ch     chan Event
}

func newEventLog() *eventLog {
	return &eventLog{ch: make(chan Event, 64)}
}

func (l *eventLog) handle(ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
	l.ch <- ev
}

func (l *eventLog) next(t *testing.T) Event {
	t.Helper()
	select {
	case ev := <-l.ch:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for signal event")
		return Event{}
	}
}

func (l *eventLog) snapshot() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

func startServer(t *testing.T, log *eventLog, keepalive time.Duration) (*Server, int) {
	t.Helper()
	srv := NewServer(log.handle, ServerOptions{Keepalive: keepalive})
	require.NoError(t, srv.ListenAddr("127.0.0.1:0"))
	t.Cleanup(func() { srv.Stop() })
	return srv, srv.Addr().(*net.TCPAddr).Port
}

func dial(t *testing.T, port int, onDisconnect func()) *Client {
	t.Helper()
	c, err := Dial(context.Background(), "127.0.0.1", port, onDisconnect, ClientOptions{DialTimeout: 2 * time.Second})
	require.NoError(t, err)
	return c
}

func TestParseEndpoint(t *testing.T) {
	ep, err := ParseEndpoint("192.168.1.20:51234")
	require.NoError(t, err)
	assert.Equal(t, Endpoint{Host: "192.168.1.20", Port: 51234}, ep)
	assert.Equal(t, "192.168.1.20:51234", ep.String())

	_, err = ParseEndpoint("no-port")
	assert.Error(t, err)
}

func TestServerConnectDisconnect(t *testing.T) {
	log := newEventLog()
	_, port := startServer(t, log, 0)

	client := dial(t, port, nil)

	connected := log.next(t)
	assert.Equal(t, Connected, connected.Kind)
	assert.Equal(t, "127.0.0.1", connected.Endpoint.Host)

	require.NoError(t, client.Close())

	disconnected := log.next(t)
	assert.Equal(t, Disconnected, disconnected.Kind)
	assert.Equal(t, connected.Endpoint, disconnected.Endpoint)
}

func TestServerStopDrainsConnections(t *testing.T) {
	log := newEventLog()
	srv, port := startServer(t, log, 0)

	var lost sync.WaitGroup
	lost.Add(2)
	a := dial(t, port, lost.Done)
	b := dial(t, port, lost.Done)
	defer a.Close()
	defer b.Close()

	log.next(t)
	log.next(t)
	assert.Len(t, srv.Endpoints(), 2)

	require.NoError(t, srv.Stop())

	// Every Disconnected event is delivered before Stop returns.
	events := log.snapshot()
	require.Len(t, events, 4)
	assert.Equal(t, Disconnected, events[2].Kind)
	assert.Equal(t, Disconnected, events[3].Kind)
	assert.Empty(t, srv.Endpoints())

	// Receivers observe the loss.
	done := make(chan struct{})
	go func() { lost.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("clients were not notified")
	}

	// Idempotent.
	assert.NoError(t, srv.Stop())
	assert.Len(t, log.snapshot(), 4)
}

func TestServerStopWithoutListen(t *testing.T) {
	srv := NewServer(nil, ServerOptions{})
	assert.NoError(t, srv.Stop())
	assert.Nil(t, srv.Addr())

	err := srv.Listen(0)
	require.Error(t, err)
	assert.True(t, errdefs.IsConnection(err))
}

func TestServerListenPortInUse(t *testing.T) {
	log := newEventLog()
	_, port := startServer(t, log, 0)

	other := NewServer(nil, ServerOptions{})
	defer other.Stop()
	err := other.ListenAddr(net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.Error(t, err)
	assert.True(t, errdefs.IsConnection(err))
}

func TestServerHandlerPanicDoesNotLeak(t *testing.T) {
	calls := make(chan EventKind, 4)
	srv := NewServer(func(ev Event) {
		calls <- ev.Kind
		panic("boom")
	}, ServerOptions{})
	require.NoError(t, srv.ListenAddr("127.0.0.1:0"))
	port := srv.Addr().(*net.TCPAddr).Port

	c := dial(t, port, nil)
	assert.Equal(t, Connected, <-calls)
	require.NoError(t, c.Close())
	assert.Equal(t, Disconnected, <-calls)
	assert.NoError(t, srv.Stop())
}

func TestDialRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	_, err = Dial(context.Background(), "127.0.0.1", port, nil, ClientOptions{DialTimeout: time.Second})
	require.Error(t, err)
	assert.True(t, errdefs.IsConnection(err))
}

func TestClientCloseDoesNotNotify(t *testing.T) {
	log := newEventLog()
	_, port := startServer(t, log, 0)

	notified := make(chan struct{}, 1)
	c := dial(t, port, func() { notified <- struct{}{} })
	log.next(t)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	select {
	case <-c.Done():
	default:
		t.Fatal("Done not closed after Close")
	}
	select {
	case <-notified:
		t.Fatal("Close must not raise the disconnect notification")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestClientNotifiedOnceOnLoss(t *testing.T) {
	log := newEventLog()
	srv, port := startServer(t, log, 50*time.Millisecond)

	var count int
	var mu sync.Mutex
	notified := make(chan struct{}, 4)
	c := dial(t, port, func() {
		mu.Lock()
		count++
		mu.Unlock()
		notified <- struct{}{}
	})
	log.next(t)

	require.NoError(t, srv.Stop())

	select {
	case <-notified:
	case <-time.After(5 * time.Second):
		t.Fatal("disconnect notification not raised")
	}

	// A later Close is a no-op and raises nothing more.
	require.NoError(t, c.Close())
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, 1, count)
	mu.Unlock()
}

func TestKeepaliveHoldsIdleConnection(t *testing.T) {
	log := newEventLog()
	_, port := startServer(t, log, 20*time.Millisecond)

	c, err := Dial(context.Background(), "127.0.0.1", port, nil,
		ClientOptions{DialTimeout: time.Second, Keepalive: 20 * time.Millisecond})
	require.NoError(t, err)
	defer c.Close()
	log.next(t)

	// Several deadline windows pass with no application traffic.
	time.Sleep(200 * time.Millisecond)
	select {
	case <-c.Done():
		t.Fatal("idle connection dropped despite keepalive")
	default:
	}
	assert.Len(t, log.snapshot(), 1)
}
