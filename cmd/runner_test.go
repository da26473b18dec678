package cmd

import (
	"bytes"
	"context"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/babelcloud/gbox/packages/caster/internal/app"
	"github.com/babelcloud/gbox/packages/caster/internal/media/mediatest"
	"github.com/babelcloud/gbox/packages/caster/internal/signal"
	"github.com/babelcloud/gbox/packages/caster/internal/transmission"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// More receivers than a subscriber buffer holds.
const crowd = 40

func startTestRunner(t *testing.T) (*runner, int) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	ctrl := app.NewController(app.Config{
		Engine:       mediatest.NewEngine(),
		ControlPort:  port,
		MediaPort:    9001,
		PollInterval: 20 * time.Millisecond,
		ListenAddr:   "127.0.0.1:" + strconv.Itoa(port),
	})
	ctx, cancel := context.WithCancel(context.Background())
	go ctrl.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-ctrl.Done()
	})
	return &runner{ctrl: ctrl, cancel: cancel}, port
}

func dialReceivers(t *testing.T, rt *runner, port, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		c, err := signal.Dial(context.Background(), "127.0.0.1", port, nil, signal.ClientOptions{DialTimeout: 2 * time.Second})
		require.NoError(t, err)
		t.Cleanup(func() { c.Close() })
	}
	require.Eventually(t, func() bool { return len(rt.ctrl.Status().Receivers) == n }, 10*time.Second, 10*time.Millisecond)
}

func submitIntent(t *testing.T, rt *runner, intent transmission.Intent) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, rt.submit(ctx, intent, ""))
}

func TestWaitForIdleSurvivesDroppedSubscription(t *testing.T) {
	rt, port := startTestRunner(t)

	events := rt.ctrl.Subscribe("cast-test")
	defer rt.ctrl.Unsubscribe("cast-test")
	submitIntent(t, rt, transmission.IntentStartCast)

	// Nobody reads while the receivers join, so the subscription is dropped.
	dialReceivers(t, rt, port, crowd)

	returned := make(chan error, 1)
	go func() { returned <- waitForIdle(context.Background(), rt.ctrl, "cast-test", events) }()

	select {
	case err := <-returned:
		t.Fatalf("returned while still casting: %v", err)
	case <-time.After(200 * time.Millisecond):
	}

	submitIntent(t, rt, transmission.IntentStop)
	select {
	case err := <-returned:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("did not observe idle")
	}
	assert.Equal(t, "idle", rt.ctrl.Status().Mode)
	select {
	case <-rt.ctrl.Done():
		t.Fatal("controller stopped")
	default:
	}
}

func TestWaitForIdleReturnsWhenControllerStops(t *testing.T) {
	rt, _ := startTestRunner(t)

	events := rt.ctrl.Subscribe("cast-test")
	submitIntent(t, rt, transmission.IntentStartCast)

	returned := make(chan error, 1)
	go func() { returned <- waitForIdle(context.Background(), rt.ctrl, "cast-test", events) }()

	rt.cancel()
	select {
	case <-returned:
	case <-time.After(5 * time.Second):
		t.Fatal("did not return after the controller stopped")
	}
}

// gatedWriter blocks every write until open is closed.
type gatedWriter struct {
	open chan struct{}
	mu   sync.Mutex
	buf  bytes.Buffer
}

func (w *gatedWriter) Write(p []byte) (int, error) {
	<-w.open
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

func (w *gatedWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

func TestConsoleKeepsRunningAfterStalledOutput(t *testing.T) {
	rt, port := startTestRunner(t)

	in, feed := io.Pipe()
	defer feed.Close()
	out := &gatedWriter{open: make(chan struct{})}

	returned := make(chan error, 1)
	go func() { returned <- runConsole(context.Background(), rt, in, out) }()
	// Give the console time to subscribe before events start flowing.
	time.Sleep(50 * time.Millisecond)

	submitIntent(t, rt, transmission.IntentStartCast)
	dialReceivers(t, rt, port, crowd)
	submitIntent(t, rt, transmission.IntentStop)
	require.Eventually(t, func() bool { return rt.ctrl.Status().Mode == "idle" }, 5*time.Second, 10*time.Millisecond)

	close(out.open)
	select {
	case err := <-returned:
		t.Fatalf("console exited after stop: %v", err)
	case <-time.After(200 * time.Millisecond):
	}

	_, err := feed.Write([]byte("status\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return strings.Contains(out.String(), "State") }, 5*time.Second, 10*time.Millisecond)

	_, err = feed.Write([]byte("quit\n"))
	require.NoError(t, err)
	select {
	case err := <-returned:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("console did not quit")
	}
}
