package signal

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// controlWriteWait bounds control frame writes (ping, pong, close).
const controlWriteWait = time.Second

// keepAlive pings the peer every interval and fails the next read when
// nothing, not even a control frame, arrived for three intervals. Both ends
// run it, so a dead peer is detected even when only one side enables it.
// The returned stop func must be called once reading has ended.
func keepAlive(conn *websocket.Conn, interval time.Duration) (stop func()) {
	if interval <= 0 {
		return func() {}
	}

	extend := func() error {
		return conn.SetReadDeadline(time.Now().Add(3 * interval))
	}
	_ = extend()

	conn.SetPongHandler(func(string) error {
		return extend()
	})
	conn.SetPingHandler(func(data string) error {
		if err := extend(); err != nil {
			return err
		}
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(controlWriteWait))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Go(func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(controlWriteWait)); err != nil {
					return
				}
			}
		}
	})

	return func() {
		close(done)
		wg.Wait()
	}
}

// closeConn sends a best effort close frame and closes the transport. Closing
// the underlying connection unblocks any pending read.
func closeConn(conn *websocket.Conn, code int, reason string) error {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(controlWriteWait/10))
	return conn.Close()
}
