package handlers

import (
	"net/http"
	"time"

	"github.com/babelcloud/gbox/packages/caster/internal/util"
	"github.com/dchest/uniuri"
	"github.com/gorilla/websocket"
)

const eventWriteTimeout = 5 * time.Second

var eventsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // local API
	},
}

// HandleEvents streams controller events over a WebSocket until either side
// goes away. The first message is the current status.
func (h *APIHandlers) HandleEvents(w http.ResponseWriter, req *http.Request) {
	logger := util.ComponentLogger("api-events")

	conn, err := eventsUpgrader.Upgrade(w, req, nil)
	if err != nil {
		logger.Debug("Failed to upgrade events WebSocket", "error", err)
		return
	}
	defer conn.Close()

	ctrl := h.serverService.Controller()
	id := "ws-" + uniuri.New()
	events := ctrl.Subscribe(id)
	defer ctrl.Unsubscribe(id)

	logger.Debug("Events subscriber connected", "id", id, "remote", req.RemoteAddr)

	// Reads only detect the peer closing.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.Debug("Events WebSocket read error", "id", id, "error", err)
				}
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case ev, ok := <-events:
			if !ok {
				code, reason := websocket.CloseGoingAway, "shutting down"
				select {
				case <-ctrl.Done():
				default:
					// Dropped for falling behind; the client may reconnect.
					code, reason = websocket.CloseTryAgainLater, "subscriber too slow"
					logger.Warn("Events subscriber dropped", "id", id)
				}
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(code, reason),
					time.Now().Add(time.Second))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				logger.Debug("Events WebSocket write failed", "id", id, "error", err)
				return
			}
		}
	}
}
