package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// AlertsWS streams newly created alerts to a dashboard until the client goes away.
func (h *Handler) AlertsWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		requestLogger(c, h.logger).Warnf("WebSocket upgrade failed: %v", err)
		return
	}

	feed := h.svc.Feed()
	if !feed.AddConnection(conn) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too many connections"),
			time.Now().Add(5*time.Second))
		_ = conn.Close()
		return
	}

	// the feed is write-only; reading only detects the client closing
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			feed.RemoveConnection(conn)
			_ = conn.Close()
			return
		}
	}
}
