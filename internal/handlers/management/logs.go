package management

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"routecodex-go/internal/logging"
)

const (
	logWriteWait = 10 * time.Second
	logPongWait  = 60 * time.Second
	logPingEvery = (logPongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// 握手前已过管理密钥校验，跨域交给部署层
	CheckOrigin: func(r *http.Request) bool { return true },
}

// GET /v0/management/logs/stream
//
// Replays the retained ring history, then tails live entries until the
// client goes away. Slow clients miss entries instead of backpressuring
// the logging path.
func (h *Handler) StreamLogs(c *gin.Context) {
	if h.ring == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": gin.H{"message": "log ring not configured"}})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 失败时响应已写出
		log.WithError(err).Debug("log stream upgrade failed")
		return
	}
	defer conn.Close()

	entries, cancel := h.ring.Subscribe()
	defer cancel()

	for _, e := range h.ring.History() {
		if writeRingEntry(conn, e) != nil {
			return
		}
	}

	readerGone := make(chan struct{})
	go func() {
		defer close(readerGone)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(logPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(logPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(logPingEvery)
	defer ping.Stop()

	for {
		select {
		case e, ok := <-entries:
			if !ok {
				return
			}
			if writeRingEntry(conn, e) != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(logWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-readerGone:
			return
		}
	}
}

func writeRingEntry(conn *websocket.Conn, e logging.RingEntry) error {
	_ = conn.SetWriteDeadline(time.Now().Add(logWriteWait))
	return conn.WriteJSON(e)
}
