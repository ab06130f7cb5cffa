package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"routecodex-go/internal/constants"
)

// ShutdownHandler serves POST /shutdown: wait for in-flight requests to
// drain (bounded by the drain window), answer the caller, then ask the
// run loop to stop. Long streams past the window are cut by the regular
// graceful shutdown that follows.
func (s *Server) ShutdownHandler(c *gin.Context) {
	log.Info("shutdown requested over HTTP")

	deadline := time.After(constants.ShutdownDrainWindow)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()

drain:
	// /shutdown 自己不计数，等的是存量业务请求
	for s.inflight.Load() > 0 {
		select {
		case <-deadline:
			log.WithField("inflight", s.inflight.Load()).Warn("drain window elapsed with requests still in flight")
			break drain
		case <-tick.C:
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "shutting_down"})
	s.requestStop("shutdown_endpoint")
}

// countInflight tracks live requests on the client surfaces so the
// drain loop has something to watch.
func (s *Server) countInflight() gin.HandlerFunc {
	return func(c *gin.Context) {
		s.inflight.Add(1)
		defer s.inflight.Add(-1)
		c.Next()
	}
}

// requestStop asks the run loop to exit once. The reason ends up in the
// lifecycle exit marker.
func (s *Server) requestStop(reason string) {
	s.stopReason.CompareAndSwap("", reason)
	select {
	case s.stopCh <- struct{}{}:
	default:
	}
}

// StopReason names what ended the run loop; empty means a plain signal.
func (s *Server) StopReason() string {
	return s.stopReason.Load().(string)
}
