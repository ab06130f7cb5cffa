package middleware

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"routecodex-go/internal/monitoring"
)

func statusClass(code int) string {
	if code <= 0 {
		return "error"
	}
	return fmt.Sprintf("%dxx", code/100)
}

// Metrics tracks per-route counters, a latency histogram and the in-flight
// gauge. The server label distinguishes the api surface from the
// management surface.
func Metrics(server string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		monitoring.HTTPInFlight.Inc()
		c.Next()
		monitoring.HTTPInFlight.Dec()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		sc := statusClass(c.Writer.Status())
		durSec := time.Since(start).Seconds()

		monitoring.HTTPRequestsTotal.WithLabelValues(server, c.Request.Method, path, sc).Inc()
		monitoring.HTTPRequestDuration.WithLabelValues(server, c.Request.Method, path, sc).Observe(durSec)
	}
}

// MetricsHandler adapts promhttp onto the gin engine for the scrape
// endpoint.
func MetricsHandler(c *gin.Context) {
	promhttp.Handler().ServeHTTP(c.Writer, c.Request)
}

// RecordSSELines adds to the SSE lines counter for a server/path.
func RecordSSELines(server, path string, n int) {
	if n <= 0 {
		return
	}
	monitoring.SSELinesTotal.WithLabelValues(server, path).Add(float64(n))
}

// RecordSSEClose increments an SSE disconnect reason counter.
func RecordSSEClose(server, path, reason string) {
	if reason == "" {
		reason = "other"
	}
	monitoring.SSEDisconnectsTotal.WithLabelValues(server, path, reason).Inc()
}

// RecordManagementAccess tracks allow/deny decisions of the management
// guard.
func RecordManagementAccess(route, result, source string) {
	if route == "" {
		route = "/"
	}
	if result == "" {
		result = "unknown"
	}
	if source == "" {
		source = "unknown"
	}
	monitoring.ManagementAccessTotal.WithLabelValues(route, result, source).Inc()
}
