package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"routecodex-go/internal/logging"
)

// RequestLogger logs one structured line per HTTP request. Routing fields
// (category, pipeline) appear when the handler set them on the context.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		latency := time.Since(start)
		extras := log.Fields{
			"status":     c.Writer.Status(),
			"latency_ms": logging.DurationMS(latency),
			"method":     method,
			"path":       path,
			"user_agent": c.Request.UserAgent(),
		}
		if v, ok := c.Get("category"); ok {
			extras["category"] = v
		}
		if v, ok := c.Get("pipeline"); ok {
			extras["pipeline"] = v
		}
		if v, ok := c.Get("model"); ok {
			extras["model"] = v
		}
		logging.WithReq(c, extras).Info("http_request")
	}
}
