package logging

import (
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// WithReq builds a log entry carrying the request attribution fields the
// access log and handler warnings share. Extras win on key conflicts.
func WithReq(c *gin.Context, extras log.Fields) *log.Entry {
	fields := log.Fields{
		"request_id": c.GetString("request_id"),
		"method":     c.Request.Method,
		"path":       requestPath(c),
		"ip":         c.ClientIP(),
	}
	for k, v := range extras {
		fields[k] = v
	}
	return log.WithFields(fields)
}

// requestPath prefers the matched route template so the field stays
// low-cardinality; unmatched requests fall back to the raw URL path.
func requestPath(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	if c.Request != nil && c.Request.URL != nil {
		return c.Request.URL.Path
	}
	return ""
}

// WithRoute enriches an entry with routing attribution. Credentials appear
// by alias only, never by secret.
func WithRoute(category, pipelineID, providerID, credentialAlias string) *log.Entry {
	return log.WithFields(log.Fields{
		"category":   category,
		"pipeline":   pipelineID,
		"provider":   providerID,
		"credential": credentialAlias,
	})
}

// DurationMS converts a duration to integer milliseconds for logging.
func DurationMS(d time.Duration) int64 { return d.Milliseconds() }
