package management

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"

	"routecodex-go/internal/constants"
)

// GET /v0/management/status
func (h *Handler) Status(c *gin.Context) {
	snap := h.source()
	rc := snap.RC

	categories := make([]string, 0, len(rc.Routing))
	for cat := range rc.Routing {
		categories = append(categories, cat)
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	c.JSON(http.StatusOK, gin.H{
		"version":    constants.GetVersion(),
		"build":      constants.GetFullVersion(),
		"uptime_s":   int64(time.Since(h.startTime).Seconds()),
		"go_version": runtime.Version(),
		"goroutines": runtime.NumGoroutine(),
		"heap_mb":    m.HeapAlloc / 1024 / 1024,
		"snapshot": gin.H{
			"version":     rc.Version,
			"resolved_at": rc.ResolvedAt.UTC().Format(time.RFC3339),
			"providers":   len(rc.Providers),
			"credentials": len(rc.Credentials),
			"pipelines":   len(rc.Pipelines),
			"categories":  categories,
		},
		"pipeline_states": h.router.States(),
	})
}
