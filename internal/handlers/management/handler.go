package management

import (
	"time"

	"github.com/gin-gonic/gin"

	"routecodex-go/internal/credential"
	"routecodex-go/internal/handlers/common"
	"routecodex-go/internal/health"
	"routecodex-go/internal/logging"
	"routecodex-go/internal/router"
	"routecodex-go/internal/usage"
)

// ReloadFunc forces a config re-resolve and snapshot swap. It returns
// the version now active, which on a failed reload is still the old one.
type ReloadFunc func(reason string) (int64, error)

// Handler serves the management surface. Everything behind it requires
// the management key; /metrics and /health stay on the public engine.
type Handler struct {
	startTime   time.Time
	source      common.SnapshotSource
	router      *router.Router
	credentials *credential.Store
	health      *health.Manager
	usage       *usage.Tracker
	ring        *logging.RingHook
	reload      ReloadFunc

	key     string
	keyHash string
}

// Options carries the wiring for New. Key and KeyHash may both be set;
// the hash wins. With neither set the surface refuses all access.
type Options struct {
	Source      common.SnapshotSource
	Router      *router.Router
	Credentials *credential.Store
	Health      *health.Manager
	Usage       *usage.Tracker
	Ring        *logging.RingHook
	Reload      ReloadFunc
	Key         string
	KeyHash     string
}

func New(opts Options) *Handler {
	return &Handler{
		startTime:   time.Now(),
		source:      opts.Source,
		router:      opts.Router,
		credentials: opts.Credentials,
		health:      opts.Health,
		usage:       opts.Usage,
		ring:        opts.Ring,
		reload:      opts.Reload,
		key:         opts.Key,
		keyHash:     opts.KeyHash,
	}
}

// Register mounts the management routes under /v0/management.
func (h *Handler) Register(r gin.IRouter) {
	grp := r.Group("/v0/management", h.requireKey)
	grp.GET("/status", h.Status)
	grp.GET("/credentials", h.ListCredentials)
	grp.POST("/credentials/:id/enable", h.EnableCredential)
	grp.POST("/credentials/:id/disable", h.DisableCredential)
	grp.POST("/credentials/:id/reset", h.ResetCredential)
	grp.GET("/health", h.HealthDump)
	grp.GET("/usage", h.Usage)
	grp.POST("/usage/limits", h.SetUsageLimit)
	grp.POST("/config/reload", h.ReloadConfig)
	grp.GET("/logs/stream", h.StreamLogs)
}
