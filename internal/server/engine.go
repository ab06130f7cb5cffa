package server

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"routecodex-go/internal/config"
	"routecodex-go/internal/constants"
	"routecodex-go/internal/handlers/anthropic"
	"routecodex-go/internal/handlers/codex"
	"routecodex-go/internal/handlers/common"
	"routecodex-go/internal/handlers/management"
	"routecodex-go/internal/handlers/openaichat"
	"routecodex-go/internal/middleware"
)

// buildEngine wires the middleware chain and mounts every surface on one
// gin engine. Debug mode is decided by the startup snapshot; API key and
// rate limits come from it too, but the key is re-read per request so a
// reload takes effect without rebuilding routes.
func (s *Server) buildEngine(rc *config.RuntimeConfig) *gin.Engine {
	if rc.Gateway.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(middleware.Recovery())
	engine.Use(middleware.RequestID())
	engine.Use(middleware.CORS())
	engine.Use(middleware.Metrics("api"))
	engine.Use(middleware.RequestLogger())

	clientAuth := middleware.UnifiedAuth(middleware.AuthConfig{
		CustomValidator: s.clientKeyValid,
	})

	engine.GET("/health", s.Healthz)
	engine.GET("/ready", s.Readyz)
	engine.GET("/metrics", middleware.MetricsHandler)
	// Authenticated like the client surfaces, but outside the inflight
	// counter so the drain never waits on the shutdown call itself.
	engine.POST("/shutdown", clientAuth, s.ShutdownHandler)

	api := engine.Group("/", clientAuth)
	api.Use(s.countInflight())
	if rc.Gateway.RateLimitEnabled {
		api.Use(middleware.RateLimiter(rc.Gateway.RateLimitRPS, rc.Gateway.RateLimitBurst))
	}

	gw := &common.Gateway{
		Router:   s.deps.Router,
		Source:   s.Snapshot,
		Catalog:  s.Catalog,
		Usage:    s.deps.Usage,
		Recorder: s.recorder,
		Server:   "api",
	}
	openaichat.New(gw).Register(api)
	anthropic.New(gw).Register(api)
	codex.New(gw).Register(api)

	management.New(management.Options{
		Source:      s.Snapshot,
		Router:      s.deps.Router,
		Credentials: s.deps.Credentials,
		Health:      s.deps.Health,
		Usage:       s.deps.Usage,
		Ring:        s.deps.Ring,
		Reload:      s.Reload,
		Key:         rc.Gateway.ManagementKey,
		KeyHash:     rc.Gateway.ManagementKeyHash,
	}).Register(engine)

	return engine
}

// clientKeyValid checks a client key against the active snapshot. An
// empty configured key means the gateway runs open; that can change on
// any reload, so the check always reads the live snapshot.
func (s *Server) clientKeyValid(provided string) bool {
	required := s.Snapshot().RC.HTTPServer.APIKey
	if required == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(required)) == 1
}

// Healthz is the unauthenticated liveness probe.
func (s *Server) Healthz(c *gin.Context) {
	st := s.state.Load()
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": constants.GetVersion(),
		"snapshot": gin.H{
			"version":   st.snap.RC.Version,
			"pipelines": len(st.snap.Assembly.Pipelines),
		},
		"time": time.Now().UTC().Format(time.RFC3339),
	})
}

// Readyz is the readiness probe: not ready once a stop was requested or
// when the active snapshot has no pipelines to route to.
func (s *Server) Readyz(c *gin.Context) {
	if reason := s.StopReason(); reason != "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "stopping", "reason": reason})
		return
	}
	st := s.state.Load()
	if st == nil || len(st.snap.Assembly.Pipelines) == 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "no_pipelines"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "ready",
		"pipelines": len(st.snap.Assembly.Pipelines),
	})
}
