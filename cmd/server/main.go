package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"routecodex-go/internal/config"
	"routecodex-go/internal/constants"
	"routecodex-go/internal/credential"
	"routecodex-go/internal/events"
	"routecodex-go/internal/health"
	"routecodex-go/internal/lifecycle"
	"routecodex-go/internal/logging"
	"routecodex-go/internal/monitoring"
	tracing "routecodex-go/internal/monitoring/tracing"
	"routecodex-go/internal/netutil"
	"routecodex-go/internal/oauth"
	"routecodex-go/internal/router"
	srv "routecodex-go/internal/server"
	store "routecodex-go/internal/storage"
	"routecodex-go/internal/usage"
)

func main() {
	os.Exit(run())
}

// run keeps main to a single os.Exit so every defer fires before the
// process goes away.
func run() int {
	configPath := flag.String("config", "", "Path to the user config (defaults to $ROUTECODEX_CONFIG, then ~/.routecodex/config.json)")
	systemConfigPath := flag.String("system-config", "", "Path to the system config overlay")
	host := flag.String("host", "", "Listen host override")
	port := flag.Int("port", 0, "Listen port override")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	// Flag overrides travel through the environment so they survive hot
	// reloads: Resolve re-freezes env on every pass.
	if *host != "" {
		_ = os.Setenv(config.EnvHTTPHost, *host)
	}
	if *port > 0 {
		_ = os.Setenv(config.EnvPort, strconv.Itoa(*port))
	}

	rc, warnings, err := config.Resolve(*configPath, *systemConfigPath)
	if err != nil {
		log.WithError(err).Fatal("configuration rejected")
	}
	if *debug {
		rc.Gateway.Debug = true
	}

	ring := logging.NewRingHook(0)
	if err := logging.Setup(logging.Options{
		Debug:   rc.Gateway.Debug,
		LogFile: rc.Gateway.LogFile,
		Hooks:   []log.Hook{ring},
	}); err != nil {
		log.WithError(err).Fatal("failed to configure logging")
	}
	for _, w := range warnings {
		log.WithField("path", w.Path).Warn(w.Message)
	}
	log.WithFields(log.Fields{
		"version":   rc.Version,
		"home":      rc.HomeDir,
		"providers": len(rc.Providers),
		"pipelines": len(rc.Pipelines),
	}).Info("starting routecodex")

	traceShutdown, err := tracing.Init(context.Background())
	if err != nil {
		log.WithError(err).Warn("failed to initialize tracing")
	}
	if traceShutdown != nil {
		defer func() {
			if err := traceShutdown(context.Background()); err != nil {
				log.WithError(err).Warn("failed to shutdown tracing")
			}
		}()
	}

	metrics := monitoring.NewEnhancedMetrics()
	monitoring.SetDefaultMetrics(metrics)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Open already degrades redis/mongo/postgres/git to the file backend;
	// an error here means even local state is unwritable.
	backend, err := store.Open(ctx, rc.Storage)
	if err != nil {
		log.WithError(err).Error("storage unavailable")
		return 1
	}
	defer func() {
		if err := backend.Close(); err != nil {
			log.WithError(err).Warn("storage close failed")
		}
	}()

	hub := events.NewHub()
	healthMgr := health.NewManager(hub)
	restoreHealthEntries(ctx, backend, healthMgr)

	creds := credential.NewStore(rc, credential.Options{
		OAuth:     oauth.NewClient(),
		Hub:       hub,
		Persister: store.CredentialStates(backend),
	})

	tracker := usage.NewTracker(backend)
	if err := tracker.Start(ctx); err != nil {
		log.WithError(err).Warn("usage tracker degraded")
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracker.Stop(flushCtx)
	}()

	rt := router.New(router.Deps{
		Credentials: creds,
		Health:      healthMgr,
		Usage:       tracker,
		Hub:         hub,
	})
	defer rt.Close()

	server, err := srv.New(srv.Dependencies{
		UserConfigPath:   *configPath,
		SystemConfigPath: *systemConfigPath,
		Store:            config.NewStore(rc),
		Credentials:      creds,
		Health:           healthMgr,
		Usage:            tracker,
		Hub:              hub,
		Router:           rt,
		Storage:          backend,
		Ring:             ring,
	})
	if err != nil {
		log.WithError(err).Error("server assembly failed")
		return 1
	}

	// Probe before touching the PID file: a second instance must not
	// clobber the markers of the one already serving.
	if err := netutil.ProbePort(rc.HTTPServer.Host, rc.HTTPServer.Port); err != nil {
		if pid, ok := lifecycle.ReadPID(rc.HomeDir, rc.HTTPServer.Port); ok {
			log.WithError(err).WithFields(log.Fields{
				"port": rc.HTTPServer.Port,
				"pid":  pid,
			}).Error("port is busy, another instance appears to be running")
		} else {
			log.WithError(err).WithField("port", rc.HTTPServer.Port).Error("port is busy")
		}
		return 1
	}
	markers := lifecycle.New(rc.HomeDir, rc.HTTPServer.Port)
	if err := markers.Start(); err != nil {
		log.WithError(err).Warn("lifecycle markers unavailable")
	}

	watcher := config.NewWatcher(watchTarget(*configPath, rc), func(source string) {
		_, _ = server.Reload(source)
	})
	watcher.Start()
	defer watcher.Stop()

	creds.StartPeriodicRefresh(ctx, constants.CredentialRefreshInterval)
	creds.WatchAuthDir(ctx, rc.AuthDir)

	recovery := health.NewRecovery(healthMgr, health.ProberFunc(func(ctx context.Context, id string) error {
		_, err := creds.EnsureFresh(ctx, id)
		return err
	}), 0)
	recovery.Start(ctx)
	defer recovery.Stop()

	go startHealthPersistence(ctx, backend, healthMgr, constants.HealthPersistInterval)

	runErr := server.Run(ctx)

	// Final flush so blocks and 429 counters survive the restart.
	persistHealthEntries(context.Background(), backend, healthMgr)

	reason := server.StopReason()
	if reason == "" {
		reason = "signal"
	}
	if err := markers.Exit(reason); err != nil {
		log.WithError(err).Warn("exit marker write failed")
	}

	if runErr != nil {
		log.WithError(runErr).Error("gateway terminated")
		return 1
	}
	log.WithField("reason", reason).Info("gateway stopped")
	return 0
}
