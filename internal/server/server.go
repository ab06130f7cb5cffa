package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"routecodex-go/internal/config"
	"routecodex-go/internal/constants"
	"routecodex-go/internal/credential"
	"routecodex-go/internal/events"
	"routecodex-go/internal/handlers/common"
	"routecodex-go/internal/health"
	"routecodex-go/internal/logging"
	"routecodex-go/internal/modelcatalog"
	"routecodex-go/internal/monitoring"
	"routecodex-go/internal/pipeline"
	"routecodex-go/internal/router"
	"routecodex-go/internal/storage"
	"routecodex-go/internal/usage"
)

// Dependencies are the long-lived services the server wires together.
// All of them survive snapshot swaps; only the assembly and catalog are
// rebuilt per swap.
type Dependencies struct {
	UserConfigPath   string
	SystemConfigPath string

	Store       *config.Store
	Credentials *credential.Store
	Health      *health.Manager
	Usage       *usage.Tracker
	Hub         *events.Hub
	Router      *router.Router
	Storage     storage.Backend
	Ring        *logging.RingHook
}

// state is the immutable snapshot bundle requests read: the runtime
// config, its assembled pipelines and the catalog derived from both.
type state struct {
	snap    router.Snapshot
	catalog *modelcatalog.Catalog
}

// Server owns the gin engine, the active snapshot state and the reload
// path. One Server serves all three client dialects plus management.
type Server struct {
	deps     Dependencies
	state    atomic.Pointer[state]
	engine   http.Handler
	httpSrv  *http.Server
	recorder *common.Recorder

	reloadMu sync.Mutex

	inflight   atomic.Int64
	stopCh     chan struct{}
	stopReason atomic.Value
}

// New assembles the initial snapshot and builds the engine. A routing
// category with zero available pipelines is fatal here; on later reloads
// the same condition keeps the previous snapshot instead.
func New(deps Dependencies) (*Server, error) {
	rc := deps.Store.Current()
	if rc == nil {
		return nil, errors.New("server: nil initial snapshot")
	}

	s := &Server{deps: deps, stopCh: make(chan struct{}, 1)}
	s.stopReason.Store("")

	asm := pipeline.Assemble(context.Background(), rc, pipeline.Deps{
		Credentials: deps.Credentials,
		Health:      deps.Health,
	})
	if empty := asm.EmptyCategories(rc); len(empty) > 0 {
		return nil, fmt.Errorf("server: categories without available pipelines: %v", empty)
	}
	s.install(rc, asm, "startup")

	if rc.Env.SnapshotEnabled {
		dir := filepath.Join(rc.HomeDir, "codex-samples")
		s.recorder = common.NewRecorder(dir)
		log.WithField("dir", dir).Info("request snapshot capture enabled")
	}

	s.engine = s.buildEngine(rc)
	return s, nil
}

// install publishes a new state bundle and the events/metrics that go
// with a swap. Callers have already validated the assembly.
func (s *Server) install(rc *config.RuntimeConfig, asm *pipeline.Assembly, source string) {
	st := &state{
		snap:    router.Snapshot{RC: rc, Assembly: asm},
		catalog: modelcatalog.FromRuntimeConfig(rc),
	}
	old := s.state.Swap(st)
	s.deps.Store.Swap(rc)

	monitoring.ConfigSnapshotVersion.Set(float64(rc.Version))
	s.observeCredentialGauges()

	if s.deps.Hub != nil {
		ctx := context.Background()
		s.deps.Hub.PublishConfigApplied(ctx, events.ConfigApplied{
			Version:       rc.Version,
			PipelineCount: len(asm.Pipelines),
			Source:        source,
		})
		if old != nil {
			for id := range asm.Pipelines {
				if _, existed := old.snap.Assembly.Pipelines[id]; existed {
					s.deps.Hub.PublishPipelineReplaced(ctx, events.PipelineReplaced{PipelineID: id, Version: rc.Version})
				}
			}
		}
	}
}

// observeCredentialGauges refreshes the active/blocked credential gauges
// from the stores. Called on swaps and by the recovery sweep callback.
func (s *Server) observeCredentialGauges() {
	if s.deps.Credentials == nil {
		return
	}
	active := 0
	for _, snap := range s.deps.Credentials.List() {
		if snap.Usable() {
			active++
		}
	}
	blocked := 0
	if s.deps.Health != nil {
		for _, e := range s.deps.Health.Snapshot() {
			if e.Block != nil {
				blocked++
			}
		}
	}
	monitoring.ActiveCredentials.Set(float64(active))
	monitoring.BlockedCredentials.Set(float64(blocked))
}

// Snapshot returns the state requests should route against.
func (s *Server) Snapshot() router.Snapshot { return s.state.Load().snap }

// Catalog returns the catalog materialized from the active snapshot.
func (s *Server) Catalog() *modelcatalog.Catalog { return s.state.Load().catalog }

// Handler exposes the engine for tests and embedding.
func (s *Server) Handler() http.Handler { return s.engine }

// Run binds the listener and serves until ctx is canceled, then drains
// in-flight requests within the shutdown window.
func (s *Server) Run(ctx context.Context) error {
	rc := s.deps.Store.Current()
	addr := rc.HTTPServer.Addr()
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("gateway listening")
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	case <-s.stopCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ServerShutdownTimeout)
	defer cancel()
	log.Info("gateway draining")
	err := s.httpSrv.Shutdown(shutdownCtx)
	s.Close()
	return err
}

// Close releases resources that outlive the HTTP listener.
func (s *Server) Close() {
	if s.recorder != nil {
		s.recorder.Close()
		s.recorder = nil
	}
}
