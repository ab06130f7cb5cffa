package pipeline

import (
	"context"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"

	"routecodex-go/internal/config"
	"routecodex-go/internal/provider"
)

// Assembly is the set of pipelines materialized from one snapshot.
// Instances are immutable; a config swap builds a fresh Assembly and the
// old one drains with its in-flight requests.
type Assembly struct {
	Version     int64
	Pipelines   map[string]*Pipeline
	Unavailable map[string]string // pipelineID → construction failure
}

// Assemble materializes every PipelineDef of the snapshot. Pipelines are
// constructed in parallel; one provider client is shared by all pipelines
// of the same provider. A construction failure marks that pipeline
// unavailable but never aborts the rest.
func Assemble(ctx context.Context, rc *config.RuntimeConfig, deps Deps) *Assembly {
	clients := make(map[string]*provider.Client, len(rc.Providers))
	for id, def := range rc.Providers {
		clients[id] = provider.New(def)
	}

	asm := &Assembly{
		Version:     rc.Version,
		Pipelines:   make(map[string]*Pipeline, len(rc.Pipelines)),
		Unavailable: make(map[string]string),
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, def := range rc.Pipelines {
		def := def
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := New(def, rc, clients[def.ProviderID], deps)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				asm.Unavailable[def.ID] = err.Error()
				log.WithFields(log.Fields{
					"pipeline": def.ID,
					"version":  rc.Version,
					"error":    err.Error(),
				}).Warn("pipeline unavailable")
				return
			}
			asm.Pipelines[def.ID] = p
		}()
	}
	wg.Wait()

	log.WithFields(log.Fields{
		"version":     rc.Version,
		"available":   len(asm.Pipelines),
		"unavailable": len(asm.Unavailable),
	}).Info("pipelines assembled")
	return asm
}

// Get returns a pipeline by ID.
func (a *Assembly) Get(id string) (*Pipeline, bool) {
	p, ok := a.Pipelines[id]
	return p, ok
}

// EmptyCategories returns routing categories whose pools ended up with no
// available pipeline. Startup treats a non-empty result as fatal; reloads
// keep the previous snapshot instead.
func (a *Assembly) EmptyCategories(rc *config.RuntimeConfig) []string {
	var empty []string
	for category, targets := range rc.Routing {
		alive := false
		for _, t := range targets {
			if _, ok := a.Pipelines[t.PipelineID]; ok {
				alive = true
				break
			}
		}
		if !alive {
			empty = append(empty, category)
		}
	}
	sort.Strings(empty)
	return empty
}
