package server

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"routecodex-go/internal/config"
	"routecodex-go/internal/monitoring"
	"routecodex-go/internal/pipeline"
)

// Reload re-resolves the config files and swaps in a fresh snapshot.
// It returns the version serving traffic after the call: the new one on
// success, the previous one when resolution or assembly fails. In-flight
// requests keep the snapshot they started with either way.
func (s *Server) Reload(source string) (int64, error) {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	oldVersion := s.Snapshot().RC.Version

	rc, warnings, err := config.Resolve(s.deps.UserConfigPath, s.deps.SystemConfigPath)
	if err != nil {
		monitoring.ConfigReloadsTotal.WithLabelValues(source, "error").Inc()
		log.WithError(err).WithField("source", source).Error("config reload failed, keeping previous snapshot")
		return oldVersion, err
	}
	for _, w := range warnings {
		log.WithFields(log.Fields{"path": w.Path, "source": source}).Warn(w.Message)
	}

	asm := pipeline.Assemble(context.Background(), rc, pipeline.Deps{
		Credentials: s.deps.Credentials,
		Health:      s.deps.Health,
	})
	if empty := asm.EmptyCategories(rc); len(empty) > 0 {
		monitoring.ConfigReloadsTotal.WithLabelValues(source, "error").Inc()
		err := fmt.Errorf("empty category pool after reload: %v", empty)
		log.WithError(err).WithField("source", source).Error("config reload rejected, keeping previous snapshot")
		return oldVersion, err
	}

	// 先装配后换凭证：装配失败时旧快照引用的凭证必须原样保留
	if s.deps.Credentials != nil {
		s.deps.Credentials.Reload(rc)
	}
	s.install(rc, asm, source)
	monitoring.ConfigReloadsTotal.WithLabelValues(source, "success").Inc()
	log.WithFields(log.Fields{
		"version":   rc.Version,
		"previous":  oldVersion,
		"pipelines": len(asm.Pipelines),
		"source":    source,
	}).Info("config snapshot swapped")
	return rc.Version, nil
}
