package main

import (
	"context"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"

	"routecodex-go/internal/config"
	"routecodex-go/internal/health"
	store "routecodex-go/internal/storage"
)

// watchTarget reconstructs the user config path Resolve actually read,
// using the same precedence (flag, env, default). HomeDir is derived
// from the expanded path, so joining it with the base name lands on the
// exact file the loader parsed.
func watchTarget(flagPath string, rc *config.RuntimeConfig) string {
	path := flagPath
	if path == "" {
		path = rc.Env.ConfigPath
	}
	if path == "" {
		path = config.DefaultUserConfigPath()
	}
	return filepath.Join(rc.HomeDir, filepath.Base(path))
}

// restoreHealthEntries replays persisted blocks and 429 counters into
// the manager so a restart does not silently unblock every credential.
func restoreHealthEntries(ctx context.Context, backend store.Backend, manager *health.Manager) {
	if backend == nil || manager == nil {
		return
	}
	entries, err := store.LoadHealthEntries(ctx, backend)
	if err != nil {
		log.WithError(err).Warn("health state restore failed, starting clean")
		return
	}
	if len(entries) == 0 {
		return
	}
	manager.Restore(entries)
	log.WithField("entries", len(entries)).Info("health state restored")
}

// persistHealthEntries snapshots the manager into storage. Best effort:
// a failed flush costs at most one interval of history.
func persistHealthEntries(ctx context.Context, backend store.Backend, manager *health.Manager) {
	if backend == nil || manager == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := store.SaveHealthEntries(ctx, backend, manager.Snapshot()); err != nil {
		log.WithError(err).Warn("health state flush failed")
	}
}

// startHealthPersistence flushes on a fixed cadence until ctx ends.
// 周期落盘，真正的收尾 flush 在 main 退出路径上。
func startHealthPersistence(ctx context.Context, backend store.Backend, manager *health.Manager, interval time.Duration) {
	if backend == nil || manager == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			persistHealthEntries(ctx, backend, manager)
		case <-ctx.Done():
			return
		}
	}
}
