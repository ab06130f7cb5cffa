package main

import (
	"context"
	"path/filepath"
	"testing"

	"routecodex-go/internal/config"
	"routecodex-go/internal/events"
	"routecodex-go/internal/health"
	store "routecodex-go/internal/storage"
)

func newTestBackend(t *testing.T) store.Backend {
	t.Helper()
	fb := store.NewFileBackend(t.TempDir())
	if err := fb.Initialize(context.Background()); err != nil {
		t.Fatalf("init file backend: %v", err)
	}
	t.Cleanup(func() { _ = fb.Close() })
	return fb
}

func TestWatchTargetPrecedence(t *testing.T) {
	rc := &config.RuntimeConfig{HomeDir: "/srv/routecodex"}
	rc.Env.ConfigPath = "/etc/routecodex/config.json"

	if got := watchTarget("/tmp/override.json", rc); got != filepath.Join("/srv/routecodex", "override.json") {
		t.Fatalf("flag path not honored: %s", got)
	}
	if got := watchTarget("", rc); got != filepath.Join("/srv/routecodex", "config.json") {
		t.Fatalf("env path not honored: %s", got)
	}

	rc.Env.ConfigPath = ""
	want := filepath.Join("/srv/routecodex", filepath.Base(config.DefaultUserConfigPath()))
	if got := watchTarget("", rc); got != want {
		t.Fatalf("default path not honored: %s", got)
	}
}

func TestHealthPersistRoundTrip(t *testing.T) {
	ctx := context.Background()
	backend := newTestBackend(t)

	mgr := health.NewManager(events.NewHub())
	mgr.Block(health.Key("openai", "key1"), "rate_limited", map[string]string{"status": "429"})
	mgr.RecordRateLimitHit(health.Key("openai", "key2"))

	persistHealthEntries(ctx, backend, mgr)

	restored := health.NewManager(events.NewHub())
	restoreHealthEntries(ctx, backend, restored)

	if !restored.IsBlocked(health.Key("openai", "key1")) {
		t.Fatalf("block did not survive the round trip")
	}
	if info := restored.RateLimitFor(health.Key("openai", "key2")); info.Count != 1 {
		t.Fatalf("rate limit counter = %d, want 1", info.Count)
	}
}

func TestPersistClearedBlockDoesNotResurrect(t *testing.T) {
	ctx := context.Background()
	backend := newTestBackend(t)

	mgr := health.NewManager(events.NewHub())
	mgr.Block(health.Key("openai", "key1"), "auth_failed", nil)
	mgr.Block(health.Key("anthropic", "key1"), "rate_limited", nil)
	persistHealthEntries(ctx, backend, mgr)

	mgr.Clear(health.Key("openai", "key1"))
	persistHealthEntries(ctx, backend, mgr)

	restored := health.NewManager(events.NewHub())
	restoreHealthEntries(ctx, backend, restored)
	if restored.IsBlocked(health.Key("openai", "key1")) {
		t.Fatalf("cleared block resurrected from storage")
	}
	if !restored.IsBlocked(health.Key("anthropic", "key1")) {
		t.Fatalf("surviving block lost")
	}
}

func TestPersistPrunesDroppedKeys(t *testing.T) {
	ctx := context.Background()
	backend := newTestBackend(t)

	old := health.NewManager(events.NewHub())
	old.Block(health.Key("openai", "key9"), "quota_exceeded", nil)
	persistHealthEntries(ctx, backend, old)

	// A later run whose config no longer knows key9 flushes a snapshot
	// without it; the stale row must not outlive that flush.
	next := health.NewManager(events.NewHub())
	next.RecordRateLimitHit(health.Key("openai", "key1"))
	persistHealthEntries(ctx, backend, next)

	entries, err := store.LoadHealthEntries(ctx, backend)
	if err != nil {
		t.Fatalf("load entries: %v", err)
	}
	for _, e := range entries {
		if e.Key == health.Key("openai", "key9") {
			t.Fatalf("stale health entry not pruned")
		}
	}
}

func TestPersistHelpersTolerateNil(t *testing.T) {
	// Guards, not crashes, when storage never came up.
	restoreHealthEntries(context.Background(), nil, health.NewManager(events.NewHub()))
	persistHealthEntries(context.Background(), nil, health.NewManager(events.NewHub()))
	persistHealthEntries(context.Background(), newTestBackend(t), nil)
}
