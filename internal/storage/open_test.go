package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"routecodex-go/internal/config"
)

func TestOpenStrictFileBackend(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	b, err := OpenStrict(ctx, config.StorageConfig{Backend: "file", BaseDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	require.NoError(t, b.SetCredentialState(ctx, "a", json.RawMessage(`{}`)))
	stats, err := b.GetStorageStats(ctx)
	require.NoError(t, err)
	require.Equal(t, "file", stats.Backend)
}

func TestOpenStrictUnknownBackend(t *testing.T) {
	t.Parallel()
	_, err := OpenStrict(context.Background(), config.StorageConfig{Backend: "etcd"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown storage backend")
}

func TestOpenStrictRedisRequiresSelector(t *testing.T) {
	t.Parallel()
	_, err := OpenStrict(context.Background(), config.StorageConfig{Backend: "redis"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "redisAddr")
}

func TestOpenDegradesToFileWhenRedisUnreachable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()

	// Port 1 refuses immediately; the gateway must still come up on
	// local state instead of dying with the cache.
	b, err := Open(ctx, config.StorageConfig{
		Backend:   "redis",
		BaseDir:   dir,
		RedisAddr: "127.0.0.1:1",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	require.NoError(t, b.SetCredentialState(ctx, "a", json.RawMessage(`{"disabled":true}`)))
	stats, err := b.GetStorageStats(ctx)
	require.NoError(t, err)
	require.Equal(t, "file", stats.Backend)

	// The degraded backend really is the local file layout.
	_, statErr := os.Stat(filepath.Join(dir, "credential-states.json"))
	require.NoError(t, statErr)
}

func TestOpenGitDefaultsDirUnderBase(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	base := t.TempDir()

	b, err := OpenStrict(ctx, config.StorageConfig{Backend: "git", BaseDir: base})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	require.NoError(t, b.SetConfigDoc(ctx, "seed", json.RawMessage(`{}`)))
	_, statErr := os.Stat(filepath.Join(base, "git", ".git"))
	require.NoError(t, statErr)
}
