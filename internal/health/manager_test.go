package health

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"routecodex-go/internal/events"
)

func TestBlockFirstCallWins(t *testing.T) {
	m := NewManager(nil)
	key := Key("openai", "openai.key1")

	require.True(t, m.Block(key, "auth_failed", nil))
	info, ok := m.BlockInfoFor(key)
	require.True(t, ok)
	require.Equal(t, "auth_failed", info.Reason)

	// Second block keeps the original reason until Clear.
	require.False(t, m.Block(key, "rate_limited", nil))
	info, _ = m.BlockInfoFor(key)
	require.Equal(t, "auth_failed", info.Reason)

	require.True(t, m.IsBlocked(key))
	require.True(t, m.Clear(key))
	require.False(t, m.IsBlocked(key))
	require.False(t, m.Clear(key))

	// After clear a new block records the new reason.
	require.True(t, m.Block(key, "rate_limited", nil))
	info, _ = m.BlockInfoFor(key)
	require.Equal(t, "rate_limited", info.Reason)
}

func TestRateLimitCounterIsInformational(t *testing.T) {
	m := NewManager(nil)
	key := Key("anthropic", "anthropic.key2")

	require.Equal(t, 1, m.RecordRateLimitHit(key))
	require.Equal(t, 2, m.RecordRateLimitHit(key))
	require.Equal(t, 3, m.RecordRateLimitHit(key))

	// Counter never blocks by itself.
	require.False(t, m.IsBlocked(key))

	m.ResetRateLimit(key)
	require.Equal(t, 0, m.RateLimitFor(key).Count)
	require.Equal(t, 1, m.RecordRateLimitHit(key))
}

func TestBlockEvents(t *testing.T) {
	hub := events.NewHub()
	m := NewManager(hub)
	key := Key("openai", "openai.key1")

	var blocked []events.CredentialBlocked
	var unblocked []events.CredentialUnblocked
	hub.OnCredentialBlocked(func(_ context.Context, ev events.CredentialBlocked) { blocked = append(blocked, ev) })
	hub.OnCredentialUnblocked(func(_ context.Context, ev events.CredentialUnblocked) { unblocked = append(unblocked, ev) })

	m.Block(key, "auth_failed", map[string]string{"status": "401"})
	m.Block(key, "again", nil) // no-op, no event
	m.Clear(key)

	require.Len(t, blocked, 1)
	require.Equal(t, "openai.key1", blocked[0].CredentialID)
	require.Equal(t, key, blocked[0].Key)
	require.Equal(t, "auth_failed", blocked[0].Reason)
	require.Len(t, unblocked, 1)
	require.Equal(t, key, unblocked[0].Key)
}

func TestSnapshotRestore(t *testing.T) {
	m := NewManager(nil)
	m.Block(Key("p", "p.key1"), "auth_failed", nil)
	m.RecordRateLimitHit(Key("p", "p.key2"))
	m.RecordRateLimitHit(Key("p", "p.key2"))

	snap := m.Snapshot()
	require.Len(t, snap, 2)

	restored := NewManager(nil)
	restored.Restore(snap)
	require.True(t, restored.IsBlocked(Key("p", "p.key1")))
	require.Equal(t, 2, restored.RateLimitFor(Key("p", "p.key2")).Count)
	require.False(t, restored.IsBlocked(Key("p", "p.key2")))
}

func TestSnapshotCopiesBlock(t *testing.T) {
	m := NewManager(nil)
	key := Key("p", "p.key1")
	m.Block(key, "auth_failed", nil)

	snap := m.Snapshot()
	snap[0].Block.Reason = "mutated"

	info, ok := m.BlockInfoFor(key)
	require.True(t, ok)
	require.Equal(t, "auth_failed", info.Reason)
	require.WithinDuration(t, time.Now(), info.Since, time.Minute)
}
