package storage

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"routecodex-go/internal/credential"
	"routecodex-go/internal/health"
)

func TestCredentialStatesPersisterRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fb, _ := newFileBackendT(t)
	p := CredentialStates(fb)

	require.NoError(t, p.SaveCredentialState(ctx, "openai.key1", credential.StoredState{
		Disabled:        true,
		RefreshFailures: 2,
		TotalRefreshes:  9,
	}))

	states, err := p.LoadCredentialStates(ctx)
	require.NoError(t, err)
	require.Len(t, states, 1)
	require.True(t, states["openai.key1"].Disabled)
	require.Equal(t, 2, states["openai.key1"].RefreshFailures)
	require.Equal(t, int64(9), states["openai.key1"].TotalRefreshes)

	require.NoError(t, p.DeleteCredentialState(ctx, "openai.key1"))
	states, err = p.LoadCredentialStates(ctx)
	require.NoError(t, err)
	require.Empty(t, states)

	// Deleting what is already gone is not an error.
	require.NoError(t, p.DeleteCredentialState(ctx, "openai.key1"))
}

func TestCredentialStatesPersisterSkipsMalformed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fb, _ := newFileBackendT(t)

	// Valid JSON, wrong shape: restore must skip it and keep going.
	require.NoError(t, fb.SetCredentialState(ctx, "bad", json.RawMessage(`{"disabled":"yes"}`)))
	require.NoError(t, fb.SetCredentialState(ctx, "good", json.RawMessage(`{"disabled":true}`)))

	states, err := CredentialStates(fb).LoadCredentialStates(ctx)
	require.NoError(t, err)
	require.Len(t, states, 1)
	require.True(t, states["good"].Disabled)
}

func TestCredentialStatesNilBackend(t *testing.T) {
	t.Parallel()
	require.Nil(t, CredentialStates(nil))
}

func TestLoadHealthEntriesSkipsMalformed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fb, _ := newFileBackendT(t)

	require.NoError(t, fb.SetHealthEntry(ctx, "openai/key1", json.RawMessage(`{"rateLimit":"zzz"}`)))
	require.NoError(t, fb.SetHealthEntry(ctx, "openai/key2", json.RawMessage(`{"block":{"reason":"rate_limited"}}`)))

	entries, err := LoadHealthEntries(ctx, fb)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "openai/key2", entries[0].Key)
	require.Equal(t, "rate_limited", entries[0].Block.Reason)
}

func TestSaveHealthEntriesWritesAndPrunes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fb, _ := newFileBackendT(t)

	first := []health.Entry{
		{Key: "openai/key1", Block: &health.BlockInfo{Reason: "auth_failed"}},
		{Key: "openai/key2", RateLimit: health.RateLimitInfo{Count: 3}},
	}
	require.NoError(t, SaveHealthEntries(ctx, fb, first))

	loaded, err := LoadHealthEntries(ctx, fb)
	require.NoError(t, err)
	require.Len(t, loaded, 2)

	// Second snapshot dropped key1; the stored row must go with it.
	second := []health.Entry{
		{Key: "openai/key2", RateLimit: health.RateLimitInfo{Count: 4}},
	}
	require.NoError(t, SaveHealthEntries(ctx, fb, second))

	loaded, err = LoadHealthEntries(ctx, fb)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.Equal(t, "openai/key2", loaded[0].Key)
	require.Equal(t, 4, loaded[0].RateLimit.Count)
}
