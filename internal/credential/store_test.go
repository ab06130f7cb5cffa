package credential

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"routecodex-go/internal/config"
	"routecodex-go/internal/events"
	"routecodex-go/internal/oauth"
)

func writeTokenFile(t *testing.T, dir, name string, tok *oauth.Token) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, SaveTokenFile(path, tok))
	return path
}

func testRuntimeConfig(tokenURL, tokenFile string) *config.RuntimeConfig {
	return &config.RuntimeConfig{
		Providers: map[string]config.ProviderDef{
			"qwen": {
				ID:      "qwen",
				BaseURL: "https://example.com",
				Dialect: config.DialectOpenAIChat,
				OAuth: config.OAuthEndpoints{
					TokenURL: tokenURL,
					ClientID: "client-1",
				},
			},
		},
		Credentials: map[string]config.CredentialDef{
			"qwen.key1": {
				ID:         "qwen.key1",
				ProviderID: "qwen",
				AuthKind:   config.AuthKindOAuthDevice,
				AliasIndex: 1,
				Alias:      "key1",
				TokenFile:  tokenFile,
			},
		},
	}
}

func TestConcurrentRefreshCoalesces(t *testing.T) {
	var refreshes atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refreshes.Add(1)
		time.Sleep(50 * time.Millisecond) // widen the race window
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "fresh-token",
			"refresh_token": "next-refresh",
			"expires_in":    3600,
		})
	}))
	defer srv.Close()

	dir := t.TempDir()
	tokenPath := writeTokenFile(t, dir, "qwen.key1.json", &oauth.Token{
		AccessToken:  "stale-token",
		RefreshToken: "old-refresh",
		ExpiresAt:    time.Now().Add(-time.Minute),
	})

	store := NewStore(testRuntimeConfig(srv.URL, tokenPath), Options{})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snap, err := store.EnsureFresh(context.Background(), "qwen.key1")
			require.NoError(t, err)
			require.Equal(t, "fresh-token", snap.Secret)
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), refreshes.Load())

	// The rotated refresh token must be persisted atomically.
	tok, err := LoadTokenFile(tokenPath)
	require.NoError(t, err)
	require.Equal(t, "next-refresh", tok.RefreshToken)

	info, err := os.Stat(tokenPath)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestRefreshFailureBlocksUntilNextSuccess(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if fail.Load() {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]any{"error": "invalid_grant"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"access_token": "recovered", "expires_in": 3600})
	}))
	defer srv.Close()

	dir := t.TempDir()
	tokenPath := writeTokenFile(t, dir, "qwen.key1.json", &oauth.Token{
		AccessToken:  "stale",
		RefreshToken: "r1",
		ExpiresAt:    time.Now().Add(-time.Minute),
	})

	hub := events.NewHub()
	var blockedEvents atomic.Int32
	hub.OnCredentialBlocked(func(_ context.Context, ev events.CredentialBlocked) {
		require.Equal(t, "qwen.key1", ev.CredentialID)
		require.Equal(t, BlockReasonRefreshFailed, ev.Reason)
		blockedEvents.Add(1)
	})

	store := NewStore(testRuntimeConfig(srv.URL, tokenPath), Options{Hub: hub})

	require.Error(t, store.Refresh(context.Background(), "qwen.key1"))
	snap, _ := store.Get("qwen.key1")
	require.Equal(t, StateBlocked, snap.State)
	require.Equal(t, BlockReasonRefreshFailed, snap.BlockReason)
	require.False(t, snap.Usable())
	require.Equal(t, int32(1), blockedEvents.Load())

	// Recovery: the next successful refresh clears the block.
	fail.Store(false)
	require.NoError(t, store.Refresh(context.Background(), "qwen.key1"))
	snap, _ = store.Get("qwen.key1")
	require.Equal(t, StateReady, snap.State)
	require.Equal(t, "recovered", snap.Secret)
	require.True(t, snap.Usable())
}

func TestTokenParseErrorBlocksOnlyThatCredential(t *testing.T) {
	dir := t.TempDir()
	badPath := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(badPath, []byte("{not json"), 0o600))
	goodPath := writeTokenFile(t, dir, "good.json", &oauth.Token{
		AccessToken: "ok",
		ExpiresAt:   time.Now().Add(time.Hour),
	})

	rc := &config.RuntimeConfig{
		Providers: map[string]config.ProviderDef{"p": {ID: "p"}},
		Credentials: map[string]config.CredentialDef{
			"p.key1": {ID: "p.key1", ProviderID: "p", AuthKind: config.AuthKindOAuthDevice, Alias: "key1", TokenFile: badPath},
			"p.key2": {ID: "p.key2", ProviderID: "p", AuthKind: config.AuthKindOAuthDevice, Alias: "key2", TokenFile: goodPath},
		},
	}
	store := NewStore(rc, Options{})

	bad, ok := store.Get("p.key1")
	require.True(t, ok)
	require.Equal(t, StateBlocked, bad.State)
	require.Equal(t, BlockReasonTokenParse, bad.BlockReason)

	good, ok := store.Get("p.key2")
	require.True(t, ok)
	require.Equal(t, StateReady, good.State)
	require.True(t, good.Usable())
}

func TestAPIKeyCredentialNeedsNoRefresh(t *testing.T) {
	rc := &config.RuntimeConfig{
		Providers: map[string]config.ProviderDef{"p": {ID: "p"}},
		Credentials: map[string]config.CredentialDef{
			"p.key1": {ID: "p.key1", ProviderID: "p", AuthKind: config.AuthKindAPIKey, Alias: "key1", SecretRef: "sk-inline"},
		},
	}
	store := NewStore(rc, Options{})

	require.NoError(t, store.Refresh(context.Background(), "p.key1"))
	snap, err := store.EnsureFresh(context.Background(), "p.key1")
	require.NoError(t, err)
	require.Equal(t, "sk-inline", snap.Secret)
	require.True(t, snap.ExpiresAt.IsZero())
}

func TestDisableAndReset(t *testing.T) {
	rc := &config.RuntimeConfig{
		Providers: map[string]config.ProviderDef{"p": {ID: "p"}},
		Credentials: map[string]config.CredentialDef{
			"p.key1": {ID: "p.key1", ProviderID: "p", AuthKind: config.AuthKindAPIKey, Alias: "key1", SecretRef: "sk"},
		},
	}
	store := NewStore(rc, Options{})

	require.NoError(t, store.SetDisabled("p.key1", true))
	snap, _ := store.Get("p.key1")
	require.True(t, snap.Disabled)
	require.False(t, snap.Usable())

	require.NoError(t, store.SetDisabled("p.key1", false))
	snap, _ = store.Get("p.key1")
	require.True(t, snap.Usable())

	require.ErrorIs(t, store.SetDisabled("nope", true), ErrUnknownCredential)
	require.NoError(t, store.ResetState("p.key1"))
}

func TestOnStateChange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"access_token": "fresh", "expires_in": 3600})
	}))
	defer srv.Close()

	dir := t.TempDir()
	tokenPath := writeTokenFile(t, dir, "t.json", &oauth.Token{
		AccessToken:  "stale",
		RefreshToken: "r1",
		ExpiresAt:    time.Now().Add(-time.Minute),
	})
	store := NewStore(testRuntimeConfig(srv.URL, tokenPath), Options{})

	var mu sync.Mutex
	var transitions []State
	store.OnStateChange(func(id string, from, to State) {
		mu.Lock()
		transitions = append(transitions, to)
		mu.Unlock()
	})

	require.NoError(t, store.Refresh(context.Background(), "qwen.key1"))
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []State{StateRefreshing, StateReady}, transitions)
}

func TestReloadKeepsUnchangedRecords(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"access_token": "fresh", "expires_in": 3600})
	}))
	defer srv.Close()

	dir := t.TempDir()
	tokenPath := writeTokenFile(t, dir, "t.json", &oauth.Token{
		AccessToken:  "stale",
		RefreshToken: "r1",
		ExpiresAt:    time.Now().Add(-time.Minute),
	})
	rc := testRuntimeConfig(srv.URL, tokenPath)
	store := NewStore(rc, Options{})
	require.NoError(t, store.Refresh(context.Background(), "qwen.key1"))

	before, _ := store.Get("qwen.key1")
	store.Reload(rc)
	after, _ := store.Get("qwen.key1")
	require.Equal(t, before.Secret, after.Secret)
	require.Equal(t, before.LastRefreshAt, after.LastRefreshAt)
}
