package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"routecodex-go/internal/config"
	"routecodex-go/internal/credential"
	"routecodex-go/internal/events"
	"routecodex-go/internal/health"
	"routecodex-go/internal/logging"
	"routecodex-go/internal/router"
	"routecodex-go/internal/usage"
)

const mgmtKey = "mgmt-secret"

// fileConfig renders a minimal user config pointing at an httptest
// upstream. Mutate the map before writing to vary scenarios.
func fileConfig(upstreamURL, clientKey string) map[string]interface{} {
	cfg := map[string]interface{}{
		"httpServer": map[string]interface{}{"host": "127.0.0.1", "port": 5520},
		"providers": map[string]interface{}{
			"up": map[string]interface{}{
				"baseURL": upstreamURL,
				"dialect": "openai",
				"auth":    map[string]interface{}{"kind": "apiKey", "keys": []interface{}{"sk-up-1"}},
				"models": map[string]interface{}{
					"gpt-test": map[string]interface{}{"upstreamId": "upstream-model", "streaming": true},
				},
			},
		},
		"routing": map[string]interface{}{
			"default": []interface{}{"up.gpt-test"},
		},
		"management": map[string]interface{}{"key": mgmtKey},
	}
	if clientKey != "" {
		cfg["httpServer"].(map[string]interface{})["apiKey"] = clientKey
	}
	return cfg
}

func writeConfig(t *testing.T, path string, cfg map[string]interface{}) {
	t.Helper()
	data, err := json.MarshalIndent(cfg, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func chatUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"chatcmpl-s1","object":"chat.completion","model":"upstream-model",
			"choices":[{"index":0,"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":3,"completion_tokens":1,"total_tokens":4}}`)
	}))
}

func newTestServer(t *testing.T, cfgPath string) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	rc, _, err := config.Resolve(cfgPath, "")
	require.NoError(t, err)

	hub := events.NewHub()
	hm := health.NewManager(hub)
	store := credential.NewStore(rc, credential.Options{Hub: hub})
	tracker := usage.NewTracker(nil)
	rt := router.New(router.Deps{Credentials: store, Health: hm, Usage: tracker, Hub: hub})
	t.Cleanup(rt.Close)

	srv, err := New(Dependencies{
		UserConfigPath: cfgPath,
		Store:          config.NewStore(rc),
		Credentials:    store,
		Health:         hm,
		Usage:          tracker,
		Hub:            hub,
		Router:         rt,
		Ring:           logging.NewRingHook(16),
	})
	require.NoError(t, err)
	t.Cleanup(srv.Close)
	return srv
}

func do(srv *Server, method, path, body, key string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthAndMetricsUnauthenticated(t *testing.T) {
	up := chatUpstream(t)
	defer up.Close()
	cfgPath := filepath.Join(t.TempDir(), "config.json")
	writeConfig(t, cfgPath, fileConfig(up.URL, "sk-client"))
	srv := newTestServer(t, cfgPath)

	w := do(srv, http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	root := gjson.Parse(w.Body.String())
	assert.Equal(t, "ok", root.Get("status").String())
	assert.Positive(t, root.Get("snapshot.version").Int())
	assert.Equal(t, int64(1), root.Get("snapshot.pipelines").Int())

	w = do(srv, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "routecodex_")
}

func TestClientAuthFromSnapshot(t *testing.T) {
	up := chatUpstream(t)
	defer up.Close()
	cfgPath := filepath.Join(t.TempDir(), "config.json")
	writeConfig(t, cfgPath, fileConfig(up.URL, "sk-client"))
	srv := newTestServer(t, cfgPath)

	body := `{"model":"gpt-test","messages":[{"role":"user","content":"hi"}]}`

	w := do(srv, http.MethodPost, "/v1/chat/completions", body, "")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(srv, http.MethodPost, "/v1/chat/completions", body, "wrong-key")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(srv, http.MethodPost, "/v1/chat/completions", body, "sk-client")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "gpt-test", gjson.Get(w.Body.String(), "model").String())

	// Anthropic 客户端用 x-api-key 头，同一把钥匙
	w2 := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	req.Header.Set("x-api-key", "sk-client")
	srv.Handler().ServeHTTP(w2, req)
	require.Equal(t, http.StatusOK, w2.Code)
}

func TestAnonymousWhenNoKeyConfigured(t *testing.T) {
	up := chatUpstream(t)
	defer up.Close()
	cfgPath := filepath.Join(t.TempDir(), "config.json")
	writeConfig(t, cfgPath, fileConfig(up.URL, ""))
	srv := newTestServer(t, cfgPath)

	w := do(srv, http.MethodGet, "/v1/models", "", "")
	require.Equal(t, http.StatusOK, w.Code)
}

func TestReloadSwapsSnapshot(t *testing.T) {
	up := chatUpstream(t)
	defer up.Close()
	cfgPath := filepath.Join(t.TempDir(), "config.json")
	writeConfig(t, cfgPath, fileConfig(up.URL, "sk-client"))
	srv := newTestServer(t, cfgPath)

	oldVersion := srv.Snapshot().RC.Version

	// drop the client key and reload
	writeConfig(t, cfgPath, fileConfig(up.URL, ""))
	newVersion, err := srv.Reload("test")
	require.NoError(t, err)
	require.Greater(t, newVersion, oldVersion)
	require.Equal(t, newVersion, srv.Snapshot().RC.Version)

	// 新快照立即生效：匿名请求放行
	w := do(srv, http.MethodGet, "/v1/models", "", "")
	require.Equal(t, http.StatusOK, w.Code)
}

func TestReloadKeepsSnapshotOnResolveError(t *testing.T) {
	up := chatUpstream(t)
	defer up.Close()
	cfgPath := filepath.Join(t.TempDir(), "config.json")
	writeConfig(t, cfgPath, fileConfig(up.URL, "sk-client"))
	srv := newTestServer(t, cfgPath)

	held := srv.Snapshot().RC.Version
	require.NoError(t, os.WriteFile(cfgPath, []byte("{not json"), 0o644))

	version, err := srv.Reload("test")
	require.Error(t, err)
	require.Equal(t, held, version)
	require.Equal(t, held, srv.Snapshot().RC.Version)

	// 老快照继续服务
	body := `{"model":"gpt-test","messages":[{"role":"user","content":"hi"}]}`
	w := do(srv, http.MethodPost, "/v1/chat/completions", body, "sk-client")
	require.Equal(t, http.StatusOK, w.Code)
}

func TestReloadRejectsEmptyCategoryPool(t *testing.T) {
	up := chatUpstream(t)
	defer up.Close()
	cfgPath := filepath.Join(t.TempDir(), "config.json")
	writeConfig(t, cfgPath, fileConfig(up.URL, ""))
	srv := newTestServer(t, cfgPath)
	held := srv.Snapshot().RC.Version

	// A broken workflow rule passes schema validation but fails pipeline
	// assembly, leaving the default pool with no available pipeline.
	bad := fileConfig(up.URL, "")
	bad["providers"].(map[string]interface{})["up"].(map[string]interface{})["stages"] = map[string]interface{}{
		"workflow": map[string]interface{}{
			"rules": []interface{}{
				map[string]interface{}{"name": "broken", "path": "model", "pattern": "("},
			},
		},
	}
	writeConfig(t, cfgPath, bad)

	version, err := srv.Reload("test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty category pool")
	require.Equal(t, held, version)
	require.Equal(t, held, srv.Snapshot().RC.Version)
}

func TestManagementReloadEndToEnd(t *testing.T) {
	up := chatUpstream(t)
	defer up.Close()
	cfgPath := filepath.Join(t.TempDir(), "config.json")
	writeConfig(t, cfgPath, fileConfig(up.URL, "sk-client"))
	srv := newTestServer(t, cfgPath)

	writeConfig(t, cfgPath, fileConfig(up.URL, ""))
	w := do(srv, http.MethodPost, "/v0/management/config/reload", "", mgmtKey)
	require.Equal(t, http.StatusOK, w.Code)
	root := gjson.Parse(w.Body.String())
	assert.True(t, root.Get("reloaded").Bool())
	assert.Equal(t, srv.Snapshot().RC.Version, root.Get("active_version").Int())

	// management surface uses its own key, not the client key
	w = do(srv, http.MethodGet, "/v0/management/status", "", "sk-client")
	require.Equal(t, http.StatusUnauthorized, w.Code)
	w = do(srv, http.MethodGet, "/v0/management/status", "", mgmtKey)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestShutdownDrainsInflightThenSignals(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"chatcmpl-s2","object":"chat.completion","model":"upstream-model",
			"choices":[{"index":0,"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}]}`)
	}))
	defer up.Close()

	cfgPath := filepath.Join(t.TempDir(), "config.json")
	writeConfig(t, cfgPath, fileConfig(up.URL, ""))
	srv := newTestServer(t, cfgPath)

	chatDone := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		chatDone <- do(srv, http.MethodPost, "/v1/chat/completions",
			`{"model":"gpt-test","messages":[{"role":"user","content":"hi"}]}`, "")
	}()
	<-entered

	shutDone := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		shutDone <- do(srv, http.MethodPost, "/shutdown", "", "")
	}()

	select {
	case <-shutDone:
		t.Fatal("shutdown answered while a request was still in flight")
	case <-time.After(150 * time.Millisecond):
	}

	close(release)
	w := <-shutDone
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "shutting_down", gjson.Get(w.Body.String(), "status").String())
	assert.Equal(t, "shutdown_endpoint", srv.StopReason())

	select {
	case <-srv.stopCh:
	default:
		t.Fatal("run loop was not signaled to stop")
	}

	cw := <-chatDone
	require.Equal(t, http.StatusOK, cw.Code)
}

func TestShutdownRequiresClientKey(t *testing.T) {
	up := chatUpstream(t)
	defer up.Close()
	cfgPath := filepath.Join(t.TempDir(), "config.json")
	writeConfig(t, cfgPath, fileConfig(up.URL, "sk-client"))
	srv := newTestServer(t, cfgPath)

	w := do(srv, http.MethodPost, "/shutdown", "", "")
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, srv.StopReason())

	w = do(srv, http.MethodPost, "/shutdown", "", "sk-client")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "shutdown_endpoint", srv.StopReason())
}

func TestReadyReflectsStopRequest(t *testing.T) {
	up := chatUpstream(t)
	defer up.Close()
	cfgPath := filepath.Join(t.TempDir(), "config.json")
	writeConfig(t, cfgPath, fileConfig(up.URL, ""))
	srv := newTestServer(t, cfgPath)

	w := do(srv, http.MethodGet, "/ready", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	root := gjson.Parse(w.Body.String())
	assert.Equal(t, "ready", root.Get("status").String())
	assert.Equal(t, int64(1), root.Get("pipelines").Int())

	srv.requestStop("test")

	w = do(srv, http.MethodGet, "/ready", "", "")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "stopping", gjson.Get(w.Body.String(), "status").String())
}

func TestStartupFailsOnEmptyCategoryPool(t *testing.T) {
	up := chatUpstream(t)
	defer up.Close()
	cfgPath := filepath.Join(t.TempDir(), "config.json")
	bad := fileConfig(up.URL, "")
	bad["providers"].(map[string]interface{})["up"].(map[string]interface{})["stages"] = map[string]interface{}{
		"workflow": map[string]interface{}{
			"rules": []interface{}{
				map[string]interface{}{"name": "broken", "path": "model", "pattern": "("},
			},
		},
	}
	writeConfig(t, cfgPath, bad)

	rc, _, err := config.Resolve(cfgPath, "")
	require.NoError(t, err)

	hub := events.NewHub()
	hm := health.NewManager(hub)
	store := credential.NewStore(rc, credential.Options{Hub: hub})
	rt := router.New(router.Deps{Credentials: store, Health: hm, Usage: usage.NewTracker(nil), Hub: hub})
	t.Cleanup(rt.Close)

	_, err = New(Dependencies{
		UserConfigPath: cfgPath,
		Store:          config.NewStore(rc),
		Credentials:    store,
		Health:         hm,
		Hub:            hub,
		Router:         rt,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "default")
}
