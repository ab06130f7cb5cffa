package openaichat

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"routecodex-go/internal/config"
	"routecodex-go/internal/credential"
	"routecodex-go/internal/events"
	"routecodex-go/internal/handlers/common"
	"routecodex-go/internal/health"
	"routecodex-go/internal/middleware"
	"routecodex-go/internal/modelcatalog"
	"routecodex-go/internal/pipeline"
	"routecodex-go/internal/router"
	"routecodex-go/internal/usage"
)

const upstreamChat = `{
	"id": "chatcmpl-h1",
	"object": "chat.completion",
	"created": 1756100000,
	"model": "upstream-model",
	"choices": [{"index":0,"message":{"role":"assistant","content":"hello"},"finish_reason":"stop"}],
	"usage": {"prompt_tokens": 7, "completion_tokens": 2, "total_tokens": 9}
}`

const upstreamSSE = "data: {\"id\":\"chatcmpl-h1\",\"object\":\"chat.completion.chunk\",\"model\":\"upstream-model\",\"choices\":[{\"index\":0,\"delta\":{\"role\":\"assistant\"},\"finish_reason\":null}]}\n\n" +
	"data: {\"id\":\"chatcmpl-h1\",\"object\":\"chat.completion.chunk\",\"model\":\"upstream-model\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"hel\"},\"finish_reason\":null}]}\n\n" +
	"data: {\"id\":\"chatcmpl-h1\",\"object\":\"chat.completion.chunk\",\"model\":\"upstream-model\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"lo\"},\"finish_reason\":\"stop\"}]}\n\n" +
	"data: [DONE]\n\n"

func gatewayConfig(baseURL, pipelineID string) *config.RuntimeConfig {
	return &config.RuntimeConfig{
		Version: 1,
		Providers: map[string]config.ProviderDef{
			"up": {
				ID:      "up",
				BaseURL: baseURL,
				Dialect: config.DialectOpenAIChat,
				Models: []config.ModelDef{
					{ID: "gpt-test", UpstreamID: "upstream-model", Streaming: true, Tools: true},
				},
			},
		},
		Credentials: map[string]config.CredentialDef{
			"up-key1": {ID: "up-key1", ProviderID: "up", AuthKind: config.AuthKindAPIKey, AliasIndex: 1, Alias: "key1", SecretRef: "sk-key-a"},
		},
		Pipelines: []config.PipelineDef{
			{ID: pipelineID, ProviderID: "up", ModelID: "gpt-test", CredentialID: "up-key1", Weight: 1},
		},
		Routing: map[string][]config.RouteTarget{
			config.CategoryDefault: {{PipelineID: pipelineID, Weight: 1}},
		},
		Classify: []config.ClassifyRule{{Category: config.CategoryDefault}},
	}
}

// harness wires a real router behind a gin engine, with the snapshot
// swappable mid-test the way a config reload would.
type harness struct {
	engine  *gin.Engine
	tracker *usage.Tracker
	router  *router.Router

	mu   sync.Mutex
	snap router.Snapshot
	cat  *modelcatalog.Catalog
}

func (h *harness) current() router.Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snap
}

func (h *harness) catalog() *modelcatalog.Catalog {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cat
}

func (h *harness) swap(t *testing.T, rc *config.RuntimeConfig) {
	t.Helper()
	hub := events.NewHub()
	hm := health.NewManager(hub)
	store := credential.NewStore(rc, credential.Options{Hub: hub})
	asm := pipeline.Assemble(context.Background(), rc, pipeline.Deps{Credentials: store, Health: hm})
	h.mu.Lock()
	h.snap = router.Snapshot{RC: rc, Assembly: asm}
	h.cat = modelcatalog.FromRuntimeConfig(rc)
	h.mu.Unlock()
}

func newHarness(t *testing.T, rc *config.RuntimeConfig) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := events.NewHub()
	hm := health.NewManager(hub)
	store := credential.NewStore(rc, credential.Options{Hub: hub})
	asm := pipeline.Assemble(context.Background(), rc, pipeline.Deps{Credentials: store, Health: hm})
	tracker := usage.NewTracker(nil)
	rt := router.New(router.Deps{Credentials: store, Health: hm, Usage: tracker, Hub: hub})
	t.Cleanup(rt.Close)

	h := &harness{tracker: tracker, router: rt}
	h.snap = router.Snapshot{RC: rc, Assembly: asm}
	h.cat = modelcatalog.FromRuntimeConfig(rc)

	gw := &common.Gateway{
		Router:  rt,
		Source:  h.current,
		Catalog: h.catalog,
		Usage:   tracker,
		Server:  "test",
	}
	engine := gin.New()
	engine.Use(middleware.RequestID())
	New(gw).Register(engine)
	h.engine = engine
	return h
}

func postChat(h *harness, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	h.engine.ServeHTTP(w, req)
	return w
}

func TestChatCompletionsBuffered(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer sk-key-a", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, upstreamChat)
	}))
	defer srv.Close()

	h := newHarness(t, gatewayConfig(srv.URL, "up.gpt-test.key1"))
	w := postChat(h, `{"model":"gpt-test","messages":[{"role":"user","content":"hi"}]}`)

	require.Equal(t, http.StatusOK, w.Code)
	root := gjson.Parse(w.Body.String())
	// 客户端看到自己请求的模型名，而不是上游别名
	assert.Equal(t, "gpt-test", root.Get("model").String())
	assert.Equal(t, "hello", root.Get("choices.0.message.content").String())
	assert.Equal(t, int64(9), root.Get("usage.total_tokens").Int())

	stats := h.tracker.GetStats()
	require.Equal(t, int64(1), stats.TotalRequests)
	require.Contains(t, stats.Credentials, "up-key1")
	assert.Equal(t, int64(1), stats.Credentials["up-key1"].SuccessCalls)
	assert.Equal(t, int64(9), stats.Credentials["up-key1"].TotalTokens)
	require.Contains(t, stats.Pipelines, "up.gpt-test.key1")
}

func TestChatCompletionsStreamPassthrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, gjson.GetBytes(mustReadAll(t, r), "stream").Bool(), "upstream must be asked to stream")
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, upstreamSSE)
	}))
	defer srv.Close()

	h := newHarness(t, gatewayConfig(srv.URL, "up.gpt-test.key1"))
	w := postChat(h, `{"model":"gpt-test","stream":true,"messages":[{"role":"user","content":"hi"}]}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	body := w.Body.String()
	assert.True(t, strings.HasSuffix(strings.TrimRight(body, "\n"), "data: [DONE]"))

	var content string
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, "data: ") || strings.Contains(line, "[DONE]") {
			continue
		}
		content += gjson.Get(line[len("data: "):], "choices.0.delta.content").String()
	}
	assert.Equal(t, "hello", content)
}

func TestChatCompletionsMissingModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("upstream must not be called on validation failure")
	}))
	defer srv.Close()

	h := newHarness(t, gatewayConfig(srv.URL, "up.gpt-test.key1"))
	w := postChat(h, `{"messages":[{"role":"user","content":"hi"}]}`)

	require.Equal(t, http.StatusBadRequest, w.Code)
	root := gjson.Parse(w.Body.String())
	assert.Equal(t, "invalid_request_error", root.Get("error.type").String())
	assert.Contains(t, root.Get("error.message").String(), "model")
}

func TestChatCompletionsUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":{"message":"upstream exploded"}}`)
	}))
	defer srv.Close()

	h := newHarness(t, gatewayConfig(srv.URL, "up.gpt-test.key1"))
	w := postChat(h, `{"model":"gpt-test","messages":[{"role":"user","content":"hi"}]}`)

	require.Equal(t, http.StatusBadGateway, w.Code)
	root := gjson.Parse(w.Body.String())
	assert.Contains(t, root.Get("error.message").String(), "upstream exploded")

	stats := h.tracker.GetStats()
	assert.Equal(t, int64(1), stats.FailureCount)
}

func TestListModels(t *testing.T) {
	h := newHarness(t, gatewayConfig("http://127.0.0.1:0", "up.gpt-test.key1"))

	w := httptest.NewRecorder()
	h.engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/models", nil))

	require.Equal(t, http.StatusOK, w.Code)
	root := gjson.Parse(w.Body.String())
	assert.Equal(t, "list", root.Get("object").String())
	require.Equal(t, int64(1), root.Get("data.#").Int())
	assert.Equal(t, "gpt-test", root.Get("data.0.id").String())
	assert.Equal(t, "up", root.Get("data.0.owned_by").String())
}

// A snapshot swap mid-flight must not tear the in-flight request: it
// keeps routing against the snapshot it entered with.
func TestSnapshotSwapMidRequest(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			close(entered)
			<-release
		})
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, upstreamChat)
	}))
	defer srv.Close()

	h := newHarness(t, gatewayConfig(srv.URL, "up.gpt-test.v1"))

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		done <- postChat(h, `{"model":"gpt-test","messages":[{"role":"user","content":"hi"}]}`)
	}()

	<-entered
	h.swap(t, gatewayConfig(srv.URL, "up.gpt-test.v2"))
	close(release)

	w := <-done
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "gpt-test", gjson.Get(w.Body.String(), "model").String())

	// 完成在旧快照上：用量记到 v1 流水线
	stats := h.tracker.GetStats()
	require.Contains(t, stats.Pipelines, "up.gpt-test.v1")

	// and new requests route against the swapped snapshot
	w2 := postChat(h, `{"model":"gpt-test","messages":[{"role":"user","content":"again"}]}`)
	require.Equal(t, http.StatusOK, w2.Code)
	stats = h.tracker.GetStats()
	require.Contains(t, stats.Pipelines, "up.gpt-test.v2")
}

func mustReadAll(t *testing.T, r *http.Request) []byte {
	t.Helper()
	data, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	return data
}
