package anthropic

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
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

// Upstream speaks openaiChat; the gateway translates both directions.
const upstreamToolSSE = "data: {\"id\":\"chatcmpl-t1\",\"object\":\"chat.completion.chunk\",\"model\":\"upstream-model\",\"choices\":[{\"index\":0,\"delta\":{\"role\":\"assistant\"},\"finish_reason\":null}]}\n\n" +
	"data: {\"choices\":[{\"index\":0,\"delta\":{\"tool_calls\":[{\"index\":0,\"id\":\"call_9\",\"type\":\"function\",\"function\":{\"name\":\"get_weather\",\"arguments\":\"\"}}]},\"finish_reason\":null}]}\n\n" +
	"data: {\"choices\":[{\"index\":0,\"delta\":{\"tool_calls\":[{\"index\":0,\"function\":{\"arguments\":\"{\\\"location\\\": \\\"Par\"}}]},\"finish_reason\":null}]}\n\n" +
	"data: {\"choices\":[{\"index\":0,\"delta\":{\"tool_calls\":[{\"index\":0,\"function\":{\"arguments\":\"is\\\"}\"}}]},\"finish_reason\":null}]}\n\n" +
	"data: {\"choices\":[{\"index\":0,\"delta\":{},\"finish_reason\":\"tool_calls\"}],\"usage\":{\"completion_tokens\":12}}\n\n" +
	"data: [DONE]\n\n"

func messagesConfig(baseURL string) *config.RuntimeConfig {
	return &config.RuntimeConfig{
		Version: 1,
		Providers: map[string]config.ProviderDef{
			"up": {
				ID:      "up",
				BaseURL: baseURL,
				Dialect: config.DialectOpenAIChat,
				Models: []config.ModelDef{
					{ID: "claude-test", UpstreamID: "upstream-model", Streaming: true, Tools: true},
				},
			},
		},
		Credentials: map[string]config.CredentialDef{
			"up-key1": {ID: "up-key1", ProviderID: "up", AuthKind: config.AuthKindAPIKey, AliasIndex: 1, Alias: "key1", SecretRef: "sk-key-a"},
		},
		Pipelines: []config.PipelineDef{
			{ID: "up.claude-test.key1", ProviderID: "up", ModelID: "claude-test", CredentialID: "up-key1", Weight: 1},
		},
		Routing: map[string][]config.RouteTarget{
			config.CategoryDefault: {{PipelineID: "up.claude-test.key1", Weight: 1}},
		},
		Classify: []config.ClassifyRule{{Category: config.CategoryDefault}},
	}
}

func newMessagesEngine(t *testing.T, rc *config.RuntimeConfig) (*gin.Engine, *usage.Tracker) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := events.NewHub()
	hm := health.NewManager(hub)
	store := credential.NewStore(rc, credential.Options{Hub: hub})
	asm := pipeline.Assemble(context.Background(), rc, pipeline.Deps{Credentials: store, Health: hm})
	tracker := usage.NewTracker(nil)
	rt := router.New(router.Deps{Credentials: store, Health: hm, Usage: tracker, Hub: hub})
	t.Cleanup(rt.Close)

	snap := router.Snapshot{RC: rc, Assembly: asm}
	cat := modelcatalog.FromRuntimeConfig(rc)
	gw := &common.Gateway{
		Router:  rt,
		Source:  func() router.Snapshot { return snap },
		Catalog: func() *modelcatalog.Catalog { return cat },
		Usage:   tracker,
		Server:  "test",
	}
	engine := gin.New()
	engine.Use(middleware.RequestID())
	New(gw).Register(engine)
	return engine, tracker
}

type sseEvent struct {
	name string
	data string
}

func parseSSE(t *testing.T, body string) []sseEvent {
	t.Helper()
	var events []sseEvent
	var cur sseEvent
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			cur.name = line[len("event: "):]
		case strings.HasPrefix(line, "data: "):
			cur.data = line[len("data: "):]
		case line == "":
			if cur.name != "" || cur.data != "" {
				events = append(events, cur)
				cur = sseEvent{}
			}
		}
	}
	require.NoError(t, sc.Err())
	return events
}

func TestMessagesStreamToolArgsBytePreserved(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, upstreamToolSSE)
	}))
	defer srv.Close()

	engine, _ := newMessagesEngine(t, messagesConfig(srv.URL))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/messages",
		strings.NewReader(`{"model":"claude-test","stream":true,"max_tokens":128,"messages":[{"role":"user","content":"weather in paris"}]}`))
	req.Header.Set("Content-Type", "application/json")
	engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	events := parseSSE(t, w.Body.String())
	require.NotEmpty(t, events)
	assert.Equal(t, "message_start", events[0].name)
	// 流式回包里的模型名同样回显客户端请求的名字
	assert.Equal(t, "claude-test", gjson.Get(events[0].data, "message.model").String())
	assert.Equal(t, "message_stop", events[len(events)-1].name)

	var toolName, toolID, args, stopReason string
	for _, ev := range events {
		root := gjson.Parse(ev.data)
		switch ev.name {
		case "content_block_start":
			if root.Get("content_block.type").String() == "tool_use" {
				toolName = root.Get("content_block.name").String()
				toolID = root.Get("content_block.id").String()
			}
		case "content_block_delta":
			if root.Get("delta.type").String() == "input_json_delta" {
				args += root.Get("delta.partial_json").String()
			}
		case "message_delta":
			stopReason = root.Get("delta.stop_reason").String()
		}
	}
	assert.Equal(t, "get_weather", toolName)
	assert.Equal(t, "call_9", toolID)
	// 工具参数必须逐字节拼回原文，包括空格
	assert.Equal(t, `{"location": "Paris"}`, args)
	assert.Equal(t, "tool_use", stopReason)
}

func TestMessagesVersionEcho(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"chatcmpl-1","object":"chat.completion","model":"upstream-model","choices":[{"index":0,"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}],"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`)
	}))
	defer srv.Close()

	engine, _ := newMessagesEngine(t, messagesConfig(srv.URL))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/messages",
		strings.NewReader(`{"model":"claude-test","max_tokens":16,"messages":[{"role":"user","content":"hi"}]}`))
	req.Header.Set("Anthropic-Version", "2024-10-22")
	engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2024-10-22", w.Header().Get("Anthropic-Version"))
	assert.Equal(t, "claude-test", gjson.Get(w.Body.String(), "model").String())
}

func TestMessagesVersionDefault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"chatcmpl-1","object":"chat.completion","model":"upstream-model","choices":[{"index":0,"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	engine, _ := newMessagesEngine(t, messagesConfig(srv.URL))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/messages",
		strings.NewReader(`{"model":"claude-test","max_tokens":16,"messages":[{"role":"user","content":"hi"}]}`))
	engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, defaultVersion, w.Header().Get("Anthropic-Version"))
}

func TestCountTokensLocal(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	engine, _ := newMessagesEngine(t, messagesConfig(srv.URL))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/messages/count_tokens",
		strings.NewReader(`{"model":"claude-test","messages":[{"role":"user","content":"The quick brown fox jumps over the lazy dog"}]}`))
	engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	tokens := gjson.Get(w.Body.String(), "input_tokens").Int()
	assert.Greater(t, tokens, int64(0))
	assert.False(t, called, "count_tokens must not hit the upstream")
}

func TestMessagesErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"rate limited"}}`)
	}))
	defer srv.Close()

	engine, _ := newMessagesEngine(t, messagesConfig(srv.URL))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/messages",
		strings.NewReader(`{"model":"claude-test","max_tokens":16,"messages":[{"role":"user","content":"hi"}]}`))
	engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusTooManyRequests, w.Code)
	root := gjson.Parse(w.Body.String())
	assert.Equal(t, "error", root.Get("type").String())
	assert.Equal(t, "rate_limit_error", root.Get("error.type").String())
}
