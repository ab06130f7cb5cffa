package router

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"routecodex-go/internal/config"
	"routecodex-go/internal/pipeline"
	"routecodex-go/internal/translator"
)

func boolPtr(b bool) *bool { return &b }

// classifyConfig declares a pool for every category so rule matches
// never fall through for lack of a pool.
func classifyConfig() *config.RuntimeConfig {
	pools := make(map[string][]config.RouteTarget)
	for _, c := range config.KnownCategories {
		pools[c] = []config.RouteTarget{{PipelineID: "up.test-model.key1", Weight: 1}}
	}
	return &config.RuntimeConfig{
		Routing: pools,
		Classify: []config.ClassifyRule{
			{Category: config.CategoryVision, HasVision: boolPtr(true)},
			{Category: config.CategoryWebSearch, WebSearch: boolPtr(true)},
			{Category: config.CategoryBackground, Background: boolPtr(true)},
			{Category: config.CategoryThinking, Thinking: boolPtr(true)},
			{Category: config.CategoryLongContext, MinTokens: 60},
			{Category: config.CategoryCoding, ToolsPresent: boolPtr(true)},
			{Category: config.CategoryDefault},
		},
	}
}

func classify(t *testing.T, rc *config.RuntimeConfig, req pipeline.Request) string {
	t.Helper()
	if req.Dialect == "" {
		req.Dialect = translator.FormatOpenAIChat
	}
	category, _ := newClassifier(NewEstimator()).classify(rc, &req)
	return category
}

func TestClassifyDefault(t *testing.T) {
	got := classify(t, classifyConfig(), pipeline.Request{
		Model: "test-model",
		Body:  []byte(`{"model":"test-model","messages":[{"role":"user","content":"hi"}]}`),
	})
	assert.Equal(t, config.CategoryDefault, got)
}

func TestClassifyToolsGoToCoding(t *testing.T) {
	body := `{"model":"m","messages":[{"role":"user","content":"hi"}],"tools":[{"type":"function","function":{"name":"run_tests"}}]}`
	got := classify(t, classifyConfig(), pipeline.Request{Model: "m", Body: []byte(body)})
	assert.Equal(t, config.CategoryCoding, got)
}

func TestClassifyWebSearchWinsOverCoding(t *testing.T) {
	// web_search is a tool too; rule order decides
	for _, body := range []string{
		`{"messages":[],"tools":[{"type":"web_search_20250305","name":"web_search"}]}`,
		`{"messages":[],"tools":[{"type":"function","function":{"name":"web_search"}}]}`,
	} {
		got := classify(t, classifyConfig(), pipeline.Request{Model: "m", Body: []byte(body)})
		assert.Equal(t, config.CategoryWebSearch, got, body)
	}
}

func TestClassifyVisionParts(t *testing.T) {
	cases := map[string]string{
		"openai image_url": `{"messages":[{"role":"user","content":[{"type":"text","text":"what is this"},{"type":"image_url","image_url":{"url":"data:image/png;base64,AAAA"}}]}]}`,
		"anthropic image":  `{"messages":[{"role":"user","content":[{"type":"image","source":{"type":"base64","media_type":"image/png","data":"AAAA"}}]}]}`,
		"codex input":      `{"input":[{"role":"user","content":[{"type":"input_image","image_url":"data:image/png;base64,AAAA"}]}]}`,
	}
	for name, body := range cases {
		got := classify(t, classifyConfig(), pipeline.Request{Model: "m", Body: []byte(body)})
		assert.Equal(t, config.CategoryVision, got, name)
	}
}

func TestClassifyThinkingShapes(t *testing.T) {
	cases := map[string]string{
		"anthropic thinking": `{"messages":[],"thinking":{"type":"enabled","budget_tokens":1024}}`,
		"openai effort":      `{"messages":[],"reasoning_effort":"high"}`,
		"codex reasoning":    `{"input":[],"reasoning":{"effort":"low"}}`,
	}
	for name, body := range cases {
		got := classify(t, classifyConfig(), pipeline.Request{Model: "m", Body: []byte(body)})
		assert.Equal(t, config.CategoryThinking, got, name)
	}

	disabled := `{"messages":[{"role":"user","content":"hi"}],"thinking":{"type":"disabled"}}`
	got := classify(t, classifyConfig(), pipeline.Request{Model: "m", Body: []byte(disabled)})
	assert.Equal(t, config.CategoryDefault, got)
}

func TestClassifyBackground(t *testing.T) {
	body := `{"input":[{"role":"user","content":"hi"}],"background":true}`
	got := classify(t, classifyConfig(), pipeline.Request{Model: "m", Dialect: translator.FormatCodexResponses, Body: []byte(body)})
	assert.Equal(t, config.CategoryBackground, got)
}

func TestClassifyLongContextByEstimate(t *testing.T) {
	long := `{"messages":[{"role":"user","content":"` + strings.Repeat("hello world ", 100) + `"}]}`
	got := classify(t, classifyConfig(), pipeline.Request{Model: "m", Body: []byte(long)})
	assert.Equal(t, config.CategoryLongContext, got)

	short := `{"messages":[{"role":"user","content":"hi"}]}`
	got = classify(t, classifyConfig(), pipeline.Request{Model: "m", Body: []byte(short)})
	assert.Equal(t, config.CategoryDefault, got)
}

func TestClassifyHintBypass(t *testing.T) {
	rc := classifyConfig()
	plain := []byte(`{"messages":[{"role":"user","content":"hi"}]}`)

	got := classify(t, rc, pipeline.Request{Model: "m", Category: config.CategoryThinking, Body: plain})
	assert.Equal(t, config.CategoryThinking, got)

	// hint can ride in the payload too
	got = classify(t, rc, pipeline.Request{Model: "m", Body: []byte(`{"category":"coding","messages":[]}`)})
	assert.Equal(t, config.CategoryCoding, got)

	// a hint for an undeclared pool falls back to the rules
	delete(rc.Routing, config.CategoryThinking)
	got = classify(t, rc, pipeline.Request{Model: "m", Category: config.CategoryThinking, Body: plain})
	assert.Equal(t, config.CategoryDefault, got)
}

func TestClassifyModelPattern(t *testing.T) {
	rc := classifyConfig()
	rc.Classify = []config.ClassifyRule{
		{Category: config.CategoryThinking, ModelPattern: `^o[13](-|$)`},
		{Category: config.CategoryDefault},
	}
	body := []byte(`{"messages":[{"role":"user","content":"hi"}]}`)

	assert.Equal(t, config.CategoryThinking, classify(t, rc, pipeline.Request{Model: "o1-mini", Body: body}))
	assert.Equal(t, config.CategoryDefault, classify(t, rc, pipeline.Request{Model: "gpt-4o", Body: body}))
}

func TestClassifyDialectPredicate(t *testing.T) {
	rc := classifyConfig()
	rc.Classify = []config.ClassifyRule{
		{Category: config.CategoryBackground, Dialect: config.DialectCodexResponses},
		{Category: config.CategoryDefault},
	}
	body := []byte(`{"input":[{"role":"user","content":"hi"}]}`)

	got := classify(t, rc, pipeline.Request{Model: "m", Dialect: translator.FormatCodexResponses, Body: body})
	assert.Equal(t, config.CategoryBackground, got)
	got = classify(t, rc, pipeline.Request{Model: "m", Dialect: translator.FormatOpenAIChat, Body: body})
	assert.Equal(t, config.CategoryDefault, got)
}

func TestClassifyUndeclaredCategoryFallsThrough(t *testing.T) {
	rc := classifyConfig()
	delete(rc.Routing, config.CategoryVision)
	body := `{"messages":[{"role":"user","content":[{"type":"image_url","image_url":{"url":"x"}}]}]}`
	got := classify(t, rc, pipeline.Request{Model: "m", Body: []byte(body)})
	assert.Equal(t, config.CategoryDefault, got)
}

func TestClassifyBrokenPatternSkipsRule(t *testing.T) {
	rc := classifyConfig()
	rc.Classify = []config.ClassifyRule{
		{Category: config.CategoryThinking, ModelPattern: `(`},
		{Category: config.CategoryDefault},
	}
	got := classify(t, rc, pipeline.Request{Model: "o1", Body: []byte(`{"messages":[]}`)})
	assert.Equal(t, config.CategoryDefault, got)
}

func TestEstimatorScalesWithText(t *testing.T) {
	est := NewEstimator()
	short := est.CountText("some-unmapped-model", "hi")
	long := est.CountText("some-unmapped-model", strings.Repeat("hello world ", 200))
	assert.Greater(t, short, 0)
	assert.Greater(t, long, short)
	// never more tokens than bytes, whichever encoder ended up loaded
	assert.LessOrEqual(t, long, len(strings.Repeat("hello world ", 200)))
}

func TestEstimateRequestReadsEveryDialectShape(t *testing.T) {
	est := NewEstimator()
	cases := map[string]string{
		"openai":    `{"messages":[{"role":"user","content":"tell me a story"}]}`,
		"anthropic": `{"system":"be brief","messages":[{"role":"user","content":[{"type":"text","text":"tell me a story"}]}]}`,
		"codex":     `{"instructions":"be brief","input":[{"role":"user","content":[{"type":"input_text","text":"tell me a story"}]}]}`,
	}
	for name, body := range cases {
		assert.Greater(t, est.EstimateRequest("m", []byte(body)), 0, name)
	}

	// unrecognizable payloads degrade to a byte-length estimate
	assert.Equal(t, 0, est.EstimateRequest("m", []byte(`{}`)))
}
