package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"routecodex-go/internal/config"
)

func TestLLMSwitchReplacesSystemPrompt(t *testing.T) {
	st, err := newLLMSwitchStage(config.LLMSwitchConfig{Enabled: true, PromptSource: "codex"})
	require.NoError(t, err)

	body := []byte(`{"model":"m","messages":[{"role":"system","content":"old"},{"role":"user","content":"hi"}]}`)
	out := st.apply(body)

	msgs := gjson.GetBytes(out, "messages").Array()
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].Get("role").String())
	assert.Equal(t, codexSystemPrompt, msgs[0].Get("content").String())
	assert.Equal(t, "hi", msgs[1].Get("content").String())
}

func TestLLMSwitchPrependsWhenNoSystemMessage(t *testing.T) {
	st, err := newLLMSwitchStage(config.LLMSwitchConfig{Enabled: true, PromptSource: "claude"})
	require.NoError(t, err)

	body := []byte(`{"model":"m","messages":[{"role":"user","content":"hi"}]}`)
	out := st.apply(body)

	msgs := gjson.GetBytes(out, "messages").Array()
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].Get("role").String())
	assert.Equal(t, claudeSystemPrompt, msgs[0].Get("content").String())
	assert.Equal(t, "user", msgs[1].Get("role").String())
}

func TestLLMSwitchDisabledIsIdentity(t *testing.T) {
	st, err := newLLMSwitchStage(config.LLMSwitchConfig{})
	require.NoError(t, err)

	body := []byte(`{"messages":[{"role":"system","content":"keep"}]}`)
	assert.Equal(t, string(body), string(st.apply(body)))
	assert.Equal(t, "", st.ua())
}

func TestLLMSwitchRejectsUnknownConfig(t *testing.T) {
	_, err := newLLMSwitchStage(config.LLMSwitchConfig{Enabled: true, PromptSource: "cursor"})
	assert.Error(t, err)

	_, err = newLLMSwitchStage(config.LLMSwitchConfig{Enabled: true, UAMode: "curl"})
	assert.Error(t, err)
}

func TestWorkflowStripNonFinalToolCalls(t *testing.T) {
	st, err := newWorkflowStage(config.WorkflowConfig{StripNonFinalToolCalls: true})
	require.NoError(t, err)

	body := []byte(`{"messages":[
		{"role":"user","content":"list files"},
		{"role":"assistant","content":"checking","tool_calls":[{"id":"call_1","type":"function","function":{"name":"ls","arguments":"{}"}}]},
		{"role":"tool","tool_call_id":"call_1","content":"a.txt"},
		{"role":"assistant","content":"","tool_calls":[{"id":"call_2","type":"function","function":{"name":"cat","arguments":"{}"}}]},
		{"role":"tool","tool_call_id":"call_2","content":"body"}
	]}`)
	out := st.apply(body)

	msgs := gjson.GetBytes(out, "messages").Array()
	require.Len(t, msgs, 4)
	// the earlier assistant turn keeps its text but loses tool_calls
	assert.Equal(t, "checking", msgs[1].Get("content").String())
	assert.False(t, msgs[1].Get("tool_calls").Exists())
	// its orphaned tool result is gone, the final pair survives
	assert.Equal(t, "assistant", msgs[2].Get("role").String())
	assert.True(t, msgs[2].Get("tool_calls").Exists())
	assert.Equal(t, "call_2", msgs[3].Get("tool_call_id").String())
}

func TestWorkflowStripDropsEmptyAssistantTurn(t *testing.T) {
	st, err := newWorkflowStage(config.WorkflowConfig{StripNonFinalToolCalls: true})
	require.NoError(t, err)

	body := []byte(`{"messages":[
		{"role":"assistant","content":"","tool_calls":[{"id":"call_1","type":"function","function":{"name":"ls","arguments":"{}"}}]},
		{"role":"tool","tool_call_id":"call_1","content":"a.txt"},
		{"role":"assistant","content":"done"}
	]}`)
	out := st.apply(body)

	msgs := gjson.GetBytes(out, "messages").Array()
	require.Len(t, msgs, 1)
	assert.Equal(t, "done", msgs[0].Get("content").String())
}

func TestWorkflowInjectClockScope(t *testing.T) {
	st, err := newWorkflowStage(config.WorkflowConfig{InjectClockScope: true})
	require.NoError(t, err)
	frozen := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	st.now = func() time.Time { return frozen }

	out := st.apply([]byte(`{"messages":[{"role":"system","content":"base"},{"role":"user","content":"hi"}]}`))
	content := gjson.GetBytes(out, "messages.0.content").String()
	assert.Contains(t, content, "base")
	assert.Contains(t, content, "Current time: 2026-08-25T12:00:00Z")

	// no system message: one is prepended carrying only the clock line
	out = st.apply([]byte(`{"messages":[{"role":"user","content":"hi"}]}`))
	msgs := gjson.GetBytes(out, "messages").Array()
	require.Len(t, msgs, 2)
	assert.Equal(t, "Current time: 2026-08-25T12:00:00Z", msgs[0].Get("content").String())
}

func TestWorkflowRegexRules(t *testing.T) {
	st, err := newWorkflowStage(config.WorkflowConfig{
		Rules: []config.WorkflowRule{
			{Name: "rewrite-model", Path: "model", Pattern: `^gpt-4$`, Replace: "gpt-4o"},
		},
	})
	require.NoError(t, err)

	out := st.apply([]byte(`{"model":"gpt-4","messages":[]}`))
	assert.Equal(t, "gpt-4o", gjson.GetBytes(out, "model").String())

	// non-matching values and non-string paths pass through
	out = st.apply([]byte(`{"model":"gpt-4o-mini"}`))
	assert.Equal(t, "gpt-4o-mini", gjson.GetBytes(out, "model").String())
}

func TestWorkflowRejectsBadRule(t *testing.T) {
	_, err := newWorkflowStage(config.WorkflowConfig{
		Rules: []config.WorkflowRule{{Name: "broken", Path: "model", Pattern: `(`}},
	})
	assert.Error(t, err)

	_, err = newWorkflowStage(config.WorkflowConfig{
		Rules: []config.WorkflowRule{{Name: "no-path", Pattern: `x`}},
	})
	assert.Error(t, err)
}

func TestCompatibilityRenamesAndDrops(t *testing.T) {
	st := newCompatStage(config.CompatibilityConfig{
		FieldRenames: map[string]string{"max_tokens": "max_completion_tokens"},
		DropFields:   []string{"logprobs"},
	})

	out := st.applyRequest([]byte(`{"model":"m","max_tokens":100,"logprobs":true}`))
	assert.False(t, gjson.GetBytes(out, "max_tokens").Exists())
	assert.Equal(t, int64(100), gjson.GetBytes(out, "max_completion_tokens").Int())
	assert.False(t, gjson.GetBytes(out, "logprobs").Exists())

	// responses map the renames back
	resp := st.applyResponse([]byte(`{"max_completion_tokens":100}`))
	assert.Equal(t, int64(100), gjson.GetBytes(resp, "max_tokens").Int())
	assert.False(t, gjson.GetBytes(resp, "max_completion_tokens").Exists())
}
