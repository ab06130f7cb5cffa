package pipeline

import (
	"bufio"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func collectDataLines(t *testing.T, r io.Reader) []string {
	t.Helper()
	var lines []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "data: ") {
			lines = append(lines, strings.TrimPrefix(line, "data: "))
		}
	}
	require.NoError(t, sc.Err())
	return lines
}

func TestFakeChunkStreamShape(t *testing.T) {
	hubResp := []byte(`{
		"id": "chatcmpl-abc",
		"object": "chat.completion",
		"created": 1756100000,
		"model": "upstream-model",
		"choices": [{
			"index": 0,
			"message": {
				"role": "assistant",
				"reasoning_content": "think first",
				"content": "this text is long enough to need two chunks",
				"tool_calls": [{"id":"call_1","type":"function","function":{"name":"get_time","arguments":"{}"}}]
			},
			"finish_reason": "tool_calls"
		}],
		"usage": {"prompt_tokens": 10, "completion_tokens": 20, "total_tokens": 30}
	}`)

	lines := collectDataLines(t, fakeChunkStream(context.Background(), "client-model", hubResp))
	require.GreaterOrEqual(t, len(lines), 5)
	assert.Equal(t, "[DONE]", lines[len(lines)-1])

	first := gjson.Parse(lines[0])
	assert.Equal(t, "chatcmpl-abc", first.Get("id").String())
	assert.Equal(t, "chat.completion.chunk", first.Get("object").String())
	assert.Equal(t, "client-model", first.Get("model").String())
	assert.Equal(t, "assistant", first.Get("choices.0.delta.role").String())

	var content strings.Builder
	var sawReasoning, sawToolCall bool
	var finishLine gjson.Result
	for _, l := range lines[:len(lines)-1] {
		chunk := gjson.Parse(l)
		delta := chunk.Get("choices.0.delta")
		if v := delta.Get("content"); v.Exists() {
			content.WriteString(v.String())
		}
		if delta.Get("reasoning_content").Exists() {
			sawReasoning = true
		}
		if delta.Get("tool_calls").Exists() {
			sawToolCall = true
			assert.Equal(t, "call_1", delta.Get("tool_calls.0.id").String())
			assert.Equal(t, "get_time", delta.Get("tool_calls.0.function.name").String())
		}
		if chunk.Get("choices.0.finish_reason").Exists() {
			finishLine = chunk
		}
	}
	assert.Equal(t, "this text is long enough to need two chunks", content.String())
	assert.True(t, sawReasoning)
	assert.True(t, sawToolCall)
	require.True(t, finishLine.Exists())
	assert.Equal(t, "tool_calls", finishLine.Get("choices.0.finish_reason").String())
	assert.Equal(t, int64(30), finishLine.Get("usage.total_tokens").Int())
}

func TestFakeChunkStreamMinimalResponse(t *testing.T) {
	lines := collectDataLines(t, fakeChunkStream(context.Background(), "m",
		[]byte(`{"choices":[{"message":{"role":"assistant","content":"hi"}}]}`)))

	require.GreaterOrEqual(t, len(lines), 3)
	assert.Equal(t, "[DONE]", lines[len(lines)-1])
	finish := gjson.Parse(lines[len(lines)-2])
	assert.Equal(t, "stop", finish.Get("choices.0.finish_reason").String())
	// synthesized ids are stamped when the response has none
	assert.True(t, strings.HasPrefix(gjson.Parse(lines[0]).Get("id").String(), "chatcmpl-"))
}

func TestFakeChunkStreamStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := fakeChunkStream(ctx, "m", []byte(`{"choices":[{"message":{"role":"assistant","content":"hi"}}]}`))
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "[DONE]")
}

func TestSplitRunes(t *testing.T) {
	assert.Nil(t, splitRunes("", 4))
	assert.Equal(t, []string{"abcd", "ef"}, splitRunes("abcdef", 4))
	assert.Equal(t, []string{"ab"}, splitRunes("ab", 4))
	// multi-byte runes never split mid-character
	assert.Equal(t, []string{"你好世界", "测试"}, splitRunes("你好世界测试", 4))
}
