package usage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractTokenUsageOpenAI(t *testing.T) {
	body := []byte(`{
		"id": "chatcmpl-1",
		"model": "gpt-4o",
		"usage": {
			"prompt_tokens": 120,
			"completion_tokens": 48,
			"total_tokens": 168,
			"prompt_tokens_details": {"cached_tokens": 32},
			"completion_tokens_details": {"reasoning_tokens": 16}
		}
	}`)

	tu := ExtractTokenUsage(body)
	require.NotNil(t, tu)
	assert.Equal(t, int64(120), tu.InputTokens)
	assert.Equal(t, int64(48), tu.OutputTokens)
	assert.Equal(t, int64(168), tu.TotalTokens)
	assert.Equal(t, int64(32), tu.CachedTokens)
	assert.Equal(t, int64(16), tu.ReasoningTokens)
}

func TestExtractTokenUsageAnthropic(t *testing.T) {
	body := []byte(`{
		"id": "msg_01",
		"model": "claude-sonnet-4",
		"usage": {"input_tokens": 80, "output_tokens": 25, "cache_read_input_tokens": 10}
	}`)

	tu := ExtractTokenUsage(body)
	require.NotNil(t, tu)
	assert.Equal(t, int64(80), tu.InputTokens)
	assert.Equal(t, int64(25), tu.OutputTokens)
	assert.Equal(t, int64(10), tu.CachedTokens)
	// total derived when the body omits it
	assert.Equal(t, int64(105), tu.TotalTokens)
}

func TestExtractTokenUsageCodexResponse(t *testing.T) {
	body := []byte(`{
		"type": "response.completed",
		"response": {
			"id": "resp_1",
			"model": "gpt-5-codex",
			"usage": {
				"input_tokens": 200,
				"output_tokens": 90,
				"total_tokens": 290,
				"input_tokens_details": {"cached_tokens": 64},
				"output_tokens_details": {"reasoning_tokens": 40}
			}
		}
	}`)

	tu := ExtractTokenUsage(body)
	require.NotNil(t, tu)
	assert.Equal(t, int64(200), tu.InputTokens)
	assert.Equal(t, int64(90), tu.OutputTokens)
	assert.Equal(t, int64(290), tu.TotalTokens)
	assert.Equal(t, int64(64), tu.CachedTokens)
	assert.Equal(t, int64(40), tu.ReasoningTokens)
}

func TestExtractTokenUsageAbsent(t *testing.T) {
	assert.Nil(t, ExtractTokenUsage(nil))
	assert.Nil(t, ExtractTokenUsage([]byte(`{}`)))
	assert.Nil(t, ExtractTokenUsage([]byte(`{"usage": {}}`)))
	assert.Nil(t, ExtractTokenUsage([]byte(`not-json`)))
}

func TestExtractModel(t *testing.T) {
	assert.Equal(t, "gpt-4o", ExtractModel([]byte(`{"model":"gpt-4o"}`)))
	assert.Equal(t, "gpt-5-codex", ExtractModel([]byte(`{"response":{"model":"gpt-5-codex"}}`)))
	assert.Equal(t, "", ExtractModel([]byte(`{}`)))
}
