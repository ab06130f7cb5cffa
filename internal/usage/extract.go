package usage

import (
	"github.com/tidwall/gjson"
)

// ExtractTokenUsage pulls token counts out of a buffered response body.
// All three client dialects are probed: OpenAI chat completions
// (prompt_tokens/completion_tokens), Anthropic messages and Codex
// responses (input_tokens/output_tokens). Returns nil when the body
// carries no usage object.
func ExtractTokenUsage(body []byte) *TokenUsage {
	if len(body) == 0 {
		return nil
	}
	u := gjson.GetBytes(body, "usage")
	if !u.Exists() {
		// Codex 在完结事件里把响应体嵌在 response 下
		u = gjson.GetBytes(body, "response.usage")
	}
	if !u.Exists() || !u.IsObject() {
		return nil
	}

	tu := &TokenUsage{}
	if v := u.Get("prompt_tokens"); v.Exists() {
		tu.InputTokens = v.Int()
		tu.OutputTokens = u.Get("completion_tokens").Int()
		tu.ReasoningTokens = u.Get("completion_tokens_details.reasoning_tokens").Int()
		tu.CachedTokens = u.Get("prompt_tokens_details.cached_tokens").Int()
	} else {
		tu.InputTokens = u.Get("input_tokens").Int()
		tu.OutputTokens = u.Get("output_tokens").Int()
		tu.ReasoningTokens = u.Get("output_tokens_details.reasoning_tokens").Int()
		if v := u.Get("cache_read_input_tokens"); v.Exists() {
			tu.CachedTokens = v.Int()
		} else {
			tu.CachedTokens = u.Get("input_tokens_details.cached_tokens").Int()
		}
	}
	tu.TotalTokens = u.Get("total_tokens").Int()
	if tu.TotalTokens == 0 {
		tu.TotalTokens = tu.InputTokens + tu.OutputTokens
	}
	if tu.TotalTokens == 0 && tu.ReasoningTokens == 0 && tu.CachedTokens == 0 {
		return nil
	}
	return tu
}

// ExtractModel returns the model field of a request or response body.
func ExtractModel(body []byte) string {
	if m := gjson.GetBytes(body, "model"); m.Exists() {
		return m.String()
	}
	return gjson.GetBytes(body, "response.model").String()
}
