package pipeline

import (
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"routecodex-go/internal/config"
)

// Canned system prompts selectable by promptSource. Kept deliberately
// compact; the point is a consistent upstream persona, not a byte-exact
// CLI transcript.
const (
	codexSystemPrompt = "You are a coding agent running in a terminal-based coding tool. " +
		"Work autonomously on the user's task: read code before changing it, prefer small " +
		"verifiable steps, run checks when available, and report what you changed and why. " +
		"Use the provided tools for file and shell access instead of guessing repository state."

	claudeSystemPrompt = "You are an interactive CLI assistant for software engineering tasks. " +
		"Be concise and direct. When the user asks for code changes, make them via the " +
		"available tools, keep edits minimal and idiomatic to the surrounding code, and " +
		"verify your work before declaring it done. Refuse to fabricate file contents."
)

// llmSwitchStage is stage 1: a pure transformation on the hub-dialect body
// that may replace or inject the system prompt, plus the UA fingerprint
// hint carried to the provider stage. Disabled means identity.
type llmSwitchStage struct {
	enabled bool
	prompt  string
	uaMode  string
}

func newLLMSwitchStage(cfg config.LLMSwitchConfig) (*llmSwitchStage, error) {
	if !cfg.Enabled {
		return &llmSwitchStage{}, nil
	}
	st := &llmSwitchStage{enabled: true, uaMode: cfg.UAMode}
	switch cfg.PromptSource {
	case "", "none":
	case "codex":
		st.prompt = codexSystemPrompt
	case "claude":
		st.prompt = claudeSystemPrompt
	default:
		return nil, fmt.Errorf("unknown promptSource %q", cfg.PromptSource)
	}
	switch cfg.UAMode {
	case "", "codex", "claude", "passthrough":
	default:
		return nil, fmt.Errorf("unknown uaMode %q", cfg.UAMode)
	}
	return st, nil
}

// ua returns the UA-mode hint for the provider stage.
func (s *llmSwitchStage) ua() string {
	if !s.enabled {
		return ""
	}
	return s.uaMode
}

// apply replaces the first system message's content, or prepends one when
// the request has none. No-op when disabled or no prompt is configured.
func (s *llmSwitchStage) apply(body []byte) []byte {
	if !s.enabled || s.prompt == "" {
		return body
	}
	msgs := gjson.GetBytes(body, "messages")
	for i, m := range msgs.Array() {
		if m.Get("role").String() == "system" {
			out, err := sjson.SetBytes(body, fmt.Sprintf("messages.%d.content", i), s.prompt)
			if err != nil {
				return body
			}
			return out
		}
	}
	rebuilt := []interface{}{map[string]interface{}{"role": "system", "content": s.prompt}}
	for _, m := range msgs.Array() {
		rebuilt = append(rebuilt, m.Value())
	}
	out, err := sjson.SetBytes(body, "messages", rebuilt)
	if err != nil {
		return body
	}
	return out
}
