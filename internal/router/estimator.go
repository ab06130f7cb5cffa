package router

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"github.com/tidwall/gjson"
)

const fallbackEncoding = "cl100k_base"

// Estimator counts tokens for classification thresholds and the
// count_tokens endpoint. Encoders are resolved per model and cached; a
// model without a tiktoken mapping falls back to cl100k_base, and when
// no encoder loads at all the estimate degrades to len/4. Routing only
// needs the right order of magnitude, so the degraded path is fine.
type Estimator struct {
	mu       sync.Mutex
	encoders map[string]*tiktoken.Tiktoken
}

func NewEstimator() *Estimator {
	return &Estimator{encoders: make(map[string]*tiktoken.Tiktoken)}
}

// EstimateRequest estimates the prompt tokens of a chat payload in any
// of the supported dialects. Only text parts are counted; images and
// tool schemas are ignored, which keeps the estimate cheap and stable
// across dialect translation.
func (e *Estimator) EstimateRequest(model string, body []byte) int {
	text := collectText(body)
	if text == "" {
		// 无法识别的载荷按原始字节估算
		return len(body) / 4
	}
	return e.CountText(model, text)
}

// CountText counts tokens in a plain string.
func (e *Estimator) CountText(model, text string) int {
	if enc := e.encoder(model); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return (len(text) + 3) / 4
}

// encoder returns the cached encoder for model, loading it on first
// use. A nil entry is cached too so a missing encoding is only probed
// once per model.
func (e *Estimator) encoder(model string) *tiktoken.Tiktoken {
	e.mu.Lock()
	defer e.mu.Unlock()
	if enc, ok := e.encoders[model]; ok {
		return enc
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(fallbackEncoding)
		if err != nil {
			enc = nil
		}
	}
	e.encoders[model] = enc
	return enc
}

// collectText gathers every text fragment a chat payload can carry:
// OpenAI messages, Anthropic system + content parts, Codex
// instructions + input items.
func collectText(body []byte) string {
	var sb strings.Builder
	appendContent := func(c gjson.Result) {
		switch {
		case c.Type == gjson.String:
			sb.WriteString(c.String())
			sb.WriteByte('\n')
		case c.IsArray():
			c.ForEach(func(_, part gjson.Result) bool {
				if txt := part.Get("text"); txt.Type == gjson.String {
					sb.WriteString(txt.String())
					sb.WriteByte('\n')
				}
				return true
			})
		}
	}

	if sys := gjson.GetBytes(body, "system"); sys.Exists() {
		appendContent(sys)
	}
	if inst := gjson.GetBytes(body, "instructions"); inst.Type == gjson.String {
		sb.WriteString(inst.String())
		sb.WriteByte('\n')
	}
	gjson.GetBytes(body, "messages").ForEach(func(_, m gjson.Result) bool {
		appendContent(m.Get("content"))
		return true
	})
	gjson.GetBytes(body, "input").ForEach(func(_, m gjson.Result) bool {
		appendContent(m.Get("content"))
		return true
	})
	return sb.String()
}
