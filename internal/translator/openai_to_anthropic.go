package translator

import (
	"context"
	"encoding/json"
	"io"

	"github.com/tidwall/gjson"
)

const defaultAnthropicMaxTokens = 4096

func init() {
	Register(FormatOpenAIChat, FormatAnthropicMessages, TranslatorConfig{
		RequestTransform:  OpenAIToAnthropicRequest,
		ResponseTransform: OpenAIToAnthropicResponse,
		StreamTransform:   OpenAIToAnthropicStream,
	})
}

// OpenAIToAnthropicRequest converts an OpenAI chat-completions request into
// the Anthropic messages shape. max_tokens is mandatory on that surface, so
// a default is injected when the caller omitted it.
func OpenAIToAnthropicRequest(model string, rawJSON []byte, stream bool) []byte {
	root := gjson.ParseBytes(rawJSON)

	var systemText string
	var messages []map[string]interface{}

	appendToolResult := func(block map[string]interface{}) {
		// Consecutive tool messages merge into one user turn.
		if n := len(messages); n > 0 {
			last := messages[n-1]
			if last["role"] == "user" {
				if blocks, ok := last["content"].([]map[string]interface{}); ok && len(blocks) > 0 {
					if blocks[0]["type"] == "tool_result" {
						last["content"] = append(blocks, block)
						return
					}
				}
			}
		}
		messages = append(messages, map[string]interface{}{
			"role":    "user",
			"content": []map[string]interface{}{block},
		})
	}

	for _, msg := range root.Get("messages").Array() {
		role := msg.Get("role").String()
		content := msg.Get("content")

		switch role {
		case "system", "developer":
			if text := flattenText(content, "text"); text != "" {
				if systemText != "" {
					systemText += "\n\n"
				}
				systemText += text
			}
		case "user":
			if content.Type == gjson.String {
				messages = append(messages, map[string]interface{}{"role": "user", "content": content.String()})
				continue
			}
			var blocks []map[string]interface{}
			for _, part := range content.Array() {
				switch part.Get("type").String() {
				case "text":
					blocks = append(blocks, map[string]interface{}{"type": "text", "text": part.Get("text").String()})
				case "image_url":
					url := part.Get("image_url.url").String()
					block := map[string]interface{}{"type": "image"}
					if mediaType, data, ok := splitDataURL(url); ok {
						block["source"] = map[string]interface{}{
							"type":       "base64",
							"media_type": mediaType,
							"data":       data,
						}
					} else {
						block["source"] = map[string]interface{}{"type": "url", "url": url}
					}
					blocks = append(blocks, block)
				}
			}
			if len(blocks) > 0 {
				messages = append(messages, map[string]interface{}{"role": "user", "content": blocks})
			}
		case "assistant":
			var blocks []map[string]interface{}
			if text := flattenText(content, "text"); text != "" {
				blocks = append(blocks, map[string]interface{}{"type": "text", "text": text})
			}
			for _, call := range msg.Get("tool_calls").Array() {
				fn := call.Get("function")
				blocks = append(blocks, map[string]interface{}{
					"type":  "tool_use",
					"id":    call.Get("id").String(),
					"name":  fn.Get("name").String(),
					"input": json.RawMessage(rawArguments(fn.Get("arguments"))),
				})
			}
			if len(blocks) > 0 {
				messages = append(messages, map[string]interface{}{"role": "assistant", "content": blocks})
			}
		case "tool":
			appendToolResult(map[string]interface{}{
				"type":        "tool_result",
				"tool_use_id": msg.Get("tool_call_id").String(),
				"content":     flattenText(content, "text"),
			})
		}
	}

	maxTokens := root.Get("max_tokens").Int()
	if maxTokens <= 0 {
		maxTokens = root.Get("max_completion_tokens").Int()
	}
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	out := map[string]interface{}{
		"model":      model,
		"messages":   messages,
		"max_tokens": maxTokens,
	}
	if stream {
		out["stream"] = true
	}
	if systemText != "" {
		out["system"] = systemText
	}
	if v := root.Get("temperature"); v.Exists() {
		out["temperature"] = v.Float()
	}
	if v := root.Get("top_p"); v.Exists() {
		out["top_p"] = v.Float()
	}
	if v := root.Get("stop"); v.Exists() {
		if v.IsArray() {
			out["stop_sequences"] = json.RawMessage(v.Raw)
		} else if s := v.String(); s != "" {
			out["stop_sequences"] = []string{s}
		}
	}
	if v := root.Get("user"); v.Exists() {
		out["metadata"] = map[string]interface{}{"user_id": v.String()}
	}

	if tools := root.Get("tools"); tools.IsArray() {
		var converted []map[string]interface{}
		for _, tool := range tools.Array() {
			if tool.Get("type").String() != "function" {
				continue
			}
			fn := tool.Get("function")
			entry := map[string]interface{}{"name": fn.Get("name").String()}
			if desc := fn.Get("description"); desc.Exists() {
				entry["description"] = desc.String()
			}
			if params := fn.Get("parameters"); params.Exists() {
				entry["input_schema"] = json.RawMessage(params.Raw)
			} else {
				entry["input_schema"] = map[string]interface{}{"type": "object"}
			}
			converted = append(converted, entry)
		}
		if len(converted) > 0 {
			out["tools"] = converted
		}
	}
	if choice := root.Get("tool_choice"); choice.Exists() {
		switch {
		case choice.Type == gjson.String:
			switch choice.String() {
			case "auto":
				out["tool_choice"] = map[string]interface{}{"type": "auto"}
			case "required":
				out["tool_choice"] = map[string]interface{}{"type": "any"}
			case "none":
				out["tool_choice"] = map[string]interface{}{"type": "none"}
			}
		case choice.Get("type").String() == "function":
			out["tool_choice"] = map[string]interface{}{
				"type": "tool",
				"name": choice.Get("function.name").String(),
			}
		}
	}

	data, err := json.Marshal(out)
	if err != nil {
		return rawJSON
	}
	return data
}

// OpenAIToAnthropicResponse converts a buffered OpenAI chat completion into
// the Anthropic message shape.
func OpenAIToAnthropicResponse(ctx context.Context, model string, responseBody []byte) ([]byte, error) {
	root := gjson.ParseBytes(responseBody)
	if root.Get("error").Exists() {
		return responseBody, nil
	}

	choice := root.Get("choices.0")
	message := choice.Get("message")

	var blocks []map[string]interface{}
	if reasoning := message.Get("reasoning_content"); reasoning.Exists() && reasoning.String() != "" {
		blocks = append(blocks, map[string]interface{}{"type": "thinking", "thinking": reasoning.String()})
	}
	if text := message.Get("content"); text.Type == gjson.String && text.String() != "" {
		blocks = append(blocks, map[string]interface{}{"type": "text", "text": text.String()})
	}
	for _, call := range message.Get("tool_calls").Array() {
		fn := call.Get("function")
		blocks = append(blocks, map[string]interface{}{
			"type":  "tool_use",
			"id":    call.Get("id").String(),
			"name":  fn.Get("name").String(),
			"input": json.RawMessage(rawArguments(fn.Get("arguments"))),
		})
	}
	if blocks == nil {
		blocks = []map[string]interface{}{{"type": "text", "text": ""}}
	}

	usage := root.Get("usage")
	out := map[string]interface{}{
		"id":            newMessageID(),
		"type":          "message",
		"role":          "assistant",
		"model":         model,
		"content":       blocks,
		"stop_reason":   mapFinishToStopReason(choice.Get("finish_reason").String()),
		"stop_sequence": nil,
		"usage": map[string]interface{}{
			"input_tokens":  usage.Get("prompt_tokens").Int(),
			"output_tokens": usage.Get("completion_tokens").Int(),
		},
	}
	return json.Marshal(out)
}

// anthropicStreamState synthesizes the Anthropic block lifecycle from flat
// OpenAI deltas: blocks open lazily, close when the delta kind changes, and
// the message_delta/message_stop pair always terminates the stream.
type anthropicStreamState struct {
	w           sseWriter
	started     bool
	blockIndex  int
	openKind    string // "", "text", "thinking", "tool"
	toolByIndex map[int64]int
	stopReason  string
	outTokens   int64
	model       string
	messageID   string
}

func (st *anthropicStreamState) event(name string, payload map[string]interface{}) {
	payload["type"] = name
	data, _ := json.Marshal(payload)
	st.w.writeEvent(name, data)
}

func (st *anthropicStreamState) ensureStarted() {
	if st.started {
		return
	}
	st.started = true
	st.event("message_start", map[string]interface{}{
		"message": map[string]interface{}{
			"id":            st.messageID,
			"type":          "message",
			"role":          "assistant",
			"model":         st.model,
			"content":       []interface{}{},
			"stop_reason":   nil,
			"stop_sequence": nil,
			"usage":         map[string]interface{}{"input_tokens": 0, "output_tokens": 0},
		},
	})
}

func (st *anthropicStreamState) closeBlock() {
	if st.openKind == "" {
		return
	}
	st.event("content_block_stop", map[string]interface{}{"index": st.blockIndex})
	st.blockIndex++
	st.openKind = ""
}

func (st *anthropicStreamState) openBlock(kind string, block map[string]interface{}) {
	st.closeBlock()
	st.event("content_block_start", map[string]interface{}{
		"index":         st.blockIndex,
		"content_block": block,
	})
	st.openKind = kind
}

func (st *anthropicStreamState) finish() {
	st.ensureStarted()
	st.closeBlock()
	st.event("message_delta", map[string]interface{}{
		"delta": map[string]interface{}{
			"stop_reason":   st.stopReason,
			"stop_sequence": nil,
		},
		"usage": map[string]interface{}{"output_tokens": st.outTokens},
	})
	st.event("message_stop", map[string]interface{}{})
}

// OpenAIToAnthropicStream converts OpenAI chunk SSE into Anthropic
// event-named SSE terminated by message_stop.
func OpenAIToAnthropicStream(ctx context.Context, model string, reader io.Reader) (io.Reader, error) {
	pr, pw := io.Pipe()

	go func() {
		defer pw.Close()
		st := &anthropicStreamState{
			w:           sseWriter{pw},
			toolByIndex: make(map[int64]int),
			stopReason:  "end_turn",
			model:       model,
			messageID:   newMessageID(),
		}
		sc := newSSEEventScanner(reader)

		for {
			ev, ok := sc.next()
			if !ok {
				break
			}
			if ev.done() {
				st.finish()
				return
			}
			root := gjson.ParseBytes(ev.data)
			if errObj := root.Get("error"); errObj.Exists() {
				st.event("error", map[string]interface{}{
					"error": map[string]interface{}{
						"type":    "api_error",
						"message": errObj.Get("message").String(),
					},
				})
				st.event("message_stop", map[string]interface{}{})
				return
			}

			choice := root.Get("choices.0")
			delta := choice.Get("delta")
			st.ensureStarted()

			if reasoning := delta.Get("reasoning_content"); reasoning.Exists() && reasoning.String() != "" {
				if st.openKind != "thinking" {
					st.openBlock("thinking", map[string]interface{}{"type": "thinking", "thinking": ""})
				}
				st.event("content_block_delta", map[string]interface{}{
					"index": st.blockIndex,
					"delta": map[string]interface{}{"type": "thinking_delta", "thinking": reasoning.String()},
				})
			}
			if text := delta.Get("content"); text.Exists() && text.String() != "" {
				if st.openKind != "text" {
					st.openBlock("text", map[string]interface{}{"type": "text", "text": ""})
				}
				st.event("content_block_delta", map[string]interface{}{
					"index": st.blockIndex,
					"delta": map[string]interface{}{"type": "text_delta", "text": text.String()},
				})
			}
			for _, call := range delta.Get("tool_calls").Array() {
				oaIndex := call.Get("index").Int()
				if name := call.Get("function.name"); name.Exists() && name.String() != "" {
					id := call.Get("id").String()
					if id == "" {
						id = newCallID()
					}
					st.openBlock("tool", map[string]interface{}{
						"type":  "tool_use",
						"id":    id,
						"name":  name.String(),
						"input": map[string]interface{}{},
					})
					st.toolByIndex[oaIndex] = st.blockIndex
				}
				if args := call.Get("function.arguments"); args.Exists() && args.String() != "" {
					idx, mapped := st.toolByIndex[oaIndex]
					if !mapped {
						idx = st.blockIndex
					}
					st.event("content_block_delta", map[string]interface{}{
						"index": idx,
						"delta": map[string]interface{}{"type": "input_json_delta", "partial_json": args.String()},
					})
				}
			}

			if fr := choice.Get("finish_reason"); fr.Exists() && fr.String() != "" {
				st.stopReason = mapFinishToStopReason(fr.String())
			}
			if ot := root.Get("usage.completion_tokens"); ot.Exists() {
				st.outTokens = ot.Int()
			}
		}
		if err := sc.failed(); err != nil {
			// Same shape as an upstream-reported error: the client must
			// not see a success stop_reason for a truncated stream.
			st.event("error", map[string]interface{}{
				"error": map[string]interface{}{
					"type":    "upstream_error",
					"message": "upstream stream aborted: " + err.Error(),
				},
			})
			st.event("message_stop", map[string]interface{}{})
			return
		}
		st.finish()
	}()

	return pr, nil
}
