package translator

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/tidwall/gjson"
)

func init() {
	Register(FormatAnthropicMessages, FormatOpenAIChat, TranslatorConfig{
		RequestTransform:  AnthropicToOpenAIRequest,
		ResponseTransform: AnthropicToOpenAIResponse,
		StreamTransform:   AnthropicToOpenAIStream,
	})
}

// AnthropicToOpenAIRequest converts an Anthropic messages request into the
// OpenAI chat-completions shape. Tool identifiers and argument bytes cross
// unchanged so tool-call round trips stay exact.
func AnthropicToOpenAIRequest(model string, rawJSON []byte, stream bool) []byte {
	root := gjson.ParseBytes(rawJSON)

	var messages []map[string]interface{}
	if system := root.Get("system"); system.Exists() {
		if text := flattenText(system, "text"); text != "" {
			messages = append(messages, map[string]interface{}{"role": "system", "content": text})
		}
	}

	for _, msg := range root.Get("messages").Array() {
		role := msg.Get("role").String()
		content := msg.Get("content")

		if content.Type == gjson.String {
			messages = append(messages, map[string]interface{}{"role": role, "content": content.String()})
			continue
		}

		switch role {
		case "user":
			messages = append(messages, userBlocksToOpenAI(content)...)
		case "assistant":
			messages = append(messages, assistantBlocksToOpenAI(content))
		default:
			if text := flattenText(content, "text"); text != "" {
				messages = append(messages, map[string]interface{}{"role": role, "content": text})
			}
		}
	}

	out := map[string]interface{}{
		"model":    model,
		"messages": messages,
	}
	if stream {
		out["stream"] = true
	}
	if v := root.Get("max_tokens"); v.Exists() {
		out["max_tokens"] = v.Int()
	}
	if v := root.Get("temperature"); v.Exists() {
		out["temperature"] = v.Float()
	}
	if v := root.Get("top_p"); v.Exists() {
		out["top_p"] = v.Float()
	}
	if v := root.Get("stop_sequences"); v.IsArray() {
		out["stop"] = json.RawMessage(v.Raw)
	}
	if v := root.Get("metadata.user_id"); v.Exists() {
		out["user"] = v.String()
	}

	if tools := root.Get("tools"); tools.IsArray() {
		var converted []map[string]interface{}
		for _, tool := range tools.Array() {
			fn := map[string]interface{}{"name": tool.Get("name").String()}
			if desc := tool.Get("description"); desc.Exists() {
				fn["description"] = desc.String()
			}
			if schema := tool.Get("input_schema"); schema.Exists() {
				fn["parameters"] = json.RawMessage(schema.Raw)
			}
			converted = append(converted, map[string]interface{}{"type": "function", "function": fn})
		}
		out["tools"] = converted
	}
	if choice := root.Get("tool_choice"); choice.Exists() {
		switch choice.Get("type").String() {
		case "auto":
			out["tool_choice"] = "auto"
		case "any":
			out["tool_choice"] = "required"
		case "none":
			out["tool_choice"] = "none"
		case "tool":
			out["tool_choice"] = map[string]interface{}{
				"type":     "function",
				"function": map[string]interface{}{"name": choice.Get("name").String()},
			}
		}
	}

	data, err := json.Marshal(out)
	if err != nil {
		return rawJSON
	}
	return data
}

// userBlocksToOpenAI expands an Anthropic user content array. tool_result
// blocks become standalone OpenAI tool messages; the remaining blocks stay
// one user message, in source order.
func userBlocksToOpenAI(content gjson.Result) []map[string]interface{} {
	var out []map[string]interface{}
	var parts []map[string]interface{}
	textOnly := true

	flush := func() {
		if len(parts) == 0 {
			return
		}
		if textOnly && len(parts) == 1 {
			out = append(out, map[string]interface{}{"role": "user", "content": parts[0]["text"]})
		} else {
			out = append(out, map[string]interface{}{"role": "user", "content": parts})
		}
		parts = nil
		textOnly = true
	}

	for _, block := range content.Array() {
		switch block.Get("type").String() {
		case "text":
			parts = append(parts, map[string]interface{}{"type": "text", "text": block.Get("text").String()})
		case "image":
			src := block.Get("source")
			url := src.Get("url").String()
			if src.Get("type").String() == "base64" {
				url = dataURL(src.Get("media_type").String(), src.Get("data").String())
			}
			parts = append(parts, map[string]interface{}{
				"type":      "image_url",
				"image_url": map[string]interface{}{"url": url},
			})
			textOnly = false
		case "tool_result":
			flush()
			msg := map[string]interface{}{
				"role":         "tool",
				"tool_call_id": block.Get("tool_use_id").String(),
				"content":      flattenText(block.Get("content"), "text"),
			}
			out = append(out, msg)
		}
	}
	flush()
	return out
}

// assistantBlocksToOpenAI collapses an Anthropic assistant turn into one
// OpenAI assistant message.
func assistantBlocksToOpenAI(content gjson.Result) map[string]interface{} {
	msg := map[string]interface{}{"role": "assistant"}
	var text string
	var reasoning string
	var toolCalls []map[string]interface{}

	for _, block := range content.Array() {
		switch block.Get("type").String() {
		case "text":
			text += block.Get("text").String()
		case "thinking":
			reasoning += block.Get("thinking").String()
		case "tool_use":
			toolCalls = append(toolCalls, map[string]interface{}{
				"id":   block.Get("id").String(),
				"type": "function",
				"function": map[string]interface{}{
					"name":      block.Get("name").String(),
					"arguments": rawArguments(block.Get("input")),
				},
			})
		}
	}

	if text != "" || len(toolCalls) == 0 {
		msg["content"] = text
	}
	if reasoning != "" {
		msg["reasoning_content"] = reasoning
	}
	if len(toolCalls) > 0 {
		msg["tool_calls"] = toolCalls
	}
	return msg
}

// AnthropicToOpenAIResponse converts a buffered Anthropic response into
// the OpenAI chat-completion shape.
func AnthropicToOpenAIResponse(ctx context.Context, model string, responseBody []byte) ([]byte, error) {
	root := gjson.ParseBytes(responseBody)
	if root.Get("error").Exists() {
		return responseBody, nil // error envelopes pass through
	}

	message := map[string]interface{}{"role": "assistant"}
	var text string
	var reasoning string
	var toolCalls []map[string]interface{}
	for _, block := range root.Get("content").Array() {
		switch block.Get("type").String() {
		case "text":
			text += block.Get("text").String()
		case "thinking":
			reasoning += block.Get("thinking").String()
		case "tool_use":
			toolCalls = append(toolCalls, map[string]interface{}{
				"id":   block.Get("id").String(),
				"type": "function",
				"function": map[string]interface{}{
					"name":      block.Get("name").String(),
					"arguments": rawArguments(block.Get("input")),
				},
			})
		}
	}
	message["content"] = text
	if reasoning != "" {
		message["reasoning_content"] = reasoning
	}
	if len(toolCalls) > 0 {
		message["tool_calls"] = toolCalls
	}

	usage := root.Get("usage")
	prompt := usage.Get("input_tokens").Int()
	completion := usage.Get("output_tokens").Int()

	out := map[string]interface{}{
		"id":      newChatID(),
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   model,
		"choices": []map[string]interface{}{{
			"index":         0,
			"message":       message,
			"finish_reason": mapStopReasonToFinish(root.Get("stop_reason").String()),
		}},
		"usage": map[string]interface{}{
			"prompt_tokens":     prompt,
			"completion_tokens": completion,
			"total_tokens":      prompt + completion,
		},
	}
	return json.Marshal(out)
}

// AnthropicToOpenAIStream converts Anthropic event-named SSE into OpenAI
// chunk SSE terminated by [DONE].
func AnthropicToOpenAIStream(ctx context.Context, model string, reader io.Reader) (io.Reader, error) {
	pr, pw := io.Pipe()

	go func() {
		defer pw.Close()
		w := sseWriter{pw}
		sc := newSSEEventScanner(reader)

		chatID := newChatID()
		created := time.Now().Unix()
		chunk := func(delta map[string]interface{}, finish interface{}) []byte {
			data, _ := json.Marshal(map[string]interface{}{
				"id":      chatID,
				"object":  "chat.completion.chunk",
				"created": created,
				"model":   model,
				"choices": []map[string]interface{}{{
					"index":         0,
					"delta":         delta,
					"finish_reason": finish,
				}},
			})
			return data
		}

		toolIndexByBlock := make(map[int64]int)
		nextToolIndex := 0
		finish := "stop"
		var outputTokens int64

		for {
			ev, ok := sc.next()
			if !ok {
				break
			}
			root := gjson.ParseBytes(ev.data)
			kind := root.Get("type").String()
			if kind == "" {
				kind = ev.name
			}

			switch kind {
			case "message_start":
				w.writeData(chunk(map[string]interface{}{"role": "assistant", "content": ""}, nil))
			case "content_block_start":
				block := root.Get("content_block")
				if block.Get("type").String() == "tool_use" {
					idx := nextToolIndex
					nextToolIndex++
					toolIndexByBlock[root.Get("index").Int()] = idx
					w.writeData(chunk(map[string]interface{}{
						"tool_calls": []map[string]interface{}{{
							"index": idx,
							"id":    block.Get("id").String(),
							"type":  "function",
							"function": map[string]interface{}{
								"name":      block.Get("name").String(),
								"arguments": "",
							},
						}},
					}, nil))
				}
			case "content_block_delta":
				delta := root.Get("delta")
				switch delta.Get("type").String() {
				case "text_delta":
					w.writeData(chunk(map[string]interface{}{"content": delta.Get("text").String()}, nil))
				case "thinking_delta":
					w.writeData(chunk(map[string]interface{}{"reasoning_content": delta.Get("thinking").String()}, nil))
				case "input_json_delta":
					idx, mapped := toolIndexByBlock[root.Get("index").Int()]
					if !mapped {
						continue
					}
					w.writeData(chunk(map[string]interface{}{
						"tool_calls": []map[string]interface{}{{
							"index":    idx,
							"function": map[string]interface{}{"arguments": delta.Get("partial_json").String()},
						}},
					}, nil))
				}
			case "message_delta":
				if sr := root.Get("delta.stop_reason"); sr.Exists() {
					finish = mapStopReasonToFinish(sr.String())
				}
				if ot := root.Get("usage.output_tokens"); ot.Exists() {
					outputTokens = ot.Int()
				}
			case "message_stop":
				w.writeData(chunk(map[string]interface{}{}, finish))
				if outputTokens > 0 {
					data, _ := json.Marshal(map[string]interface{}{
						"id":      chatID,
						"object":  "chat.completion.chunk",
						"created": created,
						"model":   model,
						"choices": []map[string]interface{}{},
						"usage": map[string]interface{}{
							"completion_tokens": outputTokens,
						},
					})
					w.writeData(data)
				}
				w.writeDone()
				return
			case "error":
				data, _ := json.Marshal(map[string]interface{}{
					"error": map[string]interface{}{
						"message": root.Get("error.message").String(),
						"type":    "upstream_error",
					},
				})
				w.writeData(data)
				w.writeDone()
				return
			}
		}
		if err := sc.failed(); err != nil {
			// Reader died mid-stream; do not disguise the truncation as
			// a normal completion.
			w.writeData(abortChunk(err))
			w.writeDone()
			return
		}
		// Upstream ended without message_stop; close the stream anyway.
		w.writeData(chunk(map[string]interface{}{}, finish))
		w.writeDone()
	}()

	return pr, nil
}
