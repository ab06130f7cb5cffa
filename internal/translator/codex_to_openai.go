package translator

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/tidwall/gjson"
)

func init() {
	Register(FormatCodexResponses, FormatOpenAIChat, TranslatorConfig{
		RequestTransform:  CodexToOpenAIRequest,
		ResponseTransform: CodexToOpenAIResponse,
		StreamTransform:   CodexToOpenAIStream,
	})
}

// CodexToOpenAIRequest converts an OpenAI Responses request into the chat
// completions shape: instructions become the system message and the flat
// input item list folds back into role messages.
func CodexToOpenAIRequest(model string, rawJSON []byte, stream bool) []byte {
	root := gjson.ParseBytes(rawJSON)

	var messages []map[string]interface{}
	if instructions := root.Get("instructions"); instructions.Exists() && instructions.String() != "" {
		messages = append(messages, map[string]interface{}{"role": "system", "content": instructions.String()})
	}

	input := root.Get("input")
	if input.Type == gjson.String {
		messages = append(messages, map[string]interface{}{"role": "user", "content": input.String()})
	} else {
		var pendingCalls []map[string]interface{}
		flushCalls := func() {
			if len(pendingCalls) == 0 {
				return
			}
			messages = append(messages, map[string]interface{}{
				"role":       "assistant",
				"tool_calls": pendingCalls,
			})
			pendingCalls = nil
		}

		for _, item := range input.Array() {
			kind := item.Get("type").String()
			if kind == "" && item.Get("role").Exists() {
				kind = "message"
			}
			switch kind {
			case "message":
				flushCalls()
				messages = append(messages, codexMessageToOpenAI(item))
			case "function_call":
				pendingCalls = append(pendingCalls, map[string]interface{}{
					"id":   item.Get("call_id").String(),
					"type": "function",
					"function": map[string]interface{}{
						"name":      item.Get("name").String(),
						"arguments": rawArguments(item.Get("arguments")),
					},
				})
			case "function_call_output":
				flushCalls()
				messages = append(messages, map[string]interface{}{
					"role":         "tool",
					"tool_call_id": item.Get("call_id").String(),
					"content":      flattenText(item.Get("output"), "text"),
				})
			}
		}
		flushCalls()
	}

	out := map[string]interface{}{
		"model":    model,
		"messages": messages,
	}
	if stream {
		out["stream"] = true
	}
	if v := root.Get("max_output_tokens"); v.Exists() {
		out["max_tokens"] = v.Int()
	}
	if v := root.Get("temperature"); v.Exists() {
		out["temperature"] = v.Float()
	}
	if v := root.Get("top_p"); v.Exists() {
		out["top_p"] = v.Float()
	}

	if tools := root.Get("tools"); tools.IsArray() {
		var converted []map[string]interface{}
		for _, tool := range tools.Array() {
			if tool.Get("type").String() != "function" {
				continue
			}
			fn := map[string]interface{}{"name": tool.Get("name").String()}
			if desc := tool.Get("description"); desc.Exists() {
				fn["description"] = desc.String()
			}
			if params := tool.Get("parameters"); params.Exists() {
				fn["parameters"] = json.RawMessage(params.Raw)
			}
			converted = append(converted, map[string]interface{}{"type": "function", "function": fn})
		}
		if len(converted) > 0 {
			out["tools"] = converted
		}
	}
	if choice := root.Get("tool_choice"); choice.Exists() {
		if choice.Type == gjson.String {
			out["tool_choice"] = choice.String()
		} else if choice.Get("type").String() == "function" {
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

func codexMessageToOpenAI(item gjson.Result) map[string]interface{} {
	role := item.Get("role").String()
	if role == "" {
		role = "user"
	}
	content := item.Get("content")
	if content.Type == gjson.String {
		return map[string]interface{}{"role": role, "content": content.String()}
	}

	var parts []map[string]interface{}
	textOnly := true
	for _, part := range content.Array() {
		switch part.Get("type").String() {
		case "input_text", "output_text", "text":
			parts = append(parts, map[string]interface{}{"type": "text", "text": part.Get("text").String()})
		case "input_image":
			url := part.Get("image_url").String()
			if url == "" {
				url = part.Get("image_url.url").String()
			}
			parts = append(parts, map[string]interface{}{
				"type":      "image_url",
				"image_url": map[string]interface{}{"url": url},
			})
			textOnly = false
		}
	}
	if textOnly {
		var text string
		for _, p := range parts {
			text += p["text"].(string)
		}
		return map[string]interface{}{"role": role, "content": text}
	}
	return map[string]interface{}{"role": role, "content": parts}
}

// CodexToOpenAIResponse converts a buffered Responses payload into a chat
// completion.
func CodexToOpenAIResponse(ctx context.Context, model string, responseBody []byte) ([]byte, error) {
	root := gjson.ParseBytes(responseBody)
	if root.Get("error").Exists() && root.Get("error.message").Exists() {
		return responseBody, nil
	}

	message := map[string]interface{}{"role": "assistant"}
	var text string
	var toolCalls []map[string]interface{}
	for _, item := range root.Get("output").Array() {
		switch item.Get("type").String() {
		case "message":
			for _, part := range item.Get("content").Array() {
				if part.Get("type").String() == "output_text" {
					text += part.Get("text").String()
				}
			}
		case "function_call":
			toolCalls = append(toolCalls, map[string]interface{}{
				"id":   item.Get("call_id").String(),
				"type": "function",
				"function": map[string]interface{}{
					"name":      item.Get("name").String(),
					"arguments": rawArguments(item.Get("arguments")),
				},
			})
		case "reasoning":
			for _, part := range item.Get("summary").Array() {
				message["reasoning_content"] = part.Get("text").String()
			}
		}
	}
	message["content"] = text
	if len(toolCalls) > 0 {
		message["tool_calls"] = toolCalls
	}

	finish := "stop"
	if len(toolCalls) > 0 {
		finish = "tool_calls"
	} else if root.Get("status").String() == "incomplete" {
		finish = "length"
	}

	usage := root.Get("usage")
	prompt := usage.Get("input_tokens").Int()
	completion := usage.Get("output_tokens").Int()
	total := usage.Get("total_tokens").Int()
	if total == 0 {
		total = prompt + completion
	}

	out := map[string]interface{}{
		"id":      newChatID(),
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   model,
		"choices": []map[string]interface{}{{
			"index":         0,
			"message":       message,
			"finish_reason": finish,
		}},
		"usage": map[string]interface{}{
			"prompt_tokens":     prompt,
			"completion_tokens": completion,
			"total_tokens":      total,
		},
	}
	return json.Marshal(out)
}

// CodexToOpenAIStream converts Responses SSE into chat chunk SSE terminated
// by [DONE].
func CodexToOpenAIStream(ctx context.Context, model string, reader io.Reader) (io.Reader, error) {
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

		toolIndexByItem := make(map[string]int)
		nextToolIndex := 0

		for {
			ev, ok := sc.next()
			if !ok {
				break
			}
			if ev.done() {
				w.writeDone()
				return
			}
			root := gjson.ParseBytes(ev.data)
			kind := root.Get("type").String()
			if kind == "" {
				kind = ev.name
			}

			switch kind {
			case "response.created":
				w.writeData(chunk(map[string]interface{}{"role": "assistant", "content": ""}, nil))
			case "response.output_item.added":
				item := root.Get("item")
				if item.Get("type").String() != "function_call" {
					continue
				}
				idx := nextToolIndex
				nextToolIndex++
				toolIndexByItem[item.Get("id").String()] = idx
				w.writeData(chunk(map[string]interface{}{
					"tool_calls": []map[string]interface{}{{
						"index": idx,
						"id":    item.Get("call_id").String(),
						"type":  "function",
						"function": map[string]interface{}{
							"name":      item.Get("name").String(),
							"arguments": "",
						},
					}},
				}, nil))
			case "response.output_text.delta":
				if text := root.Get("delta").String(); text != "" {
					w.writeData(chunk(map[string]interface{}{"content": text}, nil))
				}
			case "response.reasoning_summary_text.delta":
				if text := root.Get("delta").String(); text != "" {
					w.writeData(chunk(map[string]interface{}{"reasoning_content": text}, nil))
				}
			case "response.function_call_arguments.delta":
				idx, mapped := toolIndexByItem[root.Get("item_id").String()]
				if !mapped {
					continue
				}
				w.writeData(chunk(map[string]interface{}{
					"tool_calls": []map[string]interface{}{{
						"index":    idx,
						"function": map[string]interface{}{"arguments": root.Get("delta").String()},
					}},
				}, nil))
			case "response.completed":
				finish := "stop"
				if nextToolIndex > 0 {
					finish = "tool_calls"
				} else if root.Get("response.status").String() == "incomplete" {
					finish = "length"
				}
				w.writeData(chunk(map[string]interface{}{}, finish))
				if usage := root.Get("response.usage"); usage.Exists() {
					data, _ := json.Marshal(map[string]interface{}{
						"id":      chatID,
						"object":  "chat.completion.chunk",
						"created": created,
						"model":   model,
						"choices": []map[string]interface{}{},
						"usage": map[string]interface{}{
							"prompt_tokens":     usage.Get("input_tokens").Int(),
							"completion_tokens": usage.Get("output_tokens").Int(),
							"total_tokens":      usage.Get("total_tokens").Int(),
						},
					})
					w.writeData(data)
				}
				w.writeDone()
				return
			case "response.failed", "error":
				msg := root.Get("response.error.message").String()
				if msg == "" {
					msg = root.Get("error.message").String()
				}
				if msg == "" {
					msg = root.Get("message").String()
				}
				data, _ := json.Marshal(map[string]interface{}{
					"error": map[string]interface{}{"message": msg, "type": "upstream_error"},
				})
				w.writeData(data)
				w.writeDone()
				return
			}
		}
		if err := sc.failed(); err != nil {
			w.writeData(abortChunk(err))
			w.writeDone()
			return
		}
		w.writeData(chunk(map[string]interface{}{}, "stop"))
		w.writeDone()
	}()

	return pr, nil
}
