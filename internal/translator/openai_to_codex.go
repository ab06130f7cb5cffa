package translator

import (
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/tidwall/gjson"
)

func init() {
	Register(FormatOpenAIChat, FormatCodexResponses, TranslatorConfig{
		RequestTransform:  OpenAIToCodexRequest,
		ResponseTransform: OpenAIToCodexResponse,
		StreamTransform:   OpenAIToCodexStream,
	})
}

// OpenAIToCodexRequest converts a chat-completions request into the OpenAI
// Responses shape: system messages become instructions and the conversation
// flattens into the input item list.
func OpenAIToCodexRequest(model string, rawJSON []byte, stream bool) []byte {
	root := gjson.ParseBytes(rawJSON)

	var instructions string
	var input []map[string]interface{}

	for _, msg := range root.Get("messages").Array() {
		role := msg.Get("role").String()
		content := msg.Get("content")

		switch role {
		case "system", "developer":
			if text := flattenText(content, "text"); text != "" {
				if instructions != "" {
					instructions += "\n\n"
				}
				instructions += text
			}
		case "user":
			input = append(input, map[string]interface{}{
				"type":    "message",
				"role":    "user",
				"content": openAIContentToCodexParts(content, "input_text"),
			})
		case "assistant":
			if text := flattenText(content, "text"); text != "" {
				input = append(input, map[string]interface{}{
					"type":    "message",
					"role":    "assistant",
					"content": []map[string]interface{}{{"type": "output_text", "text": text}},
				})
			}
			for _, call := range msg.Get("tool_calls").Array() {
				fn := call.Get("function")
				input = append(input, map[string]interface{}{
					"type":      "function_call",
					"call_id":   call.Get("id").String(),
					"name":      fn.Get("name").String(),
					"arguments": rawArguments(fn.Get("arguments")),
				})
			}
		case "tool":
			input = append(input, map[string]interface{}{
				"type":    "function_call_output",
				"call_id": msg.Get("tool_call_id").String(),
				"output":  flattenText(content, "text"),
			})
		}
	}

	out := map[string]interface{}{
		"model": model,
		"input": input,
		"store": false,
	}
	if stream {
		out["stream"] = true
	}
	if instructions != "" {
		out["instructions"] = instructions
	}
	if v := root.Get("max_tokens"); v.Exists() {
		out["max_output_tokens"] = v.Int()
	} else if v := root.Get("max_completion_tokens"); v.Exists() {
		out["max_output_tokens"] = v.Int()
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
			fn := tool.Get("function")
			entry := map[string]interface{}{
				"type": "function",
				"name": fn.Get("name").String(),
			}
			if desc := fn.Get("description"); desc.Exists() {
				entry["description"] = desc.String()
			}
			if params := fn.Get("parameters"); params.Exists() {
				entry["parameters"] = json.RawMessage(params.Raw)
			}
			converted = append(converted, entry)
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
				"type": "function",
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

func openAIContentToCodexParts(content gjson.Result, textType string) []map[string]interface{} {
	if content.Type == gjson.String {
		return []map[string]interface{}{{"type": textType, "text": content.String()}}
	}
	var parts []map[string]interface{}
	for _, part := range content.Array() {
		switch part.Get("type").String() {
		case "text":
			parts = append(parts, map[string]interface{}{"type": textType, "text": part.Get("text").String()})
		case "image_url":
			parts = append(parts, map[string]interface{}{
				"type":      "input_image",
				"image_url": part.Get("image_url.url").String(),
			})
		}
	}
	if parts == nil {
		parts = []map[string]interface{}{{"type": textType, "text": ""}}
	}
	return parts
}

// OpenAIToCodexResponse converts a buffered chat completion into the
// Responses payload shape.
func OpenAIToCodexResponse(ctx context.Context, model string, responseBody []byte) ([]byte, error) {
	root := gjson.ParseBytes(responseBody)
	if root.Get("error").Exists() {
		return responseBody, nil
	}

	choice := root.Get("choices.0")
	message := choice.Get("message")

	var output []map[string]interface{}
	if text := message.Get("content"); text.Type == gjson.String && text.String() != "" {
		output = append(output, map[string]interface{}{
			"id":      newMessageID(),
			"type":    "message",
			"status":  "completed",
			"role":    "assistant",
			"content": []map[string]interface{}{{"type": "output_text", "text": text.String()}},
		})
	}
	for _, call := range message.Get("tool_calls").Array() {
		fn := call.Get("function")
		output = append(output, map[string]interface{}{
			"id":        "fc_" + shortID(),
			"type":      "function_call",
			"status":    "completed",
			"call_id":   call.Get("id").String(),
			"name":      fn.Get("name").String(),
			"arguments": rawArguments(fn.Get("arguments")),
		})
	}

	status := "completed"
	if choice.Get("finish_reason").String() == "length" {
		status = "incomplete"
	}

	usage := root.Get("usage")
	prompt := usage.Get("prompt_tokens").Int()
	completion := usage.Get("completion_tokens").Int()
	total := usage.Get("total_tokens").Int()
	if total == 0 {
		total = prompt + completion
	}

	out := map[string]interface{}{
		"id":     newResponseID(),
		"object": "response",
		"status": status,
		"model":  model,
		"output": output,
		"usage": map[string]interface{}{
			"input_tokens":  prompt,
			"output_tokens": completion,
			"total_tokens":  total,
		},
	}
	return json.Marshal(out)
}

type codexToolItem struct {
	itemID      string
	callID      string
	name        string
	outputIndex int
	args        strings.Builder
}

// codexStreamState synthesizes the Responses item lifecycle from flat chat
// deltas. Exactly one item is open at a time and response.completed carries
// the accumulated output array.
type codexStreamState struct {
	w           sseWriter
	started     bool
	responseID  string
	model       string
	outputIndex int
	openKind    string // "", "message", "tool"
	msgItemID   string
	msgText     strings.Builder
	openTool    *codexToolItem
	toolByIndex map[int64]*codexToolItem
	outputs     []map[string]interface{}
	usage       map[string]interface{}
	finish      string
	finished    bool
}

func (st *codexStreamState) event(name string, payload map[string]interface{}) {
	payload["type"] = name
	data, _ := json.Marshal(payload)
	st.w.writeEvent(name, data)
}

func (st *codexStreamState) ensureStarted() {
	if st.started {
		return
	}
	st.started = true
	st.event("response.created", map[string]interface{}{
		"response": map[string]interface{}{
			"id":     st.responseID,
			"object": "response",
			"status": "in_progress",
			"model":  st.model,
			"output": []interface{}{},
		},
	})
}

func (st *codexStreamState) openMessage() {
	st.closeItem()
	st.openKind = "message"
	st.msgItemID = newMessageID()
	st.msgText.Reset()
	st.event("response.output_item.added", map[string]interface{}{
		"output_index": st.outputIndex,
		"item": map[string]interface{}{
			"id":      st.msgItemID,
			"type":    "message",
			"status":  "in_progress",
			"role":    "assistant",
			"content": []interface{}{},
		},
	})
	st.event("response.content_part.added", map[string]interface{}{
		"item_id":       st.msgItemID,
		"output_index":  st.outputIndex,
		"content_index": 0,
		"part":          map[string]interface{}{"type": "output_text", "text": ""},
	})
}

func (st *codexStreamState) openToolItem(oaIndex int64, callID, name string) {
	st.closeItem()
	st.openKind = "tool"
	tool := &codexToolItem{
		itemID:      "fc_" + shortID(),
		callID:      callID,
		name:        name,
		outputIndex: st.outputIndex,
	}
	st.openTool = tool
	st.toolByIndex[oaIndex] = tool
	st.event("response.output_item.added", map[string]interface{}{
		"output_index": st.outputIndex,
		"item": map[string]interface{}{
			"id":        tool.itemID,
			"type":      "function_call",
			"status":    "in_progress",
			"call_id":   tool.callID,
			"name":      tool.name,
			"arguments": "",
		},
	})
}

func (st *codexStreamState) closeItem() {
	switch st.openKind {
	case "message":
		text := st.msgText.String()
		st.event("response.output_text.done", map[string]interface{}{
			"item_id":       st.msgItemID,
			"output_index":  st.outputIndex,
			"content_index": 0,
			"text":          text,
		})
		item := map[string]interface{}{
			"id":      st.msgItemID,
			"type":    "message",
			"status":  "completed",
			"role":    "assistant",
			"content": []map[string]interface{}{{"type": "output_text", "text": text}},
		}
		st.event("response.output_item.done", map[string]interface{}{
			"output_index": st.outputIndex,
			"item":         item,
		})
		st.outputs = append(st.outputs, item)
		st.outputIndex++
	case "tool":
		tool := st.openTool
		st.event("response.function_call_arguments.done", map[string]interface{}{
			"item_id":      tool.itemID,
			"output_index": tool.outputIndex,
			"arguments":    tool.args.String(),
		})
		item := map[string]interface{}{
			"id":        tool.itemID,
			"type":      "function_call",
			"status":    "completed",
			"call_id":   tool.callID,
			"name":      tool.name,
			"arguments": tool.args.String(),
		}
		st.event("response.output_item.done", map[string]interface{}{
			"output_index": tool.outputIndex,
			"item":         item,
		})
		st.outputs = append(st.outputs, item)
		st.outputIndex++
		st.openTool = nil
	}
	st.openKind = ""
}

func (st *codexStreamState) complete() {
	if st.finished {
		return
	}
	st.finished = true
	st.ensureStarted()
	st.closeItem()
	status := "completed"
	if st.finish == "length" {
		status = "incomplete"
	}
	response := map[string]interface{}{
		"id":     st.responseID,
		"object": "response",
		"status": status,
		"model":  st.model,
		"output": st.outputs,
	}
	if st.usage != nil {
		response["usage"] = st.usage
	}
	st.event("response.completed", map[string]interface{}{"response": response})
}

// OpenAIToCodexStream converts chat chunk SSE into Responses event-named SSE
// terminated by response.completed.
func OpenAIToCodexStream(ctx context.Context, model string, reader io.Reader) (io.Reader, error) {
	pr, pw := io.Pipe()

	go func() {
		defer pw.Close()
		st := &codexStreamState{
			w:           sseWriter{pw},
			responseID:  newResponseID(),
			model:       model,
			toolByIndex: make(map[int64]*codexToolItem),
			finish:      "stop",
		}
		sc := newSSEEventScanner(reader)

		for {
			ev, ok := sc.next()
			if !ok {
				break
			}
			if ev.done() {
				st.complete()
				return
			}
			root := gjson.ParseBytes(ev.data)
			if errObj := root.Get("error"); errObj.Exists() {
				st.ensureStarted()
				st.event("response.failed", map[string]interface{}{
					"response": map[string]interface{}{
						"id":     st.responseID,
						"object": "response",
						"status": "failed",
						"error": map[string]interface{}{
							"message": errObj.Get("message").String(),
						},
					},
				})
				st.finished = true
				return
			}

			choice := root.Get("choices.0")
			delta := choice.Get("delta")
			st.ensureStarted()

			if text := delta.Get("content"); text.Exists() && text.String() != "" {
				if st.openKind != "message" {
					st.openMessage()
				}
				st.msgText.WriteString(text.String())
				st.event("response.output_text.delta", map[string]interface{}{
					"item_id":       st.msgItemID,
					"output_index":  st.outputIndex,
					"content_index": 0,
					"delta":         text.String(),
				})
			}
			for _, call := range delta.Get("tool_calls").Array() {
				oaIndex := call.Get("index").Int()
				if name := call.Get("function.name"); name.Exists() && name.String() != "" {
					callID := call.Get("id").String()
					if callID == "" {
						callID = newCallID()
					}
					st.openToolItem(oaIndex, callID, name.String())
				}
				if args := call.Get("function.arguments"); args.Exists() && args.String() != "" {
					tool, mapped := st.toolByIndex[oaIndex]
					if !mapped {
						continue
					}
					tool.args.WriteString(args.String())
					st.event("response.function_call_arguments.delta", map[string]interface{}{
						"item_id":      tool.itemID,
						"output_index": tool.outputIndex,
						"delta":        args.String(),
					})
				}
			}

			if fr := choice.Get("finish_reason"); fr.Exists() && fr.String() != "" {
				st.finish = fr.String()
			}
			if usage := root.Get("usage"); usage.Exists() && usage.Get("completion_tokens").Exists() {
				prompt := usage.Get("prompt_tokens").Int()
				completion := usage.Get("completion_tokens").Int()
				total := usage.Get("total_tokens").Int()
				if total == 0 {
					total = prompt + completion
				}
				st.usage = map[string]interface{}{
					"input_tokens":  prompt,
					"output_tokens": completion,
					"total_tokens":  total,
				}
			}
		}
		if err := sc.failed(); err != nil {
			st.ensureStarted()
			st.event("response.failed", map[string]interface{}{
				"response": map[string]interface{}{
					"id":     st.responseID,
					"object": "response",
					"status": "failed",
					"error": map[string]interface{}{
						"message": "upstream stream aborted: " + err.Error(),
					},
				},
			})
			st.finished = true
			return
		}
		st.complete()
	}()

	return pr, nil
}
