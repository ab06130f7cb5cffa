package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/tidwall/gjson"
)

// fakeStreamChunkRunes is how much assistant text each synthesized delta
// carries.
const fakeStreamChunkRunes = 20

// fakeChunkStream re-emits a buffered hub-dialect response as a minimal
// valid chunk stream: a role delta, content deltas, tool-call deltas, a
// finish chunk carrying usage, then [DONE]. The result feeds the same
// stream translators as a real upstream stream, so non-hub clients get
// their native SSE shape for free.
func fakeChunkStream(ctx context.Context, model string, hubResponse []byte) io.Reader {
	pr, pw := io.Pipe()

	go func() {
		defer pw.Close()

		root := gjson.ParseBytes(hubResponse)
		id := root.Get("id").String()
		if id == "" {
			id = fmt.Sprintf("chatcmpl-%d", time.Now().UnixNano())
		}
		created := root.Get("created").Int()
		if created == 0 {
			created = time.Now().Unix()
		}

		emit := func(delta map[string]interface{}, finish interface{}, withUsage bool) bool {
			select {
			case <-ctx.Done():
				return false
			default:
			}
			chunk := map[string]interface{}{
				"id":      id,
				"object":  "chat.completion.chunk",
				"created": created,
				"model":   model,
				"choices": []map[string]interface{}{{
					"index":         0,
					"delta":         delta,
					"finish_reason": finish,
				}},
			}
			if withUsage {
				if u := root.Get("usage"); u.Exists() {
					chunk["usage"] = u.Value()
				}
			}
			data, err := json.Marshal(chunk)
			if err != nil {
				return false
			}
			if _, err := pw.Write([]byte("data: " + string(data) + "\n\n")); err != nil {
				return false
			}
			return true
		}

		choice := root.Get("choices.0")
		msg := choice.Get("message")

		if !emit(map[string]interface{}{"role": "assistant", "content": ""}, nil, false) {
			return
		}
		if reasoning := msg.Get("reasoning_content").String(); reasoning != "" {
			if !emit(map[string]interface{}{"reasoning_content": reasoning}, nil, false) {
				return
			}
		}
		for _, part := range splitRunes(msg.Get("content").String(), fakeStreamChunkRunes) {
			if !emit(map[string]interface{}{"content": part}, nil, false) {
				return
			}
		}
		for i, call := range msg.Get("tool_calls").Array() {
			delta := map[string]interface{}{
				"tool_calls": []map[string]interface{}{{
					"index": i,
					"id":    call.Get("id").String(),
					"type":  "function",
					"function": map[string]interface{}{
						"name":      call.Get("function.name").String(),
						"arguments": call.Get("function.arguments").String(),
					},
				}},
			}
			if !emit(delta, nil, false) {
				return
			}
		}

		finish := choice.Get("finish_reason").String()
		if finish == "" {
			finish = "stop"
		}
		if !emit(map[string]interface{}{}, finish, true) {
			return
		}
		_, _ = pw.Write([]byte("data: [DONE]\n\n"))
	}()

	return pr
}

func splitRunes(s string, size int) []string {
	if s == "" {
		return nil
	}
	runes := []rune(s)
	var parts []string
	for len(runes) > size {
		parts = append(parts, string(runes[:size]))
		runes = runes[size:]
	}
	return append(parts, string(runes))
}
