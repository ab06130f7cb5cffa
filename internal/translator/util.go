package translator

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

func newChatID() string {
	return "chatcmpl-" + shortID()
}

func newMessageID() string {
	return "msg_" + shortID()
}

func newResponseID() string {
	return "resp_" + shortID()
}

func newCallID() string {
	return "call_" + shortID()
}

func shortID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:24]
}

// rawArguments normalizes a tool-call arguments value into the exact JSON
// object bytes to carry across dialects. OpenAI transports arguments as a
// JSON-encoded string; Anthropic as a raw object. The bytes themselves
// must survive the crossing untouched.
func rawArguments(args gjson.Result) string {
	switch {
	case !args.Exists():
		return "{}"
	case args.Type == gjson.String:
		s := strings.TrimSpace(args.String())
		if s == "" {
			return "{}"
		}
		if gjson.Valid(s) {
			return s
		}
		return "{}"
	case args.IsObject() || args.IsArray():
		return args.Raw
	default:
		return "{}"
	}
}

// flattenText joins the text out of a content value that may be a plain
// string or an array of typed blocks carrying a field named key.
func flattenText(content gjson.Result, key string) string {
	if content.Type == gjson.String {
		return content.String()
	}
	if !content.IsArray() {
		return ""
	}
	var sb strings.Builder
	for _, block := range content.Array() {
		if txt := block.Get(key); txt.Exists() {
			sb.WriteString(txt.String())
		}
	}
	return sb.String()
}

// mapFinishToStopReason maps OpenAI finish_reason → Anthropic stop_reason.
func mapFinishToStopReason(finish string) string {
	switch finish {
	case "length":
		return "max_tokens"
	case "tool_calls":
		return "tool_use"
	case "stop", "content_filter", "":
		return "end_turn"
	default:
		return "end_turn"
	}
}

// mapStopReasonToFinish maps Anthropic stop_reason → OpenAI finish_reason.
func mapStopReasonToFinish(stop string) string {
	switch stop {
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	case "stop_sequence", "end_turn", "":
		return "stop"
	default:
		return "stop"
	}
}

// dataURL assembles a data: URI from Anthropic's base64 image source.
func dataURL(mediaType, data string) string {
	return fmt.Sprintf("data:%s;base64,%s", mediaType, data)
}

// splitDataURL breaks a data: URI into media type and payload; ok=false
// for plain http(s) URLs.
func splitDataURL(url string) (mediaType, data string, ok bool) {
	if !strings.HasPrefix(url, "data:") {
		return "", "", false
	}
	rest := strings.TrimPrefix(url, "data:")
	sep := strings.Index(rest, ";base64,")
	if sep < 0 {
		return "", "", false
	}
	return rest[:sep], rest[sep+len(";base64,"):], true
}
