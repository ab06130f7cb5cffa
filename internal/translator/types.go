package translator

import (
	"context"
	"io"
)

// Format identifies an API dialect handled by the registry.
type Format string

const (
	// FormatOpenAIChat is the OpenAI chat-completions dialect. It doubles
	// as the hub format: pairs without a direct translator compose
	// through it.
	FormatOpenAIChat Format = "openaiChat"
	// FormatAnthropicMessages is the Anthropic messages dialect.
	FormatAnthropicMessages Format = "anthropicMessages"
	// FormatCodexResponses is the OpenAI responses dialect used by Codex
	// clients.
	FormatCodexResponses Format = "codexResponses"
)

// RequestTransform rewrites a request payload from one dialect to another.
// model is the upstream model identifier to stamp into the result; stream
// mirrors the client's streaming intent.
type RequestTransform func(model string, rawJSON []byte, stream bool) []byte

// ResponseTransform rewrites a buffered response payload between dialects.
type ResponseTransform func(ctx context.Context, model string, responseBody []byte) ([]byte, error)

// StreamTransform rewrites a live SSE byte stream between dialects. The
// returned reader yields complete SSE events in the target dialect.
type StreamTransform func(ctx context.Context, model string, reader io.Reader) (io.Reader, error)

// TranslatorConfig bundles the transforms registered for one direction.
type TranslatorConfig struct {
	RequestTransform  RequestTransform
	ResponseTransform ResponseTransform
	StreamTransform   StreamTransform
}

// String returns the string representation of a Format.
func (f Format) String() string {
	return string(f)
}

// FromString converts a dialect string to a Format. Unknown values fall
// back to the hub format.
func FromString(s string) Format {
	switch s {
	case string(FormatAnthropicMessages):
		return FormatAnthropicMessages
	case string(FormatCodexResponses):
		return FormatCodexResponses
	default:
		return FormatOpenAIChat
	}
}
