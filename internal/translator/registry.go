package translator

import (
	"context"
	"fmt"
	"io"
	"sync"

	"routecodex-go/internal/monitoring"
)

// Registry manages translation functions between API dialects. Direct
// pairs win; a missing pair composes through the hub format so every
// dialect combination stays reachable with two-way adapters per dialect.
type Registry struct {
	mu        sync.RWMutex
	requests  map[Format]map[Format]RequestTransform
	responses map[Format]map[Format]ResponseTransform
	streams   map[Format]map[Format]StreamTransform
}

// NewRegistry constructs an empty translator registry.
func NewRegistry() *Registry {
	return &Registry{
		requests:  make(map[Format]map[Format]RequestTransform),
		responses: make(map[Format]map[Format]ResponseTransform),
		streams:   make(map[Format]map[Format]StreamTransform),
	}
}

var defaultRegistry = NewRegistry()

// Default returns the default global registry populated by the adapter
// files' init functions.
func Default() *Registry {
	return defaultRegistry
}

// Register stores the transforms for one direction.
func (r *Registry) Register(from, to Format, cfg TranslatorConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.requests[from]; !ok {
		r.requests[from] = make(map[Format]RequestTransform)
	}
	if cfg.RequestTransform != nil {
		r.requests[from][to] = cfg.RequestTransform
	}

	if _, ok := r.responses[from]; !ok {
		r.responses[from] = make(map[Format]ResponseTransform)
	}
	if cfg.ResponseTransform != nil {
		r.responses[from][to] = cfg.ResponseTransform
	}

	if _, ok := r.streams[from]; !ok {
		r.streams[from] = make(map[Format]StreamTransform)
	}
	if cfg.StreamTransform != nil {
		r.streams[from][to] = cfg.StreamTransform
	}
}

func (r *Registry) requestFn(from, to Format) RequestTransform {
	if byTarget, ok := r.requests[from]; ok {
		if fn := byTarget[to]; fn != nil {
			return fn
		}
	}
	return nil
}

func (r *Registry) responseFn(from, to Format) ResponseTransform {
	if byTarget, ok := r.responses[from]; ok {
		if fn := byTarget[to]; fn != nil {
			return fn
		}
	}
	return nil
}

func (r *Registry) streamFn(from, to Format) StreamTransform {
	if byTarget, ok := r.streams[from]; ok {
		if fn := byTarget[to]; fn != nil {
			return fn
		}
	}
	return nil
}

// TranslateRequest converts a request payload between dialects. Identical
// formats pass through untouched.
func (r *Registry) TranslateRequest(from, to Format, model string, rawJSON []byte, stream bool) []byte {
	if from == to {
		return rawJSON
	}
	monitoring.TranslationsTotal.WithLabelValues(string(from), string(to), "request").Inc()
	r.mu.RLock()
	defer r.mu.RUnlock()

	if fn := r.requestFn(from, to); fn != nil {
		return fn(model, rawJSON, stream)
	}
	// Hub composition: from -> openaiChat -> to.
	first := r.requestFn(from, FormatOpenAIChat)
	second := r.requestFn(FormatOpenAIChat, to)
	if first != nil && second != nil {
		return second(model, first(model, rawJSON, stream), stream)
	}
	return rawJSON
}

// TranslateResponse converts a buffered response payload between dialects.
func (r *Registry) TranslateResponse(ctx context.Context, from, to Format, model string, responseBody []byte) ([]byte, error) {
	if from == to {
		return responseBody, nil
	}
	monitoring.TranslationsTotal.WithLabelValues(string(from), string(to), "response").Inc()
	r.mu.RLock()
	defer r.mu.RUnlock()

	if fn := r.responseFn(from, to); fn != nil {
		return fn(ctx, model, responseBody)
	}
	first := r.responseFn(from, FormatOpenAIChat)
	second := r.responseFn(FormatOpenAIChat, to)
	if first != nil && second != nil {
		mid, err := first(ctx, model, responseBody)
		if err != nil {
			return nil, err
		}
		return second(ctx, model, mid)
	}
	return responseBody, nil
}

// TranslateStream converts a live SSE stream between dialects.
func (r *Registry) TranslateStream(ctx context.Context, from, to Format, model string, reader io.Reader) (io.Reader, error) {
	if from == to {
		return reader, nil
	}
	monitoring.TranslationsTotal.WithLabelValues(string(from), string(to), "stream").Inc()
	r.mu.RLock()
	defer r.mu.RUnlock()

	if fn := r.streamFn(from, to); fn != nil {
		return fn(ctx, model, reader)
	}
	first := r.streamFn(from, FormatOpenAIChat)
	second := r.streamFn(FormatOpenAIChat, to)
	if first != nil && second != nil {
		mid, err := first(ctx, model, reader)
		if err != nil {
			return nil, err
		}
		return second(ctx, model, mid)
	}
	return reader, nil
}

// Supports reports whether the registry can translate between the two
// formats, directly or through the hub.
func (r *Registry) Supports(from, to Format) bool {
	if from == to {
		return true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.requestFn(from, to) != nil {
		return true
	}
	return r.requestFn(from, FormatOpenAIChat) != nil && r.requestFn(FormatOpenAIChat, to) != nil
}

// Register is a convenience for the default registry.
func Register(from, to Format, cfg TranslatorConfig) {
	defaultRegistry.Register(from, to, cfg)
}

// TranslateRequest uses the default registry.
func TranslateRequest(from, to Format, model string, rawJSON []byte, stream bool) []byte {
	return defaultRegistry.TranslateRequest(from, to, model, rawJSON, stream)
}

// TranslateResponse uses the default registry.
func TranslateResponse(ctx context.Context, from, to Format, model string, responseBody []byte) ([]byte, error) {
	return defaultRegistry.TranslateResponse(ctx, from, to, model, responseBody)
}

// TranslateStream uses the default registry.
func TranslateStream(ctx context.Context, from, to Format, model string, reader io.Reader) (io.Reader, error) {
	return defaultRegistry.TranslateStream(ctx, from, to, model, reader)
}

// ErrNoTranslator is returned when no translator path exists.
type ErrNoTranslator struct {
	From Format
	To   Format
}

func (e *ErrNoTranslator) Error() string {
	return fmt.Sprintf("no translator found from %s to %s", e.From, e.To)
}
