package events

import (
	"context"
	"sync"
	"time"
)

// Lifecycle event payloads. The topic set is closed: subscribers register
// per category at startup, there are no dynamic topic names.

// ConfigApplied fires after a RuntimeConfig snapshot swap completes.
type ConfigApplied struct {
	Version       int64
	PipelineCount int
	Source        string // "startup", "fsnotify", "signal", "management"
}

// CredentialRefreshed fires after a successful OAuth refresh.
type CredentialRefreshed struct {
	CredentialID string
	ExpiresAt    time.Time
}

// CredentialBlocked fires when the health manager blocks a credential.
type CredentialBlocked struct {
	CredentialID string
	Key          string
	Reason       string
}

// CredentialUnblocked fires when a block is cleared.
type CredentialUnblocked struct {
	CredentialID string
	Key          string
}

// PipelineReplaced fires per pipeline when a snapshot swap rebuilds it.
type PipelineReplaced struct {
	PipelineID string
	Version    int64
}

type handlerSet[T any] struct {
	mu     sync.RWMutex
	subs   map[int64]func(context.Context, T)
	nextID int64
}

func (s *handlerSet[T]) subscribe(fn func(context.Context, T)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs == nil {
		s.subs = make(map[int64]func(context.Context, T))
	}
	s.nextID++
	id := s.nextID
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

func (s *handlerSet[T]) publish(ctx context.Context, ev T) {
	s.mu.RLock()
	handlers := make([]func(context.Context, T), 0, len(s.subs))
	for _, fn := range s.subs {
		handlers = append(handlers, fn)
	}
	s.mu.RUnlock()
	for _, fn := range handlers {
		fn(ctx, ev)
	}
}

// Hub is the in-process lifecycle event bus. One handler set per event
// category; dispatch is synchronous on the publisher's goroutine, so
// handlers must not block.
type Hub struct {
	configApplied       handlerSet[ConfigApplied]
	credentialRefreshed handlerSet[CredentialRefreshed]
	credentialBlocked   handlerSet[CredentialBlocked]
	credentialUnblocked handlerSet[CredentialUnblocked]
	pipelineReplaced    handlerSet[PipelineReplaced]
}

// NewHub constructs a new empty hub.
func NewHub() *Hub { return &Hub{} }

// Subscribe variants return an unsubscribe function.

func (h *Hub) OnConfigApplied(fn func(context.Context, ConfigApplied)) func() {
	return h.configApplied.subscribe(fn)
}

func (h *Hub) OnCredentialRefreshed(fn func(context.Context, CredentialRefreshed)) func() {
	return h.credentialRefreshed.subscribe(fn)
}

func (h *Hub) OnCredentialBlocked(fn func(context.Context, CredentialBlocked)) func() {
	return h.credentialBlocked.subscribe(fn)
}

func (h *Hub) OnCredentialUnblocked(fn func(context.Context, CredentialUnblocked)) func() {
	return h.credentialUnblocked.subscribe(fn)
}

func (h *Hub) OnPipelineReplaced(fn func(context.Context, PipelineReplaced)) func() {
	return h.pipelineReplaced.subscribe(fn)
}

// Publish variants. Nil hubs are tolerated so components can run without
// a bus in tests.

func (h *Hub) PublishConfigApplied(ctx context.Context, ev ConfigApplied) {
	if h == nil {
		return
	}
	h.configApplied.publish(ctx, ev)
}

func (h *Hub) PublishCredentialRefreshed(ctx context.Context, ev CredentialRefreshed) {
	if h == nil {
		return
	}
	h.credentialRefreshed.publish(ctx, ev)
}

func (h *Hub) PublishCredentialBlocked(ctx context.Context, ev CredentialBlocked) {
	if h == nil {
		return
	}
	h.credentialBlocked.publish(ctx, ev)
}

func (h *Hub) PublishCredentialUnblocked(ctx context.Context, ev CredentialUnblocked) {
	if h == nil {
		return
	}
	h.credentialUnblocked.publish(ctx, ev)
}

func (h *Hub) PublishPipelineReplaced(ctx context.Context, ev PipelineReplaced) {
	if h == nil {
		return
	}
	h.pipelineReplaced.publish(ctx, ev)
}
