package common

import (
	"net/http"
	"strings"
	"testing"
)

func TestReadBodyRejectsEmpty(t *testing.T) {
	c, _ := newTestContext(t, http.MethodPost, "/v1/chat/completions", "   ")
	_, appErr := ReadBody(c)
	if appErr == nil {
		t.Fatal("expected validation error for blank body")
	}
	if appErr.HTTPStatus != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", appErr.HTTPStatus)
	}
}

func TestReadBodyPassesThrough(t *testing.T) {
	c, _ := newTestContext(t, http.MethodPost, "/v1/chat/completions", `{"model":"m1"}`)
	body, appErr := ReadBody(c)
	if appErr != nil {
		t.Fatalf("unexpected error: %v", appErr)
	}
	if string(body) != `{"model":"m1"}` {
		t.Fatalf("body = %s", body)
	}
}

func TestModelAndStream(t *testing.T) {
	model, stream := ModelAndStream([]byte(`{"model":"claude-3-5-sonnet","stream":true,"messages":[]}`))
	if model != "claude-3-5-sonnet" {
		t.Fatalf("model = %q", model)
	}
	if !stream {
		t.Fatal("stream flag lost")
	}

	model, stream = ModelAndStream([]byte(`{"messages":[]}`))
	if model != "" || stream {
		t.Fatalf("defaults wrong: model=%q stream=%v", model, stream)
	}
}

func TestEchoHeadersFiltersAuth(t *testing.T) {
	c, _ := newTestContext(t, http.MethodPost, "/v1/messages", "{}")
	c.Request.Header.Set("Anthropic-Version", "2023-06-01")
	c.Request.Header.Set("Anthropic-Beta", "prompt-caching-2024-07-31")
	c.Request.Header.Set("Authorization", "Bearer sk-secret")
	c.Request.Header.Set("X-Api-Key", "sk-secret")
	c.Request.Header.Set("X-Custom", "nope")

	h := EchoHeaders(c)
	if got := h.Get("Anthropic-Version"); got != "2023-06-01" {
		t.Fatalf("anthropic-version = %q", got)
	}
	if got := h.Get("Anthropic-Beta"); got != "prompt-caching-2024-07-31" {
		t.Fatalf("anthropic-beta = %q", got)
	}
	if h.Get("Authorization") != "" || h.Get("X-Api-Key") != "" {
		t.Fatal("auth headers must never be echoed")
	}
	if h.Get("X-Custom") != "" {
		t.Fatal("unknown headers must be dropped")
	}
}

func TestReadBodyCapsPayload(t *testing.T) {
	big := `{"pad":"` + strings.Repeat("y", 9*1024*1024) + `"}`
	c, _ := newTestContext(t, http.MethodPost, "/v1/chat/completions", big)
	_, appErr := ReadBody(c)
	if appErr == nil {
		t.Fatal("expected payload_too_large")
	}
	if appErr.HTTPStatus != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", appErr.HTTPStatus)
	}
	if appErr.Code != "payload_too_large" {
		t.Fatalf("code = %q", appErr.Code)
	}
}
