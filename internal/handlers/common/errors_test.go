package common

import (
	"net/http"
	"testing"

	"github.com/tidwall/gjson"

	"routecodex-go/internal/apperrors"
)

func TestWriteAppErrorOpenAIEnvelope(t *testing.T) {
	c, w := newTestContext(t, http.MethodPost, "/v1/chat/completions", "{}")
	WriteAppError(c, apperrors.NewUpstreamError("bad gateway from provider"))

	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", w.Code)
	}
	body := w.Body.String()
	if !gjson.Get(body, "error.message").Exists() {
		t.Fatalf("not an openai envelope: %s", body)
	}
	if got := gjson.Get(body, "error.message").String(); got != "bad gateway from provider" {
		t.Fatalf("message = %q", got)
	}
}

func TestWriteAppErrorAnthropicEnvelope(t *testing.T) {
	c, w := newTestContext(t, http.MethodPost, "/v1/messages", "{}")
	WriteAppError(c, apperrors.NewRateLimitError("slow down"))

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", w.Code)
	}
	body := w.Body.String()
	if gjson.Get(body, "type").String() != "error" {
		t.Fatalf("not an anthropic envelope: %s", body)
	}
	if gjson.Get(body, "error.type").String() == "" {
		t.Fatalf("anthropic error.type missing: %s", body)
	}
}

func TestWriteErrorCoercesPlainErrors(t *testing.T) {
	c, w := newTestContext(t, http.MethodPost, "/v1/chat/completions", "{}")
	WriteError(c, errBoom)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
	if !gjson.Get(w.Body.String(), "error.message").Exists() {
		t.Fatalf("envelope missing: %s", w.Body.String())
	}
}
