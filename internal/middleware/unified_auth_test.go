package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func authedRouter(cfg AuthConfig) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(UnifiedAuth(cfg))
	handler := func(c *gin.Context) { c.String(200, "OK") }
	router.POST("/v1/chat/completions", handler)
	router.POST("/v1/messages", handler)
	return router
}

func TestUnifiedAuthDisabledWithoutKey(t *testing.T) {
	router := authedRouter(AuthConfig{})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("POST", "/v1/chat/completions", nil))
	if w.Code != 200 {
		t.Errorf("expected open access with no key configured, got %d", w.Code)
	}
}

func TestUnifiedAuthAcceptsEverySource(t *testing.T) {
	router := authedRouter(AuthConfig{RequiredKey: "sk-good"})

	cases := []struct {
		name  string
		apply func(r *http.Request)
	}{
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer sk-good") }},
		{"raw authorization", func(r *http.Request) { r.Header.Set("Authorization", "sk-good") }},
		{"x-api-key", func(r *http.Request) { r.Header.Set("x-api-key", "sk-good") }},
	}
	for _, tc := range cases {
		req := httptest.NewRequest("POST", "/v1/chat/completions", nil)
		tc.apply(req)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != 200 {
			t.Errorf("%s: expected 200, got %d", tc.name, w.Code)
		}
	}

	// query parameter
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("POST", "/v1/chat/completions?key=sk-good", nil))
	if w.Code != 200 {
		t.Errorf("query key: expected 200, got %d", w.Code)
	}
}

func TestUnifiedAuthRejectsMissingAndWrongKey(t *testing.T) {
	router := authedRouter(AuthConfig{RequiredKey: "sk-good"})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("POST", "/v1/chat/completions", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("missing key: expected 401, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "authentication_error") {
		t.Errorf("expected openai auth envelope, got %s", w.Body.String())
	}

	req := httptest.NewRequest("POST", "/v1/chat/completions", nil)
	req.Header.Set("Authorization", "Bearer sk-wrong")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong key: expected 401, got %d", w.Code)
	}
}

func TestUnifiedAuthAnthropicEnvelopeOnMessages(t *testing.T) {
	router := authedRouter(AuthConfig{RequiredKey: "sk-good"})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("POST", "/v1/messages", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, `"type":"error"`) || !strings.Contains(body, "authentication_error") {
		t.Errorf("expected anthropic error envelope, got %s", body)
	}
}

func TestUnifiedAuthCustomValidator(t *testing.T) {
	router := authedRouter(AuthConfig{CustomValidator: func(key string) bool {
		return strings.HasPrefix(key, "sk-team-")
	}})

	req := httptest.NewRequest("POST", "/v1/chat/completions", nil)
	req.Header.Set("x-api-key", "sk-team-alpha")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != 200 {
		t.Errorf("validator accept: expected 200, got %d", w.Code)
	}

	req = httptest.NewRequest("POST", "/v1/chat/completions", nil)
	req.Header.Set("x-api-key", "sk-other")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("validator reject: expected 401, got %d", w.Code)
	}

	// 校验器可以放行匿名请求（热切换到无鉴权配置的场景）
	anon := authedRouter(AuthConfig{CustomValidator: func(key string) bool { return true }})
	req = httptest.NewRequest("POST", "/v1/chat/completions", nil)
	w = httptest.NewRecorder()
	anon.ServeHTTP(w, req)
	if w.Code != 200 {
		t.Errorf("validator anonymous allow: expected 200, got %d", w.Code)
	}
}

func TestUnifiedAuthStoresKeyInContext(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(UnifiedAuth(AuthConfig{RequiredKey: "sk-good"}))
	var got string
	router.POST("/v1/chat/completions", func(c *gin.Context) {
		if v, ok := c.Get("api_key"); ok {
			got, _ = v.(string)
		}
		c.String(200, "OK")
	})

	req := httptest.NewRequest("POST", "/v1/chat/completions", nil)
	req.Header.Set("Authorization", "Bearer sk-good")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if got != "sk-good" {
		t.Errorf("expected api_key in context, got %q", got)
	}
}
