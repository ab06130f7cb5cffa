package middleware

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestStatusClass(t *testing.T) {
	cases := map[int]string{
		200: "2xx",
		204: "2xx",
		301: "3xx",
		404: "4xx",
		503: "5xx",
		0:   "error",
	}
	for code, want := range cases {
		if got := statusClass(code); got != want {
			t.Errorf("statusClass(%d) = %q, want %q", code, got, want)
		}
	}
}

func TestMetricsMiddlewarePassthrough(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(Metrics("api"))
	router.GET("/v1/models", func(c *gin.Context) { c.String(200, "OK") })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/v1/models", nil))
	if w.Code != 200 {
		t.Errorf("expected 200 through metrics middleware, got %d", w.Code)
	}
}

func TestMetricsHandlerServesPrometheusText(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(Metrics("api"))
	router.GET("/v1/models", func(c *gin.Context) { c.String(200, "OK") })
	router.GET("/metrics", MetricsHandler)

	// generate at least one sample so the routecodex series exist
	warm := httptest.NewRecorder()
	router.ServeHTTP(warm, httptest.NewRequest("GET", "/v1/models", nil))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))

	if w.Code != 200 {
		t.Fatalf("scrape status = %d", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{"routecodex_http_requests_total", "# HELP", "# TYPE"} {
		if !strings.Contains(body, want) {
			t.Errorf("scrape body missing %q", want)
		}
	}
}
