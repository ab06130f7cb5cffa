package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"routecodex-go/internal/apperrors"
	"routecodex-go/internal/config"
	"routecodex-go/internal/constants"
	"routecodex-go/internal/credential"
	"routecodex-go/internal/monitoring"
	"routecodex-go/internal/monitoring/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// maxErrorBodyBytes caps how much of an upstream error body is read for
// classification before the connection is released.
const maxErrorBodyBytes = 32 * 1024

// Client is the stage-4 HTTP client bound to one upstream provider. It
// performs exactly one attempt per Execute call; failover is the router's
// decision, never the client's.
type Client struct {
	def config.ProviderDef
	cli *http.Client
}

// Request is one translated payload ready for the wire. Body is already in
// the provider's dialect; Credential is the read handle taken from the
// store immediately before the call.
type Request struct {
	Body       []byte
	Stream     bool
	Credential credential.Snapshot
	UAMode     string      // "", "codex", "claude", "passthrough"
	Headers    http.Header // per-request overrides (echoed client headers)
}

// Response is the upstream result. Exactly one of Body/Stream is set:
// Body for buffered calls, Stream for SSE. The caller owns Stream and must
// close it; closing also releases the per-call deadline.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Stream     io.ReadCloser
}

// New builds a client for one provider definition. The transport is sized
// for many concurrent streams against a single upstream host.
func New(def config.ProviderDef) *Client {
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   constants.DefaultDialTimeout,
			KeepAlive: constants.DefaultKeepAlive,
		}).DialContext,
		TLSHandshakeTimeout:   constants.DefaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: constants.DefaultResponseHeaderTimeout,
		ExpectContinueTimeout: constants.DefaultExpectContinueTimeout,
		MaxIdleConns:          constants.BaseMaxIdleConns,
		MaxIdleConnsPerHost:   constants.BaseMaxIdleConnsPerHost,
		IdleConnTimeout:       constants.BaseIdleConnTimeout,
		WriteBufferSize:       constants.DefaultWriteBufferSize,
		ReadBufferSize:        constants.DefaultReadBufferSize,
	}
	// Timeout stays 0 on the client; per-call deadlines come from the
	// request context so streams are not cut mid-flight.
	return &Client{def: def, cli: &http.Client{Transport: tr, Timeout: 0}}
}

// Def returns the provider definition the client is bound to.
func (c *Client) Def() config.ProviderDef { return c.def }

// endpointPath maps a provider dialect to its completion endpoint.
func endpointPath(d config.Dialect) string {
	switch d {
	case config.DialectAnthropicMessages:
		return "/v1/messages"
	case config.DialectCodexResponses:
		return "/v1/responses"
	default:
		return "/v1/chat/completions"
	}
}

// joinURL appends the dialect path unless the base already carries a
// version segment (e.g. baseURL ".../v1" keeps "/chat/completions").
func (c *Client) joinURL() string {
	base := strings.TrimRight(c.def.BaseURL, "/")
	path := endpointPath(c.def.Dialect)
	if strings.HasSuffix(base, "/v1") {
		path = strings.TrimPrefix(path, "/v1")
	}
	return base + path
}

// Execute performs one upstream call. On non-2xx or transport failure it
// returns a taxonomy error; the response body is drained and closed. On
// success with Stream=true the returned Stream must be closed by the
// caller.
func (c *Client) Execute(ctx context.Context, req Request) (*Response, error) {
	timeout := c.def.Timeout()
	if timeout <= 0 {
		if req.Stream {
			timeout = constants.UpstreamStreamTimeout
		} else {
			timeout = constants.UpstreamGenerateTimeout
		}
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)

	target := c.joinURL()
	spanCtx, span := tracing.StartSpan(callCtx, "provider", "Provider.Execute",
		trace.WithAttributes(
			attribute.String("http.method", http.MethodPost),
			attribute.String("http.url", target),
			attribute.String("provider.id", c.def.ID),
			attribute.String("provider.dialect", string(c.def.Dialect)),
			attribute.Bool("provider.stream", req.Stream),
		))

	hr, err := http.NewRequestWithContext(spanCtx, http.MethodPost, target, bytes.NewReader(req.Body))
	if err != nil {
		cancel()
		tracing.FailSpan(span, err)
		return nil, apperrors.NewInternalError(fmt.Sprintf("build upstream request: %v", err))
	}
	c.applyHeaders(hr, req)

	start := time.Now()
	resp, err := c.cli.Do(hr)
	elapsed := time.Since(start)
	monitoring.ProviderRequestDuration.WithLabelValues(c.def.ID).Observe(elapsed.Seconds())

	if err != nil {
		cancel()
		reason := classifyErr(err)
		monitoring.ProviderErrors.WithLabelValues(c.def.ID, reason).Inc()
		monitoring.ProviderRequestsTotal.WithLabelValues(c.def.ID, "error").Inc()
		tracing.FailSpan(span, err)
		return nil, apperrors.MapNetworkError(err)
	}

	monitoring.ProviderRequestsTotal.WithLabelValues(c.def.ID, statusClass(resp.StatusCode)).Inc()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		_ = resp.Body.Close()
		cancel()
		span.SetStatus(codes.Error, fmt.Sprintf("http_status=%d", resp.StatusCode))
		span.End()
		appErr := apperrors.MapUpstreamStatus(resp.StatusCode, body)
		if d, ok := parseRetryAfter(resp.Header.Get("Retry-After")); ok {
			appErr.WithDetails(map[string]interface{}{"retryAfterMs": d.Milliseconds()})
		}
		monitoring.ProviderErrors.WithLabelValues(c.def.ID, string(appErr.Category)).Inc()
		return nil, appErr
	}

	if req.Stream {
		span.SetStatus(codes.Ok, "")
		// Span ends when the stream is closed so its duration covers the
		// whole transfer.
		return &Response{
			StatusCode: resp.StatusCode,
			Header:     resp.Header,
			Stream:     &streamBody{rc: resp.Body, cancel: cancel, span: span},
		}, nil
	}

	body, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	cancel()
	if readErr != nil {
		monitoring.ProviderErrors.WithLabelValues(c.def.ID, classifyErr(readErr)).Inc()
		tracing.FailSpan(span, readErr)
		return nil, apperrors.MapNetworkError(readErr)
	}
	span.SetStatus(codes.Ok, "")
	span.End()
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// streamBody ties the response body to the per-call deadline: closing the
// stream releases the context and finishes the span.
type streamBody struct {
	rc     io.ReadCloser
	cancel context.CancelFunc
	span   trace.Span
	closed bool
}

func (s *streamBody) Read(p []byte) (int, error) { return s.rc.Read(p) }

func (s *streamBody) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.rc.Close()
	s.cancel()
	if s.span != nil {
		s.span.End()
	}
	return err
}

func statusClass(code int) string {
	switch {
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

func parseRetryAfter(v string) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			secs = 0
		}
		return time.Duration(secs) * time.Second, true
	}
	layouts := []string{time.RFC1123, time.RFC1123Z, time.RFC850, time.ANSIC}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, v); err == nil {
			d := time.Until(t)
			if d < 0 {
				d = 0
			}
			return d, true
		}
	}
	return 0, false
}

func classifyErr(err error) string {
	if err == nil {
		return ""
	}
	if ue, ok := err.(*url.Error); ok {
		if ue.Timeout() {
			return "timeout"
		}
		if ue.Err != nil {
			s := ue.Err.Error()
			if strings.Contains(s, "no such host") {
				return "dns"
			}
			if strings.Contains(s, "connection reset") {
				return "conn_reset"
			}
			if strings.Contains(s, "broken pipe") {
				return "conn_broken_pipe"
			}
			if strings.Contains(s, "i/o timeout") {
				return "timeout"
			}
		}
	}
	s := err.Error()
	if strings.Contains(s, "deadline exceeded") {
		return "deadline"
	}
	if strings.Contains(s, "context canceled") {
		return "canceled"
	}
	if strings.Contains(s, "no such host") {
		return "dns"
	}
	if strings.Contains(s, "connection reset") {
		return "conn_reset"
	}
	if strings.Contains(s, "timeout") {
		return "timeout"
	}
	return "other"
}
