package common

import (
	"time"

	"github.com/gin-gonic/gin"

	"routecodex-go/internal/apperrors"
	"routecodex-go/internal/middleware"
	"routecodex-go/internal/modelcatalog"
	"routecodex-go/internal/pipeline"
	"routecodex-go/internal/router"
	"routecodex-go/internal/usage"
)

// SnapshotSource returns the routing snapshot new requests should run
// against. The server swaps the underlying value on config reloads; a
// request keeps the snapshot it grabbed for its whole lifetime, so
// in-flight work is never torn by a swap.
type SnapshotSource func() router.Snapshot

// CatalogSource returns the model catalog materialized from the active
// snapshot.
type CatalogSource func() *modelcatalog.Catalog

// Gateway bundles the services every dialect handler needs. The dialect
// packages stay thin: parse the body, build a pipeline request, hand it
// here.
type Gateway struct {
	Router   *router.Router
	Source   SnapshotSource
	Catalog  CatalogSource
	Usage    *usage.Tracker
	Recorder *Recorder
	Server   string // metrics label for this listener
}

// Handle routes req against the current snapshot and writes the result
// in the client's dialect. It owns the response lifecycle end to end:
// error envelopes, SSE pumping, usage accounting, debug snapshots and
// the access-log context keys.
func (g *Gateway) Handle(c *gin.Context, req *pipeline.Request) {
	start := time.Now()
	snap := g.Source()

	resp, err := g.Router.Route(c.Request.Context(), snap, req)

	// 分类在路由阶段才确定，回填给访问日志
	if req.Category != "" {
		c.Set("category", req.Category)
	}
	if req.Model != "" {
		c.Set("model", req.Model)
	}

	if err != nil {
		appErr := apperrors.AsAppError(err)
		if appErr.PipelineID != "" {
			c.Set("pipeline", appErr.PipelineID)
		}
		g.record(c, snap, req, nil, appErr.HTTPStatus, start)
		g.capture(c, req, captureOutcome{status: appErr.HTTPStatus, errorCode: appErr.Code})
		WriteAppError(c, appErr)
		return
	}
	defer resp.Close()
	c.Set("pipeline", resp.PipelineID)

	if resp.Streaming() {
		g.stream(c, snap, req, resp, start)
		return
	}

	g.record(c, snap, req, resp, resp.StatusCode, start)
	g.capture(c, req, captureOutcome{status: resp.StatusCode, pipelineID: resp.PipelineID, response: resp.Body})
	writeBuffered(c, resp)
}

// stream pumps a translated SSE body to the client, flushing at event
// boundaries. Usage for streams is attributed without token counts; the
// upstream chunks were already re-encoded by the pipeline so there is
// nothing left to parse here.
func (g *Gateway) stream(c *gin.Context, snap router.Snapshot, req *pipeline.Request, resp *pipeline.Response, start time.Time) {
	PrepareSSE(c, resp.StatusCode)
	lines, reason := PumpSSE(c, req.Dialect, resp.Stream)

	path := c.FullPath()
	middleware.RecordSSELines(g.Server, path, lines)
	middleware.RecordSSEClose(g.Server, path, reason)

	g.record(c, snap, req, resp, resp.StatusCode, start)
	g.capture(c, req, captureOutcome{status: resp.StatusCode, pipelineID: resp.PipelineID, streamLines: lines})
}

// record reports one finished request to the usage tracker. Failures
// that never selected a pipeline carry no credential attribution.
func (g *Gateway) record(c *gin.Context, snap router.Snapshot, req *pipeline.Request, resp *pipeline.Response, status int, start time.Time) {
	if g.Usage == nil {
		return
	}
	rec := &usage.RequestRecord{
		Timestamp:  time.Now(),
		RequestID:  req.RequestID,
		Category:   req.Category,
		Dialect:    string(req.Dialect),
		Model:      req.Model,
		Success:    status < 400,
		StatusCode: status,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if resp != nil {
		rec.PipelineID = resp.PipelineID
		rec.Tokens = resp.Usage
		if def, ok := snap.RC.Pipeline(resp.PipelineID); ok {
			rec.CredentialID = def.CredentialID
		}
	}
	c.Set("latency_ms", rec.DurationMs)
	g.Usage.Record(rec)
}

type captureOutcome struct {
	status      int
	pipelineID  string
	errorCode   string
	response    []byte
	streamLines int
}

func (g *Gateway) capture(c *gin.Context, req *pipeline.Request, out captureOutcome) {
	if g.Recorder == nil {
		return
	}
	g.Recorder.Record(Snapshot{
		Time:        time.Now(),
		RequestID:   req.RequestID,
		Surface:     string(req.Dialect),
		Method:      c.Request.Method,
		Path:        c.Request.URL.Path,
		Model:       req.Model,
		Category:    req.Category,
		PipelineID:  out.pipelineID,
		Status:      out.status,
		Stream:      req.Stream,
		StreamLines: out.streamLines,
		ErrorCode:   out.errorCode,
		Request:     req.Body,
		Response:    out.response,
	})
}

// writeBuffered sends a buffered pipeline response verbatim. The body
// already carries the client's model name and dialect; only selected
// upstream headers survive translation.
func writeBuffered(c *gin.Context, resp *pipeline.Response) {
	for _, k := range passthroughHeaders {
		if v := resp.Header.Get(k); v != "" {
			c.Header(k, v)
		}
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	c.Data(resp.StatusCode, contentType, resp.Body)
}

// passthroughHeaders are upstream response headers worth surfacing to
// clients. Anything not listed is dropped with the rest of the upstream
// envelope.
var passthroughHeaders = []string{
	"Anthropic-Version",
	"Anthropic-Ratelimit-Requests-Remaining",
	"Anthropic-Ratelimit-Tokens-Remaining",
	"X-Ratelimit-Remaining-Requests",
	"X-Ratelimit-Remaining-Tokens",
}
