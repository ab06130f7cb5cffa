package pipeline

import (
	"context"
	"io"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"routecodex-go/internal/apperrors"
	"routecodex-go/internal/constants"
	"routecodex-go/internal/logging"
	"routecodex-go/internal/monitoring"
	"routecodex-go/internal/monitoring/tracing"
	"routecodex-go/internal/provider"
	"routecodex-go/internal/translator"
	"routecodex-go/internal/usage"
)

// Execute runs the four stages and returns the response in the client's
// dialect. It never retries; a typed error surfaces to the router, which
// owns failover. Health side effects (rate-limit hits, auth blocks) are
// reported before returning.
func (p *Pipeline) Execute(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	p.stats.begin(start)

	resp, err := p.run(ctx, req)

	p.stats.finish(time.Since(start), err == nil)
	outcome := "ok"
	if err != nil {
		outcome = string(apperrors.AsAppError(err).Category)
	}
	monitoring.PipelineExecutionsTotal.WithLabelValues(p.def.ID, req.Category, outcome).Inc()
	return resp, err
}

func (p *Pipeline) run(ctx context.Context, req Request) (*Response, error) {
	ctx, span := tracing.StartSpan(ctx, "pipeline", "Pipeline.Execute",
		trace.WithAttributes(
			attribute.String("pipeline.id", p.def.ID),
			attribute.String("pipeline.category", req.Category),
			attribute.String("pipeline.client_dialect", string(req.Dialect)),
			attribute.Bool("pipeline.stream", req.Stream),
		))
	defer span.End()

	// 阶段 1:llmSwitch —— 统一收敛到 hub 方言后替换系统提示
	t := time.Now()
	hub := translator.TranslateRequest(req.Dialect, translator.FormatOpenAIChat, req.Model, req.Body, req.Stream)
	hub = p.llmSwitch.apply(hub)
	observeStage(StageLLMSwitch, t)

	// 阶段 2:workflow
	t = time.Now()
	hub = p.workflow.apply(hub)
	observeStage(StageWorkflow, t)

	// 阶段 3:compatibility —— 译成上游方言并做字段适配
	t = time.Now()
	upstreamStream := req.Stream && p.model.Streaming
	wire := translator.TranslateRequest(translator.FormatOpenAIChat, p.upstream, p.upstreamModel(), hub, upstreamStream)
	wire = stampWire(wire, p.upstreamModel(), upstreamStream)
	wire = p.compat.applyRequest(wire)
	observeStage(StageCompatibility, t)

	// 阶段 4:provider
	t = time.Now()
	snap, err := p.creds.EnsureFresh(ctx, p.def.CredentialID)
	if err != nil {
		observeStage(StageProvider, t)
		appErr := apperrors.NewAuthError("credential unusable: "+err.Error(), false)
		p.reportHealth(appErr)
		span.SetStatus(codes.Error, appErr.Message)
		return nil, appErr.WithPipeline(p.def.ID, p.def.CredentialID)
	}
	if !snap.Usable() {
		observeStage(StageProvider, t)
		appErr := apperrors.NewAuthError("credential "+snap.Alias+" is not usable", false)
		span.SetStatus(codes.Error, appErr.Message)
		return nil, appErr.WithPipeline(p.def.ID, p.def.CredentialID)
	}

	presp, err := p.client.Execute(ctx, provider.Request{
		Body:       wire,
		Stream:     upstreamStream,
		Credential: snap,
		UAMode:     p.llmSwitch.ua(),
		Headers:    req.Headers,
	})
	if err != nil {
		observeStage(StageProvider, t)
		appErr := apperrors.AsAppError(err)
		p.reportHealth(appErr)
		span.SetStatus(codes.Error, appErr.Message)
		p.logAttempt(req, appErr)
		return nil, appErr.WithPipeline(p.def.ID, p.def.CredentialID)
	}

	// 进入流式窗口前恢复额定限流计数
	if p.health != nil {
		p.health.ResetRateLimit(p.healthKey())
	}

	if upstreamStream {
		return p.finishStream(ctx, req, presp, span, t)
	}
	if req.Stream {
		return p.finishFakeStream(ctx, req, presp, span, t)
	}
	return p.finishBuffered(ctx, req, presp, span, t)
}

// finishBuffered reverses stages 3→1 on a buffered upstream body.
func (p *Pipeline) finishBuffered(ctx context.Context, req Request, presp *provider.Response, span trace.Span, stageStart time.Time) (*Response, error) {
	body := p.compat.applyResponse(presp.Body)
	clientBody, err := translator.TranslateResponse(ctx, p.upstream, req.Dialect, req.Model, body)
	observeStage(StageProvider, stageStart)
	if err != nil {
		appErr := apperrors.NewInternalError("response translation failed: " + err.Error())
		span.SetStatus(codes.Error, appErr.Message)
		return nil, appErr.WithPipeline(p.def.ID, p.def.CredentialID)
	}
	// Clients see the model name they asked for, not the upstream alias.
	if req.Model != "" && gjson.GetBytes(clientBody, "model").Exists() {
		if out, serr := sjson.SetBytes(clientBody, "model", req.Model); serr == nil {
			clientBody = out
		}
	}
	span.SetStatus(codes.Ok, "")
	return &Response{
		StatusCode: presp.StatusCode,
		Header:     presp.Header,
		Body:       clientBody,
		PipelineID: p.def.ID,
		Usage:      usage.ExtractTokenUsage(clientBody),
	}, nil
}

// finishFakeStream buffers the upstream response and re-emits it as SSE
// in the client's dialect because the model cannot stream natively.
func (p *Pipeline) finishFakeStream(ctx context.Context, req Request, presp *provider.Response, span trace.Span, stageStart time.Time) (*Response, error) {
	body := p.compat.applyResponse(presp.Body)
	hubResp, err := translator.TranslateResponse(ctx, p.upstream, translator.FormatOpenAIChat, req.Model, body)
	observeStage(StageProvider, stageStart)
	if err != nil {
		appErr := apperrors.NewInternalError("response translation failed: " + err.Error())
		span.SetStatus(codes.Error, appErr.Message)
		return nil, appErr.WithPipeline(p.def.ID, p.def.CredentialID)
	}

	stream := fakeChunkStream(ctx, req.Model, hubResp)
	if req.Dialect != translator.FormatOpenAIChat {
		stream, err = translator.TranslateStream(ctx, translator.FormatOpenAIChat, req.Dialect, req.Model, stream)
		if err != nil {
			appErr := apperrors.NewInternalError("stream translation failed: " + err.Error())
			span.SetStatus(codes.Error, appErr.Message)
			return nil, appErr.WithPipeline(p.def.ID, p.def.CredentialID)
		}
	}
	monitoring.FakeStreamsTotal.WithLabelValues(string(req.Dialect)).Inc()
	span.SetAttributes(attribute.Bool("pipeline.fake_stream", true))
	span.SetStatus(codes.Ok, "")

	resp := &Response{
		StatusCode: presp.StatusCode,
		Header:     presp.Header,
		Stream:     stream,
		FakeStream: true,
		PipelineID: p.def.ID,
		Usage:      usage.ExtractTokenUsage(hubResp),
	}
	resp.closer = closeAll(stream)
	return resp, nil
}

// finishStream gates on the first upstream chunk, then hands a translated
// SSE reader to the caller.
func (p *Pipeline) finishStream(ctx context.Context, req Request, presp *provider.Response, span trace.Span, stageStart time.Time) (*Response, error) {
	peeked, err := waitFirstChunk(ctx, presp.Stream, constants.PreStreamErrorWindow)
	observeStage(StageProvider, stageStart)
	if err != nil {
		appErr := apperrors.AsAppError(err)
		p.reportHealth(appErr)
		span.SetStatus(codes.Error, appErr.Message)
		p.logAttempt(req, appErr)
		return nil, appErr.WithPipeline(p.def.ID, p.def.CredentialID)
	}

	stream, terr := translator.TranslateStream(ctx, p.upstream, req.Dialect, req.Model, peeked)
	if terr != nil {
		_ = peeked.Close()
		appErr := apperrors.NewInternalError("stream translation failed: " + terr.Error())
		span.SetStatus(codes.Error, appErr.Message)
		return nil, appErr.WithPipeline(p.def.ID, p.def.CredentialID)
	}
	span.SetStatus(codes.Ok, "")

	resp := &Response{
		StatusCode: presp.StatusCode,
		Header:     presp.Header,
		Stream:     stream,
		PipelineID: p.def.ID,
	}
	resp.closer = closeAll(stream, peeked)
	return resp, nil
}

// stampWire pins the upstream model ID and the effective stream flag on
// the wire body. Translators stamp both on dialect changes, but a
// same-dialect passthrough would otherwise keep the client's values —
// wrong whenever upstreamId differs or fake streaming buffers the call.
func stampWire(body []byte, model string, stream bool) []byte {
	if out, err := sjson.SetBytes(body, "model", model); err == nil {
		body = out
	}
	if stream {
		if out, err := sjson.SetBytes(body, "stream", true); err == nil {
			body = out
		}
	} else if gjson.GetBytes(body, "stream").Exists() {
		if out, err := sjson.DeleteBytes(body, "stream"); err == nil {
			body = out
		}
	}
	return body
}

// closeAll closes every closer among the readers, upstream body last.
func closeAll(readers ...io.Reader) func() {
	return func() {
		for _, r := range readers {
			if c, ok := r.(io.Closer); ok {
				_ = c.Close()
			}
		}
	}
}

// reportHealth feeds provider-stage failures into the health manager:
// auth failures block the credential immediately, rate limits block it
// after the auto-ban threshold.
func (p *Pipeline) reportHealth(appErr *apperrors.AppError) {
	if p.health == nil || appErr == nil {
		return
	}
	key := p.healthKey()
	switch appErr.Category {
	case apperrors.CategoryAuth:
		p.health.Block(key, "auth_failed", map[string]string{
			"status": strconv.Itoa(appErr.HTTPStatus),
		})
	case apperrors.CategoryRateLimit:
		hits := p.health.RecordRateLimitHit(key)
		if hits >= constants.DefaultAutoBan429Threshold {
			p.health.Block(key, "rate_limit_exceeded", map[string]string{
				"hits": strconv.Itoa(hits),
			})
		}
	}
}

func (p *Pipeline) logAttempt(req Request, appErr *apperrors.AppError) {
	snap, _ := p.creds.Get(p.def.CredentialID)
	logging.WithRoute(req.Category, p.def.ID, p.def.ProviderID, snap.Alias).WithFields(log.Fields{
		"request_id": req.RequestID,
		"error":      appErr.Message,
		"code":       appErr.Code,
	}).Warn("pipeline execution failed")
}

func observeStage(stage string, start time.Time) {
	monitoring.PipelineStageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}
