package router

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"routecodex-go/internal/apperrors"
	"routecodex-go/internal/config"
	"routecodex-go/internal/constants"
	"routecodex-go/internal/credential"
	"routecodex-go/internal/events"
	"routecodex-go/internal/health"
	"routecodex-go/internal/logging"
	"routecodex-go/internal/monitoring"
	"routecodex-go/internal/pipeline"
	"routecodex-go/internal/usage"
)

// Snapshot pairs one immutable runtime config with the pipelines
// assembled from it. A request routes against the snapshot it entered
// with even when a reload swaps the active one mid-flight.
type Snapshot struct {
	RC       *config.RuntimeConfig
	Assembly *pipeline.Assembly
}

// Deps are the shared services selection consults. All of them outlive
// snapshot swaps.
type Deps struct {
	Credentials *credential.Store
	Health      *health.Manager
	Usage       *usage.Tracker
	Hub         *events.Hub
}

// Router classifies requests into routing categories, picks a pipeline
// from the category pool and drives failover across retriable errors.
// It is long-lived: selection and state-machine memory survive config
// swaps, keyed by pipeline ID.
type Router struct {
	deps   Deps
	est    *Estimator
	cls    *classifier
	sel    *selector
	states *stateTracker
	unsub  func()
}

func New(deps Deps) *Router {
	est := NewEstimator()
	r := &Router{
		deps:   deps,
		est:    est,
		cls:    newClassifier(est),
		sel:    newSelector(),
		states: newStateTracker(),
	}
	if deps.Hub != nil {
		// 凭证解封后恢复其承载的所有流水线
		r.unsub = deps.Hub.OnCredentialUnblocked(func(_ context.Context, ev events.CredentialUnblocked) {
			r.states.reactivate(ev.Key)
		})
	}
	return r
}

// Close detaches the router from the event hub.
func (r *Router) Close() {
	if r.unsub != nil {
		r.unsub()
		r.unsub = nil
	}
}

// Estimator exposes the shared token estimator; the count_tokens
// endpoint reuses it so both surfaces agree on counts.
func (r *Router) Estimator() *Estimator { return r.est }

// States reports the advisory state per pipeline for the status API.
func (r *Router) States() map[string]string { return r.states.snapshotStates() }

// Route classifies req, selects a pipeline and executes it, failing
// over per the error taxonomy: auth and rate-limit failures never
// retry the same credential, timeouts retry once, everything else
// surfaces immediately. req.Category is set to the resolved category
// as a side effect so access logs and request snapshots see it.
func (r *Router) Route(ctx context.Context, snap Snapshot, req *pipeline.Request) (*pipeline.Response, error) {
	category, probes := r.cls.classify(snap.RC, req)
	req.Category = category

	failedPipelines := make(map[string]bool)
	failedCredentials := make(map[string]bool)
	var lastErr *apperrors.AppError

	for attempt := 1; attempt <= constants.RouterMaxAttempts; attempt++ {
		p := r.selectOne(snap, category, probes, failedPipelines, failedCredentials)
		if p == nil {
			monitoring.RouterDecisionsTotal.WithLabelValues(category, "admission_rejected").Inc()
			if lastErr != nil {
				// 候选全部试过,向客户端透出最后一次真实失败
				return nil, lastErr
			}
			return nil, apperrors.NewAdmissionError(fmt.Sprintf("no available pipeline for category %q", category))
		}

		def := p.Def()
		alias := r.credentialAlias(def.CredentialID)
		monitoring.RouterDecisionsTotal.WithLabelValues(category, "selected").Inc()
		logging.WithRoute(category, def.ID, def.ProviderID, alias).WithFields(log.Fields{
			"request_id": req.RequestID,
			"attempt":    attempt,
		}).Debug("pipeline selected")

		resp, err := p.Execute(ctx, *req)
		if err == nil {
			r.states.recordSuccess(def.ID)
			return resp, nil
		}

		appErr := apperrors.AsAppError(err)
		switch {
		case apperrors.IsCanceled(err):
			// 客户端已断开,不算流水线的失败
			return nil, appErr
		case appErr.Category == apperrors.CategoryValidation:
			// 请求自身的问题,换哪条流水线都一样
			return nil, appErr
		}

		lastErr = appErr
		failedPipelines[def.ID] = true
		key := health.Key(def.ProviderID, def.CredentialID)
		r.states.recordFailure(def.ID, key)
		if r.deps.Health != nil && r.deps.Health.IsBlocked(key) {
			r.states.exclude(def.ID, key)
		}

		if !appErr.Retriable() {
			return nil, appErr
		}
		switch appErr.Category {
		case apperrors.CategoryAuth, apperrors.CategoryRateLimit:
			// 同一凭证在本次请求内不再参与重选
			failedCredentials[def.CredentialID] = true
		case apperrors.CategoryTimeout:
			// 超时只重试一次,且仅当这是第一次尝试
			if attempt > 1 {
				return nil, appErr
			}
		}

		monitoring.RouterFailoversTotal.WithLabelValues(string(appErr.Category)).Inc()
		logging.WithRoute(category, def.ID, def.ProviderID, alias).WithFields(log.Fields{
			"request_id": req.RequestID,
			"attempt":    attempt,
			"reason":     string(appErr.Category),
			"error":      appErr.Message,
		}).Warn("pipeline failed, re-entering selection")
	}
	return nil, lastErr
}

// selectOne runs the admission filters over the category pool and
// picks by weighted round-robin. Degraded pipelines form a second
// tier, used only when no Active candidate survives.
func (r *Router) selectOne(snap Snapshot, category string, probes bodyProbes, failedPipelines, failedCredentials map[string]bool) *pipeline.Pipeline {
	pool := snap.RC.Pool(category)
	active := make([]candidate, 0, len(pool))
	var degraded []candidate

	for _, target := range pool {
		if failedPipelines[target.PipelineID] {
			continue
		}
		p, ok := snap.Assembly.Get(target.PipelineID)
		if !ok {
			// 组装失败的流水线,装配时已告警
			continue
		}
		def := p.Def()
		if failedCredentials[def.CredentialID] {
			continue
		}
		state := r.states.stateOf(def.ID)
		if state == StateExcluded {
			continue
		}
		key := health.Key(def.ProviderID, def.CredentialID)
		if r.deps.Health != nil && r.deps.Health.IsBlocked(key) {
			r.states.exclude(def.ID, key)
			continue
		}
		if r.deps.Credentials != nil {
			cred, ok := r.deps.Credentials.Get(def.CredentialID)
			if !ok || !cred.Usable() {
				continue
			}
		}
		if snap.RC.QuotaRoutingEnabled && r.deps.Usage != nil && r.deps.Usage.IsQuotaExceeded(def.CredentialID) {
			monitoring.QuotaRejectionsTotal.WithLabelValues(def.CredentialID).Inc()
			continue
		}
		model := p.Model()
		if probes.toolsPresent && !model.Tools {
			continue
		}
		if probes.hasVision && !model.Vision {
			continue
		}
		// 不过滤流式能力:不能流式的模型由假流式兜底

		c := candidate{p: p, weight: effectiveWeight(target, p)}
		if state == StateDegraded {
			degraded = append(degraded, c)
			continue
		}
		active = append(active, c)
	}

	if pick := r.sel.pick(category, active); pick != nil {
		return pick
	}
	if pick := r.sel.pick(category, degraded); pick != nil {
		def := pick.Def()
		logging.WithRoute(category, def.ID, def.ProviderID, r.credentialAlias(def.CredentialID)).
			Warn("no active pipeline left, selecting degraded")
		return pick
	}
	return nil
}

func (r *Router) credentialAlias(credentialID string) string {
	if r.deps.Credentials != nil {
		if cred, ok := r.deps.Credentials.Get(credentialID); ok && cred.Alias != "" {
			return cred.Alias
		}
	}
	return credentialID
}
