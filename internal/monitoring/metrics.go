package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP请求指标（标签维度与 middleware 保持一致）
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routecodex_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"server", "method", "path", "status_class"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "routecodex_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"server", "method", "path", "status_class"},
	)

	// HTTP 并发请求数
	HTTPInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "routecodex_http_inflight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// 凭证相关指标
	CredentialRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routecodex_credential_refreshes_total",
			Help: "Total number of credential token refreshes",
		},
		[]string{"credential", "status"},
	)

	CredentialErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routecodex_credential_errors_total",
			Help: "Total number of credential errors",
		},
		[]string{"credential", "error_code"},
	)

	ActiveCredentials = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "routecodex_active_credentials",
			Help: "Number of active credentials",
		},
	)

	BlockedCredentials = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "routecodex_blocked_credentials",
			Help: "Number of blocked credentials",
		},
	)

	// 上游 Provider 调用指标
	ProviderRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routecodex_provider_requests_total",
			Help: "Total number of upstream provider requests",
		},
		[]string{"provider", "status_class"},
	)

	ProviderRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "routecodex_provider_request_duration_seconds",
			Help:    "Upstream provider request latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"provider"},
	)

	ProviderErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routecodex_provider_errors_total",
			Help: "Total number of upstream provider errors by reason",
		},
		[]string{"provider", "reason"},
	)

	// 流水线执行指标
	PipelineExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routecodex_pipeline_executions_total",
			Help: "Total number of pipeline executions",
		},
		[]string{"pipeline", "category", "outcome"},
	)

	PipelineStageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "routecodex_pipeline_stage_duration_seconds",
			Help:    "Pipeline stage latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		},
		[]string{"stage"},
	)

	// 路由决策指标
	RouterDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routecodex_router_decisions_total",
			Help: "Total number of routing decisions by category",
		},
		[]string{"category", "outcome"},
	)

	RouterFailoversTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routecodex_router_failovers_total",
			Help: "Total number of failover re-selections",
		},
		[]string{"reason"},
	)

	QuotaRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routecodex_quota_rejections_total",
			Help: "Total number of pipelines rejected by quota admission",
		},
		[]string{"credential"},
	)

	// 流式传输指标
	SSELinesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routecodex_sse_lines_total",
			Help: "Total number of SSE lines sent",
		},
		[]string{"server", "path"},
	)

	SSEDisconnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routecodex_sse_disconnects_total",
			Help: "Total number of SSE disconnects by reason",
		},
		[]string{"server", "path", "reason"},
	)

	FakeStreamsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routecodex_fake_streams_total",
			Help: "Total number of buffered responses re-emitted as SSE",
		},
		[]string{"dialect"},
	)

	// 协议转换指标
	TranslationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routecodex_translations_total",
			Help: "Total number of dialect translations",
		},
		[]string{"from", "to", "kind"},
	)

	// Token使用指标
	TokensUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routecodex_tokens_used_total",
			Help: "Total number of tokens used",
		},
		[]string{"model", "type"}, // type: prompt, completion, total
	)

	// 管理面指标
	ManagementAccessTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routecodex_management_access_total",
			Help: "Total number of management access decisions",
		},
		[]string{"route", "result", "source"},
	)

	RateLimitKeysGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "routecodex_ratelimit_keys",
			Help: "Current number of per-key rate limiters",
		},
	)

	RateLimitHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routecodex_rate_limit_hits_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
		[]string{"scope"},
	)

	RateLimitSweepsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "routecodex_ratelimit_sweeps_total",
			Help: "Total number of rate limiter TTL cache sweeps",
		},
	)

	// 存储后端指标
	StorageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "routecodex_storage_operation_duration_seconds",
			Help:    "Storage backend operation latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
		},
		[]string{"backend", "operation"},
	)

	StorageOperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routecodex_storage_operation_errors_total",
			Help: "Total number of failed storage backend operations",
		},
		[]string{"backend", "operation"},
	)

	// 配置快照指标
	ConfigSnapshotVersion = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "routecodex_config_snapshot_version",
			Help: "Version of the active runtime configuration snapshot",
		},
	)

	ConfigReloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routecodex_config_reloads_total",
			Help: "Total number of configuration reload attempts",
		},
		[]string{"trigger", "status"},
	)

	// 请求快照采集指标
	SnapshotCapturesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routecodex_snapshot_captures_total",
			Help: "Total number of request snapshots written",
		},
		[]string{"surface"},
	)
)
