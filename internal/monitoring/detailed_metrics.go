package monitoring

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

// EnhancedMetrics provides detailed in-memory metrics for the management
// status endpoint. Prometheus vectors cover time series; this keeps the
// percentile summaries Prometheus cannot serve per-process.
type EnhancedMetrics struct {
	mu sync.RWMutex

	// Provider request metrics
	providerRequests    map[string]int64            // provider -> count
	providerDurations   map[string][]float64        // provider -> durations
	providerErrors      map[string]map[string]int64 // provider -> error_type -> count
	providerRetries     map[string]int64            // provider -> retry_count
	providerStatusCodes map[string]map[int]int64    // provider -> status_code -> count

	// Request metrics by endpoint
	endpointRequests  map[string]int64     // endpoint -> count
	endpointDurations map[string][]float64 // endpoint -> durations
	endpointErrors    map[string]int64     // endpoint -> error_count

	// Streaming metrics
	streamingRequests    int64
	streamingChunks      int64
	fakeStreams          int64
	streamingDisconnects map[string]int64 // reason -> count

	// Pipeline metrics
	pipelineExecutions map[string]int64 // pipeline -> count
	pipelineFailures   map[string]int64 // pipeline -> failures
	failovers          int64

	// Credential metrics
	credentialRefreshes int64
	credentialFailures  map[string]int64 // cred_id -> failure_count

	// Token usage
	totalTokens      int64
	promptTokens     int64
	completionTokens int64

	// Transaction metrics
	transactionAttempts map[string]int64 // backend -> attempts
	transactionSuccess  map[string]int64 // backend -> commits
	transactionFailures map[string]int64 // backend -> rollbacks/failures

	// Storage metrics
	storageOps       map[string]map[string]*storageOpAggregate // backend -> operation -> aggregate
	storageSlowOps   map[string]map[string]int64               // backend -> operation -> slow count
	storagePoolStats map[string]StoragePoolStats               // backend -> pool stats snapshot
}

type storageOpAggregate struct {
	Count     int64
	Errors    int64
	Durations []float64
}

// StoragePoolStats captures basic pool statistics for storage backends with pooling.
type StoragePoolStats struct {
	Active int64
	Idle   int64
	Hits   int64
	Misses int64
}

// StorageOpStats represents summarized metrics for a storage operation.
type StorageOpStats struct {
	Count     int64
	Errors    int64
	Durations []float64
}

// NewEnhancedMetrics creates a new metrics tracker
func NewEnhancedMetrics() *EnhancedMetrics {
	return &EnhancedMetrics{
		providerRequests:     make(map[string]int64),
		providerDurations:    make(map[string][]float64),
		providerErrors:       make(map[string]map[string]int64),
		providerRetries:      make(map[string]int64),
		providerStatusCodes:  make(map[string]map[int]int64),
		endpointRequests:     make(map[string]int64),
		endpointDurations:    make(map[string][]float64),
		endpointErrors:       make(map[string]int64),
		streamingDisconnects: make(map[string]int64),
		pipelineExecutions:   make(map[string]int64),
		pipelineFailures:     make(map[string]int64),
		credentialFailures:   make(map[string]int64),
		transactionAttempts:  make(map[string]int64),
		transactionSuccess:   make(map[string]int64),
		transactionFailures:  make(map[string]int64),
		storageOps:           make(map[string]map[string]*storageOpAggregate),
		storageSlowOps:       make(map[string]map[string]int64),
		storagePoolStats:     make(map[string]StoragePoolStats),
	}
}

// RecordProviderRequest records an upstream provider request
func (m *EnhancedMetrics) RecordProviderRequest(provider string, duration time.Duration, statusCode int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.providerRequests[provider]++

	durationSec := duration.Seconds()
	m.providerDurations[provider] = append(m.providerDurations[provider], durationSec)

	// Limit duration slice size
	if len(m.providerDurations[provider]) > 1000 {
		m.providerDurations[provider] = m.providerDurations[provider][500:]
	}

	if m.providerStatusCodes[provider] == nil {
		m.providerStatusCodes[provider] = make(map[int]int64)
	}
	m.providerStatusCodes[provider][statusCode]++

	if err != nil {
		if m.providerErrors[provider] == nil {
			m.providerErrors[provider] = make(map[string]int64)
		}
		errorType := classifyError(err)
		m.providerErrors[provider][errorType]++
	}
}

// RecordProviderRetry records a failover retry against a provider
func (m *EnhancedMetrics) RecordProviderRetry(provider string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.providerRetries[provider]++
	m.failovers++
}

// RecordEndpointRequest records an endpoint request
func (m *EnhancedMetrics) RecordEndpointRequest(endpoint string, duration time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.endpointRequests[endpoint]++

	durationSec := duration.Seconds()
	m.endpointDurations[endpoint] = append(m.endpointDurations[endpoint], durationSec)

	// Limit duration slice size
	if len(m.endpointDurations[endpoint]) > 1000 {
		m.endpointDurations[endpoint] = m.endpointDurations[endpoint][500:]
	}

	if err != nil {
		m.endpointErrors[endpoint]++
	}
}

// RecordPipelineExecution records one pipeline run and its outcome.
func (m *EnhancedMetrics) RecordPipelineExecution(pipelineID string, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pipelineExecutions[pipelineID]++
	if !success {
		m.pipelineFailures[pipelineID]++
	}
}

// RecordStreamingRequest records a streaming request
func (m *EnhancedMetrics) RecordStreamingRequest() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.streamingRequests++
}

// RecordStreamingChunk records a streaming chunk
func (m *EnhancedMetrics) RecordStreamingChunk() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.streamingChunks++
}

// RecordFakeStream records a buffered response re-emitted as SSE
func (m *EnhancedMetrics) RecordFakeStream() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.fakeStreams++
}

// RecordStreamingDisconnect records a streaming disconnection
func (m *EnhancedMetrics) RecordStreamingDisconnect(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.streamingDisconnects[reason]++
}

// RecordCredentialRefresh records a credential token refresh
func (m *EnhancedMetrics) RecordCredentialRefresh() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.credentialRefreshes++
}

// RecordCredentialFailure records a credential failure
func (m *EnhancedMetrics) RecordCredentialFailure(credID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.credentialFailures[credID]++
}

// RecordTokenUsage records token usage
func (m *EnhancedMetrics) RecordTokenUsage(promptTokens, completionTokens int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.promptTokens += promptTokens
	m.completionTokens += completionTokens
	m.totalTokens += promptTokens + completionTokens
}

func (m *EnhancedMetrics) RecordTransactionAttempt(backend string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := normalizeBackendLabel(backend)
	m.transactionAttempts[key]++
}

func (m *EnhancedMetrics) RecordTransactionCommit(backend string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := normalizeBackendLabel(backend)
	m.transactionSuccess[key]++
}

func (m *EnhancedMetrics) RecordTransactionFailure(backend string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := normalizeBackendLabel(backend)
	m.transactionFailures[key]++
}

// RecordStorageOperation tracks a storage backend operation.
func (m *EnhancedMetrics) RecordStorageOperation(backend, operation string, duration time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := normalizeBackendLabel(backend)
	if m.storageOps[key] == nil {
		m.storageOps[key] = make(map[string]*storageOpAggregate)
	}
	agg := m.storageOps[key][operation]
	if agg == nil {
		agg = &storageOpAggregate{}
		m.storageOps[key][operation] = agg
	}
	agg.Count++
	if err != nil {
		agg.Errors++
	}
	agg.Durations = append(agg.Durations, duration.Seconds())
	if len(agg.Durations) > 1000 {
		agg.Durations = agg.Durations[len(agg.Durations)/2:]
	}

	if duration >= 250*time.Millisecond {
		if m.storageSlowOps[key] == nil {
			m.storageSlowOps[key] = make(map[string]int64)
		}
		m.storageSlowOps[key][operation]++
	}
}

// UpdateStoragePoolStats captures pool metrics for a backend.
func (m *EnhancedMetrics) UpdateStoragePoolStats(backend string, stats StoragePoolStats) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.storagePoolStats[normalizeBackendLabel(backend)] = stats
}

// StorageMetrics returns copies of storage operation metrics and pool statistics.
func (m *EnhancedMetrics) StorageMetrics() (map[string]map[string]StorageOpStats, map[string]map[string]int64, map[string]StoragePoolStats) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ops := make(map[string]map[string]StorageOpStats, len(m.storageOps))
	for backend, opMap := range m.storageOps {
		backendMap := make(map[string]StorageOpStats, len(opMap))
		for operation, agg := range opMap {
			durations := append([]float64(nil), agg.Durations...)
			backendMap[operation] = StorageOpStats{
				Count:     agg.Count,
				Errors:    agg.Errors,
				Durations: durations,
			}
		}
		ops[backend] = backendMap
	}

	slow := make(map[string]map[string]int64, len(m.storageSlowOps))
	for backend, opMap := range m.storageSlowOps {
		backendMap := make(map[string]int64, len(opMap))
		for operation, count := range opMap {
			backendMap[operation] = count
		}
		slow[backend] = backendMap
	}

	pools := make(map[string]StoragePoolStats, len(m.storagePoolStats))
	for backend, stats := range m.storagePoolStats {
		pools[backend] = stats
	}

	return ops, slow, pools
}

// GetSnapshot returns a snapshot of current metrics
func (m *EnhancedMetrics) GetSnapshot() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := make(map[string]interface{})

	// Provider metrics
	providers := make(map[string]interface{})
	for provider, count := range m.providerRequests {
		providers[provider] = map[string]interface{}{
			"requests":     count,
			"avg_duration": calculateAverage(m.providerDurations[provider]),
			"p50_duration": calculatePercentile(m.providerDurations[provider], 0.5),
			"p95_duration": calculatePercentile(m.providerDurations[provider], 0.95),
			"p99_duration": calculatePercentile(m.providerDurations[provider], 0.99),
			"retries":      m.providerRetries[provider],
			"errors":       m.providerErrors[provider],
			"status_codes": m.providerStatusCodes[provider],
		}
	}
	snapshot["providers"] = providers

	// Endpoint metrics
	endpoints := make(map[string]interface{})
	for endpoint, count := range m.endpointRequests {
		endpoints[endpoint] = map[string]interface{}{
			"requests":     count,
			"avg_duration": calculateAverage(m.endpointDurations[endpoint]),
			"errors":       m.endpointErrors[endpoint],
		}
	}
	snapshot["endpoints"] = endpoints

	// Pipeline metrics
	pipelines := make(map[string]interface{}, len(m.pipelineExecutions))
	for id, count := range m.pipelineExecutions {
		pipelines[id] = map[string]interface{}{
			"executions": count,
			"failures":   m.pipelineFailures[id],
		}
	}
	snapshot["pipelines"] = pipelines
	snapshot["failovers"] = m.failovers

	// Transaction metrics
	txAttempts := make(map[string]int64, len(m.transactionAttempts))
	for k, v := range m.transactionAttempts {
		txAttempts[k] = v
	}
	txSuccess := make(map[string]int64, len(m.transactionSuccess))
	for k, v := range m.transactionSuccess {
		txSuccess[k] = v
	}
	txFailures := make(map[string]int64, len(m.transactionFailures))
	for k, v := range m.transactionFailures {
		txFailures[k] = v
	}
	snapshot["transactions"] = map[string]interface{}{
		"attempts": txAttempts,
		"commits":  txSuccess,
		"failures": txFailures,
	}

	// Streaming metrics
	snapshot["streaming"] = map[string]interface{}{
		"requests":     m.streamingRequests,
		"chunks":       m.streamingChunks,
		"fake_streams": m.fakeStreams,
		"disconnects":  m.streamingDisconnects,
	}

	// Credential metrics
	snapshot["credentials"] = map[string]interface{}{
		"refreshes": m.credentialRefreshes,
		"failures":  m.credentialFailures,
	}

	// Token usage
	snapshot["tokens"] = map[string]interface{}{
		"total":      m.totalTokens,
		"prompt":     m.promptTokens,
		"completion": m.completionTokens,
	}

	storageOps := make(map[string]map[string]interface{})
	for backend, opMap := range m.storageOps {
		backendMap := make(map[string]interface{}, len(opMap))
		for operation, agg := range opMap {
			backendMap[operation] = map[string]interface{}{
				"count":        agg.Count,
				"errors":       agg.Errors,
				"avg_duration": calculateAverage(agg.Durations),
			}
		}
		storageOps[backend] = backendMap
	}
	slowOps := make(map[string]map[string]int64, len(m.storageSlowOps))
	for backend, opMap := range m.storageSlowOps {
		backendMap := make(map[string]int64, len(opMap))
		for operation, count := range opMap {
			backendMap[operation] = count
		}
		slowOps[backend] = backendMap
	}
	poolStats := make(map[string]StoragePoolStats, len(m.storagePoolStats))
	for backend, stats := range m.storagePoolStats {
		poolStats[backend] = stats
	}
	snapshot["storage"] = map[string]interface{}{
		"operations": storageOps,
		"slow":       slowOps,
		"pool":       poolStats,
	}

	return snapshot
}

// Helper functions
func classifyError(err error) string {
	if err == nil {
		return "none"
	}

	errStr := err.Error()
	switch {
	case strings.Contains(errStr, "timeout"):
		return "timeout"
	case strings.Contains(errStr, "connection"):
		return "connection"
	case strings.Contains(errStr, "429"):
		return "rate_limit"
	case strings.Contains(errStr, "500"), strings.Contains(errStr, "502"), strings.Contains(errStr, "503"):
		return "server_error"
	case strings.Contains(errStr, "401"), strings.Contains(errStr, "403"):
		return "auth_error"
	default:
		return "other"
	}
}

func calculateAverage(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// calculatePercentile computes the nearest-rank percentile on a sorted copy
// of the input slice to avoid mutating the original order.
// percentile is expressed in [0,1].
func calculatePercentile(values []float64, percentile float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	if percentile < 0 {
		percentile = 0
	}
	if percentile > 1 {
		percentile = 1
	}
	cp := make([]float64, n)
	copy(cp, values)
	sort.Float64s(cp)

	if percentile == 0 {
		return cp[0]
	}
	// Nearest-rank method (1-based rank)
	rank := int(math.Ceil(percentile * float64(n)))
	if rank < 1 {
		rank = 1
	} else if rank > n {
		rank = n
	}
	return cp[rank-1]
}

func normalizeBackendLabel(label string) string {
	label = strings.TrimSpace(strings.ToLower(label))
	if label == "" {
		return "unknown"
	}
	return label
}
