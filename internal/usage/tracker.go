package usage

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"routecodex-go/internal/monitoring"
	"routecodex-go/internal/storage"
)

// LimitsDocKey is the config document holding per-credential daily limits
// ({"credentialId": limit}). Edited through the management surface.
const LimitsDocKey = "usage_limits"

// persistInterval is how often accumulated counter deltas are flushed to
// the storage backend.
const persistInterval = 60 * time.Second

// Tracker collects usage statistics in memory and flushes counter deltas
// to the storage backend. It is the quota-admission input for the router:
// a credential over its daily limit stops receiving traffic while
// quota-aware routing is enabled.
type Tracker struct {
	mu      sync.RWMutex
	stats   *Stats
	backend storage.Backend // nil disables persistence

	deltaMu sync.Mutex
	deltas  map[string]map[string]int64 // key → field → pending delta

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewTracker builds a tracker over the given backend. A nil backend keeps
// everything in memory.
func NewTracker(backend storage.Backend) *Tracker {
	return &Tracker{
		stats:   NewStats(),
		backend: backend,
		deltas:  make(map[string]map[string]int64),
		stopCh:  make(chan struct{}),
	}
}

// Start loads persisted counters and limits, then begins the flush loop.
func (t *Tracker) Start(ctx context.Context) error {
	if err := t.loadFromBackend(ctx); err != nil {
		log.WithError(err).Warn("usage counters unavailable from storage, starting fresh")
	}
	t.wg.Add(1)
	go t.persistWorker(ctx)
	log.Info("usage tracker started")
	return nil
}

// Stop flushes pending deltas and stops the worker.
func (t *Tracker) Stop(ctx context.Context) error {
	close(t.stopCh)
	t.wg.Wait()
	if err := t.flush(ctx); err != nil {
		log.WithError(err).Error("final usage flush failed")
		return err
	}
	return nil
}

// Record applies one completed request to every breakdown and stages the
// persistence deltas. Never blocks on storage.
func (t *Tracker) Record(rec *RequestRecord) {
	if rec == nil {
		return
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	t.mu.Lock()
	t.stats.TotalRequests++
	if rec.Success {
		t.stats.SuccessCount++
	} else {
		t.stats.FailureCount++
	}
	if rec.Tokens != nil {
		t.stats.TotalTokens += rec.Tokens.TotalTokens
	}

	if rec.CredentialID != "" {
		cred, ok := t.stats.Credentials[rec.CredentialID]
		if !ok {
			cred = NewCredentialUsage(rec.CredentialID)
			t.stats.Credentials[rec.CredentialID] = cred
		}
		if cred.ShouldResetQuota(rec.Timestamp) {
			cred.ResetQuota(rec.Timestamp)
		}
		cred.increment(rec)
	}
	if rec.PipelineID != "" {
		t.incrementPipeline(rec)
	}
	t.updateTimeStats(rec)
	t.updateDialectStats(rec)
	t.mu.Unlock()

	t.stageDeltas(rec)
	t.recordMetrics(rec)
}

func (t *Tracker) incrementPipeline(rec *RequestRecord) {
	pu, ok := t.stats.Pipelines[rec.PipelineID]
	if !ok {
		pu = &PipelineUsage{ID: rec.PipelineID}
		t.stats.Pipelines[rec.PipelineID] = pu
	}
	pu.Requests++
	if !rec.Success {
		pu.Errors++
	}
	if rec.Tokens != nil {
		pu.Tokens += rec.Tokens.TotalTokens
	}
	pu.latencySum += rec.DurationMs
	pu.AvgLatency = pu.latencySum / pu.Requests
	pu.LastUsed = rec.Timestamp
}

func (t *Tracker) updateTimeStats(rec *RequestRecord) {
	dateKey := rec.Timestamp.Local().Format("2006-01-02")
	daily, ok := t.stats.DailyStats[dateKey]
	if !ok {
		daily = &DailyStats{Date: dateKey}
		t.stats.DailyStats[dateKey] = daily
	}
	daily.Requests++
	if rec.Success {
		daily.Success++
	} else {
		daily.Failure++
	}
	if rec.Tokens != nil {
		daily.Tokens += rec.Tokens.TotalTokens
	}

	hour := rec.Timestamp.Local().Hour()
	hourly, ok := t.stats.HourlyStats[hour]
	if !ok {
		hourly = &HourlyStats{Hour: hour}
		t.stats.HourlyStats[hour] = hourly
	}
	hourly.Requests++
	if rec.Success {
		hourly.Success++
	} else {
		hourly.Failure++
	}
	if rec.Tokens != nil {
		hourly.Tokens += rec.Tokens.TotalTokens
	}
}

func (t *Tracker) updateDialectStats(rec *RequestRecord) {
	if rec.Dialect == "" {
		return
	}
	ds, ok := t.stats.Dialects[rec.Dialect]
	if !ok {
		ds = NewDialectStats(rec.Dialect)
		t.stats.Dialects[rec.Dialect] = ds
	}
	ds.TotalRequests++
	if rec.Tokens != nil {
		ds.TotalTokens += rec.Tokens.TotalTokens
	}
	if rec.Model != "" {
		ms, ok := ds.Models[rec.Model]
		if !ok {
			ms = NewModelStats(rec.Model)
			ds.Models[rec.Model] = ms
		}
		ms.Calls++
		if rec.Tokens != nil {
			ms.Tokens += rec.Tokens.TotalTokens
			ms.InputTokens += rec.Tokens.InputTokens
			ms.OutputTokens += rec.Tokens.OutputTokens
		}
		ms.LastUsed = rec.Timestamp
	}
}

func (t *Tracker) recordMetrics(rec *RequestRecord) {
	if rec.Tokens == nil || rec.Model == "" {
		return
	}
	monitoring.TokensUsed.WithLabelValues(rec.Model, "prompt").Add(float64(rec.Tokens.InputTokens))
	monitoring.TokensUsed.WithLabelValues(rec.Model, "completion").Add(float64(rec.Tokens.OutputTokens))
	monitoring.TokensUsed.WithLabelValues(rec.Model, "total").Add(float64(rec.Tokens.TotalTokens))
}

// stageDeltas accumulates the persisted counter increments for this
// record. Keys mirror the storage usage hashes.
func (t *Tracker) stageDeltas(rec *RequestRecord) {
	if t.backend == nil {
		return
	}
	add := func(key, field string, delta int64) {
		if delta == 0 {
			return
		}
		m, ok := t.deltas[key]
		if !ok {
			m = make(map[string]int64)
			t.deltas[key] = m
		}
		m[field] += delta
	}

	success, failure := int64(0), int64(0)
	if rec.Success {
		success = 1
	} else {
		failure = 1
	}
	var tokens int64
	if rec.Tokens != nil {
		tokens = rec.Tokens.TotalTokens
	}

	t.deltaMu.Lock()
	defer t.deltaMu.Unlock()
	add("global", "requests", 1)
	add("global", "success", success)
	add("global", "failure", failure)
	add("global", "tokens", tokens)
	if rec.CredentialID != "" {
		key := "credential:" + rec.CredentialID
		add(key, "requests", 1)
		add(key, "success", success)
		add(key, "failure", failure)
		add(key, "tokens", tokens)
		add(key, "daily_usage", success)
	}
	if rec.PipelineID != "" {
		key := "pipeline:" + rec.PipelineID
		add(key, "requests", 1)
		add(key, "failure", failure)
		add(key, "tokens", tokens)
	}
	add("daily:"+rec.Timestamp.Local().Format("2006-01-02"), "requests", 1)
}

// GetStats returns a deep copy of the current statistics.
func (t *Tracker) GetStats() *Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snapshot := &Stats{
		TotalRequests: t.stats.TotalRequests,
		SuccessCount:  t.stats.SuccessCount,
		FailureCount:  t.stats.FailureCount,
		TotalTokens:   t.stats.TotalTokens,
		Credentials:   make(map[string]*CredentialUsage, len(t.stats.Credentials)),
		Pipelines:     make(map[string]*PipelineUsage, len(t.stats.Pipelines)),
		DailyStats:    make(map[string]*DailyStats, len(t.stats.DailyStats)),
		HourlyStats:   make(map[int]*HourlyStats, len(t.stats.HourlyStats)),
		Dialects:      make(map[string]*DialectStats, len(t.stats.Dialects)),
	}
	for k, v := range t.stats.Credentials {
		snapshot.Credentials[k] = v.Snapshot()
	}
	for k, v := range t.stats.Pipelines {
		c := *v
		snapshot.Pipelines[k] = &c
	}
	for k, v := range t.stats.DailyStats {
		c := *v
		snapshot.DailyStats[k] = &c
	}
	for k, v := range t.stats.HourlyStats {
		c := *v
		snapshot.HourlyStats[k] = &c
	}
	for k, v := range t.stats.Dialects {
		dc := &DialectStats{
			Name:          v.Name,
			TotalRequests: v.TotalRequests,
			TotalTokens:   v.TotalTokens,
			Models:        make(map[string]*ModelStats, len(v.Models)),
		}
		for mk, mv := range v.Models {
			mc := *mv
			dc.Models[mk] = &mc
		}
		snapshot.Dialects[k] = dc
	}
	return snapshot
}

// GetCredentialStats returns one credential's usage, or nil.
func (t *Tracker) GetCredentialStats(credentialID string) *CredentialUsage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if cred, ok := t.stats.Credentials[credentialID]; ok {
		return cred.Snapshot()
	}
	return nil
}

// IsQuotaExceeded is the router's quota-admission check.
func (t *Tracker) IsQuotaExceeded(credentialID string) bool {
	t.mu.RLock()
	cred, ok := t.stats.Credentials[credentialID]
	t.mu.RUnlock()
	if !ok {
		return false
	}
	if cred.ShouldResetQuota(time.Now()) {
		cred.ResetQuota(time.Now())
	}
	return cred.IsQuotaExceeded()
}

// SetDailyLimit sets a credential's daily request limit (0 = unlimited)
// and persists the limits document.
func (t *Tracker) SetDailyLimit(ctx context.Context, credentialID string, limit int64) error {
	t.mu.Lock()
	cred, ok := t.stats.Credentials[credentialID]
	if !ok {
		cred = NewCredentialUsage(credentialID)
		t.stats.Credentials[credentialID] = cred
	}
	cred.mu.Lock()
	cred.DailyLimit = limit
	cred.mu.Unlock()
	limits := make(map[string]int64, len(t.stats.Credentials))
	for id, cu := range t.stats.Credentials {
		if cu.DailyLimit > 0 {
			limits[id] = cu.DailyLimit
		}
	}
	t.mu.Unlock()

	return saveLimits(ctx, t.backend, limits)
}

// persistWorker flushes delta batches until stopped.
func (t *Tracker) persistWorker(ctx context.Context) {
	defer t.wg.Done()
	if t.backend == nil {
		return
	}
	ticker := time.NewTicker(persistInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := t.flush(ctx); err != nil {
				log.WithError(err).Error("usage flush failed")
			}
		case <-t.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// flush writes pending deltas through the backend's usage counters.
func (t *Tracker) flush(ctx context.Context) error {
	if t.backend == nil {
		return nil
	}
	t.deltaMu.Lock()
	batch := t.deltas
	t.deltas = make(map[string]map[string]int64)
	t.deltaMu.Unlock()

	var firstErr error
	for key, fields := range batch {
		for field, delta := range fields {
			if err := t.backend.IncrementUsage(ctx, key, field, delta); err != nil {
				if firstErr == nil {
					firstErr = err
				}
			}
		}
	}
	return firstErr
}

// loadFromBackend seeds persisted lifetime counters and daily limits.
// Only credential hashes are re-hydrated; time breakdowns restart empty.
func (t *Tracker) loadFromBackend(ctx context.Context) error {
	if t.backend == nil {
		return nil
	}
	all, err := t.backend.ListUsage(ctx)
	if err != nil {
		return err
	}
	limits, limErr := loadLimits(ctx, t.backend)

	t.mu.Lock()
	defer t.mu.Unlock()
	for key, fields := range all {
		switch {
		case key == "global":
			t.stats.TotalRequests = fields["requests"]
			t.stats.SuccessCount = fields["success"]
			t.stats.FailureCount = fields["failure"]
			t.stats.TotalTokens = fields["tokens"]
		case len(key) > len("credential:") && key[:len("credential:")] == "credential:":
			id := key[len("credential:"):]
			cred := NewCredentialUsage(id)
			cred.TotalCalls = fields["requests"]
			cred.SuccessCalls = fields["success"]
			cred.FailureCalls = fields["failure"]
			cred.TotalTokens = fields["tokens"]
			t.stats.Credentials[id] = cred
		case len(key) > len("pipeline:") && key[:len("pipeline:")] == "pipeline:":
			id := key[len("pipeline:"):]
			t.stats.Pipelines[id] = &PipelineUsage{
				ID:       id,
				Requests: fields["requests"],
				Errors:   fields["failure"],
				Tokens:   fields["tokens"],
			}
		}
	}
	for id, limit := range limits {
		cred, ok := t.stats.Credentials[id]
		if !ok {
			cred = NewCredentialUsage(id)
			t.stats.Credentials[id] = cred
		}
		cred.DailyLimit = limit
	}

	log.WithFields(log.Fields{
		"credentials": len(t.stats.Credentials),
		"pipelines":   len(t.stats.Pipelines),
	}).Info("usage counters loaded from storage")
	return limErr
}
