package usage

import (
	"sync"
	"time"
)

// Stats aggregates gateway usage since the last reset: global counters
// plus per-credential, per-pipeline, per-day, per-hour and per-dialect
// breakdowns. All mutation goes through the Tracker.
type Stats struct {
	TotalRequests int64 `json:"total_requests"`
	SuccessCount  int64 `json:"success_count"`
	FailureCount  int64 `json:"failure_count"`
	TotalTokens   int64 `json:"total_tokens"`

	Credentials map[string]*CredentialUsage `json:"credentials"`
	Pipelines   map[string]*PipelineUsage   `json:"pipelines"`

	DailyStats  map[string]*DailyStats `json:"daily_stats"`  // key: "2026-08-25"
	HourlyStats map[int]*HourlyStats   `json:"hourly_stats"` // key: 0-23

	Dialects map[string]*DialectStats `json:"dialects"` // key: client dialect
}

// CredentialUsage tracks one credential's lifetime counters and its daily
// quota window. The daily window resets at local midnight.
type CredentialUsage struct {
	ID              string                 `json:"id"`
	TotalCalls      int64                  `json:"total_calls"`
	SuccessCalls    int64                  `json:"success_calls"`
	FailureCalls    int64                  `json:"failure_calls"`
	TotalTokens     int64                  `json:"total_tokens"`
	InputTokens     int64                  `json:"input_tokens"`
	OutputTokens    int64                  `json:"output_tokens"`
	ReasoningTokens int64                  `json:"reasoning_tokens"`
	CachedTokens    int64                  `json:"cached_tokens"`
	DailyLimit      int64                  `json:"daily_limit"`
	DailyUsage      int64                  `json:"daily_usage"`
	QuotaResetTime  time.Time              `json:"quota_reset_time"`
	LastUsed        time.Time              `json:"last_used"`
	ModelBreakdown  map[string]*ModelStats `json:"model_breakdown"`
	mu              sync.RWMutex
}

// PipelineUsage tracks one pipeline target's counters.
type PipelineUsage struct {
	ID         string    `json:"id"`
	Requests   int64     `json:"requests"`
	Errors     int64     `json:"errors"`
	Tokens     int64     `json:"tokens"`
	LastUsed   time.Time `json:"last_used"`
	AvgLatency int64     `json:"avg_latency_ms"`
	latencySum int64
}

// ModelStats tracks usage for a specific model under one credential.
type ModelStats struct {
	ModelName       string    `json:"model_name"`
	Calls           int64     `json:"calls"`
	Tokens          int64     `json:"tokens"`
	InputTokens     int64     `json:"input_tokens"`
	OutputTokens    int64     `json:"output_tokens"`
	ReasoningTokens int64     `json:"reasoning_tokens"`
	CachedTokens    int64     `json:"cached_tokens"`
	LastUsed        time.Time `json:"last_used"`
}

// DailyStats tracks counters for one calendar day (local time).
type DailyStats struct {
	Date     string `json:"date"` // "2026-08-25"
	Requests int64  `json:"requests"`
	Tokens   int64  `json:"tokens"`
	Success  int64  `json:"success"`
	Failure  int64  `json:"failure"`
}

// HourlyStats tracks counters for one hour of day (0-23, local time).
type HourlyStats struct {
	Hour     int   `json:"hour"`
	Requests int64 `json:"requests"`
	Tokens   int64 `json:"tokens"`
	Success  int64 `json:"success"`
	Failure  int64 `json:"failure"`
}

// DialectStats tracks counters per client surface.
type DialectStats struct {
	Name          string                 `json:"name"`
	TotalRequests int64                  `json:"total_requests"`
	TotalTokens   int64                  `json:"total_tokens"`
	Models        map[string]*ModelStats `json:"models"`
}

// TokenUsage is the token consumption of a single request.
type TokenUsage struct {
	InputTokens     int64 `json:"input_tokens"`
	OutputTokens    int64 `json:"output_tokens"`
	ReasoningTokens int64 `json:"reasoning_tokens"`
	CachedTokens    int64 `json:"cached_tokens"`
	TotalTokens     int64 `json:"total_tokens"`
}

// RequestRecord is one completed request reported to the tracker.
type RequestRecord struct {
	Timestamp    time.Time   `json:"timestamp"`
	RequestID    string      `json:"request_id"`
	CredentialID string      `json:"credential_id"`
	PipelineID   string      `json:"pipeline_id"`
	Category     string      `json:"category"`
	Dialect      string      `json:"dialect"`
	Model        string      `json:"model"`
	Success      bool        `json:"success"`
	StatusCode   int         `json:"status_code"`
	DurationMs   int64       `json:"duration_ms"`
	Tokens       *TokenUsage `json:"tokens,omitempty"`
}

func NewStats() *Stats {
	return &Stats{
		Credentials: make(map[string]*CredentialUsage),
		Pipelines:   make(map[string]*PipelineUsage),
		DailyStats:  make(map[string]*DailyStats),
		HourlyStats: make(map[int]*HourlyStats),
		Dialects:    make(map[string]*DialectStats),
	}
}

func NewCredentialUsage(id string) *CredentialUsage {
	return &CredentialUsage{
		ID:             id,
		ModelBreakdown: make(map[string]*ModelStats),
		QuotaResetTime: nextLocalMidnight(time.Now()),
	}
}

func NewModelStats(modelName string) *ModelStats {
	return &ModelStats{ModelName: modelName}
}

func NewDialectStats(name string) *DialectStats {
	return &DialectStats{Name: name, Models: make(map[string]*ModelStats)}
}

// nextLocalMidnight is the start of the next local calendar day; the
// daily quota window flips there.
func nextLocalMidnight(now time.Time) time.Time {
	now = now.Local()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
}

// ShouldResetQuota reports whether the daily window has lapsed.
func (cu *CredentialUsage) ShouldResetQuota(now time.Time) bool {
	cu.mu.RLock()
	defer cu.mu.RUnlock()
	return !now.Before(cu.QuotaResetTime)
}

// ResetQuota zeroes the daily window and schedules the next flip.
func (cu *CredentialUsage) ResetQuota(now time.Time) {
	cu.mu.Lock()
	defer cu.mu.Unlock()
	cu.DailyUsage = 0
	cu.QuotaResetTime = nextLocalMidnight(now)
}

// IsQuotaExceeded reports whether the daily limit is spent. A zero limit
// means unlimited.
func (cu *CredentialUsage) IsQuotaExceeded() bool {
	cu.mu.RLock()
	defer cu.mu.RUnlock()
	if cu.DailyLimit <= 0 {
		return false
	}
	return cu.DailyUsage >= cu.DailyLimit
}

// increment applies one request to the credential's counters.
func (cu *CredentialUsage) increment(rec *RequestRecord) {
	cu.mu.Lock()
	defer cu.mu.Unlock()

	cu.TotalCalls++
	if rec.Success {
		cu.SuccessCalls++
		cu.DailyUsage++
	} else {
		cu.FailureCalls++
	}
	if rec.Tokens != nil {
		cu.TotalTokens += rec.Tokens.TotalTokens
		cu.InputTokens += rec.Tokens.InputTokens
		cu.OutputTokens += rec.Tokens.OutputTokens
		cu.ReasoningTokens += rec.Tokens.ReasoningTokens
		cu.CachedTokens += rec.Tokens.CachedTokens
	}
	cu.LastUsed = rec.Timestamp

	if rec.Model != "" {
		ms, ok := cu.ModelBreakdown[rec.Model]
		if !ok {
			ms = NewModelStats(rec.Model)
			cu.ModelBreakdown[rec.Model] = ms
		}
		ms.Calls++
		if rec.Tokens != nil {
			ms.Tokens += rec.Tokens.TotalTokens
			ms.InputTokens += rec.Tokens.InputTokens
			ms.OutputTokens += rec.Tokens.OutputTokens
			ms.ReasoningTokens += rec.Tokens.ReasoningTokens
			ms.CachedTokens += rec.Tokens.CachedTokens
		}
		ms.LastUsed = rec.Timestamp
	}
}

// Snapshot returns a deep read-only copy.
func (cu *CredentialUsage) Snapshot() *CredentialUsage {
	cu.mu.RLock()
	defer cu.mu.RUnlock()

	out := &CredentialUsage{
		ID:              cu.ID,
		TotalCalls:      cu.TotalCalls,
		SuccessCalls:    cu.SuccessCalls,
		FailureCalls:    cu.FailureCalls,
		TotalTokens:     cu.TotalTokens,
		InputTokens:     cu.InputTokens,
		OutputTokens:    cu.OutputTokens,
		ReasoningTokens: cu.ReasoningTokens,
		CachedTokens:    cu.CachedTokens,
		DailyLimit:      cu.DailyLimit,
		DailyUsage:      cu.DailyUsage,
		QuotaResetTime:  cu.QuotaResetTime,
		LastUsed:        cu.LastUsed,
		ModelBreakdown:  make(map[string]*ModelStats, len(cu.ModelBreakdown)),
	}
	for k, v := range cu.ModelBreakdown {
		c := *v
		out.ModelBreakdown[k] = &c
	}
	return out
}
