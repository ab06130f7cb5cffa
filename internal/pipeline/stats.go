package pipeline

import (
	"sync/atomic"
	"time"
)

// Stats holds per-pipeline execution counters. All fields are atomics;
// the struct is embedded by value and must not be copied after first use.
type Stats struct {
	totalReq  atomic.Int64
	totalErr  atomic.Int64
	lastReqMs atomic.Int64 // unix millis of the most recent execution start
	lastLatMs atomic.Int64
	inFlight  atomic.Int64
}

// StatsSnapshot is the JSON-friendly copy served to management callers.
type StatsSnapshot struct {
	TotalRequests int64     `json:"totalRequests"`
	TotalErrors   int64     `json:"totalErrors"`
	InFlight      int64     `json:"inFlight"`
	LastRequestAt time.Time `json:"lastRequestAt,omitempty"`
	LastLatencyMs int64     `json:"lastLatencyMs"`
}

func (s *Stats) begin(now time.Time) {
	s.totalReq.Add(1)
	s.inFlight.Add(1)
	s.lastReqMs.Store(now.UnixMilli())
}

func (s *Stats) finish(d time.Duration, ok bool) {
	s.inFlight.Add(-1)
	s.lastLatMs.Store(d.Milliseconds())
	if !ok {
		s.totalErr.Add(1)
	}
}

func (s *Stats) snapshot() StatsSnapshot {
	snap := StatsSnapshot{
		TotalRequests: s.totalReq.Load(),
		TotalErrors:   s.totalErr.Load(),
		InFlight:      s.inFlight.Load(),
		LastLatencyMs: s.lastLatMs.Load(),
	}
	if ms := s.lastReqMs.Load(); ms > 0 {
		snap.LastRequestAt = time.UnixMilli(ms)
	}
	return snap
}

// LastUsedUnixMs feeds the router's least-recent-use tie-break. Zero means
// the pipeline has never served a request under this assembly.
func (p *Pipeline) LastUsedUnixMs() int64 { return p.stats.lastReqMs.Load() }
