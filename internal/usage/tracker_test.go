package usage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"routecodex-go/internal/storage"
)

func record(cred, pipeline string, success bool, tokens int64) *RequestRecord {
	rec := &RequestRecord{
		Timestamp:    time.Now(),
		RequestID:    "req-test",
		CredentialID: cred,
		PipelineID:   pipeline,
		Category:     "default",
		Dialect:      "openai",
		Model:        "gpt-4o",
		Success:      success,
		StatusCode:   200,
		DurationMs:   120,
	}
	if !success {
		rec.StatusCode = 500
	}
	if tokens > 0 {
		rec.Tokens = &TokenUsage{InputTokens: tokens / 2, OutputTokens: tokens / 2, TotalTokens: tokens}
	}
	return rec
}

func TestTrackerRecordAggregates(t *testing.T) {
	tr := NewTracker(nil)

	tr.Record(record("cred-a", "pipe-1", true, 100))
	tr.Record(record("cred-a", "pipe-1", true, 60))
	tr.Record(record("cred-b", "pipe-2", false, 0))

	stats := tr.GetStats()
	assert.Equal(t, int64(3), stats.TotalRequests)
	assert.Equal(t, int64(2), stats.SuccessCount)
	assert.Equal(t, int64(1), stats.FailureCount)
	assert.Equal(t, int64(160), stats.TotalTokens)

	credA := stats.Credentials["cred-a"]
	require.NotNil(t, credA)
	assert.Equal(t, int64(2), credA.TotalCalls)
	assert.Equal(t, int64(2), credA.SuccessCalls)
	assert.Equal(t, int64(160), credA.TotalTokens)
	assert.Equal(t, int64(2), credA.DailyUsage)

	credB := stats.Credentials["cred-b"]
	require.NotNil(t, credB)
	assert.Equal(t, int64(1), credB.FailureCalls)
	assert.Equal(t, int64(0), credB.DailyUsage)

	pipe1 := stats.Pipelines["pipe-1"]
	require.NotNil(t, pipe1)
	assert.Equal(t, int64(2), pipe1.Requests)
	assert.Equal(t, int64(0), pipe1.Errors)
	assert.Equal(t, int64(120), pipe1.AvgLatency)

	dialect := stats.Dialects["openai"]
	require.NotNil(t, dialect)
	assert.Equal(t, int64(3), dialect.TotalRequests)
	model := dialect.Models["gpt-4o"]
	require.NotNil(t, model)
	assert.Equal(t, int64(3), model.Calls)
}

func TestTrackerTimeBreakdowns(t *testing.T) {
	tr := NewTracker(nil)
	tr.Record(record("cred-a", "pipe-1", true, 10))

	stats := tr.GetStats()
	dateKey := time.Now().Local().Format("2006-01-02")
	daily := stats.DailyStats[dateKey]
	require.NotNil(t, daily)
	assert.Equal(t, int64(1), daily.Requests)
	assert.Equal(t, int64(1), daily.Success)

	hourly := stats.HourlyStats[time.Now().Local().Hour()]
	require.NotNil(t, hourly)
	assert.Equal(t, int64(1), hourly.Requests)
}

func TestTrackerQuota(t *testing.T) {
	tr := NewTracker(nil)
	ctx := context.Background()

	require.NoError(t, tr.SetDailyLimit(ctx, "cred-a", 2))
	assert.False(t, tr.IsQuotaExceeded("cred-a"))

	tr.Record(record("cred-a", "pipe-1", true, 10))
	assert.False(t, tr.IsQuotaExceeded("cred-a"))

	tr.Record(record("cred-a", "pipe-1", true, 10))
	assert.True(t, tr.IsQuotaExceeded("cred-a"))

	// failures do not consume daily quota
	tr.Record(record("cred-a", "pipe-1", false, 0))
	cred := tr.GetCredentialStats("cred-a")
	require.NotNil(t, cred)
	assert.Equal(t, int64(2), cred.DailyUsage)

	// unknown and unlimited credentials are never rejected
	assert.False(t, tr.IsQuotaExceeded("cred-missing"))
	require.NoError(t, tr.SetDailyLimit(ctx, "cred-a", 0))
	assert.False(t, tr.IsQuotaExceeded("cred-a"))
}

func TestQuotaResetsAtLocalMidnight(t *testing.T) {
	cu := NewCredentialUsage("cred-a")
	cu.DailyLimit = 1
	cu.DailyUsage = 1
	assert.True(t, cu.IsQuotaExceeded())

	now := time.Now()
	assert.False(t, cu.ShouldResetQuota(now))
	assert.True(t, cu.ShouldResetQuota(nextLocalMidnight(now)))
	assert.True(t, cu.ShouldResetQuota(nextLocalMidnight(now).Add(time.Minute)))

	cu.ResetQuota(nextLocalMidnight(now))
	assert.False(t, cu.IsQuotaExceeded())
	assert.Equal(t, int64(0), cu.DailyUsage)
}

func TestTrackerPersistRoundTrip(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewFileBackend(t.TempDir())
	require.NoError(t, backend.Initialize(ctx))
	defer backend.Close()

	tr := NewTracker(backend)
	require.NoError(t, tr.Start(ctx))
	tr.Record(record("cred-a", "pipe-1", true, 100))
	tr.Record(record("cred-a", "pipe-1", false, 0))
	require.NoError(t, tr.SetDailyLimit(ctx, "cred-a", 50))
	require.NoError(t, tr.Stop(ctx))

	reloaded := NewTracker(backend)
	require.NoError(t, reloaded.Start(ctx))
	defer reloaded.Stop(ctx)

	stats := reloaded.GetStats()
	assert.Equal(t, int64(2), stats.TotalRequests)
	assert.Equal(t, int64(1), stats.SuccessCount)
	assert.Equal(t, int64(1), stats.FailureCount)
	assert.Equal(t, int64(100), stats.TotalTokens)

	cred := reloaded.GetCredentialStats("cred-a")
	require.NotNil(t, cred)
	assert.Equal(t, int64(2), cred.TotalCalls)
	assert.Equal(t, int64(50), cred.DailyLimit)

	pipe := stats.Pipelines["pipe-1"]
	require.NotNil(t, pipe)
	assert.Equal(t, int64(2), pipe.Requests)
	assert.Equal(t, int64(1), pipe.Errors)
}

func TestGetStatsReturnsCopy(t *testing.T) {
	tr := NewTracker(nil)
	tr.Record(record("cred-a", "pipe-1", true, 10))

	snap := tr.GetStats()
	snap.TotalRequests = 999
	snap.Credentials["cred-a"].TotalCalls = 999

	fresh := tr.GetStats()
	assert.Equal(t, int64(1), fresh.TotalRequests)
	assert.Equal(t, int64(1), fresh.Credentials["cred-a"].TotalCalls)
}
