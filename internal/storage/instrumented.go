package storage

import (
	"context"
	"encoding/json"
	"time"

	"routecodex-go/internal/monitoring"
	storagecommon "routecodex-go/internal/storage/common"
)

const defaultOpTimeout = 10 * time.Second

// poolStatser is implemented by backends that have a connection pool.
type poolStatser interface {
	PoolStats(ctx context.Context) (monitoring.StoragePoolStats, error)
}

// instrumentedBackend wraps a Backend so every operation is timed,
// capped by a default timeout and reported to monitoring. Lookup misses
// and unsupported operations do not count as errors.
type instrumentedBackend struct {
	inner   Backend
	backend string
}

// Instrument decorates a backend with metrics and timeouts. The backend
// label names the backend actually serving, so after a degrade the
// series switch to "file" and dashboards show the truth.
func Instrument(inner Backend, backend string) Backend {
	return &instrumentedBackend{inner: inner, backend: backend}
}

func (b *instrumentedBackend) observe(op string, dur time.Duration, err error) {
	monitoring.StorageOperationDuration.WithLabelValues(b.backend, op).Observe(dur.Seconds())
	if err != nil {
		if IsNotFound(err) || IsNotSupported(err) {
			err = nil
		} else {
			monitoring.StorageOperationErrors.WithLabelValues(b.backend, op).Inc()
		}
	}
	if m := monitoring.DefaultMetrics(); m != nil {
		m.RecordStorageOperation(b.backend, op, dur, err)
	}
}

func run[T any](b *instrumentedBackend, ctx context.Context, op string, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := storagecommon.WithStorageTimeout(ctx, defaultOpTimeout)
	defer cancel()

	start := time.Now()
	out, err := fn(ctx)
	b.observe(op, time.Since(start), err)
	return out, err
}

func runErr(b *instrumentedBackend, ctx context.Context, op string, fn func(context.Context) error) error {
	_, err := run(b, ctx, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func (b *instrumentedBackend) Initialize(ctx context.Context) error {
	return runErr(b, ctx, "initialize", b.inner.Initialize)
}

func (b *instrumentedBackend) Close() error {
	start := time.Now()
	err := b.inner.Close()
	b.observe("close", time.Since(start), err)
	return err
}

func (b *instrumentedBackend) Health(ctx context.Context) error {
	return runErr(b, ctx, "health", b.inner.Health)
}

func (b *instrumentedBackend) GetCredentialState(ctx context.Context, id string) (json.RawMessage, error) {
	return run(b, ctx, "get_credential_state", func(ctx context.Context) (json.RawMessage, error) {
		return b.inner.GetCredentialState(ctx, id)
	})
}

func (b *instrumentedBackend) SetCredentialState(ctx context.Context, id string, state json.RawMessage) error {
	return runErr(b, ctx, "set_credential_state", func(ctx context.Context) error {
		return b.inner.SetCredentialState(ctx, id, state)
	})
}

func (b *instrumentedBackend) DeleteCredentialState(ctx context.Context, id string) error {
	return runErr(b, ctx, "delete_credential_state", func(ctx context.Context) error {
		return b.inner.DeleteCredentialState(ctx, id)
	})
}

func (b *instrumentedBackend) ListCredentialStates(ctx context.Context) (map[string]json.RawMessage, error) {
	return run(b, ctx, "list_credential_states", b.inner.ListCredentialStates)
}

func (b *instrumentedBackend) GetHealthEntry(ctx context.Context, key string) (json.RawMessage, error) {
	return run(b, ctx, "get_health_entry", func(ctx context.Context) (json.RawMessage, error) {
		return b.inner.GetHealthEntry(ctx, key)
	})
}

func (b *instrumentedBackend) SetHealthEntry(ctx context.Context, key string, entry json.RawMessage) error {
	return runErr(b, ctx, "set_health_entry", func(ctx context.Context) error {
		return b.inner.SetHealthEntry(ctx, key, entry)
	})
}

func (b *instrumentedBackend) DeleteHealthEntry(ctx context.Context, key string) error {
	return runErr(b, ctx, "delete_health_entry", func(ctx context.Context) error {
		return b.inner.DeleteHealthEntry(ctx, key)
	})
}

func (b *instrumentedBackend) ListHealthEntries(ctx context.Context) (map[string]json.RawMessage, error) {
	return run(b, ctx, "list_health_entries", b.inner.ListHealthEntries)
}

func (b *instrumentedBackend) IncrementUsage(ctx context.Context, key string, field string, delta int64) error {
	return runErr(b, ctx, "increment_usage", func(ctx context.Context) error {
		return b.inner.IncrementUsage(ctx, key, field, delta)
	})
}

func (b *instrumentedBackend) GetUsage(ctx context.Context, key string) (map[string]int64, error) {
	return run(b, ctx, "get_usage", func(ctx context.Context) (map[string]int64, error) {
		return b.inner.GetUsage(ctx, key)
	})
}

func (b *instrumentedBackend) ResetUsage(ctx context.Context, key string) error {
	return runErr(b, ctx, "reset_usage", func(ctx context.Context) error {
		return b.inner.ResetUsage(ctx, key)
	})
}

func (b *instrumentedBackend) ListUsage(ctx context.Context) (map[string]map[string]int64, error) {
	return run(b, ctx, "list_usage", b.inner.ListUsage)
}

func (b *instrumentedBackend) GetConfigDoc(ctx context.Context, key string) (json.RawMessage, error) {
	return run(b, ctx, "get_config_doc", func(ctx context.Context) (json.RawMessage, error) {
		return b.inner.GetConfigDoc(ctx, key)
	})
}

func (b *instrumentedBackend) SetConfigDoc(ctx context.Context, key string, doc json.RawMessage) error {
	return runErr(b, ctx, "set_config_doc", func(ctx context.Context) error {
		return b.inner.SetConfigDoc(ctx, key, doc)
	})
}

func (b *instrumentedBackend) DeleteConfigDoc(ctx context.Context, key string) error {
	return runErr(b, ctx, "delete_config_doc", func(ctx context.Context) error {
		return b.inner.DeleteConfigDoc(ctx, key)
	})
}

func (b *instrumentedBackend) ListConfigDocs(ctx context.Context) (map[string]json.RawMessage, error) {
	return run(b, ctx, "list_config_docs", b.inner.ListConfigDocs)
}

func (b *instrumentedBackend) BatchGetCredentialStates(ctx context.Context, ids []string) (map[string]json.RawMessage, error) {
	return run(b, ctx, "batch_get_credential_states", func(ctx context.Context) (map[string]json.RawMessage, error) {
		return b.inner.BatchGetCredentialStates(ctx, ids)
	})
}

func (b *instrumentedBackend) BatchSetCredentialStates(ctx context.Context, states map[string]json.RawMessage) error {
	return runErr(b, ctx, "batch_set_credential_states", func(ctx context.Context) error {
		return b.inner.BatchSetCredentialStates(ctx, states)
	})
}

func (b *instrumentedBackend) BatchDeleteCredentialStates(ctx context.Context, ids []string) error {
	return runErr(b, ctx, "batch_delete_credential_states", func(ctx context.Context) error {
		return b.inner.BatchDeleteCredentialStates(ctx, ids)
	})
}

func (b *instrumentedBackend) ExportData(ctx context.Context) (*Export, error) {
	return run(b, ctx, "export", b.inner.ExportData)
}

func (b *instrumentedBackend) ImportData(ctx context.Context, data *Export) error {
	return runErr(b, ctx, "import", func(ctx context.Context) error {
		return b.inner.ImportData(ctx, data)
	})
}

// GetStorageStats also refreshes connection pool gauges for backends
// that expose them, so a stats poll keeps the pool numbers current.
func (b *instrumentedBackend) GetStorageStats(ctx context.Context) (StorageStats, error) {
	stats, err := run(b, ctx, "stats", b.inner.GetStorageStats)
	if err != nil {
		return stats, err
	}
	if ps, ok := b.inner.(poolStatser); ok {
		if pool, perr := ps.PoolStats(ctx); perr == nil {
			if m := monitoring.DefaultMetrics(); m != nil {
				m.UpdateStoragePoolStats(b.backend, pool)
			}
		}
	}
	return stats, nil
}
