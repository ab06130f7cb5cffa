package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// The narrow interfaces below let the shared export/import/stats helpers
// work against any backend without requiring the full Backend surface.

type stateLister interface {
	ListCredentialStates(ctx context.Context) (map[string]json.RawMessage, error)
}

type stateBatchSetter interface {
	BatchSetCredentialStates(ctx context.Context, states map[string]json.RawMessage) error
}

type healthLister interface {
	ListHealthEntries(ctx context.Context) (map[string]json.RawMessage, error)
}

type healthWriter interface {
	SetHealthEntry(ctx context.Context, key string, entry json.RawMessage) error
}

type usageLister interface {
	ListUsage(ctx context.Context) (map[string]map[string]int64, error)
}

type usageWriter interface {
	IncrementUsage(ctx context.Context, key string, field string, delta int64) error
}

type docLister interface {
	ListConfigDocs(ctx context.Context) (map[string]json.RawMessage, error)
}

type docWriter interface {
	SetConfigDoc(ctx context.Context, key string, doc json.RawMessage) error
}

type exportBackend interface {
	stateLister
	healthLister
	usageLister
	docLister
}

type importBackend interface {
	stateBatchSetter
	healthWriter
	usageWriter
	docWriter
}

type statsBackend interface {
	stateLister
	healthLister
	usageLister
	docLister
}

func exportDataCommon(ctx context.Context, backendName string, backend exportBackend) (*Export, error) {
	out := &Export{
		Backend:    backendName,
		ExportedAt: time.Now().UTC(),
	}

	states, err := backend.ListCredentialStates(ctx)
	if err != nil {
		return nil, fmt.Errorf("export credential states: %w", err)
	}
	out.CredentialStates = states

	if entries, err := backend.ListHealthEntries(ctx); err == nil {
		out.HealthEntries = entries
	} else if !IsNotSupported(err) {
		return nil, fmt.Errorf("export health entries: %w", err)
	}

	if usage, err := backend.ListUsage(ctx); err == nil {
		out.Usage = usage
	} else if !IsNotSupported(err) {
		return nil, fmt.Errorf("export usage: %w", err)
	}

	if docs, err := backend.ListConfigDocs(ctx); err == nil {
		out.ConfigDocs = docs
	} else if !IsNotSupported(err) {
		return nil, fmt.Errorf("export config docs: %w", err)
	}

	return out, nil
}

func importDataCommon(ctx context.Context, backend importBackend, data *Export) error {
	if data == nil {
		return nil
	}

	if len(data.CredentialStates) > 0 {
		if err := backend.BatchSetCredentialStates(ctx, data.CredentialStates); err != nil {
			return fmt.Errorf("import credential states: %w", err)
		}
	}

	for key, entry := range data.HealthEntries {
		if err := backend.SetHealthEntry(ctx, key, entry); err != nil {
			if IsNotSupported(err) {
				break
			}
			return fmt.Errorf("import health entry %s: %w", key, err)
		}
	}

	for key, fields := range data.Usage {
		for field, value := range fields {
			if err := backend.IncrementUsage(ctx, key, field, value); err != nil {
				if IsNotSupported(err) {
					break
				}
				return fmt.Errorf("import usage %s/%s: %w", key, field, err)
			}
		}
	}

	for key, doc := range data.ConfigDocs {
		if err := backend.SetConfigDoc(ctx, key, doc); err != nil {
			if IsNotSupported(err) {
				break
			}
			return fmt.Errorf("import config doc %s: %w", key, err)
		}
	}

	return nil
}

func storageStatsCommon(ctx context.Context, backendName string, backend statsBackend) (StorageStats, error) {
	stats := StorageStats{
		Backend: backendName,
		Healthy: true,
	}

	states, err := backend.ListCredentialStates(ctx)
	if err != nil {
		stats.Healthy = false
		return stats, err
	}
	stats.CredentialStateCount = len(states)

	if entries, err := backend.ListHealthEntries(ctx); err == nil {
		stats.HealthEntryCount = len(entries)
	}
	if usage, err := backend.ListUsage(ctx); err == nil {
		stats.UsageKeyCount = len(usage)
	}
	if docs, err := backend.ListConfigDocs(ctx); err == nil {
		stats.ConfigDocCount = len(docs)
	}

	return stats, nil
}
