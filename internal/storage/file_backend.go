package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	storagecommon "routecodex-go/internal/storage/common"
)

// FileBackend is the default backend: four JSON collection files under
// the state directory, rewritten atomically on every mutation.
type FileBackend struct {
	baseDir string
	mu      sync.RWMutex
	states  map[string]json.RawMessage
	health  map[string]json.RawMessage
	usage   map[string]map[string]int64
	docs    map[string]json.RawMessage
}

// NewFileBackend creates a file-based storage backend rooted at baseDir.
func NewFileBackend(baseDir string) *FileBackend {
	return &FileBackend{
		baseDir: baseDir,
		states:  make(map[string]json.RawMessage),
		health:  make(map[string]json.RawMessage),
		usage:   make(map[string]map[string]int64),
		docs:    make(map[string]json.RawMessage),
	}
}

func (f *FileBackend) Initialize(ctx context.Context) error {
	if err := os.MkdirAll(f.baseDir, 0700); err != nil {
		return fmt.Errorf("create state directory %s: %w", f.baseDir, err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loadAll()
}

func (f *FileBackend) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saveAll()
}

func (f *FileBackend) Health(ctx context.Context) error {
	_, err := os.Stat(f.baseDir)
	return err
}

// Credential state operations

func (f *FileBackend) GetCredentialState(ctx context.Context, id string) (json.RawMessage, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	state, exists := f.states[id]
	if !exists {
		return nil, &ErrNotFound{Key: id}
	}
	return state, nil
}

func (f *FileBackend) SetCredentialState(ctx context.Context, id string, state json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.states[id] = state
	return f.saveStates()
}

func (f *FileBackend) DeleteCredentialState(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.states[id]; !ok {
		return &ErrNotFound{Key: id}
	}
	delete(f.states, id)
	return f.saveStates()
}

func (f *FileBackend) ListCredentialStates(ctx context.Context) (map[string]json.RawMessage, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return storagecommon.CloneRawMap(f.states), nil
}

// Health entry operations

func (f *FileBackend) GetHealthEntry(ctx context.Context, key string) (json.RawMessage, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	entry, exists := f.health[key]
	if !exists {
		return nil, &ErrNotFound{Key: key}
	}
	return entry, nil
}

func (f *FileBackend) SetHealthEntry(ctx context.Context, key string, entry json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.health[key] = entry
	return f.saveHealth()
}

func (f *FileBackend) DeleteHealthEntry(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.health[key]; !ok {
		return &ErrNotFound{Key: key}
	}
	delete(f.health, key)
	return f.saveHealth()
}

func (f *FileBackend) ListHealthEntries(ctx context.Context) (map[string]json.RawMessage, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return storagecommon.CloneRawMap(f.health), nil
}

// Usage operations

func (f *FileBackend) IncrementUsage(ctx context.Context, key string, field string, delta int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.usage[key] == nil {
		f.usage[key] = make(map[string]int64)
	}
	f.usage[key][field] += delta
	return f.saveUsage()
}

func (f *FileBackend) GetUsage(ctx context.Context, key string) (map[string]int64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	usage, exists := f.usage[key]
	if !exists {
		return nil, &ErrNotFound{Key: key}
	}
	return storagecommon.CloneCounters(usage), nil
}

func (f *FileBackend) ResetUsage(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.usage, key)
	return f.saveUsage()
}

func (f *FileBackend) ListUsage(ctx context.Context) (map[string]map[string]int64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return storagecommon.CloneUsageMap(f.usage), nil
}

// Config document operations

func (f *FileBackend) GetConfigDoc(ctx context.Context, key string) (json.RawMessage, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	doc, exists := f.docs[key]
	if !exists {
		return nil, &ErrNotFound{Key: key}
	}
	return doc, nil
}

func (f *FileBackend) SetConfigDoc(ctx context.Context, key string, doc json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.docs[key] = doc
	return f.saveDocs()
}

func (f *FileBackend) DeleteConfigDoc(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.docs[key]; !ok {
		return &ErrNotFound{Key: key}
	}
	delete(f.docs, key)
	return f.saveDocs()
}

func (f *FileBackend) ListConfigDocs(ctx context.Context) (map[string]json.RawMessage, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return storagecommon.CloneRawMap(f.docs), nil
}

// Batch operations

func (f *FileBackend) BatchGetCredentialStates(ctx context.Context, ids []string) (map[string]json.RawMessage, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	result := make(map[string]json.RawMessage, len(ids))
	for _, id := range ids {
		if state, exists := f.states[id]; exists {
			result[id] = state
		}
	}
	return result, nil
}

func (f *FileBackend) BatchSetCredentialStates(ctx context.Context, states map[string]json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for id, state := range states {
		f.states[id] = state
	}
	return f.saveStates()
}

func (f *FileBackend) BatchDeleteCredentialStates(ctx context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, id := range ids {
		delete(f.states, id)
	}
	return f.saveStates()
}

// ExportData exports all data for backup
func (f *FileBackend) ExportData(ctx context.Context) (*Export, error) {
	return exportDataCommon(ctx, "file", f)
}

// ImportData imports data from backup
func (f *FileBackend) ImportData(ctx context.Context, data *Export) error {
	if data == nil {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for id, state := range data.CredentialStates {
		f.states[id] = state
	}
	for key, entry := range data.HealthEntries {
		f.health[key] = entry
	}
	for key, fields := range data.Usage {
		if f.usage[key] == nil {
			f.usage[key] = make(map[string]int64)
		}
		for field, value := range fields {
			f.usage[key][field] += value
		}
	}
	for key, doc := range data.ConfigDocs {
		f.docs[key] = doc
	}

	return f.saveAll()
}

// GetStorageStats returns storage statistics
func (f *FileBackend) GetStorageStats(ctx context.Context) (StorageStats, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	stats := StorageStats{
		Backend:              "file",
		Healthy:              true,
		CredentialStateCount: len(f.states),
		HealthEntryCount:     len(f.health),
		UsageKeyCount:        len(f.usage),
		ConfigDocCount:       len(f.docs),
	}

	var totalSize int64
	for _, state := range f.states {
		totalSize += int64(len(state))
	}
	for _, entry := range f.health {
		totalSize += int64(len(entry))
	}
	for _, doc := range f.docs {
		totalSize += int64(len(doc))
	}
	stats.TotalSize = totalSize

	return stats, nil
}
