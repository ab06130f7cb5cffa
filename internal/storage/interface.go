package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Backend persists gateway runtime state across restarts: credential
// runtime state, provider health entries, usage counters, and
// management-edited config documents. Payloads are raw JSON documents;
// callers own the schema.
type Backend interface {
	// Initialize sets up the storage backend
	Initialize(ctx context.Context) error

	// Close closes the storage backend
	Close() error

	// Health checks if the storage backend is healthy
	Health(ctx context.Context) error

	// Credential runtime state (failure counters, block state, last refresh)
	GetCredentialState(ctx context.Context, id string) (json.RawMessage, error)
	SetCredentialState(ctx context.Context, id string, state json.RawMessage) error
	DeleteCredentialState(ctx context.Context, id string) error
	ListCredentialStates(ctx context.Context) (map[string]json.RawMessage, error)

	// Provider health entries, keyed by provider/credential
	GetHealthEntry(ctx context.Context, key string) (json.RawMessage, error)
	SetHealthEntry(ctx context.Context, key string, entry json.RawMessage) error
	DeleteHealthEntry(ctx context.Context, key string) error
	ListHealthEntries(ctx context.Context) (map[string]json.RawMessage, error)

	// Usage counters, one hash of int64 fields per key
	IncrementUsage(ctx context.Context, key string, field string, delta int64) error
	GetUsage(ctx context.Context, key string) (map[string]int64, error)
	ResetUsage(ctx context.Context, key string) error
	ListUsage(ctx context.Context) (map[string]map[string]int64, error)

	// Config documents (model capability overrides and other
	// management-edited settings)
	GetConfigDoc(ctx context.Context, key string) (json.RawMessage, error)
	SetConfigDoc(ctx context.Context, key string, doc json.RawMessage) error
	DeleteConfigDoc(ctx context.Context, key string) error
	ListConfigDocs(ctx context.Context) (map[string]json.RawMessage, error)

	// Batch operations for performance
	BatchGetCredentialStates(ctx context.Context, ids []string) (map[string]json.RawMessage, error)
	BatchSetCredentialStates(ctx context.Context, states map[string]json.RawMessage) error
	BatchDeleteCredentialStates(ctx context.Context, ids []string) error

	// Backup and migration support
	ExportData(ctx context.Context) (*Export, error)
	ImportData(ctx context.Context, data *Export) error

	// Storage metrics and monitoring
	GetStorageStats(ctx context.Context) (StorageStats, error)
}

// ErrNotFound is returned when a key is not found
type ErrNotFound struct {
	Key string
}

func (e *ErrNotFound) Error() string {
	return "key not found: " + e.Key
}

// ErrNotSupported is returned when an operation is not supported by the
// selected backend. Callers degrade gracefully.
type ErrNotSupported struct {
	Operation string
}

func (e *ErrNotSupported) Error() string {
	return "operation not supported: " + e.Operation
}

// IsNotFound reports whether err is an ErrNotFound.
func IsNotFound(err error) bool {
	var nf *ErrNotFound
	return errors.As(err, &nf)
}

// IsNotSupported reports whether err is an ErrNotSupported.
func IsNotSupported(err error) bool {
	var ns *ErrNotSupported
	return errors.As(err, &ns)
}

// Export is the JSON round-trip document used by backup and migration
// tooling. Every backend produces and consumes the same shape.
type Export struct {
	Backend          string                      `json:"backend"`
	ExportedAt       time.Time                   `json:"exported_at"`
	CredentialStates map[string]json.RawMessage  `json:"credential_states"`
	HealthEntries    map[string]json.RawMessage  `json:"health_entries"`
	Usage            map[string]map[string]int64 `json:"usage"`
	ConfigDocs       map[string]json.RawMessage  `json:"config_docs"`
}

// StorageStats provides storage backend statistics
type StorageStats struct {
	Backend              string                 `json:"backend"`
	Healthy              bool                   `json:"healthy"`
	CredentialStateCount int                    `json:"credential_state_count"`
	HealthEntryCount     int                    `json:"health_entry_count"`
	UsageKeyCount        int                    `json:"usage_key_count"`
	ConfigDocCount       int                    `json:"config_doc_count"`
	TotalSize            int64                  `json:"total_size_bytes,omitempty"`
	Details              map[string]interface{} `json:"details,omitempty"`
}
