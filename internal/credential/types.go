package credential

import (
	"context"
	"time"

	"routecodex-go/internal/config"
)

// State is the lifecycle state of a credential inside the store.
type State string

const (
	// StateReady means the secret is usable right now.
	StateReady State = "ready"
	// StateRefreshing means a refresh is in flight; the previous secret
	// stays readable until the refresh lands.
	StateRefreshing State = "refreshing"
	// StateBlocked means the store cannot produce a usable secret
	// (refresh failed, token file unparseable, operator disabled).
	StateBlocked State = "blocked"
)

// Block reasons used by the store itself.
const (
	BlockReasonRefreshFailed   = "refresh_failed"
	BlockReasonTokenParse      = "token_parse_failed"
	BlockReasonMissingSecret   = "missing_secret"
	BlockReasonOperatorDisable = "disabled_by_operator"
)

// Snapshot is the non-blocking read handle handed to the provider stage.
// It carries the current secret and enough state for admission decisions;
// it never reaches logs unredacted.
type Snapshot struct {
	ID         string
	ProviderID string
	AuthKind   config.AuthKind
	Alias      string

	State       State
	Disabled    bool
	BlockReason string

	Secret    string    // API key literal or current access token
	TokenType string    // oauth only, usually "Bearer"
	ExpiresAt time.Time // zero for non-expiring secrets

	LastRefreshAt   time.Time
	RefreshFailures int
}

// Usable reports whether the snapshot can authenticate a request now.
// A refreshing credential keeps serving its previous secret.
func (s Snapshot) Usable() bool {
	if s.Disabled || s.State == StateBlocked {
		return false
	}
	if s.AuthKind == config.AuthKindNone {
		return true
	}
	return s.Secret != ""
}

// StoredState captures the mutable runtime fields persisted across
// restarts. Secrets are never part of it.
type StoredState struct {
	Disabled        bool      `json:"disabled"`
	Blocked         bool      `json:"blocked"`
	BlockReason     string    `json:"blockReason,omitempty"`
	LastRefreshAt   time.Time `json:"lastRefreshAt,omitempty"`
	RefreshFailures int       `json:"refreshFailures"`
	TotalRefreshes  int64     `json:"totalRefreshes"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// StatePersister stores per-credential runtime state across restarts.
// Implemented by the storage package; a nil persister disables sync.
type StatePersister interface {
	LoadCredentialStates(ctx context.Context) (map[string]StoredState, error)
	SaveCredentialState(ctx context.Context, id string, st StoredState) error
	DeleteCredentialState(ctx context.Context, id string) error
}
