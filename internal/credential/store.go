package credential

import (
	"context"
	"errors"
	"os"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"routecodex-go/internal/config"
	"routecodex-go/internal/constants"
	"routecodex-go/internal/events"
	"routecodex-go/internal/health"
	"routecodex-go/internal/logging"
	"routecodex-go/internal/oauth"
)

// ErrUnknownCredential is returned for IDs absent from the active config.
var ErrUnknownCredential = errors.New("unknown credential")

// StateChangeFunc observes credential state transitions.
type StateChangeFunc func(id string, from, to State)

// Options configures a Store.
type Options struct {
	OAuth     *oauth.Client
	Hub       *events.Hub
	Persister StatePersister
	// RefreshSkew is how long before expiry a token counts as stale.
	RefreshSkew time.Duration
	Now         func() time.Time
}

type record struct {
	def       config.CredentialDef
	endpoints config.OAuthEndpoints

	mu              sync.RWMutex
	state           State
	disabled        bool
	blockReason     string
	secret          string
	token           *oauth.Token
	lastRefreshAt   time.Time
	refreshFailures int
	totalRefreshes  int64
}

func (r *record) snapshotLocked() Snapshot {
	snap := Snapshot{
		ID:              r.def.ID,
		ProviderID:      r.def.ProviderID,
		AuthKind:        r.def.AuthKind,
		Alias:           r.def.Alias,
		State:           r.state,
		Disabled:        r.disabled,
		BlockReason:     r.blockReason,
		Secret:          r.secret,
		LastRefreshAt:   r.lastRefreshAt,
		RefreshFailures: r.refreshFailures,
	}
	if r.token != nil {
		snap.TokenType = r.token.TokenType
		snap.ExpiresAt = r.token.ExpiresAt
	}
	return snap
}

func (r *record) snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

// Store owns every credential referenced by the active RuntimeConfig. It
// keeps secrets out of logs, refreshes OAuth tokens with at most one
// in-flight refresh per credential, and persists runtime state.
type Store struct {
	mu      sync.RWMutex
	records map[string]*record
	order   []string

	coord     *InflightCoordinator
	oauth     *oauth.Client
	hub       *events.Hub
	persister StatePersister
	skew      time.Duration
	now       func() time.Time

	cbMu      sync.RWMutex
	callbacks []StateChangeFunc

	watchOnce sync.Once
	reloadCh  chan struct{}
}

// NewStore loads every credential declared in rc. A token file that fails
// to parse blocks only that credential; the store still starts.
func NewStore(rc *config.RuntimeConfig, opts Options) *Store {
	s := &Store{
		records:   make(map[string]*record),
		coord:     NewInflightCoordinator(),
		oauth:     opts.OAuth,
		hub:       opts.Hub,
		persister: opts.Persister,
		skew:      opts.RefreshSkew,
		now:       opts.Now,
	}
	if s.oauth == nil {
		s.oauth = oauth.NewClient()
	}
	if s.skew <= 0 {
		s.skew = constants.TokenRefreshSkew
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.reloadCh = make(chan struct{}, 1)

	s.install(rc)
	s.restorePersisted()
	return s
}

// install builds records for rc, reusing live records whose definition is
// unchanged so refresh state survives config swaps.
func (s *Store) install(rc *config.RuntimeConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]*record, len(rc.Credentials))
	var order []string
	for id, def := range rc.Credentials {
		endpoints := rc.Providers[def.ProviderID].OAuth
		if old, ok := s.records[id]; ok && old.def == def {
			old.mu.Lock()
			old.endpoints = endpoints
			old.mu.Unlock()
			next[id] = old
		} else {
			next[id] = s.loadRecord(def, endpoints)
		}
		order = append(order, id)
	}
	sort.Strings(order)
	s.records = next
	s.order = order
}

// loadRecord reads the secret material for one credential definition.
func (s *Store) loadRecord(def config.CredentialDef, endpoints config.OAuthEndpoints) *record {
	rec := &record{def: def, endpoints: endpoints, state: StateReady}

	switch def.AuthKind {
	case config.AuthKindAPIKey:
		if def.SecretRef != "" {
			rec.secret = def.SecretRef
			break
		}
		key, err := LoadAPIKeyFile(def.TokenFile)
		if err != nil {
			log.WithError(err).Warnf("credential %s: key file unusable", def.ID)
			rec.state = StateBlocked
			rec.blockReason = BlockReasonTokenParse
			break
		}
		rec.secret = key
	case config.AuthKindOAuthDevice, config.AuthKindOAuthPKCE:
		tok, err := LoadTokenFile(def.TokenFile)
		if err != nil {
			log.WithError(err).Warnf("credential %s: token file unusable", def.ID)
			rec.state = StateBlocked
			rec.blockReason = BlockReasonTokenParse
			break
		}
		rec.token = tok
		rec.secret = tok.AccessToken
	case config.AuthKindNone:
		// Nothing to load.
	}

	if rec.state == StateReady {
		log.WithFields(log.Fields{
			"credential": def.ID,
			"kind":       string(def.AuthKind),
			"secret":     logging.Redact(rec.secret),
		}).Debug("credential loaded")
	}
	return rec
}

// restorePersisted replays disabled flags and counters from the persister.
// Block state is re-derived from the current token material, not restored.
func (s *Store) restorePersisted() {
	if s.persister == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	states, err := s.persister.LoadCredentialStates(ctx)
	if err != nil {
		log.WithError(err).Warn("credential store: state restore failed")
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, st := range states {
		rec, ok := s.records[id]
		if !ok {
			continue
		}
		rec.mu.Lock()
		rec.disabled = st.Disabled
		rec.refreshFailures = st.RefreshFailures
		rec.totalRefreshes = st.TotalRefreshes
		if st.LastRefreshAt.After(rec.lastRefreshAt) {
			rec.lastRefreshAt = st.LastRefreshAt
		}
		rec.mu.Unlock()
	}
}

func (s *Store) record(id string) *record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records[id]
}

// Get returns the current snapshot for id without blocking on refreshes.
func (s *Store) Get(id string) (Snapshot, bool) {
	rec := s.record(id)
	if rec == nil {
		return Snapshot{}, false
	}
	return rec.snapshot(), true
}

// List returns snapshots for every credential in stable ID order.
func (s *Store) List() []Snapshot {
	s.mu.RLock()
	ids := append([]string(nil), s.order...)
	s.mu.RUnlock()

	out := make([]Snapshot, 0, len(ids))
	for _, id := range ids {
		if rec := s.record(id); rec != nil {
			out = append(out, rec.snapshot())
		}
	}
	return out
}

// OnStateChange registers a callback fired after each state transition.
func (s *Store) OnStateChange(fn StateChangeFunc) {
	if fn == nil {
		return
	}
	s.cbMu.Lock()
	s.callbacks = append(s.callbacks, fn)
	s.cbMu.Unlock()
}

func (s *Store) notify(id string, from, to State) {
	if from == to {
		return
	}
	s.cbMu.RLock()
	cbs := append([]StateChangeFunc(nil), s.callbacks...)
	s.cbMu.RUnlock()
	for _, fn := range cbs {
		fn(id, from, to)
	}
}

// persist pushes the record's runtime state to the persister.
func (s *Store) persist(rec *record) {
	if s.persister == nil {
		return
	}
	rec.mu.RLock()
	st := StoredState{
		Disabled:        rec.disabled,
		Blocked:         rec.state == StateBlocked,
		BlockReason:     rec.blockReason,
		LastRefreshAt:   rec.lastRefreshAt,
		RefreshFailures: rec.refreshFailures,
		TotalRefreshes:  rec.totalRefreshes,
		UpdatedAt:       s.now(),
	}
	id := rec.def.ID
	rec.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.persister.SaveCredentialState(ctx, id, st); err != nil {
		log.WithError(err).Warnf("credential %s: state persist failed", id)
	}
}

// SetDisabled flips the operator disable flag.
func (s *Store) SetDisabled(id string, disabled bool) error {
	rec := s.record(id)
	if rec == nil {
		return ErrUnknownCredential
	}
	rec.mu.Lock()
	rec.disabled = disabled
	rec.mu.Unlock()
	s.persist(rec)
	log.WithFields(log.Fields{"credential": id, "disabled": disabled}).Info("credential disable flag changed")
	return nil
}

// ResetState clears failure counters and any store-level block.
func (s *Store) ResetState(id string) error {
	rec := s.record(id)
	if rec == nil {
		return ErrUnknownCredential
	}
	rec.mu.Lock()
	from := rec.state
	rec.refreshFailures = 0
	rec.blockReason = ""
	if rec.state == StateBlocked {
		rec.state = StateReady
	}
	to := rec.state
	rec.mu.Unlock()
	s.notify(id, from, to)
	s.persist(rec)
	return nil
}

// Reload swaps the credential set for a new RuntimeConfig snapshot.
func (s *Store) Reload(rc *config.RuntimeConfig) {
	s.install(rc)
	s.restorePersisted()
	log.WithField("credentials", len(rc.Credentials)).Info("credential store reloaded")
}

// ReloadFromDisk re-reads token material for one credential, clearing any
// block when the file now parses. Used when an external re-auth rewrites
// a token file.
func (s *Store) ReloadFromDisk(id string) {
	rec := s.record(id)
	if rec == nil {
		return
	}
	rec.mu.Lock()
	def := rec.def
	from := rec.state
	rec.mu.Unlock()

	if def.TokenFile == "" {
		return
	}
	if _, err := os.Stat(def.TokenFile); err != nil {
		return
	}

	switch def.AuthKind {
	case config.AuthKindAPIKey:
		key, err := LoadAPIKeyFile(def.TokenFile)
		if err != nil {
			log.WithError(err).Warnf("credential %s: reload skipped", id)
			return
		}
		rec.mu.Lock()
		rec.secret = key
		rec.state = StateReady
		rec.blockReason = ""
		to := rec.state
		rec.mu.Unlock()
		s.notify(id, from, to)
	case config.AuthKindOAuthDevice, config.AuthKindOAuthPKCE:
		tok, err := LoadTokenFile(def.TokenFile)
		if err != nil {
			log.WithError(err).Warnf("credential %s: reload skipped", id)
			return
		}
		rec.mu.Lock()
		rec.token = tok
		rec.secret = tok.AccessToken
		rec.state = StateReady
		rec.blockReason = ""
		to := rec.state
		rec.mu.Unlock()
		s.notify(id, from, to)
		log.WithField("credential", id).Info("token file reloaded from disk")
	}
	s.persist(rec)
}

// healthKey builds the event key for a record.
func (s *Store) healthKey(rec *record) string {
	return health.Key(rec.def.ProviderID, rec.def.ID)
}
