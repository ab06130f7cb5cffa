package health

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"routecodex-go/internal/events"
)

// Key builds the credential key tracked by the manager. Health state is
// scoped per provider+credential pair, not per provider.
func Key(providerID, credentialID string) string {
	return providerID + "/" + credentialID
}

// BlockInfo records why and when a credential key was taken out of pools.
type BlockInfo struct {
	Reason   string            `json:"reason"`
	Since    time.Time         `json:"since"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// RateLimitInfo is the informational 429 counter for a credential key.
type RateLimitInfo struct {
	Count   int       `json:"count"`
	LastHit time.Time `json:"lastHit,omitempty"`
}

// Entry is the externally visible health record for one credential key.
type Entry struct {
	Key       string        `json:"key"`
	Block     *BlockInfo    `json:"block,omitempty"`
	RateLimit RateLimitInfo `json:"rateLimit"`
}

type entry struct {
	block     *BlockInfo
	rateLimit RateLimitInfo
}

// Manager tracks per-credential block state and rate-limit hits. All
// operations are O(1) under a single mutex. Blocking is explicit: only
// Clear removes a block, rate-limit counters never do.
type Manager struct {
	mu      sync.Mutex
	entries map[string]*entry
	hub     *events.Hub
	now     func() time.Time
}

// NewManager builds an empty health manager publishing block/unblock
// events on hub (nil hub is fine).
func NewManager(hub *events.Hub) *Manager {
	return &Manager{
		entries: make(map[string]*entry),
		hub:     hub,
		now:     time.Now,
	}
}

func (m *Manager) get(key string) *entry {
	e, ok := m.entries[key]
	if !ok {
		e = &entry{}
		m.entries[key] = e
	}
	return e
}

// Block marks the key blocked. The first call records reason and
// timestamp; subsequent calls are no-ops until Clear. Returns true when
// this call installed the block.
func (m *Manager) Block(key, reason string, metadata map[string]string) bool {
	m.mu.Lock()
	e := m.get(key)
	if e.block != nil {
		m.mu.Unlock()
		return false
	}
	e.block = &BlockInfo{Reason: reason, Since: m.now(), Metadata: metadata}
	m.mu.Unlock()

	log.WithFields(log.Fields{"key": key, "reason": reason}).Warn("credential blocked")
	m.hub.PublishCredentialBlocked(context.Background(), events.CredentialBlocked{
		CredentialID: credentialIDFromKey(key),
		Key:          key,
		Reason:       reason,
	})
	return true
}

// IsBlocked reports whether the key currently carries a block.
func (m *Manager) IsBlocked(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	return ok && e.block != nil
}

// BlockInfoFor returns a copy of the active block, if any.
func (m *Manager) BlockInfoFor(key string) (BlockInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok || e.block == nil {
		return BlockInfo{}, false
	}
	return *e.block, true
}

// Clear removes the block on key. Returns true when a block was present.
func (m *Manager) Clear(key string) bool {
	m.mu.Lock()
	e, ok := m.entries[key]
	if !ok || e.block == nil {
		m.mu.Unlock()
		return false
	}
	e.block = nil
	m.mu.Unlock()

	log.WithField("key", key).Info("credential unblocked")
	m.hub.PublishCredentialUnblocked(context.Background(), events.CredentialUnblocked{
		CredentialID: credentialIDFromKey(key),
		Key:          key,
	})
	return true
}

// RecordRateLimitHit increments the 429 counter and returns the new count.
// The counter is informational; it never blocks by itself.
func (m *Manager) RecordRateLimitHit(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.get(key)
	e.rateLimit.Count++
	e.rateLimit.LastHit = m.now()
	return e.rateLimit.Count
}

// RateLimitFor returns the current counter for the key.
func (m *Manager) RateLimitFor(key string) RateLimitInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[key]; ok {
		return e.rateLimit
	}
	return RateLimitInfo{}
}

// ResetRateLimit zeroes the counter for the key.
func (m *Manager) ResetRateLimit(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[key]; ok {
		e.rateLimit = RateLimitInfo{}
	}
}

// Snapshot returns a copy of every tracked entry, for the management API
// and state persistence.
func (m *Manager) Snapshot() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, 0, len(m.entries))
	for key, e := range m.entries {
		item := Entry{Key: key, RateLimit: e.rateLimit}
		if e.block != nil {
			b := *e.block
			item.Block = &b
		}
		out = append(out, item)
	}
	return out
}

// Restore replays persisted entries into the manager without emitting
// events. Used at startup before any traffic.
func (m *Manager) Restore(entries []Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range entries {
		e := m.get(item.Key)
		e.rateLimit = item.RateLimit
		if item.Block != nil {
			b := *item.Block
			e.block = &b
		}
	}
}

// credentialIDFromKey strips the provider prefix added by Key.
func credentialIDFromKey(key string) string {
	for i := 0; i < len(key); i++ {
		if key[i] == '/' {
			return key[i+1:]
		}
	}
	return key
}
