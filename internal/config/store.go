package config

import "sync/atomic"

// Store holds the single atomically swappable RuntimeConfig reference.
// Readers acquire the pointer once per request; in-flight work keeps the
// snapshot it started on even across a swap.
type Store struct {
	current atomic.Pointer[RuntimeConfig]
}

// NewStore seeds the store with the initial snapshot.
func NewStore(rc *RuntimeConfig) *Store {
	s := &Store{}
	s.current.Store(rc)
	return s
}

// Current returns the active snapshot.
func (s *Store) Current() *RuntimeConfig {
	return s.current.Load()
}

// Swap installs a new snapshot and returns the previous one.
func (s *Store) Swap(rc *RuntimeConfig) *RuntimeConfig {
	return s.current.Swap(rc)
}
