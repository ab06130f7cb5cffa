package storage

import (
	"context"
	"encoding/json"

	log "github.com/sirupsen/logrus"

	"routecodex-go/internal/credential"
	"routecodex-go/internal/health"
)

// credentialStatePersister adapts a Backend to the credential store's
// persister interface. Only runtime flags and counters cross the
// boundary; token material stays in the auth directory.
type credentialStatePersister struct {
	backend Backend
}

// CredentialStates returns a persister backed by b. A nil backend
// yields a nil persister, which the credential store treats as
// "persistence off".
func CredentialStates(b Backend) credential.StatePersister {
	if b == nil {
		return nil
	}
	return &credentialStatePersister{backend: b}
}

func (p *credentialStatePersister) LoadCredentialStates(ctx context.Context) (map[string]credential.StoredState, error) {
	raw, err := p.backend.ListCredentialStates(ctx)
	if err != nil {
		return nil, err
	}
	states := make(map[string]credential.StoredState, len(raw))
	for id, payload := range raw {
		var st credential.StoredState
		if err := json.Unmarshal(payload, &st); err != nil {
			// 坏条目只跳过这一条，别拖垮整个恢复。
			log.WithError(err).WithField("credential", id).Warn("stored credential state malformed, skipping")
			continue
		}
		states[id] = st
	}
	return states, nil
}

func (p *credentialStatePersister) SaveCredentialState(ctx context.Context, id string, st credential.StoredState) error {
	payload, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return p.backend.SetCredentialState(ctx, id, payload)
}

func (p *credentialStatePersister) DeleteCredentialState(ctx context.Context, id string) error {
	if err := p.backend.DeleteCredentialState(ctx, id); err != nil && !IsNotFound(err) {
		return err
	}
	return nil
}

// LoadHealthEntries reads every persisted health entry. Malformed rows
// are skipped so one bad record cannot block startup restore.
func LoadHealthEntries(ctx context.Context, b Backend) ([]health.Entry, error) {
	raw, err := b.ListHealthEntries(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]health.Entry, 0, len(raw))
	for key, payload := range raw {
		var e health.Entry
		if err := json.Unmarshal(payload, &e); err != nil {
			log.WithError(err).WithField("key", key).Warn("stored health entry malformed, skipping")
			continue
		}
		if e.Key == "" {
			e.Key = key
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// SaveHealthEntries writes the full snapshot and prunes keys that are
// no longer part of it, so cleared blocks do not resurrect on restart.
func SaveHealthEntries(ctx context.Context, b Backend, entries []health.Entry) error {
	keep := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		payload, err := json.Marshal(e)
		if err != nil {
			return err
		}
		if err := b.SetHealthEntry(ctx, e.Key, payload); err != nil {
			return err
		}
		keep[e.Key] = struct{}{}
	}
	existing, err := b.ListHealthEntries(ctx)
	if err != nil {
		return err
	}
	for key := range existing {
		if _, ok := keep[key]; ok {
			continue
		}
		if err := b.DeleteHealthEntry(ctx, key); err != nil && !IsNotFound(err) {
			return err
		}
	}
	return nil
}
