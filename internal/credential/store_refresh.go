package credential

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"routecodex-go/internal/config"
	"routecodex-go/internal/constants"
	"routecodex-go/internal/events"
	"routecodex-go/internal/monitoring"
	"routecodex-go/internal/oauth"
)

// Refresh refreshes one OAuth credential. Idempotent: a fresh token
// short-circuits, and concurrent callers share a single in-flight refresh
// through the coordinator.
func (s *Store) Refresh(ctx context.Context, id string) error {
	rec := s.record(id)
	if rec == nil {
		return ErrUnknownCredential
	}
	if rec.def.AuthKind != config.AuthKindOAuthDevice && rec.def.AuthKind != config.AuthKindOAuthPKCE {
		return nil
	}
	return s.coord.Do(ctx, id, func(ctx context.Context) error {
		return s.doRefresh(ctx, rec)
	})
}

// RefreshAsync fires a refresh without waiting for its result.
func (s *Store) RefreshAsync(id string) {
	go func() {
		if err := s.Refresh(context.Background(), id); err != nil {
			log.WithError(err).Warnf("credential %s: async refresh failed", id)
		}
	}()
}

func (s *Store) doRefresh(ctx context.Context, rec *record) error {
	rec.mu.Lock()
	if rec.disabled {
		rec.mu.Unlock()
		return fmt.Errorf("credential %s is disabled", rec.def.ID)
	}
	// Another flight may have landed while this caller waited.
	if rec.token.Valid(s.now(), s.skew) {
		rec.mu.Unlock()
		return nil
	}
	if rec.token == nil || rec.token.RefreshToken == "" {
		rec.mu.Unlock()
		return fmt.Errorf("credential %s has no refresh token", rec.def.ID)
	}
	refreshToken := rec.token.RefreshToken
	endpoints := rec.endpoints
	from := rec.state
	rec.state = StateRefreshing
	rec.mu.Unlock()
	s.notify(rec.def.ID, from, StateRefreshing)

	tok, err := s.oauth.Refresh(ctx, endpoints, refreshToken)
	if err != nil {
		monitoring.CredentialRefreshes.WithLabelValues(rec.def.ID, "error").Inc()
		monitoring.CredentialErrors.WithLabelValues(rec.def.ID, "refresh_failed").Inc()
		rec.mu.Lock()
		rec.refreshFailures++
		rec.state = StateBlocked
		rec.blockReason = BlockReasonRefreshFailed
		rec.mu.Unlock()
		s.notify(rec.def.ID, StateRefreshing, StateBlocked)
		s.persist(rec)

		log.WithError(err).Warnf("credential %s: refresh failed", rec.def.ID)
		s.hub.PublishCredentialBlocked(ctx, events.CredentialBlocked{
			CredentialID: rec.def.ID,
			Key:          s.healthKey(rec),
			Reason:       BlockReasonRefreshFailed,
		})
		return err
	}

	if rec.def.TokenFile != "" {
		if err := SaveTokenFile(rec.def.TokenFile, tok); err != nil {
			// The in-memory token is still good; persistence catches up on
			// the next refresh.
			log.WithError(err).Warnf("credential %s: token persist failed", rec.def.ID)
		}
	}

	monitoring.CredentialRefreshes.WithLabelValues(rec.def.ID, "success").Inc()
	rec.mu.Lock()
	rec.token = tok
	rec.secret = tok.AccessToken
	rec.lastRefreshAt = s.now()
	rec.totalRefreshes++
	rec.refreshFailures = 0
	rec.blockReason = ""
	rec.state = StateReady
	rec.mu.Unlock()
	s.notify(rec.def.ID, StateRefreshing, StateReady)
	s.persist(rec)

	log.WithFields(log.Fields{
		"credential": rec.def.ID,
		"expires_at": tok.ExpiresAt.Format(time.RFC3339),
	}).Info("credential refreshed")
	s.hub.PublishCredentialRefreshed(ctx, events.CredentialRefreshed{
		CredentialID: rec.def.ID,
		ExpiresAt:    tok.ExpiresAt,
	})
	return nil
}

// EnsureFresh hands back a usable snapshot, refreshing first when the
// token is inside the expiry skew. This is the provider stage's only
// blocking suspension point on the credential store.
func (s *Store) EnsureFresh(ctx context.Context, id string) (Snapshot, error) {
	rec := s.record(id)
	if rec == nil {
		return Snapshot{}, ErrUnknownCredential
	}
	if rec.def.AuthKind == config.AuthKindOAuthDevice || rec.def.AuthKind == config.AuthKindOAuthPKCE {
		rec.mu.RLock()
		stale := !rec.token.Valid(s.now(), s.skew)
		disabled := rec.disabled
		rec.mu.RUnlock()
		if stale && !disabled {
			if err := s.Refresh(ctx, id); err != nil {
				return rec.snapshot(), err
			}
		}
	}
	return rec.snapshot(), nil
}

// StartPeriodicRefresh refreshes expiring tokens ahead of demand until ctx
// is cancelled.
func (s *Store) StartPeriodicRefresh(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = constants.CredentialRefreshInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.refreshExpiring(ctx)
			}
		}
	}()
}

// refreshExpiring walks the store and refreshes every OAuth token that is
// stale or within the skew window. Blocked credentials are retried too:
// a block from a failed refresh clears on the next success.
func (s *Store) refreshExpiring(ctx context.Context) {
	for _, snap := range s.List() {
		if snap.Disabled {
			continue
		}
		if snap.AuthKind != config.AuthKindOAuthDevice && snap.AuthKind != config.AuthKindOAuthPKCE {
			continue
		}
		if snap.BlockReason == BlockReasonTokenParse {
			// No usable refresh token on disk; wait for external re-auth.
			continue
		}
		rec := s.record(snap.ID)
		if rec == nil {
			continue
		}
		rec.mu.RLock()
		stale := !rec.token.Valid(s.now(), s.skew)
		rec.mu.RUnlock()
		if !stale {
			continue
		}
		if err := s.Refresh(ctx, snap.ID); err != nil {
			log.WithError(err).Debugf("credential %s: periodic refresh failed", snap.ID)
		}
	}
}

// StartDeviceLogin begins a device flow for an OAuth credential and polls
// for approval in the background. The returned authorization carries the
// user code to display; the error channel resolves when polling finishes.
func (s *Store) StartDeviceLogin(ctx context.Context, id string) (*oauth.DeviceAuthorization, <-chan error, error) {
	rec := s.record(id)
	if rec == nil {
		return nil, nil, ErrUnknownCredential
	}
	if rec.def.AuthKind != config.AuthKindOAuthDevice {
		return nil, nil, fmt.Errorf("credential %s does not use the device flow", id)
	}

	rec.mu.RLock()
	endpoints := rec.endpoints
	rec.mu.RUnlock()

	da, err := s.oauth.StartDeviceFlow(ctx, endpoints)
	if err != nil {
		return nil, nil, err
	}

	done := make(chan error, 1)
	go func() {
		pollCtx, cancel := context.WithDeadline(context.Background(), da.ExpiresAt)
		defer cancel()
		tok, err := s.oauth.PollDeviceToken(pollCtx, endpoints, da)
		if err != nil {
			log.WithError(err).Warnf("credential %s: device login failed", id)
			done <- err
			return
		}
		if rec.def.TokenFile != "" {
			if err := SaveTokenFile(rec.def.TokenFile, tok); err != nil {
				log.WithError(err).Warnf("credential %s: token persist failed", id)
			}
		}
		rec.mu.Lock()
		from := rec.state
		rec.token = tok
		rec.secret = tok.AccessToken
		rec.lastRefreshAt = s.now()
		rec.blockReason = ""
		rec.state = StateReady
		rec.mu.Unlock()
		s.notify(id, from, StateReady)
		s.persist(rec)

		log.WithField("credential", id).Info("device login completed")
		s.hub.PublishCredentialRefreshed(context.Background(), events.CredentialRefreshed{
			CredentialID: id,
			ExpiresAt:    tok.ExpiresAt,
		})
		done <- nil
	}()
	return da, done, nil
}
