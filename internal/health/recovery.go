package health

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"routecodex-go/internal/constants"
)

// CredentialProber verifies a blocked credential is worth readmitting.
// The credential store's refresh path implements this: an OAuth
// credential proves itself by refreshing, an API key has nothing to
// prove and passes.
type CredentialProber interface {
	Probe(ctx context.Context, credentialID string) error
}

// ProberFunc adapts a plain function to CredentialProber.
type ProberFunc func(ctx context.Context, credentialID string) error

func (f ProberFunc) Probe(ctx context.Context, credentialID string) error {
	return f(ctx, credentialID)
}

// Recovery re-admits blocked credentials after they have served their
// time. Each sweep probes blocks older than blockAge and clears the
// ones whose probe comes back green; the clear publishes the unblock
// event that reactivates the pipelines riding the credential. Rate
// limits and auth refusals are transient often enough that leaving
// keys blocked forever just bleeds capacity.
type Recovery struct {
	manager  *Manager
	prober   CredentialProber
	blockAge time.Duration
	interval time.Duration
	now      func() time.Time

	stopCh  chan struct{}
	stopped chan struct{}
}

// NewRecovery builds a recovery loop over the manager. blockAge <= 0
// falls back to the default recovery interval.
func NewRecovery(manager *Manager, prober CredentialProber, blockAge time.Duration) *Recovery {
	if blockAge <= 0 {
		blockAge = time.Duration(constants.DefaultAutoRecoveryIntervalMin) * time.Minute
	}
	return &Recovery{
		manager:  manager,
		prober:   prober,
		blockAge: blockAge,
		interval: constants.HealthProbeInterval,
		now:      time.Now,
		stopCh:   make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Start runs the sweep loop until Stop or context cancellation.
func (r *Recovery) Start(ctx context.Context) {
	log.WithFields(log.Fields{
		"interval": r.interval.String(),
		"blockAge": r.blockAge.String(),
	}).Info("credential auto-recovery started")

	go func() {
		defer close(r.stopped)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.sweep(ctx)
			case <-r.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the loop and waits for the in-flight sweep to finish.
func (r *Recovery) Stop() {
	close(r.stopCh)
	<-r.stopped
}

// sweep probes every block older than blockAge and clears the green
// ones. Probe failures keep the block and are retried next sweep.
func (r *Recovery) sweep(ctx context.Context) {
	now := r.now()
	recovered := 0
	for _, entry := range r.manager.Snapshot() {
		if entry.Block == nil || now.Sub(entry.Block.Since) < r.blockAge {
			continue
		}
		if r.prober != nil {
			probeCtx, cancel := context.WithTimeout(ctx, constants.HealthProbeTimeout)
			err := r.prober.Probe(probeCtx, credentialIDFromKey(entry.Key))
			cancel()
			if err != nil {
				log.WithFields(log.Fields{
					"key":   entry.Key,
					"error": err.Error(),
				}).Debug("recovery probe failed, block kept")
				continue
			}
		}
		if r.manager.Clear(entry.Key) {
			recovered++
		}
	}
	if recovered > 0 {
		log.WithField("recovered", recovered).Info("credentials recovered from block")
	}
}
