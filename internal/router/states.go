package router

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"routecodex-go/internal/constants"
)

// State is the router's view of one pipeline's recent behavior. It is
// routing advice layered on top of the health manager's hard blocks:
// Degraded pipelines are picked only when no Active candidate remains,
// Excluded ones not at all.
type State int

const (
	StateActive State = iota
	StateDegraded
	StateExcluded
)

func (s State) String() string {
	switch s {
	case StateDegraded:
		return "degraded"
	case StateExcluded:
		return "excluded"
	default:
		return "active"
	}
}

type pipelineState struct {
	state     State
	healthKey string
	failures  []time.Time // consecutive failures, pruned to the rolling window
}

// stateTracker drives the per-pipeline state machine. Transitions:
// Active→Degraded after enough consecutive failures inside the rolling
// window, Degraded→Excluded when the credential gets blocked, back to
// Active on success or on the credential's unblock event.
type stateTracker struct {
	mu     sync.Mutex
	states map[string]*pipelineState
	now    func() time.Time
}

func newStateTracker() *stateTracker {
	return &stateTracker{
		states: make(map[string]*pipelineState),
		now:    time.Now,
	}
}

func (t *stateTracker) stateOf(pipelineID string) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	ps, ok := t.states[pipelineID]
	if !ok {
		return StateActive
	}
	return ps.state
}

// recordSuccess resets the failure streak. A success is the strongest
// green signal there is, so it reactivates from any state.
func (t *stateTracker) recordSuccess(pipelineID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ps, ok := t.states[pipelineID]
	if !ok {
		return
	}
	if ps.state != StateActive {
		log.WithFields(log.Fields{"pipeline": pipelineID, "from": ps.state.String()}).Info("pipeline reactivated")
	}
	ps.state = StateActive
	ps.failures = ps.failures[:0]
}

// recordFailure appends to the failure streak and degrades the
// pipeline once the streak fills the rolling window.
func (t *stateTracker) recordFailure(pipelineID, healthKey string) {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	ps, ok := t.states[pipelineID]
	if !ok {
		ps = &pipelineState{}
		t.states[pipelineID] = ps
	}
	ps.healthKey = healthKey

	cutoff := now.Add(-constants.DegradedFailureWindow)
	kept := ps.failures[:0]
	for _, ts := range ps.failures {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	ps.failures = append(kept, now)

	if ps.state == StateActive && len(ps.failures) >= constants.DegradedFailureThreshold {
		ps.state = StateDegraded
		log.WithFields(log.Fields{
			"pipeline": pipelineID,
			"failures": len(ps.failures),
			"window":   constants.DegradedFailureWindow.String(),
		}).Warn("pipeline degraded")
	}
}

// exclude takes the pipeline out of selection entirely. Called when
// the credential behind it gets blocked; the matching unblock event
// brings it back.
func (t *stateTracker) exclude(pipelineID, healthKey string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ps, ok := t.states[pipelineID]
	if !ok {
		ps = &pipelineState{}
		t.states[pipelineID] = ps
	}
	ps.healthKey = healthKey
	if ps.state != StateExcluded {
		log.WithField("pipeline", pipelineID).Warn("pipeline excluded")
	}
	ps.state = StateExcluded
}

// snapshotStates copies the advisory state per tracked pipeline.
// Pipelines that never failed have no entry and are implicitly Active.
func (t *stateTracker) snapshotStates() map[string]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]string, len(t.states))
	for id, ps := range t.states {
		out[id] = ps.state.String()
	}
	return out
}

// reactivate returns every pipeline riding the unblocked credential to
// Active. Keyed by health key because one credential can back several
// pipelines.
func (t *stateTracker) reactivate(healthKey string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, ps := range t.states {
		if ps.healthKey != healthKey || ps.state != StateExcluded {
			continue
		}
		ps.state = StateActive
		ps.failures = ps.failures[:0]
		log.WithFields(log.Fields{"pipeline": id, "key": healthKey}).Info("pipeline reactivated")
	}
}
