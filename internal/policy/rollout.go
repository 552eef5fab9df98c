package policy

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sync"
)

// Rollout implements stable, feature-flag-percentage routing: for a given
// (feature, principal) pair the routing decision is deterministic and
// stable across calls until the configured percentage changes — the same
// principal always lands on the same side of the rollout for as long as the
// percentage is unchanged.
type Rollout struct {
	mu      sync.RWMutex
	percent map[string]int // feature -> 0..100
}

// NewRollout creates a Rollout with the given initial per-feature
// percentages (e.g. from config.PolicyConfig.RolloutPercent).
func NewRollout(initial map[string]int) *Rollout {
	r := &Rollout{percent: make(map[string]int, len(initial))}
	for k, v := range initial {
		r.percent[k] = clampPercent(v)
	}
	return r
}

func clampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// SetPercent sets the rollout percentage for feature (0-100, clamped).
func (r *Rollout) SetPercent(feature string, percent int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.percent[feature] = clampPercent(percent)
}

// Rollback sets a single feature's rollout percentage back to 0 (fully
// routed to the legacy/embedded back-end).
func (r *Rollout) Rollback(feature string) {
	r.SetPercent(feature, 0)
}

// RollbackAll zeroes every feature's rollout percentage.
func (r *Rollout) RollbackAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k := range r.percent {
		r.percent[k] = 0
	}
}

// Status returns a snapshot of all configured rollout percentages.
func (r *Rollout) Status() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int, len(r.percent))
	for k, v := range r.percent {
		out[k] = v
	}
	return out
}

// RouteNew reports whether (feature, principal) should be routed to the new
// back-end (the remote evaluator), based on a stable hash of the pair
// modulo 100 compared against the configured percentage. The hash is a
// pure function of its inputs, so the same pair always routes the same way
// until SetPercent/Rollback changes the threshold.
func (r *Rollout) RouteNew(feature, principal string) bool {
	r.mu.RLock()
	pct, ok := r.percent[feature]
	r.mu.RUnlock()
	if !ok || pct <= 0 {
		return false
	}

	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s", feature, principal)))
	bucket := binary.BigEndian.Uint64(sum[:8]) % 100
	return int(bucket) < pct
}
