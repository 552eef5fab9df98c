package cost

import (
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"
)

// Registry holds the set of pluggable cost estimators, keyed by provider
// name, and dispatches estimate/record calls to the right one. Unknown
// providers fall back to Free rather than blocking the request.
type Registry struct {
	mu         sync.RWMutex
	estimators map[string]Estimator
	fallback   Estimator
	logger     *slog.Logger
}

// NewRegistry constructs a Registry pre-seeded with a Free fallback
// estimator. Additional estimators are added with Register.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		estimators: make(map[string]Estimator),
		fallback:   NewFreeEstimator(),
		logger:     logger.With("component", "cost.Registry"),
	}
}

// Register adds or replaces the estimator for a provider name. Safe to
// call at runtime, including after the registry is already serving
// requests.
func (r *Registry) Register(name string, e Estimator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.estimators[name] = e
}

func (r *Registry) lookup(provider string) Estimator {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.estimators[provider]; ok {
		return e
	}
	return r.fallback
}

// Estimate prices a request before it is dispatched. Any estimator error
// is caught and converted into a zero-cost estimate tagged fallback=true
// so a pricing bug never blocks a call.
func (r *Registry) Estimate(req *Request, metadata map[string]any) Estimate {
	e := r.lookup(req.Provider)

	estimate, err := e.EstimateCost(req, metadata)
	if err != nil {
		r.logger.Error("cost estimation failed, using zero-cost fallback",
			"provider", req.Provider, "model", req.Model, "error", err)
		estimate = zeroEstimate(req.Provider)
		estimate.Metadata = map[string]any{"fallback": true}
	}
	return estimate
}

// RecordActual prices a completed call from its actual usage, falling
// back to the pre-call estimate when the estimator has no actual-usage
// signal for this result.
func (r *Registry) RecordActual(req *Request, result *Result, preCallEstimate Estimate, metadata map[string]any) Estimate {
	e := r.lookup(req.Provider)

	estimate, ok, err := e.RecordActualCost(req, result, metadata)
	if err != nil {
		r.logger.Error("actual cost recording failed, using pre-call estimate",
			"provider", req.Provider, "model", req.Model, "error", err)
		return preCallEstimate
	}
	if !ok {
		return preCallEstimate
	}
	return estimate
}

// SessionTracker accumulates a running decimal total per principal. It is
// an in-memory total kept alongside the budget ledger's authoritative,
// persisted totals; budget checks read the ledger, not this total.
type SessionTracker struct {
	mu     sync.RWMutex
	totals map[string]decimal.Decimal
	logger *slog.Logger
}

func NewSessionTracker(logger *slog.Logger) *SessionTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionTracker{
		totals: make(map[string]decimal.Decimal),
		logger: logger.With("component", "cost.SessionTracker"),
	}
}

// Add accumulates cost for principalID and returns the new running total.
func (t *SessionTracker) Add(principalID string, cost decimal.Decimal) decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	total := t.totals[principalID].Add(cost)
	t.totals[principalID] = total
	return total
}

// Get returns the current running total for principalID.
func (t *SessionTracker) Get(principalID string) decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.totals[principalID]
}

// Reset clears the running total for principalID, e.g. at period rollover.
func (t *SessionTracker) Reset(principalID string) {
	t.mu.Lock()
	delete(t.totals, principalID)
	t.mu.Unlock()
}
