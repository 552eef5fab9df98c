// Package cost implements the cost estimator registry: a pluggable set of
// per-provider estimators that turn a request (and, once known, its
// result) into a decimal cost estimate. Estimation errors never block a
// request — they are converted to a zero-cost estimate tagged
// fallback=true.
package cost

import "github.com/shopspring/decimal"

// Request is the minimal shape an estimator needs to price a call.
type Request struct {
	Provider string
	Model    string
	Body     []byte // raw request body, used for heuristic token counting
}

// Result is the minimal shape an estimator needs to price a completed
// call's actual usage.
type Result struct {
	Body []byte // raw response body, used to extract reported usage
}

// Estimate carries a cost computed before or after a call completes.
type Estimate struct {
	EstimatedCost decimal.Decimal          `json:"estimated_cost"`
	Currency      string                   `json:"currency"`
	Provider      string                   `json:"provider"`
	Model         string                   `json:"model,omitempty"`
	Breakdown     map[string]decimal.Decimal `json:"breakdown,omitempty"`
	Metadata      map[string]any           `json:"metadata,omitempty"`
}

// Estimator is implemented by every pluggable cost strategy.
type Estimator interface {
	ProviderName() string
	EstimateCost(req *Request, metadata map[string]any) (Estimate, error)
	// RecordActualCost prices a completed call from its actual reported
	// usage. ok is false when the estimator has no actual-usage signal
	// for this result (e.g. the Free estimator never does).
	RecordActualCost(req *Request, result *Result, metadata map[string]any) (estimate Estimate, ok bool, err error)
	SupportsActualCost() bool
}

func zeroEstimate(provider string) Estimate {
	return Estimate{
		EstimatedCost: decimal.Zero,
		Currency:      "USD",
		Provider:      provider,
	}
}
