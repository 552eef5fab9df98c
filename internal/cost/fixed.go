package cost

import "github.com/shopspring/decimal"

// FixedEstimator charges a single configured cost per call, regardless of
// request size. Used for adapters whose downstream bills per-invocation
// rather than per-token (e.g. most database and HTTP tool calls).
type FixedEstimator struct {
	provider   string
	amount     decimal.Decimal
	currency   string
}

func NewFixedEstimator(provider string, amount decimal.Decimal, currency string) *FixedEstimator {
	if currency == "" {
		currency = "USD"
	}
	return &FixedEstimator{provider: provider, amount: amount, currency: currency}
}

func (e *FixedEstimator) ProviderName() string { return e.provider }

func (e *FixedEstimator) EstimateCost(req *Request, metadata map[string]any) (Estimate, error) {
	return Estimate{
		EstimatedCost: e.amount,
		Currency:      e.currency,
		Provider:      e.provider,
	}, nil
}

func (e *FixedEstimator) RecordActualCost(req *Request, result *Result, metadata map[string]any) (Estimate, bool, error) {
	est, err := e.EstimateCost(req, metadata)
	return est, true, err
}

func (e *FixedEstimator) SupportsActualCost() bool { return true }
