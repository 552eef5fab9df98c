package cost

import "github.com/shopspring/decimal"

// TokenPricedEstimator prices a call from per-model input/output token
// rates. Actual cost prefers the provider's reported usage (plain or
// streamed responses); estimated cost, computed before the call runs,
// falls back to the argument-walking heuristic counter.
type TokenPricedEstimator struct {
	provider string
}

func NewTokenPricedEstimator(provider string) *TokenPricedEstimator {
	return &TokenPricedEstimator{provider: provider}
}

func (e *TokenPricedEstimator) ProviderName() string { return e.provider }

func (e *TokenPricedEstimator) EstimateCost(req *Request, metadata map[string]any) (Estimate, error) {
	inputTokens := countArgumentTokens(req.Body)
	pricing := lookupPricing(e.provider, req.Model)

	cost := tokenCost(inputTokens, pricing.InputPerMillion)
	return Estimate{
		EstimatedCost: cost,
		Currency:      "USD",
		Provider:      e.provider,
		Model:         req.Model,
		Breakdown: map[string]decimal.Decimal{
			"input_tokens_estimated": decimal.NewFromInt(int64(inputTokens)),
			"input_cost":             cost,
		},
	}, nil
}

// RecordActualCost reads the usage block out of the completed response,
// trying the plain JSON shape first and the accumulated-stream shape
// second. ok is false when the downstream reported no usage at all —
// the caller then keeps the pre-call estimate.
func (e *TokenPricedEstimator) RecordActualCost(req *Request, result *Result, metadata map[string]any) (Estimate, bool, error) {
	usage, ok := reportedUsage(result.Body)
	if !ok {
		usage, ok = streamedUsage(result.Body)
	}
	if !ok {
		return Estimate{}, false, nil
	}

	pricing := lookupPricing(e.provider, req.Model)
	inCost := tokenCost(usage.in(), pricing.InputPerMillion)
	outCost := tokenCost(usage.out(), pricing.OutputPerMillion)

	return Estimate{
		EstimatedCost: inCost.Add(outCost),
		Currency:      "USD",
		Provider:      e.provider,
		Model:         req.Model,
		Breakdown: map[string]decimal.Decimal{
			"input_tokens":  decimal.NewFromInt(int64(usage.in())),
			"output_tokens": decimal.NewFromInt(int64(usage.out())),
			"input_cost":    inCost,
			"output_cost":   outCost,
		},
	}, true, nil
}

func (e *TokenPricedEstimator) SupportsActualCost() bool { return true }
