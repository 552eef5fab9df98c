package cost

import "github.com/shopspring/decimal"

// ModelPricing holds per-million-token pricing for one model. Values are
// fixed-precision decimals — spec mandates decimal for every monetary
// value, never a binary float, so rounding never drifts across a long
// session's worth of accumulated token costs.
type ModelPricing struct {
	InputPerMillion  decimal.Decimal
	OutputPerMillion decimal.Decimal
}

func pricing(in, out string) ModelPricing {
	return ModelPricing{
		InputPerMillion:  decimal.RequireFromString(in),
		OutputPerMillion: decimal.RequireFromString(out),
	}
}

// defaultPricingTable is keyed "provider:model". It is fixed at build time:
// no config setting changes it and it is never fetched over the network.
var defaultPricingTable = map[string]ModelPricing{
	"openai:gpt-4o":        pricing("2.50", "10.00"),
	"openai:gpt-4o-mini":   pricing("0.15", "0.60"),
	"openai:gpt-4-turbo":   pricing("10.00", "30.00"),
	"openai:gpt-4":         pricing("30.00", "60.00"),
	"openai:gpt-3.5-turbo": pricing("0.50", "1.50"),
	"openai:o1":            pricing("15.00", "60.00"),
	"openai:o1-mini":       pricing("3.00", "12.00"),
	"openai:o3-mini":       pricing("1.10", "4.40"),

	"anthropic:claude-opus-4-6":   pricing("15.00", "75.00"),
	"anthropic:claude-sonnet-4-6": pricing("3.00", "15.00"),
	"anthropic:claude-haiku-4-5":  pricing("0.80", "4.00"),
	"anthropic:claude-3-5-sonnet": pricing("3.00", "15.00"),
	"anthropic:claude-3-5-haiku":  pricing("0.80", "4.00"),
	"anthropic:claude-3-opus":     pricing("15.00", "75.00"),

	"gemini:gemini-2.0-flash": pricing("0.10", "0.40"),
	"gemini:gemini-1.5-pro":   pricing("1.25", "5.00"),
	"gemini:gemini-1.5-flash": pricing("0.075", "0.30"),

	"meta:llama-3.1-70b": pricing("0.88", "0.88"),
	"meta:llama-3.1-8b":  pricing("0.18", "0.18"),

	"mistral:mistral-large": pricing("2.00", "6.00"),
	"mistral:mistral-small": pricing("0.20", "0.60"),

	"deepseek:deepseek-chat":     pricing("0.14", "0.28"),
	"deepseek:deepseek-reasoner": pricing("0.55", "2.19"),
}

// providerDefaultPricing is keyed by provider for a per-provider fallback
// row, consulted when the exact model isn't in defaultPricingTable.
var providerDefaultPricing = map[string]ModelPricing{
	"openai":    pricing("1.00", "3.00"),
	"anthropic": pricing("3.00", "15.00"),
	"gemini":    pricing("1.25", "5.00"),
}

// globalDefaultPricing is the last-resort row for a provider with no
// default row of its own.
var globalDefaultPricing = pricing("1.00", "3.00")

// lookupPricing resolves rates in order: exact provider:model,
// then provider-default, then global default.
func lookupPricing(provider, model string) ModelPricing {
	if p, ok := defaultPricingTable[provider+":"+model]; ok {
		return p
	}
	if p, ok := providerDefaultPricing[provider]; ok {
		return p
	}
	return globalDefaultPricing
}

const perMillion = 1_000_000

// tokenCost computes decimal cost for a token count against a per-million rate.
func tokenCost(tokens int, perMillionRate decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(int64(tokens)).Div(decimal.NewFromInt(perMillion)).Mul(perMillionRate)
}
