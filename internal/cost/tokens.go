package cost

import (
	"encoding/json"
	"strings"
)

// Token accounting for token-priced providers. A tool invocation's
// arguments are arbitrary JSON, not a chat transcript, so the pre-call
// estimate walks the argument tree and prices its text content
// heuristically (~4 chars per token). The post-call path prefers the
// usage block the downstream reports; MCP servers that wrap an LLM often
// nest the provider response, so the search descends one level of
// objects before giving up.

// tokenUsage mirrors the two usage-block namings seen in the wild:
// prompt/completion (OpenAI-style) and input/output (Anthropic-style).
type tokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	InputTokens      int `json:"input_tokens"`
	OutputTokens     int `json:"output_tokens"`
}

func (u tokenUsage) reported() bool { return u.PromptTokens > 0 || u.InputTokens > 0 }

func (u tokenUsage) in() int {
	if u.PromptTokens > 0 {
		return u.PromptTokens
	}
	return u.InputTokens
}

func (u tokenUsage) out() int {
	if u.PromptTokens > 0 {
		return u.CompletionTokens
	}
	return u.OutputTokens
}

// estimateTokens prices raw text at ~4 chars per token, rounding up.
func estimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + 3) / 4
}

// countArgumentTokens estimates input tokens from an invocation's
// argument JSON. String leaves are counted by the char heuristic; every
// other leaf and each key contributes a small fixed overhead. A body
// that is not valid JSON is counted as raw text.
func countArgumentTokens(body []byte) int {
	var args any
	if err := json.Unmarshal(body, &args); err != nil {
		return estimateTokens(string(body))
	}
	return walkTokens(args)
}

func walkTokens(v any) int {
	switch t := v.(type) {
	case string:
		return estimateTokens(t)
	case map[string]any:
		total := 0
		for k, val := range t {
			total += estimateTokens(k) + walkTokens(val)
		}
		return total
	case []any:
		total := 0
		for _, val := range t {
			total += walkTokens(val)
		}
		return total
	case nil:
		return 0
	default:
		// numbers and bools encode in a handful of chars
		return 2
	}
}

// reportedUsage extracts the downstream's usage block from a response
// body: top-level "usage" first, then "usage" inside any top-level
// object value (one level deep only).
func reportedUsage(body []byte) (tokenUsage, bool) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(body, &top); err != nil {
		return tokenUsage{}, false
	}
	if raw, ok := top["usage"]; ok {
		var u tokenUsage
		if json.Unmarshal(raw, &u) == nil && u.reported() {
			return u, true
		}
	}
	for _, raw := range top {
		var nested struct {
			Usage tokenUsage `json:"usage"`
		}
		if json.Unmarshal(raw, &nested) == nil && nested.Usage.reported() {
			return nested.Usage, true
		}
	}
	return tokenUsage{}, false
}

// streamedUsage scans an accumulated SSE or NDJSON stream from the end
// for the final usage chunk, which is where providers report totals.
func streamedUsage(chunks []byte) (tokenUsage, bool) {
	lines := strings.Split(string(chunks), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(lines[i]), "data:"))
		if !strings.HasPrefix(line, "{") {
			continue
		}
		if u, ok := reportedUsage([]byte(line)); ok {
			return u, true
		}
	}
	return tokenUsage{}, false
}
