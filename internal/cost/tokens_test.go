package cost

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{"empty", "", 0},
		{"short", "hi", 1},
		{"four chars", "test", 1},
		{"eight chars", "testtest", 2},
		{"twelve chars", "hello, world", 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, estimateTokens(tt.text))
		})
	}
}

func TestCountArgumentTokens_WalksNestedArguments(t *testing.T) {
	body := []byte(`{
		"query": "find all invoices from last quarter",
		"filters": {"department": "finance", "paid": false},
		"limit": 50
	}`)
	tokens := countArgumentTokens(body)
	assert.Greater(t, tokens, 8, "string leaves and keys should all contribute")
}

func TestCountArgumentTokens_InvalidJSONFallsBackToRawText(t *testing.T) {
	tokens := countArgumentTokens([]byte("not valid json at all"))
	assert.Equal(t, estimateTokens("not valid json at all"), tokens)
}

func TestCountArgumentTokens_EmptyBody(t *testing.T) {
	assert.Equal(t, 0, countArgumentTokens([]byte{}))
}

func TestReportedUsage_TopLevel(t *testing.T) {
	body := []byte(`{"result": "ok", "usage": {"prompt_tokens": 42, "completion_tokens": 100}}`)
	u, ok := reportedUsage(body)
	require.True(t, ok)
	assert.Equal(t, 42, u.in())
	assert.Equal(t, 100, u.out())
}

func TestReportedUsage_AnthropicNaming(t *testing.T) {
	body := []byte(`{"usage": {"input_tokens": 50, "output_tokens": 200}}`)
	u, ok := reportedUsage(body)
	require.True(t, ok)
	assert.Equal(t, 50, u.in())
	assert.Equal(t, 200, u.out())
}

func TestReportedUsage_NestedOneLevel(t *testing.T) {
	// MCP servers wrapping an LLM often nest the provider response.
	body := []byte(`{"result": {"text": "hi", "usage": {"input_tokens": 7, "output_tokens": 3}}}`)
	u, ok := reportedUsage(body)
	require.True(t, ok)
	assert.Equal(t, 7, u.in())
	assert.Equal(t, 3, u.out())
}

func TestReportedUsage_Absent(t *testing.T) {
	_, ok := reportedUsage([]byte(`{"result": "plain tool output"}`))
	assert.False(t, ok)

	_, ok = reportedUsage([]byte(`not json`))
	assert.False(t, ok)
}

func TestStreamedUsage_FinalChunkWins(t *testing.T) {
	chunks := []byte(`data: {"delta":{"text":"Hello"}}
data: {"delta":{"text":" there"}}
data: {"usage":{"prompt_tokens":30,"completion_tokens":15}}
data: [DONE]
`)
	u, ok := streamedUsage(chunks)
	require.True(t, ok)
	assert.Equal(t, 30, u.in())
	assert.Equal(t, 15, u.out())
}

func TestStreamedUsage_NoUsageChunk(t *testing.T) {
	chunks := []byte(`data: {"delta":{"text":"Hello"}}
data: [DONE]
`)
	_, ok := streamedUsage(chunks)
	assert.False(t, ok)
}

func TestTokenPriced_EstimateThenActual(t *testing.T) {
	e := NewTokenPricedEstimator("openai")

	req := &Request{Provider: "openai", Model: "gpt-4", Body: []byte(`{"prompt": "summarize the incident report"}`)}
	est, err := e.EstimateCost(req, nil)
	require.NoError(t, err)
	assert.True(t, est.EstimatedCost.IsPositive())

	actual, ok, err := e.RecordActualCost(req, &Result{Body: []byte(`{"usage":{"prompt_tokens":1000,"completion_tokens":500}}`)}, nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, actual.EstimatedCost.IsPositive())
	assert.Equal(t, "USD", actual.Currency)
}

func TestTokenPriced_NoReportedUsage(t *testing.T) {
	e := NewTokenPricedEstimator("openai")
	req := &Request{Provider: "openai", Model: "gpt-4"}

	_, ok, err := e.RecordActualCost(req, &Result{Body: []byte(`{"result": "no usage here"}`)}, nil)
	require.NoError(t, err)
	assert.False(t, ok, "caller keeps the pre-call estimate when nothing was reported")
}
