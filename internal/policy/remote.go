package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// RemoteBackend evaluates policy queries against a sidecar policy service
// over HTTP. Target p95: < 15ms. It owns no documents itself — the sidecar
// is the source of truth for which queries exist, so a "policy not found"
// response from the sidecar is passed straight through.
type RemoteBackend struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewRemoteBackend creates a RemoteBackend pointed at baseURL (e.g.
// "http://policy-sidecar:9090").
func NewRemoteBackend(baseURL string, timeout time.Duration, logger *slog.Logger) *RemoteBackend {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &RemoteBackend{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With("component", "policy.RemoteBackend"),
	}
}

func (b *RemoteBackend) BackendName() string { return "remote" }

type remoteEvaluateRequest struct {
	PolicyQuery string      `json:"policy_query"`
	InputBundle InputBundle `json:"input_bundle"`
}

// Evaluate posts the query and bundle to the sidecar's /v1/evaluate
// endpoint and decodes its Decision response.
func (b *RemoteBackend) Evaluate(ctx context.Context, policyQuery string, bundle InputBundle) (Decision, error) {
	reqBody, err := json.Marshal(remoteEvaluateRequest{PolicyQuery: policyQuery, InputBundle: bundle})
	if err != nil {
		return Decision{}, fmt.Errorf("policy: marshal remote evaluate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/v1/evaluate", bytes.NewReader(reqBody))
	if err != nil {
		return Decision{}, fmt.Errorf("policy: build remote evaluate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return Decision{}, fmt.Errorf("policy: remote evaluator unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return missingPolicyDecision(), nil
	}
	if resp.StatusCode != http.StatusOK {
		return Decision{}, fmt.Errorf("policy: remote evaluator returned status %d", resp.StatusCode)
	}

	var decision Decision
	if err := json.NewDecoder(resp.Body).Decode(&decision); err != nil {
		return Decision{}, fmt.Errorf("policy: decode remote evaluator response: %w", err)
	}
	return decision, nil
}
