// Package policy implements the policy engine adapter: a declarative
// policy document is compiled once and evaluated against an input bundle on
// every request. Two interchangeable back-ends exist — an embedded
// in-process evaluator (CEL or Rego, selected per document) and a remote
// evaluator that calls a sidecar policy service — and a feature-flag router
// decides, per principal, which one answers a given query. Callers never see
// which back-end responded; only the result schema is observed.
package policy

import "context"

// UserInfo identifies the principal on whose behalf an action is requested.
type UserInfo struct {
	ID    string         `json:"id"`
	Role  string         `json:"role"`
	Extra map[string]any `json:"extra,omitempty"`
}

// ToolInfo describes the tool being invoked, when the action is a tool call.
type ToolInfo struct {
	Name        string `json:"name"`
	Sensitivity string `json:"sensitivity,omitempty"`
}

// ServerInfo describes the upstream server/provider handling the action.
type ServerInfo struct {
	ID       string `json:"id"`
	Provider string `json:"provider,omitempty"`
}

// InputBundle is the parameterized input every policy query is evaluated
// against: `{user, action, tool?, server?, context}` per the adapter
// contract.
type InputBundle struct {
	User    UserInfo       `json:"user"`
	Action  string         `json:"action"`
	Tool    *ToolInfo      `json:"tool,omitempty"`
	Server  *ServerInfo    `json:"server,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

// Decision is the uniform result schema returned by every back-end,
// regardless of which one answered.
type Decision struct {
	Allow              bool           `json:"allow"`
	Reason             string         `json:"reason"`
	FilteredParameters map[string]any `json:"filtered_parameters,omitempty"`
	AuditID            string         `json:"audit_id,omitempty"`
}

// Evaluator is implemented by every policy back-end (embedded CEL, embedded
// Rego, remote RPC). PolicyQuery names the compiled policy document to
// evaluate; an Evaluator that has no matching document must fail closed per
// MissingPolicy semantics, never panic or silently allow.
type Evaluator interface {
	BackendName() string
	Evaluate(ctx context.Context, policyQuery string, bundle InputBundle) (Decision, error)
}

// missingPolicyDecision is the fixed fail-closed response for a policy query
// that no loaded document answers.
func missingPolicyDecision() Decision {
	return Decision{Allow: false, Reason: "policy not found"}
}
