package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/open-policy-agent/opa/rego"

	"github.com/apathy-ca/sark/internal/sarkerr"
)

// compiledRegoDocument is a prepared OPA query for one policy document. Each
// document is compiled in isolation (its own rego.New/PrepareForEval call)
// so that a syntax error in one module can never affect another, matching
// the "bad policy must not take down a good one" invariant.
type compiledRegoDocument struct {
	query  rego.PreparedEvalQuery
	source string
}

// regoResult is the shape a Rego policy document is expected to produce:
// a `package policy` module defining `allow` (bool, default false), and
// optionally `reason` and `filtered_parameters`.
type regoResult struct {
	Allow              bool           `json:"allow"`
	Reason             string         `json:"reason"`
	FilteredParameters map[string]any `json:"filtered_parameters"`
}

// RegoBackend is the embedded OPA/Rego evaluator, offered alongside CEL so
// policy authors can choose the declarative language that best fits a given
// document.
type RegoBackend struct {
	mu     sync.RWMutex
	docs   map[string]compiledRegoDocument
	logger *slog.Logger
}

func NewRegoBackend(logger *slog.Logger) *RegoBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &RegoBackend{
		docs:   make(map[string]compiledRegoDocument),
		logger: logger.With("component", "policy.RegoBackend"),
	}
}

func (b *RegoBackend) BackendName() string { return "rego" }

// LoadDocument compiles a Rego module (expected to declare `package policy`)
// under query. As with CELBackend, a failing compile leaves the previous
// good version, if any, untouched.
func (b *RegoBackend) LoadDocument(ctx context.Context, query, source string) error {
	r := rego.New(
		rego.Query("data.policy"),
		rego.Module(query+".rego", source),
	)

	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("policy: rego compile error in %q: %w", query, err)
	}

	b.mu.Lock()
	b.docs[query] = compiledRegoDocument{query: prepared, source: source}
	b.mu.Unlock()

	b.logger.Debug("compiled rego policy document", "query", query)
	return nil
}

func (b *RegoBackend) Has(query string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.docs[query]
	return ok
}

func (b *RegoBackend) Evaluate(ctx context.Context, policyQuery string, bundle InputBundle) (Decision, error) {
	b.mu.RLock()
	doc, ok := b.docs[policyQuery]
	b.mu.RUnlock()
	if !ok {
		return Decision{}, sarkerr.NotFound("policy not found").With("query", policyQuery)
	}

	input, err := bundleToRegoInput(bundle)
	if err != nil {
		return Decision{}, fmt.Errorf("policy: marshal input bundle for %q: %w", policyQuery, err)
	}

	rs, err := doc.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return Decision{}, fmt.Errorf("policy: rego evaluation error for %q: %w", policyQuery, err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return Decision{Allow: false, Reason: "denied by policy " + policyQuery}, nil
	}

	var result regoResult
	if err := remarshal(rs[0].Expressions[0].Value, &result); err != nil {
		return Decision{}, fmt.Errorf("policy: decode rego result for %q: %w", policyQuery, err)
	}

	if !result.Allow {
		return Decision{Allow: false, Reason: orDefault(result.Reason, "denied by policy "+policyQuery)}, nil
	}
	return Decision{Allow: true, Reason: orDefault(result.Reason, "allow"), FilteredParameters: result.FilteredParameters}, nil
}

// bundleToRegoInput converts an InputBundle to the generic map[string]any
// shape OPA's evaluator expects, round-tripping through JSON so struct tags
// determine field names.
func bundleToRegoInput(bundle InputBundle) (map[string]any, error) {
	var m map[string]any
	if err := remarshal(bundle, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// remarshal round-trips v through JSON into dst, used to bridge between
// Go struct types and the generic interface{} values the rego/cel APIs
// pass around.
func remarshal(v, dst any) error {
	buf, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(buf, dst)
}
