package policy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/apathy-ca/sark/internal/sarkerr"
)

// compiledCELDocument is a pre-compiled, ready-to-run CEL policy document.
// The expression must evaluate to bool: true means allow.
type compiledCELDocument struct {
	expression string
	program    cel.Program
	reason     string         // static reason surfaced on deny
	filtered   map[string]any // static filtered_parameters surfaced on allow
}

// CELBackend is the embedded CEL evaluator: policy documents are compiled
// once at load time from a watched directory and evaluated under a read
// lock against an InputBundle on every request. Target latency: p95 < 1ms.
type CELBackend struct {
	env *cel.Env

	mu     sync.RWMutex
	docs   map[string]compiledCELDocument
	logger *slog.Logger
}

// NewCELBackend creates a CELBackend with the input bundle's variable shape
// declared in the CEL environment: user.*, action, tool.*, server.*,
// context (a dynamic map).
func NewCELBackend(logger *slog.Logger) (*CELBackend, error) {
	if logger == nil {
		logger = slog.Default()
	}

	env, err := cel.NewEnv(
		cel.Variable("user.id", cel.StringType),
		cel.Variable("user.role", cel.StringType),
		cel.Variable("action", cel.StringType),
		cel.Variable("tool.name", cel.StringType),
		cel.Variable("tool.sensitivity", cel.StringType),
		cel.Variable("server.id", cel.StringType),
		cel.Variable("server.provider", cel.StringType),
		cel.Variable("context", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("policy: create CEL environment: %w", err)
	}

	return &CELBackend{
		env:    env,
		docs:   make(map[string]compiledCELDocument),
		logger: logger.With("component", "policy.CELBackend"),
	}, nil
}

func (b *CELBackend) BackendName() string { return "cel" }

// LoadDocument compiles expr under query and, on success, atomically
// replaces any previously compiled document for that query. On compile
// failure the previous good version (if any) is retained untouched; the
// error is returned to the caller for logging — a bad policy file must
// never take down a good one already serving traffic.
func (b *CELBackend) LoadDocument(query, expr, reason string, filtered map[string]any) error {
	ast, issues := b.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("policy: CEL compile error in %q (%s): %w", query, expr, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return fmt.Errorf("policy: CEL document %q must evaluate to bool, got %s", query, ast.OutputType())
	}

	prg, err := b.env.Program(ast)
	if err != nil {
		return fmt.Errorf("policy: CEL program creation failed for %q: %w", query, err)
	}

	b.mu.Lock()
	b.docs[query] = compiledCELDocument{expression: expr, program: prg, reason: reason, filtered: filtered}
	b.mu.Unlock()

	b.logger.Debug("compiled CEL policy document", "query", query)
	return nil
}

// Has reports whether a document is currently loaded for query.
func (b *CELBackend) Has(query string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.docs[query]
	return ok
}

// Evaluate runs the compiled document for policyQuery against bundle.
func (b *CELBackend) Evaluate(_ context.Context, policyQuery string, bundle InputBundle) (Decision, error) {
	b.mu.RLock()
	doc, ok := b.docs[policyQuery]
	b.mu.RUnlock()
	if !ok {
		return Decision{}, sarkerr.NotFound("policy not found").With("query", policyQuery)
	}

	out, _, err := doc.program.Eval(bundleToCELVars(bundle))
	if err != nil {
		return Decision{}, fmt.Errorf("policy: CEL evaluation error for %q: %w", policyQuery, err)
	}

	allow, ok := out.Value().(bool)
	if !ok {
		return Decision{}, fmt.Errorf("policy: CEL document %q returned non-bool %T", policyQuery, out.Value())
	}

	if !allow {
		return Decision{Allow: false, Reason: orDefault(doc.reason, "denied by policy "+policyQuery)}, nil
	}
	return Decision{Allow: true, Reason: "allow", FilteredParameters: doc.filtered}, nil
}

func bundleToCELVars(bundle InputBundle) map[string]interface{} {
	toolName, toolSensitivity := "", ""
	if bundle.Tool != nil {
		toolName = bundle.Tool.Name
		toolSensitivity = bundle.Tool.Sensitivity
	}
	serverID, serverProvider := "", ""
	if bundle.Server != nil {
		serverID = bundle.Server.ID
		serverProvider = bundle.Server.Provider
	}
	ctxMap := make(map[string]interface{}, len(bundle.Context))
	for k, v := range bundle.Context {
		ctxMap[k] = v
	}

	return map[string]interface{}{
		"user.id":          bundle.User.ID,
		"user.role":        bundle.User.Role,
		"action":           bundle.Action,
		"tool.name":        toolName,
		"tool.sensitivity": toolSensitivity,
		"server.id":        serverID,
		"server.provider":  serverProvider,
		"context":          ctxMap,
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
