package policy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	routeCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sark_policy_routing_total",
			Help: "Policy evaluations routed by back-end.",
		},
		[]string{"backend"},
	)
	decisionLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sark_policy_decision_seconds",
			Help:    "Policy decision latency by back-end.",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .015, .025, .05, .1},
		},
		[]string{"backend"},
	)
)

func init() {
	prometheus.MustRegister(routeCounter, decisionLatency)
}

// AuditEmitter is called whenever the adapter needs to surface a
// high-severity event outside the normal decision path — currently only
// "policy not found". Wired to the audit pipeline by the caller that
// constructs the Adapter; nil is safe (events are just dropped with a log).
type AuditEmitter func(ctx context.Context, severity, reason string, meta map[string]any)

// Adapter is the policy engine adapter: it hides which back-end answers a
// query behind a single Evaluate contract, consulting Rollout to decide
// between the embedded evaluator (CEL or Rego, per document) and the
// remote evaluator.
type Adapter struct {
	cel     *CELBackend
	rego    *RegoBackend
	remote  Evaluator // nil if no remote sidecar configured
	rollout *Rollout
	index   *DocumentIndex
	audit   AuditEmitter
	logger  *slog.Logger
}

// Option configures an Adapter.
type Option func(*Adapter)

func WithRemote(remote Evaluator) Option {
	return func(a *Adapter) { a.remote = remote }
}

func WithAuditEmitter(fn AuditEmitter) Option {
	return func(a *Adapter) { a.audit = fn }
}

func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) { a.logger = logger }
}

// NewAdapter constructs an Adapter over the given embedded back-ends,
// document index, and rollout router.
func NewAdapter(cel *CELBackend, rego *RegoBackend, index *DocumentIndex, rollout *Rollout, opts ...Option) *Adapter {
	a := &Adapter{
		cel:     cel,
		rego:    rego,
		index:   index,
		rollout: rollout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("component", "policy.Adapter")
	return a
}

// Evaluate implements the adapter contract: evaluate(policy_query,
// input_bundle) -> {allow, reason, filtered_parameters?, audit_id?}.
//
// Routing: if a remote back-end is configured and Rollout.RouteNew selects
// it for (policyQuery, bundle.User.ID), the remote evaluator answers.
// Otherwise the embedded evaluator answers, using whichever language
// (CEL/Rego) the document index says this query was compiled with. If the
// query is unknown to the index at all, the adapter fails closed and emits
// a high-severity audit event — it never falls through to "allow".
func (a *Adapter) Evaluate(ctx context.Context, policyQuery string, bundle InputBundle) (Decision, error) {
	lang, known := a.index.Language(policyQuery)
	if !known {
		a.logger.Warn("policy query has no compiled document, failing closed", "query", policyQuery)
		if a.audit != nil {
			a.audit(ctx, "high", "policy not found", map[string]any{"query": policyQuery, "principal": bundle.User.ID})
		}
		return missingPolicyDecision(), nil
	}

	backend := a.selectBackend(lang, policyQuery, bundle.User.ID)

	start := time.Now()
	decision, err := backend.Evaluate(ctx, policyQuery, bundle)
	decisionLatency.WithLabelValues(backend.BackendName()).Observe(time.Since(start).Seconds())
	routeCounter.WithLabelValues(backend.BackendName()).Inc()

	if err != nil {
		a.logger.Error("policy evaluation error, failing closed", "query", policyQuery, "backend", backend.BackendName(), "error", err)
		return Decision{Allow: false, Reason: "policy evaluation error"}, nil
	}

	decision.AuditID = auditID(policyQuery, bundle)
	return decision, nil
}

func (a *Adapter) selectBackend(lang Language, policyQuery, principal string) Evaluator {
	if a.remote != nil && a.rollout.RouteNew(policyQuery, principal) {
		return a.remote
	}
	if lang == LanguageRego {
		return a.rego
	}
	return a.cel
}

// auditID derives a stable, non-secret correlation id for a single
// evaluation so downstream audit records and this decision can be joined.
func auditID(policyQuery string, bundle InputBundle) string {
	sum := sha256.Sum256([]byte(policyQuery + "|" + bundle.User.ID + "|" + bundle.Action + "|" + time.Now().String()))
	return hex.EncodeToString(sum[:])[:16]
}
