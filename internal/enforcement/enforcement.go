// Package enforcement implements the enforcement pipeline: the ordered
// composition of the decision cache, governance predicates, budget
// tracker, rate limiter, and policy engine adapter that produces exactly
// one Decision per request. It is the heart of the gateway — every other
// component exists to answer one of this pipeline's stages.
package enforcement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/apathy-ca/sark/internal/budget"
	"github.com/apathy-ca/sark/internal/cache"
	"github.com/apathy-ca/sark/internal/governance"
	"github.com/apathy-ca/sark/internal/policy"
	"github.com/apathy-ca/sark/internal/ratelimit"
)

// decisionLatency and cacheLookups track the pipeline's decision latency
// by outcome source and the cache's hit/miss rate, using the same
// prometheus.CounterVec/HistogramVec shape internal/policy's rollout
// routing metrics already use.
var (
	decisionLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sark_enforcement_decision_seconds",
			Help:    "Enforcement pipeline decision latency by outcome source.",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25},
		},
		[]string{"source"},
	)
	cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sark_enforcement_cache_lookups_total",
			Help: "Decision cache lookups by outcome (hit/miss).",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(decisionLatency, cacheLookups)
}

// Source identifies which stage produced the terminal verdict.
type Source string

const (
	SourceEmergency Source = "emergency"
	SourceAllowlist Source = "allowlist"
	SourceOverride  Source = "override"
	SourceTime      Source = "time"
	SourceBudget    Source = "budget"
	SourceRate      Source = "rate"
	SourcePolicy    Source = "policy"
	SourceError     Source = "error"
)

// Decision is the pipeline's output: exactly one per request. A decision
// served from the cache keeps its original Source and sets CacheHit —
// "cache" is never a source of its own.
type Decision struct {
	Allow      bool
	Source     Source
	Reason     string
	RetryAfter time.Duration // only meaningful for source=rate
	AuditID    string
	RequestID  string
	CacheHit   bool
	DurationMS int64
}

// Request carries everything the pipeline's stages need to evaluate one
// action.
type Request struct {
	RequestID    string
	PrincipalID  string
	DeviceID     string
	RemoteIP     string
	Action       string
	Resource     string
	Sensitivity  cache.Sensitivity
	CacheContext map[string]any

	OverridePIN string

	ResourceTags []string // for time-rule applicability matching

	ProspectiveCost decimal.Decimal

	RateIdentifier    string
	RateLimit         int
	RateWindowSeconds int

	PolicyQuery string
	Bundle      policy.InputBundle
}

// AuditFunc is invoked for every decision the pipeline reaches, cache hits
// included. Wired to the audit pipeline by the caller; nil drops audit
// events silently (still safe — auditing is observability, not a gate).
type AuditFunc func(ctx context.Context, req Request, d Decision)

// Pipeline wires together the decision cache, governance predicates,
// budget tracker, rate limiter, and policy engine adapter into the single
// evaluation described above.
type Pipeline struct {
	cache      *cache.Cache
	emergency  *governance.EmergencySwitch
	allowlist  *governance.Allowlist
	overrides  *governance.OverrideStore
	timeRules  *governance.TimeRuleSet
	budgetTrk  *budget.Tracker
	limiter    *ratelimit.Limiter
	policyAdp  *policy.Adapter
	audit      AuditFunc
	logger     *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

func WithAudit(fn AuditFunc) Option {
	return func(p *Pipeline) { p.audit = fn }
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// New constructs a Pipeline. Any of the governance/budget/limiter/policy
// dependencies may be nil, in which case that stage is treated as "not
// configured" and never fires (emergency nil => never active, allowlist
// nil => never matches, etc.) so the pipeline degrades gracefully in
// partially-configured deployments and in tests that exercise one stage
// at a time.
func New(
	c *cache.Cache,
	emergency *governance.EmergencySwitch,
	allowlist *governance.Allowlist,
	overrides *governance.OverrideStore,
	timeRules *governance.TimeRuleSet,
	budgetTrk *budget.Tracker,
	limiter *ratelimit.Limiter,
	policyAdp *policy.Adapter,
	opts ...Option,
) *Pipeline {
	p := &Pipeline{
		cache:     c,
		emergency: emergency,
		allowlist: allowlist,
		overrides: overrides,
		timeRules: timeRules,
		budgetTrk: budgetTrk,
		limiter:   limiter,
		policyAdp: policyAdp,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "enforcement.Pipeline")
	return p
}

// Evaluate runs req through the full pipeline and returns exactly one
// Decision, never an error — internal failures are converted to a fail
// closed Decision{Allow:false, Source:SourceError} rather than propagated,
// per spec's "never leak exception details" requirement.
func (p *Pipeline) Evaluate(ctx context.Context, req Request) (d Decision) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("enforcement pipeline panicked, failing closed", "panic", r, "request_id", req.RequestID)
			d = Decision{Allow: false, Source: SourceError, Reason: "internal error", RequestID: req.RequestID}
		}
		d.DurationMS = time.Since(start).Milliseconds()
		decisionLatency.WithLabelValues(string(d.Source)).Observe(time.Since(start).Seconds())
		p.emitAudit(ctx, req, d)
	}()

	cacheKey := cache.Key(req.PrincipalID, req.Action, req.Resource, req.CacheContext)
	// A request carrying a break-glass PIN is a deliberate, one-shot
	// action: it must neither be answered from a stale cache entry nor
	// leave one behind for a later unrelated request to collide with.
	cacheable := req.OverridePIN == ""

	if p.cache != nil && cacheable {
		if cached, ok := p.cache.Get(cacheKey); ok {
			cacheLookups.WithLabelValues("hit").Inc()
			return Decision{
				Allow:     cached.Allow,
				Source:    Source(cached.Source),
				Reason:    cached.Reason,
				AuditID:   cached.AuditID,
				RequestID: req.RequestID,
				CacheHit:  true,
			}
		}
		cacheLookups.WithLabelValues("miss").Inc()
	}

	// Step 1: emergency switch is absolute — skip every other stage.
	if p.emergency != nil && p.emergency.Active() {
		d = Decision{Allow: true, Source: SourceEmergency, Reason: "emergency switch active", RequestID: req.RequestID}
		return d
	}

	// Steps 2-4: governance predicates, first match wins.
	verdict, govSource, govReason := p.evaluateGovernance(req)

	if govSource == SourceTime && !verdict {
		// Time-rule block is itself terminal; budget/rate add nothing to a
		// decision that's already a deny.
		d = Decision{Allow: false, Source: SourceTime, Reason: govReason, RequestID: req.RequestID}
		if cacheable {
			p.writeCache(cacheKey, d, req.Sensitivity)
		}
		return d
	}

	// Steps 5-6: budget and rate are consulted regardless of whether
	// governance already said allow (or said nothing at all) — only
	// emergency, handled above, skips them.
	if p.budgetTrk != nil && !req.ProspectiveCost.IsZero() {
		if err := p.budgetTrk.CheckBudget(ctx, req.PrincipalID, req.DeviceID, req.ProspectiveCost); err != nil {
			d = Decision{Allow: false, Source: SourceBudget, Reason: budgetReason(err), RequestID: req.RequestID}
			if cacheable {
				p.writeCache(cacheKey, d, req.Sensitivity)
			}
			return d
		}
	}

	if p.limiter != nil && req.RateIdentifier != "" {
		info := p.limiter.Check(req.RateIdentifier, req.RateLimit, req.RateWindowSeconds)
		if !info.Allowed {
			d = Decision{
				Allow:      false,
				Source:     SourceRate,
				Reason:     "rate limit exceeded",
				RetryAfter: info.RetryAfter,
				RequestID:  req.RequestID,
			}
			if cacheable {
				p.writeCache(cacheKey, d, req.Sensitivity)
			}
			return d
		}
	}

	// Governance already produced an allow verdict (allowlist, override, or
	// a time-rule allow/alert) and budget/rate passed: finalize with the
	// governance stage's own source label — the policy engine is never
	// consulted in this branch.
	if govSource != "" {
		if govSource == SourceOverride {
			p.overrides.Consume(req.RequestID)
		}
		d = Decision{Allow: true, Source: govSource, Reason: govReason, RequestID: req.RequestID}
		// Steps 1 and 3 (emergency, override) must never be served from
		// cache; allowlist and time allows are safe to cache.
		if cacheable && govSource != SourceOverride {
			p.writeCache(cacheKey, d, req.Sensitivity)
		}
		return d
	}

	// Step 7/8: no governance predicate matched — defer to the policy
	// engine. An unconfigured policy engine is treated the same as a
	// missing policy document: fail closed.
	if p.policyAdp == nil {
		d = Decision{Allow: false, Source: SourcePolicy, Reason: "no policy engine configured", RequestID: req.RequestID}
		return d
	}

	policyDecision, err := p.policyAdp.Evaluate(ctx, req.PolicyQuery, req.Bundle)
	if err != nil {
		d = Decision{Allow: false, Source: SourceError, Reason: "policy evaluation error", RequestID: req.RequestID}
		return d
	}

	d = Decision{
		Allow:     policyDecision.Allow,
		Source:    SourcePolicy,
		Reason:    policyDecision.Reason,
		AuditID:   policyDecision.AuditID,
		RequestID: req.RequestID,
	}
	if cacheable {
		p.writeCache(cacheKey, d, req.Sensitivity)
	}
	return d
}

// evaluateGovernance runs steps 2-4 in order and returns the first
// matching verdict. An empty source means no predicate matched at all.
func (p *Pipeline) evaluateGovernance(req Request) (allow bool, source Source, reason string) {
	if p.allowlist != nil && p.allowlist.Allows(req.PrincipalID, req.RemoteIP) {
		return true, SourceAllowlist, "principal or ip on allowlist"
	}

	if p.overrides != nil && req.OverridePIN != "" && p.overrides.Validate(req.RequestID, req.OverridePIN) {
		return true, SourceOverride, "break-glass override"
	}

	if p.timeRules != nil {
		action, ruleName := p.timeRules.Evaluate(req.ResourceTags)
		switch action {
		case governance.TimeRuleBlock:
			return false, SourceTime, fmt.Sprintf("blocked by time rule %q", ruleName)
		case governance.TimeRuleAllow:
			return true, SourceTime, fmt.Sprintf("allowed by time rule %q", ruleName)
		case governance.TimeRuleAlert:
			return true, SourceTime, fmt.Sprintf("allowed with alert by time rule %q", ruleName)
		}
	}

	return false, "", ""
}

func (p *Pipeline) writeCache(key string, d Decision, sensitivity cache.Sensitivity) {
	if p.cache == nil {
		return
	}
	ttl := cache.TTLForSensitivity(sensitivity)
	p.cache.Set(key, cache.Decision{Allow: d.Allow, Source: string(d.Source), Reason: d.Reason, AuditID: d.AuditID, DecidedAt: time.Now()}, ttl)
}

func (p *Pipeline) emitAudit(ctx context.Context, req Request, d Decision) {
	if p.audit == nil {
		return
	}
	p.audit(ctx, req, d)
}

func budgetReason(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
