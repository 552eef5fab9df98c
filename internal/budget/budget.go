// Package budget implements the budget tracker: per-principal daily and
// monthly spend caps enforced against an append-only ledger. Under
// backing-store failure, checks fail closed — "degrade safely" is this
// component's theme, the inverse of the rate limiter's fail-open.
package budget

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/apathy-ca/sark/internal/cost"
	"github.com/apathy-ca/sark/internal/sarkerr"
)

// Entry is one append-only ledger row: a single priced call.
type Entry struct {
	ID            string
	PrincipalID   string
	Resource      string
	Provider      string
	Model         string
	EstimatedCost decimal.Decimal
	ActualCost    decimal.Decimal // zero value means "not yet known"
	Metadata      map[string]any
	RecordedAt    time.Time
}

// Aggregate is the derived spend summary for one principal over a period.
type Aggregate struct {
	Spent      decimal.Decimal
	ByProvider map[string]decimal.Decimal
	ByModel    map[string]decimal.Decimal
	Count      int
}

// Caps holds the daily/monthly spend ceiling for one principal, with an
// optional per-device override layered on top of the configured default.
type Caps struct {
	DailyCap   decimal.Decimal
	MonthlyCap decimal.Decimal
}

// CapsResolver resolves the effective caps for a principal/device pair.
// The default implementation in Tracker falls back to the configured
// global default when no per-principal override exists.
type CapsResolver interface {
	Resolve(ctx context.Context, principalID, deviceID string) (Caps, error)
}

// Store is the persistence boundary for the ledger. Implementations must
// be safe for concurrent use.
type Store interface {
	Append(ctx context.Context, e Entry) error
	SumSince(ctx context.Context, principalID string, since time.Time) (decimal.Decimal, error)
	Aggregate(ctx context.Context, principalID string, since time.Time) (Aggregate, error)
}

// staticCapsResolver always returns the same configured default caps.
type staticCapsResolver struct{ caps Caps }

func (r staticCapsResolver) Resolve(ctx context.Context, principalID, deviceID string) (Caps, error) {
	return r.caps, nil
}

// Tracker is the budget tracker. Construct with New.
type Tracker struct {
	store    Store
	resolver CapsResolver
	timezone *time.Location
	fast     *cost.SessionTracker // in-memory running-total fast path
	logger   *slog.Logger
}

// Option configures a Tracker.
type Option func(*Tracker)

func WithCapsResolver(r CapsResolver) Option {
	return func(t *Tracker) { t.resolver = r }
}

func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) { t.logger = logger }
}

// New constructs a Tracker backed by store, enforcing dailyCap/monthlyCap
// by default (per-principal overrides can be layered in via
// WithCapsResolver) and computing period boundaries in timezone.
func New(store Store, dailyCap, monthlyCap decimal.Decimal, timezone string, opts ...Option) *Tracker {
	loc, err := time.LoadLocation(timezone)
	if err != nil || loc == nil {
		loc = time.UTC
	}

	t := &Tracker{
		store:    store,
		resolver: staticCapsResolver{Caps{DailyCap: dailyCap, MonthlyCap: monthlyCap}},
		timezone: loc,
		fast:     cost.NewSessionTracker(nil),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With("component", "budget.Tracker")
	return t
}

// periodBoundaries returns the start of today and the start of this
// month, both in the tracker's configured timezone.
func (t *Tracker) periodBoundaries(now time.Time) (dayStart, monthStart time.Time) {
	local := now.In(t.timezone)
	y, m, d := local.Date()
	dayStart = time.Date(y, m, d, 0, 0, 0, 0, t.timezone)
	monthStart = time.Date(y, m, 1, 0, 0, 0, 0, t.timezone)
	return dayStart, monthStart
}

// CheckBudget reports whether prospectiveCost can be spent by principalID
// without exceeding either cap. On any store error it fails closed,
// returning a *sarkerr.Error with class forbidden_budget.
func (t *Tracker) CheckBudget(ctx context.Context, principalID, deviceID string, prospectiveCost decimal.Decimal) error {
	caps, err := t.resolver.Resolve(ctx, principalID, deviceID)
	if err != nil {
		t.logger.Error("caps resolution failed, failing closed", "principal_id", principalID, "error", err)
		return sarkerr.ForbiddenBudget("budget service unavailable")
	}

	now := time.Now()
	dayStart, monthStart := t.periodBoundaries(now)

	dailySpent, err := t.store.SumSince(ctx, principalID, dayStart)
	if err != nil {
		t.logger.Error("daily spend lookup failed, failing closed", "principal_id", principalID, "error", err)
		return sarkerr.ForbiddenBudget("budget service unavailable")
	}
	monthlySpent, err := t.store.SumSince(ctx, principalID, monthStart)
	if err != nil {
		t.logger.Error("monthly spend lookup failed, failing closed", "principal_id", principalID, "error", err)
		return sarkerr.ForbiddenBudget("budget service unavailable")
	}

	if !caps.DailyCap.IsZero() && dailySpent.Add(prospectiveCost).GreaterThan(caps.DailyCap) {
		return sarkerr.ForbiddenBudget("daily budget exceeded").
			With("period", "daily").
			With("cap", caps.DailyCap.String()).
			With("spent", dailySpent.String())
	}
	if !caps.MonthlyCap.IsZero() && monthlySpent.Add(prospectiveCost).GreaterThan(caps.MonthlyCap) {
		return sarkerr.ForbiddenBudget("monthly budget exceeded").
			With("period", "monthly").
			With("cap", caps.MonthlyCap.String()).
			With("spent", monthlySpent.String())
	}
	return nil
}

// RecordCost appends a ledger entry for a completed (or estimated) call.
// actualCost may be the zero decimal if not yet known; callers should
// call RecordCost again with the resolved actual cost once available —
// the ledger is append-only, so this records a second entry rather than
// mutating the first.
func (t *Tracker) RecordCost(ctx context.Context, e Entry) error {
	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now()
	}
	if err := t.store.Append(ctx, e); err != nil {
		return fmt.Errorf("budget: record cost: %w", err)
	}

	cost := e.ActualCost
	if cost.IsZero() {
		cost = e.EstimatedCost
	}
	t.fast.Add(e.PrincipalID, cost)
	return nil
}

// Aggregate returns the spend aggregate for principalID over the named
// period ("daily" or "monthly").
func (t *Tracker) Aggregate(ctx context.Context, principalID, period string) (Aggregate, error) {
	dayStart, monthStart := t.periodBoundaries(time.Now())

	since := dayStart
	if period == "monthly" {
		since = monthStart
	}
	return t.store.Aggregate(ctx, principalID, since)
}
