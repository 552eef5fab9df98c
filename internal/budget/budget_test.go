package budget

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apathy-ca/sark/internal/sarkerr"
)

// fakeStore is an in-memory Store used to unit test Tracker's cap logic
// without a real database.
type fakeStore struct {
	entries []Entry
	failOn  string // "sum", "aggregate", "append", or "" for no injected failure
	err     error
}

func (f *fakeStore) Append(ctx context.Context, e Entry) error {
	if f.failOn == "append" {
		return f.err
	}
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeStore) SumSince(ctx context.Context, principalID string, since time.Time) (decimal.Decimal, error) {
	if f.failOn == "sum" {
		return decimal.Zero, f.err
	}
	total := decimal.Zero
	for _, e := range f.entries {
		if e.PrincipalID != principalID || e.RecordedAt.Before(since) {
			continue
		}
		c := e.ActualCost
		if c.IsZero() {
			c = e.EstimatedCost
		}
		total = total.Add(c)
	}
	return total, nil
}

func (f *fakeStore) Aggregate(ctx context.Context, principalID string, since time.Time) (Aggregate, error) {
	if f.failOn == "aggregate" {
		return Aggregate{}, f.err
	}
	sum, _ := f.SumSince(ctx, principalID, since)
	return Aggregate{Spent: sum, ByProvider: map[string]decimal.Decimal{}, ByModel: map[string]decimal.Decimal{}}, nil
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestTracker_CheckBudget_AllowsUnderCap(t *testing.T) {
	store := &fakeStore{}
	tr := New(store, dec("10.00"), dec("100.00"), "UTC")

	err := tr.CheckBudget(context.Background(), "p1", "", dec("5.00"))
	assert.NoError(t, err)
}

func TestTracker_CheckBudget_DeniesOverDailyCap(t *testing.T) {
	store := &fakeStore{entries: []Entry{
		{PrincipalID: "p1", EstimatedCost: dec("8.00"), RecordedAt: time.Now()},
	}}
	tr := New(store, dec("10.00"), dec("1000.00"), "UTC")

	err := tr.CheckBudget(context.Background(), "p1", "", dec("5.00"))
	require.Error(t, err)

	se, ok := sarkerr.As(err)
	require.True(t, ok)
	assert.Equal(t, sarkerr.ClassForbiddenBudget, se.Class)
}

func TestTracker_CheckBudget_DeniesOverMonthlyCap(t *testing.T) {
	store := &fakeStore{entries: []Entry{
		{PrincipalID: "p1", EstimatedCost: dec("90.00"), RecordedAt: time.Now()},
	}}
	tr := New(store, dec("1000.00"), dec("100.00"), "UTC")

	err := tr.CheckBudget(context.Background(), "p1", "", dec("50.00"))
	assert.Error(t, err)
}

func TestTracker_CheckBudget_FailsClosedOnStoreError(t *testing.T) {
	store := &fakeStore{failOn: "sum", err: assert.AnError}
	tr := New(store, dec("10.00"), dec("100.00"), "UTC")

	err := tr.CheckBudget(context.Background(), "p1", "", dec("1.00"))
	assert.Error(t, err, "a store failure must deny, never allow")
}

func TestTracker_RecordCost(t *testing.T) {
	store := &fakeStore{}
	tr := New(store, dec("10.00"), dec("100.00"), "UTC")

	err := tr.RecordCost(context.Background(), Entry{
		PrincipalID:   "p1",
		Resource:      "tool:search",
		Provider:      "openai",
		EstimatedCost: dec("0.02"),
	})
	require.NoError(t, err)
	require.Len(t, store.entries, 1)
	assert.Equal(t, "p1", store.entries[0].PrincipalID)
}

func TestTracker_Aggregate(t *testing.T) {
	store := &fakeStore{entries: []Entry{
		{PrincipalID: "p1", EstimatedCost: dec("1.00"), RecordedAt: time.Now()},
		{PrincipalID: "p1", EstimatedCost: dec("2.00"), RecordedAt: time.Now()},
	}}
	tr := New(store, dec("10.00"), dec("100.00"), "UTC")

	agg, err := tr.Aggregate(context.Background(), "p1", "daily")
	require.NoError(t, err)
	assert.True(t, agg.Spent.Equal(dec("3.00")))
}
