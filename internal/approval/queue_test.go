package approval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestRequestApproval(t *testing.T) {
	q := NewQueue(nil)
	req, err := q.RequestApproval("alice", "tool-1", "need to debug prod", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, req.Status)
	assert.NotEmpty(t, req.ID)

	pending := q.ListPending()
	require.Len(t, pending, 1)
	assert.Equal(t, req.ID, pending[0].ID)
}

func TestRequestApproval_RequiresFields(t *testing.T) {
	q := NewQueue(nil)
	_, err := q.RequestApproval("", "tool-1", "x", time.Hour)
	assert.Error(t, err)
	_, err = q.RequestApproval("alice", "", "x", time.Hour)
	assert.Error(t, err)
}

func TestDecide_ApprovedGrantsExpiry(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	q := NewQueue(nil, WithClock(fixedClock(start)))
	req, err := q.RequestApproval("alice", "tool-1", "justification", 30*time.Minute)
	require.NoError(t, err)

	decided, err := q.Decide(req.ID, "bob", true, "looks fine")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, decided.Status)
	assert.Equal(t, "bob", decided.ReviewerID)
	assert.Equal(t, start.Add(30*time.Minute), decided.ExpiresAt)

	assert.Empty(t, q.ListPending())
}

func TestDecide_Denied(t *testing.T) {
	q := NewQueue(nil)
	req, err := q.RequestApproval("alice", "tool-1", "justification", time.Hour)
	require.NoError(t, err)

	decided, err := q.Decide(req.ID, "bob", false, "too risky")
	require.NoError(t, err)
	assert.Equal(t, StatusDenied, decided.Status)
}

func TestDecide_RequesterCannotSelfApprove(t *testing.T) {
	q := NewQueue(nil)
	req, err := q.RequestApproval("alice", "tool-1", "justification", time.Hour)
	require.NoError(t, err)

	_, err = q.Decide(req.ID, "alice", true, "")
	assert.Error(t, err)
}

func TestDecide_CannotDecideTwice(t *testing.T) {
	q := NewQueue(nil)
	req, err := q.RequestApproval("alice", "tool-1", "justification", time.Hour)
	require.NoError(t, err)

	_, err = q.Decide(req.ID, "bob", true, "")
	require.NoError(t, err)

	_, err = q.Decide(req.ID, "carol", true, "")
	assert.Error(t, err)
}

func TestUseApproval_IdempotentAndGatedByStatus(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start
	q := NewQueue(nil, WithClock(func() time.Time { return now }))

	req, err := q.RequestApproval("alice", "tool-1", "justification", time.Hour)
	require.NoError(t, err)

	// Not yet approved.
	assert.False(t, q.UseApproval(req.ID))

	_, err = q.Decide(req.ID, "bob", true, "")
	require.NoError(t, err)

	assert.True(t, q.UseApproval(req.ID))
	// Idempotent: using it again still reports success, no side effect.
	assert.True(t, q.UseApproval(req.ID))
}

func TestUseApproval_ExpiresOnFirstObservation(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start
	q := NewQueue(nil, WithClock(func() time.Time { return now }))

	req, err := q.RequestApproval("alice", "tool-1", "justification", time.Minute)
	require.NoError(t, err)
	_, err = q.Decide(req.ID, "bob", true, "")
	require.NoError(t, err)

	now = start.Add(2 * time.Minute)
	assert.False(t, q.UseApproval(req.ID))
}

func TestUseApproval_UnknownRequest(t *testing.T) {
	q := NewQueue(nil)
	assert.False(t, q.UseApproval("does-not-exist"))
}
