package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubEvaluator is a fake remote back-end for adapter routing tests.
type stubEvaluator struct {
	name     string
	decision Decision
	err      error
	calls    int
}

func (s *stubEvaluator) BackendName() string { return s.name }

func (s *stubEvaluator) Evaluate(_ context.Context, _ string, _ InputBundle) (Decision, error) {
	s.calls++
	return s.decision, s.err
}

func newTestAdapter(t *testing.T, opts ...Option) (*Adapter, *CELBackend, *DocumentIndex) {
	t.Helper()
	celBackend, err := NewCELBackend(nil)
	require.NoError(t, err)
	require.NoError(t, celBackend.LoadDocument("q", `user.role == "admin"`, "", nil))

	index := newDocumentIndex()
	index.set("q", LanguageCEL)

	rollout := NewRollout(nil)
	a := NewAdapter(celBackend, NewRegoBackend(nil), index, rollout, opts...)
	return a, celBackend, index
}

func TestAdapter_UnknownQueryFailsClosed(t *testing.T) {
	a, _, _ := newTestAdapter(t)
	d, err := a.Evaluate(context.Background(), "never-loaded", InputBundle{})
	require.NoError(t, err)
	assert.False(t, d.Allow)
	assert.Equal(t, "policy not found", d.Reason)
}

func TestAdapter_UnknownQueryEmitsAudit(t *testing.T) {
	var gotReason string
	emitter := func(_ context.Context, severity, reason string, meta map[string]any) {
		gotReason = reason
		assert.Equal(t, "high", severity)
	}
	a, _, _ := newTestAdapter(t, WithAuditEmitter(emitter))

	_, err := a.Evaluate(context.Background(), "missing", InputBundle{})
	require.NoError(t, err)
	assert.Equal(t, "policy not found", gotReason)
}

func TestAdapter_RoutesToEmbeddedByDefault(t *testing.T) {
	a, _, _ := newTestAdapter(t)
	d, err := a.Evaluate(context.Background(), "q", InputBundle{User: UserInfo{Role: "admin"}})
	require.NoError(t, err)
	assert.True(t, d.Allow)
	assert.NotEmpty(t, d.AuditID)
}

func TestAdapter_RoutesToRemoteWhenRolloutIsFull(t *testing.T) {
	remote := &stubEvaluator{name: "remote", decision: Decision{Allow: true, Reason: "remote says so"}}

	celBackend, err := NewCELBackend(nil)
	require.NoError(t, err)
	require.NoError(t, celBackend.LoadDocument("q", `false`, "", nil))
	index := newDocumentIndex()
	index.set("q", LanguageCEL)
	rollout := NewRollout(map[string]int{"q": 100})

	a := NewAdapter(celBackend, NewRegoBackend(nil), index, rollout, WithRemote(remote))

	d, err := a.Evaluate(context.Background(), "q", InputBundle{User: UserInfo{ID: "u1"}})
	require.NoError(t, err)
	assert.True(t, d.Allow)
	assert.Equal(t, "remote says so", d.Reason)
	assert.Equal(t, 1, remote.calls)
}

func TestAdapter_BackendErrorFailsClosed(t *testing.T) {
	remote := &stubEvaluator{name: "remote", err: assert.AnError}

	celBackend, err := NewCELBackend(nil)
	require.NoError(t, err)
	require.NoError(t, celBackend.LoadDocument("q", `true`, "", nil))
	index := newDocumentIndex()
	index.set("q", LanguageCEL)
	rollout := NewRollout(map[string]int{"q": 100})

	a := NewAdapter(celBackend, NewRegoBackend(nil), index, rollout, WithRemote(remote))

	d, err := a.Evaluate(context.Background(), "q", InputBundle{})
	require.NoError(t, err, "adapter must not bubble evaluator errors, it fails closed instead")
	assert.False(t, d.Allow)
}
