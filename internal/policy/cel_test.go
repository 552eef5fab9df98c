package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustCELBackend(t *testing.T) *CELBackend {
	t.Helper()
	b, err := NewCELBackend(nil)
	require.NoError(t, err)
	return b
}

func TestCELBackend_LoadAndEvaluate_Allow(t *testing.T) {
	b := mustCELBackend(t)
	require.NoError(t, b.LoadDocument("admin-only", `user.role == "admin"`, "", nil))

	d, err := b.Evaluate(context.Background(), "admin-only", InputBundle{User: UserInfo{ID: "u1", Role: "admin"}})
	require.NoError(t, err)
	assert.True(t, d.Allow)
}

func TestCELBackend_LoadAndEvaluate_Deny(t *testing.T) {
	b := mustCELBackend(t)
	require.NoError(t, b.LoadDocument("admin-only", `user.role == "admin"`, "requires admin role", nil))

	d, err := b.Evaluate(context.Background(), "admin-only", InputBundle{User: UserInfo{ID: "u1", Role: "viewer"}})
	require.NoError(t, err)
	assert.False(t, d.Allow)
	assert.Equal(t, "requires admin role", d.Reason)
}

func TestCELBackend_UnknownQuery(t *testing.T) {
	b := mustCELBackend(t)
	_, err := b.Evaluate(context.Background(), "nonexistent", InputBundle{})
	assert.Error(t, err)
}

func TestCELBackend_InvalidExpressionRejected(t *testing.T) {
	b := mustCELBackend(t)
	err := b.LoadDocument("broken", `user.role ==`, "", nil)
	assert.Error(t, err)
	assert.False(t, b.Has("broken"))
}

func TestCELBackend_NonBoolExpressionRejected(t *testing.T) {
	b := mustCELBackend(t)
	err := b.LoadDocument("not-bool", `user.id`, "", nil)
	assert.Error(t, err)
}

func TestCELBackend_CompileFailureRetainsPreviousVersion(t *testing.T) {
	b := mustCELBackend(t)
	require.NoError(t, b.LoadDocument("q", `user.role == "admin"`, "", nil))

	err := b.LoadDocument("q", `user.role ==`, "", nil)
	assert.Error(t, err)

	// Previous good version must still answer.
	d, err := b.Evaluate(context.Background(), "q", InputBundle{User: UserInfo{Role: "admin"}})
	require.NoError(t, err)
	assert.True(t, d.Allow)
}

func TestCELBackend_ToolAndServerContext(t *testing.T) {
	b := mustCELBackend(t)
	require.NoError(t, b.LoadDocument("sensitive-tool",
		`tool.sensitivity == "critical" && "approved" in context && context["approved"] == true`, "needs approval", nil))

	d, err := b.Evaluate(context.Background(), "sensitive-tool", InputBundle{
		Tool:    &ToolInfo{Name: "delete_db", Sensitivity: "critical"},
		Context: map[string]any{"approved": true},
	})
	require.NoError(t, err)
	assert.True(t, d.Allow)

	d, err = b.Evaluate(context.Background(), "sensitive-tool", InputBundle{
		Tool: &ToolInfo{Name: "delete_db", Sensitivity: "critical"},
	})
	require.NoError(t, err)
	assert.False(t, d.Allow)
	assert.Equal(t, "needs approval", d.Reason)
}

func TestCELBackend_BackendName(t *testing.T) {
	b := mustCELBackend(t)
	assert.Equal(t, "cel", b.BackendName())
}
