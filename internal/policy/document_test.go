package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentLoader_LoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "admin-only.cel"), []byte(`user.role == "admin"`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "budget-gate.rego"), []byte(regoAdminOnly), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o644))

	celBackend, err := NewCELBackend(nil)
	require.NoError(t, err)
	regoBackend := NewRegoBackend(nil)
	index := newDocumentIndex()
	loader := NewDocumentLoader(celBackend, regoBackend, index, nil)

	loaded, failures := loader.LoadDir(context.Background(), dir)
	assert.Equal(t, 2, loaded)
	assert.Empty(t, failures)

	lang, ok := index.Language("admin-only")
	require.True(t, ok)
	assert.Equal(t, LanguageCEL, lang)

	lang, ok = index.Language("budget-gate")
	require.True(t, ok)
	assert.Equal(t, LanguageRego, lang)

	assert.True(t, celBackend.Has("admin-only"))
	assert.True(t, regoBackend.Has("budget-gate"))
}

func TestDocumentLoader_BadFileDoesNotBlockGoodOnes(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "good.cel"), []byte(`action == "read"`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.cel"), []byte(`action ==`), 0o644))

	celBackend, err := NewCELBackend(nil)
	require.NoError(t, err)
	index := newDocumentIndex()
	loader := NewDocumentLoader(celBackend, NewRegoBackend(nil), index, nil)

	loaded, failures := loader.LoadDir(context.Background(), dir)
	assert.Equal(t, 1, loaded)
	assert.Len(t, failures, 1)
	assert.True(t, celBackend.Has("good"))
	assert.False(t, celBackend.Has("bad"))
}

func TestDocumentLoader_NonexistentDir(t *testing.T) {
	celBackend, _ := NewCELBackend(nil)
	loader := NewDocumentLoader(celBackend, NewRegoBackend(nil), newDocumentIndex(), nil)

	loaded, failures := loader.LoadDir(context.Background(), "/no/such/dir")
	assert.Equal(t, 0, loaded)
	assert.Len(t, failures, 1)
}
