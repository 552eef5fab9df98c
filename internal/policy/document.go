package policy

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Language names the declarative policy language a document is authored
// in. The extension of a policy file in the watched directory selects it.
type Language string

const (
	LanguageCEL  Language = "cel"
	LanguageRego Language = "rego"
)

// DocumentIndex tracks which language answers each known policy query, so
// the Adapter knows which embedded back-end to route an embedded-side
// evaluation to without either back-end needing to know about the other.
type DocumentIndex struct {
	mu   sync.RWMutex
	lang map[string]Language
}

func newDocumentIndex() *DocumentIndex {
	return &DocumentIndex{lang: make(map[string]Language)}
}

// NewDocumentIndex creates an empty index. Callers normally populate it via
// a DocumentLoader; it is exported so components that load a single
// ad-hoc document (tests, cmd wiring for a static policy set) can build
// one without a full directory loader.
func NewDocumentIndex() *DocumentIndex {
	return newDocumentIndex()
}

// Set records that query is answered by the given language. Exported for
// callers that register documents individually rather than through a
// DocumentLoader.
func (d *DocumentIndex) Set(query string, lang Language) {
	d.set(query, lang)
}

func (d *DocumentIndex) set(query string, lang Language) {
	d.mu.Lock()
	d.lang[query] = lang
	d.mu.Unlock()
}

// Language reports the language of a known query and whether it exists.
func (d *DocumentIndex) Language(query string) (Language, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	l, ok := d.lang[query]
	return l, ok
}

// DocumentLoader walks a directory of `<query>.cel` / `<query>.rego` files,
// compiling each into the matching embedded back-end. A compile failure is
// logged and the query's previous good version (if any) is left serving
// traffic — one bad file on disk must never take the service down.
type DocumentLoader struct {
	cel    *CELBackend
	rego   *RegoBackend
	index  *DocumentIndex
	logger *slog.Logger
}

// NewDocumentLoader creates a loader that compiles into the given back-ends
// and records which query belongs to which language in index.
func NewDocumentLoader(cel *CELBackend, rego *RegoBackend, index *DocumentIndex, logger *slog.Logger) *DocumentLoader {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentLoader{cel: cel, rego: rego, index: index, logger: logger.With("component", "policy.DocumentLoader")}
}

// LoadDir compiles every *.cel and *.rego file directly under dir. Returns
// the count of documents successfully (re)compiled and a slice of
// per-file errors for documents that failed and were skipped.
func (l *DocumentLoader) LoadDir(ctx context.Context, dir string) (loaded int, failures []error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, []error{fmt.Errorf("policy: read policy directory %s: %w", dir, err)}
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := filepath.Ext(name)
		query := strings.TrimSuffix(name, ext)

		switch ext {
		case ".cel":
			if err := l.loadCELFile(filepath.Join(dir, name), query); err != nil {
				failures = append(failures, err)
				l.logger.Error("failed to load CEL policy document, keeping previous version",
					"query", query, "error", err)
				continue
			}
			l.index.set(query, LanguageCEL)
			loaded++

		case ".rego":
			if err := l.loadRegoFile(ctx, filepath.Join(dir, name), query); err != nil {
				failures = append(failures, err)
				l.logger.Error("failed to load rego policy document, keeping previous version",
					"query", query, "error", err)
				continue
			}
			l.index.set(query, LanguageRego)
			loaded++

		default:
			continue
		}
	}

	l.logger.Info("policy directory loaded", "dir", dir, "loaded", loaded, "failed", len(failures))
	return loaded, failures
}

func (l *DocumentLoader) loadCELFile(path, query string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("policy: read %s: %w", path, err)
	}
	return l.cel.LoadDocument(query, strings.TrimSpace(string(raw)), "", nil)
}

func (l *DocumentLoader) loadRegoFile(ctx context.Context, path, query string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("policy: read %s: %w", path, err)
	}
	return l.rego.LoadDocument(ctx, query, string(raw))
}
