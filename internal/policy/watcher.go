package policy

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches the policy directory for changes to *.cel/*.rego files
// and triggers a full directory recompile through DocumentLoader on any
// create/write/rename. A compile failure during recompile never stops the
// watcher — it logs and keeps serving the previous good documents.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	loader    *DocumentLoader
	dir       string
	done      chan struct{}
	logger    *slog.Logger
}

// NewWatcher creates a Watcher over dir. Call Start to begin processing
// events in the background.
func NewWatcher(dir string, loader *DocumentLoader, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	return &Watcher{
		fsWatcher: fsw,
		loader:    loader,
		dir:       dir,
		done:      make(chan struct{}),
		logger:    logger.With("component", "policy.Watcher"),
	}, nil
}

// Start begins watching in a background goroutine. Returns immediately.
func (w *Watcher) Start() {
	go w.loop()
}

// Stop shuts down the watcher and releases its fsnotify handle.
func (w *Watcher) Stop() error {
	close(w.done)
	return w.fsWatcher.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if !isPolicyFile(event.Name) {
				continue
			}
			w.logger.Info("policy file changed, reloading directory", "path", event.Name, "op", event.Op.String())
			loaded, failures := w.loader.LoadDir(context.Background(), w.dir)
			w.logger.Info("policy directory reloaded", "loaded", loaded, "failed", len(failures))

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("fsnotify error", "error", err)
		}
	}
}

func isPolicyFile(path string) bool {
	ext := filepath.Ext(path)
	return strings.EqualFold(ext, ".cel") || strings.EqualFold(ext, ".rego")
}
