package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FallbackLogger writes events as newline-delimited JSON under a
// configured directory when a sink cannot take them, rotating by file
// size. It is itself best-effort: write errors are swallowed by the
// caller's error-counting, never propagated further.
type FallbackLogger struct {
	mu          sync.Mutex
	dir         string
	sinkName    string
	maxBytes    int64
	current     *os.File
	currentSize int64
}

// NewFallbackLogger constructs a FallbackLogger rooted at dir, one
// rotating file sequence per sink.
func NewFallbackLogger(dir, sinkName string, maxBytes int64) *FallbackLogger {
	if maxBytes <= 0 {
		maxBytes = DefaultSinkConfig().FallbackMaxBytes
	}
	return &FallbackLogger{dir: dir, sinkName: sinkName, maxBytes: maxBytes}
}

// Write appends each event as its own JSON line, rotating to a new file
// when the current one would exceed maxBytes.
func (f *FallbackLogger) Write(events []Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, ev := range events {
		line, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("audit: marshal fallback event: %w", err)
		}
		line = append(line, '\n')

		if err := f.ensureOpenLocked(); err != nil {
			return err
		}
		if f.currentSize+int64(len(line)) > f.maxBytes {
			if err := f.rotateLocked(); err != nil {
				return err
			}
		}
		n, err := f.current.Write(line)
		if err != nil {
			return fmt.Errorf("audit: write fallback line: %w", err)
		}
		f.currentSize += int64(n)
	}
	return nil
}

func (f *FallbackLogger) ensureOpenLocked() error {
	if f.current != nil {
		return nil
	}
	return f.openNewLocked()
}

func (f *FallbackLogger) rotateLocked() error {
	if f.current != nil {
		_ = f.current.Close()
		f.current = nil
	}
	return f.openNewLocked()
}

func (f *FallbackLogger) openNewLocked() error {
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("audit: mkdir fallback dir: %w", err)
	}
	name := fmt.Sprintf("%s-%s.ndjson", f.sinkName, time.Now().UTC().Format("20060102T150405.000000000Z"))
	path := filepath.Join(f.dir, name)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("audit: open fallback file: %w", err)
	}
	f.current = file
	f.currentSize = 0
	return nil
}

// Close closes the current fallback file, if any.
func (f *FallbackLogger) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current == nil {
		return nil
	}
	err := f.current.Close()
	f.current = nil
	return err
}
