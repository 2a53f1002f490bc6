package storage

import (
	"log/slog"
	"path/filepath"
	"sync"
)

// WriterRegistry hands out one JSONLWriter per session directory and log name.
type WriterRegistry struct {
	maxSizeMB  int
	bufferSize int

	// writers maps session dir -> log name -> writer
	writers map[string]map[string]*JSONLWriter
	mu      sync.RWMutex
}

// NewWriterRegistry creates a new WriterRegistry for managing multiple JSONL writers.
func NewWriterRegistry(bufferSize int, maxSizeMB int) *WriterRegistry {
	return &WriterRegistry{
		maxSizeMB:  maxSizeMB,
		bufferSize: bufferSize,
		writers:    make(map[string]map[string]*JSONLWriter),
	}
}

// GetWriter returns (or creates) the writer for dir/name.jsonl.
func (r *WriterRegistry) GetWriter(dir, name string) *JSONLWriter {
	dir = filepath.Clean(dir)

	r.mu.RLock()
	if byName, ok := r.writers[dir]; ok {
		if writer, ok := byName[name]; ok {
			r.mu.RUnlock()
			return writer
		}
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if byName, ok := r.writers[dir]; ok {
		if writer, ok := byName[name]; ok {
			return writer
		}
	}
	if r.writers[dir] == nil {
		r.writers[dir] = make(map[string]*JSONLWriter)
	}

	writer := NewJSONLWriter(dir, name, r.bufferSize, r.maxSizeMB)
	r.writers[dir][name] = writer

	slog.Debug("Created new JSONL writer", "dir", dir, "name", name)
	return writer
}

// CloseDir closes and forgets every writer under dir.
func (r *WriterRegistry) CloseDir(dir string) error {
	dir = filepath.Clean(dir)

	r.mu.Lock()
	byName := r.writers[dir]
	delete(r.writers, dir)
	r.mu.Unlock()

	var lastErr error
	for name, writer := range byName {
		if err := writer.Close(); err != nil {
			slog.Error("Failed to close writer", "dir", dir, "name", name, "error", err)
			lastErr = err
		}
	}
	return lastErr
}

// Close closes all managed writers.
func (r *WriterRegistry) Close() error {
	r.mu.Lock()
	writers := r.writers
	r.writers = make(map[string]map[string]*JSONLWriter)
	r.mu.Unlock()

	var lastErr error
	for dir, byName := range writers {
		for name, writer := range byName {
			if err := writer.Close(); err != nil {
				slog.Error("Failed to close writer",
					"dir", dir,
					"name", name,
					"error", err)
				lastErr = err
			}
		}
	}
	return lastErr
}
