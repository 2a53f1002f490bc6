package storage

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// JSONLWriter handles async writing of JSON lines to a rotating file.
type JSONLWriter struct {
	path      string
	maxSizeMB int
	writeCh   chan any
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	logger    *lumberjack.Logger
	mu        sync.Mutex
}

// NewJSONLWriter creates an async JSONL writer for dir/name.jsonl.
func NewJSONLWriter(dir, name string, bufferSize int, maxSizeMB int) *JSONLWriter {
	if bufferSize < 1 {
		bufferSize = 1
	}
	w := &JSONLWriter{
		path:      filepath.Join(dir, name+".jsonl"),
		maxSizeMB: maxSizeMB,
		writeCh:   make(chan any, bufferSize),
		done:      make(chan struct{}),
	}

	w.wg.Add(1)
	go w.writeLoop()

	return w
}

// Path returns the active file path.
func (w *JSONLWriter) Path() string {
	return w.path
}

// Write queues a record for async writing
func (w *JSONLWriter) Write(record any) error {
	select {
	case <-w.done:
		return fmt.Errorf("writer is closed")
	default:
	}
	select {
	case w.writeCh <- record:
		return nil
	default:
		// Channel full, log warning but don't block
		slog.Warn("JSONL write buffer full, dropping record",
			"file", w.path)
		return fmt.Errorf("buffer full")
	}
}

// Close shuts down the writer and flushes pending data
func (w *JSONLWriter) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		w.wg.Wait()

		// Drain remaining items with timeout
		timeout := time.After(5 * time.Second)
	drain:
		for {
			select {
			case record := <-w.writeCh:
				w.writeRecord(record)
			case <-timeout:
				slog.Warn("JSONL writer close timeout, some records may be lost",
					"file", w.path)
				break drain
			default:
				break drain
			}
		}

		w.mu.Lock()
		defer w.mu.Unlock()
		if w.logger != nil {
			err = w.logger.Close()
		}
	})
	return err
}

func (w *JSONLWriter) writeLoop() {
	defer w.wg.Done()

	for {
		select {
		case record := <-w.writeCh:
			w.writeRecord(record)
		case <-w.done:
			return
		}
	}
}

func (w *JSONLWriter) writeRecord(record any) {
	data, err := json.Marshal(record)
	if err != nil {
		slog.Error("Failed to marshal record",
			"error", err,
			"file", w.path)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.logger == nil {
		if err := w.open(); err != nil {
			slog.Error("Failed to create output directory",
				"error", err,
				"file", w.path)
			return
		}
	}

	if _, err := w.logger.Write(append(data, '\n')); err != nil {
		slog.Error("Failed to write record",
			"error", err,
			"file", w.path)
	}
}

func (w *JSONLWriter) open() error {
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return err
	}
	w.logger = &lumberjack.Logger{
		Filename:   w.path,
		MaxSize:    w.maxSizeMB,
		MaxBackups: 100,
		MaxAge:     30,
		Compress:   false,
		LocalTime:  false,
	}
	slog.Debug("Opened JSONL file", "file", w.path)
	return nil
}
