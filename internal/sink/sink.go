package sink

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/dgnsrekt/chatcap/internal/bus"
	"github.com/dgnsrekt/chatcap/internal/config"
	"github.com/dgnsrekt/chatcap/internal/storage"
	"github.com/dgnsrekt/chatcap/internal/summary"
	"github.com/tidwall/gjson"
)

// ResultsLogName is the JSONL file (without extension) records are appended to.
const ResultsLogName = "results"

// Writer is the subset of storage.JSONLWriter the sink needs.
type Writer interface {
	Write(record any) error
	Close() error
}

// Sink appends one Record per completed capture to the results log.
type Sink struct {
	writer  Writer
	brands  Brands
	deduper *summary.Deduper

	mu      sync.Mutex
	bus     bus.EventBus
	handler func(bus.Event)
}

// BrandsFromProfile copies the scoring lists out of a profile.
func BrandsFromProfile(p *config.Profile) Brands {
	if p == nil {
		return Brands{}
	}
	return Brands{
		MyDomains:         p.MyDomains,
		CompetitorDomains: p.CompetitorDomains,
		Names:             p.Brands,
	}
}

// Open creates a sink writing to dir/results.jsonl.
func Open(dir string, bufferSize, maxSizeMB int, brands Brands) *Sink {
	return New(storage.NewJSONLWriter(dir, ResultsLogName, bufferSize, maxSizeMB), brands)
}

func New(w Writer, brands Brands) *Sink {
	return &Sink{
		writer:  w,
		brands:  brands,
		deduper: summary.NewDeduper(1024, 10*time.Minute),
	}
}

// Handle records a finished capture. A result already recorded within the
// dedup window is dropped.
func (s *Sink) Handle(ev bus.CaptureCompleted) error {
	if ev.Result != nil && !s.deduper.First(*ev.Result) {
		slog.Debug("Skipping duplicate result",
			"session_id", ev.SessionID,
			"request_id", ev.Result.RequestID)
		return nil
	}
	rec := NewRecord(ev.SessionID, StatusOf(ev.Status), ev.Result, ev.Error, s.brands)
	if err := s.writer.Write(rec); err != nil {
		return fmt.Errorf("write result record: %w", err)
	}
	if rec.Metrics != nil && rec.Metrics.ZeroCitations {
		slog.Info("Answer has no citations", "session_id", ev.SessionID)
	}
	return nil
}

// Attach subscribes the sink to capture completions on b.
func (s *Sink) Attach(b bus.EventBus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bus != nil {
		return fmt.Errorf("sink already attached")
	}
	handler := func(ev bus.Event) {
		done, ok := ev.(bus.CaptureCompleted)
		if !ok {
			return
		}
		if err := s.Handle(done); err != nil {
			slog.Error("Failed to record capture result",
				"session_id", done.SessionID,
				"error", err)
		}
	}
	if err := b.Subscribe(bus.TopicCaptureCompleted, handler); err != nil {
		return err
	}
	s.bus = b
	s.handler = handler
	return nil
}

// Close detaches from the bus and flushes the results log.
func (s *Sink) Close() error {
	s.mu.Lock()
	if s.bus != nil {
		if err := s.bus.Unsubscribe(bus.TopicCaptureCompleted, s.handler); err != nil {
			slog.Debug("Sink unsubscribe failed", "error", err)
		}
		s.bus = nil
		s.handler = nil
	}
	s.mu.Unlock()
	return s.writer.Close()
}

// ReadResults loads every record from dir/results.jsonl. A missing log yields
// no records.
func ReadResults(dir string) ([]Record, error) {
	var out []Record
	var decodeErr error
	path := filepath.Join(dir, ResultsLogName+".jsonl")
	err := storage.ReadJSONL(path, func(line gjson.Result) bool {
		var rec Record
		if err := json.Unmarshal([]byte(line.Raw), &rec); err != nil {
			decodeErr = fmt.Errorf("decode result record: %w", err)
			return false
		}
		out = append(out, rec)
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, decodeErr
}
