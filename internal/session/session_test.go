package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dgnsrekt/chatcap/internal/capture"
	"github.com/dgnsrekt/chatcap/internal/config"
	"github.com/dgnsrekt/chatcap/internal/extract"
	"github.com/dgnsrekt/chatcap/internal/storage"
	"github.com/dgnsrekt/chatcap/internal/types"
)

func testConfig(dataDir string) *config.Config {
	return &config.Config{
		DataDir:             dataDir,
		BufferSize:          100,
		MaxFileSizeMB:       10,
		PollInterval:        10 * time.Millisecond,
		RequestPollInterval: 10 * time.Millisecond,
		BodyFetchTimeout:    time.Second,
		MaxPayloadBytes:     4096,
		Profile:             config.DefaultProfile(),
	}
}

func TestSessionLifecycle(t *testing.T) {
	cfg := testConfig(t.TempDir())
	store, err := NewStore(cfg.DataDir)
	if err != nil {
		t.Fatalf("NewStore() failed: %v", err)
	}
	registry := storage.NewWriterRegistry(cfg.BufferSize, cfg.MaxFileSizeMB)
	t.Cleanup(func() { _ = registry.Close() })

	s, err := New(cfg, store, registry, nil)
	if err != nil {
		t.Fatalf("New() = %v; want nil", err)
	}
	if err := ValidateID(s.ID()); err != nil {
		t.Fatalf("New() produced invalid id %q: %v", s.ID(), err)
	}

	url := "https://chatgpt.com/backend-api/f/conversation"
	s.Capture.Handle(capture.StructuredView{EventMethod: types.MethodResponseReceived, RequestID: "1.1", URL: url})
	s.Capture.Handle(capture.StructuredView{
		EventMethod: types.MethodEventSourceMessageReceived,
		RequestID:   "1.1",
		Data:        `{"v":{"message":{"author":{"role":"assistant"},"content":{"content_type":"text","parts":["Hello world"]}}}}`,
	})
	s.Capture.Handle(capture.StructuredView{EventMethod: types.MethodEventSourceMessageReceived, RequestID: "1.1", Data: "[DONE]"})

	if !s.Detector.WaitDone(context.Background(), "1.1", time.Second, time.Second) {
		t.Fatalf("WaitDone() = false; want marker completion")
	}

	sum, err := s.Finish(context.Background(), extract.New(cfg.Profile), types.SessionCompleted)
	if err != nil {
		t.Fatalf("Finish() = %v; want nil", err)
	}
	if sum.Best == nil || sum.Best.Answer != "Hello world" || !sum.Best.IsPrimary {
		t.Fatalf("Finish().Best = %+v; want primary Hello world", sum.Best)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() = %v; want nil", err)
	}

	meta, err := store.Get(s.ID())
	if err != nil {
		t.Fatalf("Get() = %v; want nil", err)
	}
	if meta.Status != types.SessionCompleted || meta.FinishedAt == nil || meta.AnswerChars != len("Hello world") {
		t.Fatalf("Get() = %+v; want completed meta with counts", meta)
	}
	for _, name := range []string{"summary.json", "network_events.jsonl", "conversation_events.jsonl"} {
		if _, err := os.Stat(filepath.Join(s.Dir, name)); err != nil {
			t.Fatalf("expected %s in session dir: %v", name, err)
		}
	}
}

func TestSessionFail(t *testing.T) {
	cfg := testConfig(t.TempDir())
	store, _ := NewStore(cfg.DataDir)
	registry := storage.NewWriterRegistry(cfg.BufferSize, cfg.MaxFileSizeMB)
	t.Cleanup(func() { _ = registry.Close() })

	s, err := New(cfg, store, registry, nil)
	if err != nil {
		t.Fatalf("New() = %v; want nil", err)
	}
	s.Fail("no primary request")
	_ = s.Close()

	meta, err := store.Get(s.ID())
	if err != nil {
		t.Fatalf("Get() = %v; want nil", err)
	}
	if meta.Status != types.SessionFailed || meta.Notes != "no primary request" {
		t.Fatalf("Get() = %+v; want failed with notes", meta)
	}
}
