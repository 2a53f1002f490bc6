// Package session scopes all capture state to one directory and lifetime.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgnsrekt/chatcap/internal/capture"
	"github.com/dgnsrekt/chatcap/internal/config"
	"github.com/dgnsrekt/chatcap/internal/extract"
	"github.com/dgnsrekt/chatcap/internal/storage"
	"github.com/dgnsrekt/chatcap/internal/summary"
	"github.com/dgnsrekt/chatcap/internal/types"
	"github.com/google/uuid"
)

// Session owns the correlator, buffers and logs of one capture run. Nothing
// here is shared between sessions.
type Session struct {
	Meta       types.SessionMeta
	Dir        string
	Chunks     *storage.ChunkStore
	Classifier *capture.Classifier
	Correlator *capture.Correlator
	Detector   *capture.Detector
	Capture    *capture.NetworkCapture

	cfg      *config.Config
	store    *Store
	registry *storage.WriterRegistry
}

// New creates a fresh session directory and its capture pipeline. fetcher
// may be nil when no browser is attached.
func New(cfg *config.Config, store *Store, registry *storage.WriterRegistry, fetcher capture.BodyFetcher) (*Session, error) {
	id := uuid.NewString()
	meta := types.SessionMeta{
		ID:        id,
		CreatedAt: time.Now().UTC(),
		Status:    types.SessionRunning,
	}
	if err := store.SaveMeta(meta); err != nil {
		return nil, err
	}
	dir := store.SessionDir(id)

	chunks, err := storage.NewChunkStore(dir)
	if err != nil {
		return nil, capture.NewError(capture.CodeStorage, "create chunk store", err)
	}

	classifier := capture.NewClassifier(cfg.Profile)
	correlator := capture.NewCorrelator(classifier, cfg.RequestPollInterval)
	s := &Session{
		Meta:       meta,
		Dir:        dir,
		Chunks:     chunks,
		Classifier: classifier,
		Correlator: correlator,
		Detector:   capture.NewDetector(chunks, cfg.Profile.TerminalMarker, cfg.PollInterval),
		cfg:        cfg,
		store:      store,
		registry:   registry,
	}
	s.Capture = capture.NewNetworkCapture(
		correlator,
		chunks,
		fetcher,
		registry.GetWriter(dir, summary.NetworkLogName),
		registry.GetWriter(dir, summary.ConversationLogName),
		cfg.MaxPayloadBytes,
		cfg.BodyFetchTimeout,
	)

	slog.Info("Capture session started", "session_id", id, "dir", dir)
	return s, nil
}

func (s *Session) ID() string {
	return s.Meta.ID
}

// Builder returns a summary builder over this session's live state.
func (s *Session) Builder(extractor *extract.Extractor) *summary.Builder {
	return summary.NewBuilder(s.Meta.ID, s.Chunks, s.Classifier, extractor, s.Correlator)
}

// Finish builds and saves the summary, then records the final status.
func (s *Session) Finish(ctx context.Context, extractor *extract.Extractor, status types.SessionStatus) (*types.Summary, error) {
	s.Capture.Wait()

	sum, err := s.Builder(extractor).Build(ctx)
	if err != nil {
		s.finalize(types.SessionFailed, nil, err.Error())
		return nil, fmt.Errorf("build summary: %w", err)
	}
	if _, err := summary.Save(s.Dir, sum); err != nil {
		s.finalize(types.SessionFailed, sum, err.Error())
		return nil, err
	}
	s.finalize(status, sum, "")
	return sum, nil
}

// Fail records a terminal failure without building a summary.
func (s *Session) Fail(reason string) {
	s.finalize(types.SessionFailed, nil, reason)
}

func (s *Session) finalize(status types.SessionStatus, sum *types.Summary, notes string) {
	now := time.Now().UTC()
	s.Meta.Status = status
	s.Meta.FinishedAt = &now
	s.Meta.Notes = notes
	if sum != nil {
		s.Meta.RequestCount = sum.RequestCount
		if sum.Best != nil {
			s.Meta.AnswerChars = sum.Best.AnswerChars
			s.Meta.CitationsCount = sum.Best.CitationsCount
		}
	}
	if err := s.store.SaveMeta(s.Meta); err != nil {
		slog.Error("Failed to save session meta", "session_id", s.Meta.ID, "error", err)
	}
}

// Close stops in-flight fetches and flushes the session logs.
func (s *Session) Close() error {
	s.Capture.Close()
	return s.registry.CloseDir(s.Dir)
}
