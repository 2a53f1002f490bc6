// Package controller orchestrates capture runs and serves stored sessions.
package controller

import (
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/fetch"
	"github.com/dgnsrekt/chatcap/internal/bus"
	"github.com/dgnsrekt/chatcap/internal/capture"
	"github.com/dgnsrekt/chatcap/internal/cdp"
	"github.com/dgnsrekt/chatcap/internal/config"
	"github.com/dgnsrekt/chatcap/internal/extract"
	"github.com/dgnsrekt/chatcap/internal/session"
	"github.com/dgnsrekt/chatcap/internal/sink"
	"github.com/dgnsrekt/chatcap/internal/storage"
	"github.com/dgnsrekt/chatcap/internal/summary"
	"github.com/dgnsrekt/chatcap/internal/types"
	"github.com/tidwall/gjson"
)

// Browser is an attached conversation tab.
type Browser interface {
	capture.BodyFetcher
	SetHandler(fn func(capture.EventView))
	TargetID() string
	TabURL() string
	Close() error
}

// Hook is a Fetch-domain interception session on the same tab.
type Hook interface {
	capture.FetchSession
	Enable(ctx context.Context, patterns []*fetch.RequestPattern, onPaused func(json.RawMessage)) error
	Close(ctx context.Context) error
}

type (
	Connector  func(ctx context.Context) (Browser, error)
	HookDialer func(ctx context.Context, targetID string) (Hook, error)
)

// ChromeConnector attaches to the tab selected by cfg.TabURLFilter.
func ChromeConnector(cfg *config.Config) Connector {
	return func(ctx context.Context) (Browser, error) {
		c := cdp.NewClient(cfg)
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
		return c, nil
	}
}

// ChromeHookDialer opens a raw CDP session on the attached tab.
func ChromeHookDialer(cfg *config.Config) HookDialer {
	return func(ctx context.Context, targetID string) (Hook, error) {
		return cdp.DialHook(ctx, cfg.GetCDPURL(), targetID)
	}
}

// CaptureOptions override the configured waits for one run. Zero values
// fall back to the config.
type CaptureOptions struct {
	RequestTimeout time.Duration
	Timeout        time.Duration
	Idle           time.Duration
}

// CaptureOutcome is what one finished capture produced.
type CaptureOutcome struct {
	Meta    types.SessionMeta `json:"session"`
	Reason  capture.Reason    `json:"reason,omitempty"`
	Summary *types.Summary    `json:"summary,omitempty"`
}

// Service runs captures and exposes stored sessions.
type Service struct {
	cfg       *config.Config
	store     *session.Store
	registry  *storage.WriterRegistry
	extractor *extract.Extractor
	bus       bus.EventBus
	connect   Connector
	dialHook  HookDialer

	mu     sync.Mutex
	active string
}

func NewService(cfg *config.Config, store *session.Store, registry *storage.WriterRegistry, eventBus bus.EventBus, connect Connector, dialHook HookDialer) *Service {
	return &Service{
		cfg:       cfg,
		store:     store,
		registry:  registry,
		extractor: extract.New(cfg.Profile),
		bus:       eventBus,
		connect:   connect,
		dialHook:  dialHook,
	}
}

// run is one in-flight capture.
type run struct {
	svc     *Service
	browser Browser
	hook    Hook
	sess    *session.Session
	opts    CaptureOptions
}

// Capture attaches, waits for the next answer and persists its summary.
func (s *Service) Capture(ctx context.Context, opts CaptureOptions) (*CaptureOutcome, error) {
	r, err := s.begin(ctx, opts)
	if err != nil {
		return nil, err
	}
	return r.finish(ctx)
}

// StartCapture begins a capture and finishes it in the background. The
// returned meta identifies the new session.
func (s *Service) StartCapture(ctx context.Context, opts CaptureOptions) (types.SessionMeta, error) {
	r, err := s.begin(ctx, opts)
	if err != nil {
		return types.SessionMeta{}, err
	}
	meta := r.sess.Meta
	go func() {
		if _, err := r.finish(context.Background()); err != nil {
			slog.Error("Background capture failed", "session_id", meta.ID, "error", err)
		}
	}()
	return meta, nil
}

// Active returns the id of the running capture, if any.
func (s *Service) Active() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Service) begin(ctx context.Context, opts CaptureOptions) (*run, error) {
	s.mu.Lock()
	if s.active != "" {
		active := s.active
		s.mu.Unlock()
		return nil, capture.NewError(capture.CodeBusy, "capture already running: "+active, nil)
	}
	s.active = "pending"
	s.mu.Unlock()

	r, err := s.attach(ctx, opts)
	s.mu.Lock()
	if err != nil {
		s.active = ""
	} else {
		s.active = r.sess.ID()
	}
	s.mu.Unlock()
	return r, err
}

func (s *Service) attach(ctx context.Context, opts CaptureOptions) (*run, error) {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = s.cfg.RequestTimeout
	}
	if opts.Timeout <= 0 {
		opts.Timeout = s.cfg.CaptureTimeout
	}
	if opts.Idle <= 0 {
		opts.Idle = s.cfg.IdleTimeout
	}

	b, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	sess, err := session.New(s.cfg, s.store, s.registry, b)
	if err != nil {
		b.Close()
		return nil, err
	}
	sess.Meta.TabURL = b.TabURL()

	id := sess.ID()
	sess.Capture.SetObserver(func(ev types.NetworkEvent) {
		s.bus.Publish(bus.NetworkEvent{SessionID: id, Event: ev})
	})
	b.SetHandler(sess.Capture.Handle)

	r := &run{svc: s, browser: b, sess: sess, opts: opts}
	if s.cfg.EnableResponseHook && s.dialHook != nil {
		r.hook = s.enableHook(ctx, sess, b.TargetID(), opts.Timeout)
	}
	return r, nil
}

// enableHook is best effort: the network listener alone still captures.
func (s *Service) enableHook(ctx context.Context, sess *session.Session, targetID string, bodyTimeout time.Duration) Hook {
	h, err := s.dialHook(ctx, targetID)
	if err != nil {
		slog.Warn("Response hook unavailable", "session_id", sess.ID(), "error", err)
		return nil
	}
	rh := capture.NewResponseHook(sess.Capture, h, bodyTimeout)
	if err := h.Enable(ctx, cdp.HookPatterns(s.cfg.Profile), rh.HandlePaused); err != nil {
		slog.Warn("Response hook enable failed", "session_id", sess.ID(), "error", err)
		h.Close(ctx)
		return nil
	}
	return h
}

func (r *run) finish(ctx context.Context) (*CaptureOutcome, error) {
	s, sess := r.svc, r.sess
	id := sess.ID()
	defer r.release()

	requestID, ok := sess.Correlator.NewPrimarySince(ctx, nil, r.opts.RequestTimeout)
	if !ok {
		reason := "no conversation request observed"
		if ctx.Err() != nil {
			reason = "capture cancelled"
		}
		sess.Fail(reason)
		slog.Warn("Capture failed", "session_id", id, "reason", reason)
		s.bus.Publish(bus.CaptureCompleted{SessionID: id, Status: types.SessionFailed, Error: reason})
		return &CaptureOutcome{Meta: sess.Meta}, capture.NewError(capture.CodeTimeout, reason, capture.ErrTimeout)
	}
	sess.Meta.PrimaryID = requestID
	slog.Info("Primary request observed", "session_id", id, "request_id", requestID)

	outcome := sess.Detector.Wait(ctx, requestID, r.opts.Timeout, r.opts.Idle)
	status := types.SessionCompleted
	switch outcome.Reason {
	case capture.ReasonTimeout:
		status = types.SessionTimedOut
	case capture.ReasonCancelled:
		status = types.SessionFailed
	}
	slog.Info("Completion wait ended",
		"session_id", id,
		"request_id", requestID,
		"reason", outcome.Reason,
		"elapsed_ms", outcome.Elapsed.Milliseconds())

	// Detach before building so no chunk lands after the summary.
	r.browser.SetHandler(nil)
	sum, err := sess.Finish(context.WithoutCancel(ctx), s.extractor, status)
	if err != nil {
		s.bus.Publish(bus.CaptureCompleted{SessionID: id, Status: types.SessionFailed, Error: err.Error()})
		return &CaptureOutcome{Meta: sess.Meta, Reason: outcome.Reason}, capture.NewError(capture.CodeCaptureFailed, "finish session", err)
	}

	s.bus.Publish(bus.CaptureCompleted{SessionID: id, Status: status, Result: sum.Best})
	return &CaptureOutcome{Meta: sess.Meta, Reason: outcome.Reason, Summary: sum}, nil
}

func (r *run) release() {
	r.browser.SetHandler(nil)
	if r.hook != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.hook.Close(ctx); err != nil {
			slog.Debug("Response hook close failed", "error", err)
		}
		cancel()
	}
	if err := r.sess.Close(); err != nil {
		slog.Warn("Failed to close session logs", "session_id", r.sess.ID(), "error", err)
	}
	if err := r.browser.Close(); err != nil {
		slog.Debug("Browser close failed", "error", err)
	}
	r.svc.mu.Lock()
	r.svc.active = ""
	r.svc.mu.Unlock()
}

func (s *Service) ListSessions(ctx context.Context) ([]types.SessionMeta, error) {
	return s.store.List()
}

func (s *Service) GetSession(ctx context.Context, id string) (types.SessionMeta, error) {
	return s.store.Get(strings.TrimSpace(id))
}

func (s *Service) GetSummary(ctx context.Context, id string) (*types.Summary, error) {
	return s.store.Summary(strings.TrimSpace(id))
}

// RebuildSummary re-extracts every request of a stored session from disk.
func (s *Service) RebuildSummary(ctx context.Context, id string) (*types.Summary, error) {
	id = strings.TrimSpace(id)
	if err := s.requireIdle(id); err != nil {
		return nil, err
	}
	if _, err := s.store.Get(id); err != nil {
		return nil, err
	}
	dir := s.store.SessionDir(id)
	chunks, err := storage.NewChunkStore(dir)
	if err != nil {
		return nil, capture.NewError(capture.CodeStorage, "open chunk store", err)
	}
	b := summary.NewBuilder(id, chunks, capture.NewClassifier(s.cfg.Profile), s.extractor, nil)
	sum, err := b.Build(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := summary.Save(dir, sum); err != nil {
		return nil, err
	}
	slog.Info("Summary rebuilt", "session_id", id, "requests", sum.RequestCount)
	return sum, nil
}

func (s *Service) DeleteSession(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if err := s.requireIdle(id); err != nil {
		return err
	}
	return s.store.Delete(id)
}

// ListRequests replays a session's conversation log into one record per
// request, in first-seen order.
func (s *Service) ListRequests(ctx context.Context, id string) ([]types.RequestRecord, error) {
	id = strings.TrimSpace(id)
	if _, err := s.store.Get(id); err != nil {
		return nil, err
	}
	classifier := capture.NewClassifier(s.cfg.Profile)
	byID := make(map[string]*types.RequestRecord)
	var seq int64

	path := filepath.Join(s.store.SessionDir(id), summary.ConversationLogName+".jsonl")
	err := storage.ReadJSONL(path, func(row gjson.Result) bool {
		if err := ctx.Err(); err != nil {
			return false
		}
		reqID := row.Get("request_id").String()
		if reqID == "" {
			return true
		}
		rec, ok := byID[reqID]
		if !ok {
			seq++
			rec = &types.RequestRecord{
				RequestID: reqID,
				FirstSeen: row.Get("timestamp").Time(),
				Seq:       seq,
			}
			byID[reqID] = rec
		}
		if rec.URL == "" {
			if u := row.Get("url").String(); u != "" {
				rec.URL = u
				rec.Classification = classifier.Classify(u)
			}
		}
		switch types.EventMethod(row.Get("method").String()) {
		case types.MethodStreamingEnabled, types.MethodStreamChunkSaved:
			rec.StreamEnabled = true
		case types.MethodBodySaved, types.MethodHookBodySaved:
			rec.ResponseSaved = true
		case types.MethodRequestBodySaved:
			rec.RequestBodySaved = true
		}
		return true
	})
	if err != nil {
		return nil, capture.NewError(capture.CodeStorage, "read conversation log", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]types.RequestRecord, 0, len(byID))
	for _, rec := range byID {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// Extract runs the extractor over raw capture text.
func (s *Service) Extract(ctx context.Context, raw string) (extract.Result, error) {
	if strings.TrimSpace(raw) == "" {
		return extract.Result{}, capture.NewError(capture.CodeValidation, "raw is required", nil)
	}
	return s.extractor.Extract(raw), nil
}

// ListResults returns the downstream result records.
func (s *Service) ListResults(ctx context.Context) ([]sink.Record, error) {
	recs, err := sink.ReadResults(s.cfg.DataDir)
	if err != nil {
		return nil, capture.NewError(capture.CodeStorage, "read results", err)
	}
	return recs, nil
}

func (s *Service) requireIdle(id string) error {
	if s.Active() == id {
		return capture.NewError(capture.CodeBusy, "session is still capturing: "+id, nil)
	}
	return nil
}
