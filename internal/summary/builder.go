package summary

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dgnsrekt/chatcap/internal/capture"
	"github.com/dgnsrekt/chatcap/internal/extract"
	"github.com/dgnsrekt/chatcap/internal/storage"
	"github.com/dgnsrekt/chatcap/internal/types"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"
)

const (
	FileName               = "summary.json"
	ConversationLogName    = "conversation_events"
	NetworkLogName         = "network_events"
	defaultExtractParallel = 4
)

// Builder turns the buffers of one session into a ranked Summary.
type Builder struct {
	sessionID  string
	store      *storage.ChunkStore
	classifier *capture.Classifier
	extractor  *extract.Extractor
	correlator *capture.Correlator
	parallel   int
}

// NewBuilder creates a builder. correlator may be nil when rebuilding a past
// session from disk; URLs then come from the conversation log alone.
func NewBuilder(sessionID string, store *storage.ChunkStore, classifier *capture.Classifier, extractor *extract.Extractor, correlator *capture.Correlator) *Builder {
	return &Builder{
		sessionID:  sessionID,
		store:      store,
		classifier: classifier,
		extractor:  extractor,
		correlator: correlator,
		parallel:   defaultExtractParallel,
	}
}

// SetParallel bounds how many requests are extracted at once.
func (b *Builder) SetParallel(n int) {
	if n > 0 {
		b.parallel = n
	}
}

type requestInfo struct {
	url       string
	firstSeen time.Time
	order     int64
}

// Build extracts every request with a persisted buffer. Every such request
// gets an entry, empty or not. Best is the top primary request by answer
// length then citation count, earliest first on ties; without a primary
// request the whole list is ranked.
func (b *Builder) Build(ctx context.Context) (*types.Summary, error) {
	ids, err := b.store.RequestIDs()
	if err != nil {
		return nil, capture.NewError(capture.CodeStorage, "list request buffers", err)
	}
	info := b.hydrate()

	results := make([]types.CaptureResult, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.parallel)
	for i, id := range ids {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = b.buildOne(id, info[id])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		return capture.CompareRequestIDs(results[i].RequestID, results[j].RequestID) < 0
	})

	s := &types.Summary{
		SessionID:    b.sessionID,
		GeneratedAt:  time.Now().UTC(),
		RequestCount: len(results),
		Requests:     results,
	}
	if best, ok := rank(results, info); ok {
		s.Best = &best
	}
	return s, nil
}

func (b *Builder) buildOne(id string, info requestInfo) types.CaptureResult {
	stream := b.store.ReadStream(id)
	body := b.store.ReadBody(id)
	hooked := b.store.ReadHookBody(id)

	merged := Merge(stream, hooked)
	res := b.extractor.Extract(merged)
	if body != "" && body != merged {
		fromBody := b.extractor.Extract(body)
		if len(fromBody.Answer) > len(res.Answer) {
			res.Answer = fromBody.Answer
		}
		res.Citations = unionCitations(res.Citations, fromBody.Citations)
	}

	class := b.classifier.Classify(info.url)
	out := types.CaptureResult{
		RequestID:      id,
		URL:            info.url,
		Classification: class,
		IsPrimary:      class == types.ClassPrimary,
		IsPrepare:      class == types.ClassPrepare,
		Answer:         res.Answer,
		AnswerChars:    len([]rune(res.Answer)),
		Citations:      res.Citations,
		CitationsCount: len(res.Citations),
		FirstSeen:      info.firstSeen,
	}
	if out.Citations == nil {
		out.Citations = []types.Citation{}
	}
	out.StreamFile = b.existing(storage.KindStream, id)
	out.BodyFile = b.existing(storage.KindBody, id)
	out.RequestFile = b.existing(storage.KindRequest, id)
	out.HookFile = b.existing(storage.KindHooked, id)

	if out.Empty() && (stream != "" || body != "" || hooked != "") {
		slog.Debug("Extraction produced nothing", "request_id", id, "stream_bytes", len(stream), "body_bytes", len(body), "hook_bytes", len(hooked))
	}
	return out
}

func (b *Builder) existing(kind storage.Kind, id string) string {
	if !b.store.Has(kind, id) {
		return ""
	}
	return b.store.Path(kind, id)
}

// hydrate collects URL and first-seen order for every request id from the
// live correlator and the conversation log. Live entries win.
func (b *Builder) hydrate() map[string]requestInfo {
	info := make(map[string]requestInfo)

	var line int64
	logPath := filepath.Join(b.store.Dir(), ConversationLogName+".jsonl")
	err := storage.ReadJSONL(logPath, func(row gjson.Result) bool {
		line++
		id := row.Get("request_id").String()
		if id == "" {
			return true
		}
		cur, seen := info[id]
		if !seen {
			cur.order = line
			cur.firstSeen = row.Get("timestamp").Time()
		}
		if cur.url == "" {
			cur.url = row.Get("url").String()
		}
		info[id] = cur
		return true
	})
	if err != nil {
		slog.Warn("Failed to read conversation log", "path", logPath, "error", err)
	}

	if b.correlator != nil {
		for _, rec := range b.correlator.Records() {
			cur := info[rec.RequestID]
			if rec.URL != "" {
				cur.url = rec.URL
			}
			cur.firstSeen = rec.FirstSeen
			cur.order = rec.Seq
			info[rec.RequestID] = cur
		}
	}
	return info
}

// rank orders results and returns the winner.
func rank(results []types.CaptureResult, info map[string]requestInfo) (types.CaptureResult, bool) {
	if len(results) == 0 {
		return types.CaptureResult{}, false
	}
	// Primaries compete only when at least one of them produced output.
	var pool []types.CaptureResult
	for _, r := range results {
		if r.IsPrimary && !r.Empty() {
			pool = append(pool, r)
		}
	}
	if len(pool) == 0 {
		pool = append(pool, results...)
	}
	sort.SliceStable(pool, func(i, j int) bool {
		a, b := pool[i], pool[j]
		if a.AnswerChars != b.AnswerChars {
			return a.AnswerChars > b.AnswerChars
		}
		if a.CitationsCount != b.CitationsCount {
			return a.CitationsCount > b.CitationsCount
		}
		return earlier(a.RequestID, b.RequestID, info)
	})
	return pool[0], true
}

func earlier(a, b string, info map[string]requestInfo) bool {
	ia, okA := info[a]
	ib, okB := info[b]
	switch {
	case okA && okB && ia.order != ib.order:
		return ia.order < ib.order
	case okA && !okB:
		return true
	case !okA && okB:
		return false
	}
	return capture.CompareRequestIDs(a, b) < 0
}

func unionCitations(a, b []types.Citation) []types.Citation {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]types.Citation, 0, len(a)+len(b))
	for _, list := range [][]types.Citation{a, b} {
		for _, c := range list {
			if seen[c.URL] {
				continue
			}
			seen[c.URL] = true
			out = append(out, c)
		}
	}
	return out
}

var writeMu sync.Mutex

// Save writes the summary as indented JSON to dir/summary.json.
func Save(dir string, s *types.Summary) (string, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("summary: marshal: %w", err)
	}
	path := filepath.Join(dir, FileName)

	writeMu.Lock()
	defer writeMu.Unlock()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", capture.NewError(capture.CodeStorage, "write summary", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", capture.NewError(capture.CodeStorage, "rename summary", err)
	}
	return path, nil
}

// Load reads dir/summary.json.
func Load(dir string) (*types.Summary, error) {
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, capture.NewError(capture.CodeNotFound, "summary not built", err)
		}
		return nil, fmt.Errorf("summary: read: %w", err)
	}
	var s types.Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("summary: decode: %w", err)
	}
	return &s, nil
}
