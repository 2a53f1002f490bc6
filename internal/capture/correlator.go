package capture

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgnsrekt/chatcap/internal/config"
	"github.com/dgnsrekt/chatcap/internal/storage"
	"github.com/dgnsrekt/chatcap/internal/types"
)

// Classifier maps request URLs onto conversation classes.
type Classifier struct {
	primary []string
	prepare []string
	hints   []string
}

func NewClassifier(profile *config.Profile) *Classifier {
	if profile == nil {
		profile = config.DefaultProfile()
	}
	c := &Classifier{}
	for _, p := range profile.PrimaryPaths {
		p = storage.NormalizeURLPath(p)
		c.primary = append(c.primary, p)
		c.prepare = append(c.prepare, p+strings.ToLower(profile.PrepareSuffix))
	}
	for _, h := range profile.HintPaths {
		c.hints = append(c.hints, strings.ToLower(h))
	}
	return c
}

// Classify checks the normalized path against the primary suffixes, then the
// prepare suffixes, then the hint substrings.
func (c *Classifier) Classify(rawURL string) types.Classification {
	if rawURL == "" {
		return types.ClassUnrelated
	}
	path := storage.NormalizeURLPath(rawURL)
	for _, suffix := range c.primary {
		if strings.HasSuffix(path, suffix) {
			return types.ClassPrimary
		}
	}
	for _, suffix := range c.prepare {
		if strings.HasSuffix(path, suffix) {
			return types.ClassPrepare
		}
	}
	for _, hint := range c.hints {
		if strings.Contains(path, hint) {
			return types.ClassOther
		}
	}
	return types.ClassUnrelated
}

type entry struct {
	url            string
	classification types.Classification
	firstSeen      time.Time
	seq            int64

	streamEnabled    atomic.Bool
	responseSaved    atomic.Bool
	requestBodySaved atomic.Bool
}

// Correlator is the per-session table of request ids seen on the wire.
// Entries are never removed until Reset.
type Correlator struct {
	classifier   *Classifier
	pollInterval time.Duration

	mu      sync.RWMutex
	entries map[string]*entry
	seq     int64
}

func NewCorrelator(classifier *Classifier, pollInterval time.Duration) *Correlator {
	if pollInterval <= 0 {
		pollInterval = 200 * time.Millisecond
	}
	return &Correlator{
		classifier:   classifier,
		pollInterval: pollInterval,
		entries:      make(map[string]*entry),
	}
}

func (c *Correlator) Classifier() *Classifier {
	return c.classifier
}

// Record upserts a request id. A known non-empty URL is never replaced, but
// an entry first seen without a URL adopts the first one reported.
func (c *Correlator) Record(requestID, rawURL string) types.Classification {
	if requestID == "" {
		return types.ClassUnrelated
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[requestID]
	if !ok {
		c.seq++
		e = &entry{
			url:            rawURL,
			classification: c.classifier.Classify(rawURL),
			firstSeen:      time.Now().UTC(),
			seq:            c.seq,
		}
		c.entries[requestID] = e
		return e.classification
	}
	if e.url == "" && rawURL != "" {
		e.url = rawURL
		e.classification = c.classifier.Classify(rawURL)
	}
	return e.classification
}

// Lookup returns a snapshot of the entry for requestID.
func (c *Correlator) Lookup(requestID string) (types.RequestRecord, bool) {
	c.mu.RLock()
	e, ok := c.entries[requestID]
	c.mu.RUnlock()
	if !ok {
		return types.RequestRecord{}, false
	}
	return c.snapshot(requestID, e), true
}

func (c *Correlator) URL(requestID string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if e, ok := c.entries[requestID]; ok {
		return e.url
	}
	return ""
}

// Class returns the current classification of requestID, unrelated if unknown.
func (c *Correlator) Class(requestID string) types.Classification {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if e, ok := c.entries[requestID]; ok {
		return e.classification
	}
	return types.ClassUnrelated
}

// Records returns every entry in first-seen order.
func (c *Correlator) Records() []types.RequestRecord {
	c.mu.RLock()
	out := make([]types.RequestRecord, 0, len(c.entries))
	for id, e := range c.entries {
		out = append(out, c.snapshot(id, e))
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// PrimaryIDs returns the ids currently classified primary.
func (c *Correlator) PrimaryIDs() map[string]struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make(map[string]struct{})
	for id, e := range c.entries {
		if e.classification == types.ClassPrimary {
			ids[id] = struct{}{}
		}
	}
	return ids
}

// NewPrimarySince polls until a primary request id outside baseline appears.
// With several candidates the latest id by CompareRequestIDs wins. It returns
// false when timeout elapses or ctx is done.
func (c *Correlator) NewPrimarySince(ctx context.Context, baseline map[string]struct{}, timeout time.Duration) (string, bool) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		if id, ok := c.latestPrimaryExcept(baseline); ok {
			return id, true
		}
		if !time.Now().Before(deadline) {
			return "", false
		}
		select {
		case <-ctx.Done():
			return "", false
		case <-ticker.C:
		}
	}
}

func (c *Correlator) latestPrimaryExcept(baseline map[string]struct{}) (string, bool) {
	var best string
	for id := range c.PrimaryIDs() {
		if _, seen := baseline[id]; seen {
			continue
		}
		if best == "" || CompareRequestIDs(id, best) > 0 {
			best = id
		}
	}
	return best, best != ""
}

// MarkStreamEnabled reports whether this call was the first to set the flag.
func (c *Correlator) MarkStreamEnabled(requestID string) bool {
	return c.mark(requestID, func(e *entry) *atomic.Bool { return &e.streamEnabled })
}

// MarkResponseSaved reports whether this call was the first to set the flag.
func (c *Correlator) MarkResponseSaved(requestID string) bool {
	return c.mark(requestID, func(e *entry) *atomic.Bool { return &e.responseSaved })
}

// MarkRequestBodySaved reports whether this call was the first to set the flag.
func (c *Correlator) MarkRequestBodySaved(requestID string) bool {
	return c.mark(requestID, func(e *entry) *atomic.Bool { return &e.requestBodySaved })
}

func (c *Correlator) mark(requestID string, flag func(*entry) *atomic.Bool) bool {
	if requestID == "" {
		return false
	}
	c.mu.RLock()
	e, ok := c.entries[requestID]
	c.mu.RUnlock()
	if !ok {
		c.Record(requestID, "")
		c.mu.RLock()
		e = c.entries[requestID]
		c.mu.RUnlock()
	}
	return flag(e).CompareAndSwap(false, true)
}

// Reset drops every entry. Called at session start.
func (c *Correlator) Reset() {
	c.mu.Lock()
	c.entries = make(map[string]*entry)
	c.seq = 0
	c.mu.Unlock()
}

func (c *Correlator) snapshot(id string, e *entry) types.RequestRecord {
	return types.RequestRecord{
		RequestID:        id,
		URL:              e.url,
		Classification:   e.classification,
		FirstSeen:        e.firstSeen,
		Seq:              e.seq,
		StreamEnabled:    e.streamEnabled.Load(),
		ResponseSaved:    e.responseSaved.Load(),
		RequestBodySaved: e.requestBodySaved.Load(),
	}
}

// CompareRequestIDs orders browser request ids such as "12.2" < "12.10".
// Dot-separated parts compare numerically when both are numeric; numeric
// parts sort before non-numeric ones and a shorter prefix sorts first.
func CompareRequestIDs(a, b string) int {
	pa := strings.Split(a, ".")
	pb := strings.Split(b, ".")
	for i := 0; i < len(pa) && i < len(pb); i++ {
		if c := comparePart(pa[i], pb[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(pa) < len(pb):
		return -1
	case len(pa) > len(pb):
		return 1
	}
	return 0
}

func comparePart(a, b string) int {
	na, errA := strconv.ParseInt(a, 10, 64)
	nb, errB := strconv.ParseInt(b, 10, 64)
	switch {
	case errA == nil && errB == nil:
		switch {
		case na < nb:
			return -1
		case na > nb:
			return 1
		}
		return 0
	case errA == nil:
		return -1
	case errB == nil:
		return 1
	}
	return strings.Compare(a, b)
}
