// Package extract reconstructs the assistant answer and its citations from
// captured conversation streams.
package extract

import (
	"strings"

	"github.com/dgnsrekt/chatcap/internal/config"
	"github.com/dgnsrekt/chatcap/internal/sse"
	"github.com/dgnsrekt/chatcap/internal/types"
	"github.com/tidwall/gjson"
)

// Source tells which parser produced a Result.
type Source string

const (
	SourceNone Source = ""
	SourceSSE  Source = "sse"
	SourceJSON Source = "json"
)

// Result is the outcome of extracting one raw capture.
type Result struct {
	Answer    string
	Citations []types.Citation
	Events    int
	Source    Source
}

// Empty reports whether nothing was recovered.
func (r Result) Empty() bool {
	return r.Answer == "" && len(r.Citations) == 0
}

// Extractor holds the per-application knobs of extraction.
type Extractor struct {
	contentPath string
	marker      string
	filter      Filter
}

func New(profile *config.Profile) *Extractor {
	if profile == nil {
		profile = config.DefaultProfile()
	}
	return &Extractor{
		contentPath: profile.ContentPath,
		marker:      profile.TerminalMarker,
		filter:      NewFilter(profile.ExcludedHosts, profile.ExcludedFragments),
	}
}

// Extract splits raw into events and folds them into an answer. If the
// stream yields nothing, raw is retried as a single JSON document. Bad input
// produces an empty Result, never an error.
func (e *Extractor) Extract(raw string) Result {
	events := sse.Split(raw)
	res := e.ExtractEvents(events)
	if !res.Empty() {
		return res
	}
	if fb := e.extractJSON(raw); !fb.Empty() {
		fb.Events = len(events)
		return fb
	}
	return res
}

// ExtractEvents folds already split events into a Result.
func (e *Extractor) ExtractEvents(events []types.LogicalEvent) Result {
	d := newDraft(e.contentPath)
	cites := newCitationSet()
	for _, ev := range events {
		payload := strings.TrimSpace(ev.Data)
		if payload == "" || payload == e.marker || !gjson.Valid(payload) {
			continue
		}
		obj := gjson.Parse(payload)
		if !obj.IsObject() {
			continue
		}
		cites.harvest(obj)
		d.apply(obj)
	}

	answer := d.answer()
	harvestString(answer, cites)

	res := Result{
		Answer:    answer,
		Citations: cites.list(e.filter),
		Events:    len(events),
	}
	if !res.Empty() {
		res.Source = SourceSSE
	}
	return res
}

// segment is a run of answer text. Snapshot segments are keyed by message
// id so repeated snapshots of the same message replace rather than append.
type segment struct {
	key  string
	text string
}

// draft accumulates answer text across events.
type draft struct {
	contentPath string

	assistantStarted bool
	responseStarted  bool
	// muted is set while the current assistant message is code or a tool
	// call; its deltas are not answer text.
	muted bool

	segments []segment
	byKey    map[string]int

	// candidates holds the latest visible text per assistant message for
	// the longest-message fallback.
	candidates map[string]string
}

func newDraft(contentPath string) *draft {
	return &draft{
		contentPath: contentPath,
		byKey:       make(map[string]int),
		candidates:  make(map[string]string),
	}
}

func (d *draft) apply(obj gjson.Result) {
	eachObject(obj, func(node gjson.Result) {
		if isAssistantMessage(node) {
			d.message(node)
		}
	})

	p, hasPath := str(obj, "p")
	o, _ := str(obj, "o")
	v := obj.Get("v")

	switch {
	case hasPath && p != "":
		if p == d.contentPath && (o == "append" || o == "replace") && v.Type == gjson.String {
			d.delta(v.Str)
		}
	case v.IsArray() && (o == "patch" || o == ""):
		v.ForEach(func(_, op gjson.Result) bool {
			if !op.IsObject() {
				return true
			}
			opPath, _ := str(op, "p")
			opOp, _ := str(op, "o")
			opValue := op.Get("v")
			if opPath == d.contentPath && (opOp == "append" || opOp == "replace") && opValue.Type == gjson.String {
				d.delta(opValue.Str)
			}
			return true
		})
	case v.Type == gjson.String && (o == "" || o == "append"):
		if d.assistantStarted {
			d.delta(v.Str)
		}
	}
}

func isAssistantMessage(node gjson.Result) bool {
	role, _ := str(node, "author.role")
	return strings.EqualFold(role, "assistant")
}

// message handles a full assistant message snapshot.
func (d *draft) message(msg gjson.Result) {
	d.assistantStarted = true

	contentType, _ := str(msg, "content.content_type")
	contentType = strings.ToLower(contentType)
	recipient, _ := str(msg, "recipient")
	recipient = strings.ToLower(recipient)
	// Messages addressed to a tool carry call arguments, not answer text.
	d.muted = contentType == "code" || (recipient != "" && recipient != "all")
	if d.muted {
		return
	}
	d.responseStarted = true

	text := messageText(msg)
	key, _ := str(msg, "id")
	if text != "" && len(text) > len(d.candidates[key]) {
		d.candidates[key] = text
	}
	d.snapshot(key, text)
}

func messageText(msg gjson.Result) string {
	var b strings.Builder
	msg.Get("content.parts").ForEach(func(_, part gjson.Result) bool {
		if part.Type == gjson.String {
			b.WriteString(part.Str)
		}
		return true
	})
	if t, ok := str(msg, "content.text"); ok && strings.TrimSpace(t) != "" {
		b.WriteString(strings.TrimSpace(t))
	}
	return b.String()
}

// snapshot folds a full message text into the segment for key. A snapshot
// that extends the stored text replaces it, one that is a prefix of it is
// ignored, and anything else starts a new segment.
func (d *draft) snapshot(key, text string) {
	if i, ok := d.byKey[key]; ok {
		cur := d.segments[i].text
		switch {
		case strings.HasPrefix(text, cur):
			d.segments[i].text = text
			return
		case strings.HasPrefix(cur, text):
			return
		}
	}
	d.byKey[key] = len(d.segments)
	d.segments = append(d.segments, segment{key: key, text: text})
}

// delta appends a streamed fragment to the current segment.
func (d *draft) delta(text string) {
	if text == "" || d.muted {
		return
	}
	d.assistantStarted = true
	d.responseStarted = true
	if len(d.segments) == 0 {
		d.segments = append(d.segments, segment{})
	}
	d.segments[len(d.segments)-1].text += text
}

func (d *draft) answer() string {
	if d.responseStarted {
		var b strings.Builder
		for _, s := range d.segments {
			b.WriteString(s.text)
		}
		if out := strings.TrimSpace(b.String()); out != "" {
			return out
		}
	}
	var best string
	for _, text := range d.candidates {
		if len(text) > len(best) || (len(text) == len(best) && text < best) {
			best = text
		}
	}
	return strings.TrimSpace(best)
}

var defaultExtractor = New(nil)

// Extract runs the default extractor over raw.
func Extract(raw string) Result {
	return defaultExtractor.Extract(raw)
}
