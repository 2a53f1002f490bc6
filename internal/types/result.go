package types

import "time"

// LogicalEvent is one unit produced by splitting a raw stream.
type LogicalEvent struct {
	Event string `json:"event"`
	Data  string `json:"data"`
}

// Provenance records which harvesting rule produced a citation.
type Provenance string

const (
	ProvenanceSearchResult Provenance = "search_result"
	ProvenanceField        Provenance = "field"
	ProvenanceText         Provenance = "text"
)

// Citation is a cleaned, deduplicated URL harvested from a capture.
type Citation struct {
	URL        string     `json:"url"`
	Title      string     `json:"title,omitempty"`
	Snippet    string     `json:"snippet,omitempty"`
	Provenance Provenance `json:"provenance"`
	Field      string     `json:"field,omitempty"`
}

// CaptureResult is the extraction output for a single request.
type CaptureResult struct {
	RequestID      string         `json:"request_id"`
	URL            string         `json:"url,omitempty"`
	Classification Classification `json:"classification,omitempty"`
	IsPrimary      bool           `json:"is_primary"`
	IsPrepare      bool           `json:"is_prepare"`
	Answer         string         `json:"answer"`
	AnswerChars    int            `json:"answer_chars"`
	Citations      []Citation     `json:"citations"`
	CitationsCount int            `json:"citations_count"`
	StreamFile     string         `json:"stream_file,omitempty"`
	BodyFile       string         `json:"body_file,omitempty"`
	RequestFile    string         `json:"request_file,omitempty"`
	HookFile       string         `json:"hook_file,omitempty"`
	FirstSeen      time.Time      `json:"first_seen,omitempty"`
}

// CitationURLs returns just the URLs in order.
func (r CaptureResult) CitationURLs() []string {
	out := make([]string, 0, len(r.Citations))
	for _, c := range r.Citations {
		out = append(out, c.URL)
	}
	return out
}

// Empty reports whether extraction produced nothing at all.
func (r CaptureResult) Empty() bool {
	return r.AnswerChars == 0 && r.CitationsCount == 0
}

// Summary is the persisted, ranked view of every request captured in a session.
type Summary struct {
	SessionID    string          `json:"session_id"`
	GeneratedAt  time.Time       `json:"generated_at"`
	RequestCount int             `json:"request_count"`
	Requests     []CaptureResult `json:"requests"`
	Best         *CaptureResult  `json:"best,omitempty"`
}
