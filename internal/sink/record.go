// Package sink turns finished capture sessions into downstream result
// records and appends them to a results log.
package sink

import (
	"time"

	"github.com/dgnsrekt/chatcap/internal/types"
)

// Status is the outcome of one capture as seen by downstream consumers.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// StatusOf maps a session status onto a record status.
func StatusOf(s types.SessionStatus) Status {
	switch s {
	case types.SessionCompleted:
		return StatusCompleted
	case types.SessionFailed, types.SessionTimedOut:
		return StatusFailed
	default:
		return StatusSkipped
	}
}

// Record is one line of the results log.
type Record struct {
	SessionID string           `json:"session_id"`
	RequestID string           `json:"request_id,omitempty"`
	Status    Status           `json:"status"`
	Answer    string           `json:"answer,omitempty"`
	Citations []types.Citation `json:"citations,omitempty"`
	Metrics   *Metrics         `json:"metrics,omitempty"`
	Error     string           `json:"error,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// NewRecord builds a record from a session result. Metrics are only computed
// for completed captures.
func NewRecord(sessionID string, status Status, res *types.CaptureResult, errMsg string, brands Brands) Record {
	rec := Record{
		SessionID: sessionID,
		Status:    status,
		Error:     errMsg,
		CreatedAt: time.Now().UTC(),
	}
	if res != nil {
		rec.RequestID = res.RequestID
		rec.Answer = res.Answer
		rec.Citations = res.Citations
	}
	if status == StatusCompleted && res != nil {
		m := BuildMetrics(res.Answer, res.CitationURLs(), brands)
		rec.Metrics = &m
	}
	return rec
}
