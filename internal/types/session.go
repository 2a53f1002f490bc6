package types

import "time"

// SessionStatus tracks where a capture session ended up.
type SessionStatus string

const (
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionTimedOut  SessionStatus = "timed_out"
	SessionFailed    SessionStatus = "failed"
)

// SessionMeta describes a capture session on disk.
type SessionMeta struct {
	ID             string        `json:"id"`
	CreatedAt      time.Time     `json:"created_at"`
	FinishedAt     *time.Time    `json:"finished_at,omitempty"`
	Status         SessionStatus `json:"status"`
	TabURL         string        `json:"tab_url,omitempty"`
	PrimaryID      string        `json:"primary_request_id,omitempty"`
	RequestCount   int           `json:"request_count"`
	AnswerChars    int           `json:"answer_chars"`
	CitationsCount int           `json:"citations_count"`
	Notes          string        `json:"notes,omitempty"`
}
