package types

import (
	"encoding/json"
	"time"
)

// EventMethod names one of the network notifications the capture pipeline consumes.
type EventMethod string

const (
	MethodRequestWillBeSent          EventMethod = "Network.requestWillBeSent"
	MethodResponseReceived           EventMethod = "Network.responseReceived"
	MethodDataReceived               EventMethod = "Network.dataReceived"
	MethodEventSourceMessageReceived EventMethod = "Network.eventSourceMessageReceived"
	MethodLoadingFinished            EventMethod = "Network.loadingFinished"
	MethodLoadingFailed              EventMethod = "Network.loadingFailed"
)

// Synthetic methods written to the conversation log.
const (
	MethodStreamChunkSaved EventMethod = "Conversation.StreamChunkSaved"
	MethodBodySaved        EventMethod = "Conversation.BodySaved"
	MethodRequestBodySaved EventMethod = "Conversation.RequestBodySaved"
	MethodStreamingEnabled EventMethod = "Conversation.StreamingEnabled"
	MethodHookBodySaved    EventMethod = "Conversation.HookBodySaved"
	MethodCaptureFailed    EventMethod = "Conversation.CaptureFailed"
)

// NetworkEvent is one observed protocol notification as written to the audit log.
type NetworkEvent struct {
	Timestamp      time.Time       `json:"timestamp"`
	Method         EventMethod     `json:"method"`
	RequestID      string          `json:"request_id,omitempty"`
	URL            string          `json:"url,omitempty"`
	Classification Classification  `json:"classification,omitempty"`
	Chars          int             `json:"chars,omitempty"`
	File           string          `json:"file,omitempty"`
	Error          string          `json:"error,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Truncated      bool            `json:"truncated,omitempty"`
	OriginalSize   int             `json:"original_size,omitempty"`
	SHA256         string          `json:"sha256,omitempty"`
}

// Classification is the correlator's verdict for a request URL.
type Classification string

const (
	ClassPrimary   Classification = "primary"
	ClassPrepare   Classification = "prepare"
	ClassOther     Classification = "other"
	ClassUnrelated Classification = "unrelated"
)

// IsConversation reports whether requests of this class are worth capturing.
func (c Classification) IsConversation() bool {
	return c == ClassPrimary || c == ClassPrepare || c == ClassOther
}

// RequestRecord is a point-in-time copy of the correlator's entry for a request.
type RequestRecord struct {
	RequestID        string         `json:"request_id"`
	URL              string         `json:"url"`
	Classification   Classification `json:"classification"`
	FirstSeen        time.Time      `json:"first_seen"`
	Seq              int64          `json:"seq"`
	StreamEnabled    bool           `json:"stream_enabled"`
	ResponseSaved    bool           `json:"response_saved"`
	RequestBodySaved bool           `json:"request_body_saved"`
}
