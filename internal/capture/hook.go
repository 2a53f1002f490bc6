package capture

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/dgnsrekt/chatcap/internal/storage"
	"github.com/dgnsrekt/chatcap/internal/types"
	"github.com/tidwall/gjson"
)

// FetchSession is the Fetch-domain side of a browser session.
type FetchSession interface {
	GetResponseBody(ctx context.Context, fetchRequestID string) (string, bool, error)
	ContinueRequest(ctx context.Context, fetchRequestID string) error
}

// ResponseHook is the second capture backend. Conversation responses are
// paused at the response stage, their complete body is read and stored under
// the network request id, then the request is released.
type ResponseHook struct {
	capture     *NetworkCapture
	session     FetchSession
	bodyTimeout time.Duration
}

// NewResponseHook builds a hook whose body reads may take up to bodyTimeout.
// Fetch.getResponseBody returns only once the whole stream has arrived, so
// bodyTimeout should cover a full answer; zero falls back to the capture's
// fetch timeout.
func NewResponseHook(capture *NetworkCapture, session FetchSession, bodyTimeout time.Duration) *ResponseHook {
	if bodyTimeout <= 0 {
		bodyTimeout = capture.fetchTimeout
	}
	return &ResponseHook{capture: capture, session: session, bodyTimeout: bodyTimeout}
}

// HandlePaused processes the params of a Fetch.requestPaused event. Every
// paused request is continued exactly once, whatever happens to its body.
func (h *ResponseHook) HandlePaused(params json.RawMessage) {
	if !gjson.ValidBytes(params) {
		slog.Debug("Ignoring malformed Fetch.requestPaused params")
		return
	}
	p := gjson.ParseBytes(params)
	fetchID := p.Get("requestId").String()
	if fetchID == "" {
		return
	}
	requestID := p.Get("networkId").String()
	if requestID == "" {
		requestID = fetchID
	}
	url := p.Get("request.url").String()
	responseStage := p.Get("responseStatusCode").Exists() || p.Get("responseErrorReason").Exists()

	c := h.capture
	class := c.correlator.Record(requestID, url)
	if !responseStage || !class.IsConversation() || p.Get("responseErrorReason").Exists() {
		c.goFetch(func(ctx context.Context) { h.release(ctx, fetchID) })
		return
	}

	c.goFetchWithin(h.bodyTimeout, func(ctx context.Context) {
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), c.fetchTimeout)
			defer cancel()
			h.release(releaseCtx, fetchID)
		}()

		body, base64Encoded, err := h.session.GetResponseBody(ctx, fetchID)
		if err != nil {
			c.failed(requestID, "hook response body", err)
			return
		}
		if base64Encoded {
			body = decodeCDPData(body)
		}
		saved, err := c.store.WriteHookBody(requestID, body)
		if err != nil {
			c.failed(requestID, "write hook body", err)
			return
		}
		if saved {
			c.synthetic(types.MethodHookBodySaved, requestID, len(body), c.store.Path(storage.KindHooked, requestID))
		}
	})
}

func (h *ResponseHook) release(ctx context.Context, fetchID string) {
	if err := h.session.ContinueRequest(ctx, fetchID); err != nil {
		slog.Debug("Failed to continue paused request", "fetch_request_id", fetchID, "error", err)
	}
}
