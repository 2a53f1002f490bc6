package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dgnsrekt/chatcap/internal/storage"
	"github.com/dgnsrekt/chatcap/internal/types"
)

// BodyFetcher is the browser side of body retrieval.
type BodyFetcher interface {
	RequestPostData(ctx context.Context, requestID string) (string, error)
	// ResponseBody returns the body and whether it is base64 encoded.
	ResponseBody(ctx context.Context, requestID string) (string, bool, error)
	// StreamResourceContent switches a request to streaming delivery and
	// returns whatever the browser had already buffered.
	StreamResourceContent(ctx context.Context, requestID string) (string, error)
}

// EventSink receives audit log records. storage.JSONLWriter satisfies it.
type EventSink interface {
	Write(record any) error
}

// NetworkCapture feeds protocol events through the normalizer and correlator
// into the chunk store. Handle never blocks on the browser: body fetches run
// in goroutines guarded by the correlator's write-once flags.
type NetworkCapture struct {
	correlator      *Correlator
	store           *storage.ChunkStore
	fetcher         BodyFetcher
	networkLog      EventSink
	conversationLog EventSink
	maxPayloadBytes int
	fetchTimeout    time.Duration

	observerMu sync.RWMutex
	observer   func(types.NetworkEvent)

	// gates hold DataReceived chunks that arrive while streaming is being
	// enabled, so buffered data lands in the stream before them.
	gateMu sync.Mutex
	gates  map[string][]string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewNetworkCapture(
	correlator *Correlator,
	store *storage.ChunkStore,
	fetcher BodyFetcher,
	networkLog EventSink,
	conversationLog EventSink,
	maxPayloadBytes int,
	fetchTimeout time.Duration,
) *NetworkCapture {
	if fetchTimeout <= 0 {
		fetchTimeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &NetworkCapture{
		correlator:      correlator,
		store:           store,
		fetcher:         fetcher,
		networkLog:      networkLog,
		conversationLog: conversationLog,
		maxPayloadBytes: maxPayloadBytes,
		fetchTimeout:    fetchTimeout,
		gates:           make(map[string][]string),
		ctx:             ctx,
		cancel:          cancel,
	}
}

// SetObserver registers a callback for every conversation log record.
func (c *NetworkCapture) SetObserver(fn func(types.NetworkEvent)) {
	c.observerMu.Lock()
	c.observer = fn
	c.observerMu.Unlock()
}

// Close cancels in-flight fetches and waits for them to return.
func (c *NetworkCapture) Close() {
	c.cancel()
	c.wg.Wait()
}

// Wait blocks until in-flight fetches finish without cancelling them.
func (c *NetworkCapture) Wait() {
	c.wg.Wait()
}

// Handle processes one protocol event.
func (c *NetworkCapture) Handle(view EventView) {
	n := Normalize(view)
	class := types.ClassUnrelated
	if n.RequestID != "" {
		class = c.correlator.Record(n.RequestID, n.URL)
		if n.URL == "" {
			n.URL = c.correlator.URL(n.RequestID)
		}
	}

	ev := types.NetworkEvent{
		Timestamp:      time.Now().UTC(),
		Method:         n.Method,
		RequestID:      n.RequestID,
		URL:            n.URL,
		Classification: class,
	}
	ev.Payload, ev.Truncated, ev.OriginalSize, ev.SHA256 = auditPayload(payloadOf(view), c.maxPayloadBytes)
	c.writeLog(c.networkLog, ev)

	if n.RequestID == "" || !class.IsConversation() {
		return
	}
	c.writeLog(c.conversationLog, ev)
	c.notify(ev)

	sv, _ := view.(StructuredView)
	switch n.Method {
	case types.MethodRequestWillBeSent:
		c.captureRequestBody(n.RequestID, sv.PostData)
		if class == types.ClassPrimary {
			c.enableStreaming(n.RequestID)
		}
	case types.MethodResponseReceived:
		c.enableStreaming(n.RequestID)
	case types.MethodDataReceived:
		if n.Data != "" {
			c.appendChunk(n.RequestID, decodeCDPData(n.Data), n.Method)
		}
	case types.MethodEventSourceMessageReceived:
		if n.Data != "" {
			c.appendChunk(n.RequestID, formatSSE(sv.EventName, n.Data), n.Method)
		}
	case types.MethodLoadingFinished, types.MethodLoadingFailed:
		if sv.ErrorText != "" {
			slog.Debug("Conversation request failed", "request_id", n.RequestID, "error", sv.ErrorText)
		}
		c.captureResponseBody(n.RequestID, class)
	}
}

func (c *NetworkCapture) captureRequestBody(requestID, inline string) {
	if !c.correlator.MarkRequestBodySaved(requestID) {
		return
	}
	if inline != "" {
		c.saveRequestBody(requestID, inline)
		return
	}
	if c.fetcher == nil {
		return
	}
	c.goFetch(func(ctx context.Context) {
		data, err := c.fetcher.RequestPostData(ctx, requestID)
		if err != nil {
			// GET requests and bodies already consumed by the page have no post data.
			slog.Debug("Request post data unavailable", "request_id", requestID, "error", err)
			return
		}
		c.saveRequestBody(requestID, data)
	})
}

func (c *NetworkCapture) saveRequestBody(requestID, data string) {
	saved, err := c.store.WriteRequestBody(requestID, data)
	if err != nil {
		c.failed(requestID, "write request body", err)
		return
	}
	if saved {
		c.synthetic(types.MethodRequestBodySaved, requestID, len(data), c.store.Path(storage.KindRequest, requestID))
	}
}

func (c *NetworkCapture) enableStreaming(requestID string) {
	if c.fetcher == nil || !c.correlator.MarkStreamEnabled(requestID) {
		return
	}
	c.gateMu.Lock()
	c.gates[requestID] = nil
	c.gateMu.Unlock()

	c.goFetch(func(ctx context.Context) {
		buffered, err := c.fetcher.StreamResourceContent(ctx, requestID)

		c.gateMu.Lock()
		queued := c.gates[requestID]
		delete(c.gates, requestID)
		if err == nil && buffered != "" {
			c.appendLocked(requestID, decodeCDPData(buffered), types.MethodStreamingEnabled)
		}
		for _, chunk := range queued {
			c.appendLocked(requestID, chunk, types.MethodDataReceived)
		}
		c.gateMu.Unlock()

		if err != nil {
			// Streaming cannot be enabled once the response finished; the body fetch covers it.
			slog.Debug("Stream enable failed", "request_id", requestID, "error", err)
			return
		}
		c.synthetic(types.MethodStreamingEnabled, requestID, len(buffered), "")
	})
}

func (c *NetworkCapture) appendChunk(requestID, text string, source types.EventMethod) {
	if text == "" {
		return
	}
	c.gateMu.Lock()
	defer c.gateMu.Unlock()
	if queued, gated := c.gates[requestID]; gated {
		c.gates[requestID] = append(queued, text)
		return
	}
	c.appendLocked(requestID, text, source)
}

// appendLocked must be called with gateMu held.
func (c *NetworkCapture) appendLocked(requestID, text string, source types.EventMethod) {
	if text == "" {
		return
	}
	if err := c.store.AppendStream(requestID, text); err != nil {
		c.failed(requestID, "append stream", err)
		return
	}
	ev := types.NetworkEvent{
		Timestamp: time.Now().UTC(),
		Method:    types.MethodStreamChunkSaved,
		RequestID: requestID,
		URL:       c.correlator.URL(requestID),
		Chars:     len(text),
		File:      c.store.Path(storage.KindStream, requestID),
	}
	ev.Payload, _ = json.Marshal(map[string]string{"source": string(source)})
	c.writeLog(c.conversationLog, ev)
	c.notify(ev)
}

func (c *NetworkCapture) captureResponseBody(requestID string, class types.Classification) {
	if c.fetcher == nil || !c.correlator.MarkResponseSaved(requestID) {
		return
	}
	c.goFetch(func(ctx context.Context) {
		body, base64Encoded, err := c.fetcher.ResponseBody(ctx, requestID)
		if err != nil {
			c.failed(requestID, "get response body", err)
			return
		}
		if base64Encoded {
			body = decodeCDPData(body)
		}
		saved, err := c.store.WriteBody(requestID, body)
		if err != nil {
			c.failed(requestID, "write body", err)
			return
		}
		if !saved {
			return
		}
		c.synthetic(types.MethodBodySaved, requestID, len(body), c.store.Path(storage.KindBody, requestID))

		if class == types.ClassPrimary && looksLikeSSE(body) {
			c.gateMu.Lock()
			if !c.store.Has(storage.KindStream, requestID) {
				c.appendLocked(requestID, body, types.MethodBodySaved)
			}
			c.gateMu.Unlock()
		}
	})
}

func (c *NetworkCapture) goFetch(fn func(ctx context.Context)) {
	c.goFetchWithin(c.fetchTimeout, fn)
}

// goFetchWithin runs fn in the background bounded by timeout and by Close.
func (c *NetworkCapture) goFetchWithin(timeout time.Duration, fn func(ctx context.Context)) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(c.ctx, timeout)
		defer cancel()
		fn(ctx)
	}()
}

func (c *NetworkCapture) synthetic(method types.EventMethod, requestID string, chars int, file string) {
	ev := types.NetworkEvent{
		Timestamp: time.Now().UTC(),
		Method:    method,
		RequestID: requestID,
		URL:       c.correlator.URL(requestID),
		Chars:     chars,
		File:      file,
	}
	c.writeLog(c.conversationLog, ev)
	c.notify(ev)
}

// failed records a transient capture failure. The write-once flag stays set
// so the same fetch is not retried.
func (c *NetworkCapture) failed(requestID, action string, err error) {
	slog.Warn("Capture step failed", "request_id", requestID, "action", action, "error", err)
	ev := types.NetworkEvent{
		Timestamp: time.Now().UTC(),
		Method:    types.MethodCaptureFailed,
		RequestID: requestID,
		URL:       c.correlator.URL(requestID),
		Error:     fmt.Sprintf("%s: %v", action, err),
	}
	c.writeLog(c.conversationLog, ev)
	c.notify(ev)
}

func (c *NetworkCapture) notify(ev types.NetworkEvent) {
	c.observerMu.RLock()
	fn := c.observer
	c.observerMu.RUnlock()
	if fn != nil {
		fn(ev)
	}
}

func (c *NetworkCapture) writeLog(sink EventSink, ev types.NetworkEvent) {
	if sink == nil {
		return
	}
	if err := sink.Write(ev); err != nil {
		slog.Debug("Failed to write capture log record", "method", ev.Method, "error", err)
	}
}

func payloadOf(view EventView) []byte {
	if sv, ok := view.(StructuredView); ok {
		switch raw := sv.Raw.(type) {
		case json.RawMessage:
			return raw
		case nil:
		default:
			if data, err := json.Marshal(raw); err == nil {
				return data
			}
		}
	}
	text := view.Text()
	if text == "" {
		return nil
	}
	data, _ := json.Marshal(text)
	return data
}

func formatSSE(eventName, data string) string {
	var b strings.Builder
	if eventName != "" {
		b.WriteString("event: ")
		b.WriteString(eventName)
		b.WriteByte('\n')
	}
	for _, line := range strings.Split(data, "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	return b.String()
}

func looksLikeSSE(body string) bool {
	return strings.Contains(body, "event:") && strings.Contains(body, "data:")
}
