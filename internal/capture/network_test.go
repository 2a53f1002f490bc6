package capture

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dgnsrekt/chatcap/internal/types"
)

const conversationURL = "https://chatgpt.com/backend-api/f/conversation"

type memorySink struct {
	mu      sync.Mutex
	records []types.NetworkEvent
}

func (s *memorySink) Write(record any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record.(types.NetworkEvent))
	return nil
}

func (s *memorySink) methods() []types.EventMethod {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.EventMethod, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r.Method)
	}
	return out
}

func (s *memorySink) count(m types.EventMethod) int {
	n := 0
	for _, got := range s.methods() {
		if got == m {
			n++
		}
	}
	return n
}

type fakeFetcher struct {
	mu          sync.Mutex
	postData    string
	body        string
	base64      bool
	bodyErr     error
	buffered    string
	streamDelay time.Duration
	bodyCalls   int
	streamCalls int
	postCalls   int
}

func (f *fakeFetcher) RequestPostData(ctx context.Context, requestID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.postCalls++
	if f.postData == "" {
		return "", errors.New("no post data")
	}
	return f.postData, nil
}

func (f *fakeFetcher) ResponseBody(ctx context.Context, requestID string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodyCalls++
	return f.body, f.base64, f.bodyErr
}

func (f *fakeFetcher) StreamResourceContent(ctx context.Context, requestID string) (string, error) {
	f.mu.Lock()
	f.streamCalls++
	delay, buffered := f.streamDelay, f.buffered
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	return buffered, nil
}

func newTestCapture(t *testing.T, fetcher BodyFetcher) (*NetworkCapture, *memorySink, *memorySink) {
	t.Helper()
	netLog, convLog := &memorySink{}, &memorySink{}
	c := NewNetworkCapture(newTestCorrelator(), newTestStore(t), fetcher, netLog, convLog, 1024, time.Second)
	t.Cleanup(c.Close)
	return c, netLog, convLog
}

func TestHandleSkipsUnrelatedRequests(t *testing.T) {
	f := &fakeFetcher{body: "x"}
	c, netLog, convLog := newTestCapture(t, f)

	c.Handle(StructuredView{EventMethod: types.MethodRequestWillBeSent, RequestID: "1.1", URL: "https://cdn.example.com/app.js"})
	c.Handle(StructuredView{EventMethod: types.MethodLoadingFinished, RequestID: "1.1"})
	c.Wait()

	if len(netLog.methods()) != 2 {
		t.Fatalf("network log = %v; want both events", netLog.methods())
	}
	if len(convLog.methods()) != 0 {
		t.Fatalf("conversation log = %v; want empty", convLog.methods())
	}
	if f.bodyCalls != 0 {
		t.Fatalf("ResponseBody calls = %d; want 0", f.bodyCalls)
	}
}

func TestHandleConversationLifecycle(t *testing.T) {
	f := &fakeFetcher{
		postData: `{"action":"next"}`,
		body:     base64.StdEncoding.EncodeToString([]byte("event: delta\ndata: {}\n\n")),
		base64:   true,
	}
	c, _, convLog := newTestCapture(t, f)

	var observed []types.EventMethod
	var obsMu sync.Mutex
	c.SetObserver(func(ev types.NetworkEvent) {
		obsMu.Lock()
		observed = append(observed, ev.Method)
		obsMu.Unlock()
	})

	c.Handle(StructuredView{EventMethod: types.MethodRequestWillBeSent, RequestID: "7.1", URL: conversationURL})
	c.Wait()
	c.Handle(StructuredView{EventMethod: types.MethodResponseReceived, RequestID: "7.1", URL: conversationURL})
	c.Handle(StructuredView{EventMethod: types.MethodLoadingFinished, RequestID: "7.1"})
	c.Handle(StructuredView{EventMethod: types.MethodLoadingFailed, RequestID: "7.1", ErrorText: "net::ERR_ABORTED"})
	c.Wait()

	if got := c.store.ReadRequestBody("7.1"); got != `{"action":"next"}` {
		t.Fatalf("ReadRequestBody() = %q", got)
	}
	if got := c.store.ReadBody("7.1"); got != "event: delta\ndata: {}\n\n" {
		t.Fatalf("ReadBody() = %q", got)
	}
	if got := c.store.ReadStream("7.1"); got != "event: delta\ndata: {}\n\n" {
		t.Fatalf("ReadStream() = %q; want body promoted to stream", got)
	}
	if f.bodyCalls != 1 {
		t.Fatalf("ResponseBody calls = %d; want 1 despite finished and failed", f.bodyCalls)
	}
	if f.streamCalls != 1 {
		t.Fatalf("StreamResourceContent calls = %d; want 1", f.streamCalls)
	}
	for _, m := range []types.EventMethod{types.MethodRequestBodySaved, types.MethodBodySaved, types.MethodStreamingEnabled, types.MethodLoadingFinished} {
		if convLog.count(m) == 0 {
			t.Fatalf("conversation log %v missing %s", convLog.methods(), m)
		}
	}
	obsMu.Lock()
	defer obsMu.Unlock()
	if len(observed) != len(convLog.methods()) {
		t.Fatalf("observer saw %d events; conversation log has %d", len(observed), len(convLog.methods()))
	}
}

func TestHandleUsesInlinePostData(t *testing.T) {
	f := &fakeFetcher{postData: "fetched"}
	c, _, _ := newTestCapture(t, f)
	c.Handle(StructuredView{EventMethod: types.MethodRequestWillBeSent, RequestID: "8.1", URL: conversationURL, PostData: "inline"})
	c.Wait()
	if got := c.store.ReadRequestBody("8.1"); got != "inline" {
		t.Fatalf("ReadRequestBody() = %q; want inline", got)
	}
	if f.postCalls != 0 {
		t.Fatalf("RequestPostData calls = %d; want 0", f.postCalls)
	}
}

func TestHandleDataReceivedOrderedAfterBufferedData(t *testing.T) {
	f := &fakeFetcher{
		buffered:    base64.StdEncoding.EncodeToString([]byte("first ")),
		streamDelay: 50 * time.Millisecond,
	}
	c, _, _ := newTestCapture(t, f)

	c.Handle(StructuredView{EventMethod: types.MethodRequestWillBeSent, RequestID: "9.1", URL: conversationURL})
	c.Handle(StructuredView{EventMethod: types.MethodDataReceived, RequestID: "9.1", Data: base64.StdEncoding.EncodeToString([]byte("second "))})
	c.Handle(StructuredView{EventMethod: types.MethodDataReceived, RequestID: "9.1", Data: base64.StdEncoding.EncodeToString([]byte("third"))})
	c.Wait()
	c.Handle(StructuredView{EventMethod: types.MethodDataReceived, RequestID: "9.1", Data: base64.StdEncoding.EncodeToString([]byte("!"))})

	if got := c.store.ReadStream("9.1"); got != "first second third!" {
		t.Fatalf("ReadStream() = %q; want ordered chunks", got)
	}
}

func TestHandleEventSourceMessage(t *testing.T) {
	c, _, _ := newTestCapture(t, nil)
	c.Handle(StructuredView{EventMethod: types.MethodResponseReceived, RequestID: "10.1", URL: conversationURL})
	c.Handle(StructuredView{EventMethod: types.MethodEventSourceMessageReceived, RequestID: "10.1", EventName: "delta", Data: `{"v":"hi"}`})

	if got := c.store.ReadStream("10.1"); got != "event: delta\ndata: {\"v\":\"hi\"}\n\n" {
		t.Fatalf("ReadStream() = %q", got)
	}
}

func TestHandleBodyFailureIsLoggedOnce(t *testing.T) {
	f := &fakeFetcher{bodyErr: errors.New("No resource with given identifier found")}
	c, _, convLog := newTestCapture(t, f)

	c.Handle(StructuredView{EventMethod: types.MethodResponseReceived, RequestID: "11.1", URL: conversationURL})
	c.Handle(StructuredView{EventMethod: types.MethodLoadingFinished, RequestID: "11.1"})
	c.Handle(StructuredView{EventMethod: types.MethodLoadingFinished, RequestID: "11.1"})
	c.Wait()

	if n := convLog.count(types.MethodCaptureFailed); n != 1 {
		t.Fatalf("CaptureFailed records = %d; want 1", n)
	}
	rec, _ := c.correlator.Lookup("11.1")
	if !rec.ResponseSaved {
		t.Fatalf("ResponseSaved = false; want true after a failed fetch")
	}
}

func TestHandleTruncatesAuditPayload(t *testing.T) {
	c, netLog, _ := newTestCapture(t, nil)
	c.Handle(RawView(string(types.MethodDataReceived), []byte(`{"requestId":"12.1","data":"`+strings.Repeat("a", 4096)+`"}`)))

	netLog.mu.Lock()
	defer netLog.mu.Unlock()
	if len(netLog.records) != 1 {
		t.Fatalf("network log has %d records; want 1", len(netLog.records))
	}
	rec := netLog.records[0]
	if !rec.Truncated || rec.SHA256 == "" || rec.OriginalSize <= 1024 {
		t.Fatalf("record = %+v; want truncated payload", rec)
	}
}
