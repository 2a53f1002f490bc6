package notify

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/dgnsrekt/chatcap/internal/bus"
	"github.com/dgnsrekt/chatcap/internal/types"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func TestSendPostsMessage(t *testing.T) {
	ctx := context.Background()

	var receivedMethod string
	var receivedPath string
	var receivedBody string
	var receivedContentType string

	client := &http.Client{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			receivedMethod = r.Method
			receivedPath = r.URL.Path
			receivedContentType = r.Header.Get("Content-Type")
			rawBody, err := io.ReadAll(r.Body)
			if err != nil {
				t.Fatalf("read body: %v", err)
			}
			receivedBody = string(rawBody)
			return &http.Response{
				StatusCode: http.StatusOK,
				Body:       io.NopCloser(strings.NewReader("ok")),
				Header:     make(http.Header),
			}, nil
		}),
	}

	if err := Send(ctx, client, "http://example.com/chatcap", "hello"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if got, want := receivedMethod, http.MethodPost; got != want {
		t.Fatalf("method = %q; want %q", got, want)
	}
	if got, want := receivedPath, "/chatcap"; got != want {
		t.Fatalf("path = %q; want %q", got, want)
	}
	if got, want := receivedContentType, "text/plain"; got != want {
		t.Fatalf("content-type = %q; want %q", got, want)
	}
	if got, want := receivedBody, "hello"; got != want {
		t.Fatalf("body = %q; want %q", got, want)
	}
}

func TestSendReturnsErrorOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := Send(context.Background(), srv.Client(), srv.URL, "x")
	if err == nil || !strings.Contains(err.Error(), "status=502") {
		t.Fatalf("Send() error = %v; want status=502", err)
	}
}

func TestMessage(t *testing.T) {
	tests := []struct {
		name string
		ev   bus.CaptureCompleted
		want string
	}{
		{
			name: "completed",
			ev: bus.CaptureCompleted{
				SessionID: "0123456789abcdef",
				Status:    types.SessionCompleted,
				Result:    &types.CaptureResult{AnswerChars: 420, CitationsCount: 3},
			},
			want: "chatcap session 01234567 completed: 420 answer chars, 3 citations",
		},
		{
			name: "failed",
			ev:   bus.CaptureCompleted{SessionID: "abc", Status: types.SessionFailed, Error: "no primary request"},
			want: "chatcap session abc failed (no primary request)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Message(tt.ev); got != tt.want {
				t.Errorf("Message() = %q; want %q", got, tt.want)
			}
		})
	}
}

func TestNewWithoutEndpoint(t *testing.T) {
	if n := New(nil, ""); n != nil {
		t.Errorf("New(nil, \"\") = %v; want nil", n)
	}
}

func TestNotifierAttach(t *testing.T) {
	var mu sync.Mutex
	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(raw))
		mu.Unlock()
	}))
	defer srv.Close()

	b := bus.New()
	n := New(srv.Client(), srv.URL)
	if err := n.Attach(b); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	b.Publish(bus.CaptureCompleted{SessionID: "s1", Status: types.SessionTimedOut})
	b.Publish(bus.NetworkEvent{SessionID: "s1"})
	b.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(bodies) != 1 || bodies[0] != "chatcap session s1 timed_out" {
		t.Errorf("bodies = %q; want one timed_out message", bodies)
	}
}
