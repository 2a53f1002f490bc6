package cdp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chromedp/cdproto/fetch"
	"github.com/dgnsrekt/chatcap/internal/config"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// fakeBrowser speaks just enough CDP over a websocket for the hook session.
type fakeBrowser struct {
	t   *testing.T
	srv *httptest.Server

	mu       sync.Mutex
	methods  []string
	released []string
}

func newFakeBrowser(t *testing.T) *fakeBrowser {
	t.Helper()
	fb := &fakeBrowser{t: t}
	mux := http.NewServeMux()
	mux.HandleFunc("/json/version", func(w http.ResponseWriter, r *http.Request) {
		wsURL := "ws" + strings.TrimPrefix(fb.srv.URL, "http") + "/devtools/browser/abc"
		json.NewEncoder(w).Encode(map[string]string{"webSocketDebuggerUrl": wsURL})
	})
	mux.HandleFunc("/devtools/browser/abc", fb.serveWS)
	fb.srv = httptest.NewServer(mux)
	t.Cleanup(fb.srv.Close)
	return fb
}

func (fb *fakeBrowser) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		fb.t.Errorf("upgrade: %v", err)
		return
	}
	defer conn.Close()

	for {
		data, err := wsutil.ReadClientText(conn)
		if err != nil {
			return
		}
		var msg struct {
			ID        int64           `json:"id"`
			Method    string          `json:"method"`
			SessionID string          `json:"sessionId"`
			Params    json.RawMessage `json:"params"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			fb.t.Errorf("bad message: %s", data)
			return
		}
		fb.mu.Lock()
		fb.methods = append(fb.methods, msg.Method)
		fb.mu.Unlock()

		result := map[string]any{}
		switch msg.Method {
		case "Target.attachToTarget":
			result["sessionId"] = "S1"
		case "Fetch.getResponseBody":
			result["body"] = "aGVsbG8="
			result["base64Encoded"] = true
		case "Fetch.continueRequest":
			var p struct {
				RequestID string `json:"requestId"`
			}
			json.Unmarshal(msg.Params, &p)
			fb.mu.Lock()
			fb.released = append(fb.released, p.RequestID)
			fb.mu.Unlock()
		case "Fetch.getBogus":
			reply, _ := json.Marshal(map[string]any{"id": msg.ID, "error": map[string]any{"code": -32601, "message": "not found"}})
			wsutil.WriteServerText(conn, reply)
			continue
		}
		reply, _ := json.Marshal(map[string]any{"id": msg.ID, "sessionId": msg.SessionID, "result": result})
		if err := wsutil.WriteServerText(conn, reply); err != nil {
			return
		}

		if msg.Method == "Fetch.enable" {
			for _, sid := range []string{"OTHER", "S1"} {
				ev, _ := json.Marshal(map[string]any{
					"method":    eventRequestPaused,
					"sessionId": sid,
					"params": map[string]any{
						"requestId":          "interception-" + sid,
						"networkId":          "1000.7",
						"responseStatusCode": 200,
						"request":            map[string]any{"url": "https://chatgpt.com/backend-api/f/conversation"},
					},
				})
				wsutil.WriteServerText(conn, ev)
			}
		}
	}
}

func (fb *fakeBrowser) seen() []string {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return append([]string(nil), fb.methods...)
}

func TestHookSessionLifecycle(t *testing.T) {
	fb := newFakeBrowser(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h, err := DialHook(ctx, fb.srv.URL+"/", "TARGET")
	if err != nil {
		t.Fatalf("DialHook() error = %v", err)
	}

	paused := make(chan json.RawMessage, 4)
	patterns := HookPatterns(config.DefaultProfile())
	if err := h.Enable(ctx, patterns, func(p json.RawMessage) { paused <- p }); err != nil {
		t.Fatalf("Enable() error = %v", err)
	}

	select {
	case p := <-paused:
		if !strings.Contains(string(p), "interception-S1") {
			t.Errorf("paused params = %s; want the S1 session event", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no Fetch.requestPaused delivered")
	}
	select {
	case p := <-paused:
		t.Errorf("unexpected second paused event %s", p)
	default:
	}

	body, b64, err := h.GetResponseBody(ctx, "interception-S1")
	if err != nil {
		t.Fatalf("GetResponseBody() error = %v", err)
	}
	if body != "aGVsbG8=" || !b64 {
		t.Errorf("GetResponseBody() = %q, %v; want base64 body", body, b64)
	}
	if err := h.ContinueRequest(ctx, "interception-S1"); err != nil {
		t.Fatalf("ContinueRequest() error = %v", err)
	}
	if _, err := h.conn.call(ctx, h.sessionID, "Fetch.getBogus", nil); err == nil {
		t.Error("call() on an error response returned nil error")
	}
	if err := h.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	want := []string{
		"Target.attachToTarget",
		"Fetch.enable",
		"Fetch.getResponseBody",
		"Fetch.continueRequest",
		"Fetch.getBogus",
		"Fetch.disable",
		"Target.detachFromTarget",
	}
	if got := fb.seen(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("methods = %v; want %v", got, want)
	}
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if len(fb.released) != 1 || fb.released[0] != "interception-S1" {
		t.Errorf("released = %v; want [interception-S1]", fb.released)
	}
}

func TestHookPatterns(t *testing.T) {
	p := &config.Profile{
		PrimaryPaths: []string{"/api/conversation"},
		HintPaths:    []string{"/api/conversation", "/api/chat*"},
	}
	got := HookPatterns(p)
	if len(got) != 2 {
		t.Fatalf("HookPatterns() returned %d patterns; want 2", len(got))
	}
	if got[0].URLPattern != "*/api/conversation*" || got[1].URLPattern != "*/api/chat*" {
		t.Errorf("patterns = %q, %q", got[0].URLPattern, got[1].URLPattern)
	}
	for _, pt := range got {
		if pt.RequestStage != fetch.RequestStageResponse {
			t.Errorf("RequestStage = %q; want Response", pt.RequestStage)
		}
	}
}

func TestDialHookUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := DialHook(ctx, srv.URL, "T"); err == nil {
		t.Fatal("DialHook() error = nil; want error for missing /json/version")
	}
}

func TestMatchesTabURL(t *testing.T) {
	tests := []struct {
		filter, url string
		want        bool
	}{
		{"", "https://anything", true},
		{"chatgpt.com", "https://ChatGPT.com/c/1", true},
		{"chatgpt.com", "https://example.com", false},
	}
	for _, tt := range tests {
		if got := matchesTabURL(tt.filter, tt.url); got != tt.want {
			t.Errorf("matchesTabURL(%q, %q) = %v; want %v", tt.filter, tt.url, got, tt.want)
		}
	}
}
