package capture

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/chromedp/cdproto/network"
	"github.com/dgnsrekt/chatcap/internal/types"
)

func TestNormalizeStructuredFieldsWin(t *testing.T) {
	v := StructuredView{
		EventMethod: types.MethodResponseReceived,
		RequestID:   "12.3",
		URL:         "https://chatgpt.com/backend-api/f/conversation",
		Repr:        "request_id=RequestId('99.9') response=Response(url='https://other.example/x'",
	}
	n := Normalize(v)
	if n.RequestID != "12.3" || n.URL != "https://chatgpt.com/backend-api/f/conversation" {
		t.Fatalf("Normalize() = %+v; want structured fields", n)
	}
	if n.Fallback {
		t.Fatalf("Normalize().Fallback = true; want false")
	}
}

func TestNormalizeTextFallbackPriority(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantID  string
		wantURL string
	}{
		{
			name:    "request_url_first",
			text:    "RequestWillBeSent(request_id=RequestId('7.1'), request=Request(url='https://a.example/req', method='POST'), response=Response(url='https://a.example/resp'",
			wantID:  "7.1",
			wantURL: "https://a.example/req",
		},
		{
			name:    "response_url",
			text:    "ResponseReceived(request_id=RequestId('7.2'), response=Response(url='https://a.example/resp', status=200)",
			wantID:  "7.2",
			wantURL: "https://a.example/resp",
		},
		{
			name:    "generic_url",
			text:    "Something(request_id=RequestId('7.3'), url='https://a.example/any')",
			wantID:  "7.3",
			wantURL: "https://a.example/any",
		},
		{
			name: "nothing_recoverable",
			text: "garbage",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := Normalize(TextView{EventMethod: types.MethodRequestWillBeSent, Repr: tt.text})
			if n.RequestID != tt.wantID {
				t.Fatalf("RequestID = %q; want %q", n.RequestID, tt.wantID)
			}
			if n.URL != tt.wantURL {
				t.Fatalf("URL = %q; want %q", n.URL, tt.wantURL)
			}
		})
	}
}

func TestNormalizeRecoversDataOnlyForDataReceived(t *testing.T) {
	text := `DataReceived(request_id=RequestId('3.1'), data='line\none', data_length=8)`
	n := Normalize(TextView{EventMethod: types.MethodDataReceived, Repr: text})
	if n.Data != "line\none" {
		t.Fatalf("Data = %q; want %q", n.Data, "line\none")
	}

	n = Normalize(TextView{EventMethod: types.MethodLoadingFinished, Repr: text})
	if n.Data != "" {
		t.Fatalf("Data = %q for LoadingFinished; want empty", n.Data)
	}

	n = Normalize(TextView{EventMethod: types.MethodDataReceived, Repr: "DataReceived(request_id=RequestId('3.1'), data=None)"})
	if n.Data != "" {
		t.Fatalf("Data = %q for None; want empty", n.Data)
	}
}

func TestViewOfNetworkEvents(t *testing.T) {
	post := base64.StdEncoding.EncodeToString([]byte(`{"action":"next"}`))
	ev := &network.EventRequestWillBeSent{
		RequestID: "5.5",
		Request: &network.Request{
			URL:             "https://chatgpt.com/backend-api/f/conversation",
			HasPostData:     true,
			PostDataEntries: []*network.PostDataEntry{{Bytes: post}},
		},
	}
	v, ok := ViewOf(ev).(StructuredView)
	if !ok {
		t.Fatalf("ViewOf() did not return a StructuredView")
	}
	if v.RequestID != "5.5" || v.URL != ev.Request.URL {
		t.Fatalf("ViewOf() = %+v; want id and url from event", v)
	}
	if v.PostData != `{"action":"next"}` {
		t.Fatalf("PostData = %q; want decoded entries", v.PostData)
	}

	fallback := ViewOf(struct{ Name string }{Name: "x"})
	if _, ok := fallback.(TextView); !ok {
		t.Fatalf("ViewOf(unknown) = %T; want TextView", fallback)
	}
}

func TestRawView(t *testing.T) {
	params := json.RawMessage(`{"requestId":"9.1","response":{"url":"https://chatgpt.com/backend-api/f/conversation"}}`)
	n := Normalize(RawView(string(types.MethodResponseReceived), params))
	if n.RequestID != "9.1" || n.URL != "https://chatgpt.com/backend-api/f/conversation" {
		t.Fatalf("Normalize(RawView) = %+v", n)
	}

	bad := RawView(string(types.MethodResponseReceived), json.RawMessage(`not json request_id=RequestId('9.2')`))
	if _, ok := bad.(TextView); !ok {
		t.Fatalf("RawView(invalid) = %T; want TextView", bad)
	}
	if n := Normalize(bad); n.RequestID != "9.2" {
		t.Fatalf("Normalize(RawView invalid).RequestID = %q; want 9.2", n.RequestID)
	}
}

func TestDecodeCDPData(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "base64_text", in: base64.StdEncoding.EncodeToString([]byte("data: hi\n\n")), want: "data: hi\n\n"},
		{name: "not_base64", in: "data: plain", want: "data: plain"},
		{name: "binary_kept_raw", in: base64.StdEncoding.EncodeToString([]byte{1, 2, 3, 4, 5, 6, 7, 8, 1, 2}), want: base64.StdEncoding.EncodeToString([]byte{1, 2, 3, 4, 5, 6, 7, 8, 1, 2})},
		{name: "empty", in: "", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := decodeCDPData(tt.in); got != tt.want {
				t.Fatalf("decodeCDPData(%q) = %q; want %q", tt.in, got, tt.want)
			}
		})
	}
}
