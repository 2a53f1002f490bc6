package capture

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/chromedp/cdproto/network"
	"github.com/dgnsrekt/chatcap/internal/types"
	"github.com/tidwall/gjson"
)

// EventView is a protocol event as the normalizer sees it: either decoded
// fields (StructuredView) or only a debug text rendering (TextView).
type EventView interface {
	Method() types.EventMethod
	// Fields returns whatever request id, url and data chunk could be read
	// directly. Any of them may be empty.
	Fields() (requestID, url, data string)
	// Text is the textual representation used for fallback parsing.
	Text() string
}

// StructuredView carries fields decoded from a protocol object.
type StructuredView struct {
	EventMethod types.EventMethod
	RequestID   string
	URL         string
	Data        string
	EventName   string
	PostData    string
	ErrorText   string
	Repr        string
	Raw         any
}

func (v StructuredView) Method() types.EventMethod { return v.EventMethod }

func (v StructuredView) Fields() (string, string, string) { return v.RequestID, v.URL, v.Data }

func (v StructuredView) Text() string { return v.Repr }

// TextView wraps an event that only exists as a debug string.
type TextView struct {
	EventMethod types.EventMethod
	Repr        string
}

func (v TextView) Method() types.EventMethod { return v.EventMethod }

func (v TextView) Fields() (string, string, string) { return "", "", "" }

func (v TextView) Text() string { return v.Repr }

// Normalized is the uniform record produced for every event.
type Normalized struct {
	Method    types.EventMethod
	RequestID string
	URL       string
	Data      string
	Fallback  bool
}

var (
	requestIDRe   = regexp.MustCompile(`request_id=RequestId\('([^']+)'\)`)
	requestURLRe  = regexp.MustCompile(`request=Request\(url='([^']+)'`)
	responseURLRe = regexp.MustCompile(`response=Response\(url='([^']+)'`)
	anyURLRe      = regexp.MustCompile(`url='([^']+)'`)
	dataRe        = regexp.MustCompile(`\bdata=(None|'(?:[^'\\]|\\.)*')`)
)

// Normalize extracts request id, url and data chunk from a view. Structured
// fields win; missing ones are recovered from the text form. It never fails:
// unrecoverable fields come back empty.
func Normalize(v EventView) Normalized {
	n := Normalized{Method: v.Method()}
	n.RequestID, n.URL, n.Data = v.Fields()
	if n.RequestID != "" && n.URL != "" {
		return n
	}

	text := v.Text()
	if text == "" {
		return n
	}
	if n.RequestID == "" {
		if m := requestIDRe.FindStringSubmatch(text); m != nil {
			n.RequestID = m[1]
			n.Fallback = true
		}
	}
	if n.URL == "" {
		for _, re := range []*regexp.Regexp{requestURLRe, responseURLRe, anyURLRe} {
			if m := re.FindStringSubmatch(text); m != nil {
				n.URL = m[1]
				n.Fallback = true
				break
			}
		}
	}
	if n.Data == "" && n.Method == types.MethodDataReceived {
		if m := dataRe.FindStringSubmatch(text); m != nil && m[1] != "None" {
			n.Data = unquoteRepr(m[1])
			n.Fallback = true
		}
	}
	return n
}

// unquoteRepr strips the quotes from a single-quoted repr literal and
// resolves backslash escapes.
func unquoteRepr(s string) string {
	s = strings.TrimPrefix(strings.TrimSuffix(s, "'"), "'")
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 >= len(s) {
			b.WriteByte(c)
			continue
		}
		i++
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// ViewOf converts a decoded chromedp network event into a view. Unknown
// event types degrade to a TextView over their %+v rendering.
func ViewOf(ev any) EventView {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		v := StructuredView{EventMethod: types.MethodRequestWillBeSent, RequestID: string(e.RequestID), Raw: e}
		if e.Request != nil {
			v.URL = e.Request.URL
			v.PostData = inlinePostData(e.Request)
		}
		return v
	case *network.EventResponseReceived:
		v := StructuredView{EventMethod: types.MethodResponseReceived, RequestID: string(e.RequestID), Raw: e}
		if e.Response != nil {
			v.URL = e.Response.URL
		}
		return v
	case *network.EventDataReceived:
		return StructuredView{EventMethod: types.MethodDataReceived, RequestID: string(e.RequestID), Data: e.Data, Raw: e}
	case *network.EventEventSourceMessageReceived:
		return StructuredView{
			EventMethod: types.MethodEventSourceMessageReceived,
			RequestID:   string(e.RequestID),
			Data:        e.Data,
			EventName:   e.EventName,
			Raw:         e,
		}
	case *network.EventLoadingFinished:
		return StructuredView{EventMethod: types.MethodLoadingFinished, RequestID: string(e.RequestID), Raw: e}
	case *network.EventLoadingFailed:
		return StructuredView{EventMethod: types.MethodLoadingFailed, RequestID: string(e.RequestID), ErrorText: e.ErrorText, Raw: e}
	default:
		return TextView{Repr: fmt.Sprintf("%+v", ev)}
	}
}

// RawView builds a view from the JSON params of a raw protocol message.
// Malformed params degrade to a TextView over the raw bytes.
func RawView(method string, params json.RawMessage) EventView {
	m := types.EventMethod(method)
	if !gjson.ValidBytes(params) {
		return TextView{EventMethod: m, Repr: string(params)}
	}
	p := gjson.ParseBytes(params)
	url := p.Get("request.url").String()
	if url == "" {
		url = p.Get("response.url").String()
	}
	return StructuredView{
		EventMethod: m,
		RequestID:   p.Get("requestId").String(),
		URL:         url,
		Data:        p.Get("data").String(),
		EventName:   p.Get("eventName").String(),
		PostData:    p.Get("request.postData").String(),
		ErrorText:   p.Get("errorText").String(),
		Repr:        string(params),
		Raw:         params,
	}
}

func inlinePostData(req *network.Request) string {
	if !req.HasPostData || len(req.PostDataEntries) == 0 {
		return ""
	}
	var b strings.Builder
	for _, entry := range req.PostDataEntries {
		if entry.Bytes == "" {
			continue
		}
		b.WriteString(decodeCDPData(entry.Bytes))
	}
	return b.String()
}
