package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

var errConnClosed = errors.New("rawcdp: connection closed")

// browserConn is a browser-level CDP websocket that multiplexes flattened
// target sessions. The response hook uses it instead of chromedp so Fetch
// interception has its own connection and cannot stall the network listener.
type browserConn struct {
	conn    net.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  int64
	waiting map[int64]chan reply
	events  map[string]func(sessionID string, params json.RawMessage)
	closed  bool
}

// frame is one inbound CDP message, either a reply or an event.
type frame struct {
	ID        int64           `json:"id"`
	Method    string          `json:"method"`
	SessionID string          `json:"sessionId"`
	Params    json.RawMessage `json:"params"`
	Result    json.RawMessage `json:"result"`
	Error     *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type reply struct {
	result json.RawMessage
	err    error
}

// dialBrowser resolves the debugger URL from httpBase and connects.
func dialBrowser(ctx context.Context, httpBase string) (*browserConn, error) {
	wsURL, err := debuggerURL(ctx, strings.TrimRight(httpBase, "/"))
	if err != nil {
		return nil, fmt.Errorf("rawcdp: browser ws url: %w", err)
	}
	slog.Debug("rawcdp connecting", "ws_url", wsURL)
	conn, _, _, err := ws.Dial(ctx, wsURL)
	if err != nil {
		return nil, fmt.Errorf("rawcdp: dial: %w", err)
	}
	bc := &browserConn{
		conn:    conn,
		waiting: make(map[int64]chan reply),
		events:  make(map[string]func(string, json.RawMessage)),
	}
	go bc.readLoop()
	return bc, nil
}

// readLoop delivers replies to their callers and events to the registered
// handler. Handlers run on this goroutine and must not call back inline.
func (b *browserConn) readLoop() {
	for {
		data, err := wsutil.ReadServerText(b.conn)
		if err != nil {
			slog.Debug("rawcdp read loop exit", "error", err)
			b.shutdown()
			return
		}
		var f frame
		if json.Unmarshal(data, &f) != nil {
			continue
		}
		switch {
		case f.ID > 0:
			b.resolve(f)
		case f.Method != "":
			b.mu.Lock()
			fn := b.events[f.Method]
			b.mu.Unlock()
			if fn != nil {
				fn(f.SessionID, f.Params)
			}
		}
	}
}

func (b *browserConn) resolve(f frame) {
	b.mu.Lock()
	ch, ok := b.waiting[f.ID]
	delete(b.waiting, f.ID)
	b.mu.Unlock()
	if !ok {
		return
	}
	if f.Error != nil {
		ch <- reply{err: fmt.Errorf("cdp error %d: %s", f.Error.Code, f.Error.Message)}
		return
	}
	ch <- reply{result: f.Result}
}

// shutdown fails every outstanding call.
func (b *browserConn) shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, ch := range b.waiting {
		ch <- reply{err: errConnClosed}
		delete(b.waiting, id)
	}
}

// call sends method on sessionID ("" for the browser session) and returns
// the result object of the reply.
func (b *browserConn) call(ctx context.Context, sessionID, method string, params any) (json.RawMessage, error) {
	ch := make(chan reply, 1)
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, errConnClosed
	}
	b.nextID++
	id := b.nextID
	b.waiting[id] = ch
	b.mu.Unlock()

	msg, err := json.Marshal(struct {
		ID        int64  `json:"id"`
		Method    string `json:"method"`
		SessionID string `json:"sessionId,omitempty"`
		Params    any    `json:"params,omitempty"`
	}{id, method, sessionID, params})
	if err == nil {
		b.writeMu.Lock()
		err = wsutil.WriteClientText(b.conn, msg)
		b.writeMu.Unlock()
	}
	if err != nil {
		b.forget(id)
		return nil, fmt.Errorf("rawcdp: send %s: %w", method, err)
	}

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("rawcdp: %s: %w", method, r.err)
		}
		return r.result, nil
	case <-ctx.Done():
		b.forget(id)
		return nil, ctx.Err()
	}
}

func (b *browserConn) forget(id int64) {
	b.mu.Lock()
	delete(b.waiting, id)
	b.mu.Unlock()
}

// on sets the handler for an event method and returns a function removing it.
func (b *browserConn) on(method string, fn func(sessionID string, params json.RawMessage)) func() {
	b.mu.Lock()
	b.events[method] = fn
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.events, method)
		b.mu.Unlock()
	}
}

// attach opens a flattened session on targetID.
func (b *browserConn) attach(ctx context.Context, targetID string) (string, error) {
	raw, err := b.call(ctx, "", target.CommandAttachToTarget,
		target.AttachToTarget(target.ID(targetID)).WithFlatten(true))
	if err != nil {
		return "", err
	}
	var res target.AttachToTargetReturns
	if err := json.Unmarshal(raw, &res); err != nil {
		return "", fmt.Errorf("rawcdp: decode attach: %w", err)
	}
	if res.SessionID == "" {
		return "", errors.New("rawcdp: attach returned no session id")
	}
	return string(res.SessionID), nil
}

// detach leaves the session; the tab itself stays open.
func (b *browserConn) detach(ctx context.Context, sessionID string) error {
	_, err := b.call(ctx, "", target.CommandDetachFromTarget,
		target.DetachFromTarget().WithSessionID(target.SessionID(sessionID)))
	return err
}

func (b *browserConn) Close() error {
	return b.conn.Close()
}

// debuggerURL reads webSocketDebuggerUrl from /json/version.
func debuggerURL(ctx context.Context, httpBase string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, httpBase+"/json/version", nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("/json/version: HTTP %d", resp.StatusCode)
	}

	var info struct {
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", err
	}
	if info.WebSocketDebuggerURL == "" {
		return "", errors.New("empty webSocketDebuggerUrl")
	}
	return info.WebSocketDebuggerURL, nil
}
