package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/chromedp/cdproto/fetch"
	"github.com/dgnsrekt/chatcap/internal/capture"
	"github.com/dgnsrekt/chatcap/internal/config"
)

const eventRequestPaused = "Fetch.requestPaused"

// HookSession is a Fetch-domain session on the conversation tab. It pauses
// matching responses so the response hook can read complete bodies.
type HookSession struct {
	conn       *browserConn
	sessionID  string
	unregister func()
}

var _ capture.FetchSession = (*HookSession)(nil)

// DialHook opens a raw CDP connection and attaches to targetID. Interception
// starts with Enable.
func DialHook(ctx context.Context, httpBase, targetID string) (*HookSession, error) {
	conn, err := dialBrowser(ctx, httpBase)
	if err != nil {
		return nil, capture.NewError(capture.CodeCDPUnavailable, "dial hook session", err)
	}
	sessionID, err := conn.attach(ctx, targetID)
	if err != nil {
		_ = conn.Close()
		return nil, capture.NewError(capture.CodeCDPUnavailable, "attach hook session", err)
	}
	return &HookSession{conn: conn, sessionID: sessionID}, nil
}

// HookPatterns builds response-stage patterns for every conversation path of
// the profile.
func HookPatterns(p *config.Profile) []*fetch.RequestPattern {
	seen := make(map[string]struct{})
	var out []*fetch.RequestPattern
	for _, path := range append(append([]string{}, p.PrimaryPaths...), p.HintPaths...) {
		pattern := "*" + strings.TrimSuffix(path, "*") + "*"
		if _, ok := seen[pattern]; ok {
			continue
		}
		seen[pattern] = struct{}{}
		out = append(out, &fetch.RequestPattern{
			URLPattern:   pattern,
			RequestStage: fetch.RequestStageResponse,
		})
	}
	return out
}

// Enable starts interception. onPaused receives the params of every
// Fetch.requestPaused event on this session and must not block.
func (h *HookSession) Enable(ctx context.Context, patterns []*fetch.RequestPattern, onPaused func(json.RawMessage)) error {
	h.unregister = h.conn.on(eventRequestPaused, func(sessionID string, params json.RawMessage) {
		if sessionID != h.sessionID {
			return
		}
		onPaused(params)
	})
	if _, err := h.conn.call(ctx, h.sessionID, fetch.CommandEnable, fetch.Enable().WithPatterns(patterns)); err != nil {
		h.unregister()
		h.unregister = nil
		return capture.NewError(capture.CodeCDPUnavailable, "enable fetch interception", err)
	}
	slog.Info("Response hook enabled", "patterns", len(patterns))
	return nil
}

func (h *HookSession) GetResponseBody(ctx context.Context, fetchRequestID string) (string, bool, error) {
	raw, err := h.conn.call(ctx, h.sessionID, fetch.CommandGetResponseBody, fetch.GetResponseBody(fetch.RequestID(fetchRequestID)))
	if err != nil {
		return "", false, err
	}
	var res fetch.GetResponseBodyReturns
	if err := json.Unmarshal(raw, &res); err != nil {
		return "", false, fmt.Errorf("rawcdp: unmarshal response body: %w", err)
	}
	return res.Body, res.Base64encoded, nil
}

func (h *HookSession) ContinueRequest(ctx context.Context, fetchRequestID string) error {
	_, err := h.conn.call(ctx, h.sessionID, fetch.CommandContinueRequest, fetch.ContinueRequest(fetch.RequestID(fetchRequestID)))
	return err
}

// Close disables interception and detaches. Requests still paused are
// released by the browser when the session goes away.
func (h *HookSession) Close(ctx context.Context) error {
	if h.unregister != nil {
		h.unregister()
	}
	if _, err := h.conn.call(ctx, h.sessionID, fetch.CommandDisable, nil); err != nil {
		slog.Debug("Fetch.disable failed", "error", err)
	}
	err := h.conn.detach(ctx, h.sessionID)
	if cerr := h.conn.Close(); err == nil {
		err = cerr
	}
	return err
}
