// Package cdp attaches to the conversation tab of a running Chromium and
// feeds its network events into a capture pipeline.
package cdp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	cdpproto "github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/dgnsrekt/chatcap/internal/capture"
	"github.com/dgnsrekt/chatcap/internal/config"
)

// Client owns one chromedp tab context. It doubles as the capture
// pipeline's BodyFetcher.
type Client struct {
	cfg         *config.Config
	allocCtx    context.Context
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc
	targetID    target.ID
	tabURL      string

	handlerMu sync.RWMutex
	handler   func(capture.EventView)
}

var _ capture.BodyFetcher = (*Client)(nil)

func NewClient(cfg *config.Config) *Client {
	return &Client{cfg: cfg}
}

// Connect attaches to the first page target whose URL matches the tab filter
// and enables the Network domain on it.
func (c *Client) Connect(ctx context.Context) error {
	cdpURL := c.cfg.GetCDPURL()
	slog.Info("Connecting to Chromium", "url", cdpURL)

	c.allocCtx, c.allocCancel = chromedp.NewRemoteAllocator(context.Background(), cdpURL)

	checkCtx, checkCancel := chromedp.NewContext(c.allocCtx)
	defer checkCancel()
	if err := chromedp.Run(checkCtx); err != nil {
		c.allocCancel()
		return capture.NewError(capture.CodeCDPUnavailable, "connect to browser", err)
	}

	targets, err := chromedp.Targets(checkCtx)
	if err != nil {
		c.allocCancel()
		return capture.NewError(capture.CodeCDPUnavailable, "enumerate targets", err)
	}
	slog.Info("Found browser targets", "count", len(targets))

	for _, t := range targets {
		if t.Type != "page" {
			continue
		}
		if !matchesTabURL(c.cfg.TabURLFilter, t.URL) {
			slog.Debug("Skipping tab (url filter)", "url", truncateURL(t.URL))
			continue
		}
		if err := c.attach(ctx, t.TargetID, t.URL); err != nil {
			slog.Error("Failed to attach to tab", "target_id", t.TargetID, "url", truncateURL(t.URL), "error", err)
			continue
		}
		return nil
	}

	c.allocCancel()
	return capture.NewError(capture.CodeCDPUnavailable,
		fmt.Sprintf("no tab matching CHATCAP_TAB_URL_FILTER=%q", c.cfg.TabURLFilter), nil)
}

func (c *Client) attach(ctx context.Context, targetID target.ID, url string) error {
	tabCtx, tabCancel := chromedp.NewContext(c.allocCtx, chromedp.WithTargetID(targetID))

	enable := network.Enable().
		WithMaxTotalBufferSize(c.cfg.MaxTotalBufferSize).
		WithMaxResourceBufferSize(c.cfg.MaxResourceBufferSize)
	if err := chromedp.Run(tabCtx, enable, network.SetCacheDisabled(true)); err != nil {
		tabCancel()
		return fmt.Errorf("enable network domain: %w", err)
	}
	if err := ctx.Err(); err != nil {
		tabCancel()
		return err
	}

	c.tabCtx, c.tabCancel = tabCtx, tabCancel
	c.targetID, c.tabURL = targetID, url
	chromedp.ListenTarget(tabCtx, c.dispatch)

	slog.Info("Attached to tab", "target_id", targetID, "url", truncateURL(url))
	return nil
}

// SetHandler routes subsequent network events to fn. A nil fn drops them.
func (c *Client) SetHandler(fn func(capture.EventView)) {
	c.handlerMu.Lock()
	c.handler = fn
	c.handlerMu.Unlock()
}

// dispatch runs on chromedp's event goroutine and must not block.
func (c *Client) dispatch(ev any) {
	switch ev.(type) {
	case *network.EventRequestWillBeSent,
		*network.EventResponseReceived,
		*network.EventDataReceived,
		*network.EventEventSourceMessageReceived,
		*network.EventLoadingFinished,
		*network.EventLoadingFailed:
	default:
		return
	}
	c.handlerMu.RLock()
	fn := c.handler
	c.handlerMu.RUnlock()
	if fn != nil {
		fn(capture.ViewOf(ev))
	}
}

// TargetID returns the attached tab's target id.
func (c *Client) TargetID() string {
	return string(c.targetID)
}

// TabURL returns the attached tab's URL at attach time.
func (c *Client) TabURL() string {
	return c.tabURL
}

func (c *Client) run(ctx context.Context, fn func(ctx context.Context) error) error {
	if c.tabCtx == nil {
		return capture.NewError(capture.CodeCDPUnavailable, "not attached", nil)
	}
	runCtx, cancel := context.WithCancel(c.tabCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, chromedp.ActionFunc(fn))
}

func (c *Client) RequestPostData(ctx context.Context, requestID string) (string, error) {
	var data string
	err := c.run(ctx, func(ctx context.Context) error {
		var err error
		data, err = network.GetRequestPostData(network.RequestID(requestID)).Do(ctx)
		return err
	})
	return data, err
}

// ResponseBody goes through cdp.Execute directly so the base64 flag survives.
func (c *Client) ResponseBody(ctx context.Context, requestID string) (string, bool, error) {
	var res network.GetResponseBodyReturns
	err := c.run(ctx, func(ctx context.Context) error {
		return cdpproto.Execute(ctx, network.CommandGetResponseBody, network.GetResponseBody(network.RequestID(requestID)), &res)
	})
	if err != nil {
		return "", false, err
	}
	return res.Body, res.Base64encoded, nil
}

// StreamResourceContent returns the still base64 encoded buffered data.
func (c *Client) StreamResourceContent(ctx context.Context, requestID string) (string, error) {
	var res network.StreamResourceContentReturns
	err := c.run(ctx, func(ctx context.Context) error {
		return cdpproto.Execute(ctx, network.CommandStreamResourceContent, network.StreamResourceContent(network.RequestID(requestID)), &res)
	})
	if err != nil {
		return "", err
	}
	return res.BufferedData, nil
}

// Close detaches from the tab without closing it.
func (c *Client) Close() error {
	c.SetHandler(nil)
	if c.tabCancel != nil {
		c.tabCancel()
	}
	if c.allocCancel != nil {
		c.allocCancel()
	}
	slog.Info("CDP client closed")
	return nil
}

func matchesTabURL(filter, url string) bool {
	if filter == "" {
		return true
	}
	return strings.Contains(strings.ToLower(url), strings.ToLower(filter))
}

func truncateURL(url string) string {
	if len(url) > 120 {
		return url[:120] + "..."
	}
	return url
}
