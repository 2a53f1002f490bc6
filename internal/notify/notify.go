// Package notify posts capture outcomes to an ntfy topic.
package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dgnsrekt/chatcap/internal/bus"
)

const sendTimeout = 10 * time.Second

// Message renders the one-line summary of a finished capture.
func Message(ev bus.CaptureCompleted) string {
	var b strings.Builder
	fmt.Fprintf(&b, "chatcap session %s %s", shortID(ev.SessionID), ev.Status)
	if ev.Result != nil {
		fmt.Fprintf(&b, ": %d answer chars, %d citations", ev.Result.AnswerChars, ev.Result.CitationsCount)
	}
	if ev.Error != "" {
		fmt.Fprintf(&b, " (%s)", ev.Error)
	}
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Notifier sends a Message for every completed capture.
type Notifier struct {
	client   *http.Client
	endpoint string
}

// New returns nil when endpoint is empty.
func New(client *http.Client, endpoint string) *Notifier {
	if endpoint == "" {
		return nil
	}
	return &Notifier{client: client, endpoint: endpoint}
}

// Attach subscribes asynchronously so a slow ntfy server never delays capture.
func (n *Notifier) Attach(b bus.EventBus) error {
	return b.SubscribeAsync(bus.TopicCaptureCompleted, func(ev bus.Event) {
		done, ok := ev.(bus.CaptureCompleted)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		if err := Send(ctx, n.client, n.endpoint, Message(done)); err != nil {
			slog.Warn("ntfy notification failed", "session_id", done.SessionID, "error", err)
		}
	})
}

// Send sends a message to the requested endpoint using HTTP POST.
func Send(ctx context.Context, client *http.Client, endpoint, message string) error {
	c := client
	if c == nil {
		c = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(message))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Title", "chatcap")

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy notification failed: status=%d", resp.StatusCode)
	}
	return nil
}
