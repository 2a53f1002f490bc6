// Package summary reconciles the two capture backends and ranks the
// per-request results of a session.
package summary

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/dgnsrekt/chatcap/internal/types"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Merge combines the event-driven stream buffer with a whole body captured
// by the response hook. The body wins when the stream is empty or contained
// in it, the stream wins when it contains the body, and otherwise both are
// concatenated with consecutive duplicate event groups removed.
func Merge(stream, body string) string {
	switch {
	case body == "":
		return stream
	case stream == "" || strings.Contains(body, stream):
		return body
	case strings.Contains(stream, body):
		return stream
	}
	return DropRepeatedGroups(stream + "\n\n" + body)
}

// DropRepeatedGroups removes blank-line separated groups that repeat the
// group directly before them.
func DropRepeatedGroups(raw string) string {
	lines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")

	var (
		out     []string
		current []string
		prev    string
	)
	flush := func() {
		if len(current) == 0 {
			return
		}
		group := strings.Join(current, "\n")
		current = current[:0]
		if group == prev {
			return
		}
		prev = group
		out = append(out, group)
	}
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		current = append(current, line)
	}
	flush()
	if len(out) == 0 {
		return ""
	}
	return strings.Join(out, "\n\n") + "\n\n"
}

// Deduper suppresses downstream records that both backends produce for the
// same logical request.
type Deduper struct {
	seen *expirable.LRU[string, struct{}]
}

func NewDeduper(size int, ttl time.Duration) *Deduper {
	if size <= 0 {
		size = 1024
	}
	return &Deduper{seen: expirable.NewLRU[string, struct{}](size, nil, ttl)}
}

// First reports whether res has not been seen within the TTL and remembers it.
func (d *Deduper) First(res types.CaptureResult) bool {
	key := Digest(res)
	if d.seen.Contains(key) {
		return false
	}
	d.seen.Add(key, struct{}{})
	return true
}

// Digest fingerprints a result by request id and consumer-visible content.
func Digest(res types.CaptureResult) string {
	h := sha256.New()
	h.Write([]byte(res.RequestID))
	h.Write([]byte{0})
	h.Write([]byte(res.Answer))
	for _, c := range res.Citations {
		h.Write([]byte{0})
		h.Write([]byte(c.URL))
	}
	return hex.EncodeToString(h.Sum(nil))
}
