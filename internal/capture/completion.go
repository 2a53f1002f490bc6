package capture

import (
	"context"
	"strings"
	"time"

	"github.com/dgnsrekt/chatcap/internal/storage"
)

// markerWindow is how much of the stream tail is scanned for the terminal marker.
const markerWindow = 4096

// Reason names the signal that ended a wait.
type Reason string

const (
	ReasonBody      Reason = "body"
	ReasonMarker    Reason = "marker"
	ReasonIdle      Reason = "idle"
	ReasonTimeout   Reason = "timeout"
	ReasonCancelled Reason = "cancelled"
)

// Outcome describes how a completion wait ended.
type Outcome struct {
	Done    bool
	Reason  Reason
	Elapsed time.Duration
}

// Detector polls a ChunkStore to decide when a request's data is complete.
type Detector struct {
	store    *storage.ChunkStore
	marker   string
	interval time.Duration
}

func NewDetector(store *storage.ChunkStore, marker string, interval time.Duration) *Detector {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	return &Detector{store: store, marker: marker, interval: interval}
}

// Wait polls until one of these holds, checked in order: a whole body (or a
// hooked body) exists, the stream tail contains the terminal marker, the
// stream has been non-empty and unchanged for idle, or timeout elapsed.
// Running out of time is reported as Done=false, not as an error.
func (d *Detector) Wait(ctx context.Context, requestID string, timeout, idle time.Duration) Outcome {
	start := time.Now()
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	var lastSize int64
	var lastChange time.Time

	for {
		now := time.Now()
		if d.store.Has(storage.KindBody, requestID) || d.store.Has(storage.KindHooked, requestID) {
			return Outcome{Done: true, Reason: ReasonBody, Elapsed: now.Sub(start)}
		}

		size := d.store.Size(storage.KindStream, requestID)
		if size > 0 {
			if d.marker != "" && strings.Contains(d.store.Tail(storage.KindStream, requestID, markerWindow), d.marker) {
				return Outcome{Done: true, Reason: ReasonMarker, Elapsed: now.Sub(start)}
			}
			if size != lastSize {
				lastSize = size
				lastChange = now
			} else if idle > 0 && now.Sub(lastChange) >= idle {
				return Outcome{Done: true, Reason: ReasonIdle, Elapsed: now.Sub(start)}
			}
		}

		if now.Sub(start) >= timeout {
			return Outcome{Reason: ReasonTimeout, Elapsed: now.Sub(start)}
		}

		select {
		case <-ctx.Done():
			return Outcome{Reason: ReasonCancelled, Elapsed: time.Since(start)}
		case <-ticker.C:
		}
	}
}

// WaitDone is Wait reduced to its boolean verdict.
func (d *Detector) WaitDone(ctx context.Context, requestID string, timeout, idle time.Duration) bool {
	return d.Wait(ctx, requestID, timeout, idle).Done
}
