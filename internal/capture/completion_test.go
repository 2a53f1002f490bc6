package capture

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/dgnsrekt/chatcap/internal/storage"
)

func newTestStore(t *testing.T) *storage.ChunkStore {
	t.Helper()
	store, err := storage.NewChunkStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewChunkStore() failed: %v", err)
	}
	return store
}

func TestWaitDoneBodyWins(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.WriteBody("1.1", "body"); err != nil {
		t.Fatalf("WriteBody() failed: %v", err)
	}
	d := NewDetector(store, "[DONE]", 10*time.Millisecond)
	out := d.Wait(context.Background(), "1.1", time.Second, time.Second)
	if !out.Done || out.Reason != ReasonBody {
		t.Fatalf("Wait() = %+v; want done by body", out)
	}
}

func TestWaitDoneHookedBodyCounts(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.WriteHookBody("1.2", "hooked"); err != nil {
		t.Fatalf("WriteHookBody() failed: %v", err)
	}
	d := NewDetector(store, "[DONE]", 10*time.Millisecond)
	if !d.WaitDone(context.Background(), "1.2", time.Second, time.Second) {
		t.Fatalf("WaitDone() = false; want true")
	}
}

func TestWaitDoneTerminalMarker(t *testing.T) {
	store := newTestStore(t)
	_ = store.AppendStream("2.1", "data: {\"v\":\"x\"}\n\n")
	_ = store.AppendStream("2.1", "data: [DONE]\n\n")
	d := NewDetector(store, "[DONE]", 10*time.Millisecond)
	out := d.Wait(context.Background(), "2.1", time.Second, time.Minute)
	if !out.Done || out.Reason != ReasonMarker {
		t.Fatalf("Wait() = %+v; want done by marker", out)
	}
}

func TestWaitDoneMarkerOutsideTailIgnored(t *testing.T) {
	store := newTestStore(t)
	_ = store.AppendStream("2.2", "data: [DONE]\n\n"+strings.Repeat("x", markerWindow+10))
	d := NewDetector(store, "[DONE]", 10*time.Millisecond)
	out := d.Wait(context.Background(), "2.2", 100*time.Millisecond, time.Minute)
	if out.Done {
		t.Fatalf("Wait() = %+v; want timeout when marker is outside the tail", out)
	}
}

func TestWaitDoneIdleAfterLastWrite(t *testing.T) {
	store := newTestStore(t)
	d := NewDetector(store, "[DONE]", 50*time.Millisecond)

	go func() {
		for i := 0; i < 3; i++ {
			_ = store.AppendStream("3.1", "data: chunk\n\n")
			time.Sleep(100 * time.Millisecond)
		}
	}()

	start := time.Now()
	out := d.Wait(context.Background(), "3.1", 30*time.Second, 2*time.Second)
	elapsed := time.Since(start)
	if !out.Done || out.Reason != ReasonIdle {
		t.Fatalf("Wait() = %+v; want done by idle", out)
	}
	if elapsed < 2*time.Second || elapsed > 4*time.Second {
		t.Fatalf("Wait() took %v; want roughly 2-3s after the last write", elapsed)
	}
}

func TestWaitDoneEmptyStreamTimesOut(t *testing.T) {
	store := newTestStore(t)
	d := NewDetector(store, "[DONE]", 10*time.Millisecond)
	out := d.Wait(context.Background(), "4.1", 80*time.Millisecond, 10*time.Millisecond)
	if out.Done || out.Reason != ReasonTimeout {
		t.Fatalf("Wait() = %+v; want timeout, idle must not fire on an empty stream", out)
	}
}

func TestWaitDoneCancelled(t *testing.T) {
	store := newTestStore(t)
	d := NewDetector(store, "[DONE]", 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := d.Wait(ctx, "5.1", time.Minute, time.Minute)
	if out.Done || out.Reason != ReasonCancelled {
		t.Fatalf("Wait() = %+v; want cancelled", out)
	}
}
