package relay

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// keepAliveInterval spaces comment frames so idle proxies keep the stream open.
const keepAliveInterval = 15 * time.Second

// filter selects which events a client receives. Empty fields match all.
type filter struct {
	feeds     map[string]bool
	sessionID string
}

// parseFilter reads ?feeds=network,completed and ?session=<id>.
func parseFilter(r *http.Request) filter {
	q := r.URL.Query()
	f := filter{sessionID: strings.TrimSpace(q.Get("session"))}
	for _, name := range strings.Split(q.Get("feeds"), ",") {
		if name = strings.TrimSpace(name); name != "" {
			if f.feeds == nil {
				f.feeds = make(map[string]bool)
			}
			f.feeds[name] = true
		}
	}
	return f
}

func (f filter) match(evt Event) bool {
	if f.feeds != nil && !f.feeds[evt.Feed] {
		return false
	}
	return f.sessionID == "" || evt.SessionID == f.sessionID
}

// SSEHandler streams broker events to one client until it disconnects.
func SSEHandler(broker *Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}
		f := parseFilter(r)

		h := w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		id, ch := broker.Subscribe()
		defer broker.Unsubscribe(id)

		ping := time.NewTicker(keepAliveInterval)
		defer ping.Stop()

		for {
			var err error
			select {
			case <-r.Context().Done():
				return
			case <-ping.C:
				_, err = fmt.Fprint(w, ": ping\n\n")
			case evt, ok := <-ch:
				if !ok {
					return
				}
				if !f.match(evt) {
					continue
				}
				_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Feed, evt.Payload)
			}
			if err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
