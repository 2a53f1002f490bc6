package relay

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/dgnsrekt/chatcap/internal/bus"
)

// Feed names carried on the live event stream.
const (
	FeedNetwork   = "network"
	FeedCompleted = "completed"
)

// networkPayload omits the raw protocol payload; subscribers only need the
// summary fields.
type networkPayload struct {
	SessionID      string    `json:"session_id"`
	Timestamp      time.Time `json:"timestamp"`
	Method         string    `json:"method"`
	RequestID      string    `json:"request_id,omitempty"`
	URL            string    `json:"url,omitempty"`
	Classification string    `json:"classification,omitempty"`
	Chars          int       `json:"chars,omitempty"`
	Error          string    `json:"error,omitempty"`
}

type completedPayload struct {
	SessionID      string `json:"session_id"`
	Status         string `json:"status"`
	RequestID      string `json:"request_id,omitempty"`
	AnswerChars    int    `json:"answer_chars"`
	CitationsCount int    `json:"citations_count"`
	Error          string `json:"error,omitempty"`
}

// Relay forwards bus events to an SSE Broker.
type Relay struct {
	broker *Broker

	mu       sync.Mutex
	bus      bus.EventBus
	handlers map[bus.Topic]func(bus.Event)
}

func NewRelay(broker *Broker) *Relay {
	return &Relay{broker: broker}
}

// Start subscribes to network and completion events on b.
func (r *Relay) Start(b bus.EventBus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	handlers := map[bus.Topic]func(bus.Event){
		bus.TopicNetworkEvent:     r.onEvent,
		bus.TopicCaptureCompleted: r.onEvent,
	}
	for topic, fn := range handlers {
		if err := b.SubscribeAsync(topic, fn); err != nil {
			r.bus, r.handlers = b, handlers
			r.stopLocked()
			return err
		}
	}
	r.bus = b
	r.handlers = handlers
	return nil
}

// Stop unsubscribes from the bus.
func (r *Relay) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked()
}

func (r *Relay) stopLocked() {
	if r.bus == nil {
		return
	}
	for topic, fn := range r.handlers {
		_ = r.bus.Unsubscribe(topic, fn)
	}
	r.bus = nil
	r.handlers = nil
}

func (r *Relay) onEvent(ev bus.Event) {
	evt, ok := toEvent(ev)
	if !ok {
		return
	}
	r.broker.Publish(evt)
}

func toEvent(ev bus.Event) (Event, bool) {
	var (
		feed      string
		sessionID string
		payload   any
	)
	switch e := ev.(type) {
	case bus.NetworkEvent:
		feed, sessionID = FeedNetwork, e.SessionID
		payload = networkPayload{
			SessionID:      e.SessionID,
			Timestamp:      e.Event.Timestamp,
			Method:         string(e.Event.Method),
			RequestID:      e.Event.RequestID,
			URL:            e.Event.URL,
			Classification: string(e.Event.Classification),
			Chars:          e.Event.Chars,
			Error:          e.Event.Error,
		}
	case bus.CaptureCompleted:
		feed, sessionID = FeedCompleted, e.SessionID
		p := completedPayload{SessionID: e.SessionID, Status: string(e.Status), Error: e.Error}
		if e.Result != nil {
			p.RequestID = e.Result.RequestID
			p.AnswerChars = e.Result.AnswerChars
			p.CitationsCount = e.Result.CitationsCount
		}
		payload = p
	default:
		return Event{}, false
	}

	data, err := json.Marshal(payload)
	if err != nil {
		slog.Warn("relay: marshal event", "feed", feed, "error", err)
		return Event{}, false
	}
	return Event{Feed: feed, SessionID: sessionID, Payload: string(data)}, true
}
