// Package bus fans capture events out to in-process subscribers.
package bus

import (
	"fmt"

	evbus "github.com/asaskevich/EventBus"
	"github.com/dgnsrekt/chatcap/internal/types"
)

// Topic names a stream of events.
type Topic string

const (
	TopicNetworkEvent     Topic = "capture.network_event"
	TopicCaptureCompleted Topic = "capture.completed"
)

// Event is anything published on the bus.
type Event interface {
	Type() Topic
}

// NetworkEvent wraps one conversation log record of a session.
type NetworkEvent struct {
	SessionID string
	Event     types.NetworkEvent
}

func (NetworkEvent) Type() Topic { return TopicNetworkEvent }

// CaptureCompleted is published once per finished capture session.
type CaptureCompleted struct {
	SessionID string
	Status    types.SessionStatus
	Result    *types.CaptureResult
	Error     string
}

func (CaptureCompleted) Type() Topic { return TopicCaptureCompleted }

// EventBus is the publish/subscribe surface used by the rest of the module.
type EventBus interface {
	Publish(ev Event)
	Subscribe(topic Topic, fn func(Event)) error
	SubscribeAsync(topic Topic, fn func(Event)) error
	Unsubscribe(topic Topic, fn func(Event)) error
	// Close waits for asynchronous handlers to drain.
	Close()
}

type eventBus struct {
	bus evbus.Bus
}

func New() EventBus {
	return &eventBus{bus: evbus.New()}
}

func (b *eventBus) Publish(ev Event) {
	b.bus.Publish(string(ev.Type()), ev)
}

func (b *eventBus) Subscribe(topic Topic, fn func(Event)) error {
	if err := b.bus.Subscribe(string(topic), fn); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return nil
}

func (b *eventBus) SubscribeAsync(topic Topic, fn func(Event)) error {
	if err := b.bus.SubscribeAsync(string(topic), fn, false); err != nil {
		return fmt.Errorf("subscribe async %s: %w", topic, err)
	}
	return nil
}

func (b *eventBus) Unsubscribe(topic Topic, fn func(Event)) error {
	if err := b.bus.Unsubscribe(string(topic), fn); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", topic, err)
	}
	return nil
}

func (b *eventBus) Close() {
	b.bus.WaitAsync()
}
