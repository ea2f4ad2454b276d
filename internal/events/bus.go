// Package events provides a publish/subscribe event bus for operational
// observability. Events flow from components (alarm registry, conversation
// engine, daily scheduler, Telegram dispatcher) to subscribers (the ops
// WebSocket stream). The bus is nil-safe: calling Publish on a nil *Bus
// is a no-op, so components do not need guard checks.
package events

import (
	"sync"
	"time"
)

// Source constants identify which component published an event.
const (
	// SourceAlarm identifies events from the alarm registry.
	SourceAlarm = "alarm"
	// SourceConversation identifies events from the conversation engine.
	SourceConversation = "conversation"
	// SourceScheduler identifies events from the daily scheduler.
	SourceScheduler = "scheduler"
	// SourceTelegram identifies events from the Telegram dispatcher.
	SourceTelegram = "telegram"
)

// Kind constants describe the type of event within a source.
const (
	// KindAlarmSet signals a new daily alarm was registered.
	// Data: user_id, time.
	KindAlarmSet = "alarm_set"
	// KindAlarmRemoved signals one or more alarms were cancelled.
	// Data: user_id, time (or count for a bulk removal).
	KindAlarmRemoved = "alarm_removed"
	// KindAlarmFired signals a daily trigger invoked its callback.
	// Data: user_id, time.
	KindAlarmFired = "alarm_fired"

	// KindSessionOpened signals a wake-up session was created.
	// Data: user_id, time.
	KindSessionOpened = "session_opened"
	// KindSessionReplaced signals a firing displaced an open session.
	// Data: user_id, time.
	KindSessionReplaced = "session_replaced"
	// KindSessionClosed signals a session ended.
	// Data: user_id, reason ("confirmed" or "turn_cap").
	KindSessionClosed = "session_closed"
	// KindGenerationFallback signals the generation backend failed and a
	// catalog message was used instead.
	// Data: user_id, stage ("opener" or "reply").
	KindGenerationFallback = "generation_fallback"

	// KindMessageReceived signals an inbound Telegram update.
	// Data: user_id, command (empty for free text), message_len.
	KindMessageReceived = "message_received"
)

// Event represents a single operational event published by a component.
type Event struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"ts"`
	// Source identifies the component that published the event.
	Source string `json:"source"`
	// Kind describes the type of event within the source.
	Kind string `json:"kind"`
	// Data holds event-specific key/value pairs.
	Data map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast event bus. Subscribers receive events
// on buffered channels; slow subscribers miss events rather than
// blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recvToSend maps the receive-only channel returned by Subscribe
	// back to the bidirectional channel stored in subs. This allows
	// Unsubscribe to accept <-chan Event (the caller's view) without
	// an illegal type conversion.
	recvToSend map[<-chan Event]chan Event
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// Publish sends an event to all subscribers. Non-blocking: if a
// subscriber's channel is full, the event is dropped for that
// subscriber. Safe to call on a nil receiver (no-op).
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Subscriber is full — drop the event rather than block.
		}
	}
}

// Subscribe returns a channel that receives published events. The
// caller must eventually call Unsubscribe to avoid resource leaks.
// bufSize controls the channel buffer; 64 is a reasonable default for
// WebSocket consumers.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes the channel. Safe to
// call with a channel that is already unsubscribed (no-op).
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
