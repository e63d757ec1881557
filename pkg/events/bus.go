package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultSubscriberBuffer is used when the bus is constructed with a
// non-positive buffer size.
const DefaultSubscriberBuffer = 1024

// Subscription is one observer's view of a channel. Events() yields envelopes
// in publish order; the channel is closed when the subscription is cancelled
// or detached for falling behind.
type Subscription struct {
	channel string
	ch      chan Envelope

	mu       sync.Mutex
	detached bool
}

// Channel returns the bus channel name this subscription observes.
func (s *Subscription) Channel() string { return s.channel }

// Events returns the receive side of the subscription.
func (s *Subscription) Events() <-chan Envelope { return s.ch }

// detach closes the subscription's channel exactly once. Callers must not
// hold the bus lock ordering concerns here; detach has its own mutex.
func (s *Subscription) detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.detached {
		return
	}
	s.detached = true
	close(s.ch)
}

type channelState struct {
	seq  uint64
	subs map[*Subscription]struct{}
}

// Bus is the in-process event bus. Channels spring into existence on first
// publish or subscribe; sequence numbers are per channel, starting at 1, and
// never reused. Publishing never blocks on subscribers.
type Bus struct {
	mu       sync.Mutex
	channels map[string]*channelState
	buffer   int
	logger   *slog.Logger
}

// NewBus creates a bus whose subscribers buffer up to bufferSize envelopes
// before being detached.
func NewBus(bufferSize int, logger *slog.Logger) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultSubscriberBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		channels: make(map[string]*channelState),
		buffer:   bufferSize,
		logger:   logger.With("component", "event_bus"),
	}
}

func (b *Bus) state(channel string) *channelState {
	st, ok := b.channels[channel]
	if !ok {
		st = &channelState{subs: make(map[*Subscription]struct{})}
		b.channels[channel] = st
	}
	return st
}

// Subscribe registers a new observer on channel. The returned subscription
// receives every envelope published after this call.
func (b *Bus) Subscribe(channel string) *Subscription {
	// One extra slot is reserved so a detached subscriber can always be
	// handed its terminal error envelope without blocking the publisher.
	sub := &Subscription{
		channel: channel,
		ch:      make(chan Envelope, b.buffer+1),
	}
	b.mu.Lock()
	b.state(channel).subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes sub from the bus and closes its event channel.
// Safe to call more than once.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	if st, ok := b.channels[sub.channel]; ok {
		delete(st.subs, sub)
	}
	b.mu.Unlock()
	sub.detach()
}

// Publish assigns the next sequence number on channel, wraps payload in an
// envelope and fans it out to every subscriber. Subscribers that cannot
// accept the envelope are detached with a terminal error envelope; the
// publisher itself never blocks. The assigned envelope is returned so callers
// can persist it.
func (b *Bus) Publish(channel, eventType, batchID, sessionID string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}

	b.mu.Lock()
	st := b.state(channel)
	st.seq++
	env := Envelope{
		Type:      eventType,
		BatchID:   batchID,
		SessionID: sessionID,
		Seq:       st.seq,
		Timestamp: time.Now().UTC(),
		Payload:   raw,
	}

	var dropped []*Subscription
	for sub := range st.subs {
		if len(sub.ch) >= b.buffer {
			dropped = append(dropped, sub)
			continue
		}
		sub.ch <- env
	}
	for _, sub := range dropped {
		delete(st.subs, sub)
		termRaw, _ := json.Marshal(ErrorPayload{
			Where:   "event_bus",
			Code:    ErrorCodeSlowSubscriber,
			Message: "subscriber buffer full, detaching",
		})
		// The reserved slot guarantees this send cannot block. The terminal
		// envelope reuses the seq of the event the subscriber missed.
		sub.ch <- Envelope{
			Type:      EventTypeError,
			BatchID:   batchID,
			Seq:       env.Seq,
			Timestamp: env.Timestamp,
			Payload:   termRaw,
		}
	}
	b.mu.Unlock()

	for _, sub := range dropped {
		b.logger.Warn("Detached slow subscriber", "channel", channel, "buffered", b.buffer)
		sub.detach()
	}
	return env, nil
}

// SubscriberCount reports how many subscriptions are attached to channel.
func (b *Bus) SubscriberCount(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if st, ok := b.channels[channel]; ok {
		return len(st.subs)
	}
	return 0
}

// CloseChannel detaches every subscriber on channel and forgets its state.
// Used when a batch is fully finished and its stream will see no more events.
func (b *Bus) CloseChannel(channel string) {
	b.mu.Lock()
	st, ok := b.channels[channel]
	if ok {
		delete(b.channels, channel)
	}
	b.mu.Unlock()
	if !ok {
		return
	}
	for sub := range st.subs {
		sub.detach()
	}
}
