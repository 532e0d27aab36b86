// ABOUTME: In-memory fan-out event broadcaster for real-time client updates
// ABOUTME: Publishes events to all subscribers of a named channel

package hub

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// Broadcaster provides in-memory pub/sub for broadcast events. Subscribers
// register for a channel name (conversation channel, agent inbox, presence)
// and receive events as operations publish them.
//
// Delivery is fire-and-forget: the operation that caused an event is complete
// once its store mutation succeeds, regardless of who is subscribed. There is
// no replay; a reconnecting client re-fetches history to resynchronize.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan *Event // channel -> subID -> ch
	mirror      func(*Event)
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan *Event),
		logger:      logger.With("component", "hub"),
	}
}

// SetMirror installs a hook invoked for every locally published event.
// Used by the AMQP bridge to replicate events to other gateway instances.
func (b *Broadcaster) SetMirror(fn func(*Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mirror = fn
}

// Subscribe registers a subscriber for events on the given channel name.
// Returns a receive channel and a subscription ID for later unsubscription.
// The subscription is automatically cleaned up when ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context, channel string) (<-chan *Event, string) {
	subID := uuid.New().String()
	ch := make(chan *Event, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.subscribers[channel]; !ok {
		b.subscribers[channel] = make(map[string]chan *Event)
	}
	b.subscribers[channel][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added",
		"channel", channel,
		"sub_id", subID)

	// Auto-cleanup on context cancellation
	go func() {
		<-ctx.Done()
		b.Unsubscribe(channel, subID)
	}()

	return ch, subID
}

// Publish sends an event to all subscribers of the given channel and mirrors
// it to other instances when a bridge is attached.
// Non-blocking: events are dropped for subscribers whose channels are full.
func (b *Broadcaster) Publish(channel, name string, payload any) {
	event := &Event{Channel: channel, Name: name, Payload: payload}

	b.deliver(event)

	b.mu.RLock()
	mirror := b.mirror
	b.mu.RUnlock()
	if mirror != nil {
		mirror(event)
	}
}

// deliver fans an event out to local subscribers only.
//
// The read lock is held across the sends: channels are only closed under the
// write lock (Unsubscribe, Close), so a send can never race a close. Sends
// are non-blocking, so the lock is held only briefly.
func (b *Broadcaster) deliver(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers[event.Channel] {
		select {
		case ch <- event:
			// Sent
		default:
			// Subscriber channel full — drop event for this subscriber
			b.logger.Debug("dropped event for slow subscriber",
				"channel", event.Channel,
				"event", event.Name)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(channel, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[channel]
	if !ok {
		return
	}

	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)

	// Clean up empty channel entries
	if len(subs) == 0 {
		delete(b.subscribers, channel)
	}

	b.logger.Debug("subscriber removed",
		"channel", channel,
		"sub_id", subID)
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for channel, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, channel)
	}

	b.logger.Debug("broadcaster closed")
}
