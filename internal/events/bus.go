// ABOUTME: In-memory event bus with synchronous handlers and buffered channel subscribers.
// ABOUTME: Events are validated before dispatch; slow channel subscribers drop rather than block.

package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// DefaultSubscriberBuffer is the channel buffer given to each subscriber.
const DefaultSubscriberBuffer = 64

// ErrBusClosed indicates Publish was called after Close.
var ErrBusClosed = errors.New("event bus closed")

// Publisher accepts events for dispatch.
type Publisher interface {
	Publish(ev Event) error
}

// Handler receives events synchronously on the publishing goroutine.
type Handler func(ev Event)

type handlerEntry struct {
	id string
	fn Handler
}

type subscriber struct {
	ch     chan Event
	topics map[Topic]struct{} // empty means all topics
}

func (s *subscriber) wants(t Topic) bool {
	if len(s.topics) == 0 {
		return true
	}
	_, ok := s.topics[t]
	return ok
}

// Bus fans events out to handlers and subscribers.
type Bus struct {
	mu          sync.RWMutex
	handlers    []handlerEntry
	subscribers map[string]*subscriber
	bufferSize  int
	closed      bool
	dropped     atomic.Int64
	logger      *slog.Logger
}

// NewBus creates a bus. Pass nil logger for default; bufferSize <= 0 uses
// DefaultSubscriberBuffer.
func NewBus(logger *slog.Logger, bufferSize int) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	if bufferSize <= 0 {
		bufferSize = DefaultSubscriberBuffer
	}
	return &Bus{
		subscribers: make(map[string]*subscriber),
		bufferSize:  bufferSize,
		logger:      logger.With("component", "bus"),
	}
}

// On registers a synchronous handler and returns a function that removes it.
// Handlers run in registration order.
func (b *Bus) On(fn Handler) func() {
	id := uuid.New().String()

	b.mu.Lock()
	b.handlers = append(b.handlers, handlerEntry{id: id, fn: fn})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, h := range b.handlers {
			if h.id == id {
				b.handlers = append(b.handlers[:i:i], b.handlers[i+1:]...)
				return
			}
		}
	}
}

// Subscribe returns a channel receiving events for the given topics, or all
// topics when none are given, plus a subscription id. The subscription ends
// when ctx is cancelled.
func (b *Bus) Subscribe(ctx context.Context, topics ...Topic) (<-chan Event, string) {
	subID := uuid.New().String()
	sub := &subscriber{
		ch:     make(chan Event, b.bufferSize),
		topics: make(map[Topic]struct{}, len(topics)),
	}
	for _, t := range topics {
		sub.topics[t] = struct{}{}
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.ch)
		return sub.ch, subID
	}
	b.subscribers[subID] = sub
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "sub_id", subID, "topics", len(topics))

	go func() {
		<-ctx.Done()
		b.Unsubscribe(subID)
	}()

	return sub.ch, subID
}

// Publish validates ev and dispatches it. Handlers run before channel
// subscribers. Invalid events are returned as errors and not dispatched.
func (b *Bus) Publish(ev Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBusClosed
	}
	handlers := make([]Handler, len(b.handlers))
	for i, h := range b.handlers {
		handlers[i] = h.fn
	}
	targets := make([]chan Event, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		if sub.wants(ev.Topic()) {
			targets = append(targets, sub.ch)
		}
	}
	b.mu.RUnlock()

	for _, fn := range handlers {
		fn(ev)
	}

	// Sends happen under the read lock so Unsubscribe cannot close a target mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range targets {
		if !b.stillSubscribed(ch) {
			continue
		}
		select {
		case ch <- ev:
		default:
			b.dropped.Add(1)
			b.logger.Debug("dropped event for slow subscriber", "topic", ev.Topic())
		}
	}
	return nil
}

// stillSubscribed must be called with mu held.
func (b *Bus) stillSubscribed(ch chan Event) bool {
	for _, sub := range b.subscribers {
		if sub.ch == ch {
			return true
		}
	}
	return false
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subscribers[subID]
	if !ok {
		return
	}
	delete(b.subscribers, subID)
	close(sub.ch)

	b.logger.Debug("subscriber removed", "sub_id", subID)
}

// Dropped returns how many channel deliveries were dropped for slow subscribers.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Close closes all subscriber channels and rejects further publishes.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subscribers {
		close(sub.ch)
		delete(b.subscribers, id)
	}
	b.handlers = nil

	b.logger.Debug("bus closed")
}
