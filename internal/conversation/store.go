// ABOUTME: Store reconstructs conversations from bus events with batched chunk appends
// ABOUTME: Structural changes apply immediately; chunk queues flush once per scheduled tick

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/2389/agentloop/internal/correlate"
	"github.com/2389/agentloop/internal/events"
	"github.com/2389/agentloop/internal/merge"
)

// ErrNotFound is returned for operations on unknown conversation ids.
var ErrNotFound = errors.New("conversation not found")

// Scheduler arranges for flush to run later. It must not call flush before
// returning to a caller that holds no lock; the default runs it on a new goroutine.
type Scheduler func(flush func())

// GoScheduler runs each flush on its own goroutine.
func GoScheduler(flush func()) { go flush() }

// Stats are counters describing store activity.
type Stats struct {
	Conversations  int
	Events         uint64
	Flushes        uint64
	Dropped        uint64
	WatcherDropped uint64
	BoundStreams   int
	BoundRequests  int
}

type pending struct {
	chunks   []merge.Chunk
	newCount int
}

type messageKey struct {
	conversationID string
	index          int
}

// Store holds every reconstructed conversation. It is safe for concurrent use.
type Store struct {
	mu            sync.Mutex
	conversations map[string]*Conversation
	order         []string
	selected      string

	correlator *correlate.Correlator
	policy     correlate.Policy

	pendingConv map[string]*pending
	pendingMsg  map[messageKey]*pending
	changed     map[string]struct{}
	scheduled   bool
	scheduler   Scheduler

	events  uint64
	flushes uint64
	dropped uint64

	watchers *updateBroadcaster
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures a Store.
type Option func(*options)

type options struct {
	logger      *slog.Logger
	scheduler   Scheduler
	policy      correlate.Policy
	watchBuffer int
	now         func() time.Time
}

// WithLogger sets the logger. Nil uses slog.Default().
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithScheduler replaces the flush scheduler.
func WithScheduler(s Scheduler) Option { return func(o *options) { o.scheduler = s } }

// WithPolicy replaces the correlation fallback policy.
func WithPolicy(p correlate.Policy) Option { return func(o *options) { o.policy = p } }

// WithWatchBuffer sets the per-watcher channel buffer.
func WithWatchBuffer(n int) Option { return func(o *options) { o.watchBuffer = n } }

// WithClock replaces time.Now for timestamps the store assigns itself.
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// New creates an empty Store.
func New(opts ...Option) *Store {
	o := options{scheduler: GoScheduler, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.scheduler == nil {
		o.scheduler = GoScheduler
	}
	if o.now == nil {
		o.now = time.Now
	}

	c := correlate.New(o.policy)
	return &Store{
		conversations: make(map[string]*Conversation),
		correlator:    c,
		policy:        c.Policy(),
		pendingConv:   make(map[string]*pending),
		pendingMsg:    make(map[messageKey]*pending),
		changed:       make(map[string]struct{}),
		scheduler:     o.scheduler,
		watchers:      newUpdateBroadcaster(o.logger, o.watchBuffer),
		now:           o.now,
		logger:        o.logger.With("component", "conversation"),
	}
}

// Attach registers the store as a synchronous handler on bus and returns
// the function that detaches it.
func (s *Store) Attach(bus *events.Bus) func() {
	return bus.On(func(ev events.Event) {
		if err := s.Handle(ev); err != nil {
			s.logger.Warn("event rejected", "topic", ev.Topic(), "error", err)
		}
	})
}

// Handle ingests one event. Invalid events are rejected with an error;
// events that resolve to no conversation are dropped and counted.
func (s *Store) Handle(ev events.Event) error {
	if ev == nil {
		return fmt.Errorf("%w: nil event", events.ErrInvalidEvent)
	}
	if err := ev.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	s.events++
	s.apply(ev)
	schedule := s.markScheduledLocked()
	s.mu.Unlock()

	if schedule {
		s.scheduler(s.flush)
	}
	return nil
}

// markScheduledLocked claims the single outstanding flush slot when there is
// anything to flush. Callers invoke the scheduler outside the lock.
func (s *Store) markScheduledLocked() bool {
	if s.scheduled {
		return false
	}
	if len(s.changed) == 0 && len(s.pendingConv) == 0 && len(s.pendingMsg) == 0 {
		return false
	}
	s.scheduled = true
	return true
}

// Flush applies queued chunks now instead of waiting for the scheduler.
func (s *Store) Flush() {
	s.flush()
}

func (s *Store) flush() {
	s.mu.Lock()
	s.scheduled = false

	for id, p := range s.pendingConv {
		if conv, ok := s.conversations[id]; ok {
			conv.Chunks = merge.MergeAll(conv.Chunks, p.chunks)
			s.touch(id)
		}
	}
	for key, p := range s.pendingMsg {
		conv, ok := s.conversations[key.conversationID]
		if !ok || key.index >= len(conv.Messages) {
			s.dropped++
			continue
		}
		msg := &conv.Messages[key.index]
		msg.Chunks = merge.MergeAll(msg.Chunks, p.chunks)
		msg.TotalChunkCount += p.newCount
		s.touch(key.conversationID)
	}
	clear(s.pendingConv)
	clear(s.pendingMsg)

	if len(s.changed) == 0 {
		s.mu.Unlock()
		return
	}

	s.flushes++
	update := Update{Seq: s.flushes, Conversations: make([]string, 0, len(s.changed))}
	for id := range s.changed {
		update.Conversations = append(update.Conversations, id)
	}
	slices.Sort(update.Conversations)
	clear(s.changed)
	s.mu.Unlock()

	s.watchers.publish(update)
}

// Watch returns a channel receiving one Update per flush. With ids, only
// flushes touching one of those conversations are delivered. The channel
// closes when ctx is cancelled or the store is closed.
func (s *Store) Watch(ctx context.Context, ids ...string) <-chan Update {
	ch, _ := s.watchers.subscribe(ctx, ids...)
	return ch
}

// Close releases all watchers. Queued chunks are flushed first.
func (s *Store) Close() {
	s.flush()
	s.watchers.close()
}

// Conversations returns copies of all conversations ordered by start time.
func (s *Store) Conversations() []Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Conversation, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.conversations[id].clone())
	}
	slices.SortStableFunc(out, func(a, b Conversation) int {
		return a.StartedAt.Compare(b.StartedAt)
	})
	return out
}

// Conversation returns a copy of the conversation with id.
func (s *Store) Conversation(id string) (Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return Conversation{}, false
	}
	return conv.clone(), true
}

// Active returns the selected conversation id, or "" when none exists.
func (s *Store) Active() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// Select makes id the selected conversation.
func (s *Store) Select(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[id]; !ok {
		return fmt.Errorf("select %q: %w", id, ErrNotFound)
	}
	s.selected = id
	return nil
}

// Stop marks a conversation completed. Its chunks are kept.
func (s *Store) Stop(id string) error {
	s.mu.Lock()
	conv, ok := s.conversations[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("stop %q: %w", id, ErrNotFound)
	}
	s.complete(conv, s.now())
	schedule := s.markScheduledLocked()
	s.mu.Unlock()

	if schedule {
		s.scheduler(s.flush)
	}
	return nil
}

// Clear drops every conversation, the correlation tables and queued chunks.
func (s *Store) Clear() {
	s.mu.Lock()
	clear(s.conversations)
	s.order = nil
	s.selected = ""
	clear(s.pendingConv)
	clear(s.pendingMsg)
	clear(s.changed)
	s.correlator.Reset()
	s.mu.Unlock()

	s.logger.Info("store cleared")
	s.watchers.publish(Update{})
}

// Stats returns a snapshot of the store counters.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	st := Stats{
		Conversations: len(s.conversations),
		Events:        s.events,
		Flushes:       s.flushes,
		Dropped:       s.dropped,
	}
	s.mu.Unlock()
	st.WatcherDropped = s.watchers.droppedCount()
	st.BoundStreams, st.BoundRequests = s.correlator.Len()
	return st
}

// ===== internal helpers; callers hold s.mu =====

func (s *Store) touch(id string) {
	s.changed[id] = struct{}{}
}

func (s *Store) drop(ev events.Event, reason string) {
	s.dropped++
	h := ev.Header()
	s.logger.Debug("event dropped",
		"topic", ev.Topic(),
		"reason", reason,
		"stream_id", h.StreamID,
		"request_id", h.RequestID,
		"client_id", h.ClientID)
}

// getOrCreate returns the conversation with id, creating it as active when
// missing. The first conversation ever created becomes the selection.
func (s *Store) getOrCreate(id string, kind correlate.Kind, label string, at time.Time) *Conversation {
	if conv, ok := s.conversations[id]; ok {
		return conv
	}
	conv := &Conversation{
		ID:        id,
		Kind:      kind,
		Label:     label,
		Messages:  []Message{},
		Chunks:    []merge.Chunk{},
		Status:    StatusActive,
		StartedAt: at,
	}
	s.conversations[id] = conv
	s.order = append(s.order, id)
	if s.selected == "" {
		s.selected = id
	}
	s.touch(id)
	s.logger.Debug("conversation created", "conversation_id", id, "kind", kind)
	return conv
}

func (s *Store) candidates() []correlate.Candidate {
	out := make([]correlate.Candidate, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.conversations[id].candidate())
	}
	return out
}

func (s *Store) complete(conv *Conversation, at time.Time) {
	conv.Status = StatusCompleted
	conv.CompletedAt = at
	s.touch(conv.ID)
}

func (s *Store) queueConversationChunk(conv *Conversation, c merge.Chunk) {
	p, ok := s.pendingConv[conv.ID]
	if !ok {
		p = &pending{}
		s.pendingConv[conv.ID] = p
	}
	p.chunks = merge.Merge(p.chunks, c)
	p.newCount++
}

func (s *Store) queueMessageChunk(conv *Conversation, index int, c merge.Chunk) {
	key := messageKey{conversationID: conv.ID, index: index}
	p, ok := s.pendingMsg[key]
	if !ok {
		p = &pending{}
		s.pendingMsg[key] = p
	}
	p.chunks = merge.Merge(p.chunks, c)
	p.newCount++
}

// dropPendingFrom discards queued message chunks at or past index.
func (s *Store) dropPendingFrom(conversationID string, index int) {
	for key := range s.pendingMsg {
		if key.conversationID == conversationID && key.index >= index {
			delete(s.pendingMsg, key)
		}
	}
}
