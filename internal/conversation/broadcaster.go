// ABOUTME: In-memory fan-out of flush updates to store watchers
// ABOUTME: Sends are non-blocking; a slow watcher misses updates rather than stalling a flush

package conversation

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// DefaultWatchBuffer is the channel buffer for each watcher.
const DefaultWatchBuffer = 16

// Update describes one flush. Conversations lists the ids whose state
// changed since the previous flush, in sorted order.
type Update struct {
	Seq           uint64
	Conversations []string
}

// Touches reports whether u changed the conversation with id.
func (u Update) Touches(id string) bool {
	_, found := slices.BinarySearch(u.Conversations, id)
	return found
}

type watcher struct {
	ch     chan Update
	filter map[string]struct{}
}

func (w *watcher) wants(u Update) bool {
	if len(w.filter) == 0 {
		return true
	}
	for _, id := range u.Conversations {
		if _, ok := w.filter[id]; ok {
			return true
		}
	}
	return false
}

// updateBroadcaster fans flush updates out to watchers.
type updateBroadcaster struct {
	mu       sync.RWMutex
	watchers map[string]*watcher
	buffer   int
	dropped  uint64
	logger   *slog.Logger
}

func newUpdateBroadcaster(logger *slog.Logger, buffer int) *updateBroadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	if buffer <= 0 {
		buffer = DefaultWatchBuffer
	}
	return &updateBroadcaster{
		watchers: make(map[string]*watcher),
		buffer:   buffer,
		logger:   logger.With("component", "broadcaster"),
	}
}

// subscribe registers a watcher. With ids, only updates touching one of them
// are delivered. The watcher is removed when ctx is cancelled.
func (b *updateBroadcaster) subscribe(ctx context.Context, ids ...string) (<-chan Update, string) {
	subID := uuid.New().String()
	w := &watcher{ch: make(chan Update, b.buffer)}
	if len(ids) > 0 {
		w.filter = make(map[string]struct{}, len(ids))
		for _, id := range ids {
			w.filter[id] = struct{}{}
		}
	}

	b.mu.Lock()
	b.watchers[subID] = w
	b.mu.Unlock()

	b.logger.Debug("watcher added", "sub_id", subID, "filter", len(ids))

	go func() {
		<-ctx.Done()
		b.unsubscribe(subID)
	}()

	return w.ch, subID
}

// publish delivers u to every interested watcher without blocking.
func (b *updateBroadcaster) publish(u Update) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, w := range b.watchers {
		if !w.wants(u) {
			continue
		}
		select {
		case w.ch <- u:
		default:
			b.dropped++
			b.logger.Debug("dropped update for slow watcher", "sub_id", id, "seq", u.Seq)
		}
	}
}

func (b *updateBroadcaster) unsubscribe(subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	w, ok := b.watchers[subID]
	if !ok {
		return
	}
	delete(b.watchers, subID)
	close(w.ch)

	b.logger.Debug("watcher removed", "sub_id", subID)
}

func (b *updateBroadcaster) droppedCount() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}

func (b *updateBroadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, w := range b.watchers {
		close(w.ch)
		delete(b.watchers, id)
	}
	b.logger.Debug("broadcaster closed")
}
