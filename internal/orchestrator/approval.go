// ABOUTME: ApprovalGate parks tool executions until a human approves or denies them.
// ABOUTME: Responses are correlated by approval id; repeats are rejected via a TTL cache.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/agentloop/internal/dedupe"
)

var (
	// ErrUnknownApproval indicates a response for an approval that was never requested.
	ErrUnknownApproval = errors.New("unknown approval")

	// ErrAlreadyResponded indicates a second response for the same approval.
	ErrAlreadyResponded = errors.New("approval already responded")

	// ErrDuplicateApproval indicates an approval id that is already pending.
	ErrDuplicateApproval = errors.New("duplicate approval id")

	// ErrApprovalTimeout indicates nobody responded within the gate timeout.
	ErrApprovalTimeout = errors.New("approval timed out")

	// ErrGateClosed indicates the gate shut down while a caller was waiting.
	ErrGateClosed = errors.New("approval gate closed")
)

// Default response cache settings.
const (
	DefaultResponseTTL  = 10 * time.Minute
	DefaultMaxResponses = 10000
)

// Response is a human decision on a pending approval.
type Response struct {
	ID       string `json:"id"`
	Approved bool   `json:"approved"`
}

// GateConfig configures an ApprovalGate.
type GateConfig struct {
	Logger       *slog.Logger
	ResponseTTL  time.Duration
	MaxResponses int
}

// ApprovalGate correlates approval responses with waiting tool executions.
// Approvals for tools that run outside the loop are handed off: nobody
// waits on them, and the response is reported through a callback.
type ApprovalGate struct {
	mu        sync.Mutex
	pending   map[string]chan bool
	handoffs  map[string]func(approved bool)
	responded *dedupe.Cache
	logger    *slog.Logger
}

// NewApprovalGate creates a gate.
func NewApprovalGate(cfg GateConfig) *ApprovalGate {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ttl := cfg.ResponseTTL
	if ttl <= 0 {
		ttl = DefaultResponseTTL
	}
	size := cfg.MaxResponses
	if size <= 0 {
		size = DefaultMaxResponses
	}
	return &ApprovalGate{
		pending:   make(map[string]chan bool),
		handoffs:  make(map[string]func(approved bool)),
		responded: dedupe.New(ttl, size),
		logger:    logger.With("component", "approval"),
	}
}

// Respond delivers a decision to the execution waiting on resp.ID, or to
// the hand-off registered for it.
func (g *ApprovalGate) Respond(resp Response) error {
	g.mu.Lock()
	ch, waiting := g.pending[resp.ID]
	notify, handed := g.handoffs[resp.ID]
	if !waiting && !handed {
		seen := g.responded.Seen(resp.ID)
		g.mu.Unlock()
		if seen {
			return fmt.Errorf("respond %q: %w", resp.ID, ErrAlreadyResponded)
		}
		g.logger.Warn("response for unknown approval", "approval_id", resp.ID)
		return fmt.Errorf("respond %q: %w", resp.ID, ErrUnknownApproval)
	}
	if g.responded.CheckAndMark(resp.ID) {
		g.mu.Unlock()
		return fmt.Errorf("respond %q: %w", resp.ID, ErrAlreadyResponded)
	}
	if waiting {
		// Buffered and sent at most once, so this never blocks.
		ch <- resp.Approved
	}
	delete(g.handoffs, resp.ID)
	g.mu.Unlock()

	if handed {
		notify(resp.Approved)
	}
	g.logger.Info("approval responded", "approval_id", resp.ID, "approved", resp.Approved, "handed_off", handed)
	return nil
}

// Pending returns the number of approvals awaiting a response.
func (g *ApprovalGate) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending) + len(g.handoffs)
}

// Close releases every waiter with ErrGateClosed and drops hand-offs.
func (g *ApprovalGate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.logger.Debug("approval gate closing",
		"waiting", len(g.pending),
		"handed_off", len(g.handoffs),
		"remembered", g.responded.Len())
	for id, ch := range g.pending {
		close(ch)
		delete(g.pending, id)
	}
	clear(g.handoffs)
	g.responded.Close()
}

// open registers id before the approval request is visible to anyone who
// could respond to it.
func (g *ApprovalGate) open(id string) (chan bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.registeredLocked(id) {
		return nil, ErrDuplicateApproval
	}
	ch := make(chan bool, 1)
	g.pending[id] = ch
	return ch, nil
}

// handOff registers id for a tool that runs outside the loop. notify is
// called once, outside the gate lock, when the response arrives.
func (g *ApprovalGate) handOff(id string, notify func(approved bool)) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.registeredLocked(id) {
		return ErrDuplicateApproval
	}
	g.handoffs[id] = notify
	return nil
}

func (g *ApprovalGate) registeredLocked(id string) bool {
	_, waiting := g.pending[id]
	_, handed := g.handoffs[id]
	return waiting || handed
}

func (g *ApprovalGate) release(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if ch, ok := g.pending[id]; ok {
		close(ch)
		delete(g.pending, id)
	}
}

// wait blocks until a decision arrives on ch, ctx ends, or timeout elapses.
// A zero timeout waits indefinitely.
func (g *ApprovalGate) wait(ctx context.Context, id string, ch <-chan bool, timeout time.Duration) (bool, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case approved, ok := <-ch:
		if !ok {
			return false, ErrGateClosed
		}
		return approved, nil
	case <-ctx.Done():
		g.logger.Warn("approval wait cancelled", "approval_id", id, "error", ctx.Err())
		return false, ctx.Err()
	case <-expired:
		g.logger.Warn("approval timed out", "approval_id", id, "timeout", timeout)
		return false, ErrApprovalTimeout
	}
}
