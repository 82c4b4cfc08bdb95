// ABOUTME: ScriptedAdapter replays canned model turns, for tests and offline demos.
// ABOUTME: Each ChatStream call consumes the next turn; requests are recorded for inspection.

package orchestrator

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/agentloop/internal/chunk"
)

// Turn is one scripted model response. A non-nil Err fails the call.
type Turn struct {
	Chunks []*chunk.StreamChunk
	Err    error
}

// ScriptedAdapter is an Adapter that plays back Turns in order. Once the
// script runs out, every call returns a bare done chunk.
type ScriptedAdapter struct {
	name string

	mu       sync.Mutex
	turns    []Turn
	next     int
	requests []ChatRequest
}

// NewScriptedAdapter creates an adapter playing turns.
func NewScriptedAdapter(name string, turns ...Turn) *ScriptedAdapter {
	return &ScriptedAdapter{name: name, turns: turns}
}

func (a *ScriptedAdapter) Name() string { return a.name }

// Requests returns the requests received so far.
func (a *ScriptedAdapter) Requests() []ChatRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]ChatRequest, len(a.requests))
	copy(out, a.requests)
	return out
}

// ChatStream plays the next turn.
func (a *ScriptedAdapter) ChatStream(ctx context.Context, req ChatRequest) (<-chan *chunk.StreamChunk, error) {
	a.mu.Lock()
	req.Messages = cloneMessages(req.Messages)
	a.requests = append(a.requests, req)
	var turn Turn
	if a.next < len(a.turns) {
		turn = a.turns[a.next]
		a.next++
	} else {
		turn = Turn{Chunks: []*chunk.StreamChunk{done(req.Model, chunk.FinishStop)}}
	}
	a.mu.Unlock()

	if turn.Err != nil {
		return nil, turn.Err
	}

	ch := make(chan *chunk.StreamChunk)
	go func() {
		defer close(ch)
		for _, c := range turn.Chunks {
			cp := *c
			select {
			case ch <- &cp:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// TextTurn streams text word by word with cumulative content, then stops.
func TextTurn(model, text string) Turn {
	var chunks []*chunk.StreamChunk
	var sb strings.Builder
	for i, word := range strings.Fields(text) {
		delta := word
		if i > 0 {
			delta = " " + word
		}
		sb.WriteString(delta)
		chunks = append(chunks, chunk.Content(uuid.New().String(), model, delta, sb.String()))
	}
	chunks = append(chunks, done(model, chunk.FinishStop))
	return Turn{Chunks: chunks}
}

// ToolCallTurn streams calls as fragmented tool_call chunks and finishes
// with reason tool_calls. Arguments are split in two to exercise assembly.
func ToolCallTurn(model string, calls ...ToolCall) Turn {
	var chunks []*chunk.StreamChunk
	for i, call := range calls {
		args := call.Function.Arguments
		half := len(args) / 2
		for j, part := range []string{args[:half], args[half:]} {
			d := &chunk.ToolCallDelta{Type: "function", Function: chunk.FunctionDelta{Arguments: part}}
			if j == 0 {
				d.ID = call.ID
				d.Function.Name = call.Function.Name
			}
			chunks = append(chunks, &chunk.StreamChunk{
				Type:      chunk.TypeToolCall,
				ID:        uuid.New().String(),
				Model:     model,
				Timestamp: chunk.Now(),
				Index:     i,
				ToolCall:  d,
			})
		}
	}
	chunks = append(chunks, done(model, chunk.FinishToolCalls))
	return Turn{Chunks: chunks}
}

// Call builds a function ToolCall.
func Call(id, name, arguments string) ToolCall {
	return ToolCall{ID: id, Type: "function", Function: FunctionCall{Name: name, Arguments: arguments}}
}

func done(model string, reason chunk.FinishReason) *chunk.StreamChunk {
	return &chunk.StreamChunk{
		Type:         chunk.TypeDone,
		ID:           uuid.New().String(),
		Model:        model,
		Timestamp:    chunk.Now(),
		FinishReason: reason,
	}
}
