// ABOUTME: Assembles streamed tool-call fragments into complete calls keyed by index.
// ABOUTME: One accumulator lives for exactly one model iteration.

package orchestrator

import (
	"slices"

	"github.com/google/uuid"

	"github.com/2389/agentloop/internal/chunk"
)

// accumulator collects tool-call fragments for one iteration. The first
// non-empty id and name win; argument fragments concatenate. A call whose
// first fragment has no id gets a generated one, so every fragment of it
// is attributed to the same call.
type accumulator struct {
	calls map[int]*ToolCall
}

func newAccumulator() *accumulator {
	return &accumulator{calls: make(map[int]*ToolCall)}
}

func (a *accumulator) add(index int, d *chunk.ToolCallDelta) {
	if d == nil {
		return
	}
	tc, ok := a.calls[index]
	if !ok {
		tc = &ToolCall{Type: "function"}
		a.calls[index] = tc
	}
	if tc.ID == "" {
		tc.ID = d.ID
	}
	if tc.ID == "" {
		tc.ID = "call_" + uuid.New().String()
	}
	if tc.Function.Name == "" {
		tc.Function.Name = d.Function.Name
	}
	tc.Function.Arguments += d.Function.Arguments
}

// id returns the call id assembled so far for index.
func (a *accumulator) id(index int) string {
	if tc, ok := a.calls[index]; ok {
		return tc.ID
	}
	return ""
}

// snapshot returns the calls accumulated so far ordered by index.
func (a *accumulator) snapshot() []ToolCall {
	indexes := make([]int, 0, len(a.calls))
	for i := range a.calls {
		indexes = append(indexes, i)
	}
	slices.Sort(indexes)

	out := make([]ToolCall, 0, len(indexes))
	for _, i := range indexes {
		out = append(out, *a.calls[i])
	}
	return out
}
