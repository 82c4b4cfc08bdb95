// ABOUTME: Table tests for the tool-call lifecycle transitions
// ABOUTME: Terminal states must hold and pending approvals must gate results

package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAdvance(t *testing.T) {
	tests := []struct {
		name string
		cur  ToolCallState
		next ToolCallState
		want ToolCallState
		ok   bool
	}{
		{"input streams", StateAwaitingInput, StateInputStreaming, StateInputStreaming, true},
		{"input completes", StateInputStreaming, StateInputComplete, StateInputComplete, true},
		{"input never rewinds", StateInputComplete, StateInputStreaming, StateInputComplete, false},
		{"approval requested", StateInputComplete, StateApprovalRequested, StateApprovalRequested, true},
		{"approval responded", StateApprovalRequested, StateApprovalResponded, StateApprovalResponded, true},
		{"pending approval gates result", StateApprovalRequested, StateComplete, StateApprovalRequested, false},
		{"approved call completes", StateApprovalResponded, StateComplete, StateComplete, true},
		{"denied from pending", StateApprovalRequested, StateDenied, StateDenied, true},
		{"denied is terminal", StateDenied, StateComplete, StateDenied, false},
		{"denied ignores input", StateDenied, StateInputStreaming, StateDenied, false},
		{"complete to error", StateComplete, StateError, StateError, true},
		{"error to complete", StateError, StateComplete, StateComplete, true},
		{"complete holds", StateComplete, StateApprovalRequested, StateComplete, false},
		{"same state", StateComplete, StateComplete, StateComplete, true},
		{"unknown state", StateInputStreaming, ToolCallState("bogus"), StateInputStreaming, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := advance(tt.cur, tt.next)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestApplyResult_RespectsState(t *testing.T) {
	tc := ToolCall{ID: "c1", State: StateApprovalRequested}
	assert.False(t, applyResult(&tc, "42", StateComplete))
	assert.Nil(t, tc.Result)

	tc.State = StateDenied
	assert.False(t, applyResult(&tc, "42", StateComplete))
	assert.Nil(t, tc.Result)

	tc.State = StateInputComplete
	assert.True(t, applyResult(&tc, "42", StateComplete))
	assert.Equal(t, "42", *tc.Result)

	assert.True(t, applyResult(&tc, "boom", StateError))
	assert.Equal(t, StateError, tc.State)
	assert.Equal(t, "boom", *tc.Result)
}
