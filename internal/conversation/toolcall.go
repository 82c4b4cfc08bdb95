// ABOUTME: Tool-call lifecycle state machine with an explicit transition table.
// ABOUTME: Denied never takes a result; complete and error only update each other in place.

package conversation

// ToolCallState is the lifecycle position of a tool call.
type ToolCallState string

const (
	StateAwaitingInput     ToolCallState = "awaiting-input"
	StateInputStreaming    ToolCallState = "input-streaming"
	StateInputComplete     ToolCallState = "input-complete"
	StateApprovalRequested ToolCallState = "approval-requested"
	StateApprovalResponded ToolCallState = "approval-responded"
	StateComplete          ToolCallState = "complete"
	StateError             ToolCallState = "error"
	StateDenied            ToolCallState = "denied"
)

// rank orders the non-terminal states.
var rank = map[ToolCallState]int{
	StateAwaitingInput:     0,
	StateInputStreaming:    1,
	StateInputComplete:     2,
	StateApprovalRequested: 3,
	StateApprovalResponded: 4,
}

// Terminal reports whether s ends the lifecycle.
func (s ToolCallState) Terminal() bool {
	return s == StateComplete || s == StateError || s == StateDenied
}

// Known reports whether s is a recognized state.
func (s ToolCallState) Known() bool {
	_, ok := rank[s]
	return ok || s.Terminal()
}

// advance returns the state after applying next to cur, and whether the
// transition was accepted. Rejected transitions leave cur unchanged.
func advance(cur, next ToolCallState) (ToolCallState, bool) {
	if !next.Known() {
		return cur, false
	}
	if cur == next {
		return cur, true
	}

	switch {
	case cur == StateDenied:
		return cur, false
	case cur.Terminal():
		// complete <-> error, last write wins
		if next == StateComplete || next == StateError {
			return next, true
		}
		return cur, false
	}

	switch next {
	case StateDenied:
		return next, true
	case StateComplete, StateError:
		// A pending approval gates any result.
		if cur == StateApprovalRequested {
			return cur, false
		}
		return next, true
	case StateApprovalRequested:
		if rank[cur] < rank[StateApprovalRequested] {
			return next, true
		}
		return cur, false
	case StateApprovalResponded:
		if rank[cur] < rank[StateApprovalResponded] {
			return next, true
		}
		return cur, false
	default:
		// Input states only move forward.
		if rank[next] > rank[cur] {
			return next, true
		}
		return cur, false
	}
}

// acceptsResult reports whether a result may be recorded in state s.
func acceptsResult(s ToolCallState) bool {
	return s != StateDenied && s != StateApprovalRequested
}
