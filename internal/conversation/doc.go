// Package conversation reconstructs conversation state from bus events.
//
// # Overview
//
// A Store consumes the events published by the tool loop, by chat clients and
// by stream processors, and rebuilds per conversation an ordered message
// list, tool calls with their lifecycle state, consolidated chunks, token
// usage and embedding or summarize operations.
//
//	store := conversation.New(conversation.WithLogger(logger))
//	detach := store.Attach(bus)
//	defer detach()
//
// # Correlation
//
// Stream and request ids are bound to a conversation when chat:started,
// embedding:started or summarize:started is seen. Later events resolve
// through those bindings. Events that resolve to nothing are dropped and
// counted in Stats.Dropped.
//
// # Batching
//
// Structural changes apply immediately. Chunk appends are queued and
// pre-merged, and a single flush is scheduled for the whole burst. The flush
// merges the queues into the stored arrays and emits one Update to watchers:
//
//	for u := range store.Watch(ctx) {
//	    conv, _ := store.Conversation(u.Conversations[0])
//	    ...
//	}
//
// # Tool calls
//
// Tool calls move through awaiting-input, input-streaming, input-complete,
// then optionally approval-requested and approval-responded, and end in
// complete, error or denied. Transitions that would leave a terminal state
// are ignored, and no result is recorded while an approval is pending.
//
// # Usage
//
// Usage events carry cumulative counts. The conversation keeps the latest
// cumulative value; each assistant message keeps its own share, computed by
// subtracting the usage of earlier assistant messages.
package conversation
