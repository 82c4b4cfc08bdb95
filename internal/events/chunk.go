// ABOUTME: Maps StreamChunks produced by the loop onto stream:* bus events.
// ABOUTME: The caller supplies the stream correlation; chunk fields fill the payload.

package events

import (
	"github.com/2389/agentloop/internal/chunk"
)

// FromChunk converts c into its stream event. meta supplies the stream and
// request ids; the chunk's message id and timestamp override meta's when set.
// It returns false for chunks that have no stream event.
func FromChunk(meta Meta, c *chunk.StreamChunk) (Event, bool) {
	if c.MessageID != "" {
		meta.MessageID = c.MessageID
	}
	if c.Timestamp > 0 {
		meta.Timestamp = c.Timestamp
	}
	if meta.Timestamp <= 0 {
		meta.Timestamp = chunk.Now()
	}

	switch c.Type {
	case chunk.TypeContent:
		return ChunkContent{Meta: meta, Content: c.Content, Delta: c.Delta}, true
	case chunk.TypeThinking:
		return ChunkThinking{Meta: meta, Content: c.Content, Delta: c.Delta}, true
	case chunk.TypeToolCall:
		if c.ToolCall == nil {
			return nil, false
		}
		return ChunkToolCall{
			Meta:       meta,
			ToolCallID: c.ToolCall.ID,
			ToolName:   c.ToolCall.Function.Name,
			Index:      c.Index,
			Arguments:  c.ToolCall.Function.Arguments,
		}, true
	case chunk.TypeToolResult:
		return ChunkToolResult{Meta: meta, ToolCallID: c.ToolCallID, Result: c.Result}, true
	case chunk.TypeDone:
		ev := ChunkDone{Meta: meta, FinishReason: c.FinishReason}
		if c.Usage != nil {
			u := *c.Usage
			ev.Usage = &u
		}
		return ev, true
	case chunk.TypeError:
		msg := "unknown error"
		if c.Error != nil && c.Error.Message != "" {
			msg = c.Error.Message
		}
		return ChunkError{Meta: meta, Error: msg}, true
	case chunk.TypeApproval:
		return ApprovalRequested{
			Meta:       meta,
			ToolCallID: c.ToolCallID,
			ToolName:   c.ToolName,
			Input:      c.Input,
			ApprovalID: c.ApprovalID,
		}, true
	}
	return nil, false
}
