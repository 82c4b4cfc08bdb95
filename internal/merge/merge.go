// ABOUTME: Pure functions that consolidate consecutive streamed text chunks.
// ABOUTME: Content and thinking chunks for the same message collapse into one entry with a count.

package merge

import (
	"encoding/json"

	"github.com/2389/agentloop/internal/chunk"
)

// Chunk is a consolidated view of one or more raw StreamChunks.
// ChunkCount is the number of raw chunks it represents.
type Chunk struct {
	Type       chunk.Type `json:"type"`
	ID         string     `json:"id"`
	MessageID  string     `json:"messageId,omitempty"`
	Timestamp  int64      `json:"timestamp"`
	Content    string     `json:"content,omitempty"`
	Delta      string     `json:"delta,omitempty"`
	ChunkCount int        `json:"chunkCount"`

	ToolCallID string          `json:"toolCallId,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	Arguments  string          `json:"arguments,omitempty"`
	Index      int             `json:"index,omitempty"`
	Result     string          `json:"result,omitempty"`
	ApprovalID string          `json:"approvalId,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`

	FinishReason chunk.FinishReason `json:"finishReason,omitempty"`
	Usage        *chunk.Usage       `json:"usage,omitempty"`
	Error        string             `json:"error,omitempty"`
}

// FromStream converts a raw StreamChunk into a single-count consolidated chunk.
func FromStream(c *chunk.StreamChunk) Chunk {
	out := Chunk{
		Type:         c.Type,
		ID:           c.ID,
		MessageID:    c.MessageID,
		Timestamp:    c.Timestamp,
		Content:      c.Content,
		Delta:        c.Delta,
		ChunkCount:   1,
		ToolCallID:   c.ToolCallID,
		ToolName:     c.ToolName,
		Index:        c.Index,
		Result:       c.Result,
		ApprovalID:   c.ApprovalID,
		Input:        c.Input,
		FinishReason: c.FinishReason,
	}
	if c.ToolCall != nil {
		out.ToolCallID = c.ToolCall.ID
		out.ToolName = c.ToolCall.Function.Name
		out.Arguments = c.ToolCall.Function.Arguments
	}
	if c.Usage != nil {
		u := *c.Usage
		out.Usage = &u
	}
	if c.Error != nil {
		out.Error = c.Error.Message
	}
	return out
}

// Mergeable reports whether chunks of type t may collapse into their predecessor.
func Mergeable(t chunk.Type) bool {
	return t == chunk.TypeContent || t == chunk.TypeThinking
}

// Merge returns existing with incoming folded in. When incoming is a content
// or thinking chunk and the last entry has the same type and message id, the
// last entry takes the incoming cumulative content and delta and adds its
// count. Otherwise incoming is appended. existing is never modified.
func Merge(existing []Chunk, incoming Chunk) []Chunk {
	if incoming.ChunkCount <= 0 {
		incoming.ChunkCount = 1
	}

	out := make([]Chunk, len(existing), len(existing)+1)
	copy(out, existing)

	if n := len(out); n > 0 && Mergeable(incoming.Type) {
		last := out[n-1]
		if last.Type == incoming.Type && last.MessageID == incoming.MessageID {
			if incoming.Content != "" {
				last.Content = incoming.Content
			}
			last.Delta = incoming.Delta
			last.ChunkCount += incoming.ChunkCount
			out[n-1] = last
			return out
		}
	}

	return append(out, incoming)
}

// MergeAll folds each incoming chunk into existing in order.
func MergeAll(existing []Chunk, incoming []Chunk) []Chunk {
	out := existing
	for _, c := range incoming {
		out = Merge(out, c)
	}
	if out == nil {
		return []Chunk{}
	}
	return out
}

// TotalCount sums ChunkCount over chunks.
func TotalCount(chunks []Chunk) int {
	n := 0
	for _, c := range chunks {
		n += c.ChunkCount
	}
	return n
}
