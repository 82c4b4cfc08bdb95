// ABOUTME: Tests for chunk consolidation
// ABOUTME: Covers idempotent text merging, batched versus incremental folding, type boundaries, and purity of Merge

package merge

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/agentloop/internal/chunk"
)

func textChunk(t chunk.Type, msgID, content string) Chunk {
	return Chunk{Type: t, MessageID: msgID, Content: content, Delta: content[len(content)-1:], ChunkCount: 1}
}

func TestMerge_ContentCollapsesToLatest(t *testing.T) {
	var history []Chunk
	text := "Hello, world"
	for i := 1; i <= len(text); i++ {
		history = Merge(history, textChunk(chunk.TypeContent, "m1", text[:i]))
	}

	require.Len(t, history, 1)
	assert.Equal(t, text, history[0].Content)
	assert.Equal(t, "d", history[0].Delta)
	assert.Equal(t, len(text), history[0].ChunkCount)
}

func TestMerge_DifferentMessageAppends(t *testing.T) {
	history := Merge(nil, textChunk(chunk.TypeContent, "m1", "a"))
	history = Merge(history, textChunk(chunk.TypeContent, "m2", "b"))

	require.Len(t, history, 2)
	assert.Equal(t, "m2", history[1].MessageID)
}

func TestMerge_TypeBoundaryAppends(t *testing.T) {
	history := Merge(nil, textChunk(chunk.TypeThinking, "m1", "hmm"))
	history = Merge(history, textChunk(chunk.TypeContent, "m1", "ok"))
	history = Merge(history, textChunk(chunk.TypeContent, "m1", "okay"))

	require.Len(t, history, 2)
	assert.Equal(t, chunk.TypeThinking, history[0].Type)
	assert.Equal(t, "okay", history[1].Content)
	assert.Equal(t, 2, history[1].ChunkCount)
}

func TestMerge_NonTextNeverMerges(t *testing.T) {
	tc := Chunk{Type: chunk.TypeToolCall, MessageID: "m1", ToolCallID: "call_1"}
	history := Merge(nil, tc)
	history = Merge(history, tc)

	assert.Len(t, history, 2)
	assert.Equal(t, 2, TotalCount(history))
}

func TestMerge_EmptyIncomingContentKeepsPrevious(t *testing.T) {
	history := Merge(nil, textChunk(chunk.TypeContent, "m1", "abc"))
	history = Merge(history, Chunk{Type: chunk.TypeContent, MessageID: "m1", ChunkCount: 1})

	require.Len(t, history, 1)
	assert.Equal(t, "abc", history[0].Content)
	assert.Equal(t, 2, history[0].ChunkCount)
}

func TestMerge_DoesNotMutateInput(t *testing.T) {
	original := []Chunk{textChunk(chunk.TypeContent, "m1", "a")}
	_ = Merge(original, textChunk(chunk.TypeContent, "m1", "ab"))

	assert.Equal(t, "a", original[0].Content)
	assert.Equal(t, 1, original[0].ChunkCount)
}

func TestMergeAll_PreMergedBatchAddsCounts(t *testing.T) {
	durable := []Chunk{{Type: chunk.TypeContent, MessageID: "m1", Content: "ab", ChunkCount: 2}}

	var pending []Chunk
	for i := range 3 {
		pending = Merge(pending, Chunk{Type: chunk.TypeContent, MessageID: "m1", Content: fmt.Sprintf("ab%d", i)})
	}
	require.Len(t, pending, 1)

	out := MergeAll(durable, pending)
	require.Len(t, out, 1)
	assert.Equal(t, "ab2", out[0].Content)
	assert.Equal(t, 5, out[0].ChunkCount)
}

func mergeEach(history []Chunk, incoming []Chunk) []Chunk {
	for _, c := range incoming {
		history = Merge(history, c)
	}
	return history
}

func TestMergeAll_BatchedEqualsIncremental(t *testing.T) {
	call := func(msgID, id string) Chunk {
		return Chunk{Type: chunk.TypeToolCall, MessageID: msgID, ToolCallID: id, ChunkCount: 1}
	}
	tests := []struct {
		name string
		seq  []Chunk
	}{
		{
			name: "thinking then content then tool call",
			seq: []Chunk{
				textChunk(chunk.TypeThinking, "m1", "h"),
				textChunk(chunk.TypeThinking, "m1", "hm"),
				textChunk(chunk.TypeContent, "m1", "o"),
				textChunk(chunk.TypeContent, "m1", "ok"),
				call("m1", "call_1"),
				call("m1", "call_1"),
				textChunk(chunk.TypeContent, "m1", "k"),
			},
		},
		{
			name: "message boundaries",
			seq: []Chunk{
				textChunk(chunk.TypeContent, "m1", "a"),
				textChunk(chunk.TypeContent, "m2", "b"),
				textChunk(chunk.TypeContent, "m2", "bc"),
				textChunk(chunk.TypeThinking, "m2", "x"),
				textChunk(chunk.TypeContent, "m1", "ad"),
				{Type: chunk.TypeContent, MessageID: "m1", ChunkCount: 1},
			},
		},
		{
			name: "non text only",
			seq: []Chunk{
				call("m1", "call_1"),
				{Type: chunk.TypeDone, MessageID: "m1", ChunkCount: 1},
				{Type: chunk.TypeError, MessageID: "m1", Error: "boom", ChunkCount: 1},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			whole := mergeEach(nil, tt.seq)
			for split := range len(tt.seq) + 1 {
				durable := mergeEach(nil, tt.seq[:split])
				pending := mergeEach(nil, tt.seq[split:])

				incremental := mergeEach(durable, tt.seq[split:])
				batched := MergeAll(durable, pending)

				assert.Equal(t, whole, incremental, "split %d", split)
				assert.Equal(t, whole, batched, "split %d", split)
				assert.Equal(t, len(tt.seq), TotalCount(batched), "split %d", split)
			}
		})
	}
}

func TestMergeAll_EmptyReturnsEmptySlice(t *testing.T) {
	out := MergeAll(nil, nil)
	assert.NotNil(t, out)
	assert.Empty(t, out)
}

func TestFromStream_ToolCall(t *testing.T) {
	sc := &chunk.StreamChunk{
		Type:  chunk.TypeToolCall,
		Index: 2,
		ToolCall: &chunk.ToolCallDelta{
			ID:       "call_9",
			Function: chunk.FunctionDelta{Name: "getGuitars", Arguments: "{}"},
		},
	}
	c := FromStream(sc)
	assert.Equal(t, "call_9", c.ToolCallID)
	assert.Equal(t, "getGuitars", c.ToolName)
	assert.Equal(t, 2, c.Index)
	assert.Equal(t, 1, c.ChunkCount)
}
