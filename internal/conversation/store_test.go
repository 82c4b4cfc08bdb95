// ABOUTME: Tests for event ingestion, batching, correlation fallbacks and usage accounting
// ABOUTME: Uses a manual scheduler so flush timing is deterministic

package conversation

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/agentloop/internal/chunk"
	"github.com/2389/agentloop/internal/correlate"
	"github.com/2389/agentloop/internal/events"
	"github.com/2389/agentloop/internal/merge"
)

type manualScheduler struct {
	mu     sync.Mutex
	queued []func()
}

func (m *manualScheduler) schedule(f func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queued = append(m.queued, f)
}

func (m *manualScheduler) pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queued)
}

func (m *manualScheduler) run() {
	m.mu.Lock()
	queued := m.queued
	m.queued = nil
	m.mu.Unlock()
	for _, f := range queued {
		f()
	}
}

type fixture struct {
	t     *testing.T
	store *Store
	sched *manualScheduler
	ms    int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	sched := &manualScheduler{}
	s := New(WithScheduler(sched.schedule))
	t.Cleanup(s.Close)
	return &fixture{t: t, store: s, sched: sched, ms: 1_767_225_600_000}
}

func (f *fixture) meta(stream, request, client, message string) events.Meta {
	f.ms += 10
	return events.Meta{
		StreamID:  stream,
		RequestID: request,
		ClientID:  client,
		MessageID: message,
		Timestamp: f.ms,
	}
}

func (f *fixture) handle(evs ...events.Event) {
	f.t.Helper()
	for _, ev := range evs {
		require.NoError(f.t, f.store.Handle(ev))
	}
}

func (f *fixture) conv(id string) Conversation {
	f.t.Helper()
	c, ok := f.store.Conversation(id)
	require.True(f.t, ok, "conversation %q not found", id)
	return c
}

func (f *fixture) startServerChat(stream, request, model string) {
	f.handle(events.ChatStarted{
		Meta:     f.meta(stream, request, "", ""),
		Provider: "openai",
		Model:    model,
	})
}

func TestStore_ChatStartedCreatesServerConversation(t *testing.T) {
	f := newFixture(t)
	f.handle(events.ChatStarted{
		Meta:      f.meta("s1", "r1", "", ""),
		Provider:  "openai",
		Model:     "gpt-4o",
		ToolNames: []string{"getGuitars"},
	})

	conv := f.conv("server-gpt-4o")
	assert.Equal(t, correlate.KindServer, conv.Kind)
	assert.Equal(t, "gpt-4o Server", conv.Label)
	assert.Equal(t, "openai", conv.Provider)
	assert.Equal(t, StatusActive, conv.Status)
	assert.Equal(t, []string{"getGuitars"}, conv.ToolNames)
	assert.True(t, conv.HasChat)
	assert.Equal(t, "server-gpt-4o", f.store.Active())
}

func TestStore_BurstYieldsSingleFlush_ClientMessage(t *testing.T) {
	f := newFixture(t)
	f.handle(
		events.ClientCreated{Meta: f.meta("", "", "c1", "")},
		events.ClientMessageSent{Meta: f.meta("", "", "c1", "u1"), Content: "hi"},
		events.ChatStarted{Meta: f.meta("s1", "r1", "c1", ""), Model: "gpt"},
	)
	f.sched.run()
	before := f.store.Stats().Flushes

	updates := f.store.Watch(t.Context())

	content := ""
	for i := range 50 {
		delta := fmt.Sprintf("t%d ", i)
		content += delta
		f.handle(events.ChunkContent{Meta: f.meta("s1", "", "", "m1"), Content: content, Delta: delta})
	}

	assert.Equal(t, 1, f.sched.pending())
	f.sched.run()
	assert.Equal(t, before+1, f.store.Stats().Flushes)

	select {
	case u := <-updates:
		assert.True(t, u.Touches("c1"))
	case <-time.After(time.Second):
		t.Fatal("no update after flush")
	}
	assert.Empty(t, updates)

	conv := f.conv("c1")
	require.Len(t, conv.Messages, 2)
	msg := conv.Messages[1]
	assert.Equal(t, "m1", msg.ID)
	assert.Equal(t, chunk.RoleAssistant, msg.Role)
	require.Len(t, msg.Chunks, 1)
	assert.Equal(t, 50, msg.Chunks[0].ChunkCount)
	assert.Equal(t, content, msg.Chunks[0].Content)
	assert.Equal(t, "t49 ", msg.Chunks[0].Delta)
	assert.Equal(t, 50, msg.TotalChunkCount)
	assert.Equal(t, 50, merge.TotalCount(msg.Chunks))
}

func TestStore_FirstClientChunkWaitsForFlush(t *testing.T) {
	f := newFixture(t)
	f.handle(
		events.ClientCreated{Meta: f.meta("", "", "c1", "")},
		events.ChatStarted{Meta: f.meta("s1", "r1", "c1", ""), Model: "gpt"},
		events.ChunkContent{Meta: f.meta("s1", "", "", "m1"), Content: "Hi", Delta: "Hi"},
	)

	conv := f.conv("c1")
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, "m1", conv.Messages[0].ID)
	assert.Equal(t, "gpt", conv.Messages[0].Model)
	assert.Empty(t, conv.Messages[0].Chunks, "chunks land only on flush")
	assert.Zero(t, conv.Messages[0].TotalChunkCount)
	assert.Equal(t, 1, f.sched.pending())

	f.sched.run()
	msg := f.conv("c1").Messages[0]
	require.Len(t, msg.Chunks, 1)
	assert.Equal(t, "Hi", msg.Chunks[0].Content)
	assert.Equal(t, 1, msg.TotalChunkCount)
}

func TestStore_BurstYieldsSingleFlush_ServerConversation(t *testing.T) {
	f := newFixture(t)
	f.startServerChat("s1", "r1", "gpt")
	f.sched.run()

	for i := range 50 {
		f.handle(events.ChunkContent{Meta: f.meta("s1", "", "", "m1"), Content: fmt.Sprint(i), Delta: "x"})
	}
	assert.Equal(t, 1, f.sched.pending())
	f.sched.run()

	conv := f.conv("server-gpt")
	require.Len(t, conv.Chunks, 1)
	assert.Equal(t, 50, conv.Chunks[0].ChunkCount)
	assert.Equal(t, "49", conv.Chunks[0].Content)
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, "m1", conv.Messages[0].ID)
	assert.Empty(t, conv.Messages[0].Content)
}

func TestStore_FlushWithoutChangesIsNotCounted(t *testing.T) {
	f := newFixture(t)
	f.startServerChat("s1", "r1", "gpt")
	f.store.Flush()
	flushes := f.store.Stats().Flushes

	// The scheduled flush finds nothing left to apply.
	f.sched.run()
	assert.Equal(t, flushes, f.store.Stats().Flushes)
}

func TestStore_ToolCallFragmentsAccumulate(t *testing.T) {
	f := newFixture(t)
	f.startServerChat("s1", "r1", "gpt")
	f.handle(
		events.ChunkToolCall{Meta: f.meta("s1", "", "", "m1"), ToolCallID: "call-a", ToolName: "getGuitars", Index: 0},
		events.ChunkToolCall{Meta: f.meta("s1", "", "", "m1"), ToolCallID: "call-a", Index: 0, Arguments: `{"brand":`},
		events.ChunkToolCall{Meta: f.meta("s1", "", "", "m1"), ToolCallID: "call-b", ToolName: "getWeather", Index: 1, Arguments: `{}`},
		events.ChunkToolCall{Meta: f.meta("s1", "", "", "m1"), ToolCallID: "call-a", Index: 0, Arguments: `"Fender"}`},
	)

	calls := f.conv("server-gpt").Messages[0].ToolCalls
	require.Len(t, calls, 2)
	assert.Equal(t, "call-a", calls[0].ID)
	assert.Equal(t, "getGuitars", calls[0].Name)
	assert.Equal(t, `{"brand":"Fender"}`, calls[0].Arguments)
	assert.Equal(t, StateInputStreaming, calls[0].State)
	assert.Equal(t, "call-b", calls[1].ID)

	f.handle(events.ChunkDone{Meta: f.meta("s1", "", "", "m1"), FinishReason: chunk.FinishToolCalls})
	for _, tc := range f.conv("server-gpt").Messages[0].ToolCalls {
		assert.Equal(t, StateInputComplete, tc.State)
	}
}

func TestStore_ToolResultCompletesCall(t *testing.T) {
	f := newFixture(t)
	f.startServerChat("s1", "r1", "gpt")
	f.handle(
		events.ChunkToolCall{Meta: f.meta("s1", "", "", "m1"), ToolCallID: "call-a", ToolName: "getGuitars", Arguments: "{}"},
		events.ChunkDone{Meta: f.meta("s1", "", "", "m1"), FinishReason: chunk.FinishToolCalls},
		events.ToolCallCompleted{
			Meta:       f.meta("s1", "r1", "", ""),
			ToolCallID: "call-a",
			ToolName:   "getGuitars",
			Result:     `["Strat"]`,
			DurationMS: 12,
		},
	)

	tc := f.conv("server-gpt").Messages[0].ToolCalls[0]
	assert.Equal(t, StateComplete, tc.State)
	require.NotNil(t, tc.Result)
	assert.Equal(t, `["Strat"]`, *tc.Result)
	assert.Equal(t, 12*time.Millisecond, tc.Duration)

	// Last write wins on a terminal call.
	f.handle(events.ChunkToolResult{Meta: f.meta("s1", "", "", "m1"), ToolCallID: "call-a", Result: "again"})
	calls := f.conv("server-gpt").Messages[0].ToolCalls
	require.Len(t, calls, 1)
	assert.Equal(t, "again", *calls[0].Result)
}

func TestStore_ApprovalDenied(t *testing.T) {
	f := newFixture(t)
	f.startServerChat("s1", "r1", "gpt")
	f.handle(
		events.ChunkToolCall{Meta: f.meta("s1", "", "", "m1"), ToolCallID: "call-x", ToolName: "deleteAll", Arguments: "{}"},
		events.ChunkDone{Meta: f.meta("s1", "", "", "m1"), FinishReason: chunk.FinishToolCalls},
		events.ApprovalRequested{Meta: f.meta("s1", "", "", "m1"), ToolCallID: "call-x", ToolName: "deleteAll", ApprovalID: "ap-1"},
	)

	tc := f.conv("server-gpt").Messages[0].ToolCalls[0]
	assert.Equal(t, StateApprovalRequested, tc.State)
	assert.True(t, tc.ApprovalRequired)
	assert.Equal(t, "ap-1", tc.ApprovalID)

	// No result while the approval is pending.
	f.handle(events.ChunkToolResult{Meta: f.meta("s1", "", "", "m1"), ToolCallID: "call-x", Result: "gone"})
	tc = f.conv("server-gpt").Messages[0].ToolCalls[0]
	assert.Equal(t, StateApprovalRequested, tc.State)
	assert.Nil(t, tc.Result)

	f.handle(events.ApprovalResponded{Meta: f.meta("s1", "", "", ""), ApprovalID: "ap-1", ToolCallID: "call-x", Approved: false})
	tc = f.conv("server-gpt").Messages[0].ToolCalls[0]
	assert.Equal(t, StateDenied, tc.State)
	assert.False(t, tc.ApprovalRequired)
	assert.Nil(t, tc.Result)

	f.handle(events.ToolCallCompleted{Meta: f.meta("s1", "", "", ""), ToolCallID: "call-x", Result: "gone"})
	tc = f.conv("server-gpt").Messages[0].ToolCalls[0]
	assert.Equal(t, StateDenied, tc.State)
	assert.Nil(t, tc.Result)
}

func TestStore_ApprovalApproved(t *testing.T) {
	f := newFixture(t)
	f.startServerChat("s1", "r1", "gpt")
	f.handle(
		events.ApprovalRequested{Meta: f.meta("s1", "", "", "m1"), ToolCallID: "call-x", ToolName: "deleteAll", Input: []byte(`{"all":true}`), ApprovalID: "ap-1"},
		events.ApprovalResponded{Meta: f.meta("s1", "", "", ""), ApprovalID: "ap-1", ToolCallID: "call-x", Approved: true},
	)

	tc := f.conv("server-gpt").Messages[0].ToolCalls[0]
	assert.Equal(t, StateApprovalResponded, tc.State)
	assert.Equal(t, `{"all":true}`, tc.Arguments)
	assert.False(t, tc.ApprovalRequired)

	f.handle(events.ToolCallCompleted{Meta: f.meta("s1", "", "", ""), ToolCallID: "call-x", Result: "done", DurationMS: 5})
	tc = f.conv("server-gpt").Messages[0].ToolCalls[0]
	assert.Equal(t, StateComplete, tc.State)
	assert.Equal(t, "done", *tc.Result)
}

func TestStore_UsageDeltasSumToCumulative(t *testing.T) {
	f := newFixture(t)
	f.handle(
		events.ClientCreated{Meta: f.meta("", "", "c1", "")},
		events.ChatStarted{Meta: f.meta("s1", "r1", "c1", ""), Model: "gpt"},
	)
	cumulative := []chunk.Usage{
		{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		{PromptTokens: 25, CompletionTokens: 12, TotalTokens: 37},
		{PromptTokens: 40, CompletionTokens: 20, TotalTokens: 60},
	}
	for i, u := range cumulative {
		id := fmt.Sprintf("m%d", i+1)
		f.handle(
			events.ClientMessageSent{Meta: f.meta("", "", "c1", "u"+id), Content: "q"},
			events.ClientAssistantMessageUpdated{Meta: f.meta("", "", "c1", id), Content: "a"},
			events.UsageTokens{Meta: f.meta("", "r1", "", id), Model: "gpt", Usage: u},
		)
	}

	conv := f.conv("c1")
	var sum chunk.Usage
	var deltas []chunk.Usage
	for _, m := range conv.Messages {
		if m.Role == chunk.RoleAssistant {
			require.NotNil(t, m.Usage, "message %s", m.ID)
			deltas = append(deltas, *m.Usage)
			sum = sum.Add(*m.Usage)
		}
	}
	assert.Equal(t, []chunk.Usage{
		{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		{PromptTokens: 15, CompletionTokens: 7, TotalTokens: 22},
		{PromptTokens: 15, CompletionTokens: 8, TotalTokens: 23},
	}, deltas)
	assert.Equal(t, cumulative[2], sum)
	assert.Equal(t, cumulative[2], *conv.Usage)
}

func TestStore_UsageDeltaClampsAtZero(t *testing.T) {
	f := newFixture(t)
	f.handle(
		events.ClientCreated{Meta: f.meta("", "", "c1", "")},
		events.ChatStarted{Meta: f.meta("s1", "r1", "c1", ""), Model: "gpt"},
		events.ClientAssistantMessageUpdated{Meta: f.meta("", "", "c1", "m1"), Content: "a"},
		events.UsageTokens{Meta: f.meta("", "r1", "", "m1"), Usage: chunk.Usage{PromptTokens: 30, CompletionTokens: 10, TotalTokens: 40}},
		events.ClientAssistantMessageUpdated{Meta: f.meta("", "", "c1", "m2"), Content: "b"},
		events.UsageTokens{Meta: f.meta("", "r1", "", "m2"), Usage: chunk.Usage{PromptTokens: 20, CompletionTokens: 15, TotalTokens: 35}},
	)

	m2 := f.conv("c1").Messages[1]
	assert.Equal(t, chunk.Usage{PromptTokens: 0, CompletionTokens: 5, TotalTokens: 5}, *m2.Usage)
}

func TestStore_ChatStartedFallbacks(t *testing.T) {
	f := newFixture(t)
	f.handle(events.ClientCreated{Meta: f.meta("", "", "c1", "")})

	// An active client without a model takes the first chat.
	f.startServerChat("s1", "r1", "gpt")
	assert.Equal(t, "gpt", f.conv("c1").Model)
	_, ok := f.store.Conversation("server-gpt")
	assert.False(t, ok)

	// The client now has a model, so the next chat goes to a server conversation.
	f.startServerChat("s2", "r2", "gpt")
	f.startServerChat("s3", "r3", "gpt")
	assert.Len(t, f.store.Conversations(), 2)

	f.handle(events.ChunkContent{Meta: f.meta("s3", "", "", ""), Content: "hi"})
	f.sched.run()
	assert.Len(t, f.conv("server-gpt").Chunks, 1)
}

func TestStore_ExplicitClientBinding(t *testing.T) {
	f := newFixture(t)
	f.handle(
		events.ClientCreated{Meta: f.meta("", "", "c1", "")},
		events.ClientCreated{Meta: f.meta("", "", "c2", "")},
		events.ChatStarted{Meta: f.meta("s1", "r1", "c1", ""), Model: "gpt"},
		events.ChunkError{Meta: f.meta("s1", "", "", ""), Error: "boom"},
	)

	assert.Equal(t, StatusError, f.conv("c1").Status)
	assert.Equal(t, StatusActive, f.conv("c2").Status)
}

func TestStore_UnresolvedEventsAreDropped(t *testing.T) {
	f := newFixture(t)
	f.handle(
		events.ChunkContent{Meta: f.meta("nowhere", "", "", "m1"), Content: "x"},
		events.ChatCompleted{Meta: f.meta("", "nowhere", "", "")},
		events.ClientStopped{Meta: f.meta("", "", "ghost", "")},
	)

	assert.Empty(t, f.store.Conversations())
	assert.Equal(t, uint64(3), f.store.Stats().Dropped)
	assert.Equal(t, 0, f.sched.pending())
}

func TestStore_HandleRejectsInvalidEvents(t *testing.T) {
	f := newFixture(t)
	err := f.store.Handle(events.ChunkContent{Meta: events.Meta{Timestamp: 1}, Content: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, events.ErrInvalidEvent)

	err = f.store.Handle(nil)
	assert.ErrorIs(t, err, events.ErrInvalidEvent)
}

func TestStore_EmbeddingAndSummarize(t *testing.T) {
	f := newFixture(t)
	f.handle(
		events.EmbeddingStarted{Meta: f.meta("", "r1", "", ""), Model: "embed-small", InputCount: 3},
		events.EmbeddingCompleted{Meta: f.meta("", "r1", "", ""), Model: "embed-small", InputCount: 3, DurationMS: 30},
	)

	conv := f.conv("embedding-r1")
	assert.Equal(t, correlate.KindServer, conv.Kind)
	assert.Equal(t, "embed-small", conv.Model)
	assert.True(t, conv.HasEmbedding)
	require.Len(t, conv.Embeddings, 1)
	assert.Equal(t, OperationCompleted, conv.Embeddings[0].Status)
	assert.Equal(t, 30*time.Millisecond, conv.Embeddings[0].Duration)

	// An active client takes operations that name no client.
	f.handle(
		events.ClientCreated{Meta: f.meta("", "", "c1", "")},
		events.SummarizeStarted{Meta: f.meta("", "r2", "", ""), Model: "sum", InputLength: 500},
		events.SummarizeCompleted{Meta: f.meta("", "r2", "", ""), OutputLength: 80, DurationMS: 7},
	)
	conv = f.conv("c1")
	assert.True(t, conv.HasSummarize)
	require.Len(t, conv.Summaries, 1)
	assert.Equal(t, 80, conv.Summaries[0].OutputLength)
	assert.Equal(t, OperationCompleted, conv.Summaries[0].Status)
}

func TestStore_ClientLifecycle(t *testing.T) {
	f := newFixture(t)
	f.handle(events.ClientCreated{Meta: f.meta("", "", "abcdefgh-1234", "")})

	conv := f.conv("abcdefgh-1234")
	assert.Equal(t, "Client Chat (abcdefgh)", conv.Label)
	assert.Equal(t, "Client", conv.Provider)
	assert.Equal(t, correlate.KindClient, conv.Kind)

	f.handle(
		events.ClientMessageSent{Meta: f.meta("", "", "abcdefgh-1234", "u1"), Content: "hello"},
		events.ClientMessageAppended{Meta: f.meta("", "", "abcdefgh-1234", "u1"), Role: chunk.RoleUser, ContentPreview: "hello"},
		events.ClientMessageAppended{Meta: f.meta("", "", "abcdefgh-1234", "a1"), Role: chunk.RoleAssistant, ContentPreview: "hi there"},
		events.ClientLoadingChanged{Meta: f.meta("", "", "abcdefgh-1234", ""), IsLoading: false},
	)
	conv = f.conv("abcdefgh-1234")
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, "hi there", conv.Messages[1].Content)
	assert.Equal(t, StatusCompleted, conv.Status)
	assert.False(t, conv.CompletedAt.IsZero())

	f.handle(events.ClientReloaded{Meta: f.meta("", "", "abcdefgh-1234", ""), FromMessageIndex: 1})
	conv = f.conv("abcdefgh-1234")
	assert.Len(t, conv.Messages, 1)
	assert.Equal(t, StatusActive, conv.Status)

	f.handle(events.ClientErrorChanged{Meta: f.meta("", "", "abcdefgh-1234", ""), Error: "rate limited"})
	assert.Equal(t, StatusError, f.conv("abcdefgh-1234").Status)

	f.handle(events.ClientMessagesCleared{Meta: f.meta("", "", "abcdefgh-1234", "")})
	conv = f.conv("abcdefgh-1234")
	assert.Empty(t, conv.Messages)
	assert.Empty(t, conv.Chunks)
	assert.Nil(t, conv.Usage)
}

func TestStore_ClientToolCallUpdates(t *testing.T) {
	f := newFixture(t)
	f.handle(
		events.ClientCreated{Meta: f.meta("", "", "c1", "")},
		events.ClientAssistantMessageUpdated{Meta: f.meta("", "", "c1", "a1"), Content: ""},
		events.ClientToolCallUpdated{Meta: f.meta("", "", "c1", "a1"), ToolCallID: "t1", ToolName: "search", State: events.StateInputComplete, Arguments: []byte(`{"q":"x"}`)},
		events.ToolResultAdded{Meta: f.meta("", "", "c1", ""), ToolCallID: "t1", Output: "found", State: events.OutputAvailable},
	)

	msg := f.conv("c1").Messages[0]
	require.Len(t, msg.ToolCalls, 1)
	assert.Equal(t, StateComplete, msg.ToolCalls[0].State)
	assert.Equal(t, `{"q":"x"}`, msg.ToolCalls[0].Arguments)
	assert.Equal(t, "found", *msg.ToolCalls[0].Result)

	f.sched.run()
	msg = f.conv("c1").Messages[0]
	require.Len(t, msg.Chunks, 1)
	assert.Equal(t, chunk.TypeToolResult, msg.Chunks[0].Type)
}

func TestStore_ReloadDiscardsQueuedChunks(t *testing.T) {
	f := newFixture(t)
	f.handle(
		events.ClientCreated{Meta: f.meta("", "", "c1", "")},
		events.ChatStarted{Meta: f.meta("s1", "r1", "c1", ""), Model: "gpt"},
		events.ChunkContent{Meta: f.meta("s1", "", "", "m1"), Content: "a"},
		events.ChunkContent{Meta: f.meta("s1", "", "", "m1"), Content: "ab"},
		events.ClientReloaded{Meta: f.meta("", "", "c1", ""), FromMessageIndex: 0},
	)
	f.sched.run()

	assert.Empty(t, f.conv("c1").Messages)
	assert.Zero(t, f.store.Stats().Dropped)
}

func TestStore_ProcessorTextFallsBackToActiveClient(t *testing.T) {
	f := newFixture(t)
	f.handle(
		events.ClientCreated{Meta: f.meta("", "", "c1", "")},
		events.ProcessorTextUpdated{Meta: f.meta("orphan", "", "", ""), Content: "Hel"},
		events.ProcessorTextUpdated{Meta: f.meta("orphan", "", "", ""), Content: "Hello"},
	)

	conv := f.conv("c1")
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, "Hello", conv.Messages[0].Content)
}

func TestStore_StopAndClear(t *testing.T) {
	f := newFixture(t)
	f.startServerChat("s1", "r1", "gpt")

	err := f.store.Stop("missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, f.store.Stop("server-gpt"))
	assert.Equal(t, StatusCompleted, f.conv("server-gpt").Status)

	f.store.Clear()
	assert.Empty(t, f.store.Conversations())
	assert.Empty(t, f.store.Active())

	f.handle(events.ChunkContent{Meta: f.meta("s1", "", "", ""), Content: "late"})
	assert.Empty(t, f.store.Conversations())
}

func TestStore_ReadsAreCopies(t *testing.T) {
	f := newFixture(t)
	f.handle(
		events.ClientCreated{Meta: f.meta("", "", "c1", "")},
		events.ClientMessageSent{Meta: f.meta("", "", "c1", "u1"), Content: "original"},
	)

	conv := f.conv("c1")
	conv.Messages[0].Content = "mutated"
	conv.Label = "mutated"

	again := f.conv("c1")
	assert.Equal(t, "original", again.Messages[0].Content)
	assert.NotEqual(t, "mutated", again.Label)
}

func TestStore_SelectAndOrdering(t *testing.T) {
	f := newFixture(t)
	f.handle(
		events.ClientCreated{Meta: f.meta("", "", "first", "")},
		events.ClientCreated{Meta: f.meta("", "", "second", "")},
	)
	assert.Equal(t, "first", f.store.Active())

	require.NoError(t, f.store.Select("second"))
	assert.Equal(t, "second", f.store.Active())
	assert.ErrorIs(t, f.store.Select("nope"), ErrNotFound)

	convs := f.store.Conversations()
	require.Len(t, convs, 2)
	assert.Equal(t, "first", convs[0].ID)
	assert.Equal(t, "second", convs[1].ID)
}

func TestStore_AttachToBus(t *testing.T) {
	bus := events.NewBus(nil, 0)
	defer bus.Close()

	sched := &manualScheduler{}
	s := New(WithScheduler(sched.schedule))
	detach := s.Attach(bus)

	require.NoError(t, bus.Publish(events.ChatStarted{
		Meta:  events.Meta{StreamID: "s1", RequestID: "r1", Timestamp: 100},
		Model: "gpt",
	}))
	_, ok := s.Conversation("server-gpt")
	assert.True(t, ok)

	detach()
	require.NoError(t, bus.Publish(events.ChatStarted{
		Meta:  events.Meta{StreamID: "s2", RequestID: "r2", Timestamp: 200},
		Model: "claude",
	}))
	_, ok = s.Conversation("server-claude")
	assert.False(t, ok)
}
