// ABOUTME: Per-topic event handlers that mutate conversation state
// ABOUTME: All handlers run with Store.mu held and only queue chunk appends for the next flush

package conversation

import (
	"time"

	"github.com/2389/agentloop/internal/chunk"
	"github.com/2389/agentloop/internal/correlate"
	"github.com/2389/agentloop/internal/events"
	"github.com/2389/agentloop/internal/merge"
)

func (s *Store) apply(ev events.Event) {
	switch e := ev.(type) {
	case events.StreamStarted:
		s.onStreamStarted(e)
	case events.ChunkContent:
		s.onTextChunk(e, chunk.TypeContent, e.Content, e.Delta)
	case events.ChunkThinking:
		s.onTextChunk(e, chunk.TypeThinking, e.Content, e.Delta)
	case events.ChunkToolCall:
		s.onChunkToolCall(e)
	case events.ChunkToolResult:
		s.onChunkToolResult(e)
	case events.ChunkDone:
		s.onChunkDone(e)
	case events.ChunkError:
		s.onChunkError(e)
	case events.ApprovalRequested:
		s.onApprovalRequested(e)
	case events.StreamEnded:
		if conv, ok := s.byStream(e); ok {
			s.complete(conv, millis(e.Timestamp))
		}
	case events.ToolCallCompleted:
		s.onToolCallCompleted(e)
	case events.ToolResultAdded:
		s.onToolResultAdded(e)
	case events.ApprovalResponded:
		s.onApprovalResponded(e)
	case events.ChatStarted:
		s.onChatStarted(e)
	case events.ChatCompleted:
		if conv, ok := s.byRequest(e); ok {
			s.complete(conv, millis(e.Timestamp))
			if e.Usage != nil {
				s.applyUsage(conv, e.MessageID, *e.Usage)
			}
		}
	case events.ChatIteration:
		if conv, ok := s.byRequest(e); ok {
			conv.IterationCount = e.IterationNumber
			s.touch(conv.ID)
		}
	case events.UsageTokens:
		if conv, ok := s.byRequest(e); ok {
			s.applyUsage(conv, e.MessageID, e.Usage)
		}
	case events.EmbeddingStarted:
		s.onEmbeddingStarted(e)
	case events.EmbeddingCompleted:
		s.onEmbeddingCompleted(e)
	case events.SummarizeStarted:
		s.onSummarizeStarted(e)
	case events.SummarizeCompleted:
		s.onSummarizeCompleted(e)
	case events.ClientCreated:
		conv := s.getOrCreate(e.ClientID, correlate.KindClient, clientLabel(e.ClientID), millis(e.Timestamp))
		conv.Provider = "Client"
	case events.ClientMessageSent:
		s.onClientMessageSent(e)
	case events.ClientMessageAppended:
		s.onClientMessageAppended(e)
	case events.ClientLoadingChanged:
		if conv, ok := s.byClient(e); ok {
			if e.IsLoading {
				conv.Status = StatusActive
				conv.CompletedAt = time.Time{}
				s.touch(conv.ID)
			} else {
				s.complete(conv, millis(e.Timestamp))
			}
		}
	case events.ClientStopped:
		if conv, ok := s.byClient(e); ok {
			s.complete(conv, millis(e.Timestamp))
		}
	case events.ClientMessagesCleared:
		if conv, ok := s.byClient(e); ok {
			conv.Messages = []Message{}
			conv.Chunks = []merge.Chunk{}
			conv.Usage = nil
			delete(s.pendingConv, conv.ID)
			s.dropPendingFrom(conv.ID, 0)
			s.touch(conv.ID)
		}
	case events.ClientReloaded:
		if conv, ok := s.byClient(e); ok {
			from := min(e.FromMessageIndex, len(conv.Messages))
			conv.Messages = conv.Messages[:from:from]
			s.dropPendingFrom(conv.ID, from)
			conv.Status = StatusActive
			conv.CompletedAt = time.Time{}
			s.touch(conv.ID)
		}
	case events.ClientErrorChanged:
		if conv, ok := s.byClient(e); ok && e.Error != "" {
			conv.Status = StatusError
			s.touch(conv.ID)
		}
	case events.ClientAssistantMessageUpdated:
		s.onClientAssistantUpdated(e)
	case events.ClientToolCallUpdated:
		s.onClientToolCallUpdated(e)
	case events.ClientApprovalRequested:
		if conv, ok := s.byClient(e); ok {
			s.requestApproval(conv, e.MessageID, e.ToolCallID, e.ToolName, string(e.Input), e.ApprovalID, millis(e.Timestamp))
		}
	case events.ProcessorTextUpdated:
		s.onProcessorText(e)
	case events.ProcessorToolCallStateChanged:
		s.onProcessorToolCall(e)
	case events.ProcessorToolResultStateChanged:
		s.onProcessorToolResult(e)
	default:
		s.drop(ev, "unhandled topic")
	}
}

// ===== resolution =====

func (s *Store) byStream(ev events.Event) (*Conversation, bool) {
	h := ev.Header()
	if id, ok := s.correlator.ResolveStream(h.StreamID); ok {
		if conv, ok := s.conversations[id]; ok {
			return conv, true
		}
	}
	s.drop(ev, "unbound stream")
	return nil, false
}

func (s *Store) byRequest(ev events.Event) (*Conversation, bool) {
	h := ev.Header()
	if id, ok := s.correlator.Resolve(h.StreamID, h.RequestID); ok {
		if conv, ok := s.conversations[id]; ok {
			return conv, true
		}
	}
	s.drop(ev, "unbound request")
	return nil, false
}

func (s *Store) byClient(ev events.Event) (*Conversation, bool) {
	if conv, ok := s.conversations[ev.Header().ClientID]; ok {
		return conv, true
	}
	s.drop(ev, "unknown client")
	return nil, false
}

// byStreamOrOrphan resolves a stream, falling back to the policy's choice
// for streams that were never bound. A fallback choice is bound for reuse.
func (s *Store) byStreamOrOrphan(ev events.Event) (*Conversation, bool) {
	h := ev.Header()
	if id, ok := s.correlator.ResolveStream(h.StreamID); ok {
		if conv, ok := s.conversations[id]; ok {
			return conv, true
		}
	}
	if id, ok := s.policy.ForOrphanStream(s.candidates()); ok {
		s.correlator.BindStream(h.StreamID, id)
		return s.conversations[id], true
	}
	s.drop(ev, "unbound stream")
	return nil, false
}

// ===== stream events =====

func (s *Store) onStreamStarted(e events.StreamStarted) {
	var conv *Conversation
	if c, ok := s.conversations[e.ClientID]; ok {
		s.correlator.BindStream(e.StreamID, c.ID)
		conv = c
	} else if c, ok := s.byStream(e); ok {
		conv = c
	} else {
		return
	}
	if conv.Model == "" {
		conv.Model = e.Model
	}
	if conv.Provider == "" {
		conv.Provider = e.Provider
	}
	s.touch(conv.ID)
}

func (s *Store) onTextChunk(ev events.Event, typ chunk.Type, content, delta string) {
	conv, ok := s.byStream(ev)
	if !ok {
		return
	}
	h := ev.Header()
	at := millis(h.Timestamp)
	s.addChunk(conv, merge.Chunk{
		Type:       typ,
		ID:         chunk.NewID(),
		MessageID:  h.MessageID,
		Timestamp:  h.Timestamp,
		Content:    content,
		Delta:      delta,
		ChunkCount: 1,
	}, at)

	if typ == chunk.TypeThinking {
		if i := conv.findMessage(h.MessageID); i >= 0 {
			conv.Messages[i].ThinkingContent = content
			s.touch(conv.ID)
		}
	}
}

func (s *Store) onChunkToolCall(e events.ChunkToolCall) {
	conv, ok := s.byStream(e)
	if !ok {
		return
	}
	at := millis(e.Timestamp)
	s.addChunk(conv, merge.Chunk{
		Type:       chunk.TypeToolCall,
		ID:         chunk.NewID(),
		MessageID:  e.MessageID,
		Timestamp:  e.Timestamp,
		ChunkCount: 1,
		ToolCallID: e.ToolCallID,
		ToolName:   e.ToolName,
		Arguments:  e.Arguments,
		Index:      e.Index,
	}, at)

	state := StateInputStreaming
	if e.Arguments == "" {
		state = StateAwaitingInput
	}
	i := s.toolCallMessage(conv, e.MessageID, at)
	s.upsertToolCall(conv, i, ToolCall{
		ID:        e.ToolCallID,
		Name:      e.ToolName,
		Arguments: e.Arguments,
		State:     state,
		Index:     e.Index,
	}, true)
}

func (s *Store) onChunkToolResult(e events.ChunkToolResult) {
	conv, ok := s.byStream(e)
	if !ok {
		return
	}
	s.addChunk(conv, merge.Chunk{
		Type:       chunk.TypeToolResult,
		ID:         chunk.NewID(),
		MessageID:  e.MessageID,
		Timestamp:  e.Timestamp,
		ChunkCount: 1,
		ToolCallID: e.ToolCallID,
		Result:     e.Result,
	}, millis(e.Timestamp))

	if mi, ci, ok := conv.findToolCall(e.ToolCallID); ok {
		if applyResult(&conv.Messages[mi].ToolCalls[ci], e.Result, StateComplete) {
			s.touch(conv.ID)
		}
	}
}

func (s *Store) onChunkDone(e events.ChunkDone) {
	conv, ok := s.byStream(e)
	if !ok {
		return
	}
	at := millis(e.Timestamp)
	s.addChunk(conv, merge.Chunk{
		Type:         chunk.TypeDone,
		ID:           chunk.NewID(),
		MessageID:    e.MessageID,
		Timestamp:    e.Timestamp,
		ChunkCount:   1,
		FinishReason: e.FinishReason,
		Usage:        cloneUsage(e.Usage),
	}, at)

	if e.Usage != nil {
		s.applyUsage(conv, e.MessageID, *e.Usage)
	}
	if e.FinishReason == chunk.FinishToolCalls {
		i := conv.findMessage(e.MessageID)
		if i < 0 {
			i = conv.lastAssistant()
		}
		if i >= 0 {
			for j := range conv.Messages[i].ToolCalls {
				tc := &conv.Messages[i].ToolCalls[j]
				tc.State, _ = advance(tc.State, StateInputComplete)
			}
		}
	}
	s.complete(conv, at)
}

func (s *Store) onChunkError(e events.ChunkError) {
	conv, ok := s.byStream(e)
	if !ok {
		return
	}
	at := millis(e.Timestamp)
	s.addChunk(conv, merge.Chunk{
		Type:       chunk.TypeError,
		ID:         chunk.NewID(),
		MessageID:  e.MessageID,
		Timestamp:  e.Timestamp,
		ChunkCount: 1,
		Error:      e.Error,
	}, at)
	conv.Status = StatusError
	conv.CompletedAt = at
	s.touch(conv.ID)
}

func (s *Store) onApprovalRequested(e events.ApprovalRequested) {
	conv, ok := s.byStream(e)
	if !ok {
		return
	}
	at := millis(e.Timestamp)
	s.addChunk(conv, merge.Chunk{
		Type:       chunk.TypeApproval,
		ID:         chunk.NewID(),
		MessageID:  e.MessageID,
		Timestamp:  e.Timestamp,
		ChunkCount: 1,
		ToolCallID: e.ToolCallID,
		ToolName:   e.ToolName,
		ApprovalID: e.ApprovalID,
		Input:      e.Input,
	}, at)
	s.requestApproval(conv, e.MessageID, e.ToolCallID, e.ToolName, string(e.Input), e.ApprovalID, at)
}

// ===== tool events =====

func (s *Store) onToolCallCompleted(e events.ToolCallCompleted) {
	conv, ok := s.byRequest(e)
	if !ok {
		return
	}
	c := merge.Chunk{
		Type:       chunk.TypeToolResult,
		ID:         chunk.NewID(),
		MessageID:  e.MessageID,
		Timestamp:  e.Timestamp,
		ChunkCount: 1,
		ToolCallID: e.ToolCallID,
		ToolName:   e.ToolName,
		Result:     e.Result,
	}
	switch i := conv.findMessage(e.MessageID); {
	case conv.Kind == correlate.KindClient && i >= 0:
		s.queueMessageChunk(conv, i, c)
	case conv.lastAssistant() >= 0:
		s.queueMessageChunk(conv, conv.lastAssistant(), c)
	default:
		s.queueConversationChunk(conv, c)
	}

	if mi, ci, ok := conv.findToolCall(e.ToolCallID); ok {
		tc := &conv.Messages[mi].ToolCalls[ci]
		if applyResult(tc, e.Result, StateComplete) {
			tc.Duration = time.Duration(e.DurationMS) * time.Millisecond
			s.touch(conv.ID)
		}
	}
}

func (s *Store) onToolResultAdded(e events.ToolResultAdded) {
	conv, ok := s.byClient(e)
	if !ok {
		return
	}
	mi, ci, ok := conv.findToolCall(e.ToolCallID)
	if !ok {
		s.drop(e, "unknown tool call")
		return
	}
	state := StateComplete
	if e.State == events.OutputError {
		state = StateError
	}
	tc := &conv.Messages[mi].ToolCalls[ci]
	if !applyResult(tc, e.Output, state) {
		return
	}
	s.touch(conv.ID)
	s.queueMessageChunk(conv, mi, merge.Chunk{
		Type:       chunk.TypeToolResult,
		ID:         chunk.NewID(),
		MessageID:  conv.Messages[mi].ID,
		Timestamp:  e.Timestamp,
		ChunkCount: 1,
		ToolCallID: e.ToolCallID,
		ToolName:   tc.Name,
		Result:     e.Output,
	})
}

func (s *Store) onApprovalResponded(e events.ApprovalResponded) {
	conv, ok := s.conversations[e.ClientID]
	if !ok {
		if conv, ok = s.byStream(e); !ok {
			return
		}
	}
	mi, ci, ok := conv.findToolCall(e.ToolCallID)
	if !ok {
		s.drop(e, "unknown tool call")
		return
	}
	tc := &conv.Messages[mi].ToolCalls[ci]
	next := StateApprovalResponded
	if !e.Approved {
		next = StateDenied
	}
	st, ok := advance(tc.State, next)
	if !ok {
		s.logger.Debug("approval response ignored",
			"conversation_id", conv.ID,
			"tool_call_id", tc.ID,
			"state", tc.State)
		return
	}
	tc.State = st
	tc.ApprovalRequired = false
	if st == StateDenied {
		tc.Result = nil
	}
	s.touch(conv.ID)
}

// ===== chat events =====

func (s *Store) onChatStarted(e events.ChatStarted) {
	at := millis(e.Timestamp)
	conv, ok := s.conversations[e.ClientID]
	if !ok {
		choice := s.policy.ForChat(s.candidates(), e.Model)
		conv = s.getOrCreate(choice.ID, choice.Kind, e.Model+" Server", at)
	}
	s.correlator.Bind(e.StreamID, e.RequestID, conv.ID)

	conv.Status = StatusActive
	conv.CompletedAt = time.Time{}
	conv.Model = e.Model
	if e.Provider != "" {
		conv.Provider = e.Provider
	}
	if len(e.ToolNames) > 0 {
		conv.ToolNames = append([]string(nil), e.ToolNames...)
	}
	conv.HasChat = true
	s.touch(conv.ID)

	s.logger.Debug("chat bound",
		"conversation_id", conv.ID,
		"stream_id", e.StreamID,
		"request_id", e.RequestID,
		"model", e.Model)
}

// ===== embedding / summarize =====

// operationConversation picks the conversation an operation start belongs to
// and binds the request id to it.
func (s *Store) operationConversation(h events.Meta, prefix, label, model string) *Conversation {
	conv, ok := s.conversations[h.ClientID]
	if !ok {
		choice := s.policy.ForOperation(s.candidates(), prefix, h.RequestID)
		conv = s.getOrCreate(choice.ID, choice.Kind, label, millis(h.Timestamp))
		if choice.Create {
			conv.Model = model
		}
	}
	s.correlator.BindRequest(h.RequestID, conv.ID)
	s.touch(conv.ID)
	return conv
}

func (s *Store) onEmbeddingStarted(e events.EmbeddingStarted) {
	conv := s.operationConversation(e.Meta, "embedding", "Embedding ("+e.Model+")", e.Model)
	conv.HasEmbedding = true
	conv.Embeddings = append(conv.Embeddings, EmbeddingOperation{
		ID:         e.RequestID,
		Model:      e.Model,
		InputCount: e.InputCount,
		Timestamp:  millis(e.Timestamp),
		Status:     OperationStarted,
	})
}

func (s *Store) onEmbeddingCompleted(e events.EmbeddingCompleted) {
	conv, ok := s.byRequest(e)
	if !ok {
		return
	}
	for i := len(conv.Embeddings) - 1; i >= 0; i-- {
		if op := &conv.Embeddings[i]; op.ID == e.RequestID {
			op.Duration = time.Duration(e.DurationMS) * time.Millisecond
			op.Status = OperationCompleted
			s.touch(conv.ID)
			return
		}
	}
	s.drop(e, "unknown operation")
}

func (s *Store) onSummarizeStarted(e events.SummarizeStarted) {
	conv := s.operationConversation(e.Meta, "summarize", "Summarize ("+e.Model+")", e.Model)
	conv.HasSummarize = true
	conv.Summaries = append(conv.Summaries, SummarizeOperation{
		ID:          e.RequestID,
		Model:       e.Model,
		InputLength: e.InputLength,
		Timestamp:   millis(e.Timestamp),
		Status:      OperationStarted,
	})
}

func (s *Store) onSummarizeCompleted(e events.SummarizeCompleted) {
	conv, ok := s.byRequest(e)
	if !ok {
		return
	}
	for i := len(conv.Summaries) - 1; i >= 0; i-- {
		if op := &conv.Summaries[i]; op.ID == e.RequestID {
			op.Duration = time.Duration(e.DurationMS) * time.Millisecond
			op.OutputLength = e.OutputLength
			op.Status = OperationCompleted
			s.touch(conv.ID)
			return
		}
	}
	s.drop(e, "unknown operation")
}

// ===== client events =====

func (s *Store) onClientMessageSent(e events.ClientMessageSent) {
	at := millis(e.Timestamp)
	conv := s.getOrCreate(e.ClientID, correlate.KindClient, clientLabel(e.ClientID), at)
	conv.Messages = append(conv.Messages, Message{
		ID:        e.MessageID,
		Role:      chunk.RoleUser,
		Content:   e.Content,
		Timestamp: at,
	})
	conv.Status = StatusActive
	conv.CompletedAt = time.Time{}
	s.touch(conv.ID)
}

func (s *Store) onClientMessageAppended(e events.ClientMessageAppended) {
	if e.Role == chunk.RoleUser {
		return
	}
	conv, ok := s.byClient(e)
	if !ok {
		return
	}
	if i := conv.findMessage(e.MessageID); i >= 0 {
		conv.Messages[i].Content = e.ContentPreview
	} else {
		conv.Messages = append(conv.Messages, Message{
			ID:        e.MessageID,
			Role:      e.Role,
			Content:   e.ContentPreview,
			Timestamp: millis(e.Timestamp),
			Model:     conv.Model,
		})
	}
	s.touch(conv.ID)
}

func (s *Store) onClientAssistantUpdated(e events.ClientAssistantMessageUpdated) {
	conv, ok := s.byClient(e)
	if !ok {
		return
	}
	if n := len(conv.Messages); n > 0 {
		last := &conv.Messages[n-1]
		if last.Role == chunk.RoleAssistant && last.ID == e.MessageID {
			last.Content = e.Content
			s.touch(conv.ID)
			return
		}
	}
	conv.Messages = append(conv.Messages, Message{
		ID:        e.MessageID,
		Role:      chunk.RoleAssistant,
		Content:   e.Content,
		Timestamp: millis(e.Timestamp),
		Model:     conv.Model,
	})
	s.touch(conv.ID)
}

func (s *Store) onClientToolCallUpdated(e events.ClientToolCallUpdated) {
	conv, ok := s.byClient(e)
	if !ok {
		return
	}
	i := conv.findMessage(e.MessageID)
	if i < 0 {
		s.drop(e, "unknown message")
		return
	}
	s.upsertToolCall(conv, i, ToolCall{
		ID:        e.ToolCallID,
		Name:      e.ToolName,
		Arguments: string(e.Arguments),
		State:     stateOf(e.State),
		Index:     len(conv.Messages[i].ToolCalls),
	}, false)
}

// ===== processor events =====

func (s *Store) onProcessorText(e events.ProcessorTextUpdated) {
	conv, ok := s.byStreamOrOrphan(e)
	if !ok {
		return
	}
	if n := len(conv.Messages); n > 0 && conv.Messages[n-1].Role == chunk.RoleAssistant {
		conv.Messages[n-1].Content = e.Content
	} else {
		id := e.MessageID
		if id == "" {
			id = "msg-" + chunk.NewID()
		}
		conv.Messages = append(conv.Messages, Message{
			ID:        id,
			Role:      chunk.RoleAssistant,
			Content:   e.Content,
			Timestamp: millis(e.Timestamp),
			Model:     conv.Model,
		})
	}
	s.touch(conv.ID)
}

func (s *Store) onProcessorToolCall(e events.ProcessorToolCallStateChanged) {
	conv, ok := s.byStreamOrOrphan(e)
	if !ok {
		return
	}
	i := conv.lastAssistant()
	if i < 0 {
		s.drop(e, "no assistant message")
		return
	}
	s.upsertToolCall(conv, i, ToolCall{
		ID:        e.ToolCallID,
		Name:      e.ToolName,
		Arguments: string(e.Arguments),
		State:     stateOf(e.State),
		Index:     len(conv.Messages[i].ToolCalls),
	}, false)
}

func (s *Store) onProcessorToolResult(e events.ProcessorToolResultStateChanged) {
	conv, ok := s.byStreamOrOrphan(e)
	if !ok {
		return
	}
	mi, ci, ok := conv.findToolCall(e.ToolCallID)
	if !ok {
		s.drop(e, "unknown tool call")
		return
	}
	tc := &conv.Messages[mi].ToolCalls[ci]
	var changed bool
	switch {
	case e.Error != "" || e.State == events.ResultError:
		result := e.Content
		if e.Error != "" {
			result = e.Error
		}
		changed = applyResult(tc, result, StateError)
	case e.State == events.ResultComplete:
		changed = applyResult(tc, e.Content, StateComplete)
	default:
		if acceptsResult(tc.State) && !tc.State.Terminal() {
			r := e.Content
			tc.Result = &r
			changed = true
		}
	}
	if changed {
		s.touch(conv.ID)
	}
}

// ===== shared mutations =====

// addChunk routes a stream chunk. Client conversations attach it to its
// message; server conversations keep a placeholder message for the id and
// collect the chunk at conversation level.
func (s *Store) addChunk(conv *Conversation, c merge.Chunk, at time.Time) {
	if conv.Kind != correlate.KindClient {
		if c.MessageID != "" && conv.findMessage(c.MessageID) < 0 {
			s.appendPlaceholder(conv, c.MessageID, at)
		}
		s.queueConversationChunk(conv, c)
		return
	}

	if c.MessageID != "" {
		i := conv.findMessage(c.MessageID)
		if i < 0 {
			i = s.appendPlaceholder(conv, c.MessageID, at)
		}
		s.queueMessageChunk(conv, i, c)
		return
	}

	if i := conv.lastAssistant(); i >= 0 {
		s.queueMessageChunk(conv, i, c)
		return
	}
	s.dropped++
	s.logger.Debug("chunk has no message", "conversation_id", conv.ID, "type", c.Type)
}

func (s *Store) appendPlaceholder(conv *Conversation, id string, at time.Time) int {
	conv.Messages = append(conv.Messages, Message{
		ID:        id,
		Role:      chunk.RoleAssistant,
		Timestamp: at,
		Model:     conv.Model,
	})
	s.touch(conv.ID)
	return len(conv.Messages) - 1
}

// toolCallMessage returns the index of the message that owns tool calls for
// messageID, creating an assistant message when none exists.
func (s *Store) toolCallMessage(conv *Conversation, messageID string, at time.Time) int {
	if messageID != "" {
		if i := conv.findMessage(messageID); i >= 0 {
			return i
		}
		return s.appendPlaceholder(conv, messageID, at)
	}
	if i := conv.lastAssistant(); i >= 0 {
		return i
	}
	return s.appendPlaceholder(conv, "msg-"+chunk.NewID(), at)
}

// upsertToolCall merges update into the call with the same id on message i,
// or appends it. With appendArgs, argument text concatenates; otherwise a
// non-empty update replaces it.
func (s *Store) upsertToolCall(conv *Conversation, i int, update ToolCall, appendArgs bool) {
	msg := &conv.Messages[i]
	s.touch(conv.ID)
	for j := range msg.ToolCalls {
		tc := &msg.ToolCalls[j]
		if tc.ID != update.ID {
			continue
		}
		if tc.Name == "" {
			tc.Name = update.Name
		}
		switch {
		case appendArgs:
			tc.Arguments += update.Arguments
		case update.Arguments != "":
			tc.Arguments = update.Arguments
		}
		tc.State, _ = advance(tc.State, update.State)
		return
	}
	msg.ToolCalls = append(msg.ToolCalls, update)
}

// requestApproval flags the tool call as awaiting a decision, creating it
// when the approval is the first thing seen for it.
func (s *Store) requestApproval(conv *Conversation, messageID, toolCallID, toolName, input, approvalID string, at time.Time) {
	mi, ci, ok := conv.findToolCall(toolCallID)
	if !ok {
		mi = s.toolCallMessage(conv, messageID, at)
		msg := &conv.Messages[mi]
		msg.ToolCalls = append(msg.ToolCalls, ToolCall{
			ID:        toolCallID,
			Name:      toolName,
			Arguments: input,
			State:     StateInputComplete,
			Index:     len(msg.ToolCalls),
		})
		ci = len(msg.ToolCalls) - 1
	}
	tc := &conv.Messages[mi].ToolCalls[ci]
	st, ok := advance(tc.State, StateApprovalRequested)
	if !ok {
		return
	}
	tc.State = st
	tc.ApprovalRequired = true
	tc.ApprovalID = approvalID
	s.touch(conv.ID)
}

// applyUsage records cumulative usage on the conversation and the share of
// it attributable to the target message.
func (s *Store) applyUsage(conv *Conversation, messageID string, cumulative chunk.Usage) {
	u := cumulative
	conv.Usage = &u
	s.touch(conv.ID)

	target := conv.findMessage(messageID)
	if target < 0 {
		target = conv.lastAssistant()
	}
	if target < 0 {
		return
	}

	var previous chunk.Usage
	for _, m := range conv.Messages[:target] {
		if m.Role == chunk.RoleAssistant && m.Usage != nil {
			previous = previous.Add(*m.Usage)
		}
	}
	delta := cumulative.Sub(previous)
	conv.Messages[target].Usage = &delta
}

// applyResult records result and moves tc to state. It reports false when
// the current state does not accept a result.
func applyResult(tc *ToolCall, result string, state ToolCallState) bool {
	if !acceptsResult(tc.State) {
		return false
	}
	st, ok := advance(tc.State, state)
	if !ok {
		return false
	}
	tc.State = st
	tc.Result = &result
	return true
}

func stateOf(s events.ToolCallState) ToolCallState {
	if st := ToolCallState(s); st.Known() {
		return st
	}
	return StateAwaitingInput
}

func clientLabel(id string) string {
	short := id
	if len(short) > 8 {
		short = short[:8]
	}
	return "Client Chat (" + short + ")"
}

func millis(ms int64) time.Time {
	return time.UnixMilli(ms)
}
