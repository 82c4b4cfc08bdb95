// ABOUTME: Closed set of observability events, one struct per topic, validated at ingestion.
// ABOUTME: Every event carries a correlating id (stream, request or client) and a timestamp.

package events

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/2389/agentloop/internal/chunk"
)

// ErrInvalidEvent indicates an event missing a required field.
var ErrInvalidEvent = errors.New("invalid event")

// Topic names an event variant on the bus.
type Topic string

const (
	TopicStreamStarted        Topic = "stream:started"
	TopicChunkContent         Topic = "stream:chunk:content"
	TopicChunkToolCall        Topic = "stream:chunk:tool-call"
	TopicChunkToolResult      Topic = "stream:chunk:tool-result"
	TopicChunkThinking        Topic = "stream:chunk:thinking"
	TopicChunkDone            Topic = "stream:chunk:done"
	TopicChunkError           Topic = "stream:chunk:error"
	TopicApprovalRequested    Topic = "stream:approval-requested"
	TopicStreamEnded          Topic = "stream:ended"
	TopicToolCallCompleted    Topic = "tool:call-completed"
	TopicToolResultAdded      Topic = "tool:result-added"
	TopicApprovalResponded    Topic = "tool:approval-responded"
	TopicChatStarted          Topic = "chat:started"
	TopicChatCompleted        Topic = "chat:completed"
	TopicChatIteration        Topic = "chat:iteration"
	TopicUsageTokens          Topic = "usage:tokens"
	TopicEmbeddingStarted     Topic = "embedding:started"
	TopicEmbeddingCompleted   Topic = "embedding:completed"
	TopicSummarizeStarted     Topic = "summarize:started"
	TopicSummarizeCompleted   Topic = "summarize:completed"
	TopicClientCreated        Topic = "client:created"
	TopicClientMessageSent    Topic = "client:message-sent"
	TopicClientMessageAdded   Topic = "client:message-appended"
	TopicClientLoading        Topic = "client:loading-changed"
	TopicClientStopped        Topic = "client:stopped"
	TopicClientCleared        Topic = "client:messages-cleared"
	TopicClientReloaded       Topic = "client:reloaded"
	TopicClientErrorChanged   Topic = "client:error-changed"
	TopicClientAssistantText  Topic = "client:assistant-message-updated"
	TopicClientToolCall       Topic = "client:tool-call-updated"
	TopicClientApproval       Topic = "client:approval-requested"
	TopicProcessorText        Topic = "processor:text-updated"
	TopicProcessorToolCall    Topic = "processor:tool-call-state-changed"
	TopicProcessorToolResult  Topic = "processor:tool-result-state-changed"
)

// Event is implemented by every event variant.
type Event interface {
	Topic() Topic
	Validate() error
	Header() Meta
}

// Meta holds the correlation fields shared by all events.
// Each variant requires a subset of them.
type Meta struct {
	StreamID  string `json:"streamId,omitempty"`
	RequestID string `json:"requestId,omitempty"`
	ClientID  string `json:"clientId,omitempty"`
	MessageID string `json:"messageId,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Header returns the correlation fields.
func (m Meta) Header() Meta { return m }

func (m Meta) need(topic Topic, stream, request, client bool) error {
	if m.Timestamp <= 0 {
		return fmt.Errorf("%w: %s: missing timestamp", ErrInvalidEvent, topic)
	}
	if stream && m.StreamID == "" {
		return fmt.Errorf("%w: %s: missing streamId", ErrInvalidEvent, topic)
	}
	if request && m.RequestID == "" {
		return fmt.Errorf("%w: %s: missing requestId", ErrInvalidEvent, topic)
	}
	if client && m.ClientID == "" {
		return fmt.Errorf("%w: %s: missing clientId", ErrInvalidEvent, topic)
	}
	return nil
}

func required(topic Topic, field, value string) error {
	if value == "" {
		return fmt.Errorf("%w: %s: missing %s", ErrInvalidEvent, topic, field)
	}
	return nil
}

// ToolCallState is the lifecycle state reported for a tool call.
type ToolCallState string

const (
	StateAwaitingInput     ToolCallState = "awaiting-input"
	StateInputStreaming    ToolCallState = "input-streaming"
	StateInputComplete     ToolCallState = "input-complete"
	StateApprovalRequested ToolCallState = "approval-requested"
	StateApprovalResponded ToolCallState = "approval-responded"
)

// Result states carried by processor:tool-result-state-changed.
const (
	ResultStreaming = "streaming"
	ResultComplete  = "complete"
	ResultError     = "error"
)

// Output states carried by tool:result-added.
const (
	OutputAvailable = "output-available"
	OutputError     = "output-error"
)

// ===== stream events =====

type StreamStarted struct {
	Meta
	Model    string `json:"model"`
	Provider string `json:"provider"`
}

func (StreamStarted) Topic() Topic { return TopicStreamStarted }
func (e StreamStarted) Validate() error {
	return e.need(TopicStreamStarted, true, false, false)
}

type ChunkContent struct {
	Meta
	Content string `json:"content"`
	Delta   string `json:"delta,omitempty"`
}

func (ChunkContent) Topic() Topic { return TopicChunkContent }
func (e ChunkContent) Validate() error {
	return e.need(TopicChunkContent, true, false, false)
}

type ChunkThinking struct {
	Meta
	Content string `json:"content"`
	Delta   string `json:"delta,omitempty"`
}

func (ChunkThinking) Topic() Topic { return TopicChunkThinking }
func (e ChunkThinking) Validate() error {
	return e.need(TopicChunkThinking, true, false, false)
}

type ChunkToolCall struct {
	Meta
	ToolCallID string `json:"toolCallId"`
	ToolName   string `json:"toolName"`
	Index      int    `json:"index"`
	Arguments  string `json:"arguments"`
}

func (ChunkToolCall) Topic() Topic { return TopicChunkToolCall }
func (e ChunkToolCall) Validate() error {
	if err := e.need(TopicChunkToolCall, true, false, false); err != nil {
		return err
	}
	return required(TopicChunkToolCall, "toolCallId", e.ToolCallID)
}

type ChunkToolResult struct {
	Meta
	ToolCallID string `json:"toolCallId"`
	Result     string `json:"result"`
}

func (ChunkToolResult) Topic() Topic { return TopicChunkToolResult }
func (e ChunkToolResult) Validate() error {
	if err := e.need(TopicChunkToolResult, true, false, false); err != nil {
		return err
	}
	return required(TopicChunkToolResult, "toolCallId", e.ToolCallID)
}

type ChunkDone struct {
	Meta
	FinishReason chunk.FinishReason `json:"finishReason"`
	Usage        *chunk.Usage       `json:"usage,omitempty"`
}

func (ChunkDone) Topic() Topic { return TopicChunkDone }
func (e ChunkDone) Validate() error {
	return e.need(TopicChunkDone, true, false, false)
}

type ChunkError struct {
	Meta
	Error string `json:"error"`
}

func (ChunkError) Topic() Topic { return TopicChunkError }
func (e ChunkError) Validate() error {
	if err := e.need(TopicChunkError, true, false, false); err != nil {
		return err
	}
	return required(TopicChunkError, "error", e.Error)
}

type ApprovalRequested struct {
	Meta
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	Input      json.RawMessage `json:"input,omitempty"`
	ApprovalID string          `json:"approvalId"`
}

func (ApprovalRequested) Topic() Topic { return TopicApprovalRequested }
func (e ApprovalRequested) Validate() error {
	if err := e.need(TopicApprovalRequested, true, false, false); err != nil {
		return err
	}
	if err := required(TopicApprovalRequested, "toolCallId", e.ToolCallID); err != nil {
		return err
	}
	return required(TopicApprovalRequested, "approvalId", e.ApprovalID)
}

type StreamEnded struct {
	Meta
	TotalChunks int   `json:"totalChunks"`
	DurationMS  int64 `json:"duration"`
}

func (StreamEnded) Topic() Topic { return TopicStreamEnded }
func (e StreamEnded) Validate() error {
	return e.need(TopicStreamEnded, true, false, false)
}

// ===== tool events =====

type ToolCallCompleted struct {
	Meta
	ToolCallID string `json:"toolCallId"`
	ToolName   string `json:"toolName"`
	Result     string `json:"result"`
	DurationMS int64  `json:"duration"`
}

func (ToolCallCompleted) Topic() Topic { return TopicToolCallCompleted }
func (e ToolCallCompleted) Validate() error {
	if err := e.need(TopicToolCallCompleted, true, false, false); err != nil {
		return err
	}
	return required(TopicToolCallCompleted, "toolCallId", e.ToolCallID)
}

type ToolResultAdded struct {
	Meta
	ToolCallID string `json:"toolCallId"`
	ToolName   string `json:"toolName"`
	Output     string `json:"output"`
	State      string `json:"state"`
}

func (ToolResultAdded) Topic() Topic { return TopicToolResultAdded }
func (e ToolResultAdded) Validate() error {
	if err := e.need(TopicToolResultAdded, false, false, true); err != nil {
		return err
	}
	if e.State != OutputAvailable && e.State != OutputError {
		return fmt.Errorf("%w: %s: state %q", ErrInvalidEvent, TopicToolResultAdded, e.State)
	}
	return required(TopicToolResultAdded, "toolCallId", e.ToolCallID)
}

// ApprovalResponded records a human decision. It correlates through the
// client id, or through the stream id when the loop itself relays the decision.
type ApprovalResponded struct {
	Meta
	ApprovalID string `json:"approvalId"`
	ToolCallID string `json:"toolCallId"`
	Approved   bool   `json:"approved"`
}

func (ApprovalResponded) Topic() Topic { return TopicApprovalResponded }
func (e ApprovalResponded) Validate() error {
	if err := e.need(TopicApprovalResponded, false, false, false); err != nil {
		return err
	}
	if e.ClientID == "" && e.StreamID == "" {
		return fmt.Errorf("%w: %s: missing clientId or streamId", ErrInvalidEvent, TopicApprovalResponded)
	}
	if err := required(TopicApprovalResponded, "approvalId", e.ApprovalID); err != nil {
		return err
	}
	return required(TopicApprovalResponded, "toolCallId", e.ToolCallID)
}

// ===== chat events =====

type ChatStarted struct {
	Meta
	Provider     string   `json:"provider"`
	Model        string   `json:"model"`
	MessageCount int      `json:"messageCount"`
	HasTools     bool     `json:"hasTools"`
	Streaming    bool     `json:"streaming"`
	ToolNames    []string `json:"toolNames,omitempty"`
}

func (ChatStarted) Topic() Topic { return TopicChatStarted }
func (e ChatStarted) Validate() error {
	if err := e.need(TopicChatStarted, true, true, false); err != nil {
		return err
	}
	return required(TopicChatStarted, "model", e.Model)
}

type ChatCompleted struct {
	Meta
	Model        string             `json:"model"`
	Content      string             `json:"content"`
	FinishReason chunk.FinishReason `json:"finishReason,omitempty"`
	Usage        *chunk.Usage       `json:"usage,omitempty"`
}

func (ChatCompleted) Topic() Topic { return TopicChatCompleted }
func (e ChatCompleted) Validate() error {
	return e.need(TopicChatCompleted, false, true, false)
}

type ChatIteration struct {
	Meta
	IterationNumber int `json:"iterationNumber"`
	MessageCount    int `json:"messageCount"`
	ToolCallCount   int `json:"toolCallCount"`
}

func (ChatIteration) Topic() Topic { return TopicChatIteration }
func (e ChatIteration) Validate() error {
	return e.need(TopicChatIteration, false, true, false)
}

type UsageTokens struct {
	Meta
	Model string      `json:"model"`
	Usage chunk.Usage `json:"usage"`
}

func (UsageTokens) Topic() Topic { return TopicUsageTokens }
func (e UsageTokens) Validate() error {
	return e.need(TopicUsageTokens, false, true, false)
}

// ===== embedding / summarize events =====

type EmbeddingStarted struct {
	Meta
	Model      string `json:"model"`
	InputCount int    `json:"inputCount"`
}

func (EmbeddingStarted) Topic() Topic { return TopicEmbeddingStarted }
func (e EmbeddingStarted) Validate() error {
	return e.need(TopicEmbeddingStarted, false, true, false)
}

type EmbeddingCompleted struct {
	Meta
	Model      string `json:"model"`
	InputCount int    `json:"inputCount"`
	DurationMS int64  `json:"duration"`
}

func (EmbeddingCompleted) Topic() Topic { return TopicEmbeddingCompleted }
func (e EmbeddingCompleted) Validate() error {
	return e.need(TopicEmbeddingCompleted, false, true, false)
}

type SummarizeStarted struct {
	Meta
	Model       string `json:"model"`
	InputLength int    `json:"inputLength"`
}

func (SummarizeStarted) Topic() Topic { return TopicSummarizeStarted }
func (e SummarizeStarted) Validate() error {
	return e.need(TopicSummarizeStarted, false, true, false)
}

type SummarizeCompleted struct {
	Meta
	Model        string `json:"model"`
	InputLength  int    `json:"inputLength"`
	OutputLength int    `json:"outputLength"`
	DurationMS   int64  `json:"duration"`
}

func (SummarizeCompleted) Topic() Topic { return TopicSummarizeCompleted }
func (e SummarizeCompleted) Validate() error {
	return e.need(TopicSummarizeCompleted, false, true, false)
}

// ===== client events =====

type ClientCreated struct {
	Meta
	InitialMessageCount int `json:"initialMessageCount"`
}

func (ClientCreated) Topic() Topic { return TopicClientCreated }
func (e ClientCreated) Validate() error {
	return e.need(TopicClientCreated, false, false, true)
}

type ClientMessageSent struct {
	Meta
	Content string `json:"content"`
}

func (ClientMessageSent) Topic() Topic { return TopicClientMessageSent }
func (e ClientMessageSent) Validate() error {
	if err := e.need(TopicClientMessageSent, false, false, true); err != nil {
		return err
	}
	return required(TopicClientMessageSent, "messageId", e.MessageID)
}

type ClientMessageAppended struct {
	Meta
	Role           chunk.Role `json:"role"`
	ContentPreview string     `json:"contentPreview"`
}

func (ClientMessageAppended) Topic() Topic { return TopicClientMessageAdded }
func (e ClientMessageAppended) Validate() error {
	if err := e.need(TopicClientMessageAdded, false, false, true); err != nil {
		return err
	}
	return required(TopicClientMessageAdded, "messageId", e.MessageID)
}

type ClientLoadingChanged struct {
	Meta
	IsLoading bool `json:"isLoading"`
}

func (ClientLoadingChanged) Topic() Topic { return TopicClientLoading }
func (e ClientLoadingChanged) Validate() error {
	return e.need(TopicClientLoading, false, false, true)
}

type ClientStopped struct {
	Meta
}

func (ClientStopped) Topic() Topic { return TopicClientStopped }
func (e ClientStopped) Validate() error {
	return e.need(TopicClientStopped, false, false, true)
}

type ClientMessagesCleared struct {
	Meta
}

func (ClientMessagesCleared) Topic() Topic { return TopicClientCleared }
func (e ClientMessagesCleared) Validate() error {
	return e.need(TopicClientCleared, false, false, true)
}

type ClientReloaded struct {
	Meta
	FromMessageIndex int `json:"fromMessageIndex"`
}

func (ClientReloaded) Topic() Topic { return TopicClientReloaded }
func (e ClientReloaded) Validate() error {
	if err := e.need(TopicClientReloaded, false, false, true); err != nil {
		return err
	}
	if e.FromMessageIndex < 0 {
		return fmt.Errorf("%w: %s: negative fromMessageIndex", ErrInvalidEvent, TopicClientReloaded)
	}
	return nil
}

type ClientErrorChanged struct {
	Meta
	Error string `json:"error,omitempty"`
}

func (ClientErrorChanged) Topic() Topic { return TopicClientErrorChanged }
func (e ClientErrorChanged) Validate() error {
	return e.need(TopicClientErrorChanged, false, false, true)
}

type ClientAssistantMessageUpdated struct {
	Meta
	Content string `json:"content"`
}

func (ClientAssistantMessageUpdated) Topic() Topic { return TopicClientAssistantText }
func (e ClientAssistantMessageUpdated) Validate() error {
	if err := e.need(TopicClientAssistantText, false, false, true); err != nil {
		return err
	}
	return required(TopicClientAssistantText, "messageId", e.MessageID)
}

type ClientToolCallUpdated struct {
	Meta
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	State      ToolCallState   `json:"state"`
	Arguments  json.RawMessage `json:"arguments,omitempty"`
}

func (ClientToolCallUpdated) Topic() Topic { return TopicClientToolCall }
func (e ClientToolCallUpdated) Validate() error {
	if err := e.need(TopicClientToolCall, false, false, true); err != nil {
		return err
	}
	if err := required(TopicClientToolCall, "messageId", e.MessageID); err != nil {
		return err
	}
	return required(TopicClientToolCall, "toolCallId", e.ToolCallID)
}

type ClientApprovalRequested struct {
	Meta
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	Input      json.RawMessage `json:"input,omitempty"`
	ApprovalID string          `json:"approvalId"`
}

func (ClientApprovalRequested) Topic() Topic { return TopicClientApproval }
func (e ClientApprovalRequested) Validate() error {
	if err := e.need(TopicClientApproval, false, false, true); err != nil {
		return err
	}
	if err := required(TopicClientApproval, "toolCallId", e.ToolCallID); err != nil {
		return err
	}
	return required(TopicClientApproval, "approvalId", e.ApprovalID)
}

// ===== processor events =====

type ProcessorTextUpdated struct {
	Meta
	Content string `json:"content"`
}

func (ProcessorTextUpdated) Topic() Topic { return TopicProcessorText }
func (e ProcessorTextUpdated) Validate() error {
	return e.need(TopicProcessorText, true, false, false)
}

type ProcessorToolCallStateChanged struct {
	Meta
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	State      ToolCallState   `json:"state"`
	Arguments  json.RawMessage `json:"arguments,omitempty"`
}

func (ProcessorToolCallStateChanged) Topic() Topic { return TopicProcessorToolCall }
func (e ProcessorToolCallStateChanged) Validate() error {
	if err := e.need(TopicProcessorToolCall, true, false, false); err != nil {
		return err
	}
	return required(TopicProcessorToolCall, "toolCallId", e.ToolCallID)
}

type ProcessorToolResultStateChanged struct {
	Meta
	ToolCallID string `json:"toolCallId"`
	Content    string `json:"content"`
	State      string `json:"state"`
	Error      string `json:"error,omitempty"`
}

func (ProcessorToolResultStateChanged) Topic() Topic { return TopicProcessorToolResult }
func (e ProcessorToolResultStateChanged) Validate() error {
	if err := e.need(TopicProcessorToolResult, true, false, false); err != nil {
		return err
	}
	return required(TopicProcessorToolResult, "toolCallId", e.ToolCallID)
}
