// ABOUTME: StreamChunk is the tagged unit of model output flowing through the loop.
// ABOUTME: Defines chunk types, tool-call deltas, usage counters and the finish reasons.

package chunk

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrUnknownType indicates a chunk whose type discriminant is not recognized.
var ErrUnknownType = errors.New("unknown chunk type")

// ErrInvalidChunk indicates a chunk missing a field its type requires.
var ErrInvalidChunk = errors.New("invalid chunk")

// Type discriminates the StreamChunk variants.
type Type string

const (
	TypeContent    Type = "content"
	TypeThinking   Type = "thinking"
	TypeToolCall   Type = "tool_call"
	TypeToolResult Type = "tool_result"
	TypeDone       Type = "done"
	TypeError      Type = "error"
	TypeApproval   Type = "approval"
)

// Valid reports whether t is one of the known chunk types.
func (t Type) Valid() bool {
	switch t {
	case TypeContent, TypeThinking, TypeToolCall, TypeToolResult,
		TypeDone, TypeError, TypeApproval:
		return true
	}
	return false
}

// FinishReason is why the model stopped producing output.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishToolCalls     FinishReason = "tool_calls"
	FinishContentFilter FinishReason = "content_filter"
)

// Role of the message a chunk belongs to.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Usage carries token counts reported by the model.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// Add returns the component-wise sum of u and o.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
		TotalTokens:      u.TotalTokens + o.TotalTokens,
	}
}

// Sub returns u minus o with each component clamped at zero.
// TotalTokens is recomputed from the clamped parts.
func (u Usage) Sub(o Usage) Usage {
	prompt := max(0, u.PromptTokens-o.PromptTokens)
	completion := max(0, u.CompletionTokens-o.CompletionTokens)
	return Usage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}
}

// FunctionDelta is the name and argument fragment of a streamed tool call.
type FunctionDelta struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCallDelta is one increment of a tool call. Fragments sharing an Index
// belong to the same call; Arguments fragments concatenate in arrival order.
type ToolCallDelta struct {
	ID       string        `json:"id"`
	Type     string        `json:"type"`
	Function FunctionDelta `json:"function"`
}

// ChunkError is the payload of an error chunk.
type ChunkError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// StreamChunk is one unit of streamed model output. Type selects which of
// the optional fields are meaningful.
type StreamChunk struct {
	Type      Type   `json:"type"`
	ID        string `json:"id"`
	Model     string `json:"model"`
	Timestamp int64  `json:"timestamp"`
	MessageID string `json:"messageId,omitempty"`
	Role      Role   `json:"role,omitempty"`

	// content, thinking
	Delta   string `json:"delta,omitempty"`
	Content string `json:"content,omitempty"`

	// tool_call
	ToolCall *ToolCallDelta `json:"toolCall,omitempty"`
	Index    int            `json:"index,omitempty"`

	// tool_result, approval
	ToolCallID string `json:"toolCallId,omitempty"`
	ToolName   string `json:"toolName,omitempty"`
	Result     string `json:"result,omitempty"`
	DurationMS int64  `json:"duration,omitempty"`

	// done
	FinishReason FinishReason `json:"finishReason,omitempty"`
	Usage        *Usage       `json:"usage,omitempty"`

	// error
	Error *ChunkError `json:"error,omitempty"`

	// approval
	ApprovalID string          `json:"approvalId,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
}

// Validate checks that the chunk carries the fields its type requires.
func (c *StreamChunk) Validate() error {
	if !c.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownType, c.Type)
	}
	switch c.Type {
	case TypeToolCall:
		if c.ToolCall == nil {
			return fmt.Errorf("%w: tool_call without toolCall", ErrInvalidChunk)
		}
	case TypeToolResult:
		if c.ToolCallID == "" {
			return fmt.Errorf("%w: tool_result without toolCallId", ErrInvalidChunk)
		}
	case TypeError:
		if c.Error == nil {
			return fmt.Errorf("%w: error chunk without error", ErrInvalidChunk)
		}
	case TypeApproval:
		if c.ApprovalID == "" || c.ToolCallID == "" {
			return fmt.Errorf("%w: approval without approvalId or toolCallId", ErrInvalidChunk)
		}
	}
	return nil
}

// Time returns the chunk timestamp as a time.Time.
func (c *StreamChunk) Time() time.Time {
	return time.UnixMilli(c.Timestamp)
}

// Now returns the current time in the millisecond form chunks carry.
func Now() int64 {
	return time.Now().UnixMilli()
}

// NewID returns a fresh chunk or message identifier.
func NewID() string {
	return uuid.New().String()
}

// Content builds a content chunk.
func Content(id, model, delta, content string) *StreamChunk {
	return &StreamChunk{
		Type:      TypeContent,
		ID:        id,
		Model:     model,
		Timestamp: Now(),
		Role:      RoleAssistant,
		Delta:     delta,
		Content:   content,
	}
}

// ToolResult builds a tool_result chunk.
func ToolResult(id, model, toolCallID, toolName, result string, d time.Duration) *StreamChunk {
	return &StreamChunk{
		Type:       TypeToolResult,
		ID:         id,
		Model:      model,
		Timestamp:  Now(),
		ToolCallID: toolCallID,
		ToolName:   toolName,
		Result:     result,
		DurationMS: d.Milliseconds(),
	}
}

// Failure builds an error chunk.
func Failure(id, model string, err error) *StreamChunk {
	return &StreamChunk{
		Type:      TypeError,
		ID:        id,
		Model:     model,
		Timestamp: Now(),
		Error:     &ChunkError{Message: err.Error()},
	}
}

// Approval builds an approval request chunk.
func Approval(id, model, approvalID, toolCallID, toolName string, input json.RawMessage) *StreamChunk {
	return &StreamChunk{
		Type:       TypeApproval,
		ID:         id,
		Model:      model,
		Timestamp:  Now(),
		ApprovalID: approvalID,
		ToolCallID: toolCallID,
		ToolName:   toolName,
		Input:      input,
	}
}
