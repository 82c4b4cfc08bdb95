// ABOUTME: Model-facing messages and the Adapter contract a backend implements.
// ABOUTME: The loop keeps its own working copy of the message list across iterations.

package orchestrator

import (
	"context"
	"slices"

	"github.com/2389/agentloop/internal/chunk"
	"github.com/2389/agentloop/internal/tools"
)

// FunctionCall is the function part of an assistant tool call.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCall is a tool invocation recorded on an assistant message.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// Message is one entry of the conversation sent to the model.
// Content is nil on assistant messages that only carry tool calls.
type Message struct {
	Role       chunk.Role `json:"role"`
	Content    *string    `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// Text returns a message with the given role and content.
func Text(role chunk.Role, content string) Message {
	return Message{Role: role, Content: &content}
}

func (m Message) clone() Message {
	if m.Content != nil {
		c := *m.Content
		m.Content = &c
	}
	m.ToolCalls = slices.Clone(m.ToolCalls)
	return m
}

func cloneMessages(in []Message) []Message {
	out := make([]Message, len(in))
	for i, m := range in {
		out[i] = m.clone()
	}
	return out
}

// ChatRequest is one call to the model backend.
type ChatRequest struct {
	Model    string
	Messages []Message
	Tools    []tools.Definition
}

// Adapter streams model output for a request. The returned channel closes
// when the response is complete or ctx is cancelled.
type Adapter interface {
	Name() string
	ChatStream(ctx context.Context, req ChatRequest) (<-chan *chunk.StreamChunk, error)
}
