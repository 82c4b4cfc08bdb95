// ABOUTME: Reconstructed conversation state: conversations, messages, tool calls and operations.
// ABOUTME: Values returned to callers are deep copies; only the store mutates the originals.

package conversation

import (
	"slices"
	"time"

	"github.com/2389/agentloop/internal/chunk"
	"github.com/2389/agentloop/internal/correlate"
	"github.com/2389/agentloop/internal/merge"
)

// Status of a conversation.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// OperationStatus of an embedding or summarize operation.
type OperationStatus string

const (
	OperationStarted   OperationStatus = "started"
	OperationCompleted OperationStatus = "completed"
)

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	ID               string        `json:"id"`
	Name             string        `json:"name"`
	Arguments        string        `json:"arguments"`
	State            ToolCallState `json:"state"`
	Result           *string       `json:"result,omitempty"`
	ApprovalRequired bool          `json:"approvalRequired,omitempty"`
	ApprovalID       string        `json:"approvalId,omitempty"`
	Duration         time.Duration `json:"duration,omitempty"`
	Index            int           `json:"index"`
}

// Message is one entry in a conversation.
type Message struct {
	ID              string        `json:"id"`
	Role            chunk.Role    `json:"role"`
	Content         string        `json:"content"`
	Timestamp       time.Time     `json:"timestamp"`
	Model           string        `json:"model,omitempty"`
	ThinkingContent string        `json:"thinkingContent,omitempty"`
	ToolCalls       []ToolCall    `json:"toolCalls,omitempty"`
	Chunks          []merge.Chunk `json:"chunks,omitempty"`
	TotalChunkCount int           `json:"totalChunkCount,omitempty"`
	Usage           *chunk.Usage  `json:"usage,omitempty"`
}

// EmbeddingOperation records an embedding request seen on the bus.
type EmbeddingOperation struct {
	ID         string          `json:"id"`
	Model      string          `json:"model"`
	InputCount int             `json:"inputCount"`
	Duration   time.Duration   `json:"duration"`
	Timestamp  time.Time       `json:"timestamp"`
	Status     OperationStatus `json:"status"`
}

// SummarizeOperation records a summarize request seen on the bus.
type SummarizeOperation struct {
	ID           string          `json:"id"`
	Model        string          `json:"model"`
	InputLength  int             `json:"inputLength"`
	OutputLength int             `json:"outputLength,omitempty"`
	Duration     time.Duration   `json:"duration,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
	Status       OperationStatus `json:"status"`
}

// Conversation is the reconstructed state of one logical exchange.
type Conversation struct {
	ID             string               `json:"id"`
	Kind           correlate.Kind       `json:"type"`
	Label          string               `json:"label"`
	Messages       []Message            `json:"messages"`
	Chunks         []merge.Chunk        `json:"chunks"`
	Model          string               `json:"model,omitempty"`
	Provider       string               `json:"provider,omitempty"`
	Status         Status               `json:"status"`
	StartedAt      time.Time            `json:"startedAt"`
	CompletedAt    time.Time            `json:"completedAt,omitzero"`
	Usage          *chunk.Usage         `json:"usage,omitempty"`
	IterationCount int                  `json:"iterationCount,omitempty"`
	ToolNames      []string             `json:"toolNames,omitempty"`
	HasChat        bool                 `json:"hasChat,omitempty"`
	HasEmbedding   bool                 `json:"hasEmbedding,omitempty"`
	HasSummarize   bool                 `json:"hasSummarize,omitempty"`
	Embeddings     []EmbeddingOperation `json:"embeddings,omitempty"`
	Summaries      []SummarizeOperation `json:"summaries,omitempty"`
}

func (tc ToolCall) clone() ToolCall {
	if tc.Result != nil {
		r := *tc.Result
		tc.Result = &r
	}
	return tc
}

func (m Message) clone() Message {
	if m.ToolCalls != nil {
		calls := make([]ToolCall, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			calls[i] = tc.clone()
		}
		m.ToolCalls = calls
	}
	m.Chunks = slices.Clone(m.Chunks)
	m.Usage = cloneUsage(m.Usage)
	return m
}

func (c *Conversation) clone() Conversation {
	out := *c
	out.Messages = make([]Message, len(c.Messages))
	for i, m := range c.Messages {
		out.Messages[i] = m.clone()
	}
	out.Chunks = slices.Clone(c.Chunks)
	if out.Chunks == nil {
		out.Chunks = []merge.Chunk{}
	}
	out.Usage = cloneUsage(c.Usage)
	out.ToolNames = slices.Clone(c.ToolNames)
	out.Embeddings = slices.Clone(c.Embeddings)
	out.Summaries = slices.Clone(c.Summaries)
	return out
}

func (c *Conversation) candidate() correlate.Candidate {
	return correlate.Candidate{
		ID:        c.ID,
		Kind:      c.Kind,
		Active:    c.Status == StatusActive,
		Model:     c.Model,
		StartedAt: c.StartedAt,
	}
}

func cloneUsage(u *chunk.Usage) *chunk.Usage {
	if u == nil {
		return nil
	}
	v := *u
	return &v
}

// findMessage returns the index of the message with id, or -1.
func (c *Conversation) findMessage(id string) int {
	if id == "" {
		return -1
	}
	return slices.IndexFunc(c.Messages, func(m Message) bool { return m.ID == id })
}

// lastAssistant returns the index of the last assistant message, or -1.
func (c *Conversation) lastAssistant() int {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == chunk.RoleAssistant {
			return i
		}
	}
	return -1
}

// findToolCall scans messages newest first for the tool call with id.
func (c *Conversation) findToolCall(id string) (msgIdx, callIdx int, ok bool) {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		for j := range c.Messages[i].ToolCalls {
			if c.Messages[i].ToolCalls[j].ID == id {
				return i, j, true
			}
		}
	}
	return -1, -1, false
}
