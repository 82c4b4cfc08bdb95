// ABOUTME: Colored terminal rendering for chunks, conversations and run statistics
// ABOUTME: All output goes through fatih/color so NO_COLOR and non-terminals are respected

package main

import (
	"cmp"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/2389/agentloop/internal/chunk"
	"github.com/2389/agentloop/internal/conversation"
	"github.com/2389/agentloop/internal/merge"
	"github.com/2389/agentloop/internal/orchestrator"
)

var (
	cyan   = color.New(color.FgCyan)
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed)
	gray   = color.New(color.FgHiBlack)
	bold   = color.New(color.Bold)
)

const previewLen = 72

func preview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= previewLen {
		return s
	}
	return s[:previewLen-3] + "..."
}

// chunkPrinter renders a live chunk stream. Content deltas print inline;
// everything else gets its own line.
type chunkPrinter struct {
	w      io.Writer
	inText bool
}

func newChunkPrinter(w io.Writer) *chunkPrinter {
	return &chunkPrinter{w: w}
}

func (p *chunkPrinter) endText() {
	if p.inText {
		fmt.Fprintln(p.w)
		p.inText = false
	}
}

func (p *chunkPrinter) print(c *chunk.StreamChunk) {
	switch c.Type {
	case chunk.TypeContent:
		if c.Role == chunk.RoleSystem || (c.Delta == "" && c.Content != "") {
			// Notes carry their text in Content only.
			p.endText()
			gray.Fprintf(p.w, "    %s\n", cmp.Or(c.Delta, c.Content))
			return
		}
		if !p.inText {
			green.Fprint(p.w, "    ▶ ")
			p.inText = true
		}
		fmt.Fprint(p.w, c.Delta)
	case chunk.TypeThinking:
		p.endText()
		gray.Fprintf(p.w, "    … %s\n", preview(c.Delta))
	case chunk.TypeToolCall:
		if c.ToolCall != nil && c.ToolCall.Function.Name != "" {
			p.endText()
			cyan.Fprint(p.w, "    ⚙ ")
			fmt.Fprintf(p.w, "%s ", c.ToolCall.Function.Name)
			gray.Fprintf(p.w, "(%s)\n", c.ToolCall.ID)
		}
	case chunk.TypeToolResult:
		p.endText()
		cyan.Fprint(p.w, "    ← ")
		fmt.Fprintf(p.w, "%s: %s\n", c.ToolName, preview(c.Result))
	case chunk.TypeApproval:
		p.endText()
		yellow.Fprint(p.w, "    ? ")
		fmt.Fprintf(p.w, "%s wants approval %s\n", c.ToolName, preview(string(c.Input)))
	case chunk.TypeError:
		p.endText()
		msg := "unknown error"
		if c.Error != nil {
			msg = c.Error.Message
		}
		red.Fprintf(p.w, "    ✗ %s\n", msg)
	case chunk.TypeDone:
		p.endText()
		gray.Fprintf(p.w, "    ■ %s\n", c.FinishReason)
	}
}

func (p *chunkPrinter) approval(tool string, approved bool) {
	if approved {
		green.Fprintf(p.w, "    ✓ approved %s\n", tool)
		return
	}
	yellow.Fprintf(p.w, "    ✗ denied %s\n", tool)
}

func (p *chunkPrinter) finish() {
	p.endText()
	fmt.Fprintln(p.w)
}

func printChunks(w io.Writer, view []merge.Chunk) {
	for _, c := range view {
		cyan.Fprintf(w, "%-12s", c.Type)
		if c.ChunkCount > 1 {
			gray.Fprintf(w, " x%-4d", c.ChunkCount)
		} else {
			fmt.Fprint(w, "      ")
		}
		switch c.Type {
		case chunk.TypeContent, chunk.TypeThinking:
			fmt.Fprintf(w, " %s", preview(c.Content))
		case chunk.TypeToolCall:
			fmt.Fprintf(w, " %s %s", c.ToolName, preview(c.Arguments))
		case chunk.TypeToolResult:
			fmt.Fprintf(w, " %s → %s", c.ToolName, preview(c.Result))
		case chunk.TypeApproval:
			fmt.Fprintf(w, " %s [%s]", c.ToolName, c.ApprovalID)
		case chunk.TypeDone:
			fmt.Fprintf(w, " %s", c.FinishReason)
		case chunk.TypeError:
			red.Fprintf(w, " %s", c.Error)
		}
		fmt.Fprintln(w)
	}
	gray.Fprintf(w, "%d chunks in %d entries\n", merge.TotalCount(view), len(view))
}

func statusColor(s conversation.Status) *color.Color {
	switch s {
	case conversation.StatusCompleted:
		return green
	case conversation.StatusError:
		return red
	default:
		return yellow
	}
}

func printConversations(w io.Writer, convs []conversation.Conversation) {
	if len(convs) == 0 {
		gray.Fprintln(w, "no conversations")
		return
	}
	for _, c := range convs {
		bold.Fprintf(w, "%s", c.Label)
		gray.Fprintf(w, " [%s %s] ", c.Kind, c.ID)
		statusColor(c.Status).Fprintln(w, c.Status)

		if c.Model != "" {
			fmt.Fprintf(w, "  model:      %s (%s)\n", c.Model, c.Provider)
		}
		if c.IterationCount > 0 {
			fmt.Fprintf(w, "  iterations: %d\n", c.IterationCount)
		}
		if len(c.ToolNames) > 0 {
			fmt.Fprintf(w, "  tools:      %s\n", strings.Join(c.ToolNames, ", "))
		}
		if c.Usage != nil {
			fmt.Fprintf(w, "  usage:      %d prompt + %d completion = %d\n",
				c.Usage.PromptTokens, c.Usage.CompletionTokens, c.Usage.TotalTokens)
		}
		for _, op := range c.Embeddings {
			fmt.Fprintf(w, "  embedding:  %s %s\n", op.Model, op.Status)
		}
		for _, op := range c.Summaries {
			fmt.Fprintf(w, "  summarize:  %s %s\n", op.Model, op.Status)
		}
		for _, m := range c.Messages {
			printMessage(w, m)
		}
		gray.Fprintf(w, "  %d chunks in %d entries\n\n", merge.TotalCount(c.Chunks), len(c.Chunks))
	}
}

func printMessage(w io.Writer, m conversation.Message) {
	cyan.Fprintf(w, "  %-9s", m.Role)
	fmt.Fprintf(w, " %s", preview(m.Content))
	if m.TotalChunkCount > 0 {
		gray.Fprintf(w, " (%d chunks)", m.TotalChunkCount)
	}
	fmt.Fprintln(w)
	for _, tc := range m.ToolCalls {
		fmt.Fprintf(w, "            ⚙ %s %s ", tc.Name, preview(tc.Arguments))
		stateColor(tc.State).Fprint(w, tc.State)
		if tc.Result != nil {
			gray.Fprintf(w, " → %s", preview(*tc.Result))
		}
		fmt.Fprintln(w)
	}
}

func stateColor(s conversation.ToolCallState) *color.Color {
	switch s {
	case conversation.StateComplete:
		return green
	case conversation.StateError, conversation.StateDenied:
		return red
	case conversation.StateApprovalRequested:
		return yellow
	default:
		return gray
	}
}

func printUpdate(w io.Writer, u conversation.Update) {
	gray.Fprintf(w, "update %d: %s\n", u.Seq, strings.Join(u.Conversations, ", "))
}

func printReplayStats(w io.Writer, rs replayStats, st conversation.Stats) {
	green.Fprint(w, "▶ ")
	fmt.Fprintf(w, "%d lines, %d published, %d skipped\n", rs.Lines, rs.Published, rs.Skipped)
	green.Fprint(w, "▶ ")
	fmt.Fprintf(w, "%d conversations, %d events, %d flushes, %d dropped\n",
		st.Conversations, st.Events, st.Flushes, st.Dropped)
	green.Fprint(w, "▶ ")
	fmt.Fprintf(w, "%d streams and %d requests correlated\n\n", st.BoundStreams, st.BoundRequests)
}

func printRunStats(w io.Writer, st orchestrator.Stats, messages int) {
	green.Fprint(w, "▶ ")
	fmt.Fprintf(w, "%d iterations, %d tool calls, %d executed, %d skipped, %d errors, %d denied, %d messages\n\n",
		st.Iterations, st.ToolCalls, st.Executed, st.SkippedTools, st.ToolErrors, st.Denied, messages)
}
