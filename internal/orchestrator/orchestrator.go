// ABOUTME: Orchestrator drives the model/tool loop: stream a turn, run requested tools, repeat.
// ABOUTME: Chunks are forwarded unchanged; tool results feed the next turn until the model stops.

package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/2389/agentloop/internal/chunk"
	"github.com/2389/agentloop/internal/events"
	"github.com/2389/agentloop/internal/tools"
)

// DefaultMaxIterations bounds the number of model turns per run.
const DefaultMaxIterations = 5

// declinedMessage is the tool error reported to the model for denied approvals.
const declinedMessage = "tool execution declined"

var (
	// ErrAdapter wraps failures to start or finish a model turn.
	ErrAdapter = errors.New("adapter failed")

	// ErrMalformedArguments indicates tool arguments that are not valid JSON.
	ErrMalformedArguments = errors.New("malformed tool arguments")
)

// Config configures an Orchestrator.
type Config struct {
	Adapter         Adapter
	Registry        *tools.Registry
	Gate            *ApprovalGate
	Publisher       events.Publisher
	Logger          *slog.Logger
	MaxIterations   int
	ApprovalTimeout time.Duration
}

// Orchestrator runs tool loops against one adapter and tool registry.
type Orchestrator struct {
	adapter         Adapter
	registry        *tools.Registry
	gate            *ApprovalGate
	publisher       events.Publisher
	logger          *slog.Logger
	maxIterations   int
	approvalTimeout time.Duration
}

// New creates an Orchestrator. A nil Registry or Gate gets an empty default.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	registry := cfg.Registry
	if registry == nil {
		registry = tools.NewRegistry(logger)
	}
	gate := cfg.Gate
	if gate == nil {
		gate = NewApprovalGate(GateConfig{Logger: logger})
	}
	maxIter := cfg.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}
	return &Orchestrator{
		adapter:         cfg.Adapter,
		registry:        registry,
		gate:            gate,
		publisher:       cfg.Publisher,
		logger:          logger.With("component", "orchestrator"),
		maxIterations:   maxIter,
		approvalTimeout: cfg.ApprovalTimeout,
	}
}

// Gate returns the approval gate used for tools that need approval.
func (o *Orchestrator) Gate() *ApprovalGate {
	return o.gate
}

// Request starts a run. MaxIterations <= 0 uses the orchestrator default.
// ClientID, when set, is carried on published events for correlation.
type Request struct {
	Model         string
	Messages      []Message
	MaxIterations int
	ClientID      string
}

// Stats counts what happened during a run.
type Stats struct {
	Iterations   int
	ToolCalls    int
	Executed     int
	SkippedTools int
	ToolErrors   int
	Denied       int
}

// Run is a running loop. C yields every chunk and closes when the loop
// ends. Messages, Stats and Err block until then, so C must be drained.
type Run struct {
	C         <-chan *chunk.StreamChunk
	StreamID  string
	RequestID string

	done     chan struct{}
	messages []Message
	stats    Stats
	err      error
}

// Done is closed after C is closed and the results are final.
func (r *Run) Done() <-chan struct{} { return r.done }

// Messages returns the final working message list.
func (r *Run) Messages() []Message {
	<-r.done
	return cloneMessages(r.messages)
}

// Stats returns the run counters.
func (r *Run) Stats() Stats {
	<-r.done
	return r.stats
}

// Err returns why the run stopped early: an adapter failure or the context
// error. It is nil when the model finished or the iteration limit was hit.
func (r *Run) Err() error {
	<-r.done
	return r.err
}

// Run starts the loop for req on its own goroutine.
func (o *Orchestrator) Run(ctx context.Context, req Request) *Run {
	out := make(chan *chunk.StreamChunk, 16)
	run := &Run{
		C:         out,
		StreamID:  "stream-" + uuid.New().String(),
		RequestID: "req-" + uuid.New().String(),
		done:      make(chan struct{}),
	}
	r := &runner{
		o:        o,
		run:      run,
		out:      out,
		req:      req,
		messages: cloneMessages(req.Messages),
		logger: o.logger.With(
			"stream_id", run.StreamID,
			"request_id", run.RequestID,
			"model", req.Model),
	}
	go r.loop(ctx)
	return run
}

// runner holds the state of one Run.
type runner struct {
	o        *Orchestrator
	run      *Run
	out      chan<- *chunk.StreamChunk
	req      Request
	messages []Message
	stats    Stats
	logger   *slog.Logger

	messageID   string
	chunks      int
	lastContent string
	finish      chunk.FinishReason
	usage       *chunk.Usage
}

func (r *runner) loop(ctx context.Context) {
	start := time.Now()
	defer func() {
		r.run.messages = r.messages
		r.run.stats = r.stats
		close(r.out)
		close(r.run.done)
	}()

	err := r.iterate(ctx)
	r.run.err = err

	// After an adapter failure the error chunk is the final word.
	if !errors.Is(err, ErrAdapter) {
		r.publish(events.ChatCompleted{
			Meta:         r.meta(),
			Model:        r.req.Model,
			Content:      r.lastContent,
			FinishReason: r.finish,
			Usage:        r.usage,
		})
		r.publish(events.StreamEnded{
			Meta:        r.meta(),
			TotalChunks: r.chunks,
			DurationMS:  time.Since(start).Milliseconds(),
		})
	}

	r.logger.Info("run finished",
		"iterations", r.stats.Iterations,
		"tool_calls", r.stats.ToolCalls,
		"skipped", r.stats.SkippedTools,
		"tool_errors", r.stats.ToolErrors,
		"duration", time.Since(start),
		"error", err)
}

func (r *runner) iterate(ctx context.Context) error {
	if r.o.adapter == nil {
		return r.fail(ctx, errors.New("no adapter configured"))
	}

	maxIter := r.req.MaxIterations
	if maxIter <= 0 {
		maxIter = r.o.maxIterations
	}
	defs := r.o.registry.Definitions()

	r.publish(events.ChatStarted{
		Meta:         r.meta(),
		Provider:     r.o.adapter.Name(),
		Model:        r.req.Model,
		MessageCount: len(r.messages),
		HasTools:     len(defs) > 0,
		Streaming:    true,
		ToolNames:    r.o.registry.Names(),
	})

	for i := range maxIter {
		r.stats.Iterations++
		calls, err := r.turn(ctx, defs)
		if err != nil {
			return err
		}

		if len(calls) > 0 {
			r.messages = append(r.messages, Message{Role: chunk.RoleAssistant, ToolCalls: calls})
			for _, call := range calls {
				if err := r.handleCall(ctx, call); err != nil {
					return err
				}
			}
		}

		r.publish(events.ChatIteration{
			Meta:            r.meta(),
			IterationNumber: i + 1,
			MessageCount:    len(r.messages),
			ToolCallCount:   len(calls),
		})
		if len(calls) == 0 {
			return nil
		}
	}

	r.logger.Info("iteration limit reached", "max_iterations", maxIter)
	return nil
}

// turn streams one model response and returns the tool calls it asked for.
// Calls only count when a done chunk with finish reason tool_calls arrives.
func (r *runner) turn(ctx context.Context, defs []tools.Definition) ([]ToolCall, error) {
	r.messageID = "msg-" + uuid.New().String()

	stream, err := r.o.adapter.ChatStream(ctx, ChatRequest{
		Model:    r.req.Model,
		Messages: cloneMessages(r.messages),
		Tools:    defs,
	})
	if err != nil {
		return nil, r.fail(ctx, err)
	}

	acc := newAccumulator()
	var eligible []ToolCall
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case c, ok := <-stream:
			if !ok {
				return eligible, nil
			}
			if c == nil {
				continue
			}
			if c.MessageID != "" {
				r.messageID = c.MessageID
			}

			switch c.Type {
			case chunk.TypeToolCall:
				acc.add(c.Index, c.ToolCall)
			case chunk.TypeContent:
				if c.Content != "" {
					r.lastContent = c.Content
				} else {
					r.lastContent += c.Delta
				}
			case chunk.TypeDone:
				r.finish = c.FinishReason
				if c.Usage != nil {
					u := *c.Usage
					r.usage = &u
					r.publish(events.UsageTokens{Meta: r.meta(), Model: r.req.Model, Usage: u})
				}
				if c.FinishReason == chunk.FinishToolCalls {
					eligible = acc.snapshot()
				}
			}

			r.publishChunk(c, acc)
			if err := r.send(ctx, c); err != nil {
				return nil, err
			}
			if c.Type == chunk.TypeError {
				return nil, r.streamFailed(c)
			}
		}
	}
}

func (r *runner) handleCall(ctx context.Context, call ToolCall) error {
	r.stats.ToolCalls++
	name := call.Function.Name
	logger := r.logger.With("tool_name", name, "tool_call_id", call.ID)

	tool, ok := r.o.registry.Lookup(name)
	if !ok {
		r.stats.SkippedTools++
		logger.Warn("unknown tool requested, skipping")
		return nil
	}

	if tool.NeedsApproval {
		if !tool.Executable() {
			r.stats.SkippedTools++
			return r.handOff(ctx, call, logger)
		}
		approved, err := r.approve(ctx, call, logger)
		if err != nil {
			return err
		}
		if !approved {
			r.stats.Denied++
			logger.Info("tool execution declined")
			r.appendToolMessage(call.ID, errorPayload(declinedMessage))
			return nil
		}
	} else if !tool.Executable() {
		r.stats.SkippedTools++
		logger.Debug("tool has no executor, skipping")
		return nil
	}

	return r.execute(ctx, tool, call, logger)
}

func (r *runner) approve(ctx context.Context, call ToolCall, logger *slog.Logger) (bool, error) {
	approvalID := "approval-" + uuid.New().String()
	ch, err := r.o.gate.open(approvalID)
	if err != nil {
		return false, err
	}
	defer r.o.gate.release(approvalID)

	if err := r.forward(ctx, r.approvalChunk(call, approvalID)); err != nil {
		return false, err
	}
	logger.Info("awaiting approval", "approval_id", approvalID)

	approved, err := r.o.gate.wait(ctx, approvalID, ch, r.o.approvalTimeout)
	if errors.Is(err, ErrApprovalTimeout) {
		approved, err = false, nil
	}
	if err != nil {
		return false, err
	}

	r.publish(events.ApprovalResponded{
		Meta:       r.meta(),
		ApprovalID: approvalID,
		ToolCallID: call.ID,
		Approved:   approved,
	})
	return approved, nil
}

// handOff emits the approval request for a tool fulfilled outside the loop.
// The loop does not wait; the response is published when it arrives.
func (r *runner) handOff(ctx context.Context, call ToolCall, logger *slog.Logger) error {
	approvalID := "approval-" + uuid.New().String()
	meta := r.meta()
	err := r.o.gate.handOff(approvalID, func(approved bool) {
		m := meta
		m.Timestamp = chunk.Now()
		r.publish(events.ApprovalResponded{
			Meta:       m,
			ApprovalID: approvalID,
			ToolCallID: call.ID,
			Approved:   approved,
		})
	})
	if err != nil {
		return err
	}
	logger.Info("tool handed off", "approval_id", approvalID)
	return r.forward(ctx, r.approvalChunk(call, approvalID))
}

func (r *runner) approvalChunk(call ToolCall, approvalID string) *chunk.StreamChunk {
	var input json.RawMessage
	if args := strings.TrimSpace(call.Function.Arguments); args != "" && gjson.Valid(args) {
		input = json.RawMessage(args)
	}
	c := chunk.Approval(uuid.New().String(), r.req.Model, approvalID, call.ID, call.Function.Name, input)
	c.MessageID = r.messageID
	return c
}

func (r *runner) execute(ctx context.Context, tool *tools.Tool, call ToolCall, logger *slog.Logger) error {
	args := strings.TrimSpace(call.Function.Arguments)
	if !gjson.Valid(args) {
		r.toolFailed(call, fmt.Errorf("%w: %s", ErrMalformedArguments, call.Function.Name), logger)
		return nil
	}

	logger.Info("→ executing tool")
	start := time.Now()
	// A started tool runs to completion even if the run is cancelled.
	result, err := tool.Execute(context.WithoutCancel(ctx), json.RawMessage(args))
	d := time.Since(start)
	if err != nil {
		r.toolFailed(call, err, logger)
		return nil
	}
	logger.Info("← tool completed", "duration", d)

	r.stats.Executed++
	r.appendToolMessage(call.ID, result)
	r.publish(events.ToolCallCompleted{
		Meta:       r.meta(),
		ToolCallID: call.ID,
		ToolName:   call.Function.Name,
		Result:     result,
		DurationMS: d.Milliseconds(),
	})

	res := chunk.ToolResult(uuid.New().String(), r.req.Model, call.ID, call.Function.Name, result, d)
	res.MessageID = r.messageID
	if err := r.send(ctx, res); err != nil {
		return err
	}
	note := fmt.Sprintf("[Tool %s executed]", call.Function.Name)
	return r.send(ctx, chunk.Content(uuid.New().String(), r.req.Model, "", note))
}

func (r *runner) toolFailed(call ToolCall, err error, logger *slog.Logger) {
	r.stats.ToolErrors++
	logger.Warn("tool failed", "error", err)

	payload := errorPayload(err.Error())
	r.appendToolMessage(call.ID, payload)
	r.publish(events.ProcessorToolResultStateChanged{
		Meta:       r.meta(),
		ToolCallID: call.ID,
		Content:    payload,
		State:      events.ResultError,
		Error:      err.Error(),
	})
}

func (r *runner) appendToolMessage(toolCallID, content string) {
	r.messages = append(r.messages, Message{
		Role:       chunk.RoleTool,
		Content:    &content,
		ToolCallID: toolCallID,
	})
}

// fail emits one error chunk for a turn that could not start.
func (r *runner) fail(ctx context.Context, err error) error {
	r.logger.Error("model turn failed", "error", err)
	c := chunk.Failure(uuid.New().String(), r.req.Model, err)
	c.MessageID = r.messageID
	if sendErr := r.forward(ctx, c); sendErr != nil {
		return sendErr
	}
	return fmt.Errorf("%w: %w", ErrAdapter, err)
}

// streamFailed ends the run after an error chunk from the adapter. The
// chunk has already been forwarded.
func (r *runner) streamFailed(c *chunk.StreamChunk) error {
	msg := "stream failed"
	if c.Error != nil && c.Error.Message != "" {
		msg = c.Error.Message
	}
	r.logger.Error("model stream failed", "error", msg)
	return fmt.Errorf("%w: %s", ErrAdapter, msg)
}

// forward publishes c on the bus and delivers it to the consumer.
func (r *runner) forward(ctx context.Context, c *chunk.StreamChunk) error {
	r.publishChunk(c, nil)
	return r.send(ctx, c)
}

// publishChunk publishes the stream event for c. Tool-call fragments are
// attributed to the call assembled at their index.
func (r *runner) publishChunk(c *chunk.StreamChunk, acc *accumulator) {
	ev, ok := events.FromChunk(r.meta(), c)
	if !ok {
		return
	}
	if call, isCall := ev.(events.ChunkToolCall); isCall && acc != nil {
		if id := acc.id(c.Index); id != "" {
			call.ToolCallID = id
			ev = call
		}
	}
	r.publish(ev)
}

func (r *runner) send(ctx context.Context, c *chunk.StreamChunk) error {
	select {
	case r.out <- c:
		r.chunks++
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *runner) meta() events.Meta {
	return events.Meta{
		StreamID:  r.run.StreamID,
		RequestID: r.run.RequestID,
		ClientID:  r.req.ClientID,
		MessageID: r.messageID,
		Timestamp: chunk.Now(),
	}
}

func (r *runner) publish(ev events.Event) {
	if r.o.publisher == nil {
		return
	}
	if err := r.o.publisher.Publish(ev); err != nil {
		r.logger.Debug("event not published", "topic", ev.Topic(), "error", err)
	}
}

// errorPayload renders {"error": msg} for the model.
func errorPayload(msg string) string {
	out, err := sjson.Set(`{}`, "error", msg)
	if err != nil {
		return `{"error":"tool failed"}`
	}
	return out
}
