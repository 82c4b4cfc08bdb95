// ABOUTME: script subcommand: runs the tool loop against a YAML-scripted model and canned tools
// ABOUTME: Approvals are answered automatically; the resulting conversation is rebuilt through the store

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"

	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"

	"github.com/2389/agentloop/internal/chunk"
	"github.com/2389/agentloop/internal/orchestrator"
	"github.com/2389/agentloop/internal/tools"
)

// Script describes a canned model and the tools it may call.
type Script struct {
	Model    string       `yaml:"model"`
	Provider string       `yaml:"provider"`
	Prompt   string       `yaml:"prompt"`
	Approve  *bool        `yaml:"approve"`
	Tools    []ScriptTool `yaml:"tools"`
	Turns    []ScriptTurn `yaml:"turns"`
}

// ScriptTool is a tool whose execution returns a fixed result. A tool with
// External set has no executor and is left to the caller. Parameters maps
// argument names to descriptions; every argument is a string.
type ScriptTool struct {
	Name          string            `yaml:"name"`
	Description   string            `yaml:"description"`
	Parameters    map[string]string `yaml:"parameters"`
	Result        string            `yaml:"result"`
	Error         string            `yaml:"error"`
	NeedsApproval bool              `yaml:"needs_approval"`
	External      bool              `yaml:"external"`
}

// scriptArgs is what a tool without declared parameters accepts.
type scriptArgs map[string]any

// scriptPack is the registry pack holding a script's tools.
const scriptPack = "script"

// ScriptTurn is one model response: text, tool calls, or an adapter failure.
type ScriptTurn struct {
	Text      string       `yaml:"text"`
	ToolCalls []ScriptCall `yaml:"tool_calls"`
	Error     string       `yaml:"error"`
}

// ScriptCall is a tool call the scripted model makes.
type ScriptCall struct {
	ID        string `yaml:"id"`
	Name      string `yaml:"name"`
	Arguments string `yaml:"arguments"`
}

const defaultScript = `
model: gpt-4o
provider: scripted
prompt: What guitars do you have from Fender?
tools:
  - name: getGuitars
    description: List guitars in stock
    parameters:
      brand: Only list guitars from this brand
    result: '[{"brand":"Fender","model":"Stratocaster"},{"brand":"Fender","model":"Telecaster"}]'
  - name: reserveGuitar
    description: Put a guitar on hold for the customer
    parameters:
      model: The model to reserve
    needs_approval: true
    result: '{"reserved":true}'
turns:
  - tool_calls:
      - id: call_1
        name: getGuitars
        arguments: '{"brand":"Fender"}'
  - tool_calls:
      - id: call_2
        name: reserveGuitar
        arguments: '{"model":"Stratocaster"}'
  - text: We have a Stratocaster and a Telecaster. The Stratocaster is now on hold for you.
`

func runScript(ctx context.Context, args []string) error {
	var deny bool
	e, err := setup("script", args, func(fs *flag.FlagSet) {
		fs.BoolVar(&deny, "deny", false, "deny every approval request")
	})
	if err != nil {
		return err
	}

	script, err := loadScript(e.args)
	if err != nil {
		return err
	}
	if deny {
		no := false
		script.Approve = &no
	}

	registry, err := script.registry(e.logger)
	if err != nil {
		return err
	}

	p := newPipeline(e)
	defer p.close()

	gate := orchestrator.NewApprovalGate(orchestrator.GateConfig{
		Logger:       e.logger,
		ResponseTTL:  e.cfg.Dedupe.TTL,
		MaxResponses: e.cfg.Dedupe.MaxSize,
	})
	defer gate.Close()

	o := orchestrator.New(orchestrator.Config{
		Adapter:         orchestrator.NewScriptedAdapter(script.Provider, script.turns()...),
		Registry:        registry,
		Gate:            gate,
		Publisher:       p.bus,
		Logger:          e.logger,
		MaxIterations:   e.cfg.Orchestrator.MaxIterations,
		ApprovalTimeout: e.cfg.Orchestrator.ApprovalTimeout,
	})

	run := o.Run(ctx, orchestrator.Request{
		Model:    script.Model,
		Messages: []orchestrator.Message{orchestrator.Text(chunk.RoleUser, script.Prompt)},
	})

	out := newChunkPrinter(os.Stdout)
	for c := range run.C {
		out.print(c)
		if c.Type == chunk.TypeApproval {
			answerApproval(gate, c, script.approves(), out, e.logger)
		}
	}
	out.finish()

	p.store.Flush()
	printRunStats(os.Stdout, run.Stats(), len(run.Messages()))
	printConversations(os.Stdout, p.store.Conversations())
	return run.Err()
}

func answerApproval(gate *orchestrator.ApprovalGate, c *chunk.StreamChunk, approve bool, out *chunkPrinter, logger *slog.Logger) {
	if err := gate.Respond(orchestrator.Response{ID: c.ApprovalID, Approved: approve}); err != nil {
		logger.Warn("approval response failed", "approval_id", c.ApprovalID, "error", err)
		return
	}
	out.approval(c.ToolName, approve)
}

// loadScript reads the script named by args, or the built-in one.
func loadScript(args []string) (*Script, error) {
	data := []byte(defaultScript)
	if len(args) > 0 {
		in, err := open(args)
		if err != nil {
			return nil, err
		}
		defer in.Close()
		if data, err = io.ReadAll(in); err != nil {
			return nil, fmt.Errorf("reading script: %w", err)
		}
	}
	return parseScript(data)
}

func parseScript(data []byte) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing script: %w", err)
	}
	if s.Model == "" {
		return nil, errors.New("script: model is required")
	}
	if s.Provider == "" {
		s.Provider = "scripted"
	}
	for i, t := range s.Turns {
		for j, call := range t.ToolCalls {
			if call.ID == "" || call.Name == "" {
				return nil, fmt.Errorf("script: turn %d call %d needs id and name", i, j)
			}
		}
	}
	return &s, nil
}

func (s *Script) approves() bool {
	return s.Approve == nil || *s.Approve
}

func (s *Script) registry(logger *slog.Logger) (*tools.Registry, error) {
	reg := tools.NewRegistry(logger)
	ts := make([]tools.Tool, 0, len(s.Tools))
	for _, st := range s.Tools {
		t := tools.Tool{
			Name:          st.Name,
			Description:   st.Description,
			Parameters:    st.schema(),
			NeedsApproval: st.NeedsApproval,
		}
		if !st.External {
			t.Execute = st.execute
		}
		ts = append(ts, t)
	}
	if err := reg.RegisterPack(scriptPack, ts...); err != nil {
		return nil, fmt.Errorf("registering script tools: %w", err)
	}
	if reg.Len() == 0 {
		logger.Warn("script declares no tools; the model can only answer in text")
	}
	return reg, nil
}

// schema describes the tool's arguments as an object of string properties,
// or as any object when none are declared.
func (st ScriptTool) schema() *jsonschema.Schema {
	s := tools.SchemaFor[scriptArgs]()
	if len(st.Parameters) == 0 {
		return s
	}
	s.Properties = jsonschema.NewProperties()
	for _, name := range slices.Sorted(maps.Keys(st.Parameters)) {
		s.Properties.Set(name, &jsonschema.Schema{Type: "string", Description: st.Parameters[name]})
	}
	return s
}

// execute returns the configured result, or echoes the input when none is set.
func (st ScriptTool) execute(_ context.Context, input json.RawMessage) (string, error) {
	if st.Error != "" {
		return "", errors.New(st.Error)
	}
	if st.Result != "" {
		return st.Result, nil
	}
	return string(input), nil
}

func (s *Script) turns() []orchestrator.Turn {
	out := make([]orchestrator.Turn, 0, len(s.Turns))
	for _, t := range s.Turns {
		switch {
		case t.Error != "":
			out = append(out, orchestrator.Turn{Err: errors.New(t.Error)})
		case len(t.ToolCalls) > 0:
			calls := make([]orchestrator.ToolCall, len(t.ToolCalls))
			for i, c := range t.ToolCalls {
				calls[i] = orchestrator.Call(c.ID, c.Name, c.Arguments)
			}
			out = append(out, orchestrator.ToolCallTurn(s.Model, calls...))
		default:
			out = append(out, orchestrator.TextTurn(s.Model, t.Text))
		}
	}
	return out
}
