// Package orchestrator runs the model/tool loop.
//
// Each Run streams a model turn through an Adapter and forwards every chunk
// to the caller. When the turn ends with finish reason tool_calls, the
// requested tools run, their results are appended to the working message
// list, and the model is called again. The loop stops when the model
// finishes without tool calls, after MaxIterations turns, on an adapter
// failure, or when the context is cancelled.
//
//	o := orchestrator.New(orchestrator.Config{Adapter: a, Registry: reg, Publisher: bus})
//	run := o.Run(ctx, orchestrator.Request{Model: "gpt-4o", Messages: msgs})
//	for c := range run.C {
//	    ...
//	}
//
// Tools flagged NeedsApproval emit an approval chunk and wait on the
// ApprovalGate until Respond is called with the chunk's approval id. A tool
// with no executor is handed off instead: the loop moves on, and the later
// response is published as an ApprovalResponded event.
package orchestrator
