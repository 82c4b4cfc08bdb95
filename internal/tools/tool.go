// ABOUTME: Tool declarations: name, description, JSON Schema parameters and an optional executor.
// ABOUTME: Tools without an executor are fulfilled outside the loop; NeedsApproval gates execution.

package tools

import (
	"context"
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// ExecuteFunc runs a tool with its JSON arguments and returns the raw result text.
type ExecuteFunc func(ctx context.Context, input json.RawMessage) (string, error)

// Tool is a capability the model may invoke.
type Tool struct {
	Name          string
	Description   string
	Parameters    *jsonschema.Schema
	Execute       ExecuteFunc
	NeedsApproval bool
}

// Executable reports whether the tool runs inside the loop.
func (t *Tool) Executable() bool {
	return t.Execute != nil
}

// Definition is the model-facing description of a tool.
type Definition struct {
	Name          string             `json:"name"`
	Description   string             `json:"description"`
	Parameters    *jsonschema.Schema `json:"parameters,omitempty"`
	NeedsApproval bool               `json:"needsApproval,omitempty"`
}

// Definition returns the model-facing description of t.
func (t *Tool) Definition() Definition {
	return Definition{
		Name:          t.Name,
		Description:   t.Description,
		Parameters:    t.Parameters,
		NeedsApproval: t.NeedsApproval,
	}
}

// SchemaFor derives an inline JSON Schema from the struct type T.
// Field descriptions come from jsonschema_description tags.
func SchemaFor[T any]() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	return reflector.Reflect(v)
}
