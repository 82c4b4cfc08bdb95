// Package tools declares the tools a model may call and keeps them in a
// name-keyed registry.
//
// # Declaring tools
//
//	type lookupInput struct {
//		ID string `json:"id" jsonschema_description:"Item identifier"`
//	}
//
//	reg := tools.NewRegistry(logger)
//	reg.Register(tools.Tool{
//		Name:       "lookup",
//		Parameters: tools.SchemaFor[lookupInput](),
//		Execute:    lookup,
//	})
//
// A Tool with a nil Execute is fulfilled outside the loop (for example by a
// client). NeedsApproval requests a human decision before execution.
//
// # Packs
//
// Tools are grouped into packs so a related set can be added or removed
// together. Names are unique across all packs.
package tools
