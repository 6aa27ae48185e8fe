// Package tool implements the capability layer agents invoke: schema
// validated function tools, nested agents exposed as tools, external
// processes speaking line-delimited JSON, and the Invoker that wraps every
// call with timeout, panic recovery, bounded retry and metrics.
package tool

import (
	"github.com/weftworks/weft/core"
	"github.com/weftworks/weft/internal/schema"
)

// Tool is a structured capability an agent can invoke.
//
// Implementations should:
//   - Provide clear, descriptive names (snake_case recommended)
//   - Define a JSON schema for parameters
//   - Be safe for concurrent use
//
// Call returns a core.Outcome: Success carries a JSON-serializable result,
// Pending carries a suspension record awaiting an external decision, and a
// Failure classifies the error for retry handling.
type Tool interface {
	// Name returns the unique identifier for this tool.
	Name() string

	// Description returns a human-readable description of what this tool
	// does. It is provided to the model to guide tool selection.
	Description() string

	// Parameters returns a JSON schema describing the expected arguments.
	Parameters() map[string]any

	// Call executes the tool. Arguments have been parsed from JSON; the
	// ToolContext gives access to session state, artifacts and the
	// suspension mechanism.
	Call(toolCtx *core.ToolContext, args map[string]any) core.Outcome
}

// Func is the signature of a plain Go function exposed as a tool.
type Func func(toolCtx *core.ToolContext, args map[string]any) core.Outcome

// ValidationError describes a parameter validation failure.
type ValidationError = schema.ValidationError
