package tool

import (
	"github.com/weftworks/weft/core"
	"github.com/weftworks/weft/internal/schema"
)

// FunctionTool adapts a plain Go function into a Tool.
//
// Arguments supplied by the model are validated against the declared schema
// before the function runs; a validation mismatch is a non-retryable failure
// and the function is never invoked. The function itself classifies its own
// failures through the outcome it returns.
//
// A FunctionTool has no internal mutable state after construction and is safe
// for concurrent use.
type FunctionTool struct {
	name        string
	description string
	parameters  map[string]any
	fn          Func
}

// NewFunctionTool constructs a FunctionTool from an explicit schema and
// function.
//
// Example:
//
//	rateTool := NewFunctionTool(
//	  "exchange_rate",
//	  "Look up the conversion rate between two currencies",
//	  map[string]any{
//	    "type": "object",
//	    "properties": map[string]any{
//	      "base":   map[string]any{"type": "string"},
//	      "target": map[string]any{"type": "string"},
//	    },
//	    "required": []string{"base", "target"},
//	  },
//	  func(tc *core.ToolContext, args map[string]any) core.Outcome {
//	    return core.Success(rates[args["base"].(string)][args["target"].(string)])
//	  },
//	)
func NewFunctionTool(name, description string, parameters map[string]any, fn Func) *FunctionTool {
	return &FunctionTool{
		name:        name,
		description: description,
		parameters:  parameters,
		fn:          fn,
	}
}

// NewFunctionToolFromStruct derives the parameter schema from a struct via
// reflection (json and description tags). Convenient for simple argument
// containers.
func NewFunctionToolFromStruct(name, description string, structType any, fn Func) *FunctionTool {
	return NewFunctionTool(name, description, schema.FromStruct(structType), fn)
}

// Name returns the unique tool name used in function call declarations.
func (t *FunctionTool) Name() string { return t.name }

// Description returns the description exposed to models.
func (t *FunctionTool) Description() string { return t.description }

// Parameters returns the JSON schema describing expected arguments.
func (t *FunctionTool) Parameters() map[string]any { return t.parameters }

// Call validates args against the declared schema, then invokes the wrapped
// function. Validation failures surface as non-retryable failures without
// running the function.
func (t *FunctionTool) Call(toolCtx *core.ToolContext, args map[string]any) core.Outcome {
	if err := schema.Validate(args, t.parameters); err != nil {
		toolCtx.Logger().Warn("tool.call.validation_failed", "tool", t.name, "error", err.Error())
		return core.Fail(&core.Failure{
			Kind:    core.KindNonRetryable,
			Message: "parameter validation failed: " + err.Error(),
			Err:     err,
		})
	}
	return t.fn(toolCtx, args)
}
