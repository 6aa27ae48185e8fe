package tool

import (
	"github.com/weftworks/weft/core"
)

// ExitToolName is the registered name of the loop termination tool.
const ExitToolName = "exit_loop"

// NewExitTool returns the tool a loop child calls to signal that the loop's
// goal is met. It raises the explicit termination action on the call's
// response event; loop orchestrators react to that signal only, never to
// output text.
func NewExitTool() *FunctionTool {
	return NewFunctionTool(
		ExitToolName,
		"Signal that the current loop has reached its goal and iteration should stop. Call this only when the task is complete.",
		map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		func(toolCtx *core.ToolContext, _ map[string]any) core.Outcome {
			toolCtx.Terminate()
			toolCtx.Logger().Info("tool.exit_loop.signaled", "agent", toolCtx.AgentName())
			return core.Success(map[string]any{"status": "terminating"})
		},
	)
}
