package tool

import (
	"github.com/weftworks/weft/core"
)

// AgentTool exposes a nested agent as a callable tool. The wrapped agent runs
// its full execution in a branch scoped under the caller; its final output
// adapts to the tool result. A Pending outcome from anywhere inside the
// wrapped agent propagates unchanged, so suspension stays transparent through
// arbitrary nesting.
type AgentTool struct {
	agent core.Agent
}

// NewAgentTool wraps an agent as a tool.
func NewAgentTool(agent core.Agent) *AgentTool {
	return &AgentTool{agent: agent}
}

// Name returns the wrapped agent's name.
func (t *AgentTool) Name() string { return t.agent.Name() }

// Description returns the wrapped agent's description.
func (t *AgentTool) Description() string { return t.agent.Description() }

// Parameters declares a single free-text request argument.
func (t *AgentTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"request": map[string]any{
				"type":        "string",
				"description": "Task to hand to the " + t.agent.Name() + " agent",
			},
		},
		"required": []string{"request"},
	}
}

// Call runs the wrapped agent in a child scope sharing the caller's working
// session. The resume state flows through untouched, so a suspended nested
// run reattaches at the original tool call.
func (t *AgentTool) Call(toolCtx *core.ToolContext, args map[string]any) core.Outcome {
	rc := toolCtx.InternalRunContext()

	branch := t.agent.Name()
	if rc.Branch != "" {
		branch = rc.Branch + "." + branch
	}
	child := rc.WithAgent(core.AgentInfo{Name: t.agent.Name(), Type: "agent_tool"}, branch)
	if request, ok := args["request"].(string); ok && request != "" {
		child = child.WithUserContent(core.NewUserContent(request))
	}

	return t.agent.Run(child)
}
