package core

// Agent is a unit of orchestrated work. Implementations receive a RunContext,
// emit events through it, and report a tri-state Outcome: Success with a
// final value, Pending with suspension records, or Failed.
//
// Agents are stateless templates; all execution state lives in the session.
// Implementations must respect context cancellation and, when resuming,
// honor the RunContext's ResumeState instead of restarting completed work.
type Agent interface {
	// Name uniquely identifies the agent within a workflow.
	Name() string
	// Description summarizes the agent for logs and nested-tool exposure.
	Description() string
	// OutputKey names the shared-state slot the agent's final result is
	// written to, empty when the agent declares none.
	OutputKey() string
	// Run executes the agent within the given context.
	Run(rc *RunContext) Outcome
}

// CompositeAgent is implemented by orchestrators exposing their children,
// enabling static workflow validation and traversal.
type CompositeAgent interface {
	Agent
	Children() []Agent
}

// AgentInfo carries identifying details about an agent used in contexts and
// events. Type categorizes the implementation (e.g. "llm", "sequential").
type AgentInfo struct{ Name, Type string }
