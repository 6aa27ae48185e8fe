package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/weftworks/weft/core"
)

// BaseAgent carries the identity every agent implementation shares: name,
// description and the optional shared-state output key. Embed it in concrete
// agents and supply Run to satisfy core.Agent.
type BaseAgent struct {
	name        string
	description string
	outputKey   string
}

// NewBaseAgent constructs a BaseAgent with a generated description
// (customizable via SetDescription).
func NewBaseAgent(name string) BaseAgent {
	return BaseAgent{name: name, description: fmt.Sprintf("Agent %s", name)}
}

// Name returns the agent's name, unique within a workflow.
func (b *BaseAgent) Name() string { return b.name }

// Description returns a summary of the agent's purpose.
func (b *BaseAgent) Description() string { return b.description }

// SetDescription updates the agent's description.
func (b *BaseAgent) SetDescription(desc string) { b.description = desc }

// OutputKey returns the shared-state slot the agent writes its final result
// to, empty when the agent declares none.
func (b *BaseAgent) OutputKey() string { return b.outputKey }

// SetOutputKey declares the shared-state slot for the agent's final result.
func (b *BaseAgent) SetOutputKey(key string) { b.outputKey = key }

// buildBranchPath composes a hierarchical branch identifier used to scope
// child agent events. An empty parent yields the child alone.
func buildBranchPath(parent, child string) string {
	if parent == "" {
		return child
	}
	if child == "" {
		return parent
	}
	return parent + "." + child
}

// agentType categorizes an agent for event and log metadata.
func agentType(a core.Agent) string {
	switch a.(type) {
	case *LLMAgent:
		return "llm"
	case *Sequential:
		return "sequential"
	case *Parallel:
		return "parallel"
	case *Loop:
		return "loop"
	default:
		return "agent"
	}
}

// childContext derives the execution scope a composite hands to one child:
// same branch and working session, the child's identity, and exactly the
// resume descent intended for it (nil for children off the resume path, so a
// parent's leftover descent never leaks sideways).
func childContext(rc *core.RunContext, child core.Agent, rs *core.ResumeState) *core.RunContext {
	return rc.WithAgent(core.AgentInfo{Name: child.Name(), Type: agentType(child)}, rc.Branch).WithResume(rs)
}

// childFailure wraps a child's failure with composite context while
// preserving the originating kind and code for propagation decisions.
func childFailure(f *core.Failure, format string, args ...any) *core.Failure {
	return &core.Failure{
		Kind:    f.Kind,
		Code:    f.Code,
		Message: fmt.Sprintf(format, args...) + ": " + f.Message,
		Err:     f,
	}
}

// cancelFailure classifies a context error: deadline expiry or cancellation.
func cancelFailure(agent string, err error) *core.Failure {
	kind := core.KindCancelled
	if errors.Is(err, context.DeadlineExceeded) {
		kind = core.KindDeadline
	}
	return &core.Failure{Kind: kind, Message: fmt.Sprintf("agent %s: %s", agent, err), Err: err}
}

// validateChildren rejects duplicate child names (frame descent matches by
// name) and duplicate declared output keys within one composite.
func validateChildren(parent string, children []core.Agent) error {
	names := map[string]bool{}
	keys := map[string]string{}
	for _, c := range children {
		if names[c.Name()] {
			return fmt.Errorf("%s: duplicate child agent name %q", parent, c.Name())
		}
		names[c.Name()] = true

		k := c.OutputKey()
		if k == "" {
			continue
		}
		if prev, ok := keys[k]; ok {
			return fmt.Errorf("%s: agents %s and %s declare the same output key %q", parent, prev, c.Name(), k)
		}
		keys[k] = c.Name()
	}
	return nil
}
