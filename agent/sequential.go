package agent

import (
	"fmt"

	"github.com/weftworks/weft/core"
)

// Sequential coordinates child agents in declared order over the shared
// working session. A child's Success unlocks the next; Pending suspends the
// whole node at that child's index (later children never start); Failure
// aborts and propagates with the originating kind.
type Sequential struct {
	BaseAgent
	children []core.Agent
}

// NewSequential creates a sequential pipeline. Construction rejects duplicate
// child names and duplicate declared output keys within the chain.
func NewSequential(name string, children ...core.Agent) (*Sequential, error) {
	if err := validateChildren("sequential "+name, children); err != nil {
		return nil, err
	}
	s := &Sequential{BaseAgent: NewBaseAgent(name), children: children}
	s.SetDescription(fmt.Sprintf("Runs %d agents in declared order", len(children)))
	return s, nil
}

// Children exposes the ordered child set for workflow traversal.
func (s *Sequential) Children() []core.Agent {
	out := make([]core.Agent, len(s.children))
	copy(out, s.children)
	return out
}

// Run implements core.Agent. On resume the node consumes its frame and
// fast-forwards to the suspended child; completed children are never re-run.
func (s *Sequential) Run(rc *core.RunContext) core.Outcome {
	start := 0
	var childRs *core.ResumeState
	if rs := rc.Resume; rs != nil {
		if f, sub := rs.Enter(s.Name()); sub != nil {
			if f.Index >= 0 && f.Index < len(s.children) {
				start = f.Index
				childRs = sub
			}
		}
	}

	last := core.Success(nil)
	for i := start; i < len(s.children); i++ {
		if err := rc.Err(); err != nil {
			return core.Fail(cancelFailure(s.Name(), err))
		}

		child := s.children[i]
		var crs *core.ResumeState
		if i == start {
			crs = childRs
		}

		rc.LogDebug("agent.sequential.step", "agent", s.Name(), "child", child.Name(), "index", i)

		out := child.Run(childContext(rc, child, crs))
		switch {
		case out.IsPending():
			for _, rec := range out.Suspensions {
				rec.PushFrame(core.Frame{Agent: s.Name(), Kind: core.FrameSequential, Index: i})
			}
			rc.LogInfo("agent.sequential.suspended", "agent", s.Name(), "child", child.Name(), "index", i)
			return out
		case out.IsFailed():
			rc.LogWarn("agent.sequential.child_failed", "agent", s.Name(), "child", child.Name(),
				"kind", string(out.Failure.Kind))
			return core.Fail(childFailure(out.Failure, "sequential %s failed at agent %s", s.Name(), child.Name()))
		}
		last = out
	}

	return core.Success(last.Value)
}
