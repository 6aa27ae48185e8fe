package agent

import (
	"fmt"

	"github.com/weftworks/weft/core"
)

// Loop exit reasons recorded in the completion event metadata.
const (
	ExitTerminated    = "terminated"
	ExitMaxIterations = "max_iterations"
)

// Loop runs its child sequence repeatedly, up to MaxIterations cycles, over
// the shared working session. Termination is decided by the loop itself: it
// watches child events for the explicit terminate action (set by the exit
// tool), never output text. A signal observed mid-cycle finishes that child
// and skips the rest of the cycle. Reaching the iteration bound is a defined
// completion, not a failure.
//
// A Pending outcome suspends the loop at the exact iteration and child
// index; resume continues that cycle.
type Loop struct {
	BaseAgent
	children      []core.Agent
	maxIterations int
}

// NewLoop creates a bounded loop. maxIterations must be at least 1.
// Construction rejects duplicate child names and duplicate declared output
// keys within one cycle; a child re-writing its own key across cycles is the
// intended contract.
func NewLoop(name string, maxIterations int, children ...core.Agent) (*Loop, error) {
	if maxIterations < 1 {
		return nil, fmt.Errorf("loop %s: max iterations must be positive, got %d", name, maxIterations)
	}
	if err := validateChildren("loop "+name, children); err != nil {
		return nil, err
	}
	l := &Loop{BaseAgent: NewBaseAgent(name), children: children, maxIterations: maxIterations}
	l.SetDescription(fmt.Sprintf("Cycles %d agents up to %d times", len(children), maxIterations))
	return l, nil
}

// Children exposes the ordered child set for workflow traversal.
func (l *Loop) Children() []core.Agent {
	out := make([]core.Agent, len(l.children))
	copy(out, l.children)
	return out
}

// MaxIterations returns the iteration bound.
func (l *Loop) MaxIterations() int { return l.maxIterations }

// Run implements core.Agent.
func (l *Loop) Run(rc *core.RunContext) core.Outcome {
	startIter, startIdx := 1, 0
	var childRs *core.ResumeState
	if rs := rc.Resume; rs != nil {
		if f, sub := rs.Enter(l.Name()); sub != nil {
			if f.Iteration >= 1 && f.Iteration <= l.maxIterations {
				startIter = f.Iteration
			}
			if f.Index >= 0 && f.Index < len(l.children) {
				startIdx = f.Index
			}
			childRs = sub
		}
	}

	last := core.Success(nil)
	iterations := 0
	exit := ExitMaxIterations

	for iter := startIter; iter <= l.maxIterations; iter++ {
		if err := rc.Err(); err != nil {
			return core.Fail(cancelFailure(l.Name(), err))
		}
		rc.LogDebug("agent.loop.iteration", "agent", l.Name(), "iteration", iter)

		terminated := false
		first := 0
		if iter == startIter {
			first = startIdx
		}
		for idx := first; idx < len(l.children); idx++ {
			child := l.children[idx]
			var crs *core.ResumeState
			if iter == startIter && idx == startIdx {
				crs = childRs
			}

			out, term := l.runChild(rc, child, crs)
			switch {
			case out.IsPending():
				for _, rec := range out.Suspensions {
					rec.PushFrame(core.Frame{Agent: l.Name(), Kind: core.FrameLoop, Index: idx, Iteration: iter})
				}
				rc.LogInfo("agent.loop.suspended", "agent", l.Name(),
					"child", child.Name(), "iteration", iter, "index", idx)
				return out
			case out.IsFailed():
				return core.Fail(childFailure(out.Failure, "loop %s iteration %d failed at agent %s",
					l.Name(), iter, child.Name()))
			}
			last = out

			if term {
				terminated = true
				break
			}
		}

		iterations = iter
		if terminated {
			exit = ExitTerminated
			break
		}
	}

	rc.LogInfo("agent.loop.complete", "agent", l.Name(), "iterations", iterations, "exit", exit)

	ev := core.NewEvent(rc.InvocationID, l.Name())
	ev.Metadata = map[string]any{"iterations": iterations, "exit_reason": exit}
	if err := rc.EmitEvent(ev); err != nil {
		return core.Fail(cancelFailure(l.Name(), err))
	}
	return core.Success(last.Value)
}

// runChild executes one child while intercepting its events to watch for the
// terminate action before forwarding them to the parent scope. The second
// return reports whether the child raised the termination signal.
func (l *Loop) runChild(rc *core.RunContext, child core.Agent, childRs *core.ResumeState) (core.Outcome, bool) {
	intercept := make(chan core.Event, 16)
	crc := childContext(rc, child, childRs).WithEmit(intercept)

	done := make(chan core.Outcome, 1)
	go func() { done <- child.Run(crc) }()

	terminated := false
	note := func(ev core.Event) {
		if ev.Actions.Terminate && !terminated {
			terminated = true
			rc.LogInfo("agent.loop.terminate_signal", "agent", l.Name(), "author", ev.Author)
		}
	}

	for {
		select {
		case ev := <-intercept:
			note(ev)
			if err := rc.ForwardEvent(ev); err != nil {
				out := <-done
				if !out.IsFailed() {
					out = core.Fail(cancelFailure(l.Name(), err))
				}
				return out, terminated
			}
		case out := <-done:
			// The child is finished; drain what it buffered before returning.
			for {
				select {
				case ev := <-intercept:
					note(ev)
					if err := rc.ForwardEvent(ev); err != nil {
						return out, terminated
					}
				default:
					return out, terminated
				}
			}
		}
	}
}
