package agent

import (
	"errors"
	"fmt"
	"maps"

	"golang.org/x/sync/errgroup"

	"github.com/weftworks/weft/core"
)

// Parallel coordinates concurrent child agents over frozen snapshots of the
// shared session. Each child runs in its own goroutine on a cloned working
// copy; its events are forwarded to the consumer with state deltas stripped
// and buffered per child. On all-Success the buffered deltas merge in
// declaration order, making the merged state independent of completion
// order. Two siblings writing the same key is a merge_conflict failure.
//
// A child's Failure cancels outstanding siblings and propagates. A child's
// Pending suspends the whole group: the frame caches completed siblings'
// deltas and still-pending siblings' continuations so resume re-invokes only
// the children that have not finished.
type Parallel struct {
	BaseAgent
	children []core.Agent
}

// NewParallel creates a parallel fan-out group. Construction rejects
// duplicate child names and duplicate declared output keys.
func NewParallel(name string, children ...core.Agent) (*Parallel, error) {
	if err := validateChildren("parallel "+name, children); err != nil {
		return nil, err
	}
	p := &Parallel{BaseAgent: NewBaseAgent(name), children: children}
	p.SetDescription(fmt.Sprintf("Runs %d agents concurrently over a shared snapshot", len(children)))
	return p, nil
}

// Children exposes the declared child set for workflow traversal.
func (p *Parallel) Children() []core.Agent {
	out := make([]core.Agent, len(p.children))
	copy(out, p.children)
	return out
}

// childRun tracks one declared child across fan-out, suspension and resume.
type childRun struct {
	agent     core.Agent
	branch    string
	delta     map[string]any
	artifacts map[string]int
	outcome   core.Outcome
	ran       bool
}

// Run implements core.Agent.
func (p *Parallel) Run(rc *core.RunContext) core.Outcome {
	if len(p.children) == 0 {
		return core.Success(map[string]any{})
	}

	var frame core.Frame
	var sub *core.ResumeState
	if rs := rc.Resume; rs != nil {
		frame, sub = rs.Enter(p.Name())
	}
	completed := map[string]bool{}
	for _, name := range frame.Completed {
		completed[name] = true
	}

	// The targeted resume descent names the next node on its path; every
	// other still-pending child gets a synthesized descent from the frame.
	target := ""
	if sub != nil {
		if next, ok := sub.Peek(); ok {
			target = next.Agent
		}
	}

	runs := make([]*childRun, len(p.children))
	for i, c := range p.children {
		runs[i] = &childRun{
			agent:     c,
			branch:    buildBranchPath(rc.Branch, p.Name()+"."+c.Name()),
			delta:     map[string]any{},
			artifacts: map[string]int{},
		}
		if d, ok := frame.Deltas[c.Name()]; ok {
			maps.Copy(runs[i].delta, d)
		}
	}

	intercept := make(chan core.Event, 64)
	g, gctx := errgroup.WithContext(rc.Context)

	launched := 0
	for i := range runs {
		r := runs[i]
		name := r.agent.Name()
		if completed[name] {
			continue
		}

		var childRs *core.ResumeState
		if sub != nil {
			if name == target {
				childRs = sub
			} else if frames, ok := frame.Suspended[name]; ok {
				childRs = sub.Branch(frames)
			}
		}

		crc := rc.Fork(gctx, core.AgentInfo{Name: name, Type: agentType(r.agent)}, r.branch, intercept).WithResume(childRs)
		// A resumed child sees its pre-suspension writes in its snapshot.
		if d, ok := frame.Deltas[name]; ok {
			crc.Session.ApplyStateDelta(d)
		}

		g.Go(func() error {
			out := r.agent.Run(crc)
			r.outcome = out
			r.ran = true
			if out.IsFailed() {
				return out.Failure
			}
			return nil
		})
		launched++
	}

	rc.LogDebug("agent.parallel.fanout", "agent", p.Name(), "children", len(p.children), "launched", launched)

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- g.Wait()
		close(intercept)
	}()

	// Single forward loop: serializes the event log, strips sibling deltas
	// into per-child buffers and relays events to the consumer.
	forwarding := true
	for ev := range intercept {
		if owner := p.owner(runs, ev.Branch); owner != nil {
			if len(ev.Actions.StateDelta) > 0 {
				maps.Copy(owner.delta, ev.Actions.StateDelta)
				ev.Actions.StateDelta = nil
			}
			for name, version := range ev.Actions.ArtifactDelta {
				if version > owner.artifacts[name] {
					owner.artifacts[name] = version
				}
			}
			ev.Actions.ArtifactDelta = nil
		}
		rc.Session.AddEvent(ev)
		if forwarding {
			if err := rc.ForwardEvent(ev); err != nil {
				forwarding = false
			}
		}
	}
	groupErr := <-waitErr

	// Fail-fast: the first failure wins; cancelled siblings' unmerged
	// deltas are discarded with their buffers.
	if groupErr != nil {
		var f *core.Failure
		if !errors.As(groupErr, &f) {
			f = core.WrapFailure(groupErr)
		}
		rc.LogWarn("agent.parallel.failed", "agent", p.Name(), "kind", string(f.Kind), "error", f.Message)
		return core.Fail(childFailure(f, "parallel %s", p.Name()))
	}

	if out, suspended := p.suspend(rc, runs, completed); suspended {
		return out
	}

	return p.merge(rc, runs)
}

// owner resolves the declared child a branch-stamped event belongs to.
func (p *Parallel) owner(runs []*childRun, branch string) *childRun {
	for _, r := range runs {
		if branch == r.branch || (len(branch) > len(r.branch) && branch[:len(r.branch)+1] == r.branch+".") {
			return r
		}
	}
	return nil
}

// suspend collects pending children into a group suspension. The frame
// carries everything resume needs: completed children (skipped), every
// buffered delta (replayed into the merge), and each still-pending child's
// continuation frames (re-invoked, others via synthesized descents).
func (p *Parallel) suspend(rc *core.RunContext, runs []*childRun, completed map[string]bool) (core.Outcome, bool) {
	pendingFrames := map[string][]core.Frame{}
	for _, r := range runs {
		if r.ran && r.outcome.IsPending() {
			if prim := r.outcome.Primary(); prim != nil {
				pendingFrames[r.agent.Name()] = append([]core.Frame{}, prim.Frames...)
			}
		}
	}
	if len(pendingFrames) == 0 {
		return core.Outcome{}, false
	}

	var completedNames []string
	deltas := map[string]map[string]any{}
	for _, r := range runs {
		name := r.agent.Name()
		if completed[name] || (r.ran && r.outcome.IsSuccess()) {
			completedNames = append(completedNames, name)
		}
		if len(r.delta) > 0 {
			deltas[name] = maps.Clone(r.delta)
		}
	}

	groupFrame := core.Frame{
		Agent:     p.Name(),
		Kind:      core.FrameParallel,
		Completed: completedNames,
		Deltas:    deltas,
		Suspended: pendingFrames,
	}

	var records []*core.Suspension
	for _, r := range runs {
		if r.ran && r.outcome.IsPending() {
			for _, s := range r.outcome.Suspensions {
				s.PushFrame(groupFrame)
				records = append(records, s)
			}
		}
	}

	rc.LogInfo("agent.parallel.suspended", "agent", p.Name(),
		"pending", len(pendingFrames), "completed", len(completedNames))
	return core.Pending(records...), true
}

// merge folds the buffered deltas into the parent scope in declaration
// order and emits the group completion event carrying the merged delta.
func (p *Parallel) merge(rc *core.RunContext, runs []*childRun) core.Outcome {
	owner := map[string]string{}
	merged := map[string]any{}
	artifacts := map[string]int{}
	for _, r := range runs {
		name := r.agent.Name()
		for k, v := range r.delta {
			if prev, dup := owner[k]; dup {
				return core.Fail(&core.Failure{
					Kind:    core.KindMergeConflict,
					Message: fmt.Sprintf("parallel %s: agents %s and %s both wrote state key %q", p.Name(), prev, name, k),
				})
			}
			owner[k] = name
			merged[k] = v
		}
		for n, v := range r.artifacts {
			if v > artifacts[n] {
				artifacts[n] = v
			}
		}
	}

	rc.ApplyStateDelta(merged)
	for n, v := range artifacts {
		rc.RecordArtifact(n, v)
	}

	names := make([]string, len(p.children))
	for i, c := range p.children {
		names[i] = c.Name()
	}
	ev := core.NewEvent(rc.InvocationID, p.Name())
	ev.Metadata = map[string]any{"parallel": p.Name(), "children": names}
	if err := rc.EmitEvent(ev); err != nil {
		return core.Fail(cancelFailure(p.Name(), err))
	}

	values := map[string]any{}
	for _, r := range runs {
		if r.ran && r.outcome.IsSuccess() && r.outcome.Value != nil {
			values[r.agent.Name()] = r.outcome.Value
		}
	}

	rc.LogInfo("agent.parallel.complete", "agent", p.Name(), "merged_keys", len(merged))
	return core.Success(values)
}
