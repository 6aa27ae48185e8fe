package agent

import (
	"context"
	"sync"
	"testing"

	"github.com/weftworks/weft/core"
)

var (
	_ core.Agent = (*LLMAgent)(nil)
	_ core.Agent = (*Sequential)(nil)
	_ core.Agent = (*Parallel)(nil)
	_ core.Agent = (*Loop)(nil)

	_ core.CompositeAgent = (*Sequential)(nil)
	_ core.CompositeAgent = (*Parallel)(nil)
	_ core.CompositeAgent = (*Loop)(nil)
)

// testChild is a scriptable leaf agent driven by a run function. It counts
// invocations and keeps the last run context it received so tests can assert
// on branch, resume state and session visibility.
type testChild struct {
	BaseAgent
	runFn func(rc *core.RunContext) core.Outcome

	mu   sync.Mutex
	runs int
	last *core.RunContext
}

func newTestChild(name string, runFn func(rc *core.RunContext) core.Outcome) *testChild {
	return &testChild{BaseAgent: NewBaseAgent(name), runFn: runFn}
}

func (c *testChild) Run(rc *core.RunContext) core.Outcome {
	c.mu.Lock()
	c.runs++
	c.last = rc
	c.mu.Unlock()
	if c.runFn == nil {
		return core.Success(nil)
	}
	return c.runFn(rc)
}

func (c *testChild) Runs() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runs
}

func (c *testChild) LastContext() *core.RunContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// succeeding builds the shape most pipeline steps take: write one state key,
// emit one event, report success.
func succeeding(name, key string, value any) *testChild {
	return newTestChild(name, func(rc *core.RunContext) core.Outcome {
		if key != "" {
			rc.SetState(key, value)
		}
		if err := rc.EmitEvent(core.NewMessageEvent(rc.InvocationID, name, name+" done", false)); err != nil {
			return core.FailErr(err)
		}
		return core.Success(value)
	})
}

// suspending builds a leaf that requests confirmation on its first run and
// honors the resolved decision afterwards, mirroring what a tool-backed agent
// does: the suspension record carries the leaf's own frame, and each re-run
// without a decision re-requests with the same stable approval id.
func suspending(name, callID string, decided *bool) *testChild {
	return newTestChild(name, func(rc *core.RunContext) core.Outcome {
		if conf := rc.Resume.Confirmation(callID); conf != nil {
			if decided != nil {
				*decided = conf.Confirmed
			}
			rc.SetState(name+"_result", "approved")
			if err := rc.EmitEvent(core.NewMessageEvent(rc.InvocationID, name, "resolved", false)); err != nil {
				return core.FailErr(err)
			}
			return core.Success("resolved")
		}
		rec := core.NewSuspension(rc.SessionID, name, callID, "charge_fee", "Approve?", nil)
		rec.PushFrame(core.Frame{Agent: name, Kind: core.FrameAgent})
		return core.Pending(rec)
	})
}

// newCompositeContext builds a root run context over a fresh session with a
// generously buffered emit channel so orchestrators never block on a consumer.
func newCompositeContext(t *testing.T) (*core.RunContext, chan core.Event) {
	t.Helper()
	emit := make(chan core.Event, 256)
	sess := core.NewSession("sess-1", "wf-test", "user-1")
	rc := core.NewRunContext(
		context.Background(), "sess-1", "inv-1",
		core.AgentInfo{Name: "root"}, core.Content{},
		emit, sess, nil, nil, nil, nil,
	)
	return rc, emit
}

// drainEvents empties the emit buffer after a run returns.
func drainEvents(ch chan core.Event) []core.Event {
	var out []core.Event
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func eventAuthors(events []core.Event) []string {
	out := make([]string, len(events))
	for i := range events {
		out[i] = events[i].Author
	}
	return out
}
