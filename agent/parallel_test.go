package agent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftworks/weft/core"
)

func TestNewParallelRejectsDuplicateOutputKeys(t *testing.T) {
	a := newTestChild("one", nil)
	a.SetOutputKey("result")
	b := newTestChild("two", nil)
	b.SetOutputKey("result")

	_, err := NewParallel("fanout", a, b)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `same output key "result"`)
}

func TestParallelIsolatesSiblingsAndMerges(t *testing.T) {
	gate := make(chan struct{})
	var sawSibling bool

	one := newTestChild("one", func(rc *core.RunContext) core.Outcome {
		rc.SetState("k1", 1)
		if err := rc.EmitEvent(core.NewMessageEvent(rc.InvocationID, "one", "one done", false)); err != nil {
			return core.FailErr(err)
		}
		close(gate)
		return core.Success("v1")
	})
	two := newTestChild("two", func(rc *core.RunContext) core.Outcome {
		<-gate // one has already emitted its write
		_, sawSibling = rc.GetState("k1")
		rc.SetState("k2", 2)
		if err := rc.EmitEvent(core.NewMessageEvent(rc.InvocationID, "two", "two done", false)); err != nil {
			return core.FailErr(err)
		}
		return core.Success("v2")
	})

	par, err := NewParallel("fanout", one, two)
	require.NoError(t, err)

	rc, emit := newCompositeContext(t)
	out := par.Run(rc)

	require.True(t, out.IsSuccess())
	assert.False(t, sawSibling, "a sibling's write must not leak into another child's snapshot")
	assert.Equal(t, "fanout.one", one.LastContext().Branch)
	assert.Equal(t, "fanout.two", two.LastContext().Branch)
	assert.Equal(t, map[string]any{"one": "v1", "two": "v2"}, out.Value)

	v, ok := rc.Session.GetState("k1")
	require.True(t, ok)
	assert.Equal(t, 1, v)
	v, ok = rc.Session.GetState("k2")
	require.True(t, ok)
	assert.Equal(t, 2, v)

	events := drainEvents(emit)
	require.Len(t, events, 3)
	assert.Equal(t, []string{"one", "two", "fanout"}, eventAuthors(events))
	assert.Empty(t, events[0].Actions.StateDelta, "relayed child events carry no deltas")
	assert.Empty(t, events[1].Actions.StateDelta)

	mergeEv := events[2]
	assert.Equal(t, []string{"one", "two"}, mergeEv.Metadata["children"])
	assert.Equal(t, 1, mergeEv.Actions.StateDelta["k1"])
	assert.Equal(t, 2, mergeEv.Actions.StateDelta["k2"])
}

func TestParallelMergeIndependentOfCompletionOrder(t *testing.T) {
	child := func(name, key string, delay time.Duration) *testChild {
		return newTestChild(name, func(rc *core.RunContext) core.Outcome {
			time.Sleep(delay)
			rc.SetState(key, name)
			if err := rc.EmitEvent(core.NewMessageEvent(rc.InvocationID, name, "done", false)); err != nil {
				return core.FailErr(err)
			}
			return core.Success(name)
		})
	}

	// Declared first, finishes last.
	par, err := NewParallel("fanout",
		child("slow", "k_slow", 30*time.Millisecond),
		child("mid", "k_mid", 10*time.Millisecond),
		child("fast", "k_fast", 0),
	)
	require.NoError(t, err)

	rc, emit := newCompositeContext(t)
	out := par.Run(rc)

	require.True(t, out.IsSuccess())
	events := drainEvents(emit)
	mergeEv := events[len(events)-1]
	assert.Equal(t, "fanout", mergeEv.Author)
	assert.Equal(t, []string{"slow", "mid", "fast"}, mergeEv.Metadata["children"])
	assert.Len(t, mergeEv.Actions.StateDelta, 3)
	for _, key := range []string{"k_slow", "k_mid", "k_fast"} {
		_, ok := rc.Session.GetState(key)
		assert.True(t, ok, key)
	}
}

func TestParallelMergeConflict(t *testing.T) {
	writer := func(name string, value any) *testChild {
		return newTestChild(name, func(rc *core.RunContext) core.Outcome {
			rc.SetState("winner", value)
			if err := rc.EmitEvent(core.NewMessageEvent(rc.InvocationID, name, "done", false)); err != nil {
				return core.FailErr(err)
			}
			return core.Success(value)
		})
	}

	par, err := NewParallel("fanout", writer("one", "alpha"), writer("two", "beta"))
	require.NoError(t, err)

	rc, _ := newCompositeContext(t)
	out := par.Run(rc)

	require.True(t, out.IsFailed())
	assert.Equal(t, core.KindMergeConflict, out.Failure.Kind)
	assert.Contains(t, out.Failure.Message, `agents one and two both wrote state key "winner"`)

	_, ok := rc.Session.GetState("winner")
	assert.False(t, ok, "a conflicted merge applies nothing")
}

func TestParallelFailureCancelsSiblings(t *testing.T) {
	var cancelled bool
	bad := newTestChild("bad", func(rc *core.RunContext) core.Outcome {
		return core.Fail(core.NewFailure(core.KindNonRetryable, "bad credentials"))
	})
	slow := newTestChild("slow", func(rc *core.RunContext) core.Outcome {
		<-rc.Done()
		cancelled = true
		return core.FailErr(rc.Err())
	})

	par, err := NewParallel("fanout", bad, slow)
	require.NoError(t, err)

	rc, _ := newCompositeContext(t)
	out := par.Run(rc)

	require.True(t, out.IsFailed())
	assert.Equal(t, core.KindNonRetryable, out.Failure.Kind, "the first failure wins")
	assert.Contains(t, out.Failure.Message, "parallel fanout")
	assert.Contains(t, out.Failure.Message, "bad credentials")
	assert.True(t, cancelled, "outstanding siblings are cancelled")
}

func TestParallelPendingPreservesPartialWrites(t *testing.T) {
	var resumeSaw any
	one := succeeding("one", "k1", 1)
	two := newTestChild("two", func(rc *core.RunContext) core.Outcome {
		if conf := rc.Resume.Confirmation("fc-9"); conf != nil {
			resumeSaw, _ = rc.GetState("k2_partial")
			rc.SetState("k2", "done")
			if err := rc.EmitEvent(core.NewMessageEvent(rc.InvocationID, "two", "resolved", false)); err != nil {
				return core.FailErr(err)
			}
			return core.Success("resolved")
		}
		rc.SetState("k2_partial", "x")
		if err := rc.EmitEvent(core.NewMessageEvent(rc.InvocationID, "two", "awaiting approval", false)); err != nil {
			return core.FailErr(err)
		}
		rec := core.NewSuspension(rc.SessionID, "two", "fc-9", "charge_fee", "Approve?", nil)
		rec.PushFrame(core.Frame{Agent: "two", Kind: core.FrameAgent})
		return core.Pending(rec)
	})

	par, err := NewParallel("fanout", one, two)
	require.NoError(t, err)

	rc, _ := newCompositeContext(t)
	out := par.Run(rc)

	require.True(t, out.IsPending())
	rec := out.Primary()
	require.NotNil(t, rec)
	require.Len(t, rec.Frames, 2)

	group := rec.Frames[0]
	assert.Equal(t, "fanout", group.Agent)
	assert.Equal(t, core.FrameParallel, group.Kind)
	assert.Equal(t, []string{"one"}, group.Completed)
	assert.Equal(t, map[string]any{"k1": 1}, group.Deltas["one"])
	assert.Equal(t, map[string]any{"k2_partial": "x"}, group.Deltas["two"])
	require.Len(t, group.Suspended["two"], 1)
	assert.Equal(t, core.Frame{Agent: "two", Kind: core.FrameAgent}, rec.Frames[1])

	_, ok := rc.Session.GetState("k1")
	assert.False(t, ok, "nothing merges while the group is suspended")

	rs := core.NewResumeState(rec, core.Decision{ApprovalID: rec.ApprovalID, Confirmed: true})
	out = par.Run(rc.WithResume(rs))

	require.True(t, out.IsSuccess())
	assert.Equal(t, "x", resumeSaw, "pre-suspension writes are visible to the resumed child")
	assert.Equal(t, 1, one.Runs(), "completed children are not re-invoked")
	assert.Equal(t, 2, two.Runs())

	for key, want := range map[string]any{"k1": 1, "k2_partial": "x", "k2": "done"} {
		v, ok := rc.Session.GetState(key)
		require.True(t, ok, key)
		assert.Equal(t, want, v, key)
	}
}

func TestParallelResumeLifecycle(t *testing.T) {
	var twoDecided, threeDecided bool
	one := succeeding("one", "k1", 1)
	two := suspending("two", "fc-9", &twoDecided)
	three := suspending("three", "fc-10", &threeDecided)

	par, err := NewParallel("fanout", one, two, three)
	require.NoError(t, err)

	rc, _ := newCompositeContext(t)
	out := par.Run(rc)

	require.True(t, out.IsPending())
	require.Len(t, out.Suspensions, 2, "each pending child contributes a record")
	rec2, rec3 := out.Suspensions[0], out.Suspensions[1]
	assert.Equal(t, "two", rec2.AgentName)
	assert.Equal(t, "three", rec3.AgentName)
	assert.Equal(t, []string{"one"}, rec2.Frames[0].Completed)

	// Approve only two's record: one is cached, three re-suspends with its
	// original approval id.
	rs := core.NewResumeState(rec2, core.Decision{ApprovalID: rec2.ApprovalID, Confirmed: true})
	out = par.Run(rc.WithResume(rs))

	require.True(t, out.IsPending())
	require.Len(t, out.Suspensions, 1)
	again := out.Primary()
	assert.Equal(t, "three", again.AgentName)
	assert.Equal(t, "fc-10", again.ApprovalID, "a re-requested approval keeps its stable id")
	assert.True(t, twoDecided)
	assert.Equal(t, []string{"one", "two"}, again.Frames[0].Completed)
	assert.Equal(t, map[string]any{"two_result": "approved"}, again.Frames[0].Deltas["two"])
	assert.Equal(t, 1, one.Runs())
	assert.Equal(t, 2, two.Runs())
	assert.Equal(t, 2, three.Runs())

	_, ok := rc.Session.GetState("k1")
	assert.False(t, ok, "still suspended, still unmerged")

	// Approve the remaining record: the group finally completes and merges.
	rs = core.NewResumeState(again, core.Decision{ApprovalID: again.ApprovalID, Confirmed: true})
	out = par.Run(rc.WithResume(rs))

	require.True(t, out.IsSuccess())
	assert.True(t, threeDecided)
	assert.Equal(t, 1, one.Runs())
	assert.Equal(t, 2, two.Runs())
	assert.Equal(t, 3, three.Runs())

	for key, want := range map[string]any{"k1": 1, "two_result": "approved", "three_result": "approved"} {
		v, ok := rc.Session.GetState(key)
		require.True(t, ok, key)
		assert.Equal(t, want, v, key)
	}
}

func TestParallelEmpty(t *testing.T) {
	par, err := NewParallel("none")
	require.NoError(t, err)

	rc, _ := newCompositeContext(t)
	out := par.Run(rc)
	require.True(t, out.IsSuccess())
	assert.Equal(t, map[string]any{}, out.Value)
}
