package tool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftworks/weft/core"
)

var (
	_ Tool = (*FunctionTool)(nil)
	_ Tool = (*AgentTool)(nil)
	_ Tool = (*ProcessTool)(nil)
	_ Tool = (*StateTool)(nil)
)

// newTestRunContext builds a run context over a fresh in-memory session,
// buffering emitted events.
func newTestRunContext(artifacts core.ArtifactStore) (*core.RunContext, chan core.Event) {
	emit := make(chan core.Event, 16)
	sess := core.NewSession("sess-1", "wf-test", "user-1")
	rc := core.NewRunContext(
		context.Background(), "sess-1", "inv-1",
		core.AgentInfo{Name: "worker"}, core.Content{},
		emit, sess, nil, artifacts, nil, nil,
	)
	return rc, emit
}

func newTestToolContext(fcID, toolName string) *core.ToolContext {
	rc, _ := newTestRunContext(nil)
	return core.NewToolContext(rc, fcID, toolName)
}

// -------------------- Exit tool --------------------

func TestExitToolSignalsTermination(t *testing.T) {
	toolCtx := newTestToolContext("fc-1", ExitToolName)

	out := NewExitTool().Call(toolCtx, map[string]any{})
	require.True(t, out.IsSuccess())

	ev := core.NewEvent("inv-1", "worker")
	toolCtx.InternalApplyActions(&ev)
	assert.True(t, ev.Actions.Terminate)

	result, ok := out.Value.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "terminating", result["status"])
}

// -------------------- State tool --------------------

func TestStateToolSetAndGet(t *testing.T) {
	rc, _ := newTestRunContext(nil)
	st := NewStateTool()

	setCtx := core.NewToolContext(rc, "fc-1", st.Name())
	out := st.Call(setCtx, map[string]any{"operation": "set_state", "key": "topic", "value": "gophers"})
	require.True(t, out.IsSuccess())

	getCtx := core.NewToolContext(rc, "fc-2", st.Name())
	out = st.Call(getCtx, map[string]any{"operation": "get_state", "key": "topic"})
	require.True(t, out.IsSuccess())

	result := out.Value.(map[string]any)
	assert.Equal(t, true, result["exists"])
	assert.Equal(t, "gophers", result["value"])
}

func TestStateToolMissingKey(t *testing.T) {
	st := NewStateTool()
	out := st.Call(newTestToolContext("fc-1", st.Name()), map[string]any{"operation": "get_state", "key": "absent"})
	require.True(t, out.IsSuccess())

	result := out.Value.(map[string]any)
	assert.Equal(t, false, result["exists"])
}

func TestStateToolUnknownOperation(t *testing.T) {
	st := NewStateTool()
	out := st.Call(newTestToolContext("fc-1", st.Name()), map[string]any{"operation": "explode"})
	require.True(t, out.IsFailed())
	assert.Equal(t, core.KindNonRetryable, out.Failure.Kind)
}

// -------------------- Agent tool --------------------

type stubAgent struct {
	name string
	out  core.Outcome

	gotBranch  string
	gotContent string
}

func (a *stubAgent) Name() string        { return a.name }
func (a *stubAgent) Description() string { return "stub agent" }
func (a *stubAgent) OutputKey() string   { return "" }
func (a *stubAgent) Run(rc *core.RunContext) core.Outcome {
	a.gotBranch = rc.Branch
	a.gotContent = rc.UserContent.Text()
	return a.out
}

func TestAgentToolAdaptsSuccess(t *testing.T) {
	inner := &stubAgent{name: "summarizer", out: core.Success("done")}
	at := NewAgentTool(inner)

	assert.Equal(t, "summarizer", at.Name())

	out := at.Call(newTestToolContext("fc-1", at.Name()), map[string]any{"request": "summarize this"})
	require.True(t, out.IsSuccess())
	assert.Equal(t, "done", out.Value)
	assert.Equal(t, "summarizer", inner.gotBranch)
	assert.Equal(t, "summarize this", inner.gotContent)
}

func TestAgentToolPropagatesPending(t *testing.T) {
	record := core.NewSuspension("sess-1", "inner", "fc-9", "charge_fee", "approve?", nil)
	inner := &stubAgent{name: "payments", out: core.Pending(record)}

	out := NewAgentTool(inner).Call(newTestToolContext("fc-1", "payments"), map[string]any{"request": "charge"})
	require.True(t, out.IsPending())
	assert.Same(t, record, out.Primary())
}
