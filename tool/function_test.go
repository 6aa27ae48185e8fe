package tool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftworks/weft/core"
)

func TestFunctionToolSuccess(t *testing.T) {
	sum := NewFunctionTool(
		"calculate_sum",
		"Calculate the sum of two numbers",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"a": map[string]any{"type": "number"},
				"b": map[string]any{"type": "number"},
			},
			"required": []string{"a", "b"},
		},
		func(tc *core.ToolContext, args map[string]any) core.Outcome {
			return core.Success(args["a"].(float64) + args["b"].(float64))
		},
	)

	out := sum.Call(newTestToolContext("fc-1", sum.Name()), map[string]any{"a": 2.0, "b": 3.0})
	require.True(t, out.IsSuccess())
	assert.Equal(t, 5.0, out.Value)
}

func TestFunctionToolValidationFailure(t *testing.T) {
	called := false
	tl := NewFunctionTool(
		"strict",
		"Requires x",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"x": map[string]any{"type": "integer"},
			},
			"required": []string{"x"},
		},
		func(tc *core.ToolContext, args map[string]any) core.Outcome {
			called = true
			return core.Success(nil)
		},
	)

	out := tl.Call(newTestToolContext("fc-1", tl.Name()), map[string]any{})
	require.True(t, out.IsFailed())
	assert.Equal(t, core.KindNonRetryable, out.Failure.Kind)
	assert.Contains(t, out.Failure.Message, "parameter validation failed")
	assert.False(t, called, "function must not run on validation failure")
}

func TestFunctionToolWrongType(t *testing.T) {
	tl := NewFunctionTool(
		"strict",
		"Requires integer x",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"x": map[string]any{"type": "integer"},
			},
			"required": []string{"x"},
		},
		func(tc *core.ToolContext, args map[string]any) core.Outcome {
			return core.Success(args["x"])
		},
	)

	out := tl.Call(newTestToolContext("fc-1", tl.Name()), map[string]any{"x": "nope"})
	require.True(t, out.IsFailed())
	assert.Equal(t, core.KindNonRetryable, out.Failure.Kind)
}

type rateArgs struct {
	Base   string `json:"base" description:"Base currency code"`
	Target string `json:"target" description:"Target currency code"`
	Note   string `json:"note,omitempty" description:"Optional note"`
}

func TestNewFunctionToolFromStruct(t *testing.T) {
	tl := NewFunctionToolFromStruct(
		"exchange_rate",
		"Look up a conversion rate",
		rateArgs{},
		func(tc *core.ToolContext, args map[string]any) core.Outcome {
			return core.Success(0.93)
		},
	)

	params := tl.Parameters()
	props, ok := params["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "base")
	assert.Contains(t, props, "target")
	assert.Contains(t, props, "note")

	req, ok := params["required"].([]string)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"base", "target"}, req)

	out := tl.Call(newTestToolContext("fc-1", tl.Name()), map[string]any{"base": "usd", "target": "eur"})
	require.True(t, out.IsSuccess())
}

func TestFunctionToolStagesState(t *testing.T) {
	rc, _ := newTestRunContext(nil)
	tl := NewFunctionTool(
		"record",
		"Writes its input to state",
		map[string]any{"type": "object"},
		func(tc *core.ToolContext, args map[string]any) core.Outcome {
			tc.SetState("recorded", "yes")
			return core.Success("ok")
		},
	)

	toolCtx := core.NewToolContext(rc, "fc-1", tl.Name())
	out := tl.Call(toolCtx, map[string]any{})
	require.True(t, out.IsSuccess())

	ev := core.NewFunctionResponseEvent("inv-1", "worker", "fc-1", tl.Name(), out.Value, nil)
	toolCtx.InternalApplyActions(&ev)
	assert.Equal(t, "yes", ev.Actions.StateDelta["recorded"])

	v, ok := rc.GetState("recorded")
	assert.True(t, ok)
	assert.Equal(t, "yes", v)
}
