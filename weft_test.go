package weft

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftworks/weft/agent"
	"github.com/weftworks/weft/config"
	"github.com/weftworks/weft/core"
	"github.com/weftworks/weft/logging"
	"github.com/weftworks/weft/model"
	"github.com/weftworks/weft/tool"
)

func TestSendSyncRoundTrip(t *testing.T) {
	ctx := context.Background()

	w, err := New()
	require.NoError(t, err)
	require.NoError(t, w.RegisterWorkflow("support",
		agent.NewLLMAgent("helper", model.NewScriptedModel("m", model.Turn{Text: "all sorted"}))))

	sessionID, err := w.CreateSession(ctx, "support", "u1")
	require.NoError(t, err)

	invocationID, events, err := w.SendSync(ctx, sessionID, core.NewUserContent("help me"))
	require.NoError(t, err)
	require.NotEmpty(t, invocationID)
	require.Len(t, events, 1)
	assert.Equal(t, core.EventAgentOutput, events[0].Type())
	assert.Equal(t, "all sorted", events[0].Text())
}

func TestSendSyncSuspendThenResumeSync(t *testing.T) {
	ctx := context.Background()

	params := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{"type": "string"},
		},
		"required": []string{"action"},
	}
	confirmTool := tool.NewFunctionTool("confirm_action", "Ask before performing an action", params,
		func(tc *core.ToolContext, args map[string]any) core.Outcome {
			action := args["action"].(string)
			if c := tc.Confirmation(); c != nil {
				if !c.Confirmed {
					return core.Success(map[string]any{"status": "rejected"})
				}
				tc.SetState("performed", action)
				return core.Success(map[string]any{"status": "done"})
			}
			return core.Pending(tc.RequestConfirmation("Proceed with "+action+"?",
				map[string]any{"action": action}))
		})

	m := model.NewScriptedModel("m",
		model.Turn{Calls: []core.FunctionCall{{ID: "fc-1", Name: "confirm_action", Arguments: `{"action":"shutdown"}`}}},
		model.Turn{Text: "Shutdown complete"},
	)

	w, err := New()
	require.NoError(t, err)
	require.NoError(t, w.RegisterWorkflow("ops", agent.NewLLMAgent("operator", m,
		func(o *agent.Options) { o.Tools = []tool.Tool{confirmTool} })))

	sessionID, err := w.CreateSession(ctx, "ops", "u1")
	require.NoError(t, err)

	_, events, err := w.SendSync(ctx, sessionID, core.NewUserContent("shut it down"))
	require.NoError(t, err, "suspension is a clean halt, not an error")
	require.NotEmpty(t, events)
	assert.Equal(t, core.EventConfirmationRequest, events[len(events)-1].Type())

	pending, err := w.Pending(ctx, sessionID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "Proceed with shutdown?", pending[0].Hint)

	_, events, err = w.ResumeSync(ctx, sessionID, pending[0].InvocationID, core.Decision{Confirmed: true})
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, "Shutdown complete", events[len(events)-1].Text())

	sess, err := w.GetSession(ctx, sessionID)
	require.NoError(t, err)
	performed, _ := sess.GetState("performed")
	assert.Equal(t, "shutdown", performed)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Retry.Defaults.Multiplier = 0.5

	_, err := New(func(o *Options) { o.Config = cfg })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "multiplier")
}

func TestNewAppliesConfigLimits(t *testing.T) {
	ctx := context.Background()

	cfg, err := config.Parse([]byte("engine:\n  max_model_calls: 1\n"))
	require.NoError(t, err)

	params := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text": map[string]any{"type": "string"},
		},
		"required": []string{"text"},
	}
	echo := tool.NewFunctionTool("echo", "Repeat the given text", params,
		func(_ *core.ToolContext, args map[string]any) core.Outcome {
			return core.Success(map[string]any{"text": args["text"]})
		})

	m := model.NewScriptedModel("m",
		model.Turn{Calls: []core.FunctionCall{{ID: "fc-1", Name: "echo", Arguments: `{"text":"hi"}`}}},
		model.Turn{Text: "done"},
	)
	w, err := New(func(o *Options) {
		o.Config = cfg
		o.Logger = logging.NoOpLogger{}
	})
	require.NoError(t, err)
	require.NoError(t, w.RegisterWorkflow("chat", agent.NewLLMAgent("a", m,
		func(o *agent.Options) { o.Tools = []tool.Tool{echo} })))

	sessionID, err := w.CreateSession(ctx, "chat", "u1")
	require.NoError(t, err)

	_, _, err = w.SendSync(ctx, sessionID, core.NewUserContent("call the tool"))
	require.Error(t, err, "the second model turn exceeds the one-call budget")
	assert.Contains(t, err.Error(), "max model calls")
}
