package agent

import (
	"encoding/json"
	"fmt"

	"github.com/weftworks/weft/core"
	"github.com/weftworks/weft/model"
	"github.com/weftworks/weft/tool"
)

// DefaultMaxSteps bounds the plan/act cycle of one LLMAgent run.
const DefaultMaxSteps = 8

// Options configures an LLMAgent instance. Use functional options with
// NewLLMAgent to override defaults.
type Options struct {
	// Description summarizes the agent for logs and nested-tool exposure.
	Description string
	// Instruction is the system prompt; {key} placeholders interpolate
	// shared-state values at call time.
	Instruction Instruction
	// Tools are exposed to the model in declaration order.
	Tools []tool.Tool
	// OutputKey names the shared-state slot the final response is staged to.
	OutputKey string
	// MaxSteps bounds the plan/act cycle. Defaults to DefaultMaxSteps.
	MaxSteps int
	// Invoker executes tool calls. Defaults to a fresh invoker with the
	// default retry policy.
	Invoker *tool.Invoker
	// Stream requests incremental responses from the model; partial text is
	// emitted as partial events ahead of the final turn.
	Stream bool
	// MaxHistory caps the transcript length sent to the model; 0 keeps all.
	MaxHistory int
}

// LLMAgent is the model-driven leaf agent. Each run is a plan/act cycle:
// build the transcript from the session log, call the model, execute any
// returned tool calls through the invoker, append the responses, and repeat
// until the model produces a final text turn or the step bound is hit.
//
// A Pending tool outcome aborts the cycle immediately; the run yields Pending
// with the agent's frame pushed onto the suspension record. A resumed run
// finds the unresolved calls in the transcript and re-executes exactly those,
// with the external decision attached to the targeted call.
type LLMAgent struct {
	BaseAgent
	model       model.Model
	instruction Instruction
	tools       map[string]tool.Tool
	order       []string
	maxSteps    int
	invoker     *tool.Invoker
	stream      bool
	maxHistory  int
}

// NewLLMAgent creates a model-driven agent with sensible defaults: a generic
// instruction, no tools, and the default retry policy behind the invoker.
func NewLLMAgent(name string, m model.Model, optFns ...func(o *Options)) *LLMAgent {
	opts := Options{
		Instruction: NewInstructionFromText(fmt.Sprintf("You are %s, a helpful assistant.", name)),
		MaxSteps:    DefaultMaxSteps,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.MaxSteps < 1 {
		opts.MaxSteps = DefaultMaxSteps
	}
	if opts.Invoker == nil {
		opts.Invoker = tool.NewInvoker(tool.DefaultRetryPolicy())
	}

	a := &LLMAgent{
		BaseAgent:   NewBaseAgent(name),
		model:       m,
		instruction: opts.Instruction,
		tools:       map[string]tool.Tool{},
		maxSteps:    opts.MaxSteps,
		invoker:     opts.Invoker,
		stream:      opts.Stream,
		maxHistory:  opts.MaxHistory,
	}
	if opts.Description != "" {
		a.SetDescription(opts.Description)
	}
	a.SetOutputKey(opts.OutputKey)
	for _, t := range opts.Tools {
		a.RegisterTool(t)
	}
	return a
}

// RegisterTool adds a tool to the agent's capability set, keeping declaration
// order for the definitions sent to the model.
func (a *LLMAgent) RegisterTool(t tool.Tool) {
	if _, ok := a.tools[t.Name()]; !ok {
		a.order = append(a.order, t.Name())
	}
	a.tools[t.Name()] = t
}

// Tools returns the registered tool names in declaration order.
func (a *LLMAgent) Tools() []string {
	out := make([]string, len(a.order))
	copy(out, a.order)
	return out
}

// Run implements core.Agent.
func (a *LLMAgent) Run(rc *core.RunContext) core.Outcome {
	if rc.Agent.Name != a.Name() {
		// Direct invocations carry the caller's identity; rebind so events and
		// suspension records name this agent as their author.
		rc = rc.WithAgent(core.AgentInfo{Name: a.Name(), Type: "llm"}, rc.Branch)
	}
	rc.LogDebug("agent.run.start", "agent", a.Name(), "invocation", rc.InvocationID, "branch", rc.Branch)

	resuming := false
	if rs := rc.Resume; rs != nil {
		if _, sub := rs.Enter(a.Name()); sub != nil {
			rc = rc.WithResume(sub)
			resuming = true
		}
	}

	if !resuming && len(rc.UserContent.Parts) > 0 {
		if err := rc.EmitEvent(core.NewUserEvent(rc.InvocationID, rc.UserContent)); err != nil {
			return core.Fail(cancelFailure(a.Name(), err))
		}
	}

	if resuming {
		// Re-execute the calls the suspension left unanswered before asking
		// the model for another turn. The resolved decision reaches exactly
		// the targeted call through the tool context; completed steps stay
		// untouched.
		if calls := a.unresolvedCalls(rc); len(calls) > 0 {
			rc.LogInfo("agent.run.resume", "agent", a.Name(), "unresolved", len(calls))
			if out, halt := a.act(rc, calls); halt {
				return out
			}
		}
		rc = rc.WithResume(nil)
	}

	for step := 1; step <= a.maxSteps; step++ {
		if err := rc.Err(); err != nil {
			return core.Fail(cancelFailure(a.Name(), err))
		}

		turn, failure := a.plan(rc)
		if failure != nil {
			rc.LogError("agent.model.failed", "agent", a.Name(), "error", failure.Error())
			return core.Fail(failure)
		}

		calls := turn.GetFunctionCalls()
		if len(calls) == 0 {
			final := turn.Text()
			if a.OutputKey() != "" {
				rc.SetState(a.OutputKey(), final)
			}
			turn.TurnComplete = true
			if err := rc.EmitEvent(*turn); err != nil {
				return core.Fail(cancelFailure(a.Name(), err))
			}
			rc.LogInfo("agent.run.complete", "agent", a.Name(), "steps", step)
			return core.Success(final)
		}

		if err := rc.EmitEvent(*turn); err != nil {
			return core.Fail(cancelFailure(a.Name(), err))
		}

		if out, halt := a.act(rc, calls); halt {
			return out
		}
	}

	return core.Fail(core.NewFailure(core.KindNonRetryable,
		"agent %s: no final response after %d steps", a.Name(), a.maxSteps))
}

// plan performs one model turn. Partial responses are emitted as partial
// events; the final response is returned as an unemitted event so the caller
// can stage the output key before the terminal emit.
func (a *LLMAgent) plan(rc *core.RunContext) (*core.Event, *core.Failure) {
	if rc.Limiter != nil {
		if err := rc.Limiter.Increment(); err != nil {
			return nil, &core.Failure{Kind: core.KindNonRetryable, Message: fmt.Sprintf("agent %s: %s", a.Name(), err), Err: err}
		}
	}

	instructions, err := a.instruction.Resolve(rc)
	if err != nil {
		return nil, core.WrapFailure(fmt.Errorf("agent %s: resolving instruction: %w", a.Name(), err))
	}
	instructions = Interpolate(rc, instructions)

	req := model.Request{
		Instructions: instructions,
		Contents:     a.transcript(rc),
		Tools:        a.definitions(),
		Stream:       a.stream,
	}

	rc.LogDebug("agent.model.call", "agent", a.Name(), "model", a.model.Info().Name,
		"messages", len(req.Contents), "tools", len(req.Tools))

	respCh, errCh := a.model.Generate(rc.Context, req)

	var final *model.Response
	for respCh != nil || errCh != nil {
		select {
		case resp, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			if resp.Partial {
				ev := core.NewEvent(rc.InvocationID, a.Name())
				ev.Content = &resp.Content
				ev.Partial = true
				if err := rc.EmitEvent(ev); err != nil {
					return nil, cancelFailure(a.Name(), err)
				}
				continue
			}
			r := resp
			final = &r
		case genErr, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if genErr != nil {
				return nil, core.WrapFailure(genErr)
			}
		case <-rc.Done():
			return nil, cancelFailure(a.Name(), rc.Err())
		}
	}

	if final == nil {
		return nil, core.NewFailure(core.KindNonRetryable, "agent %s: model returned no final response", a.Name())
	}

	ev := core.NewEvent(rc.InvocationID, a.Name())
	ev.Content = &final.Content
	return &ev, nil
}

// act executes the given calls in order through the invoker. It returns
// (outcome, true) when the run must halt: a suspension, a failed tool, or a
// cancelled emit. Unknown tools and undecodable arguments answer the call
// with an error response so the model can correct itself on the next turn.
func (a *LLMAgent) act(rc *core.RunContext, calls []core.FunctionCall) (core.Outcome, bool) {
	for _, fc := range calls {
		if fc.Name == core.ConfirmationTool {
			continue
		}

		impl, ok := a.tools[fc.Name]
		if !ok {
			rc.LogWarn("agent.tool.unknown", "agent", a.Name(), "tool", fc.Name)
			ev := core.NewFunctionResponseEvent(rc.InvocationID, a.Name(), fc.ID, fc.Name, nil,
				fmt.Errorf("tool %s not found", fc.Name))
			if err := rc.EmitEvent(ev); err != nil {
				return core.Fail(cancelFailure(a.Name(), err)), true
			}
			continue
		}

		args, err := decodeArgs(fc.Arguments)
		if err != nil {
			rc.LogWarn("agent.tool.bad_arguments", "agent", a.Name(), "tool", fc.Name, "error", err.Error())
			ev := core.NewFunctionResponseEvent(rc.InvocationID, a.Name(), fc.ID, fc.Name, nil, err)
			if emitErr := rc.EmitEvent(ev); emitErr != nil {
				return core.Fail(cancelFailure(a.Name(), emitErr)), true
			}
			continue
		}

		toolCtx := core.NewToolContext(rc, fc.ID, fc.Name)
		out := a.invoker.Invoke(impl, toolCtx, args)

		switch {
		case out.IsPending():
			for _, s := range out.Suspensions {
				s.PushFrame(core.Frame{Agent: a.Name(), Kind: core.FrameAgent})
			}
			rc.LogInfo("agent.run.suspended", "agent", a.Name(), "tool", fc.Name,
				"approval", out.Primary().ApprovalID)
			return out, true

		case out.IsFailed():
			resp := map[string]any{"status": "error", "error_message": out.Failure.Message}
			ev := core.NewFunctionResponseEvent(rc.InvocationID, a.Name(), fc.ID, fc.Name, resp, out.Failure)
			toolCtx.InternalApplyActions(&ev)
			_ = rc.EmitEvent(ev)
			return out, true

		default:
			ev := core.NewFunctionResponseEvent(rc.InvocationID, a.Name(), fc.ID, fc.Name, out.Value, nil)
			toolCtx.InternalApplyActions(&ev)
			if err := rc.EmitEvent(ev); err != nil {
				return core.Fail(cancelFailure(a.Name(), err)), true
			}
		}
	}
	return core.Outcome{}, false
}

// transcript rebuilds the conversation for the model from the working
// session: events on this agent's branch or an ancestor branch, minus
// confirmation traffic, which is orchestration plumbing the model never sees.
func (a *LLMAgent) transcript(rc *core.RunContext) []core.Content {
	events := rc.Session.History()
	contents := make([]core.Content, 0, len(events))
	for i := range events {
		ev := &events[i]
		if !visibleTo(rc.Branch, ev.Branch) {
			continue
		}
		if isConfirmationEvent(ev) {
			continue
		}
		contents = append(contents, *ev.Content)
	}
	if a.maxHistory > 0 && len(contents) > a.maxHistory {
		contents = contents[len(contents)-a.maxHistory:]
	}
	return contents
}

// unresolvedCalls returns transcript function calls with no matching
// response, oldest first. Calls pair with responses by id and name, so the
// confirmation handshake reusing a call's id never masks the real response.
func (a *LLMAgent) unresolvedCalls(rc *core.RunContext) []core.FunctionCall {
	type callKey struct{ id, name string }

	events := rc.Session.History()
	resolved := map[callKey]bool{}
	for i := range events {
		if !visibleTo(rc.Branch, events[i].Branch) {
			continue
		}
		for _, fr := range events[i].GetFunctionResponses() {
			resolved[callKey{fr.ID, fr.Name}] = true
		}
	}

	var calls []core.FunctionCall
	for i := range events {
		if !visibleTo(rc.Branch, events[i].Branch) {
			continue
		}
		for _, fc := range events[i].GetFunctionCalls() {
			if fc.Name == core.ConfirmationTool {
				continue
			}
			if !resolved[callKey{fc.ID, fc.Name}] {
				calls = append(calls, fc)
			}
		}
	}
	return calls
}

// definitions builds the tool definitions for the model request in
// declaration order.
func (a *LLMAgent) definitions() []model.ToolDefinition {
	if len(a.order) == 0 {
		return nil
	}
	defs := make([]model.ToolDefinition, 0, len(a.order))
	for _, name := range a.order {
		t := a.tools[name]
		defs = append(defs, model.ToolDefinition{
			Type: "function",
			Function: model.FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}

// visibleTo reports whether an event authored on eventBranch belongs in the
// transcript of an agent on agentBranch: root events and ancestor-branch
// events are visible, sibling branches are not.
func visibleTo(agentBranch, eventBranch string) bool {
	if eventBranch == "" || eventBranch == agentBranch {
		return true
	}
	return len(agentBranch) > len(eventBranch) && agentBranch[:len(eventBranch)+1] == eventBranch+"."
}

// isConfirmationEvent reports whether the event carries confirmation
// handshake traffic.
func isConfirmationEvent(ev *core.Event) bool {
	for _, fc := range ev.GetFunctionCalls() {
		if fc.Name == core.ConfirmationTool {
			return true
		}
	}
	for _, fr := range ev.GetFunctionResponses() {
		if fr.Name == core.ConfirmationTool {
			return true
		}
	}
	return false
}

func decodeArgs(raw string) (map[string]any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("decoding tool arguments: %w", err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}
