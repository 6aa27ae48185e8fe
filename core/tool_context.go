package core

import (
	"context"
	"maps"

	"github.com/weftworks/weft/logging"
)

// callState accumulates per-call side effects. It sits behind a pointer so
// deadline-bounded views derived via WithContext keep writing to the same
// call record.
type callState struct {
	actions      EventActions
	confirmation *Confirmation
	suspension   *Suspension
}

// ToolContext scopes one tool call. It exposes controlled access to session
// state, artifacts and the suspension mechanism, and accumulates actions
// (state writes, the loop termination signal) that are attached to the
// call's function-response event.
type ToolContext struct {
	rc             *RunContext
	functionCallID string
	toolName       string
	call           *callState
}

// NewToolContext creates a context for a single tool call. When the run is
// resuming exactly this call, the resolved confirmation is attached so the
// tool observes the external decision.
func NewToolContext(rc *RunContext, functionCallID, toolName string) *ToolContext {
	return &ToolContext{
		rc:             rc,
		functionCallID: functionCallID,
		toolName:       toolName,
		call:           &callState{confirmation: rc.Resume.Confirmation(functionCallID)},
	}
}

// WithContext derives a view of this call bound to a different cancellation
// scope (the invocation layer's overall timeout). The view shares the call's
// accumulated actions, confirmation and suspension with the receiver.
func (tc *ToolContext) WithContext(ctx context.Context) *ToolContext {
	cp := *tc
	cp.rc = tc.rc.WithContext(ctx)
	return &cp
}

// Context returns the ambient cancellation context.
func (tc *ToolContext) Context() context.Context { return tc.rc.Context }

// InternalRunContext returns the underlying run context. The tool layer uses
// it to derive nested execution scopes (agent-as-tool).
func (tc *ToolContext) InternalRunContext() *RunContext { return tc.rc }

// SessionID returns the owning session id.
func (tc *ToolContext) SessionID() string { return tc.rc.SessionID }

// InvocationID returns the current invocation id.
func (tc *ToolContext) InvocationID() string { return tc.rc.InvocationID }

// FunctionCallID returns the id of the call being executed.
func (tc *ToolContext) FunctionCallID() string { return tc.functionCallID }

// ToolName returns the name of the tool being executed.
func (tc *ToolContext) ToolName() string { return tc.toolName }

// AgentName returns the calling agent's name.
func (tc *ToolContext) AgentName() string { return tc.rc.Agent.Name }

// Logger returns the run's logger.
func (tc *ToolContext) Logger() logging.Logger { return tc.rc.Logger() }

// GetState reads a shared-state value visible to this run.
func (tc *ToolContext) GetState(key string) (any, bool) { return tc.rc.GetState(key) }

// SetState stages a state write, attached to both the run's next event and
// this call's response event.
func (tc *ToolContext) SetState(key string, value any) {
	tc.rc.SetState(key, value)
	if tc.call.actions.StateDelta == nil {
		tc.call.actions.StateDelta = map[string]any{}
	}
	tc.call.actions.StateDelta[key] = value
}

// Terminate raises the explicit loop termination signal on this call's
// response event. Loop orchestrators check the signal, never output text.
func (tc *ToolContext) Terminate() { tc.call.actions.Terminate = true }

// Confirmation returns the resolved external decision for this call, nil
// when no decision has been attached (first execution, or a resume targeting
// a different approval).
func (tc *ToolContext) Confirmation() *Confirmation { return tc.call.confirmation }

// RequestConfirmation creates a pending suspension record for this call.
// The tool returns it wrapped in a Pending outcome; the record then bubbles
// through every composite ancestor, collecting the continuation frames the
// coordinator needs to resume here.
func (tc *ToolContext) RequestConfirmation(hint string, payload map[string]any) *Suspension {
	s := NewSuspension(tc.rc.SessionID, tc.rc.Agent.Name, tc.functionCallID, tc.toolName, hint, payload)
	tc.call.suspension = s
	return s
}

// Suspension returns the record created by RequestConfirmation, if any.
func (tc *ToolContext) Suspension() *Suspension { return tc.call.suspension }

// SaveArtifact stores a binary payload for this session and stages the
// written version on the response event.
func (tc *ToolContext) SaveArtifact(name string, data []byte) (int, error) {
	if tc.rc.Artifacts == nil {
		return 0, NewFailure(KindNonRetryable, "no artifact store configured")
	}
	version, err := tc.rc.Artifacts.Save(tc.rc.Context, tc.rc.SessionID, name, data)
	if err != nil {
		return 0, err
	}
	tc.rc.RecordArtifact(name, version)
	if tc.call.actions.ArtifactDelta == nil {
		tc.call.actions.ArtifactDelta = map[string]int{}
	}
	tc.call.actions.ArtifactDelta[name] = version
	return version, nil
}

// LoadArtifact reads a binary payload; version 0 means latest.
func (tc *ToolContext) LoadArtifact(name string, version int) ([]byte, error) {
	if tc.rc.Artifacts == nil {
		return nil, NewFailure(KindNonRetryable, "no artifact store configured")
	}
	return tc.rc.Artifacts.Get(tc.rc.Context, tc.rc.SessionID, name, version)
}

// InternalApplyActions merges the accumulated call actions into the given
// response event. Called by the invocation layer after the tool returns.
func (tc *ToolContext) InternalApplyActions(ev *Event) {
	if len(tc.call.actions.StateDelta) > 0 {
		if ev.Actions.StateDelta == nil {
			ev.Actions.StateDelta = map[string]any{}
		}
		maps.Copy(ev.Actions.StateDelta, tc.call.actions.StateDelta)
	}
	if len(tc.call.actions.ArtifactDelta) > 0 {
		if ev.Actions.ArtifactDelta == nil {
			ev.Actions.ArtifactDelta = map[string]int{}
		}
		maps.Copy(ev.Actions.ArtifactDelta, tc.call.actions.ArtifactDelta)
	}
	if tc.call.actions.Terminate {
		ev.Actions.Terminate = true
	}
}
