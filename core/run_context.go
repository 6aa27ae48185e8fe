package core

import (
	"context"
	"maps"

	"github.com/weftworks/weft/logging"
)

// RunContext carries execution scope for one agent run: identifiers, the
// working session copy, staged state mutations, the emission channel and the
// optional resume descent state.
//
// State visibility model: reads consult the staged delta first, then the
// working session. EmitEvent attaches the staged delta to the outgoing event,
// applies it to the working session (so later steps of this run observe the
// write immediately) and clears the staging buffer. The runner remains the
// only writer to the session store, applying deltas in event order.
type RunContext struct {
	Context      context.Context
	SessionID    string
	InvocationID string
	Agent        AgentInfo
	UserContent  Content
	Branch       string

	// Session is the working copy driving this run. Sequential composition
	// shares one working copy down the chain; parallel fan-out forks frozen
	// clones per child.
	Session *Session

	// Resume is non-nil when this run reattaches to a suspended execution
	// point; composites consume frames from it to fast-forward.
	Resume *ResumeState

	Sessions  SessionStore
	Artifacts ArtifactStore
	Limiter   *Limiter

	emit          chan<- Event
	stateDelta    map[string]any
	artifactDelta map[string]int

	*loggerAdapter
}

// NewRunContext constructs the root context for one invocation.
func NewRunContext(
	ctx context.Context,
	sessionID, invocationID string,
	agent AgentInfo,
	userContent Content,
	emit chan<- Event,
	sess *Session,
	sessions SessionStore,
	artifacts ArtifactStore,
	limiter *Limiter,
	logger logging.Logger,
) *RunContext {
	return &RunContext{
		Context:       ctx,
		SessionID:     sessionID,
		InvocationID:  invocationID,
		Agent:         agent,
		UserContent:   userContent,
		Session:       sess,
		Sessions:      sessions,
		Artifacts:     artifacts,
		Limiter:       limiter,
		emit:          emit,
		stateDelta:    map[string]any{},
		artifactDelta: map[string]int{},
		loggerAdapter: newLoggerAdapter(logger),
	}
}

// Done mirrors context.Context's Done.
func (rc *RunContext) Done() <-chan struct{} { return rc.Context.Done() }

// Err returns the cancellation error, if any.
func (rc *RunContext) Err() error { return rc.Context.Err() }

// GetState returns a staged value if present, else the working session value.
func (rc *RunContext) GetState(key string) (any, bool) {
	if v, ok := rc.stateDelta[key]; ok {
		return v, true
	}
	if rc.Session != nil {
		return rc.Session.GetState(key)
	}
	return nil, false
}

// SetState stages a state mutation; it becomes visible and durable when the
// next event is emitted.
func (rc *RunContext) SetState(key string, value any) { rc.stateDelta[key] = value }

// ApplyStateDelta stages all pairs of delta.
func (rc *RunContext) ApplyStateDelta(delta map[string]any) {
	maps.Copy(rc.stateDelta, delta)
}

// StagedDelta returns a copy of the currently staged, unemitted mutations.
func (rc *RunContext) StagedDelta() map[string]any {
	return maps.Clone(rc.stateDelta)
}

// RecordArtifact stages an artifact version for the next emitted event.
func (rc *RunContext) RecordArtifact(name string, version int) {
	rc.artifactDelta[name] = version
}

// EmitEvent stamps the event with invocation metadata, merges staged deltas
// into its actions, applies them to the working session, appends the event to
// the working log, and sends it to the consumer. Returns the context error if
// the run was cancelled before the event could be delivered.
func (rc *RunContext) EmitEvent(ev Event) error {
	if ev.ID == "" {
		ev.ID = NewID()
	}
	if ev.InvocationID == "" {
		ev.InvocationID = rc.InvocationID
	}
	if ev.Branch == "" {
		ev.Branch = rc.Branch
	}

	if len(rc.stateDelta) > 0 {
		if ev.Actions.StateDelta == nil {
			ev.Actions.StateDelta = map[string]any{}
		}
		maps.Copy(ev.Actions.StateDelta, rc.stateDelta)
		rc.stateDelta = map[string]any{}
	}
	if len(rc.artifactDelta) > 0 {
		if ev.Actions.ArtifactDelta == nil {
			ev.Actions.ArtifactDelta = map[string]int{}
		}
		maps.Copy(ev.Actions.ArtifactDelta, rc.artifactDelta)
		rc.artifactDelta = map[string]int{}
	}

	if rc.Session != nil {
		rc.Session.ApplyStateDelta(ev.Actions.StateDelta)
		rc.Session.AddEvent(ev)
	}

	// Checked ahead of the select so a cancelled run never races a buffered
	// send: after cancellation no further events are delivered.
	if err := rc.Context.Err(); err != nil {
		return err
	}
	select {
	case <-rc.Context.Done():
		return rc.Context.Err()
	case rc.emit <- ev:
		return nil
	}
}

// ForwardEvent relays an already-applied event to the consumer without
// staging deltas or touching the working log. Composites use it when draining
// an interception channel: the child's EmitEvent has done the session work.
func (rc *RunContext) ForwardEvent(ev Event) error {
	if err := rc.Context.Err(); err != nil {
		return err
	}
	select {
	case <-rc.Context.Done():
		return rc.Context.Err()
	case rc.emit <- ev:
		return nil
	}
}

// WithAgent derives a context for a child running in the same session scope:
// shared working session and emission channel, fresh staging buffers, new
// identity and branch.
func (rc *RunContext) WithAgent(agent AgentInfo, branch string) *RunContext {
	cp := *rc
	cp.Agent = agent
	cp.Branch = branch
	cp.stateDelta = map[string]any{}
	cp.artifactDelta = map[string]int{}
	return &cp
}

// WithEmit derives a context whose events flow through a different channel.
// Used by composites that intercept child events (loop termination watching,
// parallel delta buffering).
func (rc *RunContext) WithEmit(emit chan<- Event) *RunContext {
	cp := *rc
	cp.emit = emit
	return &cp
}

// WithContext derives a context bound to a different cancellation scope.
func (rc *RunContext) WithContext(ctx context.Context) *RunContext {
	cp := *rc
	cp.Context = ctx
	return &cp
}

// WithUserContent derives a context carrying different incoming content.
func (rc *RunContext) WithUserContent(c Content) *RunContext {
	cp := *rc
	cp.UserContent = c
	return &cp
}

// WithResume derives a context carrying the given resume descent state.
func (rc *RunContext) WithResume(rs *ResumeState) *RunContext {
	cp := *rc
	cp.Resume = rs
	return &cp
}

// Fork derives an isolated child context for parallel fan-out: a frozen clone
// of the working session (the fan-out snapshot), fresh staging buffers and
// the provided interception channel. The child's writes stay invisible to
// siblings until the parent merges them.
func (rc *RunContext) Fork(ctx context.Context, agent AgentInfo, branch string, emit chan<- Event) *RunContext {
	cp := *rc
	cp.Context = ctx
	cp.Agent = agent
	cp.Branch = branch
	cp.Session = rc.Session.Clone()
	cp.emit = emit
	cp.stateDelta = map[string]any{}
	cp.artifactDelta = map[string]int{}
	return &cp
}
