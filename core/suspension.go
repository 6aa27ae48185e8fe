package core

import (
	"maps"
	"time"
)

// ConfirmationTool is the reserved function name used on the wire for
// confirmation requests and responses. A function-call part with this name is
// a confirmation_request event; the paired function-response part is the
// confirmation_response.
const ConfirmationTool = "request_confirmation"

// Resolution is the lifecycle state of a suspension record.
type Resolution string

const (
	// ResolutionPending awaits an external decision.
	ResolutionPending Resolution = "pending"
	// ResolutionConfirmed was approved by the external party.
	ResolutionConfirmed Resolution = "confirmed"
	// ResolutionRejected was declined by the external party.
	ResolutionRejected Resolution = "rejected"
)

// Frame records one composite ancestor's position inside a suspended run.
// As a pending outcome bubbles up, each orchestrator pushes a frame so the
// full ancestor chain can be restored on resume.
type Frame struct {
	// Agent is the node name the frame belongs to; resume descent matches
	// frames by name before trusting their positions.
	Agent string `json:"agent"`
	// Kind is one of sequential, parallel, loop, agent.
	Kind string `json:"kind"`
	// Index is the suspended child position (sequential, loop).
	Index int `json:"index,omitempty"`
	// Iteration is the suspended cycle, 1-based (loop).
	Iteration int `json:"iteration,omitempty"`
	// Completed lists children that finished before the group suspended
	// (parallel); they are not re-invoked on resume.
	Completed []string `json:"completed,omitempty"`
	// Deltas caches completed parallel children's unmerged state writes,
	// keyed by child name, replayed into the merge on resume.
	Deltas map[string]map[string]any `json:"deltas,omitempty"`
	// Suspended maps each still-pending parallel child to its own
	// continuation below this node, so untargeted siblings fast-forward on
	// resume instead of restarting.
	Suspended map[string][]Frame `json:"suspended,omitempty"`
}

// Frame kinds.
const (
	FrameSequential = "sequential"
	FrameParallel   = "parallel"
	FrameLoop       = "loop"
	FrameAgent      = "agent"
)

// Suspension is the serializable continuation record created when a tool
// invocation requests external confirmation. It carries everything needed to
// surface the approval request and to later reattach a decision to the exact
// suspended execution point.
type Suspension struct {
	// ApprovalID is unique per suspension and equals the confirmation
	// request's function-call id, so a replayed call re-binds to the same
	// approval.
	ApprovalID string `json:"approval_id"`
	// InvocationID is the unique, single-use resume handle.
	InvocationID string `json:"invocation_id"`
	// SessionID scopes the record to one workflow run.
	SessionID string `json:"session_id"`
	// AgentName is the leaf agent whose tool call suspended.
	AgentName string `json:"agent_name"`
	// FunctionCallID identifies the suspended tool call in the event log.
	FunctionCallID string `json:"function_call_id"`
	// ToolName is the suspended tool.
	ToolName string `json:"tool_name"`
	// Hint is the human-readable approval prompt.
	Hint string `json:"hint"`
	// Payload carries structured context for the approving party.
	Payload map[string]any `json:"payload,omitempty"`
	// Resolution is pending until a decision is consumed.
	Resolution Resolution `json:"resolution"`
	// Frames is the ancestor chain, root-first.
	Frames []Frame `json:"frames,omitempty"`
	// Created is the suspension time.
	Created time.Time `json:"created"`
}

// NewSuspension builds a pending record for the given call. The approval id
// is derived from the function-call id; the invocation id is freshly minted.
func NewSuspension(sessionID, agentName, functionCallID, toolName, hint string, payload map[string]any) *Suspension {
	return &Suspension{
		ApprovalID:     functionCallID,
		InvocationID:   NewID(),
		SessionID:      sessionID,
		AgentName:      agentName,
		FunctionCallID: functionCallID,
		ToolName:       toolName,
		Hint:           hint,
		Payload:        payload,
		Resolution:     ResolutionPending,
		Created:        time.Now().UTC(),
	}
}

// PushFrame prepends an ancestor frame, keeping Frames root-first as the
// pending outcome bubbles toward the workflow root.
func (s *Suspension) PushFrame(f Frame) {
	s.Frames = append([]Frame{f}, s.Frames...)
}

// Clone returns a copy safe for independent mutation of the top-level fields.
// Frames are treated as immutable once pushed, so their inner maps are shared.
func (s *Suspension) Clone() *Suspension {
	cp := *s
	cp.Payload = maps.Clone(s.Payload)
	if s.Frames != nil {
		cp.Frames = make([]Frame, len(s.Frames))
		copy(cp.Frames, s.Frames)
	}
	return &cp
}

// Decision is the external party's answer to a confirmation request.
type Decision struct {
	ApprovalID string `json:"approval_id,omitempty"`
	Confirmed  bool   `json:"confirmed"`
}

// Confirmation is the resolved decision handed to the originally-suspended
// tool call on resume. A tool observing a nil confirmation has not been
// approved or rejected yet.
type Confirmation struct {
	ApprovalID string
	Confirmed  bool
}

// ResumeState guides the descent of a resumed run: each composite consumes
// its frame to fast-forward to the suspended position instead of restarting.
type ResumeState struct {
	// Record is the targeted suspension, nil for synthesized descents into
	// untargeted still-pending parallel siblings.
	Record *Suspension
	// Decision resolves Record's confirmation request.
	Decision Decision

	frames []Frame
}

// NewResumeState builds the descent state for a consumed suspension record.
func NewResumeState(record *Suspension, decision Decision) *ResumeState {
	return &ResumeState{Record: record, Decision: decision, frames: record.Frames}
}

// Peek returns the next frame on the descent path without consuming it.
func (rs *ResumeState) Peek() (Frame, bool) {
	if rs == nil || len(rs.frames) == 0 {
		return Frame{}, false
	}
	return rs.frames[0], true
}

// Enter consumes the next frame if it belongs to the named node, returning
// the frame and a ResumeState for the subtree below it. A nil second return
// means the resume path does not pass through this node.
func (rs *ResumeState) Enter(agent string) (Frame, *ResumeState) {
	f, ok := rs.Peek()
	if !ok || f.Agent != agent {
		return Frame{}, nil
	}
	return f, &ResumeState{Record: rs.Record, Decision: rs.Decision, frames: rs.frames[1:]}
}

// Branch synthesizes a descent for an untargeted still-pending parallel
// sibling from the frames cached in the group's frame. It carries no record
// and no decision: the sibling's suspended tool re-requests confirmation and
// the run suspends again with its original handle intact.
func (rs *ResumeState) Branch(frames []Frame) *ResumeState {
	return &ResumeState{frames: frames}
}

// Confirmation returns the resolved confirmation for the given function call,
// nil when the decision targets a different approval.
func (rs *ResumeState) Confirmation(functionCallID string) *Confirmation {
	if rs == nil || rs.Record == nil {
		return nil
	}
	if rs.Record.FunctionCallID != functionCallID {
		return nil
	}
	approvalID := rs.Decision.ApprovalID
	if approvalID == "" {
		approvalID = rs.Record.ApprovalID
	}
	return &Confirmation{ApprovalID: approvalID, Confirmed: rs.Decision.Confirmed}
}
