package core

import (
	"encoding/json"
	"time"
)

// EventType tags an event for stream consumers.
type EventType string

const (
	EventUserInput            EventType = "user_input"
	EventAgentOutput          EventType = "agent_output"
	EventToolCall             EventType = "tool_call"
	EventToolResult           EventType = "tool_result"
	EventConfirmationRequest  EventType = "confirmation_request"
	EventConfirmationResponse EventType = "confirmation_response"
)

// EventActions carries orchestration side effects attached to an event.
// The runner applies them while persisting the event, keeping the session
// store's event log and state in step.
type EventActions struct {
	// StateDelta holds staged state mutations to merge into session state.
	StateDelta map[string]any `json:"state_delta,omitempty"`
	// ArtifactDelta maps artifact names to the version written during this
	// event's turn.
	ArtifactDelta map[string]int `json:"artifact_delta,omitempty"`
	// Terminate is the explicit loop termination signal. Loops check this
	// flag, never output text, to decide early exit.
	Terminate bool `json:"terminate,omitempty"`
}

// Event is the immutable record exchanged between agents, the runner and
// callers. Events are appended to the session log in emission order.
type Event struct {
	ID                 string         `json:"id"`
	InvocationID       string         `json:"invocation_id"`
	Author             string         `json:"author"`
	Branch             string         `json:"branch,omitempty"`
	Timestamp          time.Time      `json:"timestamp"`
	Content            *Content       `json:"content,omitempty"`
	Actions            EventActions   `json:"actions"`
	LongRunningToolIDs []string       `json:"long_running_tool_ids,omitempty"`
	Partial            bool           `json:"partial,omitempty"`
	TurnComplete       bool           `json:"turn_complete,omitempty"`
	ErrorCode          string         `json:"error_code,omitempty"`
	ErrorMessage       string         `json:"error_message,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`
}

// NewEvent creates an empty event authored by the given agent.
func NewEvent(invocationID, author string) Event {
	return Event{
		ID:           NewID(),
		InvocationID: invocationID,
		Author:       author,
		Timestamp:    time.Now().UTC(),
	}
}

// NewMessageEvent creates a text event authored by an agent.
func NewMessageEvent(invocationID, author, text string, partial bool) Event {
	ev := NewEvent(invocationID, author)
	c := NewTextContent("assistant", text)
	ev.Content = &c
	ev.Partial = partial
	return ev
}

// NewUserEvent wraps caller-provided content as a user event.
func NewUserEvent(invocationID string, content Content) Event {
	ev := NewEvent(invocationID, "user")
	if content.Role == "" {
		content.Role = "user"
	}
	ev.Content = &content
	return ev
}

// NewFunctionResponseEvent builds a tool-role event answering the given call.
// A non-nil err is carried in the response's Error field.
func NewFunctionResponseEvent(invocationID, author, callID, name string, result any, err error) Event {
	ev := NewEvent(invocationID, author)
	resp := FunctionResponse{ID: callID, Name: name, Response: result}
	if err != nil {
		resp.Error = err.Error()
	}
	ev.Content = &Content{Role: "tool", Parts: []Part{FunctionResponsePart{FunctionResponse: resp}}}
	return ev
}

// NewConfirmationRequestEvent surfaces a suspension to stream consumers: a
// function call named ConfirmationTool whose id is the approval id, with the
// hint, payload and resume handle as arguments. The approval id is also
// listed as a long-running tool id so consumers can tell the stream is
// suspended rather than mid-turn. The full record rides the event metadata so
// a restarted process can rebuild its pending table, frames included, from
// the session log alone.
func NewConfirmationRequestEvent(invocationID string, s *Suspension) Event {
	ev := NewEvent(invocationID, s.AgentName)
	args, _ := json.Marshal(map[string]any{
		"hint":          s.Hint,
		"payload":       s.Payload,
		"invocation_id": s.InvocationID,
	})
	ev.Content = &Content{Role: "assistant", Parts: []Part{FunctionCallPart{
		FunctionCall: FunctionCall{ID: s.ApprovalID, Name: ConfirmationTool, Arguments: string(args)},
	}}}
	ev.LongRunningToolIDs = []string{s.ApprovalID}
	if snap, err := json.Marshal(s); err == nil {
		ev.Metadata = map[string]any{"suspension": json.RawMessage(snap)}
	}
	return ev
}

// NewConfirmationResponseEvent records the external decision answering a
// confirmation request.
func NewConfirmationResponseEvent(invocationID string, d Decision) Event {
	ev := NewEvent(invocationID, "user")
	ev.Content = &Content{Role: "user", Parts: []Part{FunctionResponsePart{
		FunctionResponse: FunctionResponse{
			ID:       d.ApprovalID,
			Name:     ConfirmationTool,
			Response: map[string]any{"confirmed": d.Confirmed},
		},
	}}}
	return ev
}

// NewErrorEvent records a terminal failure for stream consumers.
func NewErrorEvent(invocationID, author string, f *Failure) Event {
	ev := NewEvent(invocationID, author)
	ev.ErrorCode = string(f.Kind)
	ev.ErrorMessage = f.Message
	ev.TurnComplete = true
	return ev
}

// GetFunctionCalls returns all function calls contained in the event content.
func (e *Event) GetFunctionCalls() []FunctionCall {
	if e.Content == nil {
		return nil
	}
	var calls []FunctionCall
	for _, p := range e.Content.Parts {
		if fc, ok := p.(FunctionCallPart); ok {
			calls = append(calls, fc.FunctionCall)
		}
	}
	return calls
}

// GetFunctionResponses returns all function responses contained in the event.
func (e *Event) GetFunctionResponses() []FunctionResponse {
	if e.Content == nil {
		return nil
	}
	var resps []FunctionResponse
	for _, p := range e.Content.Parts {
		if fr, ok := p.(FunctionResponsePart); ok {
			resps = append(resps, fr.FunctionResponse)
		}
	}
	return resps
}

// Type classifies the event for stream consumers. Confirmation traffic is
// recognized by the reserved tool name.
func (e *Event) Type() EventType {
	for _, fc := range e.GetFunctionCalls() {
		if fc.Name == ConfirmationTool {
			return EventConfirmationRequest
		}
		return EventToolCall
	}
	for _, fr := range e.GetFunctionResponses() {
		if fr.Name == ConfirmationTool {
			return EventConfirmationResponse
		}
		return EventToolResult
	}
	if e.Content != nil && e.Content.Role == "user" {
		return EventUserInput
	}
	return EventAgentOutput
}

// IsFinalResponse reports whether the event terminates an agent's turn: no
// outstanding function calls or responses, not partial, and not a suspension
// marker.
func (e *Event) IsFinalResponse() bool {
	if len(e.LongRunningToolIDs) > 0 {
		return false
	}
	return len(e.GetFunctionCalls()) == 0 && len(e.GetFunctionResponses()) == 0 && !e.Partial
}

// Text returns the concatenated text content, empty when content-free.
func (e *Event) Text() string {
	if e.Content == nil {
		return ""
	}
	return e.Content.Text()
}
