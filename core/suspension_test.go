package core

import (
	"encoding/json"
	"testing"
)

func TestSuspension_FrameOrderRootFirst(t *testing.T) {
	s := NewSuspension("s1", "approver", "fc-1", "request_bulk_approval", "approve?", nil)

	// Frames push in bubble-up order: leaf agent first, root last.
	s.PushFrame(Frame{Agent: "approver", Kind: FrameAgent})
	s.PushFrame(Frame{Agent: "pipeline", Kind: FrameSequential, Index: 1})
	s.PushFrame(Frame{Agent: "root", Kind: FrameLoop, Iteration: 2})

	if s.Frames[0].Agent != "root" || s.Frames[2].Agent != "approver" {
		t.Fatalf("frames not root-first: %+v", s.Frames)
	}
}

func TestSuspension_Serializable(t *testing.T) {
	s := NewSuspension("s1", "approver", "fc-1", "request_bulk_approval", "approve?", map[string]any{"num_images": 5})
	s.PushFrame(Frame{Agent: "group", Kind: FrameParallel, Completed: []string{"done_child"},
		Deltas: map[string]map[string]any{"done_child": {"k": "v"}}})

	raw, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Suspension
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.InvocationID != s.InvocationID || back.ApprovalID != s.ApprovalID {
		t.Fatalf("identity lost: %+v", back)
	}
	if len(back.Frames) != 1 || back.Frames[0].Deltas["done_child"]["k"] != "v" {
		t.Fatalf("frame payload lost: %+v", back.Frames)
	}
}

func TestResumeState_Descent(t *testing.T) {
	s := NewSuspension("s1", "approver", "fc-1", "request_bulk_approval", "approve?", nil)
	s.Frames = []Frame{
		{Agent: "root", Kind: FrameSequential, Index: 2},
		{Agent: "inner", Kind: FrameLoop, Iteration: 1, Index: 0},
		{Agent: "approver", Kind: FrameAgent},
	}
	rs := NewResumeState(s, Decision{Confirmed: true})

	f, child := rs.Enter("root")
	if child == nil || f.Index != 2 {
		t.Fatalf("root frame not entered: %+v", f)
	}

	// A node not on the path gets no descent state.
	if _, wrong := child.Enter("unrelated"); wrong != nil {
		t.Fatal("unrelated node must not consume the path")
	}

	f, child = child.Enter("inner")
	if child == nil || f.Iteration != 1 {
		t.Fatalf("loop frame not entered: %+v", f)
	}

	if _, leaf := child.Enter("approver"); leaf == nil {
		t.Fatal("leaf frame not entered")
	}
}

func TestResumeState_ConfirmationMatching(t *testing.T) {
	s := NewSuspension("s1", "approver", "fc-1", "request_bulk_approval", "approve?", nil)
	rs := NewResumeState(s, Decision{Confirmed: true})

	if c := rs.Confirmation("fc-1"); c == nil || !c.Confirmed {
		t.Fatalf("decision not attached to suspended call: %+v", c)
	}
	if c := rs.Confirmation("fc-other"); c != nil {
		t.Fatal("decision must not leak to other calls")
	}

	var nilRS *ResumeState
	if c := nilRS.Confirmation("fc-1"); c != nil {
		t.Fatal("nil resume state must yield nil confirmation")
	}

	// Synthesized sibling descents carry no decision.
	branch := rs.Branch([]Frame{{Agent: "other", Kind: FrameAgent}})
	if c := branch.Confirmation("fc-1"); c != nil {
		t.Fatal("branch descent must not carry the decision")
	}
}
