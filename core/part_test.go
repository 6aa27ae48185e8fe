package core

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestContent_JSONRoundTrip(t *testing.T) {
	in := Content{Role: "assistant", Parts: []Part{
		TextPart{Text: "working on it"},
		DataPart{Data: map[string]any{"status": "success"}},
		FunctionCallPart{FunctionCall: FunctionCall{ID: "fc-1", Name: "get_exchange_rate", Arguments: `{"base":"usd"}`}},
		FunctionResponsePart{FunctionResponse: FunctionResponse{ID: "fc-1", Name: "get_exchange_rate", Response: map[string]any{"rate": 0.93}}},
	}}

	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"type":"function_call"`) {
		t.Fatalf("missing part tag in %s", data)
	}

	var out Content
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Role != "assistant" || len(out.Parts) != 4 {
		t.Fatalf("unexpected content: %+v", out)
	}
	if out.Text() != "working on it" {
		t.Errorf("text = %q", out.Text())
	}
	fc, ok := out.Parts[2].(FunctionCallPart)
	if !ok || fc.FunctionCall.Name != "get_exchange_rate" || fc.FunctionCall.Arguments != `{"base":"usd"}` {
		t.Errorf("function call not restored: %+v", out.Parts[2])
	}
	fr, ok := out.Parts[3].(FunctionResponsePart)
	if !ok || fr.FunctionResponse.ID != "fc-1" {
		t.Errorf("function response not restored: %+v", out.Parts[3])
	}
}

func TestContent_UnmarshalUnknownPart(t *testing.T) {
	var out Content
	err := json.Unmarshal([]byte(`{"role":"user","parts":[{"type":"hologram"}]}`), &out)
	if err == nil || !strings.Contains(err.Error(), "unknown part type") {
		t.Fatalf("expected unknown part error, got %v", err)
	}
}

func TestEvent_JSONRoundTripKeepsLog(t *testing.T) {
	ev := NewFunctionResponseEvent("inv-1", "biller", "fc-1", "charge_fee", map[string]any{"status": "charged"}, nil)
	ev.Actions.StateDelta = map[string]any{"charged": true}

	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out Event
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.ID != ev.ID || out.Author != "biller" {
		t.Fatalf("identity lost: %+v", out)
	}
	resps := out.GetFunctionResponses()
	if len(resps) != 1 || resps[0].Name != "charge_fee" {
		t.Fatalf("responses lost: %+v", resps)
	}
	if out.Actions.StateDelta["charged"] != true {
		t.Errorf("state delta lost: %+v", out.Actions)
	}
}
