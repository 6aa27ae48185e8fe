package schema

import "testing"

type feeArgs struct {
	PaymentMethod string  `json:"payment_method" description:"Payment method to look up"`
	Amount        float64 `json:"amount,omitempty"`
	Note          *string `json:"note,omitempty"`
}

func TestFromStruct(t *testing.T) {
	s := FromStruct(feeArgs{})

	props, ok := s["properties"].(map[string]any)
	if !ok {
		t.Fatalf("no properties: %+v", s)
	}
	pm, ok := props["payment_method"].(map[string]any)
	if !ok || pm["type"] != "string" {
		t.Fatalf("payment_method schema wrong: %+v", props)
	}
	if pm["description"] != "Payment method to look up" {
		t.Errorf("description tag lost: %+v", pm)
	}

	required, _ := s["required"].([]string)
	if len(required) != 1 || required[0] != "payment_method" {
		t.Fatalf("required fields wrong: %+v", required)
	}
}

func TestValidate(t *testing.T) {
	s := FromStruct(feeArgs{})

	if err := Validate(map[string]any{"payment_method": "bank transfer"}, s); err != nil {
		t.Fatalf("valid args rejected: %v", err)
	}

	err := Validate(map[string]any{}, s)
	if err == nil {
		t.Fatal("missing required field accepted")
	}
	if _, ok := err.(*ValidationError); !ok {
		t.Fatalf("expected ValidationError, got %T", err)
	}

	if err := Validate(map[string]any{"payment_method": 42}, s); err == nil {
		t.Fatal("wrong type accepted")
	}

	// Numbers arriving via JSON decode as float64; integer-valued floats pass.
	count := FromStruct(struct {
		N int `json:"n"`
	}{})
	if err := Validate(map[string]any{"n": float64(5)}, count); err != nil {
		t.Fatalf("integer-valued float rejected: %v", err)
	}
}

func TestValidateEmptySchema(t *testing.T) {
	if err := Validate(map[string]any{"anything": true}, nil); err != nil {
		t.Fatalf("empty schema should accept all args: %v", err)
	}
}
