package jsonschema

import "testing"

func TestValidateObjectRequiredAndAdditional(t *testing.T) {
	schema := map[string]any{
		"type":     "object",
		"required": []any{"next_action", "status"},
		"properties": map[string]any{
			"next_action": map[string]any{"type": "string", "enum": []any{"stop", "send_to_hands", "ask_user"}},
			"status":      map[string]any{"type": "string", "enum": []any{"done", "not_done", "blocked"}},
			"confidence":  map[string]any{"type": "number", "minimum": 0, "maximum": 1},
		},
		"additionalProperties": false,
	}

	ok := map[string]any{"next_action": "stop", "status": "done", "confidence": 0.9}
	if errs := Validate(ok, schema); len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}

	missing := map[string]any{"next_action": "stop"}
	if errs := Validate(missing, schema); len(errs) == 0 {
		t.Fatalf("expected missing-required error")
	}

	badEnum := map[string]any{"next_action": "nope", "status": "done"}
	if errs := Validate(badEnum, schema); len(errs) == 0 {
		t.Fatalf("expected enum violation error")
	}

	extra := map[string]any{"next_action": "stop", "status": "done", "bogus": 1}
	if errs := Validate(extra, schema); len(errs) == 0 {
		t.Fatalf("expected additionalProperties violation")
	}

	outOfRange := map[string]any{"next_action": "stop", "status": "done", "confidence": 1.5}
	if errs := Validate(outOfRange, schema); len(errs) == 0 {
		t.Fatalf("expected maximum violation")
	}
}

func TestValidateArrayItemsAndAnyOf(t *testing.T) {
	schema := map[string]any{
		"type":  "array",
		"items": map[string]any{"type": "string"},
	}
	if errs := Validate([]any{"a", "b"}, schema); len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
	if errs := Validate([]any{"a", 1}, schema); len(errs) == 0 {
		t.Fatalf("expected item type violation")
	}

	anyOfSchema := map[string]any{
		"anyOf": []any{
			map[string]any{"type": "string"},
			map[string]any{"type": "number"},
		},
	}
	if errs := Validate("x", anyOfSchema); len(errs) != 0 {
		t.Fatalf("expected string branch to match: %v", errs)
	}
	if errs := Validate(3.0, anyOfSchema); len(errs) != 0 {
		t.Fatalf("expected number branch to match: %v", errs)
	}
	if errs := Validate(true, anyOfSchema); len(errs) == 0 {
		t.Fatalf("expected anyOf to fail for boolean")
	}
}
