package judge

import (
	"encoding/json"
	"errors"
	"testing"
)

// rubricVerdictSchema mirrors the shape the scoring pipeline asks for: a
// criteria object holding per-criterion band and feedback.
func rubricVerdictSchema() *Schema {
	criterion := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"score":    map[string]any{"type": "number", "minimum": 0, "maximum": 9},
			"feedback": map[string]any{"type": "string"},
		},
		"required": []any{"score"},
	}
	return &Schema{
		Name:        "rubric-verdict-check",
		Description: "Per-criterion bands with feedback",
		Definition: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"criteria": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"fluency": criterion,
						"grammar": criterion,
					},
					"required": []any{"fluency", "grammar"},
				},
				"notes": map[string]any{"type": "string"},
			},
			"required": []any{"criteria"},
		},
	}
}

func TestSchemaCheck(t *testing.T) {
	tests := []struct {
		name    string
		verdict string
		ok      bool
	}{
		{
			"complete verdict",
			`{"criteria":{"fluency":{"score":6.5,"feedback":"even pace"},"grammar":{"score":7,"feedback":"accurate"}}}`,
			true,
		},
		{
			"feedback is optional",
			`{"criteria":{"fluency":{"score":6.5},"grammar":{"score":7}}}`,
			true,
		},
		{
			"missing criterion",
			`{"criteria":{"fluency":{"score":6.5}}}`,
			false,
		},
		{
			"band as prose",
			`{"criteria":{"fluency":{"score":"six and a half"},"grammar":{"score":7}}}`,
			false,
		},
		{
			"band out of range",
			`{"criteria":{"fluency":{"score":11},"grammar":{"score":7}}}`,
			false,
		},
		{
			"no criteria at all",
			`{"notes":"looked fine"}`,
			false,
		},
		{
			"not JSON",
			`the candidate spoke well`,
			false,
		},
		{
			"empty output",
			``,
			false,
		},
	}

	schema := rubricVerdictSchema()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := schema.Check(json.RawMessage(tt.verdict))
			if tt.ok && err != nil {
				t.Fatalf("check: %v", err)
			}
			if !tt.ok {
				var bad *ErrInvalidVerdict
				if !errors.As(err, &bad) {
					t.Fatalf("expected ErrInvalidVerdict, got %v", err)
				}
				if string(bad.Content) != tt.verdict {
					t.Fatalf("rejected content not carried: %q", bad.Content)
				}
			}
		})
	}
}

func TestSchemaCheckNilAcceptsAnything(t *testing.T) {
	var s *Schema
	if err := s.Check(json.RawMessage(`anything at all`)); err != nil {
		t.Fatalf("nil schema must not reject: %v", err)
	}
}
