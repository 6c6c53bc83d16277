// Package scoring turns a finished session into an immutable ScoreResult.
// The judge's free-form verdict is reduced to a fixed criterion set per
// assessment type; the overall band is always recomputed here, never
// taken from the judge.
package scoring

import (
	"fmt"

	"github.com/abhisek/lingoband/internal/assessment"
	"github.com/abhisek/lingoband/internal/judge"
)

// Rubric is the fixed criterion set the judge grades against.
type Rubric struct {
	ID       string
	Criteria []string
}

var (
	speakingRubric = Rubric{
		ID:       "speaking-v1",
		Criteria: []string{"fluency", "lexical_resource", "grammar", "pronunciation"},
	}
	writingRubric = Rubric{
		ID:       "academic-writing-v1",
		Criteria: []string{"task_achievement", "coherence", "lexical_resource", "grammar"},
	}
)

// RubricFor returns the rubric for the given assessment type.
func RubricFor(t assessment.Type) (Rubric, error) {
	switch t {
	case assessment.TypeSpeaking:
		return speakingRubric, nil
	case assessment.TypeAcademicWriting:
		return writingRubric, nil
	}
	return Rubric{}, fmt.Errorf("no rubric for assessment type %q", t)
}

// Schema builds the JSON schema the judge's verdict must conform to.
// Every rubric criterion is a required object with a numeric score and
// textual feedback. The judge may include its own aggregate and notes;
// both are ignored downstream.
func (r Rubric) Schema() *judge.Schema {
	criteria := make(map[string]any, len(r.Criteria))
	required := make([]any, 0, len(r.Criteria))
	for _, c := range r.Criteria {
		criteria[c] = map[string]any{
			"type": "object",
			"properties": map[string]any{
				"score":    map[string]any{"type": "number", "minimum": 0, "maximum": 9},
				"feedback": map[string]any{"type": "string"},
			},
			"required": []any{"score", "feedback"},
		}
		required = append(required, c)
	}

	return &judge.Schema{
		Name:        r.ID,
		Description: "Criterion scores for one assessment attempt",
		Definition: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"criteria": map[string]any{
					"type":       "object",
					"properties": criteria,
					"required":   required,
				},
				"overall_band": map[string]any{"type": "number"},
				"notes":        map[string]any{"type": "string"},
			},
			"required": []any{"criteria"},
		},
	}
}
