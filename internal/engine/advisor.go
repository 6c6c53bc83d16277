package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/abhisek/lingoband/internal/judge"
	"github.com/abhisek/lingoband/internal/session"
)

// PhaseAdvisor asks the judge whether the current phase's conversational
// goal is already satisfied, letting a strong candidate move on before the
// turn budget runs out. Implements session.PhaseAdvisor.
type PhaseAdvisor struct {
	provider judge.Provider
}

// NewPhaseAdvisor creates a judge-backed phase advisor.
func NewPhaseAdvisor(provider judge.Provider) *PhaseAdvisor {
	return &PhaseAdvisor{provider: provider}
}

var goalSchema = &judge.Schema{
	Name:        "phase-goal",
	Description: "Whether the phase's conversational goal is satisfied",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"goal_met": map[string]any{"type": "boolean"},
			"reason":   map[string]any{"type": "string"},
		},
		"required": []any{"goal_met"},
	},
}

func (a *PhaseAdvisor) PhaseGoalMet(ctx context.Context, s *session.Session) (bool, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Current phase: %s\n", s.Phase)
	if q := s.QuestionForPhase(s.Phase); q != nil {
		fmt.Fprintf(&b, "Phase question: %s\n", q.Prompt)
	}
	b.WriteString("\nConversation so far:\n")
	b.WriteString(s.Transcript())

	resp, err := a.provider.Evaluate(judge.WithPurpose(ctx, "phase_goal"), judge.Request{
		Instructions: "You assist an examiner running a spoken language assessment. " +
			"Decide whether the candidate has already demonstrated enough in the " +
			"current phase that the examiner should move on. Be conservative: " +
			"only confirm when the phase question is fully addressed.",
		Material:  b.String(),
		Schema:    goalSchema,
		MaxTokens: 256,
	})
	if err != nil {
		return false, err
	}

	var out struct {
		GoalMet bool `json:"goal_met"`
	}
	if err := json.Unmarshal(resp.Content, &out); err != nil {
		return false, fmt.Errorf("decode goal verdict: %w", err)
	}
	return out.GoalMet, nil
}
