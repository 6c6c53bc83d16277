package engine

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/abhisek/lingoband/internal/assessment"
	"github.com/abhisek/lingoband/internal/judge"
	"github.com/abhisek/lingoband/internal/session"
)

func advisorSession() *session.Session {
	return &session.Session{
		SessionID:      "s1",
		UserID:         "u1",
		AssessmentType: assessment.TypeSpeaking,
		Phase:          session.PhasePart1Active,
		Questions: []session.PhaseQuestion{
			{QuestionID: "q1", PhaseTag: assessment.PhasePart1, Prompt: "Tell me about your hometown."},
		},
		Turns: []session.Turn{
			{Role: session.RoleExaminer, Content: "Tell me about your hometown."},
			{Role: session.RoleCandidate, Content: "I grew up by the sea."},
		},
	}
}

func TestPhaseAdvisor_GoalMet(t *testing.T) {
	script := judge.NewScriptedProvider(
		judge.CannedVerdict{Content: json.RawMessage(`{"goal_met":true,"reason":"fully addressed"}`)},
	)
	advisor := NewPhaseAdvisor(script)

	met, err := advisor.PhaseGoalMet(context.Background(), advisorSession())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !met {
		t.Fatal("expected goal met")
	}

	// The judge sees the phase question and the conversation.
	sent := script.Calls[0].Material
	if !strings.Contains(sent, "Tell me about your hometown.") {
		t.Fatalf("phase question missing from advisor request: %q", sent)
	}
	if !strings.Contains(sent, "I grew up by the sea.") {
		t.Fatalf("candidate turn missing from advisor request: %q", sent)
	}
}

func TestPhaseAdvisor_GoalNotMet(t *testing.T) {
	script := judge.NewScriptedProvider(
		judge.CannedVerdict{Content: json.RawMessage(`{"goal_met":false}`)},
	)
	advisor := NewPhaseAdvisor(script)

	met, err := advisor.PhaseGoalMet(context.Background(), advisorSession())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if met {
		t.Fatal("expected goal not met")
	}
}

func TestPhaseAdvisor_JudgeErrorSurfaces(t *testing.T) {
	advisor := NewPhaseAdvisor(judge.NewScriptedProvider())
	if _, err := advisor.PhaseGoalMet(context.Background(), advisorSession()); err == nil {
		t.Fatal("expected error from an exhausted judge script")
	}
}
