// Package session drives one assessment attempt from creation to a
// scorable artifact via an explicit phase state machine. Sessions are
// exclusively owned by the Manager until they reach a terminal phase;
// session identity is passed explicitly on every call — there is no
// ambient "current session".
package session

import (
	"encoding/json"
	"time"

	"github.com/abhisek/lingoband/internal/assessment"
)

// Phase is the state of the session machine.
//
// Spoken: created → phase1_active → phase2_prep → phase2_active →
// phase3_active → completed. Written: created → draft_active → completed.
// abandoned and expired are reachable from any non-terminal phase.
type Phase string

const (
	PhaseCreated      Phase = "created"
	PhasePart1Active  Phase = "phase1_active"
	PhasePart2Prep    Phase = "phase2_prep"
	PhasePart2Active  Phase = "phase2_active"
	PhasePart3Active  Phase = "phase3_active"
	PhaseDraftActive  Phase = "draft_active"
	PhaseCompleted    Phase = "completed"
	PhaseAbandoned    Phase = "abandoned"
	PhaseExpired      Phase = "expired"
)

// Terminal reports whether the phase is final. Terminal transitions are
// irreversible.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseCompleted, PhaseAbandoned, PhaseExpired:
		return true
	}
	return false
}

// AcceptsTurns reports whether a candidate turn may be appended in this
// phase. phase2_prep is excluded: the candidate is preparing, and the
// prep → active transition is timer-driven, not candidate-driven.
func (p Phase) AcceptsTurns() bool {
	switch p {
	case PhasePart1Active, PhasePart2Active, PhasePart3Active, PhaseDraftActive:
		return true
	}
	return false
}

// questionTag maps an active phase to the phase tag of the question it
// presents.
func (p Phase) questionTag() assessment.PhaseTag {
	switch p {
	case PhasePart1Active:
		return assessment.PhasePart1
	case PhasePart2Prep, PhasePart2Active:
		return assessment.PhasePart2
	case PhasePart3Active:
		return assessment.PhasePart3
	case PhaseDraftActive:
		return assessment.PhaseDraft
	}
	return ""
}

// Status is the coarse session state derived from the phase.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusAbandoned Status = "abandoned"
	StatusExpired   Status = "expired"
)

// Role identifies the author of a turn.
type Role string

const (
	RoleExaminer  Role = "examiner"
	RoleCandidate Role = "candidate"
)

// Turn is one atomic exchange within a session's transcript. Ordered,
// insertion-order significant, append-only.
type Turn struct {
	TurnID    string    `json:"turn_id"`
	SessionID string    `json:"session_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`

	// PhaseAdvance marks the examiner turn that moved the session into
	// the next phase.
	PhaseAdvance bool `json:"phase_advance,omitempty"`
}

// PhaseQuestion is one allocated question embedded in the session, so
// turn handling never needs the bank again after creation.
type PhaseQuestion struct {
	QuestionID string              `json:"question_id"`
	PhaseTag   assessment.PhaseTag `json:"phase_tag"`
	Prompt     string              `json:"prompt"`
}

// Session is one assessment attempt. Invariant: exactly one session with
// a non-terminal phase exists per (user, assessment type) at a time.
type Session struct {
	SessionID      string          `json:"session_id"`
	UserID         string          `json:"user_id"`
	PurchaseID     string          `json:"purchase_id"`
	AssessmentType assessment.Type `json:"assessment_type"`
	Phase          Phase           `json:"phase"`
	Questions      []PhaseQuestion `json:"questions"`
	Turns          []Turn          `json:"turns"`
	StartedAt      time.Time       `json:"started_at"`
	LastActivityAt time.Time       `json:"last_activity_at"`

	// DeadlineAt bounds the current phase. In phase2_prep it is the end
	// of the preparation interval; in active phases it is the point past
	// which inactivity expires the session.
	DeadlineAt time.Time `json:"deadline_at"`
}

// Status derives the coarse state from the phase.
func (s *Session) Status() Status {
	switch s.Phase {
	case PhaseCompleted:
		return StatusCompleted
	case PhaseAbandoned:
		return StatusAbandoned
	case PhaseExpired:
		return StatusExpired
	}
	return StatusActive
}

// QuestionForPhase returns the allocated question for the given phase,
// or nil when the phase presents none.
func (s *Session) QuestionForPhase(p Phase) *PhaseQuestion {
	tag := p.questionTag()
	for i := range s.Questions {
		if s.Questions[i].PhaseTag == tag {
			return &s.Questions[i]
		}
	}
	return nil
}

// candidateTurnsInPhase counts candidate turns since the last
// phase-advance examiner turn.
func (s *Session) candidateTurnsInPhase() int {
	n := 0
	for i := len(s.Turns) - 1; i >= 0; i-- {
		t := s.Turns[i]
		if t.Role == RoleExaminer && t.PhaseAdvance {
			break
		}
		if t.Role == RoleCandidate {
			n++
		}
	}
	return n
}

// Transcript returns the ordered turns as a scoring artifact. For written
// assessments this is the candidate's essay text alone.
func (s *Session) Transcript() string {
	if !s.AssessmentType.Spoken() {
		for i := len(s.Turns) - 1; i >= 0; i-- {
			if s.Turns[i].Role == RoleCandidate {
				return s.Turns[i].Content
			}
		}
		return ""
	}

	out := ""
	for _, t := range s.Turns {
		out += string(t.Role) + ": " + t.Content + "\n"
	}
	return out
}

// promptText extracts the human-readable prompt from a question payload.
// Payloads are published as {"prompt": "..."}; anything else is carried
// through verbatim.
func promptText(payload json.RawMessage) string {
	var body struct {
		Prompt string `json:"prompt"`
	}
	if err := json.Unmarshal(payload, &body); err == nil && body.Prompt != "" {
		return body.Prompt
	}
	return string(payload)
}
