// Package assessment holds the small shared vocabulary every engine
// component speaks: assessment types and their phase structure.
package assessment

import "fmt"

// Type identifies one kind of assessment a user can purchase attempts for.
type Type string

const (
	// TypeSpeaking is the multi-phase spoken assessment.
	TypeSpeaking Type = "speaking"

	// TypeAcademicWriting is the single-draft written assessment.
	TypeAcademicWriting Type = "academic_writing"
)

// PhaseTag labels the sub-stage of an assessment a question belongs to.
type PhaseTag string

const (
	PhasePart1 PhaseTag = "part1"
	PhasePart2 PhaseTag = "part2"
	PhasePart3 PhaseTag = "part3"
	PhaseDraft PhaseTag = "draft"
)

// Spoken reports whether the type uses the multi-phase spoken machine.
func (t Type) Spoken() bool {
	return t == TypeSpeaking
}

// RequiredPhaseTags returns the phase tags an attempt of this type needs
// one question for, in phase order.
func (t Type) RequiredPhaseTags() []PhaseTag {
	if t.Spoken() {
		return []PhaseTag{PhasePart1, PhasePart2, PhasePart3}
	}
	return []PhaseTag{PhaseDraft}
}

// Validate checks that t is a known assessment type.
func (t Type) Validate() error {
	switch t {
	case TypeSpeaking, TypeAcademicWriting:
		return nil
	}
	return fmt.Errorf("unknown assessment type: %q", t)
}
