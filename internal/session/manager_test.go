package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/abhisek/lingoband/internal/assessment"
	"github.com/abhisek/lingoband/internal/questionbank"
	"github.com/abhisek/lingoband/internal/store"
)

func newTestManager(t *testing.T) (*Manager, *store.Memory, *fakeClock) {
	t.Helper()
	adapter := store.NewMemory()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	m := NewManager(adapter, DefaultConfig(), zap.NewNop())
	m.now = clock.Now
	return m, adapter, clock
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) time.Time { c.t = c.t.Add(d); return c.t }

func speakingQuestions() []*questionbank.Question {
	var qs []*questionbank.Question
	for i, tag := range []assessment.PhaseTag{assessment.PhasePart1, assessment.PhasePart2, assessment.PhasePart3} {
		qs = append(qs, &questionbank.Question{
			QuestionID:     fmt.Sprintf("q%d", i+1),
			AssessmentType: assessment.TypeSpeaking,
			PhaseTag:       tag,
			PromptPayload:  json.RawMessage(fmt.Sprintf(`{"prompt":"Question for %s"}`, tag)),
		})
	}
	return qs
}

func writingQuestion() []*questionbank.Question {
	return []*questionbank.Question{{
		QuestionID:     "w1",
		AssessmentType: assessment.TypeAcademicWriting,
		PhaseTag:       assessment.PhaseDraft,
		PromptPayload:  json.RawMessage(`{"prompt":"Discuss both views."}`),
	}}
}

func TestStartOpensFirstPhase(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	s, err := m.Start(ctx, "u1", assessment.TypeSpeaking, "p1", speakingQuestions())
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	if s.Phase != PhasePart1Active {
		t.Errorf("phase = %s, want phase1_active", s.Phase)
	}
	if s.DeadlineAt.IsZero() {
		t.Error("deadline not stamped")
	}
	if len(s.Turns) != 1 || s.Turns[0].Role != RoleExaminer {
		t.Fatalf("expected an opening examiner turn, got %d turns", len(s.Turns))
	}
	if s.Turns[0].Content != "Question for part1" {
		t.Errorf("opening turn = %q", s.Turns[0].Content)
	}
}

func TestStartEnforcesSingleActive(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	first, err := m.Start(ctx, "u1", assessment.TypeSpeaking, "p1", speakingQuestions())
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := m.Start(ctx, "u1", assessment.TypeSpeaking, "p1", speakingQuestions()); !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("expected ErrAlreadyActive, got %v", err)
	}

	// A different type or user is independent.
	if _, err := m.Start(ctx, "u1", assessment.TypeAcademicWriting, "p2", writingQuestion()); err != nil {
		t.Fatalf("start other type: %v", err)
	}
	if _, err := m.Start(ctx, "u2", assessment.TypeSpeaking, "p3", speakingQuestions()); err != nil {
		t.Fatalf("start other user: %v", err)
	}

	// Once terminal, the slot frees up.
	if _, err := m.Cancel(ctx, first.SessionID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := m.Start(ctx, "u1", assessment.TypeSpeaking, "p1", speakingQuestions()); err != nil {
		t.Fatalf("start after cancel: %v", err)
	}
}

func TestSpokenPhaseProgression(t *testing.T) {
	m, _, clock := newTestManager(t)
	ctx := context.Background()

	s, err := m.Start(ctx, "u1", assessment.TypeSpeaking, "p1", speakingQuestions())
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	// Phase 1: the budget is 4 candidate turns.
	for i := 0; i < 3; i++ {
		var ex *Turn
		s, ex, err = m.SubmitTurn(ctx, s.SessionID, "answer")
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		if s.Phase != PhasePart1Active {
			t.Fatalf("phase after turn %d = %s, want phase1_active", i, s.Phase)
		}
		if ex == nil || ex.PhaseAdvance {
			t.Fatalf("turn %d: expected a non-advancing examiner reply", i)
		}
	}

	s, ex, err := m.SubmitTurn(ctx, s.SessionID, "answer")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if s.Phase != PhasePart2Prep {
		t.Fatalf("phase = %s, want phase2_prep", s.Phase)
	}
	if !ex.PhaseAdvance {
		t.Error("advancing examiner turn not flagged")
	}

	// Turns are rejected during preparation.
	if _, _, err := m.SubmitTurn(ctx, s.SessionID, "too early"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition during prep, got %v", err)
	}

	// Prep elapses; the transition is observed on next access.
	clock.Advance(DefaultConfig().Timings.Phase2Prep + time.Second)
	s, err = m.Status(ctx, s.SessionID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if s.Phase != PhasePart2Active {
		t.Fatalf("phase = %s, want phase2_active after prep", s.Phase)
	}

	// Phase 2 is a single long turn.
	s, _, err = m.SubmitTurn(ctx, s.SessionID, "the long turn")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if s.Phase != PhasePart3Active {
		t.Fatalf("phase = %s, want phase3_active", s.Phase)
	}

	// Phase 3: 4 turns to completion.
	for i := 0; i < 4; i++ {
		s, _, err = m.SubmitTurn(ctx, s.SessionID, "discussion")
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	if s.Phase != PhaseCompleted {
		t.Fatalf("phase = %s, want completed", s.Phase)
	}
	if s.Status() != StatusCompleted {
		t.Errorf("status = %s, want completed", s.Status())
	}

	// Terminal sessions reject further turns.
	if _, _, err := m.SubmitTurn(ctx, s.SessionID, "more"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestWrittenSingleSubmission(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	s, err := m.Start(ctx, "u1", assessment.TypeAcademicWriting, "p1", writingQuestion())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if s.Phase != PhaseDraftActive {
		t.Fatalf("phase = %s, want draft_active", s.Phase)
	}

	s, _, err = m.SubmitTurn(ctx, s.SessionID, "My essay text.")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if s.Phase != PhaseCompleted {
		t.Fatalf("phase = %s, want completed after the single draft", s.Phase)
	}
	if got := s.Transcript(); got != "My essay text." {
		t.Errorf("transcript = %q, want the essay alone", got)
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	s, err := m.Start(ctx, "u1", assessment.TypeSpeaking, "p1", speakingQuestions())
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	first, err := m.Cancel(ctx, s.SessionID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if first.Phase != PhaseAbandoned {
		t.Fatalf("phase = %s, want abandoned", first.Phase)
	}

	second, err := m.Cancel(ctx, s.SessionID)
	if err != nil {
		t.Fatalf("second cancel: %v", err)
	}
	if second.Phase != PhaseAbandoned {
		t.Errorf("second cancel phase = %s, want abandoned", second.Phase)
	}
	if len(second.Turns) != len(first.Turns) {
		t.Errorf("second cancel changed the transcript")
	}
}

// A session idle past its deadline is observed as expired on the next
// status check; the attempt stays spent.
func TestIdleSessionExpires(t *testing.T) {
	m, _, clock := newTestManager(t)
	ctx := context.Background()

	s, err := m.Start(ctx, "u1", assessment.TypeSpeaking, "p1", speakingQuestions())
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	clock.Advance(DefaultConfig().Timings.Phase1 + time.Minute)

	s, err = m.Status(ctx, s.SessionID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if s.Phase != PhaseExpired {
		t.Fatalf("phase = %s, want expired", s.Phase)
	}

	// Expiry is idempotent.
	s, err = m.Status(ctx, s.SessionID)
	if err != nil {
		t.Fatalf("second status: %v", err)
	}
	if s.Phase != PhaseExpired {
		t.Fatalf("phase = %s, want expired to stick", s.Phase)
	}

	// The slot frees up for a fresh attempt.
	if _, err := m.Start(ctx, "u1", assessment.TypeSpeaking, "p2", speakingQuestions()); err != nil {
		t.Fatalf("start after expiry: %v", err)
	}
}

func TestCheckExpiredSweep(t *testing.T) {
	m, _, clock := newTestManager(t)
	ctx := context.Background()

	if _, err := m.Start(ctx, "u1", assessment.TypeSpeaking, "p1", speakingQuestions()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := m.Start(ctx, "u2", assessment.TypeSpeaking, "p2", speakingQuestions()); err != nil {
		t.Fatalf("start: %v", err)
	}

	clock.Advance(DefaultConfig().Timings.Phase1 + time.Minute)

	n, err := m.CheckExpired(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 2 {
		t.Errorf("sweep expired %d sessions, want 2", n)
	}
}

// A candidate mid-conversation does not expire when a phase runs out of
// time; the elapsed budget advances the phase instead.
func TestEngagedSessionAdvancesAtDeadline(t *testing.T) {
	m, _, clock := newTestManager(t)
	ctx := context.Background()

	s, err := m.Start(ctx, "u1", assessment.TypeSpeaking, "p1", speakingQuestions())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, _, err := m.SubmitTurn(ctx, s.SessionID, "I work as a nurse."); err != nil {
		t.Fatalf("submit: %v", err)
	}

	clock.Advance(DefaultConfig().Timings.Phase1 + time.Minute)

	s, err = m.Status(ctx, s.SessionID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if s.Phase != PhasePart2Prep {
		t.Fatalf("phase = %s, want phase2_prep for an engaged candidate", s.Phase)
	}
	last := s.Turns[len(s.Turns)-1]
	if last.Role != RoleExaminer || !last.PhaseAdvance {
		t.Errorf("expected an advancing examiner turn, got role=%s advance=%v", last.Role, last.PhaseAdvance)
	}
}

// The prep interval ends on its timer whether or not the candidate spoke,
// and a candidate who then goes silent expires within the next phase.
func TestEngagedSessionEventuallyExpiresWhenSilent(t *testing.T) {
	m, _, clock := newTestManager(t)
	ctx := context.Background()

	s, err := m.Start(ctx, "u1", assessment.TypeSpeaking, "p1", speakingQuestions())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, _, err := m.SubmitTurn(ctx, s.SessionID, "I grew up in a small town."); err != nil {
		t.Fatalf("submit: %v", err)
	}

	cfg := DefaultConfig().Timings

	// Phase 1 elapses with activity: advance into prep.
	clock.Advance(cfg.Phase1 + time.Minute)
	if s, err = m.Status(ctx, s.SessionID); err != nil || s.Phase != PhasePart2Prep {
		t.Fatalf("phase = %s err = %v, want phase2_prep", s.Phase, err)
	}

	// Prep elapses: transition regardless of activity.
	clock.Advance(cfg.Phase2Prep + time.Second)
	if s, err = m.Status(ctx, s.SessionID); err != nil || s.Phase != PhasePart2Active {
		t.Fatalf("phase = %s err = %v, want phase2_active", s.Phase, err)
	}

	// Silence through phase 2: no candidate turns in this phase, so the
	// deadline passing expires the session.
	clock.Advance(cfg.Phase2 + time.Second)
	if s, err = m.Status(ctx, s.SessionID); err != nil || s.Phase != PhaseExpired {
		t.Fatalf("phase = %s err = %v, want expired", s.Phase, err)
	}
}

// The deadline is exclusive: a session observed at exactly deadline_at is
// still live.
func TestDeadlineInstantIsStillLive(t *testing.T) {
	m, _, clock := newTestManager(t)
	ctx := context.Background()

	s, err := m.Start(ctx, "u1", assessment.TypeSpeaking, "p1", speakingQuestions())
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	clock.Advance(DefaultConfig().Timings.Phase1)

	s, err = m.Status(ctx, s.SessionID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if s.Phase != PhasePart1Active {
		t.Fatalf("phase = %s, want phase1_active at the deadline instant", s.Phase)
	}
}

// markerGetHook wraps an adapter and runs a callback after the first Get
// of one key returns, squeezing a concurrent writer into the gap between
// reading the active marker and clearing it.
type markerGetHook struct {
	store.Adapter
	key   string
	fired bool
	hook  func()
}

func (a *markerGetHook) Get(ctx context.Context, collection, key string) (*store.Item, error) {
	item, err := a.Adapter.Get(ctx, collection, key)
	if err == nil && key == a.key && !a.fired {
		a.fired = true
		a.hook()
	}
	return item, err
}

// Releasing a terminal session's marker must not clobber a marker that a
// concurrent start has already swapped to its own new session.
func TestReleaseYieldsToConcurrentStart(t *testing.T) {
	adapter := store.NewMemory()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	key := activeKey("u1", assessment.TypeSpeaking)
	hooked := &markerGetHook{Adapter: adapter, key: key}
	m := NewManager(hooked, DefaultConfig(), zap.NewNop())
	m.now = clock.Now
	ctx := context.Background()

	s, err := m.Start(ctx, "u1", assessment.TypeSpeaking, "p1", speakingQuestions())
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	// Between the release's read of the marker and its clear, another
	// start claims the slot for a new session.
	hooked.hook = func() {
		item, err := adapter.Get(ctx, store.CollectionSessions, key)
		if err != nil {
			t.Fatalf("hook get: %v", err)
		}
		if err := adapter.CompareAndSwap(ctx, store.CollectionSessions, key, item.Version, []byte("new-session")); err != nil {
			t.Fatalf("hook swap: %v", err)
		}
	}

	if _, err := m.Cancel(ctx, s.SessionID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	item, err := adapter.Get(ctx, store.CollectionSessions, key)
	if err != nil {
		t.Fatalf("marker after release: %v", err)
	}
	if string(item.Data) != "new-session" {
		t.Fatalf("marker = %q, want the concurrent start's session to survive the release", item.Data)
	}
}

// Serializing a session and reloading it from the adapter reproduces an
// identical ordered turn sequence.
func TestSessionRoundTripPreservesTurnOrder(t *testing.T) {
	sqlite, err := store.OpenSQLite(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })

	for name, adapter := range map[string]store.Adapter{
		"memory": store.NewMemory(),
		"sqlite": sqlite,
	} {
		t.Run(name, func(t *testing.T) {
			m := NewManager(adapter, DefaultConfig(), zap.NewNop())
			ctx := context.Background()

			s, err := m.Start(ctx, "u1", assessment.TypeSpeaking, "p1", speakingQuestions())
			if err != nil {
				t.Fatalf("start: %v", err)
			}
			for i := 0; i < 3; i++ {
				if s, _, err = m.SubmitTurn(ctx, s.SessionID, fmt.Sprintf("answer %d", i)); err != nil {
					t.Fatalf("submit: %v", err)
				}
			}

			item, err := adapter.Get(ctx, store.CollectionSessions, sessionKey(s.SessionID))
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			reloaded := &Session{}
			if err := json.Unmarshal(item.Data, reloaded); err != nil {
				t.Fatalf("decode: %v", err)
			}

			if len(reloaded.Turns) != len(s.Turns) {
				t.Fatalf("reloaded %d turns, want %d", len(reloaded.Turns), len(s.Turns))
			}
			for i := range s.Turns {
				if reloaded.Turns[i].TurnID != s.Turns[i].TurnID {
					t.Errorf("turn %d: ID %s != %s", i, reloaded.Turns[i].TurnID, s.Turns[i].TurnID)
				}
				if reloaded.Turns[i].Role != s.Turns[i].Role || reloaded.Turns[i].Content != s.Turns[i].Content {
					t.Errorf("turn %d differs after round trip", i)
				}
			}
		})
	}
}

type acceptRecorder struct {
	calls int
	fail  error
}

func (a *acceptRecorder) Accept(_ context.Context, _ *Session) error {
	a.calls++
	return a.fail
}

func TestCompletionRequiresScoringAcceptance(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	rec := &acceptRecorder{fail: errors.New("queue full")}
	m.SetCompleter(rec)

	s, err := m.Start(ctx, "u1", assessment.TypeAcademicWriting, "p1", writingQuestion())
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, _, err := m.SubmitTurn(ctx, s.SessionID, "essay"); err == nil {
		t.Fatal("expected completion to fail when acceptance fails")
	}

	// The session did not reach completed; the submission can be retried.
	s, err = m.Status(ctx, s.SessionID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if s.Phase != PhaseDraftActive {
		t.Fatalf("phase = %s, want draft_active preserved", s.Phase)
	}

	rec.fail = nil
	s, _, err = m.SubmitTurn(ctx, s.SessionID, "essay")
	if err != nil {
		t.Fatalf("retry submit: %v", err)
	}
	if s.Phase != PhaseCompleted {
		t.Fatalf("phase = %s, want completed", s.Phase)
	}
	if rec.calls != 2 {
		t.Errorf("acceptance called %d times, want 2", rec.calls)
	}
}
