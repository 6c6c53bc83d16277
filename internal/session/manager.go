package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/abhisek/lingoband/internal/assessment"
	"github.com/abhisek/lingoband/internal/questionbank"
	"github.com/abhisek/lingoband/internal/store"
)

// ErrNotFound indicates no session exists under the requested ID.
var ErrNotFound = errors.New("session not found")

// ErrAlreadyActive indicates the user already has a non-terminal session
// for this assessment type. The client should resume that session instead
// of retrying creation.
var ErrAlreadyActive = errors.New("session already active")

// ErrInvalidTransition indicates the requested operation is not legal in
// the session's current phase (e.g. a turn submitted to a terminal
// session, or during the phase 2 preparation interval).
var ErrInvalidTransition = errors.New("invalid state transition")

// ErrPersistenceConflict indicates a session write lost its optimistic-
// concurrency race too many times in a row.
var ErrPersistenceConflict = errors.New("persistence conflict")

// maxCASRetries bounds internal retries of a session write that lost a
// compare-and-swap race.
const maxCASRetries = 3

// Session rows and active-session markers share the sessions collection
// under distinct key prefixes. The marker under activeKey holds the
// session ID whose row is expected to be non-terminal; markers are
// created with CAS so two concurrent starts cannot both win.
const (
	sessionKeyPrefix = "sess/"
	activeKeyPrefix  = "active/"
)

func sessionKey(sessionID string) string { return sessionKeyPrefix + sessionID }

func activeKey(userID string, typ assessment.Type) string {
	return fmt.Sprintf("%s%s/%s", activeKeyPrefix, userID, typ)
}

// Timings bounds each phase. Exact bounds are configuration, not
// hard-coded in the engine.
type Timings struct {
	Phase1     time.Duration
	Phase2Prep time.Duration
	Phase2     time.Duration
	Phase3     time.Duration
	Draft      time.Duration
}

// TurnBudgets is the number of candidate turns that exhausts each spoken
// phase, triggering the next transition.
type TurnBudgets struct {
	Phase1 int
	Phase2 int
	Phase3 int
}

// Config holds the session manager's tunables.
type Config struct {
	Timings Timings
	Turns   TurnBudgets
}

// DefaultConfig returns the phase bounds used in production.
func DefaultConfig() Config {
	return Config{
		Timings: Timings{
			Phase1:     5 * time.Minute,
			Phase2Prep: 1 * time.Minute,
			Phase2:     3 * time.Minute,
			Phase3:     6 * time.Minute,
			Draft:      40 * time.Minute,
		},
		Turns: TurnBudgets{
			Phase1: 4,
			Phase2: 1,
			Phase3: 4,
		},
	}
}

// PhaseAdvisor consults the external AI judge on whether the current
// phase's conversational goal is satisfied. Optional: when absent, phase
// advancement is purely turn-budget driven.
type PhaseAdvisor interface {
	PhaseGoalMet(ctx context.Context, s *Session) (bool, error)
}

// Completer accepts a completed session for scoring. The session enters
// the completed phase only after Accept returns without error — acceptance,
// not necessarily a finished score.
type Completer interface {
	Accept(ctx context.Context, s *Session) error
}

// Manager owns every session mutation: creation, turns, cancellation,
// and deadline expiry. Expiry is a lazy check performed on next access
// plus an optional sweep; no dedicated timer thread.
type Manager struct {
	adapter  store.Adapter
	cfg      Config
	log      *zap.Logger
	advisor  PhaseAdvisor // may be nil
	complete Completer    // may be nil

	// now is swappable for tests.
	now func() time.Time
}

// NewManager creates a session manager on the adapter.
func NewManager(adapter store.Adapter, cfg Config, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		adapter: adapter,
		cfg:     cfg,
		log:     log,
		now:     time.Now,
	}
}

// SetAdvisor installs the judge-backed phase advisor.
func (m *Manager) SetAdvisor(a PhaseAdvisor) { m.advisor = a }

// SetCompleter installs the scoring acceptance hook.
func (m *Manager) SetCompleter(c Completer) { m.complete = c }

// Start creates a session for a reserved attempt and transitions it into
// its first active phase. Enforces the single-active invariant: a second
// start while one session is live fails with ErrAlreadyActive and creates
// no row.
func (m *Manager) Start(ctx context.Context, userID string, typ assessment.Type, purchaseID string, questions []*questionbank.Question) (*Session, error) {
	now := m.now().UTC()

	s := &Session{
		SessionID:      uuid.New().String(),
		UserID:         userID,
		PurchaseID:     purchaseID,
		AssessmentType: typ,
		Phase:          PhaseCreated,
		StartedAt:      now,
		LastActivityAt: now,
	}
	for _, q := range questions {
		s.Questions = append(s.Questions, PhaseQuestion{
			QuestionID: q.QuestionID,
			PhaseTag:   q.PhaseTag,
			Prompt:     promptText(q.PromptPayload),
		})
	}

	if err := m.claimActive(ctx, s); err != nil {
		return nil, err
	}

	// created → first active phase fires immediately on creation.
	first := PhaseDraftActive
	if typ.Spoken() {
		first = PhasePart1Active
	}
	m.enterPhase(s, first, now)

	// The examiner opens with the first phase's question.
	if q := s.QuestionForPhase(s.Phase); q != nil {
		m.examinerTurn(s, q.Prompt, now, false)
	}

	if err := m.saveNew(ctx, s); err != nil {
		// Roll the marker back so the user isn't locked out.
		m.releaseActive(ctx, s)
		return nil, err
	}

	m.log.Info("session started",
		zap.String("session_id", s.SessionID),
		zap.String("user_id", userID),
		zap.String("assessment_type", string(typ)),
		zap.String("phase", string(s.Phase)))

	return s, nil
}

// SubmitTurn appends a candidate turn and returns the engine's examiner
// reply, advancing the phase when its exit condition is met.
func (m *Manager) SubmitTurn(ctx context.Context, sessionID, content string) (*Session, *Turn, error) {
	for attempt := 0; attempt < maxCASRetries; attempt++ {
		s, version, err := m.load(ctx, sessionID)
		if err != nil {
			return nil, nil, err
		}

		now := m.now().UTC()
		if m.applyTimers(ctx, s, now) {
			if err := m.save(ctx, s, version); err != nil {
				if errors.Is(err, store.ErrVersionConflict) {
					continue
				}
				return nil, nil, err
			}
			version++
		}

		if s.Phase.Terminal() {
			m.releaseActive(ctx, s)
			return s, nil, fmt.Errorf("%w: session is %s", ErrInvalidTransition, s.Phase)
		}
		if !s.Phase.AcceptsTurns() {
			return s, nil, fmt.Errorf("%w: no turns accepted in %s", ErrInvalidTransition, s.Phase)
		}

		s.Turns = append(s.Turns, Turn{
			TurnID:    uuid.New().String(),
			SessionID: s.SessionID,
			Role:      RoleCandidate,
			Content:   content,
			Timestamp: now,
		})
		s.LastActivityAt = now

		examiner, err := m.respond(ctx, s, now)
		if err != nil {
			return nil, nil, err
		}

		if err := m.save(ctx, s, version); err != nil {
			if errors.Is(err, store.ErrVersionConflict) {
				continue
			}
			return nil, nil, err
		}

		if s.Phase.Terminal() {
			m.releaseActive(ctx, s)
		}
		return s, examiner, nil
	}

	return nil, nil, ErrPersistenceConflict
}

// Cancel transitions the session to abandoned. Idempotent: cancelling an
// already-terminal session is a no-op, not an error.
func (m *Manager) Cancel(ctx context.Context, sessionID string) (*Session, error) {
	for attempt := 0; attempt < maxCASRetries; attempt++ {
		s, version, err := m.load(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if s.Phase.Terminal() {
			return s, nil
		}

		s.Phase = PhaseAbandoned
		if err := m.save(ctx, s, version); err != nil {
			if errors.Is(err, store.ErrVersionConflict) {
				continue
			}
			return nil, err
		}

		m.releaseActive(ctx, s)
		m.log.Info("session abandoned", zap.String("session_id", s.SessionID))
		return s, nil
	}

	return nil, ErrPersistenceConflict
}

// Status returns the session after applying any due timer transitions —
// an expired session is observed as expired on the status check itself.
func (m *Manager) Status(ctx context.Context, sessionID string) (*Session, error) {
	for attempt := 0; attempt < maxCASRetries; attempt++ {
		s, version, err := m.load(ctx, sessionID)
		if err != nil {
			return nil, err
		}

		if m.applyTimers(ctx, s, m.now().UTC()) {
			if err := m.save(ctx, s, version); err != nil {
				if errors.Is(err, store.ErrVersionConflict) {
					continue
				}
				return nil, err
			}
			if s.Phase.Terminal() {
				m.releaseActive(ctx, s)
			}
		}
		return s, nil
	}

	return nil, ErrPersistenceConflict
}

// ActiveSession returns the user's non-terminal session for a type, or
// nil when none exists.
func (m *Manager) ActiveSession(ctx context.Context, userID string, typ assessment.Type) (*Session, error) {
	item, err := m.adapter.Get(ctx, store.CollectionSessions, activeKey(userID, typ))
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active marker: %w", err)
	}

	s, _, err := m.load(ctx, string(item.Data))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if s.Phase.Terminal() {
		return nil, nil
	}
	return s, nil
}

// CheckExpired sweeps all non-terminal sessions and applies due timer
// transitions. Intended for a periodic scheduler tick; the lazy per-access
// check makes the sweep an optimization, not a correctness requirement.
func (m *Manager) CheckExpired(ctx context.Context) (int, error) {
	items, err := m.adapter.Query(ctx, store.CollectionSessions, func(it *store.Item) bool {
		return strings.HasPrefix(it.Key, sessionKeyPrefix)
	})
	if err != nil {
		return 0, fmt.Errorf("query sessions: %w", err)
	}

	expired := 0
	now := m.now().UTC()
	for _, item := range items {
		s := &Session{}
		if err := json.Unmarshal(item.Data, s); err != nil {
			return expired, fmt.Errorf("decode session %s: %w", item.Key, err)
		}
		if s.Phase.Terminal() || !m.applyTimers(ctx, s, now) {
			continue
		}
		if err := m.save(ctx, s, item.Version); err != nil {
			if errors.Is(err, store.ErrVersionConflict) {
				// Someone else touched it; their access ran the check.
				continue
			}
			return expired, err
		}
		if s.Phase.Terminal() {
			m.releaseActive(ctx, s)
		}
		if s.Phase == PhaseExpired {
			expired++
		}
	}
	return expired, nil
}

// applyTimers applies due timer-driven transitions once the deadline is
// strictly past. Running out of time is a phase-advance trigger for a
// phase the candidate has engaged with; only a phase with no candidate
// activity expires. Returns true when the session changed. The attempt
// stays spent on expiry.
func (m *Manager) applyTimers(ctx context.Context, s *Session, now time.Time) bool {
	if s.Phase.Terminal() || !now.After(s.DeadlineAt) {
		return false
	}

	// Prep ending is a transition regardless of activity; the candidate
	// is not expected to speak while preparing.
	if s.Phase == PhasePart2Prep || s.candidateTurnsInPhase() > 0 {
		if _, err := m.advance(ctx, s, now); err != nil {
			m.log.Warn("timed phase advance deferred",
				zap.String("session_id", s.SessionID),
				zap.Error(err))
			return false
		}
		return true
	}

	s.Phase = PhaseExpired
	m.log.Info("session expired",
		zap.String("session_id", s.SessionID),
		zap.Time("deadline_at", s.DeadlineAt),
		zap.Time("last_activity_at", s.LastActivityAt))
	return true
}

// respond decides whether the candidate turn satisfied the phase's exit
// condition and appends the corresponding examiner turn. The decision is
// a fixed turn budget per phase, or the judge advisor's confirmation that
// the conversational goal is met.
func (m *Manager) respond(ctx context.Context, s *Session, now time.Time) (*Turn, error) {
	advance := false

	switch s.Phase {
	case PhaseDraftActive:
		// The essay is a single submission.
		advance = true
	case PhasePart1Active:
		advance = s.candidateTurnsInPhase() >= m.cfg.Turns.Phase1
	case PhasePart2Active:
		advance = s.candidateTurnsInPhase() >= m.cfg.Turns.Phase2
	case PhasePart3Active:
		advance = s.candidateTurnsInPhase() >= m.cfg.Turns.Phase3
	}

	if !advance && m.advisor != nil {
		met, err := m.advisor.PhaseGoalMet(ctx, s)
		if err != nil {
			// Advisor failure falls back to the turn budget.
			m.log.Warn("phase advisor failed", zap.String("session_id", s.SessionID), zap.Error(err))
		} else {
			advance = met
		}
	}

	if !advance {
		turn := m.examinerTurn(s, m.continuationPrompt(s), now, false)
		return turn, nil
	}

	return m.advance(ctx, s, now)
}

// advance moves the session into its next phase and appends the examiner
// turn that opens it. Completion is gated on scoring acceptance.
func (m *Manager) advance(ctx context.Context, s *Session, now time.Time) (*Turn, error) {
	next := m.nextPhase(s.Phase)
	if next == PhaseCompleted {
		if err := m.acceptForScoring(ctx, s); err != nil {
			return nil, err
		}
		s.Phase = PhaseCompleted
		return m.examinerTurn(s, "That is the end of the assessment. Thank you.", now, true), nil
	}

	m.enterPhase(s, next, now)

	var content string
	switch next {
	case PhasePart2Prep:
		content = "Here is your topic. You have some time to prepare before speaking."
		if q := s.QuestionForPhase(PhasePart2Active); q != nil {
			content = content + " Topic: " + q.Prompt
		}
	case PhasePart2Active:
		content = "Please begin speaking on the topic you prepared."
		if q := s.QuestionForPhase(next); q != nil {
			content = q.Prompt
		}
	default:
		if q := s.QuestionForPhase(next); q != nil {
			content = q.Prompt
		}
	}

	return m.examinerTurn(s, content, now, true), nil
}

// nextPhase returns the successor of an active phase.
func (m *Manager) nextPhase(p Phase) Phase {
	switch p {
	case PhasePart1Active:
		return PhasePart2Prep
	case PhasePart2Prep:
		return PhasePart2Active
	case PhasePart2Active:
		return PhasePart3Active
	case PhasePart3Active, PhaseDraftActive:
		return PhaseCompleted
	}
	return PhaseCompleted
}

// enterPhase moves the session into a phase and stamps its deadline.
func (m *Manager) enterPhase(s *Session, p Phase, now time.Time) {
	s.Phase = p

	var d time.Duration
	switch p {
	case PhasePart1Active:
		d = m.cfg.Timings.Phase1
	case PhasePart2Prep:
		d = m.cfg.Timings.Phase2Prep
	case PhasePart2Active:
		d = m.cfg.Timings.Phase2
	case PhasePart3Active:
		d = m.cfg.Timings.Phase3
	case PhaseDraftActive:
		d = m.cfg.Timings.Draft
	}
	s.DeadlineAt = now.Add(d)
}

// acceptForScoring hands the finished session to the scoring hook. The
// completed phase is entered only when acceptance succeeds.
func (m *Manager) acceptForScoring(ctx context.Context, s *Session) error {
	if m.complete == nil {
		return nil
	}
	if err := m.complete.Accept(ctx, s); err != nil {
		return fmt.Errorf("accept for scoring: %w", err)
	}
	return nil
}

func (m *Manager) examinerTurn(s *Session, content string, now time.Time, advance bool) *Turn {
	turn := Turn{
		TurnID:       uuid.New().String(),
		SessionID:    s.SessionID,
		Role:         RoleExaminer,
		Content:      content,
		Timestamp:    now,
		PhaseAdvance: advance,
	}
	s.Turns = append(s.Turns, turn)
	return &s.Turns[len(s.Turns)-1]
}

// continuationPrompt is the examiner's follow-up when the phase continues.
func (m *Manager) continuationPrompt(s *Session) string {
	return "Thank you. Please tell me more about that."
}

// claimActive installs the active-session marker with CAS so concurrent
// starts race on the marker row and exactly one wins. A stale marker
// pointing at a terminal session is replaced in place.
func (m *Manager) claimActive(ctx context.Context, s *Session) error {
	key := activeKey(s.UserID, s.AssessmentType)

	err := m.adapter.CompareAndSwap(ctx, store.CollectionSessions, key, 0, []byte(s.SessionID))
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrVersionConflict) {
		return fmt.Errorf("claim active session: %w", err)
	}

	// Marker exists: either a session is live, or the marker is stale.
	item, getErr := m.adapter.Get(ctx, store.CollectionSessions, key)
	if getErr != nil {
		return ErrAlreadyActive
	}

	existing, _, loadErr := m.load(ctx, string(item.Data))
	if loadErr == nil && !existing.Phase.Terminal() {
		return ErrAlreadyActive
	}

	// Stale marker: swap it to the new session at the observed version.
	// Losing this CAS means another start got there first.
	if casErr := m.adapter.CompareAndSwap(ctx, store.CollectionSessions, key, item.Version, []byte(s.SessionID)); casErr != nil {
		return ErrAlreadyActive
	}
	return nil
}

// releaseActive clears the active marker once a session is terminal by
// CAS-ing it to an empty tombstone at the version observed. A concurrent
// start may have already swapped the marker to a new session; losing the
// CAS (or seeing another session ID) means the marker is no longer ours
// and must be left alone. The next claim replaces the tombstone in place.
func (m *Manager) releaseActive(ctx context.Context, s *Session) {
	key := activeKey(s.UserID, s.AssessmentType)
	item, err := m.adapter.Get(ctx, store.CollectionSessions, key)
	if err != nil || string(item.Data) != s.SessionID {
		return
	}
	err = m.adapter.CompareAndSwap(ctx, store.CollectionSessions, key, item.Version, nil)
	if err != nil && !errors.Is(err, store.ErrVersionConflict) {
		m.log.Warn("failed to release active marker", zap.String("session_id", s.SessionID), zap.Error(err))
	}
}

func (m *Manager) load(ctx context.Context, sessionID string) (*Session, int64, error) {
	item, err := m.adapter.Get(ctx, store.CollectionSessions, sessionKey(sessionID))
	if errors.Is(err, store.ErrNotFound) {
		return nil, 0, ErrNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("get session %s: %w", sessionID, err)
	}

	s := &Session{}
	if err := json.Unmarshal(item.Data, s); err != nil {
		return nil, 0, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	return s, item.Version, nil
}

func (m *Manager) saveNew(ctx context.Context, s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := m.adapter.CompareAndSwap(ctx, store.CollectionSessions, sessionKey(s.SessionID), 0, data); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (m *Manager) save(ctx context.Context, s *Session, version int64) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	err = m.adapter.CompareAndSwap(ctx, store.CollectionSessions, sessionKey(s.SessionID), version, data)
	if err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			return err
		}
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}
