package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/abhisek/lingoband/internal/assessment"
	"github.com/abhisek/lingoband/internal/judge"
	"github.com/abhisek/lingoband/internal/session"
	"github.com/abhisek/lingoband/internal/store"
)

// ErrNotScored indicates no ScoreResult exists yet for the session.
var ErrNotScored = errors.New("session not yet scored")

// ScoringUnavailableError indicates the judge could not produce a verdict
// after retries. The session stays completed-unscored; entitlement and
// question usage are never rolled back on this path.
type ScoringUnavailableError struct {
	SessionID string
	Err       error
}

func (e *ScoringUnavailableError) Error() string {
	return fmt.Sprintf("scoring unavailable for session %s: %v", e.SessionID, e.Err)
}

func (e *ScoringUnavailableError) Unwrap() error { return e.Err }

// CriterionScore is one graded rubric criterion.
type CriterionScore struct {
	Score    float64 `json:"score"`
	Feedback string  `json:"feedback"`
}

// ScoreResult is the immutable outcome of scoring one session.
// At most one exists per session.
type ScoreResult struct {
	ResultID       string                    `json:"result_id"`
	SessionID      string                    `json:"session_id"`
	AssessmentType assessment.Type           `json:"assessment_type"`
	RubricID       string                    `json:"rubric_id"`
	OverallBand    float64                   `json:"overall_band"`
	Criteria       map[string]CriterionScore `json:"criteria"`
	JudgeModel     string                    `json:"judge_model"`
	ProducedAt     time.Time                 `json:"produced_at"`
}

// Pipeline scores completed sessions through the judge.
type Pipeline struct {
	provider judge.Provider
	adapter  store.Adapter
	logger   *zap.Logger
	now      func() time.Time
}

// NewPipeline creates a scoring pipeline. The provider is expected to
// already carry retry middleware.
func NewPipeline(provider judge.Provider, adapter store.Adapter, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		provider: provider,
		adapter:  adapter,
		logger:   logger,
		now:      time.Now,
	}
}

// verdict is the judge's response shape. The judge's own overall_band,
// when present, is discarded.
type verdict struct {
	Criteria map[string]CriterionScore `json:"criteria"`
	Notes    string                    `json:"notes,omitempty"`
}

// Score produces the ScoreResult for a completed session. If a result
// already exists it is returned unchanged; duplicate scoring of the same
// session is a no-op.
func (p *Pipeline) Score(ctx context.Context, s *session.Session) (*ScoreResult, error) {
	if existing, err := p.Result(ctx, s.SessionID); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrNotScored) {
		return nil, err
	}

	rubric, err := RubricFor(s.AssessmentType)
	if err != nil {
		return nil, err
	}

	req, err := buildRequest(s, rubric)
	if err != nil {
		return nil, err
	}

	purpose := "score_" + string(s.AssessmentType)
	resp, err := p.provider.Evaluate(judge.WithPurpose(ctx, purpose), req)
	if err != nil {
		p.logger.Warn("judge evaluation failed",
			zap.String("session_id", s.SessionID),
			zap.Error(err))
		return nil, &ScoringUnavailableError{SessionID: s.SessionID, Err: err}
	}

	var v verdict
	if err := json.Unmarshal(resp.Content, &v); err != nil {
		return nil, &ScoringUnavailableError{
			SessionID: s.SessionID,
			Err:       fmt.Errorf("decode verdict: %w", err),
		}
	}

	result := &ScoreResult{
		ResultID:       uuid.New().String(),
		SessionID:      s.SessionID,
		AssessmentType: s.AssessmentType,
		RubricID:       rubric.ID,
		OverallBand:    overallBand(v.Criteria),
		Criteria:       v.Criteria,
		JudgeModel:     resp.Model,
		ProducedAt:     p.now().UTC(),
	}

	if err := p.save(ctx, result); err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			// Another caller scored the session first; its result wins.
			return p.Result(ctx, s.SessionID)
		}
		return nil, err
	}

	p.logger.Info("session scored",
		zap.String("session_id", s.SessionID),
		zap.String("rubric", rubric.ID),
		zap.Float64("overall_band", result.OverallBand))

	return result, nil
}

// Result returns the stored ScoreResult for the session, or ErrNotScored.
func (p *Pipeline) Result(ctx context.Context, sessionID string) (*ScoreResult, error) {
	item, err := p.adapter.Get(ctx, store.CollectionScoreResults, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotScored
	}
	if err != nil {
		return nil, fmt.Errorf("load score result: %w", err)
	}

	var result ScoreResult
	if err := json.Unmarshal(item.Data, &result); err != nil {
		return nil, fmt.Errorf("decode score result %s: %w", sessionID, err)
	}
	return &result, nil
}

// save creates the result row keyed by session ID. Create-only: a
// version conflict means the session already has a result.
func (p *Pipeline) save(ctx context.Context, result *ScoreResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal score result: %w", err)
	}
	if err := p.adapter.CompareAndSwap(ctx, store.CollectionScoreResults, result.SessionID, 0, data); err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			return err
		}
		return fmt.Errorf("save score result: %w", err)
	}
	return nil
}

func buildRequest(s *session.Session, rubric Rubric) (judge.Request, error) {
	artifact := s.Transcript()
	if strings.TrimSpace(artifact) == "" {
		return judge.Request{}, fmt.Errorf("session %s has no scorable content", s.SessionID)
	}

	kind := "conversation transcript"
	if !s.AssessmentType.Spoken() {
		kind = "essay"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Rubric: %s\n", rubric.ID)
	fmt.Fprintf(&b, "Criteria: %s\n\n", strings.Join(rubric.Criteria, ", "))
	fmt.Fprintf(&b, "Candidate %s:\n%s", kind, artifact)

	return judge.Request{
		Instructions: "You are an examiner for an English language assessment. " +
			"Grade the candidate's performance against each named criterion " +
			"on a 0-9 band scale in half-band steps. Be consistent and cite " +
			"concrete evidence from the candidate's language in your feedback.",
		Material:  b.String(),
		Schema:    rubric.Schema(),
		MaxTokens: 2048,
	}, nil
}

// overallBand reduces criterion scores to the overall band: mean, rounded
// to the nearest half band (half away from zero), clamped to [0, 9].
func overallBand(criteria map[string]CriterionScore) float64 {
	if len(criteria) == 0 {
		return 0
	}
	sum := 0.0
	for _, c := range criteria {
		sum += c.Score
	}
	mean := sum / float64(len(criteria))

	band := math.Round(mean*2) / 2
	if band < 0 {
		band = 0
	}
	if band > 9 {
		band = 9
	}
	return band
}
