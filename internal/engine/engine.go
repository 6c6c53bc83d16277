// Package engine is the facade the API layer calls: it composes the
// entitlement ledger, question allocator, session manager, and scoring
// pipeline into the per-request operations, and maps every failure to a
// stable error kind. Callers never see a raw store or judge error.
package engine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/abhisek/lingoband/internal/assessment"
	"github.com/abhisek/lingoband/internal/entitlement"
	"github.com/abhisek/lingoband/internal/questionbank"
	"github.com/abhisek/lingoband/internal/receipt"
	"github.com/abhisek/lingoband/internal/scoring"
	"github.com/abhisek/lingoband/internal/session"
)

// Stable error kinds. Expected conditions always surface as one of these,
// never as a generic internal error.
var (
	ErrEntitlementExhausted   = errors.New("entitlement exhausted")
	ErrSessionAlreadyActive   = errors.New("session already active")
	ErrNoQuestionsAvailable   = errors.New("no questions available")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrPersistenceConflict    = errors.New("persistence conflict")
	ErrSessionNotFound        = errors.New("session not found")
	ErrResultNotReady         = errors.New("result not ready")
)

// Engine drives one assessment attempt end to end.
type Engine struct {
	ledger    *entitlement.Ledger
	allocator *questionbank.Allocator
	sessions  *session.Manager
	pipeline  *scoring.Pipeline
	log       *zap.Logger
}

// New wires the components together. Session completion hands the session
// to the scoring pipeline synchronously, in-process.
func New(ledger *entitlement.Ledger, allocator *questionbank.Allocator, sessions *session.Manager, pipeline *scoring.Pipeline, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{
		ledger:    ledger,
		allocator: allocator,
		sessions:  sessions,
		pipeline:  pipeline,
		log:       log,
	}
	sessions.SetCompleter(&scoringCompleter{pipeline: pipeline, log: log})
	return e
}

// StartAttempt reserves an entitlement, allocates questions, and opens the
// session — atomic from the caller's point of view. The credit is spent
// once questions have been shown; a failure before that hands the
// reservation back.
func (e *Engine) StartAttempt(ctx context.Context, userID string, typ assessment.Type) (*session.Session, error) {
	if err := typ.Validate(); err != nil {
		return nil, err
	}

	res, err := e.ledger.Reserve(ctx, userID, typ)
	if err != nil {
		return nil, mapEntitlementErr(err)
	}

	alloc, err := e.allocator.Allocate(ctx, userID, typ)
	if err != nil {
		e.releaseReservation(ctx, res)
		if errors.Is(err, questionbank.ErrNoQuestionsAvailable) {
			return nil, fmt.Errorf("%w: %v", ErrNoQuestionsAvailable, err)
		}
		return nil, err
	}

	s, err := e.sessions.Start(ctx, userID, typ, res.PurchaseID, alloc.Questions)
	if err != nil {
		// The user never saw a question; the credit goes back.
		e.releaseReservation(ctx, res)
		if errors.Is(err, session.ErrAlreadyActive) {
			return nil, fmt.Errorf("%w: %s/%s", ErrSessionAlreadyActive, userID, typ)
		}
		return nil, err
	}

	// The session now presents the questions, so the attempt is spent even
	// if the user walks away. Usage follows the spend, keeping the no-repeat
	// history consistent with entitlement consumption.
	e.ledger.MarkSpent(res)
	if err := e.allocator.RecordUsage(ctx, userID, typ, alloc.QuestionIDs()...); err != nil {
		e.log.Warn("failed to record question usage",
			zap.String("session_id", s.SessionID),
			zap.Error(err))
	}

	return s, nil
}

// SubmitTurn appends a candidate turn and returns the examiner's reply.
func (e *Engine) SubmitTurn(ctx context.Context, sessionID, content string) (*session.Session, *session.Turn, error) {
	s, turn, err := e.sessions.SubmitTurn(ctx, sessionID, content)
	if err != nil {
		return s, turn, mapSessionErr(err)
	}
	return s, turn, nil
}

// CancelAttempt abandons the session. Idempotent; the spent credit stays
// spent.
func (e *Engine) CancelAttempt(ctx context.Context, sessionID string) (*session.Session, error) {
	s, err := e.sessions.Cancel(ctx, sessionID)
	if err != nil {
		return nil, mapSessionErr(err)
	}
	return s, nil
}

// SessionStatus returns the session after applying any due timer
// transitions.
func (e *Engine) SessionStatus(ctx context.Context, sessionID string) (*session.Session, error) {
	s, err := e.sessions.Status(ctx, sessionID)
	if err != nil {
		return nil, mapSessionErr(err)
	}
	return s, nil
}

// Result returns the session's ScoreResult, or ErrResultNotReady while the
// session is unscored.
func (e *Engine) Result(ctx context.Context, sessionID string) (*scoring.ScoreResult, error) {
	result, err := e.pipeline.Result(ctx, sessionID)
	if errors.Is(err, scoring.ErrNotScored) {
		return nil, fmt.Errorf("%w: session %s", ErrResultNotReady, sessionID)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RedeemReceipt verifies a storefront receipt and credits the purchase it
// paid for.
func (e *Engine) RedeemReceipt(ctx context.Context, userID string, platform receipt.Platform, receiptBlob []byte) (*entitlement.Purchase, error) {
	return e.ledger.CreateFromReceipt(ctx, userID, platform, receiptBlob)
}

// CheckExpired sweeps sessions past their deadline. Intended for a
// scheduler tick.
func (e *Engine) CheckExpired(ctx context.Context) (int, error) {
	return e.sessions.CheckExpired(ctx)
}

func (e *Engine) releaseReservation(ctx context.Context, res *entitlement.Reservation) {
	if err := e.ledger.Release(ctx, res); err != nil {
		e.log.Warn("failed to release reservation",
			zap.String("purchase_id", res.PurchaseID),
			zap.Error(err))
	}
}

func mapEntitlementErr(err error) error {
	switch {
	case errors.Is(err, entitlement.ErrExhausted):
		return fmt.Errorf("%w: %v", ErrEntitlementExhausted, err)
	case errors.Is(err, entitlement.ErrPersistenceConflict):
		return fmt.Errorf("%w: %v", ErrPersistenceConflict, err)
	}
	return err
}

func mapSessionErr(err error) error {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrSessionNotFound, err)
	case errors.Is(err, session.ErrInvalidTransition):
		return fmt.Errorf("%w: %v", ErrInvalidStateTransition, err)
	case errors.Is(err, session.ErrPersistenceConflict):
		return fmt.Errorf("%w: %v", ErrPersistenceConflict, err)
	}
	return err
}

// scoringCompleter feeds finished sessions to the pipeline. A judge outage
// accepts the session anyway: it completes unscored, the entitlement stays
// spent, and a later reconciliation retries the score.
type scoringCompleter struct {
	pipeline *scoring.Pipeline
	log      *zap.Logger
}

func (c *scoringCompleter) Accept(ctx context.Context, s *session.Session) error {
	_, err := c.pipeline.Score(ctx, s)
	if err != nil {
		var unavail *scoring.ScoringUnavailableError
		if errors.As(err, &unavail) {
			c.log.Warn("session completed unscored, scoring pending",
				zap.String("session_id", s.SessionID),
				zap.Error(err))
			return nil
		}
		return err
	}
	return nil
}
