package judge

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/abhisek/lingoband/internal/store"
)

// LoggingProvider wraps a Provider and records every call as a
// JudgeCallEvent. Recording failures never fail the call itself.
type LoggingProvider struct {
	inner  Provider
	name   string
	events store.JudgeEventRepo
	logger *zap.Logger
}

// WithLogging wraps the provider with call-event recording. events may
// be nil, in which case only structured logs are emitted.
func WithLogging(inner Provider, name string, events store.JudgeEventRepo, logger *zap.Logger) *LoggingProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoggingProvider{inner: inner, name: name, events: events, logger: logger}
}

func (p *LoggingProvider) Evaluate(ctx context.Context, req Request) (*Verdict, error) {
	start := time.Now()
	resp, err := p.inner.Evaluate(ctx, req)
	latency := time.Since(start)

	ev := store.JudgeCallEvent{
		Provider:  p.name,
		Model:     p.inner.ModelID(),
		Purpose:   PurposeFrom(ctx),
		LatencyMs: latency.Milliseconds(),
		Success:   err == nil,
	}
	if err != nil {
		ev.ErrorMessage = err.Error()
	}
	if resp != nil {
		ev.InputTokens = resp.Usage.InputTokens
		ev.OutputTokens = resp.Usage.OutputTokens
	}

	if p.events != nil {
		if recErr := p.events.AppendJudgeCall(ctx, ev); recErr != nil {
			p.logger.Warn("failed to record judge call event", zap.Error(recErr))
		}
	}

	if err != nil {
		p.logger.Warn("judge call failed",
			zap.String("provider", p.name),
			zap.String("model", ev.Model),
			zap.String("purpose", ev.Purpose),
			zap.Duration("latency", latency),
			zap.Error(err))
	} else {
		p.logger.Debug("judge call completed",
			zap.String("provider", p.name),
			zap.String("model", ev.Model),
			zap.String("purpose", ev.Purpose),
			zap.Int("input_tokens", ev.InputTokens),
			zap.Int("output_tokens", ev.OutputTokens),
			zap.Duration("latency", latency))
	}

	return resp, err
}

func (p *LoggingProvider) ModelID() string {
	return p.inner.ModelID()
}
