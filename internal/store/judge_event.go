package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JudgeCallEvent captures a single call to the external AI judge.
// Append-only; used for usage accounting and incident debugging.
type JudgeCallEvent struct {
	EventID      string    `json:"event_id"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	Purpose      string    `json:"purpose"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	LatencyMs    int64     `json:"latency_ms"`
	Success      bool      `json:"success"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// JudgeEventRepo provides append access to judge call events.
type JudgeEventRepo interface {
	// AppendJudgeCall records one judge API call.
	AppendJudgeCall(ctx context.Context, ev JudgeCallEvent) error

	// JudgeCallStats returns total calls and total tokens consumed.
	JudgeCallStats(ctx context.Context) (calls int, tokens int, err error)
}

// NewJudgeEventRepo returns a JudgeEventRepo backed by the adapter.
func NewJudgeEventRepo(adapter Adapter) JudgeEventRepo {
	return &judgeEventRepo{adapter: adapter}
}

type judgeEventRepo struct {
	adapter Adapter
}

func (r *judgeEventRepo) AppendJudgeCall(ctx context.Context, ev JudgeCallEvent) error {
	if ev.EventID == "" {
		ev.EventID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal judge event: %w", err)
	}
	if err := r.adapter.Put(ctx, CollectionJudgeEvents, &Item{Key: ev.EventID, Data: data}); err != nil {
		return fmt.Errorf("save judge event: %w", err)
	}
	return nil
}

func (r *judgeEventRepo) JudgeCallStats(ctx context.Context) (int, int, error) {
	items, err := r.adapter.Query(ctx, CollectionJudgeEvents, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("query judge events: %w", err)
	}

	tokens := 0
	for _, item := range items {
		var ev JudgeCallEvent
		if err := json.Unmarshal(item.Data, &ev); err != nil {
			return 0, 0, fmt.Errorf("decode judge event %s: %w", item.Key, err)
		}
		tokens += ev.InputTokens + ev.OutputTokens
	}
	return len(items), tokens, nil
}
