// Package questionbank owns the question bank and per-user usage history.
// The bank itself is published by a content-management process outside
// the engine and is read-only here; the allocator's job is to hand each
// reserved attempt questions the user has not already seen.
package questionbank

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/abhisek/lingoband/internal/assessment"
	"github.com/abhisek/lingoband/internal/store"
)

// Question is one published assessment prompt. Immutable once published.
type Question struct {
	QuestionID     string              `json:"question_id"`
	AssessmentType assessment.Type     `json:"assessment_type"`
	PhaseTag       assessment.PhaseTag `json:"phase_tag"`
	Difficulty     int                 `json:"difficulty"`
	TopicTags      []string            `json:"topic_tags"`
	PromptPayload  json.RawMessage     `json:"prompt_payload"`
}

// UsageRecord marks one question as consumed by one user's attempt.
// Append-only; one record per attempt that actually consumed a question.
type UsageRecord struct {
	UserID         string          `json:"user_id"`
	AssessmentType assessment.Type `json:"assessment_type"`
	QuestionID     string          `json:"question_id"`
	UsedAt         time.Time       `json:"used_at"`
}

// usageKey builds the storage key for a usage record. One row per
// (user, question) pair; re-allocation under the exhaustion fallback
// overwrites rather than duplicates.
func usageKey(userID string, typ assessment.Type, questionID string) string {
	return fmt.Sprintf("%s/%s/%s", userID, typ, questionID)
}

// Bank is a read-only view over the published question bank.
type Bank struct {
	adapter store.Adapter
}

// NewBank creates a Bank over the adapter.
func NewBank(adapter store.Adapter) *Bank {
	return &Bank{adapter: adapter}
}

// ForType returns every published question for an assessment type.
func (b *Bank) ForType(ctx context.Context, typ assessment.Type) ([]*Question, error) {
	items, err := b.adapter.Query(ctx, store.CollectionQuestionBank, nil)
	if err != nil {
		return nil, fmt.Errorf("query question bank: %w", err)
	}

	var out []*Question
	for _, item := range items {
		q := &Question{}
		if err := json.Unmarshal(item.Data, q); err != nil {
			return nil, fmt.Errorf("decode question %s: %w", item.Key, err)
		}
		if q.AssessmentType == typ {
			out = append(out, q)
		}
	}
	return out, nil
}

// Get returns one question by ID.
func (b *Bank) Get(ctx context.Context, questionID string) (*Question, error) {
	item, err := b.adapter.Get(ctx, store.CollectionQuestionBank, questionID)
	if err != nil {
		return nil, fmt.Errorf("get question %s: %w", questionID, err)
	}
	q := &Question{}
	if err := json.Unmarshal(item.Data, q); err != nil {
		return nil, fmt.Errorf("decode question %s: %w", questionID, err)
	}
	return q, nil
}

// Publish writes questions into the bank. Used by the seed CLI, not by
// the engine itself.
func (b *Bank) Publish(ctx context.Context, questions ...*Question) error {
	for _, q := range questions {
		if err := q.AssessmentType.Validate(); err != nil {
			return err
		}
		data, err := json.Marshal(q)
		if err != nil {
			return fmt.Errorf("marshal question %s: %w", q.QuestionID, err)
		}
		if err := b.adapter.Put(ctx, store.CollectionQuestionBank, &store.Item{Key: q.QuestionID, Data: data}); err != nil {
			return fmt.Errorf("publish question %s: %w", q.QuestionID, err)
		}
	}
	return nil
}
