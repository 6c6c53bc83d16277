package questionbank

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/abhisek/lingoband/internal/assessment"
	"github.com/abhisek/lingoband/internal/store"
)

// ErrNoQuestionsAvailable indicates the bank holds no questions at all for
// the assessment type. The exhaustion fallback makes this unreachable for
// users who merely saw everything; it fires only on an empty bank.
var ErrNoQuestionsAvailable = errors.New("no questions available")

// Allocation is the question set picked for one attempt: one question per
// required phase tag, in phase order.
type Allocation struct {
	Questions []*Question

	// Repeated is true when the exhaustion fallback fired and at least
	// one question repeats the user's history.
	Repeated bool
}

// QuestionIDs returns the allocated question IDs in phase order.
func (a *Allocation) QuestionIDs() []string {
	ids := make([]string, len(a.Questions))
	for i, q := range a.Questions {
		ids[i] = q.QuestionID
	}
	return ids
}

// Allocator picks the next questions for a reserved attempt, minimizing
// repetition across the user's history.
type Allocator struct {
	bank    *Bank
	adapter store.Adapter
	log     *zap.Logger

	// pick is swappable for deterministic tests. Defaults to a uniform
	// random index.
	pick func(n int) int
}

// NewAllocator creates an Allocator over the bank and usage history.
func NewAllocator(bank *Bank, adapter store.Adapter, log *zap.Logger) *Allocator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Allocator{
		bank:    bank,
		adapter: adapter,
		log:     log,
		pick:    rand.IntN,
	}
}

// Allocate picks one unused question per required phase tag for the type.
// When the user has exhausted a phase's pool, it falls back to the full
// pool for that phase, allowing repetition. Returns
// ErrNoQuestionsAvailable only when a required phase has no published
// questions at all.
func (a *Allocator) Allocate(ctx context.Context, userID string, typ assessment.Type) (*Allocation, error) {
	bank, err := a.bank.ForType(ctx, typ)
	if err != nil {
		return nil, err
	}

	used, err := a.usedSet(ctx, userID, typ)
	if err != nil {
		return nil, err
	}

	alloc := &Allocation{}
	for _, phase := range typ.RequiredPhaseTags() {
		pool := questionsForPhase(bank, phase)
		if len(pool) == 0 {
			return nil, fmt.Errorf("%w: phase %s of %s", ErrNoQuestionsAvailable, phase, typ)
		}

		available := unusedQuestions(pool, used)
		if len(available) == 0 {
			// Exhaustion fallback: the user has seen this whole phase
			// pool, so repetition is allowed rather than blocking the
			// attempt they already paid for.
			a.log.Warn("question pool exhausted, allowing repetition",
				zap.String("user_id", userID),
				zap.String("assessment_type", string(typ)),
				zap.String("phase_tag", string(phase)))
			available = pool
			alloc.Repeated = true
		}

		q := a.pickBalanced(available, pool, used)
		alloc.Questions = append(alloc.Questions, q)

		// Don't hand the same question to two phases of one attempt.
		used[q.QuestionID] = time.Now()
	}

	return alloc, nil
}

// RecordUsage appends usage records for allocated questions. Called only
// after the attempt is confirmed spent, so usage and entitlement
// consumption stay consistent. Append-only, no cross-request coordination:
// a duplicate allocation races to the same record, which is tolerable.
func (a *Allocator) RecordUsage(ctx context.Context, userID string, typ assessment.Type, questionIDs ...string) error {
	now := time.Now().UTC()
	for _, qid := range questionIDs {
		rec := UsageRecord{
			UserID:         userID,
			AssessmentType: typ,
			QuestionID:     qid,
			UsedAt:         now,
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal usage record: %w", err)
		}
		key := usageKey(userID, typ, qid)
		if err := a.adapter.Put(ctx, store.CollectionQuestionUsage, &store.Item{Key: key, Data: data}); err != nil {
			return fmt.Errorf("record usage %s: %w", key, err)
		}
	}
	return nil
}

// usedSet loads the user's question usage for a type, keyed by question ID.
func (a *Allocator) usedSet(ctx context.Context, userID string, typ assessment.Type) (map[string]time.Time, error) {
	items, err := a.adapter.Query(ctx, store.CollectionQuestionUsage, nil)
	if err != nil {
		return nil, fmt.Errorf("query question usage: %w", err)
	}

	used := make(map[string]time.Time)
	for _, item := range items {
		var rec UsageRecord
		if err := json.Unmarshal(item.Data, &rec); err != nil {
			return nil, fmt.Errorf("decode usage record %s: %w", item.Key, err)
		}
		if rec.UserID == userID && rec.AssessmentType == typ {
			used[rec.QuestionID] = rec.UsedAt
		}
	}
	return used, nil
}

// pickBalanced picks from candidates, preferring the least-recently-used
// topic so consecutive attempts rotate subject matter. Topic recency is
// computed over the whole phase pool — the candidates themselves are
// usually unused. Within the preferred topic the pick is uniform random;
// ties break on topic name so the preference itself is deterministic.
func (a *Allocator) pickBalanced(candidates, pool []*Question, used map[string]time.Time) *Question {
	type topicRecency struct {
		topic  string
		lastAt time.Time
	}

	// Only topics a candidate can satisfy matter.
	lastByTopic := make(map[string]time.Time)
	for _, q := range candidates {
		for _, topic := range q.TopicTags {
			if _, ok := lastByTopic[topic]; !ok {
				lastByTopic[topic] = time.Time{}
			}
		}
	}
	for _, q := range pool {
		usedAt, ok := used[q.QuestionID]
		if !ok {
			continue
		}
		for _, topic := range q.TopicTags {
			if last, tracked := lastByTopic[topic]; tracked && usedAt.After(last) {
				lastByTopic[topic] = usedAt
			}
		}
	}

	var topics []topicRecency
	for topic, at := range lastByTopic {
		topics = append(topics, topicRecency{topic: topic, lastAt: at})
	}
	if len(topics) == 0 {
		// No topic tags published; plain uniform pick.
		return candidates[a.pick(len(candidates))]
	}

	sort.Slice(topics, func(i, j int) bool {
		if !topics[i].lastAt.Equal(topics[j].lastAt) {
			return topics[i].lastAt.Before(topics[j].lastAt)
		}
		return topics[i].topic < topics[j].topic
	})

	preferred := topics[0].topic
	var matches []*Question
	for _, q := range candidates {
		for _, topic := range q.TopicTags {
			if topic == preferred {
				matches = append(matches, q)
				break
			}
		}
	}
	if len(matches) == 0 {
		matches = candidates
	}
	return matches[a.pick(len(matches))]
}

func questionsForPhase(bank []*Question, phase assessment.PhaseTag) []*Question {
	var out []*Question
	for _, q := range bank {
		if q.PhaseTag == phase {
			out = append(out, q)
		}
	}
	// Stable candidate order regardless of store iteration order.
	sort.Slice(out, func(i, j int) bool { return out[i].QuestionID < out[j].QuestionID })
	return out
}

func unusedQuestions(pool []*Question, used map[string]time.Time) []*Question {
	var out []*Question
	for _, q := range pool {
		if _, ok := used[q.QuestionID]; !ok {
			out = append(out, q)
		}
	}
	return out
}
