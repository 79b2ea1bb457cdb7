package examsession

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/store"
)

// AnswerCache owns the answer records of one (exam, user) scope. It is
// authoritative for answer state; fetched pages only contribute content.
type AnswerCache struct {
	table              *store.Table[model.AnswerRecord]
	examID             uuid.UUID
	userID             int
	optionsPerQuestion int
	counts             *Feed[int]
	now                func() time.Time
	log                zerolog.Logger

	mu       sync.Mutex
	records  map[uuid.UUID]*model.AnswerRecord
	answered int
	retired  bool
}

// NewAnswerCache creates an empty cache for the scope. counts receives the
// answered count after every change; pass nil to let the cache own its feed.
func NewAnswerCache(s store.Store, examID uuid.UUID, userID, optionsPerQuestion int, counts *Feed[int], log zerolog.Logger) *AnswerCache {
	if counts == nil {
		counts = NewFeed[int]()
	}
	return &AnswerCache{
		table:              answerTable(s, examID, userID),
		examID:             examID,
		userID:             userID,
		optionsPerQuestion: optionsPerQuestion,
		counts:             counts,
		now:                time.Now,
		log: log.With().
			Str("component", "answer_cache").
			Str("exam_id", examID.String()).
			Int("user_id", userID).
			Logger(),
		records: make(map[uuid.UUID]*model.AnswerRecord),
	}
}

// Load rebuilds the in-memory index from the store.
func (c *AnswerCache) Load(ctx context.Context) error {
	stored, err := c.table.All(ctx)
	if err != nil {
		return fmt.Errorf("load answers: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.records = make(map[uuid.UUID]*model.AnswerRecord, len(stored))
	for i := range stored {
		c.records[stored[i].QuestionID] = &stored[i]
	}
	c.recount()
	c.log.Debug().Int("records", len(stored)).Int("answered", c.answered).Msg("Answer cache loaded")
	return nil
}

// ReconcilePage merges fetched questions with the cached answer state.
// Questions seen for the first time get an empty record. A cleared cache
// returns the questions unanswered and records nothing.
func (c *AnswerCache) ReconcilePage(ctx context.Context, fetched []model.Question) []model.Question {
	c.mu.Lock()
	defer c.mu.Unlock()

	merged := make([]model.Question, len(fetched))
	if c.retired {
		for i := range fetched {
			merged[i] = fetched[i]
			merged[i].Options = slices.Clone(fetched[i].Options)
		}
		return merged
	}
	var fresh []model.AnswerRecord

	for i := range fetched {
		q := fetched[i]
		q.Options = slices.Clone(q.Options)

		rec, ok := c.records[q.ID]
		if !ok {
			r := model.NewAnswerRecord(&q, c.userID)
			r.ExamID = c.examID
			r.UpdatedAt = c.now()
			rec = &r
			c.records[q.ID] = rec
			fresh = append(fresh, r)
		} else if rec.Fit(&q) {
			fresh = append(fresh, *rec)
		}
		rec.Apply(&q)
		merged[i] = q
	}

	if len(fresh) > 0 {
		// Empty or resized records carry no answer state; a lost write is recreated on the next fetch.
		if err := c.table.UpsertAll(ctx, fresh...); err != nil {
			c.log.Warn().Err(err).Int("count", len(fresh)).Msg("Failed to persist fresh answer records")
		}
	}

	c.recount()
	return merged
}

// Record selects optionIndex for the question and persists the record before
// returning. Memory is only updated once the write succeeded. The question
// must already be known from a fetched page or the stored records.
func (c *AnswerCache) Record(ctx context.Context, questionID uuid.UUID, optionIndex int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.retired {
		return ErrNotActive
	}
	if optionIndex < 0 {
		return ErrInvalidOption
	}

	rec, ok := c.records[questionID]
	if !ok {
		return ErrUnknownQuestion
	}
	next := *rec
	next.Selections = slices.Clone(rec.Selections)
	limit := len(next.Selections)
	if limit == 0 {
		limit = c.optionsPerQuestion
	}
	if limit > 0 && optionIndex >= limit {
		return ErrInvalidOption
	}

	next.Select(optionIndex)
	next.UpdatedAt = c.now()

	if err := c.table.UpsertAll(ctx, next); err != nil {
		return fmt.Errorf("persist answer: %w", err)
	}

	c.records[questionID] = &next
	c.recount()

	c.log.Debug().
		Str("question_id", questionID.String()).
		Int("option", optionIndex).
		Int("answered", c.answered).
		Msg("Answer recorded")
	return nil
}

// AnsweredCount returns how many records are answered.
func (c *AnswerCache) AnsweredCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.answered
}

// Records returns a snapshot of every record ordered by question id.
func (c *AnswerCache) Records() []model.AnswerRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]model.AnswerRecord, 0, len(c.records))
	for _, r := range c.records {
		cp := *r
		cp.Selections = slices.Clone(r.Selections)
		out = append(out, cp)
	}
	slices.SortFunc(out, func(a, b model.AnswerRecord) int {
		return bytes.Compare(a.QuestionID[:], b.QuestionID[:])
	})
	return out
}

// Clear deletes every record of the scope. The cache accepts no further
// writes afterwards.
func (c *AnswerCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.retired = true
	if err := c.table.Clear(ctx); err != nil {
		return fmt.Errorf("clear answers: %w", err)
	}
	c.records = make(map[uuid.UUID]*model.AnswerRecord)
	c.recount()
	c.log.Info().Msg("Answer cache cleared")
	return nil
}

// SubscribeAnsweredCount streams the answered count.
func (c *AnswerCache) SubscribeAnsweredCount() (<-chan int, func()) {
	return c.counts.Subscribe()
}

// recount refreshes the answered count and publishes it. Callers hold c.mu.
func (c *AnswerCache) recount() {
	n := 0
	for _, r := range c.records {
		if r.Answered {
			n++
		}
	}
	c.answered = n
	c.counts.Publish(n)
}
