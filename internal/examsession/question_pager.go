package examsession

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/store"
)

// QuestionSource fetches question pages from the exam API.
type QuestionSource interface {
	GetQuestionPage(ctx context.Context, examID uuid.UUID, page, pageSize int) (*model.QuestionPage, error)
}

// PageResult is a reconciled page. Stale is set when it was served from the
// local cache because the fetch failed.
type PageResult struct {
	Questions  []model.Question
	Page       int
	PageSize   int
	TotalCount int
	Stale      bool
}

// QuestionPager fetches pages and pipes them through the answer cache.
type QuestionPager struct {
	api   QuestionSource
	cache *AnswerCache
	table *store.Table[cachedQuestion]
	log   zerolog.Logger

	// mu orders cache writes against Clear.
	mu         sync.Mutex
	totalCount int
	cleared    bool
}

// NewQuestionPager creates a pager for the cache's scope. totalQuestions is
// the exam's question count until a fetch reports one.
func NewQuestionPager(api QuestionSource, s store.Store, cache *AnswerCache, totalQuestions int, log zerolog.Logger) *QuestionPager {
	return &QuestionPager{
		api:        api,
		cache:      cache,
		table:      questionTable(s, cache.examID, cache.userID),
		log:        log.With().Str("component", "question_pager").Str("exam_id", cache.examID.String()).Logger(),
		totalCount: totalQuestions,
	}
}

// FetchPage loads one page. On a network failure the locally cached copy of
// the page is returned with Stale set and an error wrapping ErrStaleData; if
// the page is not fully cached the fetch error is returned as is. Once the
// pager is cleared a fetch still returns the page but caches nothing.
func (p *QuestionPager) FetchPage(ctx context.Context, examID uuid.UUID, page, pageSize int) (PageResult, error) {
	res, err := p.api.GetQuestionPage(ctx, examID, page, pageSize)

	p.mu.Lock()
	defer p.mu.Unlock()

	if err != nil {
		if p.cleared {
			return PageResult{}, err
		}
		return p.fallback(ctx, page, pageSize, err)
	}
	if p.cleared {
		return PageResult{
			Questions:  p.cache.ReconcilePage(ctx, res.Questions),
			Page:       page,
			PageSize:   pageSize,
			TotalCount: res.TotalCount,
		}, nil
	}

	rows := make([]cachedQuestion, len(res.Questions))
	for i, q := range res.Questions {
		rows[i] = cachedQuestion{
			Position: (page-1)*pageSize + i,
			Page:     page,
			PageSize: pageSize,
			Question: q,
		}
	}
	if err := p.table.UpsertAll(ctx, rows...); err != nil {
		p.log.Warn().Err(err).Int("page", page).Msg("Failed to cache question page")
	}
	if res.TotalCount > 0 {
		p.totalCount = res.TotalCount
	}

	return PageResult{
		Questions:  p.cache.ReconcilePage(ctx, res.Questions),
		Page:       page,
		PageSize:   pageSize,
		TotalCount: res.TotalCount,
	}, nil
}

// fallback serves page from the local cache. Callers hold p.mu.
func (p *QuestionPager) fallback(ctx context.Context, page, pageSize int, fetchErr error) (PageResult, error) {
	// The caller may have given up on the fetch; the local read must still run.
	local := context.WithoutCancel(ctx)

	rows, err := p.table.GetPage(local, store.Query{
		Filter: []store.Condition{
			{Field: "page", Value: page},
			{Field: "page_size", Value: pageSize},
		},
	})
	if err != nil {
		p.log.Error().Err(err).Int("page", page).Msg("Question cache read failed")
		return PageResult{}, fetchErr
	}
	if want := p.slots(page, pageSize); len(rows) == 0 || len(rows) != want {
		if len(rows) > 0 {
			p.log.Warn().Int("page", page).Int("cached", len(rows)).Int("want", want).Msg("Question page only partly cached")
		}
		return PageResult{}, fetchErr
	}

	questions := make([]model.Question, len(rows))
	for i, r := range rows {
		questions[i] = r.Question
	}

	p.log.Warn().Err(fetchErr).Int("page", page).Int("questions", len(questions)).Msg("Serving stale question page")

	return PageResult{
		Questions:  p.cache.ReconcilePage(local, questions),
		Page:       page,
		PageSize:   pageSize,
		TotalCount: p.totalCount,
		Stale:      true,
	}, fmt.Errorf("%w: %v", ErrStaleData, fetchErr)
}

// slots is the number of questions page holds: a full page, or the
// remainder on the last page once the total is known.
func (p *QuestionPager) slots(page, pageSize int) int {
	if p.totalCount <= 0 {
		return pageSize
	}
	return max(0, min(pageSize, p.totalCount-(page-1)*pageSize))
}

// Clear drops the cached question content of the scope. Later fetches no
// longer write to the cache.
func (p *QuestionPager) Clear(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.cleared = true
	return p.table.Clear(ctx)
}
