package examsession

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/store"
	"github.com/stemsi/exstem-session/internal/worker"
)

var t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

const testUserID = 42

// ─── Fake exam API ──────────────────────────────────────────────────────

type fakeAPI struct {
	mu        sync.Mutex
	def       *model.ExamDefinition
	questions []model.Question
	policy    model.AttemptPolicy

	defErr    error
	pageErr   error
	submitErr error

	// When set, SubmitSession signals started and waits for release.
	started chan struct{}
	release chan struct{}

	pageCalls   int
	submitCalls int
	submitted   []model.SubmitRequest
}

func newFakeAPI(total, perPage, options, durationSeconds int) *fakeAPI {
	examID := uuid.New()
	api := &fakeAPI{
		def: &model.ExamDefinition{
			ID:                 examID,
			Title:              "Fisika Dasar",
			DurationSeconds:    durationSeconds,
			TotalQuestions:     total,
			QuestionsPerPage:   perPage,
			OptionsPerQuestion: options,
		},
	}
	for i := 0; i < total; i++ {
		q := model.Question{ID: uuid.New(), ExamID: examID, OrderNum: i + 1, Text: fmt.Sprintf("Soal %d", i+1)}
		for o := 0; o < options; o++ {
			q.Options = append(q.Options, model.Option{Index: o, Label: string(rune('A' + o)), Text: fmt.Sprintf("opsi %d", o)})
		}
		api.questions = append(api.questions, q)
	}
	return api
}

func (f *fakeAPI) examID() uuid.UUID { return f.def.ID }

func (f *fakeAPI) set(fn func(f *fakeAPI)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeAPI) GetExamDefinition(ctx context.Context, examID uuid.UUID) (*model.ExamDefinition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.defErr != nil {
		return nil, f.defErr
	}
	def := *f.def
	return &def, nil
}

func (f *fakeAPI) GetAttemptPolicy(ctx context.Context, examID uuid.UUID) (*model.AttemptPolicy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.policy
	return &p, nil
}

func (f *fakeAPI) GetQuestionPage(ctx context.Context, examID uuid.UUID, page, pageSize int) (*model.QuestionPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pageCalls++
	if f.pageErr != nil {
		return nil, f.pageErr
	}
	start := (page - 1) * pageSize
	end := min(start+pageSize, len(f.questions))
	out := &model.QuestionPage{Page: page, PerPage: pageSize, TotalCount: len(f.questions)}
	for i := start; i < end; i++ {
		// Server never reports answer state.
		q := f.questions[i]
		q.Options = append([]model.Option(nil), q.Options...)
		out.Questions = append(out.Questions, q)
	}
	return out, nil
}

func (f *fakeAPI) SubmitSession(ctx context.Context, req model.SubmitRequest) (*model.SubmitResult, error) {
	f.mu.Lock()
	f.submitCalls++
	f.submitted = append(f.submitted, req)
	started, release, err := f.started, f.release, f.submitErr
	f.mu.Unlock()

	if started != nil {
		close(started)
		<-release
	}
	if err != nil {
		return nil, err
	}

	score := 80.0
	return &model.SubmitResult{
		Session: model.ExamSession{
			ID:           uuid.New(),
			ExamID:       req.ExamID,
			UserID:       req.UserID,
			StartedAt:    req.StartedAt,
			EndedAt:      &req.EndedAt,
			Attempt:      req.Attempt,
			Status:       model.SessionStatusCompleted,
			SubmissionID: req.SubmissionID,
			FinalScore:   &score,
		},
		Result: []model.Question{f.questions[0]},
	}, nil
}

func (f *fakeAPI) calls() (pages, submits int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pageCalls, f.submitCalls
}

func (f *fakeAPI) lastSubmit() model.SubmitRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submitted[len(f.submitted)-1]
}

// statusErr mimics an API error carrying an HTTP status.
type statusErr int

func (e statusErr) Error() string   { return fmt.Sprintf("status %d", int(e)) }
func (e statusErr) HTTPStatus() int { return int(e) }

var errOffline = errors.New("dial tcp: connection refused")

// ─── Time ───────────────────────────────────────────────────────────────

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type fakeTicker struct{ c chan time.Time }

func (f *fakeTicker) C() <-chan time.Time { return f.c }
func (f *fakeTicker) Stop()               {}

type tickers struct {
	mu      sync.Mutex
	current *fakeTicker
}

func (ts *tickers) New(time.Duration) worker.Ticker {
	t := &fakeTicker{c: make(chan time.Time)}
	ts.mu.Lock()
	ts.current = t
	ts.mu.Unlock()
	return t
}

// Fire delivers one tick to the running countdown.
func (ts *tickers) Fire(t *testing.T, now time.Time) {
	t.Helper()
	ts.mu.Lock()
	cur := ts.current
	ts.mu.Unlock()
	select {
	case cur.c <- now:
	case <-time.After(2 * time.Second):
		t.Fatal("countdown is not waiting for a tick")
	}
}

// ─── Fixtures ───────────────────────────────────────────────────────────

func newStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

type harness struct {
	api     *fakeAPI
	store   store.Store
	clock   *fakeClock
	tickers *tickers
	ctrl    *Controller
}

func newHarness(t *testing.T, api *fakeAPI) *harness {
	t.Helper()
	return newHarnessWithStore(t, api, newStore(t))
}

func newHarnessWithStore(t *testing.T, api *fakeAPI, s store.Store) *harness {
	t.Helper()
	h := &harness{api: api, store: s, clock: &fakeClock{now: t0}, tickers: &tickers{}}
	cd := worker.NewCountdown(zerolog.Nop(), worker.WithClock(h.clock.Now), worker.WithTicker(h.tickers.New))
	h.ctrl = NewController(api, s, testUserID, zerolog.Nop(), WithCountdown(cd))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.ctrl.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		h.ctrl.Close()
	})
	return h
}

// start starts the exam and fetches every page, so each question can be answered.
func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	if err := h.ctrl.Start(ctx, h.api.examID()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for page := 1; page <= h.ctrl.Definition().PageCount(); page++ {
		if _, err := h.ctrl.FetchPage(ctx, page); err != nil {
			t.Fatalf("FetchPage(%d): %v", page, err)
		}
	}
}

func waitState(t *testing.T, c *Controller, want State) {
	t.Helper()
	ch, cancel := c.SubscribeState()
	defer cancel()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-ch:
			if s == want {
				return
			}
		case <-deadline:
			t.Fatalf("state = %s, want %s", c.State(), want)
		}
	}
}

func answersIn(t *testing.T, s store.Store, examID uuid.UUID) []model.AnswerRecord {
	t.Helper()
	recs, err := answerTable(s, examID, testUserID).All(context.Background())
	if err != nil {
		t.Fatalf("read answers: %v", err)
	}
	return recs
}
