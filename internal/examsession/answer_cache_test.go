package examsession

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-session/internal/store"
)

func newCache(t *testing.T, s store.Store, api *fakeAPI) *AnswerCache {
	t.Helper()
	c := NewAnswerCache(s, api.examID(), testUserID, api.def.OptionsPerQuestion, nil, zerolog.Nop())
	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return c
}

func TestAnswerCacheRecord(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI(3, 10, 4, 600)
	cache := newCache(t, newStore(t), api)
	cache.ReconcilePage(ctx, api.questions)
	q := api.questions[1].ID

	tests := []struct {
		name    string
		qid     uuid.UUID
		option  int
		wantErr error
	}{
		{"first option", q, 0, nil},
		{"change answer", q, 3, nil},
		{"negative index", q, -1, ErrInvalidOption},
		{"past last option", q, 4, ErrInvalidOption},
		{"unfetched question within bounds", uuid.New(), 2, ErrUnknownQuestion},
		{"unfetched question out of bounds", uuid.New(), 9, ErrUnknownQuestion},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := cache.Record(ctx, tt.qid, tt.option)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Record err = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if got := cache.AnsweredCount(); got != 1 {
		t.Errorf("AnsweredCount = %d, want 1", got)
	}

	merged := cache.ReconcilePage(ctx, api.questions[1:2])
	if idx := merged[0].SelectedIndex(); idx != 3 {
		t.Errorf("selected = %d, want 3", idx)
	}
	selected := 0
	for _, o := range merged[0].Options {
		if o.Selected {
			selected++
		}
	}
	if selected != 1 {
		t.Errorf("%d options selected, want exactly 1", selected)
	}
}

func TestAnswerCacheRejectsUnknownQuestions(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI(6, 3, 4, 600)
	s := newStore(t)
	cache := newCache(t, s, api)
	cache.ReconcilePage(ctx, api.questions[:3])

	tests := []struct {
		name string
		qid  uuid.UUID
	}{
		{"random id", uuid.New()},
		{"question of an unfetched page", api.questions[4].ID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := cache.Record(ctx, tt.qid, 1); !errors.Is(err, ErrUnknownQuestion) {
				t.Fatalf("Record err = %v, want ErrUnknownQuestion", err)
			}
		})
	}

	if got := cache.AnsweredCount(); got != 0 {
		t.Errorf("AnsweredCount = %d, want 0", got)
	}
	if n := len(answersIn(t, s, api.examID())); n != 3 {
		t.Errorf("%d records stored, want the 3 fetched", n)
	}

	// Records restored from the store are known without a fetch.
	if err := cache.Record(ctx, api.questions[0].ID, 2); err != nil {
		t.Fatalf("Record: %v", err)
	}
	reloaded := newCache(t, s, api)
	if err := reloaded.Record(ctx, api.questions[1].ID, 0); err != nil {
		t.Errorf("Record after reload: %v", err)
	}
	if got := reloaded.AnsweredCount(); got != 2 {
		t.Errorf("AnsweredCount after reload = %d, want 2", got)
	}
}

func TestAnswerCacheClearStopsWrites(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI(4, 4, 4, 600)
	s := newStore(t)
	cache := newCache(t, s, api)
	cache.ReconcilePage(ctx, api.questions)
	if err := cache.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	// A fetch finishing after Clear must not bring the scope back.
	merged := cache.ReconcilePage(ctx, api.questions)
	if len(merged) != 4 || merged[0].Answered {
		t.Errorf("merged = %d questions, first answered %v", len(merged), merged[0].Answered)
	}
	if err := cache.Record(ctx, api.questions[0].ID, 1); !errors.Is(err, ErrNotActive) {
		t.Errorf("Record err = %v, want ErrNotActive", err)
	}
	if n := len(answersIn(t, s, api.examID())); n != 0 {
		t.Errorf("%d records written after Clear", n)
	}
	if got := cache.AnsweredCount(); got != 0 {
		t.Errorf("AnsweredCount = %d, want 0", got)
	}
}

func TestAnswerCacheSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI(5, 5, 4, 600)
	s := newStore(t)

	first := newCache(t, s, api)
	first.ReconcilePage(ctx, api.questions)
	if err := first.Record(ctx, api.questions[2].ID, 1); err != nil {
		t.Fatalf("Record: %v", err)
	}

	second := newCache(t, s, api)
	if got := second.AnsweredCount(); got != 1 {
		t.Fatalf("AnsweredCount after reload = %d, want 1", got)
	}
	merged := second.ReconcilePage(ctx, api.questions)
	if !merged[2].Answered || merged[2].SelectedIndex() != 1 {
		t.Errorf("question 3 = answered %v, selected %d", merged[2].Answered, merged[2].SelectedIndex())
	}
	if len(second.Records()) != 5 {
		t.Errorf("Records = %d, want 5", len(second.Records()))
	}
}

// failingStore fails writes on demand.
type failingStore struct {
	store.Store
	fail bool
}

func (f *failingStore) UpsertAll(ctx context.Context, table string, records []store.Record) error {
	if f.fail {
		return errors.New("disk full")
	}
	return f.Store.UpsertAll(ctx, table, records)
}

func TestAnswerCacheWriteFailureKeepsState(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI(2, 2, 4, 600)
	fs := &failingStore{Store: newStore(t)}
	cache := newCache(t, fs, api)
	cache.ReconcilePage(ctx, api.questions)

	if err := cache.Record(ctx, api.questions[0].ID, 2); err != nil {
		t.Fatalf("Record: %v", err)
	}

	fs.fail = true
	if err := cache.Record(ctx, api.questions[0].ID, 0); err == nil {
		t.Fatal("Record succeeded on a failing store")
	}
	recs := cache.Records()
	for _, r := range recs {
		if r.QuestionID == api.questions[0].ID && r.SelectedIndex() != 2 {
			t.Errorf("in-memory selection = %d, want 2 (unchanged)", r.SelectedIndex())
		}
	}

	// A fetch still reconciles while fresh-record writes fail.
	merged := cache.ReconcilePage(ctx, api.questions)
	if merged[0].SelectedIndex() != 2 {
		t.Errorf("merged selection = %d, want 2", merged[0].SelectedIndex())
	}
}

func TestReconcileNeverRevertsAnswers(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))

	for run := 0; run < 20; run++ {
		api := newFakeAPI(20, 10, 4, 600)
		cache := newCache(t, newStore(t), api)
		cache.ReconcilePage(ctx, api.questions)
		want := map[uuid.UUID]int{}

		for step := 0; step < 60; step++ {
			if rng.Intn(3) == 0 {
				page := rng.Intn(2) + 1
				res, _ := api.GetQuestionPage(ctx, api.examID(), page, 10)
				for _, q := range cache.ReconcilePage(ctx, res.Questions) {
					exp, ok := want[q.ID]
					if ok != q.Answered || (ok && q.SelectedIndex() != exp) {
						t.Fatalf("run %d step %d: question %d answered=%v selected=%d, want answered=%v selected=%d",
							run, step, q.OrderNum, q.Answered, q.SelectedIndex(), ok, exp)
					}
				}
				continue
			}
			q := api.questions[rng.Intn(len(api.questions))]
			opt := rng.Intn(4)
			if err := cache.Record(ctx, q.ID, opt); err != nil {
				t.Fatalf("Record: %v", err)
			}
			want[q.ID] = opt
		}

		if got := cache.AnsweredCount(); got != len(want) {
			t.Fatalf("run %d: AnsweredCount = %d, want %d", run, got, len(want))
		}
	}
}

func TestAnswerCacheClear(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI(4, 4, 4, 600)
	s := newStore(t)
	cache := newCache(t, s, api)
	counts, cancel := cache.SubscribeAnsweredCount()
	defer cancel()

	cache.ReconcilePage(ctx, api.questions)
	cache.Record(ctx, api.questions[0].ID, 1)
	if got := <-counts; got != 1 {
		t.Fatalf("count feed = %d, want 1", got)
	}

	// Another exam's cache is untouched.
	other := newFakeAPI(2, 2, 4, 600)
	otherCache := newCache(t, s, other)
	otherCache.ReconcilePage(ctx, other.questions)
	otherCache.Record(ctx, other.questions[0].ID, 0)

	if err := cache.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if got := <-counts; got != 0 {
		t.Errorf("count feed = %d, want 0", got)
	}
	if n := len(answersIn(t, s, api.examID())); n != 0 {
		t.Errorf("%d records left in store", n)
	}
	if n := len(answersIn(t, s, other.examID())); n != 2 {
		t.Errorf("other exam has %d records, want 2", n)
	}
}
