package service

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-session/internal/model"
)

func numbered(n int) []model.Question {
	qs := make([]model.Question, n)
	for i := range qs {
		qs[i] = model.Question{ID: uuid.New(), OrderNum: i + 1}
	}
	return qs
}

func TestPaginate(t *testing.T) {
	all := numbered(23)
	tests := []struct {
		name       string
		page, per  int
		wantLen    int
		wantFirst  int
		wantPages  int
		wantPerPag int
	}{
		{"first page", 1, 10, 10, 1, 3, 10},
		{"last partial page", 3, 10, 3, 21, 3, 10},
		{"past the end", 4, 10, 0, 0, 3, 10},
		{"page zero is page one", 0, 10, 10, 1, 3, 10},
		{"oversized page is capped", 1, 500, 23, 1, 1, MaxPerPage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, p := paginate(all, tt.page, tt.per)
			if len(got) != tt.wantLen {
				t.Fatalf("len = %d, want %d", len(got), tt.wantLen)
			}
			if tt.wantLen > 0 && got[0].OrderNum != tt.wantFirst {
				t.Errorf("first = #%d, want #%d", got[0].OrderNum, tt.wantFirst)
			}
			if p.TotalItems != 23 || p.TotalPages != tt.wantPages || p.PerPage != tt.wantPerPag {
				t.Errorf("pagination = %+v", p)
			}
		})
	}

	got, _ := paginate(all, 1, 5)
	got[0].OrderNum = 99
	if all[0].OrderNum != 1 {
		t.Error("page aliases the cached payload")
	}
}

func TestParseAnswerKey(t *testing.T) {
	q1, q2 := uuid.New(), uuid.New()

	key, err := parseAnswerKey(
		map[string]string{q1.String(): "2", q2.String(): "0"},
		map[string]string{q1.String(): "3"},
	)
	if err != nil {
		t.Fatalf("parseAnswerKey: %v", err)
	}
	if key.Correct[q1] != 2 || key.Weight[q1] != 3 {
		t.Errorf("q1 = %d/%d", key.Correct[q1], key.Weight[q1])
	}
	if key.Weight[q2] != 1 {
		t.Errorf("missing weight defaulted to %d, want 1", key.Weight[q2])
	}

	if _, err := parseAnswerKey(map[string]string{"nope": "1"}, nil); err == nil {
		t.Error("bad question id accepted")
	}
	if _, err := parseAnswerKey(map[string]string{q1.String(): "x"}, nil); err == nil {
		t.Error("bad index accepted")
	}
}
