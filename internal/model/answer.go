package model

import (
	"time"

	"github.com/google/uuid"
)

// AnswerRecord is the locally persisted answer state of a single question.
// Selections is a per-option snapshot indexed by Option.Index; at most one
// entry is true.
type AnswerRecord struct {
	QuestionID uuid.UUID `json:"question_id"`
	ExamID     uuid.UUID `json:"exam_id"`
	UserID     int       `json:"user_id"`
	Answered   bool      `json:"answered"`
	Selections []bool    `json:"selections"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// NewAnswerRecord returns an empty record sized to the question's options.
func NewAnswerRecord(q *Question, userID int) AnswerRecord {
	return AnswerRecord{
		QuestionID: q.ID,
		ExamID:     q.ExamID,
		UserID:     userID,
		Selections: make([]bool, optionSlots(q.Options)),
	}
}

func optionSlots(opts []Option) int {
	n := len(opts)
	for _, o := range opts {
		if o.Index+1 > n {
			n = o.Index + 1
		}
	}
	return n
}

// Fit grows Selections so every option of q has a slot. It reports whether
// the record changed.
func (r *AnswerRecord) Fit(q *Question) bool {
	n := optionSlots(q.Options)
	if len(r.Selections) >= n {
		return false
	}
	grown := make([]bool, n)
	copy(grown, r.Selections)
	r.Selections = grown
	return true
}

// Select marks index as the single chosen option.
func (r *AnswerRecord) Select(index int) {
	if index >= len(r.Selections) {
		grown := make([]bool, index+1)
		copy(grown, r.Selections)
		r.Selections = grown
	}
	for i := range r.Selections {
		r.Selections[i] = i == index
	}
	r.Answered = true
}

// SelectedIndex returns the chosen option index, or -1.
func (r *AnswerRecord) SelectedIndex() int {
	if !r.Answered {
		return -1
	}
	for i, sel := range r.Selections {
		if sel {
			return i
		}
	}
	return -1
}

// Apply overlays the recorded answer state onto q. Content is left untouched.
func (r *AnswerRecord) Apply(q *Question) {
	q.Answered = r.Answered
	for i := range q.Options {
		idx := q.Options[i].Index
		q.Options[i].Selected = r.Answered && idx >= 0 && idx < len(r.Selections) && r.Selections[idx]
	}
}
