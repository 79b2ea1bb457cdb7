package model

import (
	"github.com/google/uuid"
)

// Option is a single choice of a multiple-choice question.
// Index is 0-based and its ordering is stable for the life of the exam.
type Option struct {
	Index    int    `json:"index"`
	Label    string `json:"label"`
	Text     string `json:"text"`
	Selected bool   `json:"selected"`
}

// Question is the student-facing question. It never carries the answer key.
type Question struct {
	ID       uuid.UUID `json:"id"`
	ExamID   uuid.UUID `json:"exam_id"`
	OrderNum int       `json:"order_num"`
	Text     string    `json:"question_text"`
	Options  []Option  `json:"options"`
	Answered bool      `json:"answered"`
}

// SelectedIndex returns the index of the selected option, or -1.
func (q *Question) SelectedIndex() int {
	for _, o := range q.Options {
		if o.Selected {
			return o.Index
		}
	}
	return -1
}

// QuestionPage is one page of questions as returned by the exam API.
type QuestionPage struct {
	Questions  []Question `json:"questions"`
	Page       int        `json:"page"`
	PerPage    int        `json:"per_page"`
	TotalCount int        `json:"total_count"`
}

// PageQuery is the query string of a question page request. A zero PerPage
// means the exam's own page size.
type PageQuery struct {
	Page    int `form:"page,default=1" binding:"min=1"`
	PerPage int `form:"per_page" binding:"min=0"`
}

// BankQuestion is the server-side question row, including the correct option.
type BankQuestion struct {
	ID           uuid.UUID `json:"id"`
	ExamID       uuid.UUID `json:"exam_id"`
	OrderNum     int       `json:"order_num"`
	Text         string    `json:"question_text"`
	Options      []Option  `json:"options"`
	CorrectIndex int       `json:"correct_index"`
	ScoreValue   int       `json:"score_value"`
}

// ForStudent strips the answer key.
func (q *BankQuestion) ForStudent() Question {
	opts := make([]Option, len(q.Options))
	for i, o := range q.Options {
		opts[i] = Option{Index: o.Index, Label: o.Label, Text: o.Text}
	}
	return Question{
		ID:       q.ID,
		ExamID:   q.ExamID,
		OrderNum: q.OrderNum,
		Text:     q.Text,
		Options:  opts,
	}
}
