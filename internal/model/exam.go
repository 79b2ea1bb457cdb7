package model

import (
	"time"

	"github.com/google/uuid"
)

// ExamStatus enumerates the possible states of an exam on the server.
type ExamStatus string

const (
	ExamStatusDraft     ExamStatus = "DRAFT"
	ExamStatusPublished ExamStatus = "PUBLISHED"
	ExamStatusArchived  ExamStatus = "ARCHIVED"
)

// Exam is the server-side exam row.
type Exam struct {
	ID                   uuid.UUID  `json:"id"`
	Title                string     `json:"title"`
	Instruction          string     `json:"instruction"`
	DurationSeconds      int        `json:"duration_seconds"`
	QuestionsPerPage     int        `json:"questions_per_page"`
	OptionsPerQuestion   int        `json:"options_per_question"`
	RequiresVerification bool       `json:"requires_verification"`
	Status               ExamStatus `json:"status"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// Definition builds the immutable student-facing definition of the exam.
func (e *Exam) Definition(totalQuestions int) *ExamDefinition {
	return &ExamDefinition{
		ID:                   e.ID,
		Title:                e.Title,
		Instruction:          e.Instruction,
		DurationSeconds:      e.DurationSeconds,
		TotalQuestions:       totalQuestions,
		QuestionsPerPage:     e.QuestionsPerPage,
		OptionsPerQuestion:   e.OptionsPerQuestion,
		RequiresVerification: e.RequiresVerification,
	}
}

// ExamDefinition is loaded once per session start and never mutated by the engine.
type ExamDefinition struct {
	ID                   uuid.UUID `json:"id"`
	Title                string    `json:"title"`
	Instruction          string    `json:"instruction"`
	DurationSeconds      int       `json:"duration_seconds"`
	TotalQuestions       int       `json:"total_questions"`
	QuestionsPerPage     int       `json:"questions_per_page"`
	OptionsPerQuestion   int       `json:"options_per_question"`
	RequiresVerification bool      `json:"requires_verification"`
}

// Duration returns the session time limit.
func (d *ExamDefinition) Duration() time.Duration {
	return time.Duration(d.DurationSeconds) * time.Second
}

// Admits reports whether the policy's holder may take the exam. Exams that
// require verification turn away unverified users.
func (d *ExamDefinition) Admits(p *AttemptPolicy) bool {
	return !d.RequiresVerification || p.Verified
}

// PageCount returns how many pages the question set spans.
func (d *ExamDefinition) PageCount() int {
	if d.QuestionsPerPage <= 0 || d.TotalQuestions <= 0 {
		return 1
	}
	return (d.TotalQuestions + d.QuestionsPerPage - 1) / d.QuestionsPerPage
}

// ExamPayload is the student-facing exam as cached by the exam API: the
// definition and every question, without answer keys.
type ExamPayload struct {
	Definition ExamDefinition `json:"definition"`
	Questions  []Question     `json:"questions"`
}
