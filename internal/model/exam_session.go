package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus enumerates exam session states.
type SessionStatus string

const (
	SessionStatusInProgress SessionStatus = "IN_PROGRESS"
	SessionStatusCompleted  SessionStatus = "COMPLETED"
)

// ExamSession represents a student's exam attempt.
// ID stays uuid.Nil until the server confirms the session on submit.
// StartedAt is persisted when the session starts and is the only input the
// countdown derives remaining time from.
type ExamSession struct {
	ID           uuid.UUID     `json:"id"`
	ExamID       uuid.UUID     `json:"exam_id"`
	UserID       int           `json:"user_id"`
	StartedAt    time.Time     `json:"started_at"`
	EndedAt      *time.Time    `json:"ended_at,omitempty"`
	Attempt      int           `json:"attempt"`
	Status       SessionStatus `json:"status"`
	Reason       SubmitReason  `json:"reason,omitempty"`
	SubmissionID uuid.UUID     `json:"submission_id"`
	FinalScore   *float64      `json:"final_score,omitempty"`
	Correct      int           `json:"correct,omitempty"`
	Total        int           `json:"total,omitempty"`
}

// DefaultAttemptsCap is the number of attempts an unverified user gets.
const DefaultAttemptsCap = 5

// AttemptPolicy gates session start.
type AttemptPolicy struct {
	AttemptsUsed int  `json:"attempts_used"`
	AttemptsCap  int  `json:"attempts_cap"`
	Verified     bool `json:"verified"`
}

// CanStart reports whether a new session may be started.
func (p *AttemptPolicy) CanStart() bool {
	limit := p.AttemptsCap
	if limit <= 0 {
		limit = DefaultAttemptsCap
	}
	return p.Verified || p.AttemptsUsed < limit
}

// SubmitReason tags what triggered a submission.
type SubmitReason string

const (
	ReasonManual        SubmitReason = "manual"
	ReasonTimeout       SubmitReason = "timeout"
	ReasonBackgrounded  SubmitReason = "backgrounded"
	ReasonNavigatedAway SubmitReason = "navigated_away"
)

// SubmitRequest is the payload sent to the exam API when a session is submitted.
// SubmissionID is stable for the life of the local session so retries are idempotent.
type SubmitRequest struct {
	ExamID       uuid.UUID      `json:"exam_id"`
	UserID       int            `json:"user_id"`
	SubmissionID uuid.UUID      `json:"submission_id" binding:"uuid_set"`
	Attempt      int            `json:"attempt"`
	Reason       SubmitReason   `json:"reason" binding:"required,oneof=manual timeout backgrounded navigated_away"`
	StartedAt    time.Time      `json:"started_at" binding:"required"`
	EndedAt      time.Time      `json:"ended_at" binding:"required"`
	Answers      []AnswerRecord `json:"answers" binding:"required,min=1"`
}

// SubmitResult is the server's answer to a submission: the confirmed session
// and the last graded question set.
type SubmitResult struct {
	Session ExamSession `json:"session"`
	Result  []Question  `json:"result"`
}
