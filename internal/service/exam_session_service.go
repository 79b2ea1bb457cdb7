package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/repository"
)

// Submission errors.
var (
	ErrAttemptLimitExceeded = errors.New("attempt limit exceeded")
	ErrSubmissionConflict   = errors.New("submission id belongs to another session")
	ErrInvalidWindow        = errors.New("session ended before it started")
	ErrVerificationRequired = errors.New("exam requires a verified account")
)

// ExamSessionService owns attempt accounting and grading of submitted sessions.
type ExamSessionService struct {
	sessionRepo *repository.ExamSessionRepository
	studentRepo *repository.StudentRepository
	exams       *ExamService
	attemptsCap int
	log         zerolog.Logger
}

// NewExamSessionService creates a new ExamSessionService.
func NewExamSessionService(
	sessionRepo *repository.ExamSessionRepository,
	studentRepo *repository.StudentRepository,
	exams *ExamService,
	attemptsCap int,
	log zerolog.Logger,
) *ExamSessionService {
	if attemptsCap <= 0 {
		attemptsCap = model.DefaultAttemptsCap
	}
	return &ExamSessionService{
		sessionRepo: sessionRepo,
		studentRepo: studentRepo,
		exams:       exams,
		attemptsCap: attemptsCap,
		log:         log.With().Str("component", "exam_session_service").Logger(),
	}
}

// GetAttemptPolicy reports how many sessions the student has submitted for
// the exam and whether they are exempt from the cap.
func (s *ExamSessionService) GetAttemptPolicy(ctx context.Context, examID uuid.UUID, userID int) (*model.AttemptPolicy, error) {
	used, err := s.sessionRepo.CountByExamAndUser(ctx, examID, userID)
	if err != nil {
		return nil, fmt.Errorf("count sessions: %w", err)
	}
	student, err := s.studentRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get student: %w", err)
	}
	return &model.AttemptPolicy{
		AttemptsUsed: used,
		AttemptsCap:  s.attemptsCap,
		Verified:     student.Verified,
	}, nil
}

// admit applies the attempt and verification gates to a new submission.
func admit(def *model.ExamDefinition, policy *model.AttemptPolicy) error {
	if !def.Admits(policy) {
		return ErrVerificationRequired
	}
	if !policy.CanStart() {
		return ErrAttemptLimitExceeded
	}
	return nil
}

// Submit grades and stores a session. It is idempotent on SubmissionID: a
// repeated call returns the result stored by the first one.
func (s *ExamSessionService) Submit(ctx context.Context, req *model.SubmitRequest) (*model.SubmitResult, error) {
	log := s.log.With().
		Str("exam_id", req.ExamID.String()).
		Int("user_id", req.UserID).
		Str("submission_id", req.SubmissionID.String()).
		Logger()

	if res, err := s.storedResult(ctx, req); err == nil || !errors.Is(err, pgx.ErrNoRows) {
		if err == nil {
			log.Info().Msg("Duplicate submission, returning stored result")
		}
		return res, err
	}

	if req.EndedAt.Before(req.StartedAt) {
		return nil, ErrInvalidWindow
	}

	policy, err := s.GetAttemptPolicy(ctx, req.ExamID, req.UserID)
	if err != nil {
		return nil, err
	}
	payload, err := s.exams.GetExamPayload(ctx, req.ExamID)
	if err != nil {
		return nil, err
	}
	if err := admit(&payload.Definition, policy); err != nil {
		log.Warn().Err(err).Int("attempts_used", policy.AttemptsUsed).Msg("Submission refused")
		return nil, err
	}
	key, err := s.exams.GetAnswerKey(ctx, req.ExamID)
	if err != nil {
		return nil, err
	}

	grade := Grade(key, req.Answers)
	if grade.Unknown > 0 {
		log.Warn().Int("unknown", grade.Unknown).Msg("Ignored answers to questions outside the exam")
	}

	ended := req.EndedAt
	score := grade.Score
	session := &model.ExamSession{
		ExamID:       req.ExamID,
		UserID:       req.UserID,
		StartedAt:    req.StartedAt,
		EndedAt:      &ended,
		Attempt:      policy.AttemptsUsed + 1,
		Status:       model.SessionStatusCompleted,
		Reason:       req.Reason,
		SubmissionID: req.SubmissionID,
		FinalScore:   &score,
		Correct:      grade.Correct,
		Total:        grade.Total,
	}

	created, err := s.sessionRepo.CreateGraded(ctx, session, grade.Answers)
	if err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}
	if !created {
		// Lost a race with a concurrent retry of the same submission.
		return s.storedResult(ctx, req)
	}

	log.Info().
		Float64("score", score).
		Int("correct", grade.Correct).
		Int("total", grade.Total).
		Str("reason", string(req.Reason)).
		Dur("elapsed", ended.Sub(req.StartedAt).Round(time.Second)).
		Msg("Session graded")

	return &model.SubmitResult{
		Session: *session,
		Result:  applyAnswers(payload.Questions, grade.Answers),
	}, nil
}

func (s *ExamSessionService) storedResult(ctx context.Context, req *model.SubmitRequest) (*model.SubmitResult, error) {
	session, err := s.sessionRepo.GetBySubmissionID(ctx, req.SubmissionID)
	if err != nil {
		return nil, err
	}
	if session.UserID != req.UserID || session.ExamID != req.ExamID {
		return nil, ErrSubmissionConflict
	}

	answers, err := s.sessionRepo.ListAnswers(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	payload, err := s.exams.GetExamPayload(ctx, req.ExamID)
	if err != nil {
		return nil, err
	}
	return &model.SubmitResult{
		Session: *session,
		Result:  applyAnswers(payload.Questions, answers),
	}, nil
}

// GradeResult is the outcome of grading one submission.
type GradeResult struct {
	Score   float64
	Correct int
	Total   int
	Unknown int
	Answers []repository.GradedAnswer
}

// Grade scores answers against key. Score is the weighted share of correct
// answers on a 0 to 100 scale; unanswered questions count as wrong.
func Grade(key *AnswerKey, records []model.AnswerRecord) GradeResult {
	res := GradeResult{Total: len(key.Correct)}

	totalWeight, earned := 0, 0
	for id := range key.Correct {
		totalWeight += key.Weight[id]
	}

	seen := make(map[uuid.UUID]bool, len(records))
	for i := range records {
		r := &records[i]
		if !r.Answered || seen[r.QuestionID] {
			continue
		}
		want, ok := key.Correct[r.QuestionID]
		if !ok {
			res.Unknown++
			continue
		}
		selected := r.SelectedIndex()
		if selected < 0 {
			continue
		}
		seen[r.QuestionID] = true

		correct := selected == want
		if correct {
			res.Correct++
			earned += key.Weight[r.QuestionID]
		}
		res.Answers = append(res.Answers, repository.GradedAnswer{
			QuestionID:    r.QuestionID,
			SelectedIndex: selected,
			Correct:       correct,
		})
	}

	if totalWeight > 0 {
		res.Score = float64(earned) / float64(totalWeight) * 100
	}
	return res
}

// applyAnswers returns a copy of questions with the graded selections marked.
func applyAnswers(questions []model.Question, answers []repository.GradedAnswer) []model.Question {
	selected := make(map[uuid.UUID]int, len(answers))
	for _, a := range answers {
		selected[a.QuestionID] = a.SelectedIndex
	}

	out := make([]model.Question, len(questions))
	for i, q := range questions {
		q.Options = append([]model.Option(nil), q.Options...)
		idx, ok := selected[q.ID]
		q.Answered = ok
		for j := range q.Options {
			q.Options[j].Selected = ok && q.Options[j].Index == idx
		}
		out[i] = q
	}
	return out
}
