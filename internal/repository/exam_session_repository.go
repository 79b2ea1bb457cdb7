package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-session/internal/model"
)

// GradedAnswer is one persisted answer of a submitted session.
type GradedAnswer struct {
	QuestionID    uuid.UUID
	SelectedIndex int
	Correct       bool
}

// ExamSessionRepository handles exam session data access.
type ExamSessionRepository struct {
	pool *pgxpool.Pool
}

// NewExamSessionRepository creates a new ExamSessionRepository.
func NewExamSessionRepository(pool *pgxpool.Pool) *ExamSessionRepository {
	return &ExamSessionRepository{pool: pool}
}

const sessionColumns = `id, exam_id, user_id, submission_id, attempt, reason, status,
	started_at, ended_at, final_score, correct, total`

func scanSession(row pgx.Row) (*model.ExamSession, error) {
	s := &model.ExamSession{}
	err := row.Scan(&s.ID, &s.ExamID, &s.UserID, &s.SubmissionID, &s.Attempt, &s.Reason, &s.Status,
		&s.StartedAt, &s.EndedAt, &s.FinalScore, &s.Correct, &s.Total)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// CountByExamAndUser returns how many sessions a student has submitted for an exam.
func (r *ExamSessionRepository) CountByExamAndUser(ctx context.Context, examID uuid.UUID, userID int) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM exam_sessions WHERE exam_id = $1 AND user_id = $2`,
		examID, userID,
	).Scan(&n)
	return n, err
}

// GetBySubmissionID retrieves a session by its client-generated idempotency key.
func (r *ExamSessionRepository) GetBySubmissionID(ctx context.Context, submissionID uuid.UUID) (*model.ExamSession, error) {
	return scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM exam_sessions WHERE submission_id = $1`, submissionID))
}

// ListAnswers returns the graded answers stored for a session.
func (r *ExamSessionRepository) ListAnswers(ctx context.Context, sessionID uuid.UUID) ([]GradedAnswer, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT question_id, selected_index, is_correct FROM student_answers WHERE session_id = $1`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var answers []GradedAnswer
	for rows.Next() {
		var a GradedAnswer
		if err := rows.Scan(&a.QuestionID, &a.SelectedIndex, &a.Correct); err != nil {
			return nil, err
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

// CreateGraded stores a completed session and its answers in one transaction.
// It reports false, without writing anything, when the submission ID is
// already known.
func (r *ExamSessionRepository) CreateGraded(ctx context.Context, s *model.ExamSession, answers []GradedAnswer) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx,
		`INSERT INTO exam_sessions (exam_id, user_id, submission_id, attempt, reason, status,
		                            started_at, ended_at, final_score, correct, total)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (submission_id) DO NOTHING
		 RETURNING id`,
		s.ExamID, s.UserID, s.SubmissionID, s.Attempt, s.Reason, s.Status,
		s.StartedAt, s.EndedAt, s.FinalScore, s.Correct, s.Total,
	).Scan(&s.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert session: %w", err)
	}

	if len(answers) > 0 {
		questionIDs := make([]uuid.UUID, len(answers))
		selected := make([]int, len(answers))
		correct := make([]bool, len(answers))
		for i, a := range answers {
			questionIDs[i] = a.QuestionID
			selected[i] = a.SelectedIndex
			correct[i] = a.Correct
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO student_answers (session_id, question_id, selected_index, is_correct)
			 SELECT $1, u.question_id, u.selected_index, u.is_correct
			 FROM UNNEST(
				$2::uuid[],
				$3::int[],
				$4::bool[]
			 ) AS u (question_id, selected_index, is_correct)`,
			s.ID, questionIDs, selected, correct,
		)
		if err != nil {
			return false, fmt.Errorf("insert answers: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}
