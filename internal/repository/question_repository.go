package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-session/internal/model"
)

// QuestionRepository handles question data access.
type QuestionRepository struct {
	pool *pgxpool.Pool
}

// NewQuestionRepository creates a new QuestionRepository.
func NewQuestionRepository(pool *pgxpool.Pool) *QuestionRepository {
	return &QuestionRepository{pool: pool}
}

const questionColumns = `id, exam_id, order_num, question_text, options, correct_index, score_value`

// ListByExam retrieves all questions for a given exam, ordered by order_num.
func (r *QuestionRepository) ListByExam(ctx context.Context, examID uuid.UUID) ([]model.BankQuestion, error) {
	return r.list(ctx,
		`SELECT `+questionColumns+` FROM questions WHERE exam_id = $1 ORDER BY order_num`, examID)
}

// ListPage returns one page of an exam's questions.
func (r *QuestionRepository) ListPage(ctx context.Context, examID uuid.UUID, limit, offset int) ([]model.BankQuestion, error) {
	return r.list(ctx,
		`SELECT `+questionColumns+` FROM questions WHERE exam_id = $1
		 ORDER BY order_num LIMIT $2 OFFSET $3`, examID, limit, offset)
}

// CountByExam returns how many questions an exam has.
func (r *QuestionRepository) CountByExam(ctx context.Context, examID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM questions WHERE exam_id = $1`, examID).Scan(&n)
	return n, err
}

// Create inserts a new question.
func (r *QuestionRepository) Create(ctx context.Context, q *model.BankQuestion) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO questions (exam_id, order_num, question_text, options, correct_index, score_value)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		q.ExamID, q.OrderNum, q.Text, q.Options, q.CorrectIndex, q.ScoreValue,
	).Scan(&q.ID)
}

func (r *QuestionRepository) list(ctx context.Context, sql string, args ...any) ([]model.BankQuestion, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []model.BankQuestion
	for rows.Next() {
		var q model.BankQuestion
		if err := rows.Scan(&q.ID, &q.ExamID, &q.OrderNum, &q.Text, &q.Options, &q.CorrectIndex, &q.ScoreValue); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}
