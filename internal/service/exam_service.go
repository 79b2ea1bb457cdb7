package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/repository"
	"github.com/stemsi/exstem-session/internal/response"
)

// Domain Errors
var (
	ErrNoQuestions      = errors.New("exam has no questions")
	ErrExamNotPublished = errors.New("exam status is not PUBLISHED")
)

// MaxPerPage caps the page size a client may request.
const MaxPerPage = 100

// AnswerKey is the grading data of one exam: the correct option index and the
// score weight of every question.
type AnswerKey struct {
	Correct map[uuid.UUID]int
	Weight  map[uuid.UUID]int
}

// ExamService serves exam definitions and questions, and keeps the
// student payload and answer key cached in Redis.
type ExamService struct {
	examRepo     *repository.ExamRepository
	questionRepo *repository.QuestionRepository
	rdb          *redis.Client
	log          zerolog.Logger
}

// NewExamService creates a new ExamService.
func NewExamService(
	examRepo *repository.ExamRepository,
	questionRepo *repository.QuestionRepository,
	rdb *redis.Client,
	log zerolog.Logger,
) *ExamService {
	return &ExamService{
		examRepo:     examRepo,
		questionRepo: questionRepo,
		rdb:          rdb,
		log:          log.With().Str("component", "exam_service").Logger(),
	}
}

// GetDefinition returns the student-facing definition of a published exam.
func (s *ExamService) GetDefinition(ctx context.Context, examID uuid.UUID) (*model.ExamDefinition, error) {
	payload, err := s.GetExamPayload(ctx, examID)
	if err != nil {
		return nil, err
	}
	return &payload.Definition, nil
}

// GetQuestionPage returns one page of questions without answer keys.
// perPage <= 0 means the exam's own page size.
func (s *ExamService) GetQuestionPage(ctx context.Context, examID uuid.UUID, page, perPage int) ([]model.Question, *response.Pagination, error) {
	payload, err := s.GetExamPayload(ctx, examID)
	if err != nil {
		return nil, nil, err
	}
	if perPage <= 0 {
		perPage = payload.Definition.QuestionsPerPage
	}
	questions, pagination := paginate(payload.Questions, page, perPage)
	return questions, pagination, nil
}

func paginate(all []model.Question, page, perPage int) ([]model.Question, *response.Pagination) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 10
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}

	total := len(all)
	start := (page - 1) * perPage
	end := start + perPage
	if start > total {
		start = total
	}
	if end > total {
		end = total
	}

	out := make([]model.Question, end-start)
	copy(out, all[start:end])

	return out, response.NewPagination(page, perPage, total)
}

// WarmExamCache loads an exam's payload, answer key and score weights from
// PostgreSQL into Redis.
func (s *ExamService) WarmExamCache(ctx context.Context, exam *model.Exam) (*model.ExamPayload, *AnswerKey, error) {
	questions, err := s.questionRepo.ListByExam(ctx, exam.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("list questions: %w", err)
	}
	if len(questions) == 0 {
		return nil, nil, ErrNoQuestions
	}

	payload := &model.ExamPayload{
		Definition: *exam.Definition(len(questions)),
		Questions:  make([]model.Question, len(questions)),
	}
	key := &AnswerKey{
		Correct: make(map[uuid.UUID]int, len(questions)),
		Weight:  make(map[uuid.UUID]int, len(questions)),
	}
	correct := make(map[string]interface{}, len(questions))
	weights := make(map[string]interface{}, len(questions))
	for i := range questions {
		q := &questions[i]
		payload.Questions[i] = q.ForStudent()
		key.Correct[q.ID] = q.CorrectIndex
		key.Weight[q.ID] = q.ScoreValue
		correct[q.ID.String()] = q.CorrectIndex
		weights[q.ID.String()] = q.ScoreValue
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal payload: %w", err)
	}

	id := exam.ID.String()
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, config.CacheKey.ExamPayloadKey(id), payloadJSON, 0)
		pipe.Del(ctx, config.CacheKey.ExamAnswerKey(id), config.CacheKey.ExamScoreValueKey(id))
		pipe.HSet(ctx, config.CacheKey.ExamAnswerKey(id), correct)
		pipe.HSet(ctx, config.CacheKey.ExamScoreValueKey(id), weights)
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("cache to redis: %w", err)
	}

	s.log.Debug().
		Str("exam_id", id).
		Int("questions", len(questions)).
		Msg("Cache warmed")
	return payload, key, nil
}

// PrewarmAllCaches loads all published exams into Redis on startup.
func (s *ExamService) PrewarmAllCaches(ctx context.Context) error {
	exams, err := s.examRepo.ListPublished(ctx)
	if err != nil {
		return fmt.Errorf("list published exams: %w", err)
	}

	if len(exams) == 0 {
		s.log.Info().Msg("No published exams to prewarm")
		return nil
	}

	warmed := 0
	for i := range exams {
		if _, _, err := s.WarmExamCache(ctx, &exams[i]); err != nil {
			s.log.Warn().
				Err(err).
				Str("exam_id", exams[i].ID.String()).
				Msg("Failed to warm exam, skipping")
			continue
		}
		warmed++
	}

	s.log.Info().
		Int("warmed", warmed).
		Int("total", len(exams)).
		Msg("Prewarming complete")
	return nil
}

// GetExamPayload returns the cached student payload, warming the cache from
// PostgreSQL on a miss. Unknown exams surface pgx.ErrNoRows.
func (s *ExamService) GetExamPayload(ctx context.Context, examID uuid.UUID) (*model.ExamPayload, error) {
	data, err := s.rdb.Get(ctx, config.CacheKey.ExamPayloadKey(examID.String())).Bytes()
	if err == nil {
		var payload model.ExamPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
		return &payload, nil
	}
	if !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get payload: %w", err)
	}

	exam, err := s.publishedExam(ctx, examID)
	if err != nil {
		return nil, err
	}
	payload, _, err := s.WarmExamCache(ctx, exam)
	return payload, err
}

// GetAnswerKey returns the cached answer key, warming the cache on a miss.
func (s *ExamService) GetAnswerKey(ctx context.Context, examID uuid.UUID) (*AnswerKey, error) {
	id := examID.String()
	var correctCmd, weightCmd *redis.MapStringStringCmd
	_, err := s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		correctCmd = pipe.HGetAll(ctx, config.CacheKey.ExamAnswerKey(id))
		weightCmd = pipe.HGetAll(ctx, config.CacheKey.ExamScoreValueKey(id))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get answer key: %w", err)
	}

	if len(correctCmd.Val()) > 0 {
		key, err := parseAnswerKey(correctCmd.Val(), weightCmd.Val())
		if err == nil {
			return key, nil
		}
		s.log.Warn().Err(err).Str("exam_id", id).Msg("Corrupt answer key cache, rewarming")
	}

	exam, err := s.publishedExam(ctx, examID)
	if err != nil {
		return nil, err
	}
	_, key, err := s.WarmExamCache(ctx, exam)
	return key, err
}

func parseAnswerKey(correct, weights map[string]string) (*AnswerKey, error) {
	key := &AnswerKey{
		Correct: make(map[uuid.UUID]int, len(correct)),
		Weight:  make(map[uuid.UUID]int, len(correct)),
	}
	for rawID, rawIdx := range correct {
		id, err := uuid.Parse(rawID)
		if err != nil {
			return nil, fmt.Errorf("question id %q: %w", rawID, err)
		}
		idx, err := strconv.Atoi(rawIdx)
		if err != nil {
			return nil, fmt.Errorf("correct index of %s: %w", rawID, err)
		}
		key.Correct[id] = idx
		key.Weight[id] = 1
		if raw, ok := weights[rawID]; ok {
			w, err := strconv.Atoi(raw)
			if err != nil {
				return nil, fmt.Errorf("score value of %s: %w", rawID, err)
			}
			key.Weight[id] = w
		}
	}
	return key, nil
}

func (s *ExamService) publishedExam(ctx context.Context, examID uuid.UUID) (*model.Exam, error) {
	exam, err := s.examRepo.GetByID(ctx, examID)
	if err != nil {
		return nil, err
	}
	if exam.Status != model.ExamStatusPublished {
		return nil, ErrExamNotPublished
	}
	return exam, nil
}
