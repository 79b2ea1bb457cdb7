package examsession

import (
	"github.com/google/uuid"

	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/store"
)

// cachedQuestion is a fetched question kept for offline fallback.
type cachedQuestion struct {
	Position int            `json:"position"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
	Question model.Question `json:"question"`
}

func sessionTable(s store.Store, userID int) *store.Table[model.ExamSession] {
	return store.NewTable(s, config.CacheKey.SessionsTable(userID),
		func(es model.ExamSession) string { return es.ExamID.String() },
		func(es model.ExamSession) int64 { return es.StartedAt.Unix() },
	)
}

func answerTable(s store.Store, examID uuid.UUID, userID int) *store.Table[model.AnswerRecord] {
	return store.NewTable(s, config.CacheKey.StudentAnswersTable(examID.String(), userID),
		func(r model.AnswerRecord) string { return r.QuestionID.String() },
		nil,
	)
}

func questionTable(s store.Store, examID uuid.UUID, userID int) *store.Table[cachedQuestion] {
	return store.NewTable(s, config.CacheKey.StudentQuestionsTable(examID.String(), userID),
		func(q cachedQuestion) string { return q.Question.ID.String() },
		func(q cachedQuestion) int64 { return int64(q.Position) },
	)
}

func resultTable(s store.Store, examID uuid.UUID, userID int) *store.Table[model.Question] {
	return store.NewTable(s, config.CacheKey.StudentResultsTable(examID.String(), userID),
		func(q model.Question) string { return q.ID.String() },
		func(q model.Question) int64 { return int64(q.OrderNum) },
	)
}
