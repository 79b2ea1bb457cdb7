package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// ─── Server side (Redis keys) ──────────────────────────────────────────

// StudentSessionKey returns the cache key for a student's login session
func (r *CacheKeyStruct) StudentSessionKey(studentID int) string {
	return fmt.Sprintf("login:%d", studentID)
}

// ExamPayloadKey returns the cache key for an exam's student-facing payload
func (r *CacheKeyStruct) ExamPayloadKey(examID string) string {
	return fmt.Sprintf("exam:%s:payload", examID)
}

// ExamAnswerKey returns the cache key for an exam's answer key
func (r *CacheKeyStruct) ExamAnswerKey(examID string) string {
	return fmt.Sprintf("exam:%s:key", examID)
}

// ExamScoreValueKey returns the cache key for an exam's per-question score weights
func (r *CacheKeyStruct) ExamScoreValueKey(examID string) string {
	return fmt.Sprintf("exam:%s:score_value", examID)
}

// ─── Client side (local table names) ───────────────────────────────────

// SessionsTable returns the table holding a user's persisted exam sessions
func (r *CacheKeyStruct) SessionsTable(userID int) string {
	return fmt.Sprintf("sessions:%d", userID)
}

// StudentAnswersTable returns the table holding a user's answer records for an exam
func (r *CacheKeyStruct) StudentAnswersTable(examID string, userID int) string {
	return fmt.Sprintf("student:%d:exam:%s:answers", userID, examID)
}

// StudentQuestionsTable returns the table caching fetched question content
func (r *CacheKeyStruct) StudentQuestionsTable(examID string, userID int) string {
	return fmt.Sprintf("student:%d:exam:%s:questions", userID, examID)
}

// StudentResultsTable returns the table holding the graded question set
func (r *CacheKeyStruct) StudentResultsTable(examID string, userID int) string {
	return fmt.Sprintf("student:%d:exam:%s:results", userID, examID)
}

// AuthTable returns the table caching API credentials
func (r *CacheKeyStruct) AuthTable() string {
	return "auth"
}

var CacheKey = NewCacheKeyStruct()
