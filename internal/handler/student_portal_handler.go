package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stemsi/exstem-session/internal/middleware"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/service"
	"github.com/stemsi/exstem-session/internal/validator"
)

// StudentPortalHandler handles the exam-taking endpoints.
type StudentPortalHandler struct {
	sessionService *service.ExamSessionService
	examService    *service.ExamService
}

// NewStudentPortalHandler creates a new StudentPortalHandler.
func NewStudentPortalHandler(
	sessionService *service.ExamSessionService,
	examService *service.ExamService,
) *StudentPortalHandler {
	return &StudentPortalHandler{
		sessionService: sessionService,
		examService:    examService,
	}
}

// GetExam godoc
// GET /api/v1/student/exams/:exam_id
// Returns the exam definition.
func (h *StudentPortalHandler) GetExam(c *gin.Context) {
	examID, ok := examIDParam(c)
	if !ok {
		return
	}

	def, err := h.examService.GetDefinition(c.Request.Context(), examID)
	if err != nil {
		failService(c, err)
		return
	}

	response.Success(c, http.StatusOK, def)
}

// GetQuestions godoc
// GET /api/v1/student/exams/:exam_id/questions?page=1&per_page=10
// Returns one page of questions without answer keys.
func (h *StudentPortalHandler) GetQuestions(c *gin.Context) {
	examID, ok := examIDParam(c)
	if !ok {
		return
	}

	q := model.PageQuery{Page: 1}
	if fields := validator.BindQuery(c, &q); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	questions, pagination, err := h.examService.GetQuestionPage(c.Request.Context(), examID, q.Page, q.PerPage)
	if err != nil {
		failService(c, err)
		return
	}

	response.SuccessWithPagination(c, http.StatusOK, questions, pagination)
}

// GetAttempts godoc
// GET /api/v1/student/exams/:exam_id/attempts
// Returns the caller's attempt policy for the exam.
func (h *StudentPortalHandler) GetAttempts(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	examID, ok := examIDParam(c)
	if !ok {
		return
	}

	policy, err := h.sessionService.GetAttemptPolicy(c.Request.Context(), examID, claims.UserID)
	if err != nil {
		failService(c, err)
		return
	}

	response.Success(c, http.StatusOK, policy)
}

// SubmitExam godoc
// POST /api/v1/student/exams/:exam_id/submit
// Grades and stores the session. Idempotent on submission_id.
func (h *StudentPortalHandler) SubmitExam(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	examID, ok := examIDParam(c)
	if !ok {
		return
	}

	var req model.SubmitRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	// Identity comes from the token, never from the body.
	req.ExamID = examID
	req.UserID = claims.UserID

	res, err := h.sessionService.Submit(c.Request.Context(), &req)
	if err != nil {
		failService(c, err)
		return
	}

	response.Success(c, http.StatusOK, res)
}

func examIDParam(c *gin.Context) (uuid.UUID, bool) {
	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, false
	}
	return examID, true
}

func failService(c *gin.Context, err error) {
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	case errors.Is(err, service.ErrExamNotPublished):
		response.Fail(c, http.StatusForbidden, response.ErrExamNotPublished)
	case errors.Is(err, service.ErrNoQuestions):
		response.Fail(c, http.StatusConflict, response.ErrNoQuestions)
	case errors.Is(err, service.ErrAttemptLimitExceeded):
		response.Fail(c, http.StatusForbidden, response.ErrAttemptLimitExceeded)
	case errors.Is(err, service.ErrVerificationRequired):
		response.Fail(c, http.StatusForbidden, response.ErrVerificationRequired)
	case errors.Is(err, service.ErrSubmissionConflict):
		response.Fail(c, http.StatusConflict, response.ErrSubmissionConflict)
	case errors.Is(err, service.ErrInvalidWindow):
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidWindow)
	default:
		response.FailError(c, http.StatusInternalServerError, response.ErrInternal, err)
	}
}
