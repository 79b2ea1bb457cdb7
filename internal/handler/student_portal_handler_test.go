package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/service"
)

func TestFailService(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tests := []struct {
		err    error
		status int
		code   response.ErrCode
	}{
		{pgx.ErrNoRows, http.StatusNotFound, response.ErrNotFound},
		{fmt.Errorf("get exam: %w", pgx.ErrNoRows), http.StatusNotFound, response.ErrNotFound},
		{service.ErrExamNotPublished, http.StatusForbidden, response.ErrExamNotPublished},
		{service.ErrAttemptLimitExceeded, http.StatusForbidden, response.ErrAttemptLimitExceeded},
		{service.ErrVerificationRequired, http.StatusForbidden, response.ErrVerificationRequired},
		{service.ErrSubmissionConflict, http.StatusConflict, response.ErrSubmissionConflict},
		{service.ErrInvalidWindow, http.StatusBadRequest, response.ErrInvalidWindow},
		{errors.New("boom"), http.StatusInternalServerError, response.ErrInternal},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			failService(c, tt.err)

			var body response.Response
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatal(err)
			}
			if w.Code != tt.status || body.Error == nil || body.Error.Code != tt.code {
				t.Errorf("got %d %+v, want %d %s", w.Code, body.Error, tt.status, tt.code)
			}
		})
	}
}

func TestExamIDParam(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Params = gin.Params{{Key: "exam_id", Value: "not-a-uuid"}}

	if _, ok := examIDParam(c); ok {
		t.Fatal("invalid id accepted")
	}
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d", w.Code)
	}
}
