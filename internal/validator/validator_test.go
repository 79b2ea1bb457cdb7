package validator

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

type submitBody struct {
	SubmissionID [16]byte `json:"submission_id"`
	Reason       string   `json:"reason" binding:"required,oneof=manual timeout"`
}

type pageQuery struct {
	Page int `form:"page,default=1" binding:"min=1"`
}

func TestBind(t *testing.T) {
	gin.SetMode(gin.TestMode)
	Setup("en")

	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"valid", `{"reason":"manual"}`, ""},
		{"missing reason", `{}`, "reason"},
		{"bad enum", `{"reason":"later"}`, "reason"},
		{"bad json", `{`, "detail"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(tt.body))
			c.Request.Header.Set("Content-Type", "application/json")

			var dst submitBody
			fields := Bind(c, &dst)
			if tt.field == "" {
				if fields != nil {
					t.Fatalf("unexpected errors %v", fields)
				}
				return
			}
			if _, ok := fields[tt.field]; !ok {
				t.Errorf("errors %v, want key %q", fields, tt.field)
			}
		})
	}
}

func TestBindQuery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	Setup("en")

	tests := []struct {
		query    string
		wantPage int
		wantErr  bool
	}{
		{"", 1, false},
		{"page=3", 3, false},
		{"page=0", 0, true},
		{"page=x", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest(http.MethodGet, "/?"+tt.query, nil)

			var q pageQuery
			fields := BindQuery(c, &q)
			if (fields != nil) != tt.wantErr {
				t.Fatalf("errors = %v, wantErr %v", fields, tt.wantErr)
			}
			if !tt.wantErr && q.Page != tt.wantPage {
				t.Errorf("page = %d, want %d", q.Page, tt.wantPage)
			}
		})
	}
}
