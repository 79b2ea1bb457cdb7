package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-session/internal/model"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/api/v1", 2*time.Second, zerolog.Nop())
}

func writeEnvelope(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func TestGetQuestionPage(t *testing.T) {
	examID := uuid.New()
	qid := uuid.New()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/student/exams/"+examID.String()+"/questions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("page"); got != "2" {
			t.Errorf("page = %s, want 2", got)
		}
		if got := r.URL.Query().Get("per_page"); got != "10" {
			t.Errorf("per_page = %s, want 10", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		writeEnvelope(w, http.StatusOK, map[string]any{
			"data": []model.Question{{ID: qid, ExamID: examID, OrderNum: 11, Options: []model.Option{{Index: 0}, {Index: 1}}}},
			"pagination": map[string]any{
				"page": 2, "per_page": 10, "total_items": 20, "total_pages": 2,
			},
		})
	})
	c.SetToken("tok")

	page, err := c.GetQuestionPage(context.Background(), examID, 2, 10)
	if err != nil {
		t.Fatalf("GetQuestionPage: %v", err)
	}
	if page.TotalCount != 20 || page.Page != 2 || page.PerPage != 10 {
		t.Errorf("page meta = %+v", page)
	}
	if len(page.Questions) != 1 || page.Questions[0].ID != qid {
		t.Errorf("questions = %+v", page.Questions)
	}
}

func TestErrorEnvelope(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantCode string
	}{
		{"envelope", http.StatusForbidden, `{"data":null,"error":{"code":"EXAM_NOT_AVAILABLE","message":"nope"}}`, "EXAM_NOT_AVAILABLE"},
		{"plain text", http.StatusBadGateway, `bad gateway`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})
			_, err := c.GetExamDefinition(context.Background(), uuid.New())

			var apiErr *Error
			if !errors.As(err, &apiErr) {
				t.Fatalf("err = %v, want *Error", err)
			}
			if apiErr.HTTPStatus() != tt.status {
				t.Errorf("status = %d, want %d", apiErr.HTTPStatus(), tt.status)
			}
			if apiErr.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", apiErr.Code, tt.wantCode)
			}
		})
	}
}

func TestLoginKeepsToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req model.StudentLoginRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.NISN != "1234" || req.Password != "secret" {
			writeEnvelope(w, http.StatusUnauthorized, map[string]any{
				"error": map[string]any{"code": "INVALID_CREDENTIALS", "message": "bad"},
			})
			return
		}
		writeEnvelope(w, http.StatusOK, map[string]any{
			"data": model.StudentLoginResponse{Token: "jwt", Student: model.Student{ID: 7}},
		})
	})

	res, err := c.Login(context.Background(), "1234", "secret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.Student.ID != 7 || c.Token() != "jwt" {
		t.Errorf("student = %d, token = %q", res.Student.ID, c.Token())
	}
}

func TestSubmitTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})
	c := New(srv.URL, 50*time.Millisecond, zerolog.Nop())

	_, err := c.SubmitSession(context.Background(), model.SubmitRequest{ExamID: uuid.New()})
	var netErr net.Error
	if !errors.As(err, &netErr) || !netErr.Timeout() {
		t.Fatalf("err = %v, want a timeout net.Error", err)
	}
}
