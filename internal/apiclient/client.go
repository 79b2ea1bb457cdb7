// Package apiclient talks to the exam REST API. Every response uses the
// {data, error, pagination, metadata} envelope.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/stemsi/exstem-session/internal/model"
)

// Error is a non-2xx answer from the API.
type Error struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *Error) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("exam api: status %d", e.StatusCode)
	}
	return fmt.Sprintf("exam api: status %d: %s: %s", e.StatusCode, e.Code, e.Message)
}

// HTTPStatus returns the response status code.
func (e *Error) HTTPStatus() int {
	return e.StatusCode
}

// Client is a token-authenticated exam API client.
type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger

	mu    sync.RWMutex
	token string
}

// New creates a client rooted at baseURL (e.g. http://host:8080/api/v1).
func New(baseURL string, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     log.With().Str("component", "apiclient").Logger(),
	}
}

// SetToken sets the bearer token sent with every request.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Login authenticates a student and keeps the returned token.
func (c *Client) Login(ctx context.Context, nisn, password string) (*model.StudentLoginResponse, error) {
	req := model.StudentLoginRequest{NISN: nisn, Password: password}
	res, err := c.do(ctx, http.MethodPost, "/auth/student/login", req)
	if err != nil {
		return nil, err
	}
	var out model.StudentLoginResponse
	if err := decode(res, &out); err != nil {
		return nil, err
	}
	c.SetToken(out.Token)
	return &out, nil
}

// Logout ends the server-side login and forgets the token.
func (c *Client) Logout(ctx context.Context) error {
	if _, err := c.do(ctx, http.MethodPost, "/auth/student/logout", nil); err != nil {
		return err
	}
	c.SetToken("")
	return nil
}

func (c *Client) GetExamDefinition(ctx context.Context, examID uuid.UUID) (*model.ExamDefinition, error) {
	res, err := c.do(ctx, http.MethodGet, "/student/exams/"+examID.String(), nil)
	if err != nil {
		return nil, err
	}
	var def model.ExamDefinition
	if err := decode(res, &def); err != nil {
		return nil, err
	}
	return &def, nil
}

func (c *Client) GetQuestionPage(ctx context.Context, examID uuid.UUID, page, pageSize int) (*model.QuestionPage, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(pageSize))

	res, err := c.do(ctx, http.MethodGet, "/student/exams/"+examID.String()+"/questions?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	out := &model.QuestionPage{Page: page, PerPage: pageSize}
	if err := decode(res, &out.Questions); err != nil {
		return nil, err
	}
	if p := res.Get("pagination"); p.Exists() {
		out.TotalCount = int(p.Get("total_items").Int())
		if n := int(p.Get("per_page").Int()); n > 0 {
			out.PerPage = n
		}
	}
	return out, nil
}

func (c *Client) GetAttemptPolicy(ctx context.Context, examID uuid.UUID) (*model.AttemptPolicy, error) {
	res, err := c.do(ctx, http.MethodGet, "/student/exams/"+examID.String()+"/attempts", nil)
	if err != nil {
		return nil, err
	}
	var p model.AttemptPolicy
	if err := decode(res, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) SubmitSession(ctx context.Context, req model.SubmitRequest) (*model.SubmitResult, error) {
	res, err := c.do(ctx, http.MethodPost, "/student/exams/"+req.ExamID.String()+"/submit", req)
	if err != nil {
		return nil, err
	}
	var out model.SubmitResult
	if err := decode(res, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) (gjson.Result, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return gjson.Result{}, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn().Err(err).Str("method", method).Str("path", path).Msg("Request failed")
		return gjson.Result{}, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%s %s: read body: %w", method, path, err)
	}

	c.log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("Exam API call")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &Error{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		if gjson.ValidBytes(raw) {
			env := gjson.ParseBytes(raw)
			apiErr.Code = env.Get("error.code").String()
			if msg := env.Get("error.message").String(); msg != "" {
				apiErr.Message = msg
			}
		}
		return gjson.Result{}, apiErr
	}

	if !gjson.ValidBytes(raw) {
		return gjson.Result{}, fmt.Errorf("%s %s: invalid JSON response", method, path)
	}
	return gjson.ParseBytes(raw), nil
}

func decode(env gjson.Result, out any) error {
	data := env.Get("data")
	if !data.Exists() || data.Type == gjson.Null {
		return fmt.Errorf("exam api: empty data")
	}
	if err := json.Unmarshal([]byte(data.Raw), out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
