package examsession

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/store"
)

// Submitter sends a finished session to the exam API.
type Submitter interface {
	SubmitSession(ctx context.Context, req model.SubmitRequest) (*model.SubmitResult, error)
}

// SubmissionGuard is the single submission path for every trigger. It allows
// at most one in-flight submission per session and only clears local state
// after the server confirmed the submission.
type SubmissionGuard struct {
	api   Submitter
	store store.Store
	now   func() time.Time
	log   zerolog.Logger

	mu       sync.Mutex
	inflight map[uuid.UUID]struct{}
}

func NewSubmissionGuard(api Submitter, s store.Store, now func() time.Time, log zerolog.Logger) *SubmissionGuard {
	if now == nil {
		now = time.Now
	}
	return &SubmissionGuard{
		api:      api,
		store:    s,
		now:      now,
		log:      log.With().Str("component", "submission_guard").Logger(),
		inflight: make(map[uuid.UUID]struct{}),
	}
}

func (g *SubmissionGuard) acquire(id uuid.UUID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.inflight[id]; busy {
		return false
	}
	g.inflight[id] = struct{}{}
	return true
}

func (g *SubmissionGuard) release(id uuid.UUID) {
	g.mu.Lock()
	delete(g.inflight, id)
	g.mu.Unlock()
}

// InFlight reports whether a submission for the session is pending.
func (g *SubmissionGuard) InFlight(submissionID uuid.UUID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, busy := g.inflight[submissionID]
	return busy
}

// Submit sends the full answer set of cache for session. On success the
// completed session and graded questions are stored and the answer cache is
// cleared. On failure a *SubmitError is returned and nothing local changes.
func (g *SubmissionGuard) Submit(ctx context.Context, session model.ExamSession, reason model.SubmitReason, cache *AnswerCache) (*model.SubmitResult, error) {
	if !g.acquire(session.SubmissionID) {
		return nil, ErrAlreadyInFlight
	}
	defer g.release(session.SubmissionID)

	if cache.AnsweredCount() == 0 {
		return nil, ErrNothingToSubmit
	}

	req := model.SubmitRequest{
		ExamID:       session.ExamID,
		UserID:       session.UserID,
		SubmissionID: session.SubmissionID,
		Attempt:      session.Attempt,
		Reason:       reason,
		StartedAt:    session.StartedAt,
		EndedAt:      g.now(),
		Answers:      cache.Records(),
	}

	log := g.log.With().
		Str("exam_id", session.ExamID.String()).
		Str("submission_id", session.SubmissionID.String()).
		Str("reason", string(reason)).
		Int("answers", len(req.Answers)).
		Logger()
	log.Info().Msg("Submitting session")

	res, err := g.api.SubmitSession(ctx, req)
	if err != nil {
		subErr := classifySubmitError(err)
		log.Warn().Err(err).Str("kind", string(subErr.Kind)).Msg("Submission failed, answers kept")
		return nil, subErr
	}

	completed := res.Session
	if completed.ExamID == uuid.Nil {
		completed.ExamID = session.ExamID
	}
	if completed.UserID == 0 {
		completed.UserID = session.UserID
	}
	if completed.SubmissionID == uuid.Nil {
		completed.SubmissionID = session.SubmissionID
	}
	if completed.StartedAt.IsZero() {
		completed.StartedAt = session.StartedAt
	}
	if completed.Attempt == 0 {
		completed.Attempt = session.Attempt
	}
	if completed.Reason == "" {
		completed.Reason = reason
	}
	if completed.EndedAt == nil {
		ended := req.EndedAt
		completed.EndedAt = &ended
	}
	completed.Status = model.SessionStatusCompleted
	res.Session = completed

	// Local bookkeeping failures are logged only; a resubmission with the same
	// submission id is a no-op on the server.
	if err := sessionTable(g.store, session.UserID).UpsertAll(ctx, completed); err != nil {
		log.Error().Err(err).Msg("Failed to persist completed session")
	}
	if err := resultTable(g.store, session.ExamID, session.UserID).SaveAll(ctx, res.Result); err != nil {
		log.Error().Err(err).Msg("Failed to store submission result")
	}
	if err := cache.Clear(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to clear answer cache")
	}

	log.Info().Str("session_id", completed.ID.String()).Msg("Session submitted")
	return res, nil
}
