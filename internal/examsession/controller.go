// Package examsession is the timed exam session engine: the controller state
// machine, the answer cache, the question pager and the submission guard.
package examsession

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/store"
	"github.com/stemsi/exstem-session/internal/worker"
)

// ExamAPI is the REST collaborator the controller depends on.
type ExamAPI interface {
	QuestionSource
	Submitter
	GetExamDefinition(ctx context.Context, examID uuid.UUID) (*model.ExamDefinition, error)
	GetAttemptPolicy(ctx context.Context, examID uuid.UUID) (*model.AttemptPolicy, error)
}

// Option configures a Controller.
type Option func(*Controller)

// WithCountdown replaces the countdown, and with it the controller's clock.
func WithCountdown(cd *worker.Countdown) Option {
	return func(c *Controller) { c.clock = cd }
}

// WithAttemptsCap sets the cap used when the API reports none.
func WithAttemptsCap(n int) Option {
	return func(c *Controller) { c.attemptsCap = n }
}

type controllerEvent struct {
	host    HostEvent
	expired bool
	gen     uint64
}

// Controller drives one user's exam sessions. Host lifecycle signals go in
// through Notify; countdown expiry is delivered on the same channel and both
// are consumed by Run.
type Controller struct {
	api         ExamAPI
	store       store.Store
	userID      int
	attemptsCap int
	clock       *worker.Countdown
	guard       *SubmissionGuard
	sessions    *store.Table[model.ExamSession]
	log         zerolog.Logger

	events    chan controllerEvent
	states    *Feed[State]
	remaining *Feed[time.Duration]
	counts    *Feed[int]

	mu         sync.Mutex
	state      State
	def        *model.ExamDefinition
	session    *model.ExamSession
	cache      *AnswerCache
	pager      *QuestionPager
	result     *model.SubmitResult
	gen        uint64
	stopTicker func()
}

// NewController creates an idle controller for userID.
func NewController(api ExamAPI, s store.Store, userID int, log zerolog.Logger, opts ...Option) *Controller {
	c := &Controller{
		api:         api,
		store:       s,
		userID:      userID,
		attemptsCap: model.DefaultAttemptsCap,
		sessions:    sessionTable(s, userID),
		log:         log.With().Str("component", "exam_session").Int("user_id", userID).Logger(),
		events:      make(chan controllerEvent, 8),
		states:      NewFeed[State](),
		remaining:   NewFeed[time.Duration](),
		counts:      NewFeed[int](),
		state:       StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.clock == nil {
		c.clock = worker.NewCountdown(log)
	}
	c.guard = NewSubmissionGuard(api, s, c.clock.Now, log)
	c.states.Publish(StateIdle)
	return c
}

// ─── Lifecycle ──────────────────────────────────────────────────────────

// Start begins or resumes a session for examID. An in-progress session for
// the same exam is resumed with its original start time; otherwise the
// attempt policy is checked and a new session is persisted.
func (c *Controller) Start(ctx context.Context, examID uuid.UUID) error {
	c.mu.Lock()
	if c.state != StateIdle && c.state != StateCompleted {
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: start from %s", ErrInvalidTransition, st)
	}
	c.setState(StateLoading)
	c.mu.Unlock()

	def, session, err := c.prepare(ctx, examID)
	if err != nil {
		c.mu.Lock()
		c.setState(StateIdle)
		c.mu.Unlock()
		return err
	}

	cache := NewAnswerCache(c.store, examID, c.userID, def.OptionsPerQuestion, c.counts, c.log)
	if err := cache.Load(ctx); err != nil {
		c.mu.Lock()
		c.setState(StateIdle)
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.def = def
	c.session = session
	c.cache = cache
	c.pager = NewQuestionPager(c.api, c.store, cache, def.TotalQuestions, c.log)
	c.result = nil
	c.setState(StateReady)

	c.setState(StateActive)
	c.startTickerLocked()
	return nil
}

func (c *Controller) prepare(ctx context.Context, examID uuid.UUID) (*model.ExamDefinition, *model.ExamSession, error) {
	existing, err := c.inProgress(ctx)
	if err != nil {
		return nil, nil, err
	}
	resume := existing != nil && existing.ExamID == examID

	var policy *model.AttemptPolicy
	if !resume {
		policy, err = c.api.GetAttemptPolicy(ctx, examID)
		if err != nil {
			return nil, nil, fmt.Errorf("load attempt policy: %w", err)
		}
		if policy.AttemptsCap <= 0 {
			policy.AttemptsCap = c.attemptsCap
		}
		if !policy.CanStart() {
			c.log.Warn().
				Str("exam_id", examID.String()).
				Int("attempts_used", policy.AttemptsUsed).
				Int("attempts_cap", policy.AttemptsCap).
				Msg("Start refused")
			return nil, nil, ErrAttemptLimitExceeded
		}
	}

	def, err := c.api.GetExamDefinition(ctx, examID)
	if err != nil {
		c.log.Error().Err(err).Str("exam_id", examID.String()).Msg("Definition load failed, resetting")
		return nil, nil, fmt.Errorf("%w: %v", ErrDefinitionLoad, err)
	}
	if !resume && !def.Admits(policy) {
		c.log.Warn().Str("exam_id", examID.String()).Msg("Start refused, account not verified")
		return nil, nil, ErrVerificationRequired
	}

	if existing != nil && !resume {
		if err := c.dropScope(ctx, existing.ExamID); err != nil {
			return nil, nil, err
		}
		c.log.Info().Str("stale_exam_id", existing.ExamID.String()).Msg("Cleared stale session of another exam")
	}

	if resume {
		c.log.Info().
			Str("exam_id", examID.String()).
			Time("started_at", existing.StartedAt).
			Msg("Resuming session")
		return def, existing, nil
	}

	// Leftovers of an earlier attempt at the same exam must not leak into this one.
	if err := answerTable(c.store, examID, c.userID).Clear(ctx); err != nil {
		return nil, nil, fmt.Errorf("clear answers: %w", err)
	}
	if err := questionTable(c.store, examID, c.userID).Clear(ctx); err != nil {
		return nil, nil, fmt.Errorf("clear questions: %w", err)
	}

	session := &model.ExamSession{
		ExamID:       examID,
		UserID:       c.userID,
		StartedAt:    c.clock.Now(),
		Attempt:      policy.AttemptsUsed + 1,
		Status:       model.SessionStatusInProgress,
		SubmissionID: uuid.New(),
	}
	if err := c.sessions.UpsertAll(ctx, *session); err != nil {
		return nil, nil, fmt.Errorf("persist session: %w", err)
	}
	c.log.Info().
		Str("exam_id", examID.String()).
		Int("attempt", session.Attempt).
		Time("started_at", session.StartedAt).
		Msg("Session started")
	return def, session, nil
}

// inProgress returns the persisted unfinished session of the user, if any.
func (c *Controller) inProgress(ctx context.Context) (*model.ExamSession, error) {
	found, err := c.sessions.GetPage(ctx, store.Query{
		Page:     1,
		PageSize: 1,
		Filter:   []store.Condition{{Field: "status", Value: model.SessionStatusInProgress}},
		Desc:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}
	if len(found) == 0 {
		return nil, nil
	}
	return &found[0], nil
}

// dropScope removes every local trace of an unfinished session.
func (c *Controller) dropScope(ctx context.Context, examID uuid.UUID) error {
	return errors.Join(
		answerTable(c.store, examID, c.userID).Clear(ctx),
		questionTable(c.store, examID, c.userID).Clear(ctx),
		c.sessions.Delete(ctx, examID.String()),
	)
}

// Resume restarts the persisted in-progress session, if there is one.
func (c *Controller) Resume(ctx context.Context) (bool, error) {
	existing, err := c.inProgress(ctx)
	if err != nil || existing == nil {
		return false, err
	}
	return true, c.Start(ctx, existing.ExamID)
}

// Discard abandons the current session and clears its cached answers.
func (c *Controller) Discard(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateReady, StateActive, StateExpired:
	default:
		return fmt.Errorf("%w: discard from %s", ErrInvalidTransition, c.state)
	}

	c.stopTickerLocked()
	err := errors.Join(
		c.cache.Clear(ctx),
		c.pager.Clear(ctx),
		c.sessions.Delete(ctx, c.session.ExamID.String()),
	)
	if err != nil {
		c.log.Error().Err(err).Msg("Discard left local state behind")
	}

	c.log.Info().Str("exam_id", c.session.ExamID.String()).Msg("Session discarded")
	c.def, c.session, c.cache, c.pager = nil, nil, nil, nil
	c.counts.Publish(0)
	c.remaining.Publish(0)
	c.setState(StateIdle)
	return err
}

// Close stops the countdown and closes every subscription.
func (c *Controller) Close() {
	c.mu.Lock()
	c.stopTickerLocked()
	c.mu.Unlock()

	c.states.Close()
	c.remaining.Close()
	c.counts.Close()
}

// ─── Answers & pages ────────────────────────────────────────────────────

// RecordAnswer stores the selection durably. It never touches the network.
func (c *Controller) RecordAnswer(ctx context.Context, questionID uuid.UUID, optionIndex int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateActive {
		return ErrNotActive
	}
	if c.remainingLocked() == 0 {
		return ErrNotActive
	}
	return c.cache.Record(ctx, questionID, optionIndex)
}

// FetchPage loads page (1-based) using the definition's page size.
func (c *Controller) FetchPage(ctx context.Context, page int) (PageResult, error) {
	c.mu.Lock()
	if c.state != StateActive && c.state != StateExpired {
		c.mu.Unlock()
		return PageResult{}, ErrNotActive
	}
	def, pager := c.def, c.pager
	c.mu.Unlock()

	if page < 1 || page > def.PageCount() {
		return PageResult{}, fmt.Errorf("%w: %d of %d", ErrInvalidPage, page, def.PageCount())
	}
	return pager.FetchPage(ctx, def.ID, page, def.QuestionsPerPage)
}

// ─── Submission ─────────────────────────────────────────────────────────

// RequestSubmit submits the active session. A second request while one is
// pending returns ErrAlreadyInFlight; its outcome is visible through
// SubscribeState and Result. On failure the session goes back to Active (or
// Expired once time is up) with every answer kept.
func (c *Controller) RequestSubmit(ctx context.Context, reason model.SubmitReason) (*model.SubmitResult, error) {
	c.mu.Lock()
	switch c.state {
	case StateSubmitting:
		c.mu.Unlock()
		return nil, ErrAlreadyInFlight
	case StateActive, StateExpired:
	default:
		c.mu.Unlock()
		return nil, ErrNotActive
	}
	if c.cache.AnsweredCount() == 0 {
		c.mu.Unlock()
		c.log.Info().Str("reason", string(reason)).Msg("Nothing to submit")
		return nil, ErrNothingToSubmit
	}

	c.stopTickerLocked()
	c.setState(StateSubmitting)
	session, cache := *c.session, c.cache
	c.mu.Unlock()

	// Not cancelled by the caller: the request may already have reached the server.
	res, err := c.guard.Submit(context.WithoutCancel(ctx), session, reason, cache)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		if c.remainingLocked() == 0 {
			c.remaining.Publish(0)
			c.setState(StateExpired)
		} else {
			c.setState(StateActive)
			c.startTickerLocked()
		}
		return nil, err
	}

	if err := c.pager.Clear(context.WithoutCancel(ctx)); err != nil {
		c.log.Warn().Err(err).Msg("Failed to clear question cache")
	}
	c.session = &res.Session
	c.result = res
	c.setState(StateCompleted)
	return res, nil
}

// Result returns the server result of the last completed session.
func (c *Controller) Result() *model.SubmitResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

// StoredResult reads the persisted session and graded questions of examID.
func (c *Controller) StoredResult(ctx context.Context, examID uuid.UUID) (*model.SubmitResult, error) {
	found, err := c.sessions.GetPage(ctx, store.Query{
		Filter: []store.Condition{{Field: "exam_id", Value: examID.String()}},
	})
	if err != nil {
		return nil, err
	}
	if len(found) == 0 || found[0].Status != model.SessionStatusCompleted {
		return nil, nil
	}
	questions, err := resultTable(c.store, examID, c.userID).All(ctx)
	if err != nil {
		return nil, err
	}
	return &model.SubmitResult{Session: found[0], Result: questions}, nil
}

// StoredSession returns the persisted session of examID, if any.
func (c *Controller) StoredSession(ctx context.Context, examID uuid.UUID) (*model.ExamSession, error) {
	found, err := c.sessions.GetPage(ctx, store.Query{
		Filter: []store.Condition{{Field: "exam_id", Value: examID.String()}},
	})
	if err != nil || len(found) == 0 {
		return nil, err
	}
	return &found[0], nil
}

// ─── Event loop ─────────────────────────────────────────────────────────

// Notify publishes a host lifecycle event. It blocks until the event is
// queued or ctx is done.
func (c *Controller) Notify(ctx context.Context, ev HostEvent) error {
	select {
	case c.events <- controllerEvent{host: ev}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run consumes countdown and host events until ctx is done. Submissions it
// triggers run on their own goroutine so the loop keeps draining events.
func (c *Controller) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-c.events:
			c.handle(ctx, ev)
		}
	}
}

func (c *Controller) handle(ctx context.Context, ev controllerEvent) {
	c.mu.Lock()
	var reason model.SubmitReason
	switch {
	case ev.expired:
		if ev.gen != c.gen || c.state != StateActive {
			c.mu.Unlock()
			return
		}
		c.stopTickerLocked()
		c.setState(StateExpired)
		reason = model.ReasonTimeout
	case ev.host == EventBackgrounded:
		reason = model.ReasonBackgrounded
	case ev.host == EventNavigatedAway:
		reason = model.ReasonNavigatedAway
	}
	if reason == "" || (reason != model.ReasonTimeout && c.state != StateActive) {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	go func() {
		if _, err := c.RequestSubmit(ctx, reason); err != nil {
			c.log.Warn().Err(err).Str("reason", string(reason)).Msg("Automatic submission did not complete")
		}
	}()
}

// ─── Countdown plumbing ─────────────────────────────────────────────────

// startTickerLocked starts the countdown of the current session and forwards
// its ticks. Callers hold c.mu.
func (c *Controller) startTickerLocked() {
	c.stopTickerLocked()

	c.gen++
	gen := c.gen
	ctx, cancel := context.WithCancel(context.Background())
	ticks := c.clock.Start(ctx, c.session.StartedAt, c.def.Duration())
	done := make(chan struct{})

	go func() {
		defer close(done)
		for tick := range ticks {
			c.remaining.Publish(tick.Remaining)
			if !tick.Expired {
				continue
			}
			select {
			case c.events <- controllerEvent{expired: true, gen: gen}:
			case <-ctx.Done():
			}
		}
	}()

	c.stopTicker = func() {
		cancel()
		c.clock.Stop()
		<-done
	}
}

func (c *Controller) stopTickerLocked() {
	if c.stopTicker != nil {
		c.stopTicker()
		c.stopTicker = nil
	}
}

// ─── Accessors ──────────────────────────────────────────────────────────

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns a copy of the current session, or nil.
func (c *Controller) Session() *model.ExamSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	s := *c.session
	return &s
}

func (c *Controller) Definition() *model.ExamDefinition {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.def
}

// AnsweredCount returns the answered count of the current session.
func (c *Controller) AnsweredCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cache == nil {
		return 0
	}
	return c.cache.AnsweredCount()
}

// RemainingTime recomputes the time left from the persisted start.
func (c *Controller) RemainingTime() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remainingLocked()
}

func (c *Controller) remainingLocked() time.Duration {
	if c.session == nil || c.def == nil {
		return 0
	}
	return worker.Remaining(c.def.Duration(), c.session.StartedAt, c.clock.Now())
}

func (c *Controller) SubscribeState() (<-chan State, func()) {
	return c.states.Subscribe()
}

func (c *Controller) SubscribeRemaining() (<-chan time.Duration, func()) {
	return c.remaining.Subscribe()
}

func (c *Controller) SubscribeAnsweredCount() (<-chan int, func()) {
	return c.counts.Subscribe()
}

// setState records a transition. Callers hold c.mu.
func (c *Controller) setState(next State) {
	prev := c.state
	if prev == next {
		return
	}
	if !CanTransition(prev, next) {
		c.log.Error().Str("from", string(prev)).Str("to", string(next)).Msg("Illegal state transition")
	}
	c.state = next
	c.log.Info().Str("from", string(prev)).Str("to", string(next)).Msg("Session state changed")
	c.states.Publish(next)
}
