// Package terminal runs an exam session interactively on a line-oriented
// terminal.
package terminal

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/examsession"
	"github.com/stemsi/exstem-session/internal/model"
)

// ErrLeftUnsubmitted is returned when the user leaves and the session could
// not be submitted. Answers stay on disk for a later resume.
var ErrLeftUnsubmitted = errors.New("left without a confirmed submission; answers are kept")

// Session is the part of the exam controller the runner drives.
type Session interface {
	Definition() *model.ExamDefinition
	FetchPage(ctx context.Context, page int) (examsession.PageResult, error)
	RecordAnswer(ctx context.Context, questionID uuid.UUID, optionIndex int) error
	RequestSubmit(ctx context.Context, reason model.SubmitReason) (*model.SubmitResult, error)
	AnsweredCount() int
	RemainingTime() time.Duration
	Result() *model.SubmitResult
	SubscribeState() (<-chan examsession.State, func())
	SubscribeRemaining() (<-chan time.Duration, func())
}

var warnAt = []time.Duration{5 * time.Minute, time.Minute, 10 * time.Second}

// Runner renders pages and applies typed commands to a running session.
type Runner struct {
	session Session
	in      io.Reader
	out     io.Writer
	log     zerolog.Logger

	page      int
	questions []model.Question
	warned    int
}

// NewRunner creates a runner reading commands from in and writing to out.
func NewRunner(session Session, in io.Reader, out io.Writer, log zerolog.Logger) *Runner {
	return &Runner{session: session, in: in, out: out, log: log, page: 1}
}

// Run shows the first page and processes input until the session completes,
// the user leaves or ctx is done. End of input counts as leaving.
func (r *Runner) Run(ctx context.Context) (*model.SubmitResult, error) {
	states, stopStates := r.session.SubscribeState()
	defer stopStates()
	ticks, stopTicks := r.session.SubscribeRemaining()
	defer stopTicks()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	r.loadPage(ctx, r.page)
	r.prompt()

	prev := examsession.StateActive
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case st, ok := <-states:
			if !ok {
				return nil, errors.New("session closed")
			}
			switch st {
			case examsession.StateCompleted:
				res := r.session.Result()
				r.printResult(res)
				return res, nil
			case examsession.StateExpired:
				if prev == examsession.StateSubmitting {
					fmt.Fprintln(r.out, "Submission failed. Your answers are kept; type s to retry.")
				} else {
					fmt.Fprintln(r.out, "Time is up. Submitting your answers...")
				}
			case examsession.StateActive:
				if prev == examsession.StateSubmitting {
					fmt.Fprintln(r.out, "Submission failed. Your answers are kept; type s to retry.")
				}
			case examsession.StateIdle:
				return nil, nil
			}
			prev = st

		case d := <-ticks:
			r.warn(d)

		case line, ok := <-lines:
			if !ok {
				return r.leave(ctx)
			}
			res, done, err := r.exec(ctx, line)
			if done {
				return res, err
			}
			r.prompt()
		}
	}
}

// exec applies one command and reports whether the runner should stop.
func (r *Runner) exec(ctx context.Context, line string) (*model.SubmitResult, bool, error) {
	cmd, err := ParseCommand(line)
	if err != nil {
		fmt.Fprintln(r.out, err)
		return nil, false, nil
	}

	switch cmd.Op {
	case OpAnswer:
		r.answer(ctx, cmd.Question, cmd.Option)
	case OpNext:
		if r.page >= r.session.Definition().PageCount() {
			fmt.Fprintln(r.out, "Already on the last page.")
			break
		}
		r.loadPage(ctx, r.page+1)
	case OpPrev:
		if r.page <= 1 {
			fmt.Fprintln(r.out, "Already on the first page.")
			break
		}
		r.loadPage(ctx, r.page-1)
	case OpRefresh:
		r.loadPage(ctx, r.page)
	case OpSubmit:
		res, err := r.session.RequestSubmit(ctx, model.ReasonManual)
		if err != nil {
			r.explain(err)
			break
		}
		r.printResult(res)
		return res, true, nil
	case OpLeave:
		res, err := r.leave(ctx)
		return res, true, err
	case OpHelp:
		fmt.Fprint(r.out, helpText)
	}
	return nil, false, nil
}

// leave submits with the navigated-away reason. With nothing answered the
// session is left in progress, clock running, for a later resume.
func (r *Runner) leave(ctx context.Context) (*model.SubmitResult, error) {
	if r.session.AnsweredCount() == 0 {
		fmt.Fprintln(r.out, "Nothing answered yet. The session stays open and the clock keeps running.")
		return nil, nil
	}
	fmt.Fprintln(r.out, "Leaving the exam. Submitting your answers...")
	res, err := r.session.RequestSubmit(ctx, model.ReasonNavigatedAway)
	if err != nil {
		r.explain(err)
		return nil, ErrLeftUnsubmitted
	}
	r.printResult(res)
	return res, nil
}

func (r *Runner) answer(ctx context.Context, orderNum, option int) {
	var q *model.Question
	for i := range r.questions {
		if r.questions[i].OrderNum == orderNum {
			q = &r.questions[i]
			break
		}
	}
	if q == nil {
		fmt.Fprintf(r.out, "Question %d is not on this page.\n", orderNum)
		return
	}

	if err := r.session.RecordAnswer(ctx, q.ID, option); err != nil {
		r.explain(err)
		return
	}
	q.Answered = true
	for i := range q.Options {
		q.Options[i].Selected = q.Options[i].Index == option
	}
	fmt.Fprintf(r.out, "#%d -> %s (%d answered)\n", orderNum, OptionLabel(option), r.session.AnsweredCount())
}

func (r *Runner) loadPage(ctx context.Context, page int) {
	res, err := r.session.FetchPage(ctx, page)
	switch {
	case errors.Is(err, examsession.ErrStaleData):
		fmt.Fprintln(r.out, "(offline: showing the cached copy of this page)")
	case err != nil:
		r.explain(err)
		return
	}
	r.page = page
	r.questions = res.Questions
	r.render()
}

func (r *Runner) render() {
	def := r.session.Definition()
	fmt.Fprintf(r.out, "\n%s | page %d/%d | %s left | answered %d/%d\n",
		def.Title, r.page, def.PageCount(), clock(r.session.RemainingTime()),
		r.session.AnsweredCount(), def.TotalQuestions)
	for _, q := range r.questions {
		fmt.Fprintf(r.out, "\n%d. %s\n", q.OrderNum, q.Text)
		for _, o := range q.Options {
			mark := " "
			if o.Selected {
				mark = "x"
			}
			fmt.Fprintf(r.out, "   [%s] %s. %s\n", mark, OptionLabel(o.Index), o.Text)
		}
	}
}

func (r *Runner) warn(d time.Duration) {
	crossed := false
	for r.warned < len(warnAt) && d <= warnAt[r.warned] {
		r.warned++
		crossed = true
	}
	if crossed && d > 0 {
		fmt.Fprintf(r.out, "\n%s left.\n", clock(d))
	}
}

func (r *Runner) explain(err error) {
	var subErr *examsession.SubmitError
	switch {
	case errors.Is(err, examsession.ErrNothingToSubmit):
		fmt.Fprintln(r.out, "Answer at least one question before submitting.")
	case errors.Is(err, examsession.ErrAlreadyInFlight):
		fmt.Fprintln(r.out, "A submission is already in progress.")
	case errors.Is(err, examsession.ErrNotActive):
		fmt.Fprintln(r.out, "The session is no longer accepting answers.")
	case errors.Is(err, examsession.ErrInvalidOption):
		fmt.Fprintln(r.out, "That option does not exist for this question.")
	case errors.As(err, &subErr):
		fmt.Fprintf(r.out, "Submission failed (%s). Your answers are kept; type s to retry.\n", subErr.Kind)
	default:
		fmt.Fprintln(r.out, "Error:", err)
	}
}

func (r *Runner) printResult(res *model.SubmitResult) {
	if res == nil {
		fmt.Fprintln(r.out, "Submitted.")
		return
	}
	PrintResult(r.out, res)
}

func (r *Runner) prompt() {
	fmt.Fprint(r.out, "> ")
}

// PrintResult writes a graded session summary.
func PrintResult(out io.Writer, res *model.SubmitResult) {
	s := res.Session
	fmt.Fprintf(out, "\nSubmitted (attempt %d, %s).\n", s.Attempt, s.Reason)
	if s.FinalScore != nil {
		fmt.Fprintf(out, "Score: %.1f (%d/%d correct)\n", *s.FinalScore, s.Correct, s.Total)
	}
	for _, q := range res.Result {
		answer := "-"
		if idx := q.SelectedIndex(); idx >= 0 {
			answer = OptionLabel(idx)
		}
		fmt.Fprintf(out, "  %3d. %s\n", q.OrderNum, answer)
	}
}

func clock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)
	return fmt.Sprintf("%02d:%02d", int(d/time.Minute), int(d%time.Minute/time.Second))
}
