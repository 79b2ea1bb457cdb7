package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/stemsi/exstem-session/internal/apiclient"
	"github.com/stemsi/exstem-session/internal/examsession"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/terminal"
	"github.com/stemsi/exstem-session/internal/worker"
)

// controllerFor opens the environment, authenticates and builds a controller
// for the logged-in student.
func controllerFor(ctx context.Context, cmd *cobra.Command) (*env, *examsession.Controller, error) {
	e, err := openEnv(ctx, cmd)
	if err != nil {
		return nil, nil, err
	}
	creds, err := e.authenticate(ctx)
	if err != nil {
		e.Close()
		return nil, nil, err
	}
	ctl := examsession.NewController(e.api, e.store, creds.UserID, e.log,
		examsession.WithAttemptsCap(e.v.GetInt("attempts-cap")))
	return e, ctl, nil
}

func examArg(args []string) (uuid.UUID, error) {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid exam id %q", args[0])
	}
	return id, nil
}

func takeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "take <exam-id>",
		Short: "Start or resume an exam in the terminal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			examID, err := examArg(args)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			e, ctl, err := controllerFor(ctx, cmd)
			if err != nil {
				return err
			}
			defer e.Close()
			defer ctl.Close()

			go func() {
				if err := ctl.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					e.log.Error().Err(err).Msg("Session event loop stopped")
				}
			}()

			if err := ctl.Start(ctx, examID); err != nil {
				return explainStart(err)
			}

			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
			defer signal.Stop(sigs)
			done := make(chan struct{})
			defer close(done)
			fw := &signalForwarder{session: ctl, cancel: cancel, exit: os.Exit, settle: submitSettle, log: e.log}
			go fw.run(ctx, sigs, done)

			res, err := terminal.NewRunner(ctl, os.Stdin, cmd.OutOrStdout(), e.log).Run(ctx)
			if errors.Is(err, context.Canceled) && cmd.Context().Err() == nil {
				// Stopped by a signal after the submit attempt.
				res, err = ctl.Result(), nil
				if res != nil {
					terminal.PrintResult(cmd.OutOrStdout(), res)
				}
			}
			if err != nil {
				return err
			}
			if res == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "Left the exam. Run examctl take again to resume.")
			}
			return nil
		},
	}
}

// submitSettle bounds the wait for a signal-triggered submission to begin.
const submitSettle = time.Second

// hostSession is the part of the controller the signal forwarder drives.
type hostSession interface {
	Notify(ctx context.Context, ev examsession.HostEvent) error
	SubscribeState() (<-chan examsession.State, func())
}

// signalForwarder turns process signals into host lifecycle events. An
// interrupt counts as leaving the exam screen; a hangup or terminate as the
// app going to the background. The first signal stops the terminal session
// once the submission it triggers has finished, succeeded or not. A second
// signal exits at once.
type signalForwarder struct {
	session hostSession
	cancel  context.CancelFunc
	exit    func(code int)
	settle  time.Duration
	log     zerolog.Logger
}

func (f *signalForwarder) run(ctx context.Context, sigs <-chan os.Signal, done <-chan struct{}) {
	var sig os.Signal
	select {
	case <-ctx.Done():
		return
	case <-done:
		return
	case sig = <-sigs:
	}

	ev := examsession.EventBackgrounded
	if sig == syscall.SIGINT {
		ev = examsession.EventNavigatedAway
	}
	f.log.Info().Str("signal", sig.String()).Str("event", string(ev)).Msg("Leaving exam")

	if err := f.session.Notify(ctx, ev); err != nil {
		f.log.Warn().Err(err).Msg("Lifecycle event not delivered")
	} else if f.awaitSubmit(sigs) {
		f.exit(1)
		return
	}
	f.cancel()

	select {
	case <-done:
	case <-sigs:
		f.exit(1)
	}
}

// awaitSubmit waits for the submission the event triggers to finish. It gives
// up after f.settle if none starts, and reports whether another signal came in
// meanwhile.
func (f *signalForwarder) awaitSubmit(sigs <-chan os.Signal) bool {
	states, stop := f.session.SubscribeState()
	defer stop()
	settle := time.NewTimer(f.settle)
	defer settle.Stop()

	submitting := false
	for {
		select {
		case <-sigs:
			return true
		case <-settle.C:
			if !submitting {
				return false
			}
		case st, ok := <-states:
			if !ok {
				return false
			}
			switch st {
			case examsession.StateSubmitting:
				submitting = true
			case examsession.StateActive, examsession.StateExpired:
				if submitting {
					return false
				}
			default:
				return false
			}
		}
	}
}

func explainStart(err error) error {
	switch {
	case errors.Is(err, examsession.ErrAttemptLimitExceeded):
		return errors.New("no attempts left for this exam; ask a proctor to verify your account")
	case errors.Is(err, examsession.ErrVerificationRequired):
		return errors.New("this exam is for verified accounts only; ask a proctor to verify your account")
	case errors.Is(err, examsession.ErrInvalidTransition):
		return fmt.Errorf("cannot start: %w", err)
	}
	return fmt.Errorf("start exam: %w", err)
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <exam-id>",
		Short: "Show the locally stored session of an exam",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			examID, err := examArg(args)
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()

			e, ctl, err := controllerFor(ctx, cmd)
			if err != nil {
				return err
			}
			defer e.Close()
			defer ctl.Close()

			session, err := ctl.StoredSession(ctx, examID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if session == nil {
				fmt.Fprintln(out, "No session for this exam on this device.")
				return nil
			}

			fmt.Fprintf(out, "Attempt:    %d\n", session.Attempt)
			fmt.Fprintf(out, "Status:     %s\n", session.Status)
			fmt.Fprintf(out, "Started at: %s\n", session.StartedAt.Local().Format(time.DateTime))
			if session.Status != model.SessionStatusInProgress {
				return nil
			}

			def, err := e.api.GetExamDefinition(ctx, examID)
			if err != nil {
				e.log.Warn().Err(err).Msg("Could not fetch exam definition")
				return nil
			}
			left := worker.Remaining(def.Duration(), session.StartedAt, time.Now())
			fmt.Fprintf(out, "Remaining:  %s\n", left.Round(time.Second))
			return nil
		},
	}
}

func discardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discard <exam-id>",
		Short: "Abandon the in-progress session and its cached answers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			examID, err := examArg(args)
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()

			e, ctl, err := controllerFor(ctx, cmd)
			if err != nil {
				return err
			}
			defer e.Close()
			defer ctl.Close()

			resumed, err := ctl.Resume(ctx)
			if err != nil {
				return err
			}
			if !resumed || ctl.Session() == nil || ctl.Session().ExamID != examID {
				return errors.New("no in-progress session for this exam")
			}
			if err := ctl.Discard(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Session discarded.")
			return nil
		},
	}
}

func resultCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "result <exam-id>",
		Short: "Print the stored result of a completed exam",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			examID, err := examArg(args)
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()

			e, ctl, err := controllerFor(ctx, cmd)
			if err != nil {
				return err
			}
			defer e.Close()
			defer ctl.Close()

			res, err := ctl.StoredResult(ctx, examID)
			if err != nil {
				return err
			}
			if res == nil {
				return errors.New("no completed session for this exam on this device")
			}
			terminal.PrintResult(cmd.OutOrStdout(), res)
			return nil
		},
	}
}

var (
	_ examsession.ExamAPI = (*apiclient.Client)(nil)
	_ terminal.Session    = (*examsession.Controller)(nil)
	_ hostSession         = (*examsession.Controller)(nil)
)
