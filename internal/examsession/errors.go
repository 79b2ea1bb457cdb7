package examsession

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	ErrAttemptLimitExceeded = errors.New("attempt limit exceeded")
	ErrVerificationRequired = errors.New("exam requires a verified account")
	ErrNotActive            = errors.New("session is not active")
	ErrNothingToSubmit      = errors.New("no answers to submit")
	ErrAlreadyInFlight      = errors.New("submission already in flight")
	ErrStaleData            = errors.New("serving cached data")
	ErrInvalidOption        = errors.New("option index out of range")
	ErrUnknownQuestion      = errors.New("question not part of this session")
	ErrInvalidTransition    = errors.New("invalid state transition")
	ErrDefinitionLoad       = errors.New("failed to load exam definition")
	ErrInvalidPage          = errors.New("page out of range")
	ErrSubmitFailed         = errors.New("submission failed")
)

// SubmitErrorKind classifies a failed submission.
type SubmitErrorKind string

const (
	SubmitNetwork SubmitErrorKind = "network"
	SubmitServer  SubmitErrorKind = "server"
	SubmitTimeout SubmitErrorKind = "timeout"
)

// SubmitError is a recoverable submission failure. Answers stay cached.
type SubmitError struct {
	Kind       SubmitErrorKind
	StatusCode int
	Err        error
}

func (e *SubmitError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("submit %s error (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("submit %s error: %v", e.Kind, e.Err)
}

func (e *SubmitError) Unwrap() error { return e.Err }

// Is makes every SubmitError match ErrSubmitFailed.
func (e *SubmitError) Is(target error) bool { return target == ErrSubmitFailed }

// statusCoder is implemented by API errors that carry an HTTP status.
type statusCoder interface {
	HTTPStatus() int
}

func classifySubmitError(err error) *SubmitError {
	var sc statusCoder
	if errors.As(err, &sc) {
		return &SubmitError{Kind: SubmitServer, StatusCode: sc.HTTPStatus(), Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &SubmitError{Kind: SubmitTimeout, Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &SubmitError{Kind: SubmitTimeout, Err: err}
	}
	return &SubmitError{Kind: SubmitNetwork, Err: err}
}
