package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies statement failures so callers can pick a response
// without parsing messages.
type ErrorKind string

const (
	KindSubmission      ErrorKind = "submission"
	KindExecutionFailed ErrorKind = "execution_failed"
	KindTimeout         ErrorKind = "timeout"
	KindCanceled        ErrorKind = "canceled"
)

// Sentinels for errors.Is. A *StatementError matches the sentinel of its kind.
var (
	ErrSubmission      = errors.New("statement submission failed")
	ErrExecutionFailed = errors.New("statement execution failed")
	ErrTimeout         = errors.New("statement timed out")
	ErrCanceled        = errors.New("statement wait canceled")
	ErrMalformedInput  = errors.New("malformed input")
)

var kindSentinels = map[ErrorKind]error{
	KindSubmission:      ErrSubmission,
	KindExecutionFailed: ErrExecutionFailed,
	KindTimeout:         ErrTimeout,
	KindCanceled:        ErrCanceled,
}

// StatementError is returned by statement executors. Handle is set once the
// warehouse has accepted the statement, so an abandoned wait can be resumed.
type StatementError struct {
	Kind    ErrorKind
	Handle  StatementHandle
	Message string
	Err     error
}

func (e *StatementError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = kindSentinels[e.Kind].Error()
	}
	if e.Handle != "" {
		msg = fmt.Sprintf("%s (statement %s)", msg, e.Handle)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *StatementError) Unwrap() error { return e.Err }

// Is matches the kind sentinel, e.g. errors.Is(err, ErrTimeout).
func (e *StatementError) Is(target error) bool {
	s, ok := kindSentinels[e.Kind]
	return ok && s == target
}

// KindOf returns the kind of a *StatementError anywhere in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var se *StatementError
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return "", false
}

// malformed wraps ErrMalformedInput with context.
func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedInput, fmt.Sprintf(format, args...))
}
