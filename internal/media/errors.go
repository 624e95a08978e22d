package media

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind classifies a gateway failure.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindProvider   ErrorKind = "provider"
	KindNetwork    ErrorKind = "network"
	KindTimeout    ErrorKind = "timeout"
)

// Error is returned by every Gateway operation. Message is safe to show to
// the end user; Err carries the underlying cause.
type Error struct {
	Kind    ErrorKind
	Op      string
	Message string
	Status  int // provider HTTP status, if any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("media %s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("media %s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewValidationError reports bad caller input.
func NewValidationError(op, msg string) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: msg}
}

// KindOf returns the kind of err, or "" if err is not a *Error.
func KindOf(err error) ErrorKind {
	var me *Error
	if errors.As(err, &me) {
		return me.Kind
	}
	return ""
}

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool {
	return KindOf(err) == KindValidation
}

// classify turns a transport-level failure into a *Error. Cancellation is
// returned unchanged so callers can tell it apart from a failure.
func classify(op, msg string, err error) error {
	var me *Error
	switch {
	case errors.As(err, &me):
		return err
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindTimeout, Op: op, Message: msg, Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: KindTimeout, Op: op, Message: msg, Err: err}
	}
	return &Error{Kind: KindNetwork, Op: op, Message: msg, Err: err}
}
