// Package stage provides the retrying executor that runs one pipeline stage against a company record.
package stage

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	"github.com/jonathan/outreach-agent/internal/types"
)

// Kind is the error taxonomy used for retry decisions.
type Kind = types.ErrorKind

// Re-exported kinds so collaborators only need this package.
const (
	Transient   = types.ErrorTransient
	Permanent   = types.ErrorPermanent
	RateLimited = types.ErrorRateLimited
	Fatal       = types.ErrorFatal
)

// ErrEmptyResult is returned by collaborators that ran successfully but produced nothing usable.
var ErrEmptyResult = errors.New("empty result")

// Error is a classified stage failure. Collaborator-specific errors embed or wrap it.
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter time.Duration
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// ErrorKind returns the classification carried by the error.
func (e *Error) ErrorKind() Kind {
	return e.Kind
}

// RetryAfterHint returns the collaborator's suggested wait, if any.
func (e *Error) RetryAfterHint() time.Duration {
	return e.RetryAfter
}

// Kinded is implemented by errors that know their own classification.
type Kinded interface {
	ErrorKind() Kind
}

// retryHinter is implemented by rate-limit errors that carry a Retry-After value.
type retryHinter interface {
	RetryAfterHint() time.Duration
}

// NewTransient returns a Transient error.
func NewTransient(message string, cause error) *Error {
	return &Error{Kind: Transient, Message: message, Cause: cause}
}

// NewPermanent returns a Permanent error.
func NewPermanent(message string, cause error) *Error {
	return &Error{Kind: Permanent, Message: message, Cause: cause}
}

// NewRateLimited returns a RateLimited error with an optional Retry-After hint.
func NewRateLimited(message string, retryAfter time.Duration, cause error) *Error {
	return &Error{Kind: RateLimited, Message: message, RetryAfter: retryAfter, Cause: cause}
}

// Classify maps any error onto the taxonomy.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}
	var kinded Kinded
	if errors.As(err, &kinded) {
		return kinded.ErrorKind()
	}
	if errors.Is(err, ErrEmptyResult) {
		return Permanent
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Transient
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return Transient
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return Transient
	}
	return Permanent
}

// retryAfter extracts a collaborator's Retry-After hint from err.
func retryAfter(err error) time.Duration {
	var hinter retryHinter
	if errors.As(err, &hinter) {
		return hinter.RetryAfterHint()
	}
	return 0
}
