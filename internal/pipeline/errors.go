package pipeline

import (
	"fmt"
	"time"

	"github.com/jonathan/outreach-agent/internal/stage"
)

// collaboratorError carries the classification shared by all collaborator errors.
type collaboratorError struct {
	label      string
	Kind       stage.Kind
	Message    string
	RetryAfter time.Duration
	Cause      error
}

func (e *collaboratorError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s error (%s): %s: %v", e.label, e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s error (%s): %s", e.label, e.Kind, e.Message)
}

func (e *collaboratorError) Unwrap() error {
	return e.Cause
}

// ErrorKind returns the classification used by the stage executor.
func (e *collaboratorError) ErrorKind() stage.Kind {
	return e.Kind
}

// RetryAfterHint returns the wait suggested by the remote side, if any.
func (e *collaboratorError) RetryAfterHint() time.Duration {
	return e.RetryAfter
}

// ScrapeError is returned by contact discovery.
type ScrapeError struct{ collaboratorError }

// NewScrapeError builds a classified discovery error.
func NewScrapeError(kind stage.Kind, message string, cause error) *ScrapeError {
	return &ScrapeError{collaboratorError{label: "scrape", Kind: kind, Message: message, Cause: cause}}
}

// LookupError is returned by email resolution.
type LookupError struct{ collaboratorError }

// NewLookupError builds a classified email lookup error.
func NewLookupError(kind stage.Kind, message string, cause error) *LookupError {
	return &LookupError{collaboratorError{label: "lookup", Kind: kind, Message: message, Cause: cause}}
}

// GenerationError is returned by message drafting.
type GenerationError struct{ collaboratorError }

// NewGenerationError builds a classified drafting error.
func NewGenerationError(kind stage.Kind, message string, cause error) *GenerationError {
	return &GenerationError{collaboratorError{label: "generation", Kind: kind, Message: message, Cause: cause}}
}

// SelectionError is returned by resume selection.
type SelectionError struct{ collaboratorError }

// NewSelectionError builds a classified resume selection error.
func NewSelectionError(kind stage.Kind, message string, cause error) *SelectionError {
	return &SelectionError{collaboratorError{label: "selection", Kind: kind, Message: message, Cause: cause}}
}

// DeliveryError is returned by message delivery.
type DeliveryError struct{ collaboratorError }

// NewDeliveryError builds a classified delivery error.
func NewDeliveryError(kind stage.Kind, message string, cause error) *DeliveryError {
	return &DeliveryError{collaboratorError{label: "delivery", Kind: kind, Message: message, Cause: cause}}
}

// failureMessage renders a stage failure for FailureReason.Message.
func failureMessage(stageName string, err error) string {
	if err == nil {
		return stageName + " failed"
	}
	return fmt.Sprintf("%s failed: %v", stageName, err)
}
