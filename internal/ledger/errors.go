package ledger

import (
	"errors"
	"fmt"

	"github.com/jonathan/outreach-agent/internal/types"
)

// ErrInvalidRecord is returned when a record cannot be stored as given.
var ErrInvalidRecord = errors.New("invalid record")

// Error is a storage failure. Every ledger error is Fatal for the run.
type Error struct {
	Op      string
	ID      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	prefix := "ledger " + e.Op
	if e.ID != "" {
		prefix += " " + e.ID
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// ErrorKind marks ledger errors as Fatal.
func (e *Error) ErrorKind() types.ErrorKind {
	return types.ErrorFatal
}

func validateRecord(rec *types.CompanyRecord) error {
	if rec == nil {
		return &Error{Op: "upsert", Message: "nil record", Cause: ErrInvalidRecord}
	}
	if rec.ID == "" {
		return &Error{Op: "upsert", Message: "record has no id", Cause: ErrInvalidRecord}
	}
	if !rec.Status.Valid() {
		return &Error{Op: "upsert", ID: rec.ID, Message: fmt.Sprintf("unknown status %q", rec.Status), Cause: ErrInvalidRecord}
	}
	return nil
}
