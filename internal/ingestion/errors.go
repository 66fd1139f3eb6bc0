// Package ingestion loads the target company list from spreadsheets and validates each row.
package ingestion

import (
	"fmt"

	"github.com/jonathan/outreach-agent/internal/types"
)

// LoadError represents an error reading or parsing the input file.
type LoadError struct {
	Message string
	Cause   error
}

func (e *LoadError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("load error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("load error: %s", e.Message)
}

func (e *LoadError) Unwrap() error {
	return e.Cause
}

// RowError describes one input row that was rejected. Rejections are Permanent:
// the row is reported and never reaches the ledger.
type RowError struct {
	Row     int    `json:"row"`
	Company string `json:"company,omitempty"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *RowError) Error() string {
	label := fmt.Sprintf("row %d", e.Row)
	if e.Company != "" {
		label += fmt.Sprintf(" (%s)", e.Company)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", label, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", label, e.Message)
}

func (e *RowError) Unwrap() error {
	return e.Cause
}

// ErrorKind marks row rejections as Permanent.
func (e *RowError) ErrorKind() types.ErrorKind {
	return types.ErrorPermanent
}
