// Package types provides type definitions for structured data used throughout the outreach agent.
//
//nolint:revive // types is a standard Go package name pattern
package types

import (
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Status is the processing state of a company in the outreach ledger.
type Status string

// Pipeline statuses in their fixed forward order, followed by the terminal outcomes.
const (
	StatusPending        Status = "pending"
	StatusContactsFound  Status = "contacts_found"
	StatusEmailResolved  Status = "email_resolved"
	StatusMessageDrafted Status = "message_drafted"
	StatusResumeSelected Status = "resume_selected"
	StatusSent           Status = "sent"
	StatusSkipped        Status = "skipped"
	StatusFailed         Status = "failed"
)

// stageOrder gives each non-terminal status (plus Sent) its position in the pipeline.
var stageOrder = map[Status]int{
	StatusPending:        0,
	StatusContactsFound:  1,
	StatusEmailResolved:  2,
	StatusMessageDrafted: 3,
	StatusResumeSelected: 4,
	StatusSent:           5,
}

// AllStatuses lists every status in display order.
var AllStatuses = []Status{
	StatusPending,
	StatusContactsFound,
	StatusEmailResolved,
	StatusMessageDrafted,
	StatusResumeSelected,
	StatusSent,
	StatusSkipped,
	StatusFailed,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further stage runs for this status.
func (s Status) IsTerminal() bool {
	return s == StatusSent || s == StatusSkipped || s == StatusFailed
}

// CanTransitionTo reports whether moving from s to next respects the ledger invariant:
// statuses only move forward through the fixed order, or into Skipped/Failed.
// Failed may resume at any non-terminal status (retry).
func (s Status) CanTransitionTo(next Status) bool {
	if next == StatusSkipped || next == StatusFailed {
		return s != StatusSent && s != StatusSkipped
	}
	if s == StatusFailed {
		_, ok := stageOrder[next]
		return ok
	}
	from, okFrom := stageOrder[s]
	to, okTo := stageOrder[next]
	if !okFrom || !okTo {
		return false
	}
	return to > from
}

// ErrorKind classifies a failure for retry purposes.
type ErrorKind string

// Error kinds shared by stage executors, collaborators and the ledger.
const (
	ErrorTransient   ErrorKind = "transient"
	ErrorPermanent   ErrorKind = "permanent"
	ErrorRateLimited ErrorKind = "rate_limited"
	ErrorFatal       ErrorKind = "fatal"
)

// Retryable reports whether a failure of this kind may be retried.
func (k ErrorKind) Retryable() bool {
	return k == ErrorTransient || k == ErrorRateLimited
}

// FailureReason records why a company ended in StatusFailed.
type FailureReason struct {
	Kind    ErrorKind `json:"kind"`
	Stage   string    `json:"stage,omitempty"`
	Message string    `json:"message"`
}

// CompanyRecord is the ledger entry for one target company.
type CompanyRecord struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Website     string `json:"website,omitempty"`
	ProfileURL  string `json:"profile_url,omitempty"`
	Industry    string `json:"industry,omitempty"`
	Location    string `json:"location,omitempty"`
	Description string `json:"description,omitempty"`

	Status        Status         `json:"status"`
	Contacts      []Contact      `json:"contacts"`
	FailureReason *FailureReason `json:"failure_reason,omitempty"`
	SkipReason    string         `json:"skip_reason,omitempty"`
	Attempts      map[string]int `json:"attempts,omitempty"`

	// ResumeFrom is the last status reached before the record failed.
	ResumeFrom Status `json:"resume_from,omitempty"`
	// SentTo holds every address this company has ever been mailed at, across resets.
	SentTo []string `json:"sent_to,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewCompanyRecord creates a Pending record from a validated input row.
func NewCompanyRecord(row CompanyRow, now time.Time) *CompanyRecord {
	return &CompanyRecord{
		ID:          row.ID(),
		Name:        strings.TrimSpace(row.Name),
		Website:     strings.TrimSpace(row.Website),
		ProfileURL:  strings.TrimSpace(row.ProfileURL),
		Industry:    strings.TrimSpace(row.Industry),
		Location:    strings.TrimSpace(row.Location),
		Description: strings.TrimSpace(row.Description),
		Status:      StatusPending,
		Contacts:    []Contact{},
		Attempts:    map[string]int{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Clone returns a deep copy so callers can stage changes without touching persisted state.
func (r *CompanyRecord) Clone() *CompanyRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.Contacts = make([]Contact, len(r.Contacts))
	copy(out.Contacts, r.Contacts)
	if r.FailureReason != nil {
		reason := *r.FailureReason
		out.FailureReason = &reason
	}
	out.Attempts = make(map[string]int, len(r.Attempts))
	for k, v := range r.Attempts {
		out.Attempts[k] = v
	}
	if r.SentTo != nil {
		out.SentTo = append([]string(nil), r.SentTo...)
	}
	return &out
}

// Domain returns the company's mail domain derived from its website.
func (r *CompanyRecord) Domain() string {
	return ExtractDomain(r.Website)
}

// SentCount returns the number of contacts marked sent.
func (r *CompanyRecord) SentCount() int {
	count := 0
	for _, c := range r.Contacts {
		if c.Sent {
			count++
		}
	}
	return count
}

// AlreadySentTo reports whether the address appears in the company's send history.
func (r *CompanyRecord) AlreadySentTo(email string) bool {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return false
	}
	for _, sent := range r.SentTo {
		if strings.EqualFold(sent, email) {
			return true
		}
	}
	return false
}

// ResetForRerun moves the record back to Pending, keeping its send history.
func (r *CompanyRecord) ResetForRerun(now time.Time) {
	r.Status = StatusPending
	r.Contacts = []Contact{}
	r.FailureReason = nil
	r.SkipReason = ""
	r.ResumeFrom = ""
	r.Attempts = map[string]int{}
	r.UpdatedAt = now
}

// CompanyRow is one raw company row as read from the input spreadsheet.
type CompanyRow struct {
	Row         int    `json:"row"`
	Name        string `json:"name" validate:"required"`
	Website     string `json:"website" validate:"required"`
	ProfileURL  string `json:"profile_url" validate:"omitempty,url"`
	Industry    string `json:"industry,omitempty"`
	Location    string `json:"location,omitempty"`
	Description string `json:"description,omitempty"`
}

var rowValidator = validator.New()

// Validate checks required fields and URL shapes.
func (r *CompanyRow) Validate() error {
	if err := rowValidator.Struct(r); err != nil {
		return err
	}
	if ExtractDomain(r.Website) == "" {
		return &validationError{field: "Website", message: "no domain in " + r.Website}
	}
	return nil
}

// ID derives the stable ledger key from normalized name and website domain.
func (r *CompanyRow) ID() string {
	return CompanyID(r.Name, r.Website)
}

type validationError struct {
	field   string
	message string
}

func (e *validationError) Error() string {
	return e.field + ": " + e.message
}

var nonAlphanumeric = regexp.MustCompile(`[^a-z0-9]`)

// NormalizeName lowercases a company name and strips everything but letters and digits.
func NormalizeName(name string) string {
	return nonAlphanumeric.ReplaceAllString(strings.ToLower(name), "")
}

// CompanyID builds the ledger key "normalizedname@domain".
func CompanyID(name, website string) string {
	normalized := NormalizeName(name)
	domain := ExtractDomain(website)
	if domain == "" {
		return normalized
	}
	return normalized + "@" + domain
}

// ExtractDomain returns the bare host of a website: no scheme, "www." prefix, port or path.
func ExtractDomain(website string) string {
	website = strings.TrimSpace(strings.ToLower(website))
	if website == "" {
		return ""
	}
	if !strings.Contains(website, "://") {
		website = "https://" + website
	}
	parsed, err := url.Parse(website)
	if err != nil {
		return ""
	}
	host := parsed.Hostname()
	host = strings.TrimPrefix(host, "www.")
	if !strings.Contains(host, ".") {
		return ""
	}
	return host
}
