//nolint:revive // types is a standard Go package name pattern
package types

import (
	"sort"
	"strings"
	"time"
)

// RoleCategory groups contacts by the kind of role they hold.
type RoleCategory string

// Role categories in the order contacts are kept for a company.
const (
	RoleLeadership RoleCategory = "leadership"
	RoleDataAI     RoleCategory = "data_ai"
	RoleRecruiter  RoleCategory = "recruiter"
)

// RoleCategories lists the categories in preference order.
var RoleCategories = []RoleCategory{RoleLeadership, RoleDataAI, RoleRecruiter}

// MaxContactsPerCompany caps the number of contacts kept per company (one per category).
const MaxContactsPerCompany = 3

// Contact is a person at a target company.
type Contact struct {
	// Position is the discovery order index; it never changes once assigned.
	Position     int          `json:"position"`
	RoleCategory RoleCategory `json:"role_category"`
	FullName     string       `json:"full_name"`
	Title        string       `json:"title"`
	ProfileURL   string       `json:"profile_url,omitempty"`

	Email           string  `json:"email,omitempty"`
	EmailConfidence float64 `json:"email_confidence,omitempty"`

	DraftSubject string `json:"draft_subject,omitempty"`
	DraftBody    string `json:"draft_body,omitempty"`

	SelectedResumePath string `json:"selected_resume_path,omitempty"`
	ResumeFallback     bool   `json:"resume_fallback,omitempty"`

	Sent      bool       `json:"sent"`
	SentAt    *time.Time `json:"sent_at,omitempty"`
	SendError string     `json:"send_error,omitempty"`
}

// FirstName returns the first whitespace-separated token of the full name.
func (c Contact) FirstName() string {
	parts := strings.Fields(c.FullName)
	if len(parts) == 0 {
		return ""
	}
	return parts[0]
}

// SortContacts orders contacts by discovery position.
func SortContacts(contacts []Contact) {
	sort.SliceStable(contacts, func(i, j int) bool {
		return contacts[i].Position < contacts[j].Position
	})
}

// AssignPositions numbers contacts 0..n-1 in their current order.
func AssignPositions(contacts []Contact) {
	for i := range contacts {
		contacts[i].Position = i
	}
}
