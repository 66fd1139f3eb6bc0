package pipeline

import (
	"context"

	"github.com/jonathan/outreach-agent/internal/types"
)

// ContactDiscoverer finds people at a company from its profile page.
// Errors should be *ScrapeError (or anything stage.Classify understands).
type ContactDiscoverer interface {
	DiscoverContacts(ctx context.Context, profileURL string) ([]types.Contact, error)
}

// EmailResolver infers a contact's address at the company domain.
type EmailResolver interface {
	ResolveEmail(ctx context.Context, fullName, domain string) (email string, confidence float64, err error)
}

// MessageDrafter writes a personalized subject and body for one contact.
type MessageDrafter interface {
	DraftMessage(ctx context.Context, contact types.Contact, company *types.CompanyRecord) (subject, body string, err error)
}

// ResumeSelector picks the resume file best suited to a contact.
type ResumeSelector interface {
	SelectResume(ctx context.Context, contact types.Contact, company *types.CompanyRecord) (path string, err error)
}

// MessageDeliverer sends one message with an optional attachment.
type MessageDeliverer interface {
	DeliverMessage(ctx context.Context, to, subject, body, attachmentPath string) error
}

// CompanySource supplies the input company list.
type CompanySource interface {
	LoadCompanies(ctx context.Context) ([]types.CompanyRow, error)
}
