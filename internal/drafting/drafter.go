// Package drafting writes personalized outreach emails with the LLM, adjusting the angle
// to the recipient's role category.
package drafting

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/jonathan/outreach-agent/internal/fetch"
	"github.com/jonathan/outreach-agent/internal/llm"
	"github.com/jonathan/outreach-agent/internal/pipeline"
	"github.com/jonathan/outreach-agent/internal/prompts"
	"github.com/jonathan/outreach-agent/internal/schemas"
	"github.com/jonathan/outreach-agent/internal/stage"
	"github.com/jonathan/outreach-agent/internal/types"
)

const promptFile = "drafting.json"

// maxContextChars bounds the website text placed in the prompt.
const maxContextChars = 1500

// placeholderPattern catches template leftovers such as "[Your Name]" or "[Company]".
var placeholderPattern = regexp.MustCompile(`\[[A-Z][A-Za-z ]{1,30}\]`)

// WebsiteTexter extracts readable text from a page. *fetch.Fetcher implements it.
type WebsiteTexter interface {
	Text(ctx context.Context, url string, selectors []string) (string, error)
}

// Options configure a Drafter.
type Options struct {
	CandidateName string
	Highlights    []string
	// Website, when set, is used to describe companies that have no description.
	Website WebsiteTexter
}

// Drafter implements pipeline.MessageDrafter.
type Drafter struct {
	client llm.Client
	opts   Options
	logger *zap.Logger

	mu       sync.Mutex
	contexts map[string]string
}

type draft struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// New creates a Drafter.
func New(client llm.Client, opts Options, logger *zap.Logger) *Drafter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Drafter{
		client:   client,
		opts:     opts,
		logger:   logger,
		contexts: make(map[string]string),
	}
}

// DraftMessage returns a subject and plain-text body addressed to contact.
func (d *Drafter) DraftMessage(ctx context.Context, contact types.Contact, company *types.CompanyRecord) (string, string, error) {
	prompt, err := d.buildPrompt(ctx, contact, company)
	if err != nil {
		return "", "", pipeline.NewGenerationError(stage.Permanent, "failed to build prompt", err)
	}

	raw, err := d.client.GenerateJSON(ctx, prompt, llm.TierStandard)
	if err != nil {
		return "", "", pipeline.NewGenerationError(stage.Classify(err), "llm request failed", err)
	}

	// malformed output is worth another attempt; the model is not deterministic
	if err := schemas.Validate(schemas.Draft, raw); err != nil {
		return "", "", pipeline.NewGenerationError(stage.Transient, "draft did not match schema", err)
	}
	var out draft
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return "", "", pipeline.NewGenerationError(stage.Transient, "failed to parse draft", err)
	}

	subject := strings.TrimSpace(out.Subject)
	body := strings.TrimSpace(out.Body)
	if match := placeholderPattern.FindString(subject + "\n" + body); match != "" {
		return "", "", pipeline.NewGenerationError(stage.Transient, fmt.Sprintf("draft contains placeholder %s", match), nil)
	}

	d.logger.Debug("drafting: message drafted",
		zap.String("company", company.ID),
		zap.String("role", string(contact.RoleCategory)),
		zap.Int("body_chars", len(body)),
	)
	return subject, body, nil
}

func (d *Drafter) buildPrompt(ctx context.Context, contact types.Contact, company *types.CompanyRecord) (string, error) {
	roleHint, err := prompts.Get(promptFile, "role-"+string(contact.RoleCategory))
	if err != nil {
		return "", err
	}
	return prompts.Render(promptFile, "draft-message", map[string]string{
		"CandidateName":    d.opts.CandidateName,
		"Highlights":       formatHighlights(d.opts.Highlights),
		"ContactName":      contact.FullName,
		"ContactFirstName": contact.FirstName(),
		"ContactTitle":     contact.Title,
		"RoleHint":         roleHint,
		"CompanyName":      company.Name,
		"Industry":         company.Industry,
		"Location":         company.Location,
		"CompanyContext":   d.companyContext(ctx, company),
	})
}

// companyContext prefers the input description and falls back to the company website.
// Website text is fetched once per company; failures leave the context empty.
func (d *Drafter) companyContext(ctx context.Context, company *types.CompanyRecord) string {
	if company.Description != "" {
		return truncate(company.Description, maxContextChars)
	}
	if d.opts.Website == nil || company.Website == "" {
		return ""
	}

	d.mu.Lock()
	cached, ok := d.contexts[company.ID]
	d.mu.Unlock()
	if ok {
		return cached
	}

	text, err := d.opts.Website.Text(ctx, websiteURL(company.Website), fetch.CompanyPageSelectors())
	if err != nil {
		d.logger.Debug("drafting: website text unavailable", zap.String("company", company.ID), zap.Error(err))
		text = ""
	}
	text = truncate(text, maxContextChars)

	d.mu.Lock()
	d.contexts[company.ID] = text
	d.mu.Unlock()
	return text
}

func formatHighlights(highlights []string) string {
	if len(highlights) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, h := range highlights {
		if h = strings.TrimSpace(h); h != "" {
			sb.WriteString("- ")
			sb.WriteString(h)
			sb.WriteString("\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func websiteURL(website string) string {
	if strings.HasPrefix(website, "http://") || strings.HasPrefix(website, "https://") {
		return website
	}
	return "https://" + website
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return strings.TrimSpace(string(runes[:n])) + "..."
}
