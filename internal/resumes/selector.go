package resumes

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/jonathan/outreach-agent/internal/llm"
	"github.com/jonathan/outreach-agent/internal/pipeline"
	"github.com/jonathan/outreach-agent/internal/prompts"
	"github.com/jonathan/outreach-agent/internal/schemas"
	"github.com/jonathan/outreach-agent/internal/stage"
	"github.com/jonathan/outreach-agent/internal/types"
)

// roleKeywords are matched against file names when the LLM cannot decide.
var roleKeywords = map[types.RoleCategory][]string{
	types.RoleLeadership: {"general", "leadership", "product", "engineering"},
	types.RoleDataAI:     {"data", "ml", "ai", "machine", "learning", "analytics", "science", "scientist"},
	types.RoleRecruiter:  {"general", "engineer", "engineering"},
}

type choice struct {
	File   string `json:"file"`
	Reason string `json:"reason"`
}

// Selector implements pipeline.ResumeSelector over a scanned catalog.
type Selector struct {
	client  llm.Client
	catalog []Resume
	logger  *zap.Logger
}

// NewSelector creates a Selector. A nil client skips straight to keyword matching.
func NewSelector(client llm.Client, catalog []Resume, logger *zap.Logger) *Selector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Selector{client: client, catalog: catalog, logger: logger}
}

// Catalog returns the files the selector chooses from.
func (s *Selector) Catalog() []Resume {
	return s.catalog
}

// SelectResume returns the path of the resume to attach for contact.
func (s *Selector) SelectResume(ctx context.Context, contact types.Contact, company *types.CompanyRecord) (string, error) {
	switch len(s.catalog) {
	case 0:
		return "", pipeline.NewSelectionError(stage.Permanent, "no resumes available", stage.ErrEmptyResult)
	case 1:
		return s.catalog[0].Path, nil
	}

	if s.client != nil {
		resume, err := s.askLLM(ctx, contact, company)
		if err == nil {
			return resume.Path, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		s.logger.Debug("resumes: llm choice unusable, matching keywords",
			zap.String("company", company.ID), zap.Error(err))
	}

	resume := s.matchKeywords(contact, company)
	return resume.Path, nil
}

func (s *Selector) askLLM(ctx context.Context, contact types.Contact, company *types.CompanyRecord) (Resume, error) {
	var files strings.Builder
	for _, r := range s.catalog {
		fmt.Fprintf(&files, "- %s (%s)\n", r.Name, strings.Join(r.Keywords, " "))
	}

	prompt, err := prompts.Render("resumes.json", "choose-resume", map[string]string{
		"ContactTitle":   contact.Title,
		"RoleCategory":   string(contact.RoleCategory),
		"CompanyName":    company.Name,
		"Industry":       company.Industry,
		"CompanyContext": company.Description,
		"Files":          strings.TrimRight(files.String(), "\n"),
	})
	if err != nil {
		return Resume{}, err
	}

	raw, err := s.client.GenerateJSON(ctx, prompt, llm.TierLite)
	if err != nil {
		return Resume{}, err
	}
	if err := schemas.Validate(schemas.ResumeChoice, raw); err != nil {
		return Resume{}, err
	}
	var c choice
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return Resume{}, err
	}
	resume, ok := s.lookup(c.File)
	if !ok {
		return Resume{}, fmt.Errorf("model chose %q, which is not in the catalog", c.File)
	}
	s.logger.Debug("resumes: llm choice", zap.String("file", resume.Name), zap.String("reason", c.Reason))
	return resume, nil
}

// lookup matches the exact file name first, then a unique partial match.
func (s *Selector) lookup(name string) (Resume, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return Resume{}, false
	}
	for _, r := range s.catalog {
		if strings.ToLower(r.Name) == name {
			return r, true
		}
	}
	var found []Resume
	for _, r := range s.catalog {
		if strings.Contains(strings.ToLower(r.Name), name) {
			found = append(found, r)
		}
	}
	if len(found) == 1 {
		return found[0], true
	}
	return Resume{}, false
}

// matchKeywords scores each file by how many query words appear in its name. Ties and
// all-zero scores go to the first file in name order.
func (s *Selector) matchKeywords(contact types.Contact, company *types.CompanyRecord) Resume {
	query := make(map[string]bool)
	for _, w := range roleKeywords[contact.RoleCategory] {
		query[w] = true
	}
	for _, w := range Keywords(contact.Title + " " + company.Industry) {
		query[w] = true
	}

	best, bestScore := s.catalog[0], 0
	for _, r := range s.catalog {
		score := 0
		for _, k := range r.Keywords {
			if query[k] {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = r, score
		}
	}
	return best
}
