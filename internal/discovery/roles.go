package discovery

import (
	"regexp"
	"strings"

	"github.com/jonathan/outreach-agent/internal/types"
)

// roleKeywords lists title keywords per category, in category priority order.
var roleKeywords = []struct {
	category types.RoleCategory
	keywords []string
}{
	{types.RoleLeadership, []string{"ceo", "chief executive", "founder", "co-founder", "cofounder", "president"}},
	{types.RoleDataAI, []string{"head of data", "data science", "data scientist", "machine learning", "ml", "ai", "artificial intelligence", "chief data", "data officer"}},
	{types.RoleRecruiter, []string{"talent", "recruit", "hiring", "hr", "human resources", "people operations"}},
}

// shortKeyword matches keywords that must stand alone ("ai" must not match "chair").
var shortKeyword = regexp.MustCompile(`^[a-z]{1,3}$`)

// Categorize maps a job title onto a role category. The first category whose keywords
// appear in the title wins.
func Categorize(title string) (types.RoleCategory, bool) {
	lower := strings.ToLower(title)
	words := titleWords(lower)
	for _, role := range roleKeywords {
		for _, kw := range role.keywords {
			if shortKeyword.MatchString(kw) {
				if words[kw] {
					return role.category, true
				}
				continue
			}
			if strings.Contains(lower, kw) {
				return role.category, true
			}
		}
	}
	return "", false
}

// titlePriority orders people inside a category; lower is better.
func titlePriority(title string) int {
	lower := strings.ToLower(title)
	switch {
	case strings.Contains(lower, "ceo") || strings.Contains(lower, "chief executive"):
		return 0
	case strings.Contains(lower, "founder"):
		return 1
	case strings.Contains(lower, "head of data") || strings.Contains(lower, "chief data"):
		return 2
	case strings.Contains(lower, "head") || strings.Contains(lower, "director") || strings.Contains(lower, "lead"):
		return 3
	default:
		return 4
	}
}

func titleWords(lower string) map[string]bool {
	fields := strings.FieldsFunc(lower, func(r rune) bool {
		return (r < 'a' || r > 'z') && (r < '0' || r > '9')
	})
	words := make(map[string]bool, len(fields))
	for _, f := range fields {
		words[f] = true
	}
	return words
}
