package discovery

import (
	"net/url"
	"strings"
)

const linkedInCompanyBase = "https://www.linkedin.com/company/"

// NormalizeProfileURL turns a company handle, bare host path or full URL into
// "https://www.linkedin.com/company/<slug>/". It returns "" when no slug can be found.
func NormalizeProfileURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "linkedin.com") {
		slug := strings.Trim(raw, "/")
		if strings.Contains(slug, "/") || strings.Contains(slug, " ") {
			return ""
		}
		return linkedInCompanyBase + slug + "/"
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) >= 2 && (parts[0] == "company" || parts[0] == "school" || parts[0] == "showcase") {
		return linkedInCompanyBase + parts[1] + "/"
	}
	if len(parts) == 1 && parts[0] != "" {
		return linkedInCompanyBase + parts[0] + "/"
	}
	return ""
}

// PeopleURL returns the people page for a normalized profile URL, optionally filtered
// by a keyword search.
func PeopleURL(profileURL, keywords string) string {
	base := strings.TrimSuffix(profileURL, "/") + "/people/"
	if keywords == "" {
		return base
	}
	return base + "?keywords=" + url.QueryEscape(keywords)
}
