package emailfinder

import (
	"strings"
	"unicode"
)

// credentialSuffixes are dropped from the end of a full name.
var credentialSuffixes = map[string]bool{
	"phd": true, "ph.d.": true, "mba": true, "md": true, "jr": true, "jr.": true,
	"sr": true, "sr.": true, "ii": true, "iii": true, "cpa": true, "pe": true,
}

// SplitName returns lowercase ASCII first and last names. It reports false when the name
// does not have at least two usable parts.
func SplitName(fullName string) (first, last string, ok bool) {
	fullName = strings.Split(fullName, ",")[0]
	fullName = strings.Split(fullName, "(")[0]

	var parts []string
	for _, p := range strings.Fields(fullName) {
		clean := asciiName(p)
		if clean == "" || credentialSuffixes[strings.ToLower(p)] || credentialSuffixes[clean] {
			continue
		}
		parts = append(parts, clean)
	}
	if len(parts) < 2 {
		return "", "", false
	}
	return parts[0], parts[len(parts)-1], true
}

// Permutations returns the candidate local-part patterns for first/last at domain, most
// common first.
func Permutations(first, last, domain string) []string {
	f := first[:1]
	l := last[:1]
	locals := []string{
		first + "." + last,
		first,
		first + last,
		last + "." + first,
		f + last,
		first + l,
		f + "." + last,
		first + "-" + last,
		last + first,
		first + "_" + last,
		f + l,
	}
	out := make([]string, len(locals))
	for i, local := range locals {
		out[i] = local + "@" + domain
	}
	return out
}

// ApplyPattern renders a provider pattern such as "{first}.{last}" or "{f}{last}".
// It returns "" for an empty pattern.
func ApplyPattern(pattern, first, last, domain string) string {
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	if pattern == "" {
		return ""
	}
	r := strings.NewReplacer(
		"{first}", first,
		"{last}", last,
		"{f}", first[:1],
		"{l}", last[:1],
	)
	local := r.Replace(pattern)
	if i := strings.Index(local, "@"); i >= 0 {
		local = local[:i]
	}
	if strings.ContainsAny(local, "{}") || local == "" {
		return ""
	}
	return local + "@" + domain
}

var foldings = map[rune]string{
	'á': "a", 'à': "a", 'â': "a", 'ä': "a", 'ã': "a", 'å': "a",
	'é': "e", 'è': "e", 'ê': "e", 'ë': "e",
	'í': "i", 'ì': "i", 'î': "i", 'ï': "i",
	'ó': "o", 'ò': "o", 'ô': "o", 'ö': "o", 'õ': "o", 'ø': "o",
	'ú': "u", 'ù': "u", 'û': "u", 'ü': "u",
	'ñ': "n", 'ç': "c", 'ß': "ss",
}

// asciiName lowercases, folds common accents and drops anything that cannot appear
// in a mailbox name.
func asciiName(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case foldings[r] != "":
			b.WriteString(foldings[r])
		case r == '\'' || r == '’' || r == '.' || unicode.IsSpace(r):
		case r == '-':
			b.WriteRune(r)
		}
	}
	return strings.Trim(b.String(), "-")
}
