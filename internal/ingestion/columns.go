package ingestion

import (
	"regexp"
	"strings"
)

// field identifies which CompanyRow field a column feeds.
type field int

const (
	fieldUnknown field = iota
	fieldName
	fieldWebsite
	fieldProfileURL
	fieldIndustry
	fieldLocation
	fieldDescription
)

// headerAliases maps normalized header text to a field.
var headerAliases = map[string]field{
	"company":            fieldName,
	"companyname":        fieldName,
	"name":               fieldName,
	"organization":       fieldName,
	"website":            fieldWebsite,
	"companywebsite":     fieldWebsite,
	"url":                fieldWebsite,
	"domain":             fieldWebsite,
	"companylinkedinurl": fieldProfileURL,
	"linkedinurl":        fieldProfileURL,
	"linkedin":           fieldProfileURL,
	"profileurl":         fieldProfileURL,
	"companyprofile":     fieldProfileURL,
	"industry":           fieldIndustry,
	"sector":             fieldIndustry,
	"location":           fieldLocation,
	"headquarters":       fieldLocation,
	"hq":                 fieldLocation,
	"companylocation":    fieldLocation,
	"description":        fieldDescription,
	"about":              fieldDescription,
	"companydescription": fieldDescription,
	"shortdescription":   fieldDescription,
}

var headerNoise = regexp.MustCompile(`[^a-z]`)

// columnMap records the column index of each recognized field.
type columnMap map[field]int

// mapHeader recognizes the columns of a header row. ok is false unless a name column is present.
func mapHeader(cells []string) (columnMap, bool) {
	cols := columnMap{}
	for i, cell := range cells {
		key := headerNoise.ReplaceAllString(strings.ToLower(cell), "")
		f, known := headerAliases[key]
		if !known {
			continue
		}
		if _, taken := cols[f]; !taken {
			cols[f] = i
		}
	}
	_, hasName := cols[fieldName]
	return cols, hasName
}

// get returns the cleaned cell value for f, or "".
func (c columnMap) get(cells []string, f field) string {
	i, ok := c[f]
	if !ok || i >= len(cells) {
		return ""
	}
	return CleanCell(cells[i])
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// CleanCell normalizes a spreadsheet cell: line endings and whitespace runs collapse to single spaces.
func CleanCell(value string) string {
	value = strings.ReplaceAll(value, "\r\n", "\n")
	value = strings.ReplaceAll(value, "\u00a0", " ")
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(value, " "))
}

func isBlankRow(cells []string) bool {
	for _, cell := range cells {
		if CleanCell(cell) != "" {
			return false
		}
	}
	return true
}
