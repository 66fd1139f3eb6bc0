// Package report exports a run summary and the ledger records to .xlsx or .json.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/jonathan/outreach-agent/internal/runner"
	"github.com/jonathan/outreach-agent/internal/types"
)

// Sheet names in the workbook.
const (
	SheetSummary   = "Summary"
	SheetCompanies = "Companies"
	SheetContacts  = "Contacts"
	SheetRejected  = "Rejected"
)

// Document is the JSON report layout.
type Document struct {
	Summary   *runner.Summary        `json:"summary"`
	Rejected  []RejectedRow          `json:"rejected,omitempty"`
	Companies []*types.CompanyRecord `json:"companies"`
}

// RejectedRow is an input row that failed validation.
type RejectedRow struct {
	Row     int    `json:"row"`
	Company string `json:"company,omitempty"`
	Reason  string `json:"reason"`
}

// Write exports to path, choosing the format from its extension (.xlsx or .json).
func Write(path string, summary *runner.Summary, records []*types.CompanyRecord) error {
	if summary == nil {
		return fmt.Errorf("report: summary is required")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("report: failed to create directory: %w", err)
		}
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return writeWorkbook(path, summary, records)
	case ".json":
		return writeJSON(path, summary, records)
	default:
		return fmt.Errorf("report: unsupported format %q (use .xlsx or .json)", filepath.Ext(path))
	}
}

func rejectedRows(summary *runner.Summary) []RejectedRow {
	out := make([]RejectedRow, 0, len(summary.Rejected))
	for _, r := range summary.Rejected {
		out = append(out, RejectedRow{Row: r.Row, Company: r.Company, Reason: r.Message})
	}
	return out
}

func writeJSON(path string, summary *runner.Summary, records []*types.CompanyRecord) error {
	doc := Document{Summary: summary, Rejected: rejectedRows(summary), Companies: records}
	if doc.Companies == nil {
		doc.Companies = []*types.CompanyRecord{}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("report: failed to encode: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("report: failed to write %s: %w", path, err)
	}
	return nil
}

func writeWorkbook(path string, summary *runner.Summary, records []*types.CompanyRecord) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	// the default sheet becomes the summary
	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		return fmt.Errorf("report: %w", err)
	}
	for _, sheet := range []string{SheetCompanies, SheetContacts, SheetRejected} {
		if _, err := f.NewSheet(sheet); err != nil {
			return fmt.Errorf("report: failed to add sheet %s: %w", sheet, err)
		}
	}

	writeSummarySheet(f, summary)
	writeCompaniesSheet(f, records)
	writeContactsSheet(f, records)
	writeRejectedSheet(f, rejectedRows(summary))

	if index, err := f.GetSheetIndex(SheetSummary); err == nil {
		f.SetActiveSheet(index)
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("report: failed to save %s: %w", path, err)
	}
	return nil
}

func writeRow(f *excelize.File, sheet string, row int, values ...any) {
	cell, _ := excelize.CoordinatesToCellName(1, row)
	_ = f.SetSheetRow(sheet, cell, &values)
}

func writeSummarySheet(f *excelize.File, s *runner.Summary) {
	rows := [][]any{
		{"Run ID", s.RunID},
		{"Started", s.StartedAt.Format(time.RFC3339)},
		{"Finished", s.FinishedAt.Format(time.RFC3339)},
		{"Dry run", s.DryRun},
		{"Loaded", s.Loaded},
		{"Inserted", s.Inserted},
		{"Reset", s.Reset},
		{"Processed", s.Processed},
		{"Remaining", s.Remaining},
		{"Stopped", s.Stopped},
		{"Messages sent", s.MessagesSent},
	}
	for _, status := range types.AllStatuses {
		rows = append(rows, []any{"Status " + string(status), s.Count(status)})
	}
	for i, r := range rows {
		writeRow(f, SheetSummary, i+1, r...)
	}
	_ = f.SetColWidth(SheetSummary, "A", "A", 22)
	_ = f.SetColWidth(SheetSummary, "B", "B", 40)
}

func writeCompaniesSheet(f *excelize.File, records []*types.CompanyRecord) {
	writeRow(f, SheetCompanies, 1, "ID", "Company", "Website", "Location", "Status", "Contacts", "Sent", "Reason", "Updated")
	for i, rec := range records {
		reason := rec.SkipReason
		if rec.FailureReason != nil {
			reason = fmt.Sprintf("%s: %s", rec.FailureReason.Kind, rec.FailureReason.Message)
		}
		writeRow(f, SheetCompanies, i+2,
			rec.ID, rec.Name, rec.Website, rec.Location, string(rec.Status),
			len(rec.Contacts), rec.SentCount(), reason, rec.UpdatedAt.Format(time.RFC3339))
	}
	_ = f.SetColWidth(SheetCompanies, "A", "B", 28)
	_ = f.SetColWidth(SheetCompanies, "H", "H", 40)
}

func writeContactsSheet(f *excelize.File, records []*types.CompanyRecord) {
	writeRow(f, SheetContacts, 1, "Company", "Position", "Name", "Title", "Role", "Email", "Confidence", "Resume", "Fallback", "Sent", "Sent At", "Error", "Subject")
	row := 2
	for _, rec := range records {
		for _, c := range rec.Contacts {
			sentAt := ""
			if c.SentAt != nil {
				sentAt = c.SentAt.Format(time.RFC3339)
			}
			writeRow(f, SheetContacts, row,
				rec.Name, c.Position, c.FullName, c.Title, string(c.RoleCategory), c.Email, c.EmailConfidence,
				resumeName(c.SelectedResumePath), c.ResumeFallback, c.Sent, sentAt, c.SendError, c.DraftSubject)
			row++
		}
	}
	_ = f.SetColWidth(SheetContacts, "A", "D", 24)
	_ = f.SetColWidth(SheetContacts, "F", "F", 30)
}

func writeRejectedSheet(f *excelize.File, rows []RejectedRow) {
	writeRow(f, SheetRejected, 1, "Row", "Company", "Reason")
	for i, r := range rows {
		writeRow(f, SheetRejected, i+2, r.Row, r.Company, r.Reason)
	}
	_ = f.SetColWidth(SheetRejected, "C", "C", 60)
}

func resumeName(path string) string {
	if path == "" {
		return ""
	}
	return filepath.Base(path)
}
