// Package observability provides formatted output utilities for the CLI: progress lines,
// the run summary and ledger status tables.
package observability

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/jonathan/outreach-agent/internal/pipeline"
	"github.com/jonathan/outreach-agent/internal/runner"
	"github.com/jonathan/outreach-agent/internal/types"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 5
)

// Printer handles formatted output for the CLI
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
	for _, line := range lines {
		if len([]rune(line)) > boxWidth-4 {
			line = string([]rune(line)[:boxWidth-7]) + "..."
		}
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, line)
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// PrintProgress writes one line per persisted transition.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintProgress(event pipeline.ProgressEvent) {
	name := event.Company
	if name == "" {
		name = event.CompanyID
	}
	fmt.Fprintf(p.out, "  %-24s %-16s %s\n", truncate(name, 24), event.Status, event.Message)
}

// PrintRunSummary outputs the outcome of a run.
func (p *Printer) PrintRunSummary(s *runner.Summary) {
	if s == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Run:        %s\n", s.RunID))
	sb.WriteString(fmt.Sprintf("Duration:   %s\n", s.Duration().Round(time.Second)))
	sb.WriteString(fmt.Sprintf("Loaded:     %d (%d new, %d reset)\n", s.Loaded, s.Inserted, s.Reset))
	sb.WriteString(fmt.Sprintf("Processed:  %d, remaining %d\n", s.Processed, s.Remaining))
	sb.WriteString(fmt.Sprintf("Sent:       %d message(s)\n", s.MessagesSent))
	if s.Stopped {
		sb.WriteString("Stopped early on request\n")
	}
	sb.WriteString("\n")

	sb.WriteString("Ledger:\n")
	for _, status := range types.AllStatuses {
		if n := s.Count(status); n > 0 {
			sb.WriteString(fmt.Sprintf("  • %-16s %d\n", status, n))
		}
	}

	if len(s.Failures) > 0 {
		sb.WriteString("\nFailures:\n")
		count := min(len(s.Failures), maxItemsToShow)
		for i := 0; i < count; i++ {
			f := s.Failures[i]
			sb.WriteString(fmt.Sprintf("  • %s: %s (%s)\n", f.Company, f.Reason, f.Kind))
		}
		if len(s.Failures) > maxItemsToShow {
			sb.WriteString(fmt.Sprintf("  ... and %d more\n", len(s.Failures)-maxItemsToShow))
		}
	}

	if len(s.Rejected) > 0 {
		sb.WriteString(fmt.Sprintf("\nRejected rows: %d\n", len(s.Rejected)))
		count := min(len(s.Rejected), maxItemsToShow)
		for i := 0; i < count; i++ {
			sb.WriteString(fmt.Sprintf("  • %s\n", s.Rejected[i].Error()))
		}
	}

	title := "RUN SUMMARY"
	if s.DryRun {
		title = "RUN SUMMARY (dry run)"
	}
	p.printBox(title, sb.String())
}

// PrintPlan lists the companies a dry run would hand to the orchestrator.
func (p *Printer) PrintPlan(s *runner.Summary) {
	if s == nil {
		return
	}
	var sb strings.Builder
	if len(s.Planned) == 0 {
		sb.WriteString("Nothing to process\n")
	}
	for i, id := range s.Planned {
		sb.WriteString(fmt.Sprintf("%3d. %s\n", i+1, id))
	}
	p.printBox(fmt.Sprintf("PLANNED COMPANIES (%d)", len(s.Planned)), sb.String())
}

// PrintStatusTable outputs per-status counts and the most recently updated companies.
func (p *Printer) PrintStatusTable(records []*types.CompanyRecord) {
	counts := make(map[types.Status]int)
	for _, rec := range records {
		counts[rec.Status]++
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Companies: %d\n\n", len(records)))
	for _, status := range types.AllStatuses {
		sb.WriteString(fmt.Sprintf("  %-16s %d\n", status, counts[status]))
	}

	recent := make([]*types.CompanyRecord, len(records))
	copy(recent, records)
	sort.SliceStable(recent, func(i, j int) bool {
		return recent[i].UpdatedAt.After(recent[j].UpdatedAt)
	})
	if len(recent) > 0 {
		sb.WriteString("\nRecently updated:\n")
		count := min(len(recent), maxItemsToShow)
		for i := 0; i < count; i++ {
			sb.WriteString(fmt.Sprintf("  • %-22s %s\n", truncate(recent[i].Name, 22), recent[i].Status))
		}
	}
	p.printBox("LEDGER STATUS", sb.String())
}

// PrintCompany outputs one ledger record with its contacts.
func (p *Printer) PrintCompany(rec *types.CompanyRecord) {
	if rec == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("ID:       %s\n", rec.ID))
	sb.WriteString(fmt.Sprintf("Status:   %s\n", rec.Status))
	if rec.Location != "" {
		sb.WriteString(fmt.Sprintf("Location: %s\n", rec.Location))
	}
	if rec.FailureReason != nil {
		sb.WriteString(fmt.Sprintf("Failed:   %s at %s (%s)\n", rec.FailureReason.Message, rec.FailureReason.Stage, rec.FailureReason.Kind))
	}
	if rec.SkipReason != "" {
		sb.WriteString(fmt.Sprintf("Skipped:  %s\n", rec.SkipReason))
	}

	if len(rec.Contacts) > 0 {
		sb.WriteString("\nContacts:\n")
		for _, c := range rec.Contacts {
			sb.WriteString(fmt.Sprintf("  %d. %s (%s)\n", c.Position+1, c.FullName, c.RoleCategory))
			if c.Email != "" {
				sb.WriteString(fmt.Sprintf("     %s [%.1f]\n", c.Email, c.EmailConfidence))
			}
			switch {
			case c.Sent:
				sb.WriteString("     ✓ sent\n")
			case c.SendError != "":
				sb.WriteString(fmt.Sprintf("     ✗ %s\n", c.SendError))
			}
		}
	}
	if len(rec.SentTo) > 0 {
		sb.WriteString(fmt.Sprintf("\nEver sent to: %s\n", strings.Join(rec.SentTo, ", ")))
	}
	p.printBox(strings.ToUpper(rec.Name), sb.String())
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
