package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jonathan/outreach-agent/internal/observability"
	"github.com/jonathan/outreach-agent/internal/types"
)

var companiesCommand = &cobra.Command{
	Use:   "companies [id]",
	Short: "List ledger companies, or show one company in detail",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCompaniesCmd,
}

var companiesStatus []string

func init() {
	companiesCommand.Flags().StringSliceVar(&companiesStatus, "status", nil, "Only list companies in these statuses (comma-separated)")
	rootCmd.AddCommand(companiesCommand)
}

func runCompaniesCmd(cmd *cobra.Command, args []string) error {
	statuses, err := parseStatuses(companiesStatus)
	if err != nil {
		return err
	}
	cfg, err := loadSettings(cmd, nil)
	if err != nil {
		return err
	}

	ctx := context.Background()
	store, err := openLedger(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if len(args) == 1 {
		rec, err := store.Get(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to read ledger: %w", err)
		}
		if rec == nil {
			return fmt.Errorf("company %q not found in ledger", args[0])
		}
		observability.NewPrinter(cmd.OutOrStdout()).PrintCompany(rec)
		return nil
	}

	var records []*types.CompanyRecord
	if lister, ok := store.(statusLister); ok && len(statuses) > 0 {
		records, err = lister.ListByStatus(ctx, statusList(statuses)...)
	} else {
		records, err = store.LoadAll(ctx)
	}
	if err != nil {
		return fmt.Errorf("failed to read ledger: %w", err)
	}
	listCompanies(cmd.OutOrStdout(), filterByStatus(records, statuses))
	return nil
}

// statusLister is implemented by ledgers that can filter by status themselves.
type statusLister interface {
	ListByStatus(ctx context.Context, statuses ...types.Status) ([]*types.CompanyRecord, error)
}

func statusList(statuses map[types.Status]bool) []types.Status {
	var out []types.Status
	for _, status := range types.AllStatuses {
		if statuses[status] {
			out = append(out, status)
		}
	}
	return out
}

//nolint:errcheck // writing to stdout; errors are not recoverable
func listCompanies(out io.Writer, records []*types.CompanyRecord) {
	if len(records) == 0 {
		fmt.Fprintln(out, "No companies.")
		return
	}
	for _, rec := range records {
		fmt.Fprintf(out, "%-16s %-3d %-40s %s\n", rec.Status, rec.SentCount(), rec.ID, rec.Name)
	}
}

func filterByStatus(records []*types.CompanyRecord, statuses map[types.Status]bool) []*types.CompanyRecord {
	if len(statuses) == 0 {
		return records
	}
	var out []*types.CompanyRecord
	for _, rec := range records {
		if statuses[rec.Status] {
			out = append(out, rec)
		}
	}
	return out
}

func parseStatuses(values []string) (map[types.Status]bool, error) {
	statuses := make(map[types.Status]bool, len(values))
	for _, v := range values {
		status := types.Status(v)
		if !status.Valid() {
			return nil, fmt.Errorf("unknown status %q", v)
		}
		statuses[status] = true
	}
	return statuses, nil
}
