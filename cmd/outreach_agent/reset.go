package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonathan/outreach-agent/internal/types"
)

var resetCommand = &cobra.Command{
	Use:   "reset [id...]",
	Short: "Move companies back to pending so the next run processes them again",
	Long: `Resets the named companies, or every company in the given statuses, to pending.

Contacts, drafts and failure details are cleared. The list of addresses already mailed is kept,
so a reset company is never sent a second message to the same person.`,
	RunE: runResetCmd,
}

var (
	resetStatus []string
	resetAll    bool
)

func init() {
	resetCommand.Flags().StringSliceVar(&resetStatus, "status", nil, "Reset every company in these statuses (comma-separated)")
	resetCommand.Flags().BoolVar(&resetAll, "all", false, "Reset every company in the ledger")
	rootCmd.AddCommand(resetCommand)
}

func runResetCmd(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && len(resetStatus) == 0 && !resetAll {
		return fmt.Errorf("specify company ids, --status or --all")
	}
	statuses, err := parseStatuses(resetStatus)
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

	records, err := store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to read ledger: %w", err)
	}

	reset, missing := selectForReset(records, args, statuses, resetAll)
	for _, id := range missing {
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "  ✗ %s: not found in ledger\n", id)
	}

	now := time.Now().UTC()
	for _, rec := range reset {
		from := rec.Status
		rec.ResetForRerun(now)
		if err := store.Upsert(ctx, rec); err != nil {
			return fmt.Errorf("failed to write ledger for %s: %w", rec.ID, err)
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "  ✓ %s: %s -> %s\n", rec.ID, from, rec.Status)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Reset %d company(ies).\n", len(reset))
	return nil
}

// selectForReset returns the records named by ids or matching statuses (or all of them),
// skipping those already pending, plus any ids the ledger does not know.
func selectForReset(records []*types.CompanyRecord, ids []string, statuses map[types.Status]bool, all bool) ([]*types.CompanyRecord, []string) {
	byID := make(map[string]*types.CompanyRecord, len(records))
	for _, rec := range records {
		byID[rec.ID] = rec
	}

	seen := make(map[string]bool)
	var selected []*types.CompanyRecord
	add := func(rec *types.CompanyRecord) {
		if seen[rec.ID] || rec.Status == types.StatusPending {
			return
		}
		seen[rec.ID] = true
		selected = append(selected, rec)
	}

	var missing []string
	for _, id := range ids {
		rec, ok := byID[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		add(rec)
	}
	for _, rec := range records {
		if all || statuses[rec.Status] {
			add(rec)
		}
	}
	return selected, missing
}
