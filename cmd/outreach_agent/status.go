package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonathan/outreach-agent/internal/observability"
)

var statusCommand = &cobra.Command{
	Use:   "status",
	Short: "Show how many companies are in each ledger status",
	RunE:  runStatusCmd,
}

func init() {
	rootCmd.AddCommand(statusCommand)
}

func runStatusCmd(cmd *cobra.Command, _ []string) error {
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
	observability.NewPrinter(cmd.OutOrStdout()).PrintStatusTable(records)
	return nil
}
