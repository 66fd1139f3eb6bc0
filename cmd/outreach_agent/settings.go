package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jonathan/outreach-agent/internal/config"
	"github.com/jonathan/outreach-agent/internal/ledger"
	"github.com/jonathan/outreach-agent/internal/logging"
)

var (
	ledgerBackend string
	ledgerPath    string
	databaseURL   string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&ledgerBackend, "ledger-backend", "", "Ledger backend: file, sqlite or postgres")
	rootCmd.PersistentFlags().StringVar(&ledgerPath, "ledger", "", "Ledger file or SQLite database path")
	rootCmd.PersistentFlags().StringVar(&databaseURL, "db-url", "", "PostgreSQL connection URL (optional, defaults to DATABASE_URL env var)")
}

// loadSettings layers the configuration: config file, then flags the user set, then
// environment variables, then built-in defaults. The result is validated.
func loadSettings(cmd *cobra.Command, overrides func(cmd *cobra.Command, cfg *config.Config)) (*config.Config, error) {
	var cfg config.Config
	if configPath != "" {
		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		if err := loaded.Validate(); err != nil {
			return nil, err
		}
		cfg = *loaded
	}

	// Only override if the flag was explicitly set
	flags := cmd.Flags()
	if flags.Changed("verbose") {
		cfg.Verbose = verbose
	}
	if flags.Changed("ledger-backend") {
		cfg.LedgerBackend = ledgerBackend
	}
	if flags.Changed("ledger") {
		cfg.LedgerPath = ledgerPath
	}
	if flags.Changed("db-url") {
		cfg.DatabaseURL = databaseURL
	}
	if overrides != nil {
		overrides(cmd, &cfg)
	}

	// Environment fills what the file and flags left empty; defaults fill the rest.
	cfg.ApplyEnv()
	merged := cfg.MergeWithDefaults(config.Defaults())
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	return &merged, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	logger, err := logging.New(logging.Level(cfg.Verbose), cfg.LogFormat)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return logger, nil
}

func openLedger(ctx context.Context, cfg *config.Config) (ledger.Store, error) {
	store, err := ledger.Open(ctx, cfg.LedgerConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	return store, nil
}
