package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jonathan/outreach-agent/internal/config"
	"github.com/jonathan/outreach-agent/internal/ingestion"
	"github.com/jonathan/outreach-agent/internal/ledger"
	"github.com/jonathan/outreach-agent/internal/observability"
	"github.com/jonathan/outreach-agent/internal/pipeline"
	"github.com/jonathan/outreach-agent/internal/ratelimit"
	"github.com/jonathan/outreach-agent/internal/report"
	"github.com/jonathan/outreach-agent/internal/runner"
	"github.com/jonathan/outreach-agent/internal/stage"
)

var runCommand = &cobra.Command{
	Use:   "run",
	Short: "Process the company list end-to-end",
	Long: `Loads the company spreadsheet, merges it with the ledger and drives every unfinished company
through: discover contacts -> infer emails -> draft messages -> select resumes -> send.

Companies already Sent or Skipped are left alone unless --force is given. Press Ctrl-C once to
finish the companies in flight and stop; press it again to abort immediately.

Configuration can be loaded from a JSON or YAML file using --config. Command-line arguments override config file values.`,
	RunE: runOutreachCmd,
}

var (
	runInput         string
	runSheet         string
	runSkipRows      int
	runForce         bool
	runMax           int
	runWorkers       int
	runOnly          []string
	runDryRun        bool
	runReport        string
	runResumeDir     string
	runDefaultResume string
	runOutbox        string
	runUseBrowser    bool
	runAPIKey        string
	runModel         string
	runDelayMin      time.Duration
	runDelayMax      time.Duration
)

func init() {
	runCommand.Flags().StringVarP(&runInput, "input", "i", "", "Company spreadsheet (.xlsx or .csv)")
	runCommand.Flags().StringVar(&runSheet, "sheet", "", "Worksheet name (defaults to the first sheet)")
	runCommand.Flags().IntVar(&runSkipRows, "skip-rows", 0, "Banner rows above the header row")
	runCommand.Flags().BoolVar(&runForce, "force", false, "Reprocess companies already Sent or Skipped (never re-mails an address)")
	runCommand.Flags().IntVar(&runMax, "max", 0, "Maximum companies to process this run (0 = unlimited)")
	runCommand.Flags().IntVar(&runWorkers, "workers", 0, "Companies processed concurrently")
	runCommand.Flags().StringSliceVar(&runOnly, "only", nil, "Only process these company ids (comma-separated)")
	runCommand.Flags().BoolVar(&runDryRun, "dry-run", false, "Load and plan without writing the ledger or contacting anyone")
	runCommand.Flags().StringVar(&runReport, "report", "", "Write a run report (.xlsx or .json)")
	runCommand.Flags().StringVar(&runResumeDir, "resume-dir", "", "Directory of resume files to choose from")
	runCommand.Flags().StringVar(&runDefaultResume, "default-resume", "", "Resume attached when selection fails")
	runCommand.Flags().StringVar(&runOutbox, "outbox", "", "Write messages as .eml files to this directory instead of sending")
	runCommand.Flags().BoolVar(&runUseBrowser, "use-browser", false, "Use headless browser for client-rendered pages (requires Chrome)")
	runCommand.Flags().DurationVar(&runDelayMin, "delay-min", 0, "Minimum pause between companies")
	runCommand.Flags().DurationVar(&runDelayMax, "delay-max", 0, "Maximum pause between companies")

	// API key can be passed as a flag, or read from env var GEMINI_API_KEY
	runCommand.Flags().StringVar(&runAPIKey, "api-key", "", "Gemini API Key (optional, defaults to GEMINI_API_KEY env var)")
	runCommand.Flags().StringVar(&runModel, "model", "", "Gemini model used for every call (optional)")

	rootCmd.AddCommand(runCommand)
}

func applyRunFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("input") {
		cfg.Input = runInput
	}
	if flags.Changed("sheet") {
		cfg.Sheet = runSheet
	}
	if flags.Changed("skip-rows") {
		cfg.SkipRows = runSkipRows
	}
	if flags.Changed("max") {
		cfg.MaxCompanies = runMax
	}
	if flags.Changed("workers") {
		cfg.Workers = runWorkers
	}
	if flags.Changed("report") {
		cfg.Report = runReport
	}
	if flags.Changed("resume-dir") {
		cfg.ResumeDir = runResumeDir
	}
	if flags.Changed("default-resume") {
		cfg.DefaultResume = runDefaultResume
	}
	if flags.Changed("outbox") {
		cfg.Outbox = runOutbox
	}
	if flags.Changed("use-browser") {
		cfg.UseBrowser = runUseBrowser
	}
	if flags.Changed("api-key") {
		cfg.APIKey = runAPIKey
	}
	if flags.Changed("model") {
		cfg.Model = runModel
	}
	if flags.Changed("delay-min") {
		cfg.CompanyDelayMin = config.Duration(runDelayMin)
	}
	if flags.Changed("delay-max") {
		cfg.CompanyDelayMax = config.Duration(runDelayMax)
	}
}

func runOutreachCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadSettings(cmd, applyRunFlags)
	if err != nil {
		return err
	}
	if cfg.Input == "" {
		return fmt.Errorf("--input is required (via flag or config)")
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := openLedger(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	printer := observability.NewPrinter(cmd.OutOrStdout())

	limiter := ratelimit.NewLimiter(cfg.RateLimitConfig())

	// A dry run never reaches the processor, so no collaborator is built.
	var processor runner.Processor
	if !runDryRun {
		deps, release, err := buildDependencies(ctx, cfg, store, limiter, logger)
		if err != nil {
			return err
		}
		defer release()

		orchestrator, err := pipeline.New(deps, pipeline.Options{
			ExcludedLocations: cfg.ExcludedLocations,
			DefaultResumePath: cfg.DefaultResume,
			OnProgress:        printer.PrintProgress,
		})
		if err != nil {
			return err
		}
		processor = orchestrator
	}

	source := ingestion.NewSpreadsheetSource(cfg.Input, cfg.Sheet, cfg.SkipRows)
	run := runner.New(source, store, processor, runner.Options{
		Force:        runForce,
		MaxCompanies: cfg.MaxCompanies,
		Workers:      cfg.Workers,
		Only:         runOnly,
		DelayMin:     cfg.CompanyDelayMin.Std(),
		DelayMax:     cfg.CompanyDelayMax.Std(),
		DryRun:       runDryRun,
	})

	rc := pipeline.NewRunContext(pipeline.RunContextOptions{
		Limiter:  limiter,
		Executor: stage.NewExecutor(cfg.StageConfig(), stage.WithLogger(logger)),
		Logger:   logger,
	})
	defer rc.Close()

	stopWatching := watchSignals(run, cancel, rc.Logger)
	defer stopWatching()

	summary, runErr := run.Run(ctx, rc)
	if meta := source.Metadata(); meta != nil {
		rc.Logger.Debug("cli: input loaded",
			zap.String("source", meta.Source),
			zap.String("format", meta.Format),
			zap.String("sha256", meta.Hash),
			zap.Int("rows", meta.Rows),
		)
	}
	if summary != nil {
		if summary.DryRun {
			printer.PrintPlan(summary)
		}
		printer.PrintRunSummary(summary)
		if cfg.Report != "" {
			writeReport(cfg.Report, summary, store, rc.Logger)
		}
	}

	if runErr != nil {
		rc.Logger.Error("cli: run aborted", zap.String("trace", eris.ToString(runErr, true)))
		return fmt.Errorf("run aborted: %w", runErr)
	}
	return nil
}

// writeReport exports the summary and ledger. It runs after cancellation too, so it uses
// its own context.
func writeReport(path string, summary *runner.Summary, store ledger.Store, logger *zap.Logger) {
	records, err := store.LoadAll(context.Background())
	if err != nil {
		logger.Error("cli: failed to read ledger for report", zap.Error(err))
		return
	}
	if err := report.Write(path, summary, records); err != nil {
		logger.Error("cli: failed to write report", zap.String("path", path), zap.Error(err))
		return
	}
	logger.Info("cli: report written", zap.String("path", path))
}
