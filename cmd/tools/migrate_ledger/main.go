// Command migrate_ledger copies every company record from one ledger backend to another,
// for example from the default JSON file into SQLite or PostgreSQL.
//
// Usage:
//
//	go run cmd/tools/migrate_ledger/main.go -from file:outreach_ledger.json -to sqlite:outreach.db
//	go run cmd/tools/migrate_ledger/main.go -from sqlite:outreach.db -to postgres
//
// The postgres backend reads its connection URL from the DATABASE_URL environment variable.
// Records already present in the target are overwritten unless -skip-existing is set.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/jonathan/outreach-agent/internal/ledger"
)

func main() {
	_ = godotenv.Load()

	from := flag.String("from", "", "source ledger as backend[:path]")
	to := flag.String("to", "", "target ledger as backend[:path]")
	skipExisting := flag.Bool("skip-existing", false, "leave records that already exist in the target untouched")
	dryRun := flag.Bool("dry-run", false, "report what would be copied without writing")
	flag.Parse()

	if *from == "" || *to == "" {
		fmt.Fprintln(os.Stderr, "ERROR: both -from and -to are required")
		flag.Usage()
		os.Exit(1)
	}

	ctx := context.Background()

	source, err := ledger.Open(ctx, parseTarget(*from))
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to open source ledger: %v\n", err)
		os.Exit(1)
	}
	defer source.Close()

	target, err := ledger.Open(ctx, parseTarget(*to))
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to open target ledger: %v\n", err)
		os.Exit(1)
	}
	defer target.Close()

	fmt.Println("=== Ledger Migration ===")
	fmt.Println()

	records, err := source.LoadAll(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to read source ledger: %v\n", err)
		os.Exit(1)
	}
	if len(records) == 0 {
		fmt.Println("No companies found in the source ledger.")
		return
	}

	fmt.Printf("Found %d companies in %s:\n\n", len(records), *from)

	copied := 0
	existing := 0
	failed := 0

	for _, rec := range records {
		if *skipExisting {
			current, err := target.Get(ctx, rec.ID)
			if err != nil {
				fmt.Printf("  ✗ %s: %v\n", rec.ID, err)
				failed++
				continue
			}
			if current != nil {
				fmt.Printf("  • Existing: %s (%s)\n", rec.ID, current.Status)
				existing++
				continue
			}
		}

		if !*dryRun {
			if err := target.Upsert(ctx, rec); err != nil {
				fmt.Printf("  ✗ %s: %v\n", rec.ID, err)
				failed++
				continue
			}
		}
		fmt.Printf("  ✓ Copied: %s (%s, sent to %d)\n", rec.ID, rec.Status, len(rec.SentTo))
		copied++
	}

	fmt.Println()
	fmt.Println("=== Migration Summary ===")
	fmt.Printf("  Copied: %d\n", copied)
	fmt.Printf("  Existing: %d\n", existing)
	fmt.Printf("  Failed: %d\n", failed)
	fmt.Printf("  Total: %d\n", len(records))
	if *dryRun {
		fmt.Println("  (dry run, nothing written)")
	}

	if failed > 0 {
		os.Exit(1)
	}
}

// parseTarget turns "backend[:path]" into a ledger config. A bare path ending in .json or
// .db picks the matching backend.
func parseTarget(target string) ledger.Config {
	backend, path, found := strings.Cut(target, ":")
	if !found {
		switch {
		case strings.HasSuffix(target, ".json"):
			return ledger.Config{Backend: ledger.BackendFile, Path: target}
		case strings.HasSuffix(target, ".db"), strings.HasSuffix(target, ".sqlite"):
			return ledger.Config{Backend: ledger.BackendSQLite, Path: target}
		}
	}
	cfg := ledger.Config{Backend: strings.ToLower(backend), Path: path}
	if cfg.Backend == ledger.BackendPostgres {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
		if path != "" {
			cfg.DatabaseURL = path
		}
		cfg.Path = ""
	}
	return cfg
}
