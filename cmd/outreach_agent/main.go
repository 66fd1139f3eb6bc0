// Package main provides the CLI entry point for the outreach agent.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "outreach_agent",
	Short: "Outreach Agent CLI",
	Long: `Works through a spreadsheet of companies: finds contacts on each company's people page,
infers their email addresses, drafts a personalized message, picks a resume and sends it.

Progress is kept in a ledger so interrupted runs pick up where they stopped.`,
	SilenceUsage: true,
}

var (
	configPath string
	verbose    bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (.json, .yaml or .yml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Print detailed debug information")
}

func main() {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
