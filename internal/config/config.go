// Package config provides configuration loading and validation for the CLI.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jonathan/outreach-agent/internal/ledger"
	"github.com/jonathan/outreach-agent/internal/pipeline"
	"github.com/jonathan/outreach-agent/internal/ratelimit"
	"github.com/jonathan/outreach-agent/internal/stage"
)

// Config represents the CLI configuration that can be loaded from a JSON or YAML file.
// All fields are optional; missing values use defaults, CLI flags or environment variables.
type Config struct {
	// Input and state
	Input         string `json:"input,omitempty" yaml:"input,omitempty"`                   // Company spreadsheet (.xlsx or .csv)
	Sheet         string `json:"sheet,omitempty" yaml:"sheet,omitempty"`                   // Worksheet name; first sheet when empty
	SkipRows      int    `json:"skip_rows,omitempty" yaml:"skip_rows,omitempty"`           // Banner rows above the header
	LedgerBackend string `json:"ledger_backend,omitempty" yaml:"ledger_backend,omitempty"` // file, sqlite or postgres
	LedgerPath    string `json:"ledger_path,omitempty" yaml:"ledger_path,omitempty"`       // File or SQLite path
	DatabaseURL   string `json:"database_url,omitempty" yaml:"database_url,omitempty"`     // PostgreSQL connection URL
	Report        string `json:"report,omitempty" yaml:"report,omitempty"`                 // Run report path (.xlsx or .json)

	// Candidate
	CandidateName string   `json:"candidate_name,omitempty" yaml:"candidate_name,omitempty"`
	Highlights    []string `json:"highlights,omitempty" yaml:"highlights,omitempty"` // Background points fed to drafting
	ResumeDir     string   `json:"resume_dir,omitempty" yaml:"resume_dir,omitempty"`
	DefaultResume string   `json:"default_resume,omitempty" yaml:"default_resume,omitempty"`

	// Run policy
	ExcludedLocations []string `json:"excluded_locations,omitempty" yaml:"excluded_locations,omitempty"`
	MaxCompanies      int      `json:"max_companies,omitempty" yaml:"max_companies,omitempty"` // 0 = unlimited
	Workers           int      `json:"workers,omitempty" yaml:"workers,omitempty"`
	CompanyDelayMin   Duration `json:"company_delay_min,omitempty" yaml:"company_delay_min,omitempty"`
	CompanyDelayMax   Duration `json:"company_delay_max,omitempty" yaml:"company_delay_max,omitempty"`
	MaxRetries        *int     `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	BackoffBase       Duration `json:"backoff_base,omitempty" yaml:"backoff_base,omitempty"`
	BackoffCap        Duration `json:"backoff_cap,omitempty" yaml:"backoff_cap,omitempty"`
	RateLimitPenalty  Duration `json:"rate_limit_penalty,omitempty" yaml:"rate_limit_penalty,omitempty"`

	// Minimum spacing per channel: scrape, email-lookup, send, llm. Unlisted channels keep defaults.
	RateIntervals map[string]Duration `json:"rate_intervals,omitempty" yaml:"rate_intervals,omitempty"`

	// Collaborators
	APIKey        string `json:"api_key,omitempty" yaml:"api_key,omitempty"` // Gemini API key
	Model         string `json:"model,omitempty" yaml:"model,omitempty"`
	HunterAPIKey  string `json:"hunter_api_key,omitempty" yaml:"hunter_api_key,omitempty"`
	UseBrowser    bool   `json:"use_browser,omitempty" yaml:"use_browser,omitempty"` // Render people pages with headless Chrome
	SMTPHost      string `json:"smtp_host,omitempty" yaml:"smtp_host,omitempty"`
	SMTPPort      int    `json:"smtp_port,omitempty" yaml:"smtp_port,omitempty"`
	SMTPUsername  string `json:"smtp_username,omitempty" yaml:"smtp_username,omitempty"`
	SMTPPassword  string `json:"smtp_password,omitempty" yaml:"smtp_password,omitempty"`
	FromAddress   string `json:"from_address,omitempty" yaml:"from_address,omitempty"`
	SessionCookie string `json:"session_cookie,omitempty" yaml:"session_cookie,omitempty"` // Sent as the Cookie header on people pages
	Outbox        string `json:"outbox,omitempty" yaml:"outbox,omitempty"`                 // Write .eml files here instead of sending

	// Behavior
	Verbose   bool   `json:"verbose,omitempty" yaml:"verbose,omitempty"`
	LogFormat string `json:"log_format,omitempty" yaml:"log_format,omitempty"` // console or json
}

// Defaults returns the built-in configuration used beneath file values and flags.
func Defaults() Config {
	sc := stage.DefaultConfig()
	maxRetries := sc.MaxRetries
	return Config{
		LedgerBackend:     ledger.BackendFile,
		LedgerPath:        ledger.DefaultFilePath,
		ResumeDir:         "resumes",
		ExcludedLocations: append([]string(nil), pipeline.DefaultExcludedLocations...),
		Workers:           1,
		MaxRetries:        &maxRetries,
		BackoffBase:       Duration(sc.BackoffBase),
		BackoffCap:        Duration(sc.BackoffCap),
		RateLimitPenalty:  Duration(sc.RateLimitPenalty),
		SMTPHost:          "smtp.gmail.com",
		SMTPPort:          587,
		LogFormat:         "console",
	}
}

// LoadConfig loads configuration from a JSON or YAML file; the extension decides.
// Returns an error if the file cannot be read or parsed.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	// Resolve path relative to current directory if not absolute
	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	}

	return &cfg, nil
}

// Validate checks that the configuration has valid values.
// Note: This doesn't check for required fields since those depend on the subcommand.
func (c *Config) Validate() error {
	if c.SkipRows < 0 {
		return fmt.Errorf("config error: 'skip_rows' must be non-negative")
	}
	if c.MaxCompanies < 0 {
		return fmt.Errorf("config error: 'max_companies' must be non-negative")
	}
	if c.Workers < 0 {
		return fmt.Errorf("config error: 'workers' must be non-negative")
	}
	if c.MaxRetries != nil && *c.MaxRetries < 0 {
		return fmt.Errorf("config error: 'max_retries' must be non-negative")
	}
	for name, d := range map[string]Duration{
		"company_delay_min":  c.CompanyDelayMin,
		"company_delay_max":  c.CompanyDelayMax,
		"backoff_base":       c.BackoffBase,
		"backoff_cap":        c.BackoffCap,
		"rate_limit_penalty": c.RateLimitPenalty,
	} {
		if d < 0 {
			return fmt.Errorf("config error: '%s' must be non-negative", name)
		}
	}
	for name, d := range c.RateIntervals {
		if !ratelimit.IsKnown(ratelimit.Channel(name)) {
			return fmt.Errorf("config error: unknown 'rate_intervals' channel %q", name)
		}
		if d < 0 {
			return fmt.Errorf("config error: 'rate_intervals.%s' must be non-negative", name)
		}
	}
	if c.CompanyDelayMax > 0 && c.CompanyDelayMin > c.CompanyDelayMax {
		return fmt.Errorf("config error: 'company_delay_min' exceeds 'company_delay_max'")
	}
	if c.SMTPPort < 0 || c.SMTPPort > 65535 {
		return fmt.Errorf("config error: 'smtp_port' out of range")
	}

	switch strings.ToLower(c.LedgerBackend) {
	case "", ledger.BackendFile, ledger.BackendSQLite, ledger.BackendPostgres:
	default:
		return fmt.Errorf("config error: unknown 'ledger_backend' %q", c.LedgerBackend)
	}

	switch strings.ToLower(c.LogFormat) {
	case "", "console", "json":
	default:
		return fmt.Errorf("config error: unknown 'log_format' %q", c.LogFormat)
	}

	// Validate file paths exist (if specified)
	if c.Input != "" {
		if _, err := os.Stat(c.Input); os.IsNotExist(err) {
			return fmt.Errorf("config error: input file not found: %s", c.Input)
		}
	}
	if c.ResumeDir != "" {
		if info, err := os.Stat(c.ResumeDir); err == nil && !info.IsDir() {
			return fmt.Errorf("config error: resume_dir is not a directory: %s", c.ResumeDir)
		}
	}

	return nil
}

// MergeWithDefaults returns a new Config with zero-valued fields filled from defaults.
// This is used to layer config file values over built-in defaults.
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c

	// String fields: use default if empty
	setString(&result.Input, defaults.Input)
	setString(&result.Sheet, defaults.Sheet)
	setString(&result.LedgerBackend, defaults.LedgerBackend)
	setString(&result.LedgerPath, defaults.LedgerPath)
	setString(&result.DatabaseURL, defaults.DatabaseURL)
	setString(&result.Report, defaults.Report)
	setString(&result.CandidateName, defaults.CandidateName)
	setString(&result.ResumeDir, defaults.ResumeDir)
	setString(&result.DefaultResume, defaults.DefaultResume)
	setString(&result.APIKey, defaults.APIKey)
	setString(&result.Model, defaults.Model)
	setString(&result.HunterAPIKey, defaults.HunterAPIKey)
	setString(&result.SMTPHost, defaults.SMTPHost)
	setString(&result.SMTPUsername, defaults.SMTPUsername)
	setString(&result.SMTPPassword, defaults.SMTPPassword)
	setString(&result.FromAddress, defaults.FromAddress)
	setString(&result.SessionCookie, defaults.SessionCookie)
	setString(&result.Outbox, defaults.Outbox)
	setString(&result.LogFormat, defaults.LogFormat)

	// Int and duration fields: use default if zero
	if result.SkipRows == 0 {
		result.SkipRows = defaults.SkipRows
	}
	if result.MaxCompanies == 0 {
		result.MaxCompanies = defaults.MaxCompanies
	}
	if result.Workers == 0 {
		result.Workers = defaults.Workers
	}
	if result.SMTPPort == 0 {
		result.SMTPPort = defaults.SMTPPort
	}
	if result.MaxRetries == nil && defaults.MaxRetries != nil {
		v := *defaults.MaxRetries
		result.MaxRetries = &v
	}
	setDuration(&result.CompanyDelayMin, defaults.CompanyDelayMin)
	setDuration(&result.CompanyDelayMax, defaults.CompanyDelayMax)
	setDuration(&result.BackoffBase, defaults.BackoffBase)
	setDuration(&result.BackoffCap, defaults.BackoffCap)
	setDuration(&result.RateLimitPenalty, defaults.RateLimitPenalty)

	// Slices: an explicit list, even a short one, replaces the default
	if result.ExcludedLocations == nil {
		result.ExcludedLocations = append([]string(nil), defaults.ExcludedLocations...)
	}
	if result.Highlights == nil {
		result.Highlights = append([]string(nil), defaults.Highlights...)
	}
	if result.RateIntervals == nil && defaults.RateIntervals != nil {
		result.RateIntervals = make(map[string]Duration, len(defaults.RateIntervals))
		for name, d := range defaults.RateIntervals {
			result.RateIntervals[name] = d
		}
	}

	// Bool fields: cannot distinguish unset from false, so we don't merge
	// (CLI flags should always win for bools)

	return result
}

// StageConfig returns the retry policy for the stage executor.
func (c *Config) StageConfig() stage.Config {
	sc := stage.DefaultConfig()
	if c.MaxRetries != nil {
		sc.MaxRetries = *c.MaxRetries
	}
	if c.BackoffBase > 0 {
		sc.BackoffBase = c.BackoffBase.Std()
	}
	if c.BackoffCap > 0 {
		sc.BackoffCap = c.BackoffCap.Std()
	}
	if c.RateLimitPenalty > 0 {
		sc.RateLimitPenalty = c.RateLimitPenalty.Std()
	}
	return sc
}

// RateLimitConfig returns the per-channel spacing: built-in defaults, then rate_intervals,
// then RATE_LIMIT_*_INTERVAL environment variables.
func (c *Config) RateLimitConfig() *ratelimit.Config {
	base := ratelimit.DefaultIntervals()
	for name, d := range c.RateIntervals {
		base[ratelimit.Channel(name)] = d.Std()
	}
	return ratelimit.LoadConfig(base)
}

// LedgerConfig returns the ledger backend selection.
func (c *Config) LedgerConfig() ledger.Config {
	return ledger.Config{
		Backend:     c.LedgerBackend,
		Path:        c.LedgerPath,
		DatabaseURL: c.DatabaseURL,
	}
}

func setString(dst *string, def string) {
	if *dst == "" {
		*dst = def
	}
}

func setDuration(dst *Duration, def Duration) {
	if *dst == 0 {
		*dst = def
	}
}
