package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jonathan/outreach-agent/internal/config"
	"github.com/jonathan/outreach-agent/internal/mailer"
	"github.com/jonathan/outreach-agent/internal/ratelimit"
	"github.com/jonathan/outreach-agent/internal/types"
)

func ledgerRecords() []*types.CompanyRecord {
	return []*types.CompanyRecord{
		{ID: "acme|acme.com", Name: "Acme", Status: types.StatusSent, SentTo: []string{"ada@acme.com"}},
		{ID: "globex|globex.com", Name: "Globex", Status: types.StatusFailed},
		{ID: "initech|initech.com", Name: "Initech", Status: types.StatusPending},
		{ID: "hooli|hooli.com", Name: "Hooli", Status: types.StatusSkipped},
	}
}

func TestSelectForReset(t *testing.T) {
	records := ledgerRecords()

	t.Run("by id", func(t *testing.T) {
		selected, missing := selectForReset(records, []string{"acme|acme.com", "nope|nope.com"}, nil, false)
		require.Len(t, selected, 1)
		assert.Equal(t, "acme|acme.com", selected[0].ID)
		assert.Equal(t, []string{"nope|nope.com"}, missing)
	})

	t.Run("by status", func(t *testing.T) {
		selected, _ := selectForReset(records, nil, map[types.Status]bool{types.StatusFailed: true, types.StatusSkipped: true}, false)
		require.Len(t, selected, 2)
		assert.Equal(t, "globex|globex.com", selected[0].ID)
		assert.Equal(t, "hooli|hooli.com", selected[1].ID)
	})

	t.Run("all skips pending and duplicates", func(t *testing.T) {
		selected, missing := selectForReset(records, []string{"globex|globex.com", "initech|initech.com"}, nil, true)
		assert.Len(t, selected, 3)
		assert.Empty(t, missing)
	})
}

func TestParseStatuses(t *testing.T) {
	statuses, err := parseStatuses([]string{"failed", "sent"})
	require.NoError(t, err)
	assert.True(t, statuses[types.StatusFailed])
	assert.True(t, statuses[types.StatusSent])

	_, err = parseStatuses([]string{"done"})
	assert.Error(t, err)
}

func TestFilterByStatus(t *testing.T) {
	records := ledgerRecords()
	assert.Len(t, filterByStatus(records, nil), 4)

	failed := filterByStatus(records, map[types.Status]bool{types.StatusFailed: true})
	require.Len(t, failed, 1)
	assert.Equal(t, "Globex", failed[0].Name)
}

func TestListCompanies(t *testing.T) {
	var buf bytes.Buffer
	listCompanies(&buf, ledgerRecords())
	assert.Contains(t, buf.String(), "acme|acme.com")
	assert.Contains(t, buf.String(), "failed")

	buf.Reset()
	listCompanies(&buf, nil)
	assert.Equal(t, "No companies.\n", buf.String())
}

func TestLoadSettings_LayersFileEnvAndDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workers: 3\nledger_path: "+filepath.Join(dir, "ledger.json")+"\n"), 0o644))

	previous := configPath
	configPath = path
	t.Cleanup(func() { configPath = previous })
	t.Setenv("GEMINI_API_KEY", "from-env")
	t.Setenv("SMTP_FROM", "")
	t.Setenv("EMAIL_ADDRESS", "")

	cfg, err := loadSettings(&cobra.Command{}, func(_ *cobra.Command, cfg *config.Config) {
		cfg.Model = "gemini-2.5-pro"
	})
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, filepath.Join(dir, "ledger.json"), cfg.LedgerPath)
	assert.Equal(t, "from-env", cfg.APIKey)
	assert.Equal(t, "gemini-2.5-pro", cfg.Model)
	assert.Equal(t, "smtp.gmail.com", cfg.SMTPHost)
	assert.NotEmpty(t, cfg.ExcludedLocations)
}

func TestLoadSettings_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"workers": -1}`), 0o644))

	previous := configPath
	configPath = path
	t.Cleanup(func() { configPath = previous })

	_, err := loadSettings(&cobra.Command{}, nil)
	assert.Error(t, err)
}

func TestNewSender(t *testing.T) {
	_, err := newSender(&config.Config{Outbox: t.TempDir()})
	assert.Error(t, err, "a sender address is required even for the outbox")

	sender, err := newSender(&config.Config{Outbox: filepath.Join(t.TempDir(), "outbox"), FromAddress: "jo@example.com"})
	require.NoError(t, err)
	assert.IsType(t, &mailer.OutboxSender{}, sender)

	sender, err = newSender(&config.Config{SMTPHost: "smtp.example.com", SMTPPort: 587, SMTPUsername: "jo@example.com"})
	require.NoError(t, err)
	assert.NotNil(t, sender)
}

func TestFromAddress(t *testing.T) {
	assert.Equal(t, "jo@example.com", fromAddress(&config.Config{FromAddress: "jo@example.com", SMTPUsername: "other@example.com"}))
	assert.Equal(t, "other@example.com", fromAddress(&config.Config{SMTPUsername: "other@example.com"}))
}

func TestBuildDependencies_RequiresAPIKey(t *testing.T) {
	_, _, err := buildDependencies(context.Background(), &config.Config{}, nil, ratelimit.NewLimiter(nil), zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GEMINI_API_KEY")
}

type countingStopper struct {
	stops chan struct{}
}

func (c *countingStopper) Stop() {
	c.stops <- struct{}{}
}

func TestWatchSignals_StopThenCancel(t *testing.T) {
	run := &countingStopper{stops: make(chan struct{}, 1)}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	unwatch := watchSignals(run, cancel, zap.NewNop())
	defer unwatch()

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGTERM))
	select {
	case <-run.stops:
	case <-time.After(2 * time.Second):
		t.Fatal("first signal did not stop the run")
	}
	assert.NoError(t, ctx.Err(), "first signal must not cancel in-flight work")

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGTERM))
	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("second signal did not cancel the run")
	}
}

func TestStatusList_DisplayOrder(t *testing.T) {
	got := statusList(map[types.Status]bool{types.StatusFailed: true, types.StatusPending: true})
	assert.Equal(t, []types.Status{types.StatusPending, types.StatusFailed}, got)
}
