package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/jonathan/outreach-agent/internal/config"
	"github.com/jonathan/outreach-agent/internal/discovery"
	"github.com/jonathan/outreach-agent/internal/drafting"
	"github.com/jonathan/outreach-agent/internal/emailfinder"
	"github.com/jonathan/outreach-agent/internal/fetch"
	"github.com/jonathan/outreach-agent/internal/ledger"
	"github.com/jonathan/outreach-agent/internal/llm"
	"github.com/jonathan/outreach-agent/internal/mailer"
	"github.com/jonathan/outreach-agent/internal/pipeline"
	"github.com/jonathan/outreach-agent/internal/ratelimit"
	"github.com/jonathan/outreach-agent/internal/resumes"
)

// buildDependencies creates the collaborators for a live run. limiter is shared with the
// run context. The returned function releases them.
func buildDependencies(ctx context.Context, cfg *config.Config, store ledger.Store, limiter *ratelimit.Limiter, logger *zap.Logger) (pipeline.Dependencies, func(), error) {
	var deps pipeline.Dependencies
	if cfg.APIKey == "" {
		return deps, nil, fmt.Errorf("GEMINI_API_KEY environment variable or --api-key flag is required")
	}

	// The session cookie only goes to the people pages, never to company websites.
	pageOpts := fetch.DefaultOptions()
	if cfg.SessionCookie != "" {
		pageOpts.Headers = map[string]string{"Cookie": cfg.SessionCookie}
	}
	pages := fetch.NewFetcher(pageOpts, cfg.UseBrowser, logger)
	websites := fetch.NewFetcher(nil, false, logger)

	var hunter emailfinder.Hunter
	if cfg.HunterAPIKey != "" {
		hunter = emailfinder.NewHunterClient(cfg.HunterAPIKey, "", nil)
	} else {
		logger.Info("cli: no Hunter API key, email addresses will be guessed from name patterns")
	}

	client, err := llm.NewClient(ctx, llm.DefaultConfig().WithSingleModel(cfg.Model), cfg.APIKey)
	if err != nil {
		return deps, nil, fmt.Errorf("failed to create LLM client: %w", err)
	}

	catalog, err := resumes.Scan(cfg.ResumeDir, logger)
	if err != nil {
		_ = client.Close()
		return deps, nil, err
	}
	logger.Info("cli: resume catalog loaded", zap.String("dir", cfg.ResumeDir), zap.Int("resumes", len(catalog)))

	sender, err := newSender(cfg)
	if err != nil {
		_ = client.Close()
		return deps, nil, err
	}

	deps = pipeline.Dependencies{
		Discoverer: discovery.New(pages, discovery.WithLimiter(limiter), discovery.WithLogger(logger)),
		Resolver:   emailfinder.NewResolver(hunter, nil, logger),
		Drafter: drafting.New(client, drafting.Options{
			CandidateName: cfg.CandidateName,
			Highlights:    cfg.Highlights,
			Website:       websites,
		}, logger),
		Selector:  resumes.NewSelector(client, catalog, logger),
		Deliverer: mailer.NewDeliverer(fromAddress(cfg), sender, logger),
		Store:     store,
	}
	return deps, func() { _ = client.Close() }, nil
}

// newSender writes .eml files when an outbox is configured and talks SMTP otherwise.
func newSender(cfg *config.Config) (mailer.Sender, error) {
	if fromAddress(cfg) == "" {
		return nil, fmt.Errorf("from_address or SMTP_USERNAME is required")
	}
	if cfg.Outbox != "" {
		outbox, err := mailer.NewOutboxSender(cfg.Outbox)
		if err != nil {
			return nil, fmt.Errorf("failed to prepare outbox: %w", err)
		}
		return outbox, nil
	}
	client, err := mailer.NewSMTPSender(mailer.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create SMTP client: %w", err)
	}
	return client, nil
}

func fromAddress(cfg *config.Config) string {
	if cfg.FromAddress != "" {
		return cfg.FromAddress
	}
	return cfg.SMTPUsername
}
