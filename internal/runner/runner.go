// Package runner loads the company list, merges it with the ledger, applies run-wide
// policy (force, cap, filters, stop) and hands companies to the pipeline orchestrator.
package runner

import (
	"context"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/outreach-agent/internal/ingestion"
	"github.com/jonathan/outreach-agent/internal/ledger"
	"github.com/jonathan/outreach-agent/internal/pipeline"
	"github.com/jonathan/outreach-agent/internal/types"
)

// Processor runs the pipeline for one company. *pipeline.Orchestrator implements it.
type Processor interface {
	Process(ctx context.Context, rc *pipeline.RunContext, rec *types.CompanyRecord) (*types.CompanyRecord, error)
}

// Options holds run-wide policy.
type Options struct {
	// Force resets Sent and Skipped companies to Pending. Send history is kept.
	Force bool
	// MaxCompanies caps how many companies are processed this run; 0 means unlimited.
	MaxCompanies int
	// Workers is the number of companies processed concurrently; values below 1 mean 1.
	Workers int
	// Only restricts the run to these company ids.
	Only []string
	// DelayMin and DelayMax bound the random pause after each company.
	DelayMin time.Duration
	DelayMax time.Duration
	// DryRun loads and merges without writing the ledger or calling any collaborator.
	DryRun bool
}

// Runner is the run controller.
type Runner struct {
	source    pipeline.CompanySource
	store     ledger.Store
	processor Processor
	opts      Options
	stopped   atomic.Bool
	stopOnce  sync.Once
	stopCh    chan struct{}
	sleep     func(ctx context.Context, d time.Duration) error
	now       func() time.Time
}

// New creates a Runner.
func New(source pipeline.CompanySource, store ledger.Store, processor Processor, opts Options) *Runner {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Runner{
		source:    source,
		store:     store,
		processor: processor,
		opts:      opts,
		stopCh:    make(chan struct{}),
		sleep:     sleepContext,
		now:       time.Now,
	}
}

// Stop asks the run to finish the companies in flight and start no new ones.
// A pause between companies is cut short. It is safe to call from a signal handler goroutine.
func (r *Runner) Stop() {
	r.stopped.Store(true)
	r.stopOnce.Do(func() { close(r.stopCh) })
}

// Stopped reports whether Stop was called.
func (r *Runner) Stopped() bool {
	return r.stopped.Load()
}

// Run executes one invocation. The returned error is non-nil only for Fatal conditions
// (unreadable input, ledger failures) or cancellation; the summary is returned either way.
func (r *Runner) Run(ctx context.Context, rc *pipeline.RunContext) (*Summary, error) {
	log := rc.Logger
	summary := newSummary(rc.RunID, r.now(), r.opts.DryRun)

	rows, err := r.source.LoadCompanies(ctx)
	if err != nil {
		summary.finish(r.now())
		return summary, eris.Wrap(err, "runner: failed to load companies")
	}
	accepted, rejected := ingestion.ValidateRows(rows)
	summary.Loaded = len(rows)
	summary.Rejected = rejected
	for _, rej := range rejected {
		log.Warn("runner: rejected input row", zap.Int("row", rej.Row), zap.String("reason", rej.Error()))
	}

	records, err := r.merge(ctx, log, accepted, summary)
	if err != nil {
		summary.finish(r.now())
		return summary, err
	}

	candidates := r.selectCandidates(records)
	summary.Planned = make([]string, len(candidates))
	for i, rec := range candidates {
		summary.Planned[i] = rec.ID
	}
	log.Info("runner: run planned",
		zap.Int("loaded", len(rows)),
		zap.Int("accepted", len(accepted)),
		zap.Int("rejected", len(rejected)),
		zap.Int("candidates", len(candidates)),
		zap.Int("workers", r.opts.Workers),
		zap.Bool("dry_run", r.opts.DryRun),
	)

	var runErr error
	if !r.opts.DryRun {
		runErr = r.process(ctx, rc, candidates, summary)
	}

	summary.Stopped = r.Stopped()
	summary.Remaining = len(candidates) - summary.Processed
	r.tally(ctx, records, summary)
	summary.finish(r.now())
	return summary, runErr
}

// merge inserts new companies as Pending and applies force resets. Records are returned
// in input order.
func (r *Runner) merge(ctx context.Context, log *zap.Logger, rows []types.CompanyRow, summary *Summary) ([]*types.CompanyRecord, error) {
	records := make([]*types.CompanyRecord, 0, len(rows))
	for _, row := range rows {
		id := row.ID()
		existing, err := r.store.Get(ctx, id)
		if err != nil {
			return nil, eris.Wrapf(err, "runner: failed to read ledger for %s", id)
		}

		now := r.now().UTC()
		changed := false
		rec := existing
		switch {
		case rec == nil:
			rec = types.NewCompanyRecord(row, now)
			summary.Inserted++
			changed = true
		case r.opts.Force && (rec.Status == types.StatusSent || rec.Status == types.StatusSkipped):
			log.Info("runner: force reset", zap.String("company", id), zap.String("from", string(rec.Status)))
			rec.ResetForRerun(now)
			refreshFromRow(rec, row)
			summary.Reset++
			changed = true
		case !rec.Status.IsTerminal() || rec.Status == types.StatusFailed:
			changed = refreshFromRow(rec, row)
		}

		if changed && !r.opts.DryRun {
			if err := r.store.Upsert(ctx, rec); err != nil {
				return nil, eris.Wrapf(err, "runner: failed to write ledger for %s", id)
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

// refreshFromRow copies descriptive input fields onto rec and reports whether anything changed.
func refreshFromRow(rec *types.CompanyRecord, row types.CompanyRow) bool {
	fresh := types.NewCompanyRecord(row, rec.CreatedAt)
	changed := rec.Website != fresh.Website ||
		rec.ProfileURL != fresh.ProfileURL ||
		rec.Industry != fresh.Industry ||
		rec.Location != fresh.Location ||
		rec.Description != fresh.Description
	rec.Name = fresh.Name
	rec.Website = fresh.Website
	rec.ProfileURL = fresh.ProfileURL
	rec.Industry = fresh.Industry
	rec.Location = fresh.Location
	rec.Description = fresh.Description
	return changed
}

// selectCandidates applies the id filter, drops terminal records and applies the cap.
func (r *Runner) selectCandidates(records []*types.CompanyRecord) []*types.CompanyRecord {
	only := make(map[string]bool, len(r.opts.Only))
	for _, id := range r.opts.Only {
		only[id] = true
	}

	var out []*types.CompanyRecord
	for _, rec := range records {
		if len(only) > 0 && !only[rec.ID] {
			continue
		}
		if rec.Status == types.StatusSent || rec.Status == types.StatusSkipped {
			continue
		}
		out = append(out, rec)
		if r.opts.MaxCompanies > 0 && len(out) >= r.opts.MaxCompanies {
			break
		}
	}
	return out
}

func (r *Runner) process(ctx context.Context, rc *pipeline.RunContext, candidates []*types.CompanyRecord, summary *Summary) error {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Workers)

	for i, rec := range candidates {
		if r.Stopped() {
			rc.Logger.Info("runner: stop requested, not starting further companies", zap.Int("remaining", len(candidates)-i))
			break
		}
		if gctx.Err() != nil {
			break
		}

		last := i == len(candidates)-1
		g.Go(func() error {
			if r.Stopped() || gctx.Err() != nil {
				return nil
			}
			if !rc.Claims.TryClaim(rec.ID) {
				rc.Logger.Warn("runner: company already claimed", zap.String("company", rec.ID))
				return nil
			}
			defer rc.Claims.Release(rec.ID)

			mu.Lock()
			summary.Processed++
			mu.Unlock()

			if _, err := r.processor.Process(gctx, rc, rec); err != nil {
				return eris.Wrapf(err, "runner: company %s aborted the run", rec.ID)
			}

			if !last && !r.Stopped() {
				r.pause(gctx, r.companyDelay())
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		rc.Logger.Error("runner: run aborted", zap.Error(err))
		return err
	}
	return ctx.Err()
}

// pause waits d between companies, returning early on cancellation or Stop.
func (r *Runner) pause(ctx context.Context, d time.Duration) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-r.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()
	_ = r.sleep(ctx, d)
}

func (r *Runner) companyDelay() time.Duration {
	lo, hi := r.opts.DelayMin, r.opts.DelayMax
	if hi < lo {
		hi = lo
	}
	if hi <= 0 {
		return 0
	}
	if hi == lo {
		return lo
	}
	return lo + rand.N(hi-lo)
}

// tally fills per-status counts and the failure list from the ledger's current view.
func (r *Runner) tally(ctx context.Context, records []*types.CompanyRecord, summary *Summary) {
	for _, rec := range records {
		current := rec
		if !r.opts.DryRun {
			if stored, err := r.store.Get(ctx, rec.ID); err == nil && stored != nil {
				current = stored
			}
		}
		summary.Counts[current.Status]++
		if current.Status == types.StatusFailed && current.FailureReason != nil {
			summary.Failures = append(summary.Failures, Failure{
				ID:      current.ID,
				Company: current.Name,
				Stage:   current.FailureReason.Stage,
				Kind:    current.FailureReason.Kind,
				Reason:  current.FailureReason.Message,
			})
		}
		if current.Status == types.StatusSent {
			summary.MessagesSent += current.SentCount()
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
