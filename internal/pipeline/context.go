package pipeline

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jonathan/outreach-agent/internal/ledger"
	"github.com/jonathan/outreach-agent/internal/ratelimit"
	"github.com/jonathan/outreach-agent/internal/stage"
)

// Counters tracks per-run activity across all workers.
type Counters struct {
	ContactsDiscovered atomic.Int64
	EmailsResolved     atomic.Int64
	ContactsDropped    atomic.Int64
	MessagesDrafted    atomic.Int64
	ResumeFallbacks    atomic.Int64
	MessagesSent       atomic.Int64
	SendFailures       atomic.Int64
	CompaniesProcessed atomic.Int64
}

// Snapshot returns the current counter values keyed by name.
func (c *Counters) Snapshot() map[string]int64 {
	return map[string]int64{
		"contacts_discovered": c.ContactsDiscovered.Load(),
		"emails_resolved":     c.EmailsResolved.Load(),
		"contacts_dropped":    c.ContactsDropped.Load(),
		"messages_drafted":    c.MessagesDrafted.Load(),
		"resume_fallbacks":    c.ResumeFallbacks.Load(),
		"messages_sent":       c.MessagesSent.Load(),
		"send_failures":       c.SendFailures.Load(),
		"companies_processed": c.CompaniesProcessed.Load(),
	}
}

// RunContext holds the process-wide state of one run. It is created once at run start,
// shared by every worker and closed at run end.
type RunContext struct {
	RunID     string
	StartedAt time.Time
	Limiter   *ratelimit.Limiter
	Executor  *stage.Executor
	Claims    *ledger.Claims
	Logger    *zap.Logger
	Counters  *Counters
}

// RunContextOptions configures NewRunContext. Nil fields get working defaults.
type RunContextOptions struct {
	RunID    string
	Limiter  *ratelimit.Limiter
	Executor *stage.Executor
	Logger   *zap.Logger
}

// NewRunContext creates the shared state for a run.
func NewRunContext(opts RunContextOptions) *RunContext {
	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("run_id", runID))

	limiter := opts.Limiter
	if limiter == nil {
		limiter = ratelimit.NewLimiter(ratelimit.LoadConfig(nil))
	}
	executor := opts.Executor
	if executor == nil {
		executor = stage.NewExecutor(stage.DefaultConfig(), stage.WithLogger(logger))
	}

	return &RunContext{
		RunID:     runID,
		StartedAt: time.Now(),
		Limiter:   limiter,
		Executor:  executor,
		Claims:    ledger.NewClaims(),
		Logger:    logger,
		Counters:  &Counters{},
	}
}

// Close logs the run's final counters and flushes the logger.
func (rc *RunContext) Close() {
	fields := []zap.Field{zap.Duration("elapsed", time.Since(rc.StartedAt))}
	for name, value := range rc.Counters.Snapshot() {
		fields = append(fields, zap.Int64(name, value))
	}
	rc.Logger.Info("pipeline: run closed", fields...)
	_ = rc.Logger.Sync()
}
