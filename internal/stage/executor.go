package stage

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/jonathan/outreach-agent/internal/types"
)

// Stage names used as keys in CompanyRecord.Attempts.
const (
	DiscoverContacts = "discover-contacts"
	InferEmail       = "infer-email"
	DraftMessage     = "draft-message"
	SelectResume     = "select-resume"
	SendMessage      = "send-message"
)

// Config controls retry and backoff behavior.
type Config struct {
	MaxRetries       int
	BackoffBase      time.Duration
	BackoffCap       time.Duration
	RateLimitPenalty time.Duration
}

// DefaultConfig returns the standard retry policy: 3 retries, 2s doubling backoff capped at 60s,
// and a 30s extra wait after a rate-limit response.
func DefaultConfig() Config {
	return Config{
		MaxRetries:       3,
		BackoffBase:      2 * time.Second,
		BackoffCap:       60 * time.Second,
		RateLimitPenalty: 30 * time.Second,
	}
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Result is the uniform outcome of a stage call.
type Result[T any] struct {
	Success   bool
	Value     T
	ErrorKind Kind
	Err       error
	// Tries is the number of times the collaborator was invoked.
	Tries int
}

// Executor runs collaborator calls with classification-driven retries.
type Executor struct {
	cfg    Config
	sleep  Sleeper
	logger *zap.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithSleeper replaces the real timer, mainly for tests.
func WithSleeper(s Sleeper) Option {
	return func(e *Executor) {
		e.sleep = s
	}
}

// WithLogger sets the logger used for retry events.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

// NewExecutor creates an Executor. Zero durations in cfg fall back to DefaultConfig; MaxRetries is taken as given.
func NewExecutor(cfg Config, opts ...Option) *Executor {
	defaults := DefaultConfig()
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = defaults.BackoffBase
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = defaults.BackoffCap
	}
	if cfg.RateLimitPenalty <= 0 {
		cfg.RateLimitPenalty = defaults.RateLimitPenalty
	}
	e := &Executor{
		cfg:    cfg,
		sleep:  sleepContext,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the executor's effective configuration.
func (e *Executor) Config() Config {
	return e.cfg
}

// Backoff returns the delay before retry number n (1-based).
func (e *Executor) Backoff(n int) time.Duration {
	delay := e.cfg.BackoffBase
	for i := 1; i < n; i++ {
		delay *= 2
		if delay >= e.cfg.BackoffCap {
			return e.cfg.BackoffCap
		}
	}
	if delay > e.cfg.BackoffCap {
		return e.cfg.BackoffCap
	}
	return delay
}

// Execute invokes call, retrying Transient and RateLimited failures up to MaxRetries times.
// rec.Attempts[stageName] counts failed tries and is reset to 0 on success; rec may be nil.
func Execute[T any](ctx context.Context, e *Executor, rec *types.CompanyRecord, stageName string, call func(context.Context) (T, error)) Result[T] {
	var zero T
	log := e.logger.With(zap.String("stage", stageName))
	if rec != nil {
		log = log.With(zap.String("company", rec.ID))
	}

	for try := 1; ; try++ {
		if err := ctx.Err(); err != nil {
			return Result[T]{Value: zero, ErrorKind: Transient, Err: err, Tries: try - 1}
		}

		value, err := call(ctx)
		if err == nil {
			setAttempts(rec, stageName, 0)
			return Result[T]{Success: true, Value: value, Tries: try}
		}

		kind := Classify(err)
		incrementAttempts(rec, stageName)

		if ctx.Err() != nil {
			return Result[T]{Value: zero, ErrorKind: kind, Err: err, Tries: try}
		}
		if !kind.Retryable() || try > e.cfg.MaxRetries {
			log.Debug("stage: giving up", zap.Int("tries", try), zap.String("kind", string(kind)), zap.Error(err))
			return Result[T]{Value: zero, ErrorKind: kind, Err: err, Tries: try}
		}

		delay := e.Backoff(try)
		if kind == RateLimited {
			penalty := retryAfter(err)
			if penalty <= 0 {
				penalty = e.cfg.RateLimitPenalty
			}
			delay += penalty
		}
		log.Debug("stage: retrying", zap.Int("try", try), zap.Duration("delay", delay), zap.String("kind", string(kind)), zap.Error(err))

		if sleepErr := e.sleep(ctx, delay); sleepErr != nil {
			return Result[T]{Value: zero, ErrorKind: kind, Err: err, Tries: try}
		}
	}
}

func incrementAttempts(rec *types.CompanyRecord, stageName string) {
	if rec == nil {
		return
	}
	if rec.Attempts == nil {
		rec.Attempts = map[string]int{}
	}
	rec.Attempts[stageName]++
}

func setAttempts(rec *types.CompanyRecord, stageName string, n int) {
	if rec == nil {
		return
	}
	if rec.Attempts == nil {
		rec.Attempts = map[string]int{}
	}
	rec.Attempts[stageName] = n
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
