package runner

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/outreach-agent/internal/ledger"
	"github.com/jonathan/outreach-agent/internal/pipeline"
	"github.com/jonathan/outreach-agent/internal/ratelimit"
	"github.com/jonathan/outreach-agent/internal/types"
)

type staticSource struct {
	rows []types.CompanyRow
	err  error
}

func (s staticSource) LoadCompanies(context.Context) ([]types.CompanyRow, error) {
	return s.rows, s.err
}

// mockProcessor records the order companies are handed over and, unless told otherwise,
// marks each one Sent in the ledger.
type mockProcessor struct {
	mock.Mock
	store ledger.Store
	mu    sync.Mutex
	order []string
}

func (m *mockProcessor) Process(ctx context.Context, rc *pipeline.RunContext, rec *types.CompanyRecord) (*types.CompanyRecord, error) {
	args := m.Called(ctx, rc, rec)
	m.mu.Lock()
	m.order = append(m.order, rec.ID)
	m.mu.Unlock()
	if err := args.Error(1); err != nil {
		return nil, err
	}
	out := rec.Clone()
	out.Status = types.StatusSent
	out.SentTo = append(out.SentTo, "ceo@"+out.Domain())
	if err := m.store.Upsert(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func rows(names ...string) []types.CompanyRow {
	out := make([]types.CompanyRow, len(names))
	for i, name := range names {
		out[i] = types.CompanyRow{
			Row:        i + 2,
			Name:       name,
			Website:    "https://" + name + ".com",
			ProfileURL: "https://www.linkedin.com/company/" + name,
			Location:   "Remote",
		}
	}
	return out
}

func newStore(t *testing.T) *ledger.FileStore {
	t.Helper()
	store, err := ledger.OpenFile(filepath.Join(t.TempDir(), "ledger.json"))
	require.NoError(t, err)
	return store
}

func newRunContext() *pipeline.RunContext {
	return pipeline.NewRunContext(pipeline.RunContextOptions{RunID: "run-1", Limiter: ratelimit.NewLimiter(nil)})
}

func newRunner(src pipeline.CompanySource, store ledger.Store, proc Processor, opts Options) *Runner {
	r := New(src, store, proc, opts)
	r.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return r
}

func TestRun_ProcessesInInputOrder(t *testing.T) {
	store := newStore(t)
	proc := &mockProcessor{store: store}
	proc.On("Process", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)

	r := newRunner(staticSource{rows: rows("zeta", "alpha", "mid")}, store, proc, Options{})
	summary, err := r.Run(context.Background(), newRunContext())
	require.NoError(t, err)

	assert.Equal(t, []string{"zeta@zeta.com", "alpha@alpha.com", "mid@mid.com"}, proc.order)
	assert.Equal(t, 3, summary.Inserted)
	assert.Equal(t, 3, summary.Processed)
	assert.Equal(t, 0, summary.Remaining)
	assert.Equal(t, 3, summary.Count(types.StatusSent))
	assert.Equal(t, 3, summary.MessagesSent)
	assert.Equal(t, "run-1", summary.RunID)
	proc.AssertNumberOfCalls(t, "Process", 3)
}

func TestRun_RerunIsNoOp(t *testing.T) {
	store := newStore(t)
	proc := &mockProcessor{store: store}
	proc.On("Process", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)
	src := staticSource{rows: rows("acme", "beta")}

	_, err := newRunner(src, store, proc, Options{}).Run(context.Background(), newRunContext())
	require.NoError(t, err)

	summary, err := newRunner(src, store, proc, Options{}).Run(context.Background(), newRunContext())
	require.NoError(t, err)
	assert.Empty(t, summary.Planned)
	assert.Equal(t, 0, summary.Inserted)
	assert.Equal(t, 2, summary.Count(types.StatusSent))
	proc.AssertNumberOfCalls(t, "Process", 2)
}

func TestRun_ForceResetsButKeepsSendHistory(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	src := staticSource{rows: rows("acme", "beta")}

	sent := types.NewCompanyRecord(src.rows[0], time.Now())
	sent.Status = types.StatusSent
	sent.SentTo = []string{"ceo@acme.com"}
	require.NoError(t, store.Upsert(ctx, sent))
	skipped := types.NewCompanyRecord(src.rows[1], time.Now())
	skipped.Status = types.StatusSkipped
	skipped.SkipReason = "no contacts found"
	require.NoError(t, store.Upsert(ctx, skipped))

	proc := &mockProcessor{store: store}
	proc.On("Process", mock.Anything, mock.Anything, mock.MatchedBy(func(rec *types.CompanyRecord) bool {
		return rec.Status == types.StatusPending
	})).Return(nil, nil)

	summary, err := newRunner(src, store, proc, Options{Force: true}).Run(ctx, newRunContext())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Reset)
	proc.AssertNumberOfCalls(t, "Process", 2)

	got, err := store.Get(ctx, sent.ID)
	require.NoError(t, err)
	assert.Contains(t, got.SentTo, "ceo@acme.com")
}

func TestRun_CapAndOnly(t *testing.T) {
	t.Run("cap", func(t *testing.T) {
		store := newStore(t)
		proc := &mockProcessor{store: store}
		proc.On("Process", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)

		summary, err := newRunner(staticSource{rows: rows("a1", "b2", "c3", "d4")}, store, proc, Options{MaxCompanies: 2}).
			Run(context.Background(), newRunContext())
		require.NoError(t, err)
		assert.Equal(t, []string{"a1@a1.com", "b2@b2.com"}, proc.order)
		assert.Equal(t, 2, summary.Count(types.StatusPending))
	})

	t.Run("only", func(t *testing.T) {
		store := newStore(t)
		proc := &mockProcessor{store: store}
		proc.On("Process", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)

		_, err := newRunner(staticSource{rows: rows("a1", "b2", "c3")}, store, proc, Options{Only: []string{"c3@c3.com"}}).
			Run(context.Background(), newRunContext())
		require.NoError(t, err)
		assert.Equal(t, []string{"c3@c3.com"}, proc.order)
	})
}

func TestRun_RejectedRowsReported(t *testing.T) {
	store := newStore(t)
	proc := &mockProcessor{store: store}
	proc.On("Process", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)

	in := rows("acme", "acme", "beta")
	in = append(in, types.CompanyRow{Row: 9, Name: "", Website: "https://nameless.com"})

	summary, err := newRunner(staticSource{rows: in}, store, proc, Options{}).Run(context.Background(), newRunContext())
	require.NoError(t, err)
	require.Len(t, summary.Rejected, 2)
	assert.Equal(t, 3, summary.Rejected[0].Row)
	assert.Equal(t, 9, summary.Rejected[1].Row)
	assert.Equal(t, 4, summary.Loaded)
	proc.AssertNumberOfCalls(t, "Process", 2)
}

func TestRun_StopFinishesCurrentCompany(t *testing.T) {
	store := newStore(t)
	proc := &mockProcessor{store: store}
	r := newRunner(staticSource{rows: rows("a1", "b2", "c3")}, store, proc, Options{})
	proc.On("Process", mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { r.Stop() }).
		Return(nil, nil)

	summary, err := r.Run(context.Background(), newRunContext())
	require.NoError(t, err)
	assert.True(t, summary.Stopped)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 2, summary.Remaining)
	assert.Equal(t, 1, summary.Count(types.StatusSent))
	assert.Equal(t, 2, summary.Count(types.StatusPending))
}

func TestRun_FatalErrorAbortsRun(t *testing.T) {
	store := newStore(t)
	proc := &mockProcessor{store: store}
	proc.On("Process", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("ledger write failed"))

	summary, err := newRunner(staticSource{rows: rows("a1", "b2")}, store, proc, Options{}).
		Run(context.Background(), newRunContext())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a1@a1.com")
	assert.Equal(t, 1, summary.Processed)
	proc.AssertNumberOfCalls(t, "Process", 1)
}

func TestRun_LoadErrorIsReturned(t *testing.T) {
	store := newStore(t)
	proc := &mockProcessor{store: store}

	_, err := newRunner(staticSource{err: errors.New("no such file")}, store, proc, Options{}).
		Run(context.Background(), newRunContext())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load companies")
	proc.AssertNotCalled(t, "Process", mock.Anything, mock.Anything, mock.Anything)
}

func TestRun_DryRunWritesNothing(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	proc := &mockProcessor{store: store}

	summary, err := newRunner(staticSource{rows: rows("a1", "b2")}, store, proc, Options{DryRun: true}).
		Run(ctx, newRunContext())
	require.NoError(t, err)
	assert.True(t, summary.DryRun)
	assert.Equal(t, []string{"a1@a1.com", "b2@b2.com"}, summary.Planned)
	assert.Equal(t, 2, summary.Count(types.StatusPending))

	all, err := store.LoadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
	proc.AssertNotCalled(t, "Process", mock.Anything, mock.Anything, mock.Anything)
}

func TestRun_WorkersProcessEveryCompanyOnce(t *testing.T) {
	store := newStore(t)
	proc := &mockProcessor{store: store}
	proc.On("Process", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)

	names := []string{"a1", "b2", "c3", "d4", "e5", "f6", "g7", "h8"}
	summary, err := newRunner(staticSource{rows: rows(names...)}, store, proc, Options{Workers: 3}).
		Run(context.Background(), newRunContext())
	require.NoError(t, err)
	assert.Len(t, proc.order, len(names))
	assert.Equal(t, len(names), summary.Count(types.StatusSent))
}

func TestRun_FailuresListed(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	proc := processorFunc(func(ctx context.Context, _ *pipeline.RunContext, rec *types.CompanyRecord) (*types.CompanyRecord, error) {
		out := rec.Clone()
		out.Status = types.StatusFailed
		out.FailureReason = &types.FailureReason{Kind: types.ErrorTransient, Stage: "infer-email", Message: "lookup timed out"}
		return out, store.Upsert(ctx, out)
	})

	summary, err := newRunner(staticSource{rows: rows("acme")}, store, proc, Options{}).Run(ctx, newRunContext())
	require.NoError(t, err)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, "acme@acme.com", summary.Failures[0].ID)
	assert.Equal(t, "infer-email", summary.Failures[0].Stage)
	assert.Equal(t, types.ErrorTransient, summary.Failures[0].Kind)
	assert.Equal(t, 1, summary.Count(types.StatusFailed))
}

type processorFunc func(ctx context.Context, rc *pipeline.RunContext, rec *types.CompanyRecord) (*types.CompanyRecord, error)

func (f processorFunc) Process(ctx context.Context, rc *pipeline.RunContext, rec *types.CompanyRecord) (*types.CompanyRecord, error) {
	return f(ctx, rc, rec)
}

func TestRun_StopCutsShortTheDelayBetweenCompanies(t *testing.T) {
	store := newStore(t)
	var r *Runner
	var processed []string
	proc := processorFunc(func(ctx context.Context, _ *pipeline.RunContext, rec *types.CompanyRecord) (*types.CompanyRecord, error) {
		processed = append(processed, rec.ID)
		time.AfterFunc(20*time.Millisecond, r.Stop)
		return rec, nil
	})
	r = New(staticSource{rows: rows("a1", "b2")}, store, proc, Options{DelayMin: time.Hour, DelayMax: time.Hour})

	done := make(chan *Summary, 1)
	go func() {
		summary, err := r.Run(context.Background(), newRunContext())
		assert.NoError(t, err)
		done <- summary
	}()

	select {
	case summary := <-done:
		assert.True(t, summary.Stopped)
		assert.Equal(t, 1, summary.Processed)
		assert.Equal(t, 1, summary.Remaining)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop during the delay between companies")
	}
	assert.Len(t, processed, 1)
}

func TestCompanyDelay(t *testing.T) {
	r := New(nil, nil, nil, Options{DelayMin: 30 * time.Second, DelayMax: 60 * time.Second})
	for range 20 {
		d := r.companyDelay()
		assert.GreaterOrEqual(t, d, 30*time.Second)
		assert.Less(t, d, 60*time.Second)
	}
	assert.Equal(t, time.Duration(0), New(nil, nil, nil, Options{}).companyDelay())
	assert.Equal(t, 5*time.Second, New(nil, nil, nil, Options{DelayMin: 5 * time.Second}).companyDelay())
}
