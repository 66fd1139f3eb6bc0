package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/outreach-agent/internal/ledger"
	"github.com/jonathan/outreach-agent/internal/ratelimit"
	"github.com/jonathan/outreach-agent/internal/stage"
	"github.com/jonathan/outreach-agent/internal/types"
)

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(Dependencies{}, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discoverer")
	assert.Contains(t, err.Error(), "store")
}

func TestProcess_HappyPath(t *testing.T) {
	h := newHarness(nil)
	rec := company("Acme", "Austin, TX")
	h.discoverer.contacts[rec.ProfileURL] = threeContacts()

	got, err := h.orch.Process(context.Background(), h.rc, rec)
	require.NoError(t, err)

	assert.Equal(t, types.StatusSent, got.Status)
	require.Len(t, got.Contacts, 3)
	for _, c := range got.Contacts {
		assert.True(t, c.Sent)
		assert.NotNil(t, c.SentAt)
		assert.NotEmpty(t, c.DraftBody)
		assert.Equal(t, 0.9, c.EmailConfidence)
	}
	assert.Len(t, h.deliverer.sent, 3)
	assert.Equal(t, "resumes/leadership.pdf", h.deliverer.sent[0].attachment)
	assert.ElementsMatch(t, []string{"ada.lovelace@acme.com", "grace.hopper@acme.com", "alan.turing@acme.com"}, got.SentTo)

	stored, err := h.store.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusSent, stored.Status)

	// every stage transition is persisted, in order, before the next stage
	history := h.store.history[rec.ID]
	require.NotEmpty(t, history)
	assert.Equal(t, []types.Status{
		types.StatusContactsFound,
		types.StatusEmailResolved,
		types.StatusMessageDrafted,
		types.StatusResumeSelected,
	}, history[:4])
	assert.Equal(t, types.StatusSent, history[len(history)-1])

	require.NotEmpty(t, h.events)
	assert.Equal(t, types.StatusSent, h.events[len(h.events)-1].Status)
	assert.Equal(t, int64(3), h.rc.Counters.MessagesSent.Load())
}

func TestProcess_IdempotentRerun(t *testing.T) {
	h := newHarness(nil)
	rec := company("Acme", "Austin, TX")
	h.discoverer.contacts[rec.ProfileURL] = threeContacts()
	ctx := context.Background()

	first, err := h.orch.Process(ctx, h.rc, rec)
	require.NoError(t, err)
	upserts := len(h.store.history[rec.ID])

	second, err := h.orch.Process(ctx, h.rc, first)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, h.discoverer.calls)
	assert.Len(t, h.deliverer.sent, 3)
	assert.Len(t, h.store.history[rec.ID], upserts)
}

func TestProcess_ContactOrderPreserved(t *testing.T) {
	h := newHarness(nil)
	rec := company("Acme", "")
	h.discoverer.contacts[rec.ProfileURL] = threeContacts()
	h.resolver.fail["Grace Hopper"] = stage.ErrEmptyResult

	got, err := h.orch.Process(context.Background(), h.rc, rec)
	require.NoError(t, err)

	require.Len(t, got.Contacts, 2)
	assert.Equal(t, "Ada Lovelace", got.Contacts[0].FullName)
	assert.Equal(t, 0, got.Contacts[0].Position)
	assert.Equal(t, "Alan Turing", got.Contacts[1].FullName)
	assert.Equal(t, 2, got.Contacts[1].Position)
	require.Len(t, h.deliverer.sent, 2)
	assert.Equal(t, "ada.lovelace@acme.com", h.deliverer.sent[0].to)
	assert.Equal(t, "alan.turing@acme.com", h.deliverer.sent[1].to)
}

func TestProcess_ExcludedLocationSkipsWithoutDiscovery(t *testing.T) {
	h := newHarness([]string{"new york", "Midwest"})
	rec := company("Acme", "Brooklyn, NEW YORK")
	h.discoverer.contacts[rec.ProfileURL] = threeContacts()

	got, err := h.orch.Process(context.Background(), h.rc, rec)
	require.NoError(t, err)

	assert.Equal(t, types.StatusSkipped, got.Status)
	assert.Contains(t, got.SkipReason, "new york")
	assert.Equal(t, 0, h.discoverer.calls)
	assert.Empty(t, h.deliverer.sent)
	assert.Equal(t, []types.Status{types.StatusSkipped}, h.store.history[rec.ID])
}

func TestProcess_NoContactsSkipped(t *testing.T) {
	h := newHarness(nil)
	rec := company("Acme", "Denver, CO")

	got, err := h.orch.Process(context.Background(), h.rc, rec)
	require.NoError(t, err)
	assert.Equal(t, types.StatusSkipped, got.Status)
	assert.Equal(t, ReasonNoContacts, got.SkipReason)
	assert.Equal(t, 0, h.resolver.callsLen())
}

func TestProcess_MissingProfileURLFails(t *testing.T) {
	h := newHarness(nil)
	rec := company("Acme", "")
	rec.ProfileURL = ""

	got, err := h.orch.Process(context.Background(), h.rc, rec)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, got.Status)
	assert.Equal(t, ReasonMissingProfileURL, got.FailureReason.Message)
	assert.Equal(t, types.ErrorPermanent, got.FailureReason.Kind)
	assert.Equal(t, 0, h.discoverer.calls)
}

func TestProcess_PartialFailureContained(t *testing.T) {
	h := newHarness(nil)
	rec := company("Acme", "")
	h.discoverer.contacts[rec.ProfileURL] = threeContacts()
	h.drafter.fail["Ada Lovelace"] = NewGenerationError(stage.Permanent, "model refused", nil)
	h.deliverer.fail["alan.turing@acme.com"] = []error{NewDeliveryError(stage.Permanent, "mailbox unavailable", nil)}

	got, err := h.orch.Process(context.Background(), h.rc, rec)
	require.NoError(t, err)

	assert.Equal(t, types.StatusSent, got.Status)
	require.Len(t, got.Contacts, 2)
	assert.True(t, got.Contacts[0].Sent)
	assert.False(t, got.Contacts[1].Sent)
	assert.Contains(t, got.Contacts[1].SendError, "mailbox unavailable")
	assert.Equal(t, 1, got.SentCount())
}

func TestProcess_TotalFailurePropagates(t *testing.T) {
	t.Run("no resolvable contacts", func(t *testing.T) {
		h := newHarness(nil)
		rec := company("Acme", "")
		h.discoverer.contacts[rec.ProfileURL] = threeContacts()
		for _, c := range threeContacts() {
			h.resolver.fail[c.FullName] = NewLookupError(stage.Permanent, "no mx", nil)
		}

		got, err := h.orch.Process(context.Background(), h.rc, rec)
		require.NoError(t, err)
		assert.Equal(t, types.StatusFailed, got.Status)
		assert.Equal(t, ReasonNoResolvable, got.FailureReason.Message)
		assert.Equal(t, stage.InferEmail, got.FailureReason.Stage)
		assert.Equal(t, types.StatusContactsFound, got.ResumeFrom)
		assert.Equal(t, 0, h.drafter.calls)
	})

	t.Run("no draftable contacts", func(t *testing.T) {
		h := newHarness(nil)
		rec := company("Acme", "")
		h.discoverer.contacts[rec.ProfileURL] = threeContacts()
		for _, c := range threeContacts() {
			h.drafter.fail[c.FullName] = stage.ErrEmptyResult
		}

		got, err := h.orch.Process(context.Background(), h.rc, rec)
		require.NoError(t, err)
		assert.Equal(t, types.StatusFailed, got.Status)
		assert.Equal(t, ReasonNoDraftable, got.FailureReason.Message)
		assert.Empty(t, h.deliverer.sent)
	})

	t.Run("all sends failed", func(t *testing.T) {
		h := newHarness(nil)
		rec := company("Acme", "")
		h.discoverer.contacts[rec.ProfileURL] = threeContacts()[:1]
		h.deliverer.fail["ada.lovelace@acme.com"] = []error{NewDeliveryError(stage.Permanent, "rejected", nil)}

		got, err := h.orch.Process(context.Background(), h.rc, rec)
		require.NoError(t, err)
		assert.Equal(t, types.StatusFailed, got.Status)
		assert.Equal(t, ReasonAllSendsFailed, got.FailureReason.Message)
		assert.Equal(t, types.StatusResumeSelected, got.ResumeFrom)
	})
}

func TestProcess_RetryBackoffThenFailed(t *testing.T) {
	h := newHarness(nil)
	rec := company("Acme", "")
	h.discoverer.errs = []error{NewScrapeError(stage.Transient, "timeout", context.DeadlineExceeded)}

	got, err := h.orch.Process(context.Background(), h.rc, rec)
	require.NoError(t, err)

	assert.Equal(t, types.StatusFailed, got.Status)
	assert.Equal(t, types.ErrorTransient, got.FailureReason.Kind)
	assert.Equal(t, 1+stage.DefaultConfig().MaxRetries, h.discoverer.calls)
	assert.Equal(t, 1+stage.DefaultConfig().MaxRetries, got.Attempts[stage.DiscoverContacts])
	require.Len(t, h.delays, stage.DefaultConfig().MaxRetries)
	for i := 1; i < len(h.delays); i++ {
		assert.Greater(t, h.delays[i], h.delays[i-1])
	}
}

func TestProcess_ResumeSelectionNeverFatal(t *testing.T) {
	h := newHarness(nil)
	rec := company("Acme", "")
	h.discoverer.contacts[rec.ProfileURL] = threeContacts()[:2]
	h.selector.err = NewSelectionError(stage.Permanent, "no resumes", nil)

	got, err := h.orch.Process(context.Background(), h.rc, rec)
	require.NoError(t, err)

	assert.Equal(t, types.StatusSent, got.Status)
	for _, c := range got.Contacts {
		assert.Equal(t, defaultResume, c.SelectedResumePath)
		assert.True(t, c.ResumeFallback)
	}
	for _, m := range h.deliverer.sent {
		assert.Equal(t, defaultResume, m.attachment)
	}
}

func TestProcess_TexasScenario(t *testing.T) {
	h := newHarness(DefaultExcludedLocations)
	rec := company("A", "Texas")
	h.discoverer.contacts[rec.ProfileURL] = threeContacts()
	h.deliverer.fail["alan.turing@a.com"] = []error{NewDeliveryError(stage.Transient, "421 try later", nil)}

	got, err := h.orch.Process(context.Background(), h.rc, rec)
	require.NoError(t, err)

	assert.Equal(t, types.StatusSent, got.Status)
	require.Len(t, got.Contacts, 3)
	for _, c := range got.Contacts {
		assert.True(t, c.Sent, c.FullName)
	}
	assert.Equal(t, 2, h.deliverer.calls["alan.turing@a.com"])
	assert.Equal(t, 1, h.deliverer.calls["ada.lovelace@a.com"])

	stored, err := h.store.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	require.Len(t, stored.Contacts, 3)
	for _, c := range stored.Contacts {
		assert.True(t, c.Sent)
	}
}

func TestProcess_FailedCompanyResumesFromLastGoodStatus(t *testing.T) {
	h := newHarness(nil)
	rec := company("Acme", "")
	h.discoverer.contacts[rec.ProfileURL] = threeContacts()[:2]
	h.deliverer.fail["ada.lovelace@acme.com"] = []error{NewDeliveryError(stage.Permanent, "rejected", nil)}
	h.deliverer.fail["grace.hopper@acme.com"] = []error{NewDeliveryError(stage.Permanent, "rejected", nil)}
	ctx := context.Background()

	failed, err := h.orch.Process(ctx, h.rc, rec)
	require.NoError(t, err)
	require.Equal(t, types.StatusFailed, failed.Status)

	retried, err := h.orch.Process(ctx, h.rc, failed)
	require.NoError(t, err)

	assert.Equal(t, types.StatusSent, retried.Status)
	assert.Nil(t, retried.FailureReason)
	assert.Equal(t, 1, h.discoverer.calls, "discovery is not repeated")
	assert.Equal(t, 2, h.drafter.calls, "drafting is not repeated")
	assert.Len(t, h.deliverer.sent, 2)
}

func TestProcess_NeverResendsToMailedAddress(t *testing.T) {
	h := newHarness(nil)
	rec := company("Acme", "")
	h.discoverer.contacts[rec.ProfileURL] = threeContacts()[:1]
	rec.SentTo = []string{"ada.lovelace@acme.com"}

	got, err := h.orch.Process(context.Background(), h.rc, rec)
	require.NoError(t, err)

	assert.Equal(t, types.StatusSent, got.Status)
	assert.Empty(t, h.deliverer.sent)
	assert.True(t, got.Contacts[0].Sent)
	assert.Len(t, got.SentTo, 1)
}

func TestProcess_LedgerFailureIsFatal(t *testing.T) {
	h := newHarness(nil)
	rec := company("Acme", "")
	h.discoverer.contacts[rec.ProfileURL] = threeContacts()
	h.store.failNext = &ledger.Error{Op: "upsert", ID: rec.ID, Message: "write failed", Cause: errLedgerDown}

	_, err := h.orch.Process(context.Background(), h.rc, rec)
	require.Error(t, err)
	assert.Equal(t, types.ErrorFatal, stage.Classify(err))
	assert.True(t, errors.Is(err, errLedgerDown))
	assert.Equal(t, 0, h.resolver.callsLen(), "no stage runs after a failed write")
}

func TestProcess_CancelledContextStops(t *testing.T) {
	h := newHarness(nil)
	rec := company("Acme", "")
	h.discoverer.contacts[rec.ProfileURL] = threeContacts()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.orch.Process(ctx, h.rc, rec)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, h.store.history[rec.ID])
}

// cancellingDeliverer delivers every message and cancels the run after the first one.
type cancellingDeliverer struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	calls  map[string]int
}

func (d *cancellingDeliverer) DeliverMessage(_ context.Context, to, _, _, _ string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls[to]++
	d.cancel()
	return nil
}

func TestProcess_SentMarkerSurvivesCancellation(t *testing.T) {
	store, err := ledger.OpenFile(filepath.Join(t.TempDir(), "ledger.json"))
	require.NoError(t, err)
	h := newHarness(nil)
	rec := company("Acme", "")
	h.discoverer.contacts[rec.ProfileURL] = threeContacts()[:2]

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	deliverer := &cancellingDeliverer{cancel: cancel, calls: map[string]int{}}
	orch, err := New(Dependencies{
		Discoverer: h.discoverer,
		Resolver:   h.resolver,
		Drafter:    h.drafter,
		Selector:   h.selector,
		Deliverer:  deliverer,
		Store:      store,
	}, Options{DefaultResumePath: defaultResume})
	require.NoError(t, err)

	_, err = orch.Process(ctx, h.rc, rec)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	stored, err := store.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, types.StatusResumeSelected, stored.Status)
	require.Len(t, stored.Contacts, 2)
	assert.True(t, stored.Contacts[0].Sent)
	assert.NotNil(t, stored.Contacts[0].SentAt)
	assert.False(t, stored.Contacts[1].Sent)
	assert.Equal(t, []string{"ada.lovelace@acme.com"}, stored.SentTo)

	// the next run picks up from the ledger and mails each address exactly once
	got, err := orch.Process(context.Background(), h.rc, stored)
	require.NoError(t, err)
	assert.Equal(t, types.StatusSent, got.Status)
	assert.Equal(t, map[string]int{"ada.lovelace@acme.com": 1, "grace.hopper@acme.com": 1}, deliverer.calls)
	assert.ElementsMatch(t, []string{"ada.lovelace@acme.com", "grace.hopper@acme.com"}, got.SentTo)
}

// cancellingDiscoverer returns its contacts and cancels the run on the way out.
type cancellingDiscoverer struct {
	contacts []types.Contact
	cancel   context.CancelFunc
}

func (d *cancellingDiscoverer) DiscoverContacts(context.Context, string) ([]types.Contact, error) {
	d.cancel()
	return d.contacts, nil
}

func TestProcess_CancelAfterDiscoveryKeepsContacts(t *testing.T) {
	h := newHarness(nil)
	rec := company("Acme", "")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	orch, err := New(Dependencies{
		Discoverer: &cancellingDiscoverer{contacts: threeContacts(), cancel: cancel},
		Resolver:   h.resolver,
		Drafter:    h.drafter,
		Selector:   h.selector,
		Deliverer:  h.deliverer,
		Store:      h.store,
	}, Options{DefaultResumePath: defaultResume})
	require.NoError(t, err)

	_, err = orch.Process(ctx, h.rc, rec)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, []types.Status{types.StatusContactsFound}, h.store.history[rec.ID])
	stored, err := h.store.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Contacts, 3)
	assert.Equal(t, 0, h.resolver.callsLen())
}

// cancellingResolver resolves the first name it sees and cancels the run.
type cancellingResolver struct {
	fakeResolver
	cancel context.CancelFunc
}

func (r *cancellingResolver) ResolveEmail(ctx context.Context, fullName, domain string) (string, float64, error) {
	email, confidence, err := r.fakeResolver.ResolveEmail(ctx, fullName, domain)
	r.cancel()
	return email, confidence, err
}

func TestProcess_CancelMidStageKeepsFinishedContacts(t *testing.T) {
	h := newHarness(nil)
	rec := company("Acme", "")
	rec.Status = types.StatusContactsFound
	rec.Contacts = threeContacts()
	types.AssignPositions(rec.Contacts)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	resolver := &cancellingResolver{fakeResolver: fakeResolver{fail: map[string]error{}}, cancel: cancel}
	orch, err := New(Dependencies{
		Discoverer: h.discoverer,
		Resolver:   resolver,
		Drafter:    h.drafter,
		Selector:   h.selector,
		Deliverer:  h.deliverer,
		Store:      h.store,
	}, Options{DefaultResumePath: defaultResume})
	require.NoError(t, err)

	_, err = orch.Process(ctx, h.rc, rec)
	require.ErrorIs(t, err, context.Canceled)

	stored, err := h.store.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, types.StatusContactsFound, stored.Status)
	require.Len(t, stored.Contacts, 3)
	assert.Equal(t, "ada.lovelace@acme.com", stored.Contacts[0].Email)
	assert.Empty(t, stored.Contacts[1].Email)

	// resuming only looks up the contacts still missing an address
	got, err := h.orch.Process(context.Background(), h.rc, stored)
	require.NoError(t, err)
	assert.Equal(t, types.StatusSent, got.Status)
	assert.Equal(t, []string{"Grace Hopper", "Alan Turing"}, h.resolver.calls)
	assert.Equal(t, 1, resolver.callsLen())
}

func TestProcess_ResumeSelectionTakesLLMSlots(t *testing.T) {
	h := newHarness(nil)
	rec := company("Acme", "")
	h.discoverer.contacts[rec.ProfileURL] = threeContacts()

	_, err := h.orch.Process(context.Background(), h.rc, rec)
	require.NoError(t, err)

	assert.Equal(t, 3, h.drafter.calls)
	assert.Equal(t, 3, h.selector.calls)
	assert.Equal(t, 6, h.rc.Limiter.Granted(ratelimit.ChannelLLM), "one slot per draft and per resume choice")
	assert.Equal(t, 3, h.rc.Limiter.Granted(ratelimit.ChannelSend))
}

func TestProcess_CapsContactsAtThree(t *testing.T) {
	h := newHarness(nil)
	rec := company("Acme", "")
	contacts := append(threeContacts(), types.Contact{FullName: "Extra Person", Title: "CTO", RoleCategory: types.RoleLeadership})
	h.discoverer.contacts[rec.ProfileURL] = contacts

	got, err := h.orch.Process(context.Background(), h.rc, rec)
	require.NoError(t, err)
	assert.Len(t, got.Contacts, types.MaxContactsPerCompany)
}

func TestLocationFilter(t *testing.T) {
	f := NewLocationFilter([]string{" Ohio ", "", "NYC"})

	pattern, ok := f.Match("Columbus, OHIO")
	assert.True(t, ok)
	assert.Equal(t, "ohio", pattern)

	_, ok = f.Match("")
	assert.False(t, ok)

	_, ok = f.Match("Austin, TX")
	assert.False(t, ok)

	_, ok = NewLocationFilter(DefaultExcludedLocations).Match("Sunnyvale, CA")
	assert.True(t, ok, "two-letter patterns match as substrings")
}

func TestRunContext_Defaults(t *testing.T) {
	rc := NewRunContext(RunContextOptions{})
	defer rc.Close()

	assert.NotEmpty(t, rc.RunID)
	assert.NotNil(t, rc.Limiter)
	assert.NotNil(t, rc.Executor)
	assert.NotNil(t, rc.Claims)
	assert.WithinDuration(t, time.Now(), rc.StartedAt, time.Second)
	assert.Contains(t, rc.Counters.Snapshot(), "messages_sent")
}

func TestCollaboratorErrors_Classify(t *testing.T) {
	err := NewScrapeError(stage.RateLimited, "429", nil)
	err.RetryAfter = 10 * time.Second

	assert.Equal(t, stage.RateLimited, stage.Classify(err))
	assert.Contains(t, err.Error(), "scrape error")
	assert.Equal(t, stage.Permanent, stage.Classify(NewDeliveryError(stage.Permanent, "x", nil)))

	cause := errors.New("boom")
	assert.ErrorIs(t, NewLookupError(stage.Transient, "dns", cause), cause)
}
