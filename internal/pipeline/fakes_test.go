package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jonathan/outreach-agent/internal/ratelimit"
	"github.com/jonathan/outreach-agent/internal/stage"
	"github.com/jonathan/outreach-agent/internal/types"
)

type fakeDiscoverer struct {
	mu       sync.Mutex
	contacts map[string][]types.Contact
	errs     []error
	calls    int
}

func (f *fakeDiscoverer) DiscoverContacts(_ context.Context, profileURL string) ([]types.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		if len(f.errs) > 1 {
			f.errs = f.errs[1:]
		}
		if err != nil {
			return nil, err
		}
	}
	return f.contacts[profileURL], nil
}

type fakeResolver struct {
	mu    sync.Mutex
	fail  map[string]error
	calls []string
}

func (f *fakeResolver) ResolveEmail(_ context.Context, fullName, domain string) (string, float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fullName)
	if err, ok := f.fail[fullName]; ok {
		return "", 0, err
	}
	local := strings.ToLower(strings.ReplaceAll(fullName, " ", "."))
	return local + "@" + domain, 0.9, nil
}

func (f *fakeResolver) callsLen() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeDrafter struct {
	mu    sync.Mutex
	fail  map[string]error
	calls int
}

func (f *fakeDrafter) DraftMessage(_ context.Context, contact types.Contact, company *types.CompanyRecord) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err, ok := f.fail[contact.FullName]; ok {
		return "", "", err
	}
	return "Hello from a fan of " + company.Name, "Hi " + contact.FirstName() + ",\n\nBody.", nil
}

type fakeSelector struct {
	err   error
	calls int
}

func (f *fakeSelector) SelectResume(_ context.Context, contact types.Contact, _ *types.CompanyRecord) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "resumes/" + string(contact.RoleCategory) + ".pdf", nil
}

type sentMessage struct {
	to         string
	subject    string
	attachment string
}

type fakeDeliverer struct {
	mu    sync.Mutex
	sent  []sentMessage
	fail  map[string][]error
	calls map[string]int
}

func newFakeDeliverer() *fakeDeliverer {
	return &fakeDeliverer{fail: map[string][]error{}, calls: map[string]int{}}
}

func (f *fakeDeliverer) DeliverMessage(_ context.Context, to, subject, _, attachmentPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[to]++
	if errs := f.fail[to]; len(errs) > 0 {
		err := errs[0]
		f.fail[to] = errs[1:]
		if err != nil {
			return err
		}
	}
	f.sent = append(f.sent, sentMessage{to: to, subject: subject, attachment: attachmentPath})
	return nil
}

// memoryStore is an in-memory ledger that records every upserted status.
type memoryStore struct {
	mu       sync.Mutex
	records  map[string]*types.CompanyRecord
	history  map[string][]types.Status
	failNext error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		records: map[string]*types.CompanyRecord{},
		history: map[string][]types.Status{},
	}
}

func (s *memoryStore) LoadAll(context.Context) ([]*types.CompanyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.CompanyRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Clone())
	}
	return out, nil
}

func (s *memoryStore) Get(_ context.Context, id string) (*types.CompanyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[id].Clone(), nil
}

func (s *memoryStore) Upsert(_ context.Context, rec *types.CompanyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return err
	}
	s.records[rec.ID] = rec.Clone()
	s.history[rec.ID] = append(s.history[rec.ID], rec.Status)
	return nil
}

func (s *memoryStore) Close() error { return nil }

var errLedgerDown = errors.New("disk full")

type harness struct {
	discoverer *fakeDiscoverer
	resolver   *fakeResolver
	drafter    *fakeDrafter
	selector   *fakeSelector
	deliverer  *fakeDeliverer
	store      *memoryStore
	delays     []time.Duration
	events     []ProgressEvent
	orch       *Orchestrator
	rc         *RunContext
}

const defaultResume = "resumes/default.pdf"

func newHarness(excluded []string) *harness {
	h := &harness{
		discoverer: &fakeDiscoverer{contacts: map[string][]types.Contact{}},
		resolver:   &fakeResolver{fail: map[string]error{}},
		drafter:    &fakeDrafter{fail: map[string]error{}},
		selector:   &fakeSelector{},
		deliverer:  newFakeDeliverer(),
		store:      newMemoryStore(),
	}

	sleeper := func(ctx context.Context, d time.Duration) error {
		h.delays = append(h.delays, d)
		return ctx.Err()
	}
	h.rc = NewRunContext(RunContextOptions{
		RunID:    "test-run",
		Limiter:  ratelimit.NewLimiter(nil),
		Executor: stage.NewExecutor(stage.DefaultConfig(), stage.WithSleeper(sleeper)),
	})

	orch, err := New(Dependencies{
		Discoverer: h.discoverer,
		Resolver:   h.resolver,
		Drafter:    h.drafter,
		Selector:   h.selector,
		Deliverer:  h.deliverer,
		Store:      h.store,
	}, Options{
		ExcludedLocations: excluded,
		DefaultResumePath: defaultResume,
		OnProgress:        func(e ProgressEvent) { h.events = append(h.events, e) },
		Now:               func() time.Time { return time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		panic(err)
	}
	h.orch = orch
	return h
}

func company(name, location string) *types.CompanyRecord {
	row := types.CompanyRow{
		Name:       name,
		Website:    "https://www." + strings.ToLower(name) + ".com/",
		ProfileURL: "https://www.linkedin.com/company/" + strings.ToLower(name) + "/",
		Location:   location,
	}
	return types.NewCompanyRecord(row, time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC))
}

func threeContacts() []types.Contact {
	return []types.Contact{
		{FullName: "Ada Lovelace", Title: "CEO", RoleCategory: types.RoleLeadership},
		{FullName: "Grace Hopper", Title: "Head of Data", RoleCategory: types.RoleDataAI},
		{FullName: "Alan Turing", Title: "Technical Recruiter", RoleCategory: types.RoleRecruiter},
	}
}
