// Package pipeline drives each company through the outreach stages: discover contacts,
// infer emails, draft messages, select resumes and send, persisting every transition.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/jonathan/outreach-agent/internal/ledger"
	"github.com/jonathan/outreach-agent/internal/ratelimit"
	"github.com/jonathan/outreach-agent/internal/stage"
	"github.com/jonathan/outreach-agent/internal/types"
)

// Failure and skip reasons recorded in the ledger.
const (
	ReasonNoContacts         = "no contacts found"
	ReasonNoResolvable       = "no resolvable contacts"
	ReasonNoDraftable        = "no draftable contacts"
	ReasonAllSendsFailed     = "all sends failed"
	ReasonMissingProfileURL  = "missing profile url"
	ReasonMissingDomain      = "missing website domain"
	reasonExcludedLocationFm = "excluded location %q matched %q"
)

// persistTimeout bounds a ledger write that outlives a cancelled run.
const persistTimeout = 30 * time.Second

// ProgressEvent represents a progress update during company processing.
type ProgressEvent struct {
	CompanyID string       `json:"company_id"`
	Company   string       `json:"company"`
	Stage     string       `json:"stage"`
	Status    types.Status `json:"status"`
	Message   string       `json:"message"`
}

// ProgressCallback is called after every persisted transition.
type ProgressCallback func(event ProgressEvent)

// Dependencies are the collaborators and ledger the orchestrator drives.
type Dependencies struct {
	Discoverer ContactDiscoverer
	Resolver   EmailResolver
	Drafter    MessageDrafter
	Selector   ResumeSelector
	Deliverer  MessageDeliverer
	Store      ledger.Store
}

// Options holds orchestrator policy.
type Options struct {
	ExcludedLocations []string
	DefaultResumePath string
	OnProgress        ProgressCallback
	// Now overrides the clock, mainly for tests.
	Now func() time.Time
}

// Orchestrator sequences the stages for one company at a time.
type Orchestrator struct {
	deps   Dependencies
	opts   Options
	filter *LocationFilter
	now    func() time.Time
}

// New validates deps and creates an Orchestrator.
func New(deps Dependencies, opts Options) (*Orchestrator, error) {
	var missing []string
	if deps.Discoverer == nil {
		missing = append(missing, "discoverer")
	}
	if deps.Resolver == nil {
		missing = append(missing, "resolver")
	}
	if deps.Drafter == nil {
		missing = append(missing, "drafter")
	}
	if deps.Selector == nil {
		missing = append(missing, "selector")
	}
	if deps.Deliverer == nil {
		missing = append(missing, "deliverer")
	}
	if deps.Store == nil {
		missing = append(missing, "store")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("pipeline: missing dependencies: %s", strings.Join(missing, ", "))
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		deps:   deps,
		opts:   opts,
		filter: NewLocationFilter(opts.ExcludedLocations),
		now:    now,
	}, nil
}

// Process runs the remaining stages for rec and returns the updated record.
// Sent and Skipped records are returned unchanged; Failed records resume from ResumeFrom.
// The returned error is non-nil only when the ledger could not be written (Fatal) or ctx
// was cancelled; every other failure is recorded on the record itself.
func (o *Orchestrator) Process(ctx context.Context, rc *RunContext, rec *types.CompanyRecord) (*types.CompanyRecord, error) {
	rec = rec.Clone()
	log := rc.Logger.With(zap.String("company", rec.ID))

	if rec.Status == types.StatusSent || rec.Status == types.StatusSkipped {
		log.Debug("pipeline: company already terminal", zap.String("status", string(rec.Status)))
		return rec, nil
	}
	if rec.Status == types.StatusFailed {
		resume := rec.ResumeFrom
		if resume == "" || resume.IsTerminal() {
			resume = types.StatusPending
		}
		log.Info("pipeline: retrying failed company", zap.String("resume_from", string(resume)))
		rec.Status = resume
		rec.FailureReason = nil
		rec.ResumeFrom = ""
	}

	defer rc.Counters.CompaniesProcessed.Add(1)

	for !rec.Status.IsTerminal() {
		var err error
		switch rec.Status {
		case types.StatusPending:
			err = o.discover(ctx, rc, log, rec)
		case types.StatusContactsFound:
			err = o.resolveEmails(ctx, rc, log, rec)
		case types.StatusEmailResolved:
			err = o.draftMessages(ctx, rc, log, rec)
		case types.StatusMessageDrafted:
			err = o.selectResumes(ctx, rc, log, rec)
		case types.StatusResumeSelected:
			err = o.send(ctx, rc, log, rec)
		default:
			err = eris.Errorf("company %s has unknown status %q", rec.ID, rec.Status)
		}
		if err != nil {
			return rec, err
		}
	}

	log.Info("pipeline: company complete", zap.String("status", string(rec.Status)), zap.Int("sent", rec.SentCount()))
	return rec, nil
}

func (o *Orchestrator) discover(ctx context.Context, rc *RunContext, log *zap.Logger, rec *types.CompanyRecord) error {
	if pattern, excluded := o.filter.Match(rec.Location); excluded {
		log.Info("pipeline: skipping excluded location", zap.String("location", rec.Location), zap.String("pattern", pattern))
		return o.skip(ctx, rec, fmt.Sprintf(reasonExcludedLocationFm, rec.Location, pattern))
	}
	if strings.TrimSpace(rec.ProfileURL) == "" {
		return o.fail(ctx, rec, stage.DiscoverContacts, stage.Permanent, ReasonMissingProfileURL)
	}

	// The discoverer spaces its own page loads on the scrape channel.
	res := stage.Execute(ctx, rc.Executor, rec, stage.DiscoverContacts, func(ctx context.Context) ([]types.Contact, error) {
		return o.deps.Discoverer.DiscoverContacts(ctx, rec.ProfileURL)
	})
	if ctx.Err() != nil && !res.Success {
		return ctx.Err()
	}
	if !res.Success && !errors.Is(res.Err, stage.ErrEmptyResult) {
		log.Warn("pipeline: discovery failed", zap.String("kind", string(res.ErrorKind)), zap.Error(res.Err))
		return o.fail(ctx, rec, stage.DiscoverContacts, res.ErrorKind, failureMessage(stage.DiscoverContacts, res.Err))
	}

	contacts := res.Value
	if len(contacts) > types.MaxContactsPerCompany {
		contacts = contacts[:types.MaxContactsPerCompany]
	}
	if len(contacts) == 0 {
		return o.skip(ctx, rec, ReasonNoContacts)
	}

	rec.Contacts = make([]types.Contact, len(contacts))
	copy(rec.Contacts, contacts)
	types.AssignPositions(rec.Contacts)
	rc.Counters.ContactsDiscovered.Add(int64(len(contacts)))

	return o.advance(ctx, rec, types.StatusContactsFound, stage.DiscoverContacts,
		fmt.Sprintf("found %d contact(s)", len(contacts)))
}

func (o *Orchestrator) resolveEmails(ctx context.Context, rc *RunContext, log *zap.Logger, rec *types.CompanyRecord) error {
	domain := rec.Domain()
	if domain == "" {
		return o.fail(ctx, rec, stage.InferEmail, stage.Permanent, ReasonMissingDomain)
	}

	dropped := make([]bool, len(rec.Contacts))
	progressed := false
	lastKind := stage.Permanent
	for i := range rec.Contacts {
		contact := rec.Contacts[i]
		if contact.Email != "" {
			continue
		}

		res := stage.Execute(ctx, rc.Executor, rec, stage.InferEmail, func(ctx context.Context) (resolvedEmail, error) {
			if err := rc.Limiter.Acquire(ctx, ratelimit.ChannelEmailLookup); err != nil {
				return resolvedEmail{}, err
			}
			email, confidence, err := o.deps.Resolver.ResolveEmail(ctx, contact.FullName, domain)
			if err != nil {
				return resolvedEmail{}, err
			}
			if strings.TrimSpace(email) == "" {
				return resolvedEmail{}, stage.ErrEmptyResult
			}
			return resolvedEmail{email: strings.TrimSpace(email), confidence: confidence}, nil
		})
		if ctx.Err() != nil && !res.Success {
			return o.interrupted(ctx, rec, stage.InferEmail, progressed)
		}
		if !res.Success {
			dropped[i] = true
			lastKind = res.ErrorKind
			rc.Counters.ContactsDropped.Add(1)
			log.Info("pipeline: dropping unresolvable contact", zap.String("contact", contact.FullName), zap.Error(res.Err))
			continue
		}

		rec.Contacts[i].Email = res.Value.email
		rec.Contacts[i].EmailConfidence = clampConfidence(res.Value.confidence)
		progressed = true
		rc.Counters.EmailsResolved.Add(1)
	}

	kept := keepContacts(rec.Contacts, dropped)
	if len(kept) == 0 {
		return o.fail(ctx, rec, stage.InferEmail, lastKind, ReasonNoResolvable)
	}
	rec.Contacts = kept
	return o.advance(ctx, rec, types.StatusEmailResolved, stage.InferEmail,
		fmt.Sprintf("resolved %d email(s)", len(kept)))
}

type resolvedEmail struct {
	email      string
	confidence float64
}

type draft struct {
	subject string
	body    string
}

func (o *Orchestrator) draftMessages(ctx context.Context, rc *RunContext, log *zap.Logger, rec *types.CompanyRecord) error {
	dropped := make([]bool, len(rec.Contacts))
	progressed := false
	lastKind := stage.Permanent
	for i := range rec.Contacts {
		contact := rec.Contacts[i]
		if contact.DraftSubject != "" && contact.DraftBody != "" {
			continue
		}

		res := stage.Execute(ctx, rc.Executor, rec, stage.DraftMessage, func(ctx context.Context) (draft, error) {
			if err := rc.Limiter.Acquire(ctx, ratelimit.ChannelLLM); err != nil {
				return draft{}, err
			}
			subject, body, err := o.deps.Drafter.DraftMessage(ctx, contact, rec)
			if err != nil {
				return draft{}, err
			}
			if strings.TrimSpace(subject) == "" || strings.TrimSpace(body) == "" {
				return draft{}, stage.ErrEmptyResult
			}
			return draft{subject: subject, body: body}, nil
		})
		if ctx.Err() != nil && !res.Success {
			return o.interrupted(ctx, rec, stage.DraftMessage, progressed)
		}
		if !res.Success {
			dropped[i] = true
			lastKind = res.ErrorKind
			rc.Counters.ContactsDropped.Add(1)
			log.Info("pipeline: dropping undraftable contact", zap.String("contact", contact.FullName), zap.Error(res.Err))
			continue
		}

		rec.Contacts[i].DraftSubject = res.Value.subject
		rec.Contacts[i].DraftBody = res.Value.body
		progressed = true
		rc.Counters.MessagesDrafted.Add(1)
	}

	kept := keepContacts(rec.Contacts, dropped)
	if len(kept) == 0 {
		return o.fail(ctx, rec, stage.DraftMessage, lastKind, ReasonNoDraftable)
	}
	rec.Contacts = kept
	return o.advance(ctx, rec, types.StatusMessageDrafted, stage.DraftMessage,
		fmt.Sprintf("drafted %d message(s)", len(kept)))
}

func (o *Orchestrator) selectResumes(ctx context.Context, rc *RunContext, log *zap.Logger, rec *types.CompanyRecord) error {
	progressed := false
	for i := range rec.Contacts {
		contact := rec.Contacts[i]
		if contact.SelectedResumePath != "" {
			continue
		}

		res := stage.Execute(ctx, rc.Executor, rec, stage.SelectResume, func(ctx context.Context) (string, error) {
			if err := rc.Limiter.Acquire(ctx, ratelimit.ChannelLLM); err != nil {
				return "", err
			}
			path, err := o.deps.Selector.SelectResume(ctx, contact, rec)
			if err != nil {
				return "", err
			}
			if strings.TrimSpace(path) == "" {
				return "", stage.ErrEmptyResult
			}
			return path, nil
		})
		if ctx.Err() != nil && !res.Success {
			return o.interrupted(ctx, rec, stage.SelectResume, progressed)
		}
		progressed = true
		if !res.Success {
			log.Info("pipeline: using default resume", zap.String("contact", contact.FullName), zap.Error(res.Err))
			rec.Contacts[i].SelectedResumePath = o.opts.DefaultResumePath
			rec.Contacts[i].ResumeFallback = true
			rc.Counters.ResumeFallbacks.Add(1)
			continue
		}
		rec.Contacts[i].SelectedResumePath = res.Value
		rec.Contacts[i].ResumeFallback = false
	}

	return o.advance(ctx, rec, types.StatusResumeSelected, stage.SelectResume, "resumes selected")
}

func (o *Orchestrator) send(ctx context.Context, rc *RunContext, log *zap.Logger, rec *types.CompanyRecord) error {
	lastKind := stage.Permanent
	for i := range rec.Contacts {
		contact := rec.Contacts[i]
		if contact.Sent {
			continue
		}
		if rec.AlreadySentTo(contact.Email) {
			log.Info("pipeline: address already mailed, not resending", zap.String("email", contact.Email))
			rec.Contacts[i].Sent = true
			rec.Contacts[i].SendError = ""
			if err := o.persist(ctx, rec, stage.SendMessage); err != nil {
				return err
			}
			continue
		}

		res := stage.Execute(ctx, rc.Executor, rec, stage.SendMessage, func(ctx context.Context) (struct{}, error) {
			if err := rc.Limiter.Acquire(ctx, ratelimit.ChannelSend); err != nil {
				return struct{}{}, err
			}
			return struct{}{}, o.deps.Deliverer.DeliverMessage(ctx, contact.Email, contact.DraftSubject, contact.DraftBody, contact.SelectedResumePath)
		})
		if ctx.Err() != nil && !res.Success {
			return ctx.Err()
		}

		if res.Success {
			sentAt := o.now().UTC()
			rec.Contacts[i].Sent = true
			rec.Contacts[i].SentAt = &sentAt
			rec.Contacts[i].SendError = ""
			rec.SentTo = append(rec.SentTo, strings.ToLower(contact.Email))
			rc.Counters.MessagesSent.Add(1)
			log.Info("pipeline: message sent", zap.String("email", contact.Email))
		} else {
			rec.Contacts[i].SendError = res.Err.Error()
			lastKind = res.ErrorKind
			rc.Counters.SendFailures.Add(1)
			log.Warn("pipeline: send failed", zap.String("email", contact.Email), zap.Error(res.Err))
		}
		if err := o.persist(ctx, rec, stage.SendMessage); err != nil {
			return err
		}
	}

	if rec.SentCount() == 0 {
		return o.fail(ctx, rec, stage.SendMessage, lastKind, ReasonAllSendsFailed)
	}
	return o.advance(ctx, rec, types.StatusSent, stage.SendMessage,
		fmt.Sprintf("sent %d of %d message(s)", rec.SentCount(), len(rec.Contacts)))
}

// advance moves rec to next and persists it.
func (o *Orchestrator) advance(ctx context.Context, rec *types.CompanyRecord, next types.Status, stageName, message string) error {
	if !rec.Status.CanTransitionTo(next) {
		return eris.Errorf("illegal transition %s -> %s for %s", rec.Status, next, rec.ID)
	}
	rec.Status = next
	if err := o.persist(ctx, rec, stageName); err != nil {
		return err
	}
	o.emit(rec, stageName, message)
	return nil
}

// skip marks rec Skipped with reason and persists it.
func (o *Orchestrator) skip(ctx context.Context, rec *types.CompanyRecord, reason string) error {
	rec.SkipReason = reason
	return o.advance(ctx, rec, types.StatusSkipped, stage.DiscoverContacts, reason)
}

// fail marks rec Failed, remembering the status to resume from, and persists it.
func (o *Orchestrator) fail(ctx context.Context, rec *types.CompanyRecord, stageName string, kind stage.Kind, message string) error {
	if kind == "" {
		kind = stage.Permanent
	}
	rec.ResumeFrom = rec.Status
	rec.FailureReason = &types.FailureReason{Kind: kind, Stage: stageName, Message: message}
	return o.advance(ctx, rec, types.StatusFailed, stageName, message)
}

// interrupted saves the work finished before ctx was cancelled and returns the cancellation.
func (o *Orchestrator) interrupted(ctx context.Context, rec *types.CompanyRecord, stageName string, progressed bool) error {
	if progressed {
		if err := o.persist(ctx, rec, stageName); err != nil {
			return err
		}
	}
	return ctx.Err()
}

// persist writes rec with one atomic upsert. Any ledger error is Fatal.
// The write is detached from ctx cancellation and bounded by persistTimeout.
func (o *Orchestrator) persist(ctx context.Context, rec *types.CompanyRecord, stageName string) error {
	rec.UpdatedAt = o.now().UTC()
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := o.deps.Store.Upsert(wctx, rec); err != nil {
		return eris.Wrapf(err, "persist %s after %s", rec.ID, stageName)
	}
	return nil
}

func (o *Orchestrator) emit(rec *types.CompanyRecord, stageName, message string) {
	if o.opts.OnProgress == nil {
		return
	}
	o.opts.OnProgress(ProgressEvent{
		CompanyID: rec.ID,
		Company:   rec.Name,
		Stage:     stageName,
		Status:    rec.Status,
		Message:   message,
	})
}

// keepContacts returns contacts minus the dropped ones, preserving order.
func keepContacts(contacts []types.Contact, dropped []bool) []types.Contact {
	kept := make([]types.Contact, 0, len(contacts))
	for i, c := range contacts {
		if !dropped[i] {
			kept = append(kept, c)
		}
	}
	return kept
}

func clampConfidence(c float64) float64 {
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}
