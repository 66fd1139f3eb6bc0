// Package emailfinder resolves a contact's work address from their name and the company
// domain, using Hunter.io when a key is configured and MX-gated pattern guesses otherwise.
package emailfinder

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/jonathan/outreach-agent/internal/pipeline"
	"github.com/jonathan/outreach-agent/internal/stage"
)

// Confidence levels reported with a resolved address.
const (
	ConfidenceVerified = 0.9
	ConfidencePattern  = 0.7
	ConfidenceGuess    = 0.5
)

// MXLookup is satisfied by *net.Resolver.
type MXLookup interface {
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
}

// Hunter is the subset of HunterClient used by the resolver.
type Hunter interface {
	DomainSearch(ctx context.Context, domain string) (*DomainResult, error)
	FindEmail(ctx context.Context, domain, first, last string) (*FinderResult, error)
}

// Resolver implements pipeline.EmailResolver.
type Resolver struct {
	hunter   Hunter
	mx       MXLookup
	validate *validator.Validate
	logger   *zap.Logger

	mu       sync.Mutex
	mxCache  map[string]bool
	patterns map[string]string
}

// NewResolver creates a Resolver. A nil hunter disables the API lookup; a nil mx uses
// net.DefaultResolver.
func NewResolver(hunter Hunter, mx MXLookup, logger *zap.Logger) *Resolver {
	if mx == nil {
		mx = net.DefaultResolver
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		hunter:   hunter,
		mx:       mx,
		validate: validator.New(),
		logger:   logger,
		mxCache:  make(map[string]bool),
		patterns: make(map[string]string),
	}
}

// ResolveEmail returns the most likely address for fullName at domain with a confidence
// in [0,1].
func (r *Resolver) ResolveEmail(ctx context.Context, fullName, domain string) (string, float64, error) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	first, last, ok := SplitName(fullName)
	if !ok {
		return "", 0, pipeline.NewLookupError(stage.Permanent, fmt.Sprintf("name %q needs a first and last name", fullName), nil)
	}

	if r.hunter != nil {
		email, confidence, err := r.fromHunter(ctx, domain, first, last)
		if err != nil {
			kind := stage.Classify(err)
			if kind == stage.Transient || kind == stage.RateLimited {
				return "", 0, err
			}
			r.logger.Debug("emailfinder: hunter lookup failed, guessing", zap.String("domain", domain), zap.Error(err))
		}
		if email != "" {
			return email, confidence, nil
		}
	}

	hasMX, err := r.hasMX(ctx, domain)
	if err != nil {
		return "", 0, err
	}
	if !hasMX {
		return "", 0, pipeline.NewLookupError(stage.Permanent, fmt.Sprintf("domain %s has no MX records", domain), stage.ErrEmptyResult)
	}

	r.mu.Lock()
	pattern := r.patterns[domain]
	r.mu.Unlock()
	if guess := ApplyPattern(pattern, first, last, domain); guess != "" && r.valid(guess) {
		return guess, ConfidencePattern, nil
	}

	for _, candidate := range Permutations(first, last, domain) {
		if r.valid(candidate) {
			return candidate, ConfidenceGuess, nil
		}
	}
	return "", 0, pipeline.NewLookupError(stage.Permanent, "no valid address could be formed", stage.ErrEmptyResult)
}

func (r *Resolver) fromHunter(ctx context.Context, domain, first, last string) (string, float64, error) {
	ds, err := r.hunter.DomainSearch(ctx, domain)
	if err != nil {
		return "", 0, err
	}
	if ds.Pattern != "" {
		r.mu.Lock()
		r.patterns[domain] = ds.Pattern
		r.mu.Unlock()
	}
	for _, e := range ds.Emails {
		if strings.EqualFold(asciiName(e.FirstName), first) && strings.EqualFold(asciiName(e.LastName), last) && r.valid(e.Value) {
			return strings.ToLower(e.Value), ConfidenceVerified, nil
		}
	}

	found, err := r.hunter.FindEmail(ctx, domain, first, last)
	if err != nil {
		return "", 0, err
	}
	if found.Email != "" && r.valid(found.Email) {
		return strings.ToLower(found.Email), ConfidenceVerified, nil
	}
	return "", 0, nil
}

// hasMX reports whether domain accepts mail. Results are cached for the resolver's lifetime.
func (r *Resolver) hasMX(ctx context.Context, domain string) (bool, error) {
	r.mu.Lock()
	cached, ok := r.mxCache[domain]
	r.mu.Unlock()
	if ok {
		return cached, nil
	}

	records, err := r.mx.LookupMX(ctx, domain)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && (dnsErr.IsNotFound || !dnsErr.Temporary()) && !dnsErr.IsTimeout {
			records = nil
		} else {
			return false, pipeline.NewLookupError(stage.Transient, "MX lookup failed", err)
		}
	}

	has := len(records) > 0
	r.mu.Lock()
	r.mxCache[domain] = has
	r.mu.Unlock()
	return has, nil
}

func (r *Resolver) valid(email string) bool {
	return r.validate.Var(email, "required,email") == nil
}
