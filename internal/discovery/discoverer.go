// Package discovery finds up to one leadership, one data/AI and one recruiting contact
// on a company's LinkedIn people pages.
package discovery

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/jonathan/outreach-agent/internal/fetch"
	"github.com/jonathan/outreach-agent/internal/pipeline"
	"github.com/jonathan/outreach-agent/internal/ratelimit"
	"github.com/jonathan/outreach-agent/internal/stage"
	"github.com/jonathan/outreach-agent/internal/types"
)

// PageFetcher loads one page. *fetch.Fetcher implements it.
type PageFetcher interface {
	Page(ctx context.Context, url string) (*fetch.Result, error)
}

// DefaultSearchTerms are the keyword searches run against the people page before the
// unfiltered listing.
var DefaultSearchTerms = []string{"CEO", "founder", "head of data", "recruiter"}

// Discoverer implements pipeline.ContactDiscoverer.
type Discoverer struct {
	pages       PageFetcher
	searchTerms []string
	limiter     *ratelimit.Limiter
	logger      *zap.Logger
}

// Option configures a Discoverer.
type Option func(*Discoverer)

// WithSearchTerms replaces DefaultSearchTerms.
func WithSearchTerms(terms ...string) Option {
	return func(d *Discoverer) { d.searchTerms = terms }
}

// WithLimiter spaces every page load on the scrape channel.
func WithLimiter(limiter *ratelimit.Limiter) Option {
	return func(d *Discoverer) { d.limiter = limiter }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Discoverer) { d.logger = logger }
}

// New creates a Discoverer.
func New(pages PageFetcher, opts ...Option) *Discoverer {
	d := &Discoverer{
		pages:       pages,
		searchTerms: DefaultSearchTerms,
		limiter:     ratelimit.NewLimiter(nil),
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DiscoverContacts scrapes the people pages for profileURL and returns at most one contact
// per role category, in category order.
func (d *Discoverer) DiscoverContacts(ctx context.Context, profileURL string) ([]types.Contact, error) {
	base := NormalizeProfileURL(profileURL)
	if base == "" {
		return nil, pipeline.NewScrapeError(stage.Permanent, fmt.Sprintf("not a company profile url: %q", profileURL), nil)
	}

	urls := make([]string, 0, len(d.searchTerms)+1)
	for _, term := range d.searchTerms {
		urls = append(urls, PeopleURL(base, term))
	}
	urls = append(urls, PeopleURL(base, ""))

	var people []Person
	var firstErr error
	loaded := 0
	for _, u := range urls {
		if err := d.limiter.Acquire(ctx, ratelimit.ChannelScrape); err != nil {
			return nil, err
		}
		result, err := d.pages.Page(ctx, u)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			d.logger.Debug("discovery: page failed", zap.String("url", u), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			// a throttled page means the rest will be throttled too
			if stage.Classify(err) == stage.RateLimited {
				break
			}
			continue
		}
		loaded++
		found, err := ParsePeople(result.HTML, u)
		if err != nil {
			d.logger.Debug("discovery: parse failed", zap.String("url", u), zap.Error(err))
			continue
		}
		people = append(people, found...)
	}

	if loaded == 0 && firstErr != nil {
		return nil, scrapeErrorFrom(firstErr)
	}

	contacts := SelectContacts(people)
	d.logger.Debug("discovery: people parsed",
		zap.String("profile_url", base),
		zap.Int("pages", loaded),
		zap.Int("people", len(people)),
		zap.Int("contacts", len(contacts)),
	)
	if len(contacts) == 0 {
		return nil, pipeline.NewScrapeError(stage.Permanent, "no matching people found", stage.ErrEmptyResult)
	}
	return contacts, nil
}

// SelectContacts picks the best-ranked person in each role category.
func SelectContacts(people []Person) []types.Contact {
	best := make(map[types.RoleCategory]Person)
	for _, p := range people {
		category, ok := Categorize(p.Title)
		if !ok {
			continue
		}
		current, exists := best[category]
		if !exists || titlePriority(p.Title) < titlePriority(current.Title) {
			best[category] = p
		}
	}

	contacts := make([]types.Contact, 0, len(best))
	for _, category := range types.RoleCategories {
		p, ok := best[category]
		if !ok {
			continue
		}
		contacts = append(contacts, types.Contact{
			RoleCategory: category,
			FullName:     p.Name,
			Title:        p.Title,
			ProfileURL:   p.ProfileURL,
		})
	}
	types.AssignPositions(contacts)
	return contacts
}

func scrapeErrorFrom(err error) error {
	kind := stage.Classify(err)
	scrapeErr := pipeline.NewScrapeError(kind, "people page unavailable", err)
	var fetchErr *fetch.Error
	if errors.As(err, &fetchErr) {
		scrapeErr.RetryAfter = fetchErr.RetryAfter
	}
	return scrapeErr
}
