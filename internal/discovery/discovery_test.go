package discovery

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/outreach-agent/internal/fetch"
	"github.com/jonathan/outreach-agent/internal/ratelimit"
	"github.com/jonathan/outreach-agent/internal/stage"
	"github.com/jonathan/outreach-agent/internal/types"
)

const peoplePage = `
<html><body>
<ul>
  <li class="org-people-profile-card">
    <a class="org-people-profile-card__profile-title" href="/in/ada-lovelace?trk=people">Ada Lovelace</a>
    <div class="org-people-profile-card__profile-position">Co-Founder &amp; CEO</div>
  </li>
  <li class="org-people-profile-card">
    <a class="org-people-profile-card__profile-title" href="/in/grace-hopper">Grace Hopper</a>
    <div class="org-people-profile-card__profile-position">Head of Data Science</div>
  </li>
  <li class="org-people-profile-card">
    <a class="org-people-profile-card__profile-title" href="/in/charles">Charles Babbage</a>
    <div class="org-people-profile-card__profile-position">Chairman of the Board</div>
  </li>
  <li class="org-people-profile-card">
    <a class="org-people-profile-card__profile-title" href="/in/alan">Alan Turing</a>
    <div class="org-people-profile-card__profile-position">Senior Technical Recruiter</div>
  </li>
  <li class="org-people-profile-card">
    <a class="org-people-profile-card__profile-title">Acme</a>
    <div class="org-people-profile-card__profile-position">Company page</div>
  </li>
</ul>
</body></html>`

type fakePages struct {
	pages map[string]string
	errs  map[string]error
	calls []string
}

func (f *fakePages) Page(_ context.Context, url string) (*fetch.Result, error) {
	f.calls = append(f.calls, url)
	if err, ok := f.errs[url]; ok {
		return nil, err
	}
	for prefix, html := range f.pages {
		if strings.HasPrefix(url, prefix) {
			return &fetch.Result{URL: url, HTML: html, StatusCode: http.StatusOK}, nil
		}
	}
	return &fetch.Result{URL: url, HTML: "<html><body></body></html>", StatusCode: http.StatusOK}, nil
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		title  string
		want   types.RoleCategory
		wantOK bool
	}{
		{"Chief Executive Officer", types.RoleLeadership, true},
		{"Co-Founder & CTO", types.RoleLeadership, true},
		{"CEO", types.RoleLeadership, true},
		{"Head of Data", types.RoleDataAI, true},
		{"Staff ML Engineer", types.RoleDataAI, true},
		{"AI Researcher", types.RoleDataAI, true},
		{"Talent Partner", types.RoleRecruiter, true},
		{"HR Business Partner", types.RoleRecruiter, true},
		{"Chairman of the Board", "", false},
		{"Maintenance Lead", "", false},
		{"Account Executive", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			got, ok := Categorize(tt.title)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeProfileURL(t *testing.T) {
	tests := []struct{ in, want string }{
		{in: "https://www.linkedin.com/company/acme", want: "https://www.linkedin.com/company/acme/"},
		{in: "linkedin.com/company/acme/about/", want: "https://www.linkedin.com/company/acme/"},
		{in: "https://www.linkedin.com/company/acme/people/?x=1", want: "https://www.linkedin.com/company/acme/"},
		{in: "acme-robotics", want: "https://www.linkedin.com/company/acme-robotics/"},
		{in: "https://linkedin.com/acme", want: "https://www.linkedin.com/company/acme/"},
		{in: "", want: ""},
		{in: "not a handle", want: ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeProfileURL(tt.in), tt.in)
	}
}

func TestPeopleURL(t *testing.T) {
	base := "https://www.linkedin.com/company/acme/"
	assert.Equal(t, base+"people/", PeopleURL(base, ""))
	assert.Equal(t, base+"people/?keywords=head+of+data", PeopleURL(base, "head of data"))
}

func TestParsePeople(t *testing.T) {
	people, err := ParsePeople(peoplePage, "https://www.linkedin.com/company/acme/people/")
	require.NoError(t, err)
	require.Len(t, people, 4)
	assert.Equal(t, "Ada Lovelace", people[0].Name)
	assert.Equal(t, "Co-Founder & CEO", people[0].Title)
	assert.Equal(t, "https://www.linkedin.com/in/ada-lovelace", people[0].ProfileURL)
}

func TestSelectContacts_OnePerCategoryInOrder(t *testing.T) {
	contacts := SelectContacts([]Person{
		{Name: "Alan Turing", Title: "Technical Recruiter"},
		{Name: "Grace Hopper", Title: "Data Scientist"},
		{Name: "Joan Clarke", Title: "Head of Data"},
		{Name: "Ada Lovelace", Title: "President"},
		{Name: "Tim Berners", Title: "Founder and CEO"},
	})
	require.Len(t, contacts, 3)
	assert.Equal(t, "Tim Berners", contacts[0].FullName)
	assert.Equal(t, types.RoleLeadership, contacts[0].RoleCategory)
	assert.Equal(t, "Joan Clarke", contacts[1].FullName)
	assert.Equal(t, "Alan Turing", contacts[2].FullName)
	for i, c := range contacts {
		assert.Equal(t, i, c.Position)
	}
}

func TestDiscoverContacts(t *testing.T) {
	pages := &fakePages{pages: map[string]string{
		"https://www.linkedin.com/company/acme/people/": peoplePage,
	}}
	d := New(pages)

	contacts, err := d.DiscoverContacts(context.Background(), "https://www.linkedin.com/company/acme")
	require.NoError(t, err)
	require.Len(t, contacts, 3)
	assert.Equal(t, []string{"Ada Lovelace", "Grace Hopper", "Alan Turing"},
		[]string{contacts[0].FullName, contacts[1].FullName, contacts[2].FullName})
	assert.Len(t, pages.calls, len(DefaultSearchTerms)+1)
}

func TestDiscoverContacts_AcquiresScrapeSlotPerPage(t *testing.T) {
	limiter := ratelimit.NewLimiter(&ratelimit.Config{Intervals: map[ratelimit.Channel]time.Duration{
		ratelimit.ChannelScrape: time.Millisecond,
	}})
	pages := &fakePages{pages: map[string]string{
		"https://www.linkedin.com/company/acme/people/": peoplePage,
	}}

	_, err := New(pages, WithLimiter(limiter)).DiscoverContacts(context.Background(), "https://www.linkedin.com/company/acme")
	require.NoError(t, err)
	assert.Equal(t, len(pages.calls), limiter.Granted(ratelimit.ChannelScrape))
	assert.Equal(t, len(DefaultSearchTerms)+1, limiter.Granted(ratelimit.ChannelScrape))
}

func TestDiscoverContacts_StopsWhenNoScrapeSlot(t *testing.T) {
	limiter := ratelimit.NewLimiter(&ratelimit.Config{Intervals: map[ratelimit.Channel]time.Duration{
		ratelimit.ChannelScrape: time.Hour,
	}})
	pages := &fakePages{}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := New(pages, WithLimiter(limiter)).DiscoverContacts(ctx, "https://www.linkedin.com/company/acme")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Len(t, pages.calls, 1, "only the first page gets a slot within the deadline")
}

func TestDiscoverContacts_NobodyFoundIsEmptyResult(t *testing.T) {
	d := New(&fakePages{})

	_, err := d.DiscoverContacts(context.Background(), "https://www.linkedin.com/company/ghost/")
	require.Error(t, err)
	assert.ErrorIs(t, err, stage.ErrEmptyResult)
	assert.Equal(t, stage.Permanent, stage.Classify(err))
}

func TestDiscoverContacts_AllPagesFail(t *testing.T) {
	throttled := &fetch.Error{URL: "x", Message: "HTTP status 429", StatusCode: http.StatusTooManyRequests}
	pages := &fakePages{errs: map[string]error{}}
	base := "https://www.linkedin.com/company/acme/"
	for _, term := range DefaultSearchTerms {
		pages.errs[PeopleURL(base, term)] = throttled
	}
	pages.errs[PeopleURL(base, "")] = throttled

	_, err := New(pages).DiscoverContacts(context.Background(), base)
	require.Error(t, err)
	assert.Equal(t, stage.RateLimited, stage.Classify(err))
	assert.Len(t, pages.calls, 1, "stops after the first throttled page")
}

func TestDiscoverContacts_PartialPageFailureTolerated(t *testing.T) {
	base := "https://www.linkedin.com/company/acme/"
	pages := &fakePages{
		pages: map[string]string{base + "people/": peoplePage},
		errs:  map[string]error{PeopleURL(base, "CEO"): errors.New("connection reset")},
	}

	contacts, err := New(pages).DiscoverContacts(context.Background(), base)
	require.NoError(t, err)
	assert.Len(t, contacts, 3)
}

func TestDiscoverContacts_BadProfileURL(t *testing.T) {
	_, err := New(&fakePages{}).DiscoverContacts(context.Background(), "https://www.linkedin.com/")
	require.Error(t, err)
	assert.Equal(t, stage.Permanent, stage.Classify(err))
}
