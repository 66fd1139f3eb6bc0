package discovery

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Person is one name/title pair scraped from a people page.
type Person struct {
	Name       string
	Title      string
	ProfileURL string
}

var (
	cardSelector  = ".org-people-profile-card, .artdeco-entity-lockup, li.reusable-search__result-container, .entity-result, .discover-entity-card"
	nameSelector  = ".artdeco-entity-lockup__title, .org-people-profile-card__profile-title, .entity-result__title-text a, .discover-person-card__name"
	titleSelector = ".artdeco-entity-lockup__subtitle, .org-people-profile-card__profile-position, .entity-result__primary-subtitle, .discover-person-card__occupation"
)

// ParsePeople extracts people from a rendered people or search page. Entries without a
// two-word name, or whose name repeats the title, are dropped; duplicates keep the first.
func ParsePeople(html, pageURL string) ([]Person, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse people page: %w", err)
	}
	base, _ := url.Parse(pageURL)

	var people []Person
	seen := make(map[string]bool)
	doc.Find(cardSelector).Each(func(_ int, card *goquery.Selection) {
		nameSel := card.Find(nameSelector).First()
		titleSel := card.Find(titleSelector).First()
		if nameSel.Length() == 0 || titleSel.Length() == 0 {
			return
		}

		name := cleanText(nameSel.Text())
		title := cleanText(titleSel.Text())
		if name == "" || title == "" || strings.EqualFold(name, title) || !strings.Contains(name, " ") {
			return
		}
		key := strings.ToLower(name + "|" + title)
		if seen[key] {
			return
		}
		seen[key] = true

		href, ok := nameSel.Attr("href")
		if !ok {
			href, _ = card.Find("a[href]").First().Attr("href")
		}
		people = append(people, Person{Name: name, Title: title, ProfileURL: resolveHref(base, href)})
	})
	return people, nil
}

func cleanText(s string) string {
	// LinkedIn repeats names for screen readers ("Ada Lovelace View Ada Lovelace's profile")
	if i := strings.Index(s, "View "); i > 0 {
		s = s[:i]
	}
	return strings.Join(strings.Fields(s), " ")
}

func resolveHref(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base != nil {
		ref = base.ResolveReference(ref)
	}
	ref.RawQuery = ""
	ref.Fragment = ""
	return ref.String()
}
