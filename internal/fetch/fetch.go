// Package fetch provides URL fetching for scraping collaborators, with an optional
// headless-browser fallback for pages that render client-side.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/jonathan/outreach-agent/internal/stage"
)

// DefaultTimeout is the default HTTP request timeout.
const DefaultTimeout = 30 * time.Second

// DefaultUserAgent is the user agent string for HTTP requests.
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// maxBodyBytes bounds how much of a response is read.
const maxBodyBytes = 8 << 20

// Result holds the raw and processed content from a URL fetch.
type Result struct {
	URL         string
	HTML        string
	ContentType string
	StatusCode  int
	Rendered    bool
}

// Error represents an error during URL fetching.
type Error struct {
	URL        string
	Message    string
	StatusCode int
	RetryAfter time.Duration
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("fetch error for %s: %s: %v", e.URL, e.Message, e.Cause)
	}
	return fmt.Sprintf("fetch error for %s: %s", e.URL, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// ErrorKind classifies the failure: 429 is RateLimited, 5xx and transport failures are
// Transient, everything else is Permanent.
func (e *Error) ErrorKind() stage.Kind {
	switch {
	case e.StatusCode == http.StatusTooManyRequests:
		return stage.RateLimited
	case e.StatusCode >= 500, e.StatusCode == http.StatusRequestTimeout:
		return stage.Transient
	case e.StatusCode == 0 && e.Cause != nil:
		return stage.Classify(e.Cause)
	default:
		return stage.Permanent
	}
}

// RetryAfterHint returns the server's Retry-After value, if it sent one.
func (e *Error) RetryAfterHint() time.Duration {
	return e.RetryAfter
}

// Options configures the fetch behavior.
type Options struct {
	Timeout   time.Duration
	UserAgent string
	Headers   map[string]string
	// Client overrides the HTTP client, mainly for tests.
	Client *http.Client
}

// DefaultOptions returns sensible defaults for fetching.
func DefaultOptions() *Options {
	return &Options{
		Timeout:   DefaultTimeout,
		UserAgent: DefaultUserAgent,
	}
}

// URL retrieves HTML content from a URL.
func URL(ctx context.Context, urlStr string, opts *Options) (*Result, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	// Validate URL
	parsedURL, err := url.Parse(urlStr)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, &Error{
			URL:     urlStr,
			Message: "invalid URL",
			Cause:   err,
		}
	}

	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, &Error{
			URL:     urlStr,
			Message: "failed to create request",
			Cause:   err,
		}
	}

	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	for key, value := range opts.Headers {
		req.Header.Set(key, value)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &Error{
			URL:     urlStr,
			Message: "HTTP request failed",
			Cause:   err,
		}
	}
	defer func() { _ = resp.Body.Close() }()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &Error{
			URL:     urlStr,
			Message: "failed to read response body",
			Cause:   err,
		}
	}

	result := &Result{
		URL:         urlStr,
		HTML:        string(bodyBytes),
		ContentType: resp.Header.Get("Content-Type"),
		StatusCode:  resp.StatusCode,
	}

	if resp.StatusCode != http.StatusOK {
		return result, &Error{
			URL:        urlStr,
			Message:    fmt.Sprintf("HTTP status %d", resp.StatusCode),
			StatusCode: resp.StatusCode,
			RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
	}

	return result, nil
}

// ParseRetryAfter reads a Retry-After header given either as seconds or as an HTTP date.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}

// Fetcher fetches pages over HTTP and, when enabled, re-renders thin pages in a headless browser.
type Fetcher struct {
	opts           *Options
	useBrowser     bool
	browserTimeout time.Duration
	render         func(ctx context.Context, url string) (string, error)
	logger         *zap.Logger
}

// NewFetcher creates a Fetcher. A nil logger disables logging.
func NewFetcher(opts *Options, useBrowser bool, logger *zap.Logger) *Fetcher {
	if opts == nil {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Fetcher{
		opts:           opts,
		useBrowser:     useBrowser,
		browserTimeout: DefaultTimeout,
		logger:         logger,
	}
	f.render = func(ctx context.Context, url string) (string, error) {
		return WithBrowser(ctx, url, f.browserTimeout, f.logger)
	}
	return f
}

// Page returns the HTML for url. With the browser enabled, a page whose visible text is
// shorter than MinContentLength is rendered again in Chrome.
func (f *Fetcher) Page(ctx context.Context, url string) (*Result, error) {
	result, err := URL(ctx, url, f.opts)
	if err != nil {
		return result, err
	}
	if !f.useBrowser {
		return result, nil
	}

	text, _ := ExtractMainText(result.HTML, DefaultTextSelectors())
	if !ShouldUseBrowser(text) {
		return result, nil
	}

	f.logger.Debug("fetch: page looks client-rendered, using browser", zap.String("url", url), zap.Int("text_len", len(text)))
	html, err := f.render(ctx, url)
	if err != nil {
		return result, &Error{URL: url, Message: "browser rendering failed", Cause: err}
	}
	result.HTML = html
	result.Rendered = true
	return result, nil
}

// Text fetches url and returns its main visible text.
func (f *Fetcher) Text(ctx context.Context, url string, selectors []string) (string, error) {
	result, err := f.Page(ctx, url)
	if err != nil {
		return "", err
	}
	return ExtractMainText(result.HTML, selectors)
}

// ExtractMainText parses HTML and returns the main body text.
// It removes noise elements using noiseSelectors, then finds content using contentSelectors.
// If no content selectors match, it falls back to the body element.
func ExtractMainText(html string, contentSelectors []string, noiseSelectors ...string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	doc.Find("nav, footer, header, script, style, noscript, .ad, .advertisement, .ads, .sidebar, .cookie-banner, .popup").Remove()

	if len(noiseSelectors) > 0 {
		noiseSelector := strings.Join(noiseSelectors, ", ")
		if noiseSelector != "" {
			doc.Find(noiseSelector).Remove()
		}
	}

	var mainContent *goquery.Selection
	for _, selector := range contentSelectors {
		if selection := doc.Find(selector); selection.Length() > 0 {
			mainContent = selection.First()
			break
		}
	}

	if mainContent == nil {
		mainContent = doc.Find("body")
	}

	return cleanWhitespace(mainContent.Text()), nil
}

// DefaultTextSelectors returns standard selectors for general web content.
func DefaultTextSelectors() []string {
	return []string{
		"main",
		"article",
		".content",
		"#content",
		".main-content",
		"#main-content",
	}
}

// CompanyPageSelectors returns selectors for company home and about pages.
func CompanyPageSelectors() []string {
	return []string{
		"main",
		"article",
		".about-content",
		".about",
		"#about",
		".content",
		"#content",
	}
}

// cleanWhitespace trims every line and drops blank ones.
func cleanWhitespace(text string) string {
	lines := strings.Split(text, "\n")
	var cleaned []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			cleaned = append(cleaned, line)
		}
	}
	return strings.Join(cleaned, "\n")
}
