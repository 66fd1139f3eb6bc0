package emailfinder

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jonathan/outreach-agent/internal/fetch"
	"github.com/jonathan/outreach-agent/internal/pipeline"
	"github.com/jonathan/outreach-agent/internal/stage"
)

// DefaultHunterBaseURL is the Hunter.io API root.
const DefaultHunterBaseURL = "https://api.hunter.io/v2"

// HunterClient calls the Hunter.io domain-search and email-finder endpoints.
type HunterClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewHunterClient creates a client. An empty baseURL uses DefaultHunterBaseURL.
func NewHunterClient(apiKey, baseURL string, httpClient *http.Client) *HunterClient {
	if baseURL == "" {
		baseURL = DefaultHunterBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	return &HunterClient{baseURL: strings.TrimSuffix(baseURL, "/"), apiKey: apiKey, http: httpClient}
}

// HunterEmail is one address returned by a domain search.
type HunterEmail struct {
	Value      string `json:"value"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Confidence int    `json:"confidence"`
}

// DomainResult is the useful part of a domain-search response.
type DomainResult struct {
	Pattern string        `json:"pattern"`
	Emails  []HunterEmail `json:"emails"`
}

// FinderResult is the useful part of an email-finder response.
type FinderResult struct {
	Email string `json:"email"`
	Score int    `json:"score"`
}

type hunterErrorBody struct {
	Errors []struct {
		ID      string `json:"id"`
		Details string `json:"details"`
	} `json:"errors"`
}

// DomainSearch returns the known addresses and address pattern for domain.
func (c *HunterClient) DomainSearch(ctx context.Context, domain string) (*DomainResult, error) {
	q := url.Values{"domain": {domain}, "api_key": {c.apiKey}}
	var out struct {
		Data DomainResult `json:"data"`
	}
	if err := c.get(ctx, "/domain-search", q, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// FindEmail asks Hunter for the most likely address of first/last at domain.
func (c *HunterClient) FindEmail(ctx context.Context, domain, first, last string) (*FinderResult, error) {
	q := url.Values{"domain": {domain}, "first_name": {first}, "last_name": {last}, "api_key": {c.apiKey}}
	var out struct {
		Data FinderResult `json:"data"`
	}
	if err := c.get(ctx, "/email-finder", q, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

func (c *HunterClient) get(ctx context.Context, path string, q url.Values, into any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return pipeline.NewLookupError(stage.Permanent, "failed to create hunter request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return pipeline.NewLookupError(stage.Classify(err), "hunter request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return pipeline.NewLookupError(stage.Transient, "failed to read hunter response", err)
	}

	if resp.StatusCode != http.StatusOK {
		return hunterStatusError(resp, body)
	}
	if err := json.Unmarshal(body, into); err != nil {
		return pipeline.NewLookupError(stage.Permanent, "failed to parse hunter response", err)
	}
	return nil
}

func hunterStatusError(resp *http.Response, body []byte) error {
	detail := http.StatusText(resp.StatusCode)
	var parsed hunterErrorBody
	if json.Unmarshal(body, &parsed) == nil && len(parsed.Errors) > 0 {
		detail = parsed.Errors[0].Details
	}
	msg := fmt.Sprintf("hunter returned %d: %s", resp.StatusCode, detail)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		err := pipeline.NewLookupError(stage.RateLimited, msg, nil)
		err.RetryAfter = fetch.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
		return err
	case resp.StatusCode >= 500:
		return pipeline.NewLookupError(stage.Transient, msg, nil)
	default:
		return pipeline.NewLookupError(stage.Permanent, msg, nil)
	}
}
