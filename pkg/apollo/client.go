// Package apollo provides a client for the Apollo contact-intelligence API:
// organization search for identity resolution and person match for contact
// enrichment.
package apollo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

const defaultBaseURL = "https://api.apollo.io/api/v1"

// Client defines the Apollo operations used by the identity resolver.
type Client interface {
	// SearchOrganizations searches organizations by name and location.
	SearchOrganizations(ctx context.Context, req OrganizationSearchRequest) (*OrganizationSearchResponse, error)
	// MatchPerson looks up a person by email and/or name.
	MatchPerson(ctx context.Context, req PersonMatchRequest) (*PersonMatchResponse, error)
}

// OrganizationSearchRequest is the body for POST /mixed_companies/search.
type OrganizationSearchRequest struct {
	Name     string   `json:"q_organization_name,omitempty"`
	Domains  []string `json:"organization_domains,omitempty"`
	Location string   `json:"organization_locations,omitempty"`
	PerPage  int      `json:"per_page,omitempty"`
}

// OrganizationSearchResponse holds ranked organization results.
type OrganizationSearchResponse struct {
	Organizations []Organization `json:"organizations"`
}

// Organization is a single organization result.
type Organization struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	WebsiteURL       string `json:"website_url"`
	PrimaryDomain    string `json:"primary_domain"`
	Industry         string `json:"industry"`
	City             string `json:"city"`
	State            string `json:"state"`
	ShortDescription string `json:"short_description"`
}

// PersonMatchRequest is the body for POST /people/match.
type PersonMatchRequest struct {
	Email     string `json:"email,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// PersonMatchResponse holds the matched person, if any.
type PersonMatchResponse struct {
	Person *Person `json:"person"`
}

// Person is a matched person record.
type Person struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Title        string        `json:"title"`
	Email        string        `json:"email"`
	LinkedInURL  string        `json:"linkedin_url"`
	Organization *Organization `json:"organization"`
}

// APIError is returned when Apollo responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("apollo: HTTP %d: %s", e.StatusCode, e.Body)
}

// HTTPStatus returns the response status code.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

// Option configures the httpClient.
type Option func(*httpClient)

// WithBaseURL overrides the default base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a new Apollo client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) SearchOrganizations(ctx context.Context, req OrganizationSearchRequest) (*OrganizationSearchResponse, error) {
	if req.PerPage == 0 {
		req.PerPage = 10
	}
	var resp OrganizationSearchResponse
	if err := c.post(ctx, "/mixed_companies/search", req, &resp); err != nil {
		return nil, eris.Wrap(err, "apollo: search organizations")
	}
	return &resp, nil
}

func (c *httpClient) MatchPerson(ctx context.Context, req PersonMatchRequest) (*PersonMatchResponse, error) {
	var resp PersonMatchResponse
	if err := c.post(ctx, "/people/match", req, &resp); err != nil {
		return nil, eris.Wrap(err, "apollo: match person")
	}
	return &resp, nil
}

func (c *httpClient) post(ctx context.Context, path string, body any, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return eris.Wrap(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "execute request")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{
			StatusCode: resp.StatusCode,
			Body:       string(data),
		}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return eris.Wrap(err, "decode response")
	}

	return nil
}
