package apollo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchOrganizations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/mixed_companies/search", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("X-Api-Key"))

		var req OrganizationSearchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Acme Logistics", req.Name)
		assert.Equal(t, 10, req.PerPage, "default page size applied")

		_ = json.NewEncoder(w).Encode(OrganizationSearchResponse{
			Organizations: []Organization{
				{ID: "org_1", Name: "Acme Logistics", PrimaryDomain: "acme.io", Industry: "logistics"},
			},
		})
	}))
	defer srv.Close()

	c := NewClient("key", WithBaseURL(srv.URL))
	resp, err := c.SearchOrganizations(context.Background(), OrganizationSearchRequest{Name: "Acme Logistics"})
	require.NoError(t, err)
	require.Len(t, resp.Organizations, 1)
	assert.Equal(t, "acme.io", resp.Organizations[0].PrimaryDomain)
}

func TestNewClientDefaultBaseURL(t *testing.T) {
	c := NewClient("key").(*httpClient)
	assert.Equal(t, "https://api.apollo.io/api/v1", c.baseURL)
}

func TestMatchPersonNoMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/people/match", r.URL.Path)
		_, _ = w.Write([]byte(`{"person":null}`))
	}))
	defer srv.Close()

	c := NewClient("key", WithBaseURL(srv.URL))
	resp, err := c.MatchPerson(context.Background(), PersonMatchRequest{Email: "nobody@acme.io"})
	require.NoError(t, err)
	assert.Nil(t, resp.Person)
}

func TestAPIErrorSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":"insufficient credits"}`))
	}))
	defer srv.Close()

	c := NewClient("key", WithBaseURL(srv.URL))
	_, err := c.SearchOrganizations(context.Background(), OrganizationSearchRequest{Name: "x"})
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
}
