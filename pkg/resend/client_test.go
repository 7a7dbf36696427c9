package resend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendEmail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/emails", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		var req EmailRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"ops@harborview.example"}, req.To)
		assert.Contains(t, req.Subject, "batch")

		_, _ = w.Write([]byte(`{"id":"email_123"}`))
	}))
	defer srv.Close()

	c := NewClient("key", WithBaseURL(srv.URL))
	resp, err := c.SendEmail(context.Background(), EmailRequest{
		From:    "pipeline@harborview.example",
		To:      []string{"ops@harborview.example"},
		Subject: "enrichment batch complete",
		Text:    "5 enriched, 1 error",
	})
	require.NoError(t, err)
	assert.Equal(t, "email_123", resp.ID)
}

func TestSendEmailAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"message":"invalid key"}`))
	}))
	defer srv.Close()

	c := NewClient("bad", WithBaseURL(srv.URL))
	_, err := c.SendEmail(context.Background(), EmailRequest{})
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
}
