package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/harborview-partners/enrich-cli/internal/model"
	"github.com/harborview-partners/enrich-cli/pkg/resend"
)

func sampleBatch() *model.BatchResult {
	b := &model.BatchResult{}
	b.Record(model.ItemResult{NaturalKey: "acme.com", Outcome: model.OutcomeEnriched})
	b.Record(model.ItemResult{NaturalKey: "birchcap.com", Outcome: model.OutcomeSkipped})
	b.Record(model.ItemResult{NaturalKey: "granite.com", Outcome: model.OutcomeError, Err: "source unreachable"})
	b.Record(model.ItemResult{NaturalKey: "noweb", Outcome: model.OutcomeNoSource})
	return b
}

func TestBatchCompleteSendsEmailAndWebhook(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	rc := new(mockResend)
	rc.On("SendEmail", mock.Anything, mock.MatchedBy(func(req resend.EmailRequest) bool {
		return req.Subject == "Enrichment batch complete: 1 enriched, 1 errors" &&
			len(req.To) == 2
	})).Return(&resend.EmailResponse{ID: "email_1"}, nil).Once()

	n := New(rc, Config{
		From:       "pipeline@harborview.example",
		Emails:     []string{"ops@harborview.example", "deals@harborview.example"},
		WebhookURL: srv.URL,
	})
	n.BatchComplete(context.Background(), sampleBatch())

	rc.AssertExpectations(t)
	assert.Equal(t, "batch.completed", got.Event)
	require.NotNil(t, got.Batch)
	assert.Equal(t, 4, got.Batch.TotalProcessed)
	assert.Equal(t, 1, got.Batch.Enriched)
	assert.Equal(t, 1, got.Batch.Errors)
	assert.False(t, got.FinishedAt.IsZero())
}

func TestBatchCompleteEmailFailureStillPostsWebhook(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	rc := new(mockResend)
	rc.On("SendEmail", mock.Anything, mock.Anything).
		Return(nil, &resend.APIError{StatusCode: 500, Body: "boom"}).Once()

	n := New(rc, Config{
		From:       "pipeline@harborview.example",
		Emails:     []string{"ops@harborview.example"},
		WebhookURL: srv.URL,
	})
	n.BatchComplete(context.Background(), sampleBatch())

	rc.AssertExpectations(t)
	assert.Equal(t, 1, hits)
}

func TestBatchCompleteSkipsUnconfiguredChannels(t *testing.T) {
	rc := new(mockResend)
	n := New(rc, Config{From: "pipeline@harborview.example"})
	n.BatchComplete(context.Background(), sampleBatch())
	rc.AssertNotCalled(t, "SendEmail", mock.Anything, mock.Anything)

	// nil notifier and nil result are both no-ops
	var nop *Notifier
	nop.BatchComplete(context.Background(), sampleBatch())
	n.BatchComplete(context.Background(), nil)
}

func TestSummaryTextFlagsItemsNeedingAttention(t *testing.T) {
	text := summaryText(sampleBatch())
	assert.Contains(t, text, "Processed 4 entities: 1 enriched, 1 skipped, 1 no source, 1 errors.")
	assert.Contains(t, text, "granite.com: error (source unreachable)")
	assert.Contains(t, text, "noweb: no_source")
	assert.NotContains(t, text, "acme.com")
	assert.NotContains(t, text, "birchcap.com")
}
