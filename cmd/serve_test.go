package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/harborview-partners/enrich-cli/internal/model"
	"github.com/harborview-partners/enrich-cli/internal/pipeline"
	"github.com/harborview-partners/enrich-cli/internal/store"
)

func newTestServer(t *testing.T) (*mockEnricher, store.Store, http.Handler) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "serve.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	runner := new(mockEnricher)
	api := &apiServer{runner: runner, store: st}
	return runner, st, api.routes()
}

func postJSON(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	_, _, h := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestEnrichEndpoint(t *testing.T) {
	runner, _, h := newTestServer(t)
	runner.On("EnrichOne", mock.Anything, pipeline.Ref{ID: "ent-1"}, pipeline.Options{Force: true}).
		Return(model.ItemResult{
			EntityID:      "ent-1",
			NaturalKey:    "acme.com",
			Outcome:       model.OutcomeEnriched,
			FieldsUpdated: []string{"description"},
			SourceLocator: "https://acme.com",
		}, nil).Once()

	rec := postJSON(t, h, "/api/enrich", `{"entityId":"ent-1","force":true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp itemResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, model.OutcomeEnriched, resp.Status)
	assert.Equal(t, []string{"description"}, resp.FieldsUpdated)
	assert.Equal(t, "https://acme.com", resp.SourceLocator)
	runner.AssertExpectations(t)
}

func TestEnrichEndpointItemErrorRidesInside200(t *testing.T) {
	runner, _, h := newTestServer(t)
	runner.On("EnrichOne", mock.Anything, mock.Anything, mock.Anything).
		Return(model.ItemResult{Outcome: model.OutcomeError, Err: "acquire: unreachable"}, nil).Once()

	rec := postJSON(t, h, "/api/enrich", `{"entityId":"ent-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp itemResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, model.OutcomeError, resp.Status)
	assert.Equal(t, "acquire: unreachable", resp.Error)
}

func TestEnrichEndpointValidation(t *testing.T) {
	runner, _, h := newTestServer(t)

	rec := postJSON(t, h, "/api/enrich", `{"force":true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(t, h, "/api/enrich", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	runner.AssertNotCalled(t, "EnrichOne", mock.Anything, mock.Anything, mock.Anything)
}

func TestBatchEndpoint(t *testing.T) {
	runner, _, h := newTestServer(t)

	batch := &model.BatchResult{}
	batch.Record(model.ItemResult{NaturalKey: "acme.com", Outcome: model.OutcomeEnriched})
	batch.Record(model.ItemResult{NaturalKey: "birchcap.com", Outcome: model.OutcomeError, Err: "boom"})

	runner.On("RunBatch", mock.Anything,
		[]pipeline.Ref{{ID: "a"}, {ID: "b"}}, pipeline.BatchOptions{}).
		Return(batch, nil).Once()

	rec := postJSON(t, h, "/api/batch", `{"entityIds":["a","b"]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp batchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 2, resp.TotalProcessed)
	assert.Equal(t, 1, resp.Enriched)
	assert.Equal(t, 1, resp.Errors)
	assert.Len(t, resp.Results, 2)
	runner.AssertExpectations(t)
}

func TestBatchEndpointRequiresIDs(t *testing.T) {
	_, _, h := newTestServer(t)
	rec := postJSON(t, h, "/api/batch", `{"entityIds":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConfirmEndpoint(t *testing.T) {
	runner, _, h := newTestServer(t)
	runner.On("Confirm", mock.Anything, pipeline.Ref{ID: "ent-1"}, "cand-2").
		Return(model.ItemResult{Outcome: model.OutcomeEnriched, FieldsUpdated: []string{"description"}}).Once()

	rec := postJSON(t, h, "/api/confirm", `{"entityId":"ent-1","candidateId":"cand-2"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp itemResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	runner.AssertExpectations(t)

	rec = postJSON(t, h, "/api/confirm", `{"entityId":"ent-1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunsEndpoint(t *testing.T) {
	_, st, h := newTestServer(t)

	run, err := st.InsertRun(context.Background(), model.RunScopeSingle, model.EntityTypeLead, "acme.com")
	require.NoError(t, err)
	require.NoError(t, st.FinishRun(context.Background(), run.ID, model.RunStatusCompleted, model.OutcomeEnriched, "", nil))

	req := httptest.NewRequest(http.MethodGet, "/api/runs?scope=single&limit=10", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Runs []model.PipelineRun `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Runs, 1)
	assert.Equal(t, model.RunStatusCompleted, resp.Runs[0].Status)

	// empty result is an empty list, not null
	req = httptest.NewRequest(http.MethodGet, "/api/runs?scope=batch", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"runs":[]}`, rec.Body.String())
}
