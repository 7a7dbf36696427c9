package audit

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborview-partners/enrich-cli/internal/model"
	"github.com/harborview-partners/enrich-cli/internal/store"
)

func newTestLog(t *testing.T) (*Log, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return New(st), st
}

func TestLog_StartAndSuccess(t *testing.T) {
	log, st := newTestLog(t)
	ctx := context.Background()

	h, err := log.Start(ctx, model.RunScopeSingle, model.EntityTypeBuyer, "acme.com")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusRunning, h.Run().Status)

	err = h.Success(ctx, model.OutcomeEnriched, map[string]any{
		"fields_updated": []string{"description", "sector"},
	})
	require.NoError(t, err)

	got, err := st.GetRun(ctx, h.Run().ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, got.Status)
	assert.Equal(t, model.OutcomeEnriched, got.Outcome)
	require.NotNil(t, got.FinishedAt)

	var summary map[string]any
	require.NoError(t, json.Unmarshal(got.Summary, &summary))
	assert.Contains(t, summary, "fields_updated")
}

func TestLog_StartAndError(t *testing.T) {
	log, st := newTestLog(t)
	ctx := context.Background()

	h, err := log.Start(ctx, model.RunScopeSingle, model.EntityTypeContact, "jane@acme.com")
	require.NoError(t, err)

	require.NoError(t, h.Error(ctx, model.OutcomeError, "source unreachable"))

	got, err := st.GetRun(ctx, h.Run().ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusError, got.Status)
	assert.Equal(t, "source unreachable", got.Error)
}

func TestRunHandle_RefusesSecondTerminal(t *testing.T) {
	log, _ := newTestLog(t)
	ctx := context.Background()

	h, err := log.Start(ctx, model.RunScopeBatch, "", "3 items")
	require.NoError(t, err)

	require.NoError(t, h.Success(ctx, model.OutcomeEnriched, nil))

	err = h.Error(ctx, model.OutcomeError, "late failure")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already finished")
}
