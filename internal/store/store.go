// Package store persists entities and pipeline run audit rows. Two
// implementations share one contract: PostgresStore for production and
// SQLiteStore for local development and tests.
package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/harborview-partners/enrich-cli/internal/model"
)

// EntityFilter specifies criteria for listing entities.
type EntityFilter struct {
	Type             model.EntityType       `json:"type,omitempty"`
	ResolutionStatus model.ResolutionStatus `json:"resolution_status,omitempty"`
	Enriched         *bool                  `json:"enriched,omitempty"`
	Limit            int                    `json:"limit,omitempty"`
	Offset           int                    `json:"offset,omitempty"`
}

// RunFilter specifies criteria for listing pipeline runs.
type RunFilter struct {
	Scope      model.RunScope   `json:"scope,omitempty"`
	Status     model.RunStatus  `json:"status,omitempty"`
	EntityType model.EntityType `json:"entity_type,omitempty"`
	Limit      int              `json:"limit,omitempty"`
	Offset     int              `json:"offset,omitempty"`
}

// Store defines the persistence interface for the enrichment pipeline.
type Store interface {
	// Entities. Upserts are keyed by (type, natural_key): re-running the
	// same import or pipeline updates the existing row, never duplicates
	// it. The returned bool reports whether the write changed anything
	// (a new row, or an existing row with differing values).
	UpsertEntity(ctx context.Context, e *model.Entity) (*model.Entity, bool, error)
	GetEntity(ctx context.Context, id string) (*model.Entity, error)
	GetEntityByKey(ctx context.Context, typ model.EntityType, key string) (*model.Entity, error)
	ListEntities(ctx context.Context, filter EntityFilter) ([]model.Entity, error)

	// ApplyEnrichment merges the given field updates into the entity's
	// fields and stamps the enrichment metadata in one write.
	ApplyEnrichment(ctx context.Context, id string, updates map[string]any, source string, raw json.RawMessage) error

	// Identity resolution state. SetCandidates marks the entity ambiguous;
	// ClearCandidates drops the candidate list without touching status.
	SetCandidates(ctx context.Context, id string, candidates []model.CandidateMatch) error
	ClearCandidates(ctx context.Context, id string) error
	SetResolutionStatus(ctx context.Context, id string, status model.ResolutionStatus) error

	// Runs. The audit trail is append-only: InsertRun creates a running
	// row, FinishRun writes its single terminal update and refuses a
	// second one.
	InsertRun(ctx context.Context, scope model.RunScope, entityType model.EntityType, entityKey string) (*model.PipelineRun, error)
	FinishRun(ctx context.Context, runID string, status model.RunStatus, outcome model.ItemOutcome, errMsg string, summary json.RawMessage) error
	GetRun(ctx context.Context, runID string) (*model.PipelineRun, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.PipelineRun, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// PersistFailed is returned when a write is rejected by a database
// constraint. Hint carries a remediation-oriented message suitable for
// surfacing to operators instead of the raw database error.
type PersistFailed struct {
	Hint string
	Err  error
}

func (e *PersistFailed) Error() string {
	return fmt.Sprintf("persist failed: %s", e.Hint)
}

func (e *PersistFailed) Unwrap() error {
	return e.Err
}

// Open constructs a Store for the configured driver.
func Open(ctx context.Context, driver, postgresURL, sqlitePath string) (Store, error) {
	switch driver {
	case "postgres":
		return NewPostgres(ctx, postgresURL, nil)
	case "sqlite":
		return NewSQLite(sqlitePath)
	default:
		return nil, eris.Errorf("store: unknown driver %q", driver)
	}
}
