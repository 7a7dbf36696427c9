package model

import (
	"encoding/json"
	"time"
)

// RunStatus is the lifecycle state of a pipeline run audit row.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusError     RunStatus = "error"
)

// RunScope distinguishes single-entity invocations from batch invocations.
type RunScope string

const (
	RunScopeSingle RunScope = "single"
	RunScopeBatch  RunScope = "batch"
)

// ItemOutcome is the terminal classification of one entity's pipeline run.
type ItemOutcome string

const (
	OutcomeEnriched  ItemOutcome = "enriched"
	OutcomeSkipped   ItemOutcome = "skipped"
	OutcomeNoSource  ItemOutcome = "no_source"
	OutcomeError     ItemOutcome = "error"
	OutcomeAmbiguous ItemOutcome = "ambiguous"
	OutcomePreview   ItemOutcome = "preview"
)

// PipelineRun is one append-only audit row for a pipeline invocation, single
// or batch. Created at invocation start, finished exactly once, never
// deleted.
type PipelineRun struct {
	ID         string          `json:"id"`
	Scope      RunScope        `json:"scope"`
	EntityType EntityType      `json:"entity_type,omitempty"`
	EntityKey  string          `json:"entity_key,omitempty"` // natural key for single runs, item count label for batches
	Status     RunStatus       `json:"status"`
	Outcome    ItemOutcome     `json:"outcome,omitempty"`
	Error      string          `json:"error,omitempty"`
	Summary    json.RawMessage `json:"summary,omitempty"` // structured payload, never raw secrets
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// ItemResult reports one entity's terminal outcome within a run.
type ItemResult struct {
	EntityID      string      `json:"entity_id"`
	NaturalKey    string      `json:"natural_key,omitempty"`
	Outcome       ItemOutcome `json:"outcome"`
	FieldsUpdated []string    `json:"fields_updated,omitempty"`
	SourceLocator string      `json:"source_locator,omitempty"`
	Err           string      `json:"error,omitempty"`
}

// PreviewResult is returned by preview-only runs: the extracted candidate
// record and the current persisted fields side by side, nothing written.
type PreviewResult struct {
	Candidate map[string]any `json:"candidate"`
	Current   map[string]any `json:"current"`
	WouldSet  []string       `json:"would_set"`
}

// maxBatchResultItems bounds the per-item list returned to batch callers.
const maxBatchResultItems = 50

// BatchResult aggregates per-item outcomes of a batch run. It is derived and
// returned to the caller, never persisted.
type BatchResult struct {
	TotalProcessed int          `json:"total_processed"`
	Enriched       int          `json:"enriched"`
	Skipped        int          `json:"skipped"`
	Errors         int          `json:"errors"`
	NoSource       int          `json:"no_source"`
	Results        []ItemResult `json:"results"`
}

// Record tallies an item result into the batch counters. Outcomes that are
// not enriched/skipped/no_source (including ambiguous) count as errors so
// that conservation holds: every processed item lands in exactly one bucket.
func (b *BatchResult) Record(r ItemResult) {
	b.TotalProcessed++
	switch r.Outcome {
	case OutcomeEnriched:
		b.Enriched++
	case OutcomeSkipped:
		b.Skipped++
	case OutcomeNoSource:
		b.NoSource++
	default:
		b.Errors++
	}
	if len(b.Results) < maxBatchResultItems {
		b.Results = append(b.Results, r)
	}
}

// Conserved reports whether the counters account for every processed item.
func (b *BatchResult) Conserved() bool {
	return b.Enriched+b.Skipped+b.Errors+b.NoSource == b.TotalProcessed
}
