// Package audit writes the append-only run log. Every pipeline invocation,
// single or batch, gets exactly one start record and exactly one terminal
// record; summaries are structured JSON and never carry raw page content or
// credentials.
package audit

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/harborview-partners/enrich-cli/internal/model"
	"github.com/harborview-partners/enrich-cli/internal/store"
)

// Log starts and finishes pipeline run records against the store.
type Log struct {
	store store.Store
}

// New creates a Log backed by the given store.
func New(st store.Store) *Log {
	return &Log{store: st}
}

// RunHandle tracks one open run record until its terminal write.
type RunHandle struct {
	run   *model.PipelineRun
	store store.Store
	done  bool
}

// Start inserts the run's start record. entityKey is the natural key for
// single runs and an item-count label for batches.
func (l *Log) Start(ctx context.Context, scope model.RunScope, entityType model.EntityType, entityKey string) (*RunHandle, error) {
	run, err := l.store.InsertRun(ctx, scope, entityType, entityKey)
	if err != nil {
		return nil, eris.Wrap(err, "audit: start run")
	}
	zap.L().Info("run started",
		zap.String("run_id", run.ID),
		zap.String("scope", string(scope)),
		zap.String("entity_key", entityKey))
	return &RunHandle{run: run, store: l.store}, nil
}

// Run returns the underlying run record.
func (h *RunHandle) Run() *model.PipelineRun {
	return h.run
}

// Success writes the terminal completed record with the given outcome and
// an optional structured summary.
func (h *RunHandle) Success(ctx context.Context, outcome model.ItemOutcome, summary any) error {
	var raw json.RawMessage
	if summary != nil {
		b, err := json.Marshal(summary)
		if err != nil {
			return eris.Wrap(err, "audit: marshal summary")
		}
		raw = b
	}
	if err := h.finish(ctx, model.RunStatusCompleted, outcome, "", raw); err != nil {
		return err
	}
	zap.L().Info("run completed",
		zap.String("run_id", h.run.ID),
		zap.String("outcome", string(outcome)))
	return nil
}

// Error writes the terminal error record.
func (h *RunHandle) Error(ctx context.Context, outcome model.ItemOutcome, msg string) error {
	if err := h.finish(ctx, model.RunStatusError, outcome, msg, nil); err != nil {
		return err
	}
	zap.L().Warn("run failed",
		zap.String("run_id", h.run.ID),
		zap.String("outcome", string(outcome)),
		zap.String("error", msg))
	return nil
}

func (h *RunHandle) finish(ctx context.Context, status model.RunStatus, outcome model.ItemOutcome, msg string, summary json.RawMessage) error {
	if h.done {
		return eris.Errorf("audit: run %s already finished", h.run.ID)
	}
	if err := h.store.FinishRun(ctx, h.run.ID, status, outcome, msg, summary); err != nil {
		return eris.Wrapf(err, "audit: finish run %s", h.run.ID)
	}
	h.done = true
	h.run.Status = status
	h.run.Outcome = outcome
	h.run.Error = msg
	h.run.Summary = summary
	return nil
}
