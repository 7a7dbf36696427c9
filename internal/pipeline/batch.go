package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/harborview-partners/enrich-cli/internal/model"
)

// BatchOptions controls a batch run.
type BatchOptions struct {
	Force bool
}

// RunBatch processes the given refs strictly sequentially with the
// configured inter-item delay. Per-item failures and panics are recorded and
// never abort the remaining items; a single rate-limit outcome doubles the
// delay once for the rest of the batch. Cancelling ctx stops future items
// but completed writes stay.
func (r *Runner) RunBatch(ctx context.Context, refs []Ref, opts BatchOptions) (*model.BatchResult, error) {
	// Audit writes survive cancellation: the run must get its start and
	// terminal records even when the batch is aborted midway.
	auditCtx := context.WithoutCancel(ctx)
	h, err := r.audit.Start(auditCtx, model.RunScopeBatch, "", fmt.Sprintf("%d items", len(refs)))
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: start batch run")
	}

	delay := r.cfg.BatchDelay
	limiter := rate.NewLimiter(rate.Every(delay), 1)
	delayDoubled := false

	zap.L().Info("batch starting",
		zap.Int("items", len(refs)),
		zap.Duration("delay", delay),
		zap.Bool("force", opts.Force))

	result := &model.BatchResult{}
	cancelled := false

	for i, ref := range refs {
		if err := limiter.Wait(ctx); err != nil {
			cancelled = true
			zap.L().Warn("batch cancelled",
				zap.Int("processed", i),
				zap.Int("remaining", len(refs)-i))
			break
		}

		item, rateLimited := r.runItem(ctx, ref, Options{Force: opts.Force})
		result.Record(item)

		if rateLimited && !delayDoubled {
			delay *= 2
			limiter = rate.NewLimiter(rate.Every(delay), 1)
			delayDoubled = true
			zap.L().Warn("rate limited, doubling inter-item delay",
				zap.Duration("delay", delay))
		}
	}

	zap.L().Info("batch complete",
		zap.Int("total", result.TotalProcessed),
		zap.Int("enriched", result.Enriched),
		zap.Int("skipped", result.Skipped),
		zap.Int("errors", result.Errors),
		zap.Int("no_source", result.NoSource))

	if cancelled {
		if err := h.Error(auditCtx, model.OutcomeError,
			fmt.Sprintf("batch cancelled after %d of %d items", result.TotalProcessed, len(refs))); err != nil {
			zap.L().Warn("audit write failed", zap.Error(err))
		}
		return result, nil
	}

	summary := batchSummary(result)
	if err := h.Success(auditCtx, "", summary); err != nil {
		zap.L().Warn("audit write failed", zap.Error(err))
	}
	return result, nil
}

// runItem isolates one item: a panic inside the pipeline becomes an error
// outcome for that item only.
func (r *Runner) runItem(ctx context.Context, ref Ref, opts Options) (item model.ItemResult, rateLimited bool) {
	defer func() {
		if p := recover(); p != nil {
			zap.L().Error("panic during batch item",
				zap.String("entity_id", ref.ID),
				zap.String("natural_key", ref.Key),
				zap.Any("panic", p))
			item = model.ItemResult{
				EntityID:   ref.ID,
				NaturalKey: ref.Key,
				Outcome:    model.OutcomeError,
				Err:        fmt.Sprintf("panic: %v", p),
			}
			rateLimited = false
		}
	}()

	start := time.Now()
	item, _, rateLimited = r.enrichOne(ctx, ref, opts)
	zap.L().Debug("batch item done",
		zap.String("natural_key", item.NaturalKey),
		zap.String("outcome", string(item.Outcome)),
		zap.Duration("took", time.Since(start)))
	return item, rateLimited
}

// batchSummary is the structured audit payload for a batch run: counters
// plus the bounded per-item list, never page content.
func batchSummary(result *model.BatchResult) map[string]any {
	items := make([]map[string]any, 0, len(result.Results))
	for _, it := range result.Results {
		entry := map[string]any{
			"natural_key": it.NaturalKey,
			"outcome":     string(it.Outcome),
		}
		if it.Err != "" {
			entry["error"] = it.Err
		}
		items = append(items, entry)
	}
	return map[string]any{
		"total_processed": result.TotalProcessed,
		"enriched":        result.Enriched,
		"skipped":         result.Skipped,
		"errors":          result.Errors,
		"no_source":       result.NoSource,
		"items":           items,
	}
}
