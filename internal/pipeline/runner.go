// Package pipeline runs the enrichment flow for single entities and batches:
// acquire → extract → merge → persist → audit, with identity resolution in
// front when the entity type requires it.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/harborview-partners/enrich-cli/internal/acquire"
	"github.com/harborview-partners/enrich-cli/internal/audit"
	"github.com/harborview-partners/enrich-cli/internal/extract"
	"github.com/harborview-partners/enrich-cli/internal/merge"
	"github.com/harborview-partners/enrich-cli/internal/model"
	"github.com/harborview-partners/enrich-cli/internal/resolve"
	"github.com/harborview-partners/enrich-cli/internal/schema"
	"github.com/harborview-partners/enrich-cli/internal/store"
)

// Ref identifies an entity: by ID, or by (type, natural key).
type Ref struct {
	ID   string
	Type model.EntityType
	Key  string
}

// Options controls a single-entity run.
type Options struct {
	Force       bool
	PreviewOnly bool
}

// Config holds runner tuning.
type Config struct {
	// BatchDelay is the minimum spacing between batch items.
	BatchDelay time.Duration
}

// Runner executes enrichment runs.
type Runner struct {
	store     store.Store
	registry  *schema.Registry
	acquirer  *acquire.Acquirer
	extractor *extract.Extractor
	resolver  *resolve.Resolver
	audit     *audit.Log
	cfg       Config
}

// New creates a Runner. The resolver may be nil when no identity provider is
// configured; identity-bearing types then fail with an explicit error.
func New(st store.Store, reg *schema.Registry, acq *acquire.Acquirer, ex *extract.Extractor, res *resolve.Resolver, cfg Config) *Runner {
	if cfg.BatchDelay <= 0 {
		cfg.BatchDelay = 4 * time.Second
	}
	return &Runner{
		store:     st,
		registry:  reg,
		acquirer:  acq,
		extractor: ex,
		resolver:  res,
		audit:     audit.New(st),
		cfg:       cfg,
	}
}

// EnrichOne runs the pipeline for one entity. Every failure kind is caught
// here and converted into a terminal ItemResult; the returned PreviewResult
// is non-nil only for preview-only runs that reached extraction.
func (r *Runner) EnrichOne(ctx context.Context, ref Ref, opts Options) (model.ItemResult, *model.PreviewResult) {
	item, preview, _ := r.enrichOne(ctx, ref, opts)
	return item, preview
}

func (r *Runner) enrichOne(ctx context.Context, ref Ref, opts Options) (model.ItemResult, *model.PreviewResult, bool) {
	e, item := r.lookup(ctx, ref)
	if e == nil {
		return item, nil, false
	}

	// Audit records survive mid-run cancellation.
	auditCtx := context.WithoutCancel(ctx)
	h, err := r.audit.Start(auditCtx, model.RunScopeSingle, e.Type, e.NaturalKey)
	if err != nil {
		return errorResult(e, "", err), nil, false
	}

	item, preview, rateLimited := r.process(ctx, e, opts)
	r.finish(auditCtx, h, item)
	return item, preview, rateLimited
}

func (r *Runner) lookup(ctx context.Context, ref Ref) (*model.Entity, model.ItemResult) {
	var e *model.Entity
	var err error
	if ref.ID != "" {
		e, err = r.store.GetEntity(ctx, ref.ID)
	} else {
		e, err = r.store.GetEntityByKey(ctx, ref.Type, ref.Key)
	}
	if err != nil {
		return nil, model.ItemResult{
			EntityID:   ref.ID,
			NaturalKey: ref.Key,
			Outcome:    model.OutcomeError,
			Err:        err.Error(),
		}
	}
	if e == nil {
		return nil, model.ItemResult{
			EntityID:   ref.ID,
			NaturalKey: ref.Key,
			Outcome:    model.OutcomeError,
			Err:        "entity not found",
		}
	}
	return e, model.ItemResult{}
}

func (r *Runner) process(ctx context.Context, e *model.Entity, opts Options) (model.ItemResult, *model.PreviewResult, bool) {
	log := zap.L().With(
		zap.String("entity_id", e.ID),
		zap.String("type", string(e.Type)),
		zap.String("natural_key", e.NaturalKey),
	)

	desc := r.registry.Get(e.Type)
	if desc == nil {
		return errorResult(e, "", fmt.Errorf("no schema for entity type %q", e.Type)), nil, false
	}

	if e.IsEnriched() && !opts.Force && !opts.PreviewOnly {
		log.Info("already enriched, skipping")
		return model.ItemResult{
			EntityID:   e.ID,
			NaturalKey: e.NaturalKey,
			Outcome:    model.OutcomeSkipped,
		}, nil, false
	}

	if desc.NeedsID && e.ResolutionStatus != model.ResolutionOK {
		if item, resolved := r.resolveIdentity(ctx, e, log); !resolved {
			return item, nil, false
		}
	}

	locator := e.Locator()
	if locator == "" {
		if e.Type == model.EntityTypeContact && r.resolver != nil {
			item := r.enrichContact(ctx, e, desc, opts, log)
			return item, nil, false
		}
		log.Info("no source locator")
		return model.ItemResult{
			EntityID:   e.ID,
			NaturalKey: e.NaturalKey,
			Outcome:    model.OutcomeNoSource,
		}, nil, false
	}

	normalized, err := acquire.NormalizeLocator(locator)
	if err != nil {
		log.Info("unusable locator", zap.String("locator", locator))
		return model.ItemResult{
			EntityID:   e.ID,
			NaturalKey: e.NaturalKey,
			Outcome:    model.OutcomeNoSource,
		}, nil, false
	}

	content, err := r.acquirer.Acquire(ctx, normalized)
	if err != nil {
		rateLimited := errors.Is(err, acquire.ErrRateLimited)
		log.Warn("acquisition failed", zap.String("locator", normalized), zap.Error(err))
		return errorResult(e, normalized, err), nil, rateLimited
	}

	ex := r.extractor.Extract(ctx, desc, content.Text)
	if ex.Kind != extract.OutcomeRecord {
		log.Warn("extraction failed",
			zap.String("kind", ex.Kind.String()),
			zap.Error(ex.Err))
		return errorResult(e, content.Locator, fmt.Errorf("extraction %s%s", ex.Kind, extractDetail(ex))), nil, false
	}

	strategy := merge.FillIfEmpty
	if opts.Force {
		strategy = merge.Force
	}
	merged := merge.Apply(e, desc, ex.Fields, strategy)

	if opts.PreviewOnly {
		log.Info("preview complete", zap.Int("would_set", len(merged.ChangedFields)))
		return model.ItemResult{
				EntityID:      e.ID,
				NaturalKey:    e.NaturalKey,
				Outcome:       model.OutcomePreview,
				FieldsUpdated: merged.ChangedFields,
				SourceLocator: content.Locator,
			}, &model.PreviewResult{
				Candidate: ex.Fields,
				Current:   e.Fields,
				WouldSet:  merged.ChangedFields,
			}, false
	}

	if err := r.store.ApplyEnrichment(ctx, e.ID, merged.Updates, content.Locator, ex.Raw); err != nil {
		log.Error("persist failed", zap.Error(err))
		return errorResult(e, content.Locator, err), nil, false
	}

	log.Info("enriched",
		zap.Strings("fields_updated", merged.ChangedFields),
		zap.Int64("input_tokens", ex.Usage.InputTokens),
		zap.Int64("output_tokens", ex.Usage.OutputTokens))
	return model.ItemResult{
		EntityID:      e.ID,
		NaturalKey:    e.NaturalKey,
		Outcome:       model.OutcomeEnriched,
		FieldsUpdated: merged.ChangedFields,
		SourceLocator: content.Locator,
	}, nil, false
}

// resolveIdentity runs identity search for an unresolved entity. Returns
// resolved=true when the run should continue to acquisition; otherwise the
// ItemResult carries the terminal outcome.
func (r *Runner) resolveIdentity(ctx context.Context, e *model.Entity, log *zap.Logger) (model.ItemResult, bool) {
	if r.resolver == nil {
		return errorResult(e, "", fmt.Errorf("entity type %q requires identity resolution but no resolver is configured", e.Type)), false
	}

	res, err := r.resolver.Search(ctx, e)
	if err != nil {
		log.Warn("identity search failed", zap.Error(err))
		return errorResult(e, "", err), false
	}

	if res.AutoConfirmed != nil {
		cand := res.AutoConfirmed
		log.Info("identity auto-confirmed",
			zap.String("candidate_id", cand.ID),
			zap.String("domain", cand.Domain),
			zap.Float64("score", cand.Score))
		if err := r.store.SetResolutionStatus(ctx, e.ID, model.ResolutionOK); err != nil {
			return errorResult(e, "", err), false
		}
		e.ResolutionStatus = model.ResolutionOK
		if e.Website == "" && cand.Domain != "" {
			e.Website = "https://" + cand.Domain
			if _, _, err := r.store.UpsertEntity(ctx, e); err != nil {
				return errorResult(e, "", err), false
			}
		}
		return model.ItemResult{}, true
	}

	if len(res.Candidates) > 0 {
		log.Info("identity ambiguous", zap.Int("candidates", len(res.Candidates)))
		if err := r.store.SetCandidates(ctx, e.ID, res.Candidates); err != nil {
			return errorResult(e, "", err), false
		}
		return model.ItemResult{
			EntityID:   e.ID,
			NaturalKey: e.NaturalKey,
			Outcome:    model.OutcomeAmbiguous,
			Err:        fmt.Sprintf("identity ambiguous: %d candidates awaiting confirmation", len(res.Candidates)),
		}, false
	}

	log.Warn("identity search found nothing")
	if err := r.store.SetResolutionStatus(ctx, e.ID, model.ResolutionError); err != nil {
		return errorResult(e, "", err), false
	}
	return errorResult(e, "", fmt.Errorf("no identity match found for %q", e.Name)), false
}

// enrichContact enriches a contact from the people-match provider instead of
// web acquisition; contacts carry an email, not a website.
func (r *Runner) enrichContact(ctx context.Context, e *model.Entity, desc *schema.TypeDescriptor, opts Options, log *zap.Logger) model.ItemResult {
	fields, err := r.resolver.MatchContact(ctx, e)
	if err != nil {
		log.Warn("contact match failed", zap.Error(err))
		return errorResult(e, "", err)
	}
	if fields == nil {
		log.Info("no contact match")
		return errorResult(e, "", fmt.Errorf("no contact match for %s", e.NaturalKey))
	}

	strategy := merge.FillIfEmpty
	if opts.Force {
		strategy = merge.Force
	}
	merged := merge.Apply(e, desc, fields, strategy)

	if opts.PreviewOnly {
		return model.ItemResult{
			EntityID:      e.ID,
			NaturalKey:    e.NaturalKey,
			Outcome:       model.OutcomePreview,
			FieldsUpdated: merged.ChangedFields,
		}
	}

	raw, _ := json.Marshal(fields)
	if err := r.store.ApplyEnrichment(ctx, e.ID, merged.Updates, "people-match", raw); err != nil {
		log.Error("persist failed", zap.Error(err))
		return errorResult(e, "", err)
	}

	log.Info("contact enriched", zap.Strings("fields_updated", merged.ChangedFields))
	return model.ItemResult{
		EntityID:      e.ID,
		NaturalKey:    e.NaturalKey,
		Outcome:       model.OutcomeEnriched,
		FieldsUpdated: merged.ChangedFields,
	}
}

// Confirm resolves an ambiguous entity against the chosen candidate. The
// candidate list is cleared and the resolution status updated regardless of
// whether re-extraction succeeds.
func (r *Runner) Confirm(ctx context.Context, ref Ref, candidateID string) model.ItemResult {
	e, item := r.lookup(ctx, ref)
	if e == nil {
		return item
	}
	if r.resolver == nil {
		return errorResult(e, "", fmt.Errorf("no identity resolver configured"))
	}

	auditCtx := context.WithoutCancel(ctx)
	h, err := r.audit.Start(auditCtx, model.RunScopeSingle, e.Type, e.NaturalKey)
	if err != nil {
		return errorResult(e, "", err)
	}

	item = r.confirm(ctx, e, candidateID)
	r.finish(auditCtx, h, item)
	return item
}

func (r *Runner) confirm(ctx context.Context, e *model.Entity, candidateID string) model.ItemResult {
	log := zap.L().With(
		zap.String("entity_id", e.ID),
		zap.String("candidate_id", candidateID),
	)

	cr, err := r.resolver.Confirm(ctx, e, candidateID)
	if err != nil {
		log.Warn("confirmation failed", zap.Error(err))
		return errorResult(e, "", err)
	}

	// Ambiguity ends here no matter how the re-extraction went.
	if err := r.store.ClearCandidates(ctx, e.ID); err != nil {
		return errorResult(e, cr.Locator, err)
	}
	if err := r.store.SetResolutionStatus(ctx, e.ID, cr.Status); err != nil {
		return errorResult(e, cr.Locator, err)
	}

	// Record the confirmed candidate's domain the way auto-confirmation does.
	if e.Website == "" && cr.Locator != "" {
		e.Website = cr.Locator
		if _, _, err := r.store.UpsertEntity(ctx, e); err != nil {
			return errorResult(e, cr.Locator, err)
		}
	}

	if cr.Fallback {
		// Degraded write: keep the candidate's summary fields on the entity
		// without stamping it enriched, so a later run can do the full job.
		fallback := *e
		fallback.Fields = cr.Updates
		if _, _, err := r.store.UpsertEntity(ctx, &fallback); err != nil {
			return errorResult(e, cr.Locator, err)
		}
		log.Warn("confirmation fell back to candidate summary",
			zap.Strings("fields", cr.ChangedFields))
		return model.ItemResult{
			EntityID:      e.ID,
			NaturalKey:    e.NaturalKey,
			Outcome:       model.OutcomeError,
			FieldsUpdated: cr.ChangedFields,
			SourceLocator: cr.Locator,
			Err:           "re-extraction failed; persisted candidate summary instead",
		}
	}

	raw, _ := json.Marshal(cr.Updates)
	if err := r.store.ApplyEnrichment(ctx, e.ID, cr.Updates, cr.Locator, raw); err != nil {
		return errorResult(e, cr.Locator, err)
	}

	log.Info("identity confirmed and enriched", zap.Strings("fields_updated", cr.ChangedFields))
	return model.ItemResult{
		EntityID:      e.ID,
		NaturalKey:    e.NaturalKey,
		Outcome:       model.OutcomeEnriched,
		FieldsUpdated: cr.ChangedFields,
		SourceLocator: cr.Locator,
	}
}

// finish writes the terminal audit record for a single-entity run.
func (r *Runner) finish(ctx context.Context, h *audit.RunHandle, item model.ItemResult) {
	var err error
	switch item.Outcome {
	case model.OutcomeError:
		err = h.Error(ctx, item.Outcome, item.Err)
	default:
		err = h.Success(ctx, item.Outcome, runSummary(item))
	}
	if err != nil {
		zap.L().Warn("audit write failed", zap.Error(err))
	}
}

func runSummary(item model.ItemResult) map[string]any {
	s := map[string]any{"outcome": string(item.Outcome)}
	if len(item.FieldsUpdated) > 0 {
		s["fields_updated"] = item.FieldsUpdated
	}
	if item.SourceLocator != "" {
		s["source_locator"] = item.SourceLocator
	}
	if item.Err != "" {
		s["detail"] = item.Err
	}
	return s
}

func errorResult(e *model.Entity, locator string, err error) model.ItemResult {
	return model.ItemResult{
		EntityID:      e.ID,
		NaturalKey:    e.NaturalKey,
		Outcome:       model.OutcomeError,
		SourceLocator: locator,
		Err:           err.Error(),
	}
}

func extractDetail(ex *extract.Result) string {
	if ex.Err != nil {
		return ": " + ex.Err.Error()
	}
	return ""
}
