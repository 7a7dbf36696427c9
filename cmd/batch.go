package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/harborview-partners/enrich-cli/internal/acquire"
	"github.com/harborview-partners/enrich-cli/internal/model"
	"github.com/harborview-partners/enrich-cli/internal/pipeline"
	"github.com/harborview-partners/enrich-cli/internal/store"
	"github.com/harborview-partners/enrich-cli/pkg/notion"
)

var (
	batchIDs   string
	batchType  string
	batchLimit int
	batchForce bool
	batchQueue bool
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Enrich a list of entities sequentially",
	Long:  "Processes entities one at a time with an inter-item delay. Sources: explicit --ids, un-enriched entities of a --type, or the Notion queue with --queue.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "batch")
		if err != nil {
			return err
		}
		defer env.Close()

		refs, pageByKey, err := batchRefs(ctx, env)
		if err != nil {
			return err
		}
		if len(refs) == 0 {
			zap.L().Info("nothing to process")
			return nil
		}
		if batchLimit > 0 && len(refs) > batchLimit {
			refs = refs[:batchLimit]
		}

		res, err := env.Runner.RunBatch(ctx, refs, pipeline.BatchOptions{Force: batchForce})
		if err != nil {
			return err
		}

		if env.Notion != nil && len(pageByKey) > 0 {
			writeQueueStatuses(ctx, env.Notion, pageByKey, res)
		}
		env.Notifier.BatchComplete(ctx, res)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(toBatchResponse(res))
	},
}

// batchRefs resolves the configured source into an ordered ref list. The
// returned map links natural keys back to Notion queue pages for status
// writeback; it is empty unless --queue was used.
func batchRefs(ctx context.Context, env *pipelineEnv) ([]pipeline.Ref, map[string]string, error) {
	pageByKey := map[string]string{}

	switch {
	case batchIDs != "":
		var refs []pipeline.Ref
		for _, id := range strings.Split(batchIDs, ",") {
			if id = strings.TrimSpace(id); id != "" {
				refs = append(refs, pipeline.Ref{ID: id})
			}
		}
		return refs, pageByKey, nil

	case batchQueue:
		if env.Notion == nil {
			return nil, nil, eris.New("notion token is required for --queue (ENRICH_NOTION_TOKEN)")
		}
		if cfg.Notion.QueueDB == "" {
			return nil, nil, eris.New("notion queue DB id is required for --queue (ENRICH_NOTION_QUEUE_DB)")
		}

		pages, err := notion.QueryQueuedEntities(ctx, env.Notion, cfg.Notion.QueueDB)
		if err != nil {
			return nil, nil, err
		}

		var refs []pipeline.Ref
		for _, page := range pages {
			qr := notion.PageEntityRef(page)
			key := acquire.Domain(qr.Website)
			if key == "" {
				zap.L().Warn("queue page has no usable website, skipping",
					zap.String("page", qr.PageID), zap.String("name", qr.Name))
				continue
			}
			typ := model.EntityType(strings.ToLower(qr.Type))
			if typ == "" {
				typ = model.EntityTypeLead
			}
			if _, _, err := env.Store.UpsertEntity(ctx, &model.Entity{
				Type: typ, NaturalKey: key, Name: qr.Name, Website: qr.Website,
			}); err != nil {
				return nil, nil, eris.Wrapf(err, "upsert queued entity %q", key)
			}
			refs = append(refs, pipeline.Ref{Type: typ, Key: key})
			pageByKey[key] = qr.PageID
		}
		return refs, pageByKey, nil

	case batchType != "":
		enriched := false
		filter := store.EntityFilter{Type: model.EntityType(batchType), Limit: batchLimit}
		if !batchForce {
			filter.Enriched = &enriched
		}
		entities, err := env.Store.ListEntities(ctx, filter)
		if err != nil {
			return nil, nil, err
		}
		var refs []pipeline.Ref
		for _, e := range entities {
			refs = append(refs, pipeline.Ref{ID: e.ID})
		}
		return refs, pageByKey, nil
	}

	return nil, nil, eris.New("one of --ids, --type or --queue is required")
}

// writeQueueStatuses updates the Notion queue pages from the per-item
// outcomes. Writeback failures are logged; the batch already finished.
func writeQueueStatuses(ctx context.Context, nc notion.Client, pageByKey map[string]string, res *model.BatchResult) {
	for _, item := range res.Results {
		pageID, ok := pageByKey[item.NaturalKey]
		if !ok {
			continue
		}
		status := queueStatus(item.Outcome)
		if err := notion.MarkStatus(ctx, nc, pageID, status); err != nil {
			zap.L().Warn("queue status writeback failed",
				zap.String("page", pageID),
				zap.String("status", status),
				zap.Error(err),
			)
		}
	}
}

func queueStatus(outcome model.ItemOutcome) string {
	switch outcome {
	case model.OutcomeEnriched:
		return "Enriched"
	case model.OutcomeSkipped:
		return "Skipped"
	case model.OutcomeAmbiguous:
		return "Needs Review"
	default:
		return "Failed"
	}
}

func init() {
	batchCmd.Flags().StringVar(&batchIDs, "ids", "", "comma-separated entity store ids")
	batchCmd.Flags().StringVar(&batchType, "type", "", "process un-enriched entities of this type")
	batchCmd.Flags().BoolVar(&batchQueue, "queue", false, "pull queued entities from the Notion queue database")
	batchCmd.Flags().IntVar(&batchLimit, "limit", 100, "max number of entities to process")
	batchCmd.Flags().BoolVar(&batchForce, "force", false, "re-enrich entities that are already enriched")
	rootCmd.AddCommand(batchCmd)
}
