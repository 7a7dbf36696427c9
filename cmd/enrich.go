package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/harborview-partners/enrich-cli/internal/model"
	"github.com/harborview-partners/enrich-cli/internal/pipeline"
)

var (
	enrichID      string
	enrichType    string
	enrichKey     string
	enrichForce   bool
	enrichPreview bool
)

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Run enrichment for a single entity",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		ref, err := entityRef(enrichID, enrichType, enrichKey)
		if err != nil {
			return err
		}

		env, err := initPipeline(ctx, "enrich")
		if err != nil {
			return err
		}
		defer env.Close()

		item, preview := env.Runner.EnrichOne(ctx, ref, pipeline.Options{
			Force:       enrichForce,
			PreviewOnly: enrichPreview,
		})

		zap.L().Info("enrichment finished",
			zap.String("entity", item.NaturalKey),
			zap.String("outcome", string(item.Outcome)),
			zap.Int("fields_updated", len(item.FieldsUpdated)),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(toItemResponse(item, preview))
	},
}

// entityRef validates that the flags identify exactly one entity: either by
// store id, or by (type, natural key).
func entityRef(id, typ, key string) (pipeline.Ref, error) {
	if id != "" {
		return pipeline.Ref{ID: id}, nil
	}
	if typ == "" || key == "" {
		return pipeline.Ref{}, eris.New("either --id or both --type and --key are required")
	}
	return pipeline.Ref{Type: model.EntityType(typ), Key: key}, nil
}

func init() {
	enrichCmd.Flags().StringVar(&enrichID, "id", "", "entity store id")
	enrichCmd.Flags().StringVar(&enrichType, "type", "", "entity type (buyer, company, fund, contact, lead)")
	enrichCmd.Flags().StringVar(&enrichKey, "key", "", "entity natural key (domain or email)")
	enrichCmd.Flags().BoolVar(&enrichForce, "force", false, "overwrite fields that already have values")
	enrichCmd.Flags().BoolVar(&enrichPreview, "preview", false, "extract but do not persist; print candidate vs current")
	rootCmd.AddCommand(enrichCmd)
}
