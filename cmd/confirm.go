package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rotisserie/eris"
)

var (
	confirmID        string
	confirmType      string
	confirmKey       string
	confirmCandidate string
)

var confirmCmd = &cobra.Command{
	Use:   "confirm",
	Short: "Confirm an identity candidate for an ambiguous entity",
	Long:  "Picks one of the candidates stored on an ambiguous entity, re-runs acquisition and extraction against it, and clears the candidate list.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		ref, err := entityRef(confirmID, confirmType, confirmKey)
		if err != nil {
			return err
		}
		if confirmCandidate == "" {
			return eris.New("--candidate is required")
		}

		env, err := initPipeline(ctx, "enrich")
		if err != nil {
			return err
		}
		defer env.Close()

		item := env.Runner.Confirm(ctx, ref, confirmCandidate)

		zap.L().Info("confirmation finished",
			zap.String("entity", item.NaturalKey),
			zap.String("candidate", confirmCandidate),
			zap.String("outcome", string(item.Outcome)),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(toItemResponse(item, nil))
	},
}

func init() {
	confirmCmd.Flags().StringVar(&confirmID, "id", "", "entity store id")
	confirmCmd.Flags().StringVar(&confirmType, "type", "", "entity type")
	confirmCmd.Flags().StringVar(&confirmKey, "key", "", "entity natural key")
	confirmCmd.Flags().StringVar(&confirmCandidate, "candidate", "", "candidate id to confirm (required)")
	rootCmd.AddCommand(confirmCmd)
}
