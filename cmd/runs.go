package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/harborview-partners/enrich-cli/internal/model"
	"github.com/harborview-partners/enrich-cli/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect the pipeline run audit trail",
	Long:  "Commands for listing and viewing pipeline runs. Runs are append-only; every invocation leaves exactly one row.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pipeline runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("runs"); err != nil {
			return err
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		scope, _ := cmd.Flags().GetString("scope")
		status, _ := cmd.Flags().GetString("status")
		entityType, _ := cmd.Flags().GetString("type")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := st.ListRuns(ctx, store.RunFilter{
			Scope:      model.RunScope(scope),
			Status:     model.RunStatus(status),
			EntityType: model.EntityType(entityType),
			Limit:      limit,
		})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show full details of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("runs"); err != nil {
			return err
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}
		if run == nil {
			return eris.Errorf("run %s not found", args[0])
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	},
}

func init() {
	runsListCmd.Flags().String("scope", "", "filter by scope (single, batch)")
	runsListCmd.Flags().String("status", "", "filter by status (running, completed, error)")
	runsListCmd.Flags().String("type", "", "filter by entity type")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.PipelineRun) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSCOPE\tENTITY\tSTATUS\tOUTCOME\tSTARTED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t-----\t------\t------\t-------\t-------\t--------")

	for _, r := range runs {
		entity := r.EntityKey
		if r.EntityType != "" {
			entity = string(r.EntityType) + "/" + entity
		}
		if len(entity) > 30 {
			entity = entity[:27] + "..."
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(r.ID),
			r.Scope,
			entity,
			r.Status,
			r.Outcome,
			r.StartedAt.Format("2006-01-02 15:04"),
			runDuration(r),
		)
	}
	_ = w.Flush()
}

// runDuration renders elapsed time for finished runs, "-" otherwise.
func runDuration(r model.PipelineRun) string {
	if r.FinishedAt == nil {
		return "-"
	}
	return r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
