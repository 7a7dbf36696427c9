package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/harborview-partners/enrich-cli/internal/importer"
	"github.com/harborview-partners/enrich-cli/internal/model"
)

var (
	importFile string
	importFTP  string
	importType string
	importBulk bool
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a lead or buyer list into the entity store",
	Long:  "Reads a CSV or XLSX list from a local file or an FTP drop and upserts the rows by natural key. Re-importing the same list is a no-op.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("import"); err != nil {
			return err
		}

		ftpURL := importFTP
		if importFile == "" && ftpURL == "" && cfg.Import.FTPHost != "" {
			ftpURL = "ftp://" + cfg.Import.FTPHost + cfg.Import.FTPPath
			zap.L().Info("using configured ftp drop", zap.String("url", ftpURL))
		}
		if (importFile == "") == (ftpURL == "") {
			return eris.New("exactly one of --file or --ftp (or a configured ftp drop) is required")
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		reg, err := loadSchemaRegistry()
		if err != nil {
			return err
		}

		imp := importer.New(st, reg, importer.Config{
			Charset:     cfg.Import.Charset,
			FTPUser:     cfg.Import.FTPUser,
			FTPPassword: cfg.Import.FTPPassword,
			FTPTimeout:  30 * time.Second,
		})
		entityType := model.EntityType(importType)

		if importBulk {
			if ftpURL != "" {
				return eris.New("--bulk requires a local --file")
			}
			n, err := imp.BulkLoad(ctx, importFile, entityType)
			if err != nil {
				return err
			}
			zap.L().Info("bulk load finished", zap.Int64("rows", n))
			return nil
		}

		var res *importer.Result
		if ftpURL != "" {
			res, err = imp.ImportFTP(ctx, ftpURL, entityType)
		} else {
			res, err = imp.ImportFile(ctx, importFile, entityType)
		}
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

func init() {
	importCmd.Flags().StringVar(&importFile, "file", "", "path to a local CSV or XLSX file")
	importCmd.Flags().StringVar(&importFTP, "ftp", "", "ftp:// URL of a dropped list")
	importCmd.Flags().StringVar(&importType, "type", "lead", "entity type for the imported rows")
	importCmd.Flags().BoolVar(&importBulk, "bulk", false, "postgres COPY fast path for large initial loads (overwrites descriptive columns)")
	rootCmd.AddCommand(importCmd)
}
