package cmd

import (
	"fmt"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"docchat/src/core/document"
	"docchat/src/core/ingestion"
	"docchat/src/log"
	"docchat/src/storage/postgres/documentctrl"
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Re-ingest every document of a user",
	Long: `The backfill command runs the ingestion pipeline in-process for each document
a user owns, for example after changing the embedding model.`,
	RunE: runBackfill,
}

func init() {
	rootCmd.AddCommand(backfillCmd)

	backfillCmd.Flags().String("user", "", "owner of the documents")
	backfillCmd.Flags().Bool("failed-only", false, "only re-ingest documents in ERROR state")
	backfillCmd.MarkFlagRequired("user")
}

func runBackfill(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	user, _ := cmd.Flags().GetString("user")
	failedOnly, _ := cmd.Flags().GetBool("failed-only")

	db, err := openDatabase()
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying *sql.DB: %w", err)
	}
	defer sqlDB.Close()

	documentService, err := documentctrl.NewDocumentService(db, viper.GetInt64("snowflake.node_id"))
	if err != nil {
		return fmt.Errorf("failed to initialize document service: %w", err)
	}
	tracker := document.NewTracker(documentService)

	pipeline, err := buildPipeline(tracker)
	if err != nil {
		return err
	}

	records, err := tracker.ListByUser(ctx, user)
	if err != nil {
		return err
	}
	var todo []document.Record
	for _, r := range records {
		if failedOnly && r.Status != document.StatusError {
			continue
		}
		todo = append(todo, r)
	}

	bar := progressbar.Default(int64(len(todo)), "re-ingesting")
	var failed int
	for _, r := range todo {
		result := pipeline.Run(ctx, ingestion.Trigger{DocumentID: r.DocumentID, UserID: r.UserID, Key: r.SourceKey})
		if result.Failed() {
			failed++
			log.Info("Backfill run failed", "document_id", r.DocumentID, "stage", result.Stage, "kind", result.ErrorKind)
		}
		_ = bar.Add(1)
	}
	_ = bar.Finish()

	fmt.Printf("Re-ingested %d documents, %d failed\n", len(todo)-failed, failed)
	if failed > 0 {
		return fmt.Errorf("%d of %d documents failed", failed, len(todo))
	}
	return nil
}
