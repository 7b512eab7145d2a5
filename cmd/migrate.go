package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"docchat/src/log"
	"docchat/src/storage/elastic/turnstore"
	"docchat/src/storage/postgres/documentctrl"
	"docchat/src/storage/postgres/turnctrl"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create tables, buckets and indexes",
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	db, err := openDatabase()
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying *sql.DB: %w", err)
	}
	defer sqlDB.Close()

	if err := db.WithContext(ctx).AutoMigrate(&documentctrl.Document{}, &turnctrl.Turn{}); err != nil {
		return fmt.Errorf("failed to migrate tables: %w", err)
	}
	log.Info("Migrated tables")

	minioService, err := newMinioService()
	if err != nil {
		return fmt.Errorf("failed to initialize minio service: %w", err)
	}
	for _, bucket := range []string{viper.GetString("minio.document_bucket"), viper.GetString("minio.index_bucket")} {
		if err := minioService.EnsureBucketExists(ctx, bucket); err != nil {
			return err
		}
		log.Info("Bucket ready", "bucket", bucket)
	}

	if viper.GetString("history.backend") == "elastic" {
		es, err := turnstore.NewClient(viper.GetString("history.elastic_url"))
		if err != nil {
			return err
		}
		store, err := turnstore.NewStore(es, viper.GetString("history.elastic_index"), viper.GetInt64("snowflake.node_id"))
		if err != nil {
			return err
		}
		if err := store.EnsureIndex(ctx); err != nil {
			return err
		}
		log.Info("Elasticsearch index ready", "index", viper.GetString("history.elastic_index"))
	}
	return nil
}
