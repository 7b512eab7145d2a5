package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"docchat/src/core/document"
	"docchat/src/core/extraction"
	"docchat/src/core/ingestion"
	"docchat/src/core/vectorindex"
	"docchat/src/infrastructure/queue"
	"docchat/src/log"
	"docchat/src/storage/postgres/documentctrl"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the ingestion worker",
	Long:  `The worker command consumes ingestion triggers from the queue and builds document indexes.`,
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

// buildPipeline wires the ingestion pipeline from configuration
func buildPipeline(tracker *document.Tracker) (*ingestion.Pipeline, error) {
	minioService, err := newMinioService()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize minio service: %w", err)
	}

	extractor, err := newExtractor()
	if err != nil {
		return nil, err
	}

	gateway, err := newEmbeddingGateway()
	if err != nil {
		return nil, err
	}

	return ingestion.NewPipeline(
		minioService,
		viper.GetString("minio.document_bucket"),
		extractor,
		extraction.NewChunker(viper.GetInt("rag.chunk_size"), viper.GetInt("rag.chunk_overlap")),
		gateway,
		vectorindex.NewStore(minioService, viper.GetString("minio.index_bucket")),
		tracker,
	), nil
}

func runWorker(cmd *cobra.Command, args []string) error {
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

	pipeline, err := buildPipeline(document.NewTracker(documentService))
	if err != nil {
		return err
	}

	amqpPublisher, err := queue.NewAMQPPublisher(viper.GetString("amqp.url"))
	if err != nil {
		return err
	}
	defer amqpPublisher.Close()

	amqpSubscriber, err := queue.NewAMQPSubscriber(viper.GetString("amqp.url"))
	if err != nil {
		return err
	}
	defer amqpSubscriber.Close()

	ingestionService := queue.NewIngestionService(
		amqpPublisher,
		pipeline,
		viper.GetString("amqp.ingest_queue"),
		viper.GetDuration("worker.run_timeout"),
	)
	router, err := queue.NewRouter(amqpSubscriber, amqpPublisher, ingestionService, viper.GetString("amqp.result_queue"))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("Starting ingestion worker",
		"queue", viper.GetString("amqp.ingest_queue"),
		"embedding_model", viper.GetString("embedding.model"),
	)
	if err := router.Run(ctx); err != nil {
		return fmt.Errorf("router stopped: %w", err)
	}
	log.Info("Router stopped")
	return nil
}
