package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"docchat/handler/http/api"
	"docchat/src/core/answering"
	"docchat/src/core/conversation"
	"docchat/src/core/document"
	"docchat/src/core/vectorindex"
	"docchat/src/infrastructure/integrations/ollama"
	"docchat/src/infrastructure/queue"
	"docchat/src/log"
	"docchat/src/storage/postgres/documentctrl"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the document chat server",
	Long:  `The serve command starts an HTTP server for uploads, document status and conversational answers.`,
	RunE:  RunServer,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func RunServer(cmd *cobra.Command, args []string) error {
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
	historyStore, err := newHistoryStore(db)
	if err != nil {
		return fmt.Errorf("failed to initialize history store: %w", err)
	}

	minioService, err := newMinioService()
	if err != nil {
		return fmt.Errorf("failed to initialize minio service: %w", err)
	}

	gateway, err := newEmbeddingGateway()
	if err != nil {
		return err
	}
	llm, err := ollama.NewClient(viper.GetString("ollama.url"), viper.GetString("llm.model"), &http.Client{})
	if err != nil {
		return err
	}

	amqpPublisher, err := queue.NewAMQPPublisher(viper.GetString("amqp.url"))
	if err != nil {
		return err
	}
	defer amqpPublisher.Close()

	memory := conversation.NewMemory(historyStore)
	answerer := answering.NewService(
		vectorindex.NewStore(minioService, viper.GetString("minio.index_bucket")),
		gateway,
		memory,
		llm,
		viper.GetInt("rag.top_k"),
		viper.GetFloat64("rag.temperature"),
	)

	documentBucket := viper.GetString("minio.document_bucket")
	indexBucket := viper.GetString("minio.index_bucket")
	handler := api.NewHandler(api.Dependencies{
		Answerer:       answerer,
		History:        memory,
		Documents:      document.NewTracker(documentService),
		Objects:        minioService,
		DocumentBucket: documentBucket,
		Publisher:      queue.NewIngestionService(amqpPublisher, nil, viper.GetString("amqp.ingest_queue"), 0),
		NewDocumentID:  documentService.NewDocumentID,
		HealthChecks: map[string]api.HealthCheck{
			"postgres": sqlDB.PingContext,
			"minio": func(ctx context.Context) error {
				if err := minioService.Ping(ctx, documentBucket); err != nil {
					return err
				}
				return minioService.Ping(ctx, indexBucket)
			},
			"ollama": llm.Heartbeat,
		},
	})

	r := gin.New()
	r.Use(gin.Recovery(), requestTimeout(viper.GetDuration("server.request_timeout")))
	handler.RegisterRoutes(r)

	srv := &http.Server{
		Addr:    ":" + viper.GetString("server.port"),
		Handler: r,
	}

	go func() {
		log.Info("Starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(err, "Failed to start server")
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	timeout := viper.GetDuration("server.shutdown_timeout")
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error(err, "Server forced to shutdown")
	}

	log.Info("Server exited")
	return nil
}

// requestTimeout bounds every collaborator call made while serving a request
func requestTimeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if d <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
