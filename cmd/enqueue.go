package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"docchat/src/core/ingestion"
	"docchat/src/infrastructure/queue"
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Publish an ingestion trigger",
	Long:  `The enqueue command publishes a trigger for an object already stored in the document bucket.`,
	RunE:  runEnqueue,
}

func init() {
	rootCmd.AddCommand(enqueueCmd)

	enqueueCmd.Flags().String("user", "", "owner of the document")
	enqueueCmd.Flags().String("document", "", "document id")
	enqueueCmd.Flags().String("key", "", "object key in the document bucket")
	enqueueCmd.MarkFlagRequired("user")
	enqueueCmd.MarkFlagRequired("document")
	enqueueCmd.MarkFlagRequired("key")
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	user, _ := cmd.Flags().GetString("user")
	documentID, _ := cmd.Flags().GetString("document")
	key, _ := cmd.Flags().GetString("key")

	publisher, err := queue.NewAMQPPublisher(viper.GetString("amqp.url"))
	if err != nil {
		return err
	}
	defer publisher.Close()

	svc := queue.NewIngestionService(publisher, nil, viper.GetString("amqp.ingest_queue"), 0)
	trigger := ingestion.Trigger{DocumentID: documentID, UserID: user, Key: key}
	if err := svc.EnqueueTrigger(cmd.Context(), trigger); err != nil {
		return err
	}

	fmt.Printf("Successfully enqueued document %s (%s)\n", documentID, key)
	return nil
}
