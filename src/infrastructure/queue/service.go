package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"

	"docchat/src/core/ingestion"
	"docchat/src/log"
)

const (
	DefaultIngestTopic = "ingestion"
	DefaultResultTopic = "ingestion.results"
)

var ErrMalformedTrigger = errors.New("malformed ingestion trigger")

// Runner executes one ingestion run
type Runner interface {
	Run(ctx context.Context, trigger ingestion.Trigger) ingestion.Result
}

// IngestionService publishes triggers and consumes them into pipeline runs
type IngestionService struct {
	publisher   message.Publisher
	runner      Runner
	ingestTopic string
	runTimeout  time.Duration
}

func NewIngestionService(publisher message.Publisher, runner Runner, ingestTopic string, runTimeout time.Duration) *IngestionService {
	if ingestTopic == "" {
		ingestTopic = DefaultIngestTopic
	}
	return &IngestionService{
		publisher:   publisher,
		runner:      runner,
		ingestTopic: ingestTopic,
		runTimeout:  runTimeout,
	}
}

// EnqueueTrigger publishes a trigger to the ingestion queue
func (s *IngestionService) EnqueueTrigger(ctx context.Context, trigger ingestion.Trigger) error {
	if err := trigger.Validate(); err != nil {
		return err
	}

	payload, err := json.Marshal(trigger)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set("document_id", trigger.DocumentID)
	if err := s.publisher.Publish(s.ingestTopic, msg); err != nil {
		return fmt.Errorf("failed to publish trigger message: %w", err)
	}

	log.Info("Enqueued ingestion", "user_id", trigger.UserID, "document_id", trigger.DocumentID, "key", trigger.Key)
	return nil
}

// ProcessTriggerMessage runs the pipeline for one message and returns its Result
// as the outgoing message. A failed run is still acknowledged; only a message
// that cannot be parsed is rejected.
func (s *IngestionService) ProcessTriggerMessage(msg *message.Message) ([]*message.Message, error) {
	var trigger ingestion.Trigger
	if err := json.Unmarshal(msg.Payload, &trigger); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedTrigger, err)
	}
	if err := trigger.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedTrigger, err)
	}

	ctx := msg.Context()
	if s.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.runTimeout)
		defer cancel()
	}

	result := s.runner.Run(ctx, trigger)

	payload, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ingestion result: %w", err)
	}
	out := message.NewMessage(watermill.NewUUID(), payload)
	out.Metadata.Set("document_id", trigger.DocumentID)
	out.Metadata.Set("status", result.Status)
	return []*message.Message{out}, nil
}

// NewRouter wires the ingestion handler between the trigger subscriber and the result publisher.
// Malformed messages are nacked; the subscriber decides whether they are requeued.
func NewRouter(
	subscriber message.Subscriber,
	publisher message.Publisher,
	service *IngestionService,
	resultTopic string,
) (*message.Router, error) {
	if resultTopic == "" {
		resultTopic = DefaultResultTopic
	}

	router, err := message.NewRouter(message.RouterConfig{}, log.Watermill())
	if err != nil {
		return nil, fmt.Errorf("failed to create router: %w", err)
	}
	router.AddMiddleware(
		middleware.Recoverer,
		middleware.CorrelationID,
	)
	router.AddHandler(
		"ingestion_processor",
		service.ingestTopic,
		subscriber,
		resultTopic,
		publisher,
		service.ProcessTriggerMessage,
	)
	return router, nil
}

func NewAMQPPublisher(url string) (*amqp.Publisher, error) {
	publisher, err := amqp.NewPublisher(amqp.NewDurableQueueConfig(url), log.Watermill())
	if err != nil {
		return nil, fmt.Errorf("failed to create amqp publisher: %w", err)
	}
	return publisher, nil
}

// NewAMQPSubscriber consumes from durable queues and drops nacked messages
func NewAMQPSubscriber(url string) (*amqp.Subscriber, error) {
	config := amqp.NewDurableQueueConfig(url)
	config.Consume.NoRequeueOnNack = true
	subscriber, err := amqp.NewSubscriber(config, log.Watermill())
	if err != nil {
		return nil, fmt.Errorf("failed to create amqp subscriber: %w", err)
	}
	return subscriber, nil
}
