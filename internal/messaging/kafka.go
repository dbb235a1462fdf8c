package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/novafeed/riptide/internal/config"
	"github.com/novafeed/riptide/internal/validation"
	"github.com/novafeed/riptide/pkg/models"
)

const (
	maxProcessRetries = 3
	retryBaseDelay    = time.Second
	publishTimeout    = 10 * time.Second
)

// InteractionSink receives interaction events pulled off the bus.
type InteractionSink interface {
	RecordInteraction(ctx context.Context, req *models.InteractionRequest) (*models.UserInteraction, error)
}

// ContentStore receives content embedding events pulled off the bus.
type ContentStore interface {
	Save(ctx context.Context, embedding *models.ContentEmbedding) error
}

// EventBus owns the Kafka surface: consumers for interaction and content
// embedding events, the recommendations-served producer, and the dead letter
// queue. Payloads are schema-validated before parsing; transient processing
// failures retry with backoff and anything that keeps failing lands in the
// DLQ with the original bytes intact.
type EventBus struct {
	interactionReader *kafka.Reader
	contentReader     *kafka.Reader
	servedWriter      *kafka.Writer
	dlqWriter         *kafka.Writer

	validator *validation.EventValidator
	logger    *logrus.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEventBus builds the readers and writers. Nothing is consumed until
// Start. Construction never dials; broker failures surface on first use.
func NewEventBus(cfg *config.Config, validator *validation.EventValidator, logger *logrus.Logger) *EventBus {
	return &EventBus{
		interactionReader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:        cfg.Kafka.Brokers,
			Topic:          cfg.Kafka.Topics.UserInteractions,
			GroupID:        cfg.Kafka.ConsumerGroup,
			MinBytes:       10e3,
			MaxBytes:       10e6,
			CommitInterval: time.Second,
			StartOffset:    kafka.LastOffset,
		}),
		contentReader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:        cfg.Kafka.Brokers,
			Topic:          cfg.Kafka.Topics.ContentEmbeddings,
			GroupID:        cfg.Kafka.ConsumerGroup,
			MinBytes:       10e3,
			MaxBytes:       10e6,
			CommitInterval: time.Second,
			StartOffset:    kafka.LastOffset,
		}),
		servedWriter: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Kafka.Brokers...),
			Topic:        cfg.Kafka.Topics.RecommendationsServed,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
			BatchSize:    100,
		},
		dlqWriter: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Kafka.Brokers...),
			Topic:        cfg.Kafka.Topics.DeadLetter,
			RequiredAcks: kafka.RequireOne,
			Async:        false,
		},
		validator: validator,
		logger:    logger,
	}
}

// Start launches the consumer loops.
func (b *EventBus) Start(sink InteractionSink, store ContentStore) {
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel

	b.wg.Add(1)
	go b.consumeInteractions(ctx, sink)

	b.wg.Add(1)
	go b.consumeContent(ctx, store)

	b.logger.Info("Kafka consumers started")
}

// Stop halts the consumers and closes every reader and writer.
func (b *EventBus) Stop() error {
	if b.cancel != nil {
		b.cancel()
	}

	var errs []error
	if err := b.interactionReader.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close interaction reader: %w", err))
	}
	if err := b.contentReader.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close content reader: %w", err))
	}
	b.wg.Wait()

	if err := b.servedWriter.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close served writer: %w", err))
	}
	if err := b.dlqWriter.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close dlq writer: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("event bus shutdown: %v", errs)
	}
	return nil
}

// PublishServed emits the served page so downstream consumers (analytics,
// trainers) see what each user was shown.
func (b *EventBus) PublishServed(response *models.RecommendationResponse) error {
	payload, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("encode served event: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	message := kafka.Message{
		Key:   []byte(response.UserID.String()),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "user_id", Value: []byte(response.UserID.String())},
			{Key: "served_at", Value: []byte(response.GeneratedAt.Format(time.RFC3339))},
		},
	}
	if err := b.servedWriter.WriteMessages(ctx, message); err != nil {
		return fmt.Errorf("publish served event: %w", err)
	}
	return nil
}

func (b *EventBus) consumeInteractions(ctx context.Context, sink InteractionSink) {
	defer b.wg.Done()

	for {
		message, err := b.interactionReader.ReadMessage(ctx)
		if err != nil {
			if readerStopped(ctx, err) {
				return
			}
			b.logger.WithError(err).Error("Failed to read interaction event")
			continue
		}

		if result := b.validator.ValidateInteractionEvent(message.Value); !result.Valid {
			// Malformed payloads never heal; straight to the DLQ.
			b.deadLetter(&message, errors.New(result.Error()))
			continue
		}

		var event models.InteractionEvent
		if err := json.Unmarshal(message.Value, &event); err != nil {
			b.deadLetter(&message, fmt.Errorf("decode interaction event: %w", err))
			continue
		}

		request, err := interactionRequestFromEvent(&event)
		if err != nil {
			b.deadLetter(&message, err)
			continue
		}

		err = b.withRetry(ctx, func() error {
			_, err := sink.RecordInteraction(ctx, request)
			return err
		})
		if err != nil {
			b.logger.WithError(err).WithField("user_id", event.UserID).Error("Interaction event failed after retries")
			b.deadLetter(&message, err)
		}
	}
}

func (b *EventBus) consumeContent(ctx context.Context, store ContentStore) {
	defer b.wg.Done()

	for {
		message, err := b.contentReader.ReadMessage(ctx)
		if err != nil {
			if readerStopped(ctx, err) {
				return
			}
			b.logger.WithError(err).Error("Failed to read content event")
			continue
		}

		if result := b.validator.ValidateContentEvent(message.Value); !result.Valid {
			b.deadLetter(&message, errors.New(result.Error()))
			continue
		}

		var event models.ContentEmbeddingEvent
		if err := json.Unmarshal(message.Value, &event); err != nil {
			b.deadLetter(&message, fmt.Errorf("decode content event: %w", err))
			continue
		}

		embedding, err := contentEmbeddingFromEvent(&event)
		if err != nil {
			b.deadLetter(&message, err)
			continue
		}

		err = b.withRetry(ctx, func() error {
			return store.Save(ctx, embedding)
		})
		if err != nil {
			b.logger.WithError(err).WithField("content_id", event.ContentID).Error("Content event failed after retries")
			b.deadLetter(&message, err)
			continue
		}

		b.logger.WithField("content_id", event.ContentID).Debug("Stored content embedding from event")
	}
}

// withRetry runs fn with exponential backoff. Only the final error comes
// back; intermediate failures are logged at Warn.
func (b *EventBus) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt <= maxProcessRetries; attempt++ {
		if attempt > 0 {
			delay := retryBaseDelay * time.Duration(1<<uint(attempt-1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		if err = fn(); err == nil {
			return nil
		}
		b.logger.WithError(err).WithField("attempt", attempt).Warn("Event processing failed")
	}
	return fmt.Errorf("max retries exceeded: %w", err)
}

// deadLetter forwards the original bytes to the DLQ with the failure reason
// in the headers, so operators can inspect and replay. Uses its own context:
// the DLQ write should still go out when the consumer is shutting down.
func (b *EventBus) deadLetter(message *kafka.Message, cause error) {
	dlqMessage := kafka.Message{
		Key:   message.Key,
		Value: message.Value,
		Headers: []kafka.Header{
			{Key: "original_topic", Value: []byte(message.Topic)},
			{Key: "error", Value: []byte(cause.Error())},
			{Key: "failed_at", Value: []byte(time.Now().Format(time.RFC3339))},
		},
	}

	writeCtx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := b.dlqWriter.WriteMessages(writeCtx, dlqMessage); err != nil {
		b.logger.WithError(err).WithField("topic", message.Topic).Error("Failed to write to dead letter queue")
		return
	}

	b.logger.WithFields(logrus.Fields{
		"topic": message.Topic,
		"error": cause.Error(),
	}).Warn("Event sent to dead letter queue")
}

func readerStopped(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, io.EOF) || errors.Is(err, context.Canceled)
}

func interactionRequestFromEvent(event *models.InteractionEvent) (*models.InteractionRequest, error) {
	userID, err := uuid.Parse(event.UserID)
	if err != nil {
		return nil, fmt.Errorf("invalid user_id %q: %w", event.UserID, err)
	}
	contentID, err := uuid.Parse(event.ContentID)
	if err != nil {
		return nil, fmt.Errorf("invalid content_id %q: %w", event.ContentID, err)
	}
	if !models.ValidInteractionType(event.Type) {
		return nil, fmt.Errorf("unknown interaction type %q", event.Type)
	}

	return &models.InteractionRequest{
		UserID:       userID,
		ContentID:    contentID,
		Type:         event.Type,
		Duration:     event.Duration,
		WatchPercent: event.WatchPercent,
		Topics:       event.Topics,
	}, nil
}

func contentEmbeddingFromEvent(event *models.ContentEmbeddingEvent) (*models.ContentEmbedding, error) {
	contentID, err := uuid.Parse(event.ContentID)
	if err != nil {
		return nil, fmt.Errorf("invalid content_id %q: %w", event.ContentID, err)
	}

	embedding := &models.ContentEmbedding{
		ContentID: contentID,
		Vector:    event.Vector,
		Topics:    event.Topics,
		Language:  event.Language,
		Location:  event.Location,
		CreatedAt: event.CreatedAt,
	}
	if event.AuthorID != "" {
		authorID, err := uuid.Parse(event.AuthorID)
		if err != nil {
			return nil, fmt.Errorf("invalid author_id %q: %w", event.AuthorID, err)
		}
		embedding.AuthorID = &authorID
	}
	return embedding, nil
}
