// Package kafka publishes forecast events for downstream consumers.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/collision-forecast-service/internal/config"
	"github.com/couchcryptid/collision-forecast-service/internal/domain"
)

// Writer produces forecast events to a Kafka topic.
// It implements pipeline.EventPublisher.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured forecast topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.KafkaBrokers...),
		Topic:                  cfg.KafkaForecastTopic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Writer{writer: w, logger: logger}
}

// PublishForecast writes one event keyed by its cutoff date, so reruns for the
// same cutoff land on the same partition.
func (w *Writer) PublishForecast(ctx context.Context, event domain.ForecastEvent) error {
	msg, err := serializeToMessage(event)
	if err != nil {
		return err
	}
	if err := w.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish forecast %s: %w", event.Cutoff, err)
	}
	w.logger.Debug("forecast event published", "topic", w.writer.Topic, "cutoff", event.Cutoff, "run_id", event.RunID)
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a ForecastEvent into a Kafka message.
func serializeToMessage(event domain.ForecastEvent) (kafkago.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize forecast event: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(event.Cutoff),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "run_id", Value: []byte(event.RunID)},
			{Key: "created_at", Value: []byte(event.CreatedAt.Format(time.RFC3339))},
		},
	}, nil
}
