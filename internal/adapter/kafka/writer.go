// Package kafka publishes dispatch outcomes to a telemetry topic.
// Reporting only: the sink is feature-flagged and never part of the dedup
// or delivery path.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/forecast-alert-service/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// Writer produces dispatch outcome records to a Kafka topic.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the outcome topic.
func NewWriter(brokers []string, topic string, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireOne,
	}
	return &Writer{writer: w, logger: logger}
}

// Publish serializes and writes all outcomes of one run in a single
// WriteMessages call.
func (w *Writer) Publish(ctx context.Context, outcomes []domain.DispatchOutcome) error {
	if len(outcomes) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(outcomes))
	for i := range outcomes {
		msg, err := serializeToMessage(outcomes[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	return w.writer.WriteMessages(ctx, msgs...)
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a DispatchOutcome into a Kafka message keyed
// by dedup key, so a compacted topic keeps the latest outcome per condition
// instance.
func serializeToMessage(outcome domain.DispatchOutcome) (kafkago.Message, error) {
	data, err := json.Marshal(outcome)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize dispatch outcome: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(outcome.DedupKey),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "status", Value: []byte(outcome.Status)},
			{Key: "recorded_at", Value: []byte(outcome.At.Format(time.RFC3339))},
		},
	}, nil
}
