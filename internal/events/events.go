// Package events publishes dataset lifecycle events to the event bus.
// The bus is an external collaborator; this package only defines the
// interface boundary and a Kafka-backed implementation.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// Event types published on the dataset topic.
const (
	TypeDatasetCreated  = "dataset.created"
	TypeDatasetIngested = "dataset.ingested"
	TypeDatasetDeleted  = "dataset.deleted"
	TypeBatchDeleted    = "batch.deleted"
	TypeMaskingUpdated  = "dataset.masking_updated"
)

// Event is one dataset lifecycle notification.
type Event struct {
	Type          string    `json:"type"`
	DatasetID     string    `json:"dataset_id"`
	BatchID       string    `json:"batch_id,omitempty"`
	SchemaVersion int       `json:"schema_version,omitempty"`
	RowCount      int64     `json:"row_count,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Notifier publishes dataset events. Publication is best-effort from the
// caller's point of view: the orchestrator logs failures and moves on.
type Notifier interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// KafkaNotifier publishes events to a Kafka topic, keyed by dataset id so
// per-dataset ordering is preserved within a partition.
type KafkaNotifier struct {
	writer *kafka.Writer
}

// NewKafkaNotifier creates a notifier writing to topic on the given brokers.
func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	return &KafkaNotifier{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        false,
		},
	}
}

// Publish sends one event.
func (n *KafkaNotifier) Publish(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("events: failed to encode event: %w", err)
	}
	err = n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.DatasetID),
		Value: payload,
	})
	if err != nil {
		return fmt.Errorf("events: failed to publish %s for dataset %s: %w", event.Type, event.DatasetID, err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

// NopNotifier discards all events. Used when no event bus is configured and
// in tests.
type NopNotifier struct{}

func (NopNotifier) Publish(ctx context.Context, event Event) error { return nil }
func (NopNotifier) Close() error                                   { return nil }
