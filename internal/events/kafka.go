package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaSink streams every event to a topic for consumers outside the
// cluster (dashboards, SIEM, long-term analytics).
type KafkaSink struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// NewKafkaSink creates a sink writing to topic on the given brokers.
func NewKafkaSink(brokers []string, topic string, logger *zap.Logger) (*KafkaSink, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("at least one Kafka broker is required")
	}
	if topic == "" {
		return nil, fmt.Errorf("Kafka topic is required")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: time.Second,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
	}

	return &KafkaSink{writer: writer, logger: logger}, nil
}

// Write publishes one event, keyed by node id so a node's events land on
// one partition. The bus hands events to this sink concurrently, so
// consumers must order by the event timestamp, not by offset.
func (s *KafkaSink) Write(ctx context.Context, event Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.NodeID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(event.Type)},
			{Key: "cluster", Value: []byte(event.Cluster)},
		},
	}

	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write to Kafka: %w", err)
	}
	return nil
}

// Close closes the underlying writer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

// Handler adapts the sink to a bus subscriber.
func (s *KafkaSink) Handler() Handler {
	return func(ctx context.Context, event Event) error {
		if err := s.Write(ctx, event); err != nil {
			s.logger.Warn("Kafka event publish failed",
				zap.String("event_id", event.ID),
				zap.Error(err))
			return err
		}
		return nil
	}
}
