package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes audit entries to a Kafka topic, keyed by agent.
type KafkaSink struct {
	w messageWriter
}

// NewKafkaSink creates an asynchronous producer for brokers (comma-separated).
func NewKafkaSink(brokers, topic string) (*KafkaSink, error) {
	var addrs []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			addrs = append(addrs, b)
		}
	}
	if len(addrs) == 0 || topic == "" {
		return nil, fmt.Errorf("kafka sink: brokers and topic are required")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(addrs...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		BatchTimeout: 200 * time.Millisecond,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				slog.Warn("Audit kafka delivery failed", "messages", len(msgs), "error", err)
			}
		},
	}
	return &KafkaSink{w: w}, nil
}

func newKafkaSinkWithWriter(w messageWriter) *KafkaSink { return &KafkaSink{w: w} }

// Publish encodes e as JSON and hands it to the producer.
func (k *KafkaSink) Publish(ctx context.Context, e Entry) error {
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode audit entry: %w", err)
	}
	return k.w.WriteMessages(ctx, kafka.Message{
		Key:     []byte(e.AgentID),
		Value:   value,
		Headers: []kafka.Header{{Key: "action", Value: []byte(e.Action)}},
		Time:    e.CreatedAt,
	})
}

// Close flushes and closes the producer.
func (k *KafkaSink) Close() error { return k.w.Close() }
