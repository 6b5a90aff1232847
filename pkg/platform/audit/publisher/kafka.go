package publisher

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"

	audit "pandi/pkg/platform/audit"
)

// DefaultTopic is the Kafka topic audit events are published to.
const DefaultTopic = "pandi.audit.events"

// Kafka publishes audit events to a Kafka topic. Publishing is synchronous so
// callers decide how failures are handled (the Recorder logs and continues).
type Kafka struct {
	client *kgo.Client
	topic  string
}

// NewKafka connects to the given brokers. Close the publisher on shutdown.
func NewKafka(brokers []string, topic string) (*Kafka, error) {
	if topic == "" {
		topic = DefaultTopic
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.AllowAutoTopicCreation(),
	)
	if err != nil {
		return nil, fmt.Errorf("connect kafka: %w", err)
	}
	return &Kafka{client: client, topic: topic}, nil
}

func (k *Kafka) Publish(ctx context.Context, event audit.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	record := &kgo.Record{
		Topic: k.topic,
		Key:   []byte(event.RecordID),
		Value: payload,
	}
	if err := k.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce audit event: %w", err)
	}
	return nil
}

// Close flushes and releases the underlying client.
func (k *Kafka) Close() {
	k.client.Close()
}
