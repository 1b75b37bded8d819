// Lightpost - Marketing Site Analytics and Experimentation Pipeline
// Copyright 2026 Lightpost Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/lightpost-io/lightpost

package forward

import (
	"context"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaForwarder produces event payloads to a Kafka topic.
type KafkaForwarder struct {
	client *kgo.Client
	topic  string
}

// NewKafkaForwarder creates a Kafka producer for the given brokers.
func NewKafkaForwarder(brokers []string, topic string) (*KafkaForwarder, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &KafkaForwarder{client: client, topic: topic}, nil
}

// Name identifies the target in logs and metrics.
func (f *KafkaForwarder) Name() string { return "kafka" }

// Forward produces the payload synchronously so delivery failures surface to
// the dispatcher's metrics.
func (f *KafkaForwarder) Forward(ctx context.Context, payload []byte) error {
	record := &kgo.Record{Topic: f.topic, Value: payload}
	if err := f.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce %s: %w", f.topic, err)
	}
	return nil
}

// Close flushes and closes the producer.
func (f *KafkaForwarder) Close() {
	f.client.Close()
}
