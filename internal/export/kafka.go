package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

type kafkaWriteMessage interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// KafkaConfig configures KafkaSink.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

// KafkaSink publishes each record as a JSON message keyed by record ID.
type KafkaSink struct {
	topic  string
	writer kafkaWriteMessage
}

// NewKafkaSink builds a hash-balanced writer so a record ID always lands on
// the same partition.
func NewKafkaSink(cfg KafkaConfig) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka topic is required")
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafkago.Hash{},
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafkago.RequireOne,
	}
	return &KafkaSink{topic: cfg.Topic, writer: w}, nil
}

// Name implements Sink.
func (k *KafkaSink) Name() string { return "kafka" }

// Write implements Sink.
func (k *KafkaSink) Write(ctx context.Context, rec Record) error {
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", rec.ID, err)
	}
	msg := kafkago.Message{
		Key:   []byte(rec.ID),
		Value: value,
		Time:  rec.Timestamp,
		Headers: []kafkago.Header{
			{Key: "severity", Value: []byte(rec.Decision.Severity.String())},
			{Key: "action", Value: []byte(rec.Decision.Action.String())},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write to %s: %w", k.topic, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (k *KafkaSink) Close() error { return k.writer.Close() }
