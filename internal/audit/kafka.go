package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
)

// #region kafka-config
// KafkaConfig selects the brokers and topic for streamed audit entries.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// #endregion kafka-config

// #region kafka-sink
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes each entry as a JSON message keyed by tenant.
type KafkaSink struct {
	writer messageWriter
}

// NewKafkaSink builds a writer for cfg. No connection is made until the first write.
func NewKafkaSink(cfg KafkaConfig) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, fmt.Errorf("kafka audit sink: brokers and topic are required")
	}
	return &KafkaSink{writer: &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}}, nil
}

// Record implements Sink.
func (k *KafkaSink) Record(ctx context.Context, e Entry) error {
	msg, err := entryMessage(e)
	if err != nil {
		return err
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish decision %s: %w", e.DecisionID, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (k *KafkaSink) Close() error {
	return k.writer.Close()
}

func entryMessage(e Entry) (kafka.Message, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal entry: %w", err)
	}
	return kafka.Message{
		Key:   []byte(e.TenantID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "decision_type", Value: []byte(e.DecisionType)},
		},
	}, nil
}

// #endregion kafka-sink
