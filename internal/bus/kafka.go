package bus

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes broadcast payloads to one topic keyed by operator.
type KafkaPublisher struct {
	writer messageWriter
	now    func() time.Time
}

type KafkaConfig struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
	MaxAttempts  int
}

func NewKafkaPublisher(cfg KafkaConfig) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("topic is required")
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{}, // Partition by operator
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  cfg.MaxAttempts,
		Async:        false,
	}
	return &KafkaPublisher{writer: writer, now: time.Now}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, operator string, payload []byte) error {
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(operator),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "operator", Value: []byte(operator)},
			{Key: "content_type", Value: []byte("application/json")},
		},
		Time: p.now(),
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
