package events

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"github.com/akriventsev/psp-core/framework/core"
	"github.com/akriventsev/psp-core/framework/events"
	"github.com/akriventsev/psp-core/framework/metrics"
)

// KafkaEventConfig конфигурация для Kafka Event Publisher
type KafkaEventConfig struct {
	Brokers       []string
	TopicPrefix   string
	Compression   string // none, gzip, snappy, lz4, zstd
	BatchSize     int
	FlushInterval time.Duration
	Metrics       *metrics.Metrics
}

// DefaultKafkaEventConfig возвращает конфигурацию Kafka Event Publisher по умолчанию
func DefaultKafkaEventConfig() KafkaEventConfig {
	return KafkaEventConfig{
		Brokers:       []string{"localhost:9092"},
		TopicPrefix:   "events",
		Compression:   "snappy",
		BatchSize:     100,
		FlushInterval: 10 * time.Millisecond,
	}
}

// KafkaEventAdapter реализация Event Publisher через Kafka.
// Ключ сообщения равен aggregate_id, поэтому события одного агрегата попадают в одну партицию по порядку.
type KafkaEventAdapter struct {
	config KafkaEventConfig
	writer *kafka.Writer
}

// NewKafkaEventAdapter создает новый Kafka Event Publisher
func NewKafkaEventAdapter(config KafkaEventConfig) (*KafkaEventAdapter, error) {
	if len(config.Brokers) == 0 {
		return nil, core.NewError(core.CodeInvalidConfig, "kafka brokers are required")
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(config.Brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		Async:                  false,
		BatchSize:              config.BatchSize,
		BatchTimeout:           config.FlushInterval,
		Compression:            kafkaCompression(config.Compression),
		AllowAutoTopicCreation: true,
	}
	return &KafkaEventAdapter{config: config, writer: writer}, nil
}

// Start запускает адаптер
func (k *KafkaEventAdapter) Start(_ context.Context) error {
	return nil
}

// Stop останавливает адаптер
func (k *KafkaEventAdapter) Stop(_ context.Context) error {
	return k.writer.Close()
}

// IsRunning проверяет, запущен ли адаптер
func (k *KafkaEventAdapter) IsRunning() bool {
	return k.writer != nil
}

// Name возвращает имя компонента
func (k *KafkaEventAdapter) Name() string {
	return "kafka-event-adapter"
}

// Type возвращает тип компонента
func (k *KafkaEventAdapter) Type() core.ComponentType {
	return core.ComponentTypeAdapter
}

// Publish публикует событие в топик {prefix}.{aggregate_type}
func (k *KafkaEventAdapter) Publish(ctx context.Context, event events.Event) error {
	msg, err := k.buildMessage(event)
	if err != nil {
		return err
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish %s to kafka: %w", event.EventType(), err)
	}
	if k.config.Metrics != nil {
		k.config.Metrics.RecordEvent(ctx, event.EventType())
	}
	return nil
}

func (k *KafkaEventAdapter) buildMessage(event events.Event) (kafka.Message, error) {
	data, err := events.EncodeEnvelope(event)
	if err != nil {
		return kafka.Message{}, err
	}
	headers := buildHeaders(event)
	kh := make([]kafka.Header, 0, len(headers))
	for key, value := range headers {
		kh = append(kh, kafka.Header{Key: key, Value: []byte(value)})
	}
	return kafka.Message{
		Topic:   k.topic(event),
		Key:     []byte(event.AggregateID()),
		Value:   data,
		Headers: kh,
		Time:    event.OccurredAt(),
	}, nil
}

func (k *KafkaEventAdapter) topic(event events.Event) string {
	return k.config.TopicPrefix + "." + aggregateTypeOf(event.EventType())
}

func kafkaCompression(name string) compress.Compression {
	switch strings.ToLower(name) {
	case "gzip":
		return compress.Gzip
	case "snappy":
		return compress.Snappy
	case "lz4":
		return compress.Lz4
	case "zstd":
		return compress.Zstd
	default:
		return compress.None
	}
}
