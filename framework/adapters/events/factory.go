package events

import (
	"context"
	"strings"

	"github.com/akriventsev/psp-core/framework/core"
	"github.com/akriventsev/psp-core/framework/events"
)

// Драйверы внешней публикации
const (
	DriverMemory = "memory"
	DriverNATS   = "nats"
	DriverKafka  = "kafka"
	DriverRedis  = "redis"
)

// ExternalPublisher публикатор во внешний брокер с жизненным циклом
type ExternalPublisher interface {
	events.EventPublisher
	core.Lifecycle
	core.Component
}

// PublisherConfig выбор и настройки брокера
type PublisherConfig struct {
	Driver string
	NATS   NATSEventConfig
	Kafka  KafkaEventConfig
	Redis  RedisConfig
}

// NewExternalPublisher создает публикатор по имени драйвера.
// Драйвер memory не публикует наружу и возвращает nil.
func NewExternalPublisher(ctx context.Context, config PublisherConfig) (ExternalPublisher, error) {
	switch strings.ToLower(config.Driver) {
	case "", DriverMemory:
		return nil, nil
	case DriverNATS:
		adapter, err := NewNATSEventAdapter(config.NATS)
		if err != nil {
			return nil, err
		}
		return adapter, nil
	case DriverKafka:
		adapter, err := NewKafkaEventAdapter(config.Kafka)
		if err != nil {
			return nil, err
		}
		return adapter, nil
	case DriverRedis:
		client, err := NewRedisClient(ctx, config.Redis)
		if err != nil {
			return nil, err
		}
		return NewRedisStreamPublisher(client, config.Redis), nil
	default:
		return nil, core.Errorf(core.CodeInvalidConfig, "unknown event publisher driver %q", config.Driver)
	}
}

// Compose объединяет локальный публикатор с внешним, если он есть
func Compose(local events.EventPublisher, external ExternalPublisher) events.EventPublisher {
	if external == nil {
		return local
	}
	return events.NewMultiPublisher(local, external)
}
