package eventsourcing

import (
	"context"
	"strings"

	"github.com/akriventsev/psp-core/framework/core"
)

// Драйверы хранилища событий
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverMongoDB  = "mongodb"
)

// StoreConfig выбор и настройки хранилища событий
type StoreConfig struct {
	Driver   string
	Memory   InMemoryEventStoreConfig
	Postgres PostgresEventStoreConfig
	MongoDB  MongoDBEventStoreConfig
}

// EventStoreFactory фабрика для создания Event Store адаптеров.
// Доступные адаптеры:
//   - memory (для тестов и локального запуска)
//   - postgres
//   - mongodb
type EventStoreFactory struct {
	registry *EventRegistry
}

// NewEventStoreFactory создает новую фабрику Event Store
func NewEventStoreFactory(registry *EventRegistry) *EventStoreFactory {
	return &EventStoreFactory{registry: registry}
}

// Create создает хранилище по имени драйвера
func (f *EventStoreFactory) Create(ctx context.Context, config StoreConfig) (EventStore, error) {
	switch strings.ToLower(config.Driver) {
	case "", DriverMemory:
		return NewInMemoryEventStore(config.Memory), nil
	case DriverPostgres:
		return NewPostgresEventStore(ctx, config.Postgres, f.registry)
	case DriverMongoDB:
		return NewMongoDBEventStore(ctx, config.MongoDB, f.registry)
	default:
		return nil, core.Errorf(core.CodeInvalidConfig, "unknown event store driver %q", config.Driver)
	}
}
