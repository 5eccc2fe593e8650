package eventsourcing

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/akriventsev/psp-core/framework/core"
	"github.com/akriventsev/psp-core/framework/events"
)

// AggregateFactory фабричная функция для создания пустых агрегатов
type AggregateFactory[T AggregateInterface] func(id string) T

// RepositoryConfig конфигурация для Event Sourced репозитория
type RepositoryConfig struct {
	// MaxConflictRetries число повторов Execute при конфликте версий
	MaxConflictRetries int
	// Publisher получает события после успешного сохранения, может быть nil
	Publisher events.EventPublisher
	// OnPublishError вызывается при ошибке публикации, сохранение при этом не откатывается
	OnPublishError func(event events.Event, err error)
}

// DefaultRepositoryConfig возвращает конфигурацию по умолчанию
func DefaultRepositoryConfig() RepositoryConfig {
	return RepositoryConfig{
		MaxConflictRetries: 3,
	}
}

// EventSourcedRepository generic репозиторий для Event Sourced агрегатов
type EventSourcedRepository[T AggregateInterface] struct {
	eventStore EventStore
	config     RepositoryConfig
	factory    AggregateFactory[T]
}

// NewEventSourcedRepository создает новый Event Sourced репозиторий
func NewEventSourcedRepository[T AggregateInterface](
	eventStore EventStore,
	config RepositoryConfig,
	factory AggregateFactory[T],
) *EventSourcedRepository[T] {
	if config.MaxConflictRetries < 0 {
		config.MaxConflictRetries = 0
	}
	return &EventSourcedRepository[T]{
		eventStore: eventStore,
		config:     config,
		factory:    factory,
	}
}

// Load загружает агрегат, сворачивая весь поток событий.
// Пустой поток дает ошибку класса core.ErrNotFound.
func (r *EventSourcedRepository[T]) Load(ctx context.Context, aggregateID string) (T, error) {
	var zero T

	stored, err := r.eventStore.GetEvents(ctx, aggregateID, 0)
	if err != nil {
		return zero, fmt.Errorf("failed to get events: %w", err)
	}
	if len(stored) == 0 {
		return zero, fmt.Errorf("aggregate %s: %w", aggregateID, ErrStreamNotFound)
	}

	aggregate := r.factory(aggregateID)
	if err := aggregate.LoadFromHistory(EventsOf(stored)); err != nil {
		return zero, err
	}
	return aggregate, nil
}

// Save сохраняет uncommitted события агрегата, публикует их и очищает буфер.
// При конфликте версий буфер не очищается.
func (r *EventSourcedRepository[T]) Save(ctx context.Context, aggregate T) error {
	uncommitted := aggregate.GetUncommittedEvents()
	if len(uncommitted) == 0 {
		return nil
	}

	expectedVersion := aggregate.Version() - int64(len(uncommitted))
	if err := r.eventStore.AppendEvents(ctx, aggregate.ID(), expectedVersion, uncommitted); err != nil {
		return fmt.Errorf("failed to append events: %w", err)
	}

	r.publish(ctx, uncommitted)
	aggregate.MarkEventsAsCommitted()
	return nil
}

func (r *EventSourcedRepository[T]) publish(ctx context.Context, evts []events.Event) {
	if r.config.Publisher == nil {
		return
	}
	for _, event := range evts {
		if err := r.config.Publisher.Publish(ctx, event); err != nil {
			log.Printf("[eventsourcing] failed to publish %s (%s) for aggregate %s: %v",
				event.EventType(), event.EventID(), event.AggregateID(), err)
			if r.config.OnPublishError != nil {
				r.config.OnPublishError(event, err)
			}
		}
	}
}

// Execute загружает агрегат, применяет команду fn и сохраняет результат.
// При конфликте версий агрегат перезагружается и fn выполняется повторно.
func (r *EventSourcedRepository[T]) Execute(ctx context.Context, aggregateID string, fn func(T) error) (T, error) {
	var zero T
	for attempt := 0; ; attempt++ {
		aggregate, err := r.Load(ctx, aggregateID)
		if err != nil {
			return zero, err
		}
		if err := fn(aggregate); err != nil {
			return zero, err
		}
		err = r.Save(ctx, aggregate)
		if err == nil {
			return aggregate, nil
		}
		if !errors.Is(err, core.ErrConcurrency) || attempt >= r.config.MaxConflictRetries {
			return zero, err
		}
		log.Printf("[eventsourcing] concurrency conflict on %s, retry %d/%d", aggregateID, attempt+1, r.config.MaxConflictRetries)
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
	}
}

// Create сохраняет новый агрегат с пустым потоком
func (r *EventSourcedRepository[T]) Create(ctx context.Context, aggregate T) error {
	if aggregate.Version() != int64(len(aggregate.GetUncommittedEvents())) {
		return core.Errorf(core.CodeInvariantViolation, "aggregate %s is not new", aggregate.ID())
	}
	return r.Save(ctx, aggregate)
}
