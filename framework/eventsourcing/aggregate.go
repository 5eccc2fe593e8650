package eventsourcing

import (
	"fmt"

	"github.com/akriventsev/psp-core/framework/core"
	"github.com/akriventsev/psp-core/framework/events"
)

// EventApplyFunc сворачивает одно событие в состояние агрегата
type EventApplyFunc func(event events.Event) error

// EventSourcedAggregate базовый тип для агрегатов с Event Sourcing.
// Состояние меняется только обработчиками событий, зарегистрированными в таблице handlers.
type EventSourcedAggregate struct {
	id                string
	version           int64
	uncommittedEvents []events.Event
	handlers          map[string]EventApplyFunc
}

// NewEventSourcedAggregate создает новый Event Sourced агрегат
func NewEventSourcedAggregate(id string) *EventSourcedAggregate {
	return &EventSourcedAggregate{
		id:                id,
		uncommittedEvents: make([]events.Event, 0),
		handlers:          make(map[string]EventApplyFunc),
	}
}

// Register регистрирует обработчик типа события. Повторная регистрация типа
// является ошибкой программирования и приводит к panic при конструировании агрегата.
func (a *EventSourcedAggregate) Register(eventType string, fn EventApplyFunc) {
	if _, exists := a.handlers[eventType]; exists {
		panic(fmt.Sprintf("eventsourcing: handler for %q already registered on aggregate %s", eventType, a.id))
	}
	a.handlers[eventType] = fn
}

// On регистрирует типизированный обработчик события E
func On[E events.Event](a *EventSourcedAggregate, eventType string, fn func(E) error) {
	a.Register(eventType, func(event events.Event) error {
		typed, ok := event.(E)
		if !ok {
			return core.Errorf(core.CodeUnknownEventType, "event %s has unexpected payload type %T", eventType, event)
		}
		return fn(typed)
	})
}

// Handles проверяет, зарегистрирован ли обработчик для типа
func (a *EventSourcedAggregate) Handles(eventType string) bool {
	_, ok := a.handlers[eventType]
	return ok
}

// ID возвращает идентификатор агрегата
func (a *EventSourcedAggregate) ID() string {
	return a.id
}

// Version возвращает число событий, свернутых в текущее состояние
func (a *EventSourcedAggregate) Version() int64 {
	return a.version
}

// RaiseEvent применяет новое событие и добавляет его в uncommitted.
// При ошибке обработчика состояние и буфер не меняются.
func (a *EventSourcedAggregate) RaiseEvent(event events.Event) error {
	if err := a.ApplyEvent(event); err != nil {
		return err
	}
	a.uncommittedEvents = append(a.uncommittedEvents, event)
	return nil
}

// ApplyEvent сворачивает событие в состояние и увеличивает версию
func (a *EventSourcedAggregate) ApplyEvent(event events.Event) error {
	handler, ok := a.handlers[event.EventType()]
	if !ok {
		return fmt.Errorf("aggregate %s: %w", a.id, UnknownEventTypeError(event.EventType()))
	}
	if err := handler(event); err != nil {
		return fmt.Errorf("aggregate %s: apply %s: %w", a.id, event.EventType(), err)
	}
	a.version++
	return nil
}

// LoadFromHistory восстанавливает состояние агрегата из истории событий без буферизации
func (a *EventSourcedAggregate) LoadFromHistory(history []events.Event) error {
	for i, event := range history {
		if err := a.ApplyEvent(event); err != nil {
			return fmt.Errorf("failed to apply event at index %d: %w", i, err)
		}
	}
	return nil
}

// GetUncommittedEvents возвращает несохраненные события
func (a *EventSourcedAggregate) GetUncommittedEvents() []events.Event {
	return a.uncommittedEvents
}

// MarkEventsAsCommitted очищает uncommitted события после сохранения
func (a *EventSourcedAggregate) MarkEventsAsCommitted() {
	a.uncommittedEvents = make([]events.Event, 0)
}

// AggregateInterface интерфейс для Event Sourced агрегатов
type AggregateInterface interface {
	ID() string
	Version() int64
	GetUncommittedEvents() []events.Event
	MarkEventsAsCommitted()
	LoadFromHistory([]events.Event) error
}
