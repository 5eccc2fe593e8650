package eventsourcing

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/akriventsev/psp-core/framework/events"
)

// EventFactory создает пустой экземпляр события для декодирования payload
type EventFactory func() events.Event

type restorer interface {
	Restore(env events.Envelope)
}

// EventRegistry сопоставляет тип события с его конструктором.
// Используется персистентными хранилищами для восстановления типизированных событий.
type EventRegistry struct {
	mu        sync.RWMutex
	factories map[string]EventFactory
}

// NewEventRegistry создает пустой реестр событий
func NewEventRegistry() *EventRegistry {
	return &EventRegistry{factories: make(map[string]EventFactory)}
}

// Register регистрирует конструктор для типа события.
// Конструктор должен возвращать указатель, встраивающий events.BaseEvent.
func (r *EventRegistry) Register(eventType string, factory EventFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[eventType]; exists {
		panic(fmt.Sprintf("eventsourcing: event type %q already registered", eventType))
	}
	r.factories[eventType] = factory
}

// Types возвращает количество зарегистрированных типов
func (r *EventRegistry) Types() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.factories)
}

// Encode сериализует событие в конверт
func (r *EventRegistry) Encode(event events.Event) (events.Envelope, error) {
	return events.NewEnvelope(event)
}

// Decode восстанавливает типизированное событие из конверта
func (r *EventRegistry) Decode(env events.Envelope) (events.Event, error) {
	r.mu.RLock()
	factory, ok := r.factories[env.EventType]
	r.mu.RUnlock()
	if !ok {
		return nil, UnknownEventTypeError(env.EventType)
	}

	event := factory()
	if err := json.Unmarshal(env.Payload, event); err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", env.EventType, err)
	}
	rs, ok := event.(restorer)
	if !ok {
		return nil, fmt.Errorf("event type %s does not embed events.BaseEvent by pointer-addressable value", env.EventType)
	}
	rs.Restore(env)
	return event, nil
}
