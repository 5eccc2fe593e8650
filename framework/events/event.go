// Package events предоставляет базовые интерфейсы для работы с доменными событиями.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event представляет доменное событие. После создания событие не изменяется.
type Event interface {
	// EventID возвращает уникальный идентификатор события
	EventID() string
	// EventType возвращает тип события
	EventType() string
	// OccurredAt возвращает время возникновения события
	OccurredAt() time.Time
	// AggregateID возвращает идентификатор агрегата
	AggregateID() string
	// SchemaVersion возвращает версию схемы payload
	SchemaVersion() int
	// Metadata возвращает метаданные события
	Metadata() EventMetadata
}

// EventMetadata метаданные события
type EventMetadata map[string]interface{}

// Get получает значение метаданных по ключу
func (m EventMetadata) Get(key string) (interface{}, bool) {
	val, ok := m[key]
	return val, ok
}

// CorrelationID возвращает correlation ID
func (m EventMetadata) CorrelationID() string {
	return m.stringValue("correlation_id")
}

// CausationID возвращает causation ID
func (m EventMetadata) CausationID() string {
	return m.stringValue("causation_id")
}

func (m EventMetadata) stringValue(key string) string {
	val, ok := m.Get(key)
	if !ok {
		return ""
	}
	if id, ok := val.(string); ok {
		return id
	}
	return ""
}

// BaseEvent базовая реализация события. Встраивается в доменные события по значению,
// поля не попадают в JSON payload.
type BaseEvent struct {
	eventID       string
	eventType     string
	occurredAt    time.Time
	aggregateID   string
	schemaVersion int
	metadata      EventMetadata
}

// NewBaseEvent создает новое базовое событие схемы версии 1
func NewBaseEvent(eventType, aggregateID string) BaseEvent {
	return BaseEvent{
		eventID:       uuid.NewString(),
		eventType:     eventType,
		occurredAt:    time.Now().UTC(),
		aggregateID:   aggregateID,
		schemaVersion: 1,
		metadata:      make(EventMetadata),
	}
}

// Restore восстанавливает базовые поля из конверта (используется хранилищами при чтении)
func (e *BaseEvent) Restore(env Envelope) {
	e.eventID = env.EventID
	e.eventType = env.EventType
	e.occurredAt = env.OccurredAt
	e.aggregateID = env.AggregateID
	e.schemaVersion = env.SchemaVersion
	e.metadata = env.Metadata
	if e.metadata == nil {
		e.metadata = make(EventMetadata)
	}
}

// WithSchemaVersion возвращает копию с другой версией схемы
func (e BaseEvent) WithSchemaVersion(v int) BaseEvent {
	e.schemaVersion = v
	return e
}

// WithMetadata возвращает копию с добавленным ключом метаданных
func (e BaseEvent) WithMetadata(key string, value interface{}) BaseEvent {
	md := make(EventMetadata, len(e.metadata)+1)
	for k, v := range e.metadata {
		md[k] = v
	}
	md[key] = value
	e.metadata = md
	return e
}

func (e BaseEvent) EventID() string {
	return e.eventID
}

func (e BaseEvent) EventType() string {
	return e.eventType
}

func (e BaseEvent) OccurredAt() time.Time {
	return e.occurredAt
}

func (e BaseEvent) AggregateID() string {
	return e.aggregateID
}

func (e BaseEvent) SchemaVersion() int {
	return e.schemaVersion
}

func (e BaseEvent) Metadata() EventMetadata {
	return e.metadata
}

// Envelope транспортное представление события
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	AggregateID   string          `json:"aggregate_id"`
	SchemaVersion int             `json:"schema_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Metadata      EventMetadata   `json:"metadata,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// NewEnvelope строит конверт с JSON payload события
func NewEnvelope(event Event) (Envelope, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal event %s: %w", event.EventType(), err)
	}
	return Envelope{
		EventID:       event.EventID(),
		EventType:     event.EventType(),
		AggregateID:   event.AggregateID(),
		SchemaVersion: event.SchemaVersion(),
		OccurredAt:    event.OccurredAt(),
		Metadata:      event.Metadata(),
		Payload:       payload,
	}, nil
}

// EncodeEnvelope сериализует событие в JSON конверт
func EncodeEnvelope(event Event) ([]byte, error) {
	env, err := NewEnvelope(event)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// EventHandler обработчик доменных событий
type EventHandler interface {
	// Handle обрабатывает событие
	Handle(ctx context.Context, event Event) error
	// EventType возвращает тип события, который обрабатывает этот handler
	EventType() string
}

// EventHandlerFunc адаптер функции к EventHandler
type EventHandlerFunc struct {
	Type string
	Fn   func(ctx context.Context, event Event) error
}

func (h EventHandlerFunc) Handle(ctx context.Context, event Event) error {
	return h.Fn(ctx, event)
}

func (h EventHandlerFunc) EventType() string {
	return h.Type
}

// EventPublisher публикатор событий
type EventPublisher interface {
	// Publish публикует событие
	Publish(ctx context.Context, event Event) error
}

// EventSubscriber подписчик на события
type EventSubscriber interface {
	// Subscribe подписывается на тип события ("*" для всех типов)
	Subscribe(eventType string, handler EventHandler) error
}
