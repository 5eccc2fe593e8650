// Package eventsourcing предоставляет поддержку Event Sourcing: агрегаты, хранилища событий
// с оптимистичной конкурентностью и generic репозиторий.
package eventsourcing

import (
	"context"
	"fmt"
	"time"

	"github.com/akriventsev/psp-core/framework/core"
	"github.com/akriventsev/psp-core/framework/events"
)

var (
	// ErrConcurrencyConflict возникает при несовпадении ожидаемой версии потока
	ErrConcurrencyConflict = &core.FrameworkError{Code: core.CodeConcurrency, Message: "expected version does not match current version"}
	// ErrStreamNotFound возникает когда поток событий агрегата пуст
	ErrStreamNotFound = &core.FrameworkError{Code: core.CodeNotFound, Message: "event stream not found"}
	// ErrInvalidVersion возникает при отрицательной ожидаемой версии
	ErrInvalidVersion = &core.FrameworkError{Code: core.CodeValidation, Message: "invalid expected version"}
)

// UnknownEventTypeError ошибка отсутствия обработчика или декодера для типа события
func UnknownEventTypeError(eventType string) error {
	return core.Errorf(core.CodeUnknownEventType, "no handler registered for event type %q", eventType)
}

// StoredEvent представляет сохраненное событие с метаданными
type StoredEvent struct {
	ID          string
	AggregateID string
	EventType   string
	EventData   events.Event
	Version     int64
	Position    int64
	OccurredAt  time.Time
	CreatedAt   time.Time
}

// EventStore хранилище потоков событий по агрегатам
type EventStore interface {
	// AppendEvents атомарно добавляет события, если число сохраненных событий равно expectedVersion,
	// иначе возвращает ErrConcurrencyConflict и ничего не пишет
	AppendEvents(ctx context.Context, aggregateID string, expectedVersion int64, events []events.Event) error

	// GetEvents возвращает упорядоченные события агрегата после смещения fromVersion (0 - весь поток)
	GetEvents(ctx context.Context, aggregateID string, fromVersion int64) ([]StoredEvent, error)
}

// GlobalReader читает события всех потоков в порядке глобальной позиции
type GlobalReader interface {
	// ReadAll возвращает не более limit событий с позицией больше fromPosition
	ReadAll(ctx context.Context, fromPosition int64, limit int) ([]StoredEvent, error)
}

// EventsOf извлекает доменные события из сохраненных
func EventsOf(stored []StoredEvent) []events.Event {
	result := make([]events.Event, 0, len(stored))
	for _, s := range stored {
		if s.EventData != nil {
			result = append(result, s.EventData)
		}
	}
	return result
}

// ValidateExpectedVersion проверяет ожидаемую версию против текущей
func ValidateExpectedVersion(currentVersion, expectedVersion int64) error {
	if expectedVersion < 0 {
		return ErrInvalidVersion
	}
	if expectedVersion != currentVersion {
		return fmt.Errorf("%w: expected %d, current %d", ErrConcurrencyConflict, expectedVersion, currentVersion)
	}
	return nil
}
