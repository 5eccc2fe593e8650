package eventsourcing

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/akriventsev/psp-core/framework/events"
)

// InMemoryEventStoreConfig конфигурация для InMemory Event Store
type InMemoryEventStoreConfig struct {
	MaxEventsPerStream int64
}

// DefaultInMemoryEventStoreConfig возвращает конфигурацию по умолчанию
func DefaultInMemoryEventStoreConfig() InMemoryEventStoreConfig {
	return InMemoryEventStoreConfig{
		MaxEventsPerStream: 10000,
	}
}

// InMemoryEventStore реализация EventStore в памяти для тестирования и разработки
type InMemoryEventStore struct {
	mu       sync.RWMutex
	streams  map[string][]StoredEvent
	position int64
	config   InMemoryEventStoreConfig
	now      func() time.Time
}

// NewInMemoryEventStore создает новый InMemory Event Store
func NewInMemoryEventStore(config InMemoryEventStoreConfig) *InMemoryEventStore {
	return &InMemoryEventStore{
		streams: make(map[string][]StoredEvent),
		config:  config,
		now:     time.Now,
	}
}

// AppendEvents добавляет события в поток агрегата
func (s *InMemoryEventStore) AppendEvents(_ context.Context, aggregateID string, expectedVersion int64, evts []events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stream := s.streams[aggregateID]
	if err := ValidateExpectedVersion(int64(len(stream)), expectedVersion); err != nil {
		return err
	}
	if len(evts) == 0 {
		return nil
	}

	if s.config.MaxEventsPerStream > 0 {
		newEventCount := int64(len(stream)) + int64(len(evts))
		if newEventCount > s.config.MaxEventsPerStream {
			return fmt.Errorf("max events per stream exceeded: %d (limit: %d)", newEventCount, s.config.MaxEventsPerStream)
		}
	}

	// копия, чтобы читатели со старым срезом не видели частичную запись
	next := make([]StoredEvent, len(stream), len(stream)+len(evts))
	copy(next, stream)
	for i, event := range evts {
		s.position++
		next = append(next, StoredEvent{
			ID:          event.EventID(),
			AggregateID: aggregateID,
			EventType:   event.EventType(),
			EventData:   event,
			Version:     expectedVersion + int64(i) + 1,
			Position:    s.position,
			OccurredAt:  event.OccurredAt(),
			CreatedAt:   s.now(),
		})
	}
	s.streams[aggregateID] = next
	return nil
}

// GetEvents возвращает события агрегата с версией больше fromVersion
func (s *InMemoryEventStore) GetEvents(_ context.Context, aggregateID string, fromVersion int64) ([]StoredEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stream := s.streams[aggregateID]
	if fromVersion < 0 {
		fromVersion = 0
	}
	if fromVersion >= int64(len(stream)) {
		return []StoredEvent{}, nil
	}
	result := make([]StoredEvent, len(stream)-int(fromVersion))
	copy(result, stream[fromVersion:])
	return result, nil
}

// ReadAll возвращает события всех потоков с позицией больше fromPosition
func (s *InMemoryEventStore) ReadAll(_ context.Context, fromPosition int64, limit int) ([]StoredEvent, error) {
	s.mu.RLock()
	result := make([]StoredEvent, 0)
	for _, stream := range s.streams {
		for _, e := range stream {
			if e.Position > fromPosition {
				result = append(result, e)
			}
		}
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].Position < result[j].Position })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// StreamVersion возвращает число событий в потоке
func (s *InMemoryEventStore) StreamVersion(aggregateID string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.streams[aggregateID]))
}

// Clear очищает все события (для тестов)
func (s *InMemoryEventStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams = make(map[string][]StoredEvent)
	s.position = 0
}
