package events

import (
	"context"
	"sync"
	"time"
)

// ProcessedStore хранит идентификаторы уже обработанных событий
type ProcessedStore interface {
	// MarkProcessed атомарно отмечает событие; возвращает false, если оно уже было отмечено
	MarkProcessed(ctx context.Context, eventID string) (bool, error)
	// Forget снимает отметку (обработка завершилась ошибкой и должна быть повторена)
	Forget(ctx context.Context, eventID string) error
}

// IdempotentHandler пропускает повторные доставки события с тем же event_id
type IdempotentHandler struct {
	next  EventHandler
	store ProcessedStore
}

// NewIdempotentHandler оборачивает обработчик дедупликацией по event_id
func NewIdempotentHandler(next EventHandler, store ProcessedStore) *IdempotentHandler {
	return &IdempotentHandler{next: next, store: store}
}

func (h *IdempotentHandler) Handle(ctx context.Context, event Event) error {
	first, err := h.store.MarkProcessed(ctx, event.EventID())
	if err != nil {
		return err
	}
	if !first {
		return nil
	}

	if err := h.next.Handle(ctx, event); err != nil {
		_ = h.store.Forget(ctx, event.EventID())
		return err
	}
	return nil
}

func (h *IdempotentHandler) EventType() string {
	return h.next.EventType()
}

// InMemoryProcessedStore реализация ProcessedStore в памяти с TTL
type InMemoryProcessedStore struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
}

// NewInMemoryProcessedStore создает хранилище; ttl <= 0 означает бессрочное хранение
func NewInMemoryProcessedStore(ttl time.Duration) *InMemoryProcessedStore {
	return &InMemoryProcessedStore{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

func (s *InMemoryProcessedStore) MarkProcessed(_ context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if at, ok := s.seen[eventID]; ok {
		if s.ttl <= 0 || now.Sub(at) < s.ttl {
			return false, nil
		}
	}
	s.seen[eventID] = now
	return true, nil
}

func (s *InMemoryProcessedStore) Forget(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.seen, eventID)
	return nil
}
