// Package events предоставляет реализации EventPublisher.
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// AllEvents тип подписки на все события
const AllEvents = "*"

// RetryConfig конфигурация retry для публикатора
type RetryConfig struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
}

// DefaultRetryConfig возвращает конфигурацию retry по умолчанию
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialDelay:      100 * time.Millisecond,
		MaxDelay:          5 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// Do выполняет fn с экспоненциальной задержкой между попытками
func (c RetryConfig) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := c.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	delay := c.InitialDelay

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * c.BackoffMultiplier)
			if c.MaxDelay > 0 && delay > c.MaxDelay {
				delay = c.MaxDelay
			}
		}

		if lastErr = fn(ctx); lastErr == nil {
			return nil
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}

// InMemoryEventPublisher реализация публикатора событий в памяти.
// Обработчики вызываются последовательно в порядке подписки.
type InMemoryEventPublisher struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
	retryConfig *RetryConfig
}

// NewInMemoryEventPublisher создает новый in-memory публикатор
func NewInMemoryEventPublisher() *InMemoryEventPublisher {
	return &InMemoryEventPublisher{
		subscribers: make(map[string][]EventHandler),
	}
}

// WithRetry настраивает retry логику
func (p *InMemoryEventPublisher) WithRetry(config RetryConfig) *InMemoryEventPublisher {
	p.retryConfig = &config
	return p
}

// Subscribe подписывается на тип события
func (p *InMemoryEventPublisher) Subscribe(eventType string, handler EventHandler) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, h := range p.subscribers[eventType] {
		if h == handler {
			return fmt.Errorf("handler already subscribed to event type %s", eventType)
		}
	}

	p.subscribers[eventType] = append(p.subscribers[eventType], handler)
	return nil
}

// Publish публикует событие всем подписчикам типа и подписчикам на все события
func (p *InMemoryEventPublisher) Publish(ctx context.Context, event Event) error {
	p.mu.RLock()
	handlers := make([]EventHandler, 0, len(p.subscribers[event.EventType()])+len(p.subscribers[AllEvents]))
	handlers = append(handlers, p.subscribers[event.EventType()]...)
	handlers = append(handlers, p.subscribers[AllEvents]...)
	p.mu.RUnlock()

	var errs []error
	for _, handler := range handlers {
		h := handler
		call := func(ctx context.Context) error { return h.Handle(ctx, event) }

		var err error
		if p.retryConfig != nil {
			err = p.retryConfig.Do(ctx, call)
		} else {
			err = call(ctx)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("handler %s failed: %w", h.EventType(), err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("publish %s: %w", event.EventType(), errors.Join(errs...))
	}
	return nil
}

// MultiPublisher публикует событие в несколько публикаторов (локальная шина + брокер)
type MultiPublisher struct {
	publishers []EventPublisher
}

// NewMultiPublisher создает публикатор-разветвитель
func NewMultiPublisher(publishers ...EventPublisher) *MultiPublisher {
	return &MultiPublisher{publishers: publishers}
}

// Publish публикует событие во все публикаторы, собирая ошибки
func (m *MultiPublisher) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, p := range m.publishers {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
