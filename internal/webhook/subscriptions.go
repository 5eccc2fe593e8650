package webhook

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/akriventsev/psp-core/framework/events"
	"github.com/akriventsev/psp-core/framework/eventsourcing"
)

// Subscription проекция вебхука для поиска получателей события
type Subscription struct {
	WebhookID string
	ClientID  string
	URL       string
	Events    []string
	Secret    string
	Active    bool
	// CreatedAt время события создания вебхука
	CreatedAt time.Time
}

func (s Subscription) matches(eventType string) bool {
	for _, e := range s.Events {
		if e == eventType {
			return true
		}
	}
	return false
}

// SubscriptionIndex read model подписок, строится из событий вебхуков
type SubscriptionIndex struct {
	mu       sync.RWMutex
	byID     map[string]*Subscription
	position int64
}

// NewSubscriptionIndex создает пустой индекс
func NewSubscriptionIndex() *SubscriptionIndex {
	return &SubscriptionIndex{byID: make(map[string]*Subscription)}
}

// EventType возвращает тип обрабатываемых событий (все)
func (i *SubscriptionIndex) EventType() string {
	return events.AllEvents
}

// Handle применяет событие вебхука к индексу; прочие события игнорируются
func (i *SubscriptionIndex) Handle(_ context.Context, event events.Event) error {
	if !strings.HasPrefix(event.EventType(), "webhook.") {
		return nil
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	i.apply(event)
	return nil
}

func (i *SubscriptionIndex) apply(event events.Event) {
	switch e := event.(type) {
	case *WebhookCreated:
		i.byID[e.AggregateID()] = &Subscription{
			WebhookID: e.AggregateID(),
			ClientID:  e.ClientID,
			URL:       e.URL,
			Events:    append([]string(nil), e.Events...),
			Secret:    e.Secret,
			Active:    e.Active,
			CreatedAt: e.OccurredAt(),
		}
	case *WebhookUpdated:
		sub, ok := i.byID[e.AggregateID()]
		if !ok {
			return
		}
		switch e.Field {
		case FieldURL:
			sub.URL = e.NewValue
		case FieldEvents:
			sub.Events = splitEvents(e.NewValue)
		case FieldSecret:
			sub.Secret = e.NewValue
		}
	case *WebhookActivated:
		if sub, ok := i.byID[e.AggregateID()]; ok {
			sub.Active = true
		}
	case *WebhookDeactivated:
		if sub, ok := i.byID[e.AggregateID()]; ok {
			sub.Active = false
		}
	}
}

// Rebuild заполняет индекс из глобального потока хранилища
func (i *SubscriptionIndex) Rebuild(ctx context.Context, reader eventsourcing.GlobalReader, batchSize int) error {
	if batchSize <= 0 {
		batchSize = 500
	}
	for {
		i.mu.RLock()
		from := i.position
		i.mu.RUnlock()

		batch, err := reader.ReadAll(ctx, from, batchSize)
		if err != nil {
			return fmt.Errorf("failed to read events from %d: %w", from, err)
		}
		if len(batch) == 0 {
			return nil
		}

		i.mu.Lock()
		for _, stored := range batch {
			if stored.EventData != nil && strings.HasPrefix(stored.EventType, "webhook.") {
				i.apply(stored.EventData)
			}
			i.position = stored.Position
		}
		i.mu.Unlock()

		if len(batch) < batchSize {
			return nil
		}
	}
}

// Matching возвращает активные подписки клиента на тип события, упорядоченные по id
func (i *SubscriptionIndex) Matching(clientID, eventType string) []Subscription {
	i.mu.RLock()
	defer i.mu.RUnlock()

	result := make([]Subscription, 0)
	for _, sub := range i.byID {
		if !sub.Active || sub.ClientID != clientID || !sub.matches(eventType) {
			continue
		}
		result = append(result, sub.copy())
	}
	sort.Slice(result, func(a, b int) bool { return result[a].WebhookID < result[b].WebhookID })
	return result
}

// ByClient возвращает все подписки клиента, включая отключенные, упорядоченные по id
func (i *SubscriptionIndex) ByClient(clientID string) []Subscription {
	i.mu.RLock()
	defer i.mu.RUnlock()

	result := make([]Subscription, 0)
	for _, sub := range i.byID {
		if sub.ClientID == clientID {
			result = append(result, sub.copy())
		}
	}
	sort.Slice(result, func(a, b int) bool { return result[a].WebhookID < result[b].WebhookID })
	return result
}

// Get возвращает подписку по id вебхука
func (i *SubscriptionIndex) Get(webhookID string) (Subscription, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	sub, ok := i.byID[webhookID]
	if !ok {
		return Subscription{}, false
	}
	return sub.copy(), true
}

// Len возвращает число известных вебхуков
func (i *SubscriptionIndex) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.byID)
}

func (s *Subscription) copy() Subscription {
	c := *s
	c.Events = append([]string(nil), s.Events...)
	return c
}
