package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/akriventsev/psp-core/framework/core"
	"github.com/akriventsev/psp-core/framework/events"
	"github.com/akriventsev/psp-core/internal/delivery"
	"github.com/akriventsev/psp-core/internal/webhook"
)

// Enqueuer ставит доставку в очередь
type Enqueuer interface {
	Enqueue(ctx context.Context, d *delivery.Delivery) (bool, error)
}

// WebhookDispatcher создает доставки для каждого активного вебхука клиента,
// подписанного на тип события. События самих вебхуков не раздаются.
// Повторная раздача безопасна: доставка уникальна по (webhook_id, event_id),
// а вебхук, созданный позже события, его не получает.
type WebhookDispatcher struct {
	index    *webhook.SubscriptionIndex
	enqueuer Enqueuer
	now      func() time.Time
}

// NewWebhookDispatcher создает диспетчер
func NewWebhookDispatcher(index *webhook.SubscriptionIndex, enqueuer Enqueuer) *WebhookDispatcher {
	return &WebhookDispatcher{index: index, enqueuer: enqueuer, now: time.Now}
}

// EventType возвращает тип обрабатываемых событий (все)
func (d *WebhookDispatcher) EventType() string {
	return events.AllEvents
}

// Handle раздает событие подписчикам
func (d *WebhookDispatcher) Handle(ctx context.Context, event events.Event) error {
	if strings.HasPrefix(event.EventType(), "webhook.") {
		return nil
	}

	env, err := events.NewEnvelope(event)
	if err != nil {
		return err
	}
	clientID, err := clientOf(env.Payload)
	if err != nil {
		return err
	}
	if clientID == "" {
		return nil
	}

	subs := d.index.Matching(clientID, event.EventType())
	if len(subs) == 0 {
		return nil
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode delivery payload: %w", err)
	}

	for _, sub := range subs {
		if sub.CreatedAt.After(event.OccurredAt()) {
			continue
		}
		record := delivery.New(sub.WebhookID, clientID, event.EventID(), event.EventType(), payload, d.now())
		created, err := d.enqueuer.Enqueue(ctx, record)
		if err != nil {
			return fmt.Errorf("failed to enqueue %s for webhook %s: %w", event.EventType(), sub.WebhookID, err)
		}
		if created {
			log.Printf("[webhooks] queued %s (%s) for webhook %s", event.EventType(), event.EventID(), sub.WebhookID)
		}
	}
	return nil
}

func clientOf(payload json.RawMessage) (string, error) {
	var probe struct {
		ClientID string `json:"client_id"`
	}
	if len(payload) == 0 {
		return "", nil
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return "", core.Wrap(err, core.CodeValidation, "event payload is not a JSON object")
	}
	return probe.ClientID, nil
}

// WebhookTargets находит получателя доставки по агрегату вебхука
type WebhookTargets struct {
	repo *WebhookRepository
}

// NewWebhookTargets создает резолвер
func NewWebhookTargets(repo *WebhookRepository) *WebhookTargets {
	return &WebhookTargets{repo: repo}
}

// Resolve загружает вебхук; отсутствующий поток дает ошибку класса core.ErrNotFound
func (t *WebhookTargets) Resolve(ctx context.Context, webhookID string) (delivery.Target, error) {
	w, err := t.repo.Load(ctx, webhookID)
	if err != nil {
		return delivery.Target{}, err
	}
	return delivery.Target{URL: w.URL(), Secret: w.Secret(), Active: w.Active()}, nil
}

// WebhookOutcomes фиксирует исходы доставок на агрегате вебхука
type WebhookOutcomes struct {
	repo *WebhookRepository
}

// NewWebhookOutcomes создает регистратор исходов
func NewWebhookOutcomes(repo *WebhookRepository) *WebhookOutcomes {
	return &WebhookOutcomes{repo: repo}
}

// RecordOutcome вызывает RecordSuccess или RecordFailure; отсутствующий вебхук пропускается
func (o *WebhookOutcomes) RecordOutcome(ctx context.Context, d *delivery.Delivery) error {
	_, err := o.repo.Execute(ctx, d.WebhookID, func(w *webhook.Webhook) error {
		if d.Status == delivery.StatusSuccess {
			return w.RecordSuccess(d.ID)
		}
		return w.RecordFailure(d.ID, d.ErrorMessage)
	})
	if errors.Is(err, core.ErrNotFound) {
		return nil
	}
	return err
}
