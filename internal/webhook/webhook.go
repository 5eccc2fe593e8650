// Package webhook содержит агрегат подписки клиента на доменные события.
package webhook

import (
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/akriventsev/psp-core/framework/core"
	"github.com/akriventsev/psp-core/framework/events"
	"github.com/akriventsev/psp-core/framework/eventsourcing"
)

var (
	// ErrInvalidURL адрес не является абсолютным http/https URL
	ErrInvalidURL = &core.FrameworkError{Code: core.CodeValidation, Message: "url must be an absolute http or https address"}
	// ErrInvalidEvents список событий пуст или содержит недопустимое имя
	ErrInvalidEvents = &core.FrameworkError{Code: core.CodeValidation, Message: "at least one valid event must be specified"}
	// ErrNotCreated операция над вебхуком без события создания
	ErrNotCreated = &core.FrameworkError{Code: core.CodeInvariantViolation, Message: "webhook is not created"}
)

// Webhook агрегат подписки
type Webhook struct {
	*eventsourcing.EventSourcedAggregate
	clientID      string
	url           string
	events        []string
	secret        string
	active        bool
	description   string
	createdAt     time.Time
	lastTriggered *time.Time
	successCount  int
	failureCount  int
	created       bool
}

// NewWebhook создает пустой агрегат для восстановления из истории
func NewWebhook(id string) *Webhook {
	w := &Webhook{EventSourcedAggregate: eventsourcing.NewEventSourcedAggregate(id)}
	eventsourcing.On(w.EventSourcedAggregate, EventCreated, w.onCreated)
	eventsourcing.On(w.EventSourcedAggregate, EventUpdated, w.onUpdated)
	eventsourcing.On(w.EventSourcedAggregate, EventActivated, w.onActivated)
	eventsourcing.On(w.EventSourcedAggregate, EventDeactivated, w.onDeactivated)
	eventsourcing.On(w.EventSourcedAggregate, EventDelivered, w.onDelivered)
	return w
}

// Create регистрирует новый активный вебхук со сгенерированным идентификатором
func Create(clientID, rawURL string, eventTypes []string, secret, description string) (*Webhook, error) {
	return CreateWithID(uuid.NewString(), clientID, rawURL, eventTypes, secret, description)
}

// CreateWithID регистрирует новый активный вебхук с заданным идентификатором
func CreateWithID(id, clientID, rawURL string, eventTypes []string, secret, description string) (*Webhook, error) {
	if strings.TrimSpace(clientID) == "" {
		return nil, core.NewError(core.CodeValidation, "client_id is required")
	}
	if err := ValidateURL(rawURL); err != nil {
		return nil, err
	}
	normalized, err := NormalizeEvents(eventTypes)
	if err != nil {
		return nil, err
	}

	w := NewWebhook(id)
	err = w.RaiseEvent(&WebhookCreated{
		BaseEvent:   events.NewBaseEvent(EventCreated, id),
		ClientID:    clientID,
		URL:         rawURL,
		Events:      normalized,
		Secret:      secret,
		Active:      true,
		Description: description,
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}

// ValidateURL проверяет, что адрес абсолютный http или https
func ValidateURL(rawURL string) error {
	if strings.TrimSpace(rawURL) == "" {
		return ErrInvalidURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return ErrInvalidURL
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ErrInvalidURL
	}
	return nil
}

// NormalizeEvents убирает пробелы, пустые значения и дубликаты, сохраняя порядок
func NormalizeEvents(eventTypes []string) ([]string, error) {
	seen := make(map[string]struct{}, len(eventTypes))
	result := make([]string, 0, len(eventTypes))
	for _, e := range eventTypes {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if strings.Contains(e, eventsSeparator) {
			return nil, ErrInvalidEvents
		}
		if _, dup := seen[e]; dup {
			continue
		}
		seen[e] = struct{}{}
		result = append(result, e)
	}
	if len(result) == 0 {
		return nil, ErrInvalidEvents
	}
	return result, nil
}

// UpdateURL меняет адрес доставки
func (w *Webhook) UpdateURL(rawURL string) error {
	if err := w.ensureCreated(); err != nil {
		return err
	}
	if err := ValidateURL(rawURL); err != nil {
		return err
	}
	return w.raiseUpdated(FieldURL, w.url, rawURL)
}

// UpdateEvents заменяет множество событий подписки
func (w *Webhook) UpdateEvents(eventTypes []string) error {
	if err := w.ensureCreated(); err != nil {
		return err
	}
	normalized, err := NormalizeEvents(eventTypes)
	if err != nil {
		return err
	}
	return w.raiseUpdated(FieldEvents,
		strings.Join(w.events, eventsSeparator),
		strings.Join(normalized, eventsSeparator))
}

// UpdateSecret меняет секрет; пустая строка удаляет секрет
func (w *Webhook) UpdateSecret(secret string) error {
	if err := w.ensureCreated(); err != nil {
		return err
	}
	return w.raiseUpdated(FieldSecret, w.secret, secret)
}

// UpdateDescription меняет описание; пустая строка удаляет описание
func (w *Webhook) UpdateDescription(description string) error {
	if err := w.ensureCreated(); err != nil {
		return err
	}
	return w.raiseUpdated(FieldDescription, w.description, description)
}

func (w *Webhook) raiseUpdated(field, oldValue, newValue string) error {
	return w.RaiseEvent(&WebhookUpdated{
		BaseEvent: events.NewBaseEvent(EventUpdated, w.ID()),
		ClientID:  w.clientID,
		Field:     field,
		OldValue:  oldValue,
		NewValue:  newValue,
	})
}

// Activate включает вебхук; для активного вебхука ничего не делает
func (w *Webhook) Activate() error {
	if err := w.ensureCreated(); err != nil {
		return err
	}
	if w.active {
		return nil
	}
	return w.RaiseEvent(&WebhookActivated{
		BaseEvent: events.NewBaseEvent(EventActivated, w.ID()),
		ClientID:  w.clientID,
	})
}

// Deactivate выключает вебхук; для неактивного вебхука ничего не делает
func (w *Webhook) Deactivate() error {
	if err := w.ensureCreated(); err != nil {
		return err
	}
	if !w.active {
		return nil
	}
	return w.RaiseEvent(&WebhookDeactivated{
		BaseEvent: events.NewBaseEvent(EventDeactivated, w.ID()),
		ClientID:  w.clientID,
	})
}

// RecordSuccess фиксирует успешную доставку
func (w *Webhook) RecordSuccess(deliveryID string) error {
	return w.recordDelivery(deliveryID, true, "")
}

// RecordFailure фиксирует неуспешную доставку
func (w *Webhook) RecordFailure(deliveryID, message string) error {
	return w.recordDelivery(deliveryID, false, message)
}

func (w *Webhook) recordDelivery(deliveryID string, success bool, message string) error {
	if err := w.ensureCreated(); err != nil {
		return err
	}
	return w.RaiseEvent(&WebhookDelivered{
		BaseEvent:    events.NewBaseEvent(EventDelivered, w.ID()),
		ClientID:     w.clientID,
		DeliveryID:   deliveryID,
		Success:      success,
		ErrorMessage: message,
	})
}

func (w *Webhook) ensureCreated() error {
	if !w.created {
		return ErrNotCreated
	}
	return nil
}

func (w *Webhook) onCreated(e *WebhookCreated) error {
	if w.created {
		return core.Errorf(core.CodeInvariantViolation, "webhook %s already created", w.ID())
	}
	w.clientID = e.ClientID
	w.url = e.URL
	w.events = append([]string(nil), e.Events...)
	w.secret = e.Secret
	w.active = e.Active
	w.description = e.Description
	w.createdAt = e.OccurredAt()
	w.successCount = 0
	w.failureCount = 0
	w.created = true
	return nil
}

func (w *Webhook) onUpdated(e *WebhookUpdated) error {
	switch strings.ToLower(e.Field) {
	case FieldURL:
		w.url = e.NewValue
	case FieldEvents:
		w.events = splitEvents(e.NewValue)
	case FieldSecret:
		w.secret = e.NewValue
	case FieldDescription:
		w.description = e.NewValue
	default:
		return core.Errorf(core.CodeValidation, "unknown webhook field %q", e.Field)
	}
	return nil
}

func (w *Webhook) onActivated(*WebhookActivated) error {
	w.active = true
	return nil
}

func (w *Webhook) onDeactivated(*WebhookDeactivated) error {
	w.active = false
	return nil
}

func (w *Webhook) onDelivered(e *WebhookDelivered) error {
	if e.Success {
		w.successCount++
	} else {
		w.failureCount++
	}
	at := e.OccurredAt()
	w.lastTriggered = &at
	return nil
}

func splitEvents(joined string) []string {
	if joined == "" {
		return nil
	}
	return strings.Split(joined, eventsSeparator)
}

// Subscribes проверяет, подписан ли вебхук на тип события
func (w *Webhook) Subscribes(eventType string) bool {
	for _, e := range w.events {
		if e == eventType {
			return true
		}
	}
	return false
}

// ClientID возвращает идентификатор клиента
func (w *Webhook) ClientID() string { return w.clientID }

// URL возвращает адрес доставки
func (w *Webhook) URL() string { return w.url }

// Events возвращает копию списка событий подписки
func (w *Webhook) Events() []string { return append([]string(nil), w.events...) }

// Secret возвращает секрет подписи
func (w *Webhook) Secret() string { return w.secret }

// Active проверяет, включен ли вебхук
func (w *Webhook) Active() bool { return w.active }

// Description возвращает описание
func (w *Webhook) Description() string { return w.description }

// CreatedAt возвращает время создания
func (w *Webhook) CreatedAt() time.Time { return w.createdAt }

// LastTriggered возвращает время последней доставки
func (w *Webhook) LastTriggered() *time.Time { return w.lastTriggered }

// SuccessCount возвращает число успешных доставок
func (w *Webhook) SuccessCount() int { return w.successCount }

// FailureCount возвращает число неуспешных доставок
func (w *Webhook) FailureCount() int { return w.failureCount }
