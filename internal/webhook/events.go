package webhook

import (
	"github.com/akriventsev/psp-core/framework/events"
	"github.com/akriventsev/psp-core/framework/eventsourcing"
)

// Типы событий вебхука
const (
	EventCreated     = "webhook.created"
	EventUpdated     = "webhook.updated"
	EventActivated   = "webhook.activated"
	EventDeactivated = "webhook.deactivated"
	EventDelivered   = "webhook.delivered"
)

// Изменяемые поля вебхука
const (
	FieldURL         = "url"
	FieldEvents      = "events"
	FieldSecret      = "secret"
	FieldDescription = "description"
)

// eventsSeparator разделитель списка событий в WebhookUpdated
const eventsSeparator = ","

// WebhookCreated вебхук зарегистрирован активным
type WebhookCreated struct {
	events.BaseEvent
	ClientID    string   `json:"client_id"`
	URL         string   `json:"url"`
	Events      []string `json:"events"`
	Secret      string   `json:"secret,omitempty"`
	Active      bool     `json:"active"`
	Description string   `json:"description,omitempty"`
}

// WebhookUpdated изменено одно поле вебхука
type WebhookUpdated struct {
	events.BaseEvent
	ClientID string `json:"client_id"`
	Field    string `json:"field"`
	OldValue string `json:"old_value"`
	NewValue string `json:"new_value"`
}

// WebhookActivated вебхук включен
type WebhookActivated struct {
	events.BaseEvent
	ClientID string `json:"client_id"`
}

// WebhookDeactivated вебхук выключен
type WebhookDeactivated struct {
	events.BaseEvent
	ClientID string `json:"client_id"`
}

// WebhookDelivered результат доставки
type WebhookDelivered struct {
	events.BaseEvent
	ClientID     string `json:"client_id"`
	DeliveryID   string `json:"delivery_id,omitempty"`
	Success      bool   `json:"success"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// RegisterEvents регистрирует события вебхука в реестре кодека
func RegisterEvents(r *eventsourcing.EventRegistry) {
	r.Register(EventCreated, func() events.Event { return &WebhookCreated{} })
	r.Register(EventUpdated, func() events.Event { return &WebhookUpdated{} })
	r.Register(EventActivated, func() events.Event { return &WebhookActivated{} })
	r.Register(EventDeactivated, func() events.Event { return &WebhookDeactivated{} })
	r.Register(EventDelivered, func() events.Event { return &WebhookDelivered{} })
}
