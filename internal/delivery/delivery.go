// Package delivery реализует надежную доставку вебхуков: запись доставки,
// ее автомат состояний, хранилища и планировщик попыток с экспоненциальной задержкой.
package delivery

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/akriventsev/psp-core/framework/core"
	"github.com/akriventsev/psp-core/framework/fsm"
)

// Status состояние доставки
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusSuccess  Status = "SUCCESS"
	StatusFailed   Status = "FAILED"
	StatusRetrying Status = "RETRYING"
)

// Trigger событие автомата доставки
type Trigger string

const (
	TriggerSucceed Trigger = "succeed"
	TriggerFail    Trigger = "fail"
	TriggerRetry   Trigger = "retry"
)

const (
	// MaxAttempts число неудачных попыток, после которого доставка исчерпана
	MaxAttempts = 5
	// BaseDelay задержка перед первым повтором
	BaseDelay = time.Minute
)

// Transitions таблица переходов доставки
var Transitions = fsm.MustTable(StatusPending,
	fsm.Transition[Status, Trigger]{From: StatusPending, Event: TriggerSucceed, To: StatusSuccess},
	fsm.Transition[Status, Trigger]{From: StatusPending, Event: TriggerFail, To: StatusFailed},
	fsm.Transition[Status, Trigger]{From: StatusFailed, Event: TriggerRetry, To: StatusRetrying},
	fsm.Transition[Status, Trigger]{From: StatusRetrying, Event: TriggerSucceed, To: StatusSuccess},
	fsm.Transition[Status, Trigger]{From: StatusRetrying, Event: TriggerFail, To: StatusFailed},
)

var (
	// ErrDeliveryNotFound доставка отсутствует в хранилище
	ErrDeliveryNotFound = &core.FrameworkError{Code: core.CodeNotFound, Message: "delivery not found"}
	// ErrClaimLost запись была перехвачена другим исполнителем
	ErrClaimLost = &core.FrameworkError{Code: core.CodeConcurrency, Message: "delivery claim lost"}
	// ErrExhausted попытки доставки исчерпаны
	ErrExhausted = &core.FrameworkError{Code: core.CodeInvariantViolation, Message: "delivery attempts exhausted"}
)

// BackoffDelay задержка перед повтором после attempt неудачных попыток: 1, 2, 4, 8, 16 минут
func BackoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	return BaseDelay << (attempt - 1)
}

// Delivery одна доставка события на один вебхук
type Delivery struct {
	ID            string          `json:"id"`
	WebhookID     string          `json:"webhook_id"`
	ClientID      string          `json:"client_id"`
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	Status        Status          `json:"status"`
	HTTPStatus    *int            `json:"http_status,omitempty"`
	ResponseBody  string          `json:"response_body,omitempty"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	AttemptCount  int             `json:"attempt_count"`
	NextRetryAt   *time.Time      `json:"next_retry_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	LastAttemptAt *time.Time      `json:"last_attempt_at,omitempty"`
	DeliveredAt   *time.Time      `json:"delivered_at,omitempty"`

	// аренда исполнителя, не является частью доменного состояния
	LockedUntil *time.Time `json:"-"`
	ClaimToken  string     `json:"-"`
}

// New создает доставку в состоянии PENDING
func New(webhookID, clientID, eventID, eventType string, payload json.RawMessage, now time.Time) *Delivery {
	return &Delivery{
		ID:        uuid.NewString(),
		WebhookID: webhookID,
		ClientID:  clientID,
		EventID:   eventID,
		EventType: eventType,
		Payload:   payload,
		Status:    Transitions.Initial(),
		CreatedAt: now.UTC(),
	}
}

// MarkSucceeded фиксирует успешную попытку
func (d *Delivery) MarkSucceeded(httpStatus int, body string, now time.Time) error {
	next, err := Transitions.Fire(d.Status, TriggerSucceed)
	if err != nil {
		return err
	}
	now = now.UTC()
	d.Status = next
	d.HTTPStatus = &httpStatus
	d.ResponseBody = body
	d.ErrorMessage = ""
	d.NextRetryAt = nil
	d.LastAttemptAt = &now
	d.DeliveredAt = &now
	return nil
}

// MarkFailed фиксирует неудачную попытку и планирует следующую.
// После MaxAttempts попыток NextRetryAt остается пустым.
func (d *Delivery) MarkFailed(httpStatus *int, body, message string, now time.Time) error {
	if d.AttemptCount >= MaxAttempts {
		return ErrExhausted
	}
	next, err := Transitions.Fire(d.Status, TriggerFail)
	if err != nil {
		return err
	}
	now = now.UTC()
	d.Status = next
	d.HTTPStatus = httpStatus
	d.ResponseBody = body
	d.ErrorMessage = message
	d.AttemptCount++
	d.LastAttemptAt = &now
	if d.AttemptCount >= MaxAttempts {
		d.NextRetryAt = nil
		return nil
	}
	at := now.Add(BackoffDelay(d.AttemptCount))
	d.NextRetryAt = &at
	return nil
}

// BeginRetry переводит FAILED в RETRYING; повторный захват зависшей RETRYING допустим.
// Время повтора есть только у FAILED, поэтому при захвате оно сбрасывается.
func (d *Delivery) BeginRetry() error {
	if d.Status == StatusRetrying {
		d.NextRetryAt = nil
		return nil
	}
	if d.Exhausted() {
		return ErrExhausted
	}
	next, err := Transitions.Fire(d.Status, TriggerRetry)
	if err != nil {
		return err
	}
	d.Status = next
	d.NextRetryAt = nil
	return nil
}

// ShouldRetry доставка ждет повтора и ее время наступило
func (d *Delivery) ShouldRetry(now time.Time) bool {
	return d.Status == StatusFailed &&
		d.AttemptCount < MaxAttempts &&
		d.NextRetryAt != nil &&
		!d.NextRetryAt.After(now)
}

// Exhausted доставка окончательно не удалась
func (d *Delivery) Exhausted() bool {
	return d.Status == StatusFailed && d.AttemptCount >= MaxAttempts
}

// Clone возвращает глубокую копию записи
func (d *Delivery) Clone() *Delivery {
	c := *d
	c.Payload = append(json.RawMessage(nil), d.Payload...)
	c.HTTPStatus = cloneInt(d.HTTPStatus)
	c.NextRetryAt = cloneTime(d.NextRetryAt)
	c.LastAttemptAt = cloneTime(d.LastAttemptAt)
	c.DeliveredAt = cloneTime(d.DeliveredAt)
	c.LockedUntil = cloneTime(d.LockedUntil)
	return &c
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
