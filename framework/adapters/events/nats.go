// Package events предоставляет адаптеры для публикации доменных событий во внешние брокеры.
package events

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/akriventsev/psp-core/framework/core"
	"github.com/akriventsev/psp-core/framework/events"
	"github.com/akriventsev/psp-core/framework/metrics"
)

// NATSEventConfig конфигурация для NATS Event Publisher
type NATSEventConfig struct {
	URL           string
	SubjectPrefix string
	RetryPolicy   events.RetryConfig
	Metrics       *metrics.Metrics
}

// DefaultNATSEventConfig возвращает конфигурацию NATS Event Publisher по умолчанию
func DefaultNATSEventConfig() NATSEventConfig {
	return NATSEventConfig{
		URL:           nats.DefaultURL,
		SubjectPrefix: "events",
		RetryPolicy:   events.DefaultRetryConfig(),
	}
}

// NATSEventAdapter реализация Event Publisher через NATS.
// Заголовок Nats-Msg-Id равен event_id, что включает дедупликацию в JetStream.
type NATSEventAdapter struct {
	config NATSEventConfig
	conn   *nats.Conn
}

// NewNATSEventAdapter подключается к NATS и создает публикатор
func NewNATSEventAdapter(config NATSEventConfig) (*NATSEventAdapter, error) {
	conn, err := nats.Connect(config.URL,
		nats.Name("psp-core"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return NewNATSEventAdapterWithConn(conn, config), nil
}

// NewNATSEventAdapterWithConn создает публикатор поверх существующего соединения
func NewNATSEventAdapterWithConn(conn *nats.Conn, config NATSEventConfig) *NATSEventAdapter {
	return &NATSEventAdapter{config: config, conn: conn}
}

// Start запускает адаптер
func (n *NATSEventAdapter) Start(_ context.Context) error {
	if !n.conn.IsConnected() {
		return core.NewError(core.CodeInvalidConfig, "NATS connection is not established")
	}
	return nil
}

// Stop останавливает адаптер, дожидаясь отправки буфера
func (n *NATSEventAdapter) Stop(_ context.Context) error {
	return n.conn.Drain()
}

// IsRunning проверяет, запущен ли адаптер
func (n *NATSEventAdapter) IsRunning() bool {
	return n.conn.IsConnected()
}

// Name возвращает имя компонента
func (n *NATSEventAdapter) Name() string {
	return "nats-event-adapter"
}

// Type возвращает тип компонента
func (n *NATSEventAdapter) Type() core.ComponentType {
	return core.ComponentTypeAdapter
}

// Publish публикует событие в subject {prefix}.{event_type}
func (n *NATSEventAdapter) Publish(ctx context.Context, event events.Event) error {
	msg, err := n.buildMessage(event)
	if err != nil {
		return err
	}

	err = n.config.RetryPolicy.Do(ctx, func(context.Context) error {
		return n.conn.PublishMsg(msg)
	})
	if err != nil {
		return fmt.Errorf("failed to publish %s to NATS: %w", event.EventType(), err)
	}
	if n.config.Metrics != nil {
		n.config.Metrics.RecordEvent(ctx, event.EventType())
	}
	return nil
}

func (n *NATSEventAdapter) buildMessage(event events.Event) (*nats.Msg, error) {
	data, err := events.EncodeEnvelope(event)
	if err != nil {
		return nil, err
	}
	msg := nats.NewMsg(n.subject(event))
	msg.Data = data
	for k, v := range buildHeaders(event) {
		msg.Header.Set(k, v)
	}
	msg.Header.Set(nats.MsgIdHdr, event.EventID())
	return msg, nil
}

func (n *NATSEventAdapter) subject(event events.Event) string {
	return n.config.SubjectPrefix + "." + event.EventType()
}
